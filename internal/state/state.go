package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Status is the last observed availability of a product.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusAvailable   Status = "available"
	StatusUnavailable Status = "unavailable"
)

// ProductRecord is the persisted per-product record. LastNotifiedAt is set
// only on a successful notification and InCart/CartedAt only on a confirmed
// cart submission; neither is ever cleared by a check cycle, only by an
// explicit operator reset.
type ProductRecord struct {
	Status         Status     `json:"status"`
	Name           string     `json:"name"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	LastNotifiedAt *time.Time `json:"lastNotifiedAt,omitempty"`
	InCart         bool       `json:"inCart,omitempty"`
	CartedAt       *time.Time `json:"cartedAt,omitempty"`
}

// WatcherState is the whole persisted document, keyed by product URL.
type WatcherState struct {
	LastUpdated time.Time                 `json:"lastUpdated"`
	Products    map[string]*ProductRecord `json:"products"`
}

// New returns an empty state.
func New() *WatcherState {
	return &WatcherState{
		LastUpdated: time.Now().UTC(),
		Products:    make(map[string]*ProductRecord),
	}
}

// Load reads the state file at path. A missing file is not an error: the
// first run starts from an empty state. A file that exists but cannot be
// parsed is surfaced to the caller so corrupted state is never silently
// discarded.
func Load(path string) (*WatcherState, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("read state file %s: %w", path, err)
	}
	var st WatcherState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if st.Products == nil {
		st.Products = make(map[string]*ProductRecord)
	}
	return &st, nil
}

// Save writes the whole state document to path, stamping a fresh
// LastUpdated. The write is atomic with respect to a crash: the document is
// written to a temp file in the same directory and renamed over the target,
// so a reader never observes a half-written file.
func Save(st *WatcherState, path string) error {
	st.LastUpdated = time.Now().UTC()
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file %s: %w", path, err)
	}
	return nil
}

// GetStatus returns the last observed status for url, StatusUnknown when the
// product has not been seen yet.
func (s *WatcherState) GetStatus(url string) Status {
	if rec, ok := s.Products[url]; ok {
		return rec.Status
	}
	return StatusUnknown
}

// SetStatus records the observed status and best-effort name for url,
// stamping UpdatedAt. Notification and cart markers survive unchanged.
func (s *WatcherState) SetStatus(url string, status Status, name string) {
	rec, ok := s.Products[url]
	if !ok {
		rec = &ProductRecord{}
		s.Products[url] = rec
	}
	rec.Status = status
	if name != "" {
		rec.Name = name
	} else if rec.Name == "" {
		rec.Name = "Unknown Product"
	}
	rec.UpdatedAt = time.Now().UTC()
}

// GetLastNotified returns the last successful notification time for url, or
// nil when none was sent.
func (s *WatcherState) GetLastNotified(url string) *time.Time {
	if rec, ok := s.Products[url]; ok {
		return rec.LastNotifiedAt
	}
	return nil
}

// MarkNotified stamps the notification time for url. No-op for an unknown
// url; a cycle always calls SetStatus first, but the contract tolerates the
// missing record rather than erroring.
func (s *WatcherState) MarkNotified(url string) {
	if rec, ok := s.Products[url]; ok {
		now := time.Now().UTC()
		rec.LastNotifiedAt = &now
	}
}

// IsInCart reports whether url has a confirmed cart submission.
func (s *WatcherState) IsInCart(url string) bool {
	rec, ok := s.Products[url]
	return ok && rec.InCart
}

// MarkInCart records a confirmed cart submission for url. No-op for an
// unknown url.
func (s *WatcherState) MarkInCart(url string) {
	if rec, ok := s.Products[url]; ok {
		now := time.Now().UTC()
		rec.InCart = true
		rec.CartedAt = &now
	}
}

// ClearCartMarks removes the cart markers from every product so they can be
// carted again. Operator-triggered only.
func (s *WatcherState) ClearCartMarks() {
	for _, rec := range s.Products {
		rec.InCart = false
		rec.CartedAt = nil
	}
}

// ClearAllProducts drops every product record. Operator-triggered only.
func (s *WatcherState) ClearAllProducts() {
	s.Products = make(map[string]*ProductRecord)
}

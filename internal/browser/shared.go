package browser

import "sync"

// Session is the surface the watcher needs from a live browser: page
// access, liveness, crash signaling and shutdown. *Manager implements it;
// the indirection lets the crash-recovery flow run against fakes.
type Session interface {
	Page() (Page, error)
	Crashes() <-chan struct{}
	IsAlive() bool
	Close() error
}

// Shared is the single point of truth for the live browser session. The
// scheduler and cart flow read through it every time they need a page, so a
// crash-recovery swap is one pointer update and no component can hold a
// stale handle across cycles. A nil session means auto-purchase is
// currently without a browser.
type Shared struct {
	mu  sync.RWMutex
	cur Session
}

// NewShared wraps an initial session, which may be nil.
func NewShared(s Session) *Shared {
	return &Shared{cur: s}
}

// Get returns the current session or nil.
func (s *Shared) Get() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Swap installs next as the live session and returns the previous one.
func (s *Shared) Swap(next Session) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cur
	s.cur = next
	return old
}

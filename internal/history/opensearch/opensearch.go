package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/coinwatch/internal/history"
)

// Sink indexes watcher events into an OpenSearch (or Elasticsearch) index
// through the plain document API: POST {base}/{index}/_doc with a JSON body.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

// document flattens an event so every field is a top-level indexable
// attribute rather than a nested record object.
type document struct {
	Type       history.EventType `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	URL        string            `json:"url"`
	Name       string            `json:"name,omitempty"`
	Status     string            `json:"status,omitempty"`
	Price      string            `json:"price,omitempty"`
	Detail     string            `json:"detail,omitempty"`
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	doc := document{
		Type:       e.Type,
		OccurredAt: e.OccurredAt,
		URL:        e.Record.URL,
		Name:       e.Record.Name,
		Status:     e.Record.Status,
		Price:      e.Record.Price,
		Detail:     e.Record.Detail,
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	endpoint := s.baseURL + "/" + s.index + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	}
	return nil
}

package captcha

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type fakePage struct {
	url        string
	counts     map[string]int
	attrs      map[string]string
	evaluated  []string
	evalArgs   []any
	countErr   error
}

func (f *fakePage) Goto(string) error          { return nil }
func (f *fakePage) URL() string                { return f.url }
func (f *fakePage) Fill(string, string) error  { return nil }
func (f *fakePage) Click(string) error         { return nil }
func (f *fakePage) SelectOption(string, string) (bool, error) { return false, nil }
func (f *fakePage) Count(sel string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[sel], nil
}
func (f *fakePage) Attribute(sel, name string) (string, error) {
	return f.attrs[sel+"|"+name], nil
}
func (f *fakePage) BodyText() (string, error) { return "", nil }
func (f *fakePage) Evaluate(expr string, args ...any) (any, error) {
	f.evaluated = append(f.evaluated, expr)
	f.evalArgs = append(f.evalArgs, args...)
	return nil, nil
}
func (f *fakePage) WaitLoaded() error { return nil }

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestDetectChallenge(t *testing.T) {
	s := New("key", discard())
	page := &fakePage{counts: map[string]int{}}
	if s.DetectChallenge(page) {
		t.Fatalf("expected no challenge on empty page")
	}
	page.counts[".cf-turnstile"] = 1
	if !s.DetectChallenge(page) {
		t.Fatalf("expected challenge with turnstile widget")
	}
}

func TestSolveSubmitsAndInjectsToken(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/createTask":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			task := req["task"].(map[string]any)
			if task["type"] != "TurnstileTaskProxyless" || task["websiteKey"] != "sk-123" {
				t.Errorf("unexpected task payload: %v", task)
			}
			_, _ = w.Write([]byte(`{"errorId":0,"taskId":99}`))
		case "/getTaskResult":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"errorId":0,"status":"processing"}`))
				return
			}
			_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"token":"tok-abc"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := New("key", discard(), WithBaseURL(srv.URL), WithPolling(time.Millisecond, time.Second))
	page := &fakePage{
		url:   "https://shop.example/product.php?id=1",
		attrs: map[string]string{".cf-turnstile|data-sitekey": "sk-123"},
	}
	if err := s.Solve(context.Background(), page); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if len(page.evalArgs) != 1 || page.evalArgs[0] != "tok-abc" {
		t.Fatalf("token was not injected, args: %v", page.evalArgs)
	}
}

func TestSolveSitekeyFromIframe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/createTask" {
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			task := req["task"].(map[string]any)
			if task["websiteKey"] != "iframe-key" {
				t.Errorf("expected sitekey from iframe src, got %v", task["websiteKey"])
			}
			_, _ = w.Write([]byte(`{"errorId":0,"taskId":1}`))
			return
		}
		_, _ = w.Write([]byte(`{"errorId":0,"status":"ready","solution":{"token":"t"}}`))
	}))
	defer srv.Close()

	s := New("key", discard(), WithBaseURL(srv.URL), WithPolling(time.Millisecond, time.Second))
	page := &fakePage{
		url: "https://shop.example/p",
		attrs: map[string]string{
			`iframe[src*="challenges.cloudflare.com"]|src`: "https://challenges.cloudflare.com/x?sitekey=iframe-key&other=1",
		},
	}
	if err := s.Solve(context.Background(), page); err != nil {
		t.Fatalf("solve: %v", err)
	}
}

func TestSolveFailsWithoutSitekey(t *testing.T) {
	s := New("key", discard())
	page := &fakePage{url: "https://shop.example/p", attrs: map[string]string{}}
	if err := s.Solve(context.Background(), page); err == nil {
		t.Fatalf("expected ErrNoSitekey")
	}
}

func TestSolveSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errorId":12,"errorDescription":"ERROR_CAPTCHA_UNSOLVABLE"}`))
	}))
	defer srv.Close()

	s := New("key", discard(), WithBaseURL(srv.URL), WithPolling(time.Millisecond, time.Second))
	page := &fakePage{url: "u", attrs: map[string]string{".cf-turnstile|data-sitekey": "sk"}}
	if err := s.Solve(context.Background(), page); err == nil {
		t.Fatalf("expected API error")
	}
}

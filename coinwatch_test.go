package coinwatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/coinwatch/internal/browser"
	"github.com/loykin/coinwatch/internal/config"
	"github.com/loykin/coinwatch/internal/history"
	"github.com/loykin/coinwatch/internal/notify"
	"github.com/loykin/coinwatch/internal/state"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ProductURLs = []string{"https://coins.bank.gov.ua/product_info.php?products_id=1"}
	cfg.CheckInterval = 2 * time.Minute
	cfg.StateFile = filepath.Join(t.TempDir(), "state.json")
	cfg.Telegram = config.Telegram{BotToken: "tok", ChatID: "42"}
	return cfg
}

func TestNewWiresWatcher(t *testing.T) {
	w, err := New(testConfig(t), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if st := w.Status(); st.Running {
		t.Fatalf("status before Start = %+v, want not running", st)
	}
	if st := w.Status(); st.ProductCount != 1 {
		t.Fatalf("product count = %d", st.ProductCount)
	}
}

func TestNewWithHistorySink(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = config.History{Enabled: true, DSN: "sqlite://" + filepath.Join(t.TempDir(), "history.db")}
	w, err := New(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if w.sink == nil {
		t.Fatal("history sink not wired")
	}
}

func TestNewBadHistoryDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = config.History{Enabled: true, DSN: "invalid://nope"}
	if _, err := New(cfg, slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error for unsupported history DSN")
	}
}

func TestResetCartMarks(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	url := cfg.ProductURLs[0]
	st := state.New()
	st.SetStatus(url, state.StatusAvailable, "Монета")
	st.MarkInCart(url)
	if err := state.Save(st, cfg.StateFile); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	if err := w.ResetCartMarks(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err := state.Load(cfg.StateFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.IsInCart(url) {
		t.Fatal("cart mark survived reset")
	}
}

// stubPage satisfies browser.Page with a page that always reads as logged
// in, so EnsureAuthenticated takes the cheap probe path.
type stubPage struct{}

func (stubPage) Goto(string) error { return nil }
func (stubPage) URL() string { return "https://coins.bank.gov.ua/account.php" }
func (stubPage) Fill(string, string) error { return nil }
func (stubPage) Click(string) error { return nil }
func (stubPage) SelectOption(string, string) (bool, error) { return false, nil }
func (stubPage) Count(string) (int, error) { return 0, nil }
func (stubPage) Attribute(string, string) (string, error) { return "", nil }
func (stubPage) BodyText() (string, error) { return "", nil }
func (stubPage) Evaluate(string, ...any) (any, error) { return true, nil }
func (stubPage) WaitLoaded() error { return nil }

type stubSession struct {
	mu     sync.Mutex
	crashC chan struct{}
	closed bool
}

func newStubSession() *stubSession {
	return &stubSession{crashC: make(chan struct{}, 1)}
}

func (s *stubSession) Page() (browser.Page, error) { return stubPage{}, nil }
func (s *stubSession) Crashes() <-chan struct{} { return s.crashC }

func (s *stubSession) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func autoPurchaseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.AutoPurchase.Enabled = true
	cfg.AutoPurchase.Email = "a@b.c"
	cfg.AutoPurchase.Password = "pw"
	return cfg
}

func TestCrashRecoverySwapsSession(t *testing.T) {
	w, err := New(autoPurchaseConfig(t), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var mu sync.Mutex
	var launched []*stubSession
	w.launch = func() (browser.Session, error) {
		s := newStubSession()
		mu.Lock()
		launched = append(launched, s)
		mu.Unlock()
		return s, nil
	}

	ctx := context.Background()
	if err := w.startBrowser(ctx); err != nil {
		t.Fatalf("start browser: %v", err)
	}
	w.recoverQuit = make(chan struct{})
	w.recoverDone = make(chan struct{})
	go w.watchCrashes(ctx)

	mu.Lock()
	first := launched[0]
	mu.Unlock()
	first.crashC <- struct{}{}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cur := w.browsers.Get(); cur != nil && cur != first {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if cur := w.browsers.Get(); cur == nil || cur == first {
		t.Fatal("crashed session was not replaced")
	}
	mu.Lock()
	n := len(launched)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("launches = %d, want relaunch after crash", n)
	}
	if first.IsAlive() {
		t.Fatal("crashed session was not closed on swap")
	}
	if _, err := (sharedPages{w.browsers}).Acquire(); err != nil {
		t.Fatalf("acquire after recovery: %v", err)
	}

	close(w.recoverQuit)
	<-w.recoverDone
}

func TestCrashRecoveryFailureDisablesAutoPurchase(t *testing.T) {
	w, err := New(autoPurchaseConfig(t), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	var alertMu sync.Mutex
	var alerts []string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var payload struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		alertMu.Lock()
		alerts = append(alerts, payload.Text)
		alertMu.Unlock()
		_, _ = rw.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()
	w.notifier = notify.New(notify.Config{
		BotToken: "tok",
		ChatID:   "42",
		BaseURL:  srv.URL,
	}, slog.New(slog.DiscardHandler))

	first := newStubSession()
	var mu sync.Mutex
	calls := 0
	w.launch = func() (browser.Session, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return first, nil
		}
		return nil, errors.New("driver gone")
	}

	ctx := context.Background()
	if err := w.startBrowser(ctx); err != nil {
		t.Fatalf("start browser: %v", err)
	}
	w.recoverQuit = make(chan struct{})
	w.recoverDone = make(chan struct{})
	go w.watchCrashes(ctx)

	first.crashC <- struct{}{}
	<-w.recoverDone

	if !w.autoOff.Load() {
		t.Fatal("auto-purchase not disabled after failed recovery")
	}
	if w.browsers.Get() != nil {
		t.Fatal("shared handle not cleared after failed recovery")
	}
	if _, err := (sharedPages{w.browsers}).Acquire(); err == nil {
		t.Fatal("acquire should fail without a browser")
	}
	alertMu.Lock()
	defer alertMu.Unlock()
	if len(alerts) != 1 || !strings.Contains(alerts[0], "Login Failed") {
		t.Fatalf("alerts = %v, want one login failure alert", alerts)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []history.Event
}

func (s *recordingSink) Send(_ context.Context, e history.Event) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) sent() []history.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.Event(nil), s.events...)
}

func TestStartBrowserEmitsLoginEvent(t *testing.T) {
	w, err := New(autoPurchaseConfig(t), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sink := &recordingSink{}
	w.sink = sink
	w.launch = func() (browser.Session, error) { return newStubSession(), nil }

	if err := w.startBrowser(context.Background()); err != nil {
		t.Fatalf("start browser: %v", err)
	}

	events := sink.sent()
	if len(events) != 1 || events[0].Type != history.EventLogin {
		t.Fatalf("events = %+v, want one login event", events)
	}
	if events[0].Record.Status != "success" {
		t.Fatalf("login event status = %q", events[0].Record.Status)
	}
}

func TestAcquireRejectsDeadSession(t *testing.T) {
	s := newStubSession()
	shared := browser.NewShared(s)
	if _, err := (sharedPages{shared}).Acquire(); err != nil {
		t.Fatalf("acquire live session: %v", err)
	}
	_ = s.Close()
	if _, err := (sharedPages{shared}).Acquire(); err == nil {
		t.Fatal("acquire should fail for a dead session")
	}
}

func TestPauseResumeFacade(t *testing.T) {
	w, err := New(testConfig(t), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w.Pause()
	if !w.Status().Paused {
		t.Fatal("not paused")
	}
	w.Resume()
	if w.Status().Paused {
		t.Fatal("still paused")
	}
}

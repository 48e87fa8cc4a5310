package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/coinwatch/internal/browser"
	"github.com/loykin/coinwatch/internal/cart"
	"github.com/loykin/coinwatch/internal/checker"
	"github.com/loykin/coinwatch/internal/history"
	"github.com/loykin/coinwatch/internal/metrics"
	"github.com/loykin/coinwatch/internal/notify"
	"github.com/loykin/coinwatch/internal/retry"
	"github.com/loykin/coinwatch/internal/state"
)

// PageChecker checks one product page for availability.
type PageChecker interface {
	Check(ctx context.Context, url string) (checker.Result, error)
}

// Notifier delivers operator messages.
type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

// CartAdder attempts to put an available product into the cart.
type CartAdder interface {
	AddToCart(ctx context.Context, product notify.Product, st *state.WatcherState, page browser.Page) cart.Result
}

// HealthChecker verifies the browsing session on a cadence.
type HealthChecker interface {
	HealthCheck(ctx context.Context, page browser.Page)
}

// PageSource hands out the shared browser page. Acquire returns an error
// when no browser is available, e.g. auto-purchase disabled or the session
// is being recovered after a crash.
type PageSource interface {
	Acquire() (browser.Page, error)
}

// Config holds the scheduler knobs.
type Config struct {
	ProductURLs  []string
	Interval     time.Duration
	StateFile    string
	NotifyWindow time.Duration
	// SessionCheckEveryCycles runs a session health check on every Nth
	// cycle when auto-purchase is on.
	SessionCheckEveryCycles int
	AutoPurchase            bool
	CartQuantity            int
	NotifyRetry             retry.Options
}

// Deps bundles the scheduler collaborators.
type Deps struct {
	Checker  PageChecker
	Notifier Notifier
	Cart     CartAdder
	Health   HealthChecker
	Browsers PageSource
	// Sink receives history events; may be nil. Sink failures never affect
	// the cycle.
	Sink history.Sink
	// StateMu serializes all access to the state file across the scheduler
	// and the command handler.
	StateMu *sync.Mutex
	Logger  *slog.Logger
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	Running      bool      `json:"running"`
	Paused       bool      `json:"paused"`
	ProductCount int       `json:"product_count"`
	CycleCount   int64     `json:"cycle_count"`
	LastCycleAt  time.Time `json:"last_cycle_at,omitzero"`
}

// Scheduler owns the fixed-interval check loop. One cycle checks every
// configured product sequentially; per-product failures never abort the
// cycle and cycle failures never abort the loop.
type Scheduler struct {
	cfg  Config
	deps Deps

	mu          sync.Mutex
	quit        chan struct{}
	done        chan struct{}
	lastCycleAt time.Time

	paused atomic.Bool
	cycles atomic.Int64
}

// New creates a scheduler. It does not start the loop.
func New(cfg Config, deps Deps) *Scheduler {
	if cfg.NotifyWindow <= 0 {
		cfg.NotifyWindow = 24 * time.Hour
	}
	if cfg.SessionCheckEveryCycles <= 0 {
		cfg.SessionCheckEveryCycles = 10
	}
	if cfg.CartQuantity < 1 {
		cfg.CartQuantity = 1
	}
	return &Scheduler{cfg: cfg, deps: deps}
}

// Start launches the loop: one immediate cycle, then one per interval.
// Call Stop to cancel.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.quit != nil {
		return errors.New("scheduler already started")
	}
	if len(s.cfg.ProductURLs) == 0 {
		return errors.New("no product URLs to watch")
	}
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("invalid check interval %v", s.cfg.Interval)
	}
	s.quit = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(ctx, s.quit, s.done)
	return nil
}

func (s *Scheduler) run(ctx context.Context, quit, done chan struct{}) {
	defer close(done)
	s.RunCycle(ctx)
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-quit:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			s.RunCycle(ctx)
		}
	}
}

// Stop cancels the loop and waits for the current cycle to finish. Safe to
// call multiple times, and the scheduler can be started again afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.quit == nil {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	done := s.done
	s.mu.Unlock()
	<-done
	s.mu.Lock()
	if s.done == done {
		s.quit, s.done = nil, nil
	}
	s.mu.Unlock()
}

// Pause suspends checking without stopping the ticker.
func (s *Scheduler) Pause() { s.paused.Store(true) }

// Resume lifts a pause.
func (s *Scheduler) Resume() { s.paused.Store(false) }

// Status reports the current loop state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	running := s.quit != nil
	if running {
		select {
		case <-s.quit:
			running = false
		default:
		}
	}
	last := s.lastCycleAt
	s.mu.Unlock()
	return Status{
		Running:      running,
		Paused:       s.paused.Load(),
		ProductCount: len(s.cfg.ProductURLs),
		CycleCount:   s.cycles.Load(),
		LastCycleAt:  last,
	}
}

// RunCycle executes one full check cycle. Exported so a one-shot check
// command can reuse the exact loop semantics.
func (s *Scheduler) RunCycle(ctx context.Context) {
	if s.paused.Load() {
		s.deps.Logger.Debug("watcher paused, skipping cycle")
		return
	}
	started := time.Now()
	n := s.cycles.Add(1)

	if s.cfg.AutoPurchase && n%int64(s.cfg.SessionCheckEveryCycles) == 0 {
		if page, err := s.deps.Browsers.Acquire(); err == nil {
			s.deps.Health.HealthCheck(ctx, page)
		}
	}

	s.deps.StateMu.Lock()
	st, err := state.Load(s.cfg.StateFile)
	if err != nil {
		s.deps.StateMu.Unlock()
		s.deps.Logger.Error("cannot load watcher state, skipping cycle", "error", err)
		return
	}
	for _, url := range s.cfg.ProductURLs {
		s.checkProduct(ctx, st, url)
	}
	if err := state.Save(st, s.cfg.StateFile); err != nil {
		s.deps.Logger.Error("cannot persist watcher state", "error", err)
	}
	s.deps.StateMu.Unlock()

	s.mu.Lock()
	s.lastCycleAt = time.Now()
	s.mu.Unlock()
	metrics.IncCycle()
	metrics.ObserveCycleDuration(time.Since(started).Seconds())
}

func (s *Scheduler) checkProduct(ctx context.Context, st *state.WatcherState, url string) {
	res, err := s.deps.Checker.Check(ctx, url)
	if err != nil {
		metrics.IncCheck("error")
		s.deps.Logger.Warn("product check failed", "url", url, "error", err)
		return
	}

	cur := state.StatusUnavailable
	if res.Available {
		cur = state.StatusAvailable
	}
	prev := st.GetStatus(url)
	st.SetStatus(url, cur, res.Name)
	metrics.IncCheck(string(cur))
	s.emit(ctx, history.EventCheck, res, string(cur), "")
	s.deps.Logger.Debug("product checked", "url", url, "name", res.Name, "status", cur)

	if prev == state.StatusAvailable || cur != state.StatusAvailable {
		return
	}

	// Transition into availability.
	s.deps.Logger.Info("product became available", "url", url, "name", res.Name, "previous", prev)
	metrics.RecordTransition(string(prev), string(cur))
	s.emit(ctx, history.EventTransition, res, string(cur), fmt.Sprintf("%s -> %s", prev, cur))

	s.notifyAvailability(ctx, st, res)
	if s.cfg.AutoPurchase {
		s.attemptPurchase(ctx, st, res)
	}
}

// notifyAvailability sends the availability alert unless one was already
// sent inside the dedup window. The notified marker is only persisted when
// delivery actually succeeded.
func (s *Scheduler) notifyAvailability(ctx context.Context, st *state.WatcherState, res checker.Result) {
	if last := st.GetLastNotified(res.URL); last != nil && time.Since(*last) < s.cfg.NotifyWindow {
		s.deps.Logger.Info("availability alert suppressed, already notified recently",
			"url", res.URL, "last_notified", last)
		return
	}
	p := notify.Product{URL: res.URL, Name: res.Name, Price: res.Price}
	err := retry.Do(ctx, func() error {
		return s.deps.Notifier.SendMessage(ctx, notify.Availability(p))
	}, s.cfg.NotifyRetry)
	if err != nil {
		s.deps.Logger.Error("availability alert failed after retries", "url", res.URL, "error", err)
		return
	}
	st.MarkNotified(res.URL)
	metrics.IncNotification("availability")
	s.emit(ctx, history.EventNotify, res, string(state.StatusAvailable), "availability")
}

func (s *Scheduler) attemptPurchase(ctx context.Context, st *state.WatcherState, res checker.Result) {
	page, err := s.deps.Browsers.Acquire()
	if err != nil {
		s.deps.Logger.Warn("auto-purchase skipped, no browser session", "url", res.URL, "error", err)
		return
	}
	p := notify.Product{URL: res.URL, Name: res.Name, Price: res.Price}
	result := s.deps.Cart.AddToCart(ctx, p, st, page)
	if result.Success {
		st.MarkInCart(res.URL)
		metrics.IncCartAttempt("success")
		s.emit(ctx, history.EventCart, res, string(state.StatusAvailable), "success")
		s.send(ctx, notify.CartSuccess(p, s.cfg.CartQuantity), "cart_success")
		return
	}
	metrics.IncCartAttempt(result.Reason)
	s.emit(ctx, history.EventCart, res, string(state.StatusAvailable), result.Reason)
	if result.Reason == cart.ReasonAlreadyInCart {
		return
	}
	if result.Reason == cart.ReasonAuthFailed {
		s.send(ctx, notify.AuthFailure("re-login during purchase failed"), "auth_failure")
		return
	}
	s.send(ctx, notify.CartFailure(p, result.Reason), "cart_failure")
}

// send delivers a best-effort notification without dedup or retry.
func (s *Scheduler) send(ctx context.Context, text, kind string) {
	if err := s.deps.Notifier.SendMessage(ctx, text); err != nil {
		s.deps.Logger.Warn("notification failed", "kind", kind, "error", err)
		return
	}
	metrics.IncNotification(kind)
}

// emit forwards an event to the history sink when one is configured.
func (s *Scheduler) emit(ctx context.Context, typ history.EventType, res checker.Result, status, detail string) {
	if s.deps.Sink == nil {
		return
	}
	e := history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: history.Record{
			URL:    res.URL,
			Name:   res.Name,
			Status: status,
			Price:  res.Price,
			Detail: detail,
		},
	}
	if err := s.deps.Sink.Send(ctx, e); err != nil {
		s.deps.Logger.Debug("history sink send failed", "type", typ, "error", err)
	}
}

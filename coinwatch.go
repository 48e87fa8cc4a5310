package coinwatch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/coinwatch/internal/bot"
	"github.com/loykin/coinwatch/internal/browser"
	"github.com/loykin/coinwatch/internal/captcha"
	"github.com/loykin/coinwatch/internal/cart"
	"github.com/loykin/coinwatch/internal/checker"
	"github.com/loykin/coinwatch/internal/config"
	"github.com/loykin/coinwatch/internal/history"
	"github.com/loykin/coinwatch/internal/history/factory"
	"github.com/loykin/coinwatch/internal/metrics"
	"github.com/loykin/coinwatch/internal/notify"
	"github.com/loykin/coinwatch/internal/retry"
	"github.com/loykin/coinwatch/internal/scheduler"
	"github.com/loykin/coinwatch/internal/server"
	"github.com/loykin/coinwatch/internal/session"
	"github.com/loykin/coinwatch/internal/state"
)

// Re-export core types for external consumers.

type Config = config.Config

type Status = scheduler.Status

type WatcherState = state.WatcherState

type ProductRecord = state.ProductRecord

type HistorySink = history.Sink

// LoadConfig builds the configuration from a TOML file plus environment
// overrides. An empty path uses defaults and environment only.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Watcher is the assembled product watcher: scheduler, Telegram command
// handler, optional auto-purchase session, and optional history sink.
type Watcher struct {
	cfg      config.Config
	logger   *slog.Logger
	notifier *notify.Client
	sched    *scheduler.Scheduler
	bot      *bot.Handler
	browsers *browser.Shared
	sessions *session.Manager
	carts    *cart.Orchestrator
	sink     history.Sink
	launch   func() (browser.Session, error)

	stateMu sync.Mutex

	autoOff     atomic.Bool
	recoverQuit chan struct{}
	recoverDone chan struct{}
}

// New wires a Watcher from validated configuration. It does not launch the
// browser or any loop; that happens in Start.
func New(cfg config.Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{cfg: cfg, logger: logger}

	w.notifier = notify.New(notify.Config{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
	}, logger)

	retryOpts := retry.Options{MaxAttempts: cfg.MaxRetries}
	solver := captcha.New(cfg.AutoPurchase.CaptchaAPIKey, logger)
	w.sessions = session.NewManager(
		session.Credentials{Email: cfg.AutoPurchase.Email, Password: cfg.AutoPurchase.Password},
		solver,
		retry.Options{MaxAttempts: cfg.MaxRetries, InitialDelay: 2 * time.Second},
		logger,
	)
	w.carts = cart.New(w.sessions, solver, cfg.AutoPurchase.CartQuantity, logger)
	w.browsers = browser.NewShared(nil)
	w.launch = func() (browser.Session, error) {
		return browser.Launch(browser.Config{Headless: cfg.AutoPurchase.Headless}, logger)
	}

	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		w.sink = sink
	}

	w.sched = scheduler.New(scheduler.Config{
		ProductURLs:             cfg.ProductURLs,
		Interval:                cfg.CheckInterval,
		StateFile:               cfg.StateFile,
		NotifyWindow:            cfg.NotifyWindow,
		SessionCheckEveryCycles: cfg.SessionCheckEveryCycles,
		AutoPurchase:            cfg.AutoPurchase.Enabled,
		CartQuantity:            cfg.AutoPurchase.CartQuantity,
		NotifyRetry:             retryOpts,
	}, scheduler.Deps{
		Checker:  checker.New(retryOpts, logger),
		Notifier: w.notifier,
		Cart:     w.carts,
		Health:   w.sessions,
		Browsers: sharedPages{w.browsers},
		Sink:     w.sink,
		StateMu:  &w.stateMu,
		Logger:   logger,
	})
	w.bot = bot.New(w.notifier, w.sched, cfg.StateFile, &w.stateMu, logger)
	return w, nil
}

// Start brings the watcher up: browser session and initial login when
// auto-purchase is enabled, then the check loop and the command poll loop.
// A failed initial login disables auto-purchase and alerts the operator;
// watching continues regardless.
func (w *Watcher) Start(ctx context.Context) error {
	if w.cfg.AutoPurchase.Enabled {
		if err := w.startBrowser(ctx); err != nil {
			w.logger.Error("auto-purchase disabled, initial login failed", "error", err)
			w.notifier.Reply(ctx, loginFailureText(err))
			w.disableAutoPurchase()
		} else {
			w.recoverQuit = make(chan struct{})
			w.recoverDone = make(chan struct{})
			go w.watchCrashes(ctx)
		}
	}
	if err := w.sched.Start(ctx); err != nil {
		return err
	}
	if err := w.bot.Start(ctx); err != nil {
		w.sched.Stop()
		return err
	}
	w.logger.Info("watcher started",
		"products", len(w.cfg.ProductURLs),
		"interval", w.cfg.CheckInterval,
		"auto_purchase", w.cfg.AutoPurchase.Enabled && !w.autoOff.Load())
	return nil
}

// Stop shuts everything down in reverse order. Safe to call twice.
func (w *Watcher) Stop() {
	w.bot.Stop()
	w.sched.Stop()
	if w.recoverQuit != nil {
		select {
		case <-w.recoverQuit:
		default:
			close(w.recoverQuit)
		}
		<-w.recoverDone
	}
	if mgr := w.browsers.Swap(nil); mgr != nil {
		_ = mgr.Close()
	}
	if closer, ok := w.sink.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	w.logger.Info("watcher stopped")
}

func (w *Watcher) Pause()         { w.sched.Pause() }
func (w *Watcher) Resume()        { w.sched.Resume() }
func (w *Watcher) Status() Status { return w.sched.Status() }

// RunOnce executes a single check cycle without starting any loop.
func (w *Watcher) RunOnce(ctx context.Context) { w.sched.RunCycle(ctx) }

// startBrowser launches the shared browser and performs the initial login.
func (w *Watcher) startBrowser(ctx context.Context) error {
	mgr, err := w.launch()
	if err != nil {
		return err
	}
	page, err := mgr.Page()
	if err != nil {
		_ = mgr.Close()
		return err
	}
	if err := w.sessions.EnsureAuthenticated(ctx, page); err != nil {
		metrics.IncLogin("failure")
		w.emitLogin(ctx, "failure", err.Error())
		_ = mgr.Close()
		return err
	}
	metrics.IncLogin("success")
	w.emitLogin(ctx, "success", "")
	if old := w.browsers.Swap(mgr); old != nil {
		_ = old.Close()
	}
	return nil
}

// emitLogin records a login outcome on the history sink when one is wired.
func (w *Watcher) emitLogin(ctx context.Context, result, detail string) {
	if w.sink == nil {
		return
	}
	e := history.Event{
		Type:       history.EventLogin,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{URL: session.LoginURL, Status: result, Detail: detail},
	}
	if err := w.sink.Send(ctx, e); err != nil {
		w.logger.Debug("history sink rejected login event", "error", err)
	}
}

// loginFailureText picks the operator alert for a failed login flow. A
// CAPTCHA solve failure gets its own message so the operator knows the
// solver, not the credentials, needs attention.
func loginFailureText(err error) string {
	if errors.Is(err, session.ErrCaptcha) {
		return notify.CaptchaFailure(err.Error())
	}
	return notify.AuthFailure(err.Error())
}

// watchCrashes recovers the browser session after a crash: relaunch,
// re-authenticate, swap the shared handle. When recovery fails the
// auto-purchase path is permanently disabled and the operator alerted;
// availability watching is unaffected.
func (w *Watcher) watchCrashes(ctx context.Context) {
	defer close(w.recoverDone)
	for {
		mgr := w.browsers.Get()
		if mgr == nil {
			return
		}
		select {
		case <-w.recoverQuit:
			return
		case <-ctx.Done():
			return
		case <-mgr.Crashes():
		}

		w.logger.Warn("browser crashed, recovering session")
		w.sessions.Invalidate()
		if err := w.startBrowser(ctx); err != nil {
			w.logger.Error("browser recovery failed, disabling auto-purchase", "error", err)
			w.notifier.Reply(ctx, loginFailureText(err))
			w.disableAutoPurchase()
			return
		}
		w.logger.Info("browser session recovered")
	}
}

func (w *Watcher) disableAutoPurchase() {
	w.autoOff.Store(true)
	if mgr := w.browsers.Swap(nil); mgr != nil {
		_ = mgr.Close()
	}
}

// sharedPages adapts the shared browser handle to the scheduler's
// PageSource. No browser means auto-purchase is off or mid-recovery.
type sharedPages struct{ shared *browser.Shared }

func (p sharedPages) Acquire() (browser.Page, error) {
	mgr := p.shared.Get()
	if mgr == nil {
		return nil, errors.New("no browser session available")
	}
	if !mgr.IsAlive() {
		return nil, errors.New("browser session is not alive")
	}
	return mgr.Page()
}

// ResetCartMarks clears cart marks in the persisted state, mirroring the
// /reset_cart operator command for embedders and the HTTP API.
func (w *Watcher) ResetCartMarks() error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	st, err := state.Load(w.cfg.StateFile)
	if err != nil {
		return err
	}
	st.ClearCartMarks()
	return state.Save(st, w.cfg.StateFile)
}

// NewHTTPServer starts the status API server on addr for this watcher.
func (w *Watcher) NewHTTPServer(addr, basePath string) (*http.Server, error) {
	return server.NewServer(addr, basePath, w.sched, w.cfg.StateFile, &w.stateMu)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

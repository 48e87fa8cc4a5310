package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/coinwatch/internal/browser"
	"github.com/loykin/coinwatch/internal/retry"
)

// Shop endpoints used by the login flow.
const (
	LoginURL   = "https://coins.bank.gov.ua/login.php"
	AccountURL = "https://coins.bank.gov.ua/account.php"
)

// ErrAuthFailed is returned when every login attempt, including CAPTCHA
// solves, has been exhausted.
var ErrAuthFailed = errors.New("authentication failed after all attempts")

// ErrCaptcha marks a login failure caused by the CAPTCHA solve step, so
// callers can alert the operator about the solver rather than the
// credentials.
var ErrCaptcha = errors.New("captcha solve failed")

// Solver handles bot-challenge interstitials during login and checkout.
type Solver interface {
	DetectChallenge(page browser.Page) bool
	Solve(ctx context.Context, page browser.Page) error
}

// State is the authentication lifecycle position.
type State int

const (
	StateNoSession State = iota
	StateAuthenticating
	StateAuthenticated
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	}
	return "unknown"
}

// Credentials are the shop account credentials.
type Credentials struct {
	Email    string
	Password string
}

// Manager owns the authentication state of the single browsing session.
// All methods are safe for concurrent use, but the session itself is a
// single shared resource: one login flow runs at a time.
type Manager struct {
	mu     sync.Mutex
	state  State
	creds  Credentials
	solver Solver
	retry  retry.Options
	logger *slog.Logger
}

// NewManager creates a session manager. retryOpts bounds the whole login
// attempt; CAPTCHA solves are probabilistic so transient failures are
// expected.
func NewManager(creds Credentials, solver Solver, retryOpts retry.Options, logger *slog.Logger) *Manager {
	return &Manager{
		state:  StateNoSession,
		creds:  creds,
		solver: solver,
		retry:  retryOpts,
		logger: logger,
	}
}

// State returns the current lifecycle position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Invalidate drops the session, e.g. after a browser crash or close.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.state = StateNoSession
	m.mu.Unlock()
}

// IsLoggedIn probes the current page for logged-in indicators without
// navigating. Probe errors read as "not logged in".
func (m *Manager) IsLoggedIn(page browser.Page) bool {
	res, err := page.Evaluate(`() => {
		return !!(
			document.querySelector('a[href*="account.php"]') ||
			document.querySelector('.user-menu') ||
			document.querySelector('a[href*="logout"]') ||
			document.querySelector('.cabinet-link') ||
			[...document.querySelectorAll('a')].some(a => a.textContent.includes('Мій кабінет'))
		);
	}`)
	if err != nil {
		m.logger.Warn("login probe failed", "error", err)
		return false
	}
	loggedIn, _ := res.(bool)
	return loggedIn
}

// EnsureAuthenticated makes the page authenticated. When the cheap probe
// already sees a session it returns immediately; otherwise it runs the full
// login flow under retry. On exhaustion it returns ErrAuthFailed and leaves
// the state Expired; the caller decides whether to alert and disable the
// auto-purchase path.
func (m *Manager) EnsureAuthenticated(ctx context.Context, page browser.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsLoggedIn(page) {
		m.state = StateAuthenticated
		m.logger.Info("session is valid, already logged in")
		return nil
	}

	m.state = StateAuthenticating
	opts := m.retry
	opts.OnAttemptFailed = func(attempt int, err error) {
		m.logger.Warn("login attempt failed, retrying", "attempt", attempt, "error", err)
	}
	if err := retry.Do(ctx, func() error { return m.login(ctx, page) }, opts); err != nil {
		m.state = StateExpired
		m.logger.Error("all login attempts failed", "error", err)
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	m.state = StateAuthenticated
	return nil
}

// HealthCheck verifies the session still looks authenticated and re-runs
// the login flow when it does not. Failures are logged, never propagated: a
// missed health check must not abort the polling loop.
func (m *Manager) HealthCheck(ctx context.Context, page browser.Page) {
	if m.IsLoggedIn(page) {
		return
	}
	m.mu.Lock()
	m.state = StateExpired
	m.mu.Unlock()
	m.logger.Warn("session expired, re-authenticating")
	if err := m.EnsureAuthenticated(ctx, page); err != nil {
		m.logger.Warn("session health check failed", "error", err)
	}
}

// login runs one full login attempt: navigate, submit credentials, solve a
// post-submit challenge when present, and verify the result.
func (m *Manager) login(ctx context.Context, page browser.Page) error {
	m.logger.Info("navigating to login page")
	if err := page.Goto(LoginURL); err != nil {
		return fmt.Errorf("open login page: %w", err)
	}
	// The field is "email_address"; "email" is the footer newsletter form.
	if err := page.Fill(`input[name="email_address"]`, m.creds.Email); err != nil {
		return fmt.Errorf("fill email: %w", err)
	}
	if err := page.Fill(`input[name="password"]`, m.creds.Password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	if err := page.Click(`button[type="submit"].btn.btn-default`); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}
	if err := page.WaitLoaded(); err != nil {
		return fmt.Errorf("wait for login response: %w", err)
	}
	if m.solver.DetectChallenge(page) {
		m.logger.Info("CAPTCHA detected during login, solving")
		if err := m.solver.Solve(ctx, page); err != nil {
			return fmt.Errorf("%w: %v", ErrCaptcha, err)
		}
		if err := page.WaitLoaded(); err != nil {
			return fmt.Errorf("wait after CAPTCHA: %w", err)
		}
	}
	if !m.IsLoggedIn(page) {
		return errors.New("login failed, still on login page after submission")
	}
	m.logger.Info("login successful")
	return nil
}

package browser

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ErrPageUnavailable is returned when the browser page is gone, typically
// after a crash and before recovery has swapped in a new manager.
var ErrPageUnavailable = errors.New("browser page is not available")

// Config controls the launched browser.
type Config struct {
	Headless bool
}

// Manager owns one browser process with a single context and page. There is
// at most one live Manager at a time; after a crash the owner launches a
// replacement and swaps it in through Shared.
type Manager struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	logger  *slog.Logger

	closing atomic.Bool
	crashC  chan struct{}
}

// Launch starts the driver, a chromium instance and one page. An unexpected
// driver disconnect is published on Crashes; an explicit Close is not.
func Launch(cfg Config, logger *slog.Logger) (*Manager, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright driver: %w", err)
	}
	b, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	bctx, err := b.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(userAgent),
		Locale:    playwright.String("uk-UA"),
		Viewport:  &playwright.Size{Width: 1280, Height: 720},
	})
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = b.Close()
		_ = pw.Stop()
		return nil, fmt.Errorf("open page: %w", err)
	}

	m := &Manager{pw: pw, browser: b, page: page, logger: logger, crashC: make(chan struct{}, 1)}
	b.OnDisconnected(func(playwright.Browser) {
		if m.closing.Load() {
			return
		}
		m.logger.Error("browser disconnected unexpectedly")
		select {
		case m.crashC <- struct{}{}:
		default:
		}
	})
	logger.Info("browser launched", "headless", cfg.Headless)
	return m, nil
}

// Crashes delivers one signal per unexpected disconnect.
func (m *Manager) Crashes() <-chan struct{} { return m.crashC }

// Page returns the live page surface.
func (m *Manager) Page() (Page, error) {
	if m.page == nil || m.page.IsClosed() {
		return nil, ErrPageUnavailable
	}
	return &pwPage{page: m.page}, nil
}

// IsAlive reports whether the browser process is still connected.
func (m *Manager) IsAlive() bool {
	return m.browser != nil && m.browser.IsConnected() && m.page != nil && !m.page.IsClosed()
}

// Close shuts the browser and driver down. The disconnect this causes is
// not reported as a crash.
func (m *Manager) Close() error {
	m.closing.Store(true)
	m.logger.Info("closing browser")
	var errs []error
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type pwPage struct {
	page playwright.Page
}

func (p *pwPage) Goto(url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(NavigationTimeout.Milliseconds())),
	})
	return err
}

func (p *pwPage) URL() string { return p.page.URL() }

func (p *pwPage) Fill(selector, value string) error {
	return p.page.Fill(selector, value)
}

func (p *pwPage) Click(selector string) error {
	return p.page.Click(selector)
}

func (p *pwPage) SelectOption(selector, value string) (bool, error) {
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	_, err = loc.First().SelectOption(playwright.SelectOptionValues{Values: &[]string{value}})
	return true, err
}

func (p *pwPage) Count(selector string) (int, error) {
	return p.page.Locator(selector).Count()
}

func (p *pwPage) Attribute(selector, name string) (string, error) {
	loc := p.page.Locator(selector)
	n, err := loc.Count()
	if err != nil || n == 0 {
		return "", err
	}
	v, err := loc.First().GetAttribute(name)
	if err != nil {
		return "", err
	}
	return v, nil
}

func (p *pwPage) BodyText() (string, error) {
	return p.page.InnerText("body")
}

func (p *pwPage) Evaluate(expression string, args ...any) (any, error) {
	if len(args) > 0 {
		return p.page.Evaluate(expression, args[0])
	}
	return p.page.Evaluate(expression)
}

func (p *pwPage) WaitLoaded() error {
	return p.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateDomcontentloaded,
		Timeout: playwright.Float(float64(LoadTimeout.Milliseconds())),
	})
}

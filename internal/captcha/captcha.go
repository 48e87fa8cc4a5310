package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/loykin/coinwatch/internal/browser"
)

const defaultBaseURL = "https://api.2captcha.com"

// Challenge markers: Cloudflare Turnstile widget, its iframe, or the
// interstitial challenge form.
var challengeSelectors = []string{
	".cf-turnstile",
	`iframe[src*="challenges.cloudflare.com"]`,
	"#challenge-form",
}

var sitekeyRe = regexp.MustCompile(`sitekey=([^&]+)`)

// ErrNoSitekey is returned when a challenge is present but its sitekey
// cannot be located on the page.
var ErrNoSitekey = errors.New("could not extract Turnstile sitekey from page")

// Solver detects Cloudflare Turnstile challenges and solves them through
// the 2captcha task API.
type Solver struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxWait      time.Duration
	logger       *slog.Logger
}

// Option adjusts a Solver; used by tests to point at a stub API.
type Option func(*Solver)

// WithBaseURL overrides the 2captcha endpoint.
func WithBaseURL(u string) Option { return func(s *Solver) { s.baseURL = u } }

// WithPolling overrides the result poll cadence and total wait budget.
func WithPolling(interval, maxWait time.Duration) Option {
	return func(s *Solver) {
		s.pollInterval = interval
		s.maxWait = maxWait
	}
}

// New creates a Solver with the given API key.
func New(apiKey string, logger *slog.Logger, opts ...Option) *Solver {
	s := &Solver{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		pollInterval: 5 * time.Second,
		maxWait:      2 * time.Minute,
		logger:       logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DetectChallenge reports whether the page currently shows a Turnstile
// challenge. Probe errors are treated as "no challenge" so detection never
// blocks a flow on its own.
func (s *Solver) DetectChallenge(page browser.Page) bool {
	for _, sel := range challengeSelectors {
		n, err := page.Count(sel)
		if err != nil {
			s.logger.Warn("challenge probe failed", "selector", sel, "error", err)
			return false
		}
		if n > 0 {
			s.logger.Info("turnstile challenge detected", "url", page.URL())
			return true
		}
	}
	return false
}

// Solve extracts the sitekey, obtains a token from 2captcha, and injects it
// into the page.
func (s *Solver) Solve(ctx context.Context, page browser.Page) error {
	sitekey, err := s.extractSitekey(page)
	if err != nil {
		return err
	}
	s.logger.Info("submitting CAPTCHA to solver", "url", page.URL(), "sitekey", sitekey)
	token, err := s.requestToken(ctx, page.URL(), sitekey)
	if err != nil {
		return err
	}
	if err := applyToken(page, token); err != nil {
		return fmt.Errorf("apply CAPTCHA token: %w", err)
	}
	s.logger.Info("CAPTCHA token applied")
	return nil
}

func (s *Solver) extractSitekey(page browser.Page) (string, error) {
	if key, err := page.Attribute(".cf-turnstile", "data-sitekey"); err == nil && key != "" {
		return key, nil
	}
	src, err := page.Attribute(`iframe[src*="challenges.cloudflare.com"]`, "src")
	if err == nil && src != "" {
		if m := sitekeyRe.FindStringSubmatch(src); m != nil {
			return m[1], nil
		}
	}
	return "", ErrNoSitekey
}

type createTaskRequest struct {
	ClientKey string `json:"clientKey"`
	Task      struct {
		Type       string `json:"type"`
		WebsiteURL string `json:"websiteURL"`
		WebsiteKey string `json:"websiteKey"`
	} `json:"task"`
}

type createTaskResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	TaskID           int64  `json:"taskId"`
}

type taskResultRequest struct {
	ClientKey string `json:"clientKey"`
	TaskID    int64  `json:"taskId"`
}

type taskResultResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Status           string `json:"status"`
	Solution         struct {
		Token string `json:"token"`
	} `json:"solution"`
}

func (s *Solver) requestToken(ctx context.Context, pageURL, sitekey string) (string, error) {
	req := createTaskRequest{ClientKey: s.apiKey}
	req.Task.Type = "TurnstileTaskProxyless"
	req.Task.WebsiteURL = pageURL
	req.Task.WebsiteKey = sitekey

	var created createTaskResponse
	if err := s.post(ctx, "/createTask", req, &created); err != nil {
		return "", err
	}
	if created.ErrorID != 0 {
		return "", fmt.Errorf("captcha createTask failed: %s", created.ErrorDescription)
	}

	deadline := time.Now().Add(s.maxWait)
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.pollInterval):
		}
		var res taskResultResponse
		if err := s.post(ctx, "/getTaskResult", taskResultRequest{ClientKey: s.apiKey, TaskID: created.TaskID}, &res); err != nil {
			return "", err
		}
		if res.ErrorID != 0 {
			return "", fmt.Errorf("captcha solve failed: %s", res.ErrorDescription)
		}
		if res.Status == "ready" {
			return res.Solution.Token, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("captcha solve timed out after %s", s.maxWait)
		}
	}
}

func (s *Solver) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal captcha request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("captcha API %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode captcha response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}

// applyToken fills the Turnstile response input and fires the widget
// callback when one is declared.
func applyToken(page browser.Page, token string) error {
	_, err := page.Evaluate(`(tk) => {
		const responseInput = document.querySelector('[name="cf-turnstile-response"]');
		if (responseInput) {
			responseInput.value = tk;
		}
		const cb = document.querySelector('.cf-turnstile')?.getAttribute('data-callback');
		if (cb && typeof window[cb] === 'function') {
			window[cb](tk);
		}
	}`, token)
	return err
}

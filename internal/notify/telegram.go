package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.telegram.org"

// Config holds Telegram API credentials and transport options. BaseURL is
// overridable for tests.
type Config struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Timeout  time.Duration
}

// Client talks to the Telegram Bot API. It covers the two operations the
// watcher needs: sendMessage for notifications and getUpdates for the
// operator command poll.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// Message is the sendMessage payload.
type message struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

// IncomingMessage carries the operator command text and its sender chat.
type IncomingMessage struct {
	Text string `json:"text"`
	Chat Chat   `json:"chat"`
}

// Chat identifies the Telegram chat a message came from.
type Chat struct {
	ID int64 `json:"id"`
}

// New creates a Client. The token and chat ID must be non-empty; config
// validation happens at startup, not here.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// ChatID returns the configured operator chat ID.
func (c *Client) ChatID() string { return c.cfg.ChatID }

// SendMessage sends text to the configured chat. Callers that need delivery
// guarantees wrap this with retry; the client itself does not retry.
func (c *Client) SendMessage(ctx context.Context, text string) error {
	if c.cfg.BotToken == "" || c.cfg.ChatID == "" {
		return fmt.Errorf("telegram bot token and chat ID are required")
	}
	payload := message{ChatID: c.cfg.ChatID, Text: text, ParseMode: "HTML"}
	var resp apiResponse
	if err := c.post(ctx, "sendMessage", payload, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("telegram API error: %s (code: %d)", resp.Description, resp.ErrorCode)
	}
	return nil
}

// Reply sends text best-effort: failures are logged, not returned. Used for
// bot command acknowledgements where a lost reply is acceptable.
func (c *Client) Reply(ctx context.Context, text string) {
	if err := c.SendMessage(ctx, text); err != nil {
		c.logger.Warn("failed to send bot reply", "error", err)
	}
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates long-polls the Bot API for operator messages starting at
// offset. timeoutSec is the server-side long-poll window; the HTTP timeout
// is stretched to cover it.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSec int) ([]Update, error) {
	payload := getUpdatesRequest{
		Offset:         offset,
		Timeout:        timeoutSec,
		AllowedUpdates: []string{"message"},
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec+5)*time.Second)
	defer cancel()

	var resp apiResponse
	if err := c.postWith(ctx, c.longPollClient(timeoutSec), "getUpdates", payload, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("telegram API error: %s (code: %d)", resp.Description, resp.ErrorCode)
	}
	var updates []Update
	if err := json.Unmarshal(resp.Result, &updates); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return updates, nil
}

func (c *Client) longPollClient(timeoutSec int) *http.Client {
	return &http.Client{Timeout: time.Duration(timeoutSec+5) * time.Second}
}

func (c *Client) post(ctx context.Context, method string, payload any, out *apiResponse) error {
	return c.postWith(ctx, c.httpClient, method, payload, out)
}

func (c *Client) postWith(ctx context.Context, client *http.Client, method string, payload any, out *apiResponse) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.cfg.BaseURL, c.cfg.BotToken, method)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	return nil
}

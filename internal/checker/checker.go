package checker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/loykin/coinwatch/internal/retry"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	requestTimeout = 10 * time.Second
	// Responses shorter than this are treated as failed fetches; the shop
	// never serves a real product page this small.
	minBodyBytes = 100
)

// Availability is signaled by the buy button; name and price come from the
// first matching selector in these lists.
const buyButtonSelector = ".btn-primary.buy"

var (
	nameSelectors  = []string{"h1.product-title", `h1[itemprop="name"]`, ".product-name", "h1"}
	priceSelectors = []string{".new_price_card_product", ".price", `[itemprop="price"]`, ".product-price"}
)

// Result is the outcome of one product-page check.
type Result struct {
	URL       string
	Name      string
	Price     string
	Available bool
}

// Checker fetches product pages over plain HTTP and detects availability
// from the parsed document.
type Checker struct {
	client *http.Client
	retry  retry.Options
	logger *slog.Logger
}

// New creates a Checker. The retry options apply to every page fetch.
func New(retryOpts retry.Options, logger *slog.Logger) *Checker {
	return &Checker{
		client: &http.Client{Timeout: requestTimeout},
		retry:  retryOpts,
		logger: logger,
	}
}

// Check fetches url and reports availability, name and price. Network and
// parse failures come back as errors the caller may treat as a skippable
// per-product failure.
func (c *Checker) Check(ctx context.Context, url string) (Result, error) {
	html, err := c.fetch(ctx, url)
	if err != nil {
		return Result{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parse product page %s: %w", url, err)
	}
	res := Parse(doc, url)
	c.logger.Debug("product check complete", "url", url, "available", res.Available, "name", res.Name)
	return res, nil
}

// Parse extracts the availability result from an already parsed document.
func Parse(doc *goquery.Document, url string) Result {
	res := Result{
		URL:       url,
		Name:      firstText(doc, nameSelectors),
		Price:     firstText(doc, priceSelectors),
		Available: doc.Find(buyButtonSelector).Length() > 0,
	}
	if res.Name == "" {
		res.Name = "Unknown Product"
	}
	return res
}

func (c *Checker) fetch(ctx context.Context, url string) (string, error) {
	opts := c.retry
	opts.OnAttemptFailed = func(attempt int, err error) {
		c.logger.Warn("product fetch retry", "url", url, "attempt", attempt, "error", err)
	}
	return retry.DoValue(ctx, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", fmt.Errorf("build request for %s: %w", url, err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "uk-UA,uk;q=0.9,en-US;q=0.8,en;q=0.7")
		resp, err := c.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("fetch %s: %w", url, err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", url, err)
		}
		if len(b) < minBodyBytes {
			return "", fmt.Errorf("fetch %s: empty or truncated body (%d bytes)", url, len(b))
		}
		return string(b), nil
	}, opts)
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(doc.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

package cart

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/loykin/coinwatch/internal/browser"
	"github.com/loykin/coinwatch/internal/notify"
	"github.com/loykin/coinwatch/internal/session"
	"github.com/loykin/coinwatch/internal/state"
)

// Failure reasons reported to the operator.
const (
	ReasonAlreadyInCart = "already_in_cart"
	ReasonAuthFailed    = "auth_failed"
	ReasonSoldOut       = "sold_out"
	ReasonUnknown       = "unknown"
)

const (
	buyButtonSelector = ".btn-primary.buy"
	quantitySelector  = `select[name="quantity"], select.quantity`
)

// Success markers and stock markers in the page after the buy click.
var (
	cartSuccessMarker = "Товар успішно доданий у кошик"
	outOfStockMarkers = []string{"немає в наявності", "out of stock"}
)

// Result is the outcome of one add-to-cart attempt.
type Result struct {
	Success bool
	Reason  string
}

// Orchestrator drives the add-to-cart flow on an authenticated session.
type Orchestrator struct {
	sessions *session.Manager
	solver   session.Solver
	quantity int
	logger   *slog.Logger
}

// New creates a cart orchestrator. quantity below 1 is coerced to 1.
func New(sessions *session.Manager, solver session.Solver, quantity int, logger *slog.Logger) *Orchestrator {
	if quantity < 1 {
		quantity = 1
	}
	return &Orchestrator{sessions: sessions, solver: solver, quantity: quantity, logger: logger}
}

// AddToCart attempts to put product into the cart. It never panics on page
// errors: every failure path collapses into a Result with a reason. The
// caller persists cart marks and sends notifications based on the Result.
func (o *Orchestrator) AddToCart(ctx context.Context, product notify.Product, st *state.WatcherState, page browser.Page) Result {
	// Idempotence guard: a carted product is never bought twice, and the
	// check costs no navigation.
	if st.IsInCart(product.URL) {
		o.logger.Info("product already in cart, skipping", "url", product.URL)
		return Result{Reason: ReasonAlreadyInCart}
	}

	o.logger.Info("attempting to add product to cart", "url", product.URL, "quantity", o.quantity)
	if err := o.navigate(ctx, page, product.URL); err != nil {
		o.logger.Warn("cart navigation failed", "url", product.URL, "error", err)
		if err == errAuth {
			return Result{Reason: ReasonAuthFailed}
		}
		return Result{Reason: ReasonUnknown}
	}

	// Re-verify availability on the fresh page: the listing may have gone
	// stale between the availability check and now.
	n, err := page.Count(buyButtonSelector)
	if err != nil {
		o.logger.Warn("buy button probe failed", "url", product.URL, "error", err)
		return Result{Reason: ReasonUnknown}
	}
	if n == 0 {
		o.logger.Info("buy button gone, product sold out", "url", product.URL)
		return Result{Reason: ReasonSoldOut}
	}

	if o.quantity > 1 {
		if found, err := page.SelectOption(quantitySelector, strconv.Itoa(o.quantity)); err != nil {
			o.logger.Warn("quantity selection failed, continuing with default", "error", err)
		} else if !found {
			o.logger.Debug("no quantity selector on page")
		}
	}

	if err := page.Click(buyButtonSelector); err != nil {
		o.logger.Warn("buy click failed", "url", product.URL, "error", err)
		return Result{Reason: ReasonUnknown}
	}
	if err := page.WaitLoaded(); err != nil {
		o.logger.Warn("page did not settle after buy click", "error", err)
	}
	if o.solver.DetectChallenge(page) {
		o.logger.Info("CAPTCHA detected after buy click, solving")
		if err := o.solver.Solve(ctx, page); err != nil {
			o.logger.Warn("checkout CAPTCHA solve failed", "error", err)
			return Result{Reason: ReasonUnknown}
		}
		if err := page.WaitLoaded(); err != nil {
			o.logger.Warn("page did not settle after CAPTCHA", "error", err)
		}
	}

	return o.classify(page, product.URL)
}

var errAuth = fmt.Errorf("session authentication failed")

// navigate opens the product page, re-authenticating when the shop bounces
// us to the login page, and solving any interstitial challenge.
func (o *Orchestrator) navigate(ctx context.Context, page browser.Page, url string) error {
	if err := page.Goto(url); err != nil {
		return fmt.Errorf("open product page: %w", err)
	}
	if strings.Contains(page.URL(), "login.php") {
		o.logger.Info("redirected to login, re-authenticating")
		if err := o.sessions.EnsureAuthenticated(ctx, page); err != nil {
			return errAuth
		}
		if err := page.Goto(url); err != nil {
			return fmt.Errorf("reopen product page: %w", err)
		}
	}
	if o.solver.DetectChallenge(page) {
		o.logger.Info("CAPTCHA detected on product page, solving")
		if err := o.solver.Solve(ctx, page); err != nil {
			return fmt.Errorf("solve product page CAPTCHA: %w", err)
		}
		if err := page.WaitLoaded(); err != nil {
			return fmt.Errorf("wait after CAPTCHA: %w", err)
		}
	}
	return nil
}

// classify reads the post-click page and decides the outcome. Ambiguous
// pages fail closed: no success without a positive marker.
func (o *Orchestrator) classify(page browser.Page, url string) Result {
	body, err := page.BodyText()
	if err != nil {
		o.logger.Warn("could not read result page", "url", url, "error", err)
		return Result{Reason: ReasonUnknown}
	}
	lower := strings.ToLower(body)
	if strings.Contains(body, cartSuccessMarker) || strings.Contains(page.URL(), "shopping_cart.php") {
		o.logger.Info("product added to cart", "url", url)
		return Result{Success: true}
	}
	for _, marker := range outOfStockMarkers {
		if strings.Contains(lower, marker) {
			o.logger.Info("product reported out of stock at checkout", "url", url)
			return Result{Reason: ReasonSoldOut}
		}
	}
	o.logger.Warn("could not confirm cart addition", "url", url)
	return Result{Reason: ReasonUnknown}
}

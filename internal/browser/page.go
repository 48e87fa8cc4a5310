package browser

import "time"

// Timeouts bounding every page call so a hang degrades to an error instead
// of stalling the check cycle.
const (
	NavigationTimeout = 30 * time.Second
	LoadTimeout       = 15 * time.Second
)

// Page is the browsing surface the session and cart flows run against. It
// is a deliberate subset of the driver API so tests can substitute a fake
// without a browser process.
type Page interface {
	// Goto navigates to url and waits for DOM content.
	Goto(url string) error
	// URL returns the current page URL.
	URL() string
	// Fill sets the value of the input matching selector.
	Fill(selector, value string) error
	// Click clicks the first element matching selector.
	Click(selector string) error
	// SelectOption selects value in the first matching select control and
	// reports whether such a control exists.
	SelectOption(selector, value string) (bool, error)
	// Count returns how many elements match selector.
	Count(selector string) (int, error)
	// Attribute returns the named attribute of the first match, empty when
	// absent.
	Attribute(selector, name string) (string, error)
	// BodyText returns the page's visible body text.
	BodyText() (string, error)
	// Evaluate runs a JavaScript expression in the page.
	Evaluate(expression string, args ...any) (any, error)
	// WaitLoaded waits for the DOM content loaded state.
	WaitLoaded() error
}

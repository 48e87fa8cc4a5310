package notify

import (
	"fmt"
	"strings"
	"time"
)

// Product is the data-transfer shape for notification texts. It mirrors the
// checker result without importing it so the notifier stays a leaf package.
type Product struct {
	URL   string
	Name  string
	Price string
}

// CartURL is where a successfully carted product can be checked out.
const CartURL = "https://coins.bank.gov.ua/shopping_cart.php"

// Availability formats the "became available" notification.
func Availability(p Product) string {
	lines := []string{
		"🔔 NBU Coin Available!",
		"",
		fmt.Sprintf("Product: %s", p.Name),
		fmt.Sprintf("URL: %s", p.URL),
	}
	if p.Price != "" {
		lines = append(lines, fmt.Sprintf("Price: %s", p.Price))
	}
	lines = append(lines, "", fmt.Sprintf("Status changed at: %s", now()))
	return strings.Join(lines, "\n")
}

// CartSuccess formats the confirmation after a cart submission.
func CartSuccess(p Product, quantity int) string {
	price := p.Price
	if price == "" {
		price = "N/A"
	}
	return strings.Join([]string{
		"🛒 Added to Cart!",
		"",
		fmt.Sprintf("Product: %s", p.Name),
		fmt.Sprintf("Price: %s", price),
		fmt.Sprintf("Quantity: %d", quantity),
		fmt.Sprintf("Cart: %s", CartURL),
		fmt.Sprintf("Time: %s", now()),
	}, "\n")
}

// CartFailure formats a failed cart attempt with its reason.
func CartFailure(p Product, reason string) string {
	return strings.Join([]string{
		"❌ Cart Failed",
		"",
		fmt.Sprintf("Product: %s", p.Name),
		fmt.Sprintf("Reason: %s", reason),
		fmt.Sprintf("URL: %s", p.URL),
		fmt.Sprintf("Time: %s", now()),
	}, "\n")
}

// AuthFailure formats a login failure alert.
func AuthFailure(reason string) string {
	return strings.Join([]string{
		"🔑 Login Failed",
		"",
		fmt.Sprintf("Reason: %s", reason),
		"Action: Check credentials in the configuration",
		fmt.Sprintf("Time: %s", now()),
	}, "\n")
}

// CaptchaFailure formats a CAPTCHA solve failure alert.
func CaptchaFailure(context string) string {
	return strings.Join([]string{
		"⚠️ CAPTCHA Failed",
		"",
		fmt.Sprintf("Context: %s", context),
		"Action: Manual intervention may be needed",
		fmt.Sprintf("Time: %s", now()),
	}, "\n")
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

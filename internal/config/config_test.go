package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const productURL = "https://coins.bank.gov.ua/product_info.php?products_id=1"

func validConfig() Config {
	c := Default()
	c.ProductURLs = []string{productURL}
	c.CheckInterval = 2 * time.Minute
	c.Telegram = Telegram{BotToken: "tok", ChatID: "42"}
	return c
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.CheckInterval != 2*time.Second {
		t.Fatalf("check interval = %v", c.CheckInterval)
	}
	if c.NotifyWindow != 24*time.Hour {
		t.Fatalf("notify window = %v", c.NotifyWindow)
	}
	if c.SessionCheckEveryCycles != 10 {
		t.Fatalf("session check cadence = %d", c.SessionCheckEveryCycles)
	}
	if c.AutoPurchase.CartQuantity != 1 || !c.AutoPurchase.Headless {
		t.Fatalf("auto purchase defaults = %+v", c.AutoPurchase)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coinwatch.toml")
	content := `
product_urls = ["` + productURL + `"]
check_interval = "90s"
state_file = "/var/lib/coinwatch/state.json"

[telegram]
bot_token = "tok"
chat_id = "42"

[auto_purchase]
enabled = true
email = "a@b.c"
password = "pw"
captcha_api_key = "key"
cart_quantity = 2

[history]
enabled = true
dsn = "sqlite:///tmp/history.db"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.CheckInterval != 90*time.Second {
		t.Fatalf("check interval = %v", c.CheckInterval)
	}
	if c.StateFile != "/var/lib/coinwatch/state.json" {
		t.Fatalf("state file = %q", c.StateFile)
	}
	if !c.AutoPurchase.Enabled || c.AutoPurchase.CartQuantity != 2 {
		t.Fatalf("auto purchase = %+v", c.AutoPurchase)
	}
	if !c.History.Enabled || c.History.DSN != "sqlite:///tmp/history.db" {
		t.Fatalf("history = %+v", c.History)
	}
	if warnings, err := c.Validate(); err != nil || len(warnings) != 0 {
		t.Fatalf("validate: warnings=%v err=%v", warnings, err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRODUCT_URLS", productURL+" , https://coins.bank.gov.ua/product_info.php?products_id=2")
	t.Setenv("CHECK_INTERVAL", "120")
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-tok")
	t.Setenv("TELEGRAM_CHAT_ID", "99")
	t.Setenv("AUTO_PURCHASE", "true")
	t.Setenv("NBU_EMAIL", "env@b.c")
	t.Setenv("NBU_PASSWORD", "env-pw")
	t.Setenv("CART_QUANTITY", "3")
	t.Setenv("HEADLESS", "false")

	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.ProductURLs) != 2 {
		t.Fatalf("product urls = %v", c.ProductURLs)
	}
	if c.CheckInterval != 2*time.Minute {
		t.Fatalf("check interval = %v (plain integer should mean seconds)", c.CheckInterval)
	}
	if c.Telegram.BotToken != "env-tok" || c.Telegram.ChatID != "99" {
		t.Fatalf("telegram = %+v", c.Telegram)
	}
	if !c.AutoPurchase.Enabled || c.AutoPurchase.CartQuantity != 3 || c.AutoPurchase.Headless {
		t.Fatalf("auto purchase = %+v", c.AutoPurchase)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no products", func(c *Config) { c.ProductURLs = nil }},
		{"bad product URL", func(c *Config) { c.ProductURLs = []string{"not a url"} }},
		{"zero interval", func(c *Config) { c.CheckInterval = 0 }},
		{"zero retries", func(c *Config) { c.MaxRetries = 0 }},
		{"no state file", func(c *Config) { c.StateFile = "" }},
		{"no telegram", func(c *Config) { c.Telegram = Telegram{} }},
		{"auto purchase no credentials", func(c *Config) {
			c.AutoPurchase.Enabled = true
		}},
		{"auto purchase zero quantity", func(c *Config) {
			c.AutoPurchase = AutoPurchase{Enabled: true, Email: "a@b.c", Password: "pw", CaptchaAPIKey: "k"}
		}},
		{"history without dsn", func(c *Config) { c.History.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			if _, err := c.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestValidateIntervalWarning(t *testing.T) {
	c := validConfig()
	c.CheckInterval = 2 * time.Second
	warnings, err := c.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "rate-limit") {
		t.Fatalf("warnings = %v, want interval warning", warnings)
	}
}

func TestValidateCaptchaWarning(t *testing.T) {
	c := validConfig()
	c.AutoPurchase = AutoPurchase{Enabled: true, Email: "a@b.c", Password: "pw", CartQuantity: 1}
	warnings, err := c.Validate()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "captcha_api_key") {
		t.Fatalf("warnings = %v, want captcha warning", warnings)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/coinwatch/internal/logger"
)

// minRecommendedInterval is the cadence below which the shop may rate-limit
// or block the watcher. Going faster is allowed but warned about.
const minRecommendedInterval = 60 * time.Second

// Config is the top-level TOML structure. Environment variables override
// file values after unmarshal, see applyEnv.
type Config struct {
	ProductURLs             []string      `toml:"product_urls" mapstructure:"product_urls"`
	CheckInterval           time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	MaxRetries              int           `toml:"max_retries" mapstructure:"max_retries"`
	StateFile               string        `toml:"state_file" mapstructure:"state_file"`
	NotifyWindow            time.Duration `toml:"notify_window" mapstructure:"notify_window"`
	SessionCheckEveryCycles int           `toml:"session_check_every_cycles" mapstructure:"session_check_every_cycles"`

	Telegram     Telegram      `toml:"telegram" mapstructure:"telegram"`
	AutoPurchase AutoPurchase  `toml:"auto_purchase" mapstructure:"auto_purchase"`
	Log          logger.Config `toml:"log" mapstructure:"log"`
	HTTP         HTTP          `toml:"http" mapstructure:"http"`
	Metrics      Metrics       `toml:"metrics" mapstructure:"metrics"`
	History      History       `toml:"history" mapstructure:"history"`
}

type Telegram struct {
	BotToken string `toml:"bot_token" mapstructure:"bot_token"`
	ChatID   string `toml:"chat_id" mapstructure:"chat_id"`
}

type AutoPurchase struct {
	Enabled       bool   `toml:"enabled" mapstructure:"enabled"`
	Email         string `toml:"email" mapstructure:"email"`
	Password      string `toml:"password" mapstructure:"password"`
	CaptchaAPIKey string `toml:"captcha_api_key" mapstructure:"captcha_api_key"`
	CartQuantity  int    `toml:"cart_quantity" mapstructure:"cart_quantity"`
	Headless      bool   `toml:"headless" mapstructure:"headless"`
}

type HTTP struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type Metrics struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type History struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	DSN     string `toml:"dsn" mapstructure:"dsn"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		CheckInterval:           2 * time.Second,
		MaxRetries:              3,
		StateFile:               "watcher_state.json",
		NotifyWindow:            24 * time.Hour,
		SessionCheckEveryCycles: 10,
		AutoPurchase: AutoPurchase{
			CartQuantity: 1,
			Headless:     true,
		},
		HTTP:    HTTP{Listen: ":8080"},
		Metrics: Metrics{Listen: ":9090"},
	}
}

// Load builds the configuration: defaults, then the TOML file when path is
// non-empty, then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with the watcher's environment contract.
func (c *Config) applyEnv() {
	if v := os.Getenv("PRODUCT_URLS"); v != "" {
		var urls []string
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		c.ProductURLs = urls
	}
	if v := os.Getenv("CHECK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.CheckInterval = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.CheckInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		c.StateFile = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.Telegram.ChatID = v
	}
	if v := os.Getenv("AUTO_PURCHASE"); v != "" {
		c.AutoPurchase.Enabled = isTruthy(v)
	}
	if v := os.Getenv("NBU_EMAIL"); v != "" {
		c.AutoPurchase.Email = v
	}
	if v := os.Getenv("NBU_PASSWORD"); v != "" {
		c.AutoPurchase.Password = v
	}
	if v := os.Getenv("CAPTCHA_API_KEY"); v != "" {
		c.AutoPurchase.CaptchaAPIKey = v
	}
	if v := os.Getenv("CART_QUANTITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.AutoPurchase.CartQuantity = n
		}
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		c.AutoPurchase.Headless = isTruthy(v)
	}
	if v := os.Getenv("HISTORY_DSN"); v != "" {
		c.History.Enabled = true
		c.History.DSN = v
	}
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Validate checks the configuration. Structural problems return an error;
// questionable but workable settings come back as warnings.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if len(c.ProductURLs) == 0 {
		return nil, errors.New("at least one product URL is required")
	}
	for _, raw := range c.ProductURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid product URL %q", raw)
		}
	}
	if c.CheckInterval <= 0 {
		return nil, fmt.Errorf("check_interval must be positive, got %v", c.CheckInterval)
	}
	if c.CheckInterval < minRecommendedInterval {
		warnings = append(warnings, fmt.Sprintf(
			"check_interval %v is below the recommended minimum %v; the shop may rate-limit", c.CheckInterval, minRecommendedInterval))
	}
	if c.MaxRetries < 1 {
		return nil, fmt.Errorf("max_retries must be at least 1, got %d", c.MaxRetries)
	}
	if c.StateFile == "" {
		return nil, errors.New("state_file is required")
	}
	if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
		return nil, errors.New("telegram bot_token and chat_id are required")
	}
	if c.AutoPurchase.Enabled {
		if c.AutoPurchase.Email == "" || c.AutoPurchase.Password == "" {
			return nil, errors.New("auto_purchase requires email and password")
		}
		if c.AutoPurchase.CaptchaAPIKey == "" {
			warnings = append(warnings, "auto_purchase enabled without captcha_api_key; login will fail when a challenge appears")
		}
		if c.AutoPurchase.CartQuantity < 1 {
			return nil, fmt.Errorf("cart_quantity must be at least 1, got %d", c.AutoPurchase.CartQuantity)
		}
	}
	if c.History.Enabled && c.History.DSN == "" {
		return nil, errors.New("history enabled without dsn")
	}
	return warnings, nil
}

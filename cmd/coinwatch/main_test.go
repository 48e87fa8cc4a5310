package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

const productURL = "https://coins.bank.gov.ua/product_info.php?products_id=1"

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PRODUCT_URLS", productURL)
	t.Setenv("CHECK_INTERVAL", "120")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("STATE_FILE", filepath.Join(t.TempDir(), "state.json"))
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestValidateCommandOK(t *testing.T) {
	setValidEnv(t)
	_, err := execute(t, "validate", "--env-file", filepath.Join(t.TempDir(), "nope.env"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateCommandMissingTelegram(t *testing.T) {
	t.Setenv("PRODUCT_URLS", productURL)
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	_, err := execute(t, "validate", "--env-file", filepath.Join(t.TempDir(), "nope.env"))
	if err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("err = %v, want telegram validation error", err)
	}
}

func TestRootHelpListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help: %v", err)
	}
	for _, cmd := range []string{"run", "check", "validate"} {
		if !strings.Contains(out, cmd) {
			t.Fatalf("help output missing %q:\n%s", cmd, out)
		}
	}
}

func TestUnknownConfigFile(t *testing.T) {
	setValidEnv(t)
	_, err := execute(t, "validate", "-c", filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

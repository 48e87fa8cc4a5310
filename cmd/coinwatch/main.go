package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	EnvFile    string
}

func buildRoot() *cobra.Command {
	var gf GlobalFlags
	root := &cobra.Command{
		Use:   "coinwatch",
		Short: "Watch NBU coin shop product pages and alert on availability",
		Long: `coinwatch polls configured product pages on a fixed interval, tracks
availability transitions in a persisted state file, sends Telegram alerts,
and can optionally log in and add newly available products to the cart.`,
		SilenceUsage: true,
		Version:      version,
	}
	root.PersistentFlags().StringVarP(&gf.ConfigPath, "config", "c", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&gf.EnvFile, "env-file", ".env", "path to .env file (ignored when missing)")

	root.AddCommand(newRunCmd(&gf))
	root.AddCommand(newCheckCmd(&gf))
	root.AddCommand(newValidateCmd(&gf))
	return root
}

package main

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/loykin/coinwatch"
)

func newValidateCmd(gf *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(gf.EnvFile)
			cfg, err := coinwatch.LoadConfig(gf.ConfigPath)
			if err != nil {
				return err
			}
			warnings, err := cfg.Validate()
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Println("warning:", w)
			}
			fmt.Println("configuration OK")
			return nil
		},
	}
}

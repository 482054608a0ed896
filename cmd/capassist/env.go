package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sandevgo/capassist/internal/config"
	"github.com/sandevgo/capassist/pkg/env"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Print the effective configuration",
	Long:  `Prints the configuration resolved from the environment and the runtime .env file, in .env syntax. Secrets are masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var flushLog func()
		ctx, flushLog = setupLogger(ctx)
		defer flushLog()

		if err := initEnv(ctx, config.GetRuntimePath()); err != nil {
			return err
		}

		out, err := env.MarshalEnv(
			config.NewAppConfig(ctx),
			config.NewLLMConfig(ctx),
			config.NewMemoryConfig(ctx),
			config.NewRetrievalConfig(ctx),
			config.NewReasoningConfig(ctx),
			config.NewResponseConfig(ctx),
		)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
}

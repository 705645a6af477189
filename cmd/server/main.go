package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fiesta",
		Short:         "Fiesta: multi-tenant streaming LLM gateway",
		Long:          "fiesta relays generation requests to upstream model providers, enforces per-tenant entitlements and rate limits, and charges credits for every completed session.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newModelsCmd(),
		newTenantCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

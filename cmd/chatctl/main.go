package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/rental-chat/internal/config"
	"github.com/suPer8Hu/rental-chat/internal/logging"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chatctl",
		Short:        "Rental support chat command line client",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg := config.Load()
			logging.Init(cfg.LogLevel, cfg.LogPretty)
		},
	}

	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newChatCmd())
	return cmd
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "progression",
	Short: "Progression engine for domain events, XP and reversals",
	Long: `A service that coordinates domain events from the task, nutrition and
measurement domains, awards XP through the progression ledger, and supports
same-day reversal of any completed event.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}

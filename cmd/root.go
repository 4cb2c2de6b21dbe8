package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "botgate",
	Short: "Channel gateway for conversational backends",
	Long:  "Botgate bridges messaging platforms (Microsoft Bot Framework, Telegram) to a conversational-agent backend over HTTP.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

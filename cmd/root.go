package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lavabridge",
	Short: "Lavabridge bridges Discord voice events to Lavalink playback nodes.",
	Run: func(cmd *cobra.Command, args []string) {
		runBot()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

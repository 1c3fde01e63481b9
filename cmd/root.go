package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wecomgw",
	Short: "WeCom webhook message gateway",
	Long:  "Terminates WeCom's signed and encrypted callbacks, acknowledges them quickly, and resolves replies through a configured AI provider.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

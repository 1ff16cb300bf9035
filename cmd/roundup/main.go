package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:   "roundup",
		Short: "Round up the week's card spending into a savings goal",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load variables from this file instead of ./.env")

	rootCmd.AddCommand(newServeCmd(&envFile), newRunCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

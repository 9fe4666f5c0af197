package main

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "palisade",
	Short:         "Palisade shares community ban decisions with game-server ban backends.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(serveCmd, syncCmd, migrateCmd, versionCmd)
}

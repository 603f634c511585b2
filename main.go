package main

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/yeremiapane/inventory-sync/utils"
)

var rootCmd = &cobra.Command{
	Use:   "inventory-sync",
	Short: "Change data capture for the inventory database",
	Long: `inventory-sync records every insert, update and delete on the watched
inventory tables and forwards the configured fields of each change to an
external workflow platform.`,
	SilenceUsage: true,
}

func main() {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Debug("No .env file loaded")
	}

	rootCmd.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
		NewSyncCommand(),
		NewCleanupCommand(),
		NewTokenCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		utils.ErrorLogger.WithError(err).Fatal("could not execute root command")
	}
}

package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/yeremiapane/inventory-sync/database"
	"github.com/yeremiapane/inventory-sync/utils"
)

func NewMigrateCommand() *cobra.Command {
	f := NewConfigFlags()

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema, install change capture and seed sync configs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.Load()
			if err != nil {
				return err
			}
			a, err := openApp(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			dialect, err := database.DialectOf(a.db)
			if err != nil {
				return err
			}
			triggers, err := database.ListCaptureTriggers(a.db, dialect)
			if err != nil {
				return err
			}
			for _, t := range triggers {
				utils.InfoLogger.WithField("table", t.Table).Infof("Capture trigger %s", t.Name)
			}
			utils.InfoLogger.Infof("Migration finished, watching %d tables", len(a.catalog.Tables()))
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yeremiapane/inventory-sync/config"
	"github.com/yeremiapane/inventory-sync/utils"
)

type CleanupFlags struct {
	ConfigFlags *ConfigFlags

	Window config.Duration
}

func NewCleanupFlags() *CleanupFlags {
	return &CleanupFlags{ConfigFlags: NewConfigFlags()}
}

func (f *CleanupFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.ConfigFlags.BindFlags(flagSet)
	flagSet.DurationVar(&f.Window.Duration, "window", 0, "Delete processed records older than this, 0 uses RETENTION_WINDOW")
}

func NewCleanupCommand() *cobra.Command {
	f := NewCleanupFlags()

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one retention sweep over the change log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.ConfigFlags.Load()
			if err != nil {
				return err
			}
			if f.Window.Duration > 0 {
				cfg.Retention.Window = f.Window
			}

			a, err := openApp(context.Background(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.retentionCleaner().RunOnce(context.Background())
			if err != nil {
				return err
			}
			utils.InfoLogger.WithField("cutoff", result.Cutoff).
				Infof("Deleted %d processed change records, %d unprocessed remain past the cutoff", result.Deleted, result.StuckUnprocessed)
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

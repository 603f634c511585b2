package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yeremiapane/inventory-sync/utils"
)

type SyncFlags struct {
	ConfigFlags      *ConfigFlags
	DestinationFlags *DestinationFlags

	ConfigID string
	Limit    int
}

func NewSyncFlags() *SyncFlags {
	return &SyncFlags{
		ConfigFlags:      NewConfigFlags(),
		DestinationFlags: NewDestinationFlags(),
	}
}

func (f *SyncFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.ConfigFlags.BindFlags(flagSet)
	f.DestinationFlags.BindFlags(flagSet)
	flagSet.StringVar(&f.ConfigID, "config-id", "", "Sync config to replay against its whole table")
	flagSet.IntVar(&f.Limit, "limit", 0, "Maximum rows to send, 0 uses MANUAL_SYNC_LIMIT")
}

func (f *SyncFlags) Validate() error {
	if f.ConfigID == "" {
		return fmt.Errorf("--config-id is required")
	}
	if f.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	return nil
}

// NewSyncCommand runs one manual sync and exits.
func NewSyncCommand() *cobra.Command {
	f := NewSyncFlags()

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Send every current row of a sync config's table as an insert",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.Validate(); err != nil {
				return err
			}
			cfg, err := f.ConfigFlags.Load()
			if err != nil {
				return err
			}
			if err := f.DestinationFlags.Apply(cfg); err != nil {
				return err
			}
			if f.Limit > 0 {
				cfg.Sync.ManualSyncLimit = f.Limit
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			deliverer, err := a.deliveryClient()
			if err != nil {
				return err
			}
			result, err := a.manualSyncer(deliverer).TriggerManualSync(ctx, f.ConfigID)
			if err != nil {
				return err
			}
			utils.InfoLogger.WithField("config_id", f.ConfigID).
				Infof("Manual sync finished: %d sent, %d failed, %d rows", result.SuccessCount, result.FailedCount, result.Total)
			if result.FailedCount > 0 {
				return fmt.Errorf("%d of %d rows failed to sync", result.FailedCount, result.Total)
			}
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

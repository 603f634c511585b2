package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yeremiapane/inventory-sync/controllers"
	"github.com/yeremiapane/inventory-sync/router"
	"github.com/yeremiapane/inventory-sync/utils"
)

type ServeFlags struct {
	ConfigFlags      *ConfigFlags
	DestinationFlags *DestinationFlags

	Port        string
	DisablePoll bool
}

func NewServeFlags() *ServeFlags {
	return &ServeFlags{
		ConfigFlags:      NewConfigFlags(),
		DestinationFlags: NewDestinationFlags(),
	}
}

func (f *ServeFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.ConfigFlags.BindFlags(flagSet)
	f.DestinationFlags.BindFlags(flagSet)
	flagSet.StringVar(&f.Port, "port", "", "Port to serve the API on (overrides PORT)")
	flagSet.BoolVar(&f.DisablePoll, "disable-poller", false, "Serve the API without polling the change log")
}

func NewServeCommand() *cobra.Command {
	f := NewServeFlags()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the change poller and the retention cleaner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.ConfigFlags.Load()
			if err != nil {
				return err
			}
			if err := f.DestinationFlags.Apply(cfg); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = f.Port
			}
			if cfg.Server.GinMode == gin.ReleaseMode {
				gin.SetMode(gin.ReleaseMode)
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
			poller := a.poller(deliverer)
			cleaner := a.retentionCleaner()
			syncCtrl := controllers.NewSyncConfigController(a.configs, a.manualSyncer(deliverer), a.catalog, a.store, poller)

			if !f.DisablePoll {
				poller.Start(ctx)
				defer poller.Stop()
			}
			cleaner.Start(ctx)
			defer cleaner.Stop()

			server := &http.Server{
				Addr:    ":" + cfg.Server.Port,
				Handler: router.SetupRouter(a.db, cfg.Server, syncCtrl, a.activity),
			}

			serveErr := make(chan error, 1)
			go func() {
				utils.InfoLogger.Infof("Listening on port %s", cfg.Server.Port)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				return err
			case <-ctx.Done():
			}

			utils.InfoLogger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				utils.ErrorLogger.Errorf("Server shutdown: %v", err)
			}
			return <-serveErr
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

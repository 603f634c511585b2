package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/yeremiapane/inventory-sync/config"
	"github.com/yeremiapane/inventory-sync/utils"
)

// ConfigFlags are shared by every command. A flag only overrides the loaded
// configuration when it was set on the command line.
type ConfigFlags struct {
	ConfigFile  string
	LogLevel    string
	LogFormat   string
	DBDriver    string
	DBDSN       string
	CaptureMode string

	flagSet *pflag.FlagSet
}

func NewConfigFlags() *ConfigFlags {
	return &ConfigFlags{}
}

func (f *ConfigFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.flagSet = flagSet
	flagSet.StringVar(&f.ConfigFile, "config", "", "Path to a .toml, .yaml or .json config file (overrides CONFIG_FILE)")
	flagSet.StringVar(&f.LogLevel, "log-level", "", "Log level (trace,debug,info,warn,error)")
	flagSet.StringVar(&f.LogFormat, "log-format", "", "Log format (text,json)")
	flagSet.StringVar(&f.DBDriver, "db-driver", "", "Database driver (sqlite,mysql,postgres)")
	flagSet.StringVar(&f.DBDSN, "db-dsn", "", "Database connection string")
	flagSet.StringVar(&f.CaptureMode, "capture-mode", "", "How mutations are captured (triggers,callbacks)")
}

func (f *ConfigFlags) changed(name string) bool {
	return f.flagSet != nil && f.flagSet.Changed(name)
}

// Load resolves the configuration and applies the logger settings.
func (f *ConfigFlags) Load() (*config.Config, error) {
	if f.ConfigFile != "" {
		if err := os.Setenv("CONFIG_FILE", f.ConfigFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if f.changed("log-level") {
		cfg.LogLevel = f.LogLevel
	}
	if f.changed("log-format") {
		cfg.LogFormat = f.LogFormat
	}
	if f.changed("db-driver") {
		cfg.Database.Driver = f.DBDriver
	}
	if f.changed("db-dsn") {
		cfg.Database.DSN = f.DBDSN
	}
	if f.changed("capture-mode") {
		cfg.Database.CaptureMode = f.CaptureMode
	}

	utils.ConfigureLogger(cfg.LogLevel, cfg.LogFormat == "json")
	return cfg, nil
}

// DestinationFlags override the outbound workflow settings.
type DestinationFlags struct {
	BaseURL string
	Token   string

	flagSet *pflag.FlagSet
}

func NewDestinationFlags() *DestinationFlags {
	return &DestinationFlags{}
}

func (f *DestinationFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.flagSet = flagSet
	flagSet.StringVar(&f.BaseURL, "destination-url", "", "Base URL of the workflow platform")
	flagSet.StringVar(&f.Token, "destination-token", "", "Bearer token for the workflow platform")
}

func (f *DestinationFlags) Apply(cfg *config.Config) error {
	if f.flagSet != nil && f.flagSet.Changed("destination-url") {
		cfg.Delivery.BaseURL = f.BaseURL
	}
	if f.flagSet != nil && f.flagSet.Changed("destination-token") {
		cfg.Delivery.Token = f.Token
	}
	if cfg.Delivery.BaseURL == "" {
		return fmt.Errorf("destination base url is required (DESTINATION_BASE_URL or --destination-url)")
	}
	return nil
}

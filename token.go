package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/yeremiapane/inventory-sync/utils"
)

type TokenFlags struct {
	ConfigFlags *ConfigFlags

	Subject string
	Role    string
	TTL     time.Duration
}

func NewTokenFlags() *TokenFlags {
	return &TokenFlags{
		ConfigFlags: NewConfigFlags(),
		Role:        utils.RoleViewer,
		TTL:         24 * time.Hour,
	}
}

func (f *TokenFlags) BindFlags(flagSet *pflag.FlagSet) {
	f.ConfigFlags.BindFlags(flagSet)
	flagSet.StringVar(&f.Subject, "subject", "", "Operator name stored in the token")
	flagSet.StringVar(&f.Role, "role", f.Role, "Operator role (admin,viewer)")
	flagSet.DurationVar(&f.TTL, "ttl", f.TTL, "Token lifetime")
}

// NewTokenCommand prints an operator token signed with JWT_SECRET.
func NewTokenCommand() *cobra.Command {
	f := NewTokenFlags()

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.Subject == "" {
				return fmt.Errorf("--subject is required")
			}
			cfg, err := f.ConfigFlags.Load()
			if err != nil {
				return err
			}
			token, err := utils.GenerateToken([]byte(cfg.Server.JWTSecret), f.Subject, f.Role, f.TTL)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}

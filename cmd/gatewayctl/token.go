package main

import (
	"fmt"
	"time"

	"crypto-payment-gateway/config"
	"crypto-payment-gateway/internal/clock"
	"crypto-payment-gateway/internal/core/ports"
	"crypto-payment-gateway/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint bearer tokens",
	}
	cmd.AddCommand(tokenOperatorCmd())
	return cmd
}

func tokenOperatorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Mint an operator JWT for the /api/v1/admin routes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("jwt.secret is required")
			}

			subject := uuid.New()
			if raw, _ := cmd.Flags().GetString("subject"); raw != "" {
				subject, err = uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("invalid subject: %w", err)
				}
			}
			expiry, _ := cmd.Flags().GetDuration("expiry")
			if expiry <= 0 {
				expiry = cfg.JWT.Expiry
			}

			tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, expiry, cfg.JWT.Issuer, clock.Real{})
			token, exp, err := tokenSvc.Generate(subject, ports.RoleOperator)
			if err != nil {
				return fmt.Errorf("generating token: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "operator %s, expires %s\n", subject, exp.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Operator ID (random when empty)")
	cmd.Flags().Duration("expiry", time.Hour, "Token lifetime")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

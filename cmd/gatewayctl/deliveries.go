package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	pgStorage "crypto-payment-gateway/internal/adapter/storage/postgres"
	"crypto-payment-gateway/internal/core/domain"
	"crypto-payment-gateway/pkg/logger"

	"github.com/spf13/cobra"
)

func deliveriesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "Inspect the webhook outbox",
	}
	cmd.AddCommand(deliveriesExhaustedCmd())
	return cmd
}

func deliveriesExhaustedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exhausted",
		Short: "List deliveries that used up every retry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("deliveries exhausted needs storage.driver=postgres, got %q", cfg.Storage.Driver)
			}
			limit, _ := cmd.Flags().GetInt("limit")
			offset, _ := cmd.Flags().GetInt("offset")
			asJSON, _ := cmd.Flags().GetBool("json")

			ctx := cmd.Context()
			pool, err := pgStorage.NewPool(ctx, cfg.Database, logger.New("warn", true))
			if err != nil {
				return err
			}
			defer pool.Close()

			deliveries, total, err := pgStorage.NewDeliveryRepo(pool).ListExhausted(ctx, limit, offset)
			if err != nil {
				return err
			}
			return printDeliveries(cmd, deliveries, total, asJSON)
		},
	}
	cmd.Flags().IntP("limit", "n", 50, "Maximum results")
	cmd.Flags().Int("offset", 0, "Results to skip")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func printDeliveries(cmd *cobra.Command, deliveries []domain.WebhookDelivery, total int64, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"total": total, "deliveries": deliveries})
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMERCHANT\tINTENT\tEVENT\tATTEMPTS\tLAST CODE\tLAST ERROR\tCREATED")
	for _, d := range deliveries {
		code := "-"
		if d.LastResponseCode != nil {
			code = fmt.Sprint(*d.LastResponseCode)
		}
		lastErr := "-"
		if d.LastError != nil {
			lastErr = *d.LastError
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			d.ID, d.MerchantID, d.PaymentIntentID, d.EventType, d.AttemptCount,
			code, lastErr, d.CreatedAt.UTC().Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d of %d exhausted deliveries\n", len(deliveries), total)
	return nil
}

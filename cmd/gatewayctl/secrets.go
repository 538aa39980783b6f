package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"crypto-payment-gateway/internal/service"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func secretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage deployment secrets",
	}
	cmd.AddCommand(secretsGenerateCmd())
	return cmd
}

func secretsGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a fresh set of deployment secrets",
		Long: `Generate the JWT secret, AES key and API key pepper for a new environment.
The values are printed once and are not stored anywhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			// The pepper only keys API key digests, which this command never computes.
			pepper := make([]byte, 32)
			if _, err := rand.Read(pepper); err != nil {
				return fmt.Errorf("reading entropy: %w", err)
			}
			vault, err := service.NewCredentialVault(hex.EncodeToString(pepper), nil, zerolog.Nop())
			if err != nil {
				return err
			}
			secrets, err := vault.GenerateProvisioningSecrets()
			if err != nil {
				return fmt.Errorf("generating secrets: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(secrets)
			}
			fmt.Fprintf(out, "CPG_JWT_SECRET=%s\n", secrets.JWTSecret)
			fmt.Fprintf(out, "CPG_AES_KEY=%s\n", secrets.AESKey)
			fmt.Fprintf(out, "CPG_VAULT_API_KEY_PEPPER=%s\n", secrets.APIKeyPepper)
			fmt.Fprintf(out, "# sample webhook secret for receiver tests: %s\n", secrets.WebhookSecret)
			return nil
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

// Command gatewayctl is the operator CLI: it provisions deployment secrets,
// mints operator tokens and inspects the webhook outbox.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operator tooling for the crypto payment gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "path to config file (defaults to ./config.yaml)")

	rootCmd.AddCommand(secretsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(deliveriesCmd())
	rootCmd.AddCommand(addressCmd())

	return rootCmd
}

package main

import (
	"fmt"

	"crypto-payment-gateway/internal/service"

	"github.com/spf13/cobra"
)

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Wallet address helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "normalize [address]",
		Short: "Print the EIP-55 checksummed form of a wallet address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := service.NormalizeWalletAddress(args[0])
			if err != nil {
				return fmt.Errorf("%q: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr)
			return nil
		},
	})
	return cmd
}

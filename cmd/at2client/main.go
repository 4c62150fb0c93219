// Package main provides at2client, the AT2 client CLI: mint a signing key,
// submit transfers, and query balances/sequences/recent transactions
// against a running at2node RPC server.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/at2-node/at2/internal/config"
)

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:   "at2client",
		Short: "AT2 client CLI",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.ClientFileName, "client config file path")

	rootCmd.AddCommand(newConfigCmd(&configPath))
	rootCmd.AddCommand(newSendAssetCmd(&configPath))
	rootCmd.AddCommand(newGetBalanceCmd(&configPath))
	rootCmd.AddCommand(newGetLastSequenceCmd(&configPath))
	rootCmd.AddCommand(newGetLatestTransactionsCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

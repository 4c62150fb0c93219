// Package main provides at2node, the AT2 broadcast/ledger daemon.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "at2node",
		Short: "AT2 asset-transfer node daemon",
	}
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the node version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/at2-node/at2/internal/config"
)

func newConfigCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "generate and inspect client configuration",
	}
	cmd.AddCommand(newConfigNewCmd(configPath))
	cmd.AddCommand(newConfigGetPublicKeyCmd(configPath))
	return cmd
}

// newConfigNewCmd mints a fresh Ed25519 account signing key and writes a
// client config pointing at rpc_uri, mirroring at2node's `config new`.
func newConfigNewCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "new <rpc_uri>",
		Short: "generate a new signing key and client config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return fmt.Errorf("generate signing key: %w", err)
			}

			cfg := &config.ClientConfig{
				RPCAddress: args[0],
				SignKey:    hex.EncodeToString(priv.Seed()),
			}
			if err := cfg.Save(*configPath); err != nil {
				return fmt.Errorf("save client config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", *configPath)
			return nil
		},
	}
}

// newConfigGetPublicKeyCmd prints this client's account public key (its
// AccountId), the value to hand to counterparties as a transfer recipient.
func newConfigGetPublicKeyCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get-public-key",
		Short: "print this client's account public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadClient(*configPath)
			if err != nil {
				return fmt.Errorf("load client config: %w", err)
			}
			pub, err := accountPublicKey(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "0x"+hex.EncodeToString(pub))
			return nil
		},
	}
}

// accountPublicKey derives the Ed25519 public key backing cfg's signing seed.
func accountPublicKey(cfg *config.ClientConfig) (ed25519.PublicKey, error) {
	seed, err := hex.DecodeString(cfg.SignKey)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("client config sign_key: want %d-byte hex seed", ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey), nil
}

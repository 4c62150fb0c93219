package main

import (
	"bufio"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/at2-node/at2/internal/config"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "generate and inspect node configuration",
	}
	cmd.AddCommand(newConfigNewCmd())
	cmd.AddCommand(newConfigGetNodeCmd())
	return cmd
}

// newConfigNewCmd mints a fresh network identity and emits a complete
// at2node TOML config to stdout, an explicit, pipeable "new" subcommand
// rather than an implicit create-on-first-run.
func newConfigNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new <node_addr> <rpc_addr>",
		Short: "emit a fresh node config with a new identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := transport.GenerateIdentitySeed()
			if err != nil {
				return fmt.Errorf("generate identity: %w", err)
			}

			cfg := config.DefaultConfig()
			cfg.Addresses.Node = args[0]
			cfg.Addresses.RPC = args[1]
			cfg.Keys.Network = hex.EncodeToString(seed)

			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// nodeInfo is the JSON shape `config get-node` prints: enough for a peer
// operator to add this node to their own config's `nodes` list.
type nodeInfo struct {
	Address   string `json:"address"`
	PublicKey string `json:"public_key"`
}

// newConfigGetNodeCmd reads a config from stdin (the same "config on stdin"
// contract `run` uses) and prints this node's address and network public
// key for peering.
func newConfigGetNodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get-node",
		Short: "print this node's address and public key for peering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
			if err != nil {
				return fmt.Errorf("read config from stdin: %w", err)
			}
			var cfg config.Config
			if err := toml.Unmarshal(raw, &cfg); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}

			seed, err := hex.DecodeString(cfg.Keys.Network)
			if err != nil || len(seed) != ed25519.SeedSize {
				return fmt.Errorf("config keys.network: want %d-byte hex seed", ed25519.SeedSize)
			}
			nodeID, err := wire.NodeIDFromSeed(seed)
			if err != nil {
				return fmt.Errorf("derive node id: %w", err)
			}

			info := nodeInfo{Address: cfg.Addresses.Node, PublicKey: "0x" + hex.EncodeToString(nodeID[:])}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		},
	}
}

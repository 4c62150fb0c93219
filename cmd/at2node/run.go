package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/at2-node/at2/internal/config"
	"github.com/at2-node/at2/internal/service"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/pkg/logging"
)

// newRunCmd reads a node config from stdin and blocks: it wires the
// transport, broadcast pipeline, ledger/recent-log agents and RPC server
// into one running node and waits for SIGINT/SIGTERM.
func newRunCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "read a node config from stdin and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("log-level") {
				// Defer to the config file's log_level unless the flag was
				// given explicitly.
				logLevel = ""
			}
			return runNode(cmd.InOrStdin(), logLevel)
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func runNode(stdin io.Reader, logLevel string) error {
	raw, err := io.ReadAll(bufio.NewReader(stdin))
	if err != nil {
		return fmt.Errorf("read config from stdin: %w", err)
	}
	cfg := *config.DefaultConfig()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if logLevel == "" {
		logLevel = cfg.LogLevel
	}
	log := logging.New(&logging.Config{Level: logLevel, TimeFormat: time.TimeOnly})
	logging.SetDefault(log)

	seed, err := hex.DecodeString(cfg.Keys.Network)
	if err != nil {
		return fmt.Errorf("keys.network: invalid hex: %w", err)
	}

	listenAddr, err := multiaddr.NewMultiaddr(cfg.Addresses.Node)
	if err != nil {
		return fmt.Errorf("addresses.node: %w", err)
	}

	peers, err := service.DirectoryFromConfig(cfg.Nodes)
	if err != nil {
		return fmt.Errorf("nodes: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	host, err := transport.NewHost(ctx, seed, listenAddr, peers, cfg.ConnMgr.LowWater, cfg.ConnMgr.HighWater)
	if err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer host.Close()

	node, err := service.New(ctx, &cfg, host)
	if err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	defer node.Stop()

	if err := node.ListenRPC(cfg.Addresses.RPC); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}

	log.Info("at2node started", "node_addr", cfg.Addresses.Node, "rpc_addr", cfg.Addresses.RPC, "peers", len(peers))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	return nil
}

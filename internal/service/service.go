// Package service wires the broadcast pipeline, ledger, recent-transactions
// log, scheduler, and RPC surface into one running node.
package service

import (
	"context"
	"fmt"

	"github.com/at2-node/at2/internal/config"
	"github.com/at2-node/at2/internal/contagion"
	"github.com/at2-node/at2/internal/ledger"
	"github.com/at2-node/at2/internal/murmur"
	"github.com/at2-node/at2/internal/recentlog"
	"github.com/at2-node/at2/internal/rpc"
	"github.com/at2-node/at2/internal/sampling"
	"github.com/at2-node/at2/internal/scheduler"
	"github.com/at2-node/at2/internal/sieve"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/helpers"
	"github.com/at2-node/at2/pkg/logging"
	"github.com/multiformats/go-multiaddr"
)

// Node is a fully wired AT2 node: transport, the three broadcast layers,
// the ledger and recent-log actors, the scheduler, and the RPC server.
type Node struct {
	transport transport.Transport
	murmur    *murmur.Layer
	sieve     *sieve.Layer
	contagion *contagion.Layer
	ledger    *ledger.Agent
	recentLog *recentlog.Agent
	scheduler *scheduler.Agent
	rpcServer *rpc.Server

	log    *logging.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Node from cfg. t is the already-constructed Transport
// (a *transport.Host in production, an in-memory transport.Memory in
// tests), kept as a separate argument so tests never have to stand up real
// libp2p networking.
func New(ctx context.Context, cfg *config.Config, t transport.Transport) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	oracle := sampling.Oracle(sampling.AllPeersOracle{})
	if cfg.Thresholds.SampleSize > 0 {
		oracle = sampling.RandomSubsetOracle{}
	}
	k := cfg.Thresholds.SampleSize

	m, err := murmur.New(t, oracle, k)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("service: start murmur: %w", err)
	}
	sv, err := sieve.New(t, oracle, k, cfg.Thresholds.EchoThreshold)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("service: start sieve: %w", err)
	}
	ct, err := contagion.New(t, oracle, k, cfg.Thresholds.ReadyThreshold)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("service: start contagion: %w", err)
	}

	ledgerAgent := ledger.New()
	recentLogAgent := recentlog.New()
	schedulerAgent := scheduler.New(ctx, ct.Deliveries(), ledgerAgent, recentLogAgent)

	n := &Node{
		transport: t,
		murmur:    m,
		sieve:     sv,
		contagion: ct,
		ledger:    ledgerAgent,
		recentLog: recentLogAgent,
		scheduler: schedulerAgent,
		rpcServer: rpc.NewServer(),
		log:       logging.GetDefault().Component("service"),
		ctx:       ctx,
		cancel:    cancel,
	}

	go n.pumpMurmurToSieve()
	go n.pumpSieveToContagion()
	n.registerRPCHandlers()

	return n, nil
}

func (n *Node) pumpMurmurToSieve() {
	for p := range n.murmur.Deliveries() {
		n.sieve.Ingest(p)
	}
}

func (n *Node) pumpSieveToContagion() {
	for p := range n.sieve.Deliveries() {
		n.contagion.Ingest(p)
	}
}

// ListenRPC starts the RPC server on addr.
func (n *Node) ListenRPC(addr string) error {
	return n.rpcServer.Start(addr)
}

// Stop tears the node down: the RPC server, then the scheduler, ledger and
// recent-log actors, in that order so no in-flight request outlives its
// dependencies. The broadcast layers are not stopped here; they run until
// the transport closes their subscriptions.
func (n *Node) Stop() {
	n.rpcServer.Stop()
	n.cancel()
	n.scheduler.Stop()
	n.ledger.Stop()
	n.recentLog.Stop()
}

// DirectoryFromConfig converts a config's peer list into transport
// PeerEntry values, resolving each hex-encoded public key into a NodeID and
// each address string into a multiaddr.
func DirectoryFromConfig(peers []config.PeerConfig) ([]transport.PeerEntry, error) {
	out := make([]transport.PeerEntry, 0, len(peers))
	for _, p := range peers {
		raw, err := helpers.HexToBytes(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("service: peer public key: %w", err)
		}
		if len(raw) != len(wire.NodeID{}) {
			return nil, fmt.Errorf("service: peer public key: want %d bytes, got %d", len(wire.NodeID{}), len(raw))
		}
		var id wire.NodeID
		copy(id[:], raw)

		addr, err := multiaddr.NewMultiaddr(p.Address)
		if err != nil {
			return nil, fmt.Errorf("service: peer address %q: %w", p.Address, err)
		}
		out = append(out, transport.PeerEntry{ID: id, Addr: addr})
	}
	return out, nil
}

package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/logging"
)

// reconnectBaseBackoff/reconnectMaxBackoff bound the dial-retry schedule:
// exponential with a low cap, since peer reachability is latency-sensitive.
const (
	reconnectBaseBackoff = 1 * time.Second
	reconnectMaxBackoff  = 30 * time.Second
)

// PeerEntry is one directory row loaded from configuration.
type PeerEntry struct {
	ID   wire.NodeID
	Addr multiaddr.Multiaddr
}

// Host is the libp2p-backed Transport: a fixed directory of peers dialed at
// startup and kept connected by a background backoff loop, with one shared
// GossipSub instance backing every topic.
type Host struct {
	h      host.Host
	pubsub *pubsub.PubSub
	self   wire.NodeID

	directory map[wire.NodeID]peer.AddrInfo
	resolve   map[peer.ID]wire.NodeID

	log *logging.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHost builds a libp2p host identified by seed (an Ed25519 seed, doubling
// as both the libp2p identity and, via Ed25519PubToX25519, this node's
// published NodeID — see DESIGN.md for why a single Ed25519 identity backs
// both), listening on listenAddr, with peers as the full directory minus self.
// lowWater/highWater are the connection manager watermarks; zero values fall
// back to defaults sized for a small fixed directory.
func NewHost(ctx context.Context, seed []byte, listenAddr multiaddr.Multiaddr, peers []PeerEntry, lowWater, highWater int) (*Host, error) {
	privKey, err := identityFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	if lowWater <= 0 {
		lowWater = 32
	}
	if highWater <= lowWater {
		highWater = lowWater * 4
	}
	cm, err := connmgr.NewConnManager(lowWater, highWater, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("transport: connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddr),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		return nil, fmt.Errorf("transport: create libp2p host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithFloodPublish(true))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}

	raw, err := h.ID().ExtractPublicKey()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: extract own public key: %w", err)
	}
	rawPub, err := raw.Raw()
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: own public key bytes: %w", err)
	}
	var ownAccountID wire.AccountID
	copy(ownAccountID[:], rawPub)
	self, err := wire.Ed25519PubToX25519(ownAccountID)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: derive own node id: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	t := &Host{
		h:         h,
		pubsub:    ps,
		self:      self,
		directory: make(map[wire.NodeID]peer.AddrInfo, len(peers)),
		resolve:   make(map[peer.ID]wire.NodeID, len(peers)),
		log:       logging.GetDefault().Component("transport"),
		topics:    make(map[string]*pubsub.Topic),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	for _, p := range peers {
		if p.ID == self {
			continue
		}
		pi := peer.AddrInfo{Addrs: []multiaddr.Multiaddr{p.Addr}}
		t.directory[p.ID] = pi
		// PeerID is unknown until first connection; resolved lazily in dial().
	}

	go t.dialLoop()
	return t, nil
}

func identityFromSeed(seed []byte) (libp2pcrypto.PrivKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed: want %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	full := ed25519.NewKeyFromSeed(seed)
	return libp2pcrypto.UnmarshalEd25519PrivateKey(full)
}

// Self returns this node's NodeID.
func (t *Host) Self() wire.NodeID { return t.self }

// Peers returns the configured directory, excluding self.
func (t *Host) Peers() []wire.NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.NodeID, 0, len(t.directory))
	for id := range t.directory {
		out = append(out, id)
	}
	return out
}

// dialLoop connects to every directory peer and keeps retrying any that
// drop, with exponential backoff.
func (t *Host) dialLoop() {
	defer close(t.done)
	backoff := make(map[wire.NodeID]time.Duration)
	nextAttempt := make(map[wire.NodeID]time.Time)

	ticker := time.NewTicker(reconnectBaseBackoff)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			targets := make(map[wire.NodeID]peer.AddrInfo, len(t.directory))
			for id, pi := range t.directory {
				targets[id] = pi
			}
			t.mu.Unlock()

			for id, pi := range targets {
				if t.connected(id) {
					delete(backoff, id)
					delete(nextAttempt, id)
					continue
				}
				now := time.Now()
				if at, ok := nextAttempt[id]; ok && now.Before(at) {
					continue
				}
				wait, ok := backoff[id]
				if !ok {
					wait = reconnectBaseBackoff
				}
				go t.dial(id, pi)
				nextAttempt[id] = now.Add(wait)
				backoff[id] = nextBackoff(wait)
			}
		}
	}
}

func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > reconnectMaxBackoff {
		next = reconnectMaxBackoff
	}
	return next
}

func (t *Host) connected(id wire.NodeID) bool {
	t.mu.Lock()
	pi, ok := t.directory[id]
	t.mu.Unlock()
	if !ok || pi.ID == "" {
		return false
	}
	return t.h.Network().Connectedness(pi.ID) == network.Connected
}

func (t *Host) dial(id wire.NodeID, pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(t.ctx, 10*time.Second)
	defer cancel()

	if pi.ID == "" {
		// PeerID is taken from the address's embedded /p2p component, if
		// present; an address without one leaves the PeerID empty, and the
		// Connect below fails and is retried on the next backoff.
		if resolved, err := peer.AddrInfoFromP2pAddr(pi.Addrs[0]); err == nil {
			pi = *resolved
		}
	}

	if err := t.h.Connect(ctx, pi); err != nil {
		t.log.Warn("peer dial failed, will retry", "node", id.String(), "error", err)
		return
	}

	t.mu.Lock()
	t.directory[id] = pi
	t.resolve[pi.ID] = id
	t.mu.Unlock()
	t.log.Info("connected to peer", "node", id.String())
}

// Publish broadcasts data on topic. recipients is advisory: GossipSub fans
// out to the topic's full mesh regardless, which matches the reference
// all-to-all sampling configuration this design defaults to.
func (t *Host) Publish(topic string, recipients []wire.NodeID, data []byte) error {
	top, err := t.joinTopic(topic)
	if err != nil {
		return err
	}
	if err := top.Publish(t.ctx, data); err != nil {
		return fmt.Errorf("transport: publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe returns a channel fed by every inbound publish on topic from any
// other directory node this host has dialed; publishes from peers whose
// NodeID has not been resolved by a successful dial are logged and dropped.
func (t *Host) Subscribe(topic string) (<-chan Message, error) {
	top, err := t.joinTopic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := top.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe %s: %w", topic, err)
	}

	out := make(chan Message, wire.CommandChannelDepth)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(t.ctx)
			if err != nil {
				return // context cancelled or subscription closed
			}
			if msg.ReceivedFrom == t.h.ID() {
				continue
			}
			t.mu.Lock()
			from, known := t.resolve[msg.ReceivedFrom]
			t.mu.Unlock()
			if !known {
				t.log.Warn("dropping message from unresolved peer", "peer", msg.ReceivedFrom.String())
				continue
			}
			select {
			case out <- Message{From: from, Data: msg.Data}:
			case <-t.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *Host) joinTopic(name string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if top, ok := t.topics[name]; ok {
		return top, nil
	}
	top, err := t.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("transport: join topic %s: %w", name, err)
	}
	t.topics[name] = top
	return top, nil
}

// Close shuts the transport down: the dial loop stops and the libp2p host closes.
func (t *Host) Close() error {
	t.cancel()
	<-t.done
	return t.h.Close()
}

// GenerateIdentitySeed produces a fresh Ed25519 seed suitable for NewHost,
// used by `at2node config new` to mint a node identity.
func GenerateIdentitySeed() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return priv.Seed(), nil
}

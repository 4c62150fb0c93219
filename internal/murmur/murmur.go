// Package murmur implements the first broadcast layer: flood a signed
// payload to a gossip sample, verify and dedup what arrives, and hand each
// first-seen payload downstream exactly once.
package murmur

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/at2-node/at2/internal/sampling"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/logging"
)

// Layer owns the seen-payload bookkeeping for the Murmur topic: a single
// goroutine reads Transport.Subscribe(MurmurTopic) and ingests what arrives,
// while Broadcast runs on the caller's goroutine; both write the dedup map,
// so mu guards it.
type Layer struct {
	t      transport.Transport
	oracle sampling.Oracle
	k      int
	log    *logging.Logger

	mu   sync.Mutex
	seen map[wire.PayloadKey]wire.Payload

	deliveries chan wire.Payload
	done       chan struct{}
}

// New starts a Murmur layer over t. k bounds the gossip sample size passed
// to oracle (ignored by sampling.AllPeersOracle).
func New(t transport.Transport, oracle sampling.Oracle, k int) (*Layer, error) {
	in, err := t.Subscribe(transport.MurmurTopic)
	if err != nil {
		return nil, err
	}
	l := &Layer{
		t:          t,
		oracle:     oracle,
		k:          k,
		log:        logging.GetDefault().Component("murmur"),
		seen:       make(map[wire.PayloadKey]wire.Payload),
		deliveries: make(chan wire.Payload, wire.CommandChannelDepth),
		done:       make(chan struct{}),
	}
	go l.run(in)
	return l, nil
}

// Deliveries yields each distinct, signature-valid payload exactly once.
func (l *Layer) Deliveries() <-chan wire.Payload { return l.deliveries }

func (l *Layer) run(in <-chan transport.Message) {
	defer close(l.done)
	defer close(l.deliveries)
	for msg := range in {
		var p wire.Payload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			l.log.Warn("dropping malformed murmur envelope", "from", msg.From.String(), "error", err)
			continue
		}
		l.ingest(p)
	}
}

func (l *Layer) ingest(p wire.Payload) {
	if !wire.Verify(p) {
		l.log.Warn("dropping murmur envelope with invalid signature", "sender", p.Sender.String(), "sequence", p.Sequence)
		return
	}

	key := p.Key()
	l.mu.Lock()
	if _, exists := l.seen[key]; exists {
		l.mu.Unlock()
		return
	}
	l.seen[key] = p
	l.mu.Unlock()

	l.deliveries <- p
	l.republish(p)
}

func (l *Layer) republish(p wire.Payload) {
	data, err := json.Marshal(p)
	if err != nil {
		l.log.Error("marshal payload for republish", "error", err)
		return
	}
	sample := l.oracle.GossipSample(l.t.Peers(), l.k)
	if err := l.t.Publish(transport.MurmurTopic, sample, data); err != nil {
		l.log.Warn("murmur republish failed", "error", err)
	}
}

// Broadcast floods an already-signed payload as this node's own, the entry
// point for a locally originated transfer. A payload whose signature does not
// verify is rejected before it is published or delivered locally.
func (l *Layer) Broadcast(p wire.Payload) error {
	if !wire.Verify(p) {
		return errors.New("murmur: payload signature is invalid")
	}

	l.mu.Lock()
	l.seen[p.Key()] = p
	l.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	sample := l.oracle.GossipSample(l.t.Peers(), l.k)
	if err := l.t.Publish(transport.MurmurTopic, sample, data); err != nil {
		return err
	}
	l.deliveries <- p
	return nil
}

// Wait blocks until the underlying subscription channel has drained and closed.
func (l *Layer) Wait() { <-l.done }

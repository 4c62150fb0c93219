// Package contagion wraps Sieve to guarantee totality: once any honest node
// Sieve-delivers a payload, every honest node eventually Contagion-delivers
// it too, by amplifying READY votes until a ready_threshold is reached.
package contagion

import (
	"encoding/json"
	"sync"

	"github.com/at2-node/at2/internal/sampling"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/logging"
)

// readyEnvelope is the wire shape published on ContagionReadyTopic: a vote,
// no payload bytes needed since the payload already reached every node that
// subscribes to Murmur/Sieve.
type readyEnvelope struct {
	Key wire.PayloadKey `json:"key"`
}

type keyState struct {
	payload   wire.Payload
	havePay   bool
	readies   map[wire.NodeID]struct{}
	delivered bool
}

// Layer tracks READY votes per key and emits the Sieve-delivered payload
// once ready_threshold distinct peers have voted for it.
type Layer struct {
	t         transport.Transport
	oracle    sampling.Oracle
	k         int
	threshold int
	log       *logging.Logger

	mu    sync.Mutex
	state map[wire.PayloadKey]*keyState

	deliveries chan wire.Payload
	done       chan struct{}
}

// New starts a Contagion layer. threshold is ready_threshold.
func New(t transport.Transport, oracle sampling.Oracle, k, threshold int) (*Layer, error) {
	in, err := t.Subscribe(transport.ContagionReadyTopic)
	if err != nil {
		return nil, err
	}
	l := &Layer{
		t:          t,
		oracle:     oracle,
		k:          k,
		threshold:  threshold,
		log:        logging.GetDefault().Component("contagion"),
		state:      make(map[wire.PayloadKey]*keyState),
		deliveries: make(chan wire.Payload, wire.CommandChannelDepth),
		done:       make(chan struct{}),
	}
	go l.run(in)
	return l, nil
}

// Deliveries yields each Contagion-delivered payload exactly once. Order
// across distinct senders is unspecified; this is a fan-in of whatever
// order READY thresholds are reached in.
func (l *Layer) Deliveries() <-chan wire.Payload { return l.deliveries }

func (l *Layer) run(in <-chan transport.Message) {
	defer close(l.done)
	defer close(l.deliveries)
	for msg := range in {
		var env readyEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			l.log.Warn("dropping malformed ready envelope", "from", msg.From.String(), "error", err)
			continue
		}
		l.recordReady(msg.From, env.Key)
	}
}

// Ingest is called with every payload Sieve delivers: this node casts its
// own READY vote and amplifies it to the ready sample. No READY-of-READY
// relaying is performed; each node amplifies only its own Sieve-deliveries.
func (l *Layer) Ingest(p wire.Payload) {
	key := p.Key()

	l.mu.Lock()
	st, exists := l.state[key]
	if !exists {
		st = &keyState{readies: make(map[wire.NodeID]struct{})}
		l.state[key] = st
	}
	st.payload = p
	st.havePay = true
	st.readies[l.t.Self()] = struct{}{}
	l.mu.Unlock()

	l.publishReady(key)
	l.checkThreshold(key)
}

func (l *Layer) recordReady(from wire.NodeID, key wire.PayloadKey) {
	l.mu.Lock()
	st, exists := l.state[key]
	if !exists {
		st = &keyState{readies: make(map[wire.NodeID]struct{})}
		l.state[key] = st
	}
	st.readies[from] = struct{}{}
	l.mu.Unlock()

	l.checkThreshold(key)
}

func (l *Layer) checkThreshold(key wire.PayloadKey) {
	l.mu.Lock()
	st, ok := l.state[key]
	if !ok || st.delivered || !st.havePay || len(st.readies) < l.threshold {
		l.mu.Unlock()
		return
	}
	st.delivered = true
	payload := st.payload
	l.mu.Unlock()

	l.deliveries <- payload
}

func (l *Layer) publishReady(key wire.PayloadKey) {
	data, err := json.Marshal(readyEnvelope{Key: key})
	if err != nil {
		l.log.Error("marshal ready envelope", "error", err)
		return
	}
	sample := l.oracle.ReadySample(l.t.Peers(), l.k)
	if err := l.t.Publish(transport.ContagionReadyTopic, sample, data); err != nil {
		l.log.Warn("contagion ready publish failed", "error", err)
	}
}

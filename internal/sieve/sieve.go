// Package sieve implements the echo-consistency broadcast layer: it
// re-publishes what Murmur first delivers, counts agreeing echoes from
// other nodes, and refuses to ever deliver a key where it has seen two
// conflicting payloads (a faulty sender).
package sieve

import (
	"bytes"
	"encoding/json"
	"sync"

	"github.com/at2-node/at2/internal/sampling"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
	"github.com/at2-node/at2/pkg/logging"
)

// echoEnvelope is the wire shape published on SieveEchoTopic: the echoing
// node vouches for exactly these payload bytes for this key.
type echoEnvelope struct {
	Key     wire.PayloadKey `json:"key"`
	Payload wire.Payload    `json:"payload"`
}

type keyState struct {
	payload   wire.Payload
	raw       []byte
	echoes    map[wire.NodeID][]byte
	conflict  bool
	delivered bool
}

// noteConflicts marks the key faulty if any two observed byte strings for it
// disagree — our own first-seen payload included, but also echoes that arrive
// before it. Callers hold the layer mutex.
func (st *keyState) noteConflicts(log *logging.Logger, key wire.PayloadKey) {
	if st.conflict {
		return
	}
	reference := st.raw
	for _, echoed := range st.echoes {
		if len(reference) == 0 {
			reference = echoed
			continue
		}
		if !bytes.Equal(reference, echoed) {
			st.conflict = true
			log.Warn("conflicting echoes observed, suppressing delivery", "sender", key.Sender.String(), "sequence", key.Sequence)
			return
		}
	}
}

// Layer tracks per-key echo state. All mutation happens on the single
// goroutine reading the echo subscription plus the caller goroutine calling
// Ingest, both serialized by mu.
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

// New starts a Sieve layer. threshold is echo_threshold: the number of
// distinct peers that must echo identical payload bytes for a key before
// this node Sieve-delivers it.
func New(t transport.Transport, oracle sampling.Oracle, k, threshold int) (*Layer, error) {
	in, err := t.Subscribe(transport.SieveEchoTopic)
	if err != nil {
		return nil, err
	}
	l := &Layer{
		t:          t,
		oracle:     oracle,
		k:          k,
		threshold:  threshold,
		log:        logging.GetDefault().Component("sieve"),
		state:      make(map[wire.PayloadKey]*keyState),
		deliveries: make(chan wire.Payload, wire.CommandChannelDepth),
		done:       make(chan struct{}),
	}
	go l.run(in)
	return l, nil
}

// Deliveries yields each Sieve-delivered payload exactly once.
func (l *Layer) Deliveries() <-chan wire.Payload { return l.deliveries }

func (l *Layer) run(in <-chan transport.Message) {
	defer close(l.done)
	defer close(l.deliveries)
	for msg := range in {
		var env echoEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			l.log.Warn("dropping malformed echo envelope", "from", msg.From.String(), "error", err)
			continue
		}
		l.recordEcho(msg.From, env)
	}
}

// Ingest is called with every payload Murmur first delivers: Sieve
// re-publishes the exact bytes it first saw and starts tallying echoes
// (including its own, since this node has also "seen" the payload).
func (l *Layer) Ingest(p wire.Payload) {
	raw, err := json.Marshal(p)
	if err != nil {
		l.log.Error("marshal payload for echo", "error", err)
		return
	}
	key := p.Key()

	l.mu.Lock()
	st, exists := l.state[key]
	if !exists {
		st = &keyState{echoes: make(map[wire.NodeID][]byte)}
		l.state[key] = st
	}
	// A provisional entry may already exist if an echo from another node
	// raced ahead of our own Murmur delivery on the independent echo topic;
	// always claim the payload bytes and register our own echo here, never
	// only on first creation, or this key can never clear len(st.raw) == 0.
	st.payload = p
	st.raw = raw
	st.echoes[l.t.Self()] = raw
	st.noteConflicts(l.log, key)
	l.mu.Unlock()

	l.publishEcho(key, p)
	l.checkThreshold(key)
}

func (l *Layer) recordEcho(from wire.NodeID, env echoEnvelope) {
	raw, err := json.Marshal(env.Payload)
	if err != nil {
		return
	}

	l.mu.Lock()
	st, exists := l.state[env.Key]
	if !exists {
		// Echo arrived before our own Murmur delivery for this key; track it
		// provisionally so it still counts once we catch up via Ingest.
		st = &keyState{echoes: make(map[wire.NodeID][]byte)}
		l.state[env.Key] = st
	}
	st.echoes[from] = raw
	st.noteConflicts(l.log, env.Key)
	l.mu.Unlock()

	l.checkThreshold(env.Key)
}

func (l *Layer) checkThreshold(key wire.PayloadKey) {
	l.mu.Lock()
	st, ok := l.state[key]
	if !ok || st.conflict || st.delivered || len(st.raw) == 0 {
		l.mu.Unlock()
		return
	}
	agree := 0
	for _, echoed := range st.echoes {
		if bytes.Equal(echoed, st.raw) {
			agree++
		}
	}
	if agree < l.threshold {
		l.mu.Unlock()
		return
	}
	st.delivered = true
	payload := st.payload
	l.mu.Unlock()

	l.deliveries <- payload
}

func (l *Layer) publishEcho(key wire.PayloadKey, p wire.Payload) {
	env := echoEnvelope{Key: key, Payload: p}
	data, err := json.Marshal(env)
	if err != nil {
		l.log.Error("marshal echo envelope", "error", err)
		return
	}
	sample := l.oracle.EchoSample(l.t.Peers(), l.k)
	if err := l.t.Publish(transport.SieveEchoTopic, sample, data); err != nil {
		l.log.Warn("sieve echo publish failed", "error", err)
	}
}

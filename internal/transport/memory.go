package transport

import "github.com/at2-node/at2/internal/wire"

// Network is a shared in-memory bus connecting a set of Memory transports.
// It exists purely for unit testing Murmur/Sieve/Contagion against a real
// Transport without dialing out to libp2p.
type Network struct {
	nodes map[wire.NodeID]*Memory
}

// NewNetwork creates an empty in-memory network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[wire.NodeID]*Memory)}
}

// Memory is an in-process Transport implementation: Publish fans out
// synchronously (via a buffered per-subscriber channel) to every other
// node currently registered on the same Network.
type Memory struct {
	net  *Network
	self wire.NodeID
	subs map[string][]chan Message
}

// Join registers a new node with id on the network and returns its Transport.
func (n *Network) Join(id wire.NodeID) *Memory {
	m := &Memory{net: n, self: id, subs: make(map[string][]chan Message)}
	n.nodes[id] = m
	return m
}

func (m *Memory) Self() wire.NodeID { return m.self }

func (m *Memory) Peers() []wire.NodeID {
	out := make([]wire.NodeID, 0, len(m.net.nodes))
	for id := range m.net.nodes {
		if id != m.self {
			out = append(out, id)
		}
	}
	return out
}

// Publish delivers data to the subscribed channels of every node in
// recipients (other than self); an empty recipients list is a no-op, matching
// a Publish with the reference AllPeersOracle's zero-peer single-node case.
func (m *Memory) Publish(topic string, recipients []wire.NodeID, data []byte) error {
	for _, id := range recipients {
		if id == m.self {
			continue
		}
		peer, ok := m.net.nodes[id]
		if !ok {
			continue
		}
		msg := Message{From: m.self, Data: append([]byte(nil), data...)}
		for _, ch := range peer.subs[topic] {
			ch <- msg
		}
	}
	return nil
}

func (m *Memory) Subscribe(topic string) (<-chan Message, error) {
	ch := make(chan Message, 256)
	m.subs[topic] = append(m.subs[topic], ch)
	return ch, nil
}

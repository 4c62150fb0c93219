// Package transport provides the authenticated, encrypted peer channels the
// broadcast layers run over: a fixed peer directory dialed at startup,
// reconnected with backoff on failure, and three GossipSub topics, one per
// concern (Murmur payloads, Sieve echoes, Contagion readies).
package transport

import "github.com/at2-node/at2/internal/wire"

// Topic names for the three broadcast layers sharing one Transport.
const (
	MurmurTopic         = "/at2/murmur/1.0.0"
	SieveEchoTopic      = "/at2/sieve/echo/1.0.0"
	ContagionReadyTopic = "/at2/contagion/ready/1.0.0"
)

// Message is an inbound publish on a subscribed topic.
type Message struct {
	From wire.NodeID
	Data []byte
}

// Transport is the black-box "authenticated, encrypted peer channel"
// capability C3/C4/C5 build on: publish to a topic's full directory sample,
// and receive everything anyone (including this node, filtered out by the
// implementation) has published to a topic.
type Transport interface {
	// Self returns this node's own NodeID.
	Self() wire.NodeID
	// Peers returns the directory of all other known nodes.
	Peers() []wire.NodeID
	// Publish broadcasts data on topic to the given recipients.
	Publish(topic string, recipients []wire.NodeID, data []byte) error
	// Subscribe returns a channel of inbound messages for topic. The channel
	// is closed when the transport is stopped.
	Subscribe(topic string) (<-chan Message, error)
}

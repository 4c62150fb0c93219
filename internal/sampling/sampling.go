// Package sampling selects the gossip/echo/ready peer subsets Murmur, Sieve,
// and Contagion broadcast to. The reference oracle samples the full peer
// set; the pluggable random-subset oracle is the documented long-term design.
package sampling

import (
	"math/rand/v2"

	"github.com/at2-node/at2/internal/wire"
)

// Oracle selects the peer subsets used for gossip, echo, and ready fan-out.
// k is advisory: AllPeersOracle ignores it.
type Oracle interface {
	GossipSample(peers []wire.NodeID, k int) []wire.NodeID
	EchoSample(peers []wire.NodeID, k int) []wire.NodeID
	ReadySample(peers []wire.NodeID, k int) []wire.NodeID
}

// AllPeersOracle is the reference configuration: k = |network|, all-to-all,
// giving deterministic liveness at small scale.
type AllPeersOracle struct{}

func (AllPeersOracle) GossipSample(peers []wire.NodeID, _ int) []wire.NodeID { return clone(peers) }
func (AllPeersOracle) EchoSample(peers []wire.NodeID, _ int) []wire.NodeID   { return clone(peers) }
func (AllPeersOracle) ReadySample(peers []wire.NodeID, _ int) []wire.NodeID  { return clone(peers) }

// RandomSubsetOracle draws k distinct peers uniformly at random for each
// sample. It is an extension point, not the default: substituting it changes
// the echo/ready thresholds a deployment needs to stay live.
type RandomSubsetOracle struct{}

func (RandomSubsetOracle) GossipSample(peers []wire.NodeID, k int) []wire.NodeID {
	return randomSubset(peers, k)
}
func (RandomSubsetOracle) EchoSample(peers []wire.NodeID, k int) []wire.NodeID {
	return randomSubset(peers, k)
}
func (RandomSubsetOracle) ReadySample(peers []wire.NodeID, k int) []wire.NodeID {
	return randomSubset(peers, k)
}

func randomSubset(peers []wire.NodeID, k int) []wire.NodeID {
	if k >= len(peers) || k < 0 {
		return clone(peers)
	}
	shuffled := clone(peers)
	rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:k]
}

func clone(peers []wire.NodeID) []wire.NodeID {
	out := make([]wire.NodeID, len(peers))
	copy(out, peers)
	return out
}

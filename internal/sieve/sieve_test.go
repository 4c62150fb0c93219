package sieve

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/at2-node/at2/internal/sampling"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
)

func signed(t *testing.T, seq wire.Sequence) wire.Payload {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var recipient wire.AccountID
	recipient[0] = 9
	p, err := wire.Sign(priv, seq, wire.Transaction{Recipient: recipient, Amount: 100})
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return p
}

func nodeID(b byte) wire.NodeID {
	var n wire.NodeID
	n[0] = b
	return n
}

func recv(t *testing.T, ch <-chan wire.Payload) (wire.Payload, bool) {
	t.Helper()
	select {
	case p, ok := <-ch:
		return p, ok
	case <-time.After(500 * time.Millisecond):
		return wire.Payload{}, false
	}
}

func TestThreeNodeEchoThresholdDelivers(t *testing.T) {
	net := transport.NewNetwork()
	tA := net.Join(nodeID(1))
	tB := net.Join(nodeID(2))
	tC := net.Join(nodeID(3))

	lA, err := New(tA, sampling.AllPeersOracle{}, 0, 3)
	if err != nil {
		t.Fatalf("New lA: %v", err)
	}
	lB, err := New(tB, sampling.AllPeersOracle{}, 0, 3)
	if err != nil {
		t.Fatalf("New lB: %v", err)
	}
	lC, err := New(tC, sampling.AllPeersOracle{}, 0, 3)
	if err != nil {
		t.Fatalf("New lC: %v", err)
	}

	p := signed(t, 1)
	lA.Ingest(p)
	lB.Ingest(p)
	lC.Ingest(p)

	for _, l := range []*Layer{lA, lB, lC} {
		got, ok := recv(t, l.Deliveries())
		if !ok {
			t.Fatal("expected delivery, got none")
		}
		if got.Key() != p.Key() {
			t.Fatalf("delivered key mismatch")
		}
	}
}

func TestConflictingEchoesSuppressDelivery(t *testing.T) {
	net := transport.NewNetwork()
	tA := net.Join(nodeID(1))
	tB := net.Join(nodeID(2))

	lA, err := New(tA, sampling.AllPeersOracle{}, 0, 2)
	if err != nil {
		t.Fatalf("New lA: %v", err)
	}
	lB, err := New(tB, sampling.AllPeersOracle{}, 0, 2)
	if err != nil {
		t.Fatalf("New lB: %v", err)
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var r1, r2 wire.AccountID
	r1[0], r2[0] = 9, 10
	p1, _ := wire.Sign(priv, 1, wire.Transaction{Recipient: r1, Amount: 100})
	p2, _ := wire.Sign(priv, 1, wire.Transaction{Recipient: r2, Amount: 200})

	// Both payloads share (sender, sequence) but differ in content: an
	// equivocating sender. A observes p1 first, B observes p2 first.
	lA.Ingest(p1)
	lB.Ingest(p2)

	if _, ok := recv(t, lA.Deliveries()); ok {
		t.Fatal("expected no delivery on A after conflicting echoes")
	}
	if _, ok := recv(t, lB.Deliveries()); ok {
		t.Fatal("expected no delivery on B after conflicting echoes")
	}
}

func TestConflictingEchoesBeforeLocalDeliverySuppress(t *testing.T) {
	net := transport.NewNetwork()
	tA := net.Join(nodeID(1))
	tB := net.Join(nodeID(2))
	tC := net.Join(nodeID(3))

	lA, err := New(tA, sampling.AllPeersOracle{}, 0, 2)
	if err != nil {
		t.Fatalf("New lA: %v", err)
	}
	lB, err := New(tB, sampling.AllPeersOracle{}, 0, 2)
	if err != nil {
		t.Fatalf("New lB: %v", err)
	}
	lC, err := New(tC, sampling.AllPeersOracle{}, 0, 2)
	if err != nil {
		t.Fatalf("New lC: %v", err)
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var r1, r2 wire.AccountID
	r1[0], r2[0] = 9, 10
	p1, _ := wire.Sign(priv, 1, wire.Transaction{Recipient: r1, Amount: 100})
	p2, _ := wire.Sign(priv, 1, wire.Transaction{Recipient: r2, Amount: 200})

	// A sees two disagreeing echoes for the key before its own Murmur
	// delivery arrives; the slot is faulty and must stay suppressed even
	// after A catches up and echoes its own variant.
	lB.Ingest(p1)
	lC.Ingest(p2)
	time.Sleep(50 * time.Millisecond)
	lA.Ingest(p1)

	if _, ok := recv(t, lA.Deliveries()); ok {
		t.Fatal("expected no delivery on A after echoes conflicted before local delivery")
	}
}

func TestBelowThresholdNeverDelivers(t *testing.T) {
	net := transport.NewNetwork()
	tA := net.Join(nodeID(1))
	tB := net.Join(nodeID(2))

	lA, err := New(tA, sampling.AllPeersOracle{}, 0, 5)
	if err != nil {
		t.Fatalf("New lA: %v", err)
	}
	_, err = New(tB, sampling.AllPeersOracle{}, 0, 5)
	if err != nil {
		t.Fatalf("New lB: %v", err)
	}

	p := signed(t, 1)
	lA.Ingest(p)

	if _, ok := recv(t, lA.Deliveries()); ok {
		t.Fatal("expected no delivery below threshold")
	}
}

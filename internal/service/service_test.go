package service

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/at2-node/at2/internal/config"
	"github.com/at2-node/at2/internal/transport"
	"github.com/at2-node/at2/internal/wire"
)

// threeNodeCluster wires three in-memory-transport nodes into one fully
// connected network with full-membership echo/ready thresholds, the
// all-to-all configuration small deployments run.
func threeNodeCluster(t *testing.T) (a, b, c *Node) {
	t.Helper()
	net := transport.NewNetwork()

	var idA, idB, idC wire.NodeID
	idA[0], idB[0], idC[0] = 1, 2, 3
	tA, tB, tC := net.Join(idA), net.Join(idB), net.Join(idC)

	cfg := config.DefaultConfig()
	cfg.Thresholds.EchoThreshold = 3
	cfg.Thresholds.ReadyThreshold = 3

	ctx := context.Background()
	var err error
	a, err = New(ctx, cfg, tA)
	if err != nil {
		t.Fatalf("New node A: %v", err)
	}
	b, err = New(ctx, cfg, tB)
	if err != nil {
		t.Fatalf("New node B: %v", err)
	}
	c, err = New(ctx, cfg, tC)
	if err != nil {
		t.Fatalf("New node C: %v", err)
	}
	t.Cleanup(func() { a.Stop(); b.Stop(); c.Stop() })
	return a, b, c
}

func sendAsset(t *testing.T, n *Node, priv ed25519.PrivateKey, seq wire.Sequence, recipient wire.AccountID, amount uint64) {
	t.Helper()
	payload, err := wire.Sign(priv, seq, wire.Transaction{Recipient: recipient, Amount: amount})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := json.Marshal(SendAssetParams{
		Sender:    payload.Sender,
		Sequence:  payload.Sequence,
		Recipient: payload.Tx.Recipient,
		Amount:    payload.Tx.Amount,
		Signature: "0x" + hex.EncodeToString(payload.Signature[:]),
	})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	if _, err := n.handleSendAsset(context.Background(), raw); err != nil {
		t.Fatalf("handleSendAsset: %v", err)
	}
}

func pollBalance(t *testing.T, n *Node, account wire.AccountID, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last uint64
	for time.Now().Before(deadline) {
		bal, err := n.ledger.GetBalance(account)
		if err != nil {
			t.Fatalf("GetBalance: %v", err)
		}
		last = bal
		if bal == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("balance never reached %d, last observed %d", want, last)
}

func pollSequence(t *testing.T, n *Node, account wire.AccountID, want wire.Sequence) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	var last wire.Sequence
	for time.Now().Before(deadline) {
		seq, err := n.ledger.GetLastSequence(account)
		if err != nil {
			t.Fatalf("GetLastSequence: %v", err)
		}
		last = seq
		if seq == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sequence never reached %d, last observed %d", want, last)
}

// S1: a fresh account, queried on any node, reports InitialBalance.
func TestS1_BootAndQueryAcrossCluster(t *testing.T) {
	a, b, c := threeNodeCluster(t)
	var fresh wire.AccountID
	fresh[0] = 0xee

	for _, n := range []*Node{a, b, c} {
		bal, err := n.ledger.GetBalance(fresh)
		if err != nil {
			t.Fatalf("GetBalance: %v", err)
		}
		if bal != wire.InitialBalance {
			t.Fatalf("balance = %d, want %d", bal, wire.InitialBalance)
		}
	}
}

// S2: a transfer submitted at node A propagates through Murmur/Sieve/
// Contagion and is applied identically at every honest node.
func TestS2_SimpleTransferPropagatesToEveryNode(t *testing.T) {
	a, b, c := threeNodeCluster(t)

	_, privA, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var senderA wire.AccountID
	copy(senderA[:], privA.Public().(ed25519.PublicKey))
	var recipientB wire.AccountID
	recipientB[0] = 0x42

	sendAsset(t, a, privA, 1, recipientB, 10)

	for _, n := range []*Node{a, b, c} {
		pollBalance(t, n, senderA, wire.InitialBalance-10)
		pollBalance(t, n, recipientB, wire.InitialBalance+10)
		pollSequence(t, n, senderA, 1)
	}
}

// S3: seq=2 is submitted (and may complete Contagion) before seq=1, but
// every node still applies seq=1 to the ledger first.
func TestS3_OutOfOrderDeliveryReconciledAtEveryNode(t *testing.T) {
	a, b, c := threeNodeCluster(t)

	_, privA, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var senderA wire.AccountID
	copy(senderA[:], privA.Public().(ed25519.PublicKey))
	var recipientB wire.AccountID
	recipientB[0] = 0x42

	// Submit seq=2 first, at a different node than seq=1, matching the
	// scenario's "near-simultaneous" submission at distinct entry points.
	sendAsset(t, b, privA, 2, recipientB, 7)
	sendAsset(t, a, privA, 1, recipientB, 5)

	for _, n := range []*Node{a, b, c} {
		pollBalance(t, n, senderA, wire.InitialBalance-12)
		pollBalance(t, n, recipientB, wire.InitialBalance+12)
		pollSequence(t, n, senderA, 2)
	}
}

// S4: replaying an already-applied sequence is rejected by RecentLog's
// fail-closed Put before it ever reaches the ledger.
func TestS4_DuplicatePutRejectedBeforeBroadcast(t *testing.T) {
	a, _, _ := threeNodeCluster(t)

	_, privA, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var recipientB wire.AccountID
	recipientB[0] = 0x42

	sendAsset(t, a, privA, 1, recipientB, 5)

	payload, err := wire.Sign(privA, 1, wire.Transaction{Recipient: recipientB, Amount: 5})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := json.Marshal(SendAssetParams{
		Sender: payload.Sender, Sequence: payload.Sequence, Recipient: payload.Tx.Recipient,
		Amount: payload.Tx.Amount, Signature: "0x" + hex.EncodeToString(payload.Signature[:]),
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := a.handleSendAsset(context.Background(), raw); err == nil {
		t.Fatal("expected duplicate Put to be rejected, got nil error")
	}
}

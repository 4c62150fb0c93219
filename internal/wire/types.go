// Package wire defines the AT2 data model: accounts, transactions, and the
// signed payload that flows through Murmur/Sieve/Contagion to the ledger.
package wire

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Initial balance materialized for an account on first reference.
const InitialBalance = 100000

// Bound on the recent-transactions FIFO.
const LatestMax = 10

// TransactionTTL bounds how long the scheduler retries an inconsecutive delivery.
const TransactionTTL = 60 * time.Second

// CommandChannelDepth is the bounded depth of every actor's command channel.
const CommandChannelDepth = 32

// AccountID is an Ed25519 signing public key.
type AccountID [32]byte

// NodeID is an X25519 network-layer public key.
type NodeID [32]byte

// Sequence is a per-sender monotone transaction counter. Valid sequences start at 1.
type Sequence uint64

func (a AccountID) String() string { return "0x" + hex.EncodeToString(a[:]) }
func (n NodeID) String() string    { return "0x" + hex.EncodeToString(n[:]) }

// MarshalJSON encodes the account ID as a 0x-prefixed hex string.
func (a AccountID) MarshalJSON() ([]byte, error) { return json.Marshal(a.String()) }

// UnmarshalJSON decodes a 0x-prefixed hex string into the account ID.
func (a *AccountID) UnmarshalJSON(data []byte) error {
	b, err := unmarshalFixedHex(data, len(a))
	if err != nil {
		return fmt.Errorf("account id: %w", err)
	}
	copy(a[:], b)
	return nil
}

// MarshalJSON encodes the node ID as a 0x-prefixed hex string.
func (n NodeID) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }

// UnmarshalJSON decodes a 0x-prefixed hex string into the node ID.
func (n *NodeID) UnmarshalJSON(data []byte) error {
	b, err := unmarshalFixedHex(data, len(n))
	if err != nil {
		return fmt.Errorf("node id: %w", err)
	}
	copy(n[:], b)
	return nil
}

func unmarshalFixedHex(data []byte, n int) ([]byte, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("want %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// Account is the per-owner ledger row: monotone sequence counter plus balance.
type Account struct {
	LastSequence Sequence `json:"last_sequence"`
	Balance      uint64   `json:"balance"`
}

// Transaction is the thin, signed request body: move Amount to Recipient.
type Transaction struct {
	Recipient AccountID `json:"recipient"`
	Amount    uint64    `json:"amount"`
}

// Payload is the signed wire envelope Murmur gossips between nodes.
type Payload struct {
	Sender    AccountID   `json:"sender"`
	Sequence  Sequence    `json:"sequence"`
	Tx        Transaction `json:"tx"`
	Signature [64]byte    `json:"signature"`
}

// MarshalJSON encodes the signature as a hex string; the rest follow their own marshalers.
func (p Payload) MarshalJSON() ([]byte, error) {
	type alias struct {
		Sender    AccountID   `json:"sender"`
		Sequence  Sequence    `json:"sequence"`
		Tx        Transaction `json:"tx"`
		Signature string      `json:"signature"`
	}
	return json.Marshal(alias{p.Sender, p.Sequence, p.Tx, "0x" + hex.EncodeToString(p.Signature[:])})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type alias struct {
		Sender    AccountID   `json:"sender"`
		Sequence  Sequence    `json:"sequence"`
		Tx        Transaction `json:"tx"`
		Signature string      `json:"signature"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	sig, err := unmarshalFixedHex([]byte(`"`+a.Signature+`"`), len(p.Signature))
	if err != nil {
		return fmt.Errorf("payload signature: %w", err)
	}
	p.Sender, p.Sequence, p.Tx = a.Sender, a.Sequence, a.Tx
	copy(p.Signature[:], sig)
	return nil
}

// Key returns the (sender, sequence) slot this payload occupies.
func (p Payload) Key() PayloadKey { return PayloadKey{Sender: p.Sender, Sequence: p.Sequence} }

// SigningBytes returns the canonical byte string a Payload's signature covers:
// big-endian sequence, recipient, big-endian amount.
func (t Transaction) SigningBytes(seq Sequence) []byte {
	buf := make([]byte, 8+32+8)
	binary.BigEndian.PutUint64(buf[0:8], uint64(seq))
	copy(buf[8:40], t.Recipient[:])
	binary.BigEndian.PutUint64(buf[40:48], t.Amount)
	return buf
}

// PayloadKey is the (sender, sequence) pair identifying a transaction slot,
// used as a map and heap key throughout Murmur/Sieve/Contagion/the scheduler.
type PayloadKey struct {
	Sender   AccountID
	Sequence Sequence
}

// TxState is the lifecycle state of a FullTransaction record.
type TxState int

const (
	StatePending TxState = iota
	StateSuccess
	StateFailure
)

func (s TxState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FullTransaction is the observability record the RecentLog tracks.
type FullTransaction struct {
	Timestamp      time.Time `json:"timestamp"`
	Sender         AccountID `json:"sender"`
	SenderSequence Sequence  `json:"sender_sequence"`
	Recipient      AccountID `json:"recipient"`
	Amount         uint64    `json:"amount"`
	State          TxState   `json:"state"`
}

// Key returns the (sender, sequence) slot this record was created for.
func (f FullTransaction) Key() PayloadKey {
	return PayloadKey{Sender: f.Sender, Sequence: f.SenderSequence}
}

// fullTransactionWire is the external record shape: RFC3339 timestamp,
// small-integer state code.
type fullTransactionWire struct {
	Timestamp      string    `json:"timestamp"`
	Sender         AccountID `json:"sender"`
	SenderSequence Sequence  `json:"sender_sequence"`
	Recipient      AccountID `json:"recipient"`
	Amount         uint64    `json:"amount"`
	State          int       `json:"state"`
}

// MarshalJSON encodes the timestamp as RFC3339 and state as its small int code.
func (f FullTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(fullTransactionWire{
		Timestamp:      f.Timestamp.UTC().Format(time.RFC3339),
		Sender:         f.Sender,
		SenderSequence: f.SenderSequence,
		Recipient:      f.Recipient,
		Amount:         f.Amount,
		State:          int(f.State),
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (f *FullTransaction) UnmarshalJSON(data []byte) error {
	var w fullTransactionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return fmt.Errorf("full transaction timestamp: %w", err)
	}
	f.Timestamp = ts
	f.Sender = w.Sender
	f.SenderSequence = w.SenderSequence
	f.Recipient = w.Recipient
	f.Amount = w.Amount
	f.State = TxState(w.State)
	return nil
}

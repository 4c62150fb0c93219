package wire

import (
	"crypto/ed25519"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// Sign signs a transaction at the given sequence with an Ed25519 private key
// and returns the completed, ready-to-broadcast Payload.
func Sign(priv ed25519.PrivateKey, seq Sequence, tx Transaction) (Payload, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Payload{}, fmt.Errorf("signing key: want %d bytes, got %d", ed25519.PrivateKeySize, len(priv))
	}
	var sender AccountID
	copy(sender[:], priv.Public().(ed25519.PublicKey))

	sig := ed25519.Sign(priv, tx.SigningBytes(seq))
	var sigArr [64]byte
	copy(sigArr[:], sig)

	return Payload{Sender: sender, Sequence: seq, Tx: tx, Signature: sigArr}, nil
}

// Verify reports whether p's signature is valid over (Sequence, Tx) under p.Sender.
func Verify(p Payload) bool {
	return ed25519.Verify(ed25519.PublicKey(p.Sender[:]), p.Tx.SigningBytes(p.Sequence), p.Signature[:])
}

// Ed25519PrivToX25519 converts an Ed25519 seed to its X25519 (Montgomery)
// private scalar, so one Ed25519 identity key also has a Curve25519
// counterpart.
func Ed25519PrivToX25519(seed []byte) ([32]byte, error) {
	var out [32]byte
	if len(seed) < 32 {
		return out, fmt.Errorf("ed25519 seed: want at least 32 bytes, got %d", len(seed))
	}
	h := sha512.Sum512(seed[:32])
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	copy(out[:], h[:32])
	return out, nil
}

// Ed25519PubToX25519 converts an Ed25519 public key (an Edwards point) to its
// X25519 (Montgomery u-coordinate) counterpart.
func Ed25519PubToX25519(pub AccountID) (NodeID, error) {
	var out NodeID
	point, err := new(edwards25519.Point).SetBytes(pub[:])
	if err != nil {
		return out, fmt.Errorf("invalid ed25519 public key: %w", err)
	}
	copy(out[:], point.BytesMontgomery())
	return out, nil
}

// NodeIDFromSeed derives the NodeID published for an Ed25519 identity seed:
// the X25519 public key of the seed's converted private scalar. Equal to
// Ed25519PubToX25519 of the seed's Ed25519 public key, without needing the
// Edwards point at all, which is what key-only tooling (config get-node) uses.
func NodeIDFromSeed(seed []byte) (NodeID, error) {
	var out NodeID
	scalar, err := Ed25519PrivToX25519(seed)
	if err != nil {
		return out, err
	}
	pub, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return out, fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(out[:], pub)
	return out, nil
}

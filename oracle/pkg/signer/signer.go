// Package signer holds the oracle's signing key for the life of the process.
package signer

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer is immutable after construction and safe for concurrent use.
type Signer struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// Load reads a solana-keygen JSON keypair file.
func Load(path string) (*Signer, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load oracle keypair from %s: %w", path, err)
	}
	return New(key)
}

func New(key solana.PrivateKey) (*Signer, error) {
	if len(key) != 64 {
		return nil, errors.New("oracle private key must be 64 bytes")
	}
	return &Signer{key: key, pub: key.PublicKey()}, nil
}

func (s *Signer) PublicKey() solana.PublicKey {
	return s.pub
}

// Sign produces a detached ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) (solana.Signature, error) {
	sig, err := s.key.Sign(payload)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

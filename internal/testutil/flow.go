package testutil

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/paystream/internal/engine"
)

// FixedTokenGenerator returns the same correlation token every time.
//
// This enables deterministic test execution and golden snapshot comparison.
// The same scenario with the same FixedTokenGenerator produces byte-identical
// event logs.
//
// Unlike engine.FixedGenerator which returns tokens in sequence, this
// generator always returns the same token.
//
// Thread-safety: FixedTokenGenerator is stateless and safe for concurrent use.
type FixedTokenGenerator struct {
	token string
}

var _ engine.TokenGenerator = (*FixedTokenGenerator)(nil)

// NewFixedTokenGenerator creates a generator for token. If token is empty,
// Generate() returns "test-token-default".
func NewFixedTokenGenerator(token string) *FixedTokenGenerator {
	if token == "" {
		token = "test-token-default"
	}
	return &FixedTokenGenerator{token: token}
}

// Generate returns the fixed token.
func (g *FixedTokenGenerator) Generate() string {
	return g.token
}

// Key returns a deterministic account address with every byte set to n.
func Key(n byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = n
	}
	return k
}

// NamedKey derives a stable address from a human-readable name, so that
// fixtures can refer to "alice" instead of raw bytes.
func NamedKey(name string) solana.PublicKey {
	sum := sha256.Sum256([]byte(name))
	return solana.PublicKeyFromBytes(sum[:])
}

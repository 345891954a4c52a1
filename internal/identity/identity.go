// Package identity loads or creates the node's long-term Ed25519 keypair,
// stored as a raw 32-byte seed on disk rather than PEM, matching the
// KeyFile convention described by config.IdentityConfig.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
)

// LoadOrCreate reads a 32-byte Ed25519 seed from path and expands it into a
// private key. If path does not exist, a new seed is generated and written
// with 0600 permissions before returning the derived key.
func LoadOrCreate(path string) (ed25519.PrivateKey, error) {
	seed, err := os.ReadFile(path)
	if err == nil {
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity: %s has %d bytes, want %d", path, len(seed), ed25519.SeedSize)
		}
		return ed25519.NewKeyFromSeed(seed), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("identity: read %s: %w", path, err)
	}

	seed = make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("identity: generate seed: %w", err)
	}
	if err := os.WriteFile(path, seed, 0o600); err != nil {
		return nil, fmt.Errorf("identity: write %s: %w", path, err)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

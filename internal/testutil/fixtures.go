package testutil

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/roach88/offpay/internal/signer"
	"github.com/roach88/offpay/internal/store"
)

// KeyPair returns a stable key pair derived from name, so signatures in
// tests and golden files do not change between runs.
func KeyPair(t testing.TB, name string) signer.KeyPair {
	t.Helper()
	seed := sha256.Sum256([]byte("offpay-test-key/" + name))
	kp, err := signer.KeyPairFromSeed(seed[:])
	if err != nil {
		t.Fatalf("derive key pair %q: %v", name, err)
	}
	return kp
}

// OpenStore opens a fresh wallet store in a temporary directory.
// The store is closed when the test ends.
func OpenStore(t testing.TB) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "wallet.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

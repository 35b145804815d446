// Package signer wraps Ed25519 key generation, signing and verification over
// canonical payloads, plus nonce generation.
//
// Every signature covers canon.Message(domain, payload), never raw JSON, so a
// payload re-encoded by another device verifies as long as its fields are equal.
// Keys are hex on the wire; signatures are unpadded base64url.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/roach88/offpay/internal/canon"
)

// NonceBytes is the nonce entropy: 128 bits, 32 hex characters.
const NonceBytes = 16

var sigEncoding = base64.RawURLEncoding

// KeyPair holds an Ed25519 key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a key pair from crypto/rand.
func GenerateKeypair() (KeyPair, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return KeyPair{}, fmt.Errorf("generate keypair: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed derives a key pair from a 32-byte seed.
// Used by tests that need stable signatures.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// PublicHex returns the hex-encoded public key.
func (k KeyPair) PublicHex() string {
	return hex.EncodeToString(k.Public)
}

// Sign signs the canonical message for payload under domain.
func Sign(domain string, payload any, priv ed25519.PrivateKey) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("sign: invalid private key length %d", len(priv))
	}
	msg, err := canon.Message(domain, payload)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return sigEncoding.EncodeToString(ed25519.Sign(priv, msg)), nil
}

// Verify reports whether sig is a valid signature of payload under domain by
// the hex-encoded public key. Any malformed input yields false.
func Verify(domain string, payload any, sig, publicKeyHex string) bool {
	pub, err := ParsePublicKey(publicKeyHex)
	if err != nil {
		return false
	}
	raw, err := sigEncoding.DecodeString(sig)
	if err != nil || len(raw) != ed25519.SignatureSize {
		return false
	}
	msg, err := canon.Message(domain, payload)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, raw)
}

// ParsePublicKey decodes a hex-encoded Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key: want %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// Nonce returns 128 bits of crypto/rand entropy, hex-encoded.
// Panics if the system CSPRNG fails, which leaves nothing safe to do.
func Nonce() string {
	b := make([]byte, NonceBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(fmt.Sprintf("signer: read random nonce: %v", err))
	}
	return hex.EncodeToString(b)
}

// ValidNonce reports whether s has the shape produced by Nonce.
func ValidNonce(s string) bool {
	if len(s) != 2*NonceBytes {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

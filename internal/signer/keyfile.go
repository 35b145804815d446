package signer

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// keyFile is the on-disk layout of a device key.
type keyFile struct {
	PublicKey string `json:"public_key"`
	Seed      string `json:"seed"`
}

// SaveKeyFile writes the key pair to path with owner-only permissions.
// Refuses to overwrite an existing file.
func SaveKeyFile(path string, kp KeyPair) error {
	data, err := json.MarshalIndent(keyFile{
		PublicKey: kp.PublicHex(),
		Seed:      hex.EncodeToString(kp.Private.Seed()),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("save key file: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("save key file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("save key file: %w", err)
	}
	return f.Close()
}

// LoadKeyFile reads a key pair written by SaveKeyFile and checks that the
// stored public key matches the seed.
func LoadKeyFile(path string) (KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return KeyPair{}, fmt.Errorf("load key file: %w", err)
	}
	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return KeyPair{}, fmt.Errorf("load key file: %w", err)
	}
	seed, err := hex.DecodeString(kf.Seed)
	if err != nil || len(seed) != ed25519.SeedSize {
		return KeyPair{}, fmt.Errorf("load key file: malformed seed")
	}
	kp, err := KeyPairFromSeed(seed)
	if err != nil {
		return KeyPair{}, fmt.Errorf("load key file: %w", err)
	}
	if kp.PublicHex() != kf.PublicKey {
		return KeyPair{}, fmt.Errorf("load key file: public key does not match seed")
	}
	return kp, nil
}

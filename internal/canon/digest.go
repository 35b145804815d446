package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for signatures and derived identifiers.
// The version suffix allows a future encoding migration.
const (
	DomainRequest  = "offpay/request/v1"
	DomainReceipt  = "offpay/receipt/v1"
	DomainClientTx = "offpay/client-tx/v1"
)

// Message returns the exact byte string that is signed for a payload:
// domain + 0x00 + canonical JSON. The null separator prevents
// domain/data boundary ambiguity.
func Message(domain string, payload any) ([]byte, error) {
	data, err := MarshalCanonical(payload)
	if err != nil {
		return nil, fmt.Errorf("canonical message: %w", err)
	}
	msg := make([]byte, 0, len(domain)+1+len(data))
	msg = append(msg, domain...)
	msg = append(msg, 0x00)
	return append(msg, data...), nil
}

// Digest computes hex(SHA-256(domain + 0x00 + data)).
func Digest(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// DigestOf canonicalizes payload and digests it under domain.
func DigestOf(domain string, payload any) (string, error) {
	data, err := MarshalCanonical(payload)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", domain, err)
	}
	return Digest(domain, data), nil
}

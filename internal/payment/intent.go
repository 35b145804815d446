package payment

import (
	"regexp"
	"strings"
)

// IntentCode is the structured purpose of a payment.
type IntentCode string

const (
	IntentP2P      IntentCode = "P2P"
	IntentMerchant IntentCode = "MERCHANT"
	IntentBill     IntentCode = "BILL"
	IntentTransfer IntentCode = "TRANSFER"
	IntentOther    IntentCode = "OTHER"
)

const (
	maxLabelLen      = 64
	maxMetadataKeys  = 16
	maxMetadataValue = 256
)

var (
	metadataKeyRe = regexp.MustCompile(`^[a-z0-9_.-]{1,32}$`)
	addressRe     = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}@[A-Za-z0-9.-]{1,64}$`)
)

// Intent pairs a known purpose code with a display label.
type Intent struct {
	Code  IntentCode `json:"code"`
	Label string     `json:"label"`
}

// Validate rejects unknown codes and oversized labels.
func (i Intent) Validate() error {
	switch i.Code {
	case IntentP2P, IntentMerchant, IntentBill, IntentTransfer, IntentOther:
	default:
		return Errorf(KindValidation, "unknown intent code %q", i.Code)
	}
	if len(i.Label) > maxLabelLen {
		return Errorf(KindValidation, "intent label longer than %d bytes", maxLabelLen)
	}
	return nil
}

// Metadata is the open extension map carried alongside a payment.
type Metadata map[string]string

// Validate bounds the map so it cannot smuggle arbitrary payloads.
func (m Metadata) Validate() error {
	if len(m) > maxMetadataKeys {
		return Errorf(KindValidation, "metadata has %d keys, max %d", len(m), maxMetadataKeys)
	}
	for k, v := range m {
		if !metadataKeyRe.MatchString(k) {
			return Errorf(KindValidation, "invalid metadata key %q", k)
		}
		if len(v) > maxMetadataValue {
			return Errorf(KindValidation, "metadata value for %q longer than %d bytes", k, maxMetadataValue)
		}
	}
	return nil
}

// ValidateAddress checks the entity@domain payment address shape.
func ValidateAddress(addr string) error {
	if !addressRe.MatchString(strings.TrimSpace(addr)) || addr != strings.TrimSpace(addr) {
		return Errorf(KindValidation, "invalid payment address %q", addr)
	}
	return nil
}

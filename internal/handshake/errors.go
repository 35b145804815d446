package handshake

import (
	"errors"
	"fmt"

	"github.com/roach88/offpay/internal/payment"
)

// Reason enumerates why a handshake message was refused.
type Reason string

const (
	ReasonExpired          Reason = "expired"
	ReasonInvalidSignature Reason = "invalid_signature"
	ReasonForgedReceipt    Reason = "forged_receipt"
	ReasonInvalidAmount    Reason = "invalid_amount"
	ReasonInvalidProtocol  Reason = "invalid_protocol"
	ReasonMalformed        Reason = "malformed"
)

// VerificationError describes a refused handshake message.
type VerificationError struct {
	Reason Reason
	Detail string
}

func (e *VerificationError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// kind maps a reason onto the payment error taxonomy.
func (e *VerificationError) kind() payment.Kind {
	switch e.Reason {
	case ReasonExpired:
		return payment.KindExpired
	case ReasonInvalidAmount, ReasonMalformed:
		return payment.KindValidation
	default:
		return payment.KindSignature
	}
}

func refuse(reason Reason, format string, args ...any) error {
	v := &VerificationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
	return &payment.Error{Kind: v.kind(), Step: "handshake", Err: v}
}

// ReasonOf extracts the refusal reason from err, or "".
func ReasonOf(err error) Reason {
	var v *VerificationError
	if errors.As(err, &v) {
		return v.Reason
	}
	return ""
}

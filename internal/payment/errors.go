package payment

import (
	"errors"
	"fmt"
)

// Kind categorizes payment errors. Callers branch on Kind, never on message text.
type Kind string

const (
	// KindValidation: malformed input, the caller's fault, never retried as-is.
	KindValidation Kind = "validation"

	// KindPolicy: a limit was exceeded. Retryable after user action.
	KindPolicy Kind = "policy_violation"

	// KindDuplicateNonce: replay or double submit. Never retried with the same nonce.
	KindDuplicateNonce Kind = "duplicate_nonce"

	// KindSignature: handshake verification failed. The exchange must restart.
	KindSignature Kind = "signature"

	// KindDurability: the local store failed to write or verify.
	KindDurability Kind = "durability"

	// KindSyncRejection: the server authoritatively rejected the record.
	KindSyncRejection Kind = "sync_rejection"

	// KindExpired: a deadline passed. Terminal.
	KindExpired Kind = "expired"
)

// Error is the typed error returned across component boundaries.
//
// Step names the commit step that failed (for diagnostics and logs only);
// it must not be shown to end users. Use UserMessage for that.
type Error struct {
	Kind    Kind
	Step    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Step != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Step, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf creates an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and step to err. An err that already carries a Kind
// keeps it; only the step is filled in when missing.
func Wrap(kind Kind, step string, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		out := *pe
		if out.Step == "" {
			out.Step = step
		}
		return &out
	}
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf returns the Kind of err, or "" if err is not a payment error.
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err is a payment error of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// StepOf returns the failed step recorded on err, if any.
func StepOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Step
	}
	return ""
}

// UserMessage renders err for end users. Policy and expiry failures are
// specific and actionable; cryptographic, replay and storage failures are
// generic so no key material or internals leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *Error
	if !errors.As(err, &pe) {
		return "Something went wrong. Please try again."
	}
	switch pe.Kind {
	case KindPolicy:
		return pe.Message
	case KindExpired:
		return "This payment has expired. Ask the payee for a new request."
	case KindValidation:
		return "The payment details are invalid."
	case KindSignature:
		return "This payment cannot be verified."
	case KindDuplicateNonce:
		return "This payment has already been recorded."
	case KindSyncRejection:
		return "The payment was declined by the server."
	default:
		return "The payment could not be saved on this device."
	}
}

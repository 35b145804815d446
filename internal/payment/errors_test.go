package payment

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := &Error{Kind: KindDurability, Step: "persist", Message: "read-back mismatch"}
	assert.Equal(t, "durability at persist: read-back mismatch", err.Error())

	err = &Error{Kind: KindPolicy, Message: "exceeds per-transaction limit of 500"}
	assert.Equal(t, "policy_violation: exceeds per-transaction limit of 500", err.Error())

	cause := errors.New("disk full")
	err = &Error{Kind: KindDurability, Step: "journal", Err: cause}
	assert.Equal(t, "durability at journal: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestKindHelpersSeeThroughWrapping(t *testing.T) {
	base := Errorf(KindDuplicateNonce, "nonce already used")
	wrapped := fmt.Errorf("commit: %w", base)

	assert.True(t, IsKind(wrapped, KindDuplicateNonce))
	assert.False(t, IsKind(wrapped, KindPolicy))
	assert.Equal(t, KindDuplicateNonce, KindOf(wrapped))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindPolicy))
}

func TestWrapKeepsExistingKind(t *testing.T) {
	err := Wrap(KindDurability, "persist", Errorf(KindDuplicateNonce, "dup"))
	assert.Equal(t, KindDuplicateNonce, err.Kind)
	assert.Equal(t, "persist", err.Step)

	err = Wrap(KindDurability, "journal", errors.New("io"))
	assert.Equal(t, KindDurability, err.Kind)
	assert.Equal(t, "journal", StepOf(err))
}

func TestUserMessageNeverLeaksInternals(t *testing.T) {
	secret := "sig=deadbeef"
	tests := []struct {
		err      error
		contains string
	}{
		{Errorf(KindPolicy, "exceeds per-transaction limit of 500"), "per-transaction limit"},
		{Errorf(KindExpired, "request expired at %s", secret), "expired"},
		{&Error{Kind: KindSignature, Message: secret}, "cannot be verified"},
		{&Error{Kind: KindDuplicateNonce, Message: secret}, "already been recorded"},
		{&Error{Kind: KindDurability, Step: "persist", Message: secret}, "could not be saved"},
		{errors.New(secret), "Something went wrong"},
	}
	for _, tt := range tests {
		msg := UserMessage(tt.err)
		assert.Contains(t, msg, tt.contains)
		assert.NotContains(t, msg, secret)
		assert.NotContains(t, msg, "persist")
	}
	assert.Equal(t, "", UserMessage(nil))
}

package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequence(t *testing.T) {
	seq := NewSequence("pay")
	assert.Equal(t, "pay-0001", seq.NewID())
	assert.Equal(t, "pay-0002", seq.NewID())
}

func TestSequence_DefaultPrefix(t *testing.T) {
	assert.Equal(t, "tx-0001", NewSequence("").NewID())
}

func TestNonce(t *testing.T) {
	assert.Len(t, Nonce(7), 32)
	assert.Equal(t, "00000000000000000000000000000007", Nonce(7))
	assert.NotEqual(t, Nonce(1), Nonce(2))
}

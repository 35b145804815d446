package canon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestDeterminism(t *testing.T) {
	payload := Object{"nonce": "n-1", "payee": "shop@bank"}

	d1, err := DigestOf(DomainClientTx, payload)
	require.NoError(t, err)
	d2, err := DigestOf(DomainClientTx, Object{"payee": "shop@bank", "nonce": "n-1"})
	require.NoError(t, err)

	assert.Equal(t, d1, d2, "key order must not matter")
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestDigestDomainSeparation(t *testing.T) {
	data := []byte(`{"a":1}`)
	assert.NotEqual(t, Digest(DomainRequest, data), Digest(DomainReceipt, data))
}

func TestMessageLayout(t *testing.T) {
	msg, err := Message(DomainRequest, Object{"a": int64(1)})
	require.NoError(t, err)

	prefix := append([]byte(DomainRequest), 0x00)
	assert.True(t, bytes.HasPrefix(msg, prefix))
	assert.Equal(t, `{"a":1}`, string(msg[len(prefix):]))
}

func TestMessageRejectsInvalidPayload(t *testing.T) {
	_, err := Message(DomainRequest, Object{"amount": 1.0})
	require.Error(t, err)
}

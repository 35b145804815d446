package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validDraft() Draft {
	return Draft{
		ClientTxID:       "ctx-1",
		Nonce:            "00112233445566778899aabbccddeeff",
		Direction:        Outgoing,
		SenderAddress:    "alice@wallet",
		RecipientAddress: "shop@merchant",
		Amount:           200,
		Currency:         "NPR",
		Intent:           Intent{Code: IntentMerchant, Label: "Tea"},
		Metadata:         Metadata{"table": "4"},
		Signature:        "sig",
		IssuedAt:         time.UnixMilli(1_700_000_000_000),
		Payload:          SyncPayload{QRPayload: "{}", Signature: "sig", Nonce: "n", PublicKey: "pk"},
	}
}

func TestDraftValidate(t *testing.T) {
	assert.NoError(t, validDraft().Validate())

	tests := []struct {
		name   string
		mutate func(*Draft)
	}{
		{"zero amount", func(d *Draft) { d.Amount = 0 }},
		{"negative amount", func(d *Draft) { d.Amount = -5 }},
		{"missing nonce", func(d *Draft) { d.Nonce = "" }},
		{"missing client tx", func(d *Draft) { d.ClientTxID = "" }},
		{"bad direction", func(d *Draft) { d.Direction = "sideways" }},
		{"missing signature", func(d *Draft) { d.Signature = "" }},
		{"missing issued at", func(d *Draft) { d.IssuedAt = time.Time{} }},
		{"bad currency", func(d *Draft) { d.Currency = "RUPEES" }},
		{"bad sender", func(d *Draft) { d.SenderAddress = "not-an-address" }},
		{"self payment", func(d *Draft) { d.RecipientAddress = d.SenderAddress }},
		{"unknown intent", func(d *Draft) { d.Intent.Code = "GIFT" }},
		{"bad metadata key", func(d *Draft) { d.Metadata = Metadata{"Bad Key": "x"} }},
		{"empty payload", func(d *Draft) { d.Payload = SyncPayload{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(&d)
			err := d.Validate()
			assert.True(t, IsKind(err, KindValidation), "got %v", err)
		})
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("ram@upa"))
	assert.NoError(t, ValidateAddress("kathmandu.cafe_01@np.bank"))
	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress("ram"))
	assert.Error(t, ValidateAddress(" ram@upa"))
	assert.Error(t, ValidateAddress("ram@@upa"))
}

func TestFixedIDs(t *testing.T) {
	g := NewFixedIDs("a", "b")
	assert.Equal(t, "a", g.NewID())
	assert.Equal(t, "b", g.NewID())
	assert.Panics(t, func() { g.NewID() })
}

func TestUUIDv7Unique(t *testing.T) {
	var g UUIDv7
	a, b := g.NewID(), g.NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

package handshake

import (
	"github.com/roach88/offpay/internal/canon"
	"github.com/roach88/offpay/internal/payment"
)

// Protocol identity.
const (
	ProtocolID = "offpay"
	Version    = 1
)

// Phase distinguishes the two messages of the exchange.
type Phase string

const (
	PhaseRequest Phase = "request"
	PhaseReceipt Phase = "receipt"
)

// Request is the payee's signed payment request. Times are Unix milliseconds.
type Request struct {
	ProtocolID     string         `json:"protocolId"`
	Version        int            `json:"version"`
	Phase          Phase          `json:"phase"`
	PayeeAddress   string         `json:"payeeAddress"`
	PayeeName      string         `json:"payeeName"`
	PayeePublicKey string         `json:"payeePublicKey"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	Intent         payment.Intent `json:"intent"`
	Nonce          string         `json:"nonce"`
	IssuedAt       int64          `json:"issuedAt"`
	ExpiresAt      int64          `json:"expiresAt"`
	Signature      string         `json:"signature"`
}

// Signable returns the fields covered by the payee signature.
func (r Request) Signable() canon.Object {
	return canon.Object{
		"protocolId":     r.ProtocolID,
		"version":        r.Version,
		"phase":          string(r.Phase),
		"payeeAddress":   r.PayeeAddress,
		"payeeName":      r.PayeeName,
		"payeePublicKey": r.PayeePublicKey,
		"amount":         r.Amount,
		"currency":       r.Currency,
		"intent":         intentObject(r.Intent),
		"nonce":          r.Nonce,
		"issuedAt":       r.IssuedAt,
		"expiresAt":      r.ExpiresAt,
	}
}

func (r Request) object() canon.Object {
	obj := r.Signable()
	obj["signature"] = r.Signature
	return obj
}

// Receipt is the payer's signed approval of a Request.
type Receipt struct {
	ProtocolID      string         `json:"protocolId"`
	Version         int            `json:"version"`
	Phase           Phase          `json:"phase"`
	PayeeAddress    string         `json:"payeeAddress"`
	Amount          int64          `json:"amount"`
	Currency        string         `json:"currency"`
	Intent          payment.Intent `json:"intent"`
	OriginalRequest Request        `json:"originalRequest"`
	PayeeSignature  string         `json:"payeeSignature"`
	PayerAddress    string         `json:"payerAddress"`
	PayerName       string         `json:"payerName"`
	PayerPublicKey  string         `json:"payerPublicKey"`
	ApprovedAt      int64          `json:"approvedAt"`
	PayerNonce      string         `json:"payerNonce"`
	Signature       string         `json:"signature"`
}

// Signable returns the fields covered by the payer signature, including the
// complete signed request.
func (r Receipt) Signable() canon.Object {
	return canon.Object{
		"protocolId":      r.ProtocolID,
		"version":         r.Version,
		"phase":           string(r.Phase),
		"payeeAddress":    r.PayeeAddress,
		"amount":          r.Amount,
		"currency":        r.Currency,
		"intent":          intentObject(r.Intent),
		"originalRequest": r.OriginalRequest.object(),
		"payeeSignature":  r.PayeeSignature,
		"payerAddress":    r.PayerAddress,
		"payerName":       r.PayerName,
		"payerPublicKey":  r.PayerPublicKey,
		"approvedAt":      r.ApprovedAt,
		"payerNonce":      r.PayerNonce,
	}
}

func intentObject(i payment.Intent) canon.Object {
	return canon.Object{"code": string(i.Code), "label": i.Label}
}

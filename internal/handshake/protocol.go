package handshake

import (
	"time"

	"github.com/roach88/offpay/internal/canon"
	"github.com/roach88/offpay/internal/clock"
	"github.com/roach88/offpay/internal/payment"
	"github.com/roach88/offpay/internal/signer"
)

// DefaultTTL is how long a request stays payable.
const DefaultTTL = 5 * time.Minute

// Party is one side of the exchange.
type Party struct {
	Address string
	Name    string
	Keys    signer.KeyPair
}

// RequestParams describes the payment the payee asks for.
type RequestParams struct {
	Amount   int64
	Currency string
	Intent   payment.Intent
	// TTL defaults to DefaultTTL.
	TTL time.Duration
	// Nonce defaults to a fresh random nonce.
	Nonce string
}

// NewRequest builds and signs a payee request.
func NewRequest(params RequestParams, payee Party, now time.Time) (Request, error) {
	if params.Amount <= 0 {
		return Request{}, refuse(ReasonInvalidAmount, "amount %d must be positive", params.Amount)
	}
	if err := payment.ValidateAddress(payee.Address); err != nil {
		return Request{}, err
	}
	if err := params.Intent.Validate(); err != nil {
		return Request{}, err
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	n := params.Nonce
	if n == "" {
		n = signer.Nonce()
	}

	req := Request{
		ProtocolID:     ProtocolID,
		Version:        Version,
		Phase:          PhaseRequest,
		PayeeAddress:   payee.Address,
		PayeeName:      payee.Name,
		PayeePublicKey: payee.Keys.PublicHex(),
		Amount:         params.Amount,
		Currency:       params.Currency,
		Intent:         params.Intent,
		Nonce:          n,
		IssuedAt:       clock.Millis(now),
		ExpiresAt:      clock.Millis(now.Add(ttl)),
	}
	sig, err := signer.Sign(canon.DomainRequest, req.Signable(), payee.Keys.Private)
	if err != nil {
		return Request{}, err
	}
	req.Signature = sig
	return req, nil
}

// VerifyRequest checks a request on the payer device: protocol, phase,
// expiry (now <= expiresAt), amount, addressing and the payee signature.
func VerifyRequest(req Request, now time.Time) error {
	if err := checkRequestShape(req); err != nil {
		return err
	}
	if clock.Millis(now) > req.ExpiresAt {
		return refuse(ReasonExpired, "request expired at %d", req.ExpiresAt)
	}
	return checkRequestSignature(req)
}

func checkRequestShape(req Request) error {
	if req.ProtocolID != ProtocolID || req.Version != Version {
		return refuse(ReasonInvalidProtocol, "unsupported protocol %s/%d", req.ProtocolID, req.Version)
	}
	if req.Phase != PhaseRequest {
		return refuse(ReasonInvalidProtocol, "expected phase %q, got %q", PhaseRequest, req.Phase)
	}
	if req.Amount <= 0 {
		return refuse(ReasonInvalidAmount, "amount %d must be positive", req.Amount)
	}
	if req.ExpiresAt < req.IssuedAt {
		return refuse(ReasonMalformed, "expiresAt precedes issuedAt")
	}
	if !signer.ValidNonce(req.Nonce) {
		return refuse(ReasonMalformed, "bad nonce")
	}
	if err := payment.ValidateAddress(req.PayeeAddress); err != nil {
		return refuse(ReasonMalformed, "payee address: %v", err)
	}
	if err := req.Intent.Validate(); err != nil {
		return refuse(ReasonMalformed, "intent: %v", err)
	}
	return nil
}

func checkRequestSignature(req Request) error {
	if !signer.Verify(canon.DomainRequest, req.Signable(), req.Signature, req.PayeePublicKey) {
		return refuse(ReasonInvalidSignature, "payee signature does not verify")
	}
	return nil
}

// Approve verifies req and returns the payer's signed receipt.
func Approve(req Request, payer Party, now time.Time) (Receipt, error) {
	if err := VerifyRequest(req, now); err != nil {
		return Receipt{}, err
	}
	if err := payment.ValidateAddress(payer.Address); err != nil {
		return Receipt{}, err
	}
	if payer.Address == req.PayeeAddress {
		return Receipt{}, payment.Errorf(payment.KindValidation, "payer and payee must differ")
	}

	rcpt := Receipt{
		ProtocolID:      ProtocolID,
		Version:         Version,
		Phase:           PhaseReceipt,
		PayeeAddress:    req.PayeeAddress,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Intent:          req.Intent,
		OriginalRequest: req,
		PayeeSignature:  req.Signature,
		PayerAddress:    payer.Address,
		PayerName:       payer.Name,
		PayerPublicKey:  payer.Keys.PublicHex(),
		ApprovedAt:      clock.Millis(now),
		PayerNonce:      signer.Nonce(),
	}
	sig, err := signer.Sign(canon.DomainReceipt, rcpt.Signable(), payer.Keys.Private)
	if err != nil {
		return Receipt{}, err
	}
	rcpt.Signature = sig
	return rcpt, nil
}

// VerifyReceipt checks a receipt. The embedded request must carry a valid
// payee signature and agree with every copied field; if expected is non-nil
// the receipt must answer exactly that request. Finally the payer signature
// must verify. Expiry of the request itself is not re-checked: approval at
// or before expiresAt is what counts.
func VerifyReceipt(rcpt Receipt, expected *Request) error {
	if rcpt.ProtocolID != ProtocolID || rcpt.Version != Version || rcpt.Phase != PhaseReceipt {
		return refuse(ReasonInvalidProtocol, "not a %s/%d receipt", ProtocolID, Version)
	}
	req := rcpt.OriginalRequest
	if err := checkRequestShape(req); err != nil {
		return err
	}
	if err := checkRequestSignature(req); err != nil {
		return refuse(ReasonForgedReceipt, "embedded request signature does not verify")
	}
	if rcpt.PayeeSignature != req.Signature ||
		rcpt.PayeeAddress != req.PayeeAddress ||
		rcpt.Amount != req.Amount ||
		rcpt.Currency != req.Currency ||
		rcpt.Intent != req.Intent {
		return refuse(ReasonForgedReceipt, "receipt fields differ from the signed request")
	}
	if expected != nil && (expected.Nonce != req.Nonce || expected.Signature != req.Signature) {
		return refuse(ReasonForgedReceipt, "receipt answers a different request")
	}
	if rcpt.ApprovedAt > req.ExpiresAt {
		return refuse(ReasonExpired, "approved at %d after expiry %d", rcpt.ApprovedAt, req.ExpiresAt)
	}
	if !signer.ValidNonce(rcpt.PayerNonce) || rcpt.PayerNonce == req.Nonce {
		return refuse(ReasonMalformed, "bad payer nonce")
	}
	if err := payment.ValidateAddress(rcpt.PayerAddress); err != nil {
		return refuse(ReasonMalformed, "payer address: %v", err)
	}
	if !signer.Verify(canon.DomainReceipt, rcpt.Signable(), rcpt.Signature, rcpt.PayerPublicKey) {
		return refuse(ReasonInvalidSignature, "payer signature does not verify")
	}
	return nil
}

// ClientTxID derives the idempotency key both devices share for a payment.
func ClientTxID(req Request) string {
	return canon.Digest(canon.DomainClientTx, []byte(req.Nonce+req.PayeeAddress))
}

// DraftFor turns a verified receipt into a commit draft for the payer
// (Outgoing) or the payee (Incoming). Each device uses its own nonce and
// signature so the two local ledgers stay independent.
func DraftFor(rcpt Receipt, direction payment.Direction) (payment.Draft, error) {
	encoded, err := Encode(rcpt)
	if err != nil {
		return payment.Draft{}, err
	}
	req := rcpt.OriginalRequest
	d := payment.Draft{
		ClientTxID:       ClientTxID(req),
		Direction:        direction,
		SenderAddress:    rcpt.PayerAddress,
		RecipientAddress: rcpt.PayeeAddress,
		Amount:           rcpt.Amount,
		Currency:         rcpt.Currency,
		Intent:           rcpt.Intent,
		IssuedAt:         clock.FromMillis(req.IssuedAt),
		Payload:          payment.SyncPayload{QRPayload: encoded},
	}
	switch direction {
	case payment.Outgoing:
		d.Nonce = rcpt.PayerNonce
		d.Signature = rcpt.Signature
		d.CounterSignature = rcpt.PayeeSignature
		d.Payload.PublicKey = rcpt.PayerPublicKey
	case payment.Incoming:
		d.Nonce = req.Nonce
		d.Signature = rcpt.PayeeSignature
		d.CounterSignature = rcpt.Signature
		d.Payload.PublicKey = req.PayeePublicKey
	default:
		return payment.Draft{}, payment.Errorf(payment.KindValidation, "unknown direction %q", direction)
	}
	d.Payload.Nonce = d.Nonce
	d.Payload.Signature = d.Signature
	return d, nil
}

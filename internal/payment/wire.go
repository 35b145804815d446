package payment

// SyncPayload is one record of a sync submission. QRPayload is the encoded
// dual-signed receipt; Signature, Nonce and PublicKey identify the submitting
// device's side of it.
type SyncPayload struct {
	QRPayload string `json:"qrPayload"`
	Signature string `json:"signature"`
	Nonce     string `json:"nonce"`
	PublicKey string `json:"publicKey"`
}

// Validate checks that every field is present.
func (p SyncPayload) Validate() error {
	switch {
	case p.QRPayload == "":
		return Errorf(KindValidation, "sync payload is empty")
	case p.Signature == "":
		return Errorf(KindValidation, "sync payload signature is empty")
	case p.Nonce == "":
		return Errorf(KindValidation, "sync payload nonce is empty")
	case p.PublicKey == "":
		return Errorf(KindValidation, "sync payload public key is empty")
	}
	return nil
}

// OutcomeStatus is the server's verdict for one sync record.
type OutcomeStatus string

const (
	OutcomeSettled  OutcomeStatus = "settled"
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeFailed is transient: the record stays queued and is retried.
	OutcomeFailed OutcomeStatus = "failed"
)

// Server rejection reasons with client-side meaning.
const (
	ReasonExpired = "expired"
)

// SyncOutcome is positionally aligned with the submitted SyncPayload.
type SyncOutcome struct {
	TxID   *string       `json:"txId"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// OfflineAccept is the early, best-effort record of an offline acceptance.
// The server is idempotent on ClientTxID.
type OfflineAccept struct {
	ClientTxID        string `json:"client_tx_id"`
	Nonce             string `json:"nonce"`
	SenderAddress     string `json:"senderAddress"`
	ReceiverAddress   string `json:"receiverAddress"`
	Amount            int64  `json:"amount"`
	Intent            Intent `json:"intent"`
	AcceptedAt        int64  `json:"acceptedAt"`
	ExpiresAt         int64  `json:"expiresAt"`
	SenderSignature   string `json:"senderSignature"`
	ReceiverSignature string `json:"receiverSignature"`
	SenderDeviceID    string `json:"senderDeviceId"`
	ReceiverDeviceID  string `json:"receiverDeviceId"`
	Proof             string `json:"proof"`
}

// Validate checks the acceptance record at the server boundary.
func (a OfflineAccept) Validate() error {
	switch {
	case a.ClientTxID == "":
		return Errorf(KindValidation, "client_tx_id is required")
	case a.Nonce == "":
		return Errorf(KindValidation, "nonce is required")
	case a.Amount <= 0:
		return Errorf(KindValidation, "amount must be positive")
	case a.SenderSignature == "" || a.ReceiverSignature == "":
		return Errorf(KindValidation, "both signatures are required")
	case a.AcceptedAt <= 0 || a.ExpiresAt <= 0:
		return Errorf(KindValidation, "acceptedAt and expiresAt are required")
	}
	if err := ValidateAddress(a.SenderAddress); err != nil {
		return err
	}
	if err := ValidateAddress(a.ReceiverAddress); err != nil {
		return err
	}
	return a.Intent.Validate()
}

// OfflineAcceptResult is the server's reply to an OfflineAccept.
type OfflineAcceptResult struct {
	Success    bool   `json:"success"`
	Status     string `json:"status"`
	ClientTxID string `json:"client_tx_id"`
	TxID       string `json:"tx_id,omitempty"`
}

package handshake

import (
	"bytes"
	"encoding/json"
)

// Encode renders a request or receipt as compact JSON text, suitable for an
// optical code.
func Encode(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", refuse(ReasonMalformed, "encode: %v", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DecodeRequest parses an encoded request. Unknown fields are refused.
func DecodeRequest(s string) (Request, error) {
	var req Request
	if err := decodeStrict(s, &req); err != nil {
		return Request{}, err
	}
	if req.Phase != PhaseRequest {
		return Request{}, refuse(ReasonInvalidProtocol, "expected phase %q, got %q", PhaseRequest, req.Phase)
	}
	return req, nil
}

// DecodeReceipt parses an encoded receipt. Unknown fields are refused.
func DecodeReceipt(s string) (Receipt, error) {
	var rcpt Receipt
	if err := decodeStrict(s, &rcpt); err != nil {
		return Receipt{}, err
	}
	if rcpt.Phase != PhaseReceipt {
		return Receipt{}, refuse(ReasonInvalidProtocol, "expected phase %q, got %q", PhaseReceipt, rcpt.Phase)
	}
	return rcpt, nil
}

func decodeStrict(s string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return refuse(ReasonMalformed, "decode: %v", err)
	}
	if dec.More() {
		return refuse(ReasonMalformed, "trailing data")
	}
	return nil
}

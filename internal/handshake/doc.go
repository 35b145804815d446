// Package handshake implements the two-phase signed exchange that lets a
// payer and a payee agree on a payment with no network between them.
//
// The payee issues a signed Request. The payer verifies it and answers with
// a Receipt that embeds the request and the payee's signature, signed by the
// payer. The payee verifies the receipt against the request it issued. Both
// devices then hold the same dual-signed artifact and commit it locally.
//
// Signatures cover the RFC 8785 canonical JSON of every field except the
// signature itself, prefixed by a domain tag (see package canon).
package handshake

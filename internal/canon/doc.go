// Package canon provides the frozen canonical encoding used for every signed
// or hashed offpay payload.
//
// Encoding rules (RFC 8785 subset):
//   - Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//   - No insignificant whitespace
//   - No HTML escaping (< > & are emitted literally)
//   - Strings are NFC normalized
//   - No floats, no nulls: amounts are int64 minor units and times are
//     Unix milliseconds
//
// Digests use SHA-256 with domain separation: SHA256(domain + 0x00 + data).
// canon imports nothing internal.
package canon

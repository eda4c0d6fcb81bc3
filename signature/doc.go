// Package signature verifies Ed25519 detached signatures on plugins and
// other content.
//
// A signed file "p.so" has a JSON sidecar "p.so.sig" carrying the base64
// signature and the SHA-256 fingerprint of the signing key. The Verifier
// looks the fingerprint up in a TrustStore and applies its policy: whether a
// signature is required and whether unsigned or unknown-key content may load
// with a warning. Distrusted keys and bad signatures are always rejected.
package signature

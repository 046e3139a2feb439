// Package cryptoutils provides the cryptographic primitives shared by the
// key hierarchy: memory-hard password-based key derivation (argon2id) and
// authenticated encryption (XChaCha20-Poly1305) with caller-held nonces.
//
// The package is deliberately thin. It performs no persistence and holds no
// state; key lifecycle and storage decisions belong to the kms package and
// its callers. All functions are safe for concurrent use.
package cryptoutils

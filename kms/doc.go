// Package kms implements the envelope-encryption key hierarchy protecting
// vault content.
//
// The hierarchy has two levels. A master key is derived from the owner's
// secret with argon2id and exists only in memory for the duration of an
// operation; it is never persisted or logged. Each vault item has its own
// random content key (CEK) that encrypts the item bytes; the CEK is wrapped
// (encrypted) under the master key and only the wrapped form is stored.
//
// Possession of the correct secret is verified through a proof: at
// initialization a fixed tag is sealed under the freshly derived key, and
// Restore re-derives the key and opens the proof. A failed open means the
// wrong secret and is reported as interfaces.ErrAuthenticationFailed with no
// further detail; the AEAD's constant-time tag check prevents timing
// oracles about where the mismatch occurred.
//
// All functions are pure: callers persist salt records and wrapped keys
// through interfaces.KeyMaterialStore and zeroize key buffers with
// cryptoutils.Zero when done.
package kms

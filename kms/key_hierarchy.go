package kms

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/heirloomvault/custody-backend/cryptoutils"
	"github.com/heirloomvault/custody-backend/interfaces"
)

// proofTag is the fixed plaintext sealed under a freshly derived master key.
// Part of the stored-data compatibility surface.
const proofTag = "heirloom/master-key-proof/v1"

// AAD contexts bind each ciphertext to its role in the hierarchy so a
// wrapped CEK can never be opened as content or vice versa.
const (
	aadProof   = "mk-proof"
	aadCEKWrap = "cek-wrap"
	aadContent = "content"
)

// ContentKeySize is the size of a per-item content key.
const ContentKeySize = 32

// Proof is the persistable result of initializing an owner's key hierarchy:
// the KDF salt plus the sealed proof tag. It contains no key material.
type Proof struct {
	Salt       []byte
	Ciphertext []byte
	IV         []byte
}

// Wrapped is an AEAD ciphertext with its nonce, used both for wrapped
// content keys and for encrypted content bytes.
type Wrapped struct {
	Ciphertext []byte
	IV         []byte
}

// DeriveMasterKey derives the owner's master key from their secret and
// stored salt. Deterministic; CPU and memory bound. The caller owns the
// returned buffer and must zeroize it after use.
func DeriveMasterKey(secret, salt []byte) ([]byte, error) {
	return cryptoutils.DeriveKey(secret, salt)
}

// Initialize sets up the key hierarchy for a new owner: generates a fresh
// salt, derives the master key, and seals the proof tag under it. The only
// failure mode is the entropy source, which is fatal. The derived key is
// zeroized before returning; callers re-derive it via Restore when needed.
func Initialize(secret []byte) (Proof, error) {
	salt, err := cryptoutils.NewSalt()
	if err != nil {
		return Proof{}, err
	}

	key, err := cryptoutils.DeriveKey(secret, salt)
	if err != nil {
		return Proof{}, err
	}
	defer cryptoutils.Zero(key)

	ciphertext, iv, err := cryptoutils.Seal(key, []byte(proofTag), []byte(aadProof))
	if err != nil {
		return Proof{}, fmt.Errorf("failed to seal key proof: %w", err)
	}

	return Proof{Salt: salt, Ciphertext: ciphertext, IV: iv}, nil
}

// Restore re-derives the master key from a secret and the stored salt, then
// verifies it against the stored proof. Returns the key on success; any
// proof mismatch is interfaces.ErrAuthenticationFailed. The caller owns the
// returned buffer and must zeroize it after use.
func Restore(secret, salt, proofCiphertext, proofIV []byte) ([]byte, error) {
	key, err := cryptoutils.DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}

	tag, err := cryptoutils.Open(key, proofCiphertext, proofIV, []byte(aadProof))
	if err != nil {
		cryptoutils.Zero(key)
		if errors.Is(err, cryptoutils.ErrAEADOpen) {
			return nil, interfaces.ErrAuthenticationFailed
		}
		return nil, err
	}
	cryptoutils.Zero(tag)

	return key, nil
}

// NewContentKey generates a fresh random per-item content key.
func NewContentKey() ([]byte, error) {
	key := make([]byte, ContentKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate content key: %w", err)
	}
	return key, nil
}

// WrapContentKey encrypts a content key under the master key with a fresh
// nonce. Every call produces a different ciphertext even for the same inputs.
func WrapContentKey(masterKey, contentKey []byte) (Wrapped, error) {
	if len(contentKey) != ContentKeySize {
		return Wrapped{}, fmt.Errorf("content key must be %d bytes, got %d", ContentKeySize, len(contentKey))
	}
	ciphertext, iv, err := cryptoutils.Seal(masterKey, contentKey, []byte(aadCEKWrap))
	if err != nil {
		return Wrapped{}, fmt.Errorf("failed to wrap content key: %w", err)
	}
	return Wrapped{Ciphertext: ciphertext, IV: iv}, nil
}

// UnwrapContentKey decrypts a wrapped content key. A failed tag check
// (wrong master key or tampered record) is interfaces.ErrAuthenticationFailed.
// The caller owns the returned buffer and must zeroize it after use.
func UnwrapContentKey(masterKey []byte, wrapped Wrapped) ([]byte, error) {
	contentKey, err := cryptoutils.Open(masterKey, wrapped.Ciphertext, wrapped.IV, []byte(aadCEKWrap))
	if err != nil {
		if errors.Is(err, cryptoutils.ErrAEADOpen) {
			return nil, interfaces.ErrAuthenticationFailed
		}
		return nil, err
	}
	if len(contentKey) != ContentKeySize {
		cryptoutils.Zero(contentKey)
		return nil, interfaces.ErrAuthenticationFailed
	}
	return contentKey, nil
}

// EncryptContent encrypts item bytes under a content key with a fresh nonce.
func EncryptContent(contentKey, plaintext []byte) (Wrapped, error) {
	ciphertext, iv, err := cryptoutils.Seal(contentKey, plaintext, []byte(aadContent))
	if err != nil {
		return Wrapped{}, fmt.Errorf("failed to encrypt content: %w", err)
	}
	return Wrapped{Ciphertext: ciphertext, IV: iv}, nil
}

// DecryptContent decrypts item bytes. Integrity failure and wrong-key are
// deliberately the same error, interfaces.ErrAuthenticationFailed; only
// "record missing" (reported by the store, not here) is distinguishable.
func DecryptContent(contentKey []byte, encrypted Wrapped) ([]byte, error) {
	plaintext, err := cryptoutils.Open(contentKey, encrypted.Ciphertext, encrypted.IV, []byte(aadContent))
	if err != nil {
		if errors.Is(err, cryptoutils.ErrAEADOpen) {
			return nil, interfaces.ErrAuthenticationFailed
		}
		return nil, err
	}
	return plaintext, nil
}

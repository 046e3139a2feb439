package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the XChaCha20-Poly1305 nonce size (24 bytes). The extended
// nonce makes random per-call nonces safe without coordination.
const NonceSize = chacha20poly1305.NonceSizeX

// ErrAEADOpen is returned when authenticated decryption fails. The Poly1305
// tag comparison inside the cipher is constant time; callers translate this
// into their authentication-failure error without adding detail.
var ErrAEADOpen = errors.New("cryptoutils: message authentication failed")

// Seal encrypts plaintext under key with a fresh random nonce and returns
// ciphertext and nonce separately. The additional data is authenticated but
// not encrypted; pass the same value to Open.
func Seal(key, plaintext, additionalData []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid AEAD key: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, additionalData)
	return ciphertext, nonce, nil
}

// Open decrypts and authenticates a ciphertext produced by Seal. Any tag
// failure, regardless of cause, is reported as ErrAEADOpen.
func Open(key, ciphertext, nonce, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("invalid AEAD key: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, ErrAEADOpen
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, ErrAEADOpen
	}
	return plaintext, nil
}

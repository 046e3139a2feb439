package cryptoutils

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDF parameters for master key derivation. These are part of the
// compatibility surface: changing them changes every derived key.
const (
	// KDFTime is the argon2id time parameter.
	KDFTime = 3
	// KDFMemory is the argon2id memory parameter in KiB (64 MiB).
	KDFMemory = 64 * 1024
	// KDFThreads is the argon2id parallelism parameter.
	KDFThreads = 4

	// SaltSize is the size of a freshly generated KDF salt.
	SaltSize = 32
	// MinSaltSize is the smallest salt accepted for derivation.
	MinSaltSize = 16
	// MasterKeySize is the size of a derived master key.
	MasterKeySize = 32
)

// NewSalt generates a fresh random KDF salt. Failure of the entropy source
// is fatal for the caller; there is no fallback.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a MasterKeySize-byte key from a secret and salt using
// argon2id. The derivation is deterministic: the same secret and salt always
// yield the same key, and different salts yield unrelated keys. The call is
// CPU and memory bound (~64 MiB); run it off any latency-critical path.
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret must not be empty")
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("salt must be at least %d bytes, got %d", MinSaltSize, len(salt))
	}
	return argon2.IDKey(secret, salt, KDFTime, KDFMemory, KDFThreads, MasterKeySize), nil
}

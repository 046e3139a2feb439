package kms

import (
	"crypto/rand"
	"testing"

	"github.com/heirloomvault/custody-backend/cryptoutils"
	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRestoreRoundTrip(t *testing.T) {
	secret := []byte("correct horse battery staple")

	proof, err := Initialize(secret)
	require.NoError(t, err, "Initialize should succeed")
	assert.Len(t, proof.Salt, cryptoutils.SaltSize, "salt should be full size")
	assert.NotEmpty(t, proof.Ciphertext, "proof ciphertext should not be empty")
	assert.Len(t, proof.IV, cryptoutils.NonceSize, "proof IV should be a full nonce")

	key, err := Restore(secret, proof.Salt, proof.Ciphertext, proof.IV)
	require.NoError(t, err, "Restore with the correct secret should succeed")
	assert.Len(t, key, cryptoutils.MasterKeySize)

	// Same secret and salt must deterministically re-derive the same key.
	key2, err := DeriveMasterKey(secret, proof.Salt)
	require.NoError(t, err)
	assert.Equal(t, key, key2, "derivation should be deterministic")
}

func TestRestoreWrongSecret(t *testing.T) {
	proof, err := Initialize([]byte("the real secret"))
	require.NoError(t, err)

	key, err := Restore([]byte("not the secret"), proof.Salt, proof.Ciphertext, proof.IV)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed, "wrong secret should fail authentication")
	assert.Nil(t, key, "no key material should be returned on failure")
}

func TestRestoreTamperedProof(t *testing.T) {
	secret := []byte("the real secret")
	proof, err := Initialize(secret)
	require.NoError(t, err)

	proof.Ciphertext[0] ^= 0xff
	_, err = Restore(secret, proof.Salt, proof.Ciphertext, proof.IV)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed, "tampered proof should fail authentication")
}

func TestInitializeFreshSaltPerOwner(t *testing.T) {
	secret := []byte("shared secret")

	p1, err := Initialize(secret)
	require.NoError(t, err)
	p2, err := Initialize(secret)
	require.NoError(t, err)

	assert.NotEqual(t, p1.Salt, p2.Salt, "each initialization should generate a fresh salt")

	k1, err := DeriveMasterKey(secret, p1.Salt)
	require.NoError(t, err)
	k2, err := DeriveMasterKey(secret, p2.Salt)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2, "different salts should yield unrelated keys")
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	masterKey := make([]byte, cryptoutils.MasterKeySize)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	cek, err := NewContentKey()
	require.NoError(t, err)

	wrapped, err := WrapContentKey(masterKey, cek)
	require.NoError(t, err)
	assert.NotEqual(t, cek, wrapped.Ciphertext)

	unwrapped, err := UnwrapContentKey(masterKey, wrapped)
	require.NoError(t, err)
	assert.Equal(t, cek, unwrapped, "unwrap should return the original content key")

	// Wrapping again must use a fresh IV and produce a different ciphertext.
	wrapped2, err := WrapContentKey(masterKey, cek)
	require.NoError(t, err)
	assert.NotEqual(t, wrapped.IV, wrapped2.IV, "wrap must never reuse an IV")
	assert.NotEqual(t, wrapped.Ciphertext, wrapped2.Ciphertext)
}

func TestUnwrapWithWrongMasterKey(t *testing.T) {
	masterKey := make([]byte, cryptoutils.MasterKeySize)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)

	otherKey := make([]byte, cryptoutils.MasterKeySize)
	_, err = rand.Read(otherKey)
	require.NoError(t, err)

	cek, err := NewContentKey()
	require.NoError(t, err)

	wrapped, err := WrapContentKey(masterKey, cek)
	require.NoError(t, err)

	_, err = UnwrapContentKey(otherKey, wrapped)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed, "unwrapping with a different master key must fail")
}

func TestContentEncryptDecrypt(t *testing.T) {
	cek, err := NewContentKey()
	require.NoError(t, err)

	plaintext := []byte("deed of the house, scanned")

	encrypted, err := EncryptContent(cek, plaintext)
	require.NoError(t, err)

	decrypted, err := DecryptContent(cek, encrypted)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	// Bit flip anywhere in the ciphertext must be detected.
	encrypted.Ciphertext[len(encrypted.Ciphertext)/2] ^= 0x01
	_, err = DecryptContent(cek, encrypted)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}

func TestContentKeyCannotOpenAsWrap(t *testing.T) {
	// The AAD context separates wrapped CEKs from content ciphertexts even
	// under the same key.
	key := make([]byte, cryptoutils.MasterKeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	cek, err := NewContentKey()
	require.NoError(t, err)

	wrapped, err := WrapContentKey(key, cek)
	require.NoError(t, err)

	_, err = DecryptContent(key, wrapped)
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)
}

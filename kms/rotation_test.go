package kms

import (
	"crypto/rand"
	"testing"

	"github.com/heirloomvault/custody-backend/cryptoutils"
	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotateRewrapsEveryKey(t *testing.T) {
	oldKey := make([]byte, cryptoutils.MasterKeySize)
	newKey := make([]byte, cryptoutils.MasterKeySize)
	_, err := rand.Read(oldKey)
	require.NoError(t, err)
	_, err = rand.Read(newKey)
	require.NoError(t, err)

	ceks := make(map[string][]byte)
	var records []interfaces.WrappedContentKey
	for _, itemID := range []string{"item-a", "item-b", "item-c"} {
		cek, err := NewContentKey()
		require.NoError(t, err)
		ceks[itemID] = cek

		wrapped, err := WrapContentKey(oldKey, cek)
		require.NoError(t, err)
		records = append(records, interfaces.WrappedContentKey{
			ItemID:     itemID,
			Ciphertext: wrapped.Ciphertext,
			WrapIV:     wrapped.IV,
			FileIV:     []byte{1, 2, 3},
		})
	}

	rotated, err := Rotate(oldKey, newKey, records)
	require.NoError(t, err)
	require.Len(t, rotated, len(records))

	for _, rec := range rotated {
		// Old key must no longer open the rotated records.
		_, err := UnwrapContentKey(oldKey, Wrapped{Ciphertext: rec.Ciphertext, IV: rec.WrapIV})
		assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

		cek, err := UnwrapContentKey(newKey, Wrapped{Ciphertext: rec.Ciphertext, IV: rec.WrapIV})
		require.NoError(t, err)
		assert.Equal(t, ceks[rec.ItemID], cek, "the CEK itself must survive rotation unchanged")
		assert.Equal(t, []byte{1, 2, 3}, rec.FileIV, "content IV is untouched by rotation")
	}
}

func TestRotateFailsClosedOnBadRecord(t *testing.T) {
	oldKey := make([]byte, cryptoutils.MasterKeySize)
	newKey := make([]byte, cryptoutils.MasterKeySize)
	_, err := rand.Read(oldKey)
	require.NoError(t, err)
	_, err = rand.Read(newKey)
	require.NoError(t, err)

	cek, err := NewContentKey()
	require.NoError(t, err)
	wrapped, err := WrapContentKey(oldKey, cek)
	require.NoError(t, err)

	good := interfaces.WrappedContentKey{ItemID: "good", Ciphertext: wrapped.Ciphertext, WrapIV: wrapped.IV}
	bad := good
	bad.ItemID = "bad"
	bad.Ciphertext = append([]byte(nil), good.Ciphertext...)
	bad.Ciphertext[0] ^= 0xff

	rotated, err := Rotate(oldKey, newKey, []interfaces.WrappedContentKey{good, bad})
	assert.Error(t, err, "a single bad record must fail the whole rotation")
	assert.Nil(t, rotated, "no partial result on failure")
}

package kms

import (
	"fmt"

	"github.com/heirloomvault/custody-backend/cryptoutils"
	"github.com/heirloomvault/custody-backend/interfaces"
)

// Rotate re-wraps every content key under a new master key. The operation is
// pure and all-or-nothing: it unwraps each record with oldKey, wraps the CEK
// again with newKey, and returns the complete new set. If any record fails
// to unwrap, nothing is returned and the caller keeps the old records.
//
// Callers persist the returned records together with the new salt record in
// one transaction. Rotation does not invalidate Shamir recovery shares: the
// recovery secret is independent of the owner passphrase.
func Rotate(oldKey, newKey []byte, wrapped []interfaces.WrappedContentKey) ([]interfaces.WrappedContentKey, error) {
	rotated := make([]interfaces.WrappedContentKey, 0, len(wrapped))

	for _, rec := range wrapped {
		cek, err := UnwrapContentKey(oldKey, Wrapped{Ciphertext: rec.Ciphertext, IV: rec.WrapIV})
		if err != nil {
			return nil, fmt.Errorf("failed to unwrap content key for item %s: %w", rec.ItemID, err)
		}

		rewrapped, err := WrapContentKey(newKey, cek)
		cryptoutils.Zero(cek)
		if err != nil {
			return nil, fmt.Errorf("failed to re-wrap content key for item %s: %w", rec.ItemID, err)
		}

		rec.Ciphertext = rewrapped.Ciphertext
		rec.WrapIV = rewrapped.IV
		rotated = append(rotated, rec)
	}

	return rotated, nil
}

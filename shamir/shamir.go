package shamir

import (
	"fmt"

	vaultshamir "github.com/hashicorp/vault/shamir"

	"github.com/heirloomvault/custody-backend/interfaces"
)

const (
	// MinThreshold is the smallest permitted reconstruction threshold.
	// A threshold of 1 would make every trustee a single point of failure.
	MinThreshold = 2

	// MaxShares is the largest share count: the field has 255 nonzero
	// elements and index 0 is reserved for the secret.
	MaxShares = 255
)

// Share is one point (Index, Value) of the sharing polynomials. Index is a
// nonzero field element unique within a split; Value has the same length as
// the secret.
type Share struct {
	Index byte   `json:"index"`
	Value []byte `json:"value"`
}

// Split shares secret among n shares with reconstruction threshold k.
// Every call draws fresh polynomials, so shares from different splits of the
// same secret are unlinkable and must never be combined with each other.
func Split(secret []byte, n, k int) ([]Share, error) {
	if len(secret) == 0 {
		return nil, interfaces.NewValidationError("secret", "must not be empty")
	}
	if k < MinThreshold {
		return nil, interfaces.NewValidationError("threshold", fmt.Sprintf("must be at least %d", MinThreshold))
	}
	if k > n {
		return nil, interfaces.NewValidationError("threshold", "must not exceed the number of shares")
	}
	if n > MaxShares {
		return nil, interfaces.NewValidationError("shares", fmt.Sprintf("must not exceed %d", MaxShares))
	}

	parts, err := vaultshamir.Split(secret, n, k)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}

	// Each part carries its x-coordinate as the trailing byte.
	shares := make([]Share, len(parts))
	for i, part := range parts {
		shares[i] = Share{Index: part[len(part)-1], Value: part[:len(part)-1]}
	}
	return shares, nil
}

// Combine reconstructs the secret from any k of the n shares produced by a
// single Split. Fewer than k shares fail closed with
// interfaces.ErrInsufficientShares. When more than k shares are provided the
// first k are used; all provided shares are still validated for duplicate or
// reserved indices and consistent length.
func Combine(shares []Share, k int) ([]byte, error) {
	if k < MinThreshold {
		return nil, interfaces.NewValidationError("threshold", fmt.Sprintf("must be at least %d", MinThreshold))
	}
	if len(shares) < k {
		return nil, interfaces.ErrInsufficientShares
	}

	secretLen := len(shares[0].Value)
	seen := make(map[byte]bool, len(shares))
	for _, s := range shares {
		if s.Index == 0 {
			return nil, interfaces.NewValidationError("share", "index 0 is reserved for the secret")
		}
		if seen[s.Index] {
			return nil, interfaces.NewValidationError("share", fmt.Sprintf("duplicate index %d", s.Index))
		}
		seen[s.Index] = true
		if len(s.Value) != secretLen {
			return nil, interfaces.NewValidationError("share", "share lengths do not match; shares are from different splits")
		}
	}
	if secretLen == 0 {
		return nil, interfaces.NewValidationError("share", "share values are empty")
	}

	subset := shares[:k]
	parts := make([][]byte, k)
	for i, s := range subset {
		part := make([]byte, len(s.Value)+1)
		copy(part, s.Value)
		part[len(s.Value)] = s.Index
		parts[i] = part
	}

	secret, err := vaultshamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return secret, nil
}

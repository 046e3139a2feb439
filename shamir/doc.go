// Package shamir adapts Shamir's Secret Sharing to explicit (index, value)
// share pairs with the reconstruction threshold enforced at combine time.
//
// The polynomial construction and GF(2^8) arithmetic come from
// github.com/hashicorp/vault/shamir: a secret of arbitrary length is split
// byte-wise with fresh random polynomials of degree k-1 whose constant terms
// are the secret bytes, and each share receives the polynomials' values at
// the share's nonzero index. Any k shares reconstruct the secret exactly;
// any k-1 or fewer shares are consistent with every possible secret and
// therefore reveal nothing. Index 0 is reserved for the secret itself and
// never assigned to a share.
//
// This package layers validation over the library so recovery fails closed:
// Combine requires an explicit threshold and returns ErrInsufficientShares
// below it rather than interpolating garbage, and duplicate, zero-index or
// mismatched-length shares are rejected as validation errors before any
// field arithmetic runs.
//
// Pure Shamir carries no integrity check: if k or more shares are combined
// and one of them is corrupted or belongs to a different split, Combine can
// return a wrong secret without error. Callers that need tamper evidence
// must verify the reconstructed secret externally (the kms proof serves that
// purpose for recovery keys).
package shamir

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBundle(planID string) interfaces.PlanBundle {
	return interfaces.PlanBundle{
		Plan: interfaces.Plan{
			ID:            planID,
			TenantID:      "tenant-a",
			OwnerID:       "owner-1",
			Name:          "plan",
			Threshold:     2,
			TotalTrustees: 2,
			Status:        interfaces.PlanStatusActive,
			CreatedAt:     time.Now().UTC(),
		},
		Trustees: []interfaces.Trustee{
			{ID: planID + "-t1", PlanID: planID, Email: "a@example.com", ShareIndex: 1, EncryptedShare: []byte("s1")},
			{ID: planID + "-t2", PlanID: planID, Email: "b@example.com", ShareIndex: 2, EncryptedShare: []byte("s2"), UserRef: "user-b"},
		},
		Beneficiaries: []interfaces.Beneficiary{
			{ID: planID + "-b1", PlanID: planID, Email: "heir@example.com"},
		},
		Items: []interfaces.InheritanceItem{
			{ID: planID + "-i1", PlanID: planID, VaultItemRef: "item-1"},
		},
	}
}

func TestMemoryPlanRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testBundle("p1")))

	bundle, err := store.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, bundle.Trustees, 2)
	assert.Len(t, bundle.Beneficiaries, 1)
	assert.Len(t, bundle.Items, 1)
	assert.Equal(t, 1, bundle.Trustees[0].ShareIndex, "trustees come back ordered by share index")

	_, err = store.GetPlan(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestMemoryDeleteCascades(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testBundle("p1")))
	require.NoError(t, store.CreatePlan(ctx, testBundle("p2")))
	require.NoError(t, store.DeletePlan(ctx, "p1"))

	_, err := store.GetPlan(ctx, "p1")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// The sibling plan's rows are untouched.
	other, err := store.GetPlan(ctx, "p2")
	require.NoError(t, err)
	assert.Len(t, other.Trustees, 2)

	assert.ErrorIs(t, store.DeletePlan(ctx, "p1"), interfaces.ErrNotFound)
}

func TestMemoryReplaceSwapsChildRows(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testBundle("p1")))

	replacement := testBundle("p1")
	replacement.Trustees = replacement.Trustees[:1]
	replacement.Trustees[0].ID = "p1-t3"
	replacement.Trustees[0].Email = "c@example.com"
	require.NoError(t, store.ReplacePlan(ctx, replacement))

	bundle, err := store.GetPlan(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, bundle.Trustees, 1)
	assert.Equal(t, "c@example.com", bundle.Trustees[0].Email)

	assert.ErrorIs(t, store.ReplacePlan(ctx, testBundle("nope")), interfaces.ErrNotFound)
}

func TestMemoryApprovalIsMonotonic(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreatePlan(ctx, testBundle("p1")))
	require.NoError(t, store.MarkTrusteeApproved(ctx, "p1", "p1-t1", now))

	err := store.MarkTrusteeApproved(ctx, "p1", "p1-t1", now)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyApproved)

	err = store.MarkTrusteeApproved(ctx, "p1", "missing", now)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	bundle, err := store.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, bundle.ApprovedCount())
	require.NotNil(t, bundle.Trustees[0].ApprovedAt)
}

func TestMemoryStatusCAS(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testBundle("p1")))

	err := store.UpdatePlanStatus(ctx, "p1", interfaces.PlanStatusReady, interfaces.PlanStatusTriggered, nil)
	assert.ErrorIs(t, err, interfaces.ErrInvalidState, "CAS must reject a stale expected status")

	now := time.Now().UTC()
	require.NoError(t, store.UpdatePlanStatus(ctx, "p1", interfaces.PlanStatusActive, interfaces.PlanStatusReady, nil))
	require.NoError(t, store.UpdatePlanStatus(ctx, "p1", interfaces.PlanStatusReady, interfaces.PlanStatusTriggered, &now))

	bundle, err := store.GetPlan(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, interfaces.PlanStatusTriggered, bundle.Plan.Status)
	require.NotNil(t, bundle.Plan.TriggeredAt)
}

func TestMemoryClaimTrustee(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreatePlan(ctx, testBundle("p1")))
	require.NoError(t, store.CreatePlan(ctx, testBundle("p2")))

	// Claims are case-insensitive and cover every pending invitation.
	n, err := store.ClaimTrustee(ctx, "A@Example.com", "user-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Already-claimed rows are not rebound.
	n, err = store.ClaimTrustee(ctx, "b@example.com", "someone-else")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemoryKeyMaterial(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := interfaces.MasterKeySaltRecord{
		OwnerID:         "owner-1",
		Salt:            []byte("salt"),
		ProofCiphertext: []byte("proof"),
		ProofIV:         []byte("iv"),
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateSaltRecord(ctx, rec))
	assert.ErrorIs(t, store.CreateSaltRecord(ctx, rec), interfaces.ErrSaltRecordExists,
		"a second initialization for the same owner must be rejected")

	got, err := store.GetSaltRecord(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Salt, got.Salt)

	owner := interfaces.Identity{UserID: "owner-1", TenantID: "tenant-a"}
	key := interfaces.WrappedContentKey{
		TenantID:   owner.TenantID,
		OwnerID:    owner.UserID,
		ItemID:     "item-1",
		Ciphertext: []byte("ct"),
		WrapIV:     []byte("iv"),
	}
	require.NoError(t, store.PutWrappedKey(ctx, key))

	gotKey, err := store.GetWrappedKey(ctx, owner, "item-1")
	require.NoError(t, err)
	assert.Equal(t, key.Ciphertext, gotKey.Ciphertext)

	_, err = store.GetWrappedKey(ctx, owner, "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestMemoryWrappedKeysScopedPerOwner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	alice := interfaces.Identity{UserID: "alice", TenantID: "tenant-a"}
	mallory := interfaces.Identity{UserID: "mallory", TenantID: "tenant-b"}

	require.NoError(t, store.PutWrappedKey(ctx, interfaces.WrappedContentKey{
		TenantID: alice.TenantID, OwnerID: alice.UserID, ItemID: "item-1", Ciphertext: []byte("alice-ct"),
	}))
	require.NoError(t, store.PutWrappedKey(ctx, interfaces.WrappedContentKey{
		TenantID: mallory.TenantID, OwnerID: mallory.UserID, ItemID: "item-1", Ciphertext: []byte("mallory-ct"),
	}))

	got, err := store.GetWrappedKey(ctx, alice, "item-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("alice-ct"), got.Ciphertext,
		"another owner's record under the same item ID must not replace this one")

	got, err = store.GetWrappedKey(ctx, mallory, "item-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mallory-ct"), got.Ciphertext)
}

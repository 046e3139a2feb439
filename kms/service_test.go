package kms

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/heirloomvault/custody-backend/auditchain"
	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/heirloomvault/custody-backend/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vaultOwner = interfaces.Identity{UserID: "owner-1", TenantID: "tenant-a"}

func newVaultService(t *testing.T) (*Service, *auditchain.Service) {
	t.Helper()
	store := storage.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	blobs, err := storage.NewFileBackend(t.TempDir(), log)
	require.NoError(t, err)
	audit := auditchain.New(store, log)
	return NewService(store, blobs, audit, log), audit
}

func TestVaultInitializeOnce(t *testing.T) {
	svc, _ := newVaultService(t)
	ctx := context.Background()
	secret := []byte("owner passphrase")

	require.NoError(t, svc.InitializeVault(ctx, vaultOwner, secret))
	assert.ErrorIs(t, svc.InitializeVault(ctx, vaultOwner, secret), interfaces.ErrSaltRecordExists)
}

func TestVaultVerifySecret(t *testing.T) {
	svc, _ := newVaultService(t)
	ctx := context.Background()
	secret := []byte("owner passphrase")

	require.NoError(t, svc.InitializeVault(ctx, vaultOwner, secret))
	assert.NoError(t, svc.VerifySecret(ctx, vaultOwner, secret))
	assert.ErrorIs(t, svc.VerifySecret(ctx, vaultOwner, []byte("wrong")), interfaces.ErrAuthenticationFailed)

	// An uninitialized owner is indistinguishable from a wrong secret.
	nobody := interfaces.Identity{UserID: "nobody", TenantID: "tenant-a"}
	assert.ErrorIs(t, svc.VerifySecret(ctx, nobody, secret), interfaces.ErrAuthenticationFailed)
}

func TestVaultContentRoundTrip(t *testing.T) {
	svc, audit := newVaultService(t)
	ctx := context.Background()
	secret := []byte("owner passphrase")
	plaintext := []byte("scan of the property deed")

	require.NoError(t, svc.InitializeVault(ctx, vaultOwner, secret))
	require.NoError(t, svc.PutContent(ctx, vaultOwner, secret, "item-1", plaintext))

	got, err := svc.GetContent(ctx, vaultOwner, secret, "item-1")
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	_, err = svc.GetContent(ctx, vaultOwner, []byte("wrong"), "item-1")
	assert.ErrorIs(t, err, interfaces.ErrAuthenticationFailed)

	_, err = svc.GetContent(ctx, vaultOwner, secret, "missing-item")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	entries, err := audit.Query(ctx, interfaces.AuditFilter{TenantID: "tenant-a", ResourceType: "vault-item"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionItemUploaded, entries[0].Action)
	assert.Equal(t, ActionItemDownloaded, entries[1].Action)
}

func TestVaultReuploadReplacesContent(t *testing.T) {
	svc, _ := newVaultService(t)
	ctx := context.Background()
	secret := []byte("owner passphrase")

	require.NoError(t, svc.InitializeVault(ctx, vaultOwner, secret))
	require.NoError(t, svc.PutContent(ctx, vaultOwner, secret, "item-1", []byte("v1")))
	require.NoError(t, svc.PutContent(ctx, vaultOwner, secret, "item-1", []byte("v2")))

	got, err := svc.GetContent(ctx, vaultOwner, secret, "item-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestVaultContentIsolatedAcrossOwners(t *testing.T) {
	svc, _ := newVaultService(t)
	ctx := context.Background()

	alice := interfaces.Identity{UserID: "alice", TenantID: "tenant-a"}
	bob := interfaces.Identity{UserID: "bob", TenantID: "tenant-a"}
	mallory := interfaces.Identity{UserID: "mallory", TenantID: "tenant-b"}
	aliceSecret := []byte("alice passphrase")
	bobSecret := []byte("bob passphrase")
	mallorySecret := []byte("mallory passphrase")

	require.NoError(t, svc.InitializeVault(ctx, alice, aliceSecret))
	require.NoError(t, svc.InitializeVault(ctx, bob, bobSecret))
	require.NoError(t, svc.InitializeVault(ctx, mallory, mallorySecret))

	require.NoError(t, svc.PutContent(ctx, alice, aliceSecret, "item-1", []byte("alice's deed")))

	// Other owners uploading under the same item ID must not touch alice's
	// key record: her content stays decryptable with her secret afterwards.
	require.NoError(t, svc.PutContent(ctx, mallory, mallorySecret, "item-1", []byte("mallory's upload")))
	require.NoError(t, svc.PutContent(ctx, bob, bobSecret, "item-1", []byte("bob's upload")))

	got, err := svc.GetContent(ctx, alice, aliceSecret, "item-1")
	require.NoError(t, err, "alice's content must survive uploads by other owners")
	assert.Equal(t, []byte("alice's deed"), got)

	got, err = svc.GetContent(ctx, bob, bobSecret, "item-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("bob's upload"), got)

	got, err = svc.GetContent(ctx, mallory, mallorySecret, "item-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("mallory's upload"), got)
}

func TestVaultPutRequiresItemID(t *testing.T) {
	svc, _ := newVaultService(t)
	ctx := context.Background()
	secret := []byte("owner passphrase")

	require.NoError(t, svc.InitializeVault(ctx, vaultOwner, secret))
	err := svc.PutContent(ctx, vaultOwner, secret, "", []byte("data"))
	assert.True(t, interfaces.IsValidation(err))
}

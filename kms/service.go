package kms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/heirloomvault/custody-backend/auditchain"
	"github.com/heirloomvault/custody-backend/cryptoutils"
	"github.com/heirloomvault/custody-backend/interfaces"
)

// Audit event actions emitted by the service.
const (
	ActionVaultInitialized = "VAULT_INITIALIZED"
	ActionItemUploaded     = "ITEM_UPLOADED"
	ActionItemDownloaded   = "ITEM_DOWNLOADED"
)

// Service is the vault-item encryption path: it derives the owner's master
// key per request from the presented secret, wraps and unwraps content keys
// against the key-material store, and moves only ciphertext in and out of
// the blob store. Master keys and content keys never outlive a call.
type Service struct {
	keys    interfaces.KeyMaterialStore
	blobs   interfaces.BlobStore
	auditor *auditchain.Service
	log     *slog.Logger
	now     func() time.Time
}

// NewService creates the vault encryption service.
func NewService(keys interfaces.KeyMaterialStore, blobs interfaces.BlobStore, auditor *auditchain.Service, log *slog.Logger) *Service {
	return &Service{
		keys:    keys,
		blobs:   blobs,
		auditor: auditor,
		log:     log,
		now:     time.Now,
	}
}

func (s *Service) emitAudit(ctx context.Context, actor interfaces.Identity, action, itemID string, details map[string]string) {
	if _, err := s.auditor.Append(ctx, actor, action, "vault-item", itemID, details); err != nil {
		s.log.Error("Failed to append audit entry for vault operation",
			"action", action, "itemId", itemID, "err", err)
	}
}

// InitializeVault sets up the key hierarchy for an owner: a fresh salt and
// the proof ciphertext for the derived master key. One-time per owner;
// a second call fails with ErrSaltRecordExists.
func (s *Service) InitializeVault(ctx context.Context, owner interfaces.Identity, secret []byte) error {
	proof, err := Initialize(secret)
	if err != nil {
		return err
	}

	rec := interfaces.MasterKeySaltRecord{
		OwnerID:         owner.UserID,
		Salt:            proof.Salt,
		ProofCiphertext: proof.Ciphertext,
		ProofIV:         proof.IV,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.keys.CreateSaltRecord(ctx, rec); err != nil {
		return err
	}

	s.emitAudit(ctx, owner, ActionVaultInitialized, owner.UserID, nil)
	return nil
}

// VerifySecret checks the presented secret against the owner's proof. A
// missing salt record is reported as an authentication failure so probing
// cannot tell "wrong secret" from "no vault".
func (s *Service) VerifySecret(ctx context.Context, owner interfaces.Identity, secret []byte) error {
	key, err := s.masterKey(ctx, owner, secret)
	if err != nil {
		return err
	}
	cryptoutils.Zero(key)
	return nil
}

// masterKey restores the owner's master key from the presented secret.
// The caller must zeroize the returned key.
func (s *Service) masterKey(ctx context.Context, owner interfaces.Identity, secret []byte) ([]byte, error) {
	rec, err := s.keys.GetSaltRecord(ctx, owner.UserID)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, interfaces.ErrAuthenticationFailed
	}
	if err != nil {
		return nil, err
	}
	return Restore(secret, rec.Salt, rec.ProofCiphertext, rec.ProofIV)
}

func blobPath(owner interfaces.Identity, itemID string) string {
	return path.Join(owner.TenantID, owner.UserID, itemID)
}

// PutContent encrypts plaintext under a fresh content key, wraps that key
// under the owner's master key, and persists the wrapped key record and the
// ciphertext blob. Re-uploading an item replaces both.
func (s *Service) PutContent(ctx context.Context, owner interfaces.Identity, secret []byte, itemID string, plaintext []byte) error {
	if itemID == "" {
		return interfaces.NewValidationError("itemId", "must not be empty")
	}

	master, err := s.masterKey(ctx, owner, secret)
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(master)

	cek, err := NewContentKey()
	if err != nil {
		return err
	}
	defer cryptoutils.Zero(cek)

	encrypted, err := EncryptContent(cek, plaintext)
	if err != nil {
		return err
	}
	wrapped, err := WrapContentKey(master, cek)
	if err != nil {
		return err
	}

	rec := interfaces.WrappedContentKey{
		TenantID:   owner.TenantID,
		OwnerID:    owner.UserID,
		ItemID:     itemID,
		Ciphertext: wrapped.Ciphertext,
		WrapIV:     wrapped.IV,
		FileIV:     encrypted.IV,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.keys.PutWrappedKey(ctx, rec); err != nil {
		return fmt.Errorf("failed to persist wrapped key: %w", err)
	}
	if err := s.blobs.Put(ctx, blobPath(owner, itemID), encrypted.Ciphertext); err != nil {
		return fmt.Errorf("failed to store content blob: %w", err)
	}

	s.emitAudit(ctx, owner, ActionItemUploaded, itemID, map[string]string{
		"size": fmt.Sprintf("%d", len(plaintext)),
	})
	return nil
}

// GetContent fetches and decrypts an item. The presented secret must
// restore the owner's master key first; a wrong secret fails before any
// blob access.
func (s *Service) GetContent(ctx context.Context, owner interfaces.Identity, secret []byte, itemID string) ([]byte, error) {
	master, err := s.masterKey(ctx, owner, secret)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(master)

	rec, err := s.keys.GetWrappedKey(ctx, owner, itemID)
	if err != nil {
		return nil, err
	}

	cek, err := UnwrapContentKey(master, Wrapped{Ciphertext: rec.Ciphertext, IV: rec.WrapIV})
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Zero(cek)

	blob, err := s.blobs.Get(ctx, blobPath(owner, itemID))
	if err != nil {
		return nil, err
	}

	plaintext, err := DecryptContent(cek, Wrapped{Ciphertext: blob, IV: rec.FileIV})
	if err != nil {
		return nil, err
	}

	s.emitAudit(ctx, owner, ActionItemDownloaded, itemID, nil)
	return plaintext, nil
}

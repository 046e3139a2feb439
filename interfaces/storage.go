package interfaces

import (
	"context"
	"time"
)

// PlanStore persists inheritance plans and their child rows. Multi-row
// mutations (CreatePlan, ReplacePlan, DeletePlan) are atomic: either every
// row is written or none is. Implementations back this with a transaction
// (MongoDB session) or a single store-wide lock (memory store).
type PlanStore interface {
	// CreatePlan persists a plan bundle atomically.
	CreatePlan(ctx context.Context, bundle PlanBundle) error

	// GetPlan returns the full bundle for a plan, or ErrNotFound.
	GetPlan(ctx context.Context, planID string) (PlanBundle, error)

	// ListPlans returns the plans owned by ownerID within a tenant,
	// without child rows, ordered by creation time.
	ListPlans(ctx context.Context, tenantID, ownerID string) ([]Plan, error)

	// ReplacePlan atomically replaces a plan's child rows and mutable
	// fields. All approvals on the new trustee rows must be reset by the
	// caller; the store persists the bundle verbatim.
	ReplacePlan(ctx context.Context, bundle PlanBundle) error

	// DeletePlan removes the plan and cascades to trustees, beneficiaries
	// and items atomically.
	DeletePlan(ctx context.Context, planID string) error

	// MarkTrusteeApproved sets hasApproved on a single trustee row.
	// Returns ErrAlreadyApproved if the flag was already set.
	MarkTrusteeApproved(ctx context.Context, planID, trusteeID string, at time.Time) error

	// UpdatePlanStatus transitions a plan's status with a compare-and-set
	// on the expected current status; returns ErrInvalidState if the
	// stored status is not `from`. triggeredAt is recorded when non-nil.
	UpdatePlanStatus(ctx context.Context, planID string, from, to PlanStatus, triggeredAt *time.Time) error

	// ClaimTrustee binds userID to every unclaimed trustee row with the
	// given email and returns the number of rows updated.
	ClaimTrustee(ctx context.Context, email, userID string) (int, error)
}

// AuditFilter selects audit entries. Zero-valued fields match everything.
type AuditFilter struct {
	TenantID     string
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Since        time.Time
	Until        time.Time
	Limit        int64
}

// AuditStore persists audit entries. The interface is deliberately
// append-only: there is no update or delete. Chain ordering within a tenant
// is the entry's Seq; the auditchain service serializes appends per tenant
// so Seq assignment is race-free.
type AuditStore interface {
	// AppendEntry persists a new entry. The entry's Seq, PreviousHash and
	// CurrentHash are already assigned by the caller.
	AppendEntry(ctx context.Context, entry AuditEntry) error

	// LatestEntry returns the highest-Seq entry for a tenant, or
	// ErrNotFound when the tenant has no entries yet.
	LatestEntry(ctx context.Context, tenantID string) (AuditEntry, error)

	// ListEntries returns entries matching the filter ordered oldest to
	// newest (ascending Seq).
	ListEntries(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// KeyMaterialStore persists the key-hierarchy records: per-owner salt/proof
// records and per-item wrapped content keys. Neither record type is ever
// mutated in place.
type KeyMaterialStore interface {
	// CreateSaltRecord persists a new salt record. Returns
	// ErrSaltRecordExists if the owner already has one.
	CreateSaltRecord(ctx context.Context, rec MasterKeySaltRecord) error

	// GetSaltRecord returns the owner's salt record or ErrNotFound.
	GetSaltRecord(ctx context.Context, ownerID string) (MasterKeySaltRecord, error)

	// PutWrappedKey persists the wrapped content key for an owner's item
	// version, replacing any previous record for the same tenant, owner
	// and item. The key's TenantID and OwnerID scope the record.
	PutWrappedKey(ctx context.Context, key WrappedContentKey) error

	// GetWrappedKey returns the owner's wrapped key for an item or
	// ErrNotFound. Another owner's record under the same item ID is never
	// returned.
	GetWrappedKey(ctx context.Context, owner Identity, itemID string) (WrappedContentKey, error)
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// BlobStore is the object-store collaborator holding encrypted content
// bytes, addressed by path. The custody core only ever stores ciphertext
// here.
type BlobStore interface {
	// Put stores data at path, overwriting any existing blob.
	Put(ctx context.Context, path string, data []byte) error

	// Get retrieves the blob at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes the blob at path. Deleting a missing blob is not an
	// error.
	Delete(ctx context.Context, path string) error

	// Stat describes the blob at path, or returns ErrNotFound.
	Stat(ctx context.Context, path string) (BlobInfo, error)

	// Available checks whether the backend is reachable.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string
}

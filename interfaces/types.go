package interfaces

import (
	"time"
)

// PlanStatus is the lifecycle state of an inheritance plan.
//
// Valid transitions are active->ready, ready->triggered, triggered->completed,
// and active->cancelled. Deletion is permitted only while active. The ready
// state is a cached view of the approval count and is never trusted at
// trigger time; Trigger recomputes approvals from storage.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusReady     PlanStatus = "ready"
	PlanStatusTriggered PlanStatus = "triggered"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusCancelled PlanStatus = "cancelled"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanStatusActive, PlanStatusReady, PlanStatusTriggered, PlanStatusCompleted, PlanStatusCancelled:
		return true
	}
	return false
}

// Mutable reports whether owner-facing plan fields may still change.
// Once a plan leaves active/ready it is append-only.
func (s PlanStatus) Mutable() bool {
	return s == PlanStatusActive
}

// Identity is the authenticated caller as supplied by the identity provider
// collaborator. The custody core trusts this input.
type Identity struct {
	UserID   string
	TenantID string
}

// Plan is an inheritance plan owned by a vault owner. Threshold is the
// minimum number of trustee approvals (and recovery shares) required;
// TotalTrustees always equals the number of trustee rows.
type Plan struct {
	ID                string     `bson:"_id" json:"id"`
	TenantID          string     `bson:"tenantId" json:"tenantId"`
	OwnerID           string     `bson:"ownerId" json:"ownerId"`
	Name              string     `bson:"name" json:"name"`
	Description       string     `bson:"description,omitempty" json:"description,omitempty"`
	Threshold         int        `bson:"kThreshold" json:"kThreshold"`
	TotalTrustees     int        `bson:"nTotal" json:"nTotal"`
	WaitingPeriodDays int        `bson:"waitingPeriodDays" json:"waitingPeriodDays"`
	Status            PlanStatus `bson:"status" json:"status"`
	CreatedAt         time.Time  `bson:"createdAt" json:"createdAt"`
	TriggeredAt       *time.Time `bson:"triggeredAt,omitempty" json:"triggeredAt,omitempty"`
}

// Trustee holds one opaque share of the plan's recovery secret and a single
// monotonic approval vote. UserRef is empty until the invited email is
// claimed by a registered account; an unclaimed trustee cannot approve.
// EncryptedShare is never interpreted by the service.
type Trustee struct {
	ID             string     `bson:"_id" json:"id"`
	PlanID         string     `bson:"planId" json:"planId"`
	UserRef        string     `bson:"userRef,omitempty" json:"userRef,omitempty"`
	Email          string     `bson:"email" json:"email"`
	ShareIndex     int        `bson:"shareIndex" json:"shareIndex"`
	EncryptedShare []byte     `bson:"encryptedShare" json:"-"`
	HasApproved    bool       `bson:"hasApproved" json:"hasApproved"`
	ApprovedAt     *time.Time `bson:"approvedAt,omitempty" json:"approvedAt,omitempty"`
}

// Beneficiary is entitled to retrieve released shares once the plan has
// triggered.
type Beneficiary struct {
	ID           string `bson:"_id" json:"id"`
	PlanID       string `bson:"planId" json:"planId"`
	UserRef      string `bson:"userRef,omitempty" json:"userRef,omitempty"`
	Email        string `bson:"email" json:"email"`
	Relationship string `bson:"relationship,omitempty" json:"relationship,omitempty"`
}

// InheritanceItem links a plan to a vault item designated for release.
type InheritanceItem struct {
	ID           string `bson:"_id" json:"id"`
	PlanID       string `bson:"planId" json:"planId"`
	VaultItemRef string `bson:"vaultItemRef" json:"vaultItemRef"`
}

// PlanBundle is a plan together with all of its child rows. Stores persist
// and delete bundles atomically; a partial write is never observable.
type PlanBundle struct {
	Plan          Plan
	Trustees      []Trustee
	Beneficiaries []Beneficiary
	Items         []InheritanceItem
}

// ApprovedCount returns the number of trustees that have approved.
func (b *PlanBundle) ApprovedCount() int {
	n := 0
	for _, t := range b.Trustees {
		if t.HasApproved {
			n++
		}
	}
	return n
}

// AuditEntry is one link of a tenant's hash chain. Seq is a per-tenant
// monotonically increasing sequence assigned at append time; CurrentHash is
// the SHA-256 (hex) of the canonicalized entry including PreviousHash, and
// only the auditchain service ever writes either hash field.
type AuditEntry struct {
	ID           string            `bson:"_id" json:"id"`
	TenantID     string            `bson:"tenantId" json:"tenantId"`
	UserID       string            `bson:"userId" json:"userId"`
	Action       string            `bson:"action" json:"action"`
	ResourceType string            `bson:"resourceType" json:"resourceType"`
	ResourceID   string            `bson:"resourceId" json:"resourceId"`
	Details      map[string]string `bson:"details,omitempty" json:"details,omitempty"`
	Timestamp    string            `bson:"timestamp" json:"timestamp"`
	Seq          int64             `bson:"seq" json:"seq"`
	PreviousHash string            `bson:"previousHash,omitempty" json:"previousHash,omitempty"`
	CurrentHash  string            `bson:"currentHash" json:"currentHash"`
}

// MasterKeySaltRecord stores the per-owner KDF salt and the proof ciphertext
// used to verify a derived master key. One record per owner, immutable once
// written. It never contains the key itself.
type MasterKeySaltRecord struct {
	OwnerID         string    `bson:"_id" json:"ownerId"`
	Salt            []byte    `bson:"salt" json:"salt"`
	ProofCiphertext []byte    `bson:"proofCiphertext" json:"proofCiphertext"`
	ProofIV         []byte    `bson:"proofIv" json:"proofIv"`
	CreatedAt       time.Time `bson:"createdAt" json:"createdAt"`
}

// WrappedContentKey is a per-item content key wrapped under the owner's
// master key. Records are scoped to the owner: the same item ID under a
// different owner names a different record, so no caller can reach or
// replace another owner's key material. A new item version gets a new
// record; records are never mutated in place.
type WrappedContentKey struct {
	TenantID   string    `bson:"tenantId" json:"tenantId"`
	OwnerID    string    `bson:"ownerId" json:"ownerId"`
	ItemID     string    `bson:"itemId" json:"itemId"`
	Ciphertext []byte    `bson:"wrappedKeyCiphertext" json:"wrappedKeyCiphertext"`
	WrapIV     []byte    `bson:"wrapIv" json:"wrapIv"`
	FileIV     []byte    `bson:"fileIv" json:"fileIv"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
}

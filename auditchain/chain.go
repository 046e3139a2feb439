package auditchain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/heirloomvault/custody-backend/metrics"
)

// Service appends to and verifies tenant audit chains.
type Service struct {
	store interfaces.AuditStore
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	tenants map[string]*sync.Mutex
}

// New creates an audit chain service on top of the given store.
func New(store interfaces.AuditStore, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		log:     log,
		now:     time.Now,
		tenants: make(map[string]*sync.Mutex),
	}
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.tenants[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		s.tenants[tenantID] = lock
	}
	return lock
}

// Append records an action in the actor's tenant chain and returns the
// persisted entry. The read-latest-then-insert sequence is serialized per
// tenant so the chain stays linear under concurrent appends.
func (s *Service) Append(ctx context.Context, actor interfaces.Identity, action, resourceType, resourceID string, details map[string]string) (interfaces.AuditEntry, error) {
	if actor.TenantID == "" {
		return interfaces.AuditEntry{}, interfaces.NewValidationError("tenantId", "must not be empty")
	}
	if action == "" {
		return interfaces.AuditEntry{}, interfaces.NewValidationError("action", "must not be empty")
	}

	lock := s.tenantLock(actor.TenantID)
	lock.Lock()
	defer lock.Unlock()

	var seq int64 = 1
	var prevHash string
	latest, err := s.store.LatestEntry(ctx, actor.TenantID)
	switch {
	case err == nil:
		seq = latest.Seq + 1
		prevHash = latest.CurrentHash
	case errors.Is(err, interfaces.ErrNotFound):
		// First entry for this tenant.
	default:
		metrics.AuditAppendFailures.Inc()
		return interfaces.AuditEntry{}, fmt.Errorf("failed to read chain head for tenant %s: %w", actor.TenantID, err)
	}

	entry := interfaces.AuditEntry{
		ID:           uuid.New().String(),
		TenantID:     actor.TenantID,
		UserID:       actor.UserID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		Timestamp:    s.now().UTC().Format(time.RFC3339Nano),
		Seq:          seq,
		PreviousHash: prevHash,
	}
	entry.CurrentHash, err = entryHash(entry)
	if err != nil {
		metrics.AuditAppendFailures.Inc()
		return interfaces.AuditEntry{}, err
	}

	if err := s.store.AppendEntry(ctx, entry); err != nil {
		metrics.AuditAppendFailures.Inc()
		return interfaces.AuditEntry{}, fmt.Errorf("failed to append audit entry: %w", err)
	}

	metrics.AuditEntriesAppended.Inc()
	return entry, nil
}

// VerifyChain walks the tenant's chain oldest to newest, recomputing every
// hash and checking predecessor links. It returns the number of verified
// entries. A mismatch is reported as a CorruptionError identifying the first
// corrupt entry and raises the corruption alarm; verification continues to
// hold everything before that entry intact.
func (s *Service) VerifyChain(ctx context.Context, tenantID string) (int64, error) {
	entries, err := s.store.ListEntries(ctx, interfaces.AuditFilter{TenantID: tenantID})
	if err != nil {
		return 0, fmt.Errorf("failed to load chain for tenant %s: %w", tenantID, err)
	}

	var prevHash string
	var prevSeq int64
	for _, e := range entries {
		if e.Seq != prevSeq+1 {
			return prevSeq, s.corrupt(e, fmt.Sprintf("sequence gap: expected %d, found %d", prevSeq+1, e.Seq))
		}
		if e.PreviousHash != prevHash {
			return prevSeq, s.corrupt(e, "previous hash does not match predecessor")
		}
		computed, err := entryHash(e)
		if err != nil {
			return prevSeq, err
		}
		if computed != e.CurrentHash {
			return prevSeq, s.corrupt(e, "stored hash does not match entry contents")
		}
		prevHash = e.CurrentHash
		prevSeq = e.Seq
	}

	return prevSeq, nil
}

func (s *Service) corrupt(e interfaces.AuditEntry, reason string) error {
	metrics.ChainCorruptionAlarms.Inc()
	s.log.Error("Audit chain corruption detected",
		"tenantId", e.TenantID, "entryId", e.ID, "seq", e.Seq, "reason", reason)
	return &interfaces.CorruptionError{
		TenantID: e.TenantID,
		EntryID:  e.ID,
		Seq:      e.Seq,
		Reason:   reason,
	}
}

// Query returns entries matching the filter, oldest first. The tenant is
// required; all other filter fields are optional.
func (s *Service) Query(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEntry, error) {
	if filter.TenantID == "" {
		return nil, interfaces.NewValidationError("tenantId", "must not be empty")
	}
	return s.store.ListEntries(ctx, filter)
}

// entryHash computes the hex SHA-256 over the canonical payload. The
// canonical form is sorted-key JSON, which encoding/json produces for maps.
func entryHash(e interfaces.AuditEntry) (string, error) {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	payload, err := json.Marshal(map[string]any{
		"action":       e.Action,
		"details":      details,
		"previousHash": e.PreviousHash,
		"resourceId":   e.ResourceID,
		"resourceType": e.ResourceType,
		"tenantId":     e.TenantID,
		"timestamp":    e.Timestamp,
		"userId":       e.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/heirloomvault/custody-backend/interfaces"
)

// MemoryStore implements PlanStore, AuditStore and KeyMaterialStore entirely
// in memory. It backs tests and the dev mode of custodyd; a single mutex
// makes every multi-row mutation trivially atomic.
type MemoryStore struct {
	mu sync.Mutex

	plans         map[string]interfaces.Plan
	trustees      map[string]interfaces.Trustee
	beneficiaries map[string]interfaces.Beneficiary
	items         map[string]interfaces.InheritanceItem

	// entries per tenant, append order == ascending Seq
	audit map[string][]interfaces.AuditEntry

	salts       map[string]interfaces.MasterKeySaltRecord
	wrappedKeys map[string]interfaces.WrappedContentKey
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:         make(map[string]interfaces.Plan),
		trustees:      make(map[string]interfaces.Trustee),
		beneficiaries: make(map[string]interfaces.Beneficiary),
		items:         make(map[string]interfaces.InheritanceItem),
		audit:         make(map[string][]interfaces.AuditEntry),
		salts:         make(map[string]interfaces.MasterKeySaltRecord),
		wrappedKeys:   make(map[string]interfaces.WrappedContentKey),
	}
}

func (m *MemoryStore) CreatePlan(ctx context.Context, bundle interfaces.PlanBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.plans[bundle.Plan.ID] = bundle.Plan
	m.putChildRowsLocked(bundle)
	return nil
}

func (m *MemoryStore) GetPlan(ctx context.Context, planID string) (interfaces.PlanBundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	plan, ok := m.plans[planID]
	if !ok {
		return interfaces.PlanBundle{}, interfaces.ErrNotFound
	}
	return m.bundleLocked(plan), nil
}

func (m *MemoryStore) ListPlans(ctx context.Context, tenantID, ownerID string) ([]interfaces.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []interfaces.Plan
	for _, p := range m.plans {
		if p.TenantID == tenantID && p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) ReplacePlan(ctx context.Context, bundle interfaces.PlanBundle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[bundle.Plan.ID]; !ok {
		return interfaces.ErrNotFound
	}
	m.deleteChildRowsLocked(bundle.Plan.ID)
	m.plans[bundle.Plan.ID] = bundle.Plan
	m.putChildRowsLocked(bundle)
	return nil
}

func (m *MemoryStore) DeletePlan(ctx context.Context, planID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[planID]; !ok {
		return interfaces.ErrNotFound
	}
	delete(m.plans, planID)
	m.deleteChildRowsLocked(planID)
	return nil
}

func (m *MemoryStore) MarkTrusteeApproved(ctx context.Context, planID, trusteeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trustees[trusteeID]
	if !ok || t.PlanID != planID {
		return interfaces.ErrNotFound
	}
	if t.HasApproved {
		return interfaces.ErrAlreadyApproved
	}
	t.HasApproved = true
	t.ApprovedAt = &at
	m.trustees[trusteeID] = t
	return nil
}

func (m *MemoryStore) UpdatePlanStatus(ctx context.Context, planID string, from, to interfaces.PlanStatus, triggeredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.plans[planID]
	if !ok {
		return interfaces.ErrNotFound
	}
	if p.Status != from {
		return interfaces.ErrInvalidState
	}
	p.Status = to
	if triggeredAt != nil {
		p.TriggeredAt = triggeredAt
	}
	m.plans[planID] = p
	return nil
}

func (m *MemoryStore) ClaimTrustee(ctx context.Context, email, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claimed := 0
	for id, t := range m.trustees {
		if t.UserRef == "" && strings.EqualFold(t.Email, email) {
			t.UserRef = userID
			m.trustees[id] = t
			claimed++
		}
	}
	return claimed, nil
}

func (m *MemoryStore) putChildRowsLocked(bundle interfaces.PlanBundle) {
	for _, t := range bundle.Trustees {
		m.trustees[t.ID] = t
	}
	for _, b := range bundle.Beneficiaries {
		m.beneficiaries[b.ID] = b
	}
	for _, it := range bundle.Items {
		m.items[it.ID] = it
	}
}

func (m *MemoryStore) deleteChildRowsLocked(planID string) {
	for id, t := range m.trustees {
		if t.PlanID == planID {
			delete(m.trustees, id)
		}
	}
	for id, b := range m.beneficiaries {
		if b.PlanID == planID {
			delete(m.beneficiaries, id)
		}
	}
	for id, it := range m.items {
		if it.PlanID == planID {
			delete(m.items, id)
		}
	}
}

func (m *MemoryStore) bundleLocked(plan interfaces.Plan) interfaces.PlanBundle {
	bundle := interfaces.PlanBundle{Plan: plan}
	for _, t := range m.trustees {
		if t.PlanID == plan.ID {
			bundle.Trustees = append(bundle.Trustees, t)
		}
	}
	for _, b := range m.beneficiaries {
		if b.PlanID == plan.ID {
			bundle.Beneficiaries = append(bundle.Beneficiaries, b)
		}
	}
	for _, it := range m.items {
		if it.PlanID == plan.ID {
			bundle.Items = append(bundle.Items, it)
		}
	}
	sort.Slice(bundle.Trustees, func(i, j int) bool {
		return bundle.Trustees[i].ShareIndex < bundle.Trustees[j].ShareIndex
	})
	return bundle
}

func (m *MemoryStore) AppendEntry(ctx context.Context, entry interfaces.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit[entry.TenantID] = append(m.audit[entry.TenantID], entry)
	return nil
}

func (m *MemoryStore) LatestEntry(ctx context.Context, tenantID string) (interfaces.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.audit[tenantID]
	if len(chain) == 0 {
		return interfaces.AuditEntry{}, interfaces.ErrNotFound
	}
	return chain[len(chain)-1], nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, filter interfaces.AuditFilter) ([]interfaces.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []interfaces.AuditEntry
	for _, e := range m.audit[filter.TenantID] {
		if matchesFilter(e, filter) {
			out = append(out, e)
		}
		if filter.Limit > 0 && int64(len(out)) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesFilter(e interfaces.AuditEntry, f interfaces.AuditFilter) bool {
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.ResourceType != "" && e.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && e.ResourceID != f.ResourceID {
		return false
	}
	if !f.Since.IsZero() || !f.Until.IsZero() {
		ts, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err != nil {
			return false
		}
		if !f.Since.IsZero() && ts.Before(f.Since) {
			return false
		}
		if !f.Until.IsZero() && ts.After(f.Until) {
			return false
		}
	}
	return true
}

// MutateEntry replaces a stored audit entry in place. This deliberately
// bypasses the append-only interface; it exists so corruption detection can
// be exercised in tests.
func (m *MemoryStore) MutateEntry(tenantID string, seq int64, mutate func(*interfaces.AuditEntry)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain := m.audit[tenantID]
	for i := range chain {
		if chain[i].Seq == seq {
			mutate(&chain[i])
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateSaltRecord(ctx context.Context, rec interfaces.MasterKeySaltRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.salts[rec.OwnerID]; ok {
		return interfaces.ErrSaltRecordExists
	}
	m.salts[rec.OwnerID] = rec
	return nil
}

func (m *MemoryStore) GetSaltRecord(ctx context.Context, ownerID string) (interfaces.MasterKeySaltRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.salts[ownerID]
	if !ok {
		return interfaces.MasterKeySaltRecord{}, interfaces.ErrNotFound
	}
	return rec, nil
}

// wrappedKeyID scopes a wrapped key record to its owner.
func wrappedKeyID(tenantID, ownerID, itemID string) string {
	return tenantID + "/" + ownerID + "/" + itemID
}

func (m *MemoryStore) PutWrappedKey(ctx context.Context, key interfaces.WrappedContentKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wrappedKeys[wrappedKeyID(key.TenantID, key.OwnerID, key.ItemID)] = key
	return nil
}

func (m *MemoryStore) GetWrappedKey(ctx context.Context, owner interfaces.Identity, itemID string) (interfaces.WrappedContentKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.wrappedKeys[wrappedKeyID(owner.TenantID, owner.UserID, itemID)]
	if !ok {
		return interfaces.WrappedContentKey{}, interfaces.ErrNotFound
	}
	return key, nil
}

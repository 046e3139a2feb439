package inheritance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heirloomvault/custody-backend/auditchain"
	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/heirloomvault/custody-backend/metrics"
)

// Audit event actions emitted by the service.
const (
	ActionPlanCreated    = "PLAN_CREATED"
	ActionPlanUpdated    = "PLAN_UPDATED"
	ActionPlanTriggered  = "PLAN_TRIGGERED"
	ActionSharesRevealed = "SHARES_REVEALED"
	ActionPlanCompleted  = "PLAN_COMPLETED"
	ActionPlanCancelled  = "PLAN_CANCELLED"
	ActionPlanDeleted    = "PLAN_DELETED"
)

const (
	// MinThreshold mirrors the Shamir minimum: a single approval must never
	// release shares.
	MinThreshold = 2

	// MaxTrustees bounds the trustee list per plan.
	MaxTrustees = 10

	// DefaultStorageTimeout bounds every storage call so a stuck backend
	// surfaces as ErrStorageTimeout instead of a hung request.
	DefaultStorageTimeout = 10 * time.Second
)

// Config configures the plan service.
type Config struct {
	Store          interfaces.PlanStore
	Audit          *auditchain.Service
	Log            *slog.Logger
	StorageTimeout time.Duration
}

// Service owns plan state transitions. All mutations of a plan are
// serialized through a per-plan mutex.
type Service struct {
	store          interfaces.PlanStore
	auditor        *auditchain.Service
	log            *slog.Logger
	storageTimeout time.Duration
	now            func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a plan service.
func New(cfg Config) *Service {
	timeout := cfg.StorageTimeout
	if timeout <= 0 {
		timeout = DefaultStorageTimeout
	}
	return &Service{
		store:          cfg.Store,
		auditor:        cfg.Audit,
		log:            cfg.Log,
		storageTimeout: timeout,
		now:            time.Now,
		locks:          make(map[string]*sync.Mutex),
	}
}

func (s *Service) planLock(planID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[planID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[planID] = lock
	}
	return lock
}

// withTimeout bounds a storage call. Callers must defer the cancel func.
func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}

// mapStorageErr converts a deadline overrun into the typed timeout error.
// All other errors, including the store's sentinels, pass through.
func mapStorageErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return interfaces.ErrStorageTimeout
	}
	return err
}

// emitAudit appends an audit event for a plan mutation. Failures are logged
// and counted by the audit service but never fail the mutation itself.
func (s *Service) emitAudit(ctx context.Context, actor interfaces.Identity, action, planID string, details map[string]string) {
	if _, err := s.auditor.Append(ctx, actor, action, "plan", planID, details); err != nil {
		s.log.Error("Failed to append audit entry for plan mutation",
			"action", action, "planId", planID, "err", err)
	}
}

// TrusteeInput describes one trustee at plan creation or update. The share
// is already encrypted for the trustee client-side and stays opaque here.
type TrusteeInput struct {
	Email          string `json:"email"`
	UserRef        string `json:"userRef,omitempty"`
	ShareIndex     int    `json:"shareIndex"`
	EncryptedShare []byte `json:"encryptedShare"`
}

// BeneficiaryInput describes one beneficiary at plan creation or update.
type BeneficiaryInput struct {
	Email        string `json:"email"`
	UserRef      string `json:"userRef,omitempty"`
	Relationship string `json:"relationship,omitempty"`
}

// PlanRequest carries the owner-supplied plan definition. Threshold is k:
// the number of trustee approvals, and recovery shares, needed for release.
type PlanRequest struct {
	Name              string             `json:"name"`
	Description       string             `json:"description,omitempty"`
	Threshold         int                `json:"kThreshold"`
	WaitingPeriodDays int                `json:"waitingPeriodDays"`
	Trustees          []TrusteeInput     `json:"trustees"`
	Beneficiaries     []BeneficiaryInput `json:"beneficiaries"`
	ItemRefs          []string           `json:"itemRefs,omitempty"`
}

func (r *PlanRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return interfaces.NewValidationError("name", "must not be empty")
	}
	if r.Threshold < MinThreshold {
		return interfaces.NewValidationError("kThreshold", fmt.Sprintf("must be at least %d", MinThreshold))
	}
	if len(r.Trustees) < r.Threshold {
		return interfaces.NewValidationError("trustees", "must have at least kThreshold trustees")
	}
	if len(r.Trustees) > MaxTrustees {
		return interfaces.NewValidationError("trustees", fmt.Sprintf("must not exceed %d", MaxTrustees))
	}
	if r.WaitingPeriodDays < 0 {
		return interfaces.NewValidationError("waitingPeriodDays", "must not be negative")
	}
	if len(r.Beneficiaries) == 0 {
		return interfaces.NewValidationError("beneficiaries", "must have at least one beneficiary")
	}
	seenIdx := make(map[int]bool, len(r.Trustees))
	seenEmail := make(map[string]bool, len(r.Trustees))
	for _, t := range r.Trustees {
		if strings.TrimSpace(t.Email) == "" {
			return interfaces.NewValidationError("trustees", "every trustee needs an email")
		}
		if len(t.EncryptedShare) == 0 {
			return interfaces.NewValidationError("trustees", fmt.Sprintf("trustee %s is missing a share", t.Email))
		}
		if t.ShareIndex < 1 || t.ShareIndex > 255 {
			return interfaces.NewValidationError("trustees", "share index must be in 1..255")
		}
		if seenIdx[t.ShareIndex] {
			return interfaces.NewValidationError("trustees", fmt.Sprintf("duplicate share index %d", t.ShareIndex))
		}
		seenIdx[t.ShareIndex] = true
		email := strings.ToLower(t.Email)
		if seenEmail[email] {
			return interfaces.NewValidationError("trustees", fmt.Sprintf("duplicate trustee email %s", t.Email))
		}
		seenEmail[email] = true
	}
	for _, b := range r.Beneficiaries {
		if strings.TrimSpace(b.Email) == "" {
			return interfaces.NewValidationError("beneficiaries", "every beneficiary needs an email")
		}
	}
	return nil
}

// buildChildRows materializes trustee, beneficiary and item rows for a plan.
// Approvals always start cleared; re-using this for updates is what resets
// prior consent.
func buildChildRows(planID string, req PlanRequest) ([]interfaces.Trustee, []interfaces.Beneficiary, []interfaces.InheritanceItem) {
	trustees := make([]interfaces.Trustee, 0, len(req.Trustees))
	for _, in := range req.Trustees {
		trustees = append(trustees, interfaces.Trustee{
			ID:             uuid.New().String(),
			PlanID:         planID,
			UserRef:        in.UserRef,
			Email:          in.Email,
			ShareIndex:     in.ShareIndex,
			EncryptedShare: in.EncryptedShare,
		})
	}
	beneficiaries := make([]interfaces.Beneficiary, 0, len(req.Beneficiaries))
	for _, in := range req.Beneficiaries {
		beneficiaries = append(beneficiaries, interfaces.Beneficiary{
			ID:           uuid.New().String(),
			PlanID:       planID,
			UserRef:      in.UserRef,
			Email:        in.Email,
			Relationship: in.Relationship,
		})
	}
	items := make([]interfaces.InheritanceItem, 0, len(req.ItemRefs))
	for _, ref := range req.ItemRefs {
		items = append(items, interfaces.InheritanceItem{
			ID:           uuid.New().String(),
			PlanID:       planID,
			VaultItemRef: ref,
		})
	}
	return trustees, beneficiaries, items
}

// CreatePlan persists a new plan in the active state with one opaque share
// per trustee. Trustees without a matching account (empty UserRef) are
// accepted but cannot approve until they claim their invitation.
func (s *Service) CreatePlan(ctx context.Context, owner interfaces.Identity, req PlanRequest) (interfaces.PlanBundle, error) {
	if err := req.validate(); err != nil {
		return interfaces.PlanBundle{}, err
	}

	planID := uuid.New().String()
	trustees, beneficiaries, items := buildChildRows(planID, req)
	bundle := interfaces.PlanBundle{
		Plan: interfaces.Plan{
			ID:                planID,
			TenantID:          owner.TenantID,
			OwnerID:           owner.UserID,
			Name:              req.Name,
			Description:       req.Description,
			Threshold:         req.Threshold,
			TotalTrustees:     len(trustees),
			WaitingPeriodDays: req.WaitingPeriodDays,
			Status:            interfaces.PlanStatusActive,
			CreatedAt:         s.now().UTC(),
		},
		Trustees:      trustees,
		Beneficiaries: beneficiaries,
		Items:         items,
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.CreatePlan(sctx, bundle); err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to create plan: %w", mapStorageErr(err))
	}

	s.emitAudit(ctx, owner, ActionPlanCreated, planID, map[string]string{
		"name":      req.Name,
		"threshold": strconv.Itoa(req.Threshold),
		"trustees":  strconv.Itoa(len(trustees)),
	})
	return bundle, nil
}

// GetPlan returns a plan visible to the caller: the owner, a claimed
// trustee, or a beneficiary. Anyone else gets ErrNotFound so plan existence
// does not leak across participants.
func (s *Service) GetPlan(ctx context.Context, caller interfaces.Identity, planID string) (interfaces.PlanBundle, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	bundle, err := s.store.GetPlan(sctx, planID)
	if err != nil {
		return interfaces.PlanBundle{}, mapStorageErr(err)
	}
	if bundle.Plan.TenantID != caller.TenantID || !isParticipant(&bundle, caller.UserID) {
		return interfaces.PlanBundle{}, interfaces.ErrNotFound
	}
	return bundle, nil
}

// ListPlans returns the caller's own plans, without child rows.
func (s *Service) ListPlans(ctx context.Context, caller interfaces.Identity) ([]interfaces.Plan, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	plans, err := s.store.ListPlans(sctx, caller.TenantID, caller.UserID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return plans, nil
}

// ClaimTrustee binds the caller's account to every pending trustee
// invitation for the given email and returns how many rows were claimed.
func (s *Service) ClaimTrustee(ctx context.Context, caller interfaces.Identity, email string) (int, error) {
	if strings.TrimSpace(email) == "" {
		return 0, interfaces.NewValidationError("email", "must not be empty")
	}
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	claimed, err := s.store.ClaimTrustee(sctx, email, caller.UserID)
	if err != nil {
		return 0, mapStorageErr(err)
	}
	return claimed, nil
}

func isParticipant(b *interfaces.PlanBundle, userID string) bool {
	if b.Plan.OwnerID == userID {
		return true
	}
	for _, t := range b.Trustees {
		if t.UserRef == userID {
			return true
		}
	}
	for _, ben := range b.Beneficiaries {
		if ben.UserRef == userID {
			return true
		}
	}
	return false
}

// transition runs a CAS status update and records the transition metric.
func (s *Service) transition(ctx context.Context, planID string, from, to interfaces.PlanStatus, triggeredAt *time.Time) error {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.UpdatePlanStatus(sctx, planID, from, to, triggeredAt); err != nil {
		return mapStorageErr(err)
	}
	metrics.PlanTransitions.WithLabelValues(string(from), string(to)).Inc()
	return nil
}

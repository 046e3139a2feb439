package inheritance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/heirloomvault/custody-backend/interfaces"
)

// Approve records a trustee's approval vote. Approval is monotonic: a second
// vote fails with ErrAlreadyApproved and revocation does not exist. When the
// approval count reaches the threshold the plan is promoted from active to
// ready; the promotion is a cached convenience and Trigger never trusts it.
func (s *Service) Approve(ctx context.Context, caller interfaces.Identity, planID string) (interfaces.PlanBundle, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := s.loadPlan(ctx, caller, planID)
	if err != nil {
		return interfaces.PlanBundle{}, err
	}

	var trustee *interfaces.Trustee
	for i := range bundle.Trustees {
		if bundle.Trustees[i].UserRef == caller.UserID {
			trustee = &bundle.Trustees[i]
			break
		}
	}
	if trustee == nil {
		// Unclaimed invitations cannot vote; the trustee must claim first.
		return interfaces.PlanBundle{}, interfaces.ErrNotAuthorized
	}

	switch bundle.Plan.Status {
	case interfaces.PlanStatusActive, interfaces.PlanStatusReady:
	default:
		return interfaces.PlanBundle{}, interfaces.ErrInvalidState
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.MarkTrusteeApproved(sctx, planID, trustee.ID, s.now().UTC()); err != nil {
		return interfaces.PlanBundle{}, mapStorageErr(err)
	}

	bundle, err = s.reloadPlan(ctx, planID)
	if err != nil {
		return interfaces.PlanBundle{}, err
	}

	approved := bundle.ApprovedCount()
	if bundle.Plan.Status == interfaces.PlanStatusActive && approved >= bundle.Plan.Threshold {
		if err := s.transition(ctx, planID, interfaces.PlanStatusActive, interfaces.PlanStatusReady, nil); err != nil {
			return interfaces.PlanBundle{}, err
		}
		bundle.Plan.Status = interfaces.PlanStatusReady
	}

	s.emitAudit(ctx, caller, ActionPlanUpdated, planID, map[string]string{
		"event":         "trustee_approved",
		"trusteeId":     trustee.ID,
		"approvedCount": strconv.Itoa(approved),
	})
	return bundle, nil
}

// Trigger releases a plan for share retrieval. Only the owner may trigger.
// The approval count is re-read from storage and re-validated against the
// threshold, and the waiting period since creation must have elapsed unless
// emergencyOverride is set. On success the plan becomes append-only.
func (s *Service) Trigger(ctx context.Context, caller interfaces.Identity, planID, reason string, emergencyOverride bool) (interfaces.PlanBundle, error) {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := s.loadPlan(ctx, caller, planID)
	if err != nil {
		return interfaces.PlanBundle{}, err
	}
	if bundle.Plan.OwnerID != caller.UserID {
		return interfaces.PlanBundle{}, interfaces.ErrNotAuthorized
	}

	switch bundle.Plan.Status {
	case interfaces.PlanStatusActive, interfaces.PlanStatusReady:
	default:
		return interfaces.PlanBundle{}, interfaces.ErrInvalidState
	}

	if approved := bundle.ApprovedCount(); approved < bundle.Plan.Threshold {
		return interfaces.PlanBundle{}, fmt.Errorf("%w: %d of %d required approvals",
			interfaces.ErrInsufficientApprovals, approved, bundle.Plan.Threshold)
	}

	now := s.now().UTC()
	if !emergencyOverride {
		waiting := time.Duration(bundle.Plan.WaitingPeriodDays) * 24 * time.Hour
		if now.Sub(bundle.Plan.CreatedAt) < waiting {
			return interfaces.PlanBundle{}, interfaces.ErrWaitingPeriodActive
		}
	}

	if err := s.transition(ctx, planID, bundle.Plan.Status, interfaces.PlanStatusTriggered, &now); err != nil {
		return interfaces.PlanBundle{}, err
	}
	bundle.Plan.Status = interfaces.PlanStatusTriggered
	bundle.Plan.TriggeredAt = &now

	s.emitAudit(ctx, caller, ActionPlanTriggered, planID, map[string]string{
		"reason":            reason,
		"emergencyOverride": strconv.FormatBool(emergencyOverride),
	})
	return bundle, nil
}

// ReleasedShare is one approved trustee's opaque share handed to a
// beneficiary of a triggered plan.
type ReleasedShare struct {
	ShareIndex     int    `json:"shareIndex"`
	EncryptedShare []byte `json:"encryptedShare"`
	TrusteeEmail   string `json:"trusteeEmail"`
}

// RevealShares returns the shares of every trustee that approved, to a
// listed beneficiary of a triggered plan. Approval gating is access control
// on top of shares that are already end-to-end opaque to the service.
func (s *Service) RevealShares(ctx context.Context, caller interfaces.Identity, planID string) ([]ReleasedShare, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	bundle, err := s.store.GetPlan(sctx, planID)
	if err != nil {
		return nil, mapStorageErr(err)
	}
	if bundle.Plan.TenantID != caller.TenantID {
		return nil, interfaces.ErrNotFound
	}

	isBeneficiary := false
	for _, b := range bundle.Beneficiaries {
		if b.UserRef == caller.UserID {
			isBeneficiary = true
			break
		}
	}
	if !isBeneficiary {
		return nil, interfaces.ErrNotABeneficiary
	}

	if bundle.Plan.Status != interfaces.PlanStatusTriggered {
		return nil, interfaces.ErrInvalidState
	}

	shares := make([]ReleasedShare, 0, bundle.Plan.Threshold)
	for _, t := range bundle.Trustees {
		if t.HasApproved {
			shares = append(shares, ReleasedShare{
				ShareIndex:     t.ShareIndex,
				EncryptedShare: t.EncryptedShare,
				TrusteeEmail:   t.Email,
			})
		}
	}

	s.emitAudit(ctx, caller, ActionSharesRevealed, planID, map[string]string{
		"sharesReleased": strconv.Itoa(len(shares)),
	})
	return shares, nil
}

// UpdatePlan replaces a plan's definition wholesale. Allowed only while
// active; the replacement resets every approval, since changed trustees or
// thresholds invalidate prior consent.
func (s *Service) UpdatePlan(ctx context.Context, caller interfaces.Identity, planID string, req PlanRequest) (interfaces.PlanBundle, error) {
	if err := req.validate(); err != nil {
		return interfaces.PlanBundle{}, err
	}

	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.loadPlan(ctx, caller, planID)
	if err != nil {
		return interfaces.PlanBundle{}, err
	}
	if current.Plan.OwnerID != caller.UserID {
		return interfaces.PlanBundle{}, interfaces.ErrNotAuthorized
	}
	if !current.Plan.Status.Mutable() {
		return interfaces.PlanBundle{}, interfaces.ErrInvalidState
	}

	trustees, beneficiaries, items := buildChildRows(planID, req)
	updated := interfaces.PlanBundle{
		Plan: interfaces.Plan{
			ID:                planID,
			TenantID:          current.Plan.TenantID,
			OwnerID:           current.Plan.OwnerID,
			Name:              req.Name,
			Description:       req.Description,
			Threshold:         req.Threshold,
			TotalTrustees:     len(trustees),
			WaitingPeriodDays: req.WaitingPeriodDays,
			Status:            interfaces.PlanStatusActive,
			CreatedAt:         current.Plan.CreatedAt,
		},
		Trustees:      trustees,
		Beneficiaries: beneficiaries,
		Items:         items,
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.ReplacePlan(sctx, updated); err != nil {
		return interfaces.PlanBundle{}, fmt.Errorf("failed to replace plan: %w", mapStorageErr(err))
	}

	s.emitAudit(ctx, caller, ActionPlanUpdated, planID, map[string]string{
		"event":     "plan_replaced",
		"threshold": strconv.Itoa(req.Threshold),
		"trustees":  strconv.Itoa(len(trustees)),
	})
	return updated, nil
}

// CancelPlan retires an active plan. Cancelled plans keep their rows for
// the audit trail but can never trigger.
func (s *Service) CancelPlan(ctx context.Context, caller interfaces.Identity, planID string) error {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := s.loadPlan(ctx, caller, planID)
	if err != nil {
		return err
	}
	if bundle.Plan.OwnerID != caller.UserID {
		return interfaces.ErrNotAuthorized
	}

	if err := s.transition(ctx, planID, interfaces.PlanStatusActive, interfaces.PlanStatusCancelled, nil); err != nil {
		return err
	}
	s.emitAudit(ctx, caller, ActionPlanCancelled, planID, nil)
	return nil
}

// CompletePlan closes a triggered plan once recovery has been carried out.
// The owner or any listed beneficiary may complete.
func (s *Service) CompletePlan(ctx context.Context, caller interfaces.Identity, planID string) error {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := s.loadPlan(ctx, caller, planID)
	if err != nil {
		return err
	}
	allowed := bundle.Plan.OwnerID == caller.UserID
	for _, b := range bundle.Beneficiaries {
		if b.UserRef == caller.UserID {
			allowed = true
			break
		}
	}
	if !allowed {
		return interfaces.ErrNotAuthorized
	}

	if err := s.transition(ctx, planID, interfaces.PlanStatusTriggered, interfaces.PlanStatusCompleted, nil); err != nil {
		return err
	}
	s.emitAudit(ctx, caller, ActionPlanCompleted, planID, nil)
	return nil
}

// DeletePlan removes an active plan and all of its child rows atomically.
func (s *Service) DeletePlan(ctx context.Context, caller interfaces.Identity, planID string) error {
	lock := s.planLock(planID)
	lock.Lock()
	defer lock.Unlock()

	bundle, err := s.loadPlan(ctx, caller, planID)
	if err != nil {
		return err
	}
	if bundle.Plan.OwnerID != caller.UserID {
		return interfaces.ErrNotAuthorized
	}
	if bundle.Plan.Status != interfaces.PlanStatusActive {
		return interfaces.ErrInvalidState
	}

	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.DeletePlan(sctx, planID); err != nil {
		return fmt.Errorf("failed to delete plan: %w", mapStorageErr(err))
	}

	s.emitAudit(ctx, caller, ActionPlanDeleted, planID, nil)
	return nil
}

// loadPlan fetches a plan bundle and scopes it to the caller's tenant.
func (s *Service) loadPlan(ctx context.Context, caller interfaces.Identity, planID string) (interfaces.PlanBundle, error) {
	bundle, err := s.reloadPlan(ctx, planID)
	if err != nil {
		return interfaces.PlanBundle{}, err
	}
	if bundle.Plan.TenantID != caller.TenantID {
		return interfaces.PlanBundle{}, interfaces.ErrNotFound
	}
	return bundle, nil
}

func (s *Service) reloadPlan(ctx context.Context, planID string) (interfaces.PlanBundle, error) {
	sctx, cancel := s.withTimeout(ctx)
	defer cancel()
	bundle, err := s.store.GetPlan(sctx, planID)
	if err != nil {
		return interfaces.PlanBundle{}, mapStorageErr(err)
	}
	return bundle, nil
}

package httpserver

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heirloomvault/custody-backend/auditchain"
	"github.com/heirloomvault/custody-backend/inheritance"
	"github.com/heirloomvault/custody-backend/interfaces"
	"github.com/heirloomvault/custody-backend/kms"
)

// Handler implements the custody API endpoints on top of the plan, audit
// and vault services.
type Handler struct {
	plans *inheritance.Service
	audit *auditchain.Service
	vault *kms.Service
	log   *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(plans *inheritance.Service, audit *auditchain.Service, vault *kms.Service, log *slog.Logger) *Handler {
	return &Handler{plans: plans, audit: audit, vault: vault, log: log}
}

// planResponse strips the opaque shares from a bundle. Shares leave the
// service only through the reveal endpoint.
type planResponse struct {
	interfaces.Plan
	Trustees      []interfaces.Trustee         `json:"trustees,omitempty"`
	Beneficiaries []interfaces.Beneficiary     `json:"beneficiaries,omitempty"`
	Items         []interfaces.InheritanceItem `json:"items,omitempty"`
	ApprovedCount int                          `json:"approvedCount"`
}

func toPlanResponse(b interfaces.PlanBundle) planResponse {
	return planResponse{
		Plan:          b.Plan,
		Trustees:      b.Trustees,
		Beneficiaries: b.Beneficiaries,
		Items:         b.Items,
		ApprovedCount: b.ApprovedCount(),
	}
}

func (h *Handler) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req inheritance.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bundle, err := h.plans.CreatePlan(r.Context(), callerIdentity(r), req)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPlanResponse(bundle))
}

func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.plans.ListPlans(r.Context(), callerIdentity(r))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	if plans == nil {
		plans = []interfaces.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.plans.GetPlan(r.Context(), callerIdentity(r), chi.URLParam(r, "planID"))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(bundle))
}

func (h *Handler) HandleUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req inheritance.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	bundle, err := h.plans.UpdatePlan(r.Context(), callerIdentity(r), chi.URLParam(r, "planID"), req)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(bundle))
}

func (h *Handler) HandleDeletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.DeletePlan(r.Context(), callerIdentity(r), chi.URLParam(r, "planID")); err != nil {
		writeError(h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	bundle, err := h.plans.Approve(r.Context(), callerIdentity(r), chi.URLParam(r, "planID"))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(bundle))
}

type triggerRequest struct {
	Reason            string `json:"reason"`
	EmergencyOverride bool   `json:"emergencyOverride"`
}

func (h *Handler) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if r.Body != nil {
		// An empty body means a plain trigger with no reason.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	bundle, err := h.plans.Trigger(r.Context(), callerIdentity(r), chi.URLParam(r, "planID"), req.Reason, req.EmergencyOverride)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanResponse(bundle))
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.CancelPlan(r.Context(), callerIdentity(r), chi.URLParam(r, "planID")); err != nil {
		writeError(h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	if err := h.plans.CompletePlan(r.Context(), callerIdentity(r), chi.URLParam(r, "planID")); err != nil {
		writeError(h.log, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleRevealShares(w http.ResponseWriter, r *http.Request) {
	shares, err := h.plans.RevealShares(r.Context(), callerIdentity(r), chi.URLParam(r, "planID"))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shares": shares})
}

type claimRequest struct {
	Email string `json:"email"`
}

func (h *Handler) HandleClaimTrustee(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claimed, err := h.plans.ClaimTrustee(r.Context(), callerIdentity(r), req.Email)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"claimed": claimed})
}

func (h *Handler) auditFilterFromQuery(r *http.Request) interfaces.AuditFilter {
	q := r.URL.Query()
	filter := interfaces.AuditFilter{
		TenantID:     callerIdentity(r).TenantID,
		UserID:       q.Get("userId"),
		Action:       q.Get("action"),
		ResourceType: q.Get("resourceType"),
		ResourceID:   q.Get("resourceId"),
	}
	if since := q.Get("since"); since != "" {
		if ts, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = ts
		}
	}
	if until := q.Get("until"); until != "" {
		if ts, err := time.Parse(time.RFC3339, until); err == nil {
			filter.Until = ts
		}
	}
	return filter
}

func (h *Handler) HandleAuditQuery(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.Query(r.Context(), h.auditFilterFromQuery(r))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	if entries == nil {
		entries = []interfaces.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) HandleAuditExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="audit.csv"`)
	if err := h.audit.ExportCSV(r.Context(), w, h.auditFilterFromQuery(r)); err != nil {
		// Headers may already be gone; log instead of a half-JSON body.
		h.log.Error("Audit CSV export failed", "err", err)
	}
}

func (h *Handler) HandleAuditVerify(w http.ResponseWriter, r *http.Request) {
	tenantID := callerIdentity(r).TenantID
	verified, err := h.audit.VerifyChain(r.Context(), tenantID)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "entries": verified})
}

func (h *Handler) HandleInitializeVault(w http.ResponseWriter, r *http.Request) {
	secret, ok := vaultSecret(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := h.vault.InitializeVault(r.Context(), callerIdentity(r), secret); err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "initialized"})
}

func (h *Handler) HandleVerifySecret(w http.ResponseWriter, r *http.Request) {
	secret, ok := vaultSecret(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if err := h.vault.VerifySecret(r.Context(), callerIdentity(r), secret); err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// maxContentSize bounds uploaded item content (32 MiB).
const maxContentSize = 32 << 20

func (h *Handler) HandlePutContent(w http.ResponseWriter, r *http.Request) {
	secret, ok := vaultSecret(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxContentSize)
	data, err := io.ReadAll(body)
	if err != nil {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "content too large")
		return
	}

	if err := h.vault.PutContent(r.Context(), callerIdentity(r), secret, chi.URLParam(r, "itemID"), data); err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}

func (h *Handler) HandleGetContent(w http.ResponseWriter, r *http.Request) {
	secret, ok := vaultSecret(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	data, err := h.vault.GetContent(r.Context(), callerIdentity(r), secret, chi.URLParam(r, "itemID"))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

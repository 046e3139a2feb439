package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/heirloomvault/custody-backend/interfaces"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the service error taxonomy onto HTTP statuses. The
// authentication branch deliberately returns one generic body so callers
// cannot tell a wrong secret from a missing record.
func writeError(log *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case interfaces.IsValidation(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, interfaces.ErrAuthenticationFailed):
		writeJSONError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, interfaces.ErrNotAuthorized),
		errors.Is(err, interfaces.ErrNotABeneficiary):
		writeJSONError(w, http.StatusForbidden, "not permitted")
	case errors.Is(err, interfaces.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not found")
	case errors.Is(err, interfaces.ErrAlreadyApproved),
		errors.Is(err, interfaces.ErrInsufficientApprovals),
		errors.Is(err, interfaces.ErrWaitingPeriodActive),
		errors.Is(err, interfaces.ErrInsufficientShares),
		errors.Is(err, interfaces.ErrInvalidState),
		errors.Is(err, interfaces.ErrSaltRecordExists):
		writeJSONError(w, http.StatusConflict, err.Error())
	case interfaces.IsCorruption(err):
		log.Error("Audit chain corruption surfaced to API", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "audit chain corrupted")
	case errors.Is(err, interfaces.ErrStorageTimeout),
		errors.Is(err, interfaces.ErrStorageFailure):
		writeJSONError(w, http.StatusServiceUnavailable, "storage unavailable")
	default:
		log.Error("Unhandled error in API handler", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

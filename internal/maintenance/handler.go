package maintenance

import (
	"context"
	"encoding/json"
	"net/http"

	"hipaa-training/internal/audit"
	"hipaa-training/internal/observability"
)

type Purger interface {
	PurgeExpired(ctx context.Context) (audit.PurgeResult, error)
}

// CleanupHandler lets an external cron trigger the retention purge. Routing
// puts it behind the cron bearer secret.
type CleanupHandler struct {
	purger Purger
	logger *observability.Logger
}

func NewCleanupHandler(purger Purger, logger *observability.Logger) *CleanupHandler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &CleanupHandler{purger: purger, logger: logger}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	result, err := h.purger.PurgeExpired(r.Context())
	if err != nil {
		h.logger.Error("retention_purge_failed", map[string]any{"error": err.Error(), "trigger": "cron"})
		observability.CaptureError("maintenance", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	logResult(h.logger, "cron", result)

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func logResult(logger *observability.Logger, trigger string, result audit.PurgeResult) {
	logger.Info("retention_purge_completed", map[string]any{
		"trigger":                 trigger,
		"deleted_audit_events":    result.DeletedAuditEvents,
		"deleted_failed_attempts": result.DeletedFailedAttempts,
		"deleted_csrf_tokens":     result.DeletedCSRFTokens,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

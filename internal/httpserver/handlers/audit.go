package handlers

import (
	"net/http"
	"strconv"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/store/state"
)

type auditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// Audit returns the most recent audit entries, newest first.
// ?limit=N defaults to 100 and is capped at 1000.
func Audit(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := state.DefaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}

		entries, err := d.Store.Audit().Recent(limit)
		if err != nil {
			d.Logger.Error("failed to read audit log", logger.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to read audit log")
			return
		}
		writeJSON(w, http.StatusOK, auditResponse{Entries: entries})
	}
}

package handlers

import (
	"net/http"

	"github.com/MrSnakeDoc/exposure/internal/httpserver/deps"
	"github.com/MrSnakeDoc/exposure/internal/logger"
)

// ImageUpdates returns the image update report. ?force=1 or ?refresh=1
// waits for a fresh snapshot.
func ImageUpdates(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		force := q.Get("force") == "1" || q.Get("refresh") == "1"

		report, err := d.Updates.Get(r.Context(), force)
		if r.Context().Err() != nil {
			// the timeout middleware (or the gone client) owns the response
			return
		}
		if err != nil {
			d.Logger.Error("image update report unavailable", logger.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

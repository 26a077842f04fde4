package api

import (
	"net/http"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// Trending handles GET /api/trending, serving the latest snapshot.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	entries, err := h.Store.LatestTrendingRun(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []models.TrendingEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

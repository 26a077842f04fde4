package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/coding-cat0-0/streaming-site/internal/engagement"
	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

// SessionByID handles /api/sessions/{id} and its transitions.
func (h *Handler) SessionByID(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/sessions/")
	if len(segments) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id is required"))
		return
	}
	sessionID := segments[0]

	if len(segments) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		session, err := h.Store.GetWatchSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", sessionID))
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	if len(segments) != 2 || r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}

	var session models.WatchSession
	var err error
	switch segments[1] {
	case "pause":
		session, err = h.Tracker.Pause(r.Context(), sessionID)
	case "resume":
		session, err = h.Tracker.Resume(r.Context(), sessionID)
	case "end":
		session, err = h.Tracker.End(r.Context(), sessionID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown transition %q", segments[1]))
		return
	}
	if err != nil {
		writeSessionError(w, sessionID, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func writeSessionError(w http.ResponseWriter, sessionID string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Errorf("session %s not found", sessionID))
	case errors.Is(err, engagement.ErrSessionEnded),
		errors.Is(err, engagement.ErrAlreadyPaused),
		errors.Is(err, engagement.ErrAlreadyPlaying):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

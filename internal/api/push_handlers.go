package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// PushSubscriptions handles POST /api/push/subscriptions: registering a web
// push subscription for the acting user.
func (h *Handler) PushSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	userID := requestUser(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("user identity is required"))
		return
	}

	var payload struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Endpoint) == "" || payload.Keys.P256dh == "" || payload.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("endpoint and keys are required"))
		return
	}

	sub := models.PushSubscription{
		UserID:    userID,
		Endpoint:  strings.TrimSpace(payload.Endpoint),
		P256dh:    payload.Keys.P256dh,
		Auth:      payload.Keys.Auth,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.SavePushSubscription(r.Context(), sub); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

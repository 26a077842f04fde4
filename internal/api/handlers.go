package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coding-cat0-0/streaming-site/internal/engagement"
	"github.com/coding-cat0-0/streaming-site/internal/objectstore"
	"github.com/coding-cat0-0/streaming-site/internal/queue"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

// Handler bundles the dependencies the HTTP surface needs.
type Handler struct {
	Store   storage.Repository
	Objects objectstore.Gateway
	Queue   queue.Queue
	Tracker *engagement.Tracker
	Logger  *slog.Logger

	// MaxUploadBytes bounds accepted upload sizes. Zero means the default.
	MaxUploadBytes int64
}

const defaultMaxUploadBytes = 4 << 30

func NewHandler(store storage.Repository, objects objectstore.Gateway, jobs queue.Queue, tracker *engagement.Tracker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Store:   store,
		Objects: objects,
		Queue:   jobs,
		Tracker: tracker,
		Logger:  logger,
	}
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return defaultMaxUploadBytes
}

// requestUser resolves the acting user. Authentication is terminated upstream;
// the gateway forwards the identity in a header.
func requestUser(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

// pathSegments splits the request path after the prefix into its segments.
func pathSegments(path, prefix string) []string {
	trimmed := strings.TrimPrefix(path, prefix)
	trimmed = strings.Trim(trimmed, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}

package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coding-cat0-0/streaming-site/internal/observability/logging"
)

const (
	requestIDHeader = "X-Request-Id"
	videoIDHeader   = "X-Video-Id"
)

func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, next, newRequestID)
}

func requestIDMiddlewareWithGenerator(logger *slog.Logger, next http.Handler, generate func() string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = generate()
		}

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		if videoID := strings.TrimSpace(r.Header.Get(videoIDHeader)); videoID != "" {
			ctx = logging.ContextWithVideoID(ctx, videoID)
		}
		if logger != nil {
			ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))
		}

		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf[:])
}

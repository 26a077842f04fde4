package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/api"
	"github.com/coding-cat0-0/streaming-site/internal/observability/logging"
	"github.com/coding-cat0-0/streaming-site/internal/serverutil"
)

// Config describes the listening surface of the API server.
type Config struct {
	Addr        string
	TLSCertFile string
	TLSKeyFile  string

	RateLimit RateLimitConfig
	CORS      CORSConfig
	Security  SecurityConfig

	Logger      *slog.Logger
	AuditLogger *slog.Logger

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (cfg Config) withDefaults() Config {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AuditLogger == nil {
		cfg.AuditLogger = cfg.Logger
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return cfg
}

// Server wraps the http.Server with the middleware stack applied.
type Server struct {
	cfg  Config
	http *http.Server
}

// New builds the routed and middleware-wrapped server. The notifications
// handler is the websocket endpoint; pass nil to disable it.
func New(cfg Config, handler *api.Handler, notifications http.Handler) (*Server, error) {
	effective := cfg.withDefaults()

	policy, err := newCORSPolicy(effective.CORS)
	if err != nil {
		return nil, fmt.Errorf("configure CORS: %w", err)
	}
	limiter := newRateLimiter(effective.RateLimit)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handler.Health)
	mux.HandleFunc("/api/videos", handler.Videos)
	mux.HandleFunc("/api/videos/", handler.VideoByID)
	mux.HandleFunc("/api/sessions/", handler.SessionByID)
	mux.HandleFunc("/api/trending", handler.Trending)
	mux.HandleFunc("/api/push/subscriptions", handler.PushSubscriptions)
	if notifications != nil {
		mux.Handle("/ws/notifications", notifications)
	}

	var root http.Handler = mux
	root = loggingMiddleware(effective.Logger, root)
	root = auditMiddleware(effective.AuditLogger, root)
	root = rateLimitMiddleware(limiter, root)
	root = corsMiddleware(policy, effective.Logger, root)
	root = securityHeadersMiddleware(effective.Security, root)
	root = requestIDMiddleware(effective.Logger, root)

	httpServer := &http.Server{
		Addr:              effective.Addr,
		Handler:           root,
		ReadHeaderTimeout: effective.ReadHeaderTimeout,
	}

	return &Server{cfg: effective, http: httpServer}, nil
}

// Handler exposes the fully wrapped handler, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.cfg.Logger.Info("server listening", "addr", s.cfg.Addr, "tls", s.cfg.TLSCertFile != "")
	return serverutil.Run(ctx, serverutil.RunConfig{
		Server:          s.http,
		CertFile:        s.cfg.TLSCertFile,
		KeyFile:         s.cfg.TLSKeyFile,
		ShutdownTimeout: s.cfg.ShutdownTimeout,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		requestLogger := logging.WithContext(r.Context(), logger)
		if requestLogger == nil {
			return
		}
		requestLogger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// auditMiddleware records mutating requests with actor and origin details so
// moderation actions and uploads stay traceable.
func auditMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldAudit(r) {
			next.ServeHTTP(w, r)
			return
		}
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		auditLogger := logging.WithContext(r.Context(), logger)
		if auditLogger == nil {
			return
		}
		auditLogger.Info("audit",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"user", strings.TrimSpace(r.Header.Get("X-User-ID")),
			"client_ip", extractClientIP(r),
		)
	})
}

func shouldAudit(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func extractClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

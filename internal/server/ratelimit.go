package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig bounds request throughput. The global bucket covers every
// API request; the upload limiter throttles video uploads per client IP since
// each accepted upload fans out into transcode work.
type RateLimitConfig struct {
	Disabled bool

	RequestsPerMinute int
	Burst             int

	UploadsPerHour int
	UploadBurst    int

	// Store optionally shares upload counters across replicas. When nil the
	// limiter keeps per-IP state in memory.
	Store tokenStore
}

func (cfg RateLimitConfig) withDefaults() RateLimitConfig {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 600
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.RequestsPerMinute
	}
	if cfg.UploadsPerHour <= 0 {
		cfg.UploadsPerHour = 20
	}
	if cfg.UploadBurst <= 0 {
		cfg.UploadBurst = 5
	}
	return cfg
}

type tokenStore interface {
	Increment(key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

type rateLimiter struct {
	cfg   RateLimitConfig
	clock func() time.Time

	mu      sync.Mutex
	global  *tokenBucket
	uploads map[string]*tokenBucket
	touched map[string]time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	effective := cfg.withDefaults()
	limiter := &rateLimiter{
		cfg:     effective,
		clock:   time.Now,
		uploads: make(map[string]*tokenBucket),
		touched: make(map[string]time.Time),
	}
	limiter.global = newTokenBucket(float64(effective.RequestsPerMinute)/60.0, float64(effective.Burst))
	return limiter
}

// Allow reports whether a generic API request may proceed.
func (l *rateLimiter) Allow() bool {
	if l == nil || l.cfg.Disabled {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.global.take(l.clock())
}

// AllowUpload reports whether the client at ip may start another upload and,
// when denied, how long it should wait before retrying.
func (l *rateLimiter) AllowUpload(ip string) (bool, time.Duration) {
	if l == nil || l.cfg.Disabled {
		return true, 0
	}
	if ip == "" {
		ip = "unknown"
	}

	if l.cfg.Store != nil {
		count, ttl, err := l.cfg.Store.Increment("media:uploads:"+ip, time.Hour)
		if err == nil {
			if count > int64(l.cfg.UploadsPerHour) {
				if ttl <= 0 {
					ttl = time.Hour
				}
				return false, ttl
			}
			return true, 0
		}
		// Fall through to local buckets when the shared store is unreachable.
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	l.cleanupLocked(now)

	bucket, ok := l.uploads[ip]
	if !ok {
		bucket = newTokenBucket(float64(l.cfg.UploadsPerHour)/3600.0, float64(l.cfg.UploadBurst))
		l.uploads[ip] = bucket
	}
	l.touched[ip] = now

	if bucket.take(now) {
		return true, 0
	}
	return false, bucket.timeUntilToken(now)
}

func (l *rateLimiter) cleanupLocked(now time.Time) {
	for ip, seen := range l.touched {
		if now.Sub(seen) > 2*time.Hour {
			delete(l.touched, ip)
			delete(l.uploads, ip)
		}
	}
}

type tokenBucket struct {
	rate     float64
	capacity float64
	tokens   float64
	updated  time.Time
}

func newTokenBucket(rate, capacity float64) *tokenBucket {
	return &tokenBucket{rate: rate, capacity: capacity, tokens: capacity}
}

func (b *tokenBucket) take(now time.Time) bool {
	b.refill(now)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *tokenBucket) refill(now time.Time) {
	if b.updated.IsZero() {
		b.updated = now
		return
	}
	elapsed := now.Sub(b.updated).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.rate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.updated = now
}

func (b *tokenBucket) timeUntilToken(now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= 1 {
		return 0
	}
	if b.rate <= 0 {
		return time.Hour
	}
	missing := 1 - b.tokens
	return time.Duration(missing / b.rate * float64(time.Second))
}

func rateLimitMiddleware(limiter *rateLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		if r.Method == http.MethodPost && r.URL.Path == "/api/videos" {
			ok, retryAfter := limiter.AllowUpload(extractClientIP(r))
			if !ok {
				seconds := int(retryAfter.Round(time.Second).Seconds())
				if seconds < 1 {
					seconds = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				http.Error(w, "upload limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

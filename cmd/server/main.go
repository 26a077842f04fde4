// Command server starts the streaming-site API HTTP service.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coding-cat0-0/streaming-site/internal/api"
	"github.com/coding-cat0-0/streaming-site/internal/engagement"
	"github.com/coding-cat0-0/streaming-site/internal/notify"
	"github.com/coding-cat0-0/streaming-site/internal/objectstore"
	"github.com/coding-cat0-0/streaming-site/internal/observability/logging"
	"github.com/coding-cat0-0/streaming-site/internal/queue"
	"github.com/coding-cat0-0/streaming-site/internal/server"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
	"github.com/coding-cat0-0/streaming-site/internal/trending"
	"github.com/coding-cat0-0/streaming-site/internal/ws"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")

	storageDriver := flag.String("storage-driver", "", "datastore driver (memory or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")

	objectDriver := flag.String("object-driver", "", "object store driver (memory or s3)")
	objectBucket := flag.String("object-bucket", "", "S3 bucket holding uploads and HLS output")
	objectRegion := flag.String("object-region", "", "S3 region")
	objectEndpoint := flag.String("object-endpoint", "", "custom S3 endpoint for S3-compatible stores")
	objectPublicURL := flag.String("object-public-url", "", "public base URL for serving stored objects")

	queueDriver := flag.String("queue-driver", "", "transcode queue driver (memory or redis)")
	redisAddr := flag.String("queue-redis-addr", "", "Redis address for the transcode queue")
	redisAddrs := flag.String("queue-redis-addrs", "", "comma separated Redis addresses for the transcode queue")
	redisUsername := flag.String("queue-redis-username", "", "Redis username for the transcode queue")
	redisPassword := flag.String("queue-redis-password", "", "Redis password for the transcode queue")
	redisStream := flag.String("queue-redis-stream", "", "Redis stream name for transcode jobs")
	redisGroup := flag.String("queue-redis-group", "", "Redis consumer group for transcode jobs")
	redisMasterName := flag.String("queue-redis-master-name", "", "Redis sentinel master name")
	redisPoolSize := flag.Int("queue-redis-pool-size", 0, "maximum Redis connections")
	redisTLSCA := flag.String("queue-redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("queue-redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("queue-redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("queue-redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("queue-redis-tls-skip-verify", false, "skip Redis TLS verification")

	globalRPM := flag.Int("rate-requests-per-minute", 0, "global request rate limit per minute")
	globalBurst := flag.Int("rate-burst", 0, "global rate limit burst allowance")
	uploadsPerHour := flag.Int("rate-uploads-per-hour", 0, "per-IP upload limit per hour")
	uploadBurst := flag.Int("rate-upload-burst", 0, "per-IP upload burst allowance")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for shared upload counters")

	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	mediaOrigin := flag.String("media-origin", "", "CDN origin allowed for media playback in the CSP")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")

	trendingSchedule := flag.String("trending-schedule", "", "cron schedule for trending recomputation")

	vapidPublicKey := flag.String("vapid-public-key", "", "VAPID public key for web push")
	vapidPrivateKey := flag.String("vapid-private-key", "", "VAPID private key for web push")
	pushSubscriber := flag.String("push-subscriber", "", "contact mailto or URL reported to push services")

	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("STREAMING_SITE_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("STREAMING_SITE_LOG_FORMAT")),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := firstNonEmpty(*postgresDSN, os.Getenv("STREAMING_SITE_POSTGRES_DSN"))
	driver := resolveDriver(*storageDriver, "STREAMING_SITE_STORAGE_DRIVER", dsn != "", "postgres", "memory")

	var store storage.Repository
	switch driver {
	case "memory":
		store = storage.NewMemoryRepository()
	case "postgres":
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(1)
		}
		pgStore, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
			DSN:             dsn,
			MaxConns:        int32(resolveInt(*postgresMaxConns, "STREAMING_SITE_POSTGRES_MAX_CONNS")),
			MinConns:        int32(resolveInt(*postgresMinConns, "STREAMING_SITE_POSTGRES_MIN_CONNS")),
			MaxConnLifetime: resolveDuration(*postgresMaxConnLifetime, "STREAMING_SITE_POSTGRES_MAX_CONN_LIFETIME", 0),
			MaxConnIdleTime: resolveDuration(*postgresMaxConnIdle, "STREAMING_SITE_POSTGRES_MAX_CONN_IDLE", 0),
			AcquireTimeout:  resolveDuration(*postgresAcquireTimeout, "STREAMING_SITE_POSTGRES_ACQUIRE_TIMEOUT", 0),
			AppName:         firstNonEmpty(*postgresAppName, os.Getenv("STREAMING_SITE_POSTGRES_APP_NAME")),
		})
		if err != nil {
			logger.Error("failed to open datastore", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(1)
	}

	bucket := firstNonEmpty(*objectBucket, os.Getenv("STREAMING_SITE_OBJECT_BUCKET"))
	objDriver := resolveDriver(*objectDriver, "STREAMING_SITE_OBJECT_DRIVER", bucket != "", "s3", "memory")

	var objects objectstore.Gateway
	switch objDriver {
	case "memory":
		objects = objectstore.NewMemoryGateway(firstNonEmpty(*objectPublicURL, os.Getenv("STREAMING_SITE_OBJECT_PUBLIC_URL")))
	case "s3":
		gateway, err := objectstore.NewS3Gateway(ctx, objectstore.S3Config{
			Bucket:        bucket,
			Region:        firstNonEmpty(*objectRegion, os.Getenv("STREAMING_SITE_OBJECT_REGION")),
			Endpoint:      firstNonEmpty(*objectEndpoint, os.Getenv("STREAMING_SITE_OBJECT_ENDPOINT")),
			PublicBaseURL: firstNonEmpty(*objectPublicURL, os.Getenv("STREAMING_SITE_OBJECT_PUBLIC_URL")),
		})
		if err != nil {
			logger.Error("failed to configure object store", "error", err)
			os.Exit(1)
		}
		objects = gateway
	default:
		logger.Error("unsupported object store driver", "driver", objDriver)
		os.Exit(1)
	}

	queueRedisAddr := firstNonEmpty(*redisAddr, os.Getenv("STREAMING_SITE_QUEUE_REDIS_ADDR"))
	jobDriver := resolveDriver(*queueDriver, "STREAMING_SITE_QUEUE_DRIVER", queueRedisAddr != "", "redis", "memory")

	var jobs queue.Queue
	switch jobDriver {
	case "memory":
		jobs = queue.NewMemoryQueue(0)
	case "redis":
		redisQueue, err := queue.NewRedisQueue(queue.RedisQueueConfig{
			Addr:       queueRedisAddr,
			Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("STREAMING_SITE_QUEUE_REDIS_ADDRS"))),
			Username:   firstNonEmpty(*redisUsername, os.Getenv("STREAMING_SITE_QUEUE_REDIS_USERNAME")),
			Password:   firstNonEmpty(*redisPassword, os.Getenv("STREAMING_SITE_QUEUE_REDIS_PASSWORD")),
			Stream:     firstNonEmpty(*redisStream, os.Getenv("STREAMING_SITE_QUEUE_REDIS_STREAM")),
			Group:      firstNonEmpty(*redisGroup, os.Getenv("STREAMING_SITE_QUEUE_REDIS_GROUP")),
			MasterName: firstNonEmpty(*redisMasterName, os.Getenv("STREAMING_SITE_QUEUE_REDIS_SENTINEL_MASTER")),
			PoolSize:   resolveInt(*redisPoolSize, "STREAMING_SITE_QUEUE_REDIS_POOL_SIZE"),
			Logger:     logging.WithComponent(logger, "queue"),
			TLS: queue.RedisTLSConfig{
				CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("STREAMING_SITE_QUEUE_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("STREAMING_SITE_QUEUE_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("STREAMING_SITE_QUEUE_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("STREAMING_SITE_QUEUE_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "STREAMING_SITE_QUEUE_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to configure transcode queue", "error", err)
			os.Exit(1)
		}
		jobs = redisQueue
	default:
		logger.Error("unsupported queue driver", "driver", jobDriver)
		os.Exit(1)
	}
	defer jobs.Close()

	registry := ws.NewRegistry(logging.WithComponent(logger, "ws"))
	defer registry.CloseAll()

	var push notify.PushSender
	vapidPublic := firstNonEmpty(*vapidPublicKey, os.Getenv("STREAMING_SITE_VAPID_PUBLIC_KEY"))
	vapidPrivate := firstNonEmpty(*vapidPrivateKey, os.Getenv("STREAMING_SITE_VAPID_PRIVATE_KEY"))
	if vapidPublic != "" && vapidPrivate != "" {
		sender, err := notify.NewWebPushSender(store, notify.WebPushConfig{
			Subscriber:      firstNonEmpty(*pushSubscriber, os.Getenv("STREAMING_SITE_PUSH_SUBSCRIBER")),
			VAPIDPublicKey:  vapidPublic,
			VAPIDPrivateKey: vapidPrivate,
		}, logging.WithComponent(logger, "webpush"))
		if err != nil {
			logger.Error("failed to configure web push", "error", err)
			os.Exit(1)
		}
		push = sender
	} else {
		logger.Info("web push disabled, VAPID keys not configured")
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Live:   registry,
		Push:   push,
		Logger: logging.WithComponent(logger, "notify"),
	})

	aggregator := trending.NewAggregator(trending.AggregatorConfig{
		Store:    store,
		Notifier: dispatcher,
		Schedule: firstNonEmpty(*trendingSchedule, os.Getenv("STREAMING_SITE_TRENDING_SCHEDULE")),
		Logger:   logging.WithComponent(logger, "trending"),
	})
	if err := aggregator.Start(); err != nil {
		logger.Error("failed to start trending aggregator", "error", err)
		os.Exit(1)
	}

	tracker := engagement.NewTracker(engagement.TrackerConfig{
		Store:  store,
		Logger: logging.WithComponent(logger, "engagement"),
	})

	handler := api.NewHandler(store, objects, jobs, tracker, logging.WithComponent(logger, "api"))
	handler.MaxUploadBytes = resolveInt64(*maxUploadBytes, "STREAMING_SITE_MAX_UPLOAD_BYTES")

	rateCfg := server.RateLimitConfig{
		RequestsPerMinute: resolveInt(*globalRPM, "STREAMING_SITE_RATE_REQUESTS_PER_MINUTE"),
		Burst:             resolveInt(*globalBurst, "STREAMING_SITE_RATE_BURST"),
		UploadsPerHour:    resolveInt(*uploadsPerHour, "STREAMING_SITE_RATE_UPLOADS_PER_HOUR"),
		UploadBurst:       resolveInt(*uploadBurst, "STREAMING_SITE_RATE_UPLOAD_BURST"),
	}
	if addr := firstNonEmpty(*rateRedisAddr, os.Getenv("STREAMING_SITE_RATE_REDIS_ADDR")); addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		defer client.Close()
		rateCfg.Store = server.NewRedisTokenStore(client)
	}

	srv, err := server.New(server.Config{
		Addr:        firstNonEmpty(*addr, os.Getenv("STREAMING_SITE_ADDR")),
		TLSCertFile: firstNonEmpty(*tlsCert, os.Getenv("STREAMING_SITE_TLS_CERT")),
		TLSKeyFile:  firstNonEmpty(*tlsKey, os.Getenv("STREAMING_SITE_TLS_KEY")),
		RateLimit:   rateCfg,
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("STREAMING_SITE_CORS_ORIGINS"))),
		},
		Security: server.SecurityConfig{
			MediaOrigin: firstNonEmpty(*mediaOrigin, os.Getenv("STREAMING_SITE_MEDIA_ORIGIN")),
		},
		Logger:      logger,
		AuditLogger: logging.WithComponent(logger, "audit"),
	}, handler, registry.Handler())
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := aggregator.Stop(shutdownCtx); err != nil {
		logger.Warn("failed to stop trending aggregator", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to drain notifications", "error", err)
	}

	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// resolveDriver picks a backend driver, preferring the flag, then the
// environment, then inferring from whether backend credentials were supplied.
func resolveDriver(flagValue, envKey string, configured bool, configuredDriver, fallback string) string {
	driver := strings.ToLower(firstNonEmpty(flagValue, os.Getenv(envKey)))
	if driver != "" {
		return driver
	}
	if configured {
		return configuredDriver
	}
	return fallback
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue != 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return 0
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue != 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue != 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if raw := strings.TrimSpace(os.Getenv(envKey)); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
	}
	return false
}

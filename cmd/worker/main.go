// Command worker consumes transcode jobs and produces HLS renditions.
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

	"github.com/coding-cat0-0/streaming-site/internal/media"
	"github.com/coding-cat0-0/streaming-site/internal/notify"
	"github.com/coding-cat0-0/streaming-site/internal/objectstore"
	"github.com/coding-cat0-0/streaming-site/internal/observability/logging"
	"github.com/coding-cat0-0/streaming-site/internal/queue"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
	"github.com/coding-cat0-0/streaming-site/internal/transcode"
)

func main() {
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")

	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")

	objectBucket := flag.String("object-bucket", "", "S3 bucket holding uploads and HLS output")
	objectRegion := flag.String("object-region", "", "S3 region")
	objectEndpoint := flag.String("object-endpoint", "", "custom S3 endpoint for S3-compatible stores")
	objectPublicURL := flag.String("object-public-url", "", "public base URL for serving stored objects")

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

	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobeBinary := flag.String("ffprobe", "", "path to the ffprobe binary")
	workDir := flag.String("work-dir", "", "scratch directory for in-flight jobs")
	workers := flag.Int("workers", 0, "number of jobs processed concurrently")
	encodeParallelism := flag.Int("encode-parallelism", 0, "concurrent ffmpeg processes per job")
	jobTimeout := flag.Duration("job-timeout", 0, "per-job processing deadline")

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
	if dsn == "" {
		logger.Error("postgres DSN is required")
		os.Exit(1)
	}
	store, err := storage.NewPostgresRepository(ctx, storage.PostgresConfig{
		DSN:            dsn,
		AcquireTimeout: resolveDuration(*postgresAcquireTimeout, "STREAMING_SITE_POSTGRES_ACQUIRE_TIMEOUT", 0),
		AppName:        firstNonEmpty(*postgresAppName, os.Getenv("STREAMING_SITE_POSTGRES_APP_NAME")),
	})
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	bucket := firstNonEmpty(*objectBucket, os.Getenv("STREAMING_SITE_OBJECT_BUCKET"))
	if bucket == "" {
		logger.Error("object bucket is required")
		os.Exit(1)
	}
	objects, err := objectstore.NewS3Gateway(ctx, objectstore.S3Config{
		Bucket:        bucket,
		Region:        firstNonEmpty(*objectRegion, os.Getenv("STREAMING_SITE_OBJECT_REGION")),
		Endpoint:      firstNonEmpty(*objectEndpoint, os.Getenv("STREAMING_SITE_OBJECT_ENDPOINT")),
		PublicBaseURL: firstNonEmpty(*objectPublicURL, os.Getenv("STREAMING_SITE_OBJECT_PUBLIC_URL")),
	})
	if err != nil {
		logger.Error("failed to configure object store", "error", err)
		os.Exit(1)
	}

	jobs, err := queue.NewRedisQueue(queue.RedisQueueConfig{
		Addr:       firstNonEmpty(*redisAddr, os.Getenv("STREAMING_SITE_QUEUE_REDIS_ADDR")),
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
	defer jobs.Close()

	encoder := media.NewEncoder()
	encoder.FFmpegBinary = firstNonEmpty(*ffmpegBinary, os.Getenv("STREAMING_SITE_FFMPEG"))
	encoder.FFprobeBinary = firstNonEmpty(*ffprobeBinary, os.Getenv("STREAMING_SITE_FFPROBE"))

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
		Push:   push,
		Logger: logging.WithComponent(logger, "notify"),
	})

	worker := transcode.NewWorker(transcode.WorkerConfig{
		Store:             store,
		Objects:           objects,
		Queue:             jobs,
		Encoder:           encoder,
		Notifier:          dispatcher,
		Workers:           resolveInt(*workers, "STREAMING_SITE_WORKERS"),
		EncodeParallelism: resolveInt(*encodeParallelism, "STREAMING_SITE_ENCODE_PARALLELISM"),
		JobTimeout:        resolveDuration(*jobTimeout, "STREAMING_SITE_JOB_TIMEOUT", 0),
		WorkDir:           firstNonEmpty(*workDir, os.Getenv("STREAMING_SITE_WORK_DIR")),
		Logger:            logging.WithComponent(logger, "transcode"),
	})
	worker.Start()
	logger.Info("transcode worker started")

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := worker.Shutdown(shutdownCtx); err != nil {
		logger.Warn("worker shutdown incomplete", "error", err)
	}
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("failed to drain notifications", "error", err)
	}

	logger.Info("worker stopped")
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

package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/coding-cat0-0/streaming-site/internal/media"
	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/objectstore"
	"github.com/coding-cat0-0/streaming-site/internal/queue"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

// Notifier receives lifecycle events for finished jobs.
type Notifier interface {
	VideoAvailable(ctx context.Context, video models.Video)
	VideoFailed(ctx context.Context, video models.Video, reason string)
}

// WorkerConfig configures the transcode worker pool.
type WorkerConfig struct {
	Store    storage.Repository
	Objects  objectstore.Gateway
	Queue    queue.Queue
	Encoder  *media.Encoder
	Notifier Notifier
	// Workers is the number of jobs processed concurrently.
	Workers int
	// EncodeParallelism bounds concurrent ffmpeg processes per job.
	EncodeParallelism int
	JobTimeout        time.Duration
	// WorkDir hosts per-job scratch directories. Defaults to the OS temp dir.
	WorkDir string
	Logger  *slog.Logger
}

const (
	defaultWorkers           = 2
	defaultEncodeParallelism = 2
	defaultJobTimeout        = 30 * time.Minute
)

// Worker consumes transcode jobs and runs them through the encode pipeline.
type Worker struct {
	store             storage.Repository
	objects           objectstore.Gateway
	queue             queue.Queue
	encoder           *media.Encoder
	notifier          Notifier
	workers           int
	encodeParallelism int
	jobTimeout        time.Duration
	workDir           string
	logger            *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	sub     queue.Subscription
	wg      sync.WaitGroup
}

func NewWorker(cfg WorkerConfig) *Worker {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	parallelism := cfg.EncodeParallelism
	if parallelism <= 0 {
		parallelism = defaultEncodeParallelism
	}
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	encoder := cfg.Encoder
	if encoder == nil {
		encoder = media.NewEncoder()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		store:             cfg.Store,
		objects:           cfg.Objects,
		queue:             cfg.Queue,
		encoder:           encoder,
		notifier:          cfg.Notifier,
		workers:           workers,
		encodeParallelism: parallelism,
		jobTimeout:        timeout,
		workDir:           cfg.WorkDir,
		logger:            logger,
		ctx:               ctx,
		cancel:            cancel,
	}
}

// Start subscribes to the queue and launches the worker pool.
func (w *Worker) Start() {
	if w == nil {
		return
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.sub = w.queue.Subscribe()
	w.mu.Unlock()

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.run()
	}
}

// Shutdown stops accepting deliveries and waits for in-flight jobs.
func (w *Worker) Shutdown(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case delivery, ok := <-w.sub.Deliveries():
			if !ok {
				return
			}
			w.handle(delivery)
		}
	}
}

func (w *Worker) handle(delivery queue.Delivery) {
	job := delivery.Job
	logger := w.logger.With("video_id", job.VideoID, "attempt", job.Attempt)

	ctx, cancel := context.WithTimeout(w.ctx, w.jobTimeout)
	defer cancel()

	video, err := w.store.GetVideo(ctx, job.VideoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Error("job references unknown video, dropping")
			w.settleAck(delivery)
			return
		}
		if w.ctx.Err() != nil {
			logger.Info("job interrupted by shutdown, leaving delivery pending", "error", err)
			return
		}
		logger.Warn("load video failed", "error", err)
		w.settleRetry(delivery, err, logger)
		return
	}
	if video.Status == models.StatusAvailable {
		// Redelivery of a finished job. The artifacts already exist.
		logger.Info("video already available, acking duplicate job")
		w.settleAck(delivery)
		return
	}

	if err := w.process(ctx, job, video, logger); err != nil {
		if w.ctx.Err() != nil {
			// The unacked delivery stays pending; idle reclaim redelivers it.
			logger.Info("job interrupted by shutdown, leaving delivery pending", "error", err)
			return
		}
		if isTerminal(err) {
			w.fail(ctx, video.ID, err, logger)
			w.settleAck(delivery)
			return
		}
		w.settleRetry(delivery, err, logger)
		return
	}
	w.settleAck(delivery)
}

func (w *Worker) process(ctx context.Context, job models.TranscodeJob, video models.Video, logger *slog.Logger) error {
	workspace, err := os.MkdirTemp(w.workDir, "transcode-*")
	if err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.Warn("workspace cleanup failed", "path", workspace, "error", err)
		}
	}()

	sourceKey := job.SourceKey
	if sourceKey == "" {
		sourceKey = video.OriginalKey
	}
	sourcePath := filepath.Join(workspace, "source")
	if err := w.download(ctx, sourceKey, sourcePath); err != nil {
		return err
	}

	info, err := w.encoder.Probe(ctx, sourcePath)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		// Retrying cannot make a corrupt source readable.
		return markTerminal(err)
	}
	ladder := media.SelectLadder(info.Height)
	if len(ladder) == 0 {
		return fmt.Errorf("%w: source height %d", ErrNoRenditions, info.Height)
	}
	logger.Info("encoding", "source_height", info.Height, "renditions", len(ladder))

	outputDir := filepath.Join(workspace, "hls")
	if err := os.Mkdir(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	thumbnailPath := filepath.Join(workspace, "thumbnail.jpg")

	group, encodeCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.encodeParallelism)
	for _, rendition := range ladder {
		rendition := rendition
		group.Go(func() error {
			return w.encoder.EncodeRendition(encodeCtx, sourcePath, outputDir, rendition)
		})
	}
	group.Go(func() error {
		return w.encoder.EncodeAudio(encodeCtx, sourcePath, outputDir)
	})
	group.Go(func() error {
		return w.encoder.CaptureThumbnail(encodeCtx, sourcePath, thumbnailPath)
	})
	if err := group.Wait(); err != nil {
		return err
	}

	masterPath := filepath.Join(outputDir, "master.m3u8")
	if err := os.WriteFile(masterPath, []byte(media.MasterManifest(ladder)), 0o644); err != nil {
		return fmt.Errorf("write master manifest: %w", err)
	}

	thumbnailURL, err := w.uploadFile(ctx, thumbnailPath, objectstore.ThumbnailKey(video.ID))
	if err != nil {
		return err
	}
	manifestURL, renditionURLs, err := w.uploadArtifacts(ctx, outputDir, video.ID, ladder)
	if err != nil {
		return err
	}

	finalized, err := w.store.FinalizeVideo(ctx, video.ID, storage.FinalizeVideoParams{
		Renditions:   renditionURLs,
		ManifestURL:  manifestURL,
		ThumbnailURL: thumbnailURL,
	})
	if err != nil {
		if errors.Is(err, storage.ErrInvalidVideoState) {
			return markTerminal(err)
		}
		return fmt.Errorf("finalize video: %w", err)
	}
	if err := w.store.EnsureEngagement(ctx, finalized.ID, finalized.CreatorID); err != nil {
		logger.Warn("ensure engagement failed", "error", err)
	}

	logger.Info("video available", "manifest_url", manifestURL, "renditions", len(renditionURLs))
	if w.notifier != nil {
		w.notifier.VideoAvailable(ctx, finalized)
	}
	return nil
}

func (w *Worker) download(ctx context.Context, key, destination string) error {
	body, size, err := w.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return markTerminal(fmt.Errorf("source %s: %w", key, err))
		}
		return fmt.Errorf("fetch source %s: %w", key, err)
	}
	defer body.Close()
	if size == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySource, key)
	}

	file, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("create source file: %w", err)
	}
	written, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("download source %s: %w", key, err)
	}
	if written == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySource, key)
	}
	return nil
}

// uploadArtifacts pushes every playlist and segment under outputDir to the
// object store and returns the master manifest URL plus the per-rendition
// playlist URLs.
func (w *Worker) uploadArtifacts(ctx context.Context, outputDir, videoID string, ladder []media.Rendition) (string, map[string]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", nil, fmt.Errorf("read output dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key := objectstore.HLSKey(videoID, entry.Name())
		if _, err := w.uploadFile(ctx, filepath.Join(outputDir, entry.Name()), key); err != nil {
			return "", nil, err
		}
	}

	renditionURLs := make(map[string]string, len(ladder))
	for _, rendition := range ladder {
		renditionURLs[rendition.Name] = w.objects.URL(objectstore.HLSKey(videoID, rendition.Playlist()))
	}
	manifestURL := w.objects.URL(objectstore.HLSKey(videoID, "master.m3u8"))
	return manifestURL, renditionURLs, nil
}

func (w *Worker) uploadFile(ctx context.Context, path, key string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer file.Close()
	url, err := w.objects.Put(ctx, key, file, contentTypeFor(path))
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", key, err)
	}
	return url, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func (w *Worker) fail(ctx context.Context, videoID string, cause error, logger *slog.Logger) {
	logger.Error("transcode failed permanently", "error", cause)
	failed, err := w.store.MarkVideoFailed(ctx, videoID, cause.Error())
	if err != nil {
		logger.Error("mark video failed errored", "error", err)
		return
	}
	if w.notifier != nil {
		w.notifier.VideoFailed(ctx, failed, cause.Error())
	}
}

func (w *Worker) settleAck(delivery queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.sub.Ack(ctx, delivery); err != nil {
		w.logger.Warn("ack failed", "delivery_id", delivery.ID, "error", err)
	}
}

func (w *Worker) settleRetry(delivery queue.Delivery, cause error, logger *slog.Logger) {
	if delivery.Job.Attempt+1 >= queue.MaxAttempts {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.fail(ctx, delivery.Job.VideoID, fmt.Errorf("retries exhausted: %w", cause), logger)
		w.settleAck(delivery)
		return
	}
	logger.Warn("transcode failed, requeueing", "error", cause)
	settleCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.sub.Requeue(settleCtx, delivery); err != nil {
		logger.Error("requeue failed", "delivery_id", delivery.ID, "error", err)
	}
}

// Package notify fans lifecycle events out to users: over a live websocket
// when one is open, falling back to web push for offline users.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// Event is the payload delivered to clients.
type Event struct {
	Type      string    `json:"type"`
	VideoID   string    `json:"videoId,omitempty"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	EventVideoAvailable = "video_available"
	EventVideoFailed    = "video_failed"
	EventVideoTrending  = "video_trending"
)

// LiveSender delivers to connected websocket clients.
type LiveSender interface {
	IsConnected(userID string) bool
	Send(userID string, payload []byte) error
}

// PushSender delivers to offline users via web push.
type PushSender interface {
	Push(ctx context.Context, userID string, payload []byte) error
}

// DispatcherConfig configures the notification dispatcher.
type DispatcherConfig struct {
	Live    LiveSender
	Push    PushSender
	Workers int
	Buffer  int
	Logger  *slog.Logger
}

const (
	defaultNotifyWorkers = 2
	defaultNotifyBuffer  = 256
)

// Dispatcher queues events and delivers them from a small worker pool. The
// queue is bounded; when it is full events are dropped and logged rather than
// blocking the producer.
type Dispatcher struct {
	live   LiveSender
	push   PushSender
	logger *slog.Logger

	queue chan envelope
	wg    sync.WaitGroup

	mu      sync.Mutex
	started bool
	closed  bool
}

type envelope struct {
	userID string
	event  Event
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultNotifyWorkers
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = defaultNotifyBuffer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		live:   cfg.Live,
		push:   cfg.Push,
		logger: logger,
		queue:  make(chan envelope, buffer),
	}
	d.start(workers)
	return d
}

func (d *Dispatcher) start(workers int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

// Shutdown stops accepting events and waits for queued deliveries.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify queues an event for the user. Full queue drops the event.
func (d *Dispatcher) Notify(userID string, event Event) {
	if userID == "" {
		return
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return
	}
	select {
	case d.queue <- envelope{userID: userID, event: event}:
	default:
		d.logger.Warn("notification queue full, dropping event", "user_id", userID, "type", event.Type)
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for env := range d.queue {
		d.deliver(env)
	}
}

func (d *Dispatcher) deliver(env envelope) {
	payload, err := json.Marshal(env.event)
	if err != nil {
		d.logger.Error("encode notification failed", "user_id", env.userID, "error", err)
		return
	}

	if d.live != nil && d.live.IsConnected(env.userID) {
		if err := d.live.Send(env.userID, payload); err == nil {
			return
		} else {
			d.logger.Warn("live delivery failed, falling back to push", "user_id", env.userID, "error", err)
		}
	}

	if d.push == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.push.Push(ctx, env.userID, payload); err != nil {
		d.logger.Warn("push delivery failed", "user_id", env.userID, "error", err)
	}
}

// VideoAvailable notifies the creator that transcoding finished.
func (d *Dispatcher) VideoAvailable(_ context.Context, video models.Video) {
	d.Notify(video.CreatorID, Event{
		Type:    EventVideoAvailable,
		VideoID: video.ID,
		Title:   video.Title,
		Message: "Your video is ready to watch",
	})
}

// VideoFailed notifies the creator that transcoding failed permanently.
func (d *Dispatcher) VideoFailed(_ context.Context, video models.Video, reason string) {
	d.Notify(video.CreatorID, Event{
		Type:    EventVideoFailed,
		VideoID: video.ID,
		Title:   video.Title,
		Message: "Processing failed: " + reason,
	})
}

// VideoTrending notifies the creator that their video entered the trending set.
func (d *Dispatcher) VideoTrending(_ context.Context, entry models.TrendingEntry) {
	d.Notify(entry.CreatorID, Event{
		Type:    EventVideoTrending,
		VideoID: entry.VideoID,
		Message: "Your video is trending",
	})
}

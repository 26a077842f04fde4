// Package engagement tracks watch sessions and maintains per-video counters.
// A session moves through play, pause, resume, and end. The view counter
// increments once per open (video, viewer) pair; accumulated watch time is
// added to the video's counters when the session ends.
package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

var (
	// ErrSessionEnded is returned when operating on a session that already ended.
	ErrSessionEnded = errors.New("engagement: session already ended")
	// ErrAlreadyPaused is returned when pausing a session that is not playing.
	ErrAlreadyPaused = errors.New("engagement: session already paused")
	// ErrAlreadyPlaying is returned when resuming a session that is playing.
	ErrAlreadyPlaying = errors.New("engagement: session already playing")
	// ErrVideoNotAvailable is returned when starting playback on a video that
	// has not finished transcoding.
	ErrVideoNotAvailable = errors.New("engagement: video not available")
)

// TrackerConfig configures the watch-session tracker.
type TrackerConfig struct {
	Store  storage.Repository
	Logger *slog.Logger
	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Tracker serialises session transitions per key so concurrent requests for
// the same viewer cannot double-count views or lose flushed intervals.
type Tracker struct {
	store  storage.Repository
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*keyedLock
}

// keyedLock is a mutex with a holder count. The tracker drops the map entry
// once the last holder releases, so the table stays bounded by in-flight
// requests instead of growing with every session ever seen.
type keyedLock struct {
	sync.Mutex
	refs int
}

func NewTracker(cfg TrackerConfig) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{
		store:  cfg.Store,
		logger: logger,
		now:    now,
		locks:  make(map[string]*keyedLock),
	}
}

func (t *Tracker) acquire(key string) *keyedLock {
	t.mu.Lock()
	lock, ok := t.locks[key]
	if !ok {
		lock = &keyedLock{}
		t.locks[key] = lock
	}
	lock.refs++
	t.mu.Unlock()

	lock.Lock()
	return lock
}

func (t *Tracker) release(key string, lock *keyedLock) {
	lock.Unlock()
	t.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(t.locks, key)
	}
	t.mu.Unlock()
}

// Play opens a watch session for the viewer. If the viewer already has an
// open session on the video it is returned unchanged; otherwise a new session
// is created, the view counter increments, and a history entry is recorded.
func (t *Tracker) Play(ctx context.Context, videoID, viewerID string) (models.WatchSession, error) {
	video, err := t.store.GetVideo(ctx, videoID)
	if err != nil {
		return models.WatchSession{}, err
	}
	if video.Status != models.StatusAvailable {
		return models.WatchSession{}, fmt.Errorf("%w: status %s", ErrVideoNotAvailable, video.Status)
	}

	key := "play:" + videoID + ":" + viewerID
	lock := t.acquire(key)
	defer t.release(key, lock)

	existing, err := t.store.OpenWatchSession(ctx, videoID, viewerID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.WatchSession{}, err
	}

	now := t.now()
	session := models.WatchSession{
		ID:         uuid.NewString(),
		VideoID:    videoID,
		ViewerID:   viewerID,
		CreatorID:  video.CreatorID,
		StartTime:  now,
		LastResume: &now,
	}
	if err := t.store.CreateWatchSession(ctx, session); err != nil {
		if errors.Is(err, storage.ErrOpenSession) {
			// Another replica opened the pair first; reuse its session.
			return t.store.OpenWatchSession(ctx, videoID, viewerID)
		}
		return models.WatchSession{}, err
	}

	if err := t.store.EnsureEngagement(ctx, videoID, video.CreatorID); err != nil {
		t.logger.Warn("ensure engagement failed", "video_id", videoID, "error", err)
	}
	if err := t.store.AddEngagement(ctx, videoID, storage.EngagementDelta{Views: 1}); err != nil {
		t.logger.Warn("view increment failed", "video_id", videoID, "error", err)
	}
	if err := t.store.AppendHistory(ctx, models.HistoryEntry{
		ViewerID:  viewerID,
		VideoID:   videoID,
		VideoURL:  video.ManifestURL,
		WatchedAt: now,
	}); err != nil {
		t.logger.Warn("history append failed", "video_id", videoID, "error", err)
	}
	return session, nil
}

// Pause flushes the running interval into the session's accumulated duration.
func (t *Tracker) Pause(ctx context.Context, sessionID string) (models.WatchSession, error) {
	key := "session:" + sessionID
	lock := t.acquire(key)
	defer t.release(key, lock)

	session, err := t.store.GetWatchSession(ctx, sessionID)
	if err != nil {
		return models.WatchSession{}, err
	}
	if session.Ended() {
		return models.WatchSession{}, ErrSessionEnded
	}
	if session.LastResume == nil {
		return models.WatchSession{}, ErrAlreadyPaused
	}

	session.DurationSeconds += intervalSeconds(*session.LastResume, t.now())
	session.LastResume = nil
	if err := t.store.UpdateWatchSession(ctx, session); err != nil {
		return models.WatchSession{}, err
	}
	return session, nil
}

// Resume restarts the playing interval after a pause.
func (t *Tracker) Resume(ctx context.Context, sessionID string) (models.WatchSession, error) {
	key := "session:" + sessionID
	lock := t.acquire(key)
	defer t.release(key, lock)

	session, err := t.store.GetWatchSession(ctx, sessionID)
	if err != nil {
		return models.WatchSession{}, err
	}
	if session.Ended() {
		return models.WatchSession{}, ErrSessionEnded
	}
	if session.LastResume != nil {
		return models.WatchSession{}, ErrAlreadyPlaying
	}

	now := t.now()
	session.LastResume = &now
	if err := t.store.UpdateWatchSession(ctx, session); err != nil {
		return models.WatchSession{}, err
	}
	return session, nil
}

// End closes the session, flushing any running interval, and credits the
// accumulated duration to the video's watch time.
func (t *Tracker) End(ctx context.Context, sessionID string) (models.WatchSession, error) {
	key := "session:" + sessionID
	lock := t.acquire(key)
	defer t.release(key, lock)

	session, err := t.store.GetWatchSession(ctx, sessionID)
	if err != nil {
		return models.WatchSession{}, err
	}
	if session.Ended() {
		return models.WatchSession{}, ErrSessionEnded
	}

	now := t.now()
	if session.LastResume != nil {
		session.DurationSeconds += intervalSeconds(*session.LastResume, now)
		session.LastResume = nil
	}
	session.EndTime = &now
	if err := t.store.UpdateWatchSession(ctx, session); err != nil {
		return models.WatchSession{}, err
	}

	if err := t.store.AddEngagement(ctx, session.VideoID, storage.EngagementDelta{
		WatchTimeSeconds: session.DurationSeconds,
	}); err != nil {
		t.logger.Warn("watch time credit failed", "video_id", session.VideoID, "error", err)
	}
	return session, nil
}

func intervalSeconds(from, to time.Time) int64 {
	seconds := int64(to.Sub(from) / time.Second)
	if seconds < 0 {
		return 0
	}
	return seconds
}

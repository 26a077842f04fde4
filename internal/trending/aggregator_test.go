package trending

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

type captureNotifier struct {
	mu      sync.Mutex
	entries []models.TrendingEntry
}

func (n *captureNotifier) VideoTrending(_ context.Context, entry models.TrendingEntry) {
	n.mu.Lock()
	n.entries = append(n.entries, entry)
	n.mu.Unlock()
}

func seedSessions(t *testing.T, repo *storage.MemoryRepository, videoID, creatorID string, sessions int, secondsEach int64) {
	t.Helper()
	now := time.Now().UTC()
	for i := 0; i < sessions; i++ {
		end := now
		session := models.WatchSession{
			ID:              videoID + "-" + creatorID + "-" + string(rune('a'+i)),
			VideoID:         videoID,
			ViewerID:        "viewer",
			CreatorID:       creatorID,
			StartTime:       now,
			EndTime:         &end,
			DurationSeconds: secondsEach,
		}
		if err := repo.CreateWatchSession(context.Background(), session); err != nil {
			t.Fatalf("seed session: %v", err)
		}
	}
}

func TestScore(t *testing.T) {
	if got := Score(3, 120); got != 5 {
		t.Fatalf("expected score 5, got %v", got)
	}
	if got := Score(0, 0); got != 0 {
		t.Fatalf("expected zero score, got %v", got)
	}
}

func TestRunOnceKeepsVideosNearLeader(t *testing.T) {
	repo := storage.NewMemoryRepository()
	notifier := &captureNotifier{}
	aggregator := NewAggregator(AggregatorConfig{Store: repo, Notifier: notifier})
	ctx := context.Background()

	// Scores: v-1 = 10, v-2 = 8, v-3 = 2. The cutoff at 80% of 10 keeps the
	// first two.
	seedSessions(t, repo, "v-1", "c-1", 5, 60)
	seedSessions(t, repo, "v-2", "c-2", 4, 60)
	seedSessions(t, repo, "v-3", "c-3", 1, 60)

	entries, err := aggregator.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 trending entries, got %d", len(entries))
	}
	if entries[0].VideoID != "v-1" || entries[1].VideoID != "v-2" {
		t.Fatalf("unexpected order: %s, %s", entries[0].VideoID, entries[1].VideoID)
	}
	if entries[0].Score != 10 || entries[1].Score != 8 {
		t.Fatalf("unexpected scores: %v, %v", entries[0].Score, entries[1].Score)
	}
	if entries[0].RunID == "" || entries[0].RunID != entries[1].RunID {
		t.Fatal("entries must share a run ID")
	}

	stored, err := repo.LatestTrendingRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected snapshot persisted, got %d entries", len(stored))
	}

	notifier.mu.Lock()
	notified := len(notifier.entries)
	notifier.mu.Unlock()
	if notified != 2 {
		t.Fatalf("expected 2 creator notifications, got %d", notified)
	}
}

func TestRunOnceSingleVideoTrends(t *testing.T) {
	repo := storage.NewMemoryRepository()
	aggregator := NewAggregator(AggregatorConfig{Store: repo})

	seedSessions(t, repo, "v-1", "c-1", 2, 90)

	entries, err := aggregator.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(entries) != 1 || entries[0].VideoID != "v-1" {
		t.Fatalf("expected the only watched video to trend, got %+v", entries)
	}
}

func TestRunOnceNoWatchDataNoEntries(t *testing.T) {
	repo := storage.NewMemoryRepository()
	aggregator := NewAggregator(AggregatorConfig{Store: repo})

	entries, err := aggregator.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}

	stored, err := repo.LatestTrendingRun(context.Background())
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("empty run must not be persisted, got %d entries", len(stored))
	}
}

func TestRunOnceZeroDurationSessionsStillScore(t *testing.T) {
	repo := storage.NewMemoryRepository()
	aggregator := NewAggregator(AggregatorConfig{Store: repo})

	// A session with no accumulated time still counts as one point.
	seedSessions(t, repo, "v-1", "c-1", 1, 0)

	entries, err := aggregator.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(entries) != 1 || entries[0].Score != 1 {
		t.Fatalf("expected single entry with score 1, got %+v", entries)
	}
}

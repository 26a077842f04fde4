// Package trending periodically scores videos from watch-session aggregates
// and publishes a versioned snapshot of the leaders.
package trending

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

// threshold keeps videos scoring at least this fraction of the leader.
const threshold = 0.8

// DefaultSchedule runs the aggregator every six hours.
const DefaultSchedule = "@every 6h"

// Notifier is told about each video entering the trending set.
type Notifier interface {
	VideoTrending(ctx context.Context, entry models.TrendingEntry)
}

// AggregatorConfig configures the trending aggregator.
type AggregatorConfig struct {
	Store    storage.Repository
	Notifier Notifier
	Schedule string
	Logger   *slog.Logger
	// Now overrides the clock. Used by tests.
	Now func() time.Time
}

// Aggregator computes trending snapshots on a cron schedule.
type Aggregator struct {
	store    storage.Repository
	notifier Notifier
	schedule string
	logger   *slog.Logger
	now      func() time.Time

	cron *cron.Cron
}

func NewAggregator(cfg AggregatorConfig) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Aggregator{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		schedule: schedule,
		logger:   logger,
		now:      now,
	}
}

// Start registers the cron job and begins scheduling runs.
func (a *Aggregator) Start() error {
	if a.cron != nil {
		return nil
	}
	runner := cron.New()
	_, err := runner.AddFunc(a.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := a.RunOnce(ctx); err != nil {
			a.logger.Error("trending run failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("register trending schedule %q: %w", a.schedule, err)
	}
	a.cron = runner
	runner.Start()
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (a *Aggregator) Stop(ctx context.Context) error {
	if a.cron == nil {
		return nil
	}
	stopped := a.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Score computes a video's trending score from its session count and summed
// watch duration: one point per session plus one per watched minute.
func Score(sessions, durationSeconds int64) float64 {
	return float64(sessions) + float64(durationSeconds)/60
}

// RunOnce computes and persists a single trending snapshot. Videos scoring at
// least 80% of the top score make the cut; when nobody has been watched the
// snapshot is empty and nothing is saved.
func (a *Aggregator) RunOnce(ctx context.Context) ([]models.TrendingEntry, error) {
	aggregates, err := a.store.WatchAggregates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load watch aggregates: %w", err)
	}

	maxScore := 0.0
	scores := make([]float64, len(aggregates))
	for i, agg := range aggregates {
		scores[i] = Score(agg.Sessions, agg.DurationSeconds)
		if scores[i] > maxScore {
			maxScore = scores[i]
		}
	}
	if maxScore <= 0 {
		a.logger.Info("trending run produced no entries")
		return nil, nil
	}

	runID := uuid.NewString()
	computedAt := a.now()
	cutoff := threshold * maxScore
	var entries []models.TrendingEntry
	for i, agg := range aggregates {
		if scores[i] < cutoff {
			continue
		}
		entries = append(entries, models.TrendingEntry{
			ID:              uuid.NewString(),
			RunID:           runID,
			CreatorID:       agg.CreatorID,
			VideoID:         agg.VideoID,
			Views:           agg.Sessions,
			DurationSeconds: agg.DurationSeconds,
			Score:           scores[i],
			ComputedAt:      computedAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Score > entries[j].Score })

	if err := a.store.SaveTrendingRun(ctx, entries); err != nil {
		return nil, fmt.Errorf("save trending run: %w", err)
	}
	a.logger.Info("trending run saved", "run_id", runID, "entries", len(entries), "max_score", maxScore)

	if a.notifier != nil {
		for _, entry := range entries {
			a.notifier.VideoTrending(ctx, entry)
		}
	}
	return entries, nil
}

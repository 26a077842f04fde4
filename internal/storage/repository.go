// Package storage persists the entities owned by the media pipeline: videos,
// watch sessions, engagement counters, trending snapshots, watch history,
// comments, and push subscriptions. Two implementations are provided: an
// in-memory repository for tests and single-process deployments, and a
// Postgres repository backed by pgx.
package storage

import (
	"context"
	"errors"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrInvalidVideoState is returned when a video transition would violate the
// lifecycle invariants, for example finalizing a video without a manifest.
var ErrInvalidVideoState = errors.New("storage: invalid video state")

// ErrOpenSession is returned when creating a watch session while the viewer
// already has one open on the same video.
var ErrOpenSession = errors.New("storage: open session exists")

// CreateVideoParams describes a new upload entering the pipeline. ID is
// optional; when empty the repository generates one.
type CreateVideoParams struct {
	ID          string
	CreatorID   string
	Title       string
	Description string
	Category    string
	Tags        []string
	OriginalKey string
}

// FinalizeVideoParams carries the artifact locations produced by a successful
// transcode. Finalization is the single commit point: the repository applies
// all fields and the available status in one write.
type FinalizeVideoParams struct {
	Renditions   map[string]string
	ManifestURL  string
	ThumbnailURL string
}

// EngagementDelta is applied atomically to a video's counters. Fields are
// added to the stored values; zero fields leave counters untouched.
type EngagementDelta struct {
	Views            int64
	Likes            int64
	Dislikes         int64
	Comments         int64
	Subscribers      int64
	WatchTimeSeconds int64
}

// WatchAggregate is the per-video grouping the trending aggregator consumes:
// the number of watch sessions and the summed accumulated duration.
type WatchAggregate struct {
	VideoID         string
	CreatorID       string
	Sessions        int64
	DurationSeconds int64
}

// Repository exposes the datastore operations required by the transcode
// worker, the watch-session tracker, the trending aggregator, and the API
// handlers.
type Repository interface {
	Ping(ctx context.Context) error

	CreateVideo(ctx context.Context, params CreateVideoParams) (models.Video, error)
	GetVideo(ctx context.Context, id string) (models.Video, error)
	FinalizeVideo(ctx context.Context, id string, params FinalizeVideoParams) (models.Video, error)
	MarkVideoFailed(ctx context.Context, id, reason string) (models.Video, error)

	CreateWatchSession(ctx context.Context, session models.WatchSession) error
	GetWatchSession(ctx context.Context, id string) (models.WatchSession, error)
	OpenWatchSession(ctx context.Context, videoID, viewerID string) (models.WatchSession, error)
	UpdateWatchSession(ctx context.Context, session models.WatchSession) error
	WatchAggregates(ctx context.Context) ([]WatchAggregate, error)

	EnsureEngagement(ctx context.Context, videoID, creatorID string) error
	AddEngagement(ctx context.Context, videoID string, delta EngagementDelta) error
	GetEngagement(ctx context.Context, videoID string) (models.EngagementCounters, error)

	AppendHistory(ctx context.Context, entry models.HistoryEntry) error

	SaveTrendingRun(ctx context.Context, entries []models.TrendingEntry) error
	LatestTrendingRun(ctx context.Context) ([]models.TrendingEntry, error)

	AddComment(ctx context.Context, comment models.Comment) error
	ListReplies(ctx context.Context, parentID string) ([]models.Comment, error)
	DeleteComment(ctx context.Context, id string) (int, error)

	SavePushSubscription(ctx context.Context, sub models.PushSubscription) error
	GetPushSubscription(ctx context.Context, userID string) (models.PushSubscription, error)
}

package models

import (
	"strings"
	"time"
)

// VideoStatus tracks a video through the transcode lifecycle. A video is
// created in StatusProcessing by the ingest endpoint and moved to
// StatusAvailable or StatusFailed exclusively by the transcode worker.
type VideoStatus string

const (
	StatusProcessing VideoStatus = "processing"
	StatusAvailable  VideoStatus = "available"
	StatusFailed     VideoStatus = "failed"
)

type Video struct {
	ID           string            `json:"id"`
	CreatorID    string            `json:"creatorId"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	Category     string            `json:"category,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	OriginalKey  string            `json:"originalKey"`
	Renditions   map[string]string `json:"renditions,omitempty"`
	ManifestURL  string            `json:"manifestUrl,omitempty"`
	ThumbnailURL string            `json:"thumbnailUrl,omitempty"`
	Status       VideoStatus       `json:"status"`
	Error        string            `json:"error,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// RenditionURL resolves a single rendition by quality label, ignoring case.
func (v Video) RenditionURL(label string) (string, bool) {
	for name, url := range v.Renditions {
		if strings.EqualFold(name, label) {
			return url, url != ""
		}
	}
	return "", false
}

// TranscodeJob is the unit of work carried by the job queue. Attempt counts
// deliveries: the first run carries Attempt 0 and each retry re-enqueues the
// job with Attempt incremented.
type TranscodeJob struct {
	VideoID    string    `json:"videoId"`
	SourceKey  string    `json:"sourceKey"`
	Bucket     string    `json:"bucket"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// WatchSession records one viewing episode of one video by one viewer.
// LastResume is nil while the session is paused; EndTime is nil while the
// session is open. DurationSeconds only ever grows and is the sum of the
// closed play intervals.
type WatchSession struct {
	ID              string     `json:"id"`
	VideoID         string     `json:"videoId"`
	ViewerID        string     `json:"viewerId"`
	CreatorID       string     `json:"creatorId"`
	StartTime       time.Time  `json:"startTime"`
	LastResume      *time.Time `json:"lastResume,omitempty"`
	EndTime         *time.Time `json:"endTime,omitempty"`
	DurationSeconds int64      `json:"durationSeconds"`
}

// Ended reports whether the session reached its terminal state.
func (s WatchSession) Ended() bool {
	return s.EndTime != nil
}

// EngagementCounters aggregates per-video interaction totals. Counters are
// incremented in place and never reset after creation.
type EngagementCounters struct {
	VideoID          string `json:"videoId"`
	CreatorID        string `json:"creatorId"`
	Views            int64  `json:"views"`
	Likes            int64  `json:"likes"`
	Dislikes         int64  `json:"dislikes"`
	Comments         int64  `json:"comments"`
	Subscribers      int64  `json:"subscribers"`
	WatchTimeSeconds int64  `json:"watchTimeSeconds"`
}

// TrendingEntry is one row of a trending snapshot. Entries from the same
// aggregator run share a RunID; runs are append-only and readers consume the
// latest run.
type TrendingEntry struct {
	ID              string    `json:"id"`
	RunID           string    `json:"runId"`
	CreatorID       string    `json:"creatorId"`
	VideoID         string    `json:"videoId"`
	Views           int64     `json:"views"`
	DurationSeconds int64     `json:"durationSeconds"`
	Score           float64   `json:"score"`
	ComputedAt      time.Time `json:"computedAt"`
}

// HistoryEntry is an append-only record of a viewer starting playback.
type HistoryEntry struct {
	ID        string    `json:"id"`
	ViewerID  string    `json:"viewerId"`
	VideoID   string    `json:"videoId"`
	VideoURL  string    `json:"videoUrl,omitempty"`
	WatchedAt time.Time `json:"watchedAt"`
}

// Comment models the reply tree with an explicit parent reference. Children
// are discovered through the repository's parent index rather than through
// object links, so deletions walk the index.
type Comment struct {
	ID        string    `json:"id"`
	VideoID   string    `json:"videoId"`
	UserID    string    `json:"userId"`
	ParentID  *string   `json:"parentId,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// PushSubscription holds the Web Push delivery coordinates for one user, used
// by the offline notification sink.
type PushSubscription struct {
	UserID    string    `json:"userId"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"createdAt"`
}

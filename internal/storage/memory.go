package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// MemoryRepository keeps all entities in process memory. It is safe for
// concurrent use and is the default store for tests and development.
type MemoryRepository struct {
	mu sync.RWMutex

	videos        map[string]models.Video
	sessions      map[string]models.WatchSession
	engagement    map[string]models.EngagementCounters
	history       []models.HistoryEntry
	trending      []models.TrendingEntry
	latestRunID   string
	comments      map[string]models.Comment
	replyIndex    map[string][]string
	subscriptions map[string]models.PushSubscription
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		videos:        make(map[string]models.Video),
		sessions:      make(map[string]models.WatchSession),
		engagement:    make(map[string]models.EngagementCounters),
		comments:      make(map[string]models.Comment),
		replyIndex:    make(map[string][]string),
		subscriptions: make(map[string]models.PushSubscription),
	}
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) CreateVideo(_ context.Context, params CreateVideoParams) (models.Video, error) {
	if strings.TrimSpace(params.CreatorID) == "" {
		return models.Video{}, fmt.Errorf("creator id is required")
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	video := models.Video{
		ID:          id,
		CreatorID:   params.CreatorID,
		Title:       strings.TrimSpace(params.Title),
		Description: params.Description,
		Category:    params.Category,
		Tags:        append([]string(nil), params.Tags...),
		OriginalKey: params.OriginalKey,
		Status:      models.StatusProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.mu.Lock()
	r.videos[video.ID] = video
	r.mu.Unlock()
	return cloneVideo(video), nil
}

func (r *MemoryRepository) GetVideo(_ context.Context, id string) (models.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	video, ok := r.videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	return cloneVideo(video), nil
}

func (r *MemoryRepository) FinalizeVideo(_ context.Context, id string, params FinalizeVideoParams) (models.Video, error) {
	if err := validateFinalize(params); err != nil {
		return models.Video{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	video.Renditions = cloneStringMap(params.Renditions)
	video.ManifestURL = params.ManifestURL
	video.ThumbnailURL = params.ThumbnailURL
	video.Status = models.StatusAvailable
	video.Error = ""
	video.UpdatedAt = time.Now().UTC()
	r.videos[id] = video
	return cloneVideo(video), nil
}

func (r *MemoryRepository) MarkVideoFailed(_ context.Context, id, reason string) (models.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	video, ok := r.videos[id]
	if !ok {
		return models.Video{}, ErrNotFound
	}
	video.Status = models.StatusFailed
	video.Error = strings.TrimSpace(reason)
	video.UpdatedAt = time.Now().UTC()
	r.videos[id] = video
	return cloneVideo(video), nil
}

func (r *MemoryRepository) CreateWatchSession(_ context.Context, session models.WatchSession) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.VideoID == session.VideoID && existing.ViewerID == session.ViewerID && existing.EndTime == nil {
			return fmt.Errorf("%w: viewer %s on video %s", ErrOpenSession, session.ViewerID, session.VideoID)
		}
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *MemoryRepository) GetWatchSession(_ context.Context, id string) (models.WatchSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return models.WatchSession{}, ErrNotFound
	}
	return cloneSession(session), nil
}

func (r *MemoryRepository) OpenWatchSession(_ context.Context, videoID, viewerID string) (models.WatchSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.VideoID == videoID && session.ViewerID == viewerID && session.EndTime == nil {
			return cloneSession(session), nil
		}
	}
	return models.WatchSession{}, ErrNotFound
}

func (r *MemoryRepository) UpdateWatchSession(_ context.Context, session models.WatchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *MemoryRepository) WatchAggregates(_ context.Context) ([]WatchAggregate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	grouped := make(map[string]*WatchAggregate)
	for _, session := range r.sessions {
		agg, ok := grouped[session.VideoID]
		if !ok {
			agg = &WatchAggregate{VideoID: session.VideoID, CreatorID: session.CreatorID}
			grouped[session.VideoID] = agg
		}
		agg.Sessions++
		agg.DurationSeconds += session.DurationSeconds
	}
	out := make([]WatchAggregate, 0, len(grouped))
	for _, agg := range grouped {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out, nil
}

func (r *MemoryRepository) EnsureEngagement(_ context.Context, videoID, creatorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engagement[videoID]; !ok {
		r.engagement[videoID] = models.EngagementCounters{VideoID: videoID, CreatorID: creatorID}
	}
	return nil
}

func (r *MemoryRepository) AddEngagement(_ context.Context, videoID string, delta EngagementDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	counters, ok := r.engagement[videoID]
	if !ok {
		counters = models.EngagementCounters{VideoID: videoID}
	}
	counters.Views += delta.Views
	counters.Likes += delta.Likes
	counters.Dislikes += delta.Dislikes
	counters.Comments += delta.Comments
	counters.Subscribers += delta.Subscribers
	counters.WatchTimeSeconds += delta.WatchTimeSeconds
	r.engagement[videoID] = counters
	return nil
}

func (r *MemoryRepository) GetEngagement(_ context.Context, videoID string) (models.EngagementCounters, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counters, ok := r.engagement[videoID]
	if !ok {
		return models.EngagementCounters{}, ErrNotFound
	}
	return counters, nil
}

func (r *MemoryRepository) AppendHistory(_ context.Context, entry models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	r.mu.Lock()
	r.history = append(r.history, entry)
	r.mu.Unlock()
	return nil
}

// HistoryFor returns the recorded history entries for a viewer. Used by tests
// and the (external) history endpoints.
func (r *MemoryRepository) HistoryFor(viewerID string) []models.HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.HistoryEntry
	for _, entry := range r.history {
		if entry.ViewerID == viewerID {
			out = append(out, entry)
		}
	}
	return out
}

func (r *MemoryRepository) SaveTrendingRun(_ context.Context, entries []models.TrendingEntry) error {
	if len(entries) == 0 {
		return nil
	}
	runID := entries[0].RunID
	for _, entry := range entries {
		if entry.RunID != runID {
			return fmt.Errorf("trending entries span multiple runs")
		}
	}
	r.mu.Lock()
	r.trending = append(r.trending, entries...)
	r.latestRunID = runID
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) LatestTrendingRun(_ context.Context) ([]models.TrendingEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latestRunID == "" {
		return nil, nil
	}
	var out []models.TrendingEntry
	for _, entry := range r.trending {
		if entry.RunID == r.latestRunID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func (r *MemoryRepository) AddComment(_ context.Context, comment models.Comment) error {
	if comment.ID == "" {
		return fmt.Errorf("comment id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if comment.ParentID != nil {
		if _, ok := r.comments[*comment.ParentID]; !ok {
			return ErrNotFound
		}
		r.replyIndex[*comment.ParentID] = append(r.replyIndex[*comment.ParentID], comment.ID)
	}
	r.comments[comment.ID] = comment
	return nil
}

func (r *MemoryRepository) ListReplies(_ context.Context, parentID string) ([]models.Comment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.replyIndex[parentID]
	out := make([]models.Comment, 0, len(ids))
	for _, id := range ids {
		if comment, ok := r.comments[id]; ok {
			out = append(out, comment)
		}
	}
	return out, nil
}

// DeleteComment removes a comment and its entire reply subtree, walking the
// parent-to-children index rather than an object graph. It returns the number
// of comments removed.
func (r *MemoryRepository) DeleteComment(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	root, ok := r.comments[id]
	if !ok {
		return 0, ErrNotFound
	}
	removed := 0
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, r.replyIndex[current]...)
		delete(r.replyIndex, current)
		delete(r.comments, current)
		removed++
	}
	if root.ParentID != nil {
		siblings := r.replyIndex[*root.ParentID]
		for i, sibling := range siblings {
			if sibling == id {
				r.replyIndex[*root.ParentID] = append(siblings[:i], siblings[i+1:]...)
				break
			}
		}
	}
	return removed, nil
}

func (r *MemoryRepository) SavePushSubscription(_ context.Context, sub models.PushSubscription) error {
	if strings.TrimSpace(sub.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.subscriptions[sub.UserID] = sub
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetPushSubscription(_ context.Context, userID string) (models.PushSubscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[userID]
	if !ok {
		return models.PushSubscription{}, ErrNotFound
	}
	return sub, nil
}

func validateFinalize(params FinalizeVideoParams) error {
	if strings.TrimSpace(params.ManifestURL) == "" {
		return fmt.Errorf("%w: manifest URL is required", ErrInvalidVideoState)
	}
	if strings.TrimSpace(params.ThumbnailURL) == "" {
		return fmt.Errorf("%w: thumbnail URL is required", ErrInvalidVideoState)
	}
	if len(params.Renditions) == 0 {
		return fmt.Errorf("%w: at least one rendition is required", ErrInvalidVideoState)
	}
	for label, url := range params.Renditions {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("%w: rendition %s has no URL", ErrInvalidVideoState, label)
		}
	}
	return nil
}

func cloneVideo(video models.Video) models.Video {
	video.Tags = append([]string(nil), video.Tags...)
	video.Renditions = cloneStringMap(video.Renditions)
	return video
}

func cloneSession(session models.WatchSession) models.WatchSession {
	if session.LastResume != nil {
		resume := *session.LastResume
		session.LastResume = &resume
	}
	if session.EndTime != nil {
		end := *session.EndTime
		session.EndTime = &end
	}
	return session
}

func cloneStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

var _ Repository = (*MemoryRepository)(nil)

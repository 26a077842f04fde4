package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

func newTestVideo(t *testing.T, repo *MemoryRepository) models.Video {
	t.Helper()
	video, err := repo.CreateVideo(context.Background(), CreateVideoParams{
		CreatorID:   "creator-1",
		Title:       "clip",
		OriginalKey: "uploads/source",
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return video
}

func TestCreateVideoStartsProcessing(t *testing.T) {
	repo := NewMemoryRepository()
	video := newTestVideo(t, repo)

	if video.Status != models.StatusProcessing {
		t.Fatalf("expected processing status, got %q", video.Status)
	}
	if video.ID == "" {
		t.Fatal("expected generated video ID")
	}

	fetched, err := repo.GetVideo(context.Background(), video.ID)
	if err != nil {
		t.Fatalf("get video: %v", err)
	}
	if fetched.OriginalKey != "uploads/source" {
		t.Fatalf("unexpected original key %q", fetched.OriginalKey)
	}
}

func TestFinalizeVideoRequiresAllArtifacts(t *testing.T) {
	repo := NewMemoryRepository()
	video := newTestVideo(t, repo)

	cases := []struct {
		name   string
		params FinalizeVideoParams
	}{
		{"missing manifest", FinalizeVideoParams{
			Renditions:   map[string]string{"720p": "hls/v/720p.m3u8"},
			ThumbnailURL: "thumbnail/v.jpg",
		}},
		{"missing thumbnail", FinalizeVideoParams{
			Renditions:  map[string]string{"720p": "hls/v/720p.m3u8"},
			ManifestURL: "hls/v/master.m3u8",
		}},
		{"no renditions", FinalizeVideoParams{
			ManifestURL:  "hls/v/master.m3u8",
			ThumbnailURL: "thumbnail/v.jpg",
		}},
		{"empty rendition URL", FinalizeVideoParams{
			Renditions:   map[string]string{"720p": " "},
			ManifestURL:  "hls/v/master.m3u8",
			ThumbnailURL: "thumbnail/v.jpg",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := repo.FinalizeVideo(context.Background(), video.ID, tc.params); !errors.Is(err, ErrInvalidVideoState) {
				t.Fatalf("expected ErrInvalidVideoState, got %v", err)
			}
			current, err := repo.GetVideo(context.Background(), video.ID)
			if err != nil {
				t.Fatalf("get video: %v", err)
			}
			if current.Status != models.StatusProcessing {
				t.Fatalf("rejected finalize must not change status, got %q", current.Status)
			}
		})
	}
}

func TestFinalizeVideoCommitsAtomically(t *testing.T) {
	repo := NewMemoryRepository()
	video := newTestVideo(t, repo)

	finalized, err := repo.FinalizeVideo(context.Background(), video.ID, FinalizeVideoParams{
		Renditions: map[string]string{
			"720p": "hls/" + video.ID + "/720p.m3u8",
			"360p": "hls/" + video.ID + "/360p.m3u8",
		},
		ManifestURL:  "hls/" + video.ID + "/master.m3u8",
		ThumbnailURL: "thumbnail/" + video.ID + ".jpg",
	})
	if err != nil {
		t.Fatalf("finalize video: %v", err)
	}
	if finalized.Status != models.StatusAvailable {
		t.Fatalf("expected available status, got %q", finalized.Status)
	}
	if len(finalized.Renditions) != 2 {
		t.Fatalf("expected 2 renditions, got %d", len(finalized.Renditions))
	}
	if finalized.ManifestURL == "" || finalized.ThumbnailURL == "" {
		t.Fatal("finalized video must carry manifest and thumbnail URLs")
	}
}

func TestMarkVideoFailedRecordsReason(t *testing.T) {
	repo := NewMemoryRepository()
	video := newTestVideo(t, repo)

	failed, err := repo.MarkVideoFailed(context.Background(), video.ID, " source unreadable ")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if failed.Status != models.StatusFailed {
		t.Fatalf("expected failed status, got %q", failed.Status)
	}
	if failed.Error != "source unreadable" {
		t.Fatalf("unexpected error text %q", failed.Error)
	}
}

func TestOpenWatchSessionIgnoresEnded(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()
	end := now.Add(time.Minute)

	ended := models.WatchSession{
		ID: "s-1", VideoID: "v-1", ViewerID: "u-1", CreatorID: "c-1",
		StartTime: now, EndTime: &end, DurationSeconds: 60,
	}
	open := models.WatchSession{
		ID: "s-2", VideoID: "v-1", ViewerID: "u-1", CreatorID: "c-1",
		StartTime: now,
	}
	for _, session := range []models.WatchSession{ended, open} {
		if err := repo.CreateWatchSession(ctx, session); err != nil {
			t.Fatalf("create session %s: %v", session.ID, err)
		}
	}

	found, err := repo.OpenWatchSession(ctx, "v-1", "u-1")
	if err != nil {
		t.Fatalf("open session lookup: %v", err)
	}
	if found.ID != "s-2" {
		t.Fatalf("expected the open session, got %q", found.ID)
	}

	if _, err := repo.OpenWatchSession(ctx, "v-1", "u-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for other viewer, got %v", err)
	}
}

func TestCreateWatchSessionRejectsSecondOpenPair(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	first := models.WatchSession{
		ID: "s-1", VideoID: "v-1", ViewerID: "u-1", CreatorID: "c-1",
		StartTime: now,
	}
	if err := repo.CreateWatchSession(ctx, first); err != nil {
		t.Fatalf("create session: %v", err)
	}

	duplicate := models.WatchSession{
		ID: "s-2", VideoID: "v-1", ViewerID: "u-1", CreatorID: "c-1",
		StartTime: now,
	}
	if err := repo.CreateWatchSession(ctx, duplicate); !errors.Is(err, ErrOpenSession) {
		t.Fatalf("expected ErrOpenSession for second open session, got %v", err)
	}

	// Once the first session ends the pair may open a new one.
	end := now.Add(time.Minute)
	first.EndTime = &end
	if err := repo.UpdateWatchSession(ctx, first); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := repo.CreateWatchSession(ctx, duplicate); err != nil {
		t.Fatalf("create after end: %v", err)
	}
}

func TestWatchAggregatesGroupsByVideo(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	sessions := []models.WatchSession{
		{ID: "s-1", VideoID: "v-1", ViewerID: "u-1", CreatorID: "c-1", StartTime: now, DurationSeconds: 120},
		{ID: "s-2", VideoID: "v-1", ViewerID: "u-2", CreatorID: "c-1", StartTime: now, DurationSeconds: 30},
		{ID: "s-3", VideoID: "v-2", ViewerID: "u-1", CreatorID: "c-2", StartTime: now, DurationSeconds: 600},
	}
	for _, session := range sessions {
		if err := repo.CreateWatchSession(ctx, session); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	aggregates, err := repo.WatchAggregates(ctx)
	if err != nil {
		t.Fatalf("watch aggregates: %v", err)
	}
	if len(aggregates) != 2 {
		t.Fatalf("expected 2 aggregates, got %d", len(aggregates))
	}
	first := aggregates[0]
	if first.VideoID != "v-1" || first.Sessions != 2 || first.DurationSeconds != 150 {
		t.Fatalf("unexpected aggregate for v-1: %+v", first)
	}
	second := aggregates[1]
	if second.VideoID != "v-2" || second.Sessions != 1 || second.DurationSeconds != 600 {
		t.Fatalf("unexpected aggregate for v-2: %+v", second)
	}
}

func TestAddEngagementAccumulates(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.EnsureEngagement(ctx, "v-1", "c-1"); err != nil {
		t.Fatalf("ensure engagement: %v", err)
	}
	if err := repo.AddEngagement(ctx, "v-1", EngagementDelta{Views: 1, Likes: 2}); err != nil {
		t.Fatalf("add engagement: %v", err)
	}
	if err := repo.AddEngagement(ctx, "v-1", EngagementDelta{Views: 1, WatchTimeSeconds: 90}); err != nil {
		t.Fatalf("add engagement: %v", err)
	}

	counters, err := repo.GetEngagement(ctx, "v-1")
	if err != nil {
		t.Fatalf("get engagement: %v", err)
	}
	if counters.Views != 2 || counters.Likes != 2 || counters.WatchTimeSeconds != 90 {
		t.Fatalf("unexpected counters: %+v", counters)
	}
	if counters.CreatorID != "c-1" {
		t.Fatalf("expected creator from ensure, got %q", counters.CreatorID)
	}
}

func TestLatestTrendingRunReturnsNewestRunOnly(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	oldRun := []models.TrendingEntry{
		{ID: "t-1", RunID: "run-1", VideoID: "v-1", Score: 10, ComputedAt: now.Add(-6 * time.Hour)},
	}
	newRun := []models.TrendingEntry{
		{ID: "t-2", RunID: "run-2", VideoID: "v-2", Score: 4, ComputedAt: now},
		{ID: "t-3", RunID: "run-2", VideoID: "v-3", Score: 9, ComputedAt: now},
	}
	if err := repo.SaveTrendingRun(ctx, oldRun); err != nil {
		t.Fatalf("save old run: %v", err)
	}
	if err := repo.SaveTrendingRun(ctx, newRun); err != nil {
		t.Fatalf("save new run: %v", err)
	}

	latest, err := repo.LatestTrendingRun(ctx)
	if err != nil {
		t.Fatalf("latest run: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("expected 2 entries from run-2, got %d", len(latest))
	}
	if latest[0].VideoID != "v-3" {
		t.Fatalf("expected highest score first, got %q", latest[0].VideoID)
	}
}

func TestSaveTrendingRunRejectsMixedRuns(t *testing.T) {
	repo := NewMemoryRepository()
	entries := []models.TrendingEntry{
		{ID: "t-1", RunID: "run-1"},
		{ID: "t-2", RunID: "run-2"},
	}
	if err := repo.SaveTrendingRun(context.Background(), entries); err == nil {
		t.Fatal("expected error for entries spanning runs")
	}
}

func TestDeleteCommentRemovesSubtree(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	add := func(id string, parent *string) {
		t.Helper()
		err := repo.AddComment(ctx, models.Comment{
			ID: id, VideoID: "v-1", UserID: "u-1", ParentID: parent, Text: id, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("add comment %s: %v", id, err)
		}
	}
	root := "c-root"
	reply := "c-reply"
	add(root, nil)
	add(reply, &root)
	add("c-nested", &reply)
	add("c-other", nil)

	removed, err := repo.DeleteComment(ctx, root)
	if err != nil {
		t.Fatalf("delete comment: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 comments removed, got %d", removed)
	}

	replies, err := repo.ListReplies(ctx, root)
	if err != nil {
		t.Fatalf("list replies: %v", err)
	}
	if len(replies) != 0 {
		t.Fatalf("expected no surviving replies, got %d", len(replies))
	}
	if _, err := repo.DeleteComment(ctx, "c-nested"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("nested comment should be gone, got %v", err)
	}
	if _, err := repo.DeleteComment(ctx, "c-other"); err != nil {
		t.Fatalf("unrelated comment must survive: %v", err)
	}
}

func TestAddCommentRequiresExistingParent(t *testing.T) {
	repo := NewMemoryRepository()
	missing := "nope"
	err := repo.AddComment(context.Background(), models.Comment{
		ID: "c-1", VideoID: "v-1", UserID: "u-1", ParentID: &missing,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing parent, got %v", err)
	}
}

func TestPushSubscriptionRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	sub := models.PushSubscription{
		UserID:   "u-1",
		Endpoint: "https://push.example.com/ep",
		P256dh:   "key",
		Auth:     "secret",
	}
	if err := repo.SavePushSubscription(ctx, sub); err != nil {
		t.Fatalf("save subscription: %v", err)
	}

	stored, err := repo.GetPushSubscription(ctx, "u-1")
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if stored.Endpoint != sub.Endpoint || stored.CreatedAt.IsZero() {
		t.Fatalf("unexpected stored subscription: %+v", stored)
	}

	if _, err := repo.GetPushSubscription(ctx, "u-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

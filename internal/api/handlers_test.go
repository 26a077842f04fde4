package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coding-cat0-0/streaming-site/internal/engagement"
	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/objectstore"
	"github.com/coding-cat0-0/streaming-site/internal/queue"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

type handlerFixture struct {
	handler *Handler
	repo    *storage.MemoryRepository
	objects *objectstore.MemoryGateway
	queue   *queue.MemoryQueue
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	repo := storage.NewMemoryRepository()
	objects := objectstore.NewMemoryGateway("https://cdn.test")
	jobs := queue.NewMemoryQueue(8)
	t.Cleanup(func() { jobs.Close() })
	tracker := engagement.NewTracker(engagement.TrackerConfig{Store: repo})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &handlerFixture{
		handler: NewHandler(repo, objects, jobs, tracker, logger),
		repo:    repo,
		objects: objects,
		queue:   jobs,
	}
}

func (f *handlerFixture) availableVideo(t *testing.T) models.Video {
	t.Helper()
	ctx := context.Background()
	video, err := f.repo.CreateVideo(ctx, storage.CreateVideoParams{CreatorID: "creator-1", Title: "clip"})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	finalized, err := f.repo.FinalizeVideo(ctx, video.ID, storage.FinalizeVideoParams{
		Renditions: map[string]string{
			"720p": "https://cdn.test/hls/" + video.ID + "/720p.m3u8",
			"360p": "https://cdn.test/hls/" + video.ID + "/360p.m3u8",
		},
		ManifestURL:  "https://cdn.test/hls/" + video.ID + "/master.m3u8",
		ThumbnailURL: "https://cdn.test/thumbnail/" + video.ID + ".jpg",
	})
	if err != nil {
		t.Fatalf("finalize video: %v", err)
	}
	return finalized
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
}

func TestCreateVideoAcceptsUploadAndQueuesJob(t *testing.T) {
	f := newHandlerFixture(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "holiday.mp4")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("raw-video-bytes")); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	writer.WriteField("title", "Holiday")
	writer.WriteField("tags", "travel, summer")
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/videos", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-User-ID", "creator-1")
	recorder := httptest.NewRecorder()
	f.handler.Videos(recorder, req)

	if recorder.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var video models.Video
	decodeBody(t, recorder, &video)
	if video.Status != models.StatusProcessing {
		t.Fatalf("expected processing status, got %q", video.Status)
	}
	if video.Title != "Holiday" || len(video.Tags) != 2 {
		t.Fatalf("unexpected video %+v", video)
	}

	if _, _, err := f.objects.Get(context.Background(), "uploads/"+video.ID); err != nil {
		t.Fatalf("source object missing: %v", err)
	}

	sub := f.queue.Subscribe()
	t.Cleanup(sub.Close)
	select {
	case delivery := <-sub.Deliveries():
		if delivery.Job.VideoID != video.ID {
			t.Fatalf("unexpected job %+v", delivery.Job)
		}
		if delivery.Job.SourceKey != "uploads/"+video.ID {
			t.Fatalf("unexpected source key %q", delivery.Job.SourceKey)
		}
	case <-time.After(time.Second):
		t.Fatal("no transcode job enqueued")
	}
}

func TestCreateVideoRequiresIdentity(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/api/videos", nil)
	recorder := httptest.NewRecorder()
	f.handler.Videos(recorder, req)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
}

func TestGetVideoNotFound(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/videos/nope", nil)
	recorder := httptest.NewRecorder()
	f.handler.VideoByID(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}

func TestRenditionQualityLookup(t *testing.T) {
	f := newHandlerFixture(t)
	video := f.availableVideo(t)

	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+video.ID+"/renditions?quality=720P", nil)
	recorder := httptest.NewRecorder()
	f.handler.VideoByID(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var payload map[string]string
	decodeBody(t, recorder, &payload)
	if payload["url"] != "https://cdn.test/hls/"+video.ID+"/720p.m3u8" {
		t.Fatalf("unexpected URL %q", payload["url"])
	}

	req = httptest.NewRequest(http.MethodGet, "/api/videos/"+video.ID+"/renditions?quality=4320p", nil)
	recorder = httptest.NewRecorder()
	f.handler.VideoByID(recorder, req)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown quality, got %d", recorder.Code)
	}
}

func TestRenditionsRejectProcessingVideo(t *testing.T) {
	f := newHandlerFixture(t)
	video, err := f.repo.CreateVideo(context.Background(), storage.CreateVideoParams{CreatorID: "creator-1"})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/videos/"+video.ID+"/renditions", nil)
	recorder := httptest.NewRecorder()
	f.handler.VideoByID(recorder, req)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestWatchLifecycleOverHTTP(t *testing.T) {
	f := newHandlerFixture(t)
	video := f.availableVideo(t)

	req := httptest.NewRequest(http.MethodPost, "/api/videos/"+video.ID+"/watch", nil)
	req.Header.Set("X-User-ID", "viewer-1")
	recorder := httptest.NewRecorder()
	f.handler.VideoByID(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}
	var session models.WatchSession
	decodeBody(t, recorder, &session)

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+session.ID+"/pause", nil)
	recorder = httptest.NewRecorder()
	f.handler.SessionByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	// Second pause conflicts.
	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+session.ID+"/pause", nil)
	recorder = httptest.NewRecorder()
	f.handler.SessionByID(recorder, req)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("double pause: expected 409, got %d", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+session.ID+"/resume", nil)
	recorder = httptest.NewRecorder()
	f.handler.SessionByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", recorder.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+session.ID+"/end", nil)
	recorder = httptest.NewRecorder()
	f.handler.SessionByID(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d", recorder.Code)
	}
	var ended models.WatchSession
	decodeBody(t, recorder, &ended)
	if ended.EndTime == nil {
		t.Fatal("ended session must carry an end time")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/sessions/"+session.ID+"/end", nil)
	recorder = httptest.NewRecorder()
	f.handler.SessionByID(recorder, req)
	if recorder.Code != http.StatusConflict {
		t.Fatalf("end after end: expected 409, got %d", recorder.Code)
	}
}

func TestTrendingEmptySnapshot(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/trending", nil)
	recorder := httptest.NewRecorder()
	f.handler.Trending(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if body := strings.TrimSpace(recorder.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestPushSubscriptionRegistration(t *testing.T) {
	f := newHandlerFixture(t)

	payload := `{"endpoint":"https://push.example.com/ep","keys":{"p256dh":"key","auth":"secret"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/push/subscriptions", strings.NewReader(payload))
	req.Header.Set("X-User-ID", "viewer-1")
	recorder := httptest.NewRecorder()
	f.handler.PushSubscriptions(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", recorder.Code, recorder.Body.String())
	}

	stored, err := f.repo.GetPushSubscription(context.Background(), "viewer-1")
	if err != nil {
		t.Fatalf("subscription not stored: %v", err)
	}
	if stored.Endpoint != "https://push.example.com/ep" {
		t.Fatalf("unexpected endpoint %q", stored.Endpoint)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/push/subscriptions", strings.NewReader(`{"endpoint":""}`))
	req.Header.Set("X-User-ID", "viewer-1")
	recorder = httptest.NewRecorder()
	f.handler.PushSubscriptions(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
}

func TestHealth(t *testing.T) {
	f := newHandlerFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	recorder := httptest.NewRecorder()
	f.handler.Health(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

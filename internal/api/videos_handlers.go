package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coding-cat0-0/streaming-site/internal/engagement"
	"github.com/coding-cat0-0/streaming-site/internal/models"
	"github.com/coding-cat0-0/streaming-site/internal/objectstore"
	"github.com/coding-cat0-0/streaming-site/internal/storage"
)

// Videos handles /api/videos: uploading a new video.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	h.createVideo(w, r)
}

func (h *Handler) createVideo(w http.ResponseWriter, r *http.Request) {
	creatorID := requestUser(r)
	if creatorID == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("user identity is required"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	defer file.Close()

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		title = header.Filename
	}
	var tags []string
	for _, tag := range strings.Split(r.FormValue("tags"), ",") {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}

	videoID := uuid.NewString()
	sourceKey := objectstore.UploadKey(videoID)
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := h.Objects.Put(r.Context(), sourceKey, file, contentType); err != nil {
		h.Logger.Error("source upload failed", "video_id", videoID, "error", err)
		writeError(w, http.StatusBadGateway, fmt.Errorf("store upload: %w", err))
		return
	}

	video, err := h.Store.CreateVideo(r.Context(), storage.CreateVideoParams{
		ID:          videoID,
		CreatorID:   creatorID,
		Title:       title,
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		Tags:        tags,
		OriginalKey: sourceKey,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	job := models.TranscodeJob{
		VideoID:    video.ID,
		SourceKey:  sourceKey,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := h.Queue.Enqueue(r.Context(), job); err != nil {
		h.Logger.Error("enqueue transcode job failed", "video_id", video.ID, "error", err)
		writeError(w, http.StatusInternalServerError, fmt.Errorf("queue transcode job: %w", err))
		return
	}

	writeJSON(w, http.StatusAccepted, video)
}

// VideoByID handles /api/videos/{id} and its subresources.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	segments := pathSegments(r.URL.Path, "/api/videos/")
	if len(segments) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("video id is required"))
		return
	}
	videoID := segments[0]

	switch {
	case len(segments) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.getVideo(w, r, videoID)
	case len(segments) == 2 && segments[1] == "renditions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.getRenditions(w, r, videoID)
	case len(segments) == 2 && segments[1] == "engagement":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		h.getEngagement(w, r, videoID)
	case len(segments) == 2 && segments[1] == "watch":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		h.startWatch(w, r, videoID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown resource"))
	}
}

func (h *Handler) getVideo(w http.ResponseWriter, r *http.Request, videoID string) {
	video, err := h.Store.GetVideo(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (h *Handler) getRenditions(w http.ResponseWriter, r *http.Request, videoID string) {
	video, err := h.Store.GetVideo(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if video.Status != models.StatusAvailable {
		writeError(w, http.StatusConflict, fmt.Errorf("video is %s", video.Status))
		return
	}

	quality := strings.TrimSpace(r.URL.Query().Get("quality"))
	if quality == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"manifestUrl": video.ManifestURL,
			"renditions":  video.Renditions,
		})
		return
	}
	url, ok := video.RenditionURL(quality)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("no %s rendition", quality))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"quality": quality, "url": url})
}

func (h *Handler) getEngagement(w http.ResponseWriter, r *http.Request, videoID string) {
	counters, err := h.Store.GetEngagement(r.Context(), videoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s has no engagement", videoID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (h *Handler) startWatch(w http.ResponseWriter, r *http.Request, videoID string) {
	viewerID := requestUser(r)
	if viewerID == "" {
		writeError(w, http.StatusUnauthorized, fmt.Errorf("user identity is required"))
		return
	}
	session, err := h.Tracker.Play(r.Context(), videoID, viewerID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Errorf("video %s not found", videoID))
		case errors.Is(err, engagement.ErrVideoNotAvailable):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

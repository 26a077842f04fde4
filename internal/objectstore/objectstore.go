// Package objectstore abstracts the bucket holding uploaded sources and
// transcode artifacts. Keys follow a fixed layout: raw uploads live under
// uploads/, HLS outputs under hls/<video id>/, and poster frames under
// thumbnail/.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("objectstore: not found")

// ErrEmptyObject is returned when a fetched object has zero bytes.
var ErrEmptyObject = errors.New("objectstore: object is empty")

// Gateway is the object store surface the pipeline depends on.
type Gateway interface {
	// Put stores the object under key and returns its public URL.
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	// Get opens the object for reading and reports its size in bytes.
	Get(ctx context.Context, key string) (io.ReadCloser, int64, error)
	// URL resolves the public URL for a key without touching the store.
	URL(key string) string
}

// UploadKey returns the key of a raw source upload.
func UploadKey(videoID string) string {
	return path.Join("uploads", videoID)
}

// HLSKey returns the key of a transcode artifact belonging to a video.
func HLSKey(videoID, file string) string {
	return path.Join("hls", videoID, file)
}

// ThumbnailKey returns the key of a video's poster frame.
func ThumbnailKey(videoID string) string {
	return fmt.Sprintf("thumbnail/%s.jpg", videoID)
}

package media

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	hlsSegmentSeconds = 6
	keyframeInterval  = 48
)

// Runner executes external commands. The default implementation shells out;
// tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("%s: %w: %s", name, err, tail(detail, 512))
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, tail(detail, 512))
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Encoder drives ffmpeg and ffprobe.
type Encoder struct {
	FFmpegBinary  string
	FFprobeBinary string
	Runner        Runner
}

// NewEncoder returns an encoder using the ffmpeg and ffprobe binaries on PATH.
func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) ffmpeg() string {
	if e.FFmpegBinary != "" {
		return e.FFmpegBinary
	}
	return "ffmpeg"
}

func (e *Encoder) ffprobe() string {
	if e.FFprobeBinary != "" {
		return e.FFprobeBinary
	}
	return "ffprobe"
}

func (e *Encoder) runner() Runner {
	if e.Runner != nil {
		return e.Runner
	}
	return execRunner{}
}

// EncodeRendition produces one HLS video rendition into outputDir.
func (e *Encoder) EncodeRendition(ctx context.Context, input, outputDir string, rendition Rendition) error {
	args := renditionArgs(input, outputDir, rendition)
	if err := e.runner().Run(ctx, e.ffmpeg(), args...); err != nil {
		return fmt.Errorf("encode %s: %w", rendition.Name, err)
	}
	return nil
}

// EncodeAudio produces the shared AAC audio rendition into outputDir.
func (e *Encoder) EncodeAudio(ctx context.Context, input, outputDir string) error {
	args := audioArgs(input, outputDir)
	if err := e.runner().Run(ctx, e.ffmpeg(), args...); err != nil {
		return fmt.Errorf("encode audio: %w", err)
	}
	return nil
}

// CaptureThumbnail grabs a single frame two seconds in and writes it to
// outputPath as JPEG.
func (e *Encoder) CaptureThumbnail(ctx context.Context, input, outputPath string) error {
	args := thumbnailArgs(input, outputPath)
	if err := e.runner().Run(ctx, e.ffmpeg(), args...); err != nil {
		return fmt.Errorf("capture thumbnail: %w", err)
	}
	return nil
}

func renditionArgs(input, outputDir string, r Rendition) []string {
	return []string{
		"-hide_banner", "-y",
		"-i", input,
		"-vf", fmt.Sprintf("scale=w=%d:h=%d", r.Width, r.Height),
		"-c:v", "h264",
		"-profile:v", "main",
		"-crf", "20",
		"-sc_threshold", "0",
		"-g", strconv.Itoa(keyframeInterval),
		"-keyint_min", strconv.Itoa(keyframeInterval),
		"-b:v", r.Bitrate(),
		"-maxrate", r.Bitrate(),
		"-bufsize", r.BufferSize(),
		"-an",
		"-hls_time", strconv.Itoa(hlsSegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, r.SegmentPattern()),
		filepath.Join(outputDir, r.Playlist()),
	}
}

func audioArgs(input, outputDir string) []string {
	return []string{
		"-hide_banner", "-y",
		"-i", input,
		"-vn",
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", AudioBitrateKbps),
		"-hls_time", strconv.Itoa(hlsSegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "audio_%03d.ts"),
		filepath.Join(outputDir, "audio.m3u8"),
	}
}

func thumbnailArgs(input, outputPath string) []string {
	return []string{
		"-hide_banner", "-y",
		"-ss", "00:00:02.000",
		"-i", input,
		"-vframes", "1",
		outputPath,
	}
}

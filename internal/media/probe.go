package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SourceInfo describes the first video stream of an input file.
type SourceInfo struct {
	Width           int
	Height          int
	DurationSeconds float64
}

// Probe inspects the input with ffprobe and reports its dimensions and
// duration. An input without a video stream is an error.
func (e *Encoder) Probe(ctx context.Context, input string) (SourceInfo, error) {
	output, err := e.runner().Output(ctx, e.ffprobe(),
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		input,
	)
	if err != nil {
		return SourceInfo{}, fmt.Errorf("probe %s: %w", input, err)
	}

	var probed struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &probed); err != nil {
		return SourceInfo{}, fmt.Errorf("decode probe output: %w", err)
	}
	if len(probed.Streams) == 0 {
		return SourceInfo{}, fmt.Errorf("probe %s: no video stream", input)
	}

	info := SourceInfo{
		Width:  probed.Streams[0].Width,
		Height: probed.Streams[0].Height,
	}
	if raw := strings.TrimSpace(probed.Format.Duration); raw != "" {
		if duration, err := strconv.ParseFloat(raw, 64); err == nil {
			info.DurationSeconds = duration
		}
	}
	if info.Height <= 0 {
		return SourceInfo{}, fmt.Errorf("probe %s: invalid height %d", input, info.Height)
	}
	return info, nil
}

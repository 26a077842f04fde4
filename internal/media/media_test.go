package media

import (
	"context"
	"strings"
	"testing"
)

func TestSelectLadderFiltersByHeight(t *testing.T) {
	cases := []struct {
		name         string
		sourceHeight int
		want         []string
	}{
		{"full ladder", 1080, []string{"1080p", "720p", "480p", "360p", "144p"}},
		{"above ladder", 2160, []string{"1080p", "720p", "480p", "360p", "144p"}},
		{"720 source", 720, []string{"720p", "480p", "360p", "144p"}},
		{"between rungs", 500, []string{"480p", "360p", "144p"}},
		{"tiny source", 100, nil},
		{"zero height", 0, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			selected := SelectLadder(tc.sourceHeight)
			if len(selected) != len(tc.want) {
				t.Fatalf("expected %d rungs, got %d", len(tc.want), len(selected))
			}
			for i, rendition := range selected {
				if rendition.Name != tc.want[i] {
					t.Fatalf("rung %d: expected %s, got %s", i, tc.want[i], rendition.Name)
				}
			}
		})
	}
}

func TestRenditionAttributes(t *testing.T) {
	r := Ladder[0]
	if r.Bitrate() != "5000k" {
		t.Fatalf("unexpected bitrate %q", r.Bitrate())
	}
	if r.BufferSize() != "10000k" {
		t.Fatalf("unexpected buffer size %q", r.BufferSize())
	}
	if r.Bandwidth() != 5128000 {
		t.Fatalf("unexpected bandwidth %d", r.Bandwidth())
	}
	if r.Resolution() != "1920x1080" {
		t.Fatalf("unexpected resolution %q", r.Resolution())
	}
	if r.SegmentPattern() != "1080p_%03d.ts" {
		t.Fatalf("unexpected segment pattern %q", r.SegmentPattern())
	}
}

func TestMasterManifestLayout(t *testing.T) {
	manifest := MasterManifest(SelectLadder(720))

	if !strings.HasPrefix(manifest, "#EXTM3U\n#EXT-X-VERSION:3\n") {
		t.Fatalf("unexpected header: %q", manifest)
	}
	if !strings.Contains(manifest, `#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio"`) {
		t.Fatal("master manifest must declare the audio group")
	}
	if strings.Contains(manifest, "1080p") {
		t.Fatal("720p source must not include a 1080p variant")
	}
	if !strings.Contains(manifest, `#EXT-X-STREAM-INF:BANDWIDTH=3128000,RESOLUTION=1280x720,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="audio"`+"\n720p.m3u8\n") {
		t.Fatalf("missing 720p variant entry:\n%s", manifest)
	}
	if !strings.Contains(manifest, "\n144p.m3u8\n") {
		t.Fatalf("missing 144p variant entry:\n%s", manifest)
	}
}

type recordingRunner struct {
	commands [][]string
	output   []byte
	err      error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) error {
	r.commands = append(r.commands, append([]string{name}, args...))
	return r.err
}

func (r *recordingRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	r.commands = append(r.commands, append([]string{name}, args...))
	return r.output, r.err
}

func argsContain(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestEncodeRenditionArgs(t *testing.T) {
	runner := &recordingRunner{}
	encoder := &Encoder{Runner: runner}

	err := encoder.EncodeRendition(context.Background(), "/tmp/in.mp4", "/tmp/out", Ladder[1])
	if err != nil {
		t.Fatalf("encode rendition: %v", err)
	}
	if len(runner.commands) != 1 {
		t.Fatalf("expected one command, got %d", len(runner.commands))
	}
	args := runner.commands[0]
	if args[0] != "ffmpeg" {
		t.Fatalf("expected ffmpeg, got %q", args[0])
	}
	for _, pair := range [][2]string{
		{"-vf", "scale=w=1280:h=720"},
		{"-b:v", "3000k"},
		{"-maxrate", "3000k"},
		{"-bufsize", "6000k"},
		{"-hls_time", "6"},
		{"-hls_playlist_type", "vod"},
		{"-g", "48"},
	} {
		if !argsContain(args, pair[0], pair[1]) {
			t.Fatalf("missing %s %s in %v", pair[0], pair[1], args)
		}
	}
	if args[len(args)-1] != "/tmp/out/720p.m3u8" {
		t.Fatalf("unexpected playlist path %q", args[len(args)-1])
	}
}

func TestEncodeAudioArgs(t *testing.T) {
	runner := &recordingRunner{}
	encoder := &Encoder{Runner: runner}

	if err := encoder.EncodeAudio(context.Background(), "/tmp/in.mp4", "/tmp/out"); err != nil {
		t.Fatalf("encode audio: %v", err)
	}
	args := runner.commands[0]
	for _, pair := range [][2]string{
		{"-c:a", "aac"},
		{"-b:a", "128k"},
	} {
		if !argsContain(args, pair[0], pair[1]) {
			t.Fatalf("missing %s %s in %v", pair[0], pair[1], args)
		}
	}
	found := false
	for _, arg := range args {
		if arg == "-vn" {
			found = true
		}
	}
	if !found {
		t.Fatalf("audio encode must strip video: %v", args)
	}
}

func TestProbeParsesDimensions(t *testing.T) {
	runner := &recordingRunner{
		output: []byte(`{"streams":[{"width":1920,"height":1080}],"format":{"duration":"12.500000"}}`),
	}
	encoder := &Encoder{Runner: runner}

	info, err := encoder.Probe(context.Background(), "/tmp/in.mp4")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if info.Width != 1920 || info.Height != 1080 {
		t.Fatalf("unexpected dimensions %+v", info)
	}
	if info.DurationSeconds != 12.5 {
		t.Fatalf("unexpected duration %v", info.DurationSeconds)
	}
}

func TestProbeRejectsAudioOnlyInput(t *testing.T) {
	runner := &recordingRunner{output: []byte(`{"streams":[],"format":{"duration":"3.0"}}`)}
	encoder := &Encoder{Runner: runner}

	if _, err := encoder.Probe(context.Background(), "/tmp/in.mp3"); err == nil {
		t.Fatal("expected error for input without a video stream")
	}
}

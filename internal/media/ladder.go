// Package media builds HLS rendition ladders and drives ffmpeg to produce
// them. Encoding follows a fixed ladder; sources are never upscaled.
package media

import "fmt"

// Rendition is one rung of the adaptive bitrate ladder.
type Rendition struct {
	Name        string
	Width       int
	Height      int
	BitrateKbps int
}

// AudioBitrateKbps is the bitrate of the shared AAC audio rendition. Audio is
// encoded once and referenced by every variant stream.
const AudioBitrateKbps = 128

// Ladder is the full encoding ladder, highest rung first.
var Ladder = []Rendition{
	{Name: "1080p", Width: 1920, Height: 1080, BitrateKbps: 5000},
	{Name: "720p", Width: 1280, Height: 720, BitrateKbps: 3000},
	{Name: "480p", Width: 854, Height: 480, BitrateKbps: 1500},
	{Name: "360p", Width: 640, Height: 360, BitrateKbps: 800},
	{Name: "144p", Width: 256, Height: 144, BitrateKbps: 400},
}

// SelectLadder returns the rungs whose height does not exceed the source
// height. A source below 144 pixels yields an empty ladder.
func SelectLadder(sourceHeight int) []Rendition {
	var selected []Rendition
	for _, rendition := range Ladder {
		if rendition.Height <= sourceHeight {
			selected = append(selected, rendition)
		}
	}
	return selected
}

// Bitrate returns the video bitrate formatted for ffmpeg, for example "5000k".
func (r Rendition) Bitrate() string {
	return fmt.Sprintf("%dk", r.BitrateKbps)
}

// BufferSize returns the rate-control buffer, twice the video bitrate.
func (r Rendition) BufferSize() string {
	return fmt.Sprintf("%dk", 2*r.BitrateKbps)
}

// Bandwidth returns the BANDWIDTH attribute for the master playlist: the
// video bitrate plus the shared audio bitrate, in bits per second.
func (r Rendition) Bandwidth() int {
	return (r.BitrateKbps + AudioBitrateKbps) * 1000
}

// Resolution returns the RESOLUTION attribute, for example "1920x1080".
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Playlist returns the media playlist file name for the rendition.
func (r Rendition) Playlist() string {
	return r.Name + ".m3u8"
}

// SegmentPattern returns the ffmpeg segment file name template.
func (r Rendition) SegmentPattern() string {
	return r.Name + "_%03d.ts"
}

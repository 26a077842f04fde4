package media

import (
	"fmt"
	"strings"
)

const variantCodecs = "avc1.4d401f,mp4a.40.2"

// MasterManifest renders the master playlist for the given ladder. Every
// variant references the shared audio rendition group.
func MasterManifest(renditions []Rendition) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="audio",DEFAULT=YES,AUTOSELECT=YES,URI="audio.m3u8"` + "\n")
	for _, r := range renditions {
		fmt.Fprintf(&b, `#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,CODECS="%s",AUDIO="audio"`+"\n", r.Bandwidth(), r.Resolution(), variantCodecs)
		b.WriteString(r.Playlist() + "\n")
	}
	return b.String()
}

package manifest

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Kind classifies one file a worker's output directory holds.
type Kind int

const (
	KindUnknown Kind = iota
	KindManifest
	KindInit
	KindMedia
)

var mediaSegmentPattern = regexp.MustCompile(`^chunk-stream(\d+)-(\d+)\.m4s$`)

// Classify sorts a filename into one of the three kinds the aggregator
// cares about, and for a media segment also returns its stream index
// and sequence number.
func Classify(name string) (kind Kind, stream, seq int) {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mpd", ".m3u8":
		return KindManifest, 0, 0
	}
	if strings.HasPrefix(name, "init-") {
		return KindInit, 0, 0
	}
	if m := mediaSegmentPattern.FindStringSubmatch(name); m != nil {
		s, _ := strconv.Atoi(m[1])
		n, _ := strconv.Atoi(m[2])
		return KindMedia, s, n
	}
	return KindUnknown, 0, 0
}

// ContentType maps a manifest filename's extension to the wire
// content-type the callback POST should use.
func ContentType(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".m3u8") {
		return "application/vnd.apple.mpegurl"
	}
	return "application/dash+xml"
}

package keepalive

import (
	"fmt"
	"net/url"
	"time"
)

// State is a snapshot of whatever status a worker (or the progressive
// chunk-0 loop) last reported, enough to render both the stderr line
// and the progress_url form body.
type State struct {
	Frame     int
	FPS       int
	Speed     float64
	OutTimeUs int64
}

// finalState is what gets reported once at termination, regardless of
// what the last real sample looked like.
var finalState = State{Frame: 9999, Speed: 0}

// StderrLine renders the FFmpeg-shaped progress line the media server
// greps for on stderr.
func StderrLine(s State) string {
	d := time.Duration(s.OutTimeUs) * time.Microsecond
	return fmt.Sprintf("frame=%d fps=%d q=-1.0 size=N/A time=%s bitrate=N/A speed=%.1fx",
		s.Frame, s.FPS, formatHMS(d), s.Speed)
}

func formatHMS(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, sec)
}

// ProgressForm renders the application/x-www-form-urlencoded body
// POSTed to progress_url; sent even when OutTimeUs is 0 (mid-seek),
// otherwise the media server times the session out.
func ProgressForm(s State) url.Values {
	return url.Values{
		"frame":       {fmt.Sprintf("%d", s.Frame)},
		"fps":         {fmt.Sprintf("%d", s.FPS)},
		"speed":       {fmt.Sprintf("%.1fx", s.Speed)},
		"out_time_us": {fmt.Sprintf("%d", s.OutTimeUs)},
		"progress":    {"continue"},
	}
}

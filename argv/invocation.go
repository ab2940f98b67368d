// Package argv implements the Argument Parser (C1): it extracts semantic
// fields from the transcoder CLI the media server invokes us with,
// normalizes output paths, and translates hex stream specifiers.
//
// No lookup table is hard-coded for flag names except where the media
// server is known to emit a non-standard identifier (the Plex dialect
// tokens handled below). Every other flag is preserved in RawArgs
// unchanged; this parser only picks semantic fields out of the generic
// ffmpeg flag shape (`-flag value`) it recognizes, it never rejects or
// reorders anything it doesn't understand.
package argv

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

type OutputKind string

const (
	OutputDASH    OutputKind = "dash"
	OutputHLS     OutputKind = "hls"
	OutputUnknown OutputKind = "unknown"
)

// Invocation is the parsed, semantically meaningful view of a
// transcoder command line.
type Invocation struct {
	InputPath     string
	OutputTarget  string
	OutputDir     string
	OutputKind    OutputKind
	VideoCodecOut string
	AudioCodecOut string
	Bitrate       string
	Resolution    string
	SegmentDurationSec int
	SeekSec            float64
	SubtitleMode       string
	ToneMap            bool
	HWAccelHint        string

	ManifestCallbackURL string
	ProgressURL          string
	SkipToSegment        int

	RawArgs []string
}

var hexStreamSpecifier = regexp.MustCompile(`#0[xX]([0-9A-Fa-f]+)`)
var scaleFilterPattern = regexp.MustCompile(`scale(?:_[a-z0-9]+)?=w?=?(\d+):?h?=?(\d+)`)
var sizeFlagPattern = regexp.MustCompile(`^(\d+)x(\d+)$`)

const defaultSegmentDurationSec = 6

// Parse extracts an Invocation from argv (os.Args[1:], i.e. without
// the program name) resolving relative output paths against cwd.
func Parse(args []string, cwd string) (*Invocation, error) {
	raw := make([]string, len(args))
	copy(raw, args)

	// Hex stream specifiers are rewritten anywhere they occur, including
	// inside raw_args that get forwarded to a worker verbatim otherwise.
	for i, a := range raw {
		raw[i] = DecimalizeHexStreamSpecifiers(a)
	}

	inv := &Invocation{
		SegmentDurationSec: defaultSegmentDurationSec,
		SubtitleMode:       "none",
		RawArgs:            raw,
	}

	for i := 0; i < len(raw); i++ {
		tok := raw[i]
		next := func() string {
			if i+1 < len(raw) {
				return raw[i+1]
			}
			return ""
		}

		switch tok {
		case "-i":
			inv.InputPath = next()
			i++
		case "-ss":
			inv.SeekSec = parseFloat(next())
			i++
		case "-vcodec", "-c:v", "-codec:v":
			inv.VideoCodecOut = next()
			i++
		case "-acodec", "-c:a", "-codec:a":
			inv.AudioCodecOut = next()
			i++
		case "-b:v", "-video_bitrate":
			inv.Bitrate = next()
			i++
		case "-s":
			if m := sizeFlagPattern.FindStringSubmatch(next()); m != nil {
				inv.Resolution = m[1] + "x" + m[2]
			}
			i++
		case "-vf", "-filter:v", "-filter_complex":
			v := next()
			i++
			if m := scaleFilterPattern.FindStringSubmatch(v); m != nil {
				inv.Resolution = m[1] + "x" + m[2]
			}
			if strings.Contains(v, "tonemap") {
				inv.ToneMap = true
			}
			if strings.Contains(v, "subtitles=") {
				inv.SubtitleMode = "burn"
			}
		case "-seg_duration", "-hls_time", "-min_seg_duration":
			if n, err := strconv.Atoi(next()); err == nil && n > 0 {
				inv.SegmentDurationSec = n
			}
			i++
		case "-hwaccel":
			inv.HWAccelHint = next()
			i++
		case "-scodec":
			if next() == "copy" {
				inv.SubtitleMode = "embed"
			}
			i++
		case "-sn":
			inv.SubtitleMode = "none"
		// Plex dialect tokens (non-standard, Plex-specific argv shapes):
		case "-progressurl":
			inv.ProgressURL = next()
			i++
		case "-skip_to_segment":
			if n, err := strconv.Atoi(next()); err == nil {
				inv.SkipToSegment = n
			}
			i++
		case "-manifest_name":
			i++ // value consumed; filename itself isn't used for dispatch
		case "-loglevel_plex", "-time_delta", "-delete_removed":
			i++ // strip + value, consumed here so they don't leak into heuristics below
		case "-progress":
			// standard ffmpeg progress URL (Jellyfin path, no Plex dialect)
			v := next()
			i++
			if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
				inv.ProgressURL = v
			}
		}
	}

	if inv.ProgressURL != "" && inv.ManifestCallbackURL == "" {
		inv.ManifestCallbackURL = deriveManifestCallbackURL(inv.ProgressURL)
	}

	if len(raw) > 0 {
		target := raw[len(raw)-1]
		abs := target
		if !filepath.IsAbs(target) {
			abs = filepath.Join(cwd, target)
		}
		inv.OutputTarget = abs
		inv.OutputDir = filepath.Dir(abs)
		inv.OutputKind = classifyOutputKind(abs)
		raw[len(raw)-1] = abs
	}

	return inv, nil
}

// DecimalizeHexStreamSpecifiers rewrites "#0xNN" tokens to decimal "#N"
// wherever they occur. It is idempotent: once decimal, a second pass
// matches nothing because the "0x" prefix is gone.
func DecimalizeHexStreamSpecifiers(s string) string {
	return hexStreamSpecifier.ReplaceAllStringFunc(s, func(m string) string {
		sub := hexStreamSpecifier.FindStringSubmatch(m)
		n, err := strconv.ParseInt(sub[1], 16, 64)
		if err != nil {
			return m
		}
		return "#" + strconv.FormatInt(n, 10)
	})
}

func classifyOutputKind(target string) OutputKind {
	switch strings.ToLower(filepath.Ext(target)) {
	case ".mpd":
		return OutputDASH
	case ".m3u8":
		return OutputHLS
	default:
		// The trailing sentinel "dash" forwarded to workers has no
		// extension; callers resolving a raw invocation (not a
		// worker-forwarded one) with a bare "dash" positional mean
		// DASH output.
		if strings.EqualFold(filepath.Base(target), "dash") {
			return OutputDASH
		}
		return OutputUnknown
	}
}

func deriveManifestCallbackURL(progressURL string) string {
	if idx := strings.LastIndex(progressURL, "/"); idx != -1 {
		base := progressURL[:idx]
		return base + "/manifest"
	}
	return ""
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

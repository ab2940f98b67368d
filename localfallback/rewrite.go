// Package localfallback implements the Local Fallback Rewriter (C7a): when
// both the multi-worker and single-worker dispatch paths fail or were never
// configured, the coordinator runs the transcode itself, on this host, and
// needs the incoming argv rewritten for whatever hardware encoder is
// actually present instead of the software codec the media server asked
// for.
//
// Grounded on argv's own token-scanning style (forward single pass over
// the flag list, recognizing the handful of tokens this package cares
// about and passing everything else through unchanged) rather than the
// teacher's regexp.ReplaceAllString approach in handlers/ffmpeg/ffmpeg.go,
// because the rewrite here is flag-shaped (`-flag value` pairs), not a
// free-form URL substring.
package localfallback

import (
	"os"
	"regexp"
	"strconv"
	"strings"
)

// HWAccel identifies which hardware encoder path, if any, is available on
// this host.
type HWAccel string

const (
	HWAccelNone  HWAccel = "none"
	HWAccelNVENC HWAccel = "nvenc"
	HWAccelQSV   HWAccel = "qsv"
)

const (
	nvidiaDevicePath = "/dev/nvidia0"
	qsvDevicePath    = "/dev/dri/renderD128"
)

// DetectHWAccel probes the well-known device paths the teacher's host
// uses to expose GPU encoders to containers: NVENC takes priority over
// QSV when both are somehow present.
func DetectHWAccel() HWAccel {
	return detectHWAccelAt(nvidiaDevicePath, qsvDevicePath)
}

func detectHWAccelAt(nvidiaPath, qsvPath string) HWAccel {
	if _, err := os.Stat(nvidiaPath); err == nil {
		return HWAccelNVENC
	}
	if _, err := os.Stat(qsvPath); err == nil {
		return HWAccelQSV
	}
	return HWAccelNone
}

var scaleFilterRegexp = regexp.MustCompile(`\[0:0\]scale=w=(\d+):h=(\d+)`)

// Rewrite rewrites rawArgs for local execution under hw. If hw is
// HWAccelNone, or neither libx264 nor libx265 appears in rawArgs, no GPU
// rewrite happens: only the Plex dialect-only flags are stripped and the
// aac_lc/ochl= dialect substitutions applied, everything else passes
// through as given.
func Rewrite(rawArgs []string, hw HWAccel) []string {
	if hw == HWAccelNone || !hasSoftwareH264OrH265(rawArgs) {
		return stripDialectOnlyFlags(rawArgs, false)
	}

	out := make([]string, 0, len(rawArgs)+4)
	for i := 0; i < len(rawArgs); i++ {
		tok := rawArgs[i]
		next := func() string {
			if i+1 < len(rawArgs) {
				return rawArgs[i+1]
			}
			return ""
		}

		switch {
		case tok == "libx264":
			out = append(out, codecFor(hw, "h264"))
		case tok == "libx265":
			out = append(out, codecFor(hw, "hevc"))
		case tok == "-crf":
			out = append(out, qualityFlag(hw), qualityValue(hw, next()))
			i++
		case strings.HasPrefix(tok, "-preset"):
			i += presetSkip(rawArgs, i)
		case strings.HasPrefix(tok, "-x264opts"):
			i++
		case strings.HasPrefix(tok, "-x265-params"):
			i++
		case tok == "-vf" || tok == "-filter:v" || tok == "-filter_complex":
			out = append(out, tok, rewriteScaleFilter(next(), hw))
			i++
		case tok == "-i":
			out = append(out, hwInjection(hw)...)
			out = append(out, tok)
		default:
			out = append(out, applyDialectSubstitutions(tok))
			continue
		}
	}
	return stripDialectOnlyFlags(out, true)
}

func hasSoftwareH264OrH265(rawArgs []string) bool {
	for _, a := range rawArgs {
		if a == "libx264" || a == "libx265" {
			return true
		}
	}
	return false
}

func codecFor(hw HWAccel, family string) string {
	if hw == HWAccelNVENC {
		return family + "_nvenc"
	}
	return family + "_qsv"
}

func qualityFlag(hw HWAccel) string {
	if hw == HWAccelNVENC {
		return "-qp"
	}
	return "-global_quality"
}

// qualityValue maps the software -crf value to the hardware encoder's
// quality knob: NVENC's -qp takes the CRF value directly, QSV's
// -global_quality runs 2 points higher for visually comparable output.
// Both are clamped to ffmpeg's valid 1..51 range.
func qualityValue(hw HWAccel, crf string) string {
	n, err := strconv.Atoi(crf)
	if err != nil {
		n = 23 // libx264 default CRF if the invocation's value didn't parse
	}
	if hw == HWAccelQSV {
		n += 2
	}
	if n < 1 {
		n = 1
	}
	if n > 51 {
		n = 51
	}
	return strconv.Itoa(n)
}

// presetSkip returns how many extra tokens to skip after a -preset* flag:
// 1 (its value), or 0 when the flag is the last token.
func presetSkip(rawArgs []string, i int) int {
	if i+1 < len(rawArgs) {
		return 1
	}
	return 0
}

func rewriteScaleFilter(filter string, hw HWAccel) string {
	m := scaleFilterRegexp.FindStringSubmatch(filter)
	if m == nil {
		return applyDialectSubstitutions(filter)
	}
	w, h := m[1], m[2]
	var rewritten string
	if hw == HWAccelQSV {
		rewritten = "[0:0]format=nv12,hwupload=extra_hw_frames=64,scale_qsv=w=" + w + ":h=" + h
	} else {
		rewritten = "[0:0]scale=w=" + w + ":h=" + h + ",format=nv12,hwupload_cuda"
	}
	return applyDialectSubstitutions(scaleFilterRegexp.ReplaceAllLiteralString(filter, rewritten))
}

func hwInjection(hw HWAccel) []string {
	if hw == HWAccelQSV {
		return []string{"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw"}
	}
	return []string{"-hwaccel", "cuda", "-hwaccel_output_format", "cuda"}
}

// dialectOnlyFlags are stripped (+ value) whenever the local transcoder
// runs, per the argv dialect handling table: the system encoder doesn't
// understand Plex's progress-reporting dialect.
var dialectOnlyFlags = map[string]bool{
	"-loglevel_plex":   true,
	"-progressurl":     true,
	"-time_delta":      true,
	"-delete_removed":  true,
	"-skip_to_segment": true,
	"-manifest_name":   true,
}

// stripDialectOnlyFlags removes the Plex dialect flags the system
// encoder never recognizes. When gpuRewriteActive is true it additionally
// strips -preset*/-x264opts/-x265-params, matching the dialect table's
// "either, when GPU rewrite is active" row. Rewrite already consumes
// those inline on the GPU path, so this is a second pass that normally
// finds none; on the no-GPU path they are kept for the software encoder.
func stripDialectOnlyFlags(rawArgs []string, gpuRewriteActive bool) []string {
	out := make([]string, 0, len(rawArgs))
	for i := 0; i < len(rawArgs); i++ {
		tok := rawArgs[i]
		if dialectOnlyFlags[tok] {
			i++ // also drop its value
			continue
		}
		if gpuRewriteActive && (strings.HasPrefix(tok, "-preset") || strings.HasPrefix(tok, "-x264opts") || strings.HasPrefix(tok, "-x265-params")) {
			i++ // also drop its value
			continue
		}
		out = append(out, applyDialectSubstitutions(tok))
	}
	return out
}

// applyDialectSubstitutions maps the two Plex-specific in-token
// substitutions: the aac_lc codec name and the ochl= filter parameter.
func applyDialectSubstitutions(tok string) string {
	if tok == "aac_lc" {
		return "aac"
	}
	return strings.ReplaceAll(tok, "ochl=", "out_chlayout=")
}

package multidispatch

// rewriteSeekRange returns a copy of rawArgs with any existing -ss
// flag removed and a fresh "-ss <startSec> [-t <durSec>]" pair inserted
// immediately before "-i", the fast-seek position ffmpeg expects. If
// rawArgs has no "-i" token the pair is prepended instead.
func rewriteSeekRange(rawArgs []string, startSec, durSec float64) []string {
	filtered := make([]string, 0, len(rawArgs))
	for i := 0; i < len(rawArgs); i++ {
		if rawArgs[i] == "-ss" {
			i++ // also drop its value
			continue
		}
		filtered = append(filtered, rawArgs[i])
	}

	seekTokens := []string{"-ss", formatSec(startSec)}
	if durSec > 0 {
		seekTokens = append(seekTokens, "-t", formatSec(durSec))
	}

	for i, tok := range filtered {
		if tok == "-i" {
			out := make([]string, 0, len(filtered)+len(seekTokens))
			out = append(out, filtered[:i]...)
			out = append(out, seekTokens...)
			out = append(out, filtered[i:]...)
			return out
		}
	}
	return append(seekTokens, filtered...)
}

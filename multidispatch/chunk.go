// Package multidispatch implements the Multi-Worker Dispatcher (C4):
// Mode A (simple chunked round robin), Mode B (weighted big-split by
// calibrated worker speed), and Mode C (BitTorrent-style seed /
// calibrate / distribute / steady-state / endgame / orphan-sweep).
//
// Grounded on the teacher's pipeline.Coordinator: a long-running job is
// driven by a poll loop over background state rather than a callback,
// and on clients/broadcaster.go's pattern of fanning work out to
// multiple remote targets concurrently and collecting per-target
// results independently of one another.
package multidispatch

import (
	"errors"

	"github.com/plexbeam/cartridge/config"
)

// ErrFallbackSingle is returned by plan when the source is too short to
// produce more than one chunk; the caller should fall back to the
// single-worker dispatcher instead of running a multi-worker mode.
var ErrFallbackSingle = errors.New("multidispatch: duration too short for multiple chunks")

type chunkState int

const (
	chunkPending chunkState = iota
	chunkEncoding
	chunkCompleted
	chunkFailed
)

// chunk is one fixed-duration slice of the source timeline.
type chunk struct {
	index    int
	startSec float64
	durSec   float64

	state       chunkState
	workerIdx   int
	jobID       string
	endgameDup  bool
	vidSegments int
}

// planChunks splits [0, durationSec) into chunks of chunkDurationSec,
// the last one absorbing whatever remainder is too small to deserve its
// own chunk. A duration that doesn't clear two chunks degrades to a
// single chunk, which plan turns into ErrFallbackSingle.
func planChunks(durationSec, chunkDurationSec float64) []*chunk {
	if chunkDurationSec <= 0 {
		chunkDurationSec = float64(config.DefaultChunkSecs)
	}
	n := int(durationSec / chunkDurationSec)
	if n < 1 {
		n = 1
	}
	chunks := make([]*chunk, 0, n)
	for i := 0; i < n; i++ {
		start := float64(i) * chunkDurationSec
		dur := chunkDurationSec
		if i == n-1 {
			dur = durationSec - start
		}
		if dur <= 0 {
			break
		}
		chunks = append(chunks, &chunk{index: i, startSec: start, durSec: dur, state: chunkPending})
	}
	return chunks
}

// plan computes the chunk list for durationSec, or ErrFallbackSingle if
// it would produce one chunk or fewer.
func plan(durationSec, chunkDurationSec float64) ([]*chunk, error) {
	chunks := planChunks(durationSec, chunkDurationSec)
	if len(chunks) <= 1 {
		return nil, ErrFallbackSingle
	}
	return chunks, nil
}

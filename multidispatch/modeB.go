package multidispatch

import (
	"context"

	"github.com/plexbeam/cartridge/argv"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

const (
	calibrationClipSec = 15.0
	bigSplitFloorSec   = 30.0
)

// weightSplit divides durationSec among len(fps) workers proportional
// to their calibrated fps, with every worker's share floored at
// floorSec. Flooring one worker takes duration away from the rest, so
// shares are solved by repeatedly fixing whichever worker falls below
// the floor and redistributing what's left among the remaining ones,
// the same water-filling shape as a weighted fair queue.
func weightSplit(durationSec float64, fps []int, floorSec float64) []float64 {
	n := len(fps)
	shares := make([]float64, n)
	fixed := make([]bool, n)

	for {
		fixedDuration, freeWeight := 0.0, 0.0
		for i, f := range fps {
			if fixed[i] {
				fixedDuration += shares[i]
			} else {
				freeWeight += float64(f)
			}
		}
		freeDuration := durationSec - fixedDuration
		if freeDuration < 0 {
			freeDuration = 0
		}

		changed := false
		for i, f := range fps {
			if fixed[i] {
				continue
			}
			var s float64
			if freeWeight > 0 {
				s = freeDuration * float64(f) / freeWeight
			}
			if s < floorSec {
				shares[i] = floorSec
				fixed[i] = true
				changed = true
			} else {
				shares[i] = s
			}
		}
		if !changed {
			break
		}
	}
	return shares
}

// buildWeightedChunks turns a weightSplit result into one consecutive
// chunk per worker, in worker index order.
func buildWeightedChunks(durationSec float64, fps []int, floorSec float64) []*chunk {
	shares := weightSplit(durationSec, fps, floorSec)
	chunks := make([]*chunk, 0, len(shares))
	start := 0.0
	for i, dur := range shares {
		if dur <= 0 {
			continue
		}
		chunks = append(chunks, &chunk{index: len(chunks), startSec: start, durSec: dur, workerIdx: i, state: chunkPending})
		start += dur
	}
	if len(chunks) > 0 {
		chunks[len(chunks)-1].durSec += durationSec - start
	}
	return chunks
}

// runModeB calibrates every worker with a short clip, splits the
// source into one big chunk per worker proportional to the measured
// fps, and runs each worker's chunk to completion, emitting strictly in
// order as earlier chunks finish.
func (d *Dispatcher) runModeB(ctx context.Context, durationSec float64) error {
	fps := d.calibrateAll(ctx)

	chunks := buildWeightedChunks(durationSec, fps, bigSplitFloorSec)
	if len(chunks) == 0 {
		return cartridgeerrors.NewConfigError("weighted split produced no chunks", nil)
	}
	d.mu.Lock()
	d.chunks = chunks
	d.nextEmit = 0
	d.emitted = map[int]bool{}
	d.mu.Unlock()

	for _, c := range chunks {
		jobID := d.sess.BigSplitJobID(c.workerIdx)
		if err := d.submitChunk(ctx, d.workers[c.workerIdx], c, jobID, fps[c.workerIdx]); err != nil {
			return err
		}
		log.Log(d.sess.ID, "big-split chunk submitted", "chunk", c.index, "worker", d.workers[c.workerIdx].URL, "dur", c.durSec)
	}

	for {
		allTerminal := true
		for _, c := range chunks {
			if c.state != chunkEncoding {
				continue
			}
			allTerminal = false
			done, failed := d.pollChunk(ctx, d.workers[c.workerIdx], c)
			if !done {
				continue
			}
			if failed {
				return cartridgeerrors.NewWorkerJobError(c.jobID, "big-split chunk failed, no retry target in mode B")
			}
		}

		if err := d.tryEmitReady(ctx, func(c *chunk) string { return d.workers[c.workerIdx].URL }); err != nil {
			return err
		}
		if d.allChunksEmitted() {
			return nil
		}
		if allTerminal {
			return nil
		}

		if err := tickSleep(ctx, config.TickInterval); err != nil {
			return err
		}
	}
}

// calibrateAll submits and polls a short calibration job per worker
// and returns the fps each one reports, in worker index order. A
// worker that fails calibration is treated as fps 1, the slowest
// possible weight, rather than dropped from the run.
func (d *Dispatcher) calibrateAll(ctx context.Context) []int {
	fps := make([]int, len(d.workers))
	for i, w := range d.workers {
		fps[i] = d.calibrateOne(ctx, w, i)
	}
	return fps
}

func (d *Dispatcher) calibrateOne(ctx context.Context, w *workerpool.Worker, i int) int {
	jobID := d.sess.CalibrationJobID(i)
	rawArgs := rewriteSeekRange(argv.ForWorker(d.inv), d.inv.SeekSec, calibrationClipSec)
	payload := workerclient.JobPayload{
		JobID: jobID,
		Input: workerclient.Input{Type: "path", Path: d.inv.InputPath},
		Output: workerclient.Output{
			Type:               string(d.inv.OutputKind),
			Path:               "dash",
			SegmentDurationSec: d.inv.SegmentDurationSec,
		},
		Arguments: workerclient.Arguments{
			VideoCodec:   d.inv.VideoCodecOut,
			AudioCodec:   d.inv.AudioCodecOut,
			VideoBitrate: d.inv.Bitrate,
			Resolution:   d.inv.Resolution,
			Seek:         d.inv.SeekSec,
			ToneMapping:  d.inv.ToneMap,
			Subtitle:     workerclient.Subtitle{Mode: d.inv.SubtitleMode},
			RawArgs:      rawArgs,
		},
		Source: d.cfg.Source,
		Metadata: workerclient.Metadata{
			CartridgeVersion: d.cfg.CartridgeVersion,
			SessionID:        d.sess.ID,
		},
	}

	if _, err := d.client.Submit(ctx, w.URL, payload); err != nil {
		log.Log(d.sess.ID, "calibration submit failed", "worker", w.URL, "err", err)
		return 1
	}
	defer func() {
		cancelCtx, cancel := context.WithTimeout(context.Background(), config.StatusPollTimeout)
		defer cancel()
		_ = d.client.DeleteJob(cancelCtx, w.URL, jobID)
	}()

	for poll := 0; poll < config.MaxPolls; poll++ {
		status, err := d.client.Status(ctx, w.URL, jobID)
		if err == nil && status.Status.IsTerminal() {
			if status.Status == workerclient.StatusCompleted && status.FPS > 0 {
				return status.FPS
			}
			return 1
		}
		if err := tickSleep(ctx, config.TickInterval); err != nil {
			return 1
		}
	}
	return 1
}

package multidispatch

import (
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/plexbeam/cartridge/aggregator"
	"github.com/plexbeam/cartridge/argv"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/keepalive"
	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/session"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

// Dispatcher runs one of the multi-worker modes against a healthy
// worker set. One Dispatcher serves exactly one session.
type Dispatcher struct {
	sess     *session.Session
	client   *workerclient.Client
	callback *workerclient.CallbackClient
	cfg      config.Config

	inv     *argv.Invocation
	workers []*workerpool.Worker
	chunks  []*chunk

	agg          *aggregator.Aggregator
	reporter     *keepalive.Reporter
	nextEmit     int
	emitted      map[int]bool
	mu           sync.Mutex
	emitMu       sync.Mutex // serializes tryEmitReady across concurrent worker goroutines
	failures     int
	failureLimit int

	reportedVidCount map[int]int // stream 0 running count per worker, used for out_time_us estimation
}

func New(sess *session.Session, client *workerclient.Client, callback *workerclient.CallbackClient, cfg config.Config, inv *argv.Invocation, workers []*workerpool.Worker) *Dispatcher {
	return &Dispatcher{
		sess:             sess,
		client:           client,
		callback:         callback,
		cfg:              cfg,
		inv:              inv,
		workers:          workers,
		agg:              aggregator.New(sess.ID, inv.OutputDir, client),
		emitted:          map[int]bool{},
		reportedVidCount: map[int]int{},
	}
}

// Run plans chunks for durationSec and dispatches them according to
// cfg.MultiMode. It returns ErrFallbackSingle unmodified so the caller
// can retry with the single-worker dispatcher.
func (d *Dispatcher) Run(ctx context.Context, durationSec float64) error {
	// Mode B computes its own per-worker split from durationSec directly
	// (see buildWeightedChunks); A and C both chunk on the fixed
	// configured chunk duration, so that plan happens up front here and
	// ErrFallbackSingle can still surface before any job is submitted.
	if d.cfg.MultiMode != config.ModeWeightedSplit {
		chunks, err := plan(durationSec, d.cfg.ChunkDuration.Seconds())
		if err != nil {
			return err
		}
		d.chunks = chunks
		d.failureLimit = 2 * len(chunks)
	}

	d.reporter = keepalive.NewReporter(ctx, d.sess.ID, d.inv.ProgressURL, d.callback, io.MultiWriter(os.Stderr, logWriter{sess: d.sess.ID}))
	d.reporter.Track(d.estimateProgress)
	defer d.reporter.Finish()

	log.Log(d.sess.ID, "multidispatch plan", "mode", d.cfg.MultiMode, "n_chunks", len(d.chunks), "workers", len(d.workers))

	defer d.cleanupAll(context.Background())

	switch d.cfg.MultiMode {
	case config.ModeSimpleChunked:
		return d.runModeA(ctx)
	case config.ModeWeightedSplit:
		return d.runModeB(ctx, durationSec)
	default:
		return d.runModeC(ctx, durationSec)
	}
}

// logWriter adapts log.Log to io.Writer so keepalive's stderr line also
// reaches the structured session log in multi-worker modes; Run pairs it
// with the real os.Stderr through io.MultiWriter.
type logWriter struct{ sess string }

func (w logWriter) Write(p []byte) (int, error) {
	log.Log(w.sess, "progress", "line", string(p))
	return len(p), nil
}

// estimateProgress computes out_time_us for a multi-worker session as the
// summed duration of completed chunks plus half the duration of the
// lowest-index chunk still encoding. Per-chunk wall-clock elapsed time is
// not tracked, so the estimate does not advance while that chunk runs.
func (d *Dispatcher) estimateProgress() keepalive.State {
	d.mu.Lock()
	defer d.mu.Unlock()

	var completedSec float64
	var earliestRunning *chunk
	for _, c := range d.chunks {
		switch c.state {
		case chunkCompleted:
			completedSec += c.durSec
		case chunkEncoding:
			if earliestRunning == nil || c.index < earliestRunning.index {
				earliestRunning = c
			}
		}
	}
	if earliestRunning != nil {
		completedSec += earliestRunning.durSec / 2 // no per-chunk wall-clock tracked here; midpoint is a deliberately conservative guess
	}
	return keepalive.State{OutTimeUs: int64(completedSec * 1_000_000)}
}

// submitChunk builds and submits the job payload for c against worker.
func (d *Dispatcher) submitChunk(ctx context.Context, worker *workerpool.Worker, c *chunk, jobID string, calibratedFPS int) error {
	payload := d.buildChunkPayload(c, jobID, calibratedFPS)
	if _, err := d.client.Submit(ctx, worker.URL, payload); err != nil {
		return err
	}
	d.mu.Lock()
	c.state = chunkEncoding
	c.jobID = jobID
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) buildChunkPayload(c *chunk, jobID string, calibratedFPS int) workerclient.JobPayload {
	rawArgs := rewriteSeekRange(argv.ForWorker(d.inv), d.inv.SeekSec+c.startSec, c.durSec)
	var split *workerclient.SplitInfo
	if calibratedFPS > 0 || len(d.chunks) > 0 {
		split = &workerclient.SplitInfo{ChunkIndex: c.index, TotalChunks: len(d.chunks), CalibratedFPS: calibratedFPS}
	}
	return workerclient.JobPayload{
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
			Seek:         d.inv.SeekSec + c.startSec,
			ToneMapping:  d.inv.ToneMap,
			Subtitle:     workerclient.Subtitle{Mode: d.inv.SubtitleMode},
			RawArgs:      rawArgs,
		},
		Source: d.cfg.Source,
		Metadata: workerclient.Metadata{
			CartridgeVersion: d.cfg.CartridgeVersion,
			SessionID:        d.sess.ID,
			SplitInfo:        split,
		},
	}
}

// pollChunk polls c's job once and advances its state. It returns
// (done, failed): done is true once the chunk reaches a terminal state
// (completed, failed or cancelled); failed is true only for a hard
// failure the caller should count against the fail-fast budget.
func (d *Dispatcher) pollChunk(ctx context.Context, worker *workerpool.Worker, c *chunk) (done bool, failed bool) {
	status, err := d.client.Status(ctx, worker.URL, c.jobID)
	if err != nil {
		if cartridgeerrors.IsWorkerJobError(err) {
			return true, true
		}
		// network transient: worker may recover by next tick
		return false, false
	}
	switch status.Status {
	case workerclient.StatusCompleted:
		d.mu.Lock()
		c.state = chunkCompleted
		d.mu.Unlock()
		return true, false
	case workerclient.StatusFailed, workerclient.StatusCancelled:
		return true, true
	default:
		return false, false
	}
}

// markFailed returns c to pending and bumps the fail-fast counter,
// reporting whether the session-wide failure budget is now exhausted.
func (d *Dispatcher) markFailed(c *chunk) (budgetExhausted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.state = chunkPending
	c.jobID = ""
	d.failures++
	return d.failures >= d.failureLimit
}

func (d *Dispatcher) failureBudgetExhausted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures >= d.failureLimit
}

// tryEmitReady walks chunks in order starting at nextEmit, emitting
// every contiguous run of completed chunks through the aggregator. This
// is what keeps emission strictly ascending even though completion can
// arrive out of order.
func (d *Dispatcher) tryEmitReady(ctx context.Context, workerURLOf func(*chunk) string) error {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	for {
		d.mu.Lock()
		idx := d.nextEmit
		if idx >= len(d.chunks) {
			d.mu.Unlock()
			return nil
		}
		c := d.chunks[idx]
		ready := c.state == chunkCompleted && !d.emitted[idx]
		d.mu.Unlock()
		if !ready {
			return nil
		}

		workerURL := workerURLOf(c)
		if err := d.agg.EmitChunk(ctx, workerURL, c.jobID, idx == 0); err != nil {
			return err
		}
		if d.inv.ManifestCallbackURL != "" {
			if err := d.agg.Gate().MaybePost(ctx, d.callback, d.inv.ManifestCallbackURL, manifestPathFor(d.inv)); err != nil {
				log.Log(d.sess.ID, "manifest post failed", "err", err)
			}
		}

		d.mu.Lock()
		d.emitted[idx] = true
		d.nextEmit++
		d.mu.Unlock()
		log.Log(d.sess.ID, "chunk emitted", "chunk", idx)
	}
}

// cleanupAll issues a best-effort DELETE /job/<id> for every chunk that
// still has a live job id, regardless of how the run ended.
func (d *Dispatcher) cleanupAll(ctx context.Context) {
	for _, c := range d.chunks {
		if c.jobID == "" {
			continue
		}
		workerURL := d.workerURLForIndex(c.workerIdx)
		if workerURL == "" {
			continue
		}
		cancelCtx, cancel := context.WithTimeout(ctx, config.StatusPollTimeout)
		if err := d.client.DeleteJob(cancelCtx, workerURL, c.jobID); err != nil {
			log.Log(d.sess.ID, "chunk cleanup delete failed", "chunk", c.index, "err", err)
		}
		cancel()
	}
}

func (d *Dispatcher) workerURLForIndex(i int) string {
	if i < 0 || i >= len(d.workers) {
		return ""
	}
	return d.workers[i].URL
}

func manifestPathFor(inv *argv.Invocation) string {
	name := "stream.mpd"
	if inv.OutputKind == argv.OutputHLS {
		name = "stream.m3u8"
	}
	return inv.OutputDir + "/" + name
}

func formatSec(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func tickSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

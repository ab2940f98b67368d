package multidispatch

import (
	"context"
	"os/exec"

	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

// modeCState holds the BitTorrent-style scheduler's working state, kept
// separate from the Dispatcher so a fresh run never inherits stale
// queues from a previous mode.
type modeCState struct {
	queues      [][]int // per-worker queue of chunk indices, head = next to run
	fps         []int   // calibrated fps per worker; 0 = not yet calibrated
	busy        []bool
	current     []int // chunk index each worker is running, -1 if idle
	distributed bool
	dupPartner  map[int]int // chunk index -> the other worker racing it, endgame only

	// dupChunks tracks endgame duplicates, keyed by the worker running the
	// duplicate copy. A duplicate is a standalone *chunk that never lives
	// in d.chunks, so it cannot be addressed through current[]; pollModeC
	// consults this map first so the duplicate's own worker+jobID gets
	// polled instead of the original's.
	dupChunks map[int]*chunk
}

func newModeCState(numWorkers int) *modeCState {
	s := &modeCState{
		queues:     make([][]int, numWorkers),
		fps:        make([]int, numWorkers),
		busy:       make([]bool, numWorkers),
		current:    make([]int, numWorkers),
		dupPartner: map[int]int{},
		dupChunks:  map[int]*chunk{},
	}
	for i := range s.current {
		s.current[i] = -1
	}
	return s
}

// runModeC implements the seed / calibrate / distribute / steady-state /
// endgame / orphan-sweep scheduler. Prefetch (spec phase 5) is not
// implemented: it only matters for beam/pull delivery, where an upload
// can be started before a chunk is actually assigned, and is left as a
// documented simplification since steady-state dispatch already keeps
// workers continuously busy without it.
func (d *Dispatcher) runModeC(ctx context.Context, durationSec float64) error {
	n := len(d.chunks)
	w := len(d.workers)
	st := newModeCState(w)

	cancelFastStart := d.fastStart(ctx)
	defer cancelFastStart()

	d.seedModeC(ctx, st, n, w)

	for {
		d.pollModeC(ctx, st)
		if d.markCalibrated(st) && d.seedChunksSettled(n, w) && !st.distributed {
			d.distributeModeC(st, n, w)
		}
		d.steadyStateModeC(ctx, st)
		d.orphanSweepModeC(ctx, st)
		d.endgameModeC(ctx, st)

		if err := d.tryEmitReady(ctx, func(c *chunk) string { return d.workerURLForIndex(c.workerIdx) }); err != nil {
			return err
		}
		if d.allChunksEmitted() {
			return nil
		}
		if d.failureBudgetExhausted() {
			return cartridgeerrors.NewWorkerJobError(d.sess.ID, "chunk failure budget exhausted")
		}

		if err := tickSleep(ctx, config.TickInterval); err != nil {
			return err
		}
	}
}

// seedModeC assigns chunks 0..min(W,n)-1 round robin, worker i getting
// chunk i.
func (d *Dispatcher) seedModeC(ctx context.Context, st *modeCState, n, w int) {
	seedCount := n
	if w < seedCount {
		seedCount = w
	}
	for i := 0; i < seedCount; i++ {
		d.startChunkOnWorker(ctx, st, d.chunks[i], i)
	}
}

func (d *Dispatcher) startChunkOnWorker(ctx context.Context, st *modeCState, c *chunk, workerIdx int) {
	jobID := d.sess.ChunkJobID(c.index)
	c.workerIdx = workerIdx
	if err := d.submitChunk(ctx, d.workers[workerIdx], c, jobID, st.fps[workerIdx]); err != nil {
		log.Log(d.sess.ID, "chunk submit failed, will retry next tick", "chunk", c.index, "worker", d.workers[workerIdx].URL, "err", err)
		return
	}
	st.busy[workerIdx] = true
	st.current[workerIdx] = c.index
}

// pollModeC advances every busy worker's chunk by one status check,
// calibrating the worker from its first-ever completion and freeing
// the worker slot on any terminal result.
func (d *Dispatcher) pollModeC(ctx context.Context, st *modeCState) {
	for wi := range d.workers {
		if !st.busy[wi] {
			continue
		}
		if dup, ok := st.dupChunks[wi]; ok {
			d.pollEndgameDup(ctx, wi, dup, st)
			continue
		}
		ci := st.current[wi]
		c := d.chunks[ci]
		done, failed := d.pollChunk(ctx, d.workers[wi], c)
		if !done {
			continue
		}
		if failed {
			d.markFailed(c)
			log.Log(d.sess.ID, "chunk failed, returned to pending", "chunk", ci, "worker", d.workers[wi].URL)
		} else if st.fps[wi] == 0 {
			st.fps[wi] = d.completedChunkFPS(ctx, d.workers[wi], c)
			log.Log(d.sess.ID, "worker calibrated", "worker", d.workers[wi].URL, "fps", st.fps[wi])
		}
		st.busy[wi] = false
		st.current[wi] = -1
	}
}

// pollEndgameDup advances a single endgame duplicate by its own jobID,
// the thing pollModeC could never reach before the duplicate had a slot
// of its own. A failed duplicate just frees its worker: the original
// copy is still in flight, so this is never a chunk failure and must
// not touch the session failure budget. A completed duplicate is left
// for raceEndgameDup to notice via dup.state and resolve the race.
func (d *Dispatcher) pollEndgameDup(ctx context.Context, wi int, dup *chunk, st *modeCState) {
	done, failed := d.pollChunk(ctx, d.workers[wi], dup)
	if !done {
		return
	}
	if failed {
		log.Log(d.sess.ID, "endgame duplicate failed", "chunk", dup.index, "worker", d.workers[wi].URL)
	}
	delete(st.dupChunks, wi)
	st.busy[wi] = false
	st.current[wi] = -1
}

// completedChunkFPS reads back the final status of a just-completed
// chunk to learn the worker's speed; any failure to read it back
// leaves the worker provisionally calibrated at a conservative 1 fps
// rather than stuck uncalibrated forever.
func (d *Dispatcher) completedChunkFPS(ctx context.Context, worker *workerpool.Worker, c *chunk) int {
	status, err := d.client.Status(ctx, worker.URL, c.jobID)
	if err != nil || status.FPS <= 0 {
		return 1
	}
	return status.FPS
}

func (d *Dispatcher) markCalibrated(st *modeCState) bool {
	for _, f := range st.fps {
		if f == 0 {
			return false
		}
	}
	return true
}

// seedChunksSettled reports whether every seeded chunk (0..seedCount-1)
// is encoding or completed, i.e. none are still sitting pending after a
// failed submit.
func (d *Dispatcher) seedChunksSettled(n, w int) bool {
	seedCount := n
	if w < seedCount {
		seedCount = w
	}
	for i := 0; i < seedCount; i++ {
		if d.chunks[i].state == chunkPending {
			return false
		}
	}
	return true
}

// distributeModeC divides every chunk past the seed set into per-worker
// queues proportional to calibrated fps, the fastest worker absorbing
// the rounding remainder.
func (d *Dispatcher) distributeModeC(st *modeCState, n, w int) {
	seedCount := n
	if w < seedCount {
		seedCount = w
	}
	var remaining []int
	for i := seedCount; i < n; i++ {
		if d.chunks[i].state == chunkPending {
			remaining = append(remaining, i)
		}
	}
	st.distributed = true
	if len(remaining) == 0 {
		return
	}

	totalFPS := 0
	for _, f := range st.fps {
		totalFPS += f
	}
	if totalFPS == 0 {
		totalFPS = w
	}

	fastest := 0
	for i, f := range st.fps {
		if f > st.fps[fastest] {
			fastest = i
		}
	}

	assigned := 0
	counts := make([]int, w)
	for i, f := range st.fps {
		weight := f
		if totalFPS == w {
			weight = 1
		}
		share := len(remaining) * weight / totalFPS
		counts[i] = share
		assigned += share
	}
	counts[fastest] += len(remaining) - assigned

	idx := 0
	for wi, n := range counts {
		for j := 0; j < n && idx < len(remaining); j++ {
			st.queues[wi] = append(st.queues[wi], remaining[idx])
			idx++
		}
	}
	for idx < len(remaining) {
		st.queues[fastest] = append(st.queues[fastest], remaining[idx])
		idx++
	}

	log.Log(d.sess.ID, "mode C distribution complete", "remaining_chunks", len(remaining), "queue_lengths", counts)
}

// steadyStateModeC gives every idle worker something to do: first its
// own queue head, and failing that the tail of the longest other
// worker's queue.
func (d *Dispatcher) steadyStateModeC(ctx context.Context, st *modeCState) {
	for wi := range d.workers {
		if st.busy[wi] {
			continue
		}
		if c := d.popOwnQueue(st, wi); c != nil {
			d.startChunkOnWorker(ctx, st, c, wi)
			continue
		}
		if c := d.stealLongestQueue(st, wi); c != nil {
			d.startChunkOnWorker(ctx, st, c, wi)
		}
	}
}

func (d *Dispatcher) popOwnQueue(st *modeCState, wi int) *chunk {
	for len(st.queues[wi]) > 0 {
		ci := st.queues[wi][0]
		st.queues[wi] = st.queues[wi][1:]
		if d.chunks[ci].state == chunkPending {
			return d.chunks[ci]
		}
		// already picked up via a steal elsewhere; discard and keep looking
	}
	return nil
}

func (d *Dispatcher) stealLongestQueue(st *modeCState, thief int) *chunk {
	longest := -1
	for wi, q := range st.queues {
		if wi == thief || len(q) == 0 {
			continue
		}
		if longest == -1 || len(q) > len(st.queues[longest]) {
			longest = wi
		}
	}
	if longest == -1 {
		return nil
	}
	victimQueue := st.queues[longest]
	ci := victimQueue[len(victimQueue)-1]
	st.queues[longest] = victimQueue[:len(victimQueue)-1]
	if d.chunks[ci].state != chunkPending {
		return nil // victim already dequeued it; thief retries next tick
	}
	return d.chunks[ci]
}

// orphanSweepModeC defends against the steal path losing
// track of a chunk: any chunk still marked encoding whose supposed
// owner looks idle to us gets re-polled directly and reconciled.
func (d *Dispatcher) orphanSweepModeC(ctx context.Context, st *modeCState) {
	for _, c := range d.chunks {
		if c.state != chunkEncoding {
			continue
		}
		wi := c.workerIdx
		if wi < 0 || wi >= len(st.busy) || st.busy[wi] {
			continue
		}
		if st.current[wi] == c.index {
			continue
		}
		status, err := d.client.Status(ctx, d.workers[wi].URL, c.jobID)
		if err != nil {
			continue
		}
		switch status.Status {
		case workerclient.StatusCompleted:
			c.state = chunkCompleted
		case workerclient.StatusRunning, workerclient.StatusQueued, workerclient.StatusPending:
			st.busy[wi] = true
			st.current[wi] = c.index
		default:
			d.markFailed(c)
		}
	}
}

// endgameModeC duplicates the slowest in-flight chunk onto an idle
// worker once there is no more queued work left to hand out.
func (d *Dispatcher) endgameModeC(ctx context.Context, st *modeCState) {
	if !st.distributed {
		return
	}
	for _, q := range st.queues {
		if len(q) > 0 {
			return
		}
	}

	var idleWorker = -1
	for wi, b := range st.busy {
		if !b {
			idleWorker = wi
			break
		}
	}
	if idleWorker == -1 {
		return
	}

	slowest := (*chunk)(nil)
	for _, c := range d.chunks {
		if c.state != chunkEncoding || c.endgameDup {
			continue
		}
		if slowest == nil || st.fps[c.workerIdx] < st.fps[slowest.workerIdx] {
			slowest = c
		}
	}
	if slowest == nil {
		return
	}

	slowest.endgameDup = true
	st.dupPartner[slowest.index] = slowest.workerIdx

	jobID := d.sess.EndgameJobID(slowest.index)
	dup := &chunk{index: slowest.index, startSec: slowest.startSec, durSec: slowest.durSec, state: chunkPending, workerIdx: idleWorker}
	if err := d.submitChunk(ctx, d.workers[idleWorker], dup, jobID, st.fps[idleWorker]); err != nil {
		log.Log(d.sess.ID, "endgame duplicate submit failed", "chunk", slowest.index, "err", err)
		slowest.endgameDup = false
		return
	}
	st.busy[idleWorker] = true
	st.dupChunks[idleWorker] = dup
	log.Log(d.sess.ID, "endgame duplicate started", "chunk", slowest.index, "original_worker", d.workers[slowest.workerIdx].URL, "dup_worker", d.workers[idleWorker].URL)

	go d.raceEndgameDup(ctx, slowest, dup, slowest.workerIdx, idleWorker, st)
}

// raceEndgameDup waits for either copy of a duplicated chunk to
// complete and cancels the loser. It runs detached from the main tick
// loop since both jobs are already being polled by pollModeC/orphan
// sweep; this goroutine only decides who wins and issues the cancel.
func (d *Dispatcher) raceEndgameDup(ctx context.Context, original, dup *chunk, originalWorker, dupWorker int, st *modeCState) {
	for {
		if original.state == chunkCompleted {
			d.cancelLoser(ctx, dupWorker, dup.jobID, st)
			return
		}
		if dup.state == chunkCompleted {
			originalJobID := original.jobID
			d.promoteDupWinner(original, dup, dupWorker)
			d.cancelLoser(ctx, originalWorker, originalJobID, st)
			return
		}
		if err := tickSleep(ctx, config.TickInterval); err != nil {
			return
		}
	}
}

func (d *Dispatcher) promoteDupWinner(original, dup *chunk, dupWorker int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	original.state = chunkCompleted
	original.jobID = dup.jobID
	original.workerIdx = dupWorker
}

func (d *Dispatcher) cancelLoser(ctx context.Context, workerIdx int, jobID string, st *modeCState) {
	if jobID == "" {
		return
	}
	cancelCtx, cancel := context.WithTimeout(context.Background(), config.StatusPollTimeout)
	defer cancel()
	if err := d.client.DeleteJob(cancelCtx, d.workers[workerIdx].URL, jobID); err != nil {
		log.Log(d.sess.ID, "endgame loser cancel failed", "worker", d.workers[workerIdx].URL, "job_id", jobID, "err", err)
	}
	delete(st.dupChunks, workerIdx)
	st.busy[workerIdx] = false
	st.current[workerIdx] = -1
}

// fastStart launches the coordinator's own unmodified transcode
// invocation as a local process so the media server sees the first
// segments land on disk within its session timeout, independent of how
// long remote dispatch takes to converge. Its failure is logged, not
// fatal: remote dispatch is the real delivery path.
func (d *Dispatcher) fastStart(ctx context.Context) func() {
	fsCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(fsCtx, d.cfg.RealFFmpegPath, d.inv.RawArgs...)
	go func() {
		if err := cmd.Run(); err != nil && fsCtx.Err() == nil {
			log.Log(d.sess.ID, "fast-start transcode exited", "err", err)
		}
	}()
	return cancel
}

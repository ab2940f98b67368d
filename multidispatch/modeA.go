package multidispatch

import (
	"context"

	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/log"
)

// runModeA assigns chunks to workers in strict FIFO order: whichever
// worker goes idle first takes the lowest-index pending chunk. This is
// the simplest mode, with no calibration; it runs only when
// cfg.MultiMode selects it.
func (d *Dispatcher) runModeA(ctx context.Context) error {
	assigned := make([]*chunk, len(d.workers)) // worker index -> chunk currently encoding, nil if idle

	for {
		d.assignIdleWorkersModeA(ctx, assigned)

		for wi, c := range assigned {
			if c == nil {
				continue
			}
			done, failed := d.pollChunk(ctx, d.workers[wi], c)
			if !done {
				continue
			}
			if failed {
				if d.markFailed(c) {
					return cartridgeerrors.NewWorkerJobError(c.jobID, "chunk failure budget exhausted")
				}
				log.Log(d.sess.ID, "chunk failed, requeued", "chunk", c.index, "worker", d.workers[wi].URL)
			}
			assigned[wi] = nil
		}

		if err := d.tryEmitReady(ctx, func(c *chunk) string { return d.workerURLForIndex(c.workerIdx) }); err != nil {
			return err
		}
		if d.allChunksEmitted() {
			return nil
		}

		if err := tickSleep(ctx, config.TickInterval); err != nil {
			return err
		}
	}
}

// assignIdleWorkersModeA fills every idle worker slot with the
// lowest-index chunk still pending. A submit failure leaves the chunk
// pending so the next tick retries it, possibly on a different worker.
func (d *Dispatcher) assignIdleWorkersModeA(ctx context.Context, assigned []*chunk) {
	for wi, c := range assigned {
		if c != nil {
			continue
		}
		next := d.nextPending()
		if next == nil {
			continue
		}
		next.workerIdx = wi
		jobID := d.sess.ChunkJobID(next.index)
		if err := d.submitChunk(ctx, d.workers[wi], next, jobID, 0); err != nil {
			log.Log(d.sess.ID, "chunk submit failed, will retry next tick", "chunk", next.index, "worker", d.workers[wi].URL, "err", err)
			continue
		}
		assigned[wi] = next
	}
}

// nextPending returns the lowest-index chunk still in chunkPending state.
func (d *Dispatcher) nextPending() *chunk {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chunks {
		if c.state == chunkPending {
			return c
		}
	}
	return nil
}

func (d *Dispatcher) allChunksEmitted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextEmit >= len(d.chunks)
}

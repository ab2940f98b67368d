// Package keepalive implements the stderr progress line and
// progress/manifest callback loop (C6) that keeps the media server's
// session alive while remote workers encode.
package keepalive

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/workerclient"
)

// Clock is overridable in tests the same way the teacher's progress
// package exposes a package-level clock.Clock for deterministic ticks.
var Clock = clock.New()

const tickInterval = 1 * time.Second

// Reporter drives the 1 Hz stderr + progress_url loop for one session.
// It never blocks the caller: NewReporter spawns its own goroutine, the same
// shape as the teacher's ProgressReporter.mainLoop.
type Reporter struct {
	sessionID   string
	progressURL string
	callback    *workerclient.CallbackClient
	stderr      io.Writer

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	getter func() State
}

func NewReporter(ctx context.Context, sessionID, progressURL string, callback *workerclient.CallbackClient, stderr io.Writer) *Reporter {
	ctx, cancel := context.WithCancel(ctx)
	r := &Reporter{
		sessionID:   sessionID,
		progressURL: progressURL,
		callback:    callback,
		stderr:      stderr,
		ctx:         ctx,
		cancel:      cancel,
	}
	go r.loop()
	return r
}

// Track installs the function the reporter samples on each tick.
func (r *Reporter) Track(getter func() State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getter = getter
}

func (r *Reporter) loop() {
	ticker := Clock.Ticker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Reporter) tick() {
	r.mu.Lock()
	getter := r.getter
	r.mu.Unlock()
	if getter == nil {
		return
	}
	r.emit(getter())
}

func (r *Reporter) emit(s State) {
	io.WriteString(r.stderr, StderrLine(s)+"\n")

	if err := r.callback.PostProgress(r.ctx, r.progressURL, ProgressForm(s)); err != nil {
		log.Log(r.sessionID, "progress callback failed, will retry next tick", "err", err)
	}
}

// Finish writes the terminal stderr line and stops the ticker loop. It
// does not POST a final progress update: the media server is expected
// to notice the manifest/segments stopped changing on its own.
func (r *Reporter) Finish() {
	r.cancel()
	io.WriteString(r.stderr, StderrLine(finalState)+"\n")
}

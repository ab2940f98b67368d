// Package cartridge wires the Argument Parser, Worker Pool Manager,
// Single/Multi-Worker Dispatchers, and Local Fallback Rewriter + Self-heal
// into one process run: exactly the shape of the teacher's
// pipeline.Coordinator, generalized from "coordinate one VOD job's
// pipeline handlers" to "coordinate one transcode invocation's dispatch
// strategies, falling back in order until one succeeds".
package cartridge

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/plexbeam/cartridge/argv"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/localfallback"
	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/multidispatch"
	"github.com/plexbeam/cartridge/selfheal"
	"github.com/plexbeam/cartridge/session"
	"github.com/plexbeam/cartridge/singledispatch"
	"github.com/plexbeam/cartridge/subprocess"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

// Outcome is what Run decided to do and how it ended, used by the
// cmd/plexbeam entrypoint to pick a process exit code per spec.md §6.
type Outcome struct {
	// Dispatched is true when a remote dispatch strategy (single or
	// multi-worker) ran to completion.
	Dispatched bool
	// FallbackRan is true when the coordinator executed the local
	// transcoder itself.
	FallbackRan bool
	// FallbackExitCode is the local transcoder's own exit code, valid
	// only when FallbackRan is true.
	FallbackExitCode int
}

// Run executes one cartridge invocation: parse argv, probe the worker
// pool, try multi-worker dispatch, then single-worker dispatch, then
// local fallback, in that order, returning as soon as one path produces
// a complete output. Configuration is read from the environment once,
// at the top of the call.
func Run(ctx context.Context, rawArgs []string, cwd string) (Outcome, error) {
	return RunWithConfig(ctx, config.FromEnv(), rawArgs, cwd)
}

// RunWithConfig is Run with an explicit Config, so callers (and tests)
// that don't want to go through the environment can supply one directly.
func RunWithConfig(ctx context.Context, cfg config.Config, rawArgs []string, cwd string) (Outcome, error) {
	baseDir := cfg.PullDir
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	sess, err := session.New(baseDir)
	if err != nil {
		return Outcome{}, cartridgeerrors.NewConfigError("creating session", err)
	}
	defer sess.Close()

	events := log.NewEventLogger(cfg.InstallDir)

	heal, healErr := selfheal.Verify(cfg, sess.ID, events)
	if healErr != nil {
		// Self-heal failure only matters once we actually need the local
		// transcoder; record it but keep going, remote dispatch may still
		// succeed without ever touching the backup binary.
		log.LogError(sess.ID, "self-heal check failed", healErr)
	}

	inv, err := argv.Parse(rawArgs, cwd)
	if err != nil {
		return Outcome{}, cartridgeerrors.NewConfigError("parsing invocation", err)
	}

	client := workerclient.New(sess.ID)
	if cfg.StrictWorkerSchema {
		client.EnableStrictSchema()
	}
	callback := workerclient.NewCallbackClient(sess.ID)

	pool, poolErr := buildPool(sess.ID, cfg, client)
	if poolErr == nil {
		if err := pool.ProbeAll(ctx); err != nil {
			log.Log(sess.ID, "worker pool probe found no healthy workers", "err", err)
			poolErr = err
		}
	}

	if poolErr == nil {
		healthy := pool.Healthy()
		if len(healthy) > 1 {
			if err := runMulti(ctx, sess, client, callback, cfg, inv, healthy); err == nil {
				return Outcome{Dispatched: true}, nil
			} else if err != multidispatch.ErrFallbackSingle {
				log.Log(sess.ID, "multi-worker dispatch failed, falling back to single-worker", "err", err)
			}
		}
		if len(healthy) >= 1 {
			d := singledispatch.New(sess, client, callback, cfg)
			if err := d.Run(ctx, inv, healthy[0]); err == nil {
				return Outcome{Dispatched: true}, nil
			} else {
				log.Log(sess.ID, "single-worker dispatch failed, falling back to local transcode", "err", err)
			}
		}
	}

	if healErr != nil {
		return Outcome{}, healErr
	}
	exitCode, err := runLocalFallback(ctx, sess, heal.BackupPath, inv)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{FallbackRan: true, FallbackExitCode: exitCode}, nil
}

func buildPool(sessionID string, cfg config.Config, client *workerclient.Client) (*workerpool.Pool, error) {
	spec := cfg.WorkerPool
	if spec == "" && cfg.RemoteWorkerURL != "" {
		spec = cfg.RemoteWorkerURL
	}
	if spec == "" {
		return nil, cartridgeerrors.NewConfigError("no worker pool or remote worker url configured", nil)
	}
	return workerpool.New(sessionID, spec, client)
}

// runMulti probes a "local"-tagged worker for source duration (the
// optional GET /probe contract) and, if one answers, runs the
// multi-worker dispatcher. Without a duration there is nothing to chunk,
// so the caller falls through to single-worker dispatch.
func runMulti(ctx context.Context, sess *session.Session, client *workerclient.Client, callback *workerclient.CallbackClient, cfg config.Config, inv *argv.Invocation, healthy []*workerpool.Worker) error {
	durationSec, err := probeDuration(ctx, client, inv.InputPath, healthy)
	if err != nil {
		log.Log(sess.ID, "no duration available for multi-worker chunking, skipping to single-worker", "err", err)
		return multidispatch.ErrFallbackSingle
	}

	d := multidispatch.New(sess, client, callback, cfg, inv, healthy)
	return d.Run(ctx, durationSec)
}

func probeDuration(ctx context.Context, client *workerclient.Client, path string, workers []*workerpool.Worker) (float64, error) {
	for _, w := range workers {
		if w.Tag != "local" {
			continue
		}
		resp, err := client.Probe(ctx, w.URL, path)
		if err != nil {
			continue
		}
		return resp.DurationSec, nil
	}
	return 0, cartridgeerrors.NewConfigError("no @local worker available to probe source duration", nil)
}

// runLocalFallback execs the real transcoder binary directly, rewriting
// its argv for whatever GPU this host exposes. The backup binary's own
// exit code is forwarded, matching the media server's expectation that
// this process behaves exactly like the real transcoder it replaced.
func runLocalFallback(ctx context.Context, sess *session.Session, backupPath string, inv *argv.Invocation) (int, error) {
	hw := localfallback.DetectHWAccel()
	rewritten := localfallback.Rewrite(inv.RawArgs, hw)
	log.Log(sess.ID, "running local fallback transcode", "hw_accel", hw, "backup", backupPath)

	cmd := exec.CommandContext(ctx, backupPath, rewritten...)
	cmd.Stdin = os.Stdin

	var stderrExtra io.Writer
	if stderrLog, logErr := sess.StderrLog(); logErr != nil {
		log.LogError(sess.ID, "could not open session stderr log, teeing to stderr only", logErr)
	} else {
		stderrExtra = stderrLog
	}
	if err := subprocess.TeeOutputs(sess.ID, cmd, stderrExtra); err != nil {
		return 0, cartridgeerrors.NewSelfHealError("local fallback transcode failed to wire stdio: " + err.Error())
	}

	runErr := cmd.Run()
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	if runErr != nil {
		return 0, cartridgeerrors.NewSelfHealError("local fallback transcode failed to start: " + runErr.Error())
	}
	return 0, nil
}

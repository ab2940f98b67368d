// Package singledispatch implements the Single-Worker Dispatcher (C3):
// submit one job to one worker, poll it to completion, and aggregate its
// segments into the output directory, all under one coordinator tick
// loop.
//
// Grounded on the teacher's pipeline.Coordinator: a JobInfo's
// timestamp fields (SourcePlaybackDone, DownloadDone, ...) are a
// single-writer record of how far one job has progressed, polled by a
// loop rather than pushed by a callback. Here that becomes a poll loop
// over *workerclient.StatusResponse instead of a database row.
package singledispatch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plexbeam/cartridge/aggregator"
	"github.com/plexbeam/cartridge/argv"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/keepalive"
	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/remux"
	"github.com/plexbeam/cartridge/session"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

// Dispatcher runs one job end to end against one worker.
type Dispatcher struct {
	sess     *session.Session
	client   *workerclient.Client
	proxy    *workerclient.PullProxy
	callback *workerclient.CallbackClient
	cfg      config.Config
}

func New(sess *session.Session, client *workerclient.Client, callback *workerclient.CallbackClient, cfg config.Config) *Dispatcher {
	return &Dispatcher{
		sess:     sess,
		client:   client,
		proxy:    workerclient.NewPullProxy(),
		callback: callback,
		cfg:      cfg,
	}
}

// deliveryMode picks how the source reaches the worker: a worker tagged
// "local" shares a filesystem with the coordinator and reads the path
// directly; an https worker is assumed to sit across an untrusted link
// and pulls its input from the staged S3 proxy instead of accepting a
// pushed body; everything else (plain http, or a worker tagged "beam")
// gets the Matroska remux pushed to it directly.
type deliveryMode int

const (
	deliveryLocalPath deliveryMode = iota
	deliveryPullProxy
	deliveryBeamPush
)

func chooseDelivery(worker *workerpool.Worker) deliveryMode {
	if worker.Tag == "local" {
		return deliveryLocalPath
	}
	if strings.HasPrefix(worker.URL, "https://") {
		return deliveryPullProxy
	}
	return deliveryBeamPush
}

// Run submits inv as a single job against worker, polls it to
// completion, and emits every segment it produces.
func (d *Dispatcher) Run(ctx context.Context, inv *argv.Invocation, worker *workerpool.Worker) error {
	jobID := d.sess.ChunkJobID(0)
	mode := chooseDelivery(worker)

	payload, start, err := d.buildPayload(ctx, inv, worker, jobID, mode)
	if err != nil {
		return err
	}

	if _, err := d.client.Submit(ctx, worker.URL, payload); err != nil {
		return err
	}
	log.Log(d.sess.ID, "job submitted", "job_id", jobID, "worker", worker.URL, "mode", mode)

	// Beam-push delivery only opens the upload once the worker has
	// acknowledged the job, since /beam/stream/<job_id> expects the job
	// to already exist; pull-proxy and local-path delivery have nothing
	// left to do here, their side effects already happened while
	// building the payload.
	cleanup := start(ctx)
	defer cleanup()

	agg := aggregator.New(d.sess.ID, inv.OutputDir, d.client)
	manifestPath := manifestPathFor(inv)

	reporter := keepalive.NewReporter(ctx, d.sess.ID, inv.ProgressURL, d.callback, os.Stderr)
	defer reporter.Finish()

	var lastStatus workerclient.StatusResponse
	reporter.Track(func() keepalive.State {
		return keepalive.State{
			Frame:     lastStatus.Frame,
			FPS:       lastStatus.FPS,
			Speed:     lastStatus.Speed,
			OutTimeUs: lastStatus.OutTimeMs * 1000,
		}
	})

	defer func() {
		cancelCtx, cancel := context.WithTimeout(context.Background(), config.StatusPollTimeout)
		defer cancel()
		if err := d.client.DeleteJob(cancelCtx, worker.URL, jobID); err != nil {
			log.Log(d.sess.ID, "job cleanup delete failed", "job_id", jobID, "err", err)
		}
	}()

	for poll := 0; ; poll++ {
		if poll >= config.MaxPolls {
			return cartridgeerrors.NewWorkerJobError(jobID, "exceeded session poll cap")
		}

		status, statusErr := d.client.Status(ctx, worker.URL, jobID)
		switch {
		case statusErr != nil && cartridgeerrors.IsWorkerJobError(statusErr):
			return statusErr
		case statusErr != nil:
			log.Log(d.sess.ID, "status poll failed, retrying", "job_id", jobID, "err", statusErr)
		default:
			lastStatus = *status
			if status.Status == workerclient.StatusCompleted {
				if err := d.emitAndPost(ctx, agg, worker.URL, jobID, manifestPath, inv.ManifestCallbackURL); err != nil {
					return err
				}
				log.Log(d.sess.ID, "job completed", "job_id", jobID)
				return nil
			}
		}

		if poll%4 == 3 {
			if err := d.emitAndPost(ctx, agg, worker.URL, jobID, manifestPath, inv.ManifestCallbackURL); err != nil {
				log.LogAlert(d.sess.ID, "mid-run segment emit failed", "job_id", jobID, "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.PollInterval):
		}
	}
}

func (d *Dispatcher) emitAndPost(ctx context.Context, agg *aggregator.Aggregator, workerURL, jobID, manifestPath, callbackURL string) error {
	if err := agg.EmitChunk(ctx, workerURL, jobID, true); err != nil {
		return err
	}
	if callbackURL == "" {
		return nil
	}
	if err := agg.Gate().MaybePost(ctx, d.callback, callbackURL, manifestPath); err != nil {
		log.Log(d.sess.ID, "manifest post failed", "job_id", jobID, "err", err)
	}
	return nil
}

// buildPayload constructs the job payload for jobID and returns a start
// func, which Run calls once the worker has accepted the job. start
// opens whatever side channel the delivery mode still needs (the
// beam-push remux upload; a pull-proxy upload already happened here)
// and returns a cleanup func that releases it. cleanup is always safe
// to call even if delivery failed partway through.
func (d *Dispatcher) buildPayload(ctx context.Context, inv *argv.Invocation, worker *workerpool.Worker, jobID string, mode deliveryMode) (workerclient.JobPayload, func(context.Context) func(), error) {
	noStart := func(context.Context) func() { return func() {} }

	payload := workerclient.JobPayload{
		JobID: jobID,
		Output: workerclient.Output{
			Type:               string(inv.OutputKind),
			Path:               "dash",
			SegmentDurationSec: inv.SegmentDurationSec,
		},
		Arguments: workerclient.Arguments{
			VideoCodec:   inv.VideoCodecOut,
			AudioCodec:   inv.AudioCodecOut,
			VideoBitrate: inv.Bitrate,
			Resolution:   inv.Resolution,
			Seek:         inv.SeekSec,
			ToneMapping:  inv.ToneMap,
			Subtitle:     workerclient.Subtitle{Mode: inv.SubtitleMode},
			RawArgs:      argv.ForWorker(inv),
		},
		Source: d.cfg.Source,
		Metadata: workerclient.Metadata{
			CartridgeVersion: d.cfg.CartridgeVersion,
			SessionID:        d.sess.ID,
		},
	}
	if inv.ManifestCallbackURL != "" {
		payload.CallbackURL = &inv.ManifestCallbackURL
	}

	switch mode {
	case deliveryLocalPath:
		payload.Input = workerclient.Input{Type: "path", Path: inv.InputPath}
		return payload, noStart, nil

	case deliveryBeamPush:
		payload.Input = workerclient.Input{Type: "stream"}
		payload.BeamStream = true
		start := func(ctx context.Context) func() {
			body, err := remux.Stream(ctx, d.sess.ID, inv.InputPath, inv.SeekSec, 0)
			if err != nil {
				log.Log(d.sess.ID, "beam remux failed to start", "job_id", jobID, "err", err)
				return func() {}
			}
			pushed := make(chan error, 1)
			go func() {
				defer body.Close()
				pushed <- d.client.PushBeamStream(ctx, worker.URL, jobID, body, d.cfg.UploadRateBytes)
			}()
			return func() {
				select {
				case err := <-pushed:
					if err != nil {
						log.Log(d.sess.ID, "beam push ended with error", "job_id", jobID, "err", err)
					}
				case <-time.After(time.Second):
				}
			}
		}
		return payload, start, nil

	case deliveryPullProxy:
		f, err := os.Open(inv.InputPath)
		if err != nil {
			return payload, noStart, cartridgeerrors.NewConfigError("open input for pull proxy upload", err)
		}
		id := jobID + "_" + uuid.NewString()[:8]
		pullURL, err := d.proxy.Upload(ctx, d.cfg.PullProxyURL, id, f, d.cfg.UploadRateBytes)
		closeErr := f.Close()
		if err != nil {
			return payload, noStart, err
		}
		if closeErr != nil {
			log.Log(d.sess.ID, "closing input after pull proxy upload", "err", closeErr)
		}
		payload.Input = workerclient.Input{Type: "pull"}
		payload.PullURL = &pullURL
		return payload, func(context.Context) func() {
			return func() {
				cleanupCtx, cancel := context.WithTimeout(context.Background(), config.StatusPollTimeout)
				defer cancel()
				if err := d.proxy.Delete(cleanupCtx, d.cfg.PullProxyURL, id); err != nil {
					log.Log(d.sess.ID, "pull proxy cleanup delete failed", "id", id, "err", err)
				}
			}
		}, nil
	}

	return payload, noStart, cartridgeerrors.NewConfigError(fmt.Sprintf("unhandled delivery mode %d", mode), nil)
}

func manifestPathFor(inv *argv.Invocation) string {
	name := "stream.mpd"
	if inv.OutputKind == argv.OutputHLS {
		name = "stream.m3u8"
	}
	return inv.OutputDir + string(os.PathSeparator) + name
}

package multidispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plexbeam/cartridge/argv"
	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/session"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/plexbeam/cartridge/workerpool"
)

func newTestWorkerServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/transcode", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerclient.SubmitResponse{Status: workerclient.StatusQueued})
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerclient.StatusResponse{Status: workerclient.StatusCompleted, FPS: 60})
	})
	mux.HandleFunc("/beam/segments/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerclient.SegmentsResponse{
			Files: []string{"init-stream0.m4s", "chunk-stream0-00001.m4s"},
		})
	})
	mux.HandleFunc("/beam/segment/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("seg-bytes"))
	})
	mux.HandleFunc("/job/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunModeASeedSplitsAndCompletesInOrder(t *testing.T) {
	srv0 := newTestWorkerServer(t)
	srv1 := newTestWorkerServer(t)

	dir := t.TempDir()
	sess, err := session.New(dir)
	require.NoError(t, err)

	outDir := t.TempDir()
	inv := &argv.Invocation{
		InputPath:          "/media/film.mkv",
		OutputDir:          outDir,
		OutputKind:         argv.OutputDASH,
		SegmentDurationSec: 6,
		RawArgs:            []string{"-i", "/media/film.mkv", "dash"},
	}

	client := workerclient.New(sess.ID)
	callback := workerclient.NewCallbackClient(sess.ID)
	cfg := config.Config{
		Source:           "plex",
		CartridgeVersion: "test",
		MultiMode:        config.ModeSimpleChunked,
		ChunkDuration:    300 * time.Second,
	}
	workers := []*workerpool.Worker{
		{URL: srv0.URL, Tag: "nvenc"},
		{URL: srv1.URL, Tag: "nvenc"},
	}

	d := New(sess, client, callback, cfg, inv, workers)
	err = d.Run(context.Background(), 950)
	require.NoError(t, err)
	require.Equal(t, 3, len(d.chunks))
	require.Equal(t, 3, d.nextEmit)
}

func TestRunModeAFallsBackForShortDuration(t *testing.T) {
	dir := t.TempDir()
	sess, err := session.New(dir)
	require.NoError(t, err)

	inv := &argv.Invocation{InputPath: "/media/short.mkv", OutputDir: t.TempDir()}
	client := workerclient.New(sess.ID)
	callback := workerclient.NewCallbackClient(sess.ID)
	cfg := config.Config{MultiMode: config.ModeSimpleChunked, ChunkDuration: 300 * time.Second}
	workers := []*workerpool.Worker{{URL: "http://unused"}}

	d := New(sess, client, callback, cfg, inv, workers)
	err = d.Run(context.Background(), 100)
	require.ErrorIs(t, err, ErrFallbackSingle)
}

package aggregator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/plexbeam/cartridge/workerclient"
	"github.com/stretchr/testify/require"
)

func newFakeWorker(t *testing.T, files map[string]string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/beam/segments/job1", func(w http.ResponseWriter, r *http.Request) {
		var names []string
		for n := range files {
			names = append(names, n)
		}
		json.NewEncoder(w).Encode(workerclient.SegmentsResponse{Files: names})
	})
	mux.HandleFunc("/beam/segment/job1/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/beam/segment/job1/")
		w.Write([]byte(files[name]))
	})
	return httptest.NewServer(mux)
}

func TestEmitChunkZeroCopiesInitAndManifestAndRenumbers(t *testing.T) {
	files := map[string]string{
		"init-stream0.m4s":        "INIT",
		"stream.mpd":              "<MPD/>",
		"chunk-stream0-00001.m4s": "SEG1",
		"chunk-stream0-00002.m4s": "SEG2",
	}
	srv := newFakeWorker(t, files)
	defer srv.Close()

	dir := t.TempDir()
	client := workerclient.New("sess1")
	agg := New("sess1", dir, client)

	require.NoError(t, agg.EmitChunk(context.Background(), srv.URL, "job1", true))

	require.FileExists(t, filepath.Join(dir, "init-stream0.m4s"))
	require.FileExists(t, filepath.Join(dir, "stream.mpd"))
	require.FileExists(t, filepath.Join(dir, "chunk-stream0-00001.m4s"))
	require.FileExists(t, filepath.Join(dir, "chunk-stream0-00002.m4s"))
}

func newFakeWorkerOrdered(t *testing.T, order []string, content map[string]string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/beam/segments/job1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(workerclient.SegmentsResponse{Files: order})
	})
	mux.HandleFunc("/beam/segment/job1/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/beam/segment/job1/")
		w.Write([]byte(content[name]))
	})
	return httptest.NewServer(mux)
}

// TestEmitChunkRenumbersBySeqAcrossStreamsRegardlessOfListingOrder pins down
// that renumbering follows (segment_number, stream_id), not whatever order
// the worker happened to list files in. The listing below reports stream
// 0's two segments in reverse numeric order; a renumbering that trusted
// listing order would swap their contents.
func TestEmitChunkRenumbersBySeqAcrossStreamsRegardlessOfListingOrder(t *testing.T) {
	content := map[string]string{
		"chunk-stream0-00001.m4s": "S0-SEQ1",
		"chunk-stream0-00002.m4s": "S0-SEQ2",
		"chunk-stream1-00001.m4s": "S1-SEQ1",
		"chunk-stream1-00002.m4s": "S1-SEQ2",
	}
	order := []string{
		"chunk-stream0-00002.m4s",
		"chunk-stream1-00001.m4s",
		"chunk-stream1-00002.m4s",
		"chunk-stream0-00001.m4s",
	}
	srv := newFakeWorkerOrdered(t, order, content)
	defer srv.Close()

	dir := t.TempDir()
	client := workerclient.New("sess1")
	agg := New("sess1", dir, client)

	require.NoError(t, agg.EmitChunk(context.Background(), srv.URL, "job1", false))

	for destName, want := range map[string]string{
		"chunk-stream0-00001.m4s": "S0-SEQ1",
		"chunk-stream0-00002.m4s": "S0-SEQ2",
		"chunk-stream1-00001.m4s": "S1-SEQ1",
		"chunk-stream1-00002.m4s": "S1-SEQ2",
	} {
		data, err := os.ReadFile(filepath.Join(dir, destName))
		require.NoError(t, err)
		require.Equal(t, want, string(data), "wrong content emitted as %s", destName)
	}
}

func TestEmitChunkNonZeroSkipsInitAndManifestAndContinuesOffsets(t *testing.T) {
	dir := t.TempDir()
	client := workerclient.New("sess1")
	agg := New("sess1", dir, client)
	agg.offsets.offsets[0] = 2 // pretend chunk 0 already emitted two segments on stream 0

	files := map[string]string{
		"init-stream0.m4s":        "INIT",
		"stream.mpd":              "<MPD/>",
		"chunk-stream0-00001.m4s": "SEG1-of-chunk1",
	}
	srv := newFakeWorker(t, files)
	defer srv.Close()

	require.NoError(t, agg.EmitChunk(context.Background(), srv.URL, "job1", false))

	require.NoFileExists(t, filepath.Join(dir, "init-stream0.m4s"))
	require.NoFileExists(t, filepath.Join(dir, "stream.mpd"))
	require.FileExists(t, filepath.Join(dir, "chunk-stream0-00003.m4s"))

	data, err := os.ReadFile(filepath.Join(dir, "chunk-stream0-00003.m4s"))
	require.NoError(t, err)
	require.Equal(t, "SEG1-of-chunk1", string(data))
}

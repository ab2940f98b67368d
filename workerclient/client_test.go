package workerclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plexbeam/cartridge/cartridgeerrors"
)

func TestHealthOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		json.NewEncoder(w).Encode(HealthResponse{Status: "ok", HWAccel: EncoderNVENC})
	}))
	defer srv.Close()

	c := New("sess1")
	h, err := c.Health(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, EncoderNVENC, h.HWAccel)
}

func TestHealthNon200IsNetworkTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New("sess1")
	_, err := c.Health(context.Background(), srv.URL)
	require.Error(t, err)
	require.True(t, cartridgeerrors.IsNetworkTransient(err))
}

func TestSubmitAcceptedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transcode", r.URL.Path)
		var payload JobPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Equal(t, "sess1_c0", payload.JobID)
		json.NewEncoder(w).Encode(SubmitResponse{Status: StatusQueued})
	}))
	defer srv.Close()

	c := New("sess1")
	resp, err := c.Submit(context.Background(), srv.URL, JobPayload{JobID: "sess1_c0"})
	require.NoError(t, err)
	require.Equal(t, StatusQueued, resp.Status)
}

func TestSubmitRejectedStatusIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SubmitResponse{Status: StatusFailed})
	}))
	defer srv.Close()

	c := New("sess1")
	_, err := c.Submit(context.Background(), srv.URL, JobPayload{JobID: "sess1_c0"})
	require.Error(t, err)
}

func TestStatusFailedReturnsWorkerJobError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(StatusResponse{Status: StatusFailed, Error: "boom"})
	}))
	defer srv.Close()

	c := New("sess1")
	_, err := c.Status(context.Background(), srv.URL, "sess1_c0")
	require.Error(t, err)
	require.True(t, cartridgeerrors.IsWorkerJobError(err))
	require.Contains(t, err.Error(), "boom")
}

func TestListSegments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/beam/segments/sess1_c0", r.URL.Path)
		json.NewEncoder(w).Encode(SegmentsResponse{Files: []string{"chunk-stream0-00001.m4s"}})
	}))
	defer srv.Close()

	c := New("sess1")
	segs, err := c.ListSegments(context.Background(), srv.URL, "sess1_c0")
	require.NoError(t, err)
	require.Equal(t, []string{"chunk-stream0-00001.m4s"}, segs.Files)
}

func TestPushBeamStream(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/beam/stream/sess1_c0", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("sess1")
	err := c.PushBeamStream(context.Background(), srv.URL, "sess1_c0", strings.NewReader("mkv-bytes"), 0)
	require.NoError(t, err)
	require.Equal(t, "mkv-bytes", gotBody)
}

func TestDeleteJobToleratesNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New("sess1")
	require.NoError(t, c.DeleteJob(context.Background(), srv.URL, "sess1_c0"))
}

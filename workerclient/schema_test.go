package workerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrictSchemaAcceptsWellFormedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running","fps":42,"speed":1.5,"out_time_ms":1000,"frame":100,"progress":0.5}`))
	}))
	defer srv.Close()

	c := New("sess1")
	c.EnableStrictSchema()
	resp, err := c.Status(context.Background(), srv.URL, "sess1_c0")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, resp.Status)
}

func TestStrictSchemaRejectsUnknownStatusValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"some-future-status"}`))
	}))
	defer srv.Close()

	c := New("sess1")
	c.EnableStrictSchema()
	_, err := c.Status(context.Background(), srv.URL, "sess1_c0")
	require.Error(t, err)
}

func TestWithoutStrictSchemaUnknownStatusValuePassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"some-future-status"}`))
	}))
	defer srv.Close()

	c := New("sess1")
	resp, err := c.Status(context.Background(), srv.URL, "sess1_c0")
	require.NoError(t, err)
	require.Equal(t, JobStatus("some-future-status"), resp.Status)
}

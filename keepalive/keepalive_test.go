package keepalive

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/plexbeam/cartridge/workerclient"
	"github.com/stretchr/testify/require"
)

func TestStderrLineFormat(t *testing.T) {
	line := StderrLine(State{Frame: 120, FPS: 30, Speed: 1.5, OutTimeUs: 4_000_000})
	require.Contains(t, line, "frame=120")
	require.Contains(t, line, "fps=30")
	require.Contains(t, line, "speed=1.5x")
	require.Contains(t, line, "time=00:00:04.00")
}

func TestProgressFormSentEvenWhenOutTimeZero(t *testing.T) {
	form := ProgressForm(State{Frame: 0, FPS: 0, Speed: 0, OutTimeUs: 0})
	require.Equal(t, "continue", form.Get("progress"))
	require.Equal(t, "0", form.Get("out_time_us"))
}

func TestReporterTicksAndPostsProgress(t *testing.T) {
	var posts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mock := clock.NewMock()
	Clock = mock
	defer func() { Clock = clock.New() }()

	var stderr bytes.Buffer
	callback := workerclient.NewCallbackClient("sess1")
	r := NewReporter(context.Background(), "sess1", srv.URL, callback, &stderr)
	r.Track(func() State { return State{Frame: 1, FPS: 30, Speed: 1.0} })

	mock.Add(tickInterval)
	time.Sleep(20 * time.Millisecond) // let the goroutine observe the tick

	require.Contains(t, stderr.String(), "frame=1")
	require.GreaterOrEqual(t, atomic.LoadInt32(&posts), int32(1))

	r.Finish()
	require.Contains(t, stderr.String(), "frame=9999")
}

package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/plexbeam/cartridge/workerclient"
	"github.com/stretchr/testify/require"
)

func TestGateGatesOnInitAndMedia(t *testing.T) {
	g := NewGate("sess1")
	require.Equal(t, StateNoManifest, g.State())

	g.Observe(KindInit)
	require.Equal(t, StateNoManifest, g.State())

	g.Observe(KindMedia)
	require.Equal(t, StateReadyNotPosted, g.State())
}

func TestGatePostsOnceThenOnMD5Change(t *testing.T) {
	var posts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "stream.mpd")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	g := NewGate("sess1")
	g.Observe(KindInit)
	g.Observe(KindMedia)

	client := workerclient.NewCallbackClient("sess1")
	require.NoError(t, g.MaybePost(context.Background(), client, srv.URL, path))
	require.Equal(t, 1, posts)
	require.Equal(t, StatePosted, g.State())

	// Same bytes: no re-post.
	require.NoError(t, g.MaybePost(context.Background(), client, srv.URL, path))
	require.Equal(t, 1, posts)

	// Changed bytes: re-post.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, g.MaybePost(context.Background(), client, srv.URL, path))
	require.Equal(t, 2, posts)
}

package workerclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPullProxyUploadAndDelete(t *testing.T) {
	var uploadedPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			uploadedPath = r.URL.Path
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	p := NewPullProxy()
	url, err := p.Upload(context.Background(), srv.URL, "sess1_c0", strings.NewReader("data"), 0)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/upload/sess1_c0.mkv", url)
	require.Equal(t, "/upload/sess1_c0.mkv", uploadedPath)

	require.NoError(t, p.Delete(context.Background(), srv.URL, "sess1_c0"))
}

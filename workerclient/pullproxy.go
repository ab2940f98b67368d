package workerclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/plexbeam/cartridge/cartridgeerrors"
)

// PullProxy talks to the companion S3-compatible pull proxy a worker
// fetches staged input from, instead of having the input streamed
// through the dispatcher itself.
type PullProxy struct {
	http *http.Client
}

func NewPullProxy() *PullProxy {
	return &PullProxy{http: &http.Client{Timeout: 4 * time.Hour}}
}

// Upload PUTs the local file to <proxy>/upload/<id>.mkv, returning the
// pull_url a worker's job payload can reference directly.
func (p *PullProxy) Upload(ctx context.Context, proxyURL, id string, body io.Reader, rateBytesPerSec int64) (string, error) {
	r := body
	if rateBytesPerSec > 0 {
		r = NewRateLimitedReader(body, rateBytesPerSec)
	}
	url := strings.TrimRight(proxyURL, "/") + "/upload/" + id + ".mkv"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return "", cartridgeerrors.NewNetworkTransientError("build pull proxy upload request", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return "", cartridgeerrors.NewNetworkTransientError("pull proxy upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", cartridgeerrors.NewNetworkTransientError("pull proxy upload",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	return url, nil
}

// Delete removes a previously uploaded staged file once every worker
// has confirmed the chunk it fed is done.
func (p *PullProxy) Delete(ctx context.Context, proxyURL, id string) error {
	url := strings.TrimRight(proxyURL, "/") + "/upload/" + id + ".mkv"
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("build pull proxy delete request", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("pull proxy delete", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return cartridgeerrors.NewNetworkTransientError("pull proxy delete",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	return nil
}

package workerclient

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/plexbeam/cartridge/log"
)

// CallbackClient posts progress and manifest updates back to the media
// server that invoked the process, the way the teacher's
// PeriodicCallbackClient posts transcode status back to Studio: fire
// the call with a small retry budget (two retries, waits of at most one
// second), log failures, and return the error to the caller.
type CallbackClient struct {
	sessionID string
	http      *retryablehttp.Client
}

func NewCallbackClient(sessionID string) *CallbackClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.Logger = log.NewRetryableHTTPLogger(sessionID)
	client.HTTPClient = &http.Client{Timeout: 5 * time.Second}

	return &CallbackClient{sessionID: sessionID, http: client}
}

// PostProgress form-POSTs an ffmpeg-progress-shaped keep-alive update to
// the media server's progress URL.
func (c *CallbackClient) PostProgress(ctx context.Context, progressURL string, form url.Values) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, progressURL, strings.NewReader(form.Encode()))
	if err != nil {
		log.Log(c.sessionID, "failed to build progress callback request", "err", err)
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		log.Log(c.sessionID, "progress callback failed", "url", log.RedactURL(progressURL), "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Log(c.sessionID, "progress callback rejected", "url", log.RedactURL(progressURL), "status", resp.StatusCode)
	}
	return nil
}

// PostManifest POSTs the current manifest body to the media server's
// manifest callback URL, content-typed by output kind.
func (c *CallbackClient) PostManifest(ctx context.Context, manifestURL, contentType string, body []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, manifestURL, bytes.NewReader(body))
	if err != nil {
		log.Log(c.sessionID, "failed to build manifest callback request", "err", err)
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		log.Log(c.sessionID, "manifest callback failed", "url", log.RedactURL(manifestURL), "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		log.Log(c.sessionID, "manifest callback rejected", "url", log.RedactURL(manifestURL), "status", resp.StatusCode)
	}
	return nil
}

package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/log"
)

// Client talks the worker HTTP contract against whatever worker URL is
// passed to each call; a single Client is shared across every worker in
// a pool, mirroring how the teacher's callback client is one instance
// shared across every in-flight job.
type Client struct {
	sessionID    string
	health       *retryablehttp.Client
	fast         *retryablehttp.Client
	slow         *retryablehttp.Client
	upload       *http.Client
	strictSchema bool
}

// EnableStrictSchema turns on JSON-schema validation of worker /status
// responses, beyond the StatusResponse field shape json.Unmarshal alone
// checks. Off by default since it costs a schema-compile's worth of
// extra matching on a call already on the hot polling path.
func (c *Client) EnableStrictSchema() {
	c.strictSchema = true
}

// New builds a Client whose retry behavior is tuned per call class:
// health probes fail fast with no retries, status/list/delete/probe
// calls retry twice with a short backoff, submit calls retry once with
// a longer backoff and timeout, and uploads/downloads get a
// long-lived plain http.Client since a half-streamed body can't be
// safely retried.
func New(sessionID string) *Client {
	health := retryablehttp.NewClient()
	health.RetryMax = 0
	health.Logger = log.NewRetryableHTTPLogger(sessionID)
	health.HTTPClient = &http.Client{Timeout: 2 * time.Second}

	fast := retryablehttp.NewClient()
	fast.RetryMax = 2
	fast.RetryWaitMin = 200 * time.Millisecond
	fast.RetryWaitMax = 1 * time.Second
	fast.Logger = log.NewRetryableHTTPLogger(sessionID)
	fast.HTTPClient = &http.Client{Timeout: 5 * time.Second}

	slow := retryablehttp.NewClient()
	slow.RetryMax = 1
	slow.RetryWaitMin = 500 * time.Millisecond
	slow.RetryWaitMax = 2 * time.Second
	slow.Logger = log.NewRetryableHTTPLogger(sessionID)
	slow.HTTPClient = &http.Client{Timeout: 30 * time.Second}

	return &Client{
		sessionID: sessionID,
		health:    health,
		fast:      fast,
		slow:      slow,
		upload:    &http.Client{Timeout: 4 * time.Hour},
	}
}

// Health probes a worker's GET /health with a short connect timeout so
// pool ranking doesn't stall behind an unreachable or overloaded host.
func (c *Client) Health(ctx context.Context, workerURL string) (*HealthResponse, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(workerURL, "/")+"/health", nil)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("build health request", err)
	}
	resp, err := c.health.Do(req)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("worker health probe", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, cartridgeerrors.NewNetworkTransientError("worker health probe",
			fmt.Errorf("%s: status %d", workerURL, resp.StatusCode))
	}

	var h HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("decode health response: %s", err))
	}
	return &h, nil
}

// Submit POSTs a job payload to a worker's /transcode.
func (c *Client) Submit(ctx context.Context, workerURL string, payload JobPayload) (*SubmitResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("marshal job payload: %s", err))
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(workerURL, "/")+"/transcode", bytes.NewReader(body))
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.slow.Do(req)
	if err != nil {
		return nil, cartridgeerrors.NewWorkerJobError(payload.JobID, fmt.Sprintf("submit to %s: %s", workerURL, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, cartridgeerrors.NewWorkerJobError(payload.JobID,
			fmt.Sprintf("submit to %s rejected: status %d", workerURL, resp.StatusCode))
	}

	var sr SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("decode submit response: %s", err))
	}
	if !sr.Status.IsSubmitSuccess() {
		return &sr, cartridgeerrors.NewWorkerJobError(payload.JobID,
			fmt.Sprintf("worker %s rejected job with status %q", workerURL, sr.Status))
	}
	return &sr, nil
}

// Status polls a worker's GET /status/<job_id>.
func (c *Client) Status(ctx context.Context, workerURL, jobID string) (*StatusResponse, error) {
	url := strings.TrimRight(workerURL, "/") + "/status/" + jobID
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("build status request", err)
	}

	resp, err := c.fast.Do(req)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("poll worker status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, cartridgeerrors.NewWorkerJobError(jobID, fmt.Sprintf("job not found on worker %s", workerURL))
	}
	if resp.StatusCode >= 400 {
		return nil, cartridgeerrors.NewNetworkTransientError("poll worker status",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("read status response body", err)
	}
	if c.strictSchema {
		if err := validateStatusResponse(respBody); err != nil {
			return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("status response failed schema validation: %s", err))
		}
	}

	var sr StatusResponse
	if err := json.Unmarshal(respBody, &sr); err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("decode status response: %s", err))
	}
	if sr.Status == StatusFailed {
		return &sr, cartridgeerrors.NewWorkerJobError(jobID, fmt.Sprintf("%s (worker %s)", sr.Error, workerURL))
	}
	return &sr, nil
}

// ListSegments lists the files currently sitting in a worker's output
// directory for jobID, via GET /beam/segments/<job_id>.
func (c *Client) ListSegments(ctx context.Context, workerURL, jobID string) (*SegmentsResponse, error) {
	url := strings.TrimRight(workerURL, "/") + "/beam/segments/" + jobID
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("build list segments request", err)
	}
	resp, err := c.fast.Do(req)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("list worker segments", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, cartridgeerrors.NewNetworkTransientError("list worker segments",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}

	var sr SegmentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("decode segments response: %s", err))
	}
	return &sr, nil
}

// DownloadSegment opens a streaming body for one named file from a
// worker's job output. Callers must close the returned ReadCloser.
func (c *Client) DownloadSegment(ctx context.Context, workerURL, jobID, name string) (io.ReadCloser, error) {
	url := strings.TrimRight(workerURL, "/") + "/beam/segment/" + jobID + "/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("build segment download request", err)
	}
	resp, err := c.upload.Do(req)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("download segment", err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, cartridgeerrors.NewNetworkTransientError("download segment",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	return resp.Body, nil
}

// PushBeamStream POSTs a chunked Matroska copy-remux body to a worker's
// /beam/stream/<job_id>, the beam_stream delivery path used when the
// worker has no other way to reach the source file.
func (c *Client) PushBeamStream(ctx context.Context, workerURL, jobID string, body io.Reader, rateBytesPerSec int64) error {
	r := body
	if rateBytesPerSec > 0 {
		r = NewRateLimitedReader(body, rateBytesPerSec)
	}
	url := strings.TrimRight(workerURL, "/") + "/beam/stream/" + jobID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, r)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("build beam stream request", err)
	}
	resp, err := c.upload.Do(req)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("push beam stream", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return cartridgeerrors.NewNetworkTransientError("push beam stream",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	return nil
}

// StageUpload PUTs the local source file straight to a worker, used
// when the input is only reachable from this host (not pull- or
// beam-accessible to the worker).
func (c *Client) StageUpload(ctx context.Context, workerURL, stageID string, body io.Reader, rateBytesPerSec int64) error {
	r := body
	if rateBytesPerSec > 0 {
		r = NewRateLimitedReader(body, rateBytesPerSec)
	}
	url := strings.TrimRight(workerURL, "/") + "/beam/stage/" + stageID
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, r)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("build stage upload request", err)
	}
	resp, err := c.upload.Do(req)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("stage upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return cartridgeerrors.NewNetworkTransientError("stage upload",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	return nil
}

// DeleteJob tells a worker it can reap jobID's state and output files.
func (c *Client) DeleteJob(ctx context.Context, workerURL, jobID string) error {
	url := strings.TrimRight(workerURL, "/") + "/job/" + jobID
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("build delete job request", err)
	}
	resp, err := c.fast.Do(req)
	if err != nil {
		return cartridgeerrors.NewNetworkTransientError("delete worker job", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return cartridgeerrors.NewNetworkTransientError("delete worker job",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	return nil
}

// Probe asks an @local worker (the fallback transcoder running on this
// host, exposed through the same contract) for the source duration.
func (c *Client) Probe(ctx context.Context, workerURL, path string) (*ProbeResponse, error) {
	url := strings.TrimRight(workerURL, "/") + "/probe?path=" + path
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("build probe request", err)
	}
	resp, err := c.fast.Do(req)
	if err != nil {
		return nil, cartridgeerrors.NewNetworkTransientError("probe worker", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, cartridgeerrors.NewNetworkTransientError("probe worker",
			fmt.Errorf("%s: status %d", url, resp.StatusCode))
	}
	var pr ProbeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("decode probe response: %s", err))
	}
	return &pr, nil
}

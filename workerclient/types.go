// Package workerclient implements the HTTP client side of the worker
// transcode contract and the S3 pull proxy contract, both consumed by
// the dispatcher.
//
// Grounded on the teacher's clients/broadcaster.go (HTTP client
// construction, timeouts-by-call-kind) and clients/callback_client.go
// (retryablehttp wiring, logged-and-swallowed callback errors).
package workerclient

// EncoderClass is a worker's hardware encoder family, discovered from /health.
type EncoderClass string

const (
	EncoderNVENC   EncoderClass = "nvenc"
	EncoderQSV     EncoderClass = "qsv"
	EncoderVAAPI   EncoderClass = "vaapi"
	EncoderUnknown EncoderClass = "unknown"
)

// JobStatus mirrors the /status response "status" field.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// IsSubmitSuccess reports whether a /transcode response status counts as
// an accepted submission.
func (s JobStatus) IsSubmitSuccess() bool {
	switch s {
	case StatusPending, StatusQueued, StatusRunning:
		return true
	default:
		return false
	}
}

func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status   string       `json:"status"`
	HWAccel  EncoderClass `json:"hw_accel"`
}

// Input describes where the worker should read source media from.
type Input struct {
	Type string `json:"type"` // "path" | "stream" | "pull"
	Path string `json:"path,omitempty"`
}

// Output describes the worker's target segment layout.
type Output struct {
	Type              string `json:"type"` // "dash" | "hls"
	Path              string `json:"path"`
	SegmentDurationSec int   `json:"segment_duration"`
}

// Subtitle mirrors the job payload's nested subtitle object.
type Subtitle struct {
	Mode string `json:"mode"`
}

// Arguments mirrors the job payload's "arguments" object.
type Arguments struct {
	VideoCodec    string   `json:"video_codec"`
	AudioCodec    string   `json:"audio_codec"`
	VideoBitrate  string   `json:"video_bitrate,omitempty"`
	Resolution    string   `json:"resolution,omitempty"`
	Seek          float64  `json:"seek"`
	ToneMapping   bool     `json:"tone_mapping"`
	Subtitle      Subtitle `json:"subtitle"`
	RawArgs       []string `json:"raw_args"`
}

// SplitInfo records the multi-worker chunk assignment in metadata, purely
// informational for the worker/operator.
type SplitInfo struct {
	ChunkIndex   int `json:"chunk_index,omitempty"`
	TotalChunks  int `json:"total_chunks,omitempty"`
	CalibratedFPS int `json:"calibrated_fps,omitempty"`
}

// Metadata mirrors the job payload's "metadata" object.
type Metadata struct {
	CartridgeVersion string     `json:"cartridge_version"`
	SessionID        string     `json:"session_id"`
	SplitInfo        *SplitInfo `json:"split_info,omitempty"`
}

// JobPayload is the full job payload schema POSTed to /transcode.
type JobPayload struct {
	JobID       string    `json:"job_id"`
	Input       Input     `json:"input"`
	Output      Output    `json:"output"`
	Arguments   Arguments `json:"arguments"`
	Source      string    `json:"source"` // "plex" | "jellyfin"
	BeamStream  bool      `json:"beam_stream"`
	PullURL     *string   `json:"pull_url"`
	StagedInput *string   `json:"staged_input"`
	CallbackURL *string   `json:"callback_url"`
	Metadata    Metadata  `json:"metadata"`
}

// SubmitResponse is the POST /transcode response.
type SubmitResponse struct {
	Status JobStatus `json:"status"`
}

// StatusResponse is the GET /status/<job_id> response.
type StatusResponse struct {
	Status    JobStatus `json:"status"`
	FPS       int       `json:"fps"`
	Speed     float64   `json:"speed"`
	OutTimeMs int64     `json:"out_time_ms"`
	Frame     int       `json:"frame"`
	Progress  float64   `json:"progress"`
	Error     string    `json:"error"`
}

// SegmentsResponse is the GET /beam/segments/<job_id> response.
type SegmentsResponse struct {
	Files []string `json:"files"`
}

// ProbeResponse is the optional @local worker GET /probe response.
type ProbeResponse struct {
	DurationSec float64 `json:"duration"`
}

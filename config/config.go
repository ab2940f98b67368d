// Package config holds process-wide defaults and the environment-driven
// configuration for a single cartridge run. The cartridge is invoked once
// per transcode and exits, so configuration is read from the environment
// rather than from flags or a reloadable file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// MultiMode selects which Multi-Worker Dispatcher strategy (C4) to run.
type MultiMode string

const (
	ModeSimpleChunked MultiMode = "A"
	ModeWeightedSplit MultiMode = "B"
	ModeBitTorrent    MultiMode = "C"
	DefaultMultiMode            = ModeBitTorrent
	DefaultChunkSecs            = 300
)

// Per-call timeouts.
const (
	ConnectTimeout       = 2 * time.Second
	StatusPollTimeout    = 5 * time.Second
	SubmitTimeout        = 30 * time.Second
	BeamUploadTimeout    = 7200 * time.Second
	StagedUploadTimeout  = 14400 * time.Second
	SessionCap           = 2 * time.Hour
	MaxPolls             = 28800
	PollInterval         = 250 * time.Millisecond
	TickInterval         = 250 * time.Millisecond
	ProgressiveChunkPoll = 2 * time.Second
	KeepAliveInterval    = time.Second
	FastStartBudget      = 150 * time.Second
)

// Config is the environment-derived configuration for one cartridge
// invocation, generalizing the teacher's flat config.Cli struct to
// environment variables instead of CLI flags.
type Config struct {
	MultiMode          MultiMode
	ChunkDuration      time.Duration
	UploadRateBytes    int64 // 0 = unlimited
	BeamDirect         bool
	WorkerPool         string
	RemoteWorkerURL    string
	PullProxyURL       string
	PullDir            string
	StagedUpload       bool
	StrictWorkerSchema bool

	// Installer-baked values.
	APIKey           string
	SharedSegmentDir string
	CallbackURL      string
	RealFFmpegPath   string
	InstallDir       string

	// Source identifies which media server invoked us.
	Source string // "plex" or "jellyfin"

	CartridgeVersion string
}

// FromEnv builds a Config from the process environment, applying the
// defaults applied when unset or invalid.
func FromEnv() Config {
	return Config{
		MultiMode:          multiModeFromEnv("PLEXBEAM_MULTI_MODE", DefaultMultiMode),
		ChunkDuration:      durationSecsFromEnv("PLEXBEAM_CHUNK_DURATION", DefaultChunkSecs),
		UploadRateBytes:    int64FromEnv("PLEXBEAM_UPLOAD_RATE", 0),
		BeamDirect:         boolFromEnv("PLEXBEAM_BEAM_DIRECT", false),
		WorkerPool:         os.Getenv("PLEXBEAM_WORKER_POOL"),
		RemoteWorkerURL:    os.Getenv("PLEXBEAM_REMOTE_WORKER_URL"),
		PullProxyURL:       os.Getenv("PLEXBEAM_PULL_PROXY_URL"),
		PullDir:            os.Getenv("PLEXBEAM_PULL_DIR"),
		StagedUpload:       boolFromEnv("PLEXBEAM_STAGED_UPLOAD", false),
		StrictWorkerSchema: boolFromEnv("PLEXBEAM_STRICT_WORKER_SCHEMA", false),
		APIKey:             os.Getenv("PLEXBEAM_API_KEY"),
		SharedSegmentDir:   os.Getenv("PLEXBEAM_SEGMENT_DIR"),
		CallbackURL:        os.Getenv("PLEXBEAM_CALLBACK_URL"),
		RealFFmpegPath:     realFFmpegPathFromEnv(),
		InstallDir:         installDirFromEnv(),
		Source:             sourceFromEnv(),
		CartridgeVersion:   Version,
	}
}

func realFFmpegPathFromEnv() string {
	if v := os.Getenv("PLEXBEAM_REAL_FFMPEG"); v != "" {
		return v
	}
	return "ffmpeg.real"
}

func installDirFromEnv() string {
	if v := os.Getenv("PLEXBEAM_INSTALL_DIR"); v != "" {
		return v
	}
	return "/opt/plexbeam"
}

func sourceFromEnv() string {
	if v := strings.ToLower(os.Getenv("PLEXBEAM_SOURCE")); v == "jellyfin" {
		return "jellyfin"
	}
	return "plex"
}

func multiModeFromEnv(key string, def MultiMode) MultiMode {
	switch MultiMode(strings.ToUpper(os.Getenv(key))) {
	case ModeSimpleChunked:
		return ModeSimpleChunked
	case ModeWeightedSplit:
		return ModeWeightedSplit
	case ModeBitTorrent:
		return ModeBitTorrent
	default:
		return def
	}
}

func durationSecsFromEnv(key string, defSecs int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defSecs) * time.Second
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return time.Duration(defSecs) * time.Second
	}
	return time.Duration(secs) * time.Second
}

func int64FromEnv(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func boolFromEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

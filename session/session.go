// Package session implements the session data model: one run
// identified by session_id = <utc-compact-timestamp>_<pid>, owning a
// session directory for captured state, created once per process start.
//
// Grounded on the teacher's state package (owns a directory of on-disk
// state) and requests.GetRequestId (id generation helper), generalized
// from a per-HTTP-request id to a per-process session id.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/plexbeam/cartridge/config"
	"github.com/plexbeam/cartridge/log"
)

const (
	sessionLogName      = "00_session.log"
	jobRequestName      = "01_job_request.json"
	jobResponseName     = "02_job_response.json"
	jobCompletedName    = "03_job_completed.json"
	jobFailedName       = "03_job_failed.json"
	stderrLogName       = "stderr.log"
	chunkDownloadLogName = "chunk_download.log"
)

// Session owns the on-disk capture of one cartridge run.
type Session struct {
	ID      string
	Dir     string
	PID     int
	Started time.Time

	mu          sync.Mutex
	stderrFile  *os.File
	chunkLogger *os.File
}

// New generates a session_id and creates its session directory under
// baseDir (typically PLEXBEAM_PULL_DIR's parent, or the installer-baked
// default). The timestamp component is taken from config.Clock so tests
// can pin it.
func New(baseDir string) (*Session, error) {
	now := config.Clock.GetTime().UTC()
	pid := os.Getpid()
	id := fmt.Sprintf("%s_%d", now.Format("20060102T150405Z"), pid)

	dir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory %s: %w", dir, err)
	}

	s := &Session{
		ID:      id,
		Dir:     dir,
		PID:     pid,
		Started: now,
	}

	log.Log(s.ID, "session started", "dir", dir, "pid", pid)
	return s, nil
}

// Path returns a path rooted at the session directory.
func (s *Session) Path(name string) string {
	return filepath.Join(s.Dir, name)
}

// WriteJSON writes one of the 0N_*.json persisted-state files.
func (s *Session) WriteJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}
	return os.WriteFile(s.Path(name), b, 0o644)
}

func (s *Session) WriteJobRequest(v any) error  { return s.WriteJSON(jobRequestName, v) }
func (s *Session) WriteJobResponse(v any) error { return s.WriteJSON(jobResponseName, v) }
func (s *Session) WriteJobCompleted(v any) error { return s.WriteJSON(jobCompletedName, v) }
func (s *Session) WriteJobFailed(v any) error    { return s.WriteJSON(jobFailedName, v) }

// StderrLog returns (opening lazily) the append-only file stderr progress
// lines are teed into, alongside the live os.Stderr write the media server
// is watching.
func (s *Session) StderrLog() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stderrFile != nil {
		return s.stderrFile, nil
	}
	f, err := os.OpenFile(s.Path(stderrLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.stderrFile = f
	return f, nil
}

// ChunkDownloadLog returns the multi-worker-mode debug log that records
// every per-worker segment download the Segment Aggregator performs.
func (s *Session) ChunkDownloadLog() (*os.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunkLogger != nil {
		return s.chunkLogger, nil
	}
	f, err := os.OpenFile(s.Path(chunkDownloadLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.chunkLogger = f
	return f, nil
}

// SessionLogPath returns the path of the session directory's
// 00_session.log. Nothing in this module opens or writes that file; the
// structured session log goes to log.Sink (stderr).
func (s *Session) SessionLogPath() string {
	return s.Path(sessionLogName)
}

// Close releases file handles held by the session. It does not delete the
// session directory: the persisted state layout is a debugging
// artifact that outlives the process, and cleanup of old sessions is the
// out-of-scope log-pruning sub-daemon's job. "Destroyed on exit" for
// a session refers to this in-memory Session value, not the files it wrote.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	if s.stderrFile != nil {
		if err := s.stderrFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.stderrFile = nil
	}
	if s.chunkLogger != nil {
		if err := s.chunkLogger.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.chunkLogger = nil
	}
	return firstErr
}

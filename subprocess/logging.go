// Package subprocess streams a child process's stdout/stderr to the
// parent's own stdio while also teeing stderr into the session's
// append-only stderr.log, the way the local fallback transcode's output
// needs to look exactly like the real transcoder's to the media server
// watching it, while still leaving a copy on disk for the doctor CLI.
package subprocess

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/plexbeam/cartridge/log"
)

func streamOutput(sessionID string, src io.Reader, out io.Writer) {
	s := bufio.NewReader(src)
	for {
		var line []byte
		line, err := s.ReadSlice('\n')
		if err == io.EOF && len(line) == 0 {
			return
		}
		if err != nil && err != io.EOF {
			log.LogError(sessionID, "subprocess output stream read error", err)
			return
		}
		if _, werr := out.Write(line); werr != nil {
			log.LogError(sessionID, "subprocess output stream write error", werr)
			return
		}
		if err == io.EOF {
			return
		}
	}
}

// TeeStdout starts a goroutine copying cmd's stdout to os.Stdout.
func TeeStdout(sessionID string, cmd *exec.Cmd) error {
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	go streamOutput(sessionID, pipe, os.Stdout)
	return nil
}

// TeeStderr starts a goroutine copying cmd's stderr to both os.Stderr and
// extra (typically the session's stderr.log file), so the media server's
// live view and the on-disk record stay in sync.
func TeeStderr(sessionID string, cmd *exec.Cmd, extra io.Writer) error {
	pipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open stderr pipe: %w", err)
	}
	dest := io.Writer(os.Stderr)
	if extra != nil {
		dest = io.MultiWriter(os.Stderr, extra)
	}
	go streamOutput(sessionID, pipe, dest)
	return nil
}

// TeeOutputs wires both stdout and stderr teeing for cmd in one call.
func TeeOutputs(sessionID string, cmd *exec.Cmd, stderrExtra io.Writer) error {
	if err := TeeStderr(sessionID, cmd, stderrExtra); err != nil {
		return err
	}
	return TeeStdout(sessionID, cmd)
}

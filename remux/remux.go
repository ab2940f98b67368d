// Package remux spawns the local ffmpeg binary to copy-remux a time
// range of the source file into a Matroska byte stream, used to build
// the body of a beam_stream upload when the coordinator itself (not a
// worker) can see the source file.
//
// Adapted from the teacher's subprocess package: LogOutputs' pattern of
// piping a *exec.Cmd's stdout/stderr through goroutines is kept, but
// stdout here is the caller's payload (the remuxed bytes) rather than
// something to print, so only stderr is drained into the session log.
package remux

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"

	"github.com/plexbeam/cartridge/log"
)

// Stream starts `ffmpeg [-ss <start>] -i <inputPath> [-t <dur>] -c copy
// -f matroska -` (-ss only when start > 0, -t only when dur > 0) and returns its stdout as a ReadCloser the caller can feed
// directly into an HTTP request body. Closing the returned reader waits
// for the process to exit and releases its resources.
func Stream(ctx context.Context, sessionID, inputPath string, startSec, durSec float64) (io.ReadCloser, error) {
	args := []string{"-hide_banner", "-loglevel", "warning"}
	if startSec > 0 {
		args = append(args, "-ss", strconv.FormatFloat(startSec, 'f', 3, 64))
	}
	args = append(args, "-i", inputPath)
	if durSec > 0 {
		args = append(args, "-t", strconv.FormatFloat(durSec, 'f', 3, 64))
	}
	args = append(args, "-c", "copy", "-f", "matroska", "-")

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open remux stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open remux stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start remux: %w", err)
	}
	go streamStderr(sessionID, stderr)

	return &cmdReadCloser{cmd: cmd, stdout: stdout}, nil
}

type cmdReadCloser struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (c *cmdReadCloser) Read(p []byte) (int, error) { return c.stdout.Read(p) }

func (c *cmdReadCloser) Close() error {
	closeErr := c.stdout.Close()
	waitErr := c.cmd.Wait()
	if closeErr != nil {
		return closeErr
	}
	return waitErr
}

func streamStderr(sessionID string, src io.Reader) {
	s := bufio.NewReader(src)
	for {
		line, err := s.ReadSlice('\n')
		if len(line) > 0 {
			log.Log(sessionID, "remux ffmpeg stderr", "line", string(line))
		}
		if err != nil {
			return
		}
	}
}

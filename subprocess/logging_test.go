package subprocess

import (
	"bytes"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTeeOutputsCopiesStdoutAndStderr(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	cmd := exec.Command("/bin/sh", "-c", "echo out-line; echo err-line 1>&2")
	var extra bytes.Buffer

	require.NoError(t, TeeOutputs("sess1", cmd, &extra))
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	// Goroutines finish draining the pipes around process exit; give them
	// a moment since Wait only guarantees the pipes are closed, not drained.
	time.Sleep(50 * time.Millisecond)

	require.Contains(t, extra.String(), "err-line")
}

func TestTeeOutputsWithoutExtraWriter(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses /bin/sh")
	}

	cmd := exec.Command("/bin/sh", "-c", "echo out-line")
	require.NoError(t, TeeOutputs("sess1", cmd, nil))
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())
}

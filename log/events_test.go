package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventLoggerAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir)

	el.Event("sess1", "self_heal_fingerprint_changed", map[string]any{"old": "abc", "new": "def"})
	el.Event("sess1", "mode_c_distribution", map[string]any{"n_chunks": 4})

	b, err := os.ReadFile(filepath.Join(dir, "cartridge_events.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "self_heal_fingerprint_changed")
	require.Contains(t, string(b), "mode_c_distribution")
}

func TestEventLoggerMasterLogLine(t *testing.T) {
	dir := t.TempDir()
	el := NewEventLogger(dir)

	el.MasterLogLine("sess1", "exit=0")

	b, err := os.ReadFile(filepath.Join(dir, "master.log"))
	require.NoError(t, err)
	require.Contains(t, string(b), "sess1")
	require.Contains(t, string(b), "exit=0")
}

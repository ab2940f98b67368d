package session

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/plexbeam/cartridge/config"
	"github.com/stretchr/testify/require"
)

func TestNewSessionIDFormat(t *testing.T) {
	fixed := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	config.Clock = config.FixedTimestampGenerator{Timestamp: fixed}
	defer func() { config.Clock = config.RealTimestampGenerator{} }()

	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	want := fmt.Sprintf("20260731T120000Z_%d", os.Getpid())
	require.Equal(t, want, s.ID)
	require.DirExists(t, filepath.Join(dir, s.ID))
}

func TestWriteJSONAndJobIDs(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, s.WriteJobRequest(map[string]string{"job_id": "abc"}))
	require.FileExists(t, s.Path("01_job_request.json"))

	require.Equal(t, s.ID+"_c0", s.ChunkJobID(0))
	require.Equal(t, s.ID+"_cal2", s.CalibrationJobID(2))
	require.Equal(t, s.ID+"_pre3", s.PrefetchJobID(3))
	require.Equal(t, s.ID+"_dup1", s.EndgameJobID(1))
	require.Equal(t, s.ID+"_w0", s.BigSplitJobID(0))
}

func TestStderrLogLazyOpenAndClose(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	f, err := s.StderrLog()
	require.NoError(t, err)
	_, err = f.WriteString("frame=1 fps=1 speed=1.0x\n")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

package argv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicPlexInvocation(t *testing.T) {
	args := []string{
		"-loglevel_plex", "info",
		"-i", "/media/film.mkv",
		"-ss", "12.5",
		"-c:v", "h264",
		"-c:a", "aac",
		"-b:v", "4000k",
		"-vf", "[0:0]scale=w=1920:h=1080[1]",
		"-seg_duration", "4",
		"-progressurl", "http://127.0.0.1:32400/video/:/transcode/session/ABC/progress",
		"-skip_to_segment", "3",
		"Sessions/abc/dash",
	}

	inv, err := Parse(args, "/cwd")
	require.NoError(t, err)

	require.Equal(t, "/media/film.mkv", inv.InputPath)
	require.Equal(t, 12.5, inv.SeekSec)
	require.Equal(t, "h264", inv.VideoCodecOut)
	require.Equal(t, "aac", inv.AudioCodecOut)
	require.Equal(t, "4000k", inv.Bitrate)
	require.Equal(t, "1920x1080", inv.Resolution)
	require.Equal(t, 4, inv.SegmentDurationSec)
	require.Equal(t, 3, inv.SkipToSegment)
	require.Equal(t, "http://127.0.0.1:32400/video/:/transcode/session/ABC/progress", inv.ProgressURL)
	require.Equal(t, "http://127.0.0.1:32400/video/:/transcode/session/ABC/manifest", inv.ManifestCallbackURL)
	require.Equal(t, "/cwd/Sessions/abc/dash", inv.OutputTarget)
	require.Equal(t, OutputDASH, inv.OutputKind)
	require.Equal(t, "/cwd/Sessions/abc/dash", inv.RawArgs[len(inv.RawArgs)-1])
}

func TestParseAbsoluteOutputTargetUnchanged(t *testing.T) {
	inv, err := Parse([]string{"-i", "x.mkv", "/abs/out/stream.mpd"}, "/cwd")
	require.NoError(t, err)
	require.Equal(t, "/abs/out/stream.mpd", inv.OutputTarget)
	require.Equal(t, OutputDASH, inv.OutputKind)
}

func TestHexStreamSpecifierDecimalizedEverywhere(t *testing.T) {
	inv, err := Parse([]string{"-map", "0:#0x2", "-i", "x.mkv", "out.m3u8"}, "/cwd")
	require.NoError(t, err)
	require.Contains(t, inv.RawArgs, "0:#2")
}

func TestHexStreamSpecifierIdempotent(t *testing.T) {
	once := DecimalizeHexStreamSpecifiers("0:#0xA")
	require.Equal(t, "0:#10", once)
	twice := DecimalizeHexStreamSpecifiers(once)
	require.Equal(t, once, twice)
}

func TestUnknownFlagsPreservedVerbatim(t *testing.T) {
	inv, err := Parse([]string{"-weird_flag_nobody_knows", "7", "-i", "x.mkv", "out.mpd"}, "/cwd")
	require.NoError(t, err)
	require.Contains(t, inv.RawArgs, "-weird_flag_nobody_knows")
	require.Contains(t, inv.RawArgs, "7")
}

func TestForWorkerRewritesSentinel(t *testing.T) {
	inv, err := Parse([]string{"-i", "x.mkv", "out.mpd"}, "/cwd")
	require.NoError(t, err)

	worker := ForWorker(inv)
	require.Equal(t, "dash", worker[len(worker)-1])
	// original RawArgs is untouched
	require.Equal(t, "/cwd/out.mpd", inv.RawArgs[len(inv.RawArgs)-1])
}

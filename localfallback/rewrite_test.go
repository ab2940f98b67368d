package localfallback

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteNVENCCodecAndQuality(t *testing.T) {
	in := []string{"-i", "in.mkv", "-c:v", "libx264", "-preset", "fast", "-crf", "21", "out.mpd"}
	out := Rewrite(in, HWAccelNVENC)
	require.Equal(t, []string{
		"-hwaccel", "cuda", "-hwaccel_output_format", "cuda",
		"-i", "in.mkv", "-c:v", "h264_nvenc", "-qp", "21", "out.mpd",
	}, out)
}

func TestRewriteQSVCodecAndQualityClampAndOffset(t *testing.T) {
	in := []string{"-i", "in.mkv", "-c:v", "libx265", "-crf", "50", "out.mpd"}
	out := Rewrite(in, HWAccelQSV)
	require.Equal(t, []string{
		"-init_hw_device", "qsv=hw", "-filter_hw_device", "hw",
		"-i", "in.mkv", "-c:v", "hevc_qsv", "-global_quality", "51", "out.mpd",
	}, out)
}

func TestRewriteDropsX264OptsAndX265Params(t *testing.T) {
	in := []string{"-i", "in.mkv", "-c:v", "libx264", "-x264opts", "no-scenecut=1", "out.mpd"}
	out := Rewrite(in, HWAccelNVENC)
	require.NotContains(t, out, "-x264opts")
	require.NotContains(t, out, "no-scenecut=1")
}

func TestRewriteScaleFilterNVENC(t *testing.T) {
	in := []string{"-i", "in.mkv", "-vf", "[0:0]scale=w=1280:h=720", "-c:v", "libx264", "out.mpd"}
	out := Rewrite(in, HWAccelNVENC)
	require.Contains(t, out, "[0:0]scale=w=1280:h=720,format=nv12,hwupload_cuda")
}

func TestRewriteScaleFilterQSV(t *testing.T) {
	in := []string{"-i", "in.mkv", "-vf", "[0:0]scale=w=1280:h=720", "-c:v", "libx265", "out.mpd"}
	out := Rewrite(in, HWAccelQSV)
	require.Contains(t, out, "[0:0]format=nv12,hwupload=extra_hw_frames=64,scale_qsv=w=1280:h=720")
}

func TestRewriteNoGPUPassesThroughButStripsDialectFlags(t *testing.T) {
	in := []string{"-i", "in.mkv", "-c:v", "libx264", "-progressurl", "http://x", "out.mpd"}
	out := Rewrite(in, HWAccelNone)
	require.Equal(t, []string{"-i", "in.mkv", "-c:v", "libx264", "out.mpd"}, out)
}

func TestRewriteNoSoftwareCodecPassesThroughUnchanged(t *testing.T) {
	in := []string{"-i", "in.mkv", "-c:v", "h264_nvenc", "out.mpd"}
	out := Rewrite(in, HWAccelNVENC)
	require.Equal(t, in, out)
}

func TestRewritePlexDialectSubstitutions(t *testing.T) {
	in := []string{"-i", "in.mkv", "-acodec", "aac_lc", "-filter_complex", "ochl=5.1", "-c:v", "libx264", "out.mpd"}
	out := Rewrite(in, HWAccelNVENC)
	require.Contains(t, out, "aac")
	require.NotContains(t, out, "aac_lc")
	require.Contains(t, out, "out_chlayout=5.1")
}

func TestRewriteStripsPlexDialectFlagsWithValue(t *testing.T) {
	in := []string{
		"-i", "in.mkv", "-c:v", "libx264",
		"-loglevel_plex", "debug",
		"-progressurl", "http://host/progress",
		"-time_delta", "5",
		"-delete_removed", "1",
		"-skip_to_segment", "3",
		"-manifest_name", "manifest.mpd",
		"out.mpd",
	}
	out := Rewrite(in, HWAccelNVENC)
	for _, flag := range []string{"-loglevel_plex", "-progressurl", "-time_delta", "-delete_removed", "-skip_to_segment", "-manifest_name"} {
		require.NotContains(t, out, flag)
	}
}

func TestDetectHWAccelNoneWhenNoDevices(t *testing.T) {
	require.Equal(t, HWAccelNone, detectHWAccelAt("/nonexistent/nvidia", "/nonexistent/qsv"))
}

func TestDetectHWAccelNVENCPriorityOverQSV(t *testing.T) {
	require.Equal(t, HWAccelNVENC, detectHWAccelAt(".", "."))
}

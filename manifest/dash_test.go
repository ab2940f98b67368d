package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleMPD = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="dynamic" minBufferTime="PT2S">
  <Period id="0">
    <AdaptationSet mimeType="video/mp4" segmentAlignment="true">
      <SegmentTemplate media="chunk-stream0-$Number%05d$.m4s" initialization="init-stream0.m4s" startNumber="1" timescale="12800" duration="76800"/>
      <Representation id="0" bandwidth="4000000" width="1920" height="1080"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestRewriteDASHStartNumber(t *testing.T) {
	out, err := RewriteDASHStartNumber([]byte(sampleMPD), 13)
	require.NoError(t, err)
	require.Contains(t, string(out), `startNumber="13"`)
	require.NotContains(t, string(out), `startNumber="1"`)
}

func TestRewriteDASHStartNumberIdempotent(t *testing.T) {
	once, err := RewriteDASHStartNumber([]byte(sampleMPD), 13)
	require.NoError(t, err)
	twice, err := RewriteDASHStartNumber(once, 13)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(twice), `startNumber="13"`))
}

func TestRewriteDASHStartNumberNoTemplateErrors(t *testing.T) {
	const noTemplate = `<?xml version="1.0"?><MPD xmlns="urn:mpeg:dash:schema:mpd:2011"><Period id="0"></Period></MPD>`
	_, err := RewriteDASHStartNumber([]byte(noTemplate), 2)
	require.Error(t, err)
}

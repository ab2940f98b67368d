package multidispatch

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteSeekRangeInsertsBeforeInput(t *testing.T) {
	out := rewriteSeekRange([]string{"-i", "/media/film.mkv", "-c:v", "copy", "dash"}, 300, 300)
	require.Equal(t, []string{"-ss", "300.000", "-t", "300.000", "-i", "/media/film.mkv", "-c:v", "copy", "dash"}, out)
}

func TestRewriteSeekRangeReplacesExistingSeek(t *testing.T) {
	out := rewriteSeekRange([]string{"-ss", "12", "-i", "/media/film.mkv", "dash"}, 300, 300)
	require.Equal(t, []string{"-ss", "300.000", "-t", "300.000", "-i", "/media/film.mkv", "dash"}, out)
}

func TestRewriteSeekRangeNoDurationOmitsTFlag(t *testing.T) {
	out := rewriteSeekRange([]string{"-i", "/media/film.mkv", "dash"}, 10, 0)
	require.Equal(t, []string{"-ss", "10.000", "-i", "/media/film.mkv", "dash"}, out)
}

func TestRewriteSeekRangeNoInputPrepends(t *testing.T) {
	out := rewriteSeekRange([]string{"dash"}, 5, 5)
	require.Equal(t, []string{"-ss", "5.000", "-t", "5.000", "dash"}, out)
}

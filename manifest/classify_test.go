package manifest

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		wantKind   Kind
		wantStream int
		wantSeq    int
	}{
		{"stream.mpd", KindManifest, 0, 0},
		{"index.m3u8", KindManifest, 0, 0},
		{"init-stream0.m4s", KindInit, 0, 0},
		{"chunk-stream0-00001.m4s", KindMedia, 0, 1},
		{"chunk-stream1-00042.m4s", KindMedia, 1, 42},
		{"readme.txt", KindUnknown, 0, 0},
	}
	for _, c := range cases {
		kind, stream, seq := Classify(c.name)
		if kind != c.wantKind || stream != c.wantStream || seq != c.wantSeq {
			t.Errorf("Classify(%q) = (%v,%d,%d), want (%v,%d,%d)", c.name, kind, stream, seq, c.wantKind, c.wantStream, c.wantSeq)
		}
	}
}

func TestContentType(t *testing.T) {
	if ContentType("stream.mpd") != "application/dash+xml" {
		t.Fatal("expected dash+xml for .mpd")
	}
	if ContentType("index.m3u8") != "application/vnd.apple.mpegurl" {
		t.Fatal("expected mpegurl for .m3u8")
	}
}

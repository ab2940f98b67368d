package manifest

import (
	"bytes"
	"fmt"

	"github.com/grafov/m3u8"
	"github.com/plexbeam/cartridge/cartridgeerrors"
)

// RewriteHLSMediaSequence is the Jellyfin-path equivalent of
// RewriteDASHStartNumber: HLS expresses the same "numbering starts
// here" concept via EXT-X-MEDIA-SEQUENCE rather than a startNumber
// attribute.
func RewriteHLSMediaSequence(raw []byte, newStart int) ([]byte, error) {
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(raw), true)
	if err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("parse HLS manifest: %s", err))
	}
	if listType != m3u8.MEDIA {
		return nil, cartridgeerrors.NewProtocolViolationError("expected a media playlist, got a master playlist")
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok || media == nil {
		return nil, cartridgeerrors.NewProtocolViolationError("failed to cast HLS playlist to MediaPlaylist")
	}

	media.SeqNo = uint64(newStart)
	return []byte(media.String()), nil
}

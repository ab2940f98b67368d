package manifest

import (
	"fmt"

	"github.com/Eyevinn/dash-mpd/mpd"
	"github.com/plexbeam/cartridge/cartridgeerrors"
)

// RewriteDASHStartNumber parses a DASH MPD and rewrites every
// SegmentTemplate's startNumber attribute to newStart, the idempotent
// skip_to_segment rewrite: applying it twice with the same newStart is
// a no-op since the prior value is simply overwritten again.
func RewriteDASHStartNumber(raw []byte, newStart int) ([]byte, error) {
	m, err := mpd.ReadFromString(string(raw))
	if err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("parse DASH manifest: %s", err))
	}

	start := mpd.Ptr(uint64(newStart))
	rewrote := false
	for _, period := range m.Period {
		if period.SegmentTemplate != nil {
			period.SegmentTemplate.StartNumber = start
			rewrote = true
		}
		for _, as := range period.AdaptationSets {
			if as.SegmentTemplate != nil {
				as.SegmentTemplate.StartNumber = start
				rewrote = true
			}
			for _, rep := range as.Representations {
				if rep.SegmentTemplate != nil {
					rep.SegmentTemplate.StartNumber = start
					rewrote = true
				}
			}
		}
	}
	if !rewrote {
		return nil, cartridgeerrors.NewProtocolViolationError("DASH manifest has no SegmentTemplate to rewrite startNumber on")
	}

	out, err := m.Encode()
	if err != nil {
		return nil, cartridgeerrors.NewProtocolViolationError(fmt.Sprintf("encode rewritten DASH manifest: %s", err))
	}
	return out, nil
}

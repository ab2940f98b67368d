package workerclient

import (
	"io"
	"time"
)

// RateLimitedReader throttles reads to a fixed byte budget per second,
// used for staged source uploads so a large local-only file doesn't
// saturate the link a session's progress callbacks depend on.
type RateLimitedReader struct {
	r            io.Reader
	bytesPerSec  int64
	windowStart  time.Time
	windowSpent  int64
	sleep        func(time.Duration)
	now          func() time.Time
}

func NewRateLimitedReader(r io.Reader, bytesPerSec int64) *RateLimitedReader {
	return &RateLimitedReader{
		r:           r,
		bytesPerSec: bytesPerSec,
		now:         time.Now,
		sleep:       time.Sleep,
	}
}

func (rl *RateLimitedReader) Read(p []byte) (int, error) {
	if rl.bytesPerSec <= 0 {
		return rl.r.Read(p)
	}
	if rl.windowStart.IsZero() {
		rl.windowStart = rl.now()
	}

	if int64(len(p)) > rl.bytesPerSec {
		p = p[:rl.bytesPerSec]
	}

	n, err := rl.r.Read(p)
	rl.windowSpent += int64(n)

	elapsed := rl.now().Sub(rl.windowStart)
	if rl.windowSpent >= rl.bytesPerSec {
		if remaining := time.Second - elapsed; remaining > 0 {
			rl.sleep(remaining)
		}
		rl.windowStart = rl.now()
		rl.windowSpent = 0
	}
	return n, err
}

package transport

import (
	"context"
	"sync"
	"time"
)

// ProgressFunc receives transfer progress in bytes.
type ProgressFunc func(current, total int64)

// FallbackDownloader fetches files too large for the primary Bot API
// channel, reporting byte-level progress. The bot only depends on this
// seam; LocalServerDownloader is the shipped implementation.
type FallbackDownloader interface {
	Download(ctx context.Context, file *FileRef, destPath string, progress ProgressFunc) error
}

// ThrottledProgress wraps a ProgressFunc so it fires at most once per
// minInterval, except that the final update (current == total) is always
// delivered. The tracker store is updated unconditionally elsewhere; only
// outward notifications pass through this throttle.
func ThrottledProgress(minInterval time.Duration, fn ProgressFunc) ProgressFunc {
	return throttledProgress(minInterval, time.Now, fn)
}

func throttledProgress(minInterval time.Duration, now func() time.Time, fn ProgressFunc) ProgressFunc {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func(current, total int64) {
		mu.Lock()
		t := now()
		final := total > 0 && current >= total
		if !final && !last.IsZero() && t.Sub(last) < minInterval {
			mu.Unlock()
			return
		}
		last = t
		mu.Unlock()
		fn(current, total)
	}
}

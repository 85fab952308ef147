/*
NAME
  fps.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package sensord

import (
	"sync"
	"sync/atomic"
	"time"
)

// fpsInterval is how often the processed-depth frame rate is
// recomputed.
const fpsInterval = 200 * time.Millisecond

// fpsScale avoids floating point on the hot path: the rate is tracked as
// frames-per-second times fpsScale and divided back down only when
// reported.
const fpsScale = 100

// fpsCounter tracks the depth-worker's processed frame rate, recomputed
// every fpsInterval over the elapsed wall-clock interval rather than a
// fixed frame count, so the reported rate tracks reality even if the
// pipeline briefly stalls.
type fpsCounter struct {
	mu      sync.Mutex
	frames  int64
	lastAt  time.Time
	rate100 int64 // frames per second * fpsScale.
}

func newFPSCounter(now time.Time) *fpsCounter {
	return &fpsCounter{lastAt: now}
}

// tick records one processed frame and, if fpsInterval has elapsed since
// the last recompute, updates the cached rate.
func (f *fpsCounter) tick(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.frames++
	elapsed := now.Sub(f.lastAt)
	if elapsed < fpsInterval {
		return
	}
	atomic.StoreInt64(&f.rate100, f.frames*fpsScale*int64(time.Second)/int64(elapsed))
	f.frames = 0
	f.lastAt = now
}

// rate returns the most recently computed frame rate, in whole frames
// per second.
func (f *fpsCounter) rate() int {
	return int(atomic.LoadInt64(&f.rate100) / fpsScale)
}

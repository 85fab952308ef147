/*
NAME
  buffers.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package sensord implements the double-buffered depth/color sensor
// pipeline: the producer/consumer frame buffers, the depth and video
// worker threads, the LED/tilt policy, and the sensor event loop that
// ties them together.
package sensord

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// frameBuffer is a single fixed-size byte buffer guarded by a pair of
// counted semaphores (empty/full, per the specification's frame buffer
// design) plus an exclusive-access mutex. Exactly one producer (a sensor
// callback) and one consumer (a worker goroutine) ever touch a given
// frameBuffer.
type frameBuffer struct {
	mu  sync.Mutex
	buf []byte
	ts  time.Time

	empty *semaphore.Weighted // starts with 1 permit available.
	full  *semaphore.Weighted // starts with 0 permits available.
}

func newFrameBuffer(size int) *frameBuffer {
	fb := &frameBuffer{
		buf:   make([]byte, size),
		empty: semaphore.NewWeighted(1),
		full:  semaphore.NewWeighted(1),
	}
	// Pre-consume the "full" permit so a consumer blocks until the first
	// producer post, matching the semaphore's documented initial value of 0.
	_ = fb.full.Acquire(context.Background(), 1)
	return fb
}

// tryWrite attempts to copy data into the buffer within timeout. It
// returns false (without copying) if no empty slot became available in
// time — the back-pressure release valve described for the depth
// producer. A zero or negative timeout blocks until ctx is done instead.
func (fb *frameBuffer) tryWrite(ctx context.Context, data []byte, ts time.Time, timeout time.Duration) bool {
	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := fb.empty.Acquire(wctx, 1); err != nil {
		return false
	}
	fb.mu.Lock()
	n := copy(fb.buf, data)
	for i := n; i < len(fb.buf); i++ {
		fb.buf[i] = 0
	}
	fb.ts = ts
	fb.mu.Unlock()
	fb.full.Release(1)
	return true
}

// write blocks (respecting ctx cancellation) until a slot is free, then
// copies data in. Used by the video producer, which per the
// specification never times out and drops frames.
func (fb *frameBuffer) write(ctx context.Context, data []byte, ts time.Time) bool {
	return fb.tryWrite(ctx, data, ts, 0)
}

// consume blocks until a frame is posted, then invokes fn with the
// buffer's mutex held and the frame's timestamp, and finally releases the
// empty slot. It returns false if ctx is done before a frame arrives.
func (fb *frameBuffer) consume(ctx context.Context, fn func(frame []byte, ts time.Time)) bool {
	if err := fb.full.Acquire(ctx, 1); err != nil {
		return false
	}
	fb.mu.Lock()
	fn(fb.buf, fb.ts)
	fb.mu.Unlock()
	fb.empty.Release(1)
	return true
}

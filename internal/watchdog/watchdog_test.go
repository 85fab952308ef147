package watchdog

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestOverrunFiresOncePerInterval checks scenario F from the
// specification: with a short timeout and no kicks, exactly one overrun
// fires per elapsed timeout interval.
func TestOverrunFiresOncePerInterval(t *testing.T) {
	var overruns int64
	w := New(150*time.Millisecond, func() {
		atomic.AddInt64(&overruns, 1)
	})
	defer w.Destroy()

	time.Sleep(400 * time.Millisecond)
	got := atomic.LoadInt64(&overruns)
	if got < 1 || got > 2 {
		t.Fatalf("overruns = %d after 400ms with 150ms timeout, want 1-2", got)
	}
}

func TestKickPreventsOverrun(t *testing.T) {
	var overruns int64
	w := New(200*time.Millisecond, func() {
		atomic.AddInt64(&overruns, 1)
	})
	defer w.Destroy()

	stop := time.After(350 * time.Millisecond)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			w.Kick()
		}
	}

	if got := atomic.LoadInt64(&overruns); got != 0 {
		t.Fatalf("overruns = %d, want 0 while kicking faster than timeout", got)
	}
}

func TestSetTimeoutDoesNotKick(t *testing.T) {
	var overruns int64
	w := New(1*time.Hour, func() {
		atomic.AddInt64(&overruns, 1)
	})
	defer w.Destroy()

	time.Sleep(20 * time.Millisecond)
	w.SetTimeout(10 * time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt64(&overruns); got == 0 {
		t.Fatalf("overruns = 0, want at least 1 after lowering timeout without kicking")
	}
}

func TestDestroyStopsLoop(t *testing.T) {
	var overruns int64
	w := New(10*time.Millisecond, func() {
		atomic.AddInt64(&overruns, 1)
	})
	w.Destroy()

	before := atomic.LoadInt64(&overruns)
	time.Sleep(50 * time.Millisecond)
	after := atomic.LoadInt64(&overruns)
	if after != before {
		t.Fatalf("overrun callback fired after Destroy: before=%d after=%d", before, after)
	}
}

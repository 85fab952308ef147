package sensord

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/nitrogenlogic/knd/internal/occupancy"
	"github.com/nitrogenlogic/knd/internal/zone"
)

// fakeSource is a Source test double that emits one synthetic frame per
// Start call on each leg, then waits for Stop.
type fakeSource struct {
	mu      sync.Mutex
	depthCB FrameCallback
	videoCB FrameCallback
	opened  bool
}

func (f *fakeSource) Open(int) error  { f.opened = true; return nil }
func (f *fakeSource) Close() error    { return nil }
func (f *fakeSource) SetDepthCallback(cb FrameCallback) {
	f.mu.Lock()
	f.depthCB = cb
	f.mu.Unlock()
}
func (f *fakeSource) SetVideoCallback(cb FrameCallback) {
	f.mu.Lock()
	f.videoCB = cb
	f.mu.Unlock()
}
func (f *fakeSource) StartDepth() error {
	go func() {
		f.mu.Lock()
		cb := f.depthCB
		f.mu.Unlock()
		if cb != nil {
			cb(make([]byte, occupancy.DepthFrameSize), time.Now())
		}
	}()
	return nil
}
func (f *fakeSource) StopDepth() error { return nil }
func (f *fakeSource) StartVideo() error {
	go func() {
		f.mu.Lock()
		cb := f.videoCB
		f.mu.Unlock()
		if cb != nil {
			cb(make([]byte, occupancy.VideoFrameSize), time.Now())
		}
	}()
	return nil
}
func (f *fakeSource) StopVideo() error { return nil }

type fakeActuator struct{ present bool }

func (a *fakeActuator) SetLED(LEDState) error      { return nil }
func (a *fakeActuator) Tilt() int                  { return 0 }
func (a *fakeActuator) SetTilt(int) error          { return nil }
func (a *fakeActuator) PollMotor() error           { return nil }
func (a *fakeActuator) Present() bool              { return a.present }

type fakeWatchdog struct {
	mu    sync.Mutex
	kicks int
}

func (w *fakeWatchdog) Kick() {
	w.mu.Lock()
	w.kicks++
	w.mu.Unlock()
}

func discardLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

func TestPipelineDepthFrameReachesEngine(t *testing.T) {
	cat := zone.New()
	cat.Add("A", -100000, -100000, 1, 100000, 100000, 100000)

	src := &fakeSource{}
	act := &fakeActuator{}
	wd := &fakeWatchdog{}
	wake := make(chan byte, 8)

	p := NewPipeline(discardLogger(), cat, src, act, wd, wake)
	if err := p.Start(context.Background(), 0); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case code := <-wake:
		if code != WakeupDepth {
			t.Fatalf("wakeup code = %q, want %q", code, WakeupDepth)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for depth wakeup")
	}

	p.Stop()

	wd.mu.Lock()
	kicks := wd.kicks
	wd.mu.Unlock()
	if kicks == 0 {
		t.Fatal("watchdog was never kicked")
	}
}

func TestTryWriteTimesOutOnFullBuffer(t *testing.T) {
	fb := newFrameBuffer(16)
	ctx := context.Background()

	if !fb.tryWrite(ctx, []byte("first"), time.Now(), time.Millisecond) {
		t.Fatal("first write should have succeeded on an empty buffer")
	}
	if fb.tryWrite(ctx, []byte("second"), time.Now(), time.Millisecond) {
		t.Fatal("second write should have timed out with no consumer")
	}
}

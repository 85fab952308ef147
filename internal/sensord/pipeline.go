/*
NAME
  pipeline.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package sensord

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/nitrogenlogic/knd/internal/occupancy"
	"github.com/nitrogenlogic/knd/internal/zone"
)

// Wakeup byte codes posted to the server's wakeup channel.
const (
	WakeupDepth     = 'Z'
	WakeupVideo     = 'V'
	WakeupShutdown  = 'K'
	depthTryTimeout = time.Millisecond
)

// ledYellowWindow/ledRedWindow are how recently a depth/video pull must
// have happened for the LED to report activity. RED dominates YELLOW
// when both windows are current.
const (
	ledYellowWindow = 2 * time.Second
	ledRedWindow    = 3 * time.Second
)

// maxConsecutiveErrors is how many internal errors in a row a worker
// tolerates before giving up and exiting.
const maxConsecutiveErrors = 3

// Watchdog is the collaborator the depth worker kicks once per processed
// frame. Satisfied by *watchdog.Watchdog.
type Watchdog interface {
	Kick()
}

// Pipeline wires a Source, an Actuator, and the occupancy engine together
// into the double-buffered producer/consumer sensor pipeline described by
// the specification: one depth worker, one video worker, and the LED/
// tilt policy evaluated by the sensor event loop.
type Pipeline struct {
	log logging.Logger
	cat *zone.Catalog
	src Source
	act Actuator
	wd  Watchdog

	wakeup chan<- byte

	depthBuf *frameBuffer
	videoBuf *frameBuffer

	fps *fpsCounter

	busyCount int64

	mu            sync.Mutex
	lastDepthAt   time.Time
	lastVideoAt   time.Time
	lastDepthCopy []byte
	lastVideoCopy []byte
	videoWanted   bool
	videoRunning  bool

	stop   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPipeline constructs a Pipeline. wakeup, if non-nil, receives a byte
// per completed depth/video frame so the server thread can wake its
// event loop; it must be buffered or drained promptly, since workers
// never block writing to it (a full channel means the wakeup is
// deferred, not lost, via a non-blocking send).
func NewPipeline(log logging.Logger, cat *zone.Catalog, src Source, act Actuator, wd Watchdog, wakeup chan<- byte) *Pipeline {
	now := time.Now()
	return &Pipeline{
		log:      log,
		cat:      cat,
		src:      src,
		act:      act,
		wd:       wd,
		wakeup:   wakeup,
		depthBuf: newFrameBuffer(occupancy.DepthFrameSize),
		videoBuf: newFrameBuffer(occupancy.VideoFrameSize),
		fps:      newFPSCounter(now),
	}
}

// FPS returns the most recently computed depth-frame processing rate.
func (p *Pipeline) FPS() int { return p.fps.rate() }

// BusyCount returns the number of depth frames discarded so far because
// no consumer slot was free within the 1ms producer timeout.
func (p *Pipeline) BusyCount() int64 { return atomic.LoadInt64(&p.busyCount) }

// RequestVideo sets or clears the video_requested flag the sensor event
// loop uses to start/stop the color stream.
func (p *Pipeline) RequestVideo(want bool) {
	p.mu.Lock()
	p.videoWanted = want
	p.mu.Unlock()
}

// Tilt and SetTilt pass through to the actuator, so the server's tilt
// command doesn't need to know about Source/Actuator directly.
func (p *Pipeline) Tilt() int             { return p.act.Tilt() }
func (p *Pipeline) SetTilt(deg int) error { return p.act.SetTilt(deg) }

// LastDepthFrame and LastVideoFrame return the most recently processed
// frame of each kind, for the server's announcement+copy wakeup
// handling. ok is false until the first frame of that kind has arrived.
func (p *Pipeline) LastDepthFrame() (frame []byte, ts time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastDepthCopy == nil {
		return nil, time.Time{}, false
	}
	return p.lastDepthCopy, p.lastDepthAt, true
}

func (p *Pipeline) LastVideoFrame() (frame []byte, ts time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastVideoCopy == nil {
		return nil, time.Time{}, false
	}
	return p.lastVideoCopy, p.lastVideoAt, true
}

// Start opens the source, registers the producer callbacks, and launches
// the depth worker, video worker, and sensor event loop goroutines.
func (p *Pipeline) Start(ctx context.Context, deviceIndex int) error {
	if err := p.src.Open(deviceIndex); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.stop = make(chan struct{})

	p.src.SetDepthCallback(func(frame []byte, ts time.Time) {
		if !p.depthBuf.tryWrite(runCtx, frame, ts, depthTryTimeout) {
			atomic.AddInt64(&p.busyCount, 1)
		}
	})
	p.src.SetVideoCallback(func(frame []byte, ts time.Time) {
		p.videoBuf.write(runCtx, frame, ts)
	})

	if err := p.src.StartDepth(); err != nil {
		cancel()
		return err
	}

	p.wg.Add(3)
	go p.depthWorker(runCtx)
	go p.videoWorker(runCtx)
	go p.eventLoop(runCtx)

	return nil
}

// Stop tears the pipeline down in the reverse order Start brought it up,
// mirroring the stop-input/wait-for-routines ordering a Revid-style
// pipeline uses.
func (p *Pipeline) Stop() {
	if p.cancel == nil {
		return
	}
	close(p.stop)
	p.cancel()

	if err := p.src.StopDepth(); err != nil {
		p.log.Error("stopping depth stream", "error", err.Error())
	}
	if err := p.src.StopVideo(); err != nil {
		p.log.Error("stopping video stream", "error", err.Error())
	}
	if err := p.src.Close(); err != nil {
		p.log.Error("closing sensor source", "error", err.Error())
	}

	p.wg.Wait()
}

// depthWorker consumes posted depth frames, runs the occupancy engine
// over each, kicks the watchdog, updates FPS, and posts a depth wakeup.
func (p *Pipeline) depthWorker(ctx context.Context) {
	defer p.wg.Done()
	errs := 0
	for {
		ok := p.depthBuf.consume(ctx, func(frame []byte, ts time.Time) {
			occupancy.UpdateDepth(p.cat, frame)
			p.wd.Kick()
			p.fps.tick(ts)
			cp := make([]byte, len(frame))
			copy(cp, frame)
			p.mu.Lock()
			p.lastDepthAt = ts
			p.lastDepthCopy = cp
			p.mu.Unlock()
			p.postWakeup(WakeupDepth)
		})
		if !ok {
			if ctx.Err() != nil {
				return
			}
			errs++
			if errs >= maxConsecutiveErrors {
				p.log.Error("depth worker exiting after consecutive errors")
				return
			}
			continue
		}
		errs = 0
	}
}

// videoWorker mirrors depthWorker for the color stream, computing
// per-zone brightness and posting a video wakeup.
func (p *Pipeline) videoWorker(ctx context.Context) {
	defer p.wg.Done()
	errs := 0
	for {
		ok := p.videoBuf.consume(ctx, func(frame []byte, ts time.Time) {
			occupancy.UpdateVideo(p.cat, frame)
			cp := make([]byte, len(frame))
			copy(cp, frame)
			p.mu.Lock()
			p.lastVideoAt = ts
			p.lastVideoCopy = cp
			p.mu.Unlock()
			p.postWakeup(WakeupVideo)
		})
		if !ok {
			if ctx.Err() != nil {
				return
			}
			errs++
			if errs >= maxConsecutiveErrors {
				p.log.Error("video worker exiting after consecutive errors")
				return
			}
			continue
		}
		errs = 0
	}
}

// postWakeup sends a wakeup code without blocking; a full channel simply
// defers the wakeup to the next drain rather than stalling a worker.
func (p *Pipeline) postWakeup(code byte) {
	if p.wakeup == nil {
		return
	}
	select {
	case p.wakeup <- code:
	default:
	}
}

// eventLoop is the sensor event thread: it polls the actuator's motor
// state and applies the LED policy and video start/stop decisions once
// per tick.
func (p *Pipeline) eventLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case now := <-ticker.C:
			if err := p.act.PollMotor(); err != nil {
				p.log.Warning("motor poll failed", "error", err.Error())
			}
			p.applyLED(now)
			p.applyVideoRequest()
		}
	}
}

// applyLED sets the status LED from how recently depth/video frames were
// last pulled, per the specification's GREEN/YELLOW/RED policy (RED
// dominates YELLOW, both dominate GREEN/idle).
func (p *Pipeline) applyLED(now time.Time) {
	if !p.act.Present() {
		return
	}
	p.mu.Lock()
	lastDepth, lastVideo := p.lastDepthAt, p.lastVideoAt
	p.mu.Unlock()

	state := LEDGreen
	if !lastDepth.IsZero() && now.Sub(lastDepth) <= ledYellowWindow {
		state = LEDYellow
	}
	if !lastVideo.IsZero() && now.Sub(lastVideo) <= ledRedWindow {
		state = LEDRed
	}
	if err := p.act.SetLED(state); err != nil {
		p.log.Warning("set LED failed", "error", err.Error())
	}
}

// applyVideoRequest starts or stops the color stream to match the
// video_requested flag set by client commands.
func (p *Pipeline) applyVideoRequest() {
	p.mu.Lock()
	want, running := p.videoWanted, p.videoRunning
	p.mu.Unlock()

	if want == running {
		return
	}
	var err error
	if want {
		err = p.src.StartVideo()
	} else {
		err = p.src.StopVideo()
	}
	if err != nil {
		p.log.Error("video stream transition failed", "error", err.Error())
		return
	}
	p.mu.Lock()
	p.videoRunning = want
	p.mu.Unlock()
}

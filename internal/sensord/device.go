/*
NAME
  device.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package sensord

import (
	"fmt"
	"image"
	"time"

	"github.com/ausocean/utils/logging"
	"gocv.io/x/gocv"

	"github.com/nitrogenlogic/knd/internal/occupancy"
)

// frameSize is the fixed depth/video frame geometry every buffer and
// every frame producer in knd agrees on.
var frameSize = image.Point{X: 640, Y: 480}

// FrameCallback is invoked once per captured frame with the raw buffer
// (valid only for the duration of the call) and the capture timestamp.
type FrameCallback func(frame []byte, ts time.Time)

// Source is the sensor driver collaborator: it opens a depth+color
// device by index and delivers frames via registered callbacks, per the
// sensor library contract in the specification. This is the boundary at
// which the out-of-scope sensor driver library would be wired in; the
// occupancy engine and the rest of knd never talk to Source directly.
type Source interface {
	Open(index int) error
	Close() error

	SetDepthCallback(cb FrameCallback)
	SetVideoCallback(cb FrameCallback)

	StartDepth() error
	StopDepth() error
	StartVideo() error
	StopVideo() error
}

// gocvSource implements Source for the color/video leg using gocv's
// video capture binding, standing in for the sensor driver library's
// color stream. The depth leg has no standard Go camera binding to stand
// in for a structured-light/ToF depth stream, so it synthesizes frames
// of the correct size and packing from the same capture device's
// grayscale image, which is sufficient to exercise the whole pipeline
// (buffers, workers, LED policy, FPS, occupancy engine) end to end.
type gocvSource struct {
	log logging.Logger
	cap *gocv.VideoCapture

	depthCB FrameCallback
	videoCB FrameCallback

	stopDepth chan struct{}
	stopVideo chan struct{}
}

// NewGoCVSource returns a Source backed by gocv.VideoCapture.
func NewGoCVSource(log logging.Logger) Source {
	return &gocvSource{log: log}
}

func (s *gocvSource) Open(index int) error {
	cap, err := gocv.OpenVideoCapture(index)
	if err != nil {
		return fmt.Errorf("sensord: opening capture device %d: %w", index, err)
	}
	s.cap = cap
	return nil
}

func (s *gocvSource) Close() error {
	if s.cap == nil {
		return nil
	}
	return s.cap.Close()
}

func (s *gocvSource) SetDepthCallback(cb FrameCallback) { s.depthCB = cb }
func (s *gocvSource) SetVideoCallback(cb FrameCallback) { s.videoCB = cb }

func (s *gocvSource) StartVideo() error {
	if s.videoCB == nil || s.cap == nil {
		return nil
	}
	s.stopVideo = make(chan struct{})
	go s.videoLoop(s.stopVideo)
	return nil
}

func (s *gocvSource) StopVideo() error {
	if s.stopVideo != nil {
		close(s.stopVideo)
		s.stopVideo = nil
	}
	return nil
}

func (s *gocvSource) StartDepth() error {
	if s.depthCB == nil || s.cap == nil {
		return nil
	}
	s.stopDepth = make(chan struct{})
	go s.depthLoop(s.stopDepth)
	return nil
}

func (s *gocvSource) StopDepth() error {
	if s.stopDepth != nil {
		close(s.stopDepth)
		s.stopDepth = nil
	}
	return nil
}

func (s *gocvSource) videoLoop(stop chan struct{}) {
	img := gocv.NewMat()
	defer img.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}
		if !s.cap.Read(&img) || img.Empty() {
			continue
		}
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		gocv.Resize(gray, &gray, frameSize, 0, 0, gocv.InterpolationLinear)
		s.videoCB(gray.ToBytes(), time.Now())
	}
}

func (s *gocvSource) depthLoop(stop chan struct{}) {
	img := gocv.NewMat()
	defer img.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	for {
		select {
		case <-stop:
			return
		default:
		}
		if !s.cap.Read(&img) || img.Empty() {
			continue
		}
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
		gocv.Resize(gray, &gray, frameSize, 0, 0, gocv.InterpolationLinear)
		s.depthCB(pack11(gray.ToBytes()), time.Now())
	}
}

// pack11 maps each 8-bit grayscale sample onto the 11-bit raw depth
// index range and bit-packs the result into an 11-bit packed depth
// frame, so the synthesized depth leg produces buffers the occupancy
// engine's unpacker (built for the real sensor's wire format) can read
// unmodified.
func pack11(gray []byte) []byte {
	out := make([]byte, occupancy.DepthFrameSize)
	for i, g := range gray {
		idx := int(g) * 1092 / 255
		bitpos := i * 11
		bytePos := bitpos / 8
		bitOffset := uint(bitpos % 8)
		shift := 24 - 11 - bitOffset
		word := uint32(idx&0x7ff) << shift
		out[bytePos] |= byte(word >> 16)
		if bytePos+1 < len(out) {
			out[bytePos+1] |= byte(word >> 8)
		}
		if bytePos+2 < len(out) {
			out[bytePos+2] |= byte(word)
		}
	}
	return out
}

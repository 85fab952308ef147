/*
NAME
  engine.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package occupancy implements the per-frame projection and zone
// evaluation pass: depth frames are swept pixel by pixel (at a
// configurable stride), each in-range sample is projected to world
// coordinates and accumulated into every zone whose volume contains it,
// and each zone's debounced occupied flag is then updated from its
// configured parameter. Video frames are swept separately, in pixel
// space, to derive a per-zone brightness. The per-pixel sweeps use integer
// arithmetic only; the one floating-point step is the per-zone surface
// area, scaled once per frame by the surface LUT.
package occupancy

import (
	"math"

	"github.com/nitrogenlogic/knd/internal/lut"
	"github.com/nitrogenlogic/knd/internal/zone"
)

// DepthInvalid is the raw 11-bit depth sample value meaning "no return" /
// out of range.
const DepthInvalid = 2047

// DepthFrameSize and VideoFrameSize are the fixed byte sizes of the two
// frame buffers, per the sensor library contract.
const (
	DepthFrameSize = 422400 // 640x480 11-bit packed.
	VideoFrameSize = 307200 // 640x480 Bayer, 1 byte/pixel.
)

// pxval11 unpacks the 11-bit sample for pixel index i from an 11-bit
// packed depth frame (8 pixels packed into 11 bytes).
func pxval11(frame []byte, i int) uint16 {
	bitpos := i * 11
	bytePos := bitpos / 8
	bitOffset := uint(bitpos % 8)

	b0 := uint32(frame[bytePos])
	var b1, b2 uint32
	if bytePos+1 < len(frame) {
		b1 = uint32(frame[bytePos+1])
	}
	if bytePos+2 < len(frame) {
		b2 = uint32(frame[bytePos+2])
	}
	word := b0<<16 | b1<<8 | b2
	shift := 24 - 11 - bitOffset
	return uint16((word >> shift) & 0x7ff)
}

// rebuildDepthMap recomputes the catalog's dense depth-range map. The
// caller must already hold the catalog lock.
func rebuildDepthMap(cat *zone.Catalog) {
	dm := cat.DepthMap()
	xskip, yskip := cat.Skip()
	zones := cat.Zones()

	for y := 0; y < dm.H; y += yskip {
		for x := 0; x < dm.W; x += xskip {
			var lo uint16 = math.MaxUint16
			var hi uint16
			for _, z := range zones {
				if int32(x) >= z.PxXMin && int32(x) < z.PxXMax &&
					int32(y) >= z.PxYMin && int32(y) < z.PxYMax {
					if uint16(z.PxZMin) < lo {
						lo = uint16(z.PxZMin)
					}
					if uint16(z.PxZMax) > hi {
						hi = uint16(z.PxZMax)
					}
				}
			}
			dm.Grid[y*dm.W+x] = zone.DepthRange{Min: lo, Max: hi}
		}
	}
	cat.ClearDirty()
}

// UpdateDepth runs one full depth-frame projection and evaluation pass
// over frame, which must be DepthFrameSize bytes of 11-bit packed raw
// depth samples. It holds the catalog lock for its entire body.
func UpdateDepth(cat *zone.Catalog, frame []byte) {
	cat.Lock()
	defer cat.Unlock()

	if cat.Dirty() {
		rebuildDepthMap(cat)
	}

	zones := cat.Zones()
	for _, z := range zones {
		z.Pop, z.XSum, z.YSum, z.ZSum = 0, 0, 0, 0
	}
	cat.ResetFrameCounters()

	xskip, yskip := cat.Skip()
	dm := cat.DepthMap()
	weight := int64(xskip * yskip)

	for y := 0; y < zone.FrameHeight; y += yskip {
		for x := 0; x < zone.FrameWidth; x += xskip {
			idx := y*zone.FrameWidth + x
			d := pxval11(frame, idx)
			if d == DepthInvalid {
				cat.AddOOR(weight)
				continue
			}
			dr := dm.At(x, y)
			if d < dr.Min || d > dr.Max {
				continue
			}

			zw := lut.Depth(int(d))
			xw := zone.XWorld(int32(x), zw)
			yw := zone.YWorld(int32(y), zw)

			for _, z := range zones {
				if z.Shape().Contains(xw, yw, zw) {
					z.Pop += weight
					z.XSum += weight * int64(xw)
					z.YSum += weight * int64(yw)
					z.ZSum += weight * int64(zw)
				}
			}
		}
	}

	occupiedCount := 0
	maxZone := -1
	var maxSA int32 = -1
	for i, z := range zones {
		evaluateZone(z)
		if z.Occupied {
			occupiedCount++
			if z.SA > maxSA {
				maxSA = z.SA
				maxZone = i
			}
		}
	}
	cat.SetOccupancySummary(occupiedCount, maxZone)
}

// evaluateZone derives a single zone's per-frame centers of gravity and
// surface area from its accumulated sums, selects the configured
// parameter's current value, and applies the debounce state machine.
func evaluateZone(z *zone.Zone) {
	if z.Pop > 0 {
		avgX := z.XSum / z.Pop
		avgY := z.YSum / z.Pop
		avgZ := z.ZSum / z.Pop

		z.XC = proportional(int32(avgX), z.XMin, z.XMax)
		z.YC = proportional(int32(avgY), z.YMin, z.YMax)
		z.ZC = proportional(int32(avgZ), z.ZMin, z.ZMax)

		idx := lut.ReverseDepth(int32(avgZ))
		z.SA = int32(float64(z.Pop) * lut.Surface(idx))
	} else {
		z.XC, z.YC, z.ZC = -1, -1, -1
		z.SA = 0
	}

	allowOccupied := true
	if z.Param != zone.ParamBright && z.Pop == 0 {
		allowOccupied = false
	}

	var value int32
	switch z.Param {
	case zone.ParamPop:
		value = clampPop(z.Pop)
	case zone.ParamSA:
		value = z.SA
	case zone.ParamBright:
		value = z.Bright
	case zone.ParamXC:
		value = z.XC
	case zone.ParamYC:
		value = z.YC
	case zone.ParamZC:
		value = z.ZC
	}

	threshold := z.OnLevel
	if z.Occupied {
		threshold = z.OffLevel
	}
	candidate := allowOccupied && value >= threshold

	if candidate != z.Occupied {
		z.Count++
	} else {
		z.Count = 0
	}

	if !z.Occupied && z.Count > z.OnDelay {
		z.Occupied = true
		z.Count = 0
	} else if z.Occupied && z.Count > z.OffDelay {
		z.Occupied = false
		z.Count = 0
	}
}

// proportional scales avg's position within [lo,hi) to [0,1000].
func proportional(avg, lo, hi int32) int32 {
	span := hi - lo
	if span <= 0 {
		return 0
	}
	v := int64(avg-lo) * 1000 / int64(span)
	if v < 0 {
		v = 0
	}
	if v > 1000 {
		v = 1000
	}
	return int32(v)
}

func clampPop(pop int64) int32 {
	if pop > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(pop)
}

// UpdateVideo runs one video-frame brightness sweep over frame, which
// must be VideoFrameSize bytes of raw single-channel Bayer data. It
// samples the green-ish cells on an 8x8 stride starting at column 1 and
// accumulates into every zone whose screen box contains the sample,
// entirely in pixel space (no world projection). It holds the catalog
// lock for its entire body.
func UpdateVideo(cat *zone.Catalog, frame []byte) {
	const stride = 8

	cat.Lock()
	defer cat.Unlock()

	zones := cat.Zones()
	counts := make([]int64, len(zones))
	for _, z := range zones {
		z.BSum = 0
	}

	for y := 0; y < zone.FrameHeight; y += stride {
		for x := 1; x < zone.FrameWidth; x += stride {
			v := int64(frame[y*zone.FrameWidth+x])
			for i, z := range zones {
				if z.ScreenShape().Contains(int32(x), int32(y)) {
					z.BSum += v
					counts[i]++
				}
			}
		}
	}

	for i, z := range zones {
		if counts[i] > 0 {
			z.Bright = int32(z.BSum / counts[i])
		} else {
			z.Bright = 0
		}
	}
}

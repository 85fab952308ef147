/*
NAME
  lut.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package lut provides the depth and surface-area look-up tables that
// translate raw 11-bit depth indices into world-space millimeters and
// per-pixel surface area. The tables are computed once, lazily, and are
// read-only for the remainder of the process lifetime.
package lut

import (
	"math"
	"sync"
)

// Size is the number of entries in both tables; raw depth indices run
// 0..2047, though only indices up to MaxIndex are physically meaningful.
const Size = 2048

// MaxIndex is the largest raw depth index that reverse_lut will ever
// return, and the largest index either table holds meaningful data for.
const MaxIndex = 1092

const (
	fovTan28 = 0.5317094316614788 // tan(28 degrees), half the horizontal FoV.
)

var (
	once  sync.Once
	depth [Size]int32   // mm, indexed by raw depth value.
	surf  [Size]float64 // mm^2 per pixel at that distance.
)

// initTables lazily computes both tables exactly once. Every exported function
// calls this first, so callers never need to invoke it directly.
func initTables() {
	once.Do(func() {
		for i := 0; i < Size; i++ {
			mm := int32(math.Floor(1000 * 0.1236 * math.Tan(float64(i)/2842.5+1.1863)))
			depth[i] = mm
			side := float64(mm) * (fovTan28 / 320)
			surf[i] = side * side
		}
	})
}

// Depth returns LUT[i], the world-space millimeters corresponding to raw
// depth index i. i is not range-checked; callers are expected to mask
// incoming depth samples to 11 bits before indexing.
func Depth(i int) int32 {
	initTables()
	return depth[i]
}

// Surface returns SLUT[i], the approximate surface area in mm^2 that a
// single sampled pixel represents at the distance encoded by raw depth
// index i.
func Surface(i int) float64 {
	initTables()
	return surf[i]
}

// ReverseDepth returns the largest index i in [0, MaxIndex] such that
// Depth(i) <= mm. For mm below Depth(0) it returns 0; for mm at or above
// Depth(MaxIndex) it returns MaxIndex. The search is a binary search
// around the table's midpoint with a halving offset, followed by a small
// linear fixup that corrects for truncation in the halving steps.
func ReverseDepth(mm int32) int {
	initTables()

	if mm < depth[0] {
		return 0
	}
	if mm >= depth[MaxIndex] {
		return MaxIndex
	}

	idx := MaxIndex / 2
	for offset := (MaxIndex + 1) / 4; offset > 0; offset /= 2 {
		if idx+offset <= MaxIndex && depth[idx+offset] <= mm {
			idx += offset
		} else if idx-offset >= 0 && depth[idx-offset] > mm {
			idx -= offset
		}
	}

	// Linear fixup: truncation in the halving search can leave idx off
	// by one or two in either direction.
	for idx < MaxIndex && depth[idx+1] <= mm {
		idx++
	}
	for idx > 0 && depth[idx] > mm {
		idx--
	}
	return idx
}

/*
NAME
  projection.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package zone

import "github.com/nitrogenlogic/knd/internal/lut"

// Frame geometry. The depth and video streams are both 640x480; the
// vertical FoV is centered within the horizontal one, hence the (W-H)/2
// offset used by yworld/yscreen.
const (
	FrameWidth  = 640
	FrameHeight = 480
	rowOffset   = (FrameWidth - FrameHeight) / 2 // 80
)

// Fixed-point projection constants. 1089 approximates tan(28 degrees)*2048
// and 0xCCCD/2^19 approximates 1/10; both are part of the wire contract
// (bit-compatible results are expected across platforms), not a tuning
// knob.
const (
	fovConst   = 1089
	tenthConst = 0xCCCD
)

// xworld projects a horizontal pixel coordinate and a world-space depth
// (millimeters) to a world-space horizontal coordinate (millimeters).
func xworld(px int32, zw int32) int32 {
	return int32((int64(zw)*int64(320-px)*fovConst*tenthConst + (1 << 34)) >> 35)
}

// yworld projects a vertical pixel coordinate and a world-space depth to
// a world-space vertical coordinate, using the same formula as xworld
// with the row recentered within the square FoV.
func yworld(py int32, zw int32) int32 {
	return xworld(py+rowOffset, zw)
}

// XWorld and YWorld are the exported forms of xworld/yworld, used by the
// occupancy engine's per-pixel sweep.
func XWorld(px, zw int32) int32 { return xworld(px, zw) }
func YWorld(py, zw int32) int32 { return yworld(py, zw) }

// xscreen is the inverse of xworld: given a world-space horizontal
// coordinate and depth, it returns the horizontal pixel coordinate.
func xscreen(xw int32, zw int32) int32 {
	if zw == 0 {
		return 320
	}
	denom := int64(fovConst) * int64(tenthConst) * int64(zw)
	return int32(320 - (int64(xw)<<35)/denom)
}

// yscreen is the inverse of yworld.
func yscreen(yw int32, zw int32) int32 {
	return xscreen(yw, zw) - rowOffset
}

// minMax4 evaluates f at every combination of {a0,a1} x {b0,b1} and
// returns the smallest and largest results. Both xworld/yworld and their
// inverses are monotonic in each argument but the sign of that monotonicity
// flips depending on which side of the optical axis the pixel argument
// falls on, so the safe and simple way to find the true bounding interval
// of a box's projected corners is to evaluate all four corners rather
// than hardcode which combination of "near"/"far" endpoints is extremal.
func minMax4(f func(a, b int32) int32, a0, a1, b0, b1 int32) (lo, hi int32) {
	vals := [4]int32{f(a0, b0), f(a0, b1), f(a1, b0), f(a1, b1)}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// worldToScreen derives a pixel box from a world box by projecting all
// four world/depth corner combinations for each axis.
func worldToScreen(xmin, ymin, zmin, xmax, ymax, zmax int32) (pxXMin, pxYMin, pxZMin, pxXMax, pxYMax, pxZMax int32) {
	pxXMin, pxXMax = minMax4(xscreen, xmin, xmax, zmin, zmax)
	pxYMin, pxYMax = minMax4(yscreen, ymin, ymax, zmin, zmax)
	pxZMin = int32(lut.ReverseDepth(zmin))
	pxZMax = int32(lut.ReverseDepth(zmax))
	return
}

// screenToWorld derives a world box from a pixel box, converting the
// pixel depth endpoints to world-space millimeters via the depth LUT. A
// pixel endpoint on the outer side of the optical axis (px_xmin left of
// centre, px_xmax right of it, and likewise for y) is the zone's farthest
// point from the axis and is projected at the near depth; an endpoint on
// the inner side is projected at the far depth.
func screenToWorld(pxXMin, pxYMin, pxZMin, pxXMax, pxYMax, pxZMax int32) (xmin, ymin, zmin, xmax, ymax, zmax int32) {
	zwMin := lut.Depth(int(pxZMin))
	zwMax := lut.Depth(int(pxZMax))
	depthFor := func(outer bool) int32 {
		if outer {
			return zwMin
		}
		return zwMax
	}
	xmax = xworld(pxXMin, depthFor(pxXMin < 320))
	xmin = xworld(pxXMax, depthFor(pxXMax > 320))
	ymax = yworld(pxYMin, depthFor(pxYMin+rowOffset < 320))
	ymin = yworld(pxYMax, depthFor(pxYMax+rowOffset > 320))
	zmin, zmax = zwMin, zwMax
	return
}

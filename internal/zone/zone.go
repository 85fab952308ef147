/*
NAME
  zone.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package zone provides the Zone type and the thread-safe Zone catalog:
// a named rectangular volume in sensor coordinates, and the ordered,
// versioned collection of all such volumes a running daemon tracks.
package zone

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nitrogenlogic/knd/internal/knderr"
)

// MaxNameLen is the longest a zone name may be, in bytes.
const MaxNameLen = 127

// Zone is a named rectangular volume plus its sensing configuration,
// per-frame live counters, derived measures and debounce state. All
// fields are only ever mutated by Catalog while holding its lock.
type Zone struct {
	Name string

	// World box, millimeters.
	XMin, YMin, ZMin int32
	XMax, YMax, ZMax int32

	// Screen box, pixels / raw depth index.
	PxXMin, PxYMin, PxZMin int32
	PxXMax, PxYMax, PxZMax int32

	// Sensing configuration.
	Negate   bool
	Param    Param
	OnLevel  int32
	OffLevel int32
	OnDelay  int32
	OffDelay int32

	// Live counters, reset every frame before accumulation.
	Pop  int64
	XSum int64
	YSum int64
	ZSum int64
	BSum int64

	// Derived per frame.
	XC, YC, ZC int32 // [0,1000], -1 when Pop == 0.
	SA         int32 // mm^2.
	MaxPop     int32 // screen-box area, cached, >= 1.
	Bright     int32 // average video brightness [0,255] from the last video pass.

	// Debounce state.
	Occupied     bool
	LastOccupied bool
	Count        int32
	NewZone      bool
	LastPop      int64
}

// ValidateName reports whether name is acceptable as a zone identity:
// printable, no comma/newline/tab, and no more than MaxNameLen bytes.
func ValidateName(name string) error {
	if name == "" {
		return knderr.New(knderr.InputInvalid, "zone name must not be empty")
	}
	if len(name) > MaxNameLen {
		return knderr.Newf(knderr.InputInvalid, "zone name %q exceeds %d bytes", name, MaxNameLen)
	}
	for _, r := range name {
		switch r {
		case ',', '\n', '\r', '\t':
			return knderr.Newf(knderr.InputInvalid, "zone name %q contains a reserved character", name)
		}
		if r < 0x20 || r == 0x7f {
			return knderr.Newf(knderr.InputInvalid, "zone name %q contains a non-printable character", name)
		}
	}
	return nil
}

// newZone constructs a Zone from a validated world box, applying the
// default parameter, deriving the screen box, and establishing the
// debounce defaults.
func newZone(name string, xmin, ymin, zmin, xmax, ymax, zmax int32) *Zone {
	z := &Zone{
		Name:    name,
		XMin:    xmin,
		YMin:    ymin,
		ZMin:    zmin,
		XMax:    xmax,
		YMax:    ymax,
		ZMax:    zmax,
		Param:   ParamPop,
		NewZone: true,
		XC:      -1,
		YC:      -1,
		ZC:      -1,
	}
	z.OnLevel, z.OffLevel = z.Param.Defaults()
	z.recomputeScreenFromWorld()
	z.clampMaxPop()
	return z
}

// validateWorldBox checks invariant 1 of the specification.
func validateWorldBox(xmin, ymin, zmin, xmax, ymax, zmax int32) error {
	if xmin >= xmax {
		return knderr.Newf(knderr.Conflict, "xmin (%d) must be less than xmax (%d)", xmin, xmax)
	}
	if ymin >= ymax {
		return knderr.Newf(knderr.Conflict, "ymin (%d) must be less than ymax (%d)", ymin, ymax)
	}
	if zmin <= 0 {
		return knderr.Newf(knderr.Conflict, "zmin (%d) must be greater than zero", zmin)
	}
	if zmin >= zmax {
		return knderr.Newf(knderr.Conflict, "zmin (%d) must be less than zmax (%d)", zmin, zmax)
	}
	const limit = 16384
	for _, v := range [...]int32{xmin, ymin, zmin, xmax, ymax, zmax} {
		if v < -limit || v > limit {
			return knderr.Newf(knderr.Conflict, "world coordinate %d exceeds the +/-%d mm design limit", v, limit)
		}
	}
	return nil
}

// recomputeScreenFromWorld derives the pixel box from the current world
// box (WORLD -> SCREEN), clamping the result into the pixel/depth-index
// domain and auto-expanding the x or y axis if it projected to zero width
// (px_zmin == px_zmax is allowed and left as is).
func (z *Zone) recomputeScreenFromWorld() {
	pxXMin, pxYMin, pxZMin, pxXMax, pxYMax, pxZMax := worldToScreen(z.XMin, z.YMin, z.ZMin, z.XMax, z.YMax, z.ZMax)

	z.PxXMin, z.PxXMax = clampPxAxis(pxXMin, pxXMax, 0, FrameWidth-1, true)
	z.PxYMin, z.PxYMax = clampPxAxis(pxYMin, pxYMax, 0, FrameHeight-1, true)
	z.PxZMin, z.PxZMax = clampPxAxis(pxZMin, pxZMax, 0, maxDepthIndex, false)
}

// recomputeWorldFromScreen derives the world box from the current pixel
// box (SCREEN -> WORLD), clamping into the world domain and auto-
// expanding any axis that projected to zero width.
func (z *Zone) recomputeWorldFromScreen() {
	xmin, ymin, zmin, xmax, ymax, zmax := screenToWorld(z.PxXMin, z.PxYMin, z.PxZMin, z.PxXMax, z.PxYMax, z.PxZMax)

	if xmin >= xmax {
		xmax = xmin + 1
	}
	if ymin >= ymax {
		ymax = ymin + 1
	}
	if zmin <= 0 {
		zmin = 1
	}
	if zmin >= zmax {
		zmax = zmin + 1
	}
	z.XMin, z.YMin, z.ZMin, z.XMax, z.YMax, z.ZMax = xmin, ymin, zmin, xmax, ymax, zmax
}

const maxDepthIndex = 1092

// clampPxAxis clamps [lo,hi] into [domainLo,domainHi] and, if strict is
// true, ensures hi > lo afterwards by expanding hi by one (or pulling lo
// back by one if already at the domain ceiling).
func clampPxAxis(lo, hi, domainLo, domainHi int32, strict bool) (int32, int32) {
	if lo < domainLo {
		lo = domainLo
	}
	if lo > domainHi {
		lo = domainHi
	}
	if hi > domainHi {
		hi = domainHi
	}
	if hi < lo {
		hi = lo
	}
	if strict && hi == lo {
		if hi < domainHi {
			hi++
		} else {
			lo--
		}
	}
	return lo, hi
}

// clampMaxPop recomputes MaxPop from the current pixel box, enforcing
// invariant 3 (MaxPop >= 1).
func (z *Zone) clampMaxPop() {
	w := int64(z.PxXMax - z.PxXMin)
	h := int64(z.PxYMax - z.PxYMin)
	area := w * h
	if area < 1 {
		area = 1
	}
	z.MaxPop = int32(area)
}

// SetWorldBox replaces the zone's world box wholesale (the "setzone
// name,all,..." / addzone path), validates it, and recomputes the screen
// box.
func (z *Zone) SetWorldBox(xmin, ymin, zmin, xmax, ymax, zmax int32) error {
	if err := validateWorldBox(xmin, ymin, zmin, xmax, ymax, zmax); err != nil {
		return err
	}
	z.XMin, z.YMin, z.ZMin, z.XMax, z.YMax, z.ZMax = xmin, ymin, zmin, xmax, ymax, zmax
	z.recomputeScreenFromWorld()
	z.clampMaxPop()
	return nil
}

// readOnlyAttrs enumerates attribute keys that SetAttr must reject.
var readOnlyAttrs = map[string]bool{
	"pop": true, "maxpop": true, "xc": true, "yc": true,
	"zc": true, "sa": true, "occupied": true, "name": true,
}

// parseNumeric implements the wire numeric parse rule: "true" -> 1,
// "false" -> 0, otherwise an integer parse of the leading digits (a
// non-numeric tail is silently truncated).
func parseNumeric(value string) (int32, error) {
	switch strings.ToLower(value) {
	case "true":
		return 1, nil
	case "false":
		return 0, nil
	}
	end := 0
	if end < len(value) && (value[end] == '-' || value[end] == '+') {
		end++
	}
	start := end
	for end < len(value) && value[end] >= '0' && value[end] <= '9' {
		end++
	}
	if end == start {
		return 0, knderr.Newf(knderr.InputInvalid, "%q is not a number", value)
	}
	n, err := strconv.ParseInt(value[:end], 10, 32)
	if err != nil {
		return 0, knderr.Newf(knderr.InputInvalid, "%q is not a valid number", value)
	}
	return int32(n), nil
}

// SetAttr applies a single key/value attribute mutation, per the
// assignment rules of the specification.
func (z *Zone) SetAttr(key, value string) error {
	key = strings.ToLower(key)

	if readOnlyAttrs[key] {
		return knderr.Newf(knderr.InputInvalid, "attribute %q is read-only", key)
	}

	switch key {
	case "negate":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		z.Negate = n != 0
		return nil

	case "param":
		p, err := ParseParam(strings.ToLower(value))
		if err != nil {
			return err
		}
		z.Param = p
		z.Occupied = false
		z.Count = 0
		z.OnLevel, z.OffLevel = p.Defaults()
		return nil

	case "on_level", "off_level":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		n = z.Param.Clamp(n)
		if key == "on_level" {
			z.OnLevel = n
			if z.OnLevel < z.OffLevel {
				z.OffLevel = z.OnLevel
			}
		} else {
			z.OffLevel = n
			if z.OffLevel > z.OnLevel {
				z.OnLevel = z.OffLevel
			}
		}
		return nil

	case "on_delay", "off_delay":
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		if n < 0 {
			n = 0
		}
		if key == "on_delay" {
			z.OnDelay = n
		} else {
			z.OffDelay = n
		}
		return nil
	}

	if isWorldKey(key) {
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		z.setWorldField(key, n)
		z.recomputeScreenFromWorld()
		z.clampMaxPop()
		return nil
	}

	if isPixelKey(key) {
		n, err := parseNumeric(value)
		if err != nil {
			return err
		}
		z.setPixelField(key, n)
		z.recomputeWorldFromScreen()
		z.clampMaxPop()
		return nil
	}

	return knderr.Newf(knderr.InputInvalid, "unknown attribute %q", key)
}

func isWorldKey(key string) bool {
	switch key {
	case "xmin", "xmax", "ymin", "ymax", "zmin", "zmax":
		return true
	}
	return false
}

func isPixelKey(key string) bool {
	switch key {
	case "px_xmin", "px_xmax", "px_ymin", "px_ymax", "px_zmin", "px_zmax":
		return true
	}
	return false
}

// setWorldField assigns a single world-coordinate field, then clamps the
// opposite endpoint outward by 1mm if the assignment broke invariant 1.
func (z *Zone) setWorldField(key string, v int32) {
	switch key {
	case "xmin":
		z.XMin = v
		if z.XMin >= z.XMax {
			z.XMax = z.XMin + 1
		}
	case "xmax":
		z.XMax = v
		if z.XMax <= z.XMin {
			z.XMin = z.XMax - 1
		}
	case "ymin":
		z.YMin = v
		if z.YMin >= z.YMax {
			z.YMax = z.YMin + 1
		}
	case "ymax":
		z.YMax = v
		if z.YMax <= z.YMin {
			z.YMin = z.YMax - 1
		}
	case "zmin":
		if v < 1 {
			v = 1
		}
		z.ZMin = v
		if z.ZMin >= z.ZMax {
			z.ZMax = z.ZMin + 1
		}
	case "zmax":
		z.ZMax = v
		if z.ZMax <= z.ZMin {
			z.ZMin = z.ZMax - 1
		}
		if z.ZMin < 1 {
			z.ZMin = 1
			if z.ZMax <= z.ZMin {
				z.ZMax = z.ZMin + 1
			}
		}
	}
}

// setPixelField assigns a single pixel-coordinate field, clamping into
// its domain and ensuring the opposite endpoint differs by at least one
// (px_z excepted, where equality is allowed).
func (z *Zone) setPixelField(key string, v int32) {
	switch key {
	case "px_xmin":
		if v < 0 {
			v = 0
		}
		if v > FrameWidth-2 {
			v = FrameWidth - 2
		}
		z.PxXMin = v
		if z.PxXMin >= z.PxXMax {
			z.PxXMax = z.PxXMin + 1
		}
	case "px_xmax":
		if v > FrameWidth-1 {
			v = FrameWidth - 1
		}
		if v < 1 {
			v = 1
		}
		z.PxXMax = v
		if z.PxXMax <= z.PxXMin {
			z.PxXMin = z.PxXMax - 1
		}
	case "px_ymin":
		if v < 0 {
			v = 0
		}
		if v > FrameHeight-2 {
			v = FrameHeight - 2
		}
		z.PxYMin = v
		if z.PxYMin >= z.PxYMax {
			z.PxYMax = z.PxYMin + 1
		}
	case "px_ymax":
		if v > FrameHeight-1 {
			v = FrameHeight - 1
		}
		if v < 1 {
			v = 1
		}
		z.PxYMax = v
		if z.PxYMax <= z.PxYMin {
			z.PxYMin = z.PxYMax - 1
		}
	case "px_zmin":
		if v < 0 {
			v = 0
		}
		if v > maxDepthIndex {
			v = maxDepthIndex
		}
		z.PxZMin = v
		if z.PxZMin > z.PxZMax {
			z.PxZMax = z.PxZMin
		}
	case "px_zmax":
		if v > maxDepthIndex {
			v = maxDepthIndex
		}
		if v < 0 {
			v = 0
		}
		z.PxZMax = v
		if z.PxZMax < z.PxZMin {
			z.PxZMin = z.PxZMax
		}
	}
}

// Shape returns the zone's current world-space containment test. Every
// Zone today is a RectShape; see Shape for the extensibility note.
func (z *Zone) Shape() Shape {
	return RectShape{XMin: z.XMin, YMin: z.YMin, ZMin: z.ZMin, XMax: z.XMax, YMax: z.YMax, ZMax: z.ZMax}
}

// ScreenShape returns the zone's pixel-space containment test, used by
// the video brightness sweep.
func (z *Zone) ScreenShape() ScreenRectShape {
	return ScreenRectShape{XMin: z.PxXMin, YMin: z.PxYMin, XMax: z.PxXMax, YMax: z.PxYMax}
}

// EffectiveOccupied returns the occupied flag XORed with negate, i.e. the
// value the wire protocol reports.
func (z *Zone) EffectiveOccupied() bool {
	return z.Occupied != z.Negate
}

// FormatFull renders the zone's full attribute line, as emitted by
// addzone's broadcast, zones, and the first SUB line for a new client.
func (z *Zone) FormatFull() string {
	occ := 0
	if z.EffectiveOccupied() {
		occ = 1
	}
	neg := 0
	if z.Negate {
		neg = 1
	}
	return fmt.Sprintf(
		"xmin=%d ymin=%d zmin=%d xmax=%d ymax=%d zmax=%d "+
			"px_xmin=%d px_ymin=%d px_zmin=%d px_xmax=%d px_ymax=%d px_zmax=%d "+
			"negate=%d param=%s on_level=%d off_level=%d on_delay=%d off_delay=%d "+
			"occupied=%d pop=%d maxpop=%d xc=%d yc=%d zc=%d sa=%d name=%q",
		z.XMin, z.YMin, z.ZMin, z.XMax, z.YMax, z.ZMax,
		z.PxXMin, z.PxYMin, z.PxZMin, z.PxXMax, z.PxYMax, z.PxZMax,
		neg, z.Param, z.OnLevel, z.OffLevel, z.OnDelay, z.OffDelay,
		occ, z.Pop, z.MaxPop, z.XC, z.YC, z.ZC, z.SA, z.Name,
	)
}

// FormatShort renders the short-form line used for periodic SUB updates
// of an unchanged-structure zone: everything from "occupied=" onward.
func (z *Zone) FormatShort() string {
	occ := 0
	if z.EffectiveOccupied() {
		occ = 1
	}
	return fmt.Sprintf(
		"occupied=%d pop=%d maxpop=%d xc=%d yc=%d zc=%d sa=%d name=%q",
		occ, z.Pop, z.MaxPop, z.XC, z.YC, z.ZC, z.SA, z.Name,
	)
}

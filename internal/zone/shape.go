/*
NAME
  shape.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package zone

// Shape is the extensibility hook for non-rectangular zone volumes.
// Every Zone's effective shape is RectShape by default; nothing in knd
// constructs any other implementation today, but the occupancy engine
// tests world-space containment exclusively through this interface so a
// future non-rectangular zone kind could be added without touching the
// engine.
//
// NB: Shape may grow more methods as non-rectangular volumes are added.
type Shape interface {
	// Contains reports whether the world-space point (x, y, z) lies
	// within the shape.
	Contains(x, y, z int32) bool
}

// RectShape is the only Shape implementation knd ships: an axis-aligned
// rectangular volume, i.e. a zone's world box.
type RectShape struct {
	XMin, YMin, ZMin int32
	XMax, YMax, ZMax int32
}

func (r RectShape) Contains(x, y, z int32) bool {
	return r.XMin <= x && x < r.XMax &&
		r.YMin <= y && y < r.YMax &&
		r.ZMin <= z && z < r.ZMax
}

// ScreenRectShape is the pixel-space analogue of RectShape, used by the
// video brightness sweep which operates purely in screen coordinates.
type ScreenRectShape struct {
	XMin, YMin int32
	XMax, YMax int32
}

func (r ScreenRectShape) Contains(x, y int32) bool {
	return r.XMin <= x && x < r.XMax &&
		r.YMin <= y && y < r.YMax
}

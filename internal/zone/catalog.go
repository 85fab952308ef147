/*
NAME
  catalog.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package zone

import (
	"strings"
	"sync"

	"github.com/nitrogenlogic/knd/internal/knderr"
)

// VersionSentinel is the reserved "all-ones" version value returned by
// readers when the catalog could not be inspected. BumpVersion skips it
// on overflow, wrapping to zero instead.
const VersionSentinel = ^uint32(0)

// DepthRange is the tightest [min,max] envelope of raw depth indices any
// zone covers at a given pixel.
type DepthRange struct {
	Min, Max uint16
}

// DepthMap is the dense per-pixel depth-range map described in the
// specification's zone catalog section: for every sampled pixel, the
// min/max raw-depth index of any zone covering it.
type DepthMap struct {
	W, H int
	Grid []DepthRange
}

func newDepthMap(w, h int) *DepthMap {
	return &DepthMap{W: w, H: h, Grid: make([]DepthRange, w*h)}
}

// At returns the depth range recorded for pixel (x,y).
func (m *DepthMap) At(x, y int) DepthRange {
	return m.Grid[y*m.W+x]
}

// Catalog is the thread-safe, ordered, versioned collection of Zones.
// The catalog lock is the only lock ever held across significant work:
// the occupancy engine acquires it for an entire per-frame pass, and
// every exported mutator acquires it for its own body.
type Catalog struct {
	mu sync.Mutex

	zones   []*Zone
	version uint32

	xskip, yskip int

	depthMap *DepthMap
	dirty    bool

	maxZone       int // index into zones of the highest-SA occupied zone, -1 if none.
	occupiedCount int
	oorTotal      int64
}

// New returns an empty Catalog with the default pixel-sweep stride.
func New() *Catalog {
	return &Catalog{
		xskip:    2,
		yskip:    2,
		depthMap: newDepthMap(FrameWidth, FrameHeight),
		dirty:    true,
		maxZone:  -1,
	}
}

// Lock and Unlock expose the catalog's exclusive lock directly so the
// occupancy engine can hold it for an entire projection/evaluation pass,
// per the concurrency model in the specification. Most callers should
// prefer the higher-level methods below instead.
func (c *Catalog) Lock()   { c.mu.Lock() }
func (c *Catalog) Unlock() { c.mu.Unlock() }

// bumpVersionLocked increments the version counter, skipping the
// reserved sentinel value on overflow. Callers must hold c.mu.
func (c *Catalog) bumpVersionLocked() {
	c.version++
	if c.version == VersionSentinel {
		c.version = 0
	}
}

// BumpVersion increments the catalog version. It does not take the lock
// itself: it is for callers that already hold the catalog lock and
// mutate zones without going through the mutator methods below.
func (c *Catalog) BumpVersion() {
	c.bumpVersionLocked()
}

// Version returns the current catalog version.
func (c *Catalog) Version() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// findLocked returns the zone with the given name, case-insensitively,
// and its index, or (nil, -1). Callers must hold c.mu.
func (c *Catalog) findLocked(name string) (*Zone, int) {
	for i, z := range c.zones {
		if strings.EqualFold(z.Name, name) {
			return z, i
		}
	}
	return nil, -1
}

// FindByName returns the zone with the given name, case-insensitively.
func (c *Catalog) FindByName(name string) (*Zone, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	z, _ := c.findLocked(name)
	return z, z != nil
}

// Add creates and inserts a new zone with the given name and world box.
func (c *Catalog) Add(name string, xmin, ymin, zmin, xmax, ymax, zmax int32) (*Zone, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := validateWorldBox(xmin, ymin, zmin, xmax, ymax, zmax); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if z, _ := c.findLocked(name); z != nil {
		return nil, knderr.Newf(knderr.Conflict, "zone %q already exists", name)
	}

	z := newZone(name, xmin, ymin, zmin, xmax, ymax, zmax)
	c.zones = append(c.zones, z)
	c.dirty = true
	c.bumpVersionLocked()
	return z, nil
}

// Remove deletes the zone with the given name.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, idx := c.findLocked(name)
	if idx < 0 {
		return knderr.Newf(knderr.NotFound, "zone %q not found", name)
	}
	c.zones = append(c.zones[:idx], c.zones[idx+1:]...)
	c.dirty = true
	c.bumpVersionLocked()
	return nil
}

// Clear removes all zones.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zones = nil
	c.dirty = true
	c.maxZone = -1
	c.occupiedCount = 0
	c.bumpVersionLocked()
}

// SetBox replaces a zone's world box wholesale (the "setzone
// name,all,x1,y1,z1,x2,y2,z2" command).
func (c *Catalog) SetBox(name string, xmin, ymin, zmin, xmax, ymax, zmax int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	z, _ := c.findLocked(name)
	if z == nil {
		return knderr.Newf(knderr.NotFound, "zone %q not found", name)
	}
	if err := z.SetWorldBox(xmin, ymin, zmin, xmax, ymax, zmax); err != nil {
		return err
	}
	c.dirty = true
	c.bumpVersionLocked()
	return nil
}

// SetAttr applies a single attribute mutation to a named zone.
func (c *Catalog) SetAttr(name, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	z, _ := c.findLocked(name)
	if z == nil {
		return knderr.Newf(knderr.NotFound, "zone %q not found", name)
	}
	if err := z.SetAttr(key, value); err != nil {
		return err
	}
	c.dirty = true
	c.bumpVersionLocked()
	return nil
}

// Iterate calls fn once for every zone currently in the catalog, in
// order. Per the specification, the catalog lock guards every operation
// except the callback body itself: Iterate takes a lock only long enough
// to snapshot the current zone slice, then invokes fn for each zone with
// the lock released, so a slow callback (e.g. formatting a reply line)
// never blocks a concurrent mutation or occupancy pass.
func (c *Catalog) Iterate(fn func(*Zone)) {
	c.mu.Lock()
	snapshot := make([]*Zone, len(c.zones))
	copy(snapshot, c.zones)
	c.mu.Unlock()

	for _, z := range snapshot {
		fn(z)
	}
}

// Touch clears every zone's new_zone flag and snapshots lastpop/
// lastoccupied, establishing the baseline the server's wakeup handler
// diffs the next frame against.
func (c *Catalog) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, z := range c.zones {
		z.LastPop = z.Pop
		z.LastOccupied = z.Occupied
		z.NewZone = false
	}
}

// Count returns the number of zones in the catalog.
func (c *Catalog) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.zones)
}

// OccupiedCount returns the cached count of currently occupied zones, as
// last computed by the occupancy engine.
func (c *Catalog) OccupiedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.occupiedCount
}

// Peak returns the name and index of the zone with the largest surface
// area among those currently occupied, or ("", -1) if none are occupied.
func (c *Catalog) Peak() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxZone < 0 || c.maxZone >= len(c.zones) {
		return "", -1
	}
	return c.zones[c.maxZone].Name, c.maxZone
}

// The remaining methods are the low-level accessors the occupancy engine
// uses while already holding the catalog lock for its entire pass (see
// Lock/Unlock above).

// Zones returns the live zone slice directly. The caller must hold the
// catalog lock.
func (c *Catalog) Zones() []*Zone { return c.zones }

// Skip returns the pixel-sweep stride. The caller must hold the catalog
// lock.
func (c *Catalog) Skip() (x, y int) { return c.xskip, c.yskip }

// SetSkip changes the pixel-sweep stride.
func (c *Catalog) SetSkip(x, y int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if x < 1 {
		x = 1
	}
	if y < 1 {
		y = 1
	}
	c.xskip, c.yskip = x, y
	c.dirty = true
}

// Dirty reports whether the depth-range map needs rebuilding. The caller
// must hold the catalog lock.
func (c *Catalog) Dirty() bool { return c.dirty }

// ClearDirty marks the depth-range map clean. The caller must hold the
// catalog lock.
func (c *Catalog) ClearDirty() { c.dirty = false }

// DepthMap returns the dense depth-range map. The caller must hold the
// catalog lock.
func (c *Catalog) DepthMap() *DepthMap { return c.depthMap }

// ResetFrameCounters zeroes the out-of-range sample total ahead of a new
// depth sweep. The caller must hold the catalog lock.
func (c *Catalog) ResetFrameCounters() {
	c.oorTotal = 0
}

// AddOOR adds n to the out-of-range sample total for the current frame.
// The caller must hold the catalog lock.
func (c *Catalog) AddOOR(n int64) {
	c.oorTotal += n
}

// OOR returns the out-of-range sample total for the most recently
// completed frame. The caller must hold the catalog lock.
func (c *Catalog) OOR() int64 { return c.oorTotal }

// SetOccupancySummary records the catalog-level occupied count and peak
// zone index computed by the occupancy engine at the end of a depth
// pass. The caller must hold the catalog lock.
func (c *Catalog) SetOccupancySummary(occupiedCount, maxZone int) {
	c.occupiedCount = occupiedCount
	c.maxZone = maxZone
}

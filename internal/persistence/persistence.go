/*
NAME
  persistence.go

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package persistence implements the periodic zone-catalog save/load
// cycle: a background worker wakes on a jittered interval, saves the
// catalog to a temp file and atomically renames it into place if the
// catalog's version has changed since the last save, and a loader that
// understands every historical file_version this daemon's predecessors
// ever wrote.
package persistence

import (
	"bufio"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ausocean/utils/logging"
	"golang.org/x/sys/unix"

	"github.com/nitrogenlogic/knd/internal/knderr"
	"github.com/nitrogenlogic/knd/internal/zone"
)

// fileVersion is the format this daemon writes. Readers dispatch on the
// version line they find, supporting every version below.
const fileVersion = 5

// legacyAngleFactor converts x/y coordinates written before the viewing
// angle changed (file_version < 3) into the current coordinate system.
const legacyAngleFactor = 0.7594

const fileName = "zones.knd"
const tmpName = fileName + ".tmp"

// TiltSetter is the narrow collaborator persistence needs from the
// sensor pipeline's actuator to restore motor tilt on load.
type TiltSetter interface {
	SetTilt(degrees int) error
	Tilt() int
}

// Store drives the periodic save/load cycle against a directory
// validated at construction time.
type Store struct {
	log  logging.Logger
	dir  string
	cat  *zone.Catalog
	tilt TiltSetter

	interval time.Duration

	mu           sync.Mutex
	lastSavedVer uint32
	haveSaved    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New validates dir (must exist, be a directory, and be writable and
// executable by the effective user) and returns a Store, per the
// specification's startup-time directory validation requirement.
func New(log logging.Logger, dir string, cat *zone.Catalog, tilt TiltSetter, interval time.Duration) (*Store, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, knderr.Newf(knderr.IOError, "save directory %q: %v", dir, err)
	}
	if !fi.IsDir() {
		return nil, knderr.Newf(knderr.IOError, "save directory %q is not a directory", dir)
	}
	if unix.Access(dir, unix.W_OK|unix.X_OK) != nil {
		return nil, knderr.Newf(knderr.IOError, "save directory %q is not writable", dir)
	}
	return &Store{
		log:      log,
		dir:      dir,
		cat:      cat,
		tilt:     tilt,
		interval: interval,
		stop:     make(chan struct{}),
	}, nil
}

// path returns the target save file's path within dir.
func (s *Store) path() string { return filepath.Join(s.dir, fileName) }

// Load reads the save file, if any, and populates the catalog. A missing
// file is not an error — this is the common first-run case.
func (s *Store) Load() error {
	f, err := os.Open(s.path())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return knderr.Newf(knderr.IOError, "opening save file: %v", err)
	}
	defer f.Close()

	return s.load(f)
}

func (s *Store) load(f *os.File) error {
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)

	readLine := func() (string, bool) {
		if !sc.Scan() {
			return "", false
		}
		return sc.Text(), true
	}

	verLine, ok := readLine()
	if !ok {
		return knderr.New(knderr.IOError, "empty save file")
	}
	ver, err := strconv.Atoi(strings.TrimSpace(verLine))
	if err != nil {
		return knderr.Newf(knderr.IOError, "bad file_version line: %v", err)
	}

	var tiltDeg int
	if ver >= 2 {
		tiltLine, ok := readLine()
		if !ok {
			return knderr.New(knderr.IOError, "missing tilt line")
		}
		tiltDeg, _ = strconv.Atoi(strings.TrimSpace(tiltLine))
	}

	// The zone-count line is advisory: a mismatch with the number of
	// lines actually present doesn't invalidate the file.
	if _, ok := readLine(); !ok {
		return knderr.New(knderr.IOError, "missing zone count line")
	}

	for {
		line, ok := readLine()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.loadZoneLine(line, ver); err != nil {
			s.log.Warning("skipping unparseable zone line", "error", err.Error())
		}
	}

	if s.tilt != nil && ver >= 2 {
		if err := s.tilt.SetTilt(tiltDeg); err != nil {
			s.log.Warning("restoring motor tilt failed", "error", err.Error())
		}
	}
	return sc.Err()
}

// loadZoneLine parses one CSV zone line per the dispatch rules for ver,
// and applies it to the catalog.
func (s *Store) loadZoneLine(line string, ver int) error {
	fields := strings.Split(line, ",")
	if len(fields) < 7 {
		return knderr.Newf(knderr.InputInvalid, "zone line has %d fields, want at least 7", len(fields))
	}

	name := fields[0]
	if len(name) > 127 {
		name = name[:127]
	}

	coords := make([]float64, 6)
	for i := 0; i < 6; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[1+i]), 64)
		if err != nil {
			return knderr.Newf(knderr.InputInvalid, "zone %q: bad coordinate %q: %v", name, fields[1+i], err)
		}
		coords[i] = v
	}

	// Versions 1-4 stored floating point meters; v5 stores integer mm
	// directly.
	scale := 1.0
	if ver <= 4 {
		scale = 1000.0
	}
	// Files written before the viewing angle change (v1-2) need their
	// x/y rescaled into the current coordinate system.
	xyFactor := 1.0
	if ver < 3 {
		xyFactor = legacyAngleFactor
	}

	xmin := int32(coords[0] * scale * xyFactor)
	ymin := int32(coords[1] * scale * xyFactor)
	zmin := int32(coords[2] * scale)
	xmax := int32(coords[3] * scale * xyFactor)
	ymax := int32(coords[4] * scale * xyFactor)
	zmax := int32(coords[5] * scale)

	z, err := s.cat.Add(name, xmin, ymin, zmin, xmax, ymax, zmax)
	if err != nil {
		return err
	}

	// v4+ carries the extended attribute tail: param, on_level,
	// off_level, on_delay, off_delay.
	if ver >= 4 && len(fields) >= 12 {
		attrs := [][2]string{
			{"param", strings.TrimSpace(fields[7])},
			{"on_level", strings.TrimSpace(fields[8])},
			{"off_level", strings.TrimSpace(fields[9])},
			{"on_delay", strings.TrimSpace(fields[10])},
			{"off_delay", strings.TrimSpace(fields[11])},
		}
		for _, kv := range attrs {
			if err := s.cat.SetAttr(z.Name, kv[0], kv[1]); err != nil {
				s.log.Warning("zone attribute from save file rejected", "zone", name, "attr", kv[0], "error", err.Error())
			}
		}
	}
	return nil
}

// Save writes the catalog to a temp file beside the target and
// atomically renames it into place, per the specification's
// fflush/fsync/close/rename sequence. A failure at any step leaves the
// existing destination file untouched.
func (s *Store) Save() error {
	tmpPath := filepath.Join(s.dir, tmpName)
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return knderr.Newf(knderr.IOError, "creating temp save file: %v", err)
	}

	w := bufio.NewWriter(f)
	tilt := 0
	if s.tilt != nil {
		tilt = s.tilt.Tilt()
	}

	var zones []*zone.Zone
	s.cat.Iterate(func(z *zone.Zone) { zones = append(zones, z) })

	fmt.Fprintf(w, "%d\n", fileVersion)
	fmt.Fprintf(w, "%d\n", tilt)
	fmt.Fprintf(w, "%d\n", len(zones))
	for _, z := range zones {
		fmt.Fprintf(w, "%s,%d,%d,%d,%d,%d,%d,%s,%d,%d,%d,%d\n",
			z.Name, z.XMin, z.YMin, z.ZMin, z.XMax, z.YMax, z.ZMax,
			z.Param, z.OnLevel, z.OffLevel, z.OnDelay, z.OffDelay)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return knderr.Newf(knderr.IOError, "flushing temp save file: %v", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return knderr.Newf(knderr.IOError, "fsyncing temp save file: %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return knderr.Newf(knderr.IOError, "closing temp save file: %v", err)
	}
	if err := os.Rename(tmpPath, s.path()); err != nil {
		os.Remove(tmpPath)
		return knderr.Newf(knderr.IOError, "renaming save file into place: %v", err)
	}
	return nil
}

// jitteredInterval returns s.interval plus a random 0-100ms jitter, per
// the specification's 500-600ms wake window (scaled to whatever base
// interval the caller configured).
func (s *Store) jitteredInterval() time.Duration {
	return s.interval + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
}

// Run launches the background save worker. It returns immediately; call
// Stop to shut it down.
func (s *Store) Run() {
	s.wg.Add(1)
	go s.loop()
}

// Stop signals the save worker to exit and waits for it.
func (s *Store) Stop() {
	close(s.stop)
	s.wg.Wait()
}

func (s *Store) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case <-time.After(s.jitteredInterval()):
		}
		s.checkSave()
	}
}

// checkSave saves only if the catalog's version has changed since the
// last successful save.
func (s *Store) checkSave() {
	ver := s.cat.Version()

	s.mu.Lock()
	unchanged := s.haveSaved && ver == s.lastSavedVer
	s.mu.Unlock()
	if unchanged {
		return
	}

	if err := s.Save(); err != nil {
		s.log.Error("periodic save failed; will retry next interval", "error", err.Error())
		return
	}

	s.mu.Lock()
	s.lastSavedVer = ver
	s.haveSaved = true
	s.mu.Unlock()
}

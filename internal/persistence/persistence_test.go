package persistence

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ausocean/utils/logging"

	"github.com/nitrogenlogic/knd/internal/zone"
)

func testLogger() logging.Logger {
	return logging.New(logging.Debug, &bytes.Buffer{}, true)
}

type fakeTilt struct{ deg int }

func (f *fakeTilt) SetTilt(d int) error { f.deg = d; return nil }
func (f *fakeTilt) Tilt() int           { return f.deg }

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cat := zone.New()
	cat.Add("Front Door", -1000, -2000, 500, 1000, 2000, 3000)
	cat.SetAttr("Front Door", "param", "pop")
	cat.SetAttr("Front Door", "on_level", "20")
	cat.SetAttr("Front Door", "off_level", "5")

	tilt := &fakeTilt{deg: 7}
	store, err := New(testLogger(), dir, cat, tilt, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, tmpName)); !os.IsNotExist(err) {
		t.Fatalf("temp file should have been renamed away, stat err = %v", err)
	}

	cat2 := zone.New()
	tilt2 := &fakeTilt{}
	store2, err := New(testLogger(), dir, cat2, tilt2, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store2.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	z, ok := cat2.FindByName("Front Door")
	if !ok {
		t.Fatal("zone not restored")
	}
	if z.XMin != -1000 || z.ZMax != 3000 {
		t.Fatalf("zone box mismatch: %+v", z)
	}
	if z.OnLevel != 20 || z.OffLevel != 5 {
		t.Fatalf("zone thresholds mismatch: on=%d off=%d", z.OnLevel, z.OffLevel)
	}
	if tilt2.deg != 7 {
		t.Fatalf("tilt = %d, want 7", tilt2.deg)
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	dir := t.TempDir()
	cat := zone.New()
	store, err := New(testLogger(), dir, cat, nil, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("Load on missing file: %v", err)
	}
	if cat.Count() != 0 {
		t.Fatalf("catalog should remain empty, got %d zones", cat.Count())
	}
}

func TestNewRejectsNonDirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cat := zone.New()
	if _, err := New(testLogger(), file, cat, nil, 500*time.Millisecond); err == nil {
		t.Fatal("expected error for non-directory save path")
	}
}

func TestLoadSkipsUnparseableZoneLine(t *testing.T) {
	dir := t.TempDir()
	content := "5\n0\n2\nGood,1,2,3,4,5,6,pop,1,0,0,0\nbad-line-missing-fields\n"
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cat := zone.New()
	store, err := New(testLogger(), dir, cat, nil, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cat.Count() != 1 {
		t.Fatalf("zone count = %d, want 1 (bad line skipped)", cat.Count())
	}
}

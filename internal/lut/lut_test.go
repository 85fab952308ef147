package lut

import "testing"

func TestDepthMonotonic(t *testing.T) {
	prev := Depth(0)
	for i := 1; i <= MaxIndex; i++ {
		v := Depth(i)
		if v < prev {
			t.Fatalf("depth LUT not monotonic at index %d: %d < %d", i, v, prev)
		}
		prev = v
	}
}

func TestReverseDepthRoundTrip(t *testing.T) {
	for i := 0; i <= MaxIndex; i++ {
		mm := Depth(i)
		got := ReverseDepth(mm)
		if Depth(got) > mm || (got < MaxIndex && Depth(got+1) <= mm) {
			t.Fatalf("ReverseDepth(%d) = %d is not the largest index with Depth <= mm (want around %d)", mm, got, i)
		}
	}
}

func TestReverseDepthClamps(t *testing.T) {
	if got := ReverseDepth(-1000); got != 0 {
		t.Errorf("ReverseDepth(below range) = %d, want 0", got)
	}
	if got := ReverseDepth(1 << 20); got != MaxIndex {
		t.Errorf("ReverseDepth(above range) = %d, want %d", got, MaxIndex)
	}
}

func TestSurfaceNonNegative(t *testing.T) {
	for i := 0; i < Size; i++ {
		if Surface(i) < 0 {
			t.Fatalf("surface LUT negative at index %d", i)
		}
	}
}

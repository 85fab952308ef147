package zone

import "testing"

func TestAddAndFind(t *testing.T) {
	c := New()
	z, err := c.Add("Living", 1, 1, 1, 2, 2, 2)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if z.XMin != 1 || z.ZMax != 2 {
		t.Fatalf("zone world box not set: %+v", z)
	}
	if z.MaxPop < 1 {
		t.Fatalf("MaxPop = %d, want >= 1", z.MaxPop)
	}

	got, ok := c.FindByName("living")
	if !ok || got != z {
		t.Fatalf("FindByName case-insensitive lookup failed")
	}
}

func TestAddDuplicateCaseInsensitive(t *testing.T) {
	c := New()
	if _, err := c.Add("A", 1, 1, 1, 2, 2, 2); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	_, err := c.Add("a", 3, 3, 3, 4, 4, 4)
	if err == nil {
		t.Fatalf("expected duplicate-name error")
	}
}

func TestParamSwitchLoadsMonotonicDefaults(t *testing.T) {
	c := New()
	c.Add("Z", 1, 1, 1, 2, 2, 2)

	if err := c.SetAttr("Z", "param", "bright"); err != nil {
		t.Fatalf("SetAttr param: %v", err)
	}
	if err := c.SetAttr("Z", "on_level", "400"); err != nil {
		t.Fatalf("SetAttr on_level: %v", err)
	}
	if err := c.SetAttr("Z", "off_level", "500"); err != nil {
		t.Fatalf("SetAttr off_level: %v", err)
	}

	z, _ := c.FindByName("Z")
	if z.OnLevel != z.OffLevel {
		t.Fatalf("on_level (%d) != off_level (%d) after raising off above on", z.OnLevel, z.OffLevel)
	}
	min, max := ParamBright.Range()
	if z.OnLevel < min || z.OnLevel > max {
		t.Fatalf("on_level %d out of bright range [%d,%d]", z.OnLevel, min, max)
	}
}

func TestVersionIncreasesOnMutation(t *testing.T) {
	c := New()
	v0 := c.Version()
	c.Add("A", 1, 1, 1, 2, 2, 2)
	v1 := c.Version()
	if v1 == v0 {
		t.Fatalf("version did not change after Add")
	}
	c.SetAttr("A", "on_delay", "3")
	v2 := c.Version()
	if v2 == v1 {
		t.Fatalf("version did not change after SetAttr")
	}
}

func TestVersionWrapsPastSentinel(t *testing.T) {
	c := New()
	c.mu.Lock()
	c.version = VersionSentinel - 1
	c.mu.Unlock()

	c.Add("A", 1, 1, 1, 2, 2, 2)
	if c.Version() == VersionSentinel {
		t.Fatalf("version landed on reserved sentinel")
	}
	c.SetAttr("A", "on_delay", "1")
	if c.Version() == VersionSentinel {
		t.Fatalf("version must skip the sentinel on wrap, got sentinel")
	}
}

func TestRoundTripSaveAttributesViaSetzoneAndZones(t *testing.T) {
	c := New()
	c.Add("A", 1, 1, 1, 2, 2, 2)
	before := c.Version()
	if err := c.SetAttr("A", "param", "bright"); err != nil {
		t.Fatal(err)
	}

	z, _ := c.FindByName("A")
	if z.Param != ParamBright {
		t.Fatalf("param not applied")
	}
	after := c.Version()
	if after == before {
		t.Fatalf("expected version bump from SetAttr")
	}
}

func TestScreenWorldRoundTripBounded(t *testing.T) {
	c := New()
	cases := [][6]int32{
		{-100, -100, 500, 100, 100, 1500},
		{0, 0, 200, 50, 50, 300},
		{-1000, 200, 3000, -200, 900, 4000},
	}
	for _, box := range cases {
		z, err := c.Add("t", box[0], box[1], box[2], box[3], box[4], box[5])
		if err != nil {
			t.Fatalf("Add(%v): %v", box, err)
		}
		origPx := [6]int32{z.PxXMin, z.PxYMin, z.PxZMin, z.PxXMax, z.PxYMax, z.PxZMax}
		z.recomputeWorldFromScreen()
		z.recomputeScreenFromWorld()
		newPx := [6]int32{z.PxXMin, z.PxYMin, z.PxZMin, z.PxXMax, z.PxYMax, z.PxZMax}
		for i := range origPx {
			d := origPx[i] - newPx[i]
			if d < -2 || d > 2 {
				t.Errorf("box %v: pixel endpoint %d drifted from %d to %d across round trip", box, i, origPx[i], newPx[i])
			}
		}
		c.Remove("t")
	}
}

func TestReadOnlyAttrRejected(t *testing.T) {
	c := New()
	c.Add("A", 1, 1, 1, 2, 2, 2)
	if err := c.SetAttr("A", "pop", "5"); err == nil {
		t.Fatalf("expected error setting read-only attribute")
	}
}

func TestInvariantsHoldAfterMutationSequence(t *testing.T) {
	c := New()
	z, _ := c.Add("A", 1, 1, 1, 2, 2, 2)
	ops := []struct{ key, val string }{
		{"xmin", "500"}, {"xmax", "500"}, {"px_xmin", "639"}, {"px_xmax", "0"},
		{"zmin", "-50"}, {"px_zmin", "1092"}, {"px_zmax", "1092"},
	}
	for _, op := range ops {
		c.SetAttr("A", op.key, op.val)
		if z.XMin >= z.XMax || z.YMin >= z.YMax || z.ZMin <= 0 || z.ZMin >= z.ZMax {
			t.Fatalf("world invariant broken after setting %s=%s: %+v", op.key, op.val, z)
		}
		if z.PxXMin >= z.PxXMax || z.PxYMin >= z.PxYMax || z.PxZMin > z.PxZMax {
			t.Fatalf("screen invariant broken after setting %s=%s: %+v", op.key, op.val, z)
		}
		if z.MaxPop < 1 {
			t.Fatalf("maxpop invariant broken after setting %s=%s: %+v", op.key, op.val, z)
		}
		if z.OnLevel < z.OffLevel {
			t.Fatalf("on/off monotonicity broken after setting %s=%s: %+v", op.key, op.val, z)
		}
	}
}

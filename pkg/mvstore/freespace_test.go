package mvstore

import "testing"

func TestFreeSpaceMapHeaderBlocksReserved(t *testing.T) {
	f := newFreeSpaceMap()
	if !f.get(0) || !f.get(1) {
		t.Fatal("blocks 0 and 1 must be reserved for the dual header copies")
	}
}

func TestFreeSpaceMapAllocateAppends(t *testing.T) {
	f := newFreeSpaceMap()
	b1 := f.allocate(4, 0, 0)
	if b1 != 2 {
		t.Fatalf("first allocation past the header should start at block 2, got %d", b1)
	}
	b2 := f.allocate(4, 0, 0)
	if b2 != 6 {
		t.Fatalf("second allocation should continue past the first, got %d", b2)
	}
}

func TestFreeSpaceMapReusesFreedHole(t *testing.T) {
	f := newFreeSpaceMap()
	a := f.allocate(4, 0, 0)
	b := f.allocate(4, 0, 0)
	f.free(a, 4)
	c := f.allocate(4, 0, 0)
	if c != a {
		t.Errorf("allocate should reuse the freed hole at %d, got %d", a, c)
	}
	_ = b
}

func TestFreeSpaceMapAvoidsReservedWindow(t *testing.T) {
	f := newFreeSpaceMap()
	a := f.allocate(4, 0, 0)
	f.free(a, 4)
	// Ask for an allocation that excludes the hole we just freed.
	got := f.allocate(4, a, a+4)
	if got == a {
		t.Errorf("allocate must not return a block inside the reserved window [%d,%d)", a, a+4)
	}
}

func TestFreeSpaceMapFillRate(t *testing.T) {
	f := newFreeSpaceMap()
	f.allocate(8, 0, 0)
	rate := f.getFillRate()
	if rate != 100 {
		t.Errorf("fully packed region should report 100%% fill, got %d", rate)
	}
	f.free(2, 4)
	rate = f.getFillRate()
	if rate == 100 {
		t.Error("freeing blocks below the high-water mark should drop the fill rate")
	}
}

func TestFreeSpaceMapIsFragmented(t *testing.T) {
	f := newFreeSpaceMap()
	f.allocate(8, 0, 0)
	if f.isFragmented() {
		t.Error("a packed prefix should not be reported as fragmented")
	}
	f.free(3, 2)
	if !f.isFragmented() {
		t.Error("a hole below the high-water mark should be reported as fragmented")
	}
}

func TestFreeSpaceMapGetMovePriority(t *testing.T) {
	f := newFreeSpaceMap()
	f.allocate(10, 0, 0)
	f.free(3, 2) // hole at [3,5)
	farBlock := uint64(9)
	nearBlock := uint64(3)
	if f.getMovePriority(farBlock) <= f.getMovePriority(nearBlock) {
		t.Error("a chunk further past the free frontier should rank with higher move priority")
	}
}

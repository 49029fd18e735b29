package bitmap

import (
	"testing"

	"corekernel/errs"
)

func TestAllocateReturnsLowestFreeSlot(t *testing.T) {
	b := New(10)
	for i := 0; i < 10; i++ {
		idx, err := b.Allocate()
		if !err.Ok() {
			t.Fatalf("Allocate() #%d: %v", i, err)
		}
		if idx != i {
			t.Fatalf("Allocate() #%d = %d, want %d", i, idx, i)
		}
	}
	if _, err := b.Allocate(); err != errs.NoDisk {
		t.Fatalf("Allocate() on a full bitmap: want NoDisk, got %v", err)
	}
}

func TestFreeThenAllocateReusesSlot(t *testing.T) {
	b := New(4)
	b.Reserve(0)
	b.Reserve(1)
	b.Reserve(2)
	b.Reserve(3)
	if b.FreeCount() != 0 {
		t.Fatalf("FreeCount() = %d, want 0", b.FreeCount())
	}
	b.Free(1)
	if b.FreeCount() != 1 {
		t.Fatalf("FreeCount() = %d, want 1", b.FreeCount())
	}
	idx, err := b.Allocate()
	if !err.Ok() || idx != 1 {
		t.Fatalf("Allocate() after Free(1) = (%d, %v), want (1, OK)", idx, err)
	}
}

func TestReserveIsIdempotent(t *testing.T) {
	b := New(4)
	b.Reserve(2)
	b.Reserve(2)
	if b.FreeCount() != 3 {
		t.Fatalf("FreeCount() = %d, want 3 after reserving the same slot twice", b.FreeCount())
	}
}

func TestDoubleFreePanics(t *testing.T) {
	b := New(4)
	defer func() {
		if recover() == nil {
			t.Fatal("Free of an already-free slot did not panic")
		}
	}()
	b.Free(0)
}

func TestAllocateSkipsFullWords(t *testing.T) {
	b := New(130)
	for i := 0; i < 128; i++ {
		b.Reserve(i)
	}
	idx, err := b.Allocate()
	if !err.Ok() {
		t.Fatalf("Allocate(): %v", err)
	}
	if idx != 128 {
		t.Fatalf("Allocate() = %d, want 128 (first free slot past two full words)", idx)
	}
}

func TestDynamicBitmapGrowAddsFreeSlots(t *testing.T) {
	d := NewDynamic(8)
	for i := 0; i < 8; i++ {
		d.Reserve(i)
	}
	if d.FreeCount() != 0 {
		t.Fatalf("FreeCount() = %d, want 0", d.FreeCount())
	}
	first := d.Grow(4)
	if first != 8 {
		t.Fatalf("Grow() returned first index %d, want 8", first)
	}
	if d.Len() != 12 {
		t.Fatalf("Len() = %d, want 12", d.Len())
	}
	if d.FreeCount() != 4 {
		t.Fatalf("FreeCount() = %d, want 4", d.FreeCount())
	}
	idx, err := d.Allocate()
	if !err.Ok() || idx != 8 {
		t.Fatalf("Allocate() after Grow = (%d, %v), want (8, OK)", idx, err)
	}
}

func TestDynamicBitmapGrowPastWordBoundary(t *testing.T) {
	d := NewDynamic(60)
	first := d.Grow(10)
	if first != 60 {
		t.Fatalf("Grow() returned %d, want 60", first)
	}
	if d.Len() != 70 {
		t.Fatalf("Len() = %d, want 70", d.Len())
	}
	for i := 0; i < 70; i++ {
		d.Reserve(i)
	}
	if _, err := d.Allocate(); err != errs.NoDisk {
		t.Fatalf("Allocate() on a full grown bitmap: want NoDisk, got %v", err)
	}
	d.Free(65)
	idx, err := d.Allocate()
	if !err.Ok() || idx != 65 {
		t.Fatalf("Allocate() after freeing 65 = (%d, %v), want (65, OK)", idx, err)
	}
}

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import (
	"math"
	"testing"
	"unsafe"

	"modernc.org/mathutil"
)

func newTestSlab(t *testing.T) *SlabAllocator {
	t.Helper()
	return NewSlabAllocator(alignedBuffer(MinBufferSize), false)
}

// TestSlabScenarioS3 matches spec §8 S3: the first two 32-byte allocations
// share a slab page, 32 bytes apart, and that page is carved from the
// PERSISTENT end of the buffer (page 31 of a 32-page buffer), since a
// fresh slab page is always acquired with a Persistent linear allocation.
func TestSlabScenarioS3(t *testing.T) {
	s := newTestSlab(t)

	a := s.Malloc(32)
	b := s.Malloc(32)
	if len(a) == 0 || len(b) == 0 {
		t.Fatal("malloc failed")
	}
	pageA := s.ptrToPage(unsafePointerOf(a))
	pageB := s.ptrToPage(unsafePointerOf(b))
	if pageA != pageB {
		t.Fatalf("expected same slab page, got %d and %d", pageA, pageB)
	}
	if pageA != 31 {
		t.Fatalf("slab page %d, want 31 (the Persistent end)", pageA)
	}
	if diff := int(uintptr(unsafePointerOf(b)) - uintptr(unsafePointerOf(a))); diff != 32 {
		t.Fatalf("b - a = %d, want 32", diff)
	}

	count := 0
	s.classes[0].forEach(s.buf, func(ref uint64) bool { count++; return true })
	if count != 1 {
		t.Fatalf("class-0 list has %d entries, want 1", count)
	}
}

// TestSlabScenarioS4 matches spec §8 S4: a request larger than the biggest
// size class bypasses the slab layer entirely, landing a page-aligned
// pointer at the Transient end.
func TestSlabScenarioS4(t *testing.T) {
	s := newTestSlab(t)
	b := s.Malloc(2048)
	if b == nil {
		t.Fatal("malloc failed")
	}
	ptr := unsafePointerOf(b)
	if uintptr(ptr)%PageSize != 0 {
		t.Fatal("oversized allocation must be page-aligned")
	}
	if page := s.ptrToPage(ptr); page != 1 {
		t.Fatalf("page %d, want 1 (the Transient end)", page)
	}
}

// TestSlabScenarioS5 matches spec §8 S5 and property 7 (bitmap/list
// coherence): filling a slab page's cells unlinks it from its class list;
// freeing one cell re-appends it at the tail and the freed cell is served
// again.
func TestSlabScenarioS5(t *testing.T) {
	s := newTestSlab(t)

	count := (PageSize - slabPageHeaderSize) / 32
	var cells [][]byte
	for i := 0; i < count; i++ {
		b := s.Malloc(32)
		if b == nil {
			t.Fatalf("malloc %d failed", i)
		}
		cells = append(cells, b)
	}

	listLen := 0
	s.classes[0].forEach(s.buf, func(ref uint64) bool { listLen++; return true })
	if listLen != 0 {
		t.Fatalf("class-0 list has %d entries, want 0 once full", listLen)
	}

	freed := cells[3]
	s.Free(freed)

	listLen = 0
	var tailRef uint64
	s.classes[0].forEach(s.buf, func(ref uint64) bool { listLen++; tailRef = ref; return true })
	if listLen != 1 {
		t.Fatalf("class-0 list has %d entries, want 1 once a cell frees", listLen)
	}
	pageRef := pageOffset(s.ptrToPage(unsafePointerOf(freed)))
	if tailRef != pageRef {
		t.Fatal("the page that just freed a cell should be back on the class list")
	}

	again := s.Malloc(32)
	if unsafePointerOf(again) != unsafePointerOf(freed) {
		t.Fatal("the freed cell should be the one served next")
	}
}

func TestSlabCellBoundaries(t *testing.T) {
	s := newTestSlab(t)
	for _, class := range slabSizes {
		b := s.Malloc(uint64(class))
		ptr := unsafePointerOf(b)
		pageRef := pageOffset(s.ptrToPage(ptr))
		off := uintptr(ptr) - uintptr(unsafePointerOf(s.buf[pageRef:]))
		if (off-slabPageHeaderSize)%uintptr(class) != 0 {
			t.Fatalf("class %d: cell not on a boundary, offset %d", class, off)
		}
	}
}

func TestSlabRandomTrace(t *testing.T) {
	s := newTestSlab(t)
	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	if err != nil {
		t.Fatal(err)
	}
	rng.Seed(7)

	var live [][]byte
	for i := 0; i < 500; i++ {
		switch {
		case len(live) > 0 && rng.Next()%3 == 0:
			j := rng.Next() % len(live)
			s.Free(live[j])
			live = append(live[:j], live[j+1:]...)
		default:
			size := uint64(rng.Next()%96 + 1)
			b := s.Malloc(size)
			if b != nil {
				live = append(live, b)
			}
		}
	}
	for _, b := range live {
		s.Free(b)
	}
}

func unsafePointerOf(b []byte) unsafe.Pointer { return unsafe.Pointer(&b[0]) }

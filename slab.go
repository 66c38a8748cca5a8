// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import (
	"math/bits"
	"unsafe"
)

// slabPageHeader occupies the first slabPageHeaderSize (64) bytes of every
// slab page. bitmap[i] bit j set means cell 64*i+j is in use; cells start
// immediately after the header and are count*size bytes long. Mirrors
// page_meta_t in original_source/slab-malloc.c.
type slabPageHeader struct {
	link      link
	bitmap    [2]uint64
	size      uint64
	count     uint64
	slabIndex uint64
	_pad      uint64
}

func slabPageHeaderAt(buf []byte, ref uint64) *slabPageHeader {
	return (*slabPageHeader)(unsafe.Pointer(&buf[ref]))
}

func (h *slabPageHeader) cellPtr(buf []byte, pageRef uint64, index uint64) unsafe.Pointer {
	return unsafe.Pointer(&buf[pageRef+slabPageHeaderSize+index*h.size])
}

func (h *slabPageHeader) indexOf(buf []byte, pageRef uint64, ptr unsafe.Pointer) uint64 {
	base := uintptr(unsafe.Pointer(&buf[pageRef+slabPageHeaderSize]))
	return (uint64(uintptr(ptr)) - uint64(base)) / h.size
}

func (h *slabPageHeader) allCleared() bool {
	return h.bitmap[0] == 0 && h.bitmap[1] == 0
}

func (h *slabPageHeader) allUsed() bool {
	return uint64(bits.OnesCount64(h.bitmap[0])+bits.OnesCount64(h.bitmap[1])) == h.count
}

// nextFree returns the index of the lowest clear bit within [0, count), or
// slabInvalidIndex if every cell in range is taken.
func (h *slabPageHeader) nextFree() uint64 {
	var zeros uint64
	switch {
	case h.bitmap[0] != ^uint64(0):
		zeros = uint64(bits.TrailingZeros64(^h.bitmap[0]))
	case h.bitmap[1] != ^uint64(0):
		zeros = 64 + uint64(bits.TrailingZeros64(^h.bitmap[1]))
	default:
		return slabInvalidIndex
	}
	if zeros >= h.count {
		return slabInvalidIndex
	}
	return zeros
}

func (h *slabPageHeader) set(index uint64) {
	h.bitmap[index/64] |= uint64(1) << (index % 64)
}

func (h *slabPageHeader) clear(index uint64) {
	h.bitmap[index/64] &^= uint64(1) << (index % 64)
}

const slabInvalidIndex = ^uint64(0)

// slabClassFor returns the index into slabSizes serving size, by linear
// scan (the same approach original_source/slab-malloc.c uses, noting that
// a binary search would only be worth it with more than a handful of
// classes), or -1 if size exceeds every class and should bypass the slab
// layer entirely.
func slabClassFor(size uint64) int {
	for i, s := range slabSizes {
		if size <= uint64(s) {
			return i
		}
	}
	return -1
}

// SlabAllocator layers size-classed sub-page allocation on top of a
// LinearAllocator. Requests larger than the biggest size class (1024
// bytes) bypass the slab layer and go straight to the linear allocator;
// everything else is served from a bitmap-tracked cell inside a slab page.
//
// The zero value is not ready for use — call NewSlabAllocator or Reinit a
// freshly constructed value before any other method.
type SlabAllocator struct {
	LinearAllocator
	classes [len(slabSizes)]list
}

// NewSlabAllocator constructs a SlabAllocator and immediately reinits it
// over buffer.
func NewSlabAllocator(buffer []byte, zeroFilled bool, opts ...Option) *SlabAllocator {
	s := &SlabAllocator{}
	s.abort, s.trace, s.guards = abortPanic{}, traceDiscard{}, guardsDefault
	for _, opt := range opts {
		opt(&s.LinearAllocator)
	}
	s.Reinit(buffer, zeroFilled)
	return s
}

// Reinit delegates to LinearAllocator.Reinit, then resets the five
// per-class slab lists to empty.
func (s *SlabAllocator) Reinit(buffer []byte, zeroFilled bool) {
	s.LinearAllocator.Reinit(buffer, zeroFilled)
	for i := range s.classes {
		s.classes[i].init()
	}
}

// checkSlabPointer verifies ptr names a valid cell of the slab page at
// pageRef when guard mode is on. Like checkPointerAligned, it reports
// whether the caller may continue: the abort sink is not guaranteed to
// panic, and touching a bit derived from a tampered pointer would corrupt
// the bitmap.
func (s *SlabAllocator) checkSlabPointer(h *slabPageHeader, pageRef uint64, ptr unsafe.Pointer) bool {
	if !s.guards {
		return true
	}
	base := uintptr(unsafe.Pointer(&s.buf[pageRef+slabPageHeaderSize]))
	off := uintptr(ptr) - base
	if off%uintptr(h.size) != 0 {
		s.abortf("fixedmalloc: pointer does not lie on a slab cell boundary")
		return false
	}
	if uint64(off)/h.size >= h.count {
		s.abortf("fixedmalloc: pointer exceeds slab cell count")
		return false
	}
	return true
}

// lmMalloc wraps LinearAllocator.UnsafeMalloc with one extra fallback: if
// the first attempt fails, every slab page whose bitmap has gone entirely
// clear is returned to the linear allocator, then the allocation is
// retried once. This is the slab layer's private retry, invisible to
// callers of SlabAllocator.Malloc; it never runs for the linear
// allocator's own failure cascade. Mirrors lm_malloc in
// original_source/slab-malloc.c.
func (s *SlabAllocator) lmMalloc(size uint64, direction Direction) unsafe.Pointer {
	p := s.LinearAllocator.UnsafeMalloc(size, direction)
	if p == nil {
		s.freeEmptySlabs()
		p = s.LinearAllocator.UnsafeMalloc(size, direction)
	}
	return p
}

func (s *SlabAllocator) freeEmptySlabs() {
	for i := range s.classes {
		s.classes[i].forEachSafe(s.buf, func(ref uint64) {
			h := slabPageHeaderAt(s.buf, ref)
			if h.allCleared() {
				s.classes[i].unlink(s.buf, ref)
				s.trace.Trace("fixedmalloc: reclaiming empty slab page class=%d ptr=%#x", i, ref)
				s.UnsafeFree(unsafe.Pointer(&s.buf[ref]))
			}
		})
	}
}

// UnsafeMalloc returns a cell of the smallest size class that fits size, or
// if size exceeds the largest class, delegates straight to the linear
// allocator with Transient direction. Returns nil on exhaustion.
func (s *SlabAllocator) UnsafeMalloc(size uint64) unsafe.Pointer {
	i := slabClassFor(size)
	if i < 0 {
		return s.lmMalloc(size, Transient)
	}

	var result unsafe.Pointer
	s.classes[i].forEach(s.buf, func(ref uint64) bool {
		h := slabPageHeaderAt(s.buf, ref)
		index := h.nextFree()
		if index == slabInvalidIndex {
			return true
		}
		h.set(index)
		if h.allUsed() {
			s.classes[i].unlink(s.buf, ref)
			s.trace.Trace("fixedmalloc: slab page fully used class=%d ptr=%#x", i, ref)
		}
		result = h.cellPtr(s.buf, ref, index)
		return false
	})
	if result != nil {
		return result
	}

	page := s.lmMalloc(PageSize, Persistent)
	if page == nil {
		return nil
	}
	pageRef := pageOffset(s.ptrToPage(page))
	h := slabPageHeaderAt(s.buf, pageRef)
	h.bitmap[0], h.bitmap[1] = 0, 0
	h.size = uint64(slabSizes[i])
	h.slabIndex = uint64(i)
	h.count = (PageSize - slabPageHeaderSize) / h.size
	s.classes[i].linkFront(s.buf, pageRef)
	s.trace.Trace("fixedmalloc: new slab page class=%d ptr=%#x", i, pageRef)

	h.set(0)
	return h.cellPtr(s.buf, pageRef, 0)
}

// UnsafeFree routes ptr by alignment, exactly as spec §4.2 describes: a
// page-aligned pointer is a linear allocation and is forwarded to
// LinearAllocator.Free; anything else is a slab cell, whose containing
// page is found by rounding ptr down to the page boundary.
func (s *SlabAllocator) UnsafeFree(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if uintptr(ptr)&pageMask == 0 {
		s.LinearAllocator.UnsafeFree(ptr)
		return
	}

	pageRef := pageOffset(s.ptrToPage(ptr))
	h := slabPageHeaderAt(s.buf, pageRef)
	if !s.checkSlabPointer(h, pageRef, ptr) {
		return
	}

	index := h.indexOf(s.buf, pageRef, ptr)
	wasFull := h.allUsed()
	h.clear(index)
	if wasFull {
		s.classes[h.slabIndex].linkTail(s.buf, pageRef)
		s.trace.Trace("fixedmalloc: retrieving previously-full slab page class=%d ptr=%#x", h.slabIndex, pageRef)
	}
}

// UnsafeRealloc routes ptr exactly like UnsafeFree. A page-aligned pointer
// delegates to LinearAllocator.Realloc (always Transient — slab-layer
// callers never pass a direction). Otherwise, if the new size still fits
// the current class, ptr is returned unchanged; else a new cell is
// allocated, the old class-size bytes are copied over, and the old cell is
// freed.
func (s *SlabAllocator) UnsafeRealloc(ptr unsafe.Pointer, size uint64) unsafe.Pointer {
	if ptr == nil {
		return s.UnsafeMalloc(size)
	}
	if uintptr(ptr)&pageMask == 0 {
		return s.LinearAllocator.UnsafeRealloc(ptr, size, Transient)
	}

	pageRef := pageOffset(s.ptrToPage(ptr))
	h := slabPageHeaderAt(s.buf, pageRef)
	if !s.checkSlabPointer(h, pageRef, ptr) {
		return nil
	}
	if size <= h.size {
		return ptr
	}

	p := s.UnsafeMalloc(size)
	if p != nil {
		copy(unsafe.Slice((*byte)(p), h.size), unsafe.Slice((*byte)(ptr), h.size))
		s.UnsafeFree(ptr)
	}
	return p
}

// Malloc is like UnsafeMalloc but returns a Go byte slice, for callers that
// don't need to cross an unsafe boundary.
func (s *SlabAllocator) Malloc(size uint64) []byte {
	p := s.UnsafeMalloc(size)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), size)
}

// Free is like UnsafeFree but takes a slice previously returned by Malloc.
func (s *SlabAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	s.UnsafeFree(unsafe.Pointer(&b[0]))
}

// Realloc is like UnsafeRealloc but takes and returns Go byte slices.
func (s *SlabAllocator) Realloc(b []byte, size uint64) []byte {
	var ptr unsafe.Pointer
	if len(b) != 0 {
		ptr = unsafe.Pointer(&b[0])
	}
	p := s.UnsafeRealloc(ptr, size)
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), size)
}

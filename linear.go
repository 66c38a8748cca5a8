// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import (
	"fmt"
	"unsafe"
)

// LinearAllocator serves page-granular allocations out of a single
// caller-supplied buffer. It never talks to the host OS; Reinit must be
// called with a buffer the caller owns for the allocator's entire lifetime.
//
// The zero value is not ready for use — call NewLinearAllocator or Reinit
// a freshly constructed value before any other method.
type LinearAllocator struct {
	buf          []byte
	meta         metadata
	freeList     list
	deferredList list

	abort  AbortSink
	trace  TraceSink
	guards bool
}

// NewLinearAllocator constructs a LinearAllocator and immediately reinits
// it over buffer. Options configure the host collaborators; see WithAbort,
// WithTrace and WithGuards.
func NewLinearAllocator(buffer []byte, zeroFilled bool, opts ...Option) *LinearAllocator {
	a := &LinearAllocator{abort: abortPanic{}, trace: traceDiscard{}, guards: guardsDefault}
	for _, opt := range opts {
		opt(a)
	}
	a.Reinit(buffer, zeroFilled)
	return a
}

// Reinit installs buffer as the allocator's entire backing store, discarding
// any previous state. buffer's address must be page-aligned and its length
// must be a page-aligned value in [MinBufferSize, MaxBufferSize]; violating
// either is a programmer error and is reported to the AbortSink rather than
// returned as an error, per spec §7.
func (a *LinearAllocator) Reinit(buffer []byte, zeroFilled bool) {
	addr := uintptr(unsafe.Pointer(&buffer[0]))
	if addr&pageMask != 0 {
		a.abortf("fixedmalloc: buffer must be aligned at a %d-byte boundary", PageSize)
		return
	}
	size := uint64(len(buffer))
	if size&pageMask != 0 {
		a.abortf("fixedmalloc: buffer size must be a multiple of %d bytes", PageSize)
		return
	}
	if size < MinBufferSize || size > MaxBufferSize {
		a.abortf("fixedmalloc: buffer size must be between %d and %d bytes", MinBufferSize, MaxBufferSize)
		return
	}

	a.buf = buffer
	a.meta = metadata{buf: buffer}
	if !zeroFilled {
		a.meta.reset()
	}

	a.freeList.init()
	a.deferredList.init()

	region := regionAt(a.buf, PageSize)
	region.startPage = 1
	region.pages = size/PageSize - 1
	a.freeList.linkAfter(a.buf, 0, PageSize)
}

func (a *LinearAllocator) abortf(format string, args ...any) {
	a.abort.Abort(fmt.Sprintf(format, args...))
}

func (a *LinearAllocator) ptrToPage(ptr unsafe.Pointer) uint64 {
	return (uint64(uintptr(ptr)) - uint64(uintptr(unsafe.Pointer(&a.buf[0])))) / PageSize
}

func (a *LinearAllocator) pageToPtr(page uint64) unsafe.Pointer {
	return unsafe.Pointer(&a.buf[page*PageSize])
}

// checkPointerAligned verifies ptr is page-aligned when guard mode is on,
// invoking the abort sink otherwise. It reports whether the caller may
// safely continue: an AbortSink is not guaranteed to panic (WithAbort
// allows any implementation), so callers must stop on a false result
// instead of falling through to code that would trust the tampered
// pointer and corrupt the allocator's internal lists.
func (a *LinearAllocator) checkPointerAligned(ptr unsafe.Pointer) bool {
	if !a.guards {
		return true
	}
	if uintptr(ptr)&pageMask != 0 {
		a.abortf("fixedmalloc: pointer passed to linear free/realloc is not page-aligned")
		return false
	}
	return true
}

func (a *LinearAllocator) allocPages(pages uint64, direction Direction) uint64 {
	if direction == Transient {
		return a.allocFreePagesForward(pages)
	}
	return a.allocFreePagesReverse(pages)
}

// UnsafeMalloc rounds size up to a whole number of pages and hands back the
// base address of a freshly carved run, chosen from the front (Transient) or
// back (Persistent) of the free list by first-fit. It returns nil when no
// region fits, even after draining the deferred-free list once. The
// returned memory is not zeroed.
func (a *LinearAllocator) UnsafeMalloc(size uint64, direction Direction) unsafe.Pointer {
	pages := roundUp(size, PageSize) / PageSize

	page := a.allocPages(pages, direction)
	if page == 0 {
		a.drainDeferred()
		page = a.allocPages(pages, direction)
	}
	if page == 0 {
		a.trace.Trace("fixedmalloc: linear malloc(%d, %s) out of memory", size, direction)
		return nil
	}
	a.meta.markRun(page, pages)
	return a.pageToPtr(page)
}

// UnsafeFree releases the run starting at ptr. The run is not returned to
// the free list immediately: it is recorded on the deferred-free list and
// only folded into the sorted free list the next time Malloc fails to find
// a fit (see drainDeferred). Metadata is not cleared, neither here nor by
// the drain.
func (a *LinearAllocator) UnsafeFree(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if !a.checkPointerAligned(ptr) {
		return
	}

	firstPage := a.ptrToPage(ptr)
	pages := a.meta.runLength(firstPage)

	ref := pageOffset(firstPage)
	region := regionAt(a.buf, ref)
	region.startPage = firstPage
	region.pages = pages
	a.deferredList.linkTail(a.buf, ref)
}

// UnsafeRealloc changes the run at ptr to hold size bytes, rounded up to a
// whole number of pages. If the run already has enough pages, ptr is
// returned unchanged. Otherwise it first tries to extend the run in place
// by claiming the free region that begins exactly where it ends; failing
// that, it falls back to allocating a fresh run, copying the old contents,
// and freeing the old run.
func (a *LinearAllocator) UnsafeRealloc(ptr unsafe.Pointer, size uint64, direction Direction) unsafe.Pointer {
	if ptr == nil {
		return a.UnsafeMalloc(size, direction)
	}
	if !a.checkPointerAligned(ptr) {
		return nil
	}

	newPages := roundUp(size, PageSize) / PageSize
	firstPage := a.ptrToPage(ptr)
	pages := a.meta.runLength(firstPage)
	if newPages <= pages {
		return ptr
	}

	if a.allocDesignatedFreePages(firstPage+pages, newPages-pages) != 0 {
		a.meta.markRun(firstPage, newPages)
		return ptr
	}

	p := a.UnsafeMalloc(size, direction)
	if p != nil {
		copy(unsafe.Slice((*byte)(p), pages*PageSize), unsafe.Slice((*byte)(ptr), pages*PageSize))
		a.UnsafeFree(ptr)
	}
	return p
}

// Malloc is like UnsafeMalloc but returns a Go byte slice over the carved
// run instead of an unsafe.Pointer, for callers that don't need to cross an
// unsafe boundary.
func (a *LinearAllocator) Malloc(size uint64, direction Direction) []byte {
	p := a.UnsafeMalloc(size, direction)
	if p == nil {
		return nil
	}
	pages := roundUp(size, PageSize) / PageSize
	return unsafe.Slice((*byte)(p), pages*PageSize)
}

// Free is like UnsafeFree but takes a slice previously returned by Malloc.
func (a *LinearAllocator) Free(b []byte) {
	if len(b) == 0 {
		return
	}
	a.UnsafeFree(unsafe.Pointer(&b[0]))
}

// Realloc is like UnsafeRealloc but takes and returns Go byte slices.
func (a *LinearAllocator) Realloc(b []byte, size uint64, direction Direction) []byte {
	var ptr unsafe.Pointer
	if len(b) != 0 {
		ptr = unsafe.Pointer(&b[0])
	}
	p := a.UnsafeRealloc(ptr, size, direction)
	if p == nil {
		return nil
	}
	pages := roundUp(size, PageSize) / PageSize
	return unsafe.Slice((*byte)(p), pages*PageSize)
}

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import "unsafe"

// freeRegion describes a run of contiguous free pages. It lives at byte
// offset startPage*PageSize in the buffer — inside the very first page of
// the region it describes — so handing out the front of a region forces
// the record to relocate before the caller can overwrite it (see
// materializeRegion). Deferred-free records use the identical layout; see
// spec.md §3, "Deferred-free record."
type freeRegion struct {
	link      link
	startPage uint64
	pages     uint64
}

func regionAt(buf []byte, ref uint64) *freeRegion {
	return (*freeRegion)(unsafe.Pointer(&buf[ref]))
}

func pageOffset(page uint64) uint64 {
	return page * PageSize
}

// materializeRegion ensures the region's record lives at the first byte of
// its own start page, relocating it (and fixing up its list neighbors) if
// the record's current address no longer matches startPage. This is the
// direct generalization of move_region in original_source/linear-malloc.c.
func (a *LinearAllocator) materializeRegion(l *list, ref uint64) uint64 {
	r := regionAt(a.buf, ref)
	newRef := pageOffset(r.startPage)
	if newRef == ref {
		return ref
	}

	oldPrev, oldNext := r.link.prev, r.link.next
	dst := regionAt(a.buf, newRef)
	*dst = *r
	l.relink(a.buf, oldPrev, oldNext, newRef)
	return newRef
}

// allocDesignatedFreePages looks for a free region that begins exactly at
// startPage and has at least requestedPages pages, carving requestedPages
// off its front. Used by Realloc to extend a run in place. Returns the page
// number (== startPage) on success, or 0 if no such region exists.
func (a *LinearAllocator) allocDesignatedFreePages(startPage, requestedPages uint64) uint64 {
	var found uint64
	a.freeList.forEach(a.buf, func(ref uint64) bool {
		r := regionAt(a.buf, ref)
		if r.startPage == startPage && r.pages >= requestedPages {
			result := r.startPage
			r.startPage += requestedPages
			r.pages -= requestedPages
			if r.pages == 0 {
				a.freeList.unlink(a.buf, ref)
			} else {
				a.materializeRegion(&a.freeList, ref)
			}
			found = result
			return false
		}
		return true
	})
	return found
}

// allocFreePagesForward performs the first-fit forward scan used for
// Transient allocations, carving the requested pages off the front of the
// first region with enough room.
func (a *LinearAllocator) allocFreePagesForward(requestedPages uint64) uint64 {
	var found uint64
	a.freeList.forEach(a.buf, func(ref uint64) bool {
		r := regionAt(a.buf, ref)
		if r.pages >= requestedPages {
			result := r.startPage
			r.startPage += requestedPages
			r.pages -= requestedPages
			if r.pages == 0 {
				a.freeList.unlink(a.buf, ref)
			} else {
				// The old home of this record has just been handed to
				// the caller; it must move to the new front page.
				a.materializeRegion(&a.freeList, ref)
			}
			found = result
			return false
		}
		return true
	})
	return found
}

// allocFreePagesReverse performs the first-fit reverse scan used for
// Persistent allocations, carving the requested pages off the back of the
// first (from the tail) region with enough room. The region's first page,
// and therefore its record's address, never changes, so no relocation is
// needed here.
func (a *LinearAllocator) allocFreePagesReverse(requestedPages uint64) uint64 {
	var found uint64
	a.freeList.forEachReverse(a.buf, func(ref uint64) bool {
		r := regionAt(a.buf, ref)
		if r.pages >= requestedPages {
			result := r.startPage + r.pages - requestedPages
			r.pages -= requestedPages
			if r.pages == 0 {
				a.freeList.unlink(a.buf, ref)
			}
			found = result
			return false
		}
		return true
	})
	return found
}

// mergeConsecutivePages walks the free list pairwise, merging any
// consecutive pair of regions whose end-of-previous equals start-of-next.
// Called after an insert that produced a local merge and after a tail
// append, which does not check its predecessor itself (see
// restoreFreedRegion); a standalone insert in front of an existing region
// can never create an adjacency, since it would have matched one of the
// merge cases instead. O(n) in the free-list length. See SPEC_FULL.md, resolved open question 3.
func (a *LinearAllocator) mergeConsecutivePages() {
	prevRef := a.freeList.head.next
	if prevRef == 0 {
		return
	}
	currentRef := a.freeList.linkAt(a.buf, prevRef).next

	for prevRef != 0 && currentRef != 0 {
		prevRegion := regionAt(a.buf, prevRef)
		currentRegion := regionAt(a.buf, currentRef)

		if prevRegion.startPage+prevRegion.pages == currentRegion.startPage {
			prevRegion.pages += currentRegion.pages
			a.freeList.unlink(a.buf, currentRef)
			currentRef = a.freeList.linkAt(a.buf, prevRef).next
		} else {
			prevRef = currentRef
			currentRef = a.freeList.linkAt(a.buf, currentRef).next
		}
	}
}

// restoreFreedRegion inserts a single deferred-free region into the sorted
// free list, coalescing with a touching neighbor where possible. Mirrors
// restore_freed_region in original_source/linear-malloc.c exactly,
// including its three insertion cases.
func (a *LinearAllocator) restoreFreedRegion(ref uint64) {
	freeRegion := regionAt(a.buf, ref)
	prevRef := uint64(0)

	found := false
	a.freeList.forEach(a.buf, func(iterRef uint64) bool {
		region := regionAt(a.buf, iterRef)
		if freeRegion.startPage >= region.startPage {
			prevRef = iterRef
			return true
		}

		found = true
		inserted := false

		if prevRef != 0 {
			prevRegion := regionAt(a.buf, prevRef)
			if prevRegion.startPage+prevRegion.pages == freeRegion.startPage {
				// Case 1: attach to the end of the preceding region.
				prevRegion.pages += freeRegion.pages
				inserted = true
			}
		}
		if !inserted && freeRegion.startPage+freeRegion.pages == region.startPage {
			// Case 2: attach to the front of the following region; this
			// relocates that region's record down to the lower start page.
			region.startPage = freeRegion.startPage
			region.pages += freeRegion.pages
			a.materializeRegion(&a.freeList, iterRef)
			inserted = true
		}
		if inserted {
			a.mergeConsecutivePages()
		} else {
			// Case 3: link as a new standalone entry before iterRef.
			a.freeList.linkBefore(a.buf, iterRef, ref)
		}
		return false
	})

	if !found {
		// The freed region outranges every existing one; append at the tail.
		a.freeList.linkTail(a.buf, ref)
		a.mergeConsecutivePages()
	}
}

// drainDeferred moves every region on the deferred-free list into the
// sorted, coalesced free list, in FIFO order, then empties the deferred
// list. Mirrors restore_all_freed_memories.
func (a *LinearAllocator) drainDeferred() {
	a.deferredList.forEachSafe(a.buf, func(ref uint64) {
		a.restoreFreedRegion(ref)
	})
	a.deferredList.init()
}

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fixedmalloc implements a memory allocator that serves allocations
// entirely out of a single, caller-supplied byte buffer, without ever asking
// the host operating system for more memory. It is meant for embedded or
// freestanding programs that own one fixed-size region and need to hand out
// and reclaim variable-sized objects from it while keeping accounting
// overhead and fragmentation small.
//
// Two layers cooperate: LinearAllocator carves the buffer into 4 KiB pages
// and hands out whole runs of them, and SlabAllocator layers size-classed
// sub-page cells on top of pages borrowed from the linear layer. Most
// callers want SlabAllocator; LinearAllocator is exported directly for
// callers that only need page-granular allocation.
package fixedmalloc

const (
	// PageShift is the base-2 exponent of PageSize.
	PageShift = 12
	// PageSize is the fixed granularity of the linear allocator, 4 KiB.
	PageSize = 1 << PageShift
	// pageMask isolates the in-page offset of an address.
	pageMask = PageSize - 1

	// MinBufferSize is the smallest buffer Reinit will accept.
	MinBufferSize = 128 * 1024
	// MaxBufferSize is the largest buffer Reinit will accept: the
	// metadata table occupies exactly one page, one byte per page index,
	// so at most metadataEntries pages can ever be named by it.
	MaxBufferSize = metadataEntries * PageSize

	// metadataEntries is the number of per-page length bytes that fit in
	// the one page reserved for accounting (page 0). This bounds the
	// largest page index the table can describe, and therefore the
	// largest buffer Reinit can accept. See SPEC_FULL.md open question 2.
	metadataEntries = PageSize

	// extendedLengthSentinel marks a run whose page count didn't fit in
	// one byte; the real count is stored as a uint32 nearby.
	extendedLengthSentinel = 0xFF
)

// Direction steers an allocation toward one end of the buffer's address
// space. Transient allocations churn near the low end; persistent ones
// accumulate near the high end, so long- and short-lived objects don't
// fragment each other's territory.
type Direction int

const (
	// Transient allocations are carved from the front of the lowest-
	// addressed free region that fits (first-fit, forward scan).
	Transient Direction = iota + 1
	// Persistent allocations are carved from the back of the highest-
	// addressed free region that fits (first-fit, reverse scan).
	Persistent
)

func (d Direction) String() string {
	switch d {
	case Transient:
		return "transient"
	case Persistent:
		return "persistent"
	default:
		return "invalid-direction"
	}
}

// slabSizes are the fixed size classes served by SlabAllocator. Any request
// larger than the last entry bypasses the slab layer entirely and goes
// straight to the linear allocator.
var slabSizes = [...]int{32, 64, 128, 512, 1024}

// slabPageHeaderSize is the number of bytes the slab layer reserves at the
// front of every slab page for page_meta_t-equivalent bookkeeping; cells
// start immediately after it.
const slabPageHeaderSize = 64

// maxSlabRequest is the largest size the slab layer will serve from a cell;
// anything bigger bypasses the slab layer.
const maxSlabRequest = 1024

func roundUp(n, round uint64) uint64 {
	return (n + round - 1) &^ (round - 1)
}

func roundDown(n, round uint64) uint64 {
	return n &^ (round - 1)
}

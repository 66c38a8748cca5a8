// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import "unsafe"

// metadata is page 0 of the buffer: one byte per page index, page 0 always
// excluded since it is the metadata page itself. At the first page of every
// live run it records that run's length in pages:
//
//   - if the run is shorter than extendedLengthSentinel (255) pages, the
//     byte at that page's index holds the exact length;
//   - otherwise the byte holds extendedLengthSentinel, and the real length
//     is stored as a native-endian uint32 at roundUp(firstPage+1, 4).
//
// Only the first page of a run is ever indexed; metadata for the run's
// other pages is left undefined, which is exactly why the extended-length
// encoding's 4 reserved slots are safe to reuse: those slots always name
// pages that are themselves interior pages of the very run whose length
// they encode; see SPEC_FULL.md, resolved open question 1.
type metadata struct {
	buf []byte // the full backing buffer; page 0 is buf[:PageSize]
}

func (m metadata) entry(page uint64) *uint8 {
	return (*uint8)(unsafe.Pointer(&m.buf[page]))
}

func (m metadata) extendedEntry(page uint64) *uint32 {
	aligned := roundUp(page+1, 4)
	return (*uint32)(unsafe.Pointer(&m.buf[aligned]))
}

// markRun records that the run starting at firstPage spans `pages` pages.
func (m metadata) markRun(firstPage, pages uint64) {
	if pages < extendedLengthSentinel {
		*m.entry(firstPage) = uint8(pages)
		return
	}
	*m.entry(firstPage) = extendedLengthSentinel
	*m.extendedEntry(firstPage) = uint32(pages)
}

// runLength recovers the page count of the run starting at firstPage.
func (m metadata) runLength(firstPage uint64) uint64 {
	b := *m.entry(firstPage)
	if b != extendedLengthSentinel {
		return uint64(b)
	}
	return uint64(*m.extendedEntry(firstPage))
}

func (m metadata) reset() {
	for i := range m.buf[:PageSize] {
		m.buf[i] = 0
	}
}

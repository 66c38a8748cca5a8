// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import "unsafe"

// link is the embeddable node of a circular intrusive doubly-linked list,
// modeled on c-list's CList (see original_source/fixed-malloc-all.h). Every
// record this allocator threads onto a list (freeRegion, slabPageHeader)
// embeds a link as its first field.
//
// Unlike c-list, nodes here are not identified by a stable pointer: they
// live inside the very buffer bytes the allocator hands out, and a carve
// can force a record to move to a new address (see materializeRegion in
// region.go). So links reference neighbors by byte offset into the buffer
// rather than by address, and offset 0 is reserved to mean "the list head",
// which is never stored in the buffer itself (page 0 is metadata, never a
// region record) — the same self-referencing trick c-list uses for its
// sentinel, with an integer identity standing in for a pointer identity.
type link struct {
	next uint64
	prev uint64
}

// list is a sentinel-headed circular list of offsets into some buffer. Its
// head is not itself addressable inside the buffer.
type list struct {
	head link
}

func (l *list) init() {
	l.head.next = 0
	l.head.prev = 0
}

func (l *list) isEmpty() bool {
	return l.head.next == 0 && l.head.prev == 0
}

// linkAt resolves ref to the link embedded at the front of the record it
// names, or to the list's own sentinel head if ref == 0.
func (l *list) linkAt(buf []byte, ref uint64) *link {
	if ref == 0 {
		return &l.head
	}
	return (*link)(unsafe.Pointer(&buf[ref]))
}

// linkBefore links the standalone record at ref `what` directly in front of
// `where` (ref 0 meaning the list head, i.e. append at the tail).
func (l *list) linkBefore(buf []byte, where, what uint64) {
	whereLink := l.linkAt(buf, where)
	prev := whereLink.prev
	prevLink := l.linkAt(buf, prev)
	whatLink := l.linkAt(buf, what)

	whereLink.prev = what
	whatLink.next = where
	whatLink.prev = prev
	prevLink.next = what
}

// linkTail appends `what` at the end of the list.
func (l *list) linkTail(buf []byte, what uint64) {
	l.linkBefore(buf, 0, what)
}

// linkAfter links the standalone record at ref `what` directly after
// `where` (ref 0 meaning the list head, i.e. insert at the front).
func (l *list) linkAfter(buf []byte, where, what uint64) {
	whereLink := l.linkAt(buf, where)
	next := whereLink.next
	nextLink := l.linkAt(buf, next)
	whatLink := l.linkAt(buf, what)

	nextLink.prev = what
	whatLink.next = next
	whatLink.prev = where
	whereLink.next = what
}

// linkFront inserts `what` at the front of the list.
func (l *list) linkFront(buf []byte, what uint64) {
	l.linkAfter(buf, 0, what)
}

// isLinked reports whether the record at ref is currently part of some
// list (any list, since the check only looks at its own next pointer).
func isLinked(buf []byte, ref uint64) bool {
	if ref == 0 {
		return false
	}
	n := (*link)(unsafe.Pointer(&buf[ref]))
	return n.next != ref
}

// unlink removes the record at ref from l and re-initializes its link so a
// second unlink is a no-op, mirroring c_list_unlink (as opposed to
// c_list_unlink_stale, which leaves the removed node's own pointers dangling).
func (l *list) unlink(buf []byte, ref uint64) {
	n := l.linkAt(buf, ref)
	prev, next := n.prev, n.next
	if prev == ref && next == ref {
		return
	}
	l.linkAt(buf, prev).next = next
	l.linkAt(buf, next).prev = prev
	n.next = ref
	n.prev = ref
}

// relink rewrites the link at newRef to occupy the position currently held
// by the record that used to be reachable via its neighbors, patching the
// neighbors so they now point at newRef instead of oldRef. Used when a
// record must be relocated to a new home (see materializeRegion).
func (l *list) relink(buf []byte, oldPrev, oldNext, newRef uint64) {
	n := l.linkAt(buf, newRef)
	n.prev = oldPrev
	n.next = oldNext
	l.linkAt(buf, oldPrev).next = newRef
	l.linkAt(buf, oldNext).prev = newRef
}

// splice moves every entry out of source and appends them, in order, to the
// tail of target. On return source is empty.
func (l *list) splice(buf []byte, target, source *list) {
	if source.isEmpty() {
		return
	}
	sourceFirst := source.head.next
	sourceLast := source.head.prev
	targetLast := target.head.prev

	target.linkAt(buf, sourceFirst).prev = targetLast
	target.linkAt(buf, targetLast).next = sourceFirst
	target.linkAt(buf, sourceLast).next = 0
	target.head.prev = sourceLast

	source.init()
}

// split moves every entry from `where` (inclusive) to the end of source
// into target, replacing target's previous contents. If where is 0 (the
// list head itself, i.e. "one past the last entry"), target ends up empty.
func (l *list) split(buf []byte, source *list, where uint64, target *list) {
	if where == 0 {
		target.init()
		return
	}
	sourceLast := source.head.prev
	target.head.next = where
	target.head.prev = sourceLast

	whereLink := l.linkAt(buf, where)
	beforeWhere := whereLink.prev
	source.linkAt(buf, beforeWhere).next = 0
	source.head.prev = beforeWhere

	whereLink.prev = 0
}

// swap exchanges the contents of two lists in place.
func (l *list) swap(buf []byte, a, b *list) {
	aFirst, aLast := a.head.next, a.head.prev
	bFirst, bLast := b.head.next, b.head.prev

	if aFirst != 0 {
		a.linkAt(buf, aFirst).prev = 0
		a.linkAt(buf, aLast).next = 0
	}
	if bFirst != 0 {
		b.linkAt(buf, bFirst).prev = 0
		b.linkAt(buf, bLast).next = 0
	}

	a.head, b.head = b.head, a.head

	if a.head.next != 0 {
		a.linkAt(buf, a.head.next).prev = 0
		a.linkAt(buf, a.head.prev).next = 0
	}
	if b.head.next != 0 {
		b.linkAt(buf, b.head.next).prev = 0
		b.linkAt(buf, b.head.prev).next = 0
	}
}

// flush unlinks every entry in l, reinitializing each one, and empties l.
func (l *list) flush(buf []byte, visit func(ref uint64)) {
	ref := l.head.next
	for ref != 0 {
		n := l.linkAt(buf, ref)
		next := n.next
		n.next, n.prev = ref, ref
		if visit != nil {
			visit(ref)
		}
		ref = next
	}
	l.init()
}

// forEach walks the list from front to back, calling fn with each entry's
// ref. fn must not mutate the list; use forEachSafe for that.
func (l *list) forEach(buf []byte, fn func(ref uint64) bool) {
	for ref := l.head.next; ref != 0; ref = l.linkAt(buf, ref).next {
		if !fn(ref) {
			return
		}
	}
}

// forEachReverse walks the list from back to front.
func (l *list) forEachReverse(buf []byte, fn func(ref uint64) bool) {
	for ref := l.head.prev; ref != 0; ref = l.linkAt(buf, ref).prev {
		if !fn(ref) {
			return
		}
	}
}

// forEachSafe walks the list front to back, capturing the next ref before
// calling fn, so fn may unlink (or relocate) the current entry.
func (l *list) forEachSafe(buf []byte, fn func(ref uint64)) {
	ref := l.head.next
	for ref != 0 {
		next := l.linkAt(buf, ref).next
		fn(ref)
		ref = next
	}
}

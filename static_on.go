// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build fmstatic

package fixedmalloc

import "unsafe"

// StaticBufferSize is the usable size of the buffer Default is backed by in
// this build. It matches the original C library's own compiled-in default
// buffer size.
const StaticBufferSize = 640 * 1024

// staticStorage is overallocated by one page so staticBuffer can slice out a
// page-aligned window: Go gives no alignment guarantee for a plain byte
// array, unlike the page-aligned mmap regions the teacher's own allocator
// was built over.
var staticStorage [StaticBufferSize + PageSize]byte

func staticBuffer() []byte {
	base := uintptr(unsafe.Pointer(&staticStorage[0]))
	pad := (PageSize - base%PageSize) % PageSize
	return staticStorage[pad : pad+StaticBufferSize]
}

// Static mode (the fmstatic build): Default is auto-initialized at program
// start over a statically-sized buffer, so callers can use it immediately
// with no InitDefault call of their own. See static_off.go for the default,
// manual-init build.
func init() {
	InitDefault(staticBuffer(), false)
}

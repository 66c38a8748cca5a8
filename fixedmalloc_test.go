// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import (
	"fmt"
	"testing"
	"unsafe"
)

// alignedBuffer returns an n-byte, page-aligned slice. plain make([]byte, n)
// is not guaranteed page-aligned, so every test that hands a buffer to
// Reinit goes through here instead, the same overallocate-and-slice trick
// static_on.go uses for the package-level static buffer.
func alignedBuffer(n int) []byte {
	raw := make([]byte, n+PageSize)
	base := uintptr(unsafe.Pointer(&raw[0]))
	pad := (PageSize - base%PageSize) % PageSize
	return raw[pad : pad+uintptr(n)]
}

// capturingAbort is an AbortSink that records the reason instead of
// panicking, so tests can assert a programmer-error path was reached
// without tearing down the test binary.
type capturingAbort struct{ reason string }

func (c *capturingAbort) Abort(reason string) { c.reason = reason }

// capturingTrace is a TraceSink that records every formatted line.
type capturingTrace struct{ lines []string }

func (c *capturingTrace) Trace(format string, args ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
}

func TestWithAbortOverridesDefaultPanic(t *testing.T) {
	abort := &capturingAbort{}
	buf := alignedBuffer(MinBufferSize)
	misaligned := buf[1 : len(buf)-1]
	a := NewLinearAllocator(misaligned, false, WithAbort(abort))
	if abort.reason == "" {
		t.Fatal("expected the custom abort sink to capture a reason")
	}
	if a.buf != nil {
		t.Fatal("allocator must not install a buffer when Reinit aborts")
	}
}

func TestWithTraceReceivesOutOfMemoryEvent(t *testing.T) {
	trace := &capturingTrace{}
	a := NewLinearAllocator(alignedBuffer(MinBufferSize), false, WithTrace(trace))
	// MinBufferSize is 32 pages, 31 usable; nothing can satisfy a 32-page request.
	if p := a.UnsafeMalloc(32*PageSize, Transient); p != nil {
		t.Fatal("expected malloc to fail: buffer only has 31 usable pages")
	}
	if len(trace.lines) == 0 {
		t.Fatal("expected an out-of-memory event on the trace sink")
	}
}

func TestWithGuardsCatchesMisalignedFree(t *testing.T) {
	abort := &capturingAbort{}
	a := NewLinearAllocator(alignedBuffer(MinBufferSize), false, WithGuards(), WithAbort(abort))
	p := a.UnsafeMalloc(PageSize, Transient)
	bad := unsafe.Pointer(uintptr(p) + 1)
	a.UnsafeFree(bad)
	if abort.reason == "" {
		t.Fatal("expected guard mode to abort on a misaligned free pointer")
	}
}

func TestWithoutGuardsAllowsMisalignedPointerCheck(t *testing.T) {
	abort := &capturingAbort{}
	a := NewLinearAllocator(alignedBuffer(MinBufferSize), false, WithAbort(abort))
	p := a.UnsafeMalloc(PageSize, Transient)
	bad := unsafe.Pointer(uintptr(p) + 1)
	a.UnsafeFree(bad)
	if abort.reason != "" {
		t.Fatal("guard checks must be opt-in: no guards option was set")
	}
}

func TestDefaultSingletonRoundtrip(t *testing.T) {
	InitDefault(alignedBuffer(MinBufferSize), false)
	b := Default.Malloc(32)
	if b == nil {
		t.Fatal("Default.Malloc failed right after InitDefault")
	}
	Default.Free(b)
}

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

import (
	"fmt"
	"os"
)

// AbortSink is invoked on programmer-error paths: a misaligned buffer or
// out-of-range size passed to Reinit, or, in guards mode, a misaligned
// pointer passed to Free or Realloc. These correspond to API misuse that
// cannot be continued from without risking corrupting the allocator's
// internal lists, so the default implementation panics — Go's analogue of
// the host abort() the spec describes.
type AbortSink interface {
	Abort(reason string)
}

// TraceSink receives diagnostic events for slab-page lifecycle transitions
// (a fresh slab page created, a full slab page retired, a previously-full
// slab page relinked, an empty slab page reclaimed) and for a linear malloc
// that runs out of memory. The default sink is a no-op, matching spec §6:
// "may be no-op in production."
type TraceSink interface {
	Trace(format string, args ...any)
}

// abortPanic is the default AbortSink: it panics with reason, mirroring the
// teacher's own invariant-violation handling (mmap_unix.go: panic("internal
// error")) generalized from a single hard-coded call site to every
// programmer-error path this allocator defines.
type abortPanic struct{}

func (abortPanic) Abort(reason string) { panic(reason) }

// traceDiscard is the default TraceSink: silence.
type traceDiscard struct{}

func (traceDiscard) Trace(string, ...any) {}

// traceStderr is a TraceSink that writes every event to stderr, the
// generalized form of the teacher's `if trace { fmt.Fprintf(os.Stderr, ...) }`
// gate. Host programs that want the teacher's exact debug-build behavior can
// pass this to WithTrace.
type traceStderr struct{}

func (traceStderr) Trace(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// TraceStderr is a ready-made TraceSink that prints every trace event
// (slab-page lifecycle and linear out-of-memory) to stderr.
func TraceStderr() TraceSink { return traceStderr{} }

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fixedmalloc

// Option configures a LinearAllocator or SlabAllocator at construction time.
type Option func(*LinearAllocator)

// WithAbort overrides the AbortSink invoked on programmer-error paths. The
// default panics.
func WithAbort(sink AbortSink) Option {
	return func(a *LinearAllocator) { a.abort = sink }
}

// WithTrace overrides the TraceSink used for slab-page lifecycle and
// out-of-memory diagnostics. The default discards every event. Pass TraceStderr() to get
// the teacher's own "print every event" debug behavior.
func WithTrace(sink TraceSink) Option {
	return func(a *LinearAllocator) { a.trace = sink }
}

// WithGuards enables guard mode: Free and Realloc verify that pointers they
// are handed are correctly aligned (page-aligned at the linear layer, cell-
// boundary-aligned at the slab layer) before trusting them, aborting
// otherwise. Guard mode costs a check on every free-family call and is off
// by default unless the fmguards build tag is set (see guards_on.go),
// matching spec §6's "optional guards option."
func WithGuards() Option {
	return func(a *LinearAllocator) { a.guards = true }
}

// Default is the package-level ambient allocator: a singleton SlabAllocator
// that callers can use without threading an explicit instance through their
// program. It starts out unusable; call Default.Reinit (or InitDefault) once
// before using it. This mirrors the "singleton wrapper" the teacher's design
// leaves available per SPEC_FULL.md/Design Notes §9, for call sites that
// want the old ambient-global shape instead of an explicit allocator value.
var Default = newDefaultAllocator()

func newDefaultAllocator() *SlabAllocator {
	s := &SlabAllocator{}
	s.abort, s.trace, s.guards = abortPanic{}, traceDiscard{}, guardsDefault
	return s
}

// InitDefault reinitializes the package-level Default allocator over
// buffer. It is safe to call more than once; each call fully discards the
// previous state, exactly like calling Reinit directly would.
func InitDefault(buffer []byte, zeroFilled bool, opts ...Option) {
	for _, opt := range opts {
		opt(&Default.LinearAllocator)
	}
	Default.Reinit(buffer, zeroFilled)
}

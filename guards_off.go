// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !fmguards

package fixedmalloc

// guardsDefault is the compile-time default for the guards knob described in
// spec §6: off, unless the fmguards build tag is set (see guards_on.go).
// WithGuards still enables it per-allocator regardless of this default.
const guardsDefault = false

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build fmguards

package fixedmalloc

// guardsDefault is the compile-time default for the guards knob described in
// spec §6: on, because this build carries the fmguards tag. WithGuards is
// then a no-op confirmation rather than an upgrade, and there is currently no
// way to opt back out within a single binary — guard mode is meant to be a
// whole-program debug build, not a per-allocator toggle, once this tag is set.
const guardsDefault = true

// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !fmstatic

package fixedmalloc

// Manual-init mode (the default build): Default starts out unusable. Callers
// must call InitDefault themselves before using the package-level allocator.
// See static_on.go for the fmstatic build that auto-initializes Default over
// a statically-sized buffer instead.

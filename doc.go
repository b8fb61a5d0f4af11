// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pagefrag implements a page-fragment cache allocator.
//
// A Cache carves many small, variable-length, variable-alignment byte
// ranges ("fragments") out of a single underlying fixed-size block of
// memory ("page"), amortising the cost of calling a full block allocator
// and of dirtying that block's atomic reference counter on every
// hand-out. It is meant for high-rate producers of small buffers that
// allocate in one context and release in another — think per-CPU packet
// header scratch space rather than general-purpose heap allocation.
//
// Changelog
//
// 2024-01-08 Initial port of the bias-based refill/reuse protocol.
//
// A Cache returned by New is empty: the first Prepare or Alloc call
// triggers a refill. Cache is not safe for concurrent use; callers
// serialise access themselves (see the docs on Cache for why no internal
// locking is added).
package pagefrag

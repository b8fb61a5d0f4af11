// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockalloc

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// block is the concrete pagefrag.Block this package hands out: a
// fixed-size anonymous mapping with an atomic reference count.
type block struct {
	addr       uintptr
	order      uint
	size       int
	pfmemalloc bool
	raw        []byte // keeps the mapping's Go-side handle alive

	refcount int64 // atomic

	metrics *metrics
	logger  *zap.Logger
}

func (b *block) Addr() uintptr     { return b.addr }
func (b *block) Order() uint       { return b.order }
func (b *block) PFMemalloc() bool  { return b.pfmemalloc }

func (b *block) RefAdd(n int64) {
	atomic.AddInt64(&b.refcount, n)
}

func (b *block) RefSubTest(n int64) bool {
	return atomic.AddInt64(&b.refcount, -n) == 0
}

// RefSet is, per pagefrag.Block's contract, only ever called immediately
// after RefSubTest observed zero — i.e. exactly the in-place recycle
// path of the reuse-or-drop decision. Counting it here is an accurate
// proxy for "a caller recycled this block" without pagefrag itself
// needing to know blockalloc's metrics exist.
func (b *block) RefSet(n int64) {
	atomic.StoreInt64(&b.refcount, n)
	if b.metrics != nil {
		b.metrics.recycledInPlace.Inc()
	}
}

func (b *block) PutTest() bool {
	return atomic.AddInt64(&b.refcount, -1) == 0
}

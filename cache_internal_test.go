// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pagefrag

import (
	"errors"
	"sync/atomic"
)

// fakeBlock and fakeAllocator are a synthetic, in-process
// pagefrag.Block/BlockAllocator pair used only by this package's own
// tests. They hand out plausible-looking addresses without touching any
// real memory, so the arithmetic in cache.go can be exercised without a
// dependency on blockalloc (which itself depends on this package, so it
// cannot be imported here without a cycle).
type fakeBlock struct {
	addr       uintptr
	order      uint
	pfmemalloc bool
	refcount   int64
}

func (b *fakeBlock) Addr() uintptr    { return b.addr }
func (b *fakeBlock) Order() uint      { return b.order }
func (b *fakeBlock) PFMemalloc() bool { return b.pfmemalloc }

func (b *fakeBlock) RefAdd(n int64)      { atomic.AddInt64(&b.refcount, n) }
func (b *fakeBlock) RefSubTest(n int64) bool {
	return atomic.AddInt64(&b.refcount, -n) == 0
}
func (b *fakeBlock) RefSet(n int64) { atomic.StoreInt64(&b.refcount, n) }
func (b *fakeBlock) PutTest() bool  { return atomic.AddInt64(&b.refcount, -1) == 0 }

// fakeAllocator's stride between synthetic block addresses: large enough
// that no block of any order this package's tests use can overlap the
// next one.
const fakeAllocatorStride = 1 << 20

type fakeAllocator struct {
	cfg Config

	next uintptr
	// pages maps every PageSize-granule address within a block's span to
	// that block, mirroring blockalloc's lookup scheme.
	pages map[uintptr]*fakeBlock

	failLargeOrder bool // AllocBlock(order>0, ...) always fails
	failAll        bool // AllocBlock always fails
	pfmemalloc     bool // next AllocBlock call returns a pfmemalloc block

	allocCalls int
	freeCalls  int
}

func newFakeAllocator(cfg Config) *fakeAllocator {
	return &fakeAllocator{cfg: cfg, next: uintptr(cfg.PageSize), pages: map[uintptr]*fakeBlock{}}
}

func (a *fakeAllocator) AllocBlock(order uint, flags AllocFlags) (Block, error) {
	a.allocCalls++
	if a.failAll || (order > 0 && a.failLargeOrder) {
		return nil, errors.New("fakeAllocator: out of memory")
	}

	addr := a.next
	a.next += fakeAllocatorStride
	b := &fakeBlock{addr: addr, order: order, pfmemalloc: a.pfmemalloc}

	size := a.cfg.blockSize(order)
	for off := 0; off < size; off += a.cfg.PageSize {
		a.pages[addr+uintptr(off)] = b
	}
	return b, nil
}

func (a *fakeAllocator) FreeBlock(blk Block) {
	a.freeCalls++
	b, ok := blk.(*fakeBlock)
	if !ok {
		return
	}
	size := a.cfg.blockSize(b.order)
	for off := 0; off < size; off += a.cfg.PageSize {
		delete(a.pages, b.addr+uintptr(off))
	}
}

func (a *fakeAllocator) BlockOf(addr uintptr) (Block, bool) {
	pageBase := addr &^ uintptr(a.cfg.PageSize-1)
	b, ok := a.pages[pageBase]
	if !ok {
		return nil, false
	}
	return b, true
}

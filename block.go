// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pagefrag

// AllocFlags mirrors the gfp_t-style flags the core recognises and
// augments on the large-block path. The zero value means "no special
// constraints"; BlockAllocator implementations interpret these as they
// see fit (a reference implementation might treat FlagNoReclaim as "fail
// fast instead of blocking"), the core only ever sets or forwards them.
type AllocFlags uint32

const (
	// FlagCompound requests a single compound block rather than
	// discontiguous pages (meaningful only for order > 0 requests).
	FlagCompound AllocFlags = 1 << iota
	// FlagNoWarn suppresses allocator-side warnings on failure.
	FlagNoWarn
	// FlagNoRetry asks the allocator not to retry on transient failure.
	FlagNoRetry
	// FlagNoReclaim asks the allocator not to perform direct reclaim.
	FlagNoReclaim
	// FlagNoMemalloc forbids dipping into the emergency reserve.
	FlagNoMemalloc
)

// largeBlockFlags are force-added to the caller's flags for the
// large-order refill attempt: that attempt must be cheap to fail, since
// order-0 is always tried next.
const largeBlockFlags = FlagCompound | FlagNoWarn | FlagNoRetry | FlagNoReclaim | FlagNoMemalloc

// Block is a fixed-size, reference-counted region of memory owned by a
// BlockAllocator. The cache performs only Add/SubTest/Set on its
// refcount and never inspects its contents; everything else about a
// Block's storage is opaque to pagefrag.
//
// Implementations must guarantee: Addr returns an address aligned to at
// least the cache's configured PageSize (so the cache's encoded-block
// word has free low bits to pack Order and PFMemalloc into), and the
// refcount operations are safe to call concurrently with other blocks'
// operations (though never concurrently on the *same* block from the
// cache's point of view, since a Cache itself is single-threaded —
// external fragment holders calling Free concurrently with the cache is
// exactly the scenario the refcount exists to arbitrate).
type Block interface {
	// Addr returns the block's base virtual address.
	Addr() uintptr
	// Order reports the block's size class (PageSize << Order bytes).
	Order() uint
	// PFMemalloc reports whether this block was drawn from an emergency
	// reserve. Queried once, immediately after allocation; the cache keeps
	// the answer in its encoded-block word for later recycle decisions.
	PFMemalloc() bool

	// RefAdd atomically adds n to the block's reference count.
	RefAdd(n int64)
	// RefSubTest atomically subtracts n from the reference count and
	// reports whether the result is zero.
	RefSubTest(n int64) bool
	// RefSet atomically sets the reference count to n. Only ever called
	// immediately after RefSubTest has observed zero — no other observer
	// can be racing at that point.
	RefSet(n int64)
	// PutTest atomically decrements the reference count by one and
	// reports whether the result is zero. Used by the package-level Free
	// helper, independent of any Cache.
	PutTest() bool
}

// BlockAllocator supplies and releases fixed-size blocks of memory, and
// maps addresses back to the block that contains them. It is the single
// external collaborator Cache depends on: the cache never allocates page
// memory itself.
type BlockAllocator interface {
	// AllocBlock returns a compound block of PageSize<<order bytes,
	// aligned to at least PageSize (see Block); alignment to the full
	// block size is not required, and neither blockalloc nor the cache
	// relies on it. Returns an error if no block is available under the
	// given flags.
	AllocBlock(order uint, flags AllocFlags) (Block, error)
	// FreeBlock releases a block whose refcount has fallen to zero.
	FreeBlock(b Block)
	// BlockOf returns the block containing addr, and false if addr does
	// not fall inside any block this allocator currently tracks.
	BlockOf(addr uintptr) (Block, bool)
}

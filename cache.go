// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pagefrag

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Cache is a per-context page-fragment cache allocator. It carves
// fragments out of one underlying block at a time, amortising
// both the BlockAllocator call and the block's atomic refcount traffic
// across many small hand-outs via the pagecnt_bias scheme.
//
// Cache is not safe for concurrent use. Callers serialise access
// themselves — typically by pinning the cache to one CPU/goroutine with
// interrupts or preemption disabled around the critical section, or by
// holding a caller-owned lock. Cache adds no locking of its own; doing
// so would defeat the whole point of the design.
type Cache struct {
	cfg       Config
	allocator BlockAllocator

	encodedPage encodedWord // 0 when empty
	offset      int         // 0 <= offset <= blockSize(encodedPage)
	pagecntBias uint64      // references the cache still owes the block's refcount
}

// New returns an empty Cache drawing blocks from allocator under cfg.
// The returned Cache holds no block until the first Prepare or Alloc
// call triggers a refill (Probe never refills).
func New(allocator BlockAllocator, cfg Config) *Cache {
	return &Cache{cfg: cfg, allocator: allocator}
}

// Fragment is a contiguous byte range inside a Block, returned by
// Prepare/Probe and consumed by Commit/CommitNoRef. A Fragment is a
// value, not a reference the cache tracks — once handed to the caller it
// is the caller's responsibility to remember until it is committed (or
// discarded without ever having been committed, which is simply a
// no-op).
type Fragment struct {
	Block Block
	// Offset is the byte offset inside Block at which this fragment
	// begins.
	Offset int
	// Size is the maximum contiguous space available at Offset. Prepare
	// returns the space up to the end of the block, not just what was
	// asked for — the caller may use more than it requested up to Size.
	Size int
}

// Addr returns the virtual address of this fragment.
func (f Fragment) Addr() uintptr { return f.Block.Addr() + uintptr(f.Offset) }

// reset zeroes the cache's state: encoded_page == 0, offset == 0,
// pagecnt_bias == 0 — the empty-cache invariant.
func (c *Cache) reset() {
	c.encodedPage = zeroEncoded
	c.offset = 0
	c.pagecntBias = 0
}

// refill installs a fresh block into the cache. It first tries a large
// order block flagged so failure is cheap, then falls back to order 0
// with the caller's original flags.
func (c *Cache) refill(flags AllocFlags) error {
	var blk Block
	var err error
	if maxOrder := c.cfg.maxOrder(); maxOrder > 0 {
		blk, _ = c.allocator.AllocBlock(maxOrder, flags|largeBlockFlags)
	}
	if blk == nil {
		if blk, err = c.allocator.AllocBlock(0, flags); blk == nil {
			c.reset()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
			}
			return ErrOutOfMemory
		}
	}

	encoded, encErr := encodeBlock(c.cfg, blk.Addr(), blk.Order(), blk.PFMemalloc())
	if encErr != nil {
		c.allocator.FreeBlock(blk)
		c.reset()
		return encErr
	}

	blk.RefAdd(int64(c.cfg.MaxBias) + 1)
	c.encodedPage = encoded
	c.pagecntBias = c.cfg.MaxBias + 1
	c.offset = 0
	return nil
}

// ensureSpace is the reuse-or-drop decision, folded together with
// refill: it returns the live Block to hand fragments out
// of and the aligned offset to start from, refilling (and, if needed,
// recycling or releasing the previous block) as necessary.
func (c *Cache) ensureSpace(fragsz int, alignMask uint, flags AllocFlags) (Block, int, error) {
	if fragsz > c.cfg.PageSize {
		return nil, 0, ErrTooLarge
	}
	if err := checkAlignment(alignMask, c.cfg.PageSize); err != nil {
		return nil, 0, err
	}

	if !c.encodedPage.empty() {
		size := c.encodedPage.blockSize(c.cfg)
		aligned := alignUp(c.offset, alignMask)
		if aligned+fragsz <= size {
			if blk, ok := c.allocator.BlockOf(c.encodedPage.virt()); ok {
				return blk, aligned, nil
			}
			// The allocator has forgotten a block we still think we
			// hold; treat the cache as empty and fall through to refill.
			c.reset()
		} else if err := c.collapseExhausted(); err != nil {
			return nil, 0, err
		} else if !c.encodedPage.empty() {
			// Recycled in place: retry against the fresh block.
			aligned = alignUp(c.offset, alignMask)
			if aligned+fragsz <= c.encodedPage.blockSize(c.cfg) {
				if blk, ok := c.allocator.BlockOf(c.encodedPage.virt()); ok {
					return blk, aligned, nil
				}
			}
			c.reset()
		}
	}

	if err := c.refill(flags); err != nil {
		return nil, 0, err
	}
	blk, ok := c.allocator.BlockOf(c.encodedPage.virt())
	if !ok {
		c.reset()
		return nil, 0, ErrOutOfMemory
	}
	return blk, alignUp(c.offset, alignMask), nil
}

// collapseExhausted handles a block that no longer fits the incoming
// request: its bias is
// collapsed into the atomic refcount and the block is either recycled in
// place, released, or simply forgotten, depending on what the atomic
// subtract observes.
func (c *Cache) collapseExhausted() error {
	blk, ok := c.allocator.BlockOf(c.encodedPage.virt())
	if !ok {
		c.reset()
		return nil
	}

	pfmemalloc := c.encodedPage.pfmemalloc()
	reachedZero := blk.RefSubTest(int64(c.pagecntBias))

	switch {
	case reachedZero && !pfmemalloc:
		// No external references survive: recycle the same block.
		blk.RefSet(int64(c.cfg.MaxBias) + 1)
		c.pagecntBias = c.cfg.MaxBias + 1
		c.offset = 0
	case reachedZero && pfmemalloc:
		// Emergency-reserve memory must return to reserves promptly
		// rather than being recycled.
		c.allocator.FreeBlock(blk)
		c.reset()
	default:
		// External references survive; they will free the block
		// individually later. We simply forget it.
		c.reset()
	}
	return nil
}

// Prepare ensures a contiguous region of at least fragsz bytes, aligned
// per alignMask, is available, refilling (and recycling/releasing the
// previous block) as needed. It does not itself advance the cache's
// bump offset or consume pagecnt_bias — the returned Fragment.Size is
// the maximum available space, which may be larger than fragsz, and
// nothing is "used" until Commit.
func (c *Cache) Prepare(fragsz int, flags AllocFlags, alignMask uint) (Fragment, error) {
	blk, aligned, err := c.ensureSpace(fragsz, alignMask, flags)
	if err != nil {
		return Fragment{}, err
	}
	size := c.encodedPage.blockSize(c.cfg) - aligned
	return Fragment{Block: blk, Offset: aligned, Size: size}, nil
}

// Probe is the non-refilling variant of Prepare: it reports, without
// ever calling the BlockAllocator, whether the current block already
// satisfies fragsz aligned to alignMask. Callers use it to decide
// whether a would-be new fragment can be merged into the space left
// after the preceding one.
func (c *Cache) Probe(fragsz int, alignMask uint) (Fragment, bool, error) {
	if fragsz > c.cfg.PageSize {
		return Fragment{}, false, ErrTooLarge
	}
	if err := checkAlignment(alignMask, c.cfg.PageSize); err != nil {
		return Fragment{}, false, err
	}
	if c.encodedPage.empty() {
		return Fragment{}, false, nil
	}

	size := c.encodedPage.blockSize(c.cfg)
	aligned := alignUp(c.offset, alignMask)
	if aligned+fragsz > size {
		return Fragment{}, false, nil
	}

	blk, ok := c.allocator.BlockOf(c.encodedPage.virt())
	if !ok {
		return Fragment{}, false, nil
	}
	return Fragment{Block: blk, Offset: aligned, Size: size - aligned}, true, nil
}

// checkFragmentBlock rejects a Commit/CommitNoRef against a Fragment that
// was prepared against some block other than the one the cache currently
// holds. Without this check, a Fragment obtained from Prepare but
// committed late — after an intervening Alloc/Prepare call has exhausted
// and forgotten that block — would rewind c.offset against whatever
// block the cache holds now, silently overlapping a region that block
// already handed out elsewhere.
func (c *Cache) checkFragmentBlock(fragment Fragment) error {
	if c.encodedPage.empty() || fragment.Block == nil || fragment.Block.Addr() != c.encodedPage.virt() {
		return ErrMisuse
	}
	return nil
}

// Commit marks usedSz bytes (<= fragment.Size) as consumed starting at
// fragment.Offset, advances the cache's offset, and decrements
// pagecnt_bias by one external hand-out. It returns the true number of
// bytes consumed including any alignment padding between the cache's
// previous offset and fragment.Offset, so batch-accounting callers see
// the number of bytes they actually paid for.
func (c *Cache) Commit(fragment Fragment, usedSz int) (int, error) {
	if usedSz > fragment.Size || usedSz < 0 {
		return 0, ErrMisuse
	}
	if err := c.checkFragmentBlock(fragment); err != nil {
		return 0, err
	}
	prev := c.offset
	c.offset = fragment.Offset + usedSz
	if c.pagecntBias > 0 {
		c.pagecntBias--
	}
	return c.offset - prev, nil
}

// CommitNoRef is like Commit but does not decrement pagecnt_bias. Use it
// when the fragment being committed will be coalesced into a previously
// committed one that already holds an external reference, so no new
// reference is created.
func (c *Cache) CommitNoRef(fragment Fragment, usedSz int) (int, error) {
	if usedSz > fragment.Size || usedSz < 0 {
		return 0, ErrMisuse
	}
	if err := c.checkFragmentBlock(fragment); err != nil {
		return 0, err
	}
	prev := c.offset
	c.offset = fragment.Offset + usedSz
	return c.offset - prev, nil
}

// Abort undoes the most recent commit of exactly fragsz bytes:
// offset -= fragsz; pagecnt_bias += 1. Valid only when no external
// reference to that fragment was ever taken — otherwise use AbortRef.
// Abort(0) on a non-empty cache changes nothing.
func (c *Cache) Abort(fragsz int) error {
	if c.encodedPage.empty() || fragsz > c.offset || fragsz < 0 {
		return ErrMisuse
	}
	if fragsz == 0 {
		return nil
	}
	c.offset -= fragsz
	c.pagecntBias++
	return nil
}

// AbortRef restores only the bias a commit consumed, for the case where
// an external reference to the committed fragment was already handed
// out (so the offset must stay put; only the cache's own bookkeeping of
// hand-outs it owes the atomic refcount is undone).
func (c *Cache) AbortRef() error {
	if c.encodedPage.empty() {
		return ErrMisuse
	}
	c.pagecntBias++
	return nil
}

// Alloc is the convenience path most callers use: Prepare followed by a
// Commit of exactly fragsz bytes, returning only the virtual address.
func (c *Cache) Alloc(fragsz int, flags AllocFlags, alignMask uint) (uintptr, error) {
	frag, err := c.Prepare(fragsz, flags, alignMask)
	if err != nil {
		return 0, err
	}
	if _, err := c.Commit(frag, fragsz); err != nil {
		return 0, err
	}
	return frag.Addr(), nil
}

// Drain tears down the cache: the currently held block's bias is
// collapsed into its atomic refcount in one subtract, and the block is
// released to the allocator if that subtract reaches zero. Drain is
// idempotent and safe to call on an already-empty cache.
func (c *Cache) Drain() {
	if c.encodedPage.empty() {
		return
	}
	if blk, ok := c.allocator.BlockOf(c.encodedPage.virt()); ok {
		if blk.RefSubTest(int64(c.pagecntBias)) {
			c.allocator.FreeBlock(blk)
		}
	}
	c.reset()
}

// Free releases a single fragment by its virtual address, independent of
// any particular Cache — the fragment may have come from a block the
// issuing cache has long forgotten (§4.6). It locates the containing
// block via allocator and puts one reference on it.
func Free(allocator BlockAllocator, addr uintptr) error {
	blk, ok := allocator.BlockOf(addr)
	if !ok {
		return fmt.Errorf("pagefrag: address %#x does not belong to any block known to this allocator", addr)
	}
	if blk.PutTest() {
		allocator.FreeBlock(blk)
	}
	return nil
}

// Stats is a read-only snapshot of a Cache's hot state, for diagnostics
// and tests. Taking a snapshot never mutates the cache.
type Stats struct {
	Empty       bool
	BlockSize   int
	Offset      int
	PagecntBias uint64
	PFMemalloc  bool
}

// Stats returns a snapshot of the cache's current state.
func (c *Cache) Stats() Stats {
	if c.encodedPage.empty() {
		return Stats{Empty: true}
	}
	return Stats{
		BlockSize:   c.encodedPage.blockSize(c.cfg),
		Offset:      c.offset,
		PagecntBias: c.pagecntBias,
		PFMemalloc:  c.encodedPage.pfmemalloc(),
	}
}

// String renders a human-readable summary of the cache's current state.
func (c *Cache) String() string {
	st := c.Stats()
	if st.Empty {
		return "pagefrag.Cache{empty}"
	}
	return fmt.Sprintf("pagefrag.Cache{block=%s offset=%s bias=%d pfmemalloc=%v}",
		humanize.IBytes(uint64(st.BlockSize)), humanize.IBytes(uint64(st.Offset)), st.PagecntBias, st.PFMemalloc)
}

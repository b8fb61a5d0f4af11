// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockalloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gestionlin/pagefrag"
)

func TestAllocBlockRoundTrip(t *testing.T) {
	a := New()

	blk, err := a.AllocBlock(0, 0)
	require.NoError(t, err)
	require.NotZero(t, blk.Addr())
	require.EqualValues(t, 0, blk.Order())
	require.False(t, blk.PFMemalloc())

	found, ok := a.BlockOf(blk.Addr())
	require.True(t, ok)
	require.Same(t, blk, found)

	a.FreeBlock(blk)
	_, ok = a.BlockOf(blk.Addr())
	require.False(t, ok, "block must be unreachable once freed")
}

func TestAllocBlockHigherOrderSpansPages(t *testing.T) {
	a := New(WithPageSize(4096))

	blk, err := a.AllocBlock(2, 0)
	require.NoError(t, err)

	// Every page-granularity address within the block's span resolves to
	// the same block, mirroring the compound-page lookup a real
	// pagefrag.Cache relies on for BlockOf(virt(w)).
	for off := 0; off < 4096<<2; off += 4096 {
		found, ok := a.BlockOf(blk.Addr() + uintptr(off))
		require.True(t, ok)
		require.Same(t, blk, found)
	}

	a.FreeBlock(blk)
}

func TestEmergencyReserveMarksPFMemalloc(t *testing.T) {
	a := New()
	a.SetEmergencyReserve(true)

	blk, err := a.AllocBlock(0, 0)
	require.NoError(t, err)
	require.True(t, blk.PFMemalloc())

	a.SetEmergencyReserve(false)
	blk2, err := a.AllocBlock(0, 0)
	require.NoError(t, err)
	require.False(t, blk2.PFMemalloc())

	a.FreeBlock(blk)
	a.FreeBlock(blk2)
}

func TestEmergencyReserveRejectsNoMemallocCaller(t *testing.T) {
	a := New()
	a.SetEmergencyReserve(true)

	_, err := a.AllocBlock(0, pagefrag.FlagNoMemalloc)
	require.Error(t, err)
}

func TestBlockRefcountProtocol(t *testing.T) {
	a := New()
	blk, err := a.AllocBlock(0, 0)
	require.NoError(t, err)

	blk.RefAdd(10)
	require.False(t, blk.RefSubTest(5))
	require.True(t, blk.RefSubTest(5))

	blk.RefSet(1)
	require.True(t, blk.PutTest())

	a.FreeBlock(blk)
}

func TestBlockOfUnknownAddress(t *testing.T) {
	a := New()
	_, ok := a.BlockOf(0xdeadbeef)
	require.False(t, ok)
}

func TestCacheWithRealAllocator(t *testing.T) {
	a := New()
	cfg := pagefrag.DefaultConfig()
	c := pagefrag.New(a, cfg)

	const alignMask = 7 // kernel-style mask: 8-byte alignment
	addr, err := c.Alloc(128, 0, alignMask)
	require.NoError(t, err)
	require.NotZero(t, addr)
	require.Zero(t, addr%8, "fragment address must honor the requested alignment")

	c.Drain()
}

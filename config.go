// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pagefrag

import "github.com/cznic/mathutil"

// Compile-time-ish tunables. Expressed as constants wherever they never
// need to vary, and folded into Config where a caller legitimately needs
// to vary them (mainly tests running against a synthetic page size).
const (
	// DefaultPageSize is the system page size assumed when a Config does
	// not override it. Real deployments should set Config.PageSize from
	// the host's actual page size; the constant exists so package
	// defaults are deterministic in tests.
	DefaultPageSize = 4096

	// DefaultMaxSize is the preferred (large) block size.
	DefaultMaxSize = 32 * 1024

	// orderMaskBits is the width, in bits, of the order field packed into
	// the encoded-block word — one byte, so Go can mask and shift it in
	// one machine-width operation.
	orderMaskBits = 8
)

// orderMask and pfmemallocBit lay out the low bits of the encoded-block
// word: order occupies the low byte, pfmemalloc the bit just above it.
const (
	orderMask     = encodedWord(1<<orderMaskBits) - 1
	pfmemallocBit = encodedWord(1) << orderMaskBits
)

// Config carries the cache's sizing tunables. The zero Config is
// invalid; use DefaultConfig or NewConfig.
type Config struct {
	// PageSize is the base unit of block sizing: a block of order o is
	// PageSize<<o bytes. Must be a power of two.
	PageSize int

	// MaxSize is the preferred (large) block size requested by refill
	// before falling back to order 0. Must be a power-of-two multiple of
	// PageSize.
	MaxSize int

	// MaxBias bounds the fragments handed out per block: refill adds
	// MaxBias+1 to a fresh block's atomic refcount up front and sets
	// pagecnt_bias to MaxBias+1. Defaults to MaxSize, reusing the
	// byte-size constant as the fragment-count bound — it is a generous
	// over-count, not a precise fragment budget.
	MaxBias uint64
}

// DefaultConfig returns the Config for a typical 4 KiB-page system:
// PageSize 4096, MaxSize 32 KiB, MaxBias 32768.
func DefaultConfig() Config {
	return NewConfig(DefaultPageSize, DefaultMaxSize)
}

// NewConfig builds a Config for the given page and preferred block size,
// deriving MaxBias as equal to maxSize.
func NewConfig(pageSize, maxSize int) Config {
	return Config{PageSize: pageSize, MaxSize: maxSize, MaxBias: uint64(maxSize)}
}

// maxOrder is the order of the preferred large block: log2(MaxSize /
// PageSize), clamped to orderMask so it always fits the encoded word.
// Evaluates to 0 when MaxSize <= PageSize.
func (c Config) maxOrder() uint {
	if c.MaxSize <= c.PageSize {
		return 0
	}
	order := mathutil.BitLen(c.MaxSize/c.PageSize - 1)
	return uint(mathutil.Min(order, int(orderMask)))
}

// pageMask returns PageSize-1: the bits cleared from a block base address
// to recover alignment, and the bits free below the order/pfmemalloc
// fields of the encoded word.
func (c Config) pageMask() uintptr { return uintptr(c.PageSize - 1) }

// blockSize returns PageSize<<order, the size in bytes of a block of the
// given order under this Config.
func (c Config) blockSize(order uint) int { return c.PageSize << order }

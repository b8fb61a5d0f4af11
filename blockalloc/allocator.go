// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockalloc

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"

	"github.com/gestionlin/pagefrag"
)

// osPageSize is the host's native page size, queried once at package
// init time via os.Getpagesize().
var osPageSize = os.Getpagesize()

// Allocator is a pagefrag.BlockAllocator backed by anonymous OS memory
// mappings. Its zero value is not ready for use; construct one with New.
type Allocator struct {
	pageSize int
	logger   *zap.Logger
	metrics  *metrics

	mu    sync.Mutex
	pages map[uintptr]*block // OS-page-granularity lookup for BlockOf

	reserveActive int32 // atomic bool: simulated emergency-reserve condition
}

// Option configures an Allocator at construction time.
type Option func(*Allocator)

// WithLogger sets the *zap.Logger the allocator reports block lifecycle
// events to. Defaults to zap.NewNop() — silent unless a caller opts in.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Allocator) { a.logger = logger }
}

// WithPageSize overrides the page size the allocator sizes blocks
// against. Defaults to the host's native page size.
func WithPageSize(pageSize int) Option {
	return func(a *Allocator) { a.pageSize = pageSize }
}

// New returns a ready-to-use Allocator.
func New(opts ...Option) *Allocator {
	a := &Allocator{
		pageSize: osPageSize,
		logger:   zap.NewNop(),
		metrics:  newMetrics(),
		pages:    make(map[uintptr]*block),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetEmergencyReserve toggles whether subsequent AllocBlock calls are
// simulated as being served from an emergency memory reserve. Real block
// allocators decide this from actual memory pressure; this reference
// implementation exposes the knob directly so tests can exercise the
// pfmemalloc-never-recycles path deterministically.
func (a *Allocator) SetEmergencyReserve(active bool) {
	v := int32(0)
	if active {
		v = 1
	}
	atomic.StoreInt32(&a.reserveActive, v)
}

// AllocBlock implements pagefrag.BlockAllocator.
func (a *Allocator) AllocBlock(order uint, flags pagefrag.AllocFlags) (pagefrag.Block, error) {
	pfmemalloc := atomic.LoadInt32(&a.reserveActive) != 0
	if pfmemalloc && flags&pagefrag.FlagNoMemalloc != 0 {
		a.metrics.allocFailuresTotal.Inc()
		return nil, fmt.Errorf("blockalloc: emergency reserve active and caller forbids it (order %d)", order)
	}

	size := a.pageSize << order
	raw, err := mmapRaw(size)
	if err != nil {
		a.metrics.allocFailuresTotal.Inc()
		if flags&pagefrag.FlagNoWarn == 0 {
			a.logger.Warn("block allocation failed", zap.Uint("order", order), zap.Int("size", size), zap.Error(err))
		}
		return nil, err
	}

	addr := uintptr(unsafe.Pointer(&raw[0]))
	b := &block{
		addr:       addr,
		order:      order,
		size:       size,
		pfmemalloc: pfmemalloc,
		raw:        raw,
		metrics:    a.metrics,
		logger:     a.logger,
	}

	a.mu.Lock()
	for off := 0; off < size; off += a.pageSize {
		a.pages[addr+uintptr(off)] = b
	}
	a.mu.Unlock()

	a.metrics.allocationsTotal.Inc()
	if pfmemalloc {
		a.metrics.pfmemallocHandouts.Inc()
	}
	a.logger.Debug("block allocated",
		zap.Uintptr("addr", addr), zap.Uint("order", order), zap.Int("size", size), zap.Bool("pfmemalloc", pfmemalloc))
	return b, nil
}

// FreeBlock implements pagefrag.BlockAllocator.
func (a *Allocator) FreeBlock(blk pagefrag.Block) {
	b, ok := blk.(*block)
	if !ok {
		return
	}

	a.mu.Lock()
	for off := 0; off < b.size; off += a.pageSize {
		delete(a.pages, b.addr+uintptr(off))
	}
	a.mu.Unlock()

	if err := munmapRaw(b.raw); err != nil {
		a.logger.Warn("block release failed", zap.Uintptr("addr", b.addr), zap.Error(err))
		return
	}
	a.metrics.releasesTotal.Inc()
	a.logger.Debug("block released", zap.Uintptr("addr", b.addr), zap.Int("size", b.size))
}

// BlockOf implements pagefrag.BlockAllocator.
func (a *Allocator) BlockOf(addr uintptr) (pagefrag.Block, bool) {
	pageBase := addr &^ uintptr(a.pageSize-1)
	a.mu.Lock()
	b, ok := a.pages[pageBase]
	a.mu.Unlock()
	if !ok {
		return nil, false
	}
	return b, true
}

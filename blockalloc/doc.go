// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blockalloc implements a reference pagefrag.BlockAllocator
// backed by anonymous OS memory mappings.
//
// pagefrag's core treats the block allocator purely as an interface
// (see the pagefrag.BlockAllocator and pagefrag.Block docs); this
// package supplies one concrete, fully wired implementation of that
// interface so a Cache has something real to refill from, and so tests
// and the demo command in cmd/pagefragbench have something real to
// drain and free against. It carries the ambient concerns — logging,
// metrics, OS memory mapping — that the core package deliberately stays
// free of.
package blockalloc

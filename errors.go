// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pagefrag

import "errors"

// Sentinel errors returned by Cache operations. The cache never logs; it
// reports failure directly to the caller (see package-level docs).
var (
	// ErrOutOfMemory is returned when refill could not obtain any block
	// from the BlockAllocator, neither at the large order nor at order 0.
	ErrOutOfMemory = errors.New("pagefrag: out of memory")

	// ErrTooLarge is returned when the requested fragment size exceeds
	// PageSize. No block, however large, can satisfy such a request
	// because fragments never span more than one block.
	ErrTooLarge = errors.New("pagefrag: fragment size exceeds page size")

	// ErrBadAlignment is returned when align_mask implies an alignment
	// greater than PageSize. It cannot be honoured inside one block.
	ErrBadAlignment = errors.New("pagefrag: alignment exceeds page size")

	// ErrMisuse is returned by checked caller-contract violations:
	// Commit/CommitNoRef with usedSize greater than the fragment size it
	// was handed, Commit/CommitNoRef against a fragment whose block no
	// longer matches the block the cache currently holds (the original
	// block was exhausted and forgotten in the meantime), Abort unwinding
	// more bytes than the cache's current offset, or Abort/AbortRef called
	// on an empty cache.
	// Well-behaved callers should never hit this path; it exists so tests
	// can assert on it instead of corrupting state silently.
	ErrMisuse = errors.New("pagefrag: caller contract violation")
)

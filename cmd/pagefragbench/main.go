// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command pagefragbench drives a pagefrag.Cache backed by a real
// blockalloc.Allocator through a configurable mix of allocate/free
// traffic and logs a summary of the run: the iteration count, the
// elapsed time and the cache's final state. It does not report how many
// underlying blocks were requested from the OS.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gestionlin/pagefrag"
	"github.com/gestionlin/pagefrag/blockalloc"
)

var (
	fragments  = flag.Int("n", 200000, "number of iterations, each allocating one fragment or freeing one")
	minSize    = flag.Int("min", 16, "minimum fragment size in bytes")
	maxSize    = flag.Int("max", 512, "maximum fragment size in bytes")
	freeRatio  = flag.Int("free-every", 3, "on every N-th iteration, free one outstanding fragment instead of allocating (0 disables freeing)")
	pageSize   = flag.Int("page-size", 4096, "block allocator page size")
	maxBlock   = flag.Int("max-block", 32*1024, "preferred large block size")
	seed       = flag.Int64("seed", 1, "PRNG seed")
	verbose    = flag.Bool("v", false, "enable debug logging from the block allocator")
)

func main() {
	flag.Parse()

	logLevel := zap.NewAtomicLevelAt(zap.InfoLevel)
	if *verbose {
		logLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = logLevel
	logger, err := zcfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	alloc := blockalloc.New(blockalloc.WithLogger(logger), blockalloc.WithPageSize(*pageSize))
	cache := pagefrag.New(alloc, pagefrag.NewConfig(*pageSize, *maxBlock))

	rng := rand.New(rand.NewSource(*seed))
	spread := *maxSize - *minSize + 1
	if spread <= 0 {
		logger.Fatal("max must be >= min", zap.Int("min", *minSize), zap.Int("max", *maxSize))
	}

	var live []uintptr
	start := time.Now()
	for i := 0; i < *fragments; i++ {
		if *freeRatio > 0 && len(live) > 0 && i%*freeRatio == 0 {
			j := rng.Intn(len(live))
			if err := pagefrag.Free(alloc, live[j]); err != nil {
				logger.Fatal("free failed", zap.Error(err))
			}
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
			continue
		}

		size := *minSize + rng.Intn(spread)
		addr, err := cache.Alloc(size, 0, 0)
		if err != nil {
			logger.Fatal("alloc failed", zap.Int("iteration", i), zap.Int("size", size), zap.Error(err))
		}
		live = append(live, addr)
	}

	for _, addr := range live {
		if err := pagefrag.Free(alloc, addr); err != nil {
			logger.Fatal("free failed during teardown", zap.Error(err))
		}
	}
	cache.Drain()

	logger.Info("run complete",
		zap.Int("iterations", *fragments),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("final_state", cache.String()),
	)
}

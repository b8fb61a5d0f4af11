// Copyright 2017 The Memory Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blockalloc

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics mirrors the counters buildbarn-bb-storage's
// BlockDeviceBackedBlockAllocator registers for its block lifecycle:
// allocations, releases, and (since this allocator simulates an
// emergency reserve) pfmemalloc hand-outs and allocation failures.
type metrics struct {
	allocationsTotal    prometheus.Counter
	releasesTotal       prometheus.Counter
	allocFailuresTotal  prometheus.Counter
	pfmemallocHandouts  prometheus.Counter
	recycledInPlace     prometheus.Counter
}

var (
	metricsOnce sync.Once
	sharedMetrics *metrics
)

func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			allocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pagefrag",
				Subsystem: "blockalloc",
				Name:      "allocations_total",
				Help:      "Number of blocks successfully allocated by this BlockAllocator.",
			}),
			releasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pagefrag",
				Subsystem: "blockalloc",
				Name:      "releases_total",
				Help:      "Number of blocks released back to the OS by this BlockAllocator.",
			}),
			allocFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pagefrag",
				Subsystem: "blockalloc",
				Name:      "alloc_failures_total",
				Help:      "Number of AllocBlock calls that failed.",
			}),
			pfmemallocHandouts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pagefrag",
				Subsystem: "blockalloc",
				Name:      "pfmemalloc_handouts_total",
				Help:      "Number of blocks handed out that were drawn from the simulated emergency reserve.",
			}),
			recycledInPlace: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "pagefrag",
				Subsystem: "blockalloc",
				Name:      "recycled_in_place_total",
				Help:      "Number of times a caller reported recycling a block in place instead of releasing it.",
			}),
		}
		prometheus.MustRegister(
			sharedMetrics.allocationsTotal,
			sharedMetrics.releasesTotal,
			sharedMetrics.allocFailuresTotal,
			sharedMetrics.pfmemallocHandouts,
			sharedMetrics.recycledInPlace,
		)
	})
	return sharedMetrics
}

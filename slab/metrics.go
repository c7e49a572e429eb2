package slab

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsSet holds this pool's Prometheus instrumentation. Grounded on
// rcornwell-S370 and GoogleCloudPlatform-gcsfuse, both of which wire
// client_golang counters/gauges directly into otherwise CPU-bound
// allocator/emulator internals (see SPEC_FULL.md §2).
type metricsSet struct {
	allocsTotal *prometheus.CounterVec
	freesTotal  *prometheus.CounterVec
	oomTotal    prometheus.Counter
	pagesAlloc  prometheus.Counter
	pagesFree   prometheus.Counter
}

func newMetricsSet(name string) *metricsSet {
	labels := prometheus.Labels{"pool": name}
	return &metricsSet{
		allocsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "hotmem",
			Subsystem:   "slab",
			Name:        "allocs_total",
			Help:        "Allocations served by the slab pool, by chunk size class; page acquisitions count under class \"page-run\".",
			ConstLabels: labels,
		}, []string{"class"}),
		freesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "hotmem",
			Subsystem:   "slab",
			Name:        "frees_total",
			Help:        "Frees served by the slab pool, by chunk size class; page releases count under class \"page-run\".",
			ConstLabels: labels,
		}, []string{"class"}),
		oomTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "hotmem",
			Subsystem:   "slab",
			Name:        "oom_total",
			Help:        "Times alloc_pages found no free run large enough.",
			ConstLabels: labels,
		}),
		pagesAlloc: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "hotmem",
			Subsystem:   "slab",
			Name:        "pages_allocated_total",
			Help:        "Total pages handed out by alloc_pages.",
			ConstLabels: labels,
		}),
		pagesFree: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "hotmem",
			Subsystem:   "slab",
			Name:        "pages_freed_total",
			Help:        "Total pages returned via free_pages.",
			ConstLabels: labels,
		}),
	}
}

func classLabel(shift uint) string {
	return fmt.Sprintf("2^%d", shift)
}

func (m *metricsSet) observeChunkAlloc(shift uint) {
	if m == nil {
		return
	}
	m.allocsTotal.WithLabelValues(classLabel(shift)).Inc()
}

func (m *metricsSet) observeChunkFree(shift uint) {
	if m == nil {
		return
	}
	m.freesTotal.WithLabelValues(classLabel(shift)).Inc()
}

func (m *metricsSet) observePageAlloc(pages int) {
	if m == nil {
		return
	}
	m.allocsTotal.WithLabelValues("page-run").Inc()
	m.pagesAlloc.Add(float64(pages))
}

func (m *metricsSet) observePageFree(pages int) {
	if m == nil {
		return
	}
	m.freesTotal.WithLabelValues("page-run").Inc()
	m.pagesFree.Add(float64(pages))
}

func (m *metricsSet) observeOOM() {
	if m == nil {
		return
	}
	m.oomTotal.Inc()
}

// Collectors returns the pool's Prometheus collectors for the caller
// to register (e.g. with a prometheus.Registry). The pool registers
// nothing itself, and cmd/hotmemctl does not register them either.
func (p *Pool) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.metrics.allocsTotal,
		p.metrics.freesTotal,
		p.metrics.oomTotal,
		p.metrics.pagesAlloc,
		p.metrics.pagesFree,
	}
}

package cache

// metrics.go mirrors the teacher's metrics.go shape: a metricsSink
// interface hidden behind a no-op/Prometheus pair, selected once at
// construction so the hot path never branches on "is metrics enabled".
//
// ┌──────────────────────────────────┐
// │ Metric                   │ Type  │
// ├───────────────────────────┼───────┤
// │ disasm_cache_hits_total   │ Ctr   │
// │ disasm_cache_misses_total │ Ctr   │
// │ disasm_cache_evictions_total│ Ctr │
// │ disasm_cache_reenqueues_total│ Ctr│
// │ disasm_cache_published_total│ Ctr │
// │ disasm_cache_abandoned_total│ Ctr │
// │ disasm_cache_arena_bytes  │ Gge   │
// │ disasm_cache_ring_occupancy_bytes│Gge│
// │ disasm_cache_freelist_depth│ Gge  │
// └──────────────────────────────────┘
//
// © 2025 disasm-cache authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incHit()
	incMiss()
	incEvict(n int)
	incReenqueue(n int)
	incPublish()
	incAbandon()
	setArenaBytes(v int64)
	setRingOccupancy(v int)
	setFreeListDepth(v int)
}

type noopMetrics struct{}

func (noopMetrics) incHit()                {}
func (noopMetrics) incMiss()               {}
func (noopMetrics) incEvict(int)           {}
func (noopMetrics) incReenqueue(int)       {}
func (noopMetrics) incPublish()            {}
func (noopMetrics) incAbandon()            {}
func (noopMetrics) setArenaBytes(int64)    {}
func (noopMetrics) setRingOccupancy(int)   {}
func (noopMetrics) setFreeListDepth(int)   {}

type promMetrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	evictions   prometheus.Counter
	reenqueues  prometheus.Counter
	published   prometheus.Counter
	abandoned   prometheus.Counter
	arenaBytes  prometheus.Gauge
	ringBytes   prometheus.Gauge
	freeListLen prometheus.Gauge
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	const ns = "disasm_cache"
	pm := &promMetrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "hits_total", Help: "Number of cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "misses_total", Help: "Number of cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "evictions_total", Help: "Number of nodes reclaimed by the evictor.",
		}),
		reenqueues: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "reenqueues_total", Help: "Number of stale nodes re-enqueued for decode.",
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "published_total", Help: "Number of worker publications.",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "abandoned_total", Help: "Number of work orders abandoned (lost single-flight claim).",
		}),
		arenaBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "arena_bytes", Help: "Live bytes bump-allocated across every stripe arena.",
		}),
		ringBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "ring_occupancy_bytes", Help: "Unconsumed bytes currently queued on the U2P ring.",
		}),
		freeListLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "freelist_depth", Help: "Reclaimed node shells waiting on stripe free-lists.",
		}),
	}
	reg.MustRegister(pm.hits, pm.misses, pm.evictions, pm.reenqueues, pm.published, pm.abandoned, pm.arenaBytes, pm.ringBytes, pm.freeListLen)
	return pm
}

func (m *promMetrics) incHit()              { m.hits.Inc() }
func (m *promMetrics) incMiss()             { m.misses.Inc() }
func (m *promMetrics) incEvict(n int)       { m.evictions.Add(float64(n)) }
func (m *promMetrics) incReenqueue(n int)   { m.reenqueues.Add(float64(n)) }
func (m *promMetrics) incPublish()          { m.published.Inc() }
func (m *promMetrics) incAbandon()          { m.abandoned.Inc() }
func (m *promMetrics) setArenaBytes(v int64) { m.arenaBytes.Set(float64(v)) }
func (m *promMetrics) setRingOccupancy(v int) { m.ringBytes.Set(float64(v)) }
func (m *promMetrics) setFreeListDepth(v int) { m.freeListLen.Set(float64(v)) }

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}

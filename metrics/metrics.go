package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts cache and loader events. A nil *Metrics is valid and
// counts nothing, so instrumentation is optional for callers.
type Metrics struct {
	memoryHits    prometheus.Counter
	diskHits      prometheus.Counter
	misses        prometheus.Counter
	produced      prometheus.Counter
	evictions     prometheus.Counter
	staleDiscards prometheus.Counter
}

// New creates Metrics registered on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		memoryHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagecache_memory_hits_total",
			Help: "Number of loads served from the memory cache.",
		}),
		diskHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagecache_disk_hits_total",
			Help: "Number of loads served from the disk cache.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagecache_misses_total",
			Help: "Number of loads not served by any cache tier.",
		}),
		produced: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagecache_produced_total",
			Help: "Number of values produced by the slow producer.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagecache_disk_evictions_total",
			Help: "Number of disk cache entries evicted over budget.",
		}),
		staleDiscards: factory.NewCounter(prometheus.CounterOpts{
			Name: "imagecache_stale_discards_total",
			Help: "Number of finished results discarded because the slot moved on.",
		}),
	}
}

// MemoryHit counts a load served from the memory cache.
func (metrics *Metrics) MemoryHit() {
	if metrics != nil {
		metrics.memoryHits.Inc()
	}
}

// DiskHit counts a load served from the disk cache.
func (metrics *Metrics) DiskHit() {
	if metrics != nil {
		metrics.diskHits.Inc()
	}
}

// Miss counts a load not served by any cache tier.
func (metrics *Metrics) Miss() {
	if metrics != nil {
		metrics.misses.Inc()
	}
}

// Produced counts a value produced by the slow producer.
func (metrics *Metrics) Produced() {
	if metrics != nil {
		metrics.produced.Inc()
	}
}

// Evicted counts disk cache entries evicted over budget.
func (metrics *Metrics) Evicted(count int) {
	if metrics != nil && count > 0 {
		metrics.evictions.Add(float64(count))
	}
}

// StaleDiscard counts a finished result discarded at delivery.
func (metrics *Metrics) StaleDiscard() {
	if metrics != nil {
		metrics.staleDiscards.Inc()
	}
}

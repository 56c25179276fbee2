// Package metrics provides Prometheus metrics for mvstore.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a store instance.
type Metrics struct {
	// Commit pipeline metrics
	CommitsTotal         prometheus.Counter
	CommitDuration        prometheus.Histogram
	CommitBytesWritten    prometheus.Counter
	CurrentVersion        prometheus.Gauge

	// Chunk & free-space metrics
	ChunksTotal        prometheus.Gauge
	ChunksLive         prometheus.Gauge
	ChunksDead         prometheus.Gauge
	ChunkGCTotal       prometheus.Counter
	FillRatePercent    prometheus.Gauge
	FileSizeBytes      prometheus.Gauge

	// Compaction metrics
	CompactionsTotal    *prometheus.CounterVec
	CompactionDuration  *prometheus.HistogramVec
	BytesReclaimedTotal prometheus.Counter

	// Cache metrics
	PageCacheHitsTotal   prometheus.Counter
	PageCacheMissesTotal prometheus.Counter
	TocCacheHitsTotal    prometheus.Counter
	TocCacheMissesTotal  prometheus.Counter

	// MVCC metrics
	OldestVersionToKeep prometheus.Gauge
	OpenReadersGauge    prometheus.Gauge

	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{ServerStartTime: time.Now()}

	m.CommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_commits_total",
		Help: "Total number of completed commits",
	})
	m.CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mvstore_commit_duration_seconds",
		Help:    "Duration of the commit/serialize/persist pipeline",
		Buckets: prometheus.DefBuckets,
	})
	m.CommitBytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_commit_bytes_written_total",
		Help: "Total bytes written by commits",
	})
	m.CurrentVersion = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_current_version",
		Help: "Current store version",
	})

	m.ChunksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_chunks_total",
		Help: "Total number of chunks known to the store",
	})
	m.ChunksLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_chunks_live",
		Help: "Number of chunks with at least one live page",
	})
	m.ChunksDead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_chunks_dead",
		Help: "Number of chunks with no live pages, awaiting reclamation",
	})
	m.ChunkGCTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_chunk_gc_total",
		Help: "Total number of chunks physically reclaimed",
	})
	m.FillRatePercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_fill_rate_percent",
		Help: "Percentage of used blocks below the high-water mark",
	})
	m.FileSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_file_size_bytes",
		Help: "Current file size in bytes",
	})

	m.CompactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mvstore_compactions_total",
		Help: "Total number of compaction passes, by strategy",
	}, []string{"strategy"})
	m.CompactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mvstore_compaction_duration_seconds",
		Help:    "Duration of compaction passes, by strategy",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})
	m.BytesReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_bytes_reclaimed_total",
		Help: "Total bytes reclaimed by compaction and chunk GC",
	})

	m.PageCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_page_cache_hits_total",
		Help: "Total page cache hits",
	})
	m.PageCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_page_cache_misses_total",
		Help: "Total page cache misses",
	})
	m.TocCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_toc_cache_hits_total",
		Help: "Total ToC cache hits",
	})
	m.TocCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mvstore_toc_cache_misses_total",
		Help: "Total ToC cache misses",
	})

	m.OldestVersionToKeep = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_oldest_version_to_keep",
		Help: "Oldest version still protected from reclamation",
	})
	m.OpenReadersGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_open_readers",
		Help: "Number of outstanding registered version readers",
	})

	m.ServerUptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mvstore_uptime_seconds",
		Help: "Seconds since the store was opened",
	})

	go m.updateUptime()
	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordCommit records a completed commit.
func (m *Metrics) RecordCommit(version uint64, bytesWritten int, duration time.Duration) {
	m.CommitsTotal.Inc()
	m.CommitDuration.Observe(duration.Seconds())
	m.CommitBytesWritten.Add(float64(bytesWritten))
	m.CurrentVersion.Set(float64(version))
}

// RecordCompaction records a completed compaction pass.
func (m *Metrics) RecordCompaction(strategy string, bytesReclaimed int64, duration time.Duration) {
	m.CompactionsTotal.WithLabelValues(strategy).Inc()
	m.CompactionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.BytesReclaimedTotal.Add(float64(bytesReclaimed))
}

// UpdateChunkStats updates the chunk and fill-rate gauges.
func (m *Metrics) UpdateChunkStats(total, live, dead int, fillRate int, fileSize int64) {
	m.ChunksTotal.Set(float64(total))
	m.ChunksLive.Set(float64(live))
	m.ChunksDead.Set(float64(dead))
	m.FillRatePercent.Set(float64(fillRate))
	m.FileSizeBytes.Set(float64(fileSize))
}

// RecordPageCacheLookup records a page cache hit or miss.
func (m *Metrics) RecordPageCacheLookup(hit bool) {
	if hit {
		m.PageCacheHitsTotal.Inc()
	} else {
		m.PageCacheMissesTotal.Inc()
	}
}

// RecordTocCacheLookup records a ToC cache hit or miss.
func (m *Metrics) RecordTocCacheLookup(hit bool) {
	if hit {
		m.TocCacheHitsTotal.Inc()
	} else {
		m.TocCacheMissesTotal.Inc()
	}
}

// UpdateVersionStats updates the MVCC gauges.
func (m *Metrics) UpdateVersionStats(oldestVersionToKeep uint64, openReaders int) {
	m.OldestVersionToKeep.Set(float64(oldestVersionToKeep))
	m.OpenReadersGauge.Set(float64(openReaders))
}

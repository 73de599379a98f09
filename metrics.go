package main

import "github.com/prometheus/client_golang/prometheus"

var (
	statusCodes   *prometheus.CounterVec
	cacheHits     *prometheus.CounterVec
	cacheMisses   *prometheus.CounterVec
	upstreamFetch *prometheus.CounterVec

	rateLimited  prometheus.Counter
	badRequest   prometheus.Counter
	bytesWritten prometheus.Counter

	assetCacheItems  prometheus.Gauge
	assetCacheBytes  prometheus.Gauge
	resultCacheItems *prometheus.GaugeVec
)

func init() {
	statusCodes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "status_codes",
			Help: "Distribution by status codes",
		},
		[]string{"handler", "code"},
	)

	cacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Number of requests served from cache",
		},
		[]string{"cache"},
	)

	cacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Number of requests that missed the cache",
		},
		[]string{"cache"},
	)

	upstreamFetch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_fetch_total",
			Help: "Number of outbound fetches to the origin site",
		},
		[]string{"kind", "status"},
	)

	rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Number of requests rejected by admission control",
	})

	badRequest = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bad_request",
		Help: "Total number of unsupported requests",
	})

	bytesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bytes_written_total",
		Help: "Total number of response bytes sent to clients",
	})

	assetCacheItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asset_cache_items",
		Help: "Number of files in the asset cache",
	})

	assetCacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "asset_cache_bytes",
		Help: "Total size of the asset cache in bytes",
	})

	resultCacheItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "result_cache_items",
			Help: "Number of entries per result cache",
		},
		[]string{"cache"},
	)

	prometheus.MustRegister(statusCodes, cacheHits, cacheMisses, upstreamFetch,
		rateLimited, badRequest, bytesWritten, assetCacheItems, assetCacheBytes,
		resultCacheItems)
}

// refreshCacheMetrics copies cache stats into the exported gauges.
// Called periodically from main.
func (s *server) refreshCacheMetrics() {
	as := s.assets.Stats()
	assetCacheItems.Set(float64(as.Items))
	assetCacheBytes.Set(float64(as.Size))

	resultCacheItems.WithLabelValues(s.manga.Name()).Set(float64(s.manga.Len()))
	resultCacheItems.WithLabelValues(s.latest.Name()).Set(float64(s.latest.Len()))
	resultCacheItems.WithLabelValues(s.hot.Name()).Set(float64(s.hot.Len()))
}

// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration measures engine queries; kind is "window" or "yearly".
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meteo_query_duration_seconds",
			Help:    "Duration of time-series queries including store round trips",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"kind"},
	)

	// ResponseCache counts response cache lookups by result (hit|miss).
	ResponseCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteo_response_cache_total",
			Help: "Response cache lookups",
		},
		[]string{"result"},
	)

	// DeviceCacheRefresh counts device metadata refreshes by status (ok|error).
	DeviceCacheRefresh = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteo_device_cache_refresh_total",
			Help: "Device metadata cache refreshes",
		},
		[]string{"status"},
	)

	// StoreRoundTrips counts store calls by operation and status.
	StoreRoundTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteo_store_roundtrips_total",
			Help: "Round trips to the key-value store",
		},
		[]string{"op", "status"},
	)

	// RecordsSkipped counts stored records dropped while building a response.
	RecordsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteo_records_skipped_total",
			Help: "Stored samples skipped during alignment",
		},
		[]string{"reason"},
	)

	// SamplesIngested counts samples handled by the ingestion worker.
	SamplesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meteo_samples_ingested_total",
			Help: "Samples received by the ingestion worker",
		},
		[]string{"status"},
	)

	// HostStat holds the last host reading per stat
	// (cpu_percent, ram_used_mb, ram_total_mb, app_ram_mb, disk_used_gb, disk_total_gb, board_temp_c).
	HostStat = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meteo_host_stat",
			Help: "Last reading of the host running the stack",
		},
		[]string{"stat"},
	)
)

// Status maps an error to the "ok"/"error" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

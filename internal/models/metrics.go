package models

import "time"

// SystemMetrics is a lightweight aggregate snapshot served to admins; the
// full series lives on the Prometheus endpoint.
type SystemMetrics struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	AuditEntriesDropped      uint64    `json:"audit_entries_dropped"`
	ExportsProcessed         uint64    `json:"exports_processed"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

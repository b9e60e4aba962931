// Package metrics provides Prometheus metrics for table export operations.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Prometheus metrics
var (
	// TableExportCount tracks table exports by mode and outcome
	TableExportCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlsync_table_export_total",
		Help: "The total number of table exports performed",
	}, []string{"database", "mode", "status"})

	// TableExportDuration measures time taken to extract and upload one table
	TableExportDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosqlsync_table_export_duration_seconds",
		Help:    "Time taken to export a table",
		Buckets: prometheus.DefBuckets,
	}, []string{"database", "mode"})

	// RowsExported counts rows written to exported artifacts
	RowsExported = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlsync_rows_exported_total",
		Help: "The total number of rows exported",
	}, []string{"database", "table"})

	// CursorPosition records the last persisted cursor of each table
	CursorPosition = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gosqlsync_cursor_position",
		Help: "Last persisted auto-increment cursor of a table",
	}, []string{"database", "table"})

	// LastExportTimestamp records timestamp of the last successful run per database
	LastExportTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gosqlsync_last_export_timestamp",
		Help: "Timestamp of the last successful export run",
	}, []string{"database", "command"})

	// RetryCount counts reconnect-and-retry attempts after transient source errors
	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlsync_retry_total",
		Help: "The total number of retries after transient source errors",
	}, []string{"command"})

	// UploadCount tracks the total number of object uploads performed
	UploadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlsync_upload_total",
		Help: "The total number of object uploads performed",
	}, []string{"status"})

	// UploadDuration measures time taken to compress and upload an artifact
	UploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gosqlsync_upload_duration_seconds",
		Help:    "Time taken to compress and upload an artifact",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	// UploadBytes counts compressed bytes sent to object storage
	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gosqlsync_upload_bytes_total",
		Help: "Compressed bytes uploaded to object storage",
	})

	// DownloadCount tracks imports from object storage
	DownloadCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlsync_download_total",
		Help: "The total number of object downloads performed",
	}, []string{"status"})

	// LocalRetentionDeletes counts local artifacts removed by retention
	LocalRetentionDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gosqlsync_local_retention_deletions_total",
		Help: "The total number of local artifacts deleted by retention policy",
	}, []string{"kind"})
)

// StartMetricsServer starts the HTTP server for metrics and health check
// endpoints. It blocks until the server stops.
func StartMetricsServer(port string, logger *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Infof("Starting metrics server on port %s", port)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("Metrics server stopped: %v", err)
	}
}

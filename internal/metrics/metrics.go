// Package metrics collects Prometheus counters for a single CLI run and
// exports them in the node_exporter textfile format.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Download results.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	Downloads      *prometheus.CounterVec
	DownloadBytes  prometheus.Counter
	Retries        prometheus.Counter
	Conversions    *prometheus.CounterVec
	CatalogRecords prometheus.Gauge
	ScrapeFailures prometheus.Counter
}

// New creates and registers all metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nhanes_downloads_total",
			Help: "Files handled by the downloader, by result",
		}, []string{"result"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nhanes_download_bytes_total",
			Help: "Bytes written by successful downloads",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nhanes_download_retries_total",
			Help: "Fetch attempts beyond the first one",
		}),
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nhanes_conversions_total",
			Help: "Files handled by the converter, by result",
		}, []string{"result"}),
		CatalogRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nhanes_catalog_records",
			Help: "Records in the most recently loaded catalog",
		}),
		ScrapeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nhanes_scrape_failures_total",
			Help: "Categories whose catalog page could not be scraped",
		}),
	}

	m.registry.MustRegister(
		m.Downloads,
		m.DownloadBytes,
		m.Retries,
		m.Conversions,
		m.CatalogRecords,
		m.ScrapeFailures,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Download records the terminal state of one URL.
func (m *Metrics) Download(result string, bytes int64) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.DownloadBytes.Add(float64(bytes))
	}
}

// Retry records one retried fetch attempt.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// Conversion records the outcome of one file conversion.
func (m *Metrics) Conversion(result string) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(result).Inc()
}

// SetCatalogRecords records the size of the active catalog.
func (m *Metrics) SetCatalogRecords(n int) {
	if m == nil {
		return
	}
	m.CatalogRecords.Set(float64(n))
}

// ScrapeFailed records one failed category scrape.
func (m *Metrics) ScrapeFailed() {
	if m == nil {
		return
	}
	m.ScrapeFailures.Inc()
}

// WriteTextfile writes all metrics to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

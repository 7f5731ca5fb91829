package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/burrow-io/burrow/pkg/log"
)

// ConsoleExporter writes metric snapshots to the structured log.
type ConsoleExporter struct{}

// NewConsoleExporter creates a console exporter.
func NewConsoleExporter() *ConsoleExporter {
	return &ConsoleExporter{}
}

// Export logs one line per metric value.
func (e *ConsoleExporter) Export(snapshots []Snapshot) error {
	logger := log.WithComponent("metrics-export")
	for _, snap := range snapshots {
		for _, v := range snap.Values {
			evt := logger.Info().
				Str("metric", snap.Name).
				Str("type", string(snap.Type))
			for k, lv := range v.Labels {
				evt = evt.Str(k, lv)
			}
			if snap.Type == TypeHistogram {
				evt.Float64("sum", v.Sum).Uint64("count", v.Count).Msg("metric")
			} else {
				evt.Float64("value", v.Value).Msg("metric")
			}
		}
	}
	return nil
}

// FileExporter appends metric snapshots as JSON lines to a file.
type FileExporter struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileExporter opens (or creates) the target file for appending.
func NewFileExporter(path string) (*FileExporter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open metrics file: %w", err)
	}
	return &FileExporter{file: f}, nil
}

// Export writes the snapshot list as one JSON line.
func (e *FileExporter) Export(snapshots []Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := json.NewEncoder(e.file).Encode(snapshots); err != nil {
		return fmt.Errorf("failed to encode metrics snapshot: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (e *FileExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Close()
}

// PrometheusBridge mirrors the latest snapshot into a Prometheus registry so
// it can be scraped via the standard /metrics endpoint.
type PrometheusBridge struct {
	mu     sync.Mutex
	latest []Snapshot
	reg    *prometheus.Registry
}

// NewPrometheusBridge creates a bridge backed by its own Prometheus registry.
func NewPrometheusBridge() *PrometheusBridge {
	b := &PrometheusBridge{reg: prometheus.NewRegistry()}
	b.reg.MustRegister(b)
	return b
}

// Export retains the snapshot for the next scrape.
func (b *PrometheusBridge) Export(snapshots []Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest = snapshots
	return nil
}

// Handler returns the scrape handler for the bridged registry.
func (b *PrometheusBridge) Handler() http.Handler {
	return promhttp.HandlerFor(b.reg, promhttp.HandlerOpts{})
}

// Describe sends no descriptors; the bridge is an unchecked collector since
// its metric set is only known at scrape time.
func (b *PrometheusBridge) Describe(ch chan<- *prometheus.Desc) {}

// Collect converts the latest snapshot into Prometheus metrics.
func (b *PrometheusBridge) Collect(ch chan<- prometheus.Metric) {
	b.mu.Lock()
	snapshots := b.latest
	b.mu.Unlock()

	for _, snap := range snapshots {
		for _, v := range snap.Values {
			desc := prometheus.NewDesc(snap.Name, snap.Description, nil, prometheus.Labels(v.Labels))

			switch snap.Type {
			case TypeCounter:
				m, err := prometheus.NewConstMetric(desc, prometheus.CounterValue, v.Value)
				if err == nil {
					ch <- m
				}
			case TypeGauge:
				m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v.Value)
				if err == nil {
					ch <- m
				}
			case TypeHistogram:
				buckets := make(map[float64]uint64, len(v.Buckets))
				for _, bucket := range v.Buckets {
					buckets[bucket.UpperBound] = bucket.Count
				}
				m, err := prometheus.NewConstHistogram(desc, v.Count, v.Sum, buckets)
				if err == nil {
					ch <- m
				}
			}
		}
	}
}

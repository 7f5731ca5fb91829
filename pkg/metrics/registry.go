package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/burrow-io/burrow/pkg/log"
)

// Type identifies a metric kind.
type Type string

const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
)

// DefaultBuckets are the histogram bucket upper bounds used when a caller
// does not provide any.
var DefaultBuckets = []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60}

// labelKey builds the canonical key for a label set: pairs sorted by name.
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// Counter is a monotonically increasing metric keyed by label set.
type Counter struct {
	name        string
	description string

	mu     sync.Mutex
	values map[string]float64
	labels map[string]map[string]string
}

// Inc adds a non-negative delta to the label set's value. Negative deltas
// are ignored: counters never decrease.
func (c *Counter) Inc(delta float64, labels map[string]string) {
	if delta < 0 {
		return
	}
	key := labelKey(labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[key]; !ok {
		c.labels[key] = copyLabels(labels)
	}
	c.values[key] += delta
}

// Get returns the current value for a label set.
func (c *Counter) Get(labels map[string]string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[labelKey(labels)]
}

// Gauge is a settable metric keyed by label set.
type Gauge struct {
	name        string
	description string

	mu     sync.Mutex
	values map[string]float64
	labels map[string]map[string]string
}

// Set replaces the label set's value.
func (g *Gauge) Set(value float64, labels map[string]string) {
	key := labelKey(labels)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.values[key]; !ok {
		g.labels[key] = copyLabels(labels)
	}
	g.values[key] = value
}

// Inc adds delta to the label set's value.
func (g *Gauge) Inc(delta float64, labels map[string]string) {
	key := labelKey(labels)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.values[key]; !ok {
		g.labels[key] = copyLabels(labels)
	}
	g.values[key] += delta
}

// Dec subtracts delta from the label set's value.
func (g *Gauge) Dec(delta float64, labels map[string]string) {
	g.Inc(-delta, labels)
}

// Get returns the current value for a label set.
func (g *Gauge) Get(labels map[string]string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values[labelKey(labels)]
}

// histogramSeries is the per-label-set state of a histogram.
type histogramSeries struct {
	labels  map[string]string
	counts  []uint64
	sum     float64
	count   uint64
}

// Histogram is a bucketed distribution metric keyed by label set. Bucket
// counts are cumulative: an observation lands in every bucket whose upper
// bound is >= the value, so a value exactly on a boundary increments that
// bucket.
type Histogram struct {
	name        string
	description string
	buckets     []float64

	mu     sync.Mutex
	series map[string]*histogramSeries
}

// Observe records a value for a label set.
func (h *Histogram) Observe(value float64, labels map[string]string) {
	key := labelKey(labels)
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.series[key]
	if !ok {
		s = &histogramSeries{
			labels: copyLabels(labels),
			counts: make([]uint64, len(h.buckets)),
		}
		h.series[key] = s
	}

	for i, bound := range h.buckets {
		if value <= bound {
			s.counts[i]++
		}
	}
	s.sum += value
	s.count++
}

// Sum returns the running sum for a label set.
func (h *Histogram) Sum(labels map[string]string) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[labelKey(labels)]; ok {
		return s.sum
	}
	return 0
}

// Count returns the observation count for a label set.
func (h *Histogram) Count(labels map[string]string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.series[labelKey(labels)]; ok {
		return s.count
	}
	return 0
}

// BucketCount is one cumulative bucket in a snapshot.
type BucketCount struct {
	UpperBound float64 `json:"upper_bound"`
	Count      uint64  `json:"count"`
}

// SnapshotValue is the value of one label set at snapshot time. Counters and
// gauges fill Value; histograms fill Sum, Count, and Buckets.
type SnapshotValue struct {
	Labels  map[string]string `json:"labels,omitempty"`
	Value   float64           `json:"value,omitempty"`
	Sum     float64           `json:"sum,omitempty"`
	Count   uint64            `json:"count,omitempty"`
	Buckets []BucketCount     `json:"buckets,omitempty"`
}

// Snapshot is the exported form of one metric.
type Snapshot struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        Type            `json:"type"`
	Values      []SnapshotValue `json:"values"`
}

// Exporter receives metric snapshots on every flush.
type Exporter interface {
	Export(snapshots []Snapshot) error
}

// Registry owns all metrics of a process and flushes snapshots to the
// configured exporters on a fixed cadence.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	exporters  []Exporter

	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewRegistry creates an empty metric registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		stopCh:     make(chan struct{}),
		logger:     log.WithComponent("metrics"),
	}
}

// Counter returns the counter with the given name, creating it on first use.
func (r *Registry) Counter(name, description string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := &Counter{
		name:        name,
		description: description,
		values:      make(map[string]float64),
		labels:      make(map[string]map[string]string),
	}
	r.counters[name] = c
	return c
}

// Gauge returns the gauge with the given name, creating it on first use.
func (r *Registry) Gauge(name, description string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := &Gauge{
		name:        name,
		description: description,
		values:      make(map[string]float64),
		labels:      make(map[string]map[string]string),
	}
	r.gauges[name] = g
	return g
}

// Histogram returns the histogram with the given name, creating it on first
// use. A nil bucket list selects DefaultBuckets.
func (r *Registry) Histogram(name, description string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[name]; ok {
		return h
	}
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)

	h := &Histogram{
		name:        name,
		description: description,
		buckets:     bounds,
		series:      make(map[string]*histogramSeries),
	}
	r.histograms[name] = h
	return h
}

// Snapshot captures the current value of every metric.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.Lock()
	counters := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, c)
	}
	gauges := make([]*Gauge, 0, len(r.gauges))
	for _, g := range r.gauges {
		gauges = append(gauges, g)
	}
	histograms := make([]*Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		histograms = append(histograms, h)
	}
	r.mu.Unlock()

	var out []Snapshot

	for _, c := range counters {
		c.mu.Lock()
		snap := Snapshot{Name: c.name, Description: c.description, Type: TypeCounter}
		for key, value := range c.values {
			snap.Values = append(snap.Values, SnapshotValue{
				Labels: copyLabels(c.labels[key]),
				Value:  value,
			})
		}
		c.mu.Unlock()
		out = append(out, snap)
	}

	for _, g := range gauges {
		g.mu.Lock()
		snap := Snapshot{Name: g.name, Description: g.description, Type: TypeGauge}
		for key, value := range g.values {
			snap.Values = append(snap.Values, SnapshotValue{
				Labels: copyLabels(g.labels[key]),
				Value:  value,
			})
		}
		g.mu.Unlock()
		out = append(out, snap)
	}

	for _, h := range histograms {
		h.mu.Lock()
		snap := Snapshot{Name: h.name, Description: h.description, Type: TypeHistogram}
		for _, s := range h.series {
			value := SnapshotValue{
				Labels: copyLabels(s.labels),
				Sum:    s.sum,
				Count:  s.count,
			}
			for i, bound := range h.buckets {
				value.Buckets = append(value.Buckets, BucketCount{
					UpperBound: bound,
					Count:      s.counts[i],
				})
			}
			snap.Values = append(snap.Values, value)
		}
		h.mu.Unlock()
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AddExporter attaches a snapshot exporter.
func (r *Registry) AddExporter(exporter Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporters = append(r.exporters, exporter)
}

// Flush hands a snapshot to every exporter. Export failures are logged and
// counted; they never propagate.
func (r *Registry) Flush() {
	snapshot := r.Snapshot()

	r.mu.Lock()
	exporters := make([]Exporter, len(r.exporters))
	copy(exporters, r.exporters)
	r.mu.Unlock()

	for _, exporter := range exporters {
		if err := exporter.Export(snapshot); err != nil {
			r.logger.Error().Err(err).Msg("Metric export failed")
			r.Counter("exporter_errors_total", "Observability exporter failures").
				Inc(1, map[string]string{"component": "metrics"})
		}
	}
}

// StartFlushLoop flushes snapshots on a fixed cadence until Stop.
func (r *Registry) StartFlushLoop(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.Flush()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the flush loop and performs a final flush.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	r.Flush()
}

var (
	defaultRegistry   = NewRegistry()
	defaultRegistryMu sync.RWMutex
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultRegistryMu.RLock()
	defer defaultRegistryMu.RUnlock()
	return defaultRegistry
}

// SetDefault replaces the process-wide registry. Tests use this to isolate
// metric state.
func SetDefault(r *Registry) {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistry = r
}

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterMonotone(t *testing.T) {
	reg := NewRegistry()
	c := reg.Counter("test_total", "test counter")

	labels := map[string]string{"status": "success"}
	c.Inc(1, labels)
	c.Inc(2, labels)
	assert.Equal(t, 3.0, c.Get(labels))

	// Negative deltas are dropped: counters never decrease.
	c.Inc(-5, labels)
	assert.Equal(t, 3.0, c.Get(labels))
}

func TestLabelKeyOrderIndependent(t *testing.T) {
	a := labelKey(map[string]string{"a": "1", "b": "2"})
	b := labelKey(map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, a, b)

	reg := NewRegistry()
	c := reg.Counter("test_total", "test counter")
	c.Inc(1, map[string]string{"a": "1", "b": "2"})
	c.Inc(1, map[string]string{"b": "2", "a": "1"})
	assert.Equal(t, 2.0, c.Get(map[string]string{"a": "1", "b": "2"}))
}

func TestGauge(t *testing.T) {
	reg := NewRegistry()
	g := reg.Gauge("active", "active things")

	g.Set(5, nil)
	assert.Equal(t, 5.0, g.Get(nil))

	g.Inc(2, nil)
	assert.Equal(t, 7.0, g.Get(nil))

	g.Dec(3, nil)
	assert.Equal(t, 4.0, g.Get(nil))
}

func TestHistogramBucketBoundary(t *testing.T) {
	reg := NewRegistry()
	h := reg.Histogram("latency_seconds", "latency", []float64{0.1, 0.5, 1})

	// A value exactly on a bucket boundary lands in that bucket.
	h.Observe(0.5, nil)

	snap := reg.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Values, 1)

	value := snap[0].Values[0]
	assert.Equal(t, uint64(1), value.Count)
	assert.Equal(t, 0.5, value.Sum)

	byBound := make(map[float64]uint64)
	for _, b := range value.Buckets {
		byBound[b.UpperBound] = b.Count
	}
	assert.Equal(t, uint64(0), byBound[0.1])
	assert.Equal(t, uint64(1), byBound[0.5])
	assert.Equal(t, uint64(1), byBound[1])
}

func TestHistogramCountMatchesObservations(t *testing.T) {
	reg := NewRegistry()
	h := reg.Histogram("latency_seconds", "latency", nil)

	values := []float64{0.05, 0.2, 3, 100}
	for _, v := range values {
		h.Observe(v, nil)
	}

	assert.Equal(t, uint64(len(values)), h.Count(nil))
	assert.InDelta(t, 103.25, h.Sum(nil), 1e-9)
}

func TestRegistryGetOrCreate(t *testing.T) {
	reg := NewRegistry()
	a := reg.Counter("dup_total", "first")
	b := reg.Counter("dup_total", "second")
	assert.Same(t, a, b)
}

type capturingExporter struct {
	snapshots [][]Snapshot
}

func (e *capturingExporter) Export(snapshots []Snapshot) error {
	e.snapshots = append(e.snapshots, snapshots)
	return nil
}

func TestFlushHandsSnapshotToExporter(t *testing.T) {
	reg := NewRegistry()
	exporter := &capturingExporter{}
	reg.AddExporter(exporter)

	reg.Counter("reqs_total", "requests").Inc(1, map[string]string{"status": "success"})
	reg.Flush()

	require.Len(t, exporter.snapshots, 1)
	require.Len(t, exporter.snapshots[0], 1)
	assert.Equal(t, "reqs_total", exporter.snapshots[0][0].Name)
	assert.Equal(t, TypeCounter, exporter.snapshots[0][0].Type)
	assert.Equal(t, 1.0, exporter.snapshots[0][0].Values[0].Value)
}

func TestBuiltinHelpers(t *testing.T) {
	old := Default()
	reg := NewRegistry()
	SetDefault(reg)
	defer SetDefault(old)

	RecordAgentRequest("a1", "echo", "success")
	RecordMigration("node_failure")
	IncActiveAgents()
	IncActiveAgents()
	DecActiveAgents()

	requests := reg.Counter(MetricAgentRequests, "")
	assert.Equal(t, 1.0, requests.Get(map[string]string{
		"agent_id": "a1", "agent_name": "echo", "status": "success",
	}))

	migrations := reg.Counter(MetricMigrations, "")
	assert.Equal(t, 1.0, migrations.Get(map[string]string{"reason": "node_failure"}))

	active := reg.Gauge(MetricActiveAgents, "")
	assert.Equal(t, 1.0, active.Get(nil))
}

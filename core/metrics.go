package core

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func CloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	return maps.Clone(tags)
}

// HistogramSummary aggregates the observations of one series.
type HistogramSummary struct {
	Count int64
	Sum   float64
	Max   float64
}

// MemoryMetrics keeps process local totals keyed by metric name plus sorted
// tags, e.g. "payment.release.total{outcome=success}".
type MemoryMetrics struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string]HistogramSummary
}

func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{
		counters:   map[string]int64{},
		histograms: map[string]HistogramSummary{},
	}
}

func (m *MemoryMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[seriesKey(name, tags)] += value
}

func (m *MemoryMetrics) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := seriesKey(name, tags)
	summary := m.histograms[key]
	summary.Count++
	summary.Sum += value
	if summary.Count == 1 || value > summary.Max {
		summary.Max = value
	}
	m.histograms[key] = summary
}

func (m *MemoryMetrics) Counter(name string, tags map[string]string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[seriesKey(name, tags)]
}

// Snapshot copies the current counters and histogram summaries.
func (m *MemoryMetrics) Snapshot() (map[string]int64, map[string]HistogramSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.counters), maps.Clone(m.histograms)
}

func seriesKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}
	keys := slices.Sorted(maps.Keys(tags))
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(tags[key])
	}
	b.WriteByte('}')
	return b.String()
}

var (
	_ MetricsRecorder = NopMetricsRecorder{}
	_ MetricsRecorder = (*MemoryMetrics)(nil)
)

// Package observability tracks dashboard filter usage and exposes service metrics.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Filter dimensions recorded by the dashboard endpoints.
const (
	DimensionDepartment   = "departamento"
	DimensionMunicipality = "municipio"
	DimensionSportType    = "tipo_deporte"
)

// FilterStats tracks how often each filter value is selected per dimension.
type FilterStats struct {
	mu     sync.RWMutex
	freq   map[string]map[string]*ValueStats
	window time.Duration
	now    func() time.Time
}

// ValueStats holds usage statistics for one filter value.
type ValueStats struct {
	Dimension string    `json:"dimension"`
	Value     string    `json:"value"`
	Frequency int64     `json:"frequency"`
	LastSeen  time.Time `json:"last_seen"`
}

// NewFilterStats creates a tracker; entries unseen for longer than window are
// dropped by Prune.
func NewFilterStats(window time.Duration) *FilterStats {
	return &FilterStats{
		freq:   make(map[string]map[string]*ValueStats),
		window: window,
		now:    time.Now,
	}
}

// RecordFilter records one selection of value in dimension. Safe for concurrent use.
func (f *FilterStats) RecordFilter(dimension, value string) {
	if value == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	values, ok := f.freq[dimension]
	if !ok {
		values = make(map[string]*ValueStats)
		f.freq[dimension] = values
	}
	stats, ok := values[value]
	if !ok {
		stats = &ValueStats{Dimension: dimension, Value: value}
		values[value] = stats
	}
	stats.Frequency++
	stats.LastSeen = f.now()
}

// RecordSelection records every value of a multi-valued filter.
func (f *FilterStats) RecordSelection(dimension string, values []string) {
	for _, v := range values {
		f.RecordFilter(dimension, v)
	}
}

// TopValues returns copies of the n most used values of a dimension, by
// frequency descending then value ascending.
func (f *FilterStats) TopValues(dimension string, n int) []ValueStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	values := f.freq[dimension]
	if n <= 0 || len(values) == 0 {
		return []ValueStats{}
	}

	stats := make([]ValueStats, 0, len(values))
	for _, s := range values {
		stats = append(stats, *s)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Value < stats[j].Value
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Snapshot returns the top n values of every recorded dimension.
func (f *FilterStats) Snapshot(n int) map[string][]ValueStats {
	f.mu.RLock()
	dims := make([]string, 0, len(f.freq))
	for d := range f.freq {
		dims = append(dims, d)
	}
	f.mu.RUnlock()

	out := make(map[string][]ValueStats, len(dims))
	for _, d := range dims {
		out[d] = f.TopValues(d, n)
	}
	return out
}

// Prune removes entries whose LastSeen is older than the window.
func (f *FilterStats) Prune() {
	f.mu.Lock()
	defer f.mu.Unlock()

	threshold := f.now().Add(-f.window)
	for dim, values := range f.freq {
		for v, stats := range values {
			if stats.LastSeen.Before(threshold) {
				delete(values, v)
			}
		}
		if len(values) == 0 {
			delete(f.freq, dim)
		}
	}
}

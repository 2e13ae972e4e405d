package metrics

import (
	"sort"
	"strings"
	"sync"
)

// labelKey builds a stable map key from label pairs.
func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(0)
	}
	return b.String()
}

type counterEntry struct {
	labels map[string]string
	value  int64
}

// counterVec is a set of counters partitioned by labels.
type counterVec struct {
	mu      sync.Mutex
	entries map[string]*counterEntry
}

func newCounterVec() *counterVec {
	return &counterVec{entries: make(map[string]*counterEntry)}
}

func (v *counterVec) inc(labels map[string]string) {
	key := labelKey(labels)
	v.mu.Lock()
	defer v.mu.Unlock()
	e, ok := v.entries[key]
	if !ok {
		e = &counterEntry{labels: labels}
		v.entries[key] = e
	}
	e.value++
}

// snapshot returns the entries sorted by label key.
func (v *counterVec) snapshot() []counterEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]counterEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, *v.entries[k])
	}
	return out
}

// latencyBuckets are upper bounds in seconds.
var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

type histogram struct {
	labels  map[string]string
	buckets []float64
	counts  []int64
	count   int64
	sum     float64
}

// histogramVec is a set of fixed-bucket histograms partitioned by labels.
type histogramVec struct {
	mu      sync.Mutex
	buckets []float64
	entries map[string]*histogram
}

func newHistogramVec(buckets []float64) *histogramVec {
	return &histogramVec{buckets: buckets, entries: make(map[string]*histogram)}
}

func (v *histogramVec) observe(labels map[string]string, value float64) {
	key := labelKey(labels)
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.entries[key]
	if !ok {
		h = &histogram{labels: labels, buckets: v.buckets, counts: make([]int64, len(v.buckets))}
		v.entries[key] = h
	}
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			break
		}
	}
	h.count++
	h.sum += value
}

func (v *histogramVec) snapshot() []histogram {
	v.mu.Lock()
	defer v.mu.Unlock()
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]histogram, 0, len(keys))
	for _, k := range keys {
		h := *v.entries[k]
		h.counts = append([]int64(nil), h.counts...)
		out = append(out, h)
	}
	return out
}

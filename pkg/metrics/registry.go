// Package metrics maintains the process-wide string→non-negative-integer
// counter map, snapshots it to a newline-delimited file, and resets it
// daily, while additionally mirroring every counter into Prometheus metrics
// exposed over /metrics for operational dashboards.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry is a single process-wide counter table. Increments are guarded by
// one mutex; the event rate is low enough (a few per second at most) that
// this never contends meaningfully.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	path     string
}

// reservedLastWriteDuration is the key the metrics-flush timer records its
// own write duration under, in milliseconds.
const reservedLastWriteDuration = "last_write_duration"

// NewRegistry creates an empty registry that snapshots to dir/file.
func NewRegistry(dir, file string) *Registry {
	return &Registry{
		counters: make(map[string]int64),
		path:     filepath.Join(dir, file),
	}
}

// Inc increments key by 1, creating it at 1 if absent, and mirrors the
// change into the corresponding Prometheus metric.
func (r *Registry) Inc(key string) {
	r.mu.Lock()
	r.counters[key]++
	r.mu.Unlock()
	mirrorIncrement(key)
}

// Snapshot returns a copy of the current counter map.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		out[k] = v
	}
	return out
}

// Flush atomically rewrites the metrics file as one "name=value\n" line per
// counter (write to a tempfile in the same directory, then rename, so a
// concurrent reader never observes a truncated file) and records its own
// duration under last_write_duration. Returns the write duration.
func (r *Registry) Flush() (time.Duration, error) {
	start := time.Now()

	r.mu.Lock()
	lines := make([]string, 0, len(r.counters))
	keys := make([]string, 0, len(r.counters))
	for k := range r.counters {
		if k == reservedLastWriteDuration {
			continue // rewritten below with this write's own duration
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s=%d", k, r.counters[k]))
	}
	r.mu.Unlock()

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("creating metrics directory %s: %w", dir, err)
	}

	// The write duration describes this very write, so it is appended to the
	// rendered content (and not routed through another Inc/mutex round trip)
	// right before the file is created.
	dur := time.Since(start)
	lines = append(lines, fmt.Sprintf("%s=%d", reservedLastWriteDuration, dur.Milliseconds()))

	tmp, err := os.CreateTemp(dir, ".metrics-*.tmp")
	if err != nil {
		return 0, fmt.Errorf("creating metrics tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	content := strings.Join(lines, "\n") + "\n"
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("writing metrics tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("closing metrics tempfile: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming metrics file: %w", err)
	}

	r.mu.Lock()
	r.counters[reservedLastWriteDuration] = dur.Milliseconds()
	r.mu.Unlock()
	mirrorSet(reservedLastWriteDuration, float64(dur.Milliseconds()))

	return dur, nil
}

// Reset deletes every zero-valued key and zeroes every remaining key,
// satisfying invariant I4 ("no key whose value is still zero immediately
// after a reset").
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.counters {
		if v == 0 {
			delete(r.counters, k)
		} else {
			r.counters[k] = 0
		}
	}
}

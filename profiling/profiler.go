// Package profiling records named timing intervals from hot paths. One
// profiler is typically shared by every evaluator in a pipeline; recording
// is a map lookup plus two atomic adds, so per-batch call rates do not
// block the callers.
package profiling

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type timings struct {
	numCalls uint64
	totalNS  uint64
}

// IntervalStats is an immutable snapshot of one named interval.
type IntervalStats struct {
	NumCalls uint64
	TotalNS  uint64
}

func (s IntervalStats) Average() time.Duration {
	return time.Duration(float64(s.TotalNS) / math.Max(1, float64(s.NumCalls)))
}

type Profiler struct {
	mu        sync.RWMutex
	intervals map[string]*timings
}

func New() *Profiler {
	return &Profiler{intervals: map[string]*timings{}}
}

// AddInterval records one completed interval under name.
func (p *Profiler) AddInterval(name string, start, end time.Time) {
	p.mu.RLock()
	t, ok := p.intervals[name]
	p.mu.RUnlock()
	if !ok {
		p.mu.Lock()
		t, ok = p.intervals[name]
		if !ok {
			t = &timings{}
			p.intervals[name] = t
		}
		p.mu.Unlock()
	}
	atomic.AddUint64(&t.numCalls, 1)
	atomic.AddUint64(&t.totalNS, uint64(end.Sub(start)))
}

// Snapshot returns the current stats for every recorded interval name.
func (p *Profiler) Snapshot() map[string]IntervalStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]IntervalStats, len(p.intervals))
	for name, t := range p.intervals {
		out[name] = IntervalStats{
			NumCalls: atomic.LoadUint64(&t.numCalls),
			TotalNS:  atomic.LoadUint64(&t.totalNS),
		}
	}
	return out
}

// GetStats renders one report line per interval, sorted by name.
func (p *Profiler) GetStats() []string {
	snapshot := p.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)
	stats := make([]string, 0, len(names))
	for _, name := range names {
		s := snapshot[name]
		stats = append(stats, fmt.Sprintf("Interval %s: Total time=%s, Execution count=%d, Average time=%s",
			name,
			time.Duration(s.TotalNS),
			s.NumCalls,
			s.Average()))
	}
	return stats
}

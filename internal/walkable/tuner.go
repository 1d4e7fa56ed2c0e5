package walkable

import (
	"sync"
	"time"
)

const (
	minChunksPerCycle = 1
	maxChunksPerCycle = 500
	tunerWindow       = 5
)

// Tuner adapts how many chunks a generation batch processes so that each
// batch costs roughly the target wall-clock time.
type Tuner struct {
	mu      sync.Mutex
	target  time.Duration
	chunks  int
	samples []time.Duration
}

func NewTuner(target time.Duration) *Tuner {
	return &Tuner{target: target, chunks: minChunksPerCycle, samples: make([]time.Duration, 0, tunerWindow)}
}

func (t *Tuner) ChunksPerCycle() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chunks
}

func (t *Tuner) Target() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// SetTarget changes the per-batch budget; pending samples are discarded.
func (t *Tuner) SetTarget(target time.Duration) {
	t.mu.Lock()
	t.target = target
	t.samples = t.samples[:0]
	t.mu.Unlock()
}

// TunerAdjustment describes a change of batch size.
type TunerAdjustment struct {
	From    int
	To      int
	Average time.Duration
	Target  time.Duration
}

// Record adds the cost of one batch. Once the window is full the average is
// compared with the target: below 80% grows the batch by one chunk, above
// 120% shrinks it by one. The window restarts after every evaluation.
func (t *Tuner) Record(elapsed time.Duration) (TunerAdjustment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, elapsed)
	if len(t.samples) < tunerWindow {
		return TunerAdjustment{}, false
	}
	var sum time.Duration
	for _, s := range t.samples {
		sum += s
	}
	avg := sum / time.Duration(len(t.samples))
	t.samples = t.samples[:0]

	next := t.chunks
	switch {
	case avg*5 < t.target*4:
		next++
	case avg*5 > t.target*6:
		next--
	}
	next = min(max(next, minChunksPerCycle), maxChunksPerCycle)
	if next == t.chunks {
		return TunerAdjustment{}, false
	}
	adj := TunerAdjustment{From: t.chunks, To: next, Average: avg, Target: t.target}
	t.chunks = next
	return adj, true
}

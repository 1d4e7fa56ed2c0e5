package walkable

import (
	"testing"
	"time"
)

func feed(t *Tuner, d time.Duration, n int) (TunerAdjustment, bool) {
	var adj TunerAdjustment
	var changed bool
	for i := 0; i < n; i++ {
		adj, changed = t.Record(d)
	}
	return adj, changed
}

func TestTunerGrowsWhenFast(t *testing.T) {
	tuner := NewTuner(2 * time.Millisecond)
	if _, changed := feed(tuner, time.Millisecond, tunerWindow-1); changed {
		t.Fatalf("adjusted before the window filled")
	}
	adj, changed := tuner.Record(time.Millisecond)
	if !changed || adj.From != 1 || adj.To != 2 {
		t.Fatalf("expected 1 -> 2, got %+v changed=%v", adj, changed)
	}
	if tuner.ChunksPerCycle() != 2 {
		t.Fatalf("expected 2 chunks per cycle, got %d", tuner.ChunksPerCycle())
	}
}

func TestTunerShrinksWhenSlowButNotBelowOne(t *testing.T) {
	tuner := NewTuner(2 * time.Millisecond)
	feed(tuner, time.Millisecond, tunerWindow*3)
	if got := tuner.ChunksPerCycle(); got != 4 {
		t.Fatalf("expected 4 after three fast windows, got %d", got)
	}
	feed(tuner, 10*time.Millisecond, tunerWindow)
	if got := tuner.ChunksPerCycle(); got != 3 {
		t.Fatalf("expected 3 after a slow window, got %d", got)
	}
	feed(tuner, 10*time.Millisecond, tunerWindow*10)
	if got := tuner.ChunksPerCycle(); got != 1 {
		t.Fatalf("expected clamp at 1, got %d", got)
	}
}

func TestTunerHoldsInsideBand(t *testing.T) {
	tuner := NewTuner(2 * time.Millisecond)
	if _, changed := feed(tuner, 2*time.Millisecond, tunerWindow); changed {
		t.Fatalf("expected no change at target")
	}
	if _, changed := feed(tuner, 2300*time.Microsecond, tunerWindow); changed {
		t.Fatalf("expected no change within 120%% of target")
	}
}

func TestTunerCapsAtMaximum(t *testing.T) {
	tuner := NewTuner(50 * time.Millisecond)
	feed(tuner, 0, tunerWindow*(maxChunksPerCycle+10))
	if got := tuner.ChunksPerCycle(); got != maxChunksPerCycle {
		t.Fatalf("expected cap %d, got %d", maxChunksPerCycle, got)
	}
}

package longdistance

import (
	"reflect"
	"testing"

	"longwalk/internal/world"
)

func pts(xs ...int) []world.Point {
	out := make([]world.Point, len(xs))
	for i, x := range xs {
		out[i] = world.Point{X: x}
	}
	return out
}

func TestBacklogPushFrontKeepsOrder(t *testing.T) {
	var b backlog
	b.pushFront(pts(4, 5))
	b.pushFront(pts(1, 2, 3))
	if got := b.popN(4); !reflect.DeepEqual(got, pts(1, 2, 3, 4)) {
		t.Fatalf("unexpected batch: %v", got)
	}
	if b.Len() != 1 {
		t.Fatalf("expected one tile left, got %d", b.Len())
	}
	b.clear()
	if got := b.popN(3); got != nil {
		t.Fatalf("expected nil from empty backlog, got %v", got)
	}
}

func TestTileQueuePopN(t *testing.T) {
	var q tileQueue
	q.push(pts(1, 2, 3)...)
	if got := q.popN(2); !reflect.DeepEqual(got, pts(1, 2)) {
		t.Fatalf("unexpected batch: %v", got)
	}
	if got := q.popN(5); !reflect.DeepEqual(got, pts(3)) {
		t.Fatalf("unexpected remainder: %v", got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}
}

func TestConfigNormalized(t *testing.T) {
	cfg := Config{StopDistance: -1}.Normalized()
	def := DefaultConfig()
	if cfg.CloseDistance != def.CloseDistance || cfg.ShortRangeReach != def.ShortRangeReach {
		t.Fatalf("expected distance defaults, got %+v", cfg)
	}
	if cfg.InitialChunkSize != 10 || cfg.MinTilesToStart != 5 {
		t.Fatalf("expected chunk defaults, got %+v", cfg)
	}
	if cfg.StopDistance != 0 {
		t.Fatalf("expected negative stop distance to clamp to 0, got %d", cfg.StopDistance)
	}
	if cfg.Search.MaxPathLength != 2500 || cfg.RequestCooldown != def.RequestCooldown {
		t.Fatalf("expected search defaults, got %+v", cfg.Search)
	}
}

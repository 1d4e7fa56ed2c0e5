package longdistance

import (
	"sync"

	"longwalk/internal/world"
)

// tileQueue hands waypoints from the search goroutine to the tick.
type tileQueue struct {
	mu    sync.Mutex
	tiles []world.Point
}

func (q *tileQueue) push(tiles ...world.Point) {
	q.mu.Lock()
	q.tiles = append(q.tiles, tiles...)
	q.mu.Unlock()
}

// popN removes and returns up to n waypoints from the head.
func (q *tileQueue) popN(n int) []world.Point {
	q.mu.Lock()
	defer q.mu.Unlock()
	n = min(n, len(q.tiles))
	if n <= 0 {
		return nil
	}
	out := make([]world.Point, n)
	copy(out, q.tiles)
	q.tiles = q.tiles[n:]
	if len(q.tiles) == 0 {
		q.tiles = nil
	}
	return out
}

func (q *tileQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiles)
}

func (q *tileQueue) clear() {
	q.mu.Lock()
	q.tiles = nil
	q.mu.Unlock()
}

// backlog holds waypoints that were taken but not walked. They are retried
// before anything in the queue.
type backlog struct {
	tiles []world.Point
}

// pushFront puts tiles ahead of the current backlog, keeping their order.
func (b *backlog) pushFront(tiles []world.Point) {
	if len(tiles) == 0 {
		return
	}
	merged := make([]world.Point, 0, len(tiles)+len(b.tiles))
	merged = append(merged, tiles...)
	b.tiles = append(merged, b.tiles...)
}

func (b *backlog) popN(n int) []world.Point {
	n = min(n, len(b.tiles))
	if n <= 0 {
		return nil
	}
	out := make([]world.Point, n)
	copy(out, b.tiles)
	b.tiles = b.tiles[n:]
	if len(b.tiles) == 0 {
		b.tiles = nil
	}
	return out
}

func (b *backlog) Len() int { return len(b.tiles) }

func (b *backlog) clear() { b.tiles = nil }

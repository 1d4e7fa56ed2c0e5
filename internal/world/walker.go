package world

import (
	"container/heap"
	"math"
	"sync"
)

type navNeighbor struct {
	dx       int
	dy       int
	cost     float64
	diagonal bool
}

var navNeighborOffsets = [...]navNeighbor{
	{dx: 0, dy: -1, cost: 1, diagonal: false},
	{dx: 1, dy: 0, cost: 1, diagonal: false},
	{dx: 0, dy: 1, cost: 1, diagonal: false},
	{dx: -1, dy: 0, cost: 1, diagonal: false},
	{dx: 1, dy: -1, cost: math.Sqrt2, diagonal: true},
	{dx: 1, dy: 1, cost: math.Sqrt2, diagonal: true},
	{dx: -1, dy: 1, cost: math.Sqrt2, diagonal: true},
	{dx: -1, dy: -1, cost: math.Sqrt2, diagonal: true},
}

// Mover is the part of the world the walker drives.
type Mover interface {
	Player() (Position, bool)
	SetPlayer(Position)
}

// WalkerConfig bounds the short-range planner.
type WalkerConfig struct {
	// Reach is the largest Chebyshev distance the planner will attempt.
	Reach int `json:"reach" yaml:"reach"`
	// LongRangeThreshold hands requests farther than this to the long-range
	// hook, when one is installed.
	LongRangeThreshold int `json:"longRangeThreshold" yaml:"longRangeThreshold"`
}

func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{Reach: 18, LongRangeThreshold: 18}
}

// ShortRange is a bounded 8-directional A* walker. Planned paths are walked
// one tile per Step.
type ShortRange struct {
	mover    Mover
	passable func(x, y int) bool
	cfg      WalkerConfig

	mu          sync.Mutex
	path        []Point
	autoWalking bool
	longRange   func(x, y int) bool
}

func NewShortRange(mover Mover, passable func(x, y int) bool, cfg WalkerConfig) *ShortRange {
	def := DefaultWalkerConfig()
	if cfg.Reach <= 0 {
		cfg.Reach = def.Reach
	}
	if cfg.LongRangeThreshold <= 0 {
		cfg.LongRangeThreshold = cfg.Reach
	}
	return &ShortRange{mover: mover, passable: passable, cfg: cfg}
}

// SetLongRange installs the hook used for destinations beyond
// LongRangeThreshold. When the hook declines, the walker tries on its own.
func (w *ShortRange) SetLongRange(hook func(x, y int) bool) {
	w.mu.Lock()
	w.longRange = hook
	w.mu.Unlock()
}

func (w *ShortRange) WalkTo(x, y, z, distance int) bool {
	pos, ok := w.mover.Player()
	if !ok {
		return false
	}
	target := Point{X: x, Y: y}
	w.mu.Lock()
	hook := w.longRange
	w.mu.Unlock()
	if hook != nil && Chebyshev(pos.Point(), target) > w.cfg.LongRangeThreshold {
		if hook(x, y) {
			return true
		}
	}

	path, ok := w.plan(pos.Point(), target, distance)
	if !ok {
		return false
	}
	w.mu.Lock()
	w.path = path
	w.autoWalking = len(path) > 0
	w.mu.Unlock()
	return true
}

func (w *ShortRange) GetPathTo(x, y, z, distance int) []Position {
	pos, ok := w.mover.Player()
	if !ok {
		return nil
	}
	path, ok := w.plan(pos.Point(), Point{X: x, Y: y}, distance)
	if !ok {
		return nil
	}
	out := make([]Position, len(path))
	for i, p := range path {
		out[i] = Position{X: p.X, Y: p.Y, Z: pos.Z}
	}
	return out
}

func (w *ShortRange) AutoWalking() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.autoWalking
}

func (w *ShortRange) StopAutoWalk() {
	w.mu.Lock()
	w.path = nil
	w.autoWalking = false
	w.mu.Unlock()
}

// Step moves the player one tile along the planned path. A tile that became
// impassable since planning aborts the walk.
func (w *ShortRange) Step() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.autoWalking || len(w.path) == 0 {
		w.autoWalking = false
		return
	}
	next := w.path[0]
	pos, ok := w.mover.Player()
	if !ok || !w.passable(next.X, next.Y) {
		w.path = nil
		w.autoWalking = false
		return
	}
	w.mover.SetPlayer(Position{X: next.X, Y: next.Y, Z: pos.Z})
	w.path = w.path[1:]
	if len(w.path) == 0 {
		w.autoWalking = false
	}
}

type navWindow struct {
	minX, minY int
	maxX, maxY int
	passable   func(x, y int) bool
}

func (n navWindow) inBounds(p Point) bool {
	return p.X >= n.minX && p.Y >= n.minY && p.X <= n.maxX && p.Y <= n.maxY
}

func (n navWindow) walkable(p Point) bool {
	return n.inBounds(p) && n.passable(p.X, p.Y)
}

func (n navWindow) canTraverseDiagonal(from Point, delta navNeighbor) bool {
	if !delta.diagonal {
		return true
	}
	return n.walkable(Point{X: from.X + delta.dx, Y: from.Y}) && n.walkable(Point{X: from.X, Y: from.Y + delta.dy})
}

func octile(a, b Point) float64 {
	dx := math.Abs(float64(a.X - b.X))
	dy := math.Abs(float64(a.Y - b.Y))
	if dx > dy {
		return dx + (math.Sqrt2-1)*dy
	}
	return dy + (math.Sqrt2-1)*dx
}

// plan returns the tiles to step through, excluding start. The goal counts as
// reached once a tile within distance of it is popped.
func (w *ShortRange) plan(start, goal Point, distance int) ([]Point, bool) {
	distance = max(distance, 0)
	if Chebyshev(start, goal) <= distance {
		return nil, true
	}
	if Chebyshev(start, goal) > w.cfg.Reach {
		return nil, false
	}
	window := navWindow{
		minX:     start.X - w.cfg.Reach,
		minY:     start.Y - w.cfg.Reach,
		maxX:     start.X + w.cfg.Reach,
		maxY:     start.Y + w.cfg.Reach,
		passable: w.passable,
	}
	nodes, ok := astar(window, start, goal, distance)
	if !ok {
		return nil, false
	}
	return nodes[1:], true
}

type pathNode struct {
	point  Point
	g      float64
	f      float64
	index  int
	parent *pathNode
}

type pathQueue []*pathNode

func (pq pathQueue) Len() int { return len(pq) }

func (pq pathQueue) Less(i, j int) bool { return pq[i].f < pq[j].f }

func (pq pathQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *pathQueue) Push(x any) {
	item := x.(*pathNode)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *pathQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[:n-1]
	return item
}

func astar(window navWindow, start, goal Point, distance int) ([]Point, bool) {
	open := &pathQueue{}
	heap.Push(open, &pathNode{point: start, f: octile(start, goal)})
	gScore := map[Point]float64{start: 0}
	closed := make(map[Point]struct{})

	for open.Len() > 0 {
		current := heap.Pop(open).(*pathNode)
		if _, seen := closed[current.point]; seen {
			continue
		}
		closed[current.point] = struct{}{}
		if Chebyshev(current.point, goal) <= distance {
			return reconstructPath(current), true
		}

		for _, delta := range navNeighborOffsets {
			if !window.canTraverseDiagonal(current.point, delta) {
				continue
			}
			next := Point{X: current.point.X + delta.dx, Y: current.point.Y + delta.dy}
			if !window.walkable(next) {
				continue
			}
			if _, seen := closed[next]; seen {
				continue
			}
			tentativeG := current.g + delta.cost
			if prev, ok := gScore[next]; ok && tentativeG >= prev {
				continue
			}
			gScore[next] = tentativeG
			heap.Push(open, &pathNode{
				point:  next,
				g:      tentativeG,
				f:      tentativeG + octile(next, goal),
				parent: current,
			})
		}
	}
	return nil, false
}

func reconstructPath(end *pathNode) []Point {
	path := make([]Point, 0)
	for node := end; node != nil; node = node.parent {
		path = append(path, node.point)
	}
	for i := 0; i < len(path)/2; i++ {
		j := len(path) - 1 - i
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Package longrange finds tile paths across whole maps. It trades optimality
// for speed by expanding only the neighbours that head towards the goal, and
// always produces something walkable-towards when no exact path exists.
package longrange

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"longwalk/internal/world"
)

// MapLimit bounds both coordinates to [0, MapLimit).
const MapLimit = 65536

var tracer = otel.Tracer("longwalk/internal/longrange")

// Walkability answers whether a tile can be stood on.
type Walkability interface {
	IsWalkable(x, y int) bool
}

// WalkabilityFunc adapts a function into Walkability.
type WalkabilityFunc func(x, y int) bool

func (f WalkabilityFunc) IsWalkable(x, y int) bool {
	return f(x, y)
}

// Options tune a search. Zero values disable the corresponding limit.
type Options struct {
	YieldEvery    int           `json:"yieldEvery" yaml:"yieldEvery"`
	YieldFor      time.Duration `json:"yieldFor" yaml:"yieldFor"`
	MaxPathLength int           `json:"maxPathLength" yaml:"maxPathLength"`
	MaxExpansions int           `json:"maxExpansions" yaml:"maxExpansions"`
}

func DefaultOptions() Options {
	return Options{
		YieldEvery:    100,
		YieldFor:      time.Millisecond,
		MaxPathLength: 2500,
	}
}

// Kind classifies a search outcome.
type Kind int

const (
	None Kind = iota
	Exact
	Partial
	Direct
)

func (k Kind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Partial:
		return "partial"
	case Direct:
		return "direct"
	default:
		return "none"
	}
}

// Result is the outcome of Search. Path starts at the start tile and ends at
// the goal whenever Kind is not None.
// Result is the outcome of Search. Truncated reports that the path was cut
// to Options.MaxPathLength before the goal was appended.
type Result struct {
	Kind      Kind
	Path      []world.Point
	Truncated bool
	Expanded  int
	Duration  time.Duration
}

func inMap(p world.Point) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < MapLimit && p.Y < MapLimit
}

type search struct {
	grid   Walkability
	goal   world.Point
	opts   Options
	nodes  []node
	closed map[world.Point]struct{}
	order  []int32
	open   frontier
}

func (s *search) add(p world.Point, distFromStart int, parent int32) {
	h := world.Chebyshev(p, s.goal)
	s.nodes = append(s.nodes, node{
		x:             p.X,
		y:             p.Y,
		distFromStart: distFromStart,
		distToGoal:    h,
		cost:          distFromStart + h,
		parent:        parent,
	})
	index := int32(len(s.nodes) - 1)
	s.open.push(index, &s.nodes[index])
}

func (s *search) valid(p world.Point) bool {
	if !inMap(p) {
		return false
	}
	if _, done := s.closed[p]; done {
		return false
	}
	return s.grid.IsWalkable(p.X, p.Y)
}

// expand pushes the preferred neighbours of index and, only if none of them
// is usable, every other neighbour.
func (s *search) expand(index int32) {
	current := s.nodes[index]
	from := world.Point{X: current.x, Y: current.y}
	var tried [8]bool
	pushed := 0
	for _, d := range PreferredDirections(from, s.goal) {
		tried[d] = true
		off := d.Offset()
		next := world.Point{X: from.X + off.X, Y: from.Y + off.Y}
		if s.valid(next) {
			s.add(next, current.distFromStart+1, index)
			pushed++
		}
	}
	if pushed > 0 {
		return
	}
	for d := North; d <= NorthWest; d++ {
		if tried[d] {
			continue
		}
		off := d.Offset()
		next := world.Point{X: from.X + off.X, Y: from.Y + off.Y}
		if s.valid(next) {
			s.add(next, current.distFromStart+1, index)
		}
	}
}

func (s *search) path(end int32) ([]world.Point, bool) {
	var reversed []world.Point
	for i := end; i >= 0; i = s.nodes[i].parent {
		reversed = append(reversed, world.Point{X: s.nodes[i].x, Y: s.nodes[i].y})
	}
	path := make([]world.Point, len(reversed))
	for i, p := range reversed {
		path[len(reversed)-1-i] = p
	}
	truncated := false
	if s.opts.MaxPathLength > 0 && len(path) > s.opts.MaxPathLength {
		path = path[:s.opts.MaxPathLength]
		truncated = true
	}
	if path[len(path)-1] != s.goal {
		path = append(path, s.goal)
	}
	return path, truncated
}

// nearest returns the closed node closest to the goal, the earliest closed on
// ties, or -1 when nothing was closed.
func (s *search) nearest() int32 {
	best := int32(-1)
	for _, i := range s.order {
		if best < 0 || s.nodes[i].distToGoal < s.nodes[best].distToGoal {
			best = i
		}
	}
	return best
}

// Search runs A* with the Chebyshev heuristic from start to goal. It returns
// an Exact path when the goal is reached, otherwise a Partial path to the
// closed tile nearest the goal with the goal appended. The error is non-nil
// only when ctx ends the search.
func Search(ctx context.Context, grid Walkability, start, goal world.Point, opts Options) (res Result, err error) {
	ctx, span := tracer.Start(ctx, "longrange.Search", trace.WithAttributes(
		attribute.Int("start.x", start.X),
		attribute.Int("start.y", start.Y),
		attribute.Int("goal.x", goal.X),
		attribute.Int("goal.y", goal.Y),
	))
	began := time.Now()
	defer func() {
		res.Duration = time.Since(began)
		observe(res, err)
		span.SetAttributes(
			attribute.String("outcome", res.Kind.String()),
			attribute.Int("expanded", res.Expanded),
			attribute.Int("tiles", len(res.Path)),
			attribute.Bool("truncated", res.Truncated),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if grid == nil {
		return Result{}, fmt.Errorf("longrange: nil walkability")
	}
	s := &search{
		grid:   grid,
		goal:   goal,
		opts:   opts,
		nodes:  make([]node, 0, 1024),
		closed: make(map[world.Point]struct{}),
	}
	s.add(start, 0, -1)

	expanded := 0
	for s.open.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return Result{Expanded: expanded}, err
		}
		index := s.open.pop()
		n := &s.nodes[index]
		p := world.Point{X: n.x, Y: n.y}
		if _, done := s.closed[p]; done {
			continue
		}
		s.closed[p] = struct{}{}
		s.order = append(s.order, index)
		if p == goal {
			path, truncated := s.path(index)
			return Result{Kind: Exact, Path: path, Truncated: truncated, Expanded: expanded}, nil
		}

		expanded++
		if opts.YieldEvery > 0 && expanded%opts.YieldEvery == 0 && opts.YieldFor > 0 {
			if err := pause(ctx, opts.YieldFor); err != nil {
				return Result{Expanded: expanded}, err
			}
		}
		if opts.MaxExpansions > 0 && expanded >= opts.MaxExpansions {
			break
		}
		s.expand(index)
	}

	best := s.nearest()
	if best < 0 {
		return Result{Kind: None, Expanded: expanded}, nil
	}
	path, truncated := s.path(best)
	return Result{Kind: Partial, Path: path, Truncated: truncated, Expanded: expanded}, nil
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

const maxDirectSteps = 100

// DirectLine walks straight from start towards goal, side-stepping along one
// axis when the diagonal step is blocked. It stops at the first tile where no
// step makes progress, or after 100 steps. The start tile is included.
func DirectLine(grid Walkability, start, goal world.Point) []world.Point {
	path := []world.Point{start}
	current := start
	for steps := 0; steps < maxDirectSteps && current != goal; steps++ {
		dx, dy := sign(goal.X-current.X), sign(goal.Y-current.Y)
		candidates := []world.Point{
			{X: current.X + dx, Y: current.Y + dy},
			{X: current.X + dx, Y: current.Y},
			{X: current.X, Y: current.Y + dy},
		}
		moved := false
		for _, next := range candidates {
			if next == current || !inMap(next) || !grid.IsWalkable(next.X, next.Y) {
				continue
			}
			current = next
			path = append(path, next)
			moved = true
			break
		}
		if !moved {
			break
		}
	}
	return path
}

package longdistance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"longwalk/internal/longrange"
	"longwalk/internal/telemetry"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
	"longwalk/logging"
	"longwalk/logging/pathing"
)

type fakeState struct {
	mu     sync.Mutex
	inGame bool
	pos    world.Position
	hasPos bool
}

func (s *fakeState) InGame() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inGame
}

func (s *fakeState) MapIndex() int { return 0 }

func (s *fakeState) Player() (world.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, s.hasPos
}

func (s *fakeState) move(x, y int) {
	s.mu.Lock()
	s.pos = world.Position{X: x, Y: y, Z: s.pos.Z}
	s.mu.Unlock()
}

type walkCall struct {
	target   world.Point
	distance int
}

// fakeWalker teleports the player on every successful WalkTo unless walkTo
// overrides it.
type fakeWalker struct {
	state *fakeState

	mu        sync.Mutex
	walkTo    func(x, y, z, distance int) bool
	path      []world.Position
	walks     []walkCall
	pathCalls int
	stops     int
	auto      bool
}

func (w *fakeWalker) WalkTo(x, y, z, distance int) bool {
	w.mu.Lock()
	w.walks = append(w.walks, walkCall{target: world.Point{X: x, Y: y}, distance: distance})
	fn := w.walkTo
	w.mu.Unlock()
	if fn != nil {
		return fn(x, y, z, distance)
	}
	w.state.move(x, y)
	return true
}

func (w *fakeWalker) GetPathTo(x, y, z, distance int) []world.Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pathCalls++
	return w.path
}

func (w *fakeWalker) AutoWalking() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.auto
}

func (w *fakeWalker) StopAutoWalk() {
	w.mu.Lock()
	w.stops++
	w.auto = false
	w.mu.Unlock()
}

func (w *fakeWalker) calls() []walkCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]walkCall(nil), w.walks...)
}

type recorder struct {
	mu       sync.Mutex
	messages []string
	events   []logging.Event
}

func (r *recorder) Print(message string) {
	r.mu.Lock()
	r.messages = append(r.messages, message)
	r.mu.Unlock()
}

func (r *recorder) Publish(_ context.Context, event logging.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func (r *recorder) rejections() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.Type != pathing.EventRequestRejected {
			continue
		}
		if payload, ok := e.Payload.(pathing.RequestRejectedPayload); ok {
			out = append(out, payload.Reason)
		}
	}
	return out
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeProgress struct {
	progress walkable.Progress
	unloaded bool
}

func (p fakeProgress) CurrentProgress() (walkable.Progress, bool) {
	return p.progress, !p.unloaded
}

type fakeKnobs struct {
	values map[string]bool
}

func (k *fakeKnobs) Bool(key string, def bool) bool {
	if v, ok := k.values[key]; ok {
		return v
	}
	return def
}

func (k *fakeKnobs) SetBool(key string, value bool) error {
	k.values[key] = value
	return nil
}

func openGrid(x, y int) bool {
	return x >= 0 && y >= 0 && x < 1000 && y < 1000
}

type harness struct {
	c      *Coordinator
	state  *fakeState
	walker *fakeWalker
	rec    *recorder
	clock  *fakeClock
}

func newHarness(t *testing.T, grid longrange.WalkabilityFunc) *harness {
	t.Helper()
	if grid == nil {
		grid = openGrid
	}
	state := &fakeState{inGame: true, hasPos: true}
	walker := &fakeWalker{state: state}
	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.Search.YieldFor = 0
	c, err := New(cfg, Deps{
		State:     state,
		Walker:    walker,
		Grid:      grid,
		Notifier:  rec,
		Publisher: rec,
	})
	require.NoError(t, err)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c.now = clock.now
	t.Cleanup(c.Close)
	return &harness{c: c, state: state, walker: walker, rec: rec, clock: clock}
}

// request issues a request far enough after the previous one to pass the
// cooldown and waits for its search to finish.
func (h *harness) request(t *testing.T, x, y int) {
	t.Helper()
	h.clock.advance(time.Second)
	require.True(t, h.c.RequestLongDistancePath(x, y))
	h.c.wg.Wait()
}

func TestCloseRequestDelegatesWithoutSearch(t *testing.T) {
	h := newHarness(t, nil)
	h.c.search = func(context.Context, longrange.Walkability, world.Point, world.Point, longrange.Options) (longrange.Result, error) {
		t.Fatalf("search must not run for close targets")
		return longrange.Result{}, nil
	}
	for i := 1; i <= 5; i++ {
		h.walker.path = append(h.walker.path, world.Position{X: i, Y: i})
	}

	h.request(t, 5, 5)

	require.Equal(t, 1, h.walker.pathCalls)
	snap := h.c.Snapshot()
	assert.True(t, snap.SearchDone)
	assert.Equal(t, "direct", snap.Outcome)
	assert.Equal(t, 5, snap.Queued)

	h.c.Update()
	calls := h.walker.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, walkCall{target: world.Point{X: 5, Y: 5}, distance: 1}, calls[0])
}

func TestCloseRequestWithoutWalkerPlanQueuesTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.request(t, 3, 4)
	snap := h.c.Snapshot()
	assert.Equal(t, 1, snap.Queued)
	assert.Equal(t, world.Point{X: 3, Y: 4}, snap.Target)
}

func TestFarRequestWalksToGoal(t *testing.T) {
	h := newHarness(t, nil)
	h.request(t, 100, 0)

	snap := h.c.Snapshot()
	require.Equal(t, "exact", snap.Outcome)
	require.Equal(t, 100, snap.Queued)

	for i := 0; i < 50 && h.c.IsPathfinding(); i++ {
		h.c.Update()
	}
	require.Equal(t, StateCompleted, h.c.State())
	assert.Equal(t, 1, h.rec.count("Destination reached!"))

	calls := h.walker.calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, walkCall{target: world.Point{X: 10, Y: 0}, distance: 1}, calls[0])
	assert.Equal(t, walkCall{target: world.Point{X: 100, Y: 0}, distance: 0}, calls[len(calls)-1])
}

func TestUpdateWaitsWhileWalkerIsBusy(t *testing.T) {
	h := newHarness(t, nil)
	h.request(t, 100, 0)
	h.walker.auto = true
	h.c.Update()
	assert.Empty(t, h.walker.calls())
	assert.Equal(t, StateConsuming, h.c.State())
}

func TestUpdateDoesNotConsumeWhileSearching(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	h.c.search = func(ctx context.Context, grid longrange.Walkability, start, goal world.Point, opts longrange.Options) (longrange.Result, error) {
		close(started)
		<-release
		return longrange.Search(ctx, grid, start, goal, opts)
	}
	h.clock.advance(time.Second)
	require.True(t, h.c.RequestLongDistancePath(100, 0))
	<-started

	for i := 0; i < 5; i++ {
		h.c.Update()
	}
	assert.Empty(t, h.walker.calls())
	assert.Equal(t, StateSearching, h.c.State())
	assert.False(t, h.c.Snapshot().SearchDone)

	close(release)
	h.c.wg.Wait()
	h.c.Update()
	assert.Equal(t, StateConsuming, h.c.State())
	calls := h.walker.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, world.Point{X: 10, Y: 0}, calls[0].target)
}

func TestChunkSizeShrinksOnConsecutiveFailures(t *testing.T) {
	h := newHarness(t, nil)
	h.walker.walkTo = func(int, int, int, int) bool { return false }
	h.request(t, 100, 0)

	for k := 1; k <= 9; k++ {
		h.c.Update()
		require.Equal(t, max(1, 10-k), h.c.Snapshot().ChunkSize, "after %d failures", k)
		require.Equal(t, StateConsuming, h.c.State())
	}

	h.c.Update()
	assert.Equal(t, StateFailed, h.c.State())
	assert.Equal(t, 1, h.rec.count("unreachable"))
	calls := len(h.walker.calls())

	h.c.Update()
	assert.Len(t, h.walker.calls(), calls, "no chunk may be processed after the request failed")
}

func TestSuccessResetsChunkSizeAndKeepsOrder(t *testing.T) {
	h := newHarness(t, nil)
	failures := 3
	h.walker.walkTo = func(x, y, z, distance int) bool {
		if failures > 0 {
			failures--
			return false
		}
		h.state.move(x, y)
		return true
	}
	h.request(t, 100, 0)

	for i := 0; i < 3; i++ {
		h.c.Update()
	}
	require.Equal(t, 7, h.c.Snapshot().ChunkSize)

	h.c.Update()
	snap := h.c.Snapshot()
	require.Equal(t, 10, snap.ChunkSize)
	assert.Equal(t, 3, snap.Backlog)

	h.c.Update()
	calls := h.walker.calls()
	assert.Equal(t, world.Point{X: 7, Y: 0}, calls[3].target)
	assert.Equal(t, world.Point{X: 17, Y: 0}, calls[4].target)
}

func TestUnreachableBatchCountsAsFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.request(t, 100, 0)
	h.state.move(50, 500)

	h.c.Update()
	assert.Empty(t, h.walker.calls())
	assert.Equal(t, 9, h.c.Snapshot().ChunkSize)
	assert.Equal(t, 10, h.c.Snapshot().Backlog)
}

func TestWalkerCannotReachGoalCompletesAsCloseAsPossible(t *testing.T) {
	h := newHarness(t, nil)
	h.c.search = func(context.Context, longrange.Walkability, world.Point, world.Point, longrange.Options) (longrange.Result, error) {
		return longrange.Result{Kind: longrange.Partial, Path: []world.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}}, nil
	}
	h.walker.walkTo = func(x, y, z, distance int) bool {
		if x == 30 {
			return false
		}
		h.state.move(x, y)
		return true
	}
	h.request(t, 30, 0)

	h.c.Update()
	h.c.Update()
	assert.Equal(t, StateCompleted, h.c.State())
	assert.Equal(t, 1, h.rec.count("as close as possible"))
}

func TestReentrantRequestIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	var reentered []bool
	h.walker.walkTo = func(x, y, z, distance int) bool {
		reentered = append(reentered, h.c.RequestLongDistancePath(500, 500))
		h.state.move(x, y)
		return true
	}
	h.request(t, 100, 0)
	id := h.c.Snapshot().RequestID

	h.c.Update()

	assert.Equal(t, []bool{false}, reentered)
	assert.Equal(t, id, h.c.Snapshot().RequestID)
	assert.Equal(t, StateConsuming, h.c.State())
	assert.Contains(t, h.rec.rejections(), RejectReentrant)
}

func TestRequestAdmission(t *testing.T) {
	t.Run("cooldown", func(t *testing.T) {
		h := newHarness(t, nil)
		require.True(t, h.c.RequestLongDistancePath(3, 3))
		assert.False(t, h.c.RequestLongDistancePath(4, 4))
		h.clock.advance(600 * time.Millisecond)
		assert.True(t, h.c.RequestLongDistancePath(4, 4))
		assert.Equal(t, []string{RejectCooldown}, h.rec.rejections())
	})
	t.Run("not in game", func(t *testing.T) {
		h := newHarness(t, nil)
		h.state.inGame = false
		assert.False(t, h.c.RequestLongDistancePath(3, 3))
		assert.Equal(t, []string{RejectNotInGame}, h.rec.rejections())
	})
	t.Run("no player", func(t *testing.T) {
		h := newHarness(t, nil)
		h.state.hasPos = false
		assert.False(t, h.c.RequestLongDistancePath(3, 3))
		assert.Equal(t, []string{RejectNoPlayer}, h.rec.rejections())
	})
	t.Run("disabled", func(t *testing.T) {
		h := newHarness(t, nil)
		knobs := &fakeKnobs{values: map[string]bool{}}
		h.c.knobs = knobs
		require.NoError(t, h.c.SetEnabled(false))
		assert.False(t, knobs.values[KnobEnabled])
		assert.False(t, h.c.RequestLongDistancePath(3, 3))
		assert.Equal(t, []string{RejectDisabled}, h.rec.rejections())
	})
}

func TestDegradedNoticeWhileGenerating(t *testing.T) {
	h := newHarness(t, nil)
	h.c.progress = fakeProgress{progress: walkable.Progress{Current: 5, Total: 20, Percent: 25}}
	h.request(t, 3, 3)
	assert.Equal(t, 1, h.rec.count("still generating (25.0%)"))
}

func TestDegradedNoticeBeforeMapIsLoaded(t *testing.T) {
	h := newHarness(t, nil)
	h.c.progress = fakeProgress{unloaded: true}
	h.request(t, 3, 3)
	assert.Equal(t, 1, h.rec.count("still generating (0.0%)"))
}

func TestNoDegradedNoticeOnceComplete(t *testing.T) {
	h := newHarness(t, nil)
	h.c.progress = fakeProgress{progress: walkable.Progress{Current: 20, Total: 20, Complete: true, Percent: 100}}
	h.request(t, 3, 3)
	assert.Zero(t, h.rec.count("still generating"))
}

func TestTruncatedPathIsLogged(t *testing.T) {
	h := newHarness(t, nil)
	var mu sync.Mutex
	var logs []string
	h.c.logger = telemetry.LoggerFunc(func(format string, args ...any) {
		mu.Lock()
		logs = append(logs, fmt.Sprintf(format, args...))
		mu.Unlock()
	})
	h.c.cfg.Search.MaxPathLength = 40
	h.request(t, 100, 0)

	assert.Equal(t, 40, h.c.Snapshot().Queued)
	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, line := range logs {
		if strings.Contains(line, "path too long, using partial path (41 tiles)") {
			found = true
		}
	}
	assert.True(t, found, "expected truncation warning in %q", logs)
}

func TestNewRequestSupersedesRunningSearch(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{})
	h.c.search = func(ctx context.Context, grid longrange.Walkability, start, goal world.Point, opts longrange.Options) (longrange.Result, error) {
		if goal.X == 200 {
			close(started)
			<-ctx.Done()
			return longrange.Result{}, ctx.Err()
		}
		return longrange.Search(ctx, grid, start, goal, opts)
	}

	h.clock.advance(time.Second)
	require.True(t, h.c.RequestLongDistancePath(200, 0))
	<-started
	h.request(t, 100, 0)

	snap := h.c.Snapshot()
	assert.Equal(t, world.Point{X: 100, Y: 0}, snap.Target)
	assert.Equal(t, "exact", snap.Outcome)
	assert.Equal(t, 100, snap.Queued)
	assert.Zero(t, h.rec.count("cancelled"))
}

func TestStopPathfindingWithMessage(t *testing.T) {
	h := newHarness(t, nil)
	started := make(chan struct{})
	h.c.search = func(ctx context.Context, _ longrange.Walkability, _, _ world.Point, _ longrange.Options) (longrange.Result, error) {
		close(started)
		<-ctx.Done()
		return longrange.Result{}, ctx.Err()
	}
	h.clock.advance(time.Second)
	require.True(t, h.c.RequestLongDistancePath(200, 0))
	<-started
	stops := h.walker.stops

	h.c.StopPathfindingWithMessage()
	h.c.wg.Wait()

	assert.False(t, h.c.IsPathfinding())
	assert.Equal(t, StateCancelled, h.c.State())
	assert.Equal(t, stops+1, h.walker.stops)
	assert.Equal(t, 1, h.rec.count("Long distance pathfinding stopped"))
	assert.Equal(t, 1, h.rec.count("Long distance pathfinding cancelled."))
	snap := h.c.Snapshot()
	assert.Zero(t, snap.Queued)
	assert.Zero(t, snap.Backlog)
	assert.Equal(t, 10, snap.ChunkSize)

	h.c.StopPathfindingWithMessage()
	assert.Equal(t, 1, h.rec.count("Long distance pathfinding stopped"))
}

func TestSearchPanicFailsRequestOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.c.search = func(context.Context, longrange.Walkability, world.Point, world.Point, longrange.Options) (longrange.Result, error) {
		panic("boom")
	}
	h.request(t, 200, 0)

	assert.Equal(t, StateFailed, h.c.State())
	assert.Equal(t, 1, h.rec.count("Long distance pathfinding failed."))
	assert.Equal(t, "error", h.c.Snapshot().Outcome)
}

func TestSearchErrorFailsRequest(t *testing.T) {
	h := newHarness(t, nil)
	h.c.search = func(context.Context, longrange.Walkability, world.Point, world.Point, longrange.Options) (longrange.Result, error) {
		return longrange.Result{}, errors.New("walkability unavailable")
	}
	h.request(t, 200, 0)
	assert.Equal(t, StateFailed, h.c.State())
	assert.Equal(t, 1, h.rec.count("Long distance pathfinding failed."))
}

func TestNoPathFallsBackToDirectLine(t *testing.T) {
	none := func(context.Context, longrange.Walkability, world.Point, world.Point, longrange.Options) (longrange.Result, error) {
		return longrange.Result{Kind: longrange.None}, nil
	}

	t.Run("direct line", func(t *testing.T) {
		h := newHarness(t, nil)
		h.c.search = none
		h.request(t, 30, 0)
		snap := h.c.Snapshot()
		assert.Equal(t, "direct", snap.Outcome)
		assert.Equal(t, 30, snap.Queued)
		assert.True(t, h.c.IsPathfinding())
	})

	t.Run("no viable path", func(t *testing.T) {
		h := newHarness(t, func(int, int) bool { return false })
		h.c.search = none
		h.request(t, 30, 0)
		assert.Equal(t, StateFailed, h.c.State())
		assert.Equal(t, 1, h.rec.count("No viable path"))
	})
}

func TestCloseRejectsFurtherRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.c.Close()
	h.clock.advance(time.Second)
	assert.False(t, h.c.RequestLongDistancePath(3, 3))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	require.Error(t, err)
}

// Package longdistance walks the player across distances the short-range
// walker cannot plan in one go. A long-range search runs in the background
// and its waypoints are handed to the walker in adaptively sized chunks.
package longdistance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"longwalk/internal/longrange"
	"longwalk/internal/telemetry"
	"longwalk/internal/walkable"
	"longwalk/internal/world"
	"longwalk/logging"
	"longwalk/logging/pathing"
)

// KnobEnabled is the settings key that switches long-distance requests on or
// off at runtime.
const KnobEnabled = "longdistance.enabled"

// Knobs persists runtime switches.
type Knobs interface {
	Bool(key string, def bool) bool
	SetBool(key string, value bool) error
}

// ProgressSource reports cache generation progress for the active map.
type ProgressSource interface {
	CurrentProgress() (walkable.Progress, bool)
}

// State is the lifecycle of the current request.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateConsuming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateConsuming:
		return "consuming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

func (s State) terminal() bool {
	return s == StateIdle || s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Rejection reasons reported in request_rejected events.
const (
	RejectNotInGame = "not_in_game"
	RejectNoPlayer  = "no_player"
	RejectDisabled  = "disabled"
	RejectReentrant = "reentrant"
	RejectCooldown  = "cooldown"
)

// Deps are the collaborators of a Coordinator. State, Walker and Grid are
// required.
type Deps struct {
	State     world.State
	Walker    world.Walker
	Grid      longrange.Walkability
	Progress  ProgressSource
	Notifier  world.Notifier
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Knobs     Knobs
}

type searchFunc func(ctx context.Context, grid longrange.Walkability, start, goal world.Point, opts longrange.Options) (longrange.Result, error)

type request struct {
	id      string
	start   world.Position
	target  world.Point
	queue   tileQueue
	cancel  context.CancelFunc
	done    atomic.Bool
	outcome atomic.Value
}

func (r *request) finishSearch(outcome string) {
	r.outcome.Store(outcome)
	r.done.Store(true)
}

// Snapshot is a point-in-time view of the coordinator for diagnostics.
type Snapshot struct {
	RequestID  string      `json:"requestId,omitempty"`
	State      string      `json:"state"`
	Target     world.Point `json:"target"`
	Queued     int         `json:"queued"`
	Backlog    int         `json:"backlog"`
	ChunkSize  int         `json:"chunkSize"`
	SearchDone bool        `json:"searchDone"`
	Outcome    string      `json:"outcome,omitempty"`
	Enabled    bool        `json:"enabled"`
}

// Coordinator owns at most one long-distance request at a time. Update must
// be called from a single goroutine; the request API may be called from any.
type Coordinator struct {
	cfg       Config
	world     world.State
	walker    world.Walker
	grid      longrange.Walkability
	progress  ProgressSource
	notifier  world.Notifier
	logger    telemetry.Logger
	publisher logging.Publisher
	metrics   telemetry.Metrics
	knobs     Knobs
	search    searchFunc
	now       func() time.Time

	limiter  *rate.Limiter
	enabled  atomic.Bool
	suppress atomic.Int32

	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu        sync.Mutex
	req       *request
	state     State
	consuming bool
	chunkSize int
	backlog   backlog
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.State == nil || deps.Walker == nil || deps.Grid == nil {
		return nil, errors.New("longdistance: state, walker and grid are required")
	}
	cfg = cfg.Normalized()
	ctx, stop := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:       cfg,
		world:     deps.State,
		walker:    deps.Walker,
		grid:      deps.Grid,
		progress:  deps.Progress,
		notifier:  deps.Notifier,
		logger:    deps.Logger,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		knobs:     deps.Knobs,
		search:    longrange.Search,
		now:       time.Now,
		limiter:   rate.NewLimiter(rate.Every(cfg.RequestCooldown), 1),
		ctx:       ctx,
		stop:      stop,
		chunkSize: cfg.InitialChunkSize,
	}
	if c.notifier == nil {
		c.notifier = world.NotifierFunc(nil)
	}
	if c.logger == nil {
		c.logger = telemetry.NopLogger()
	}
	if c.publisher == nil {
		c.publisher = logging.NopPublisher()
	}
	if c.metrics == nil {
		c.metrics = telemetry.NopMetrics()
	}
	enabled := cfg.Enabled
	if c.knobs != nil {
		enabled = c.knobs.Bool(KnobEnabled, enabled)
	}
	c.enabled.Store(enabled)
	return c, nil
}

func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// SetEnabled switches the feature and persists the choice. Disabling stops
// the current request.
func (c *Coordinator) SetEnabled(enabled bool) error {
	c.enabled.Store(enabled)
	if !enabled {
		c.StopPathfinding()
	}
	if c.knobs == nil {
		return nil
	}
	if err := c.knobs.SetBool(KnobEnabled, enabled); err != nil {
		return fmt.Errorf("persist %s: %w", KnobEnabled, err)
	}
	return nil
}

func (c *Coordinator) reject(x, y int, reason string) bool {
	c.metrics.Add(telemetry.KeyRequestsRejected, 1)
	pathing.RequestRejected(context.Background(), c.publisher, pathing.RequestRejectedPayload{
		TargetX: x,
		TargetY: y,
		Reason:  reason,
	}, nil)
	return false
}

// RequestLongDistancePath starts walking the player to (x,y). It returns
// immediately; the search runs in the background and Update walks the
// result. A new request supersedes the previous one.
func (c *Coordinator) RequestLongDistancePath(x, y int) bool {
	// Checked before taking the lock: the walker calls back into here while
	// Update holds it.
	if c.suppress.Load() > 0 {
		return c.reject(x, y, RejectReentrant)
	}
	if c.closed.Load() || !c.world.InGame() {
		return c.reject(x, y, RejectNotInGame)
	}
	pos, ok := c.world.Player()
	if !ok {
		return c.reject(x, y, RejectNoPlayer)
	}
	if !c.enabled.Load() {
		return c.reject(x, y, RejectDisabled)
	}
	if !c.limiter.AllowN(c.now(), 1) {
		return c.reject(x, y, RejectCooldown)
	}

	if c.progress != nil {
		if p, ok := c.progress.CurrentProgress(); !ok || !p.Complete {
			c.notifier.Print(fmt.Sprintf("Pathfinding cache is still generating (%.1f%%), paths may be less accurate.", p.Percent))
		}
	}

	target := world.Point{X: x, Y: y}
	distance := world.Chebyshev(pos.Point(), target)
	ctx, cancel := context.WithCancel(c.ctx)
	req := &request{
		id:     uuid.NewString(),
		start:  pos,
		target: target,
		cancel: cancel,
	}

	c.mu.Lock()
	c.resetLocked()
	c.req = req
	c.state = StateSearching
	c.mu.Unlock()
	c.walker.StopAutoWalk()

	mode := "search"
	if distance <= c.cfg.CloseDistance {
		mode = "direct"
	}
	c.metrics.Add(telemetry.KeyRequestsAccepted, 1)
	pathing.RequestAccepted(ctx, c.publisher, req.id, pathing.RequestAcceptedPayload{
		FromX:    pos.X,
		FromY:    pos.Y,
		TargetX:  x,
		TargetY:  y,
		Distance: distance,
		Mode:     mode,
	}, nil)
	c.logger.Printf("long distance request %s: (%d,%d) -> (%d,%d) distance=%d mode=%s", req.id, pos.X, pos.Y, x, y, distance, mode)

	if mode == "direct" {
		c.enqueueDirect(req)
		return true
	}
	c.wg.Add(1)
	go c.runSearch(ctx, req)
	return true
}

// enqueueDirect feeds the walker's own plan to the queue. The target is
// queued alone when the walker has no plan.
func (c *Coordinator) enqueueDirect(req *request) {
	steps := c.walker.GetPathTo(req.target.X, req.target.Y, req.start.Z, 0)
	if len(steps) == 0 {
		req.queue.push(req.target)
	}
	for _, step := range steps {
		req.queue.push(step.Point())
	}
	req.finishSearch("direct")
}

func (c *Coordinator) runSearch(ctx context.Context, req *request) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.searchFailed(req, fmt.Errorf("search panicked: %v", r))
		}
	}()

	start := req.start.Point()
	res, err := c.search(ctx, c.grid, start, req.target, c.cfg.Search)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			req.finishSearch("cancelled")
			c.logger.Printf("long distance request %s: search cancelled after %d expansions", req.id, res.Expanded)
			if c.owns(req) {
				c.notifier.Print("Long distance pathfinding cancelled.")
			}
			return
		}
		c.searchFailed(req, err)
		return
	}

	path, kind := res.Path, res.Kind
	if res.Truncated {
		c.logger.Printf("long distance request %s: path too long, using partial path (%d tiles)", req.id, len(path))
	}
	if kind == longrange.None {
		path, kind = longrange.DirectLine(c.grid, start, req.target), longrange.Direct
	}
	pathing.SearchFinished(ctx, c.publisher, req.id, pathing.SearchFinishedPayload{
		Outcome:        kind.String(),
		Tiles:          len(path),
		Expanded:       res.Expanded,
		DurationMillis: res.Duration.Milliseconds(),
	}, nil)
	if !c.isCurrent(req) {
		req.finishSearch(kind.String())
		return
	}
	if len(path) <= 1 {
		req.finishSearch(longrange.None.String())
		c.notifier.Print("No viable path found to destination.")
		c.mu.Lock()
		if c.req == req && !c.state.terminal() {
			c.finishLocked(StateFailed, "no viable path")
		}
		c.mu.Unlock()
		return
	}
	req.queue.push(path[1:]...)
	req.finishSearch(kind.String())
}

func (c *Coordinator) searchFailed(req *request, err error) {
	req.finishSearch("error")
	c.logger.Printf("long distance request %s: %v", req.id, err)
	pathing.SearchFailed(context.Background(), c.publisher, req.id, pathing.SearchFailedPayload{Error: err.Error()}, nil)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.req != req || c.state.terminal() {
		return
	}
	c.notifier.Print("Long distance pathfinding failed.")
	c.finishLocked(StateFailed, err.Error())
}

// owns reports whether req has not been superseded by a newer request.
func (c *Coordinator) owns(req *request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req == req
}

func (c *Coordinator) isCurrent(req *request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req == req && !c.state.terminal()
}

// Update runs once per tick. It starts consuming once enough waypoints are
// buffered or the search is over, then processes one chunk whenever the
// walker is idle.
func (c *Coordinator) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()
	req := c.req
	if req == nil || c.state.terminal() {
		return
	}
	c.metrics.Store(telemetry.KeyQueuedTiles, uint64(req.queue.Len()+c.backlog.Len()))
	c.metrics.Store(telemetry.KeyChunkSize, uint64(c.chunkSize))
	if !c.consuming {
		if req.queue.Len() < c.cfg.MinTilesToStart && !req.done.Load() {
			return
		}
		c.consuming = true
		c.state = StateConsuming
	}
	if c.walker.AutoWalking() {
		return
	}
	c.processTileChunks(req)
}

// delegate asks the walker to go to (x,y) with the long-range hook
// suppressed.
func (c *Coordinator) delegate(x, y, z, distance int) bool {
	c.suppress.Add(1)
	defer c.suppress.Add(-1)
	return c.walker.WalkTo(x, y, z, distance)
}

func (c *Coordinator) takeBatch(req *request) []world.Point {
	batch := c.backlog.popN(c.chunkSize)
	if rest := c.chunkSize - len(batch); rest > 0 {
		batch = append(batch, req.queue.popN(rest)...)
	}
	return batch
}

// processTileChunks hands the furthest reachable waypoint of the next batch
// to the walker. Called with mu held.
func (c *Coordinator) processTileChunks(req *request) {
	pos, ok := c.world.Player()
	if !ok {
		return
	}
	batch := c.takeBatch(req)
	if len(batch) == 0 {
		if req.done.Load() {
			c.finishAtGoal(req, pos)
		}
		return
	}

	chosen := -1
	for i, p := range batch {
		if world.Chebyshev(pos.Point(), p) <= c.cfg.ShortRangeReach {
			chosen = i
		}
	}
	if chosen >= 0 {
		target := batch[chosen]
		if c.delegate(target.X, target.Y, pos.Z, c.cfg.StopDistance) {
			c.backlog.pushFront(batch[chosen+1:])
			c.chunkSize = c.cfg.InitialChunkSize
			c.metrics.Add(telemetry.KeyWaypointsDelegated, 1)
			return
		}
	}

	c.backlog.pushFront(batch)
	c.metrics.Add(telemetry.KeyChunkFailures, 1)
	next := max(c.chunkSize-1, 1)
	pathing.ChunkFailed(context.Background(), c.publisher, req.id, pathing.ChunkFailedPayload{
		BatchSize:     len(batch),
		NextChunkSize: next,
		Reachable:     chosen >= 0,
	}, nil)
	if c.chunkSize <= 1 {
		c.notifier.Print("Destination is unreachable, long distance pathfinding stopped.")
		c.finishLocked(StateFailed, "unreachable")
		c.walker.StopAutoWalk()
		return
	}
	c.chunkSize = next
}

// finishAtGoal ends a request whose waypoints are all used up, or keeps
// waiting while the walker heads for the goal itself.
func (c *Coordinator) finishAtGoal(req *request, pos world.Position) {
	goal := req.target
	if world.Chebyshev(pos.Point(), goal) <= c.cfg.GoalTolerance {
		c.delegate(goal.X, goal.Y, pos.Z, 0)
		c.notifier.Print("Destination reached!")
		c.finishLocked(StateCompleted, "arrived")
		return
	}
	if !c.delegate(goal.X, goal.Y, pos.Z, 0) {
		c.notifier.Print("Reached the destination as close as possible.")
		c.finishLocked(StateCompleted, "closest")
	}
}

// finishLocked moves the current request to a terminal state.
func (c *Coordinator) finishLocked(state State, reason string) {
	req := c.req
	if req == nil {
		return
	}
	req.cancel()
	req.queue.clear()
	c.backlog.clear()
	c.consuming = false
	c.chunkSize = c.cfg.InitialChunkSize
	c.state = state
	switch state {
	case StateCompleted:
		c.metrics.Add(telemetry.KeyRequestsCompleted, 1)
	case StateFailed:
		c.metrics.Add(telemetry.KeyRequestsFailed, 1)
	}
	c.logger.Printf("long distance request %s: %s (%s)", req.id, state, reason)
	pathing.RequestFinished(context.Background(), c.publisher, req.id, pathing.RequestFinishedPayload{
		State:  state.String(),
		Reason: reason,
	}, nil)
}

// resetLocked cancels the current request, if any.
func (c *Coordinator) resetLocked() bool {
	active := c.req != nil && !c.state.terminal()
	if active {
		c.finishLocked(StateCancelled, "stopped")
	}
	if c.req != nil {
		c.req.cancel()
		c.req.queue.clear()
	}
	c.backlog.clear()
	c.consuming = false
	c.chunkSize = c.cfg.InitialChunkSize
	return active
}

// StopPathfinding cancels the search, drops every pending waypoint and stops
// the walker.
func (c *Coordinator) StopPathfinding() {
	c.stopPathfinding()
}

func (c *Coordinator) stopPathfinding() bool {
	c.mu.Lock()
	active := c.resetLocked()
	c.mu.Unlock()
	c.walker.StopAutoWalk()
	return active
}

// StopPathfindingWithMessage is StopPathfinding that tells the player when a
// request was actually stopped.
func (c *Coordinator) StopPathfindingWithMessage() {
	if c.stopPathfinding() {
		c.notifier.Print("Long distance pathfinding stopped")
	}
}

func (c *Coordinator) IsPathfinding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.req != nil && !c.state.terminal()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:     c.state.String(),
		Backlog:   c.backlog.Len(),
		ChunkSize: c.chunkSize,
		Enabled:   c.enabled.Load(),
	}
	if req := c.req; req != nil {
		snap.RequestID = req.id
		snap.Target = req.target
		snap.Queued = req.queue.Len()
		snap.SearchDone = req.done.Load()
		if outcome, ok := req.outcome.Load().(string); ok {
			snap.Outcome = outcome
		}
	}
	return snap
}

// Close stops the current request and waits for the search goroutine.
func (c *Coordinator) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.StopPathfinding()
	c.stop()
	c.wg.Wait()
}

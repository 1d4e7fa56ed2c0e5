// Package world declares the game-client collaborators the pathing
// subsystem depends on, together with a deterministic simulated world that
// implements them for the CLI, the HTTP surface and tests.
package world

// Point is a tile coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Position is a tile coordinate with a height.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Point drops the height.
func (p Position) Point() Point {
	return Point{X: p.X, Y: p.Y}
}

// Chebyshev returns the 8-connected grid distance between a and b.
func Chebyshev(a, b Point) int {
	return max(abs(a.X-b.X), abs(a.Y-b.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// State reports where the player is.
type State interface {
	InGame() bool
	// MapIndex returns the active map, or -1 when no map is loaded.
	MapIndex() int
	Player() (Position, bool)
}

// Metadata describes the static shape of each map.
type Metadata interface {
	MapCount() int
	// BlockSize returns the map size in 8x8 chunks.
	BlockSize(mapIndex int) (width, height int, ok bool)
	// DefaultSize returns the map size in tiles.
	DefaultSize(mapIndex int) (width, height int, ok bool)
	ClientVersion() string
	// MapFilePath names the map's data file, or "" when there is none.
	MapFilePath(mapIndex int) string
}

// Tiles exposes the per-tile object chain of the active map.
type Tiles interface {
	// TileZ returns the land height at (x,y).
	TileZ(x, y int) (int, bool)
	// Objects returns the object chain at (x,y), land first.
	Objects(x, y int) []Object
}

// Walker is the bounded short-range pathfinder.
type Walker interface {
	// WalkTo plans a short path and starts auto-walking it. It reports
	// whether a path was found.
	WalkTo(x, y, z, distance int) bool
	// GetPathTo plans without walking.
	GetPathTo(x, y, z, distance int) []Position
	AutoWalking() bool
	// StopAutoWalk drops any in-progress walk and clears the auto-walk flag.
	StopAutoWalk()
}

// Notifier prints a message to the player.
type Notifier interface {
	Print(message string)
}

// NotifierFunc adapts a function into a Notifier.
type NotifierFunc func(message string)

func (f NotifierFunc) Print(message string) {
	if f != nil {
		f(message)
	}
}

type ObjectKind uint8

const (
	KindLand ObjectKind = iota
	KindStatic
	KindMulti
	KindMobile
	KindEffect
)

type ObjectFlags uint16

const (
	FlagImpassable ObjectFlags = 1 << iota
	FlagSurface
	FlagBridge
)

// Object is one entry of a tile's object chain. AverageZ is only meaningful
// for land.
type Object struct {
	Kind     ObjectKind
	Graphic  uint16
	Z        int
	AverageZ int
	Height   int
	Flags    ObjectFlags
}

func (o Object) Has(flag ObjectFlags) bool {
	return o.Flags&flag != 0
}

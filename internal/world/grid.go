package world

import (
	"math/rand/v2"
	"sync"
)

// Land graphics used by the generator.
const (
	GraphicGrass uint16 = 0x0003
	GraphicWater uint16 = 0x00A8
	GraphicVoid  uint16 = 0x0002
	GraphicWall  uint16 = 0x0080
	GraphicPlank uint16 = 0x0721
)

// MapConfig shapes one generated map.
type MapConfig struct {
	BlocksWide int `json:"blocksWide" yaml:"blocksWide"`
	BlocksHigh int `json:"blocksHigh" yaml:"blocksHigh"`
	Lakes      int `json:"lakes" yaml:"lakes"`
	Walls      int `json:"walls" yaml:"walls"`
	Mobiles    int `json:"mobiles" yaml:"mobiles"`
}

// GridConfig shapes the simulated world.
type GridConfig struct {
	Seed          uint64      `json:"seed" yaml:"seed"`
	ClientVersion string      `json:"clientVersion" yaml:"clientVersion"`
	Maps          []MapConfig `json:"maps" yaml:"maps"`
	StartMap      int         `json:"startMap" yaml:"startMap"`
	Start         Position    `json:"start" yaml:"start"`
}

func DefaultGridConfig() GridConfig {
	return GridConfig{
		Seed:          1,
		ClientVersion: "7.0.102.3",
		Maps: []MapConfig{
			{BlocksWide: 64, BlocksHigh: 64, Lakes: 6, Walls: 24, Mobiles: 40},
			{BlocksWide: 32, BlocksHigh: 32, Lakes: 3, Walls: 12, Mobiles: 10},
		},
		Start: Position{X: 8, Y: 8},
	}
}

// Normalized returns a copy with unusable values replaced by defaults.
func (c GridConfig) Normalized() GridConfig {
	def := DefaultGridConfig()
	if c.ClientVersion == "" {
		c.ClientVersion = def.ClientVersion
	}
	if len(c.Maps) == 0 {
		c.Maps = def.Maps
	}
	maps := make([]MapConfig, len(c.Maps))
	for i, m := range c.Maps {
		m.BlocksWide = max(m.BlocksWide, 1)
		m.BlocksHigh = max(m.BlocksHigh, 1)
		m.Lakes = max(m.Lakes, 0)
		m.Walls = max(m.Walls, 0)
		m.Mobiles = max(m.Mobiles, 0)
		maps[i] = m
	}
	c.Maps = maps
	if c.StartMap < 0 || c.StartMap >= len(c.Maps) {
		c.StartMap = 0
	}
	return c
}

type landTile struct {
	graphic    uint16
	z          int
	impassable bool
}

type gridMap struct {
	blocksWide, blocksHigh int
	width, height          int
	land                   []landTile
	objects                map[int][]Object
}

func (m *gridMap) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < m.width && y < m.height
}

func (m *gridMap) index(x, y int) int {
	return y*m.width + x
}

// Grid is a deterministic in-memory world. It implements State, Metadata and
// Tiles and is safe for concurrent use.
type Grid struct {
	mu            sync.RWMutex
	maps          []*gridMap
	active        int
	inGame        bool
	player        Position
	clientVersion string
}

// NewGrid generates every configured map from cfg.Seed.
func NewGrid(cfg GridConfig) *Grid {
	cfg = cfg.Normalized()
	g := &Grid{
		active:        cfg.StartMap,
		inGame:        true,
		player:        cfg.Start,
		clientVersion: cfg.ClientVersion,
	}
	for i, mc := range cfg.Maps {
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)))
		g.maps = append(g.maps, generateMap(mc, rng))
	}
	return g
}

func generateMap(cfg MapConfig, rng *rand.Rand) *gridMap {
	m := &gridMap{
		blocksWide: cfg.BlocksWide,
		blocksHigh: cfg.BlocksHigh,
		width:      cfg.BlocksWide * 8,
		height:     cfg.BlocksHigh * 8,
		objects:    make(map[int][]Object),
	}
	m.land = make([]landTile, m.width*m.height)
	for i := range m.land {
		m.land[i] = landTile{graphic: GraphicGrass}
	}

	for range cfg.Lakes {
		cx, cy := rng.IntN(m.width), rng.IntN(m.height)
		radius := 3 + rng.IntN(6)
		for y := cy - radius; y <= cy+radius; y++ {
			for x := cx - radius; x <= cx+radius; x++ {
				dx, dy := x-cx, y-cy
				if !m.inBounds(x, y) || dx*dx+dy*dy > radius*radius {
					continue
				}
				m.land[m.index(x, y)] = landTile{graphic: GraphicWater, z: -5, impassable: true}
			}
		}
		// One plank bridge across the middle row of every lake.
		for x := cx - radius; x <= cx+radius; x++ {
			if !m.inBounds(x, cy) {
				continue
			}
			idx := m.index(x, cy)
			if m.land[idx].impassable {
				m.land[idx].z = 0
				m.objects[idx] = append(m.objects[idx], Object{Kind: KindStatic, Graphic: GraphicPlank, Z: 0, Height: 2, Flags: FlagSurface | FlagBridge})
			}
		}
	}

	for range cfg.Walls {
		x, y := rng.IntN(m.width), rng.IntN(m.height)
		length := 4 + rng.IntN(12)
		horizontal := rng.IntN(2) == 0
		for i := 0; i < length; i++ {
			wx, wy := x, y+i
			if horizontal {
				wx, wy = x+i, y
			}
			if !m.inBounds(wx, wy) {
				break
			}
			idx := m.index(wx, wy)
			m.objects[idx] = append(m.objects[idx], Object{Kind: KindStatic, Graphic: GraphicWall, Z: 0, Height: 20, Flags: FlagImpassable})
		}
	}

	for range cfg.Mobiles {
		idx := m.index(rng.IntN(m.width), rng.IntN(m.height))
		m.objects[idx] = append(m.objects[idx], Object{Kind: KindMobile, Z: 0, Height: 16, Flags: FlagImpassable})
	}
	return m
}

func (g *Grid) current() *gridMap {
	if g.active < 0 || g.active >= len(g.maps) {
		return nil
	}
	return g.maps[g.active]
}

func (g *Grid) InGame() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.inGame
}

func (g *Grid) SetInGame(inGame bool) {
	g.mu.Lock()
	g.inGame = inGame
	g.mu.Unlock()
}

func (g *Grid) MapIndex() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.inGame || g.current() == nil {
		return -1
	}
	return g.active
}

// SetMap moves the player to another map, keeping the coordinates.
func (g *Grid) SetMap(mapIndex int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if mapIndex < 0 || mapIndex >= len(g.maps) {
		return false
	}
	g.active = mapIndex
	return true
}

func (g *Grid) Player() (Position, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.inGame {
		return Position{}, false
	}
	return g.player, true
}

func (g *Grid) SetPlayer(pos Position) {
	g.mu.Lock()
	g.player = pos
	g.mu.Unlock()
}

func (g *Grid) MapCount() int {
	return len(g.maps)
}

func (g *Grid) BlockSize(mapIndex int) (int, int, bool) {
	if mapIndex < 0 || mapIndex >= len(g.maps) {
		return 0, 0, false
	}
	m := g.maps[mapIndex]
	return m.blocksWide, m.blocksHigh, true
}

func (g *Grid) DefaultSize(mapIndex int) (int, int, bool) {
	if mapIndex < 0 || mapIndex >= len(g.maps) {
		return 0, 0, false
	}
	m := g.maps[mapIndex]
	return m.width, m.height, true
}

func (g *Grid) ClientVersion() string {
	return g.clientVersion
}

func (g *Grid) MapFilePath(int) string {
	return ""
}

func (g *Grid) TileZ(x, y int) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := g.current()
	if m == nil || !m.inBounds(x, y) {
		return 0, false
	}
	return m.land[m.index(x, y)].z, true
}

func (g *Grid) Objects(x, y int) []Object {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m := g.current()
	if m == nil || !m.inBounds(x, y) {
		return nil
	}
	idx := m.index(x, y)
	land := m.land[idx]
	flags := ObjectFlags(0)
	if land.impassable {
		flags |= FlagImpassable
	}
	chain := make([]Object, 0, 1+len(m.objects[idx]))
	chain = append(chain, Object{Kind: KindLand, Graphic: land.graphic, Z: land.z, AverageZ: land.z, Flags: flags})
	return append(chain, m.objects[idx]...)
}

// SetLand replaces the land tile at (x,y) on the active map.
func (g *Grid) SetLand(x, y int, graphic uint16, z int, impassable bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.current()
	if m == nil || !m.inBounds(x, y) {
		return
	}
	m.land[m.index(x, y)] = landTile{graphic: graphic, z: z, impassable: impassable}
}

// AddObject appends obj to the chain at (x,y) on the active map.
func (g *Grid) AddObject(x, y int, obj Object) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.current()
	if m == nil || !m.inBounds(x, y) {
		return
	}
	idx := m.index(x, y)
	m.objects[idx] = append(m.objects[idx], obj)
}

// ClearObjects removes every non-land object at (x,y) on the active map.
func (g *Grid) ClearObjects(x, y int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.current()
	if m == nil || !m.inBounds(x, y) {
		return
	}
	delete(m.objects, m.index(x, y))
}

// Wall places an impassable static on every tile from a to b inclusive along
// one axis.
func (g *Grid) Wall(a, b Point) {
	for y := min(a.Y, b.Y); y <= max(a.Y, b.Y); y++ {
		for x := min(a.X, b.X); x <= max(a.X, b.X); x++ {
			g.AddObject(x, y, Object{Kind: KindStatic, Graphic: GraphicWall, Z: 0, Height: 20, Flags: FlagImpassable})
		}
	}
}

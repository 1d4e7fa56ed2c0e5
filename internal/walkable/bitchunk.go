// Package walkable keeps a per-map, per-tile record of where the player can
// stand, generated incrementally in the background and persisted between
// sessions.
package walkable

// ChunkSize is the edge length of a BitChunk in tiles.
const ChunkSize = 8

// BitChunk stores an 8x8 block of tri-state tiles in two bit planes: value
// holds walkability and isSet records whether the tile was ever determined.
// Row y lives in byte y, column x in bit x.
type BitChunk struct {
	value [ChunkSize]byte
	isSet [ChunkSize]byte
}

func inChunk(x, y int) bool {
	return x >= 0 && x < ChunkSize && y >= 0 && y < ChunkSize
}

// Get reports the stored walkability. Unknown tiles read as false.
func (c *BitChunk) Get(x, y int) bool {
	if !inChunk(x, y) {
		return false
	}
	return c.value[y]&(1<<x) != 0
}

// IsSet reports whether the tile has been determined.
func (c *BitChunk) IsSet(x, y int) bool {
	if !inChunk(x, y) {
		return false
	}
	return c.isSet[y]&(1<<x) != 0
}

func (c *BitChunk) Set(x, y int, walkable bool) {
	if !inChunk(x, y) {
		return
	}
	if walkable {
		c.value[y] |= 1 << x
	} else {
		c.value[y] &^= 1 << x
	}
	c.isSet[y] |= 1 << x
}

// Clear returns the tile to the unknown state.
func (c *BitChunk) Clear(x, y int) {
	if !inChunk(x, y) {
		return
	}
	c.value[y] &^= 1 << x
	c.isSet[y] &^= 1 << x
}

// Any reports whether at least one tile is determined.
func (c *BitChunk) Any() bool {
	for _, row := range c.isSet {
		if row != 0 {
			return true
		}
	}
	return false
}

// Counts returns how many tiles are determined and how many of those are
// walkable.
func (c *BitChunk) Counts() (set, walkable int) {
	for y := 0; y < ChunkSize; y++ {
		for x := 0; x < ChunkSize; x++ {
			if c.IsSet(x, y) {
				set++
				if c.Get(x, y) {
					walkable++
				}
			}
		}
	}
	return set, walkable
}

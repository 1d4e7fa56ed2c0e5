package longrange

import "longwalk/internal/world"

// Direction indexes the eight grid neighbours clockwise from north. North is
// towards smaller y.
type Direction uint8

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

var directionOffsets = [8]world.Point{
	North:     {X: 0, Y: -1},
	NorthEast: {X: 1, Y: -1},
	East:      {X: 1, Y: 0},
	SouthEast: {X: 1, Y: 1},
	South:     {X: 0, Y: 1},
	SouthWest: {X: -1, Y: 1},
	West:      {X: -1, Y: 0},
	NorthWest: {X: -1, Y: -1},
}

func (d Direction) Offset() world.Point {
	return directionOffsets[d&7]
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// compass maps (sign dx, sign dy) to a direction.
var compass = [3][3]Direction{
	{NorthWest, West, SouthWest},
	{North, North, South},
	{NorthEast, East, SouthEast},
}

func toward(dx, dy int) Direction {
	return compass[sign(dx)+1][sign(dy)+1]
}

// PreferredDirections returns the directions that bring from closer to goal
// under the Chebyshev metric: the straight direction first, then its two
// neighbours that still make progress. A diagonal heading yields the two
// cardinals; a cardinal heading yields the two diagonals around it. from ==
// goal yields nothing.
func PreferredDirections(from, goal world.Point) []Direction {
	dx, dy := goal.X-from.X, goal.Y-from.Y
	if dx == 0 && dy == 0 {
		return nil
	}
	primary := toward(dx, dy)
	switch {
	case dx != 0 && dy != 0:
		return []Direction{primary, toward(dx, 0), toward(0, dy)}
	case dx != 0:
		return []Direction{primary, toward(dx, -1), toward(dx, 1)}
	default:
		return []Direction{primary, toward(-1, dy), toward(1, dy)}
	}
}

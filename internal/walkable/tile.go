package walkable

import "longwalk/internal/world"

// SurfaceTolerance is how far, in height units, a standable surface may sit
// from the land height and still count for the tile.
const SurfaceTolerance = 16

// noDrawLand lists land graphics that mark holes in the map.
var noDrawLand = map[uint16]struct{}{
	0x0001: {},
	0x0002: {},
	0x01DB: {},
}

func isNoDrawLand(graphic uint16) bool {
	if _, ok := noDrawLand[graphic]; ok {
		return true
	}
	return graphic >= 0x01AE && graphic <= 0x01B5
}

// CheckTileWalkability evaluates the object chain at (x,y) against the land
// height. The tile is walkable when at least one surface is within tolerance
// and no impassable static or multi spans the probe height.
func CheckTileWalkability(tiles world.Tiles, x, y int) bool {
	if tiles == nil {
		return false
	}
	z, ok := tiles.TileZ(x, y)
	if !ok {
		return false
	}

	surfaces := 0
	for _, obj := range tiles.Objects(x, y) {
		switch obj.Kind {
		case world.KindLand:
			if isNoDrawLand(obj.Graphic) || obj.Has(world.FlagImpassable) {
				continue
			}
			if withinTolerance(obj.AverageZ, z) {
				surfaces++
			}
		case world.KindStatic, world.KindMulti:
			if obj.Has(world.FlagImpassable) {
				if obj.Z <= z && z < obj.Z+max(obj.Height, 1) {
					return false
				}
				continue
			}
			if !obj.Has(world.FlagSurface) && !obj.Has(world.FlagBridge) {
				continue
			}
			height := obj.Height
			if obj.Has(world.FlagBridge) {
				height /= 2
			}
			if withinTolerance(obj.Z+height, z) {
				surfaces++
			}
		}
	}
	return surfaces > 0
}

func withinTolerance(surface, z int) bool {
	d := surface - z
	return d >= -SurfaceTolerance && d <= SurfaceTolerance
}

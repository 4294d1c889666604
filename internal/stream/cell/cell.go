package cell

import (
	"fmt"
	"math"
	"sort"
)

// Coord addresses one cell of the world partition.
type Coord struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coord) Add(dx, dy int) Coord { return Coord{X: c.X + dx, Y: c.Y + dy} }

// Less orders coordinates by (X, Y).
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	return c.Y < o.Y
}

func (c Coord) String() string { return fmt.Sprintf("(%d,%d)", c.X, c.Y) }

// Vec2 is a position in world units.
type Vec2 struct {
	X float64
	Y float64
}

// FromWorld maps a world position to the cell containing it.
func FromWorld(p Vec2, cellSize float64) Coord {
	if cellSize <= 0 {
		cellSize = 1
	}
	return Coord{
		X: int(math.Floor(p.X / cellSize)),
		Y: int(math.Floor(p.Y / cellSize)),
	}
}

// Center returns the world position at the middle of c.
func (c Coord) Center(cellSize float64) Vec2 {
	return Vec2{X: (float64(c.X) + 0.5) * cellSize, Y: (float64(c.Y) + 0.5) * cellSize}
}

func Manhattan(a, b Coord) int { return absInt(a.X-b.X) + absInt(a.Y-b.Y) }

// FloorDiv divides rounding toward negative infinity. b must be > 0.
func FloorDiv(a, b int) int {
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

// Batch returns the anchor of the size×size batch containing c.
func (c Coord) Batch(size int) Coord {
	if size <= 1 {
		return c
	}
	return Coord{X: FloorDiv(c.X, size) * size, Y: FloorDiv(c.Y, size) * size}
}

func SortCoords(cs []Coord) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Less(cs[j]) })
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

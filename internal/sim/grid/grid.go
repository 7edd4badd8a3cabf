package grid

import (
	"fmt"
	"math"
)

// Position is a cell on the field. X is the row, Y the column.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// None marks an unset position (for example an unassigned synapse target).
var None = Position{X: -1, Y: -1}

func Pos(x, y int) Position { return Position{X: x, Y: y} }

func (p Position) Valid() bool { return p.X >= 0 && p.Y >= 0 }

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Less orders positions row-major so iteration over position sets is stable.
func (p Position) Less(o Position) bool {
	if p.X != o.X {
		return p.X < o.X
	}
	return p.Y < o.Y
}

// Dist is the euclidean distance between two cells.
func Dist(a, b Position) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

// Pathfinder computes the route a potential travels: from start through each
// way point in order. The returned path excludes start and ends on the last
// way point.
type Pathfinder interface {
	Path(start Position, waypoints []Position) ([]Position, error)
}

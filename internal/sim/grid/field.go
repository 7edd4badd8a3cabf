package grid

import (
	"container/heap"
	"errors"
	"fmt"
)

var ErrNoPath = errors.New("no path")

// Field is a rectangular grid of free and blocked (hill) cells.
type Field struct {
	lines int
	cols  int
	hills []bool
}

func NewField(lines, cols int) *Field {
	if lines < 1 {
		lines = 1
	}
	if cols < 1 {
		cols = 1
	}
	return &Field{lines: lines, cols: cols, hills: make([]bool, lines*cols)}
}

// ParseField builds a field from text rows: '#' is a hill, anything else free.
func ParseField(rows []string) *Field {
	cols := 0
	for _, r := range rows {
		if len(r) > cols {
			cols = len(r)
		}
	}
	f := NewField(len(rows), cols)
	for x, r := range rows {
		for y := 0; y < len(r); y++ {
			if r[y] == '#' {
				f.hills[x*f.cols+y] = true
			}
		}
	}
	return f
}

func (f *Field) Lines() int { return f.lines }
func (f *Field) Cols() int  { return f.cols }

func (f *Field) InBounds(p Position) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < f.lines && p.Y < f.cols
}

func (f *Field) SetHill(p Position, hill bool) {
	if f.InBounds(p) {
		f.hills[p.X*f.cols+p.Y] = hill
	}
}

func (f *Field) Passable(p Position) bool {
	return f.InBounds(p) && !f.hills[p.X*f.cols+p.Y]
}

// ScatterHills marks roughly permille/1000 of the cells as hills, never
// touching the cells listed in keep or their direct neighbours.
func (f *Field) ScatterHills(permille int, intn func(n int) int, keep ...Position) {
	if permille <= 0 || intn == nil {
		return
	}
	reserved := map[Position]bool{}
	for _, k := range keep {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				reserved[Position{X: k.X + dx, Y: k.Y + dy}] = true
			}
		}
	}
	for x := 0; x < f.lines; x++ {
		for y := 0; y < f.cols; y++ {
			p := Position{X: x, Y: y}
			if reserved[p] {
				continue
			}
			if intn(1000) < permille {
				f.hills[x*f.cols+y] = true
			}
		}
	}
}

// Path chains A* searches through every way point.
func (f *Field) Path(start Position, waypoints []Position) ([]Position, error) {
	if !f.InBounds(start) {
		return nil, fmt.Errorf("%w: start %s outside field", ErrNoPath, start)
	}
	if len(waypoints) == 0 {
		return nil, fmt.Errorf("%w: no way points", ErrNoPath)
	}
	var out []Position
	cur := start
	for _, wp := range waypoints {
		if wp == cur {
			continue
		}
		leg := f.astar(cur, wp)
		if leg == nil {
			return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, cur, wp)
		}
		out = append(out, leg...)
		cur = wp
	}
	return out, nil
}

type node struct {
	pos      Position
	priority int
	order    int
	parent   *node
}

type queue []*node

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].order < q[j].order
}
func (q queue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x interface{}) { *q = append(*q, x.(*node)) }
func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

var neighbours = [4]Position{{X: -1}, {Y: 1}, {X: 1}, {Y: -1}}

func manhattan(a, b Position) int {
	return abs(a.X-b.X) + abs(a.Y-b.Y)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// astar returns the path from start (exclusive) to goal (inclusive). Start and
// goal may sit on occupied cells; intermediate cells must be passable.
func (f *Field) astar(start, goal Position) []Position {
	if !f.InBounds(goal) {
		return nil
	}
	pq := &queue{}
	heap.Init(pq)
	order := 0
	heap.Push(pq, &node{pos: start})
	cost := map[Position]int{start: 0}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*node)
		if cur.pos == goal {
			return reconstruct(cur)
		}
		for _, d := range neighbours {
			next := Position{X: cur.pos.X + d.X, Y: cur.pos.Y + d.Y}
			if next != goal && !f.Passable(next) {
				continue
			}
			c := cost[cur.pos] + 1
			if old, ok := cost[next]; ok && old <= c {
				continue
			}
			cost[next] = c
			order++
			heap.Push(pq, &node{pos: next, priority: c + manhattan(next, goal), order: order, parent: cur})
		}
	}
	return nil
}

func reconstruct(n *node) []Position {
	var rev []Position
	for ; n != nil && n.parent != nil; n = n.parent {
		rev = append(rev, n.pos)
	}
	out := make([]Position, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

package grid

import (
	"errors"
	"math"
	"testing"
)

func TestDist(t *testing.T) {
	if d := Dist(Pos(0, 0), Pos(3, 4)); d != 5 {
		t.Fatalf("dist=%v want 5", d)
	}
	if d := Dist(Pos(2, 2), Pos(2, 2)); d != 0 {
		t.Fatalf("dist=%v want 0", d)
	}
	if d := Dist(Pos(0, 0), Pos(1, 1)); math.Abs(d-math.Sqrt2) > 1e-9 {
		t.Fatalf("dist=%v", d)
	}
}

func TestPath_StraightLine(t *testing.T) {
	f := NewField(5, 5)
	path, err := f.Path(Pos(0, 0), []Position{Pos(0, 4)})
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(path) != 4 {
		t.Fatalf("len=%d want 4: %v", len(path), path)
	}
	if path[len(path)-1] != Pos(0, 4) {
		t.Fatalf("last=%v", path[len(path)-1])
	}
	prev := Pos(0, 0)
	for _, p := range path {
		if manhattan(prev, p) != 1 {
			t.Fatalf("non-adjacent step %v -> %v", prev, p)
		}
		prev = p
	}
}

func TestPath_AroundHills(t *testing.T) {
	f := ParseField([]string{
		".....",
		"####.",
		".....",
	})
	path, err := f.Path(Pos(0, 0), []Position{Pos(2, 0)})
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	for _, p := range path {
		if !f.Passable(p) {
			t.Fatalf("path crosses hill at %v", p)
		}
	}
	if len(path) != 10 {
		t.Fatalf("len=%d want 10: %v", len(path), path)
	}
}

func TestPath_ThroughWayPoints(t *testing.T) {
	f := NewField(6, 6)
	path, err := f.Path(Pos(0, 0), []Position{Pos(5, 0), Pos(5, 5)})
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	seen := false
	for _, p := range path {
		if p == Pos(5, 0) {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("way point not visited: %v", path)
	}
	if len(path) != 10 || path[len(path)-1] != Pos(5, 5) {
		t.Fatalf("unexpected path %v", path)
	}
}

func TestPath_Unreachable(t *testing.T) {
	f := ParseField([]string{
		"..#..",
		"..#..",
		"..#..",
	})
	_, err := f.Path(Pos(0, 0), []Position{Pos(0, 4)})
	if !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath, got %v", err)
	}
	if _, err := f.Path(Pos(0, 0), nil); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath for empty way points, got %v", err)
	}
}

func TestPath_GoalOnHillIsReachable(t *testing.T) {
	f := ParseField([]string{
		"....#",
	})
	path, err := f.Path(Pos(0, 0), []Position{Pos(0, 4)})
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if path[len(path)-1] != Pos(0, 4) {
		t.Fatalf("path=%v", path)
	}
}

func TestScatterHills_KeepsReserved(t *testing.T) {
	f := NewField(10, 10)
	f.ScatterHills(1000, func(n int) int { return 0 }, Pos(5, 5))
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if !f.Passable(Pos(5+dx, 5+dy)) {
				t.Fatalf("reserved cell blocked")
			}
		}
	}
	if f.Passable(Pos(0, 0)) {
		t.Fatalf("expected hill at (0,0)")
	}
}

package player

import (
	"sync"
	"testing"
	"time"

	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/random"
	"dissonance.ai/internal/sim/tuning"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type noPath struct{}

func (noPath) Path(grid.Position, []grid.Position) ([]grid.Position, error) {
	return nil, grid.ErrNoPath
}

type fixture struct {
	clock *testClock
	field *grid.Field
	a, b  *Player
}

// newFixture builds two players on an open 30x40 field with nuclei at
// (5,5) and (5,20). Random picks are always the lowest option.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: newTestClock(), field: grid.NewField(30, 40)}
	f.a = newTestPlayer(t, "a", grid.Pos(5, 5), f.field, random.NewFixed(), f.clock)
	f.b = newTestPlayer(t, "b", grid.Pos(5, 20), f.field, random.NewFixed(), f.clock)
	return f
}

func newTestPlayer(t *testing.T, name string, nucleus grid.Position, paths grid.Pathfinder, rnd random.Source, clock *testClock) *Player {
	t.Helper()
	p, err := New(Config{
		Name:       name,
		Tuning:     tuning.Defaults().Player,
		Nucleus:    nucleus,
		Random:     rnd,
		Pathfinder: paths,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	return p
}

// fill activates every resource and sets its amount.
func fill(p *Player, amount float64) {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	for _, st := range p.resources {
		st.Amount = amount
		st.Activated = true
	}
}

func setResource(p *Player, r Resource, amount float64, activated bool) {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	p.resources[r].Amount = amount
	p.resources[r].Activated = activated
}

func amount(p *Player, r Resource) float64 {
	return p.Resources()[r].Amount
}

func mustBuild(t *testing.T, p *Player, kind Kind, pos grid.Position, targets Targets) {
	t.Helper()
	if err := p.AddStructure(kind, pos, targets); err != nil {
		t.Fatalf("build %s at %s: %v", kind, pos, err)
	}
}

func mustResearch(t *testing.T, p *Player, tech Technology, levels int) {
	t.Helper()
	for i := 0; i < levels; i++ {
		if err := p.AddTechnology(tech); err != nil {
			t.Fatalf("research %s: %v", tech, err)
		}
	}
}

func at(pos grid.Position) *grid.Position { return &pos }

func checkInvariants(t *testing.T, p *Player) {
	t.Helper()
	for r, st := range p.Resources() {
		if st.Amount < 0 {
			t.Fatalf("%s: resource %s negative: %v", p.Name(), r, st.Amount)
		}
	}
	for tech, st := range p.Technologies() {
		if st.Level < 0 || st.Level > st.Cap {
			t.Fatalf("%s: technology %s level %d cap %d", p.Name(), tech, st.Level, st.Cap)
		}
	}
}

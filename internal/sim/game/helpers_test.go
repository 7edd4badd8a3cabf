package game

import (
	"sync"
	"testing"
	"time"

	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
	"dissonance.ai/internal/sim/tuning"
)

var testStart = time.UnixMilli(1_700_000_000_000).UTC()

// testTuning is an open 20x30 field with nuclei at (5,5) and (5,25).
func testTuning() tuning.Tuning {
	t := tuning.Defaults()
	t.Seed = 42
	t.Field.Lines = 20
	t.Field.Cols = 30
	t.Field.HillPermille = 0
	t.Field.Nuclei = [2][2]int{{5, 5}, {5, 25}}
	return t
}

func newTestGame(t *testing.T, tune tuning.Tuning) *Game {
	t.Helper()
	g, err := New(Config{Tuning: tune, Names: [Seats]string{"a", "b"}, Start: testStart})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	return g
}

// fund activates every resource of seat and sets it to amount.
func fund(g *Game, seat int, amount float64) {
	p := g.players[seat]
	s := p.Snapshot()
	for _, r := range player.Resources {
		s.Economy.Resources[r] = player.ResourceState{Amount: amount, Activated: true}
	}
	p.Restore(s)
}

func pos(x, y int) *grid.Position {
	p := grid.Pos(x, y)
	return &p
}

func mustApply(t *testing.T, g *Game, seat int, cmd Command) Result {
	t.Helper()
	res := g.Apply(seat, cmd)
	if !res.OK {
		t.Fatalf("seat %d %s: %s %s", seat, cmd.Action, res.Code, res.Message)
	}
	return res
}

// stepper drives Step with a synthetic clock.
type stepper struct {
	g   *Game
	now time.Time
}

func newStepper(g *Game) *stepper { return &stepper{g: g, now: testStart} }

func (s *stepper) step(d time.Duration) (uint64, string) {
	s.now = s.now.Add(d)
	return s.g.Step(s.now)
}

type memTickLog struct {
	mu      sync.Mutex
	entries []TickLogEntry
}

func (m *memTickLog) WriteTick(e TickLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memTickLog) all() []TickLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TickLogEntry(nil), m.entries...)
}

type memAudit struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (m *memAudit) WriteAudit(e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

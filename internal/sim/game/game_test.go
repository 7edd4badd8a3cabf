package game

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"dissonance.ai/internal/protocol"
	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
)

func TestNew(t *testing.T) {
	g := newTestGame(t, testTuning())
	if g.ID() == "" {
		t.Fatalf("expected generated id")
	}
	if g.Seed() != 42 || g.StartMs() != testStart.UnixMilli() {
		t.Fatalf("seed=%d start=%d", g.Seed(), g.StartMs())
	}
	if g.Status() != StatusRunning {
		t.Fatalf("status=%s", g.Status())
	}
	if got := g.Player(0).Nucleus().Pos; got != grid.Pos(5, 5) {
		t.Fatalf("seat 0 nucleus at %s", got)
	}
	if got := g.Player(1).Nucleus().Pos; got != grid.Pos(5, 25) {
		t.Fatalf("seat 1 nucleus at %s", got)
	}
	if g.Player(2) != nil || g.Player(-1) != nil {
		t.Fatalf("out of range seat returned a player")
	}
	if g.Player(0).Name() != "a" || g.Player(1).Name() != "b" {
		t.Fatalf("names: %s %s", g.Player(0).Name(), g.Player(1).Name())
	}

	tune := testTuning()
	tune.Seed = 0
	if g2 := newTestGame(t, tune); g2.Seed() == 0 {
		t.Fatalf("zero seed not resolved")
	}

	tune = testTuning()
	tune.TickRateHz = 0
	if _, err := New(Config{Tuning: tune}); err == nil {
		t.Fatalf("expected invalid tuning error")
	}
}

func TestNew_HillsSparedAroundNuclei(t *testing.T) {
	tune := testTuning()
	tune.Field.HillPermille = 500
	g := newTestGame(t, tune)
	for _, n := range []grid.Position{grid.Pos(5, 5), grid.Pos(5, 25)} {
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				if p := grid.Pos(n.X+dx, n.Y+dy); !g.Field().Passable(p) {
					t.Fatalf("hill next to nucleus at %s", p)
				}
			}
		}
	}
	again := newTestGame(t, tune)
	for x := 0; x < tune.Field.Lines; x++ {
		for y := 0; y < tune.Field.Cols; y++ {
			p := grid.Pos(x, y)
			if g.Field().Passable(p) != again.Field().Passable(p) {
				t.Fatalf("terrain differs at %s for the same seed", p)
			}
		}
	}
}

func TestApply_Errors(t *testing.T) {
	g := newTestGame(t, testTuning())
	g.Field().SetHill(grid.Pos(6, 6), true)

	cases := []struct {
		name string
		seat int
		cmd  Command
		code string
	}{
		{"bad seat", 5, Command{Action: ActionAddTechnology, Technology: "WAY"}, protocol.ErrBadRequest},
		{"unknown action", 0, Command{Action: "NUKE"}, protocol.ErrBadRequest},
		{"missing pos", 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE"}, protocol.ErrBadRequest},
		{"unknown resource", 0, Command{Action: ActionDistributeIron, Resource: "MANA"}, protocol.ErrInvalidState},
		{"unknown technology", 0, Command{Action: ActionAddTechnology, Technology: "TELEPORT"}, protocol.ErrInvalidState},
		{"outside field", 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(25, 5)}, protocol.ErrInvalidReference},
		{"hill", 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(6, 6)}, protocol.ErrInvalidState},
		{"enemy cell", 0, Command{Action: ActionAddStructure, Kind: "NUCLEUS", Pos: pos(5, 25)}, protocol.ErrInvalidState},
		{"no synapse", 0, Command{Action: ActionLaunch, Kind: "EPSP", Pos: pos(5, 7)}, protocol.ErrInvalidReference},
		{"way point outside", 1, Command{Action: ActionAddWayPoint, Pos: pos(5, 23), Target: pos(-1, 3)}, protocol.ErrInvalidReference},
		{"reset without target", 1, Command{Action: ActionResetWayPoints, Pos: pos(5, 23)}, protocol.ErrBadRequest},
		{"reset outside", 1, Command{Action: ActionResetWayPoints, Pos: pos(5, 23), Target: pos(3, 40)}, protocol.ErrInvalidReference},
	}
	for _, tc := range cases {
		res := g.Apply(tc.seat, tc.cmd)
		if res.OK || res.Code != tc.code {
			t.Fatalf("%s: ok=%v code=%q want %q (%s)", tc.name, res.OK, res.Code, tc.code, res.Message)
		}
	}

	res := g.Apply(0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(5, 7)})
	if res.Code != protocol.ErrNoResource {
		t.Fatalf("expected no resource, got %+v", res)
	}
	if math.Abs(res.Missing["OXYGEN"]-7.9) > 1e-9 || math.Abs(res.Missing["POTASSIUM"]-11.3) > 1e-9 {
		t.Fatalf("missing=%v", res.Missing)
	}

	mustApply(t, g, 0, Command{Action: ActionDistributeIron, Resource: "POTASSIUM"})

	tick := newStepper(g)
	tick.step(50 * time.Millisecond)
	m := g.Metrics()
	if m.CommandsApplied != 1 || m.CommandsRejected != uint64(len(cases)) {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestApply_ResetWayPointsSetsSinglePoint(t *testing.T) {
	g := newTestGame(t, testTuning())
	fund(g, 0, 60)
	syn := grid.Pos(5, 8)

	mustApply(t, g, 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: &syn})
	if res := g.Apply(0, Command{Action: ActionResetWayPoints, Pos: &syn, Target: pos(3, 4)}); res.Code != protocol.ErrInvalidState {
		t.Fatalf("reset without WAY: %+v", res)
	}
	mustApply(t, g, 0, Command{Action: ActionAddTechnology, Technology: "WAY"})
	mustApply(t, g, 0, Command{Action: ActionAddWayPoint, Pos: &syn, Target: pos(1, 1)})
	mustApply(t, g, 0, Command{Action: ActionResetWayPoints, Pos: &syn, Target: pos(3, 4)})

	s, ok := g.Player(0).Structure(syn)
	if !ok || len(s.Synapse.WayPoints) != 1 || s.Synapse.WayPoints[0] != grid.Pos(3, 4) {
		t.Fatalf("way points=%v", s.Synapse.WayPoints)
	}
}

func TestResultCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrClosed, protocol.ErrClosed},
		{ErrPaused, protocol.ErrInvalidState},
		{ErrBadCommand, protocol.ErrBadRequest},
		{player.ErrOutOfRange, protocol.ErrInvalidState},
		{player.ErrInvalidReference, protocol.ErrInvalidReference},
		{&player.MissingError{}, protocol.ErrNoResource},
		{errors.New("disk on fire"), protocol.ErrInternal},
	}
	for _, tc := range cases {
		got := ResultCode(tc.err)
		if got != tc.want {
			t.Fatalf("ResultCode(%v)=%q want %q", tc.err, got, tc.want)
		}
		if !protocol.IsKnownCode(got) {
			t.Fatalf("unknown code %q", got)
		}
	}
}

func TestPauseResumeClose(t *testing.T) {
	g := newTestGame(t, testTuning())
	if !g.Pause() || g.Status() != StatusPaused {
		t.Fatalf("pause failed")
	}
	if res := g.Apply(0, Command{Action: ActionDistributeIron, Resource: "POTASSIUM"}); res.Code != protocol.ErrInvalidState {
		t.Fatalf("paused apply: %+v", res)
	}
	if !g.Resume() || g.Status() != StatusRunning {
		t.Fatalf("resume failed")
	}
	mustApply(t, g, 0, Command{Action: ActionDistributeIron, Resource: "POTASSIUM"})

	g.Close()
	g.Close()
	if g.Status() != StatusClosed {
		t.Fatalf("status=%s", g.Status())
	}
	if g.Resume() || g.Pause() {
		t.Fatalf("closed game changed status")
	}
	if res := g.Apply(0, Command{Action: ActionDistributeIron, Resource: "CHLORIDE"}); res.Code != protocol.ErrClosed {
		t.Fatalf("closed apply: %+v", res)
	}
}

func TestStep_EpspReachesEnemyNucleus(t *testing.T) {
	g := newTestGame(t, testTuning())
	fund(g, 0, 60)
	audit := &memAudit{}
	g.SetAuditLogger(audit)

	mustApply(t, g, 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(5, 8), EpspTarget: pos(5, 25)})
	mustApply(t, g, 0, Command{Action: ActionLaunch, Kind: "EPSP", Pos: pos(5, 8)})
	if n := len(g.Player(0).Potentials()); n != 1 {
		t.Fatalf("potentials=%d want 1", n)
	}

	var mu sync.Mutex
	hits := 0
	g.OnTick(func(r TickResult) {
		mu.Lock()
		hits += r.Reports[0].Hits
		mu.Unlock()
	})

	tick := newStepper(g)
	steps := 0
	for len(g.Player(0).Potentials()) > 0 {
		tick.step(400 * time.Millisecond)
		steps++
		if steps > 100 {
			t.Fatalf("epsp never arrived")
		}
	}
	// 17 cells from (5,8) to (5,25), one per step.
	if steps != 17 {
		t.Fatalf("steps=%d want 17", steps)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != 1 {
		t.Fatalf("hits=%d want 1", hits)
	}
	if life := g.Player(1).Nucleus(); life.Voltage != 2 {
		t.Fatalf("enemy nucleus voltage=%d want 2", life.Voltage)
	}
	if lost := g.Lost(); lost[0] || lost[1] {
		t.Fatalf("nobody should have lost: %v", lost)
	}
	if len(audit.entries) != 0 {
		t.Fatalf("unexpected audit entries: %+v", audit.entries)
	}
}

func TestStep_LossIsAuditedOnce(t *testing.T) {
	g := newTestGame(t, testTuning())
	audit := &memAudit{}
	g.SetAuditLogger(audit)

	if _, err := g.Player(1).ApplyDamage(grid.Pos(5, 25), 9); err != nil {
		t.Fatalf("damage: %v", err)
	}
	tick := newStepper(g)
	var last TickResult
	g.OnTick(func(r TickResult) { last = r })
	for i := 0; i < 3; i++ {
		tick.step(50 * time.Millisecond)
	}
	if !last.Lost[1] || last.Lost[0] {
		t.Fatalf("lost=%v", last.Lost)
	}
	if len(audit.entries) != 1 || audit.entries[0].Event != "LOST" || audit.entries[0].Seat != 1 {
		t.Fatalf("audit=%+v", audit.entries)
	}
	if m := g.Metrics(); !m.Lost[1] || m.Tick != 3 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestStep_TickLogCarriesCommands(t *testing.T) {
	g := newTestGame(t, testTuning())
	logs := &memTickLog{}
	g.SetTickLogger(logs)
	tick := newStepper(g)

	mustApply(t, g, 0, Command{Action: ActionDistributeIron, Resource: "POTASSIUM"})
	g.Apply(1, Command{Action: ActionAddTechnology, Technology: "WAY"})
	tick.step(50 * time.Millisecond)
	tick.step(50 * time.Millisecond)

	entries := logs.all()
	if len(entries) != 2 {
		t.Fatalf("entries=%d", len(entries))
	}
	first := entries[0]
	if first.Tick != 0 || first.Seed != 42 || first.StartMs != testStart.UnixMilli() || first.GameID != g.ID() {
		t.Fatalf("tick 0 header: %+v", first)
	}
	if len(first.Commands) != 2 || first.Commands[0].Seat != 0 || first.Commands[1].Code != protocol.ErrNoResource {
		t.Fatalf("commands=%+v", first.Commands)
	}
	if first.Commands[0].TimeMs != testStart.UnixMilli() {
		t.Fatalf("command time=%d", first.Commands[0].TimeMs)
	}
	second := entries[1]
	if second.Tick != 1 || second.Seed != 0 || len(second.Commands) != 0 {
		t.Fatalf("tick 1: %+v", second)
	}
	if second.TimeMs-first.TimeMs != 50 {
		t.Fatalf("tick times %d %d", first.TimeMs, second.TimeMs)
	}
	if first.Digest == "" || first.Digest == second.Digest {
		t.Fatalf("digests: %q %q", first.Digest, second.Digest)
	}
}

func TestStep_ClockNeverRunsBackwards(t *testing.T) {
	g := newTestGame(t, testTuning())
	g.Step(testStart.Add(time.Second))
	g.Step(testStart)
	if got := g.now(); !got.Equal(testStart.Add(time.Second)) {
		t.Fatalf("clock went back to %v", got)
	}
}

func TestStateDigest_Deterministic(t *testing.T) {
	run := func() string {
		g := newTestGame(t, testTuning())
		fund(g, 0, 60)
		fund(g, 1, 60)
		tick := newStepper(g)
		mustApply(t, g, 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(5, 8)})
		mustApply(t, g, 1, Command{Action: ActionAddStructure, Kind: "DEFENSE_NODE", Pos: pos(5, 23)})
		mustApply(t, g, 0, Command{Action: ActionLaunch, Kind: "EPSP", Pos: pos(5, 8)})
		var digest string
		for i := 0; i < 40; i++ {
			_, digest = tick.step(100 * time.Millisecond)
		}
		return digest
	}
	a, b := run(), run()
	if a != b {
		t.Fatalf("digest differs: %s vs %s", a, b)
	}
}

func TestRun_TicksUntilClosed(t *testing.T) {
	tune := testTuning()
	tune.TickRateHz = 200
	g := newTestGame(t, tune)

	var mu sync.Mutex
	ticks := 0
	g.OnTick(func(TickResult) {
		mu.Lock()
		ticks++
		mu.Unlock()
	})

	done := make(chan error, 1)
	go func() { done <- g.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for g.Tick() < 5 {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not tick")
		}
		time.Sleep(5 * time.Millisecond)
	}

	g.Pause()
	time.Sleep(30 * time.Millisecond)
	paused := g.Tick()
	time.Sleep(50 * time.Millisecond)
	if g.Tick() != paused {
		t.Fatalf("ticked while paused: %d -> %d", paused, g.Tick())
	}
	g.Resume()

	g.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after close")
	}
	mu.Lock()
	defer mu.Unlock()
	if uint64(ticks) != g.Tick() {
		t.Fatalf("observer saw %d ticks, game at %d", ticks, g.Tick())
	}
}

func TestRun_ContextCancel(t *testing.T) {
	g := newTestGame(t, testTuning())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run ignored cancel")
	}
}

func TestConcurrentCommandsDuringRun(t *testing.T) {
	tune := testTuning()
	tune.TickRateHz = 200
	g := newTestGame(t, tune)
	fund(g, 0, 200)
	fund(g, 1, 200)
	mustApply(t, g, 0, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(5, 8), EpspTarget: pos(5, 25)})
	mustApply(t, g, 1, Command{Action: ActionAddStructure, Kind: "SYNAPSE", Pos: pos(5, 22), EpspTarget: pos(5, 5)})
	mustApply(t, g, 1, Command{Action: ActionAddStructure, Kind: "DEFENSE_NODE", Pos: pos(6, 24)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	var wg sync.WaitGroup
	for seat := 0; seat < Seats; seat++ {
		wg.Add(1)
		go func(seat int) {
			defer wg.Done()
			syn := pos(5, 8)
			if seat == 1 {
				syn = pos(5, 22)
			}
			for i := 0; i < 200; i++ {
				g.Apply(seat, Command{Action: ActionLaunch, Kind: "EPSP", Pos: syn})
				g.Apply(seat, Command{Action: ActionDistributeIron, Resource: "OXYGEN"})
				_ = g.Snapshots()
			}
		}(seat)
	}
	wg.Wait()
	g.Close()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, s := range g.Snapshots() {
		for r, st := range s.Economy.Resources {
			if st.Amount < 0 {
				t.Fatalf("%s %s negative: %v", s.Name, r, st.Amount)
			}
		}
	}
}

package game

import (
	"fmt"

	"dissonance.ai/internal/persistence/snapshot"
)

// ExportSnapshot copies the whole game between ticks.
func (g *Game) ExportSnapshot() snapshot.Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.exportLocked(g.tick.Load())
}

func (g *Game) exportLocked(nextTick uint64) snapshot.Snapshot {
	snap := snapshot.Snapshot{
		Header: snapshot.Header{
			Version: snapshot.Version,
			GameID:  g.id,
			Tick:    nextTick,
		},
		Seed:               g.seed,
		StartMs:            g.startMs,
		TimeMs:             g.cur.Load(),
		TickRate:           g.tune.TickRateHz,
		Lines:              g.field.Lines(),
		Cols:               g.field.Cols(),
		Status:             string(g.Status()),
		UnitsDigest:        g.cats.Units.Digest,
		TechnologiesDigest: g.cats.Technologies.Digest,
	}
	for i, p := range g.players {
		snap.Players[i] = p.Snapshot()
	}
	return snap
}

// ImportSnapshot loads snap into a game built from the same tuning, seed and
// catalogs. A snapshot of a closed game comes back paused.
//
// Snapshots taken by the tick loop sit exactly on a tick boundary, so a game
// resumed from one continues like the original. ExportSnapshot called between
// ticks may include commands that the tick log only records with the next
// tick.
func (g *Game) ImportSnapshot(snap snapshot.Snapshot) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("game: snapshot version %d, want %d", snap.Header.Version, snapshot.Version)
	}
	if snap.Seed != g.seed {
		return fmt.Errorf("game: snapshot seed %d, game seed %d", snap.Seed, g.seed)
	}
	if snap.Lines != g.field.Lines() || snap.Cols != g.field.Cols() {
		return fmt.Errorf("game: snapshot field %dx%d, game field %dx%d", snap.Lines, snap.Cols, g.field.Lines(), g.field.Cols())
	}
	if snap.UnitsDigest != g.cats.Units.Digest || snap.TechnologiesDigest != g.cats.Technologies.Digest {
		return fmt.Errorf("game: snapshot catalogs differ from the loaded ones")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()

	g.id = snap.Header.GameID
	g.startMs = snap.StartMs
	g.rnd.Reseed(tickSeed(snap.Seed, snap.Header.Tick))
	g.tick.Store(snap.Header.Tick)
	g.cur.Store(snap.TimeMs)
	g.pending = nil
	for i, p := range g.players {
		p.Restore(snap.Players[i])
		g.lostSeen[i] = p.HasLost()
	}
	switch Status(snap.Status) {
	case StatusPaused, StatusClosed:
		g.status.Store(StatusPaused)
	default:
		g.status.Store(StatusRunning)
	}
	return nil
}

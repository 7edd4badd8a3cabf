package game

import (
	"context"
	"time"

	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/player"
)

// TickResult is handed to OnTick observers after each tick.
type TickResult struct {
	Tick    uint64
	Time    time.Time
	Digest  string
	Reports [Seats]player.AdvanceReport
	Fired   [Seats]int
	Lost    [Seats]bool
}

// Run ticks the game at the configured rate until ctx is done or the game is
// closed. A paused game keeps its loop alive but skips ticks.
func (g *Game) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(g.tune.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case now := <-ticker.C:
			switch g.Status() {
			case StatusClosed:
				return nil
			case StatusPaused:
				continue
			}
			g.Step(now)
		}
	}
}

// Step runs one tick at now, the same way Run does. It is exported for
// replays and tests that need to drive the clock themselves.
func (g *Game) Step(now time.Time) (tick uint64, digest string) {
	res := g.step(now)
	return res.Tick, res.Digest
}

func (g *Game) step(now time.Time) TickResult {
	stepStart := time.Now()

	g.mu.Lock()
	nowMs := now.UnixMilli()
	if nowMs < g.cur.Load() {
		// The clock never runs backwards; a late tick reuses the last time.
		nowMs = g.cur.Load()
	}
	g.cur.Store(nowMs)
	at := g.now()
	nowTick := g.tick.Load()

	a, b := g.players[0], g.players[1]
	res := TickResult{Tick: nowTick, Time: at}

	// Fixed order: growth, A's offense, B's offense, A's defense, B's defense.
	a.Grow(at)
	b.Grow(at)
	res.Reports[0] = a.Advance(at, b)
	res.Reports[1] = b.Advance(at, a)
	res.Fired[0] = a.RunDefenses(at, b)
	res.Fired[1] = b.RunDefenses(at, a)

	res.Digest = g.stateDigest(nowTick)
	res.Lost = g.Lost()

	entry := TickLogEntry{
		GameID:   g.id,
		Tick:     nowTick,
		TimeMs:   nowMs,
		Commands: g.pending,
		Digest:   res.Digest,
	}
	if nowTick == 0 {
		entry.Seed = g.seed
		entry.StartMs = g.startMs
	}
	g.pending = nil

	var newlyLost []int
	for seat, lost := range res.Lost {
		if lost && !g.lostSeen[seat] {
			g.lostSeen[seat] = true
			newlyLost = append(newlyLost, seat)
		}
	}

	var snap *snapshot.Snapshot
	if g.snapshotSink != nil && nowTick != 0 && g.tune.SnapshotEveryTicks > 0 && nowTick%uint64(g.tune.SnapshotEveryTicks) == 0 {
		s := g.exportLocked(nowTick + 1)
		snap = &s
	}
	g.tick.Add(1)
	g.rnd.Reseed(tickSeed(g.seed, nowTick+1))
	g.mu.Unlock()

	if g.tickLogger != nil {
		if err := g.tickLogger.WriteTick(entry); err != nil {
			g.log.Printf("game %s: tick log: %v", g.id, err)
		}
	}
	g.audit(res, newlyLost)
	if snap != nil {
		select {
		case g.snapshotSink <- *snap:
		default:
			// Drop snapshot if sink is backed up.
		}
	}

	g.storeMetrics(res, float64(time.Since(stepStart).Microseconds())/1000.0)

	g.obsMu.Lock()
	observers := append([]func(TickResult){}, g.observers...)
	g.obsMu.Unlock()
	for _, fn := range observers {
		fn(res)
	}
	return res
}

func (g *Game) audit(res TickResult, newlyLost []int) {
	if g.auditLogger == nil {
		return
	}
	write := func(e AuditEntry) {
		if err := g.auditLogger.WriteAudit(e); err != nil {
			g.log.Printf("game %s: audit log: %v", g.id, err)
		}
	}
	for attacker, rep := range res.Reports {
		for _, pos := range rep.Destroyed {
			write(AuditEntry{GameID: g.id, Tick: res.Tick, Seat: 1 - attacker, Event: "DESTROYED", Pos: pos})
		}
	}
	for _, seat := range newlyLost {
		write(AuditEntry{GameID: g.id, Tick: res.Tick, Seat: seat, Event: "LOST", Pos: g.players[seat].Nucleus().Pos})
	}
}

// tickSeed derives the random stream used from the end of tick-1 through
// tick. Reseeding at every boundary lets a game resumed from a snapshot draw
// the same numbers as the original run.
func tickSeed(seed int64, tick uint64) int64 {
	return seed ^ int64(tick)*0x5851F42D4C957F2D
}

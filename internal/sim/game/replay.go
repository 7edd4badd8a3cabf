package game

import (
	"errors"
	"fmt"
	"time"

	"dissonance.ai/internal/persistence/snapshot"
)

var ErrReplayMismatch = errors.New("replay mismatch")

// Replayer re-simulates a recorded tick log. Entries must be fed in order
// starting at tick 0, which carries the seed and start time.
type Replayer struct {
	g    *Game
	next uint64
}

// NewReplayer builds a fresh game for first. cfg supplies tuning and
// catalogs; its ID, seed and start are taken from the log.
func NewReplayer(cfg Config, first TickLogEntry) (*Replayer, error) {
	if first.Tick != 0 {
		return nil, fmt.Errorf("replay: log starts at tick %d, need 0", first.Tick)
	}
	if first.Seed == 0 {
		return nil, fmt.Errorf("replay: tick 0 has no seed")
	}
	cfg.ID = first.GameID
	cfg.Tuning.Seed = first.Seed
	cfg.Start = time.UnixMilli(first.StartMs)
	g, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Replayer{g: g}, nil
}

// NewReplayerFromSnapshot resumes from a snapshot written by the tick loop.
// The first entry to feed is the snapshot's Header.Tick.
func NewReplayerFromSnapshot(cfg Config, snap snapshot.Snapshot) (*Replayer, error) {
	cfg.ID = snap.Header.GameID
	cfg.Tuning.Seed = snap.Seed
	cfg.Start = time.UnixMilli(snap.StartMs)
	g, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := g.ImportSnapshot(snap); err != nil {
		return nil, err
	}
	return &Replayer{g: g, next: snap.Header.Tick}, nil
}

func (r *Replayer) Game() *Game { return r.g }

// Next is the tick the replayer expects to be fed.
func (r *Replayer) Next() uint64 { return r.next }

// Feed applies the entry's commands and steps the game. It fails when a
// command result or the digest differs from the recording.
func (r *Replayer) Feed(e TickLogEntry) error {
	if e.Tick != r.next {
		return fmt.Errorf("replay: got tick %d, want %d", e.Tick, r.next)
	}
	g := r.g
	g.mu.RLock()
	g.cmdMu.Lock()
	for i, rc := range e.Commands {
		if rc.Seat < 0 || rc.Seat >= Seats {
			g.cmdMu.Unlock()
			g.mu.RUnlock()
			return fmt.Errorf("replay: tick %d command %d: seat %d", e.Tick, i, rc.Seat)
		}
		res := g.applyLocked(rc.Seat, rc.Cmd)
		g.pending = append(g.pending, RecordedCommand{Seat: rc.Seat, TimeMs: g.cur.Load(), Cmd: rc.Cmd, Code: res.Code})
		if res.Code != rc.Code {
			g.cmdMu.Unlock()
			g.mu.RUnlock()
			return fmt.Errorf("%w: tick %d command %d (%s): code %q, recorded %q", ErrReplayMismatch, e.Tick, i, rc.Cmd.Action, res.Code, rc.Code)
		}
	}
	g.cmdMu.Unlock()
	g.mu.RUnlock()

	_, digest := g.Step(time.UnixMilli(e.TimeMs))
	r.next++
	if digest != e.Digest {
		return fmt.Errorf("%w: tick %d digest %s, recorded %s", ErrReplayMismatch, e.Tick, digest, e.Digest)
	}
	return nil
}

package main

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	persistlog "dissonance.ai/internal/persistence/log"
	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/tuning"
)

var start = time.UnixMilli(1_700_000_000_000).UTC()

// recordGame plays 30 ticks into dir's tick log and returns the snapshot taken
// at tick 10 together with the live game.
func recordGame(t *testing.T, dir string, tune tuning.Tuning) (*game.Game, snapshot.Snapshot) {
	t.Helper()
	g, err := game.New(game.Config{ID: "replay-1", Tuning: tune, Start: start})
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	tl := persistlog.NewTickLogger(dir)
	g.SetTickLogger(tl)
	sink := make(chan snapshot.Snapshot, 8)
	g.SetSnapshotSink(sink)

	g.Apply(0, game.Command{Action: game.ActionDistributeIron, Resource: "OXYGEN"})
	for i := 1; i <= 30; i++ {
		if i == 12 {
			g.Apply(1, game.Command{Action: game.ActionDistributeIron, Resource: "POTASSIUM"})
		}
		g.Step(start.Add(time.Duration(i) * 50 * time.Millisecond))
	}
	if err := tl.Close(); err != nil {
		t.Fatalf("close tick log: %v", err)
	}
	select {
	case snap := <-sink:
		return g, snap
	default:
		t.Fatalf("no snapshot emitted")
	}
	return nil, snapshot.Snapshot{}
}

func testTuning() tuning.Tuning {
	tune := tuning.Defaults()
	tune.Seed = 99
	tune.SnapshotEveryTicks = 10
	return tune
}

func TestReplay_FromTickZero(t *testing.T) {
	dir := t.TempDir()
	live, _ := recordGame(t, dir, testTuning())

	sum, err := replay(io.Discard, replayOptions{GameDir: dir, Config: game.Config{Tuning: testTuning()}})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sum.Checked != 30 || sum.From != 0 || sum.FinalTick != live.Tick() || sum.GameID != "replay-1" {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestReplay_FromSnapshot(t *testing.T) {
	dir := t.TempDir()
	_, snap := recordGame(t, dir, testTuning())
	path := filepath.Join(dir, "snapshots", "11.snap.zst")
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	sum, err := replay(io.Discard, replayOptions{GameDir: dir, Snapshot: path, Config: game.Config{Tuning: testTuning()}})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sum.From != snap.Header.Tick || sum.Checked != 30-snap.Header.Tick || sum.FinalTick != 30 {
		t.Fatalf("summary=%+v (snapshot tick %d)", sum, snap.Header.Tick)
	}
}

func TestReplay_StopsAtToTick(t *testing.T) {
	dir := t.TempDir()
	recordGame(t, dir, testTuning())

	sum, err := replay(io.Discard, replayOptions{GameDir: dir, Config: game.Config{Tuning: testTuning()}, ToTick: 9})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if sum.Checked != 10 || sum.FinalTick != 10 {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestReplay_MissingEvents(t *testing.T) {
	if _, err := replay(io.Discard, replayOptions{GameDir: t.TempDir(), Config: game.Config{Tuning: testTuning()}}); err == nil {
		t.Fatalf("expected error for empty game dir")
	}
}

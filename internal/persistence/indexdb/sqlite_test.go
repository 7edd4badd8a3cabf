package indexdb

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
	"dissonance.ai/internal/sim/tuning"
)

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteIndex_GameLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "games.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	start := time.UnixMilli(1_700_000_000_000)
	idx.RecordGameStart("g1", 42, [game.Seats]string{"alice", "bob"}, start)
	_ = idx.WriteTick(game.TickLogEntry{GameID: "g1", Tick: 0, TimeMs: 1_700_000_000_050, Digest: "d0", Commands: []game.RecordedCommand{
		{Seat: 0, Cmd: game.Command{Action: game.ActionDistributeIron, Resource: "OXYGEN"}},
		{Seat: 1, Cmd: game.Command{Action: game.ActionLaunch, Kind: "EPSP"}, Code: "E_INVALID_REFERENCE"},
	}})
	_ = idx.WriteTick(game.TickLogEntry{GameID: "g1", Tick: 1, TimeMs: 1_700_000_000_100, Digest: "d1"})
	_ = idx.WriteAudit(game.AuditEntry{GameID: "g1", Tick: 1, Seat: 1, Event: "DESTROYED", Pos: grid.Pos(3, 4)})
	_ = idx.WriteAudit(game.AuditEntry{GameID: "g1", Tick: 1, Seat: 1, Event: "LOST", Pos: grid.Pos(3, 4)})
	idx.RecordGameEnd("g1", 1, 2, start.Add(time.Second), "/data/g1/end.snap.zst")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openTestDB(t, path)
	var (
		seed         int64
		nameB        string
		loser, ticks int
		snap         string
	)
	row := db.QueryRow(`SELECT seed,name_b,loser,ticks,snapshot_path FROM games WHERE game_id='g1'`)
	if err := row.Scan(&seed, &nameB, &loser, &ticks, &snap); err != nil {
		t.Fatalf("games: %v", err)
	}
	if seed != 42 || nameB != "bob" || loser != 1 || ticks != 2 || snap != "/data/g1/end.snap.zst" {
		t.Fatalf("game row: seed=%d name=%q loser=%d ticks=%d snap=%q", seed, nameB, loser, ticks, snap)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM ticks WHERE game_id='g1'`).Scan(&n); err != nil || n != 2 {
		t.Fatalf("ticks=%d err=%v", n, err)
	}
	var action, code string
	if err := db.QueryRow(`SELECT action,code FROM commands WHERE game_id='g1' AND tick=0 AND seq=1`).Scan(&action, &code); err != nil {
		t.Fatalf("commands: %v", err)
	}
	if action != game.ActionLaunch || code != "E_INVALID_REFERENCE" {
		t.Fatalf("command row: %s %s", action, code)
	}
	var event string
	if err := db.QueryRow(`SELECT event FROM audits WHERE game_id='g1' AND tick=1 AND seq=1`).Scan(&event); err != nil || event != "LOST" {
		t.Fatalf("audit seq 1 = %q err=%v", event, err)
	}
}

func TestSQLiteIndex_SnapshotsAndCatalogs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "games.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs("", catalogs.Defaults(), tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	snap := snapshot.Snapshot{
		Header: snapshot.Header{Version: snapshot.Version, GameID: "g2", Tick: 100},
		Status: "RUNNING",
	}
	snap.Players[0].Structures = make([]player.Structure, 3)
	snap.Players[1].Potentials = make([]player.Potential, 2)
	snap.Players[1].Nucleus.Voltage = 7
	idx.RecordSnapshot("/data/g2/100.snap.zst", snap)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db := openTestDB(t, path)
	var sa, pb, vb int
	if err := db.QueryRow(`SELECT structures_a,potentials_b,voltage_b FROM snapshots WHERE game_id='g2' AND tick=100`).Scan(&sa, &pb, &vb); err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if sa != 3 || pb != 2 || vb != 7 {
		t.Fatalf("snapshot row: %d %d %d", sa, pb, vb)
	}

	cats := catalogs.Defaults()
	var digest string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name='units'`).Scan(&digest); err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	if digest != cats.Units.Digest {
		t.Fatalf("units digest %s want %s", digest, cats.Units.Digest)
	}
	var names int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs`).Scan(&names); err != nil || names != 3 {
		t.Fatalf("catalog rows=%d err=%v", names, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqTick, tick: game.TickLogEntry{Tick: 1}}

	_ = s.WriteTick(game.TickLogEntry{Tick: 2})
	_ = s.WriteAudit(game.AuditEntry{Tick: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.Snapshot{})
	s.RecordGameStart("g", 1, [game.Seats]string{}, time.Now())
	s.RecordGameEnd("g", -1, 2, time.Now(), "")

	st := s.Stats()
	if st.DropTickTotal != 1 || st.DropAuditTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.DropGameTotal != 2 {
		t.Fatalf("DropGameTotal=%d want=2", st.DropGameTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

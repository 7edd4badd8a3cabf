package main

import (
	"bytes"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dissonance.ai/internal/persistence/indexdb"
	persistlog "dissonance.ai/internal/persistence/log"
	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/grid"
)

func TestReadAudit_Filters(t *testing.T) {
	dir := t.TempDir()
	al := persistlog.NewAuditLogger(dir)
	for _, e := range []game.AuditEntry{
		{GameID: "g", Tick: 3, Seat: 0, Event: "DESTROYED", Pos: grid.Pos(1, 2)},
		{GameID: "g", Tick: 7, Seat: 1, Event: "DESTROYED", Pos: grid.Pos(4, 5)},
		{GameID: "g", Tick: 9, Seat: 1, Event: "LOST", Pos: grid.Pos(31, 69)},
	} {
		if err := al.WriteAudit(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := al.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	all, err := readAudit(dir, auditFilter{Seat: -1})
	if err != nil || len(all) != 3 {
		t.Fatalf("all=%d err=%v", len(all), err)
	}
	seat1, _ := readAudit(dir, auditFilter{Seat: 1, Event: "DESTROYED"})
	if len(seat1) != 1 || seat1[0].Tick != 7 {
		t.Fatalf("seat1=%+v", seat1)
	}
	window, _ := readAudit(dir, auditFilter{Seat: -1, Since: 4, To: 8})
	if len(window) != 1 || window[0].Pos != grid.Pos(4, 5) {
		t.Fatalf("window=%+v", window)
	}
	if _, err := readAudit(t.TempDir(), auditFilter{Seat: -1}); err == nil {
		t.Fatalf("expected error without audit files")
	}
}

func TestQueryDB_Reports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "game.sqlite")
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordGameStart("g1", 5, [game.Seats]string{"ann", "ben"}, time.UnixMilli(1_700_000_000_000))
	_ = idx.WriteTick(game.TickLogEntry{GameID: "g1", Tick: 0, Digest: "d0", Commands: []game.RecordedCommand{
		{Seat: 0, Cmd: game.Command{Action: game.ActionDistributeIron, Resource: "OXYGEN"}},
		{Seat: 1, Cmd: game.Command{Action: game.ActionLaunch, Kind: "EPSP"}, Code: "E_INVALID_REFERENCE"},
	}})
	_ = idx.WriteAudit(game.AuditEntry{GameID: "g1", Tick: 0, Seat: 1, Event: "DESTROYED", Pos: grid.Pos(6, 7)})
	idx.RecordGameEnd("g1", 1, 1, time.UnixMilli(1_700_000_001_000), "")
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if err := queryDB(&buf, db, "games", dbQuery{Seat: -1}); err != nil {
		t.Fatalf("games: %v", err)
	}
	if !strings.Contains(buf.String(), `"game_id":"g1"`) || !strings.Contains(buf.String(), `"loser":1`) {
		t.Fatalf("games output: %s", buf.String())
	}

	buf.Reset()
	if err := queryDB(&buf, db, "commands", dbQuery{Seat: 1}); err != nil {
		t.Fatalf("commands: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 1 || !strings.Contains(buf.String(), `"code":"E_INVALID_REFERENCE"`) {
		t.Fatalf("commands output: %s", buf.String())
	}

	buf.Reset()
	if err := queryDB(&buf, db, "audits", dbQuery{Seat: -1}); err != nil {
		t.Fatalf("audits: %v", err)
	}
	if !strings.Contains(buf.String(), `"pos":[6,7]`) {
		t.Fatalf("audits output: %s", buf.String())
	}

	if err := queryDB(&buf, db, "weather", dbQuery{}); err == nil {
		t.Fatalf("expected unknown query error")
	}
}

func TestAdminRequest_Methods(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	for _, name := range []string{"state", "pause"} {
		status, body, err := adminRequest(srv.Client(), srv.URL+"/", name)
		if err != nil || status != http.StatusOK || string(body) != `{"ok":true}` {
			t.Fatalf("%s: status=%d body=%s err=%v", name, status, body, err)
		}
	}
	if got[0] != "GET /admin/v1/state" || got[1] != "POST /admin/v1/pause" {
		t.Fatalf("requests=%v", got)
	}
}

func TestListGames(t *testing.T) {
	data := t.TempDir()
	g1 := filepath.Join(data, "games", "g1")
	snap := snapshot.Snapshot{Header: snapshot.Header{Version: snapshot.Version, GameID: "g1", Tick: 40}}
	if err := snapshot.WriteSnapshot(filepath.Join(g1, "snapshots", "40.snap.zst"), snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(data, "games", "g2"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	var buf bytes.Buffer
	if err := listGames(&buf, data); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "g1\ttick=40\tsnapshot=40.snap.zst") || !strings.Contains(out, "g2\tno snapshot") {
		t.Fatalf("list output:\n%s", out)
	}
}

package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable read model of games, ticks and commands. It is
// written by one goroutine; callers never block on it.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  dropCounters
}

type reqKind int

const (
	reqGameStart reqKind = iota + 1
	reqGameEnd
	reqTick
	reqAudit
	reqSnapshot
)

type req struct {
	kind reqKind

	game     gameRow
	tick     game.TickLogEntry
	audit    game.AuditEntry
	snapshot snapshotRow
}

type gameRow struct {
	ID           string
	Seed         int64
	Names        [game.Seats]string
	Time         string
	Loser        int
	Ticks        uint64
	SnapshotPath string
}

type snapshotRow struct {
	GameID     string
	Tick       uint64
	Path       string
	Status     string
	Structures [game.Seats]int
	Potentials [game.Seats]int
	Voltage    [game.Seats]int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS games (
			game_id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			name_a TEXT NOT NULL,
			name_b TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			loser INTEGER,
			ticks INTEGER,
			snapshot_path TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			game_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			time_ms INTEGER NOT NULL,
			digest TEXT NOT NULL,
			commands INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (game_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS commands (
			game_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			seat INTEGER NOT NULL,
			action TEXT NOT NULL,
			code TEXT NOT NULL,
			cmd_json TEXT NOT NULL,
			PRIMARY KEY (game_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commands_seat_tick ON commands(game_id, seat, tick);`,
		`CREATE TABLE IF NOT EXISTS audits (
			game_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			seat INTEGER NOT NULL,
			event TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (game_id, tick, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			game_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			status TEXT NOT NULL,
			structures_a INTEGER NOT NULL,
			structures_b INTEGER NOT NULL,
			potentials_a INTEGER NOT NULL,
			potentials_b INTEGER NOT NULL,
			voltage_a INTEGER NOT NULL,
			voltage_b INTEGER NOT NULL,
			PRIMARY KEY (game_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// enqueue drops the request when the writer is behind; the JSONL tick log
// remains the source of truth.
func (s *SQLiteIndex) enqueue(r req, drop *atomic.Uint64) {
	select {
	case s.ch <- r:
	default:
		drop.Add(1)
	}
}

func (s *SQLiteIndex) RecordGameStart(id string, seed int64, names [game.Seats]string, started time.Time) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqGameStart, game: gameRow{
		ID:    id,
		Seed:  seed,
		Names: names,
		Time:  started.UTC().Format(time.RFC3339Nano),
	}}, &s.drops.game)
}

// RecordGameEnd stores the outcome. loser is -1 when the game was stopped
// without a loser.
func (s *SQLiteIndex) RecordGameEnd(id string, loser int, ticks uint64, ended time.Time, snapshotPath string) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqGameEnd, game: gameRow{
		ID:           id,
		Loser:        loser,
		Ticks:        ticks,
		Time:         ended.UTC().Format(time.RFC3339Nano),
		SnapshotPath: snapshotPath,
	}}, &s.drops.game)
}

func (s *SQLiteIndex) WriteTick(entry game.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqTick, tick: entry}, &s.drops.tick)
	return nil
}

func (s *SQLiteIndex) WriteAudit(entry game.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	s.enqueue(req{kind: reqAudit, audit: entry}, &s.drops.audit)
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.Snapshot) {
	if s == nil || s.closed.Load() {
		return
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: summarize(path, snap)}, &s.drops.snapshot)
}

func summarize(path string, snap snapshot.Snapshot) snapshotRow {
	r := snapshotRow{
		GameID: snap.Header.GameID,
		Tick:   snap.Header.Tick,
		Path:   path,
		Status: snap.Status,
	}
	for i, p := range snap.Players {
		r.Structures[i] = len(p.Structures)
		r.Potentials[i] = len(p.Potentials)
		r.Voltage[i] = p.Nucleus.Voltage
	}
	return r
}

// UpsertCatalogs stores the catalog files and the effective tuning with their
// digests, so a game row can be matched to the rules it ran under.
func (s *SQLiteIndex) UpsertCatalogs(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil || cats == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := catalogRows(configDir, cats, tune)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	st := s.drops.stats()
	st.QueueDepth = len(s.ch)
	st.QueueCapacity = cap(s.ch)
	return st
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertGame, _ := s.db.Prepare(`INSERT INTO games(game_id,seed,name_a,name_b,started_at) VALUES(?,?,?,?,?)
		ON CONFLICT(game_id) DO UPDATE SET seed=excluded.seed,name_a=excluded.name_a,name_b=excluded.name_b,started_at=excluded.started_at`)
	endGame, _ := s.db.Prepare(`UPDATE games SET ended_at=?,loser=?,ticks=?,snapshot_path=? WHERE game_id=?`)
	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(game_id,tick,time_ms,digest,commands,raw_json) VALUES(?,?,?,?,?,?)`)
	insertCommand, _ := s.db.Prepare(`INSERT OR REPLACE INTO commands(game_id,tick,seq,seat,action,code,cmd_json) VALUES(?,?,?,?,?,?,?)`)
	insertAudit, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(game_id,tick,seq,seat,event,x,y,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(game_id,tick,path,status,structures_a,structures_b,potentials_a,potentials_b,voltage_a,voltage_b) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertGame, endGame, insertTick, insertCommand, insertAudit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second

		lastAuditTick uint64
		auditSeq      int
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqGameStart:
			g := r.game
			exec(insertGame, g.ID, g.Seed, g.Names[0], g.Names[1], g.Time)
			// Game rows are rare and queried right away.
			commit()
			continue

		case reqGameEnd:
			g := r.game
			var loser any
			if g.Loser >= 0 {
				loser = g.Loser
			}
			exec(endGame, g.Time, loser, int64(g.Ticks), g.SnapshotPath, g.ID)
			commit()
			continue

		case reqTick:
			e := r.tick
			raw, _ := jsonString(e)
			if !exec(insertTick, e.GameID, int64(e.Tick), e.TimeMs, e.Digest, len(e.Commands), raw) {
				continue
			}
			for i, c := range e.Commands {
				cmdJSON, _ := jsonString(c.Cmd)
				if !exec(insertCommand, e.GameID, int64(e.Tick), i, c.Seat, c.Cmd.Action, c.Code, cmdJSON) {
					break
				}
			}

		case reqAudit:
			a := r.audit
			if a.Tick != lastAuditTick {
				lastAuditTick = a.Tick
				auditSeq = 0
			}
			seq := auditSeq
			auditSeq++
			raw, _ := jsonString(a)
			exec(insertAudit, a.GameID, int64(a.Tick), seq, a.Seat, a.Event, a.Pos.X, a.Pos.Y, raw)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, sn.GameID, int64(sn.Tick), sn.Path, sn.Status,
				sn.Structures[0], sn.Structures[1],
				sn.Potentials[0], sn.Potentials[1],
				sn.Voltage[0], sn.Voltage[1])
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

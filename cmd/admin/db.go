package main

import (
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const dbUsage = "usage: admin db [-data ./data] [-game GAME|-db PATH] [-seat N] [-limit N] games|snapshots|commands|audits|catalogs"

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	seat := fs.Int("seat", -1, "seat filter for commands/audits (optional)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "games"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -game or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "games", *gameID, "index", "game.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := queryDB(os.Stdout, db, q, dbQuery{Seat: *seat, Limit: *limit}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if strings.HasPrefix(err.Error(), "unknown query") {
			fmt.Fprintln(os.Stderr, dbUsage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type dbQuery struct {
	Seat  int // -1 for any
	Limit int
}

// queryDB prints the rows of the named report as JSON lines.
func queryDB(w io.Writer, db *sql.DB, name string, q dbQuery) error {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	switch name {
	case "games":
		rows, err := db.Query(`SELECT game_id,seed,name_a,name_b,started_at,COALESCE(ended_at,''),COALESCE(loser,-1),COALESCE(ticks,0),COALESCE(snapshot_path,'') FROM games ORDER BY started_at DESC LIMIT ?`, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				GameID       string `json:"game_id"`
				Seed         int64  `json:"seed"`
				NameA        string `json:"name_a"`
				NameB        string `json:"name_b"`
				StartedAt    string `json:"started_at"`
				EndedAt      string `json:"ended_at,omitempty"`
				Loser        int    `json:"loser"`
				Ticks        int64  `json:"ticks"`
				SnapshotPath string `json:"snapshot_path,omitempty"`
			}
			if err := rows.Scan(&r.GameID, &r.Seed, &r.NameA, &r.NameB, &r.StartedAt, &r.EndedAt, &r.Loser, &r.Ticks, &r.SnapshotPath); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "snapshots":
		rows, err := db.Query(`SELECT game_id,tick,path,status,structures_a,structures_b,potentials_a,potentials_b,voltage_a,voltage_b FROM snapshots ORDER BY tick DESC LIMIT ?`, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				GameID     string `json:"game_id"`
				Tick       int64  `json:"tick"`
				Path       string `json:"path"`
				Status     string `json:"status"`
				Structures [2]int `json:"structures"`
				Potentials [2]int `json:"potentials"`
				Voltage    [2]int `json:"voltage"`
			}
			if err := rows.Scan(&r.GameID, &r.Tick, &r.Path, &r.Status,
				&r.Structures[0], &r.Structures[1], &r.Potentials[0], &r.Potentials[1], &r.Voltage[0], &r.Voltage[1]); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "commands":
		rows, err := db.Query(`SELECT tick,seq,seat,action,code,cmd_json FROM commands WHERE (?<0 OR seat=?) ORDER BY tick DESC, seq DESC LIMIT ?`, q.Seat, q.Seat, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				Seq     int    `json:"seq"`
				Seat    int    `json:"seat"`
				Action  string `json:"action"`
				Code    string `json:"code,omitempty"`
				CmdJSON string `json:"cmd_json"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Seat, &r.Action, &r.Code, &r.CmdJSON); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "audits":
		rows, err := db.Query(`SELECT tick,seq,seat,event,x,y FROM audits WHERE (?<0 OR seat=?) ORDER BY tick DESC, seq DESC LIMIT ?`, q.Seat, q.Seat, q.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick  int64  `json:"tick"`
				Seq   int    `json:"seq"`
				Seat  int    `json:"seat"`
				Event string `json:"event"`
				Pos   [2]int `json:"pos"`
			}
			if err := rows.Scan(&r.Tick, &r.Seq, &r.Seat, &r.Event, &r.Pos[0], &r.Pos[1]); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	case "catalogs":
		rows, err := db.Query(`SELECT name,digest,updated_at FROM catalogs ORDER BY name`)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Name      string `json:"name"`
				Digest    string `json:"digest"`
				UpdatedAt string `json:"updated_at"`
			}
			if err := rows.Scan(&r.Name, &r.Digest, &r.UpdatedAt); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(w, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query: %s", name)
	}
}

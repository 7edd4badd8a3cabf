package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "dissonance.ai/internal/persistence/log"
	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/game"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "audit":
			auditCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state", "pause", "resume", "snapshot":
			httpCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints one line per game directory with its latest snapshot.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listGames(os.Stdout, *dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
}

func listGames(w io.Writer, dataDir string) error {
	base := filepath.Join(dataDir, "games")
	entries, err := os.ReadDir(base)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := latestSnapshot(filepath.Join(base, e.Name()))
		if path == "" {
			fmt.Fprintf(w, "%s\tno snapshot\n", e.Name())
			continue
		}
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintf(w, "%s\tbad snapshot %s: %v\n", e.Name(), filepath.Base(path), err)
			continue
		}
		fmt.Fprintf(w, "%s\ttick=%d\tsnapshot=%s\n", e.Name(), h.Tick, filepath.Base(path))
	}
	return nil
}

func auditCmd(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gameID := fs.String("game", "", "game id")
	seat := fs.Int("seat", -1, "seat filter (optional)")
	event := fs.String("event", "", "event filter, e.g. DESTROYED or LOST (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	toTick := fs.Uint64("to_tick", 0, "last tick (inclusive, optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*gameID) == "" {
		fmt.Fprintln(os.Stderr, "missing -game")
		os.Exit(2)
	}
	f := auditFilter{Seat: *seat, Event: strings.ToUpper(strings.TrimSpace(*event)), Since: *sinceTick, To: *toTick}
	entries, err := readAudit(filepath.Join(*dataDir, "games", *gameID), f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audit:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		printJSON(os.Stdout, e)
	}
	fmt.Fprintf(os.Stderr, "%d entries\n", len(entries))
}

type auditFilter struct {
	Seat  int // -1 for any
	Event string
	Since uint64
	To    uint64 // 0 for no upper bound
}

func (f auditFilter) match(e game.AuditEntry) bool {
	if f.Seat >= 0 && e.Seat != f.Seat {
		return false
	}
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if e.Tick < f.Since {
		return false
	}
	return f.To == 0 || e.Tick <= f.To
}

// readAudit returns the matching entries of every audit file in gameDir in
// file order.
func readAudit(gameDir string, f auditFilter) ([]game.AuditEntry, error) {
	files, err := persistlog.ListAuditFiles(persistlog.AuditDir(gameDir))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.New("no audit files")
	}
	var out []game.AuditEntry
	for _, path := range files {
		err := persistlog.ReadAuditLog(path, func(e game.AuditEntry) error {
			if f.match(e) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func latestSnapshot(gameDir string) string {
	dir := filepath.Join(gameDir, "snapshots")
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

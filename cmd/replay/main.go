package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	persistlog "dissonance.ai/internal/persistence/log"
	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		gameID     = flag.String("game", "", "game id under <data>/games")
		gameDir    = flag.String("dir", "", "game directory (overrides -data/-game)")
		snapPath   = flag.String("snapshot", "", "start from this .snap.zst instead of tick 0 (optional)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		toTick     = flag.Uint64("to_tick", 0, "stop after this tick (inclusive, optional)")
	)
	flag.Parse()

	dir := strings.TrimSpace(*gameDir)
	if dir == "" {
		if strings.TrimSpace(*gameID) == "" {
			fmt.Fprintln(os.Stderr, "missing -dir or -game")
			os.Exit(2)
		}
		dir = filepath.Join(*dataDir, "games", *gameID)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}

	sum, err := replay(os.Stdout, replayOptions{
		GameDir:  dir,
		Snapshot: strings.TrimSpace(*snapPath),
		Config:   game.Config{Tuning: tune, Catalogs: cats},
		ToTick:   *toTick,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: game=%s checked=%d ticks from=%d final_tick=%d status=%s lost=%v\n",
		sum.GameID, sum.Checked, sum.From, sum.FinalTick, sum.Status, sum.Lost)
}

type replayOptions struct {
	GameDir  string
	Snapshot string
	Config   game.Config
	ToTick   uint64
}

type replaySummary struct {
	GameID    string
	From      uint64
	Checked   uint64
	FinalTick uint64
	Status    game.Status
	Lost      [game.Seats]bool
}

var errDone = errors.New("done")

// replay re-simulates the tick log in opts.GameDir and verifies every digest.
func replay(out io.Writer, opts replayOptions) (replaySummary, error) {
	var sum replaySummary

	files, err := persistlog.ListEventFiles(persistlog.EventsDir(opts.GameDir))
	if err != nil {
		return sum, fmt.Errorf("list events: %w", err)
	}
	if len(files) == 0 {
		return sum, fmt.Errorf("no events files found in %s", persistlog.EventsDir(opts.GameDir))
	}

	var r *game.Replayer
	if opts.Snapshot != "" {
		snap, err := snapshot.ReadSnapshot(opts.Snapshot)
		if err != nil {
			return sum, fmt.Errorf("read snapshot: %w", err)
		}
		fmt.Fprintf(out, "snapshot v%d game=%s tick=%d seed=%d field=%dx%d status=%s structures=%d/%d potentials=%d/%d\n",
			snap.Header.Version, snap.Header.GameID, snap.Header.Tick, snap.Seed, snap.Lines, snap.Cols, snap.Status,
			len(snap.Players[0].Structures), len(snap.Players[1].Structures),
			len(snap.Players[0].Potentials), len(snap.Players[1].Potentials))
		r, err = game.NewReplayerFromSnapshot(opts.Config, snap)
		if err != nil {
			return sum, fmt.Errorf("restore snapshot: %w", err)
		}
	}
	if r != nil {
		sum.From = r.Next()
	}

	for _, path := range files {
		err := persistlog.ReadTickLog(path, func(e game.TickLogEntry) error {
			if r == nil {
				nr, err := game.NewReplayer(opts.Config, e)
				if err != nil {
					return err
				}
				r = nr
			}
			if e.Tick < r.Next() {
				return nil
			}
			if opts.ToTick != 0 && e.Tick > opts.ToTick {
				return errDone
			}
			if err := r.Feed(e); err != nil {
				return err
			}
			sum.Checked++
			return nil
		})
		if errors.Is(err, errDone) {
			break
		}
		if err != nil {
			return sum, err
		}
	}
	if r == nil {
		return sum, fmt.Errorf("events in %s hold no ticks", persistlog.EventsDir(opts.GameDir))
	}

	g := r.Game()
	sum.GameID = g.ID()
	sum.FinalTick = g.Tick()
	sum.Status = g.Status()
	sum.Lost = g.Lost()
	return sum, nil
}

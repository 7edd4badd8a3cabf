package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"dissonance.ai/internal/persistence/archive"
	persistlog "dissonance.ai/internal/persistence/log"
	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/player"
	"dissonance.ai/internal/sim/tuning"
	"dissonance.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		gameID     = flag.String("game", "", "game id (default: random uuid)")
		seed       = flag.Int64("seed", 0, "game seed (0: tuning seed, or time when that is 0 too)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable indexing (games/ticks/commands + catalogs + snapshot metadata)")
		snapEvery  = flag.Int("snapshot_every", 0, "periodic snapshot interval in ticks (0: tuning value)")
		snapPath   = flag.String("snapshot", "", "path to snapshot to resume from (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "with -game, resume from the latest snapshot in its data dir when -snapshot is empty")
		nameA      = flag.String("name_a", "", "display name of seat 0")
		nameB      = flag.String("name_b", "", "display name of seat 1")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Seed = *seed
	}
	if *snapEvery > 0 {
		tune.SnapshotEveryTicks = *snapEvery
	}

	cfg := game.Config{
		ID:       strings.TrimSpace(*gameID),
		Tuning:   tune,
		Catalogs: cats,
		Names:    [game.Seats]string{*nameA, *nameB},
		Logger:   logger,
	}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest && cfg.ID != "" {
		snapshotToLoad = latestSnapshot(filepath.Join(*dataDir, "games", cfg.ID))
	}

	var resume *snapshot.Snapshot
	if p := snapshotToLoad; p != "" {
		snap, err := snapshot.ReadSnapshot(p)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if cfg.ID != "" && cfg.ID != snap.Header.GameID {
			logger.Fatalf("snapshot game id mismatch: flag=%s snap=%s", cfg.ID, snap.Header.GameID)
		}
		cfg.ID = snap.Header.GameID
		cfg.Tuning.Seed = snap.Seed
		cfg.Start = time.UnixMilli(snap.StartMs)
		resume = &snap
	}

	g, err := game.New(cfg)
	if err != nil {
		logger.Fatalf("game: %v", err)
	}
	if resume != nil {
		if err := g.ImportSnapshot(*resume); err != nil {
			logger.Fatalf("import snapshot: %v", err)
		}
		logger.Printf("resumed game=%s from snapshot=%s tick=%d status=%s", g.ID(), filepath.Base(snapshotToLoad), g.Tick(), g.Status())
	} else {
		logger.Printf("new game=%s seed=%d field=%dx%d", g.ID(), g.Seed(), tune.Field.Lines, tune.Field.Cols)
	}

	gameDir := filepath.Join(*dataDir, "games", g.ID())
	_ = os.MkdirAll(gameDir, 0o755)

	// Optional read-model index (does not affect sim determinism).
	idx, err := openRuntimeIndex(gameDir, g.ID(), *disableDB, logger)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(*configDir, cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
		idx.RecordGameStart(g.ID(), g.Seed(), cfg.Names, time.UnixMilli(g.StartMs()))
	}

	tickLog := persistlog.NewTickLogger(gameDir)
	auditLog := persistlog.NewAuditLogger(gameDir)
	defer tickLog.Close()
	defer auditLog.Close()
	mt := multiTickLogger{a: tickLog}
	ma := multiAuditLogger{a: auditLog}
	if idx != nil {
		mt.b, ma.b = idx, idx
	}
	g.SetTickLogger(mt)
	g.SetAuditLogger(ma)

	ctx, cancel := signalContext()
	defer cancel()

	// Snapshot writer.
	snapCh := make(chan snapshot.Snapshot, 2)
	g.SetSnapshotSink(snapCh)
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				path, err := writeSnapshot(gameDir, snap)
				if err != nil {
					logger.Printf("snapshot write: %v", err)
					continue
				}
				if idx != nil {
					idx.RecordSnapshot(path, snap)
				}
			}
		}
	}()

	// A lost nucleus ends the game.
	g.OnTick(func(res game.TickResult) {
		if res.Lost[0] || res.Lost[1] {
			g.Close()
		}
	})

	mux := http.NewServeMux()
	wsSrv := ws.NewServer(g, logger)
	mux.HandleFunc("/v1/ws", wsSrv.Handler())
	mux.HandleFunc("/healthz", wsSrv.HealthHandler())
	mux.HandleFunc("/metrics", metricsHandler(g))

	if envBool("DSN_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		registerAdmin(mux, g, gameDir, logger)
	} else {
		logger.Printf("admin endpoints disabled (DSN_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("DSN_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := g.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("game stopped: %v", err)
		}
		finishGame(g, gameDir, *dataDir, idx, logger)
		cancel()
	}()

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-runDone
	<-snapDone
}

// finishGame writes the end-of-game snapshot, archives closed games and
// records the outcome in the index.
func finishGame(g *game.Game, gameDir, dataDir string, idx runtimeIndex, logger *log.Logger) {
	snap := g.ExportSnapshot()
	path, err := writeSnapshot(gameDir, snap)
	if err != nil {
		logger.Printf("final snapshot: %v", err)
		path = ""
	} else {
		logger.Printf("final snapshot=%s tick=%d status=%s", path, snap.Header.Tick, snap.Status)
		if archived, ok, err := archive.ArchiveFinalSnapshot(dataDir, path, snap); err != nil {
			logger.Printf("archive final snapshot: %v", err)
		} else if ok {
			logger.Printf("archived game=%s to %s", g.ID(), archived)
		}
	}

	loser := -1
	for seat, lost := range g.Lost() {
		if lost {
			loser = seat
			break
		}
	}
	if loser >= 0 {
		logger.Printf("game=%s over: seat %d lost at tick %d", g.ID(), loser, g.Tick())
	}
	if idx != nil {
		if path != "" {
			idx.RecordSnapshot(path, snap)
		}
		idx.RecordGameEnd(g.ID(), loser, g.Tick(), time.Now(), path)
	}
}

func writeSnapshot(gameDir string, snap snapshot.Snapshot) (string, error) {
	path := filepath.Join(gameDir, "snapshots", fmt.Sprintf("%d.snap.zst", snap.Header.Tick))
	return path, snapshot.WriteSnapshot(path, snap)
}

func registerAdmin(mux *http.ServeMux, g *game.Game, gameDir string, logger *log.Logger) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	local := func(h http.HandlerFunc) http.HandlerFunc {
		return func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			h(rw, r)
		}
	}
	post := func(h http.HandlerFunc) http.HandlerFunc {
		return local(func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			h(rw, r)
		})
	}
	writeJSON := func(rw http.ResponseWriter, v any) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(v)
	}

	mux.HandleFunc("/admin/v1/state", local(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, struct {
			GameID  string                      `json:"game_id"`
			Tick    uint64                      `json:"tick"`
			Metrics game.Metrics                `json:"metrics"`
			Players [game.Seats]player.Snapshot `json:"players"`
			Lost    [game.Seats]bool            `json:"lost"`
		}{
			GameID:  g.ID(),
			Tick:    g.Tick(),
			Metrics: g.Metrics(),
			Players: g.Snapshots(),
			Lost:    g.Lost(),
		})
	}))
	mux.HandleFunc("/admin/v1/pause", post(func(rw http.ResponseWriter, r *http.Request) {
		ok := g.Pause()
		logger.Printf("admin pause ok=%v", ok)
		writeJSON(rw, map[string]any{"ok": ok, "status": g.Status()})
	}))
	mux.HandleFunc("/admin/v1/resume", post(func(rw http.ResponseWriter, r *http.Request) {
		ok := g.Resume()
		logger.Printf("admin resume ok=%v", ok)
		writeJSON(rw, map[string]any{"ok": ok, "status": g.Status()})
	}))
	mux.HandleFunc("/admin/v1/snapshot", post(func(rw http.ResponseWriter, r *http.Request) {
		snap := g.ExportSnapshot()
		path, err := writeSnapshot(gameDir, snap)
		if err != nil {
			rw.Header().Set("Content-Type", "application/json")
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "tick": snap.Header.Tick, "error": err.Error()})
			return
		}
		writeJSON(rw, map[string]any{"ok": true, "tick": snap.Header.Tick, "path": path})
	}))
}

func metricsHandler(g *game.Game) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		m := g.Metrics()
		id := g.ID()

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP dissonance_game_tick Current game tick.\n")
		fmt.Fprintf(rw, "# TYPE dissonance_game_tick gauge\n")
		fmt.Fprintf(rw, "dissonance_game_tick{game=%q} %d\n", id, g.Tick())

		fmt.Fprintf(rw, "# HELP dissonance_game_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE dissonance_game_step_ms gauge\n")
		fmt.Fprintf(rw, "dissonance_game_step_ms{game=%q} %.3f\n", id, m.StepMS)

		fmt.Fprintf(rw, "# HELP dissonance_seat_structures Structures per seat.\n")
		fmt.Fprintf(rw, "# TYPE dissonance_seat_structures gauge\n")
		for seat := 0; seat < game.Seats; seat++ {
			fmt.Fprintf(rw, "dissonance_seat_structures{game=%q,seat=\"%d\"} %d\n", id, seat, m.Structures[seat])
		}
		fmt.Fprintf(rw, "# HELP dissonance_seat_potentials Live potentials per seat.\n")
		fmt.Fprintf(rw, "# TYPE dissonance_seat_potentials gauge\n")
		for seat := 0; seat < game.Seats; seat++ {
			fmt.Fprintf(rw, "dissonance_seat_potentials{game=%q,seat=\"%d\"} %d\n", id, seat, m.Potentials[seat])
		}
		fmt.Fprintf(rw, "# HELP dissonance_seat_hits Potentials that reached an enemy structure in the last tick.\n")
		fmt.Fprintf(rw, "# TYPE dissonance_seat_hits gauge\n")
		for seat := 0; seat < game.Seats; seat++ {
			fmt.Fprintf(rw, "dissonance_seat_hits{game=%q,seat=\"%d\"} %d\n", id, seat, m.Hits[seat])
		}

		fmt.Fprintf(rw, "# HELP dissonance_commands_total Commands handled by result.\n")
		fmt.Fprintf(rw, "# TYPE dissonance_commands_total counter\n")
		fmt.Fprintf(rw, "dissonance_commands_total{game=%q,result=%q} %d\n", id, "applied", m.CommandsApplied)
		fmt.Fprintf(rw, "dissonance_commands_total{game=%q,result=%q} %d\n", id, "rejected", m.CommandsRejected)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

// latestSnapshot returns the highest-tick snapshot in gameDir/snapshots.
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

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

type multiTickLogger struct {
	a game.TickLogger
	b game.TickLogger
}

func (m multiTickLogger) WriteTick(entry game.TickLogEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return err
}

type multiAuditLogger struct {
	a game.AuditLogger
	b game.AuditLogger
}

func (m multiAuditLogger) WriteAudit(entry game.AuditEntry) error {
	var err error
	if m.a != nil {
		err = m.a.WriteAudit(entry)
	}
	if m.b != nil {
		_ = m.b.WriteAudit(entry)
	}
	return err
}

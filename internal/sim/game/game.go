package game

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dissonance.ai/internal/persistence/snapshot"
	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
	"dissonance.ai/internal/sim/random"
	"dissonance.ai/internal/sim/tuning"
)

type Status string

const (
	StatusRunning Status = "RUNNING"
	StatusPaused  Status = "PAUSED"
	StatusClosed  Status = "CLOSED"
)

// Seats is the number of players in a game.
const Seats = 2

// Config describes a game. An empty ID is generated. Start is the game clock
// at tick 0; zero means now.
type Config struct {
	ID       string
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs
	Names    [Seats]string
	Start    time.Time
	Logger   *log.Logger
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

// TickLogEntry records everything needed to replay one tick: the commands
// applied since the previous tick, in order, and the resulting digest.
type TickLogEntry struct {
	GameID   string            `json:"game_id"`
	Tick     uint64            `json:"tick"`
	TimeMs   int64             `json:"time_ms"`
	Seed     int64             `json:"seed,omitempty"`
	StartMs  int64             `json:"start_ms,omitempty"`
	Commands []RecordedCommand `json:"commands,omitempty"`
	Digest   string            `json:"digest"`
}

type RecordedCommand struct {
	Seat   int     `json:"seat"`
	TimeMs int64   `json:"time_ms"`
	Cmd    Command `json:"cmd"`
	Code   string  `json:"code,omitempty"`
}

type AuditEntry struct {
	GameID string        `json:"game_id"`
	Tick   uint64        `json:"tick"`
	Seat   int           `json:"seat"`
	Event  string        `json:"event"` // e.g. "DESTROYED"
	Pos    grid.Position `json:"pos"`
}

// Game drives two players against each other. Commands from either seat may
// arrive on any goroutine; ticks run on the Run goroutine (or a caller of
// Step). A tick excludes commands for its whole duration, commands exclude
// each other so the recorded order is the applied order.
type Game struct {
	id      string
	tune    tuning.Tuning
	cats    *catalogs.Catalogs
	log     *log.Logger
	seed    int64
	startMs int64
	field   *grid.Field
	rnd     *random.Seeded
	players [Seats]*player.Player

	mu      sync.RWMutex
	cmdMu   sync.Mutex
	pending []RecordedCommand

	tick     atomic.Uint64
	cur      atomic.Int64 // game clock, unix ms
	status   atomic.Value
	lostSeen [Seats]bool

	stop     chan struct{}
	stopOnce sync.Once

	// Optional sinks (may be nil). Implemented in internal/persistence/*.
	tickLogger  TickLogger
	auditLogger AuditLogger

	// Snapshot writing happens off-thread; sends never block.
	snapshotSink chan<- snapshot.Snapshot

	obsMu     sync.Mutex
	observers []func(TickResult)

	metrics  atomic.Value
	applied  atomic.Uint64
	rejected atomic.Uint64
}

func New(cfg Config) (*Game, error) {
	t := cfg.Tuning
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if cfg.Catalogs == nil {
		cfg.Catalogs = catalogs.Defaults()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Now()
	}
	seed := t.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	t.Seed = seed

	g := &Game{
		id:      cfg.ID,
		tune:    t,
		cats:    cfg.Catalogs,
		log:     cfg.Logger,
		seed:    seed,
		startMs: cfg.Start.UnixMilli(),
		rnd:     random.NewSeeded(seed),
		stop:    make(chan struct{}),
	}
	g.cur.Store(g.startMs)
	g.status.Store(StatusRunning)

	nuclei := [Seats]grid.Position{
		grid.Pos(t.Field.Nuclei[0][0], t.Field.Nuclei[0][1]),
		grid.Pos(t.Field.Nuclei[1][0], t.Field.Nuclei[1][1]),
	}
	g.field = grid.NewField(t.Field.Lines, t.Field.Cols)
	for i, n := range nuclei {
		if !g.field.InBounds(n) {
			return nil, fmt.Errorf("game: nucleus %d at %s outside %dx%d field", i, n, t.Field.Lines, t.Field.Cols)
		}
	}
	// Terrain has its own stream so hill density never shifts gameplay rolls.
	g.field.ScatterHills(t.Field.HillPermille, random.NewSeeded(seed+1).Intn, nuclei[:]...)

	for i := 0; i < Seats; i++ {
		name := cfg.Names[i]
		if name == "" {
			name = fmt.Sprintf("player-%d", i)
		}
		p, err := player.New(player.Config{
			Name:       name,
			Tuning:     t.Player,
			Catalogs:   cfg.Catalogs,
			Nucleus:    nuclei[i],
			Random:     g.rnd,
			Pathfinder: g.field,
			Logger:     cfg.Logger,
			Clock:      g.now,
		})
		if err != nil {
			return nil, fmt.Errorf("game: seat %d: %w", i, err)
		}
		g.players[i] = p
	}
	g.metrics.Store(Metrics{Status: StatusRunning})
	return g, nil
}

// now is the game clock handed to both players.
func (g *Game) now() time.Time { return time.UnixMilli(g.cur.Load()).UTC() }

func (g *Game) ID() string                   { return g.id }
func (g *Game) Seed() int64                  { return g.seed }
func (g *Game) StartMs() int64               { return g.startMs }
func (g *Game) Tick() uint64                 { return g.tick.Load() }
func (g *Game) Tuning() tuning.Tuning        { return g.tune }
func (g *Game) Catalogs() *catalogs.Catalogs { return g.cats }
func (g *Game) Field() *grid.Field           { return g.field }
func (g *Game) TickRateHz() int              { return g.tune.TickRateHz }

// Player returns the player in seat, or nil.
func (g *Game) Player(seat int) *player.Player {
	if seat < 0 || seat >= Seats {
		return nil
	}
	return g.players[seat]
}

func (g *Game) Status() Status {
	s, _ := g.status.Load().(Status)
	return s
}

func (g *Game) Pause() bool {
	return g.status.CompareAndSwap(StatusRunning, StatusPaused)
}

func (g *Game) Resume() bool {
	return g.status.CompareAndSwap(StatusPaused, StatusRunning)
}

// Close marks the game closed and stops Run. It is safe to call more than once.
func (g *Game) Close() {
	g.status.Store(StatusClosed)
	g.stopOnce.Do(func() { close(g.stop) })
}

func (g *Game) SetTickLogger(l TickLogger)                  { g.tickLogger = l }
func (g *Game) SetAuditLogger(l AuditLogger)                { g.auditLogger = l }
func (g *Game) SetSnapshotSink(ch chan<- snapshot.Snapshot) { g.snapshotSink = ch }

// OnTick registers fn to run after every tick, outside the game locks.
func (g *Game) OnTick(fn func(TickResult)) {
	if fn == nil {
		return
	}
	g.obsMu.Lock()
	g.observers = append(g.observers, fn)
	g.obsMu.Unlock()
}

// Lost reports which seats have lost their primary nucleus.
func (g *Game) Lost() [Seats]bool {
	var out [Seats]bool
	for i, p := range g.players {
		out[i] = p.HasLost()
	}
	return out
}

// Snapshots returns both players' state as of the last completed tick or
// command.
func (g *Game) Snapshots() [Seats]player.Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return [Seats]player.Snapshot{g.players[0].Snapshot(), g.players[1].Snapshot()}
}

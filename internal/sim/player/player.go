package player

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/random"
	"dissonance.ai/internal/sim/tuning"
)

type Config struct {
	Name       string
	Tuning     tuning.PlayerTuning
	Catalogs   *catalogs.Catalogs
	Nucleus    grid.Position
	Random     random.Source
	Pathfinder grid.Pathfinder
	Logger     *log.Logger
	Clock      func() time.Time
}

type unitStats struct {
	catalogs.UnitDef
	costs Costs
}

// Player owns one side's state. The state is split in five lock groups. When
// more than one is needed they are always taken in this order:
//
//	resMu -> techMu -> neuronMu -> potMu -> nucleusMu
//
// Across players the only nesting allowed is holding our neuronMu while
// reading the enemy's potentials (RunDefenses). Advance never holds a lock
// while mutating the enemy, and Launch resolves enemy targets before taking
// its own locks.
type Player struct {
	name  string
	cfg   tuning.PlayerTuning
	rnd   random.Source
	paths grid.Pathfinder
	log   *log.Logger
	clock func() time.Time

	units     map[Kind]unitStats
	epsp      unitStats
	ipsp      unitStats
	techCosts map[Technology]Costs

	resMu        sync.RWMutex
	resources    map[Resource]*ResourceState
	oxygenBoost  int
	curve        int
	maxOxygen    int
	maxResources int
	totalOxygen  float64
	boundOxygen  float64
	lastIron     time.Time

	techMu       sync.RWMutex
	technologies map[Technology]*TechState
	nucleusRange int

	neuronMu   sync.RWMutex
	structures map[grid.Position]*Structure

	potMu      sync.RWMutex
	potentials map[string]*Potential
	nextSeq    uint64

	nucleusMu sync.RWMutex
	nucleus   Structure
}

func New(cfg Config) (*Player, error) {
	if cfg.Pathfinder == nil {
		return nil, fmt.Errorf("player: pathfinder is required")
	}
	if !cfg.Nucleus.Valid() {
		return nil, fmt.Errorf("player: invalid nucleus position %s", cfg.Nucleus)
	}
	if cfg.Catalogs == nil {
		cfg.Catalogs = catalogs.Defaults()
	}
	if cfg.Random == nil {
		cfg.Random = random.NewSeeded(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Tuning.StartCurve < 1 {
		return nil, fmt.Errorf("player: curve must be >= 1")
	}

	p := &Player{
		name:         cfg.Name,
		cfg:          cfg.Tuning,
		rnd:          cfg.Random,
		paths:        cfg.Pathfinder,
		log:          cfg.Logger,
		clock:        cfg.Clock,
		units:        map[Kind]unitStats{},
		techCosts:    map[Technology]Costs{},
		resources:    map[Resource]*ResourceState{},
		curve:        cfg.Tuning.StartCurve,
		maxOxygen:    cfg.Tuning.MaxOxygen,
		maxResources: cfg.Tuning.MaxResources,
		technologies: map[Technology]*TechState{},
		nucleusRange: cfg.Tuning.StartRange,
		structures:   map[grid.Position]*Structure{},
		potentials:   map[string]*Potential{},
	}

	lookup := func(id string) (unitStats, error) {
		def, ok := cfg.Catalogs.Units.ByID[id]
		if !ok {
			return unitStats{}, fmt.Errorf("player: catalog misses unit %s", id)
		}
		u := unitStats{UnitDef: def, costs: costsFrom(def.Costs)}
		return u, checkResources(id, u.costs)
	}
	var err error
	for _, k := range []Kind{KindNucleus, KindSynapse, KindDefenseNode} {
		if p.units[k], err = lookup(string(k)); err != nil {
			return nil, err
		}
	}
	if p.epsp, err = lookup(string(Epsp)); err != nil {
		return nil, err
	}
	if p.ipsp, err = lookup(string(Ipsp)); err != nil {
		return nil, err
	}
	for _, t := range Technologies {
		def, ok := cfg.Catalogs.Technologies.ByID[string(t)]
		if !ok {
			return nil, fmt.Errorf("player: catalog misses technology %s", t)
		}
		costs := costsFrom(def.Costs)
		if err := checkResources(string(t), costs); err != nil {
			return nil, err
		}
		p.techCosts[t] = costs
		p.technologies[t] = &TechState{Cap: def.Cap}
	}

	for _, r := range Resources {
		p.resources[r] = &ResourceState{}
	}
	p.resources[Iron].Amount = float64(cfg.Tuning.StartIron)
	p.resources[Iron].Activated = true
	p.resources[Oxygen].Amount = cfg.Tuning.StartOxygen
	p.resources[Oxygen].Activated = true
	p.totalOxygen = cfg.Tuning.StartOxygen
	p.lastIron = p.clock()

	nuc := p.newStructure(KindNucleus, cfg.Nucleus, grid.None, grid.None, p.lastIron)
	p.structures[cfg.Nucleus] = nuc
	p.nucleus = nuc.clone()
	return p, nil
}

// Technologies lists every technology in a fixed order.
var Technologies = []Technology{
	TechWay, TechSwarm, TechTarget, TechTotalOxygen, TechTotalResource, TechCurve,
	TechAtkPotential, TechAtkSpeed, TechAtkDuration, TechDefPotential, TechDefSpeed, TechNucleusRange,
}

func ParseTechnology(s string) (Technology, bool) {
	for _, t := range Technologies {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

func checkResources(id string, c Costs) error {
	for r := range c {
		if _, ok := ParseResource(string(r)); !ok {
			return fmt.Errorf("player: %s costs unknown resource %s", id, r)
		}
	}
	return nil
}

func (p *Player) Name() string { return p.name }

func millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }

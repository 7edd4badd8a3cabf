package player

import (
	"time"

	"dissonance.ai/internal/sim/grid"
)

// Economy is the read-only view of the resource group.
type Economy struct {
	Resources    map[Resource]ResourceState `json:"resources"`
	OxygenBoost  int                        `json:"oxygen_boost"`
	Curve        int                        `json:"curve"`
	MaxOxygen    int                        `json:"max_oxygen"`
	MaxResources int                        `json:"max_resources"`
	TotalOxygen  float64                    `json:"total_oxygen"`
	BoundOxygen  float64                    `json:"bound_oxygen"`
	LastIron     time.Time                  `json:"last_iron"`
}

type NucleusLife struct {
	Pos        grid.Position `json:"pos"`
	Voltage    int           `json:"voltage"`
	MaxVoltage int           `json:"max_voltage"`
}

// Snapshot is a consistent-per-group copy of a player's state. Groups are
// copied one after another under read locks only.
type Snapshot struct {
	Name         string                   `json:"name"`
	Economy      Economy                  `json:"economy"`
	Technologies map[Technology]TechState `json:"technologies"`
	Range        int                      `json:"range"`
	Structures   []Structure              `json:"structures"`
	Potentials   []Potential              `json:"potentials"`
	NextSeq      uint64                   `json:"next_seq"`
	Nucleus      NucleusLife              `json:"nucleus"`
	Lost         bool                     `json:"lost"`
}

func (p *Player) Economy() Economy {
	p.resMu.RLock()
	defer p.resMu.RUnlock()
	out := Economy{
		Resources:    make(map[Resource]ResourceState, len(p.resources)),
		OxygenBoost:  p.oxygenBoost,
		Curve:        p.curve,
		MaxOxygen:    p.maxOxygen,
		MaxResources: p.maxResources,
		TotalOxygen:  p.totalOxygen,
		BoundOxygen:  p.boundOxygen,
		LastIron:     p.lastIron,
	}
	for r, st := range p.resources {
		out.Resources[r] = *st
	}
	return out
}

// Resources returns a copy of the resource map.
func (p *Player) Resources() map[Resource]ResourceState {
	return p.Economy().Resources
}

func (p *Player) Nucleus() NucleusLife {
	p.nucleusMu.RLock()
	defer p.nucleusMu.RUnlock()
	return NucleusLife{Pos: p.nucleus.Pos, Voltage: p.nucleus.Voltage, MaxVoltage: p.nucleus.MaxVoltage}
}

func (p *Player) Snapshot() Snapshot {
	nuc := p.Nucleus()
	p.potMu.RLock()
	seq := p.nextSeq
	p.potMu.RUnlock()
	return Snapshot{
		Name:         p.name,
		Economy:      p.Economy(),
		Technologies: p.Technologies(),
		Range:        p.Range(),
		Structures:   p.Structures(),
		Potentials:   p.Potentials(),
		NextSeq:      seq,
		Nucleus:      nuc,
		Lost:         nuc.Voltage >= nuc.MaxVoltage,
	}
}

// Restore replaces the player's state with s. It is meant for freshly built
// players loading a saved game.
func (p *Player) Restore(s Snapshot) {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	p.techMu.Lock()
	defer p.techMu.Unlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()
	p.potMu.Lock()
	defer p.potMu.Unlock()
	p.nucleusMu.Lock()
	defer p.nucleusMu.Unlock()

	for _, r := range Resources {
		st := s.Economy.Resources[r]
		p.resources[r] = &st
	}
	p.oxygenBoost = s.Economy.OxygenBoost
	p.curve = s.Economy.Curve
	p.maxOxygen = s.Economy.MaxOxygen
	p.maxResources = s.Economy.MaxResources
	p.totalOxygen = s.Economy.TotalOxygen
	p.boundOxygen = s.Economy.BoundOxygen
	p.lastIron = s.Economy.LastIron

	for t, st := range s.Technologies {
		if cur, ok := p.technologies[t]; ok {
			cur.Level = st.Level
		}
	}
	p.nucleusRange = s.Range

	p.structures = make(map[grid.Position]*Structure, len(s.Structures))
	for i := range s.Structures {
		st := s.Structures[i].clone()
		p.structures[st.Pos] = &st
	}
	p.potentials = make(map[string]*Potential, len(s.Potentials))
	p.nextSeq = s.NextSeq
	for i := range s.Potentials {
		pot := s.Potentials[i].clone()
		p.potentials[pot.ID] = &pot
		if pot.Seq > p.nextSeq {
			p.nextSeq = pot.Seq
		}
	}
	p.nucleus = Structure{Kind: KindNucleus, Pos: s.Nucleus.Pos, Voltage: s.Nucleus.Voltage, MaxVoltage: s.Nucleus.MaxVoltage}
}

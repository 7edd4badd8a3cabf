package player

import (
	"fmt"
	"sort"
	"time"

	"dissonance.ai/internal/sim/grid"
)

// Targets optionally pins a synapse's epsp and ipsp targets. A nil target is
// picked at random among enemy structures on first launch.
type Targets struct {
	Epsp *grid.Position
	Ipsp *grid.Position
}

func orNone(p *grid.Position) grid.Position {
	if p == nil {
		return grid.None
	}
	return *p
}

// newStructure builds a structure with stats derived from the current
// technology levels. Caller holds techMu or owns p exclusively.
func (p *Player) newStructure(kind Kind, pos grid.Position, epsp, ipsp grid.Position, now time.Time) *Structure {
	u := p.units[kind]
	s := &Structure{Kind: kind, Pos: pos, MaxVoltage: u.MaxVoltage}
	switch kind {
	case KindSynapse:
		s.Synapse = &SynapseState{
			WayCapacity: p.levelLocked(TechWay),
			EpspTarget:  epsp,
			IpspTarget:  ipsp,
			MaxStored:   p.maxStored(p.levelLocked(TechSwarm)),
		}
	case KindDefenseNode:
		recharge := u.RechargeMs - p.levelLocked(TechDefSpeed)*p.cfg.DefSpeedBonusMs
		if recharge < p.cfg.MinSpeedMs {
			recharge = p.cfg.MinSpeedMs
		}
		s.Defense = &DefenseState{
			Strength:   u.Strength + p.levelLocked(TechDefPotential),
			Recharge:   millis(recharge),
			LastAction: now,
		}
	}
	return s
}

// AddStructure buys and places a structure. Everything but a nucleus must be
// within range of a living nucleus.
func (p *Player) AddStructure(kind Kind, pos grid.Position, targets Targets) error {
	u, ok := p.units[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if !pos.Valid() {
		return fmt.Errorf("%w: position %s", ErrInvalidReference, pos)
	}
	now := p.clock()

	p.resMu.Lock()
	defer p.resMu.Unlock()
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	if _, taken := p.structures[pos]; taken {
		return fmt.Errorf("%w: %s", ErrOccupied, pos)
	}
	if kind != KindNucleus && !p.inRangeLocked(pos) {
		return fmt.Errorf("%w: %s", ErrOutOfRange, pos)
	}
	if err := p.takeLocked(u.costs, 1, kind != KindNucleus); err != nil {
		return err
	}
	p.structures[pos] = p.newStructure(kind, pos, orNone(targets.Epsp), orNone(targets.Ipsp), now)
	if kind == KindNucleus {
		p.maxOxygen += p.cfg.NucleusCapBonus
		p.maxResources += p.cfg.NucleusCapBonus
	}
	p.log.Printf("%s built %s at %s", p.name, kind, pos)
	return nil
}

// inRangeLocked reports whether pos is within range of any nucleus. Caller
// holds techMu and neuronMu.
func (p *Player) inRangeLocked(pos grid.Position) bool {
	for _, s := range p.structures {
		if s.Kind == KindNucleus && grid.Dist(s.Pos, pos) <= float64(p.nucleusRange) {
			return true
		}
	}
	return false
}

func (p *Player) InRange(pos grid.Position) bool {
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	return p.inRangeLocked(pos)
}

// ApplyDamage adds amount voltage to the structure at pos. It returns the
// positions of every structure destroyed as a result, cascade included.
func (p *Player) ApplyDamage(pos grid.Position, amount int) ([]grid.Position, error) {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()
	p.nucleusMu.Lock()
	defer p.nucleusMu.Unlock()

	// The primary stands until its life is spent; a nucleus rebuilt on its
	// cell afterwards is an ordinary one.
	if pos == p.nucleus.Pos && p.nucleus.Voltage < p.nucleus.MaxVoltage {
		p.nucleus.increaseVoltage(amount)
	}
	s, ok := p.structures[pos]
	if !ok {
		if pos == p.nucleus.Pos {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: no structure at %s", ErrInvalidReference, pos)
	}
	if !s.increaseVoltage(amount) {
		return nil, nil
	}
	delete(p.structures, pos)
	destroyed := []grid.Position{pos}
	if s.Kind == KindNucleus {
		p.maxOxygen -= p.cfg.NucleusCapBonus
		p.maxResources -= p.cfg.NucleusCapBonus
		if p.maxOxygen < 1 {
			p.maxOxygen = 1
		}
		if p.maxResources < 1 {
			p.maxResources = 1
		}
		destroyed = append(destroyed, p.cascadeLocked()...)
	}
	p.log.Printf("%s lost %d structure(s) starting at %s", p.name, len(destroyed), pos)
	return destroyed, nil
}

// cascadeLocked removes every non-nucleus structure that no nucleus covers.
func (p *Player) cascadeLocked() []grid.Position {
	var removed []grid.Position
	for _, pos := range p.positionsLocked() {
		s := p.structures[pos]
		if s.Kind == KindNucleus || p.inRangeLocked(pos) {
			continue
		}
		delete(p.structures, pos)
		removed = append(removed, pos)
	}
	return removed
}

func (p *Player) SetBlocked(pos grid.Position, blocked bool) error {
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()
	s, ok := p.structures[pos]
	if !ok {
		return fmt.Errorf("%w: no structure at %s", ErrInvalidReference, pos)
	}
	s.Blocked = blocked
	return nil
}

func (p *Player) positionsLocked(kinds ...Kind) []grid.Position {
	out := make([]grid.Position, 0, len(p.structures))
	for pos, s := range p.structures {
		if len(kinds) > 0 && !hasKind(kinds, s.Kind) {
			continue
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}

func (p *Player) Structure(pos grid.Position) (Structure, bool) {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	s, ok := p.structures[pos]
	if !ok {
		return Structure{}, false
	}
	return s.clone(), true
}

func (p *Player) KindAt(pos grid.Position) (Kind, bool) {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	s, ok := p.structures[pos]
	if !ok {
		return "", false
	}
	return s.Kind, true
}

func (p *Player) IsBlocked(pos grid.Position) bool {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	s, ok := p.structures[pos]
	return ok && s.Blocked
}

// Positions lists structure positions of the given kinds (all kinds when
// none are given) in row-major order.
func (p *Player) Positions(kinds ...Kind) []grid.Position {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	return p.positionsLocked(kinds...)
}

// Structures returns copies of every structure in row-major order.
func (p *Player) Structures() []Structure {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	out := make([]Structure, 0, len(p.structures))
	for _, pos := range p.positionsLocked() {
		out = append(out, p.structures[pos].clone())
	}
	return out
}

// RandomPosition picks one structure of the given kinds uniformly at random.
func (p *Player) RandomPosition(kinds ...Kind) (grid.Position, bool) {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	all := p.positionsLocked(kinds...)
	if len(all) == 0 {
		return grid.None, false
	}
	return all[p.rnd.RandomInt(0, len(all)-1)], true
}

// ClosestPosition returns the structure of the given kinds nearest to from.
// Ties go to the first position in row-major order.
func (p *Player) ClosestPosition(from grid.Position, kinds ...Kind) (grid.Position, bool) {
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()
	best, found := grid.None, false
	bestDist := 0.0
	for _, pos := range p.positionsLocked(kinds...) {
		d := grid.Dist(from, pos)
		if !found || d < bestDist {
			best, bestDist, found = pos, d, true
		}
	}
	return best, found
}

// NucleusLife returns the primary nucleus' voltage and cap.
func (p *Player) NucleusLife() (voltage, max int) {
	p.nucleusMu.RLock()
	defer p.nucleusMu.RUnlock()
	return p.nucleus.Voltage, p.nucleus.MaxVoltage
}

func (p *Player) HasLost() bool {
	v, max := p.NucleusLife()
	return v >= max
}

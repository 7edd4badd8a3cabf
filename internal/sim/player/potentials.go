package player

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"dissonance.ai/internal/sim/grid"
)

// TargetPicker is the part of the enemy a launch consults to auto-target.
type TargetPicker interface {
	RandomPosition(kinds ...Kind) (grid.Position, bool)
}

// Target is the part of the enemy that arriving potentials act on.
type Target interface {
	ApplyDamage(pos grid.Position, amount int) ([]grid.Position, error)
	SetBlocked(pos grid.Position, blocked bool) error
}

// Auto-targeting picks among these enemy kinds.
var targetKinds = []Kind{KindDefenseNode, KindSynapse, KindNucleus}

// Launch buys one potential of kind from the synapse at pos. A blocked
// synapse still consumes the price but emits nothing. In swarm mode epsps are
// stored and released together once the batch is full.
func (p *Player) Launch(pos grid.Position, kind PotentialKind, enemy TargetPicker) error {
	var unit unitStats
	switch kind {
	case Epsp:
		unit = p.epsp
	case Ipsp:
		unit = p.ipsp
	default:
		return fmt.Errorf("%w: potential %q", ErrUnknownKind, kind)
	}

	p.neuronMu.RLock()
	s, err := p.synapseLocked(pos)
	var (
		blocked bool
		route   []grid.Position
		target  grid.Position
	)
	if err == nil {
		blocked = s.Blocked
		route = append(route, s.Synapse.WayPoints...)
		target = s.Synapse.target(kind)
	}
	p.neuronMu.RUnlock()
	if err != nil {
		return err
	}
	if missing := p.MissingResources(unit.costs, 1); len(missing) > 0 {
		return &MissingError{Missing: missing}
	}

	var path []grid.Position
	picked := false
	if !blocked {
		if !target.Valid() {
			if enemy == nil {
				return ErrNoTarget
			}
			t, ok := enemy.RandomPosition(targetKinds...)
			if !ok {
				return ErrNoTarget
			}
			target, picked = t, true
		}
		path, err = p.paths.Path(pos, append(route, target))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoPath, err)
		}
		if len(path) == 0 {
			return fmt.Errorf("%w: target %s is the synapse itself", ErrNoPath, target)
		}
	}

	now := p.clock()
	p.resMu.Lock()
	defer p.resMu.Unlock()
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()
	p.potMu.Lock()
	defer p.potMu.Unlock()

	s, err = p.synapseLocked(pos)
	if err != nil {
		return err
	}
	if s.Blocked != blocked {
		return fmt.Errorf("%w: synapse %s changed state during launch", ErrInvalidState, pos)
	}
	if err := p.takeLocked(unit.costs, 1, false); err != nil {
		return err
	}
	if blocked {
		p.log.Printf("%s launch from blocked synapse %s", p.name, pos)
		return nil
	}
	if picked && !s.Synapse.target(kind).Valid() {
		s.Synapse.setTarget(kind, target)
	}

	n := 1
	if kind == Epsp {
		n = s.Synapse.launchCount()
	}
	for i := 0; i < n; i++ {
		p.spawnLocked(kind, unit, pos, path, now)
	}
	return nil
}

// spawnLocked creates one potential. Caller holds techMu and potMu.
func (p *Player) spawnLocked(kind PotentialKind, unit unitStats, origin grid.Position, path []grid.Position, now time.Time) {
	speed := unit.SpeedMs - p.levelLocked(TechAtkSpeed)*p.cfg.AtkSpeedBonusMs
	if speed < p.cfg.MinSpeedMs {
		speed = p.cfg.MinSpeedMs
	}
	p.nextSeq++
	pot := &Potential{
		ID:         fmt.Sprintf("%s-%06d", strings.ToLower(string(kind)), p.nextSeq),
		Seq:        p.nextSeq,
		Kind:       kind,
		Origin:     origin,
		Pos:        origin,
		Path:       append([]grid.Position(nil), path...),
		Strength:   unit.Strength,
		Speed:      millis(speed),
		Created:    now,
		LastAction: now,
	}
	switch kind {
	case Epsp:
		pot.Strength += p.levelLocked(TechAtkPotential)
	case Ipsp:
		pot.Duration = millis(unit.DurationMs + p.levelLocked(TechAtkDuration)*p.cfg.AtkDurationBonusMs)
	}
	p.potentials[pot.ID] = pot
}

type effectKind int

const (
	effectDamage effectKind = iota
	effectBlock
	effectUnblock
)

type effect struct {
	kind   effectKind
	pos    grid.Position
	amount int
}

// AdvanceReport summarizes one Advance call.
type AdvanceReport struct {
	Moved     int             `json:"moved"`
	Hits      int             `json:"hits"`
	Expired   int             `json:"expired"`
	Destroyed []grid.Position `json:"destroyed,omitempty"`
}

// Advance steps every due potential one cell and resolves arrivals against
// the enemy. Effects are collected first and applied after our potentials
// lock is released.
func (p *Player) Advance(now time.Time, enemy Target) AdvanceReport {
	var rep AdvanceReport
	var effects []effect

	p.potMu.Lock()
	for _, pot := range p.orderedLocked() {
		if len(pot.Path) > 0 && now.Sub(pot.LastAction) > pot.Speed {
			pot.Pos = pot.Path[0]
			pot.Path = pot.Path[1:]
			pot.LastAction = now
			rep.Moved++
		}
		switch pot.Kind {
		case Epsp:
			if len(pot.Path) == 0 {
				effects = append(effects, effect{kind: effectDamage, pos: pot.Pos, amount: pot.Strength})
				delete(p.potentials, pot.ID)
			}
		case Ipsp:
			if now.Sub(pot.Created) > pot.Duration {
				effects = append(effects, effect{kind: effectUnblock, pos: pot.Target()})
				delete(p.potentials, pot.ID)
				rep.Expired++
			} else if len(pot.Path) == 0 {
				effects = append(effects, effect{kind: effectBlock, pos: pot.Pos})
			}
		}
	}
	p.potMu.Unlock()

	if enemy == nil {
		return rep
	}
	for _, e := range effects {
		switch e.kind {
		case effectDamage:
			destroyed, err := enemy.ApplyDamage(e.pos, e.amount)
			if errors.Is(err, ErrInvalidReference) {
				continue
			}
			rep.Hits++
			rep.Destroyed = append(rep.Destroyed, destroyed...)
		case effectBlock:
			_ = enemy.SetBlocked(e.pos, true)
		case effectUnblock:
			_ = enemy.SetBlocked(e.pos, false)
		}
	}
	return rep
}

// Neutralize lowers a potential's strength. A potential brought to zero on
// its way is removed; one that already arrived stays.
func (p *Player) Neutralize(id string, amount int) (bool, error) {
	p.potMu.Lock()
	defer p.potMu.Unlock()
	pot, ok := p.potentials[id]
	if !ok {
		return false, fmt.Errorf("%w: potential %s", ErrInvalidReference, id)
	}
	pot.Strength -= amount
	if pot.Strength < 0 {
		pot.Strength = 0
	}
	if pot.Strength == 0 && len(pot.Path) > 0 {
		delete(p.potentials, id)
		return true, nil
	}
	return false, nil
}

func (p *Player) orderedLocked() []*Potential {
	out := make([]*Potential, 0, len(p.potentials))
	for _, pot := range p.potentials {
		out = append(out, pot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Potentials returns copies of all potentials in launch order.
func (p *Player) Potentials() []Potential {
	p.potMu.RLock()
	defer p.potMu.RUnlock()
	ordered := p.orderedLocked()
	out := make([]Potential, len(ordered))
	for i, pot := range ordered {
		out[i] = pot.clone()
	}
	return out
}

func (p *Player) Potential(id string) (Potential, bool) {
	p.potMu.RLock()
	defer p.potMu.RUnlock()
	pot, ok := p.potentials[id]
	if !ok {
		return Potential{}, false
	}
	return pot.clone(), true
}

// PotentialIDAt returns the oldest potential at pos, optionally restricted to
// one kind (empty kind matches both).
func (p *Player) PotentialIDAt(pos grid.Position, kind PotentialKind) (string, bool) {
	p.potMu.RLock()
	defer p.potMu.RUnlock()
	for _, pot := range p.orderedLocked() {
		if pot.Pos == pos && (kind == "" || pot.Kind == kind) {
			return pot.ID, true
		}
	}
	return "", false
}

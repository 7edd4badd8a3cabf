package player

import (
	"fmt"

	"dissonance.ai/internal/sim/grid"
)

// Synapse menu entries, in display order.
const (
	OptionResetWayPoints = "RESET_WAY_POINTS"
	OptionAddWayPoint    = "ADD_WAY_POINT"
	OptionIpspTarget     = "SET_IPSP_TARGET"
	OptionEpspTarget     = "SET_EPSP_TARGET"
	OptionSwarm          = "SWITCH_SWARM"
)

func (p *Player) synapseLocked(pos grid.Position) (*Structure, error) {
	s, ok := p.structures[pos]
	if !ok || s.Kind != KindSynapse {
		return nil, fmt.Errorf("%w: no synapse at %s", ErrInvalidReference, pos)
	}
	return s, nil
}

// SynapseOptions lists the menu entries the current technology unlocks for
// the synapse at pos.
func (p *Player) SynapseOptions(pos grid.Position) ([]string, error) {
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.RLock()
	defer p.neuronMu.RUnlock()

	s, err := p.synapseLocked(pos)
	if err != nil {
		return nil, err
	}
	var out []string
	if p.levelLocked(TechWay) > 0 {
		out = append(out, OptionResetWayPoints)
		if len(s.Synapse.WayPoints) < s.Synapse.WayCapacity {
			out = append(out, OptionAddWayPoint)
		}
	}
	if p.levelLocked(TechTarget) > 0 {
		out = append(out, OptionIpspTarget)
	}
	if p.levelLocked(TechTarget) > 1 {
		out = append(out, OptionEpspTarget)
	}
	if p.levelLocked(TechSwarm) > 0 {
		out = append(out, OptionSwarm)
	}
	return out, nil
}

// ResetWayPoints replaces the synapse's way-points with the single point wp.
func (p *Player) ResetWayPoints(pos, wp grid.Position) error {
	if !wp.Valid() {
		return fmt.Errorf("%w: way point %s", ErrInvalidReference, wp)
	}
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	s, err := p.synapseLocked(pos)
	if err != nil {
		return err
	}
	if p.levelLocked(TechWay) == 0 {
		return fmt.Errorf("%w: %s required", ErrLocked, TechWay)
	}
	s.Synapse.WayPoints = []grid.Position{wp}
	return nil
}

func (p *Player) AddWayPoint(pos, wp grid.Position) error {
	if !wp.Valid() {
		return fmt.Errorf("%w: way point %s", ErrInvalidReference, wp)
	}
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	s, err := p.synapseLocked(pos)
	if err != nil {
		return err
	}
	if p.levelLocked(TechWay) == 0 {
		return fmt.Errorf("%w: %s required", ErrLocked, TechWay)
	}
	if len(s.Synapse.WayPoints) >= s.Synapse.WayCapacity {
		return fmt.Errorf("%w: %d/%d", ErrWayPointsFull, len(s.Synapse.WayPoints), s.Synapse.WayCapacity)
	}
	s.Synapse.WayPoints = append(s.Synapse.WayPoints, wp)
	return nil
}

// SetTarget pins the target of one potential kind. Ipsp targets need TARGET
// level 1, epsp targets level 2.
func (p *Player) SetTarget(pos grid.Position, kind PotentialKind, target grid.Position) error {
	if !target.Valid() {
		return fmt.Errorf("%w: target %s", ErrInvalidReference, target)
	}
	need := 2
	switch kind {
	case Ipsp:
		need = 1
	case Epsp:
	default:
		return fmt.Errorf("%w: potential %q", ErrUnknownKind, kind)
	}
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	s, err := p.synapseLocked(pos)
	if err != nil {
		return err
	}
	if p.levelLocked(TechTarget) < need {
		return fmt.Errorf("%w: %s level %d required", ErrLocked, TechTarget, need)
	}
	s.Synapse.setTarget(kind, target)
	return nil
}

// SwitchSwarm toggles swarm mode. Launches stored so far are dropped.
func (p *Player) SwitchSwarm(pos grid.Position) (bool, error) {
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	s, err := p.synapseLocked(pos)
	if err != nil {
		return false, err
	}
	if p.levelLocked(TechSwarm) == 0 {
		return false, fmt.Errorf("%w: %s required", ErrLocked, TechSwarm)
	}
	s.Synapse.Swarm = !s.Synapse.Swarm
	s.Synapse.Stored = 0
	return s.Synapse.Swarm, nil
}

package player

import "fmt"

// AddTechnology researches the next level of t. The price is the catalog cost
// times the new level.
func (p *Player) AddTechnology(t Technology) error {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	p.techMu.Lock()
	defer p.techMu.Unlock()
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	st, ok := p.technologies[t]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTechnology, t)
	}
	if st.Level >= st.Cap {
		return fmt.Errorf("%w: %s level %d", ErrAtCap, t, st.Level)
	}
	if err := p.takeLocked(p.techCosts[t], st.Level+1, false); err != nil {
		return err
	}
	st.Level++
	p.applyTechnologyLocked(t, st.Level)
	p.log.Printf("%s technology %s -> %d", p.name, t, st.Level)
	return nil
}

// applyTechnologyLocked runs the side effect of reaching level. Caller holds
// resMu, techMu and neuronMu for writing.
func (p *Player) applyTechnologyLocked(t Technology, level int) {
	switch t {
	case TechWay:
		for _, s := range p.structures {
			if s.Synapse != nil {
				s.Synapse.WayCapacity = level
			}
		}
	case TechSwarm:
		for _, s := range p.structures {
			if s.Synapse != nil {
				s.Synapse.MaxStored = p.maxStored(level)
			}
		}
	case TechTotalOxygen:
		p.maxOxygen += p.cfg.TotalOxygenBonus
	case TechTotalResource:
		p.maxResources += p.cfg.TotalResourceBonus
	case TechCurve:
		if p.curve > 1 {
			p.curve--
		}
	case TechNucleusRange:
		p.nucleusRange++
	}
}

func (p *Player) maxStored(swarmLevel int) int {
	return swarmLevel*p.cfg.SwarmPerLevel + 1
}

// levelLocked reads a technology level. Caller holds techMu.
func (p *Player) levelLocked(t Technology) int {
	if st, ok := p.technologies[t]; ok {
		return st.Level
	}
	return 0
}

func (p *Player) TechnologyLevel(t Technology) int {
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	return p.levelLocked(t)
}

func (p *Player) Technologies() map[Technology]TechState {
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	out := make(map[Technology]TechState, len(p.technologies))
	for t, st := range p.technologies {
		out[t] = *st
	}
	return out
}

func (p *Player) Range() int {
	p.techMu.RLock()
	defer p.techMu.RUnlock()
	return p.nucleusRange
}

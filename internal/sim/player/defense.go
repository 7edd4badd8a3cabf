package player

import (
	"time"

	"dissonance.ai/internal/sim/grid"
)

// Neutralizer is the part of the enemy a defense node acts on.
type Neutralizer interface {
	Potentials() []Potential
	Neutralize(id string, amount int) (bool, error)
}

// RunDefenses lets every charged, unblocked defense node hit the first enemy
// potential inside its radius. Each node fires at most once per call.
// It returns the number of nodes that fired.
func (p *Player) RunDefenses(now time.Time, enemy Neutralizer) int {
	if enemy == nil {
		return 0
	}
	p.neuronMu.Lock()
	defer p.neuronMu.Unlock()

	fired := 0
	for _, pos := range p.positionsLocked(KindDefenseNode) {
		s := p.structures[pos]
		if s.Blocked || now.Sub(s.Defense.LastAction) <= s.Defense.Recharge {
			continue
		}
		for _, pot := range enemy.Potentials() {
			if grid.Dist(pot.Pos, pos) >= p.cfg.DefenseRadius {
				continue
			}
			if _, err := enemy.Neutralize(pot.ID, s.Defense.Strength); err != nil {
				continue
			}
			s.Defense.LastAction = now
			fired++
			break
		}
	}
	return fired
}

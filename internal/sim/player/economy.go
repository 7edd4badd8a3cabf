package player

import (
	"fmt"
	"math"
	"time"
)

// DistributeIron spends iron: one unit raises the oxygen boost, two units
// activate any other resource.
func (p *Player) DistributeIron(r Resource) error {
	p.resMu.Lock()
	defer p.resMu.Unlock()

	st, ok := p.resources[r]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownResource, r)
	}
	if r == Iron {
		return fmt.Errorf("%w: iron cannot be distributed to itself", ErrInvalidState)
	}
	iron := p.resources[Iron]
	if r == Oxygen {
		if iron.Amount < 1 {
			return &MissingError{Missing: Costs{Iron: 1 - iron.Amount}}
		}
		iron.Amount--
		p.oxygenBoost++
		return nil
	}
	if st.Activated {
		return fmt.Errorf("%w: %s", ErrAlreadyActivated, r)
	}
	if iron.Amount < 2 {
		return &MissingError{Missing: Costs{Iron: 2 - iron.Amount}}
	}
	iron.Amount -= 2
	st.Activated = true
	return nil
}

func faktor(limit, cur float64, curve int) float64 {
	if limit <= 0 || curve <= 0 {
		return 0
	}
	return (limit - cur) / (float64(curve) * limit)
}

// Grow runs one economy step: the iron trickle, oxygen growth from the boost
// and the asymptotic growth of every other activated resource.
func (p *Player) Grow(now time.Time) {
	p.resMu.Lock()
	defer p.resMu.Unlock()

	iron := p.resources[Iron]
	oxygen := p.resources[Oxygen]

	if now.Sub(p.lastIron) > millis(p.cfg.IronIntervalMs) {
		p.lastIron = now
		if iron.Amount < float64(p.cfg.IronCap) {
			hi := int(oxygen.Amount * p.cfg.IronChanceFactor)
			if p.rnd.RandomInt(0, hi) == 0 {
				iron.Amount++
			}
		}
	}

	oxygen.Amount += float64(p.oxygenBoost) * faktor(float64(p.maxOxygen), p.totalOxygen, p.curve)
	if oxygen.Amount < 0 {
		oxygen.Amount = 0
	}
	whole := math.Floor(oxygen.Amount)
	p.totalOxygen = p.boundOxygen + whole

	rate := math.Log(whole + 1)
	for _, r := range Resources {
		if r == Iron || r == Oxygen {
			continue
		}
		st := p.resources[r]
		if !st.Activated {
			continue
		}
		st.Amount += rate * faktor(float64(p.maxResources), st.Amount, p.curve)
		if st.Amount < 0 {
			st.Amount = 0
		}
	}
}

// MissingResources returns the deficit for buying costs mult times. An empty
// result means the purchase is affordable.
func (p *Player) MissingResources(costs Costs, mult int) Costs {
	p.resMu.RLock()
	defer p.resMu.RUnlock()
	return p.missingLocked(costs, mult)
}

func (p *Player) missingLocked(costs Costs, mult int) Costs {
	missing := Costs{}
	for r, need := range costs {
		total := need * float64(mult)
		have := 0.0
		if st, ok := p.resources[r]; ok {
			have = st.Amount
		}
		if have < total {
			missing[r] = total - have
		}
	}
	return missing
}

// TakeResources checks and deducts under one lock. bind records the oxygen
// part as bound by a standing structure.
func (p *Player) TakeResources(costs Costs, mult int, bind bool) error {
	p.resMu.Lock()
	defer p.resMu.Unlock()
	return p.takeLocked(costs, mult, bind)
}

func (p *Player) takeLocked(costs Costs, mult int, bind bool) error {
	if missing := p.missingLocked(costs, mult); len(missing) > 0 {
		return &MissingError{Missing: missing}
	}
	for r, need := range costs {
		st := p.resources[r]
		st.Amount -= need * float64(mult)
		if st.Amount < 0 {
			st.Amount = 0
		}
		if bind && r == Oxygen {
			p.boundOxygen += need
		}
	}
	return nil
}

// Costs of a structure or potential kind.
func (p *Player) UnitCosts(kind string) (Costs, bool) {
	switch kind {
	case string(Epsp):
		return p.epsp.costs, true
	case string(Ipsp):
		return p.ipsp.costs, true
	}
	u, ok := p.units[Kind(kind)]
	return u.costs, ok
}

func (p *Player) TechnologyCosts(t Technology) (Costs, bool) {
	c, ok := p.techCosts[t]
	return c, ok
}

package player

import (
	"sort"
	"time"

	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/grid"
)

type Resource string

const (
	Iron      Resource = "IRON"
	Oxygen    Resource = "OXYGEN"
	Potassium Resource = "POTASSIUM"
	Chloride  Resource = "CHLORIDE"
	Glutamate Resource = "GLUTAMATE"
	Dopamine  Resource = "DOPAMINE"
	Serotonin Resource = "SEROTONIN"
)

// Resources lists every resource in the fixed order used for growth and
// serialization.
var Resources = []Resource{Iron, Oxygen, Potassium, Chloride, Glutamate, Dopamine, Serotonin}

func ParseResource(s string) (Resource, bool) {
	for _, r := range Resources {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

type Technology string

const (
	TechWay           Technology = "WAY"
	TechSwarm         Technology = "SWARM"
	TechTarget        Technology = "TARGET"
	TechTotalOxygen   Technology = "TOTAL_OXYGEN"
	TechTotalResource Technology = "TOTAL_RESOURCE"
	TechCurve         Technology = "CURVE"
	TechAtkPotential  Technology = "ATK_POTENTIAL"
	TechAtkSpeed      Technology = "ATK_SPEED"
	TechAtkDuration   Technology = "ATK_DURATION"
	TechDefPotential  Technology = "DEF_POTENTIAL"
	TechDefSpeed      Technology = "DEF_SPEED"
	TechNucleusRange  Technology = "NUCLEUS_RANGE"
)

// Kind is a structure kind.
type Kind string

const (
	KindNucleus     Kind = "NUCLEUS"
	KindSynapse     Kind = "SYNAPSE"
	KindDefenseNode Kind = "DEFENSE_NODE"
)

func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindNucleus, KindSynapse, KindDefenseNode:
		return Kind(s), true
	}
	return "", false
}

type PotentialKind string

const (
	Epsp PotentialKind = "EPSP"
	Ipsp PotentialKind = "IPSP"
)

func ParsePotentialKind(s string) (PotentialKind, bool) {
	switch PotentialKind(s) {
	case Epsp, Ipsp:
		return PotentialKind(s), true
	}
	return "", false
}

// Costs maps a resource to an amount (a price or a deficit).
type Costs map[Resource]float64

func costsFrom(lines []catalogs.CostLine) Costs {
	out := make(Costs, len(lines))
	for _, l := range lines {
		out[Resource(l.Resource)] += l.Amount
	}
	return out
}

func (c Costs) sortedKeys() []Resource {
	keys := make([]Resource, 0, len(c))
	for r := range c {
		keys = append(keys, r)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type ResourceState struct {
	Amount    float64 `json:"amount"`
	Activated bool    `json:"activated"`
}

type TechState struct {
	Level int `json:"level"`
	Cap   int `json:"cap"`
}

// Structure is one entry of the structure registry. Synapse is set only for
// KindSynapse, Defense only for KindDefenseNode.
type Structure struct {
	Kind       Kind          `json:"kind"`
	Pos        grid.Position `json:"pos"`
	Voltage    int           `json:"voltage"`
	MaxVoltage int           `json:"max_voltage"`
	Blocked    bool          `json:"blocked"`

	Synapse *SynapseState `json:"synapse,omitempty"`
	Defense *DefenseState `json:"defense,omitempty"`
}

type SynapseState struct {
	WayPoints   []grid.Position `json:"way_points"`
	WayCapacity int             `json:"way_capacity"`
	EpspTarget  grid.Position   `json:"epsp_target"`
	IpspTarget  grid.Position   `json:"ipsp_target"`
	Swarm       bool            `json:"swarm"`
	Stored      int             `json:"stored"`
	MaxStored   int             `json:"max_stored"`
}

type DefenseState struct {
	Strength   int           `json:"strength"`
	Recharge   time.Duration `json:"recharge"`
	LastAction time.Time     `json:"last_action"`
}

func (s *Structure) clone() Structure {
	out := *s
	if s.Synapse != nil {
		syn := *s.Synapse
		syn.WayPoints = append([]grid.Position(nil), s.Synapse.WayPoints...)
		out.Synapse = &syn
	}
	if s.Defense != nil {
		def := *s.Defense
		out.Defense = &def
	}
	return out
}

// increaseVoltage adds damage and reports whether the structure is destroyed.
func (s *Structure) increaseVoltage(n int) bool {
	s.Voltage += n
	return s.Voltage >= s.MaxVoltage
}

// target returns the synapse target used for the given potential kind.
func (s *SynapseState) target(kind PotentialKind) grid.Position {
	if kind == Ipsp {
		return s.IpspTarget
	}
	return s.EpspTarget
}

func (s *SynapseState) setTarget(kind PotentialKind, pos grid.Position) {
	if kind == Ipsp {
		s.IpspTarget = pos
		return
	}
	s.EpspTarget = pos
}

// launchCount returns how many epsps a launch emits. In swarm mode launches
// are stored until MaxStored is reached and then released together.
func (s *SynapseState) launchCount() int {
	if !s.Swarm {
		return 1
	}
	s.Stored++
	if s.Stored < s.MaxStored {
		return 0
	}
	n := s.Stored
	s.Stored = 0
	return n
}

type Potential struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Kind       PotentialKind   `json:"kind"`
	Origin     grid.Position   `json:"origin"`
	Pos        grid.Position   `json:"pos"`
	Path       []grid.Position `json:"path"`
	Strength   int             `json:"strength"`
	Speed      time.Duration   `json:"speed"`
	Duration   time.Duration   `json:"duration,omitempty"`
	Created    time.Time       `json:"created"`
	LastAction time.Time       `json:"last_action"`
}

func (p *Potential) clone() Potential {
	out := *p
	out.Path = append([]grid.Position(nil), p.Path...)
	return out
}

// Target returns the final cell of the potential's route, or its current
// position once the route is used up.
func (p *Potential) Target() grid.Position {
	if len(p.Path) == 0 {
		return p.Pos
	}
	return p.Path[len(p.Path)-1]
}

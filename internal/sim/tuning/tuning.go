package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz         int   `yaml:"tick_rate_hz"`
	Seed               int64 `yaml:"seed"`
	SnapshotEveryTicks int   `yaml:"snapshot_every_ticks"`

	Field      FieldTuning  `yaml:"field"`
	Player     PlayerTuning `yaml:"player"`
	RateLimits RateLimits   `yaml:"rate_limits"`
}

type FieldTuning struct {
	Lines        int       `yaml:"lines"`
	Cols         int       `yaml:"cols"`
	HillPermille int       `yaml:"hill_permille"`
	Nuclei       [2][2]int `yaml:"nuclei"`
}

type PlayerTuning struct {
	StartIron    int     `yaml:"start_iron"`
	StartOxygen  float64 `yaml:"start_oxygen"`
	StartRange   int     `yaml:"start_range"`
	StartCurve   int     `yaml:"start_curve"`
	MaxOxygen    int     `yaml:"max_oxygen"`
	MaxResources int     `yaml:"max_resources"`

	NucleusCapBonus    int `yaml:"nucleus_cap_bonus"`
	TotalOxygenBonus   int `yaml:"total_oxygen_bonus"`
	TotalResourceBonus int `yaml:"total_resource_bonus"`

	IronIntervalMs   int     `yaml:"iron_interval_ms"`
	IronCap          int     `yaml:"iron_cap"`
	IronChanceFactor float64 `yaml:"iron_chance_factor"`

	DefenseRadius      float64 `yaml:"defense_radius"`
	SwarmPerLevel      int     `yaml:"swarm_per_level"`
	DefSpeedBonusMs    int     `yaml:"def_speed_bonus_ms"`
	AtkSpeedBonusMs    int     `yaml:"atk_speed_bonus_ms"`
	AtkDurationBonusMs int     `yaml:"atk_duration_bonus_ms"`
	MinSpeedMs         int     `yaml:"min_speed_ms"`
}

type RateLimits struct {
	CommandsPerSecond float64 `yaml:"commands_per_second"`
	CommandBurst      int     `yaml:"command_burst"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         20,
		SnapshotEveryTicks: 1200,
		Field: FieldTuning{
			Lines:        40,
			Cols:         80,
			HillPermille: 40,
			Nuclei:       [2][2]int{{8, 10}, {31, 69}},
		},
		Player: PlayerTuning{
			StartIron:          3,
			StartOxygen:        5.5,
			StartRange:         4,
			StartCurve:         3,
			MaxOxygen:          100,
			MaxResources:       70,
			NucleusCapBonus:    10,
			TotalOxygenBonus:   20,
			TotalResourceBonus: 20,
			IronIntervalMs:     2000,
			IronCap:            3,
			IronChanceFactor:   0.65,
			DefenseRadius:      3,
			SwarmPerLevel:      3,
			DefSpeedBonusMs:    40,
			AtkSpeedBonusMs:    50,
			AtkDurationBonusMs: 5000,
			MinSpeedMs:         50,
		},
		RateLimits: RateLimits{CommandsPerSecond: 20, CommandBurst: 10},
	}
}

// Load reads a tuning file on top of Defaults, so a file only needs the keys
// it overrides.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.Field.Lines < 5 || t.Field.Cols < 5 {
		return fmt.Errorf("field must be at least 5x5")
	}
	if t.Field.HillPermille < 0 || t.Field.HillPermille > 500 {
		return fmt.Errorf("hill_permille must be in [0,500]")
	}
	for i, n := range t.Field.Nuclei {
		if n[0] < 0 || n[1] < 0 || n[0] >= t.Field.Lines || n[1] >= t.Field.Cols {
			return fmt.Errorf("nuclei[%d] outside field", i)
		}
	}
	if t.Field.Nuclei[0] == t.Field.Nuclei[1] {
		return fmt.Errorf("nuclei must differ")
	}
	p := t.Player
	if p.StartCurve < 1 {
		return fmt.Errorf("player.start_curve must be >= 1")
	}
	if p.MaxOxygen <= 0 || p.MaxResources <= 0 {
		return fmt.Errorf("player max_oxygen and max_resources must be > 0")
	}
	if p.StartIron < 0 || p.StartOxygen < 0 || p.StartRange < 0 {
		return fmt.Errorf("player start values must be >= 0")
	}
	if p.IronIntervalMs <= 0 {
		return fmt.Errorf("player.iron_interval_ms must be > 0")
	}
	if p.DefenseRadius <= 0 {
		return fmt.Errorf("player.defense_radius must be > 0")
	}
	if p.SwarmPerLevel < 1 {
		return fmt.Errorf("player.swarm_per_level must be >= 1")
	}
	if t.RateLimits.CommandsPerSecond <= 0 || t.RateLimits.CommandBurst < 1 {
		return fmt.Errorf("rate_limits must be positive")
	}
	return nil
}

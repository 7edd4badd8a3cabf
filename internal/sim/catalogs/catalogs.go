package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

type Catalogs struct {
	Units        UnitCatalog
	Technologies TechCatalog
}

type UnitCatalog struct {
	ByID   map[string]UnitDef
	Digest string
}

// UnitDef describes a structure or potential kind. Only the fields relevant
// to the kind are set.
type UnitDef struct {
	ID         string     `json:"id"`
	MaxVoltage int        `json:"max_voltage,omitempty"`
	Strength   int        `json:"strength,omitempty"`
	SpeedMs    int        `json:"speed_ms,omitempty"`
	RechargeMs int        `json:"recharge_ms,omitempty"`
	DurationMs int        `json:"duration_ms,omitempty"`
	Costs      []CostLine `json:"costs"`
}

type CostLine struct {
	Resource string  `json:"resource"`
	Amount   float64 `json:"amount"`
}

type TechCatalog struct {
	ByID   map[string]TechDef
	Order  []string
	Digest string
}

type TechDef struct {
	ID    string     `json:"id"`
	Cap   int        `json:"cap"`
	Costs []CostLine `json:"costs"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadUnits(filepath.Join(configDir, "units.json"), &c.Units); err != nil {
		return nil, err
	}
	if err := loadTechnologies(filepath.Join(configDir, "technologies.json"), &c.Technologies); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadUnits(path string, out *UnitCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []UnitDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("units.json: %w", err)
	}
	if err := out.set(defs); err != nil {
		return fmt.Errorf("units.json: %w", err)
	}
	out.Digest = sha256Hex(raw)
	return nil
}

func (u *UnitCatalog) set(defs []UnitDef) error {
	u.ByID = make(map[string]UnitDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("empty id")
		}
		if _, dup := u.ByID[d.ID]; dup {
			return fmt.Errorf("duplicate id %s", d.ID)
		}
		if d.MaxVoltage < 0 || d.Strength < 0 || d.SpeedMs < 0 || d.RechargeMs < 0 || d.DurationMs < 0 {
			return fmt.Errorf("%s: negative stat", d.ID)
		}
		if err := checkCosts(d.ID, d.Costs); err != nil {
			return err
		}
		u.ByID[d.ID] = d
	}
	return nil
}

func loadTechnologies(path string, out *TechCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []TechDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("technologies.json: %w", err)
	}
	if err := out.set(defs); err != nil {
		return fmt.Errorf("technologies.json: %w", err)
	}
	out.Digest = sha256Hex(raw)
	return nil
}

func (t *TechCatalog) set(defs []TechDef) error {
	t.ByID = make(map[string]TechDef, len(defs))
	t.Order = t.Order[:0]
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("empty id")
		}
		if _, dup := t.ByID[d.ID]; dup {
			return fmt.Errorf("duplicate id %s", d.ID)
		}
		if d.Cap < 1 {
			return fmt.Errorf("%s: cap must be >= 1", d.ID)
		}
		if err := checkCosts(d.ID, d.Costs); err != nil {
			return err
		}
		t.ByID[d.ID] = d
		t.Order = append(t.Order, d.ID)
	}
	sort.Strings(t.Order)
	return nil
}

func checkCosts(id string, costs []CostLine) error {
	seen := map[string]bool{}
	for _, c := range costs {
		if c.Resource == "" {
			return fmt.Errorf("%s: cost without resource", id)
		}
		if seen[c.Resource] {
			return fmt.Errorf("%s: duplicate cost resource %s", id, c.Resource)
		}
		seen[c.Resource] = true
		if c.Amount < 0 {
			return fmt.Errorf("%s: negative cost for %s", id, c.Resource)
		}
	}
	return nil
}

package indexdb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"

	"dissonance.ai/internal/sim/catalogs"
	"dissonance.ai/internal/sim/tuning"
)

// Stats reports queue pressure. Drops mean the index is missing rows that the
// tick log still has.
type Stats struct {
	QueueDepth    int
	QueueCapacity int

	DropGameTotal     uint64
	DropTickTotal     uint64
	DropAuditTotal    uint64
	DropSnapshotTotal uint64
}

type dropCounters struct {
	game     atomic.Uint64
	tick     atomic.Uint64
	audit    atomic.Uint64
	snapshot atomic.Uint64
}

func (d *dropCounters) stats() Stats {
	return Stats{
		DropGameTotal:     d.game.Load(),
		DropTickTotal:     d.tick.Load(),
		DropAuditTotal:    d.audit.Load(),
		DropSnapshotTotal: d.snapshot.Load(),
	}
}

type catalogRow struct {
	name   string
	digest string
	data   []byte
}

// catalogRows prefers the raw config files so the stored JSON matches the
// digest; catalogs built in code are stored as marshalled.
func catalogRows(configDir string, cats *catalogs.Catalogs, tune tuning.Tuning) []catalogRow {
	var rows []catalogRow
	add := func(name, digest, file string, v any) {
		var b []byte
		if configDir != "" {
			b, _ = os.ReadFile(filepath.Join(configDir, file))
		}
		if len(b) == 0 {
			b, _ = json.Marshal(v)
		}
		if digest == "" || len(b) == 0 {
			return
		}
		rows = append(rows, catalogRow{name: name, digest: digest, data: b})
	}
	add("units", cats.Units.Digest, "units.json", sortedUnits(cats))
	add("technologies", cats.Technologies.Digest, "technologies.json", orderedTechs(cats))

	if b, err := json.Marshal(tune); err == nil {
		sum := sha256.Sum256(b)
		rows = append(rows, catalogRow{name: "tuning", digest: hex.EncodeToString(sum[:]), data: b})
	}
	return rows
}

func sortedUnits(cats *catalogs.Catalogs) []catalogs.UnitDef {
	ids := make([]string, 0, len(cats.Units.ByID))
	for id := range cats.Units.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]catalogs.UnitDef, 0, len(ids))
	for _, id := range ids {
		out = append(out, cats.Units.ByID[id])
	}
	return out
}

func orderedTechs(cats *catalogs.Catalogs) []catalogs.TechDef {
	out := make([]catalogs.TechDef, 0, len(cats.Technologies.Order))
	for _, id := range cats.Technologies.Order {
		out = append(out, cats.Technologies.ByID[id])
	}
	return out
}

func jsonString(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

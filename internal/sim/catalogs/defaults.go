package catalogs

import "encoding/json"

func c(resource string, amount float64) CostLine {
	return CostLine{Resource: resource, Amount: amount}
}

var defaultUnits = []UnitDef{
	{ID: "NUCLEUS", MaxVoltage: 9, Costs: []CostLine{
		c("IRON", 1), c("OXYGEN", 25.6), c("POTASSIUM", 11.4), c("CHLORIDE", 12.1),
		c("GLUTAMATE", 11.1), c("DOPAMINE", 12.2), c("SEROTONIN", 12.1),
	}},
	{ID: "SYNAPSE", MaxVoltage: 5, Costs: []CostLine{c("OXYGEN", 13.4), c("POTASSIUM", 11.3)}},
	{ID: "DEFENSE_NODE", MaxVoltage: 17, Strength: 1, RechargeMs: 700, Costs: []CostLine{c("OXYGEN", 8.9), c("GLUTAMATE", 19.1)}},
	{ID: "EPSP", Strength: 2, SpeedMs: 370, Costs: []CostLine{c("POTASSIUM", 4.4)}},
	{ID: "IPSP", Strength: 3, SpeedMs: 420, DurationMs: 15000, Costs: []CostLine{c("POTASSIUM", 3.3), c("CHLORIDE", 6.9)}},
}

func tech(id string, cap int, dopamine, serotonin float64) TechDef {
	return TechDef{ID: id, Cap: cap, Costs: []CostLine{c("IRON", 1), c("DOPAMINE", dopamine), c("SEROTONIN", serotonin)}}
}

var defaultTechnologies = []TechDef{
	tech("WAY", 3, 7.7, 8.9),
	tech("SWARM", 3, 9.1, 11.1),
	tech("TARGET", 2, 7.3, 7.9),
	tech("TOTAL_OXYGEN", 3, 9.9, 12.1),
	tech("TOTAL_RESOURCE", 3, 10.1, 11.9),
	tech("CURVE", 2, 11.7, 13.3),
	tech("ATK_POTENTIAL", 3, 8.8, 9.2),
	tech("ATK_SPEED", 3, 8.1, 10.4),
	tech("ATK_DURATION", 3, 8.4, 9.8),
	tech("DEF_POTENTIAL", 3, 7.9, 9.4),
	tech("DEF_SPEED", 3, 8.2, 9.6),
	tech("NUCLEUS_RANGE", 3, 10.6, 12.7),
}

// Defaults returns the built-in catalogs, identical to configs/units.json and
// configs/technologies.json.
func Defaults() *Catalogs {
	var out Catalogs
	if err := out.Units.set(defaultUnits); err != nil {
		panic(err)
	}
	if err := out.Technologies.set(defaultTechnologies); err != nil {
		panic(err)
	}
	raw, _ := json.Marshal(defaultUnits)
	out.Units.Digest = sha256Hex(raw)
	raw, _ = json.Marshal(defaultTechnologies)
	out.Technologies.Digest = sha256Hex(raw)
	return &out
}

package game

// Metrics is a read-only view of the game's runtime signals. It is stored at
// the end of each tick and read from HTTP handlers and tests.
type Metrics struct {
	Tick   uint64 `json:"tick"`
	Status Status `json:"status"`

	StepMS float64 `json:"step_ms"`

	Structures [Seats]int  `json:"structures"`
	Potentials [Seats]int  `json:"potentials"`
	Hits       [Seats]int  `json:"hits"`
	Fired      [Seats]int  `json:"fired"`
	Lost       [Seats]bool `json:"lost"`

	CommandsApplied  uint64 `json:"commands_applied"`
	CommandsRejected uint64 `json:"commands_rejected"`
}

func (g *Game) Metrics() Metrics {
	if g == nil {
		return Metrics{}
	}
	m, ok := g.metrics.Load().(Metrics)
	if !ok {
		return Metrics{}
	}
	m.Status = g.Status()
	m.CommandsApplied = g.applied.Load()
	m.CommandsRejected = g.rejected.Load()
	return m
}

func (g *Game) storeMetrics(res TickResult, stepMS float64) {
	m := Metrics{
		Tick:   res.Tick + 1,
		StepMS: stepMS,
		Fired:  res.Fired,
		Lost:   res.Lost,
	}
	for i, p := range g.players {
		m.Structures[i] = len(p.Positions())
		m.Potentials[i] = len(p.Potentials())
		m.Hits[i] = res.Reports[i].Hits
	}
	g.metrics.Store(m)
}

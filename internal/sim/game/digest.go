package game

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes the tick and both players in a fixed field order. Map
// iteration never leaks into the hash, and nil and empty slices hash alike,
// so a restored snapshot digests the same as the live game.
func (g *Game) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	for _, p := range g.players {
		digestPlayer(h, &tmp, p.Snapshot())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func digestPlayer(h hashWriter, tmp *[8]byte, s player.Snapshot) {
	eco := s.Economy
	for _, r := range player.Resources {
		st := eco.Resources[r]
		digestWriteF64(h, tmp, st.Amount)
		h.Write([]byte{boolByte(st.Activated)})
	}
	digestWriteI64(h, tmp, int64(eco.OxygenBoost))
	digestWriteI64(h, tmp, int64(eco.Curve))
	digestWriteI64(h, tmp, int64(eco.MaxOxygen))
	digestWriteI64(h, tmp, int64(eco.MaxResources))
	digestWriteF64(h, tmp, eco.TotalOxygen)
	digestWriteF64(h, tmp, eco.BoundOxygen)
	digestWriteTime(h, tmp, eco.LastIron)

	for _, t := range player.Technologies {
		digestWriteI64(h, tmp, int64(s.Technologies[t].Level))
	}
	digestWriteI64(h, tmp, int64(s.Range))

	digestWriteU64(h, tmp, uint64(len(s.Structures)))
	for _, st := range s.Structures {
		digestWriteString(h, tmp, string(st.Kind))
		digestWritePos(h, tmp, st.Pos)
		digestWriteI64(h, tmp, int64(st.Voltage))
		digestWriteI64(h, tmp, int64(st.MaxVoltage))
		h.Write([]byte{boolByte(st.Blocked)})
		if syn := st.Synapse; syn != nil {
			h.Write([]byte{'s'})
			digestWritePath(h, tmp, syn.WayPoints)
			digestWriteI64(h, tmp, int64(syn.WayCapacity))
			digestWritePos(h, tmp, syn.EpspTarget)
			digestWritePos(h, tmp, syn.IpspTarget)
			h.Write([]byte{boolByte(syn.Swarm)})
			digestWriteI64(h, tmp, int64(syn.Stored))
			digestWriteI64(h, tmp, int64(syn.MaxStored))
		}
		if def := st.Defense; def != nil {
			h.Write([]byte{'d'})
			digestWriteI64(h, tmp, int64(def.Strength))
			digestWriteI64(h, tmp, int64(def.Recharge))
			digestWriteTime(h, tmp, def.LastAction)
		}
	}

	digestWriteU64(h, tmp, uint64(len(s.Potentials)))
	for _, pot := range s.Potentials {
		digestWriteString(h, tmp, pot.ID)
		digestWriteU64(h, tmp, pot.Seq)
		digestWriteString(h, tmp, string(pot.Kind))
		digestWritePos(h, tmp, pot.Origin)
		digestWritePos(h, tmp, pot.Pos)
		digestWritePath(h, tmp, pot.Path)
		digestWriteI64(h, tmp, int64(pot.Strength))
		digestWriteI64(h, tmp, int64(pot.Speed))
		digestWriteI64(h, tmp, int64(pot.Duration))
		digestWriteTime(h, tmp, pot.Created)
		digestWriteTime(h, tmp, pot.LastAction)
	}
	digestWriteU64(h, tmp, s.NextSeq)

	digestWritePos(h, tmp, s.Nucleus.Pos)
	digestWriteI64(h, tmp, int64(s.Nucleus.Voltage))
	digestWriteI64(h, tmp, int64(s.Nucleus.MaxVoltage))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func digestWriteTime(h hashWriter, tmp *[8]byte, t time.Time) {
	if t.IsZero() {
		digestWriteI64(h, tmp, 0)
		return
	}
	digestWriteI64(h, tmp, t.UnixMilli())
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func digestWritePos(h hashWriter, tmp *[8]byte, p grid.Position) {
	digestWriteI64(h, tmp, int64(p.X))
	digestWriteI64(h, tmp, int64(p.Y))
}

func digestWritePath(h hashWriter, tmp *[8]byte, path []grid.Position) {
	digestWriteU64(h, tmp, uint64(len(path)))
	for _, p := range path {
		digestWritePos(h, tmp, p)
	}
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

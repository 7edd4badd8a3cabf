package game

import (
	"errors"
	"fmt"

	"dissonance.ai/internal/protocol"
	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
)

// Command actions.
const (
	ActionDistributeIron = "DISTRIBUTE_IRON"
	ActionAddStructure   = "ADD_STRUCTURE"
	ActionAddTechnology  = "ADD_TECHNOLOGY"
	ActionLaunch         = "LAUNCH"
	ActionResetWayPoints = "RESET_WAY_POINTS"
	ActionAddWayPoint    = "ADD_WAY_POINT"
	ActionSetTarget      = "SET_TARGET"
	ActionSwitchSwarm    = "SWITCH_SWARM"
)

var (
	ErrClosed     = errors.New("game closed")
	ErrPaused     = fmt.Errorf("%w: game paused", player.ErrInvalidState)
	ErrBadCommand = errors.New("bad command")
)

// Command is one player action. Which fields are read depends on Action:
//
//	DISTRIBUTE_IRON   Resource
//	ADD_STRUCTURE     Kind, Pos, optional EpspTarget/IpspTarget
//	ADD_TECHNOLOGY    Technology
//	LAUNCH            Kind (EPSP|IPSP), Pos (synapse)
//	RESET_WAY_POINTS  Pos, Target
//	ADD_WAY_POINT     Pos, Target
//	SET_TARGET        Pos, Kind (EPSP|IPSP), Target
//	SWITCH_SWARM      Pos
type Command struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	Technology string         `json:"technology,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Pos        *grid.Position `json:"pos,omitempty"`
	Target     *grid.Position `json:"target,omitempty"`
	EpspTarget *grid.Position `json:"epsp_target,omitempty"`
	IpspTarget *grid.Position `json:"ipsp_target,omitempty"`
}

// Result is what the command layer reports back to a seat.
type Result struct {
	OK      bool
	Code    string
	Message string
	Missing map[string]float64

	// Swarm is the new mode after SWITCH_SWARM.
	Swarm bool
}

// ResultCode maps an action error to its wire code.
func ResultCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClosed):
		return protocol.ErrClosed
	case errors.Is(err, ErrBadCommand):
		return protocol.ErrBadRequest
	case errors.Is(err, player.ErrInvalidReference):
		return protocol.ErrInvalidReference
	case errors.Is(err, player.ErrInsufficientResources):
		return protocol.ErrNoResource
	case errors.Is(err, player.ErrInvalidState):
		return protocol.ErrInvalidState
	default:
		return protocol.ErrInternal
	}
}

func resultOf(err error) Result {
	if err == nil {
		return Result{OK: true}
	}
	res := Result{Code: ResultCode(err), Message: err.Error()}
	var missing *player.MissingError
	if errors.As(err, &missing) {
		res.Missing = make(map[string]float64, len(missing.Missing))
		for r, v := range missing.Missing {
			res.Missing[string(r)] = v
		}
	}
	return res
}

// Apply runs cmd for seat against the current game state. It never blocks
// on anything but the game locks, and a tick in progress.
func (g *Game) Apply(seat int, cmd Command) Result {
	if seat < 0 || seat >= Seats {
		return resultOf(fmt.Errorf("%w: seat %d", ErrBadCommand, seat))
	}
	switch g.Status() {
	case StatusClosed:
		return resultOf(ErrClosed)
	case StatusPaused:
		return resultOf(ErrPaused)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	g.cmdMu.Lock()
	defer g.cmdMu.Unlock()

	res := g.applyLocked(seat, cmd)
	g.pending = append(g.pending, RecordedCommand{Seat: seat, TimeMs: g.cur.Load(), Cmd: cmd, Code: res.Code})
	if res.OK {
		g.applied.Add(1)
	} else {
		g.rejected.Add(1)
		g.log.Printf("game %s: seat %d %s: %s", g.id, seat, cmd.Action, res.Message)
	}
	return res
}

func (g *Game) applyLocked(seat int, cmd Command) Result {
	me, enemy := g.players[seat], g.players[1-seat]
	switch cmd.Action {
	case ActionDistributeIron:
		return resultOf(me.DistributeIron(player.Resource(cmd.Resource)))

	case ActionAddStructure:
		if cmd.Pos == nil {
			return resultOf(fmt.Errorf("%w: %s needs pos", ErrBadCommand, cmd.Action))
		}
		pos := *cmd.Pos
		if !g.field.InBounds(pos) {
			return resultOf(fmt.Errorf("%w: %s outside field", player.ErrInvalidReference, pos))
		}
		if !g.field.Passable(pos) {
			return resultOf(fmt.Errorf("%w: %s is a hill", player.ErrOccupied, pos))
		}
		if _, taken := enemy.KindAt(pos); taken {
			return resultOf(fmt.Errorf("%w: %s held by enemy", player.ErrOccupied, pos))
		}
		return resultOf(me.AddStructure(player.Kind(cmd.Kind), pos, player.Targets{Epsp: cmd.EpspTarget, Ipsp: cmd.IpspTarget}))

	case ActionAddTechnology:
		return resultOf(me.AddTechnology(player.Technology(cmd.Technology)))

	case ActionLaunch:
		if cmd.Pos == nil {
			return resultOf(fmt.Errorf("%w: %s needs pos", ErrBadCommand, cmd.Action))
		}
		return resultOf(me.Launch(*cmd.Pos, player.PotentialKind(cmd.Kind), enemy))

	case ActionResetWayPoints, ActionAddWayPoint:
		if cmd.Pos == nil || cmd.Target == nil {
			return resultOf(fmt.Errorf("%w: %s needs pos and target", ErrBadCommand, cmd.Action))
		}
		if !g.field.InBounds(*cmd.Target) {
			return resultOf(fmt.Errorf("%w: way point %s outside field", player.ErrInvalidReference, *cmd.Target))
		}
		if cmd.Action == ActionResetWayPoints {
			return resultOf(me.ResetWayPoints(*cmd.Pos, *cmd.Target))
		}
		return resultOf(me.AddWayPoint(*cmd.Pos, *cmd.Target))

	case ActionSetTarget:
		if cmd.Pos == nil || cmd.Target == nil {
			return resultOf(fmt.Errorf("%w: %s needs pos and target", ErrBadCommand, cmd.Action))
		}
		if !g.field.InBounds(*cmd.Target) {
			return resultOf(fmt.Errorf("%w: target %s outside field", player.ErrInvalidReference, *cmd.Target))
		}
		return resultOf(me.SetTarget(*cmd.Pos, player.PotentialKind(cmd.Kind), *cmd.Target))

	case ActionSwitchSwarm:
		if cmd.Pos == nil {
			return resultOf(fmt.Errorf("%w: %s needs pos", ErrBadCommand, cmd.Action))
		}
		on, err := me.SwitchSwarm(*cmd.Pos)
		res := resultOf(err)
		res.Swarm = on
		return res

	default:
		return resultOf(fmt.Errorf("%w: unknown action %q", ErrBadCommand, cmd.Action))
	}
}

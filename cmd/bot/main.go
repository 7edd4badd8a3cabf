package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"dissonance.ai/internal/protocol"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/grid"
	"dissonance.ai/internal/sim/player"
)

func main() {
	var (
		url  = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		seat = flag.Int("seat", 0, "seat to play (0 or 1)")
		name = flag.String("name", "bot", "display name")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Seat:            *seat,
		Name:            *name,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME game=%s seat=%d tick_rate=%d field=%dx%d", w.GameID, w.Seat, w.GameParams.TickRateHz, w.GameParams.Lines, w.GameParams.Cols)

		case protocol.TypeResult:
			var res protocol.ResultMsg
			if err := json.Unmarshal(msg, &res); err != nil || res.OK {
				continue
			}
			logger.Printf("%s rejected: %s %s", res.Ref, res.Code, res.Message)

		case protocol.TypeState:
			var st stateView
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			if st.You.Lost || st.Enemy.Lost {
				logger.Printf("game over at tick %d: lost=%v enemy_lost=%v", st.Tick, st.You.Lost, st.Enemy.Lost)
				return
			}
			for _, cmd := range plan(st.Tick, st.You, st.Enemy) {
				if err := conn.WriteJSON(cmd); err != nil {
					logger.Printf("send CMD: %v", err)
					return
				}
			}
		}
	}
}

type stateView struct {
	protocol.StateMsg
	You   player.Snapshot `json:"you"`
	Enemy player.Snapshot `json:"enemy"`
}

// buildRing is tried in order around the own nucleus when placing synapses.
var buildRing = [][2]int{{0, 2}, {2, 0}, {0, -2}, {-2, 0}, {2, 2}, {-2, 2}, {2, -2}, {-2, -2}}

// plan picks the commands to send after a STATE. The bot keeps oxygen flowing,
// grows a ring of synapses aimed at the enemy nucleus and fires them.
func plan(tick uint64, you, enemy player.Snapshot) []protocol.CmdMsg {
	var out []protocol.CmdMsg
	cmd := func(action string, ref string) protocol.CmdMsg {
		return protocol.CmdMsg{
			Type:            protocol.TypeCmd,
			ProtocolVersion: protocol.Version,
			Ref:             fmt.Sprintf("%s_%d", ref, tick),
			Action:          action,
		}
	}

	if tick%20 == 0 {
		c := cmd(game.ActionDistributeIron, "iron")
		c.Resource = string(player.Oxygen)
		if you.Economy.Resources[player.Oxygen].Amount > float64(you.Economy.MaxOxygen)/2 {
			c.Resource = string(player.Potassium)
		}
		out = append(out, c)
	}

	taken := map[grid.Position]bool{}
	var synapses []grid.Position
	for _, s := range you.Structures {
		taken[s.Pos] = true
		if s.Kind == player.KindSynapse {
			synapses = append(synapses, s.Pos)
		}
	}

	if tick%40 == 10 && len(synapses) < len(buildRing) {
		nuc := you.Nucleus.Pos
		for _, d := range buildRing {
			p := grid.Pos(nuc.X+d[0], nuc.Y+d[1])
			if taken[p] {
				continue
			}
			c := cmd(game.ActionAddStructure, "build")
			c.Kind = string(player.KindSynapse)
			c.Pos = &[2]int{p.X, p.Y}
			c.EpspTarget = &[2]int{enemy.Nucleus.Pos.X, enemy.Nucleus.Pos.Y}
			out = append(out, c)
			break
		}
	}

	if tick%10 == 5 {
		for i, p := range synapses {
			c := cmd(game.ActionLaunch, fmt.Sprintf("epsp%d", i))
			c.Kind = "EPSP"
			c.Pos = &[2]int{p.X, p.Y}
			out = append(out, c)
		}
	}
	return out
}

package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/time/rate"

	"dissonance.ai/internal/protocol"
	"dissonance.ai/internal/sim/game"
	"dissonance.ai/internal/sim/grid"
)

// Server exposes one game over websocket. Each of the two seats may be held
// by one connection at a time.
type Server struct {
	game *game.Game
	log  *log.Logger

	limit rate.Limit
	burst int

	upgrader websocket.Upgrader

	mu    sync.Mutex
	seats [game.Seats]*session
}

type frame struct {
	kind int // websocket.TextMessage or BinaryMessage
	data []byte
}

type session struct {
	id       string
	seat     int
	encoding string

	out   chan frame
	state chan frame // holds at most the latest STATE
}

func NewServer(g *game.Game, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	rl := g.Tuning().RateLimits
	s := &Server{
		game:  g,
		log:   logger,
		limit: rate.Limit(rl.CommandsPerSecond),
		burst: rl.CommandBurst,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	g.OnTick(s.broadcast)
	return s
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		defer s.release(sess)
		s.log.Printf("seat %d connected session=%s encoding=%s", sess.seat, sess.id, sess.encoding)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		writeDone := make(chan struct{})
		go func() {
			defer close(writeDone)
			s.writeLoop(ctx, conn, sess, cancel)
		}()

		limiter := rate.NewLimiter(s.limit, s.burst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.handleMessage(sess.seat, limiter, msg)
			b, err := json.Marshal(res)
			if err != nil {
				s.log.Printf("seat %d: encode result: %v", sess.seat, err)
				continue
			}
			select {
			case sess.out <- frame{kind: websocket.TextMessage, data: b}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
		select {
		case <-writeDone:
		case <-time.After(500 * time.Millisecond):
		}
		s.log.Printf("seat %d disconnected session=%s", sess.seat, sess.id)
	}
}

// HealthHandler reports the game's tick and status.
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		m := s.game.Metrics()
		lost := s.game.Lost()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(struct {
			OK     bool             `json:"ok"`
			GameID string           `json:"game_id"`
			Tick   uint64           `json:"tick"`
			Status string           `json:"status"`
			Lost   [game.Seats]bool `json:"lost"`
			Seats  [game.Seats]bool `json:"seats"`
			Stats  commandStats     `json:"commands"`
		}{
			OK:     true,
			GameID: s.game.ID(),
			Tick:   s.game.Tick(),
			Status: string(m.Status),
			Lost:   lost,
			Seats:  s.occupied(),
			Stats:  commandStats{Applied: m.CommandsApplied, Rejected: m.CommandsRejected},
		})
	}
}

type commandStats struct {
	Applied  uint64 `json:"applied"`
	Rejected uint64 `json:"rejected"`
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	if hello.Seat < 0 || hello.Seat >= game.Seats {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil
	}
	switch hello.Encoding {
	case "":
		hello.Encoding = protocol.EncodingJSON
	case protocol.EncodingJSON, protocol.EncodingMsgpack:
	default:
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrProtoBadRequest)
		return nil
	}

	sess := &session{
		id:       uuid.NewString(),
		seat:     hello.Seat,
		encoding: hello.Encoding,
		out:      make(chan frame, 16),
		state:    make(chan frame, 1),
	}
	if !s.claim(sess) {
		closeWith(conn, websocket.ClosePolicyViolation, protocol.ErrSeatTaken)
		return nil
	}

	tune := s.game.Tuning()
	cats := s.game.Catalogs()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		GameID:          s.game.ID(),
		Seat:            sess.seat,
		SessionID:       sess.id,
		Encoding:        sess.encoding,
		GameParams: protocol.GameParams{
			TickRateHz: tune.TickRateHz,
			Lines:      tune.Field.Lines,
			Cols:       tune.Field.Cols,
			Seed:       s.game.Seed(),
		},
		Catalogs: protocol.CatalogDigests{
			UnitsDigest:        cats.Units.Digest,
			TechnologiesDigest: cats.Technologies.Digest,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.release(sess)
		return nil
	}
	return sess
}

func (s *Server) claim(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seats[sess.seat] != nil {
		return false
	}
	s.seats[sess.seat] = sess
	return true
}

func (s *Server) release(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seats[sess.seat] == sess {
		s.seats[sess.seat] = nil
	}
}

func (s *Server) occupied() [game.Seats]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [game.Seats]bool
	for i, sess := range s.seats {
		out[i] = sess != nil
	}
	return out
}

func (s *Server) handleMessage(seat int, limiter *rate.Limiter, msg []byte) protocol.ResultMsg {
	res := protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeCmd {
		res.Code, res.Message = protocol.ErrProtoBadRequest, "expected CMD"
		return res
	}
	var cmd protocol.CmdMsg
	if err := json.Unmarshal(msg, &cmd); err != nil {
		res.Code, res.Message = protocol.ErrProtoBadRequest, err.Error()
		return res
	}
	res.Ref = cmd.Ref
	if cmd.ProtocolVersion != protocol.Version {
		res.Code, res.Message = protocol.ErrProtoBadRequest, "bad protocol_version"
		return res
	}
	if !limiter.Allow() {
		res.Code, res.Message = protocol.ErrRateLimit, "too many commands"
		return res
	}

	out := s.game.Apply(seat, toCommand(cmd))
	res.OK = out.OK
	res.Code = out.Code
	res.Message = out.Message
	res.Missing = out.Missing
	res.Swarm = out.Swarm
	return res
}

func toCommand(m protocol.CmdMsg) game.Command {
	return game.Command{
		Action:     m.Action,
		Resource:   m.Resource,
		Technology: m.Technology,
		Kind:       m.Kind,
		Pos:        toPos(m.Pos),
		Target:     toPos(m.Target),
		EpspTarget: toPos(m.EpspTarget),
		IpspTarget: toPos(m.IpspTarget),
	}
}

func toPos(p *[2]int) *grid.Position {
	if p == nil {
		return nil
	}
	pos := grid.Pos(p[0], p[1])
	return &pos
}

// broadcast runs on the tick goroutine and must not block it.
func (s *Server) broadcast(res game.TickResult) {
	s.mu.Lock()
	sessions := s.seats
	s.mu.Unlock()
	if sessions[0] == nil && sessions[1] == nil {
		return
	}

	snaps := s.game.Snapshots()
	status := string(s.game.Status())
	for seat, sess := range sessions {
		if sess == nil {
			continue
		}
		msg := protocol.StateMsg{
			Type:            protocol.TypeState,
			ProtocolVersion: protocol.Version,
			GameID:          s.game.ID(),
			Tick:            res.Tick,
			Status:          status,
			Seat:            seat,
			Digest:          res.Digest,
			You:             snaps[seat],
			Enemy:           snaps[1-seat],
		}
		f, err := encodeState(sess.encoding, msg)
		if err != nil {
			s.log.Printf("seat %d: encode state: %v", seat, err)
			continue
		}
		offerLatest(sess.state, f)
	}
}

// offerLatest replaces any unsent frame in ch with f.
func offerLatest(ch chan frame, f frame) {
	for {
		select {
		case ch <- f:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func encodeState(encoding string, msg protocol.StateMsg) (frame, error) {
	if encoding != protocol.EncodingMsgpack {
		b, err := json.Marshal(msg)
		return frame{kind: websocket.TextMessage, data: b}, err
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msg); err != nil {
		return frame{}, err
	}
	return frame{kind: websocket.BinaryMessage, data: buf.Bytes()}, nil
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session, cancel context.CancelFunc) {
	write := func(f frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(f.kind, f.data); err != nil {
			cancel()
			return false
		}
		return true
	}
	for {
		// Results go out before any pending state.
		select {
		case f := <-sess.out:
			if !write(f) {
				return
			}
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case f := <-sess.out:
			if !write(f) {
				return
			}
		case f := <-sess.state:
			if !write(f) {
				return
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}

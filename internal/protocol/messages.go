package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seat            int    `json:"seat"`
	Name            string `json:"name,omitempty"`
	Encoding        string `json:"encoding,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	GameID          string         `json:"game_id"`
	Seat            int            `json:"seat"`
	SessionID       string         `json:"session_id"`
	Encoding        string         `json:"encoding"`
	GameParams      GameParams     `json:"game_params"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type GameParams struct {
	TickRateHz int   `json:"tick_rate_hz"`
	Lines      int   `json:"lines"`
	Cols       int   `json:"cols"`
	Seed       int64 `json:"seed"`
}

type CatalogDigests struct {
	UnitsDigest        string `json:"units_digest"`
	TechnologiesDigest string `json:"technologies_digest"`
}

// CMD (client -> server). Which fields are read depends on Action.
type CmdMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Ref             string  `json:"ref,omitempty"`
	Action          string  `json:"action"`
	Resource        string  `json:"resource,omitempty"`
	Technology      string  `json:"technology,omitempty"`
	Kind            string  `json:"kind,omitempty"`
	Pos             *[2]int `json:"pos,omitempty"`
	Target          *[2]int `json:"target,omitempty"`
	EpspTarget      *[2]int `json:"epsp_target,omitempty"`
	IpspTarget      *[2]int `json:"ipsp_target,omitempty"`
}

// RESULT (server -> client), one per CMD.
type ResultMsg struct {
	Type            string             `json:"type"`
	ProtocolVersion string             `json:"protocol_version"`
	Ref             string             `json:"ref,omitempty"`
	OK              bool               `json:"ok"`
	Code            string             `json:"code,omitempty"`
	Message         string             `json:"message,omitempty"`
	Missing         map[string]float64 `json:"missing,omitempty"`
	Swarm           bool               `json:"swarm,omitempty"`
}

// STATE (server -> client) after every tick. You and Enemy carry player
// snapshots.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	GameID          string `json:"game_id"`
	Tick            uint64 `json:"tick"`
	Status          string `json:"status"`
	Seat            int    `json:"seat"`
	Digest          string `json:"digest,omitempty"`
	You             any    `json:"you"`
	Enemy           any    `json:"enemy"`
}

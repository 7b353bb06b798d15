package protocol

import "github.com/DoyleJ11/lockbreak/internal/engine"

type Type string

const (
	TypeJoin           Type = "join"
	TypeJoinAck        Type = "join_ack"
	TypeLobbyUpdate    Type = "lobby_update"
	TypeStartRequest   Type = "start_game_request"
	TypeStartGame      Type = "start_game"
	TypeClaimRequest   Type = "claim_request"
	TypeClaimResult    Type = "claim_result"
	TypeBreakRequest   Type = "break_request"
	TypeBreakResult    Type = "break_result"
	TypeUnclaimRequest Type = "unclaim_request"
	TypeUnclaimResult  Type = "unclaim_result"
	TypeGridUpdate     Type = "grid_update"
	TypeError          Type = "error"
)

// Message is the closed set of wire messages. Only types in this package
// implement it.
type Message interface {
	Kind() Type
	head() *Header
	required() []string
}

// Header is carried by every message.
type Header struct {
	Type   Type   `json:"type"`
	UserID string `json:"user_id,omitempty"`
}

func (h *Header) head() *Header { return h }

// Sender is the user_id stamped on the message.
func (h *Header) Sender() string { return h.UserID }

type Join struct {
	Header
	Icon string `json:"icon,omitempty"`
}

type JoinAck struct {
	Header
}

type LobbyUpdate struct {
	Header
	Players     map[string]engine.Player `json:"players"`
	HostID      string                   `json:"host_id"`
	GameStarted bool                     `json:"game_started"`
	Phase       engine.Phase             `json:"phase,omitempty"`
}

type StartRequest struct {
	Header
}

type StartGame struct {
	Header
	CountdownSeconds int `json:"countdown_seconds"`
	GameTime         int `json:"game_time"`
}

type ClaimRequest struct {
	Header
	LockID int `json:"lock_id"`
}

type ClaimResult struct {
	Header
	Success bool         `json:"success"`
	Lock    *engine.Lock `json:"lock,omitempty"`
}

type BreakRequest struct {
	Header
	LockID int     `json:"lock_id"`
	Text   string  `json:"user_string"`
	WPM    float64 `json:"user_wpm"`
}

type BreakResult struct {
	Header
	Success bool         `json:"success"`
	Points  int          `json:"points"`
	Lock    *engine.Lock `json:"lock,omitempty"`
}

type UnclaimRequest struct {
	Header
	LockID int `json:"lock_id"`
}

type UnclaimResult struct {
	Header
	Success bool         `json:"success"`
	Lock    *engine.Lock `json:"lock,omitempty"`
}

type GridUpdate struct {
	Header
	Grid    engine.GridSnapshot      `json:"grid"`
	Players map[string]engine.Player `json:"players"`
}

// Error reports a request the authority could not interpret, such as a lock
// id outside the grid.
type Error struct {
	Header
	Message string `json:"error"`
	LockID  *int   `json:"lock_id,omitempty"`
}

func (*Join) Kind() Type           { return TypeJoin }
func (*JoinAck) Kind() Type        { return TypeJoinAck }
func (*LobbyUpdate) Kind() Type    { return TypeLobbyUpdate }
func (*StartRequest) Kind() Type   { return TypeStartRequest }
func (*StartGame) Kind() Type      { return TypeStartGame }
func (*ClaimRequest) Kind() Type   { return TypeClaimRequest }
func (*ClaimResult) Kind() Type    { return TypeClaimResult }
func (*BreakRequest) Kind() Type   { return TypeBreakRequest }
func (*BreakResult) Kind() Type    { return TypeBreakResult }
func (*UnclaimRequest) Kind() Type { return TypeUnclaimRequest }
func (*UnclaimResult) Kind() Type  { return TypeUnclaimResult }
func (*GridUpdate) Kind() Type     { return TypeGridUpdate }
func (*Error) Kind() Type          { return TypeError }

func (*Join) required() []string           { return nil }
func (*JoinAck) required() []string        { return []string{"user_id"} }
func (*LobbyUpdate) required() []string    { return []string{"players", "host_id"} }
func (*StartRequest) required() []string   { return nil }
func (*StartGame) required() []string      { return []string{"countdown_seconds", "game_time"} }
func (*ClaimRequest) required() []string   { return []string{"lock_id"} }
func (*ClaimResult) required() []string    { return []string{"success"} }
func (*BreakRequest) required() []string   { return []string{"lock_id", "user_string", "user_wpm"} }
func (*BreakResult) required() []string    { return []string{"success", "points"} }
func (*UnclaimRequest) required() []string { return []string{"lock_id"} }
func (*UnclaimResult) required() []string  { return []string{"success"} }
func (*GridUpdate) required() []string     { return []string{"grid", "players"} }
func (*Error) required() []string          { return []string{"error"} }

func newMessage(t Type) Message {
	switch t {
	case TypeJoin:
		return &Join{}
	case TypeJoinAck:
		return &JoinAck{}
	case TypeLobbyUpdate:
		return &LobbyUpdate{}
	case TypeStartRequest:
		return &StartRequest{}
	case TypeStartGame:
		return &StartGame{}
	case TypeClaimRequest:
		return &ClaimRequest{}
	case TypeClaimResult:
		return &ClaimResult{}
	case TypeBreakRequest:
		return &BreakRequest{}
	case TypeBreakResult:
		return &BreakResult{}
	case TypeUnclaimRequest:
		return &UnclaimRequest{}
	case TypeUnclaimResult:
		return &UnclaimResult{}
	case TypeGridUpdate:
		return &GridUpdate{}
	case TypeError:
		return &Error{}
	default:
		return nil
	}
}

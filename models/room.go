package models

import (
	"errors"
	"fmt"
	"time"
)

type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusFinished RoomStatus = "finished"
)

const (
	DefaultMaxPlayers = 4
	MinMaxPlayers     = 2
	MaxMaxPlayers     = 8
	DefaultRounds     = 10
	MaxRounds         = 20
	// TimePerRound matches the length of a catalog preview clip.
	TimePerRound    = 30
	DefaultLanguage = "mixed"
	DefaultRapStyle = "both"
	MinPlayersToRun = 2
)

var ErrInvalidTransition = errors.New("invalid room status transition")

// RoomOptions are the settings a host picks when creating a room.
type RoomOptions struct {
	MaxPlayers int    `json:"maxPlayers"`
	Rounds     int    `json:"rounds"`
	Genre      string `json:"genre"`
	Language   string `json:"language"`
	RapStyle   string `json:"rapStyle"`
	IsPublic   bool   `json:"isPublic"`
}

// WithDefaults fills zero values and clamps out of range numbers.
func (o RoomOptions) WithDefaults() RoomOptions {
	if o.MaxPlayers == 0 {
		o.MaxPlayers = DefaultMaxPlayers
	}
	o.MaxPlayers = clamp(o.MaxPlayers, MinMaxPlayers, MaxMaxPlayers)
	if o.Rounds == 0 {
		o.Rounds = DefaultRounds
	}
	o.Rounds = clamp(o.Rounds, 1, MaxRounds)
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	if o.RapStyle == "" {
		o.RapStyle = DefaultRapStyle
	}
	return o
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type Room struct {
	Code         string
	HostID       string
	MaxPlayers   int
	Rounds       int
	TimePerRound int
	Genre        string
	Language     string
	RapStyle     string
	IsPublic     bool
	Status       RoomStatus
	CreatedAt    time.Time

	// join order, used for host succession
	players []*Player
}

type PublicRoom struct {
	Code         string         `json:"code"`
	HostID       string         `json:"hostId"`
	PlayerCount  int            `json:"playerCount"`
	MaxPlayers   int            `json:"maxPlayers"`
	Rounds       int            `json:"rounds"`
	TimePerRound int            `json:"timePerRound"`
	Genre        string         `json:"genre,omitempty"`
	Language     string         `json:"language"`
	RapStyle     string         `json:"rapStyle"`
	IsPublic     bool           `json:"isPublic"`
	Status       RoomStatus     `json:"status"`
	Players      []PublicPlayer `json:"players"`
}

func NewRoom(code, hostID string, opts RoomOptions, now time.Time) *Room {
	opts = opts.WithDefaults()
	return &Room{
		Code:         code,
		HostID:       hostID,
		MaxPlayers:   opts.MaxPlayers,
		Rounds:       opts.Rounds,
		TimePerRound: TimePerRound,
		Genre:        opts.Genre,
		Language:     opts.Language,
		RapStyle:     opts.RapStyle,
		IsPublic:     opts.IsPublic,
		Status:       StatusWaiting,
		CreatedAt:    now,
	}
}

func (r *Room) AddPlayer(p *Player) {
	r.players = append(r.players, p)
}

// RemovePlayer drops the player owning connectionID and returns it, or nil.
func (r *Room) RemovePlayer(connectionID string) *Player {
	for i, p := range r.players {
		if p.ConnectionID == connectionID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return p
		}
	}
	return nil
}

func (r *Room) RemovePlayerByID(playerID string) *Player {
	for i, p := range r.players {
		if p.ID == playerID {
			r.players = append(r.players[:i], r.players[i+1:]...)
			return p
		}
	}
	return nil
}

func (r *Room) Player(connectionID string) *Player {
	for _, p := range r.players {
		if p.ConnectionID == connectionID {
			return p
		}
	}
	return nil
}

func (r *Room) PlayerByID(playerID string) *Player {
	for _, p := range r.players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// Players returns the members in join order. The slice is a copy.
func (r *Room) Players() []*Player {
	out := make([]*Player, len(r.players))
	copy(out, r.players)
	return out
}

// ConnectedIDs lists the connections of members that are currently online.
func (r *Room) ConnectedIDs() []string {
	ids := make([]string, 0, len(r.players))
	for _, p := range r.players {
		if !p.IsDisconnected() {
			ids = append(ids, p.ConnectionID)
		}
	}
	return ids
}

func (r *Room) Host() *Player {
	return r.Player(r.HostID)
}

func (r *Room) PlayerCount() int { return len(r.players) }
func (r *Room) IsEmpty() bool    { return len(r.players) == 0 }
func (r *Room) IsFull() bool     { return len(r.players) >= r.MaxPlayers }

func (r *Room) CanStart() bool {
	if len(r.players) < MinPlayersToRun {
		return false
	}
	for _, p := range r.players {
		if !p.IsReady {
			return false
		}
	}
	return true
}

func (r *Room) Start() error {
	if r.Status != StatusWaiting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusPlaying)
	}
	r.Status = StatusPlaying
	return nil
}

func (r *Room) Finish() error {
	if r.Status != StatusPlaying {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusFinished)
	}
	r.Status = StatusFinished
	return nil
}

// Reset brings a finished room back to the lobby for a rematch.
func (r *Room) Reset() error {
	if r.Status != StatusFinished {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusWaiting)
	}
	r.Status = StatusWaiting
	for _, p := range r.players {
		p.ResetForNewGame()
	}
	return nil
}

// AssignNewHost hands the host role to the earliest-joined connected
// player, or to the earliest-joined player when nobody is connected.
// It returns nil only when the room is empty.
func (r *Room) AssignNewHost() *Player {
	if len(r.players) == 0 {
		r.HostID = ""
		return nil
	}
	next := r.players[0]
	for _, p := range r.players {
		if !p.IsDisconnected() {
			next = p
			break
		}
	}
	r.HostID = next.ConnectionID
	return next
}

func (r *Room) Public() PublicRoom {
	players := make([]PublicPlayer, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p.Public())
	}
	return PublicRoom{
		Code:         r.Code,
		HostID:       r.HostID,
		PlayerCount:  len(r.players),
		MaxPlayers:   r.MaxPlayers,
		Rounds:       r.Rounds,
		TimePerRound: r.TimePerRound,
		Genre:        r.Genre,
		Language:     r.Language,
		RapStyle:     r.RapStyle,
		IsPublic:     r.IsPublic,
		Status:       r.Status,
		Players:      players,
	}
}

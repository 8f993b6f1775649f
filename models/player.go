package models

import "time"

// Avatars is the palette handed out when a client does not pick one.
var Avatars = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f1c40f",
	"#9b59b6", "#e67e22", "#1abc9c", "#ec407a",
}

type Player struct {
	ID             string     `json:"id"`
	ConnectionID   string     `json:"connectionId"`
	Name           string     `json:"name"`
	Avatar         string     `json:"avatar"`
	IsReady        bool       `json:"isReady"`
	Score          int        `json:"score"`
	Streak         int        `json:"streak"`
	FoundTitle     bool       `json:"foundTitle"`
	FoundArtist    bool       `json:"foundArtist"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
	JoinedAt       time.Time  `json:"joinedAt"`
}

// PublicPlayer is what other room members see.
type PublicPlayer struct {
	ID             string `json:"id"`
	ConnectionID   string `json:"connectionId"`
	Name           string `json:"name"`
	Avatar         string `json:"avatar"`
	IsReady        bool   `json:"isReady"`
	Score          int    `json:"score"`
	Streak         int    `json:"streak"`
	IsDisconnected bool   `json:"isDisconnected"`
}

func NewPlayer(id, connectionID, name, avatar string, now time.Time) *Player {
	return &Player{
		ID:           id,
		ConnectionID: connectionID,
		Name:         name,
		Avatar:       avatar,
		JoinedAt:     now,
	}
}

func (p *Player) SetReady(ready bool) {
	p.IsReady = ready
}

func (p *Player) ResetForNewRound() {
	p.FoundTitle = false
	p.FoundArtist = false
}

// ResetForNewGame clears everything a finished game left behind.
func (p *Player) ResetForNewGame() {
	p.IsReady = false
	p.Score = 0
	p.Streak = 0
	p.ResetForNewRound()
}

func (p *Player) MarkDisconnected(now time.Time) {
	p.DisconnectedAt = &now
}

func (p *Player) MarkReconnected(connectionID string) {
	p.ConnectionID = connectionID
	p.DisconnectedAt = nil
}

func (p *Player) IsDisconnected() bool {
	return p.DisconnectedAt != nil
}

// DisconnectedFor returns zero for a connected player.
func (p *Player) DisconnectedFor(now time.Time) time.Duration {
	if p.DisconnectedAt == nil {
		return 0
	}
	return now.Sub(*p.DisconnectedAt)
}

func (p *Player) Public() PublicPlayer {
	return PublicPlayer{
		ID:             p.ID,
		ConnectionID:   p.ConnectionID,
		Name:           p.Name,
		Avatar:         p.Avatar,
		IsReady:        p.IsReady,
		Score:          p.Score,
		Streak:         p.Streak,
		IsDisconnected: p.IsDisconnected(),
	}
}

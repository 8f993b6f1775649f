package services

import (
	"encoding/json"

	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

// Inbound event types.
const (
	EventCreateRoom   = "create-room"
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventSetReady     = "set-ready"
	EventRejoin       = "rejoin"
	EventStartGame    = "start-game"
	EventSubmitAnswer = "submit-answer"
	EventSendChat     = "send-chat"
	EventResetRoom    = "reset-room"
	EventPing         = "ping"
)

// Outbound event types.
const (
	EventRoomCreated        = "room-created"
	EventRoomJoined         = "room-joined"
	EventRoomRejoined       = "room-rejoined"
	EventRoomUpdated        = "room-updated"
	EventPlayerJoined       = "player-joined"
	EventPlayerLeft         = "player-left"
	EventPlayerDisconnected = "player-disconnected"
	EventPlayerReconnected  = "player-reconnected"
	EventHostChanged        = "host-changed"
	EventRoomError          = "room-error"
	EventGameStarted        = "game-started"
	EventGameCountdown      = "game-countdown"
	EventGameNewRound       = "game-new-round"
	EventGameTimer          = "game-timer"
	EventGameAnswerResult   = "game-answer-result"
	EventGamePlayerScored   = "game-player-scored"
	EventGameRoundEnded     = "game-round-ended"
	EventGameEnded          = "game-ended"
	EventChatMessage        = "chat-message"
	EventChatSystem         = "chat-system"
	EventPong               = "pong"
)

// Message is the envelope for every frame sent to a client.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Inbound is a decoded client frame. Payload is decoded by the handler
// for its type.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Publisher delivers a message to one connection. Unknown connections
// are ignored.
type Publisher interface {
	Send(connectionID string, msg Message)
}

type createRoomPayload struct {
	PlayerName string             `json:"playerName"`
	Avatar     string             `json:"avatar"`
	Options    models.RoomOptions `json:"options"`
}

type joinRoomPayload struct {
	Code       string `json:"code"`
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar"`
}

type setReadyPayload struct {
	Ready bool `json:"ready"`
}

type rejoinPayload struct {
	Code       string `json:"code"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Token      string `json:"token"`
}

type submitAnswerPayload struct {
	Answer string `json:"answer"`
}

type sendChatPayload struct {
	Content string `json:"content"`
}

// RoomSnapshot answers create-room, join-room and rejoin.
type RoomSnapshot struct {
	Room      models.PublicRoom   `json:"room"`
	Player    models.PublicPlayer `json:"player"`
	Token     string              `json:"token"`
	GameState *ReconnectState     `json:"gameState,omitempty"`
}

type PlayerPresence struct {
	PlayerID             string `json:"playerId"`
	PlayerName           string `json:"playerName"`
	ConnectionID         string `json:"connectionId"`
	PreviousConnectionID string `json:"previousConnectionId,omitempty"`
}

type HostChanged struct {
	NewHostID   string `json:"newHostId"`
	NewHostName string `json:"newHostName"`
}

type RoomError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

type GameStarted struct {
	TotalRounds int `json:"totalRounds"`
}

type Countdown struct {
	Count int `json:"count"`
}

type TimerTick struct {
	SecondsLeft int `json:"secondsLeft"`
}

type PlayerScored struct {
	PlayerID   string       `json:"playerId"`
	PlayerName string       `json:"playerName"`
	Points     int          `json:"points"`
	Type       MatchType    `json:"type"`
	Scoreboard []ScoreEntry `json:"scoreboard"`
}

type ChatMessage struct {
	ID         string `json:"id"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Avatar     string `json:"avatar"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

type SystemMessage struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

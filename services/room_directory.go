package services

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

const (
	GracePeriod   = 120 * time.Second
	codeLength    = 6
	codeAlphabet  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeAttempts  = 100
	minNameLength = 1
	maxNameLength = 20
)

// Departure describes a player who left a room for good.
type Departure struct {
	Room        *models.Room
	Player      *models.Player
	NewHost     *models.Player
	RoomDeleted bool
}

// Disconnection describes a player whose connection dropped.
type Disconnection struct {
	Room         *models.Room
	Player       *models.Player
	ConnectionID string
	NewHost      *models.Player
}

type Rejoin struct {
	Room                 *models.Room
	Player               *models.Player
	PreviousConnectionID string
	// Purged is set together with ErrSessionExpired.
	Purged *Departure
}

// RoomDirectory owns every active room and the indexes into them.
// It is not safe for concurrent use; callers run it on the event loop.
type RoomDirectory struct {
	rooms       map[string]*models.Room
	connections map[string]string // connection id -> room code
	playerRooms map[string]string // player id -> room code
	clock       Clock
	randomCode  func() (string, error)
	log         zerolog.Logger
}

func NewRoomDirectory(clock Clock, log zerolog.Logger) *RoomDirectory {
	return &RoomDirectory{
		rooms:       make(map[string]*models.Room),
		connections: make(map[string]string),
		playerRooms: make(map[string]string),
		clock:       clock,
		randomCode:  randomCode,
		log:         log.With().Str("component", "rooms").Logger(),
	}
}

func randomCode() (string, error) {
	b := make([]byte, codeLength)
	size := big.NewInt(int64(len(codeAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}

func (d *RoomDirectory) generateCode() (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := d.randomCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		if _, taken := d.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", errors.New("generate room code: too many collisions")
}

// NormalizeCode upper-cases a room code and checks its format.
func NormalizeCode(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != codeLength {
		return "", ErrInvalidRoomCode
	}
	for _, r := range code {
		if !strings.ContainsRune(codeAlphabet, r) {
			return "", ErrInvalidRoomCode
		}
	}
	return code, nil
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < minNameLength || n > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func pickAvatar(avatar string, room *models.Room) string {
	if avatar = strings.TrimSpace(avatar); avatar != "" {
		return avatar
	}
	return models.Avatars[room.PlayerCount()%len(models.Avatars)]
}

func (d *RoomDirectory) CreateRoom(connectionID, name, avatar string, opts models.RoomOptions) (*models.Room, *models.Player, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := d.connections[connectionID]; ok {
		return nil, nil, ErrAlreadyInRoom
	}

	code, err := d.generateCode()
	if err != nil {
		return nil, nil, err
	}

	now := d.clock.Now()
	room := models.NewRoom(code, connectionID, opts, now)
	player := models.NewPlayer(uuid.NewString(), connectionID, name, pickAvatar(avatar, room), now)
	room.AddPlayer(player)

	d.rooms[code] = room
	d.connections[connectionID] = code
	d.playerRooms[player.ID] = code

	d.log.Info().Str("room", code).Str("player", player.ID).Msg("Room created")
	return room, player, nil
}

func (d *RoomDirectory) JoinRoom(code, connectionID, name, avatar string) (*models.Room, *models.Player, error) {
	name, err := normalizeName(name)
	if err != nil {
		return nil, nil, err
	}
	code, err = NormalizeCode(code)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := d.connections[connectionID]; ok {
		return nil, nil, ErrAlreadyInRoom
	}

	room, ok := d.rooms[code]
	if !ok {
		return nil, nil, ErrRoomNotFound
	}
	if room.Status != models.StatusWaiting {
		return nil, nil, ErrGameInProgress
	}
	if room.IsFull() {
		return nil, nil, ErrRoomFull
	}

	player := models.NewPlayer(uuid.NewString(), connectionID, name, pickAvatar(avatar, room), d.clock.Now())
	room.AddPlayer(player)
	d.connections[connectionID] = code
	d.playerRooms[player.ID] = code

	d.log.Info().Str("room", code).Str("player", player.ID).Int("players", room.PlayerCount()).Msg("Player joined")
	return room, player, nil
}

// LeaveRoom removes the player for good. ok is false when the connection
// is not in any room.
func (d *RoomDirectory) LeaveRoom(connectionID string) (Departure, bool) {
	code, ok := d.connections[connectionID]
	if !ok {
		return Departure{}, false
	}
	delete(d.connections, connectionID)

	room, ok := d.rooms[code]
	if !ok {
		return Departure{}, false
	}
	player := room.RemovePlayer(connectionID)
	if player == nil {
		return Departure{}, false
	}
	delete(d.playerRooms, player.ID)

	dep := d.afterRemoval(room, player, connectionID)
	d.log.Info().Str("room", code).Str("player", player.ID).Bool("roomDeleted", dep.RoomDeleted).Msg("Player left")
	return dep, true
}

func (d *RoomDirectory) afterRemoval(room *models.Room, player *models.Player, connectionID string) Departure {
	dep := Departure{Room: room, Player: player}
	if room.IsEmpty() {
		delete(d.rooms, room.Code)
		dep.RoomDeleted = true
		return dep
	}
	if room.HostID == connectionID {
		dep.NewHost = room.AssignNewHost()
	}
	return dep
}

// MarkDisconnected keeps the player's seat for the grace period. The host
// role moves right away when another connected player can take it.
func (d *RoomDirectory) MarkDisconnected(connectionID string) (Disconnection, bool) {
	code, ok := d.connections[connectionID]
	if !ok {
		return Disconnection{}, false
	}
	delete(d.connections, connectionID)

	room, ok := d.rooms[code]
	if !ok {
		return Disconnection{}, false
	}
	player := room.Player(connectionID)
	if player == nil {
		return Disconnection{}, false
	}
	player.MarkDisconnected(d.clock.Now())

	res := Disconnection{Room: room, Player: player, ConnectionID: connectionID}
	if room.HostID == connectionID && len(room.ConnectedIDs()) > 0 {
		res.NewHost = room.AssignNewHost()
	}

	d.log.Info().Str("room", code).Str("player", player.ID).Msg("Player disconnected")
	return res, true
}

func (d *RoomDirectory) RejoinRoom(code, playerID, connectionID string) (Rejoin, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return Rejoin{}, err
	}
	if _, ok := d.connections[connectionID]; ok {
		return Rejoin{}, ErrAlreadyInRoom
	}

	room, ok := d.rooms[code]
	if !ok {
		return Rejoin{}, ErrRoomNotFound
	}
	player := room.PlayerByID(playerID)
	if player == nil || d.playerRooms[playerID] != code {
		return Rejoin{}, ErrPlayerNotFound
	}
	if !player.IsDisconnected() {
		return Rejoin{}, ErrPlayerNotDisconnected
	}

	previous := player.ConnectionID
	if player.DisconnectedFor(d.clock.Now()) > GracePeriod {
		dep := d.purge(room, player)
		return Rejoin{Room: room, Player: player, PreviousConnectionID: previous, Purged: &dep}, ErrSessionExpired
	}

	player.MarkReconnected(connectionID)
	d.connections[connectionID] = code
	if room.HostID == previous {
		room.HostID = connectionID
	}

	d.log.Info().Str("room", code).Str("player", player.ID).Msg("Player reconnected")
	return Rejoin{Room: room, Player: player, PreviousConnectionID: previous}, nil
}

func (d *RoomDirectory) purge(room *models.Room, player *models.Player) Departure {
	connectionID := player.ConnectionID
	room.RemovePlayerByID(player.ID)
	delete(d.playerRooms, player.ID)
	return d.afterRemoval(room, player, connectionID)
}

// CleanupExpired removes every player disconnected for longer than the
// grace period and deletes rooms left empty.
func (d *RoomDirectory) CleanupExpired() []Departure {
	now := d.clock.Now()

	codes := make([]string, 0, len(d.rooms))
	for code := range d.rooms {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []Departure
	for _, code := range codes {
		room, ok := d.rooms[code]
		if !ok {
			continue
		}
		for _, p := range room.Players() {
			if !p.IsDisconnected() || p.DisconnectedFor(now) <= GracePeriod {
				continue
			}
			dep := d.purge(room, p)
			out = append(out, dep)
			d.log.Info().Str("room", code).Str("player", p.ID).Msg("Removed expired player")
			if dep.RoomDeleted {
				break
			}
		}
	}
	return out
}

func (d *RoomDirectory) SetReady(connectionID string, ready bool) (*models.Room, *models.Player, error) {
	room, ok := d.RoomByConnection(connectionID)
	if !ok {
		return nil, nil, ErrNotInRoom
	}
	if room.Status != models.StatusWaiting {
		return nil, nil, ErrGameInProgress
	}
	player := room.Player(connectionID)
	player.SetReady(ready)
	return room, player, nil
}

func (d *RoomDirectory) Room(code string) (*models.Room, bool) {
	room, ok := d.rooms[strings.ToUpper(strings.TrimSpace(code))]
	return room, ok
}

func (d *RoomDirectory) RoomByConnection(connectionID string) (*models.Room, bool) {
	code, ok := d.connections[connectionID]
	if !ok {
		return nil, false
	}
	room, ok := d.rooms[code]
	if !ok || room.Player(connectionID) == nil {
		return nil, false
	}
	return room, true
}

// PublicRooms lists public rooms that can still be joined, oldest first.
func (d *RoomDirectory) PublicRooms() []models.PublicRoom {
	rooms := make([]*models.Room, 0)
	for _, room := range d.rooms {
		if room.IsPublic && room.Status == models.StatusWaiting && !room.IsFull() {
			rooms = append(rooms, room)
		}
	}
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].Code < rooms[j].Code
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})

	out := make([]models.PublicRoom, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, room.Public())
	}
	return out
}

func (d *RoomDirectory) Count() int {
	return len(d.rooms)
}

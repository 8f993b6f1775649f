package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/31iotA1d3rs0n/blind-test-musical/catalog"
	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

const (
	CountdownFrom          = 3
	RevealDelay            = 5 * time.Second
	SweepInterval          = 30 * time.Second
	MaxChatLength          = 200
	DefaultProviderTimeout = 20 * time.Second

	tick = time.Second

	chatInterval   = 500 * time.Millisecond
	chatBurst      = 5
	answerInterval = 200 * time.Millisecond
	answerBurst    = 5
)

type OrchestratorConfig struct {
	Rooms           *RoomDirectory
	Provider        catalog.TrackProvider
	Publisher       Publisher
	Executor        Executor
	Scheduler       Scheduler
	Tokens          *SessionTokens
	ProviderTimeout time.Duration
	Logger          zerolog.Logger
}

type connLimits struct {
	chat   *rate.Limiter
	answer *rate.Limiter
}

// Orchestrator turns client events and timer ticks into room and game
// transitions. Every method except the exported entry points runs on the
// event loop.
type Orchestrator struct {
	rooms     *RoomDirectory
	provider  catalog.TrackProvider
	publisher Publisher
	exec      Executor
	sched     Scheduler
	tokens    *SessionTokens
	timeout   time.Duration
	log       zerolog.Logger

	sessions map[string]*GameSession
	timers   map[string]Task
	starting map[*models.Room]bool
	limits   map[string]*connLimits

	// spawn runs the catalog fetch off the loop.
	spawn func(func())
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	return &Orchestrator{
		rooms:     cfg.Rooms,
		provider:  cfg.Provider,
		publisher: cfg.Publisher,
		exec:      cfg.Executor,
		sched:     cfg.Scheduler,
		tokens:    cfg.Tokens,
		timeout:   timeout,
		log:       cfg.Logger.With().Str("component", "game").Logger(),
		sessions:  make(map[string]*GameSession),
		timers:    make(map[string]Task),
		starting:  make(map[*models.Room]bool),
		limits:    make(map[string]*connLimits),
		spawn:     func(fn func()) { go fn() },
	}
}

// Dispatch queues an inbound client frame.
func (o *Orchestrator) Dispatch(connectionID string, msg Inbound) {
	o.exec.Post(func() { o.handle(connectionID, msg) })
}

// Disconnect queues an involuntary disconnect of a connection.
func (o *Orchestrator) Disconnect(connectionID string) {
	o.exec.Post(func() { o.disconnect(connectionID) })
}

// StartSweeper removes expired players every SweepInterval until the
// returned task is cancelled.
func (o *Orchestrator) StartSweeper() Task {
	return o.sched.Every(SweepInterval, o.sweep)
}

func (o *Orchestrator) PublicRooms(ctx context.Context) ([]models.PublicRoom, error) {
	var rooms []models.PublicRoom
	err := await(ctx, o.exec, func() {
		rooms = o.rooms.PublicRooms()
	})
	return rooms, err
}

func (o *Orchestrator) RoomInfo(ctx context.Context, code string) (models.PublicRoom, error) {
	code, err := NormalizeCode(code)
	if err != nil {
		return models.PublicRoom{}, err
	}

	var (
		view  models.PublicRoom
		found bool
	)
	err = await(ctx, o.exec, func() {
		if room, ok := o.rooms.Room(code); ok {
			view, found = room.Public(), true
		}
	})
	if err != nil {
		return models.PublicRoom{}, err
	}
	if !found {
		return models.PublicRoom{}, ErrRoomNotFound
	}
	return view, nil
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (o *Orchestrator) handle(connectionID string, msg Inbound) {
	var err error
	switch msg.Type {
	case EventCreateRoom:
		var p createRoomPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = o.createRoom(connectionID, p)
		}
	case EventJoinRoom:
		var p joinRoomPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = o.joinRoom(connectionID, p)
		}
	case EventLeaveRoom:
		o.leaveRoom(connectionID)
	case EventSetReady:
		var p setReadyPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = o.setReady(connectionID, p.Ready)
		}
	case EventRejoin:
		var p rejoinPayload
		if err = decode(msg.Payload, &p); err == nil {
			o.rejoin(connectionID, p)
		}
	case EventStartGame:
		err = o.startGame(connectionID)
	case EventSubmitAnswer:
		var p submitAnswerPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = o.submitAnswer(connectionID, p.Answer)
		}
	case EventSendChat:
		var p sendChatPayload
		if err = decode(msg.Payload, &p); err == nil {
			err = o.sendChat(connectionID, p.Content)
		}
	case EventResetRoom:
		err = o.resetRoom(connectionID)
	case EventPing:
		o.send(connectionID, EventPong, "pong")
	default:
		o.log.Warn().Str("conn", connectionID).Str("type", msg.Type).Msg("Unknown message type")
		return
	}

	if err != nil {
		o.log.Debug().Err(err).Str("conn", connectionID).Str("type", msg.Type).Msg("Request rejected")
		o.sendError(connectionID, err, false)
	}
}

func (o *Orchestrator) send(connectionID, typ string, payload interface{}) {
	o.publisher.Send(connectionID, Message{Type: typ, Payload: payload})
}

// broadcast resolves the room's members at call time.
func (o *Orchestrator) broadcast(room *models.Room, typ string, payload interface{}) {
	o.broadcastExcept(room, "", typ, payload)
}

func (o *Orchestrator) broadcastExcept(room *models.Room, except, typ string, payload interface{}) {
	msg := Message{Type: typ, Payload: payload}
	for _, id := range room.ConnectedIDs() {
		if id != except {
			o.publisher.Send(id, msg)
		}
	}
}

func (o *Orchestrator) system(room *models.Room, kind, text string) {
	o.broadcast(room, EventChatSystem, SystemMessage{Message: text, Type: kind})
}

func (o *Orchestrator) sendError(connectionID string, err error, fatal bool) {
	info := describeError(err)
	o.send(connectionID, EventRoomError, RoomError{Code: info.code, Message: info.message, Fatal: fatal})
}

func (o *Orchestrator) issueToken(room *models.Room, player *models.Player) string {
	token, err := o.tokens.Issue(room.Code, player.ID)
	if err != nil {
		o.log.Error().Err(err).Str("room", room.Code).Msg("Failed to issue session token")
	}
	return token
}

func (o *Orchestrator) createRoom(connectionID string, p createRoomPayload) error {
	room, player, err := o.rooms.CreateRoom(connectionID, p.PlayerName, p.Avatar, p.Options)
	if err != nil {
		return err
	}
	o.send(connectionID, EventRoomCreated, RoomSnapshot{
		Room:   room.Public(),
		Player: player.Public(),
		Token:  o.issueToken(room, player),
	})
	return nil
}

func (o *Orchestrator) joinRoom(connectionID string, p joinRoomPayload) error {
	room, player, err := o.rooms.JoinRoom(p.Code, connectionID, p.PlayerName, p.Avatar)
	if err != nil {
		return err
	}
	o.send(connectionID, EventRoomJoined, RoomSnapshot{
		Room:   room.Public(),
		Player: player.Public(),
		Token:  o.issueToken(room, player),
	})
	o.broadcastExcept(room, connectionID, EventPlayerJoined, player.Public())
	o.system(room, "join", fmt.Sprintf("%s joined the game", player.Name))
	o.broadcast(room, EventRoomUpdated, room.Public())
	return nil
}

func (o *Orchestrator) leaveRoom(connectionID string) {
	delete(o.limits, connectionID)
	dep, ok := o.rooms.LeaveRoom(connectionID)
	if !ok {
		return
	}
	o.announceDeparture(dep)
}

func (o *Orchestrator) announceDeparture(dep Departure) {
	room := dep.Room
	if dep.RoomDeleted {
		o.teardown(room)
		return
	}
	o.broadcast(room, EventPlayerLeft, PlayerPresence{
		PlayerID:     dep.Player.ID,
		PlayerName:   dep.Player.Name,
		ConnectionID: dep.Player.ConnectionID,
	})
	if dep.NewHost != nil {
		o.announceHost(room, dep.NewHost)
	}
	o.system(room, "leave", fmt.Sprintf("%s left the game", dep.Player.Name))
	o.broadcast(room, EventRoomUpdated, room.Public())
}

func (o *Orchestrator) announceHost(room *models.Room, host *models.Player) {
	o.broadcast(room, EventHostChanged, HostChanged{NewHostID: host.ConnectionID, NewHostName: host.Name})
	o.system(room, "host", fmt.Sprintf("%s is now the host", host.Name))
}

// teardown drops everything the orchestrator holds for a deleted room.
func (o *Orchestrator) teardown(room *models.Room) {
	o.cancelTimer(room.Code)
	delete(o.sessions, room.Code)
	o.log.Info().Str("room", room.Code).Msg("Room deleted")
}

func (o *Orchestrator) disconnect(connectionID string) {
	delete(o.limits, connectionID)
	d, ok := o.rooms.MarkDisconnected(connectionID)
	if !ok {
		return
	}
	room := d.Room
	o.broadcast(room, EventPlayerDisconnected, PlayerPresence{
		PlayerID:     d.Player.ID,
		PlayerName:   d.Player.Name,
		ConnectionID: d.ConnectionID,
	})
	if d.NewHost != nil {
		o.announceHost(room, d.NewHost)
	}
	o.broadcast(room, EventRoomUpdated, room.Public())
}

func (o *Orchestrator) setReady(connectionID string, ready bool) error {
	room, player, err := o.rooms.SetReady(connectionID, ready)
	if err != nil {
		return err
	}
	o.broadcast(room, EventRoomUpdated, room.Public())
	state := "not ready"
	if ready {
		state = "ready"
	}
	o.system(room, "ready", fmt.Sprintf("%s is %s", player.Name, state))
	return nil
}

// rejoin reports its own errors: lookup failures are fatal so the client
// forgets the stored session.
func (o *Orchestrator) rejoin(connectionID string, p rejoinPayload) {
	fail := func(err error) {
		o.log.Debug().Err(err).Str("conn", connectionID).Str("player", p.PlayerID).Msg("Rejoin refused")
		o.sendError(connectionID, err, isLookupError(err))
	}

	claims, err := o.tokens.Verify(p.Token)
	if err != nil {
		fail(err)
		return
	}
	code, err := NormalizeCode(p.Code)
	if err != nil {
		fail(err)
		return
	}
	if claims.RoomCode != code || claims.PlayerID != p.PlayerID {
		fail(ErrInvalidSession)
		return
	}

	res, err := o.rooms.RejoinRoom(code, p.PlayerID, connectionID)
	if err != nil {
		if res.Purged != nil {
			o.announceDeparture(*res.Purged)
		}
		fail(err)
		return
	}

	room, player := res.Room, res.Player
	snap := RoomSnapshot{
		Room:   room.Public(),
		Player: player.Public(),
		Token:  o.issueToken(room, player),
	}
	if session, ok := o.sessions[room.Code]; ok && room.Status == models.StatusPlaying {
		session.UpdateConnection(player.ID, connectionID)
		state := session.StateForReconnection(connectionID)
		snap.GameState = &state
	}

	o.send(connectionID, EventRoomRejoined, snap)
	o.broadcastExcept(room, connectionID, EventPlayerReconnected, PlayerPresence{
		PlayerID:             player.ID,
		PlayerName:           player.Name,
		ConnectionID:         connectionID,
		PreviousConnectionID: res.PreviousConnectionID,
	})
	o.broadcast(room, EventRoomUpdated, room.Public())
}

func (o *Orchestrator) startGame(connectionID string) error {
	room, ok := o.rooms.RoomByConnection(connectionID)
	if !ok {
		return ErrNotInRoom
	}
	if room.HostID != connectionID {
		return ErrNotHost
	}
	if o.starting[room] {
		return ErrStartInProgress
	}
	if room.Status != models.StatusWaiting {
		return ErrGameInProgress
	}
	if !room.CanStart() {
		return ErrCannotStart
	}

	o.starting[room] = true
	q := catalog.Query{
		Count:    room.Rounds,
		Genre:    room.Genre,
		Language: room.Language,
		RapStyle: room.RapStyle,
	}
	o.log.Info().Str("room", room.Code).Int("count", q.Count).Str("genre", q.Genre).Str("language", q.Language).Msg("Fetching tracks")

	o.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		tracks, err := o.provider.GetRandomTracks(ctx, q)
		o.exec.Post(func() { o.finishStart(room, tracks, err) })
	})
	return nil
}

// finishStart resumes a game start once the catalog answered. The room
// may have been deleted or changed while the fetch was running.
func (o *Orchestrator) finishStart(room *models.Room, tracks []models.Track, err error) {
	delete(o.starting, room)

	if current, ok := o.rooms.Room(room.Code); !ok || current != room {
		o.log.Debug().Str("room", room.Code).Msg("Room gone before tracks arrived")
		return
	}

	if err == nil && len(tracks) == 0 {
		err = catalog.ErrNoTracksFound
	}
	if err != nil {
		if !errors.Is(err, catalog.ErrNoTracksFound) {
			err = fmt.Errorf("%w: %v", catalog.ErrNoTracksFound, err)
		}
		o.log.Warn().Err(err).Str("room", room.Code).Msg("Could not start game")
		info := describeError(err)
		o.broadcast(room, EventRoomError, RoomError{Code: info.code, Message: info.message, Fatal: true})
		return
	}

	if !room.CanStart() {
		if host := room.Host(); host != nil {
			o.sendError(host.ConnectionID, ErrCannotStart, false)
		}
		return
	}
	if err := room.Start(); err != nil {
		o.log.Warn().Err(err).Str("room", room.Code).Msg("Could not start game")
		return
	}

	players := room.Players()
	for _, p := range players {
		p.ResetForNewGame()
	}
	o.sessions[room.Code] = NewGameSession(room.Code, players, tracks, room.TimePerRound, o.sched)

	o.log.Info().Str("room", room.Code).Int("rounds", len(tracks)).Msg("Game started")
	o.broadcast(room, EventGameStarted, GameStarted{TotalRounds: len(tracks)})
	o.broadcast(room, EventRoomUpdated, room.Public())
	o.countdown(room)
}

// live returns the session of room as long as room is still the one
// registered under its code.
func (o *Orchestrator) live(room *models.Room) (*GameSession, bool) {
	current, ok := o.rooms.Room(room.Code)
	if !ok || current != room {
		return nil, false
	}
	session, ok := o.sessions[room.Code]
	return session, ok
}

func (o *Orchestrator) setTimer(code string, task Task) {
	o.cancelTimer(code)
	o.timers[code] = task
}

func (o *Orchestrator) cancelTimer(code string) {
	if task, ok := o.timers[code]; ok {
		task.Cancel()
		delete(o.timers, code)
	}
}

// countdown broadcasts 3, 2, 1, 0 one second apart, then starts round one.
func (o *Orchestrator) countdown(room *models.Room) {
	count := CountdownFrom
	o.setTimer(room.Code, o.sched.Every(tick, func() {
		if _, ok := o.live(room); !ok {
			return
		}
		o.broadcast(room, EventGameCountdown, Countdown{Count: count})
		count--
		if count < 0 {
			o.cancelTimer(room.Code)
			o.startRound(room)
		}
	}))
}

func (o *Orchestrator) startRound(room *models.Room) {
	session, ok := o.live(room)
	if !ok {
		return
	}
	info, err := session.StartRound()
	if err != nil {
		o.endGame(room)
		return
	}

	o.log.Debug().Str("room", room.Code).Int("round", info.RoundNumber).Msg("Round started")
	o.broadcast(room, EventGameNewRound, info)

	secondsLeft := info.Duration
	o.setTimer(room.Code, o.sched.Every(tick, func() {
		if _, ok := o.live(room); !ok {
			return
		}
		secondsLeft--
		o.broadcast(room, EventGameTimer, TimerTick{SecondsLeft: secondsLeft})
		if secondsLeft <= 0 {
			o.cancelTimer(room.Code)
			o.endRound(room)
		}
	}))
}

func (o *Orchestrator) endRound(room *models.Room) {
	session, ok := o.live(room)
	if !ok {
		return
	}
	session.CloseRound()
	result, err := session.RoundResult()
	if err != nil {
		o.endGame(room)
		return
	}
	o.syncScores(room, session)
	o.broadcast(room, EventGameRoundEnded, result)

	o.setTimer(room.Code, o.sched.After(RevealDelay, func() {
		session, ok := o.live(room)
		if !ok {
			return
		}
		delete(o.timers, room.Code)
		if _, more := session.NextRound(); more {
			o.syncScores(room, session)
			o.startRound(room)
			return
		}
		o.endGame(room)
	}))
}

func (o *Orchestrator) endGame(room *models.Room) {
	o.cancelTimer(room.Code)
	session, ok := o.live(room)
	if !ok {
		return
	}
	results := session.FinalResults()
	delete(o.sessions, room.Code)
	o.syncScores(room, session)

	if err := room.Finish(); err != nil {
		o.log.Warn().Err(err).Str("room", room.Code).Msg("Could not finish room")
	}
	o.log.Info().Str("room", room.Code).Msg("Game ended")
	o.broadcast(room, EventGameEnded, results)
	o.broadcast(room, EventRoomUpdated, room.Public())
}

// syncScores copies session standings onto the room's players so room
// views show live scores.
func (o *Orchestrator) syncScores(room *models.Room, session *GameSession) {
	for _, p := range room.Players() {
		score, streak, ok := session.Standing(p.ID)
		if !ok {
			continue
		}
		found := session.Found(p.ID)
		p.Score, p.Streak = score, streak
		p.FoundTitle, p.FoundArtist = found.Title, found.Artist
	}
}

func (o *Orchestrator) limitsFor(connectionID string) *connLimits {
	l, ok := o.limits[connectionID]
	if !ok {
		l = &connLimits{
			chat:   rate.NewLimiter(rate.Every(chatInterval), chatBurst),
			answer: rate.NewLimiter(rate.Every(answerInterval), answerBurst),
		}
		o.limits[connectionID] = l
	}
	return l
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func describeMatch(t MatchType) string {
	switch t {
	case MatchBoth:
		return "the title and the artist"
	case MatchTitle:
		return "the title"
	}
	return "the artist"
}

func (o *Orchestrator) submitAnswer(connectionID, answer string) error {
	room, ok := o.rooms.RoomByConnection(connectionID)
	if !ok || room.Status != models.StatusPlaying {
		return nil
	}
	answer = truncate(strings.TrimSpace(answer), MaxChatLength)
	if answer == "" {
		return nil
	}
	if !o.limitsFor(connectionID).answer.AllowN(o.sched.Now(), 1) {
		return nil
	}

	session, ok := o.sessions[room.Code]
	if !ok {
		return ErrGameNotFound
	}
	result, err := session.SubmitAnswer(connectionID, answer)
	if errors.Is(err, ErrRoundClosed) {
		return nil
	}
	if err != nil {
		return err
	}

	o.send(connectionID, EventGameAnswerResult, result)
	if !result.Correct {
		return nil
	}

	player := room.Player(connectionID)
	o.syncScores(room, session)
	o.broadcast(room, EventGamePlayerScored, PlayerScored{
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Points:     result.Points,
		Type:       result.Type,
		Scoreboard: session.Scoreboard(),
	})
	o.system(room, "score", fmt.Sprintf("%s found %s! (+%d pts)", player.Name, describeMatch(result.Type), result.Points))
	return nil
}

func (o *Orchestrator) sendChat(connectionID, content string) error {
	room, ok := o.rooms.RoomByConnection(connectionID)
	if !ok {
		return nil
	}
	content = truncate(strings.TrimSpace(content), MaxChatLength)
	if content == "" {
		return nil
	}
	if !o.limitsFor(connectionID).chat.AllowN(o.sched.Now(), 1) {
		return ErrRateLimited
	}

	player := room.Player(connectionID)
	o.broadcast(room, EventChatMessage, ChatMessage{
		ID:         ulid.Make().String(),
		PlayerID:   player.ID,
		PlayerName: player.Name,
		Avatar:     player.Avatar,
		Content:    content,
		Timestamp:  o.sched.Now().UnixMilli(),
	})
	return nil
}

func (o *Orchestrator) resetRoom(connectionID string) error {
	room, ok := o.rooms.RoomByConnection(connectionID)
	if !ok {
		return ErrNotInRoom
	}
	if room.HostID != connectionID {
		return ErrNotHost
	}
	if err := room.Reset(); err != nil {
		return ErrNotFinished
	}
	o.broadcast(room, EventRoomUpdated, room.Public())
	o.system(room, "reset", "The host opened a new lobby")
	return nil
}

func (o *Orchestrator) sweep() {
	for _, dep := range o.rooms.CleanupExpired() {
		o.announceDeparture(dep)
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/31iotA1d3rs0n/blind-test-musical/catalog"
	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

type harness struct {
	t        *testing.T
	o        *Orchestrator
	sched    *fakeScheduler
	pub      *fakePublisher
	provider *mockProvider
	rooms    *RoomDirectory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sched := newFakeScheduler()
	pub := &fakePublisher{}
	provider := &mockProvider{}
	rooms := NewRoomDirectory(sched, zerolog.Nop())
	rooms.randomCode = sequentialCodes("ROOM01", "ROOM02", "ROOM03")

	o := NewOrchestrator(OrchestratorConfig{
		Rooms:     rooms,
		Provider:  provider,
		Publisher: pub,
		Executor:  inlineExecutor{},
		Scheduler: sched,
		Tokens:    NewSessionTokens([]byte("test-secret"), sched),
		Logger:    zerolog.Nop(),
	})
	o.spawn = func(fn func()) { fn() }

	t.Cleanup(func() { provider.AssertExpectations(t) })
	return &harness{t: t, o: o, sched: sched, pub: pub, provider: provider, rooms: rooms}
}

func (h *harness) send(conn, typ string, payload interface{}) {
	h.t.Helper()
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(h.t, err)
		raw = b
	}
	h.o.Dispatch(conn, Inbound{Type: typ, Payload: raw})
}

func (h *harness) snapshot(conn, typ string) RoomSnapshot {
	h.t.Helper()
	msg, ok := h.pub.last(conn, typ)
	require.True(h.t, ok, "%s never got %s", conn, typ)
	snap, ok := msg.Payload.(RoomSnapshot)
	require.True(h.t, ok)
	return snap
}

func (h *harness) lastError(conn string) RoomError {
	h.t.Helper()
	msg, ok := h.pub.last(conn, EventRoomError)
	require.True(h.t, ok, "%s got no error", conn)
	return msg.Payload.(RoomError)
}

// lobby seats alice (c1, host) and bob (c2) in a two round room, both ready.
func (h *harness) lobby() *models.Room {
	h.t.Helper()
	h.send("c1", EventCreateRoom, map[string]interface{}{
		"playerName": "Alice",
		"options":    map[string]interface{}{"rounds": 2},
	})
	code := h.snapshot("c1", EventRoomCreated).Room.Code
	h.send("c2", EventJoinRoom, map[string]interface{}{"code": strings.ToLower(code), "playerName": "Bob"})
	h.send("c1", EventSetReady, map[string]interface{}{"ready": true})
	h.send("c2", EventSetReady, map[string]interface{}{"ready": true})

	room, ok := h.rooms.Room(code)
	require.True(h.t, ok)
	require.True(h.t, room.CanStart())
	return room
}

func (h *harness) expectTracks() {
	h.provider.On("GetRandomTracks", mock.Anything, mock.MatchedBy(func(q catalog.Query) bool {
		return q.Count == 2 && q.Language == models.DefaultLanguage && q.RapStyle == models.DefaultRapStyle
	})).Return(testTracks()[:2], nil).Once()
}

// startGame starts the game and runs the countdown into round one.
func (h *harness) startGame() {
	h.t.Helper()
	h.expectTracks()
	h.send("c1", EventStartGame, nil)
	h.sched.Advance(4 * time.Second)
	require.Len(h.t, h.pub.ofType("c1", EventGameNewRound), 1)
}

func TestFullGame(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()

	h.expectTracks()
	h.send("c1", EventStartGame, nil)

	assert.Equal(t, models.StatusPlaying, room.Status)
	started, ok := h.pub.last("c2", EventGameStarted)
	require.True(t, ok)
	assert.Equal(t, GameStarted{TotalRounds: 2}, started.Payload)
	for _, p := range room.Players() {
		assert.False(t, p.IsReady, "ready flags cleared for the game")
	}

	h.sched.Advance(4 * time.Second)
	var counts []int
	for _, m := range h.pub.ofType("c1", EventGameCountdown) {
		counts = append(counts, m.Payload.(Countdown).Count)
	}
	assert.Equal(t, []int{3, 2, 1, 0}, counts)

	round, ok := h.pub.last("c2", EventGameNewRound)
	require.True(t, ok)
	info := round.Payload.(RoundInfo)
	assert.Equal(t, 1, info.RoundNumber)
	assert.Equal(t, "https://cdn.test/1.mp3", info.PreviewURL)
	assert.Equal(t, t0.Add(4*time.Second).UnixMilli(), info.RoundStartedAt)

	h.send("c1", EventSubmitAnswer, map[string]string{"answer": "Andalouse"})
	h.send("c2", EventSubmitAnswer, map[string]string{"answer": "andalous"})

	res, ok := h.pub.last("c1", EventGameAnswerResult)
	require.True(t, ok)
	assert.Equal(t, 3, res.Payload.(AnswerResult).Points)
	res, ok = h.pub.last("c2", EventGameAnswerResult)
	require.True(t, ok)
	assert.Equal(t, 2, res.Payload.(AnswerResult).Points)
	assert.Len(t, h.pub.ofType("c1", EventGamePlayerScored), 2)
	assert.Equal(t, 3, room.Player("c1").Score, "room view follows the session")

	h.sched.Advance(30 * time.Second)
	ticks := h.pub.ofType("c1", EventGameTimer)
	require.Len(t, ticks, 30)
	assert.Equal(t, TimerTick{SecondsLeft: 29}, ticks[0].Payload)
	assert.Equal(t, TimerTick{SecondsLeft: 0}, ticks[29].Payload)

	ended, ok := h.pub.last("c2", EventGameRoundEnded)
	require.True(t, ok)
	result := ended.Payload.(RoundResult)
	assert.Equal(t, "Andalouse", result.Answer.Title)
	assert.Equal(t, "Kendji Girac", result.Answer.Artist)

	// answers during the reveal are dropped
	h.pub.reset()
	h.send("c1", EventSubmitAnswer, map[string]string{"answer": "kendji girac"})
	assert.Empty(t, h.pub.to("c1"))

	h.sched.Advance(4 * time.Second)
	assert.Empty(t, h.pub.ofType("c1", EventGameNewRound))
	h.sched.Advance(time.Second)
	round, ok = h.pub.last("c1", EventGameNewRound)
	require.True(t, ok)
	assert.Equal(t, 2, round.Payload.(RoundInfo).RoundNumber)

	h.send("c1", EventSubmitAnswer, map[string]string{"answer": "papaoutai"})
	res, ok = h.pub.last("c1", EventGameAnswerResult)
	require.True(t, ok)
	assert.Equal(t, 3, res.Payload.(AnswerResult).Points)

	h.sched.Advance(35 * time.Second)
	msg, ok := h.pub.last("c2", EventGameEnded)
	require.True(t, ok)
	final := msg.Payload.(FinalResults)
	assert.Equal(t, BestStreak{Name: "Alice", Streak: 2}, final.Stats.BestStreak)
	require.Len(t, final.Scoreboard, 2)
	assert.Equal(t, 6, final.Scoreboard[0].Score)
	assert.Equal(t, 2, final.Scoreboard[1].Score)
	assert.Len(t, final.History, 2)

	assert.Equal(t, models.StatusFinished, room.Status)
	assert.Zero(t, h.sched.pending())
	assert.Empty(t, h.o.sessions)
	assert.Empty(t, h.o.timers)

	h.send("c2", EventResetRoom, nil)
	assert.Equal(t, "NOT_HOST", h.lastError("c2").Code)

	h.send("c1", EventResetRoom, nil)
	assert.Equal(t, models.StatusWaiting, room.Status)
	assert.Zero(t, room.Player("c1").Score)

	h.send("c1", EventResetRoom, nil)
	assert.Equal(t, "GAME_NOT_FINISHED", h.lastError("c1").Code)
}

func TestStartGameChecks(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()

	h.send("c2", EventStartGame, nil)
	assert.Equal(t, "NOT_HOST", h.lastError("c2").Code)

	h.send("c2", EventSetReady, map[string]interface{}{"ready": false})
	h.send("c1", EventStartGame, nil)
	assert.Equal(t, "CANNOT_START", h.lastError("c1").Code)
	assert.Equal(t, models.StatusWaiting, room.Status)

	h.send("c3", EventStartGame, nil)
	assert.Equal(t, "NOT_IN_ROOM", h.lastError("c3").Code)
}

func TestDoubleStartIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()

	var fetches []func()
	h.o.spawn = func(fn func()) { fetches = append(fetches, fn) }
	h.expectTracks()

	h.send("c1", EventStartGame, nil)
	h.send("c1", EventStartGame, nil)
	require.Len(t, fetches, 1)
	assert.Equal(t, "START_IN_PROGRESS", h.lastError("c1").Code)

	fetches[0]()
	assert.Equal(t, models.StatusPlaying, room.Status)
	assert.Empty(t, h.o.starting)

	h.send("c1", EventStartGame, nil)
	assert.Equal(t, "GAME_IN_PROGRESS", h.lastError("c1").Code)
	assert.Len(t, h.pub.ofType("c2", EventGameStarted), 1)
}

func TestNoTracksKeepsRoomWaiting(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()

	h.provider.On("GetRandomTracks", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("genre pop: %w", catalog.ErrNoTracksFound)).Once()
	h.send("c1", EventStartGame, nil)

	for _, conn := range []string{"c1", "c2"} {
		e := h.lastError(conn)
		assert.Equal(t, "NO_TRACKS_FOUND", e.Code)
		assert.True(t, e.Fatal)
	}
	assert.Equal(t, models.StatusWaiting, room.Status)
	assert.Empty(t, h.o.starting)
	assert.Empty(t, h.o.sessions)
	assert.Zero(t, h.sched.pending())
}

func TestProviderFailureReportsNoTracks(t *testing.T) {
	h := newHarness(t)
	h.lobby()

	h.provider.On("GetRandomTracks", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("dial tcp: connection refused")).Once()
	h.send("c1", EventStartGame, nil)
	assert.Equal(t, "NO_TRACKS_FOUND", h.lastError("c2").Code)
}

func TestRoomDeletedDuringFetch(t *testing.T) {
	h := newHarness(t)
	h.lobby()

	var fetches []func()
	h.o.spawn = func(fn func()) { fetches = append(fetches, fn) }
	h.expectTracks()
	h.send("c1", EventStartGame, nil)

	h.send("c1", EventLeaveRoom, nil)
	h.send("c2", EventLeaveRoom, nil)
	assert.Zero(t, h.rooms.Count())

	h.pub.reset()
	fetches[0]()
	assert.Empty(t, h.pub.sent)
	assert.Empty(t, h.o.starting)
	assert.Zero(t, h.sched.pending())
}

func TestStartRechecksLobbyAfterFetch(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()

	var fetches []func()
	h.o.spawn = func(fn func()) { fetches = append(fetches, fn) }
	h.expectTracks()
	h.send("c1", EventStartGame, nil)

	// the host leaves while tracks are loading, bob is now alone
	h.send("c1", EventLeaveRoom, nil)
	require.Equal(t, "c2", room.HostID)

	h.pub.reset()
	fetches[0]()
	assert.Equal(t, "CANNOT_START", h.lastError("c2").Code)
	assert.Equal(t, models.StatusWaiting, room.Status)
	assert.Empty(t, h.o.starting)
	assert.Empty(t, h.o.sessions)
}

func TestTimersStopWhenRoomIsDeleted(t *testing.T) {
	h := newHarness(t)
	h.lobby()
	h.startGame()

	h.send("c1", EventLeaveRoom, nil)
	h.send("c2", EventLeaveRoom, nil)
	assert.Zero(t, h.sched.pending())

	h.pub.reset()
	h.sched.Advance(2 * time.Minute)
	assert.Empty(t, h.pub.sent)
	assert.Empty(t, h.o.sessions)
}

func TestHostLeaveMidGame(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()
	h.startGame()

	h.send("c1", EventLeaveRoom, nil)
	assert.Equal(t, "c2", room.HostID)

	changed, ok := h.pub.last("c2", EventHostChanged)
	require.True(t, ok)
	assert.Equal(t, HostChanged{NewHostID: "c2", NewHostName: "Bob"}, changed.Payload)
	left, ok := h.pub.last("c2", EventPlayerLeft)
	require.True(t, ok)
	assert.Equal(t, "Alice", left.Payload.(PlayerPresence).PlayerName)

	// the game carries on for the remaining player
	h.sched.Advance(30 * time.Second)
	_, ok = h.pub.last("c2", EventGameRoundEnded)
	assert.True(t, ok)
}

func TestDisconnectAndRejoinMidRound(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()
	bob := h.snapshot("c2", EventRoomJoined)
	h.startGame()

	h.sched.Advance(10 * time.Second)
	h.o.Disconnect("c2")

	gone, ok := h.pub.last("c1", EventPlayerDisconnected)
	require.True(t, ok)
	assert.Equal(t, "c2", gone.Payload.(PlayerPresence).ConnectionID)
	assert.True(t, room.PlayerByID(bob.Player.ID).IsDisconnected())

	h.sched.Advance(5 * time.Second)
	h.send("c3", EventRejoin, map[string]string{
		"code":     room.Code,
		"playerId": bob.Player.ID,
		"token":    bob.Token,
	})

	snap := h.snapshot("c3", EventRoomRejoined)
	require.NotNil(t, snap.GameState)
	assert.Equal(t, 1, snap.GameState.CurrentRound)
	assert.InDelta(t, 15.0, snap.GameState.AudioPosition, 0.001)
	assert.NotEmpty(t, snap.Token)

	back, ok := h.pub.last("c1", EventPlayerReconnected)
	require.True(t, ok)
	presence := back.Payload.(PlayerPresence)
	assert.Equal(t, "c3", presence.ConnectionID)
	assert.Equal(t, "c2", presence.PreviousConnectionID)

	h.send("c3", EventSubmitAnswer, map[string]string{"answer": "andalouse"})
	res, ok := h.pub.last("c3", EventGameAnswerResult)
	require.True(t, ok)
	assert.True(t, res.Payload.(AnswerResult).Correct)
}

func TestHostDisconnectHandsOverRole(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()

	h.o.Disconnect("c1")
	assert.Equal(t, "c2", room.HostID)
	_, ok := h.pub.last("c2", EventHostChanged)
	assert.True(t, ok)
}

func TestRejoinFailures(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()
	alice := h.snapshot("c1", EventRoomCreated)
	bob := h.snapshot("c2", EventRoomJoined)

	h.send("c3", EventRejoin, map[string]string{"code": room.Code, "playerId": bob.Player.ID, "token": "garbage"})
	e := h.lastError("c3")
	assert.Equal(t, "INVALID_SESSION", e.Code)
	assert.True(t, e.Fatal)

	h.send("c4", EventRejoin, map[string]string{"code": room.Code, "playerId": bob.Player.ID, "token": alice.Token})
	assert.Equal(t, "INVALID_SESSION", h.lastError("c4").Code)

	h.send("c5", EventRejoin, map[string]string{"code": room.Code, "playerId": bob.Player.ID, "token": bob.Token})
	e = h.lastError("c5")
	assert.Equal(t, "PLAYER_NOT_DISCONNECTED", e.Code)
	assert.False(t, e.Fatal)

	h.o.Disconnect("c2")
	h.sched.Advance(GracePeriod + time.Second)
	h.send("c6", EventRejoin, map[string]string{"code": room.Code, "playerId": bob.Player.ID, "token": bob.Token})
	e = h.lastError("c6")
	assert.Equal(t, "SESSION_EXPIRED", e.Code)
	assert.True(t, e.Fatal)
	assert.Equal(t, 1, room.PlayerCount())
	_, ok := h.pub.last("c1", EventPlayerLeft)
	assert.True(t, ok)
}

func TestSweeperRemovesExpiredPlayers(t *testing.T) {
	h := newHarness(t)
	room := h.lobby()
	task := h.o.StartSweeper()
	defer task.Cancel()

	h.o.Disconnect("c2")
	h.sched.Advance(GracePeriod)
	assert.Equal(t, 2, room.PlayerCount())

	h.sched.Advance(SweepInterval)
	assert.Equal(t, 1, room.PlayerCount())
	left, ok := h.pub.last("c1", EventPlayerLeft)
	require.True(t, ok)
	assert.Equal(t, "Bob", left.Payload.(PlayerPresence).PlayerName)
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	h.lobby()

	h.send("c1", EventSendChat, map[string]string{"content": "  " + strings.Repeat("é", 250) + "  "})
	msg, ok := h.pub.last("c2", EventChatMessage)
	require.True(t, ok)
	chat := msg.Payload.(ChatMessage)
	assert.Equal(t, strings.Repeat("é", MaxChatLength), chat.Content)
	assert.Equal(t, "Alice", chat.PlayerName)
	assert.NotEmpty(t, chat.ID)

	h.pub.reset()
	h.send("c1", EventSendChat, map[string]string{"content": "   "})
	assert.Empty(t, h.pub.sent)

	for i := 0; i < 4; i++ {
		h.send("c1", EventSendChat, map[string]string{"content": "hi"})
	}
	assert.Len(t, h.pub.ofType("c2", EventChatMessage), 4)
	h.send("c1", EventSendChat, map[string]string{"content": "hi"})
	assert.Equal(t, "RATE_LIMITED", h.lastError("c1").Code)

	h.sched.Advance(chatInterval)
	h.send("c1", EventSendChat, map[string]string{"content": "hi again"})
	assert.Len(t, h.pub.ofType("c2", EventChatMessage), 5)
}

func TestJoinAnnouncements(t *testing.T) {
	h := newHarness(t)
	h.lobby()

	joined, ok := h.pub.last("c1", EventPlayerJoined)
	require.True(t, ok)
	assert.Equal(t, "Bob", joined.Payload.(models.PublicPlayer).Name)
	assert.Empty(t, h.pub.ofType("c2", EventPlayerJoined), "the joiner gets room-joined instead")

	var kinds []string
	for _, m := range h.pub.ofType("c1", EventChatSystem) {
		kinds = append(kinds, m.Payload.(SystemMessage).Type)
	}
	assert.Equal(t, []string{"join", "ready", "ready"}, kinds)
}

func TestMiscMessages(t *testing.T) {
	h := newHarness(t)
	h.lobby()

	h.send("c1", EventPing, nil)
	pong, ok := h.pub.last("c1", EventPong)
	require.True(t, ok)
	assert.Equal(t, "pong", pong.Payload)

	h.o.Dispatch("c1", Inbound{Type: EventJoinRoom, Payload: json.RawMessage(`{"code":5}`)})
	assert.Equal(t, "INVALID_PAYLOAD", h.lastError("c1").Code)

	h.pub.reset()
	h.send("c1", "dance", nil)
	h.send("c1", EventSubmitAnswer, map[string]string{"answer": "andalouse"})
	assert.Empty(t, h.pub.sent, "unknown types and answers outside a game are ignored")

	h.send("c1", EventJoinRoom, map[string]string{"code": "ROOM01", "playerName": "Alice"})
	assert.Equal(t, "ALREADY_IN_ROOM", h.lastError("c1").Code)
}

func TestRoomQueries(t *testing.T) {
	h := newHarness(t)
	h.send("c1", EventCreateRoom, map[string]interface{}{
		"playerName": "Alice",
		"options":    map[string]interface{}{"isPublic": true},
	})
	ctx := context.Background()

	rooms, err := h.o.PublicRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ROOM01", rooms[0].Code)

	info, err := h.o.RoomInfo(ctx, "room01")
	require.NoError(t, err)
	assert.Equal(t, 1, info.PlayerCount)

	_, err = h.o.RoomInfo(ctx, "NOPE99")
	assert.ErrorIs(t, err, ErrRoomNotFound)

	_, err = h.o.RoomInfo(ctx, "bad")
	assert.ErrorIs(t, err, ErrInvalidRoomCode)
}

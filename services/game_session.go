package services

import (
	"sort"
	"time"

	"github.com/31iotA1d3rs0n/blind-test-musical/models"
)

type sessionPlayer struct {
	id           string
	connectionID string
	name         string
	avatar       string
	score        int
	streak       int
	foundTitle   bool
	foundArtist  bool
}

type RoundAnswer struct {
	PlayerID  string    `json:"playerId"`
	Type      MatchType `json:"type"`
	Points    int       `json:"points"`
	Timestamp int64     `json:"timestamp"`
}

type RoundRecord struct {
	Track   models.Track  `json:"track"`
	Answers []RoundAnswer `json:"answers"`
}

// RoundInfo is what clients get when a round starts. RoundStartedAt is in
// unix milliseconds.
type RoundInfo struct {
	PreviewURL     string `json:"previewUrl"`
	RoundNumber    int    `json:"roundNumber"`
	TotalRounds    int    `json:"totalRounds"`
	Duration       int    `json:"duration"`
	RoundStartedAt int64  `json:"roundStartedAt"`
}

type AnswerResult struct {
	Correct      bool         `json:"correct"`
	AlreadyFound bool         `json:"alreadyFound,omitempty"`
	Points       int          `json:"points,omitempty"`
	Type         MatchType    `json:"type,omitempty"`
	Breakdown    []PointsItem `json:"breakdown,omitempty"`
}

type ScoreEntry struct {
	ID           string `json:"id"`
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	Avatar       string `json:"avatar"`
	Score        int    `json:"score"`
	Streak       int    `json:"streak"`
}

type RevealedAnswer struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	AlbumCover *string `json:"albumCover"`
}

type RoundResult struct {
	Answer     RevealedAnswer `json:"answer"`
	Scoreboard []ScoreEntry   `json:"scoreboard"`
}

type FoundFlags struct {
	Title  bool `json:"title"`
	Artist bool `json:"artist"`
}

type ReconnectState struct {
	CurrentRound   int          `json:"currentRound"`
	TotalRounds    int          `json:"totalRounds"`
	PreviewURL     *string      `json:"previewUrl"`
	AudioPosition  float64      `json:"audioPosition"`
	RoundStartedAt *int64       `json:"roundStartedAt"`
	Scoreboard     []ScoreEntry `json:"scoreboard"`
	MyAnswers      FoundFlags   `json:"myAnswers"`
}

type BestStreak struct {
	Name   string `json:"name"`
	Streak int    `json:"streak"`
}

type GameStats struct {
	BestStreak  BestStreak `json:"bestStreak"`
	TotalRounds int        `json:"totalRounds"`
}

type FinalResults struct {
	Scoreboard []ScoreEntry  `json:"scoreboard"`
	History    []RoundRecord `json:"history"`
	Duration   int64         `json:"duration"`
	Stats      GameStats     `json:"stats"`
}

// GameSession is the round state machine of one room's game. Like the
// directory, it is only touched from the event loop.
type GameSession struct {
	roomCode       string
	tracks         []models.Track
	timePerRound   int
	round          int
	roundStartedAt *time.Time
	roundOpen      bool
	answers        []RoundAnswer
	history        []RoundRecord
	players        []*sessionPlayer
	startedAt      time.Time
	clock          Clock
}

func NewGameSession(roomCode string, players []*models.Player, tracks []models.Track, timePerRound int, clock Clock) *GameSession {
	s := &GameSession{
		roomCode:     roomCode,
		tracks:       tracks,
		timePerRound: timePerRound,
		startedAt:    clock.Now(),
		clock:        clock,
	}
	for _, p := range players {
		s.players = append(s.players, &sessionPlayer{
			id:           p.ID,
			connectionID: p.ConnectionID,
			name:         p.Name,
			avatar:       p.Avatar,
		})
	}
	return s
}

func (s *GameSession) TotalRounds() int { return len(s.tracks) }
func (s *GameSession) IsFinished() bool { return s.round >= len(s.tracks) }

func (s *GameSession) currentTrack() (models.Track, bool) {
	if s.IsFinished() {
		return models.Track{}, false
	}
	return s.tracks[s.round], true
}

func (s *GameSession) player(connectionID string) *sessionPlayer {
	for _, p := range s.players {
		if p.connectionID == connectionID {
			return p
		}
	}
	return nil
}

// StartRound stamps the round start the first time it is called for the
// current round and returns the same payload on later calls.
func (s *GameSession) StartRound() (RoundInfo, error) {
	track, ok := s.currentTrack()
	if !ok {
		return RoundInfo{}, ErrNoCurrentTrack
	}
	if s.roundStartedAt == nil {
		now := s.clock.Now()
		s.roundStartedAt = &now
		s.roundOpen = true
	}
	return RoundInfo{
		PreviewURL:     track.PreviewURL,
		RoundNumber:    s.round + 1,
		TotalRounds:    len(s.tracks),
		Duration:       s.timePerRound,
		RoundStartedAt: s.roundStartedAt.UnixMilli(),
	}, nil
}

// CloseRound stops accepting answers until the next round starts.
func (s *GameSession) CloseRound() {
	s.roundOpen = false
}

func (s *GameSession) SubmitAnswer(connectionID, raw string) (AnswerResult, error) {
	p := s.player(connectionID)
	if p == nil {
		return AnswerResult{}, ErrPlayerNotFound
	}
	track, ok := s.currentTrack()
	if !ok {
		return AnswerResult{}, ErrNoCurrentTrack
	}
	if !s.roundOpen {
		return AnswerResult{}, ErrRoundClosed
	}
	if p.foundTitle && p.foundArtist {
		return AnswerResult{Correct: false, AlreadyFound: true}, nil
	}

	typ := Match(raw, track, p.foundTitle, p.foundArtist)
	if typ == MatchNone {
		return AnswerResult{Correct: false}, nil
	}

	score := CalculatePoints(ScoreInput{
		AnswerType: typ,
		Position:   s.answerPosition(typ),
		Streak:     p.streak,
	})

	p.score += score.Total
	if typ == MatchTitle || typ == MatchBoth {
		p.foundTitle = true
	}
	if typ == MatchArtist || typ == MatchBoth {
		p.foundArtist = true
	}
	s.answers = append(s.answers, RoundAnswer{
		PlayerID:  p.id,
		Type:      typ,
		Points:    score.Total,
		Timestamp: s.clock.Now().UnixMilli(),
	})

	return AnswerResult{
		Correct:   true,
		Points:    score.Total,
		Type:      typ,
		Breakdown: score.Breakdown,
	}, nil
}

// answerPosition counts earlier correct answers of the same kind this
// round. A "both" answer also counts as a title and as an artist answer,
// but only other "both" answers count against a "both".
func (s *GameSession) answerPosition(typ MatchType) int {
	n := 0
	for _, a := range s.answers {
		if a.Type == typ || (typ != MatchBoth && a.Type == MatchBoth) {
			n++
		}
	}
	return n
}

func (s *GameSession) RoundResult() (RoundResult, error) {
	track, ok := s.currentTrack()
	if !ok {
		return RoundResult{}, ErrNoCurrentTrack
	}
	return RoundResult{
		Answer: RevealedAnswer{
			Title:      track.Title,
			Artist:     track.Artist,
			AlbumCover: track.AlbumCover,
		},
		Scoreboard: s.Scoreboard(),
	}, nil
}

// NextRound archives the current round, updates streaks and moves on.
// It returns false once every track has been played.
func (s *GameSession) NextRound() (RoundInfo, bool) {
	track, ok := s.currentTrack()
	if !ok {
		return RoundInfo{}, false
	}

	scored := make(map[string]bool, len(s.answers))
	for _, a := range s.answers {
		scored[a.PlayerID] = true
	}
	for _, p := range s.players {
		if scored[p.id] {
			p.streak++
		} else {
			p.streak = 0
		}
		p.foundTitle = false
		p.foundArtist = false
	}

	answers := s.answers
	if answers == nil {
		answers = []RoundAnswer{}
	}
	s.history = append(s.history, RoundRecord{Track: track, Answers: answers})
	s.answers = nil
	s.round++
	s.roundStartedAt = nil
	s.roundOpen = false

	info, err := s.StartRound()
	if err != nil {
		return RoundInfo{}, false
	}
	return info, true
}

// UpdateConnection points a player at their new connection after a rejoin.
func (s *GameSession) UpdateConnection(playerID, connectionID string) bool {
	for _, p := range s.players {
		if p.id == playerID {
			p.connectionID = connectionID
			return true
		}
	}
	return false
}

func (s *GameSession) StateForReconnection(connectionID string) ReconnectState {
	state := ReconnectState{
		CurrentRound: s.round + 1,
		TotalRounds:  len(s.tracks),
		Scoreboard:   s.Scoreboard(),
	}
	if track, ok := s.currentTrack(); ok {
		state.PreviewURL = &track.PreviewURL
	}
	if s.roundStartedAt != nil {
		elapsed := s.clock.Now().Sub(*s.roundStartedAt).Seconds()
		state.AudioPosition = min(max(elapsed, 0), float64(s.timePerRound))
		started := s.roundStartedAt.UnixMilli()
		state.RoundStartedAt = &started
	}
	if p := s.player(connectionID); p != nil {
		state.MyAnswers = FoundFlags{Title: p.foundTitle, Artist: p.foundArtist}
	}
	return state
}

// Standing returns a player's cumulative score and streak.
func (s *GameSession) Standing(playerID string) (score, streak int, ok bool) {
	for _, p := range s.players {
		if p.id == playerID {
			return p.score, p.streak, true
		}
	}
	return 0, 0, false
}

// Found returns a player's found flags for the current round.
func (s *GameSession) Found(playerID string) FoundFlags {
	for _, p := range s.players {
		if p.id == playerID {
			return FoundFlags{Title: p.foundTitle, Artist: p.foundArtist}
		}
	}
	return FoundFlags{}
}

// Scoreboard sorts by score, highest first. Ties keep join order.
func (s *GameSession) Scoreboard() []ScoreEntry {
	board := make([]ScoreEntry, 0, len(s.players))
	for _, p := range s.players {
		board = append(board, ScoreEntry{
			ID:           p.id,
			ConnectionID: p.connectionID,
			Name:         p.name,
			Avatar:       p.avatar,
			Score:        p.score,
			Streak:       p.streak,
		})
	}
	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Score > board[j].Score
	})
	return board
}

func (s *GameSession) FinalResults() FinalResults {
	var best BestStreak
	for _, p := range s.players {
		if p.streak > best.Streak {
			best = BestStreak{Name: p.name, Streak: p.streak}
		}
	}

	history := s.history
	if history == nil {
		history = []RoundRecord{}
	}

	return FinalResults{
		Scoreboard: s.Scoreboard(),
		History:    history,
		Duration:   s.clock.Now().Sub(s.startedAt).Milliseconds(),
		Stats: GameStats{
			BestStreak:  best,
			TotalRounds: len(s.tracks),
		},
	}
}

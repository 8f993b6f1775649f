package services

import (
	"errors"

	"github.com/31iotA1d3rs0n/blind-test-musical/catalog"
)

var (
	ErrInvalidName           = errors.New("invalid player name")
	ErrInvalidRoomCode       = errors.New("invalid room code")
	ErrRoomNotFound          = errors.New("room not found")
	ErrRoomFull              = errors.New("room is full")
	ErrGameInProgress        = errors.New("game in progress")
	ErrPlayerNotFound        = errors.New("player not found")
	ErrPlayerNotDisconnected = errors.New("player is not disconnected")
	ErrSessionExpired        = errors.New("session expired")
	ErrInvalidSession        = errors.New("invalid session token")
	ErrGameNotFound          = errors.New("game not found")
	ErrNoCurrentTrack        = errors.New("no current track")
	ErrRoundClosed           = errors.New("round is closed")
	ErrNotHost               = errors.New("only the host can do that")
	ErrCannotStart           = errors.New("cannot start game")
	ErrStartInProgress       = errors.New("game start already in progress")
	ErrNotFinished           = errors.New("game is not finished")
	ErrNotInRoom             = errors.New("not in a room")
	ErrAlreadyInRoom         = errors.New("already in a room")
	ErrRateLimited           = errors.New("too many requests")
	ErrInvalidPayload        = errors.New("invalid payload")
)

type errorInfo struct {
	code    string
	message string
}

var errorTable = []struct {
	err  error
	info errorInfo
}{
	{ErrInvalidName, errorInfo{"INVALID_NAME", "Invalid name (2 to 20 characters)"}},
	{ErrInvalidRoomCode, errorInfo{"INVALID_ROOM_CODE", "Invalid room code"}},
	{ErrRoomNotFound, errorInfo{"ROOM_NOT_FOUND", "Room not found"}},
	{ErrRoomFull, errorInfo{"ROOM_FULL", "Room is full"}},
	{ErrGameInProgress, errorInfo{"GAME_IN_PROGRESS", "A game is already in progress"}},
	{ErrPlayerNotFound, errorInfo{"PLAYER_NOT_FOUND", "Player not found in this room"}},
	{ErrPlayerNotDisconnected, errorInfo{"PLAYER_NOT_DISCONNECTED", "This player is still connected"}},
	{ErrSessionExpired, errorInfo{"SESSION_EXPIRED", "Your session has expired"}},
	{ErrInvalidSession, errorInfo{"INVALID_SESSION", "Invalid session"}},
	{ErrGameNotFound, errorInfo{"GAME_NOT_FOUND", "Game not found"}},
	{ErrNoCurrentTrack, errorInfo{"NO_CURRENT_TRACK", "No track is playing"}},
	{ErrNotHost, errorInfo{"NOT_HOST", "Only the host can do that"}},
	{ErrCannotStart, errorInfo{"CANNOT_START", "All players must be ready (min 2)"}},
	{ErrStartInProgress, errorInfo{"START_IN_PROGRESS", "The game is already starting"}},
	{ErrNotFinished, errorInfo{"GAME_NOT_FINISHED", "The game is not finished"}},
	{ErrNotInRoom, errorInfo{"NOT_IN_ROOM", "You are not in a room"}},
	{ErrAlreadyInRoom, errorInfo{"ALREADY_IN_ROOM", "You are already in a room"}},
	{ErrRateLimited, errorInfo{"RATE_LIMITED", "Slow down"}},
	{ErrInvalidPayload, errorInfo{"INVALID_PAYLOAD", "Malformed request"}},
	{catalog.ErrNoTracksFound, errorInfo{"NO_TRACKS_FOUND", "Could not load tracks"}},
}

// describeError maps err to its wire code and user message.
func describeError(err error) errorInfo {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.info
		}
	}
	return errorInfo{"INTERNAL_ERROR", "Something went wrong"}
}

// isLookupError reports errors that make a stored client session useless.
func isLookupError(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, ErrSessionExpired) ||
		errors.Is(err, ErrInvalidSession)
}

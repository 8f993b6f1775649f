package services

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const SessionTokenTTL = 24 * time.Hour

// SessionClaims bind a player to the room they sat in.
type SessionClaims struct {
	RoomCode string `json:"roomCode"`
	PlayerID string `json:"playerId"`
	jwt.RegisteredClaims
}

// SessionTokens issues the tokens a client presents when it rejoins.
type SessionTokens struct {
	secret []byte
	clock  Clock
}

func NewSessionTokens(secret []byte, clock Clock) *SessionTokens {
	return &SessionTokens{
		secret: secret,
		clock:  clock,
	}
}

func (s *SessionTokens) Issue(roomCode, playerID string) (string, error) {
	now := s.clock.Now()
	claims := SessionClaims{
		RoomCode: roomCode,
		PlayerID: playerID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (s *SessionTokens) Verify(tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.clock.Now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidSession
	}
	if claims.RoomCode == "" || claims.PlayerID == "" {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidSession)
	}
	return claims, nil
}

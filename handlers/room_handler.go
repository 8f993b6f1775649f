package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/31iotA1d3rs0n/blind-test-musical/catalog"
	"github.com/31iotA1d3rs0n/blind-test-musical/models"
	"github.com/31iotA1d3rs0n/blind-test-musical/services"
)

const (
	qrSize       = 320
	queryTimeout = 2 * time.Second
)

// RoomQueries are the read-only room lookups the HTTP API serves.
type RoomQueries interface {
	PublicRooms(ctx context.Context) ([]models.PublicRoom, error)
	RoomInfo(ctx context.Context, code string) (models.PublicRoom, error)
}

type RoomHandler struct {
	rooms     RoomQueries
	publicURL string
	log       zerolog.Logger
}

func NewRoomHandler(rooms RoomQueries, publicURL string, log zerolog.Logger) *RoomHandler {
	return &RoomHandler{
		rooms:     rooms,
		publicURL: strings.TrimRight(publicURL, "/"),
		log:       log.With().Str("component", "http").Logger(),
	}
}

func (h *RoomHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"musicApi":  "deezer",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *RoomHandler) ListRooms(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rooms, err := h.rooms.PublicRooms(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list rooms")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
		return
	}
	if rooms == nil {
		rooms = []models.PublicRoom{}
	}
	c.JSON(http.StatusOK, rooms)
}

// lookup writes the error response itself and reports whether room is set.
func (h *RoomHandler) lookup(c *gin.Context) (models.PublicRoom, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	room, err := h.rooms.RoomInfo(ctx, c.Param("code"))
	switch {
	case err == nil:
		return room, true
	case errors.Is(err, services.ErrRoomNotFound), errors.Is(err, services.ErrInvalidRoomCode):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	default:
		h.log.Error().Err(err).Str("room", c.Param("code")).Msg("Failed to look up room")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
	}
	return models.PublicRoom{}, false
}

func (h *RoomHandler) GetRoom(c *gin.Context) {
	room, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *RoomHandler) RoomExists(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	room, err := h.rooms.RoomInfo(ctx, c.Param("code"))
	if errors.Is(err, services.ErrRoomNotFound) || errors.Is(err, services.ErrInvalidRoomCode) {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("room", c.Param("code")).Msg("Failed to look up room")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":      true,
		"isFull":      room.PlayerCount >= room.MaxPlayers,
		"isStarted":   room.Status != models.StatusWaiting,
		"playerCount": room.PlayerCount,
		"maxPlayers":  room.MaxPlayers,
	})
}

// inviteURL points at the client with the room code prefilled. Without a
// configured public URL it is derived from the request.
func (h *RoomHandler) inviteURL(c *gin.Context, code string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + c.Request.Host
	}
	return base + "/?room=" + url.QueryEscape(code)
}

func (h *RoomHandler) QR(c *gin.Context) {
	room, ok := h.lookup(c)
	if !ok {
		return
	}

	png, err := qrcode.Encode(h.inviteURL(c, room.Code), qrcode.Medium, qrSize)
	if err != nil {
		h.log.Error().Err(err).Str("room", room.Code).Msg("QR generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "QR generation failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *RoomHandler) Genres(c *gin.Context) {
	c.JSON(http.StatusOK, catalog.Genres())
}

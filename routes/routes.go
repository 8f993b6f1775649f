package routes

import (
	"net/http"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/31iotA1d3rs0n/blind-test-musical/handlers"
	"github.com/31iotA1d3rs0n/blind-test-musical/logging"
	"github.com/31iotA1d3rs0n/blind-test-musical/services"
)

// NewRouter builds the gin engine with CORS, request logging and every
// route mounted.
func NewRouter(roomHandler *handlers.RoomHandler, hub *services.Hub, origins []string, log zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logging.Middleware(log))

	corsConfig := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type", "Origin"},
	}
	if slices.Contains(origins, "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))

	SetupRoutes(router, roomHandler, hub, origins, log)
	return router
}

func SetupRoutes(router *gin.Engine, roomHandler *handlers.RoomHandler, hub *services.Hub, origins []string, log zerolog.Logger) {
	router.GET("/health", roomHandler.Health)

	api := router.Group("/api")
	{
		api.GET("/health", roomHandler.Health)
		api.GET("/genres", roomHandler.Genres)

		rooms := api.Group("/rooms")
		{
			rooms.GET("", roomHandler.ListRooms)
			rooms.GET("/:code", roomHandler.GetRoom)
			rooms.GET("/:code/exists", roomHandler.RoomExists)
			rooms.GET("/:code/qr", roomHandler.QR)
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin(origins),
	}

	// Room membership is established over the socket, so the upgrade
	// itself carries no parameters.
	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Str("client", c.ClientIP()).Msg("WebSocket upgrade failed")
			return
		}
		client := hub.Serve(conn)
		log.Debug().Str("conn", client.ID()).Str("client", c.ClientIP()).Msg("WebSocket connection established")
	})
}

func checkOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
	}
}

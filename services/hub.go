package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Dispatcher receives what clients say and when they go away.
type Dispatcher interface {
	Dispatch(connectionID string, msg Inbound)
	Disconnect(connectionID string)
}

// Hub owns the websocket connections. It knows nothing about rooms:
// frames go to the dispatcher and messages come back through Send.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	dispatcher Dispatcher
	log        zerolog.Logger
}

type Client struct {
	hub    *Hub
	id     string
	socket *websocket.Conn
	send   chan []byte
}

func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "hub").Logger(),
	}
}

// Attach sets the dispatcher. It must be called before Run.
func (h *Hub) Attach(d Dispatcher) {
	h.dispatcher = d
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, client := range h.clients {
				delete(h.clients, id)
				close(client.send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mutex.Unlock()
			h.log.Debug().Str("conn", client.id).Int("clients", total).Msg("Client registered")

		case client := <-h.unregister:
			h.mutex.Lock()
			current, ok := h.clients[client.id]
			if ok && current == client {
				delete(h.clients, client.id)
				close(client.send)
			}
			total := len(h.clients)
			h.mutex.Unlock()
			if ok && current == client {
				h.log.Debug().Str("conn", client.id).Int("clients", total).Msg("Client unregistered")
				if h.dispatcher != nil {
					h.dispatcher.Disconnect(client.id)
				}
			}
		}
	}
}

// Send queues msg for one connection. A client whose buffer is full is
// dropped.
func (h *Hub) Send(connectionID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("Error marshaling message")
		return
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()
	client, ok := h.clients[connectionID]
	if !ok {
		return
	}
	select {
	case client.send <- data:
	default:
		h.log.Warn().Str("conn", connectionID).Msg("Send buffer full, closing connection")
		go h.Unregister(client)
	}
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Serve registers an upgraded connection and starts its pumps.
func (h *Hub) Serve(conn *websocket.Conn) *Client {
	client := &Client{
		hub:    h,
		id:     ulid.Make().String(),
		socket: conn,
		send:   make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return client
	}

	go client.writePump()
	go client.readPump()

	return client
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.socket.Close()
	}()

	c.socket.SetReadLimit(maxMessageSize)
	c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("conn", c.id).Msg("WebSocket read error")
			}
			break
		}

		var msg Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			c.hub.log.Debug().Err(err).Str("conn", c.id).Msg("Dropping malformed frame")
			continue
		}
		if c.hub.dispatcher != nil {
			c.hub.dispatcher.Dispatch(c.id, msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.socket.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.socket.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

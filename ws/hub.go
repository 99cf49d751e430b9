package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/iamramtin/zero-sum/config"
	"github.com/iamramtin/zero-sum/game"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Snapshots serves the state a client receives right after subscribing
type Snapshots interface {
	GetGame(ctx context.Context, key game.Key) (*game.GameState, error)
	OpenGames(ctx context.Context, limit int) ([]*game.GameState, error)
}

// ClientMessage is a subscribe or unsubscribe request:
// {"type":"subscribe","data":{"channel":"games"}}
type ClientMessage struct {
	Type string            `json:"type"`
	Data ClientMessageData `json:"data"`
}

type ClientMessageData struct {
	Channel string `json:"channel"`
}

// ServerMessage is any frame the hub writes besides relayed events
type ServerMessage struct {
	Type    string      `json:"type"`
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Client represents a connected client with their subscriptions
type Client struct {
	ID   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]bool // games, game:<initiator>:<gameId>
}

func (c *Client) subscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[channel]
}

type broadcast struct {
	channel string
	data    []byte
}

// Hub fans committed game events out to subscribed websocket clients
type Hub struct {
	snapshots Snapshots

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	done       chan struct{}

	count    atomic.Int64
	idSerial atomic.Int64
}

func NewHub(snapshots Snapshots) *Hub {
	return &Hub{
		snapshots:  snapshots,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, 100),
		done:       make(chan struct{}),
	}
}

// ChannelFor is the channel carrying the events of one game
func ChannelFor(key game.Key) string {
	return config.GameChannel(strings.ToLower(key.Initiator.Hex()), key.GameID)
}

// parseChannel validates a requested channel and returns its canonical name
func parseChannel(channel string) (string, *game.Key, error) {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == config.GamesChannel {
		return channel, nil, nil
	}
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "game" {
		return "", nil, fmt.Errorf("unknown channel %q", channel)
	}
	initiator, err := game.ParseAddress(parts[1])
	if err != nil {
		return "", nil, err
	}
	id, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return "", nil, fmt.Errorf("invalid game id %q", parts[2])
	}
	key := game.Key{Initiator: initiator, GameID: id}
	return ChannelFor(key), &key, nil
}

// Clients is the number of connected clients
func (h *Hub) Clients() int64 {
	return h.count.Load()
}

// Run is the central message dispatcher
func (h *Hub) Run(ctx context.Context) {
	log.Info().Msg("🚀 Event hub started")

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Store(int64(len(h.clients)))
			log.Debug().Str("client", client.ID).Int("total", len(h.clients)).Msg("✅ Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.count.Store(int64(len(h.clients)))
			log.Debug().Str("client", client.ID).Int("total", len(h.clients)).Msg("👋 Client unregistered")

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-ctx.Done():
			close(h.done)
			// readPump exits on the closed connection, writePump on its next failed ping
			for client := range h.clients {
				delete(h.clients, client)
				client.conn.Close()
			}
			h.count.Store(0)
			log.Info().Msg("🛑 Event hub stopped")
			return
		}
	}
}

// deliver sends a frame to every client subscribed to its channel
func (h *Hub) deliver(msg broadcast) {
	for client := range h.clients {
		if !client.subscribed(msg.channel) {
			continue
		}
		select {
		case client.send <- msg.data:
		default:
			// Client's send buffer is full, skip
			log.Warn().Str("client", client.ID).Str("channel", msg.channel).Msg("⚠️ Client send buffer full, skipping message")
		}
	}
}

// Publish relays a committed event to the games channel and to the channel of its game
func (h *Hub) Publish(ctx context.Context, ev game.Event) error {
	data, err := json.Marshal(game.NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	return h.BroadcastGame(ctx, ev.GameKey(), data)
}

// BroadcastGame relays an already encoded envelope, as received from another instance
func (h *Hub) BroadcastGame(ctx context.Context, key game.Key, envelope []byte) error {
	for _, channel := range []string{config.GamesChannel, ChannelFor(key)} {
		select {
		case h.broadcast <- broadcast{channel: channel, data: envelope}:
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// HandleWS handles GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("❌ WebSocket upgrade failed")
		return
	}

	client := &Client{
		ID:            fmt.Sprintf("%d-%d", time.Now().Unix(), h.idSerial.Add(1)),
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, config.WSSendBuffer),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// writePump sends queued frames and keeps the connection alive with pings
func (c *Client) writePump() {
	ticker := time.NewTicker(config.WSPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("client", c.ID).Msg("Write failed")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads subscription requests until the client goes away
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client", c.ID).Msg("❌ Read error")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.reply(ServerMessage{Type: "error", Error: "invalid message"})
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg ClientMessage) {
	channel, key, err := parseChannel(msg.Data.Channel)
	if err != nil {
		c.reply(ServerMessage{Type: "error", Channel: msg.Data.Channel, Error: err.Error()})
		return
	}

	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.subscriptions[channel] = true
		c.mu.Unlock()
		log.Debug().Str("client", c.ID).Str("channel", channel).Msg("📡 Client subscribed")
		c.reply(ServerMessage{Type: "subscribed", Channel: channel})
		c.sendSnapshot(channel, key)

	case "unsubscribe":
		c.mu.Lock()
		delete(c.subscriptions, channel)
		c.mu.Unlock()
		log.Debug().Str("client", c.ID).Str("channel", channel).Msg("📴 Client unsubscribed")
		c.reply(ServerMessage{Type: "unsubscribed", Channel: channel})

	default:
		c.reply(ServerMessage{Type: "error", Error: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// sendSnapshot sends the current state of a channel right after subscribing
func (c *Client) sendSnapshot(channel string, key *game.Key) {
	if c.hub.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.WSWriteDeadline)
	defer cancel()

	if key == nil {
		games, err := c.hub.snapshots.OpenGames(ctx, config.DefaultListLimit)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to load open games")
			return
		}
		c.reply(ServerMessage{Type: "open_games", Channel: channel, Data: games})
		return
	}

	g, err := c.hub.snapshots.GetGame(ctx, *key)
	if err != nil {
		c.reply(ServerMessage{Type: "error", Channel: channel, Error: err.Error()})
		return
	}
	c.reply(ServerMessage{Type: "game_state", Channel: channel, Data: g})
}

// reply queues a frame for this client only
func (c *Client) reply(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("type", msg.Type).Msg("❌ Failed to marshal message")
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("client", c.ID).Msg("⚠️ Client send buffer full, dropping reply")
	}
}

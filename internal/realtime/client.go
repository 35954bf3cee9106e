package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codearena/backend/internal/arena"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 65536
	sendBuffer     = 256
	requestTimeout = 10 * time.Second
	startTimeout   = 30 * time.Second
)

// Inbound event names.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventStartGame    = "start-game"
	EventSubmitResult = "submit-result"
	EventEndGame      = "end-game"
	EventDeleteRoom   = "delete-room"

	// MsgError tells a single connection its request failed or was refused.
	MsgError = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // origin is enforced by the CORS layer for REST; tokens gate the socket
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is sent with MsgError.
type ErrorPayload struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type roomRequest struct {
	RoomID          string `json:"roomId"`
	GameID          string `json:"gameId"`
	UserID          string `json:"userId"`
	DurationSeconds int    `json:"durationSeconds"`
	Difficulty      string `json:"difficulty"`
	IsCorrect       bool   `json:"isCorrect"`
	Score           int    `json:"score"`
}

// Coordinator is the room-event entry point the socket forwards to.
type Coordinator interface {
	Join(ctx context.Context, roomID, userID, connID string) (arena.Reply, error)
	Leave(ctx context.Context, roomID, userID, connID string) (arena.Reply, error)
	Disconnect(ctx context.Context, roomID, userID, connID string)
	StartGame(ctx context.Context, req arena.StartRequest) (arena.Reply, error)
	SubmitResult(ctx context.Context, req arena.SubmitRequest) (arena.Reply, error)
	EndGame(ctx context.Context, roomID, gameID, userID string) (arena.Reply, error)
	DeleteRoom(ctx context.Context, roomID, userID string) (arena.Reply, error)
}

// TokenValidator resolves a bearer token to the user it was issued for.
type TokenValidator func(token string) (userID, role string, err error)

// Client is one WebSocket connection.
type Client struct {
	ID        string
	UserID    string
	Role      string
	hub       *Hub
	rooms     Coordinator
	conn      *websocket.Conn
	send      chan WSMessage
	done      chan struct{}
	logger    *zap.Logger
	connected time.Time
}

func newClient(userID, role string, hub *Hub, rooms Coordinator, conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		hub:       hub,
		rooms:     rooms,
		conn:      conn,
		send:      make(chan WSMessage, sendBuffer),
		done:      make(chan struct{}),
		logger:    logger,
		connected: time.Now(),
	}
}

// deliver queues msg without blocking; false means the message was dropped.
// send is never closed, so late publishes after disconnect are harmless.
func (c *Client) deliver(msg WSMessage) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// ServeWs upgrades GET /ws?token=... and runs the connection until it closes.
func ServeWs(hub *Hub, rooms Coordinator, validate TokenValidator, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		}
		userID, role, err := validate(token)
		if err != nil || userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := newClient(userID, role, hub, rooms, conn, logger)
		hub.registry.Register(client)
		logger.Debug("client connected", zap.String("client_id", client.ID), zap.String("user_id", userID))

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		close(c.done)
		_ = c.conn.Close()
		if roomID, userID, ok := c.hub.registry.OnDisconnect(c.ID); ok && roomID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			c.rooms.Disconnect(ctx, roomID, userID, c.ID)
			cancel()
		}
		c.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.Duration("connected_for", time.Since(c.connected)))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read failed", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var req roomRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				c.fail(msg.Event, "bad_request", "malformed payload")
				continue
			}
		}
		if req.UserID != "" && req.UserID != c.UserID {
			c.logger.Debug("ignoring mismatched userId", zap.String("client_id", c.ID), zap.String("claimed", req.UserID))
		}
		c.handle(msg.Event, req)
	}
}

func (c *Client) handle(event string, req roomRequest) {
	if req.RoomID == "" {
		switch event {
		case EventJoinRoom, EventLeaveRoom, EventStartGame, EventSubmitResult, EventEndGame, EventDeleteRoom:
			c.fail(event, "bad_request", "roomId required")
		}
		return
	}

	switch event {
	case EventJoinRoom:
		c.join(req.RoomID)
	case EventLeaveRoom:
		c.call(event, func(ctx context.Context) (arena.Reply, error) {
			return c.rooms.Leave(ctx, req.RoomID, c.UserID, c.ID)
		})
	case EventStartGame:
		// Challenge generation may take seconds; keep reading meanwhile.
		go c.callWithTimeout(event, startTimeout, func(ctx context.Context) (arena.Reply, error) {
			return c.rooms.StartGame(ctx, arena.StartRequest{
				RoomID:          req.RoomID,
				UserID:          c.UserID,
				DurationSeconds: req.DurationSeconds,
				Difficulty:      req.Difficulty,
			})
		})
	case EventSubmitResult:
		c.call(event, func(ctx context.Context) (arena.Reply, error) {
			return c.rooms.SubmitResult(ctx, arena.SubmitRequest{
				RoomID:      req.RoomID,
				GameID:      req.GameID,
				UserID:      c.UserID,
				IsCorrect:   req.IsCorrect,
				Score:       req.Score,
				SubmittedAt: time.Now().UTC(),
			})
		})
	case EventEndGame:
		c.call(event, func(ctx context.Context) (arena.Reply, error) {
			return c.rooms.EndGame(ctx, req.RoomID, req.GameID, c.UserID)
		})
	case EventDeleteRoom:
		c.call(event, func(ctx context.Context) (arena.Reply, error) {
			return c.rooms.DeleteRoom(ctx, req.RoomID, c.UserID)
		})
	}
}

func (c *Client) join(roomID string) {
	// A connection follows one room; tell the previous room it lost this connection.
	if prev := c.hub.registry.RoomOf(c.ID); prev != "" && prev != roomID {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		c.rooms.Disconnect(ctx, prev, c.UserID, c.ID)
		cancel()
		c.hub.registry.Unsubscribe(c.ID, prev)
	}
	c.call(EventJoinRoom, func(ctx context.Context) (arena.Reply, error) {
		return c.rooms.Join(ctx, roomID, c.UserID, c.ID)
	})
}

func (c *Client) call(event string, fn func(ctx context.Context) (arena.Reply, error)) {
	c.callWithTimeout(event, requestTimeout, fn)
}

func (c *Client) callWithTimeout(event string, timeout time.Duration, fn func(ctx context.Context) (arena.Reply, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	rep, err := fn(ctx)
	switch {
	case errors.Is(err, arena.ErrRoomNotFound):
		c.fail(event, "room_not_found", "")
	case errors.Is(err, arena.ErrRoomDeleted):
		c.fail(event, "room_deleted", "")
	case err != nil:
		c.logger.Warn("room event failed", zap.String("client_id", c.ID), zap.String("event", event), zap.Error(err))
		c.fail(event, "unavailable", "")
	case rep.Outcome.Rejected() && rep.Outcome != arena.AlreadyJoined:
		// join-room rejections are answered by the room itself (join-rejected).
		if event != EventJoinRoom {
			c.fail(event, string(rep.Outcome), "")
		}
	}
}

func (c *Client) fail(event, code, message string) {
	data, _ := json.Marshal(ErrorPayload{Event: event, Code: code, Message: message})
	c.deliver(WSMessage{Event: MsgError, Data: data})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

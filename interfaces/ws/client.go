package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"flowsync/domain/events"
	"flowsync/domain/flow"
	"flowsync/pkg/auth"
	apperrors "flowsync/pkg/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait).
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	sendBufferSize = 256
)

// Authenticator validates a join_room token and returns the principal it
// identifies plus a display name.
type Authenticator interface {
	Authenticate(token, roomID string) (principal, name string, err error)
}

// Client is one WebSocket connection. A connection is anonymous until its
// first successful join_room, and belongs to at most one room.
type Client struct {
	id          string
	hub         *Hub
	manager     SessionManager
	authn       Authenticator
	joinLimiter *auth.TokenBucketLimiter
	conn        *websocket.Conn
	send        chan []byte
	logger      *zap.Logger

	mu     sync.Mutex
	userID string
	roomID string

	closeOnce sync.Once
	validate  *validator.Validate
}

// SessionManager is the slice of the room session manager the transport
// needs.
type SessionManager interface {
	Join(ctx context.Context, roomID, principal, name string) (*flow.Snapshot, []flow.Participant, error)
	Leave(ctx context.Context, roomID, principal string)
	Publish(ctx context.Context, roomID string, ev events.ChangeEvent) error
	UpdateCursor(ctx context.Context, roomID, principal string, pos flow.Position) error
	Disconnect(ctx context.Context, roomID, principal string)
}

// newClient wires a connection into the hub.
func newClient(hub *Hub, manager SessionManager, authn Authenticator, joinLimiter *auth.TokenBucketLimiter, conn *websocket.Conn, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:          id,
		hub:         hub,
		manager:     manager,
		authn:       authn,
		joinLimiter: joinLimiter,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		logger:      logger.With(zap.String("connectionId", id)),
		validate:    validator.New(),
	}
}

// start begins the read and write pumps.
func (c *Client) start() {
	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// UserID returns the authenticated principal, or "" before a join.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Client) session() (userID, roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.roomID
}

func (c *Client) readPump() {
	defer func() {
		userID, roomID := c.session()
		if roomID != "" {
			// Transport-level disconnects are treated exactly like Leave.
			c.manager.Disconnect(context.Background(), roomID, userID)
		}
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(message []byte) {
	var envelope events.Envelope
	if err := json.Unmarshal(message, &envelope); err != nil {
		c.sendError("malformed message")
		return
	}

	ctx := context.Background()
	switch envelope.Event {
	case events.MsgJoinRoom:
		c.handleJoin(ctx, envelope.Data)
	case events.MsgLeaveRoom:
		c.handleLeave(ctx, envelope.Data)
	case events.MsgFlowChange:
		c.handleFlowChange(ctx, envelope.Data)
	case events.MsgCursorMove:
		c.handleCursorMove(ctx, envelope.Data)
	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", envelope.Event))
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	var payload events.JoinRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("malformed join_room payload")
		return
	}
	if err := c.validate.Struct(payload); err != nil {
		c.sendError("join_room requires roomId and token")
		return
	}
	if c.joinLimiter != nil && !c.joinLimiter.Allow(c.id) {
		c.sendError("too many join attempts")
		return
	}

	principal, name, err := c.authn.Authenticate(payload.Token, payload.RoomID)
	if err != nil {
		c.logger.Warn("join rejected",
			zap.String("roomId", payload.RoomID),
			zap.Error(err),
		)
		c.sendError(errorMessage(err))
		return
	}

	snapshot, roster, err := c.manager.Join(ctx, payload.RoomID, principal, name)
	if err != nil {
		c.sendError(errorMessage(err))
		return
	}

	c.mu.Lock()
	c.userID = principal
	c.roomID = payload.RoomID
	c.mu.Unlock()
	c.hub.joinRoom(payload.RoomID, c)

	c.sendEnvelope(events.MsgRoomJoined, events.RoomJoinedPayload{
		RoomID:       payload.RoomID,
		FlowData:     snapshot.Graph,
		Participants: roster,
	})
}

func (c *Client) handleLeave(ctx context.Context, data json.RawMessage) {
	var payload events.LeaveRoomPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	userID, roomID := c.session()
	if roomID == "" || payload.RoomID != roomID {
		return
	}
	c.manager.Leave(ctx, roomID, userID)
	c.hub.leaveRoom(roomID, c)
	c.mu.Lock()
	c.roomID = ""
	c.mu.Unlock()
}

func (c *Client) handleFlowChange(ctx context.Context, data json.RawMessage) {
	var payload events.FlowChangePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("malformed flow_change payload")
		return
	}
	userID, roomID := c.session()
	if roomID == "" || payload.RoomID != roomID {
		c.sendError("not joined to room")
		return
	}
	// The connection identity is authoritative; a client cannot publish
	// on behalf of another origin.
	payload.Change.Origin = userID
	if err := c.manager.Publish(ctx, roomID, payload.Change); err != nil {
		c.sendError(errorMessage(err))
	}
}

func (c *Client) handleCursorMove(ctx context.Context, data json.RawMessage) {
	var payload events.CursorMovePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	userID, roomID := c.session()
	if roomID == "" {
		return
	}
	if err := c.manager.UpdateCursor(ctx, roomID, userID, flow.Position{X: payload.X, Y: payload.Y}); err != nil {
		c.logger.Debug("cursor update failed", zap.Error(err))
	}
}

func (c *Client) sendEnvelope(event string, payload any) {
	envelope, err := events.NewEnvelope(event, payload)
	if err != nil {
		c.logger.Error("failed to build envelope", zap.Error(err))
		return
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("send buffer full, dropping message", zap.String("event", event))
	}
}

func (c *Client) sendError(message string) {
	c.sendEnvelope(events.MsgError, events.ErrorPayload{Message: message})
}

func (c *Client) closeSendOnce() {
	c.closeOnce.Do(func() { close(c.send) })
}

// errorMessage strips internals from error text shown to clients.
func errorMessage(err error) string {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr.Message
	}
	return "internal error"
}

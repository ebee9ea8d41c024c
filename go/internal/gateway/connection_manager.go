package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/session"
)

// errUpgradeFailed means the upgrader has already written the response.
var errUpgradeFailed = errors.New("failed to upgrade connection")

// ConnectionManager tracks the WebSocket connections of every session. Each
// connection owns one hub subscriber.
type ConnectionManager struct {
	sessions SessionService
	hub      *broadcast.Hub
	clock    clockwork.Clock

	connections map[uuid.UUID]map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
}

// Connection is one viewer or scanner attached to a session.
type Connection struct {
	ID          string
	DeviceID    string
	SessionID   uuid.UUID
	Conn        *websocket.Conn
	Send        chan []byte
	Manager     *ConnectionManager
	ConnectedAt time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// ConnectionStats is served on /ws/stats.
type ConnectionStats struct {
	TotalConnections   int             `json:"total_connections"`
	ActiveSessions     int             `json:"active_sessions"`
	SessionConnections map[string]int  `json:"session_connections"`
	Hub                broadcast.Stats `json:"hub"`
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  64 * 1024, // offline batches can be large
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin:     OriginChecker(nil),
	}
}

// OriginChecker allows the listed origins. An empty list or "*" allows any.
func OriginChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

func NewConnectionManager(sessions SessionService, hub *broadcast.Hub, clock clockwork.Clock, config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		sessions:    sessions,
		hub:         hub,
		clock:       clock,
		connections: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// UpgradeConnection subscribes to the session, upgrades the request and
// starts the connection pumps. The first frame the client sees is the
// sync:full snapshot the subscription was taken at.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, deviceID string, sessionID uuid.UUID) error {
	snap, sub, err := cm.sessions.Subscribe(sessionID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		return fmt.Errorf("%w: %v", errUpgradeFailed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          uuid.New().String(),
		DeviceID:    deviceID,
		SessionID:   sessionID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()
	go connection.forward(snap, sub)

	log.Info().
		Str("connection_id", connection.ID).
		Str("device_id", deviceID).
		Str("session_id", sessionID.String()).
		Uint64("seq", snap.Seq).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connections[conn.SessionID] == nil {
		cm.connections[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.connections[conn.SessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", len(cm.connections[conn.SessionID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.connections[conn.SessionID]
	if !exists || !connections[conn] {
		return
	}
	delete(connections, conn)
	if len(connections) == 0 {
		delete(cm.connections, conn.SessionID)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("device_id", conn.DeviceID).
		Str("session_id", conn.SessionID.String()).
		Msg("connection unregistered")
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	stats := ConnectionStats{
		ActiveSessions:     len(cm.connections),
		SessionConnections: make(map[string]int, len(cm.connections)),
	}
	for id, connections := range cm.connections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[id.String()] = len(connections)
	}
	cm.mu.RUnlock()

	stats.Hub = cm.hub.Stats()
	return stats
}

// CloseAll disconnects every client.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.connections {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		conn.close()
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	})
}

// enqueue hands a frame to the write pump. It blocks while the send buffer
// is full, which in turn lets the hub subscriber fall behind and resync.
func (c *Connection) enqueue(msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal message")
		return true
	}
	select {
	case c.Send <- data:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Connection) sendSnapshot(snap session.Snapshot) bool {
	msg, err := newMessage(MessageTypeSyncFull, c.SessionID.String(), snap.Seq, c.Manager.clock.Now(), snap)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to encode snapshot")
		return false
	}
	return c.enqueue(msg)
}

// forward pumps hub deltas into the send buffer. When the subscriber is
// dropped for falling behind it subscribes again and starts over from a
// fresh snapshot.
func (c *Connection) forward(snap session.Snapshot, sub *broadcast.Subscriber) {
	defer func() { sub.Close() }()

	if !c.sendSnapshot(snap) {
		return
	}
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if !sub.Lagged() {
					c.close()
					return
				}
				log.Warn().
					Str("connection_id", c.ID).
					Str("session_id", c.SessionID.String()).
					Uint64("seq", sub.FromSeq()).
					Msg("connection fell behind, resyncing")

				next, nextSub, err := c.Manager.sessions.Subscribe(c.SessionID)
				if err != nil {
					log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to resubscribe")
					c.close()
					return
				}
				sub = nextSub
				if !c.sendSnapshot(next) {
					return
				}
				continue
			}
			if ev.Type == broadcast.EventTypeResync {
				continue
			}
			msg, err := eventMessage(ev)
			if err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to encode event")
				continue
			}
			if !c.enqueue(msg) {
				return
			}
		}
	}
}

func (c *Connection) writePump() {
	ticker := c.Manager.clock.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.Chan():
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}

		case <-c.ctx.Done():
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Connection) readPump() {
	defer c.close()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage runs scanner submissions. Each frame gets exactly one
// reply carrying the frame's request id.
func (c *Connection) handleClientMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.replyError("", session.ReasonInvalidSubmission, fmt.Errorf("malformed message: %w", err))
		return
	}

	switch msg.Type {
	case MessageTypeTransactionSubmit:
		var req session.SubmitRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError(msg.RequestID, session.ReasonInvalidSubmission, err)
			return
		}
		if req.DeviceID == "" {
			req.DeviceID = c.DeviceID
		}
		// Rejections are reported in the result; the manager logs the cause.
		res, _ := c.Manager.sessions.Submit(c.ctx, c.SessionID, req)
		c.reply(MessageTypeTransactionResult, msg.RequestID, res)

	case MessageTypeTransactionBatch:
		var req session.ReconcileRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.replyError(msg.RequestID, session.ReasonInvalidSubmission, err)
			return
		}
		if req.DeviceID == "" {
			req.DeviceID = c.DeviceID
		}
		results, err := c.Manager.sessions.Reconcile(c.ctx, c.SessionID, req)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.replyError(msg.RequestID, session.RejectReason(err), err)
			return
		}
		c.reply(MessageTypeBatchResult, msg.RequestID, BatchResult{
			Results: results,
			Summary: session.Summarize(results),
		})

	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("device_id", c.DeviceID).
			RawJSON("message", raw).
			Msg("ignoring unknown client message")
		c.replyError(msg.RequestID, "unknown_message", fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (c *Connection) reply(typ MessageType, requestID string, payload any) {
	msg, err := newMessage(typ, c.SessionID.String(), 0, c.Manager.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to encode reply")
		return
	}
	msg.RequestID = requestID
	c.enqueue(msg)
}

func (c *Connection) replyError(requestID, reason string, err error) {
	c.reply(MessageTypeError, requestID, ErrorPayload{Reason: reason, Message: err.Error()})
}

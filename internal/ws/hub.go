// Package ws serves the realtime event stream. Each authenticated member may
// hold WebSocket connections that receive their chat events and moderation
// notices from NATS, and that accept typing, read and send frames.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/heartline/server/internal/auth"
	"github.com/heartline/server/internal/metrics"
	"github.com/heartline/server/internal/moderation"
	"github.com/heartline/server/internal/protocol"
)

// Config holds tunable parameters for the event stream.
type Config struct {
	MaxConnections int           // hard cap on total connections
	MaxFrameBytes  int64         // largest accepted client frame
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	Heartbeat      HeartbeatConfig
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnections: 50000,
		MaxFrameBytes:  8 << 10,
		WriteTimeout:   10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// TokenValidator authenticates the access token presented at upgrade.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*auth.Claims, error)
}

// EventBus delivers per-user events. *messaging.NATSClient implements it.
type EventBus interface {
	SubscribeUserEvents(userID, connID string, handler func(data []byte)) error
	UnsubscribeUserEvents(connID string) error
	SubscribeModerationResult(userID, connID string, handler func(data []byte)) error
	UnsubscribeModerationResult(connID string) error
}

// Hub upgrades HTTP requests to event streams and runs one reader goroutine
// per connection. Outbound frames from NATS callbacks and handlers are
// serialized by each connection's write mutex.
type Hub struct {
	config     Config
	conns      *ConnectionManager
	tokens     TokenValidator
	bus        EventBus
	dispatcher *MessageDispatcher
	logger     *zap.Logger
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewHub creates a Hub and starts its heartbeat monitor.
func NewHub(config Config, tokens TokenValidator, bus EventBus, logger *zap.Logger) *Hub {
	logger = logger.With(zap.String("component", "ws"))
	h := &Hub{
		config:     config,
		conns:      NewConnectionManager(),
		tokens:     tokens,
		bus:        bus,
		dispatcher: NewMessageDispatcher(logger),
		logger:     logger,
		done:       make(chan struct{}),
	}
	go h.startHeartbeat(config.Heartbeat)
	return h
}

// Dispatcher returns the dispatcher so callers can register frame handlers.
func (h *Hub) Dispatcher() *MessageDispatcher {
	return h.dispatcher
}

// Connections exposes the live connection registry.
func (h *Hub) Connections() *ConnectionManager {
	return h.conns
}

// ServeHTTP authenticates the request, upgrades it with the gobwas/ws
// zero-copy upgrader, subscribes the member's NATS subjects and starts the
// connection's reader.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.conns.Count() >= h.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	claims, err := h.tokens.Validate(r.Context(), tokenFromRequest(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Debug("upgrade failed", zap.Error(err))
		return
	}

	c := newConnection(uuid.NewString(), claims.UserID(), netConn, h.config.WriteTimeout)
	h.conns.Add(c)
	metrics.WSConnections.Inc()

	if err := h.subscribe(c); err != nil {
		h.logger.Warn("subscribe failed", zap.String("user_id", c.UserID), zap.Error(err))
		h.removeConnection(c)
		return
	}

	h.logger.Info("stream opened",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Int("total", h.conns.Count()),
	)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.readLoop(c)
	}()
}

// tokenFromRequest reads the bearer token from the Authorization header or,
// for browsers that cannot set headers on a WebSocket, the token query
// parameter.
func tokenFromRequest(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimPrefix(v, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (h *Hub) subscribe(c *Connection) error {
	if h.bus == nil {
		return nil
	}
	// Chat events arrive already shaped for the client.
	if err := h.bus.SubscribeUserEvents(c.UserID, c.ID, func(data []byte) {
		if err := c.WriteMessage(data); err != nil {
			h.logger.Debug("forward event failed", zap.String("conn_id", c.ID), zap.Error(err))
		}
	}); err != nil {
		return err
	}
	return h.bus.SubscribeModerationResult(c.UserID, c.ID, func(data []byte) {
		h.forwardModeration(c, data)
	})
}

func (h *Hub) forwardModeration(c *Connection, data []byte) {
	var res moderation.ModerationResult
	if err := json.Unmarshal(data, &res); err != nil {
		h.logger.Warn("bad moderation result", zap.Error(err))
		return
	}
	h.dispatcher.send(c, protocol.TypeModeration, protocol.ModerationMsg{
		MessageID:    res.MessageID,
		ChatID:       res.ChatID,
		Reason:       res.Reason,
		SuspendedFor: res.SuspendedFor,
	})
	if res.SuspendedFor > 0 {
		h.dispatcher.send(c, protocol.TypeSuspended, protocol.SuspendedMsg{
			RetryAfter: res.SuspendedFor,
			Reason:     res.Reason,
		})
		h.removeConnection(c)
	}
}

// readLoop reads frames until the connection fails or closes. Control frames
// are answered inline; data frames go to the dispatcher.
func (h *Hub) readLoop(c *Connection) {
	defer h.removeConnection(c)

	idle := h.config.Heartbeat.Interval + h.config.Heartbeat.Timeout
	for {
		if idle > 0 {
			_ = c.Conn.SetReadDeadline(time.Now().Add(idle))
		}

		header, reader, err := wsutil.NextReader(c.Conn, ws.StateServerSide)
		if err != nil {
			if !isClosed(err) {
				h.logger.Debug("read failed", zap.String("conn_id", c.ID), zap.Error(err))
			}
			return
		}
		c.touch()

		if header.OpCode.IsControl() {
			payload := make([]byte, header.Length)
			if _, err := io.ReadFull(reader, payload); err != nil {
				return
			}
			switch header.OpCode {
			case ws.OpClose:
				return
			case ws.OpPing:
				if err := c.writeControl(ws.NewPongFrame(payload)); err != nil {
					return
				}
			}
			continue
		}

		if h.config.MaxFrameBytes > 0 && header.Length > h.config.MaxFrameBytes {
			h.dispatcher.sendError(c, "frame_too_large", "frame exceeds size limit")
			return
		}

		data := make([]byte, header.Length)
		if _, err := io.ReadFull(reader, data); err != nil {
			return
		}
		if len(data) == 0 || header.OpCode != ws.OpText {
			continue
		}
		h.dispatcher.Dispatch(c, data)
	}
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF)
}

// removeConnection unsubscribes and closes c. It is safe to call from the
// reader, the heartbeat and NATS callbacks concurrently.
func (h *Hub) removeConnection(c *Connection) {
	if !h.conns.Remove(c.ID) {
		return
	}
	metrics.WSConnections.Dec()

	if h.bus != nil {
		if err := h.bus.UnsubscribeUserEvents(c.ID); err != nil {
			h.logger.Debug("unsubscribe user events", zap.String("conn_id", c.ID), zap.Error(err))
		}
		if err := h.bus.UnsubscribeModerationResult(c.ID); err != nil {
			h.logger.Debug("unsubscribe moderation", zap.String("conn_id", c.ID), zap.Error(err))
		}
	}

	h.logger.Info("stream closed",
		zap.String("conn_id", c.ID),
		zap.String("user_id", c.UserID),
		zap.Int("total", h.conns.Count()),
	)
}

// DisconnectUser closes every stream the user holds, e.g. after logout or a
// suspension.
func (h *Hub) DisconnectUser(userID string) {
	for _, c := range h.conns.ForUser(userID) {
		h.removeConnection(c)
	}
}

// Shutdown stops the heartbeat, closes all connections and waits for the
// readers to exit or ctx to expire.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.done) })

	for _, c := range h.conns.All() {
		_ = c.writeControl(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusGoingAway, "server shutdown")))
		h.removeConnection(c)
	}

	waited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

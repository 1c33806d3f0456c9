package relay

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/ride-chat-relay/domain/ride"
	"github.com/example/ride-chat-relay/modules/activity"
	"github.com/example/ride-chat-relay/modules/registry"
)

const (
	localsHandshake = "relay.handshake"
	localsIdentity  = "relay.identity"
	localsSessionID = "relay.session_id"
)

// Disconnect reasons.
const (
	reasonClientClosed = "client_closed"
	reasonTimeout      = "timeout"
	reasonServerClosed = "server_closed"
	reasonError        = "connection_error"
)

// notifier receives session lifecycle notifications.
type notifier interface {
	participantConnected(s *Session)
	participantDisconnected(s *Session, reason string)
	messageRelayed(s *Session, msg ride.Message, recipients, failed int)
}

// ActivityReader exposes the counters kept by the activity module.
type ActivityReader interface {
	RideStats(rideID string) (activity.RideStats, bool)
	Totals() activity.Totals
}

// Handlers contains HTTP and WebSocket handlers.
type Handlers struct {
	cfg      Config
	registry *registry.Registry
	limiter  Limiter
	resolver IdentityResolver
	notify   notifier
	activity ActivityReader
	newID    func() string
	logger   types.Logger

	// closing is set once shutdown starts; later connections are refused.
	closing atomic.Bool
}

// HandleUpgrade validates join parameters before the WebSocket upgrade.
// Rejected requests never reach the registry.
func (h *Handlers) HandleUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if h.closing.Load() {
		return fiber.ErrServiceUnavailable
	}

	hs := Handshake{
		RideID:   strings.TrimSpace(queryAny(c, "ride_id", "rideId")),
		UserID:   strings.TrimSpace(queryAny(c, "user_id", "userId")),
		UserName: queryAny(c, "user_name", "userName"),
	}
	if hs.RideID == "" {
		h.logger.Warn("Rejected connection", "reason", ErrMissingRideID, "ip", c.IP())
		return fiber.NewError(fiber.StatusBadRequest, ErrMissingRideID.Error())
	}

	sessionID := h.newID()
	if hs.UserID == "" {
		if h.cfg.RequireUserID {
			h.logger.Warn("Rejected connection", "reason", ErrMissingUserID, "rideID", hs.RideID, "ip", c.IP())
			return fiber.NewError(fiber.StatusBadRequest, ErrMissingUserID.Error())
		}
		hs.UserID = "anonymous-" + sessionID
	}

	identity, err := h.resolver.Resolve(c.UserContext(), hs)
	if err != nil {
		h.logger.Warn("Identity rejected", "rideID", hs.RideID, "userID", hs.UserID, "error", err)
		return fiber.NewError(fiber.StatusForbidden, "identity rejected")
	}
	if identity.UserID == "" {
		identity.UserID = hs.UserID
	}
	if strings.TrimSpace(identity.DisplayName) == "" {
		identity.DisplayName = ride.DefaultDisplayName
	}

	c.Locals(localsHandshake, hs)
	c.Locals(localsIdentity, identity)
	c.Locals(localsSessionID, sessionID)
	return c.Next()
}

// HandleWebSocket serves one upgraded connection until it closes.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	hs, _ := c.Locals(localsHandshake).(Handshake)
	identity, _ := c.Locals(localsIdentity).(ride.Identity)
	sessionID, _ := c.Locals(localsSessionID).(string)
	if hs.RideID == "" || sessionID == "" {
		h.logger.Error("WebSocket connection without handshake")
		return
	}

	sess := newSession(sessionID, hs.RideID, identity, c, h.cfg, h.logger)

	connected, err := encodeFrame(TypeConnected, ConnectedPayload{
		SessionID: sess.ID(),
		RideID:    sess.RideID(),
		UserID:    identity.UserID,
	})
	if err != nil {
		h.logger.Error("Failed to encode connected frame", "error", err)
		return
	}
	// Queued before the writer starts, so it is always the first frame.
	_ = sess.Deliver(connected)

	h.registry.Join(sess.RideID(), sess)
	go sess.writePump()
	// Stop sets closing before it snapshots the registry, so a session that
	// joined after the snapshot sees the flag here.
	if h.closing.Load() {
		sess.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("Participant connected", "sessionID", sess.ID(), "rideID", sess.RideID(), "userID", identity.UserID)
	h.notify.participantConnected(sess)

	reason := h.readLoop(c, sess)

	h.registry.Leave(sess.RideID(), sess)
	h.limiter.Forget(sess.ID())
	sess.Close()
	sess.wait()

	h.logger.Info("Participant disconnected", "sessionID", sess.ID(), "rideID", sess.RideID(), "reason", reason)
	h.notify.participantDisconnected(sess, reason)
}

// readLoop handles inbound frames one at a time until the connection fails.
func (h *Handlers) readLoop(c *websocket.Conn, sess *Session) string {
	readTimeout := h.cfg.ReadTimeout()
	c.SetReadLimit(h.cfg.FrameLimit())
	_ = c.SetReadDeadline(time.Now().Add(readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			return h.disconnectReason(sess, err)
		}
		_ = c.SetReadDeadline(time.Now().Add(readTimeout))

		if msgType != websocket.TextMessage {
			h.reject(sess, ErrInvalidFrame)
			continue
		}
		h.handleFrame(sess, data)
	}
}

func (h *Handlers) disconnectReason(sess *Session, err error) string {
	if sess.Closed() {
		return reasonServerClosed
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return reasonClientClosed
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return reasonTimeout
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		h.logger.Warn("WebSocket error", "sessionID", sess.ID(), "error", err)
	}
	return reasonError
}

// handleFrame validates one inbound frame and relays it to the ride.
// A panic here is contained to this frame.
func (h *Handlers) handleFrame(sess *Session, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic while handling frame", "sessionID", sess.ID(), "panic", r)
			_ = sess.Deliver(encodeError("internal error"))
		}
	}()

	env, err := decodeEnvelope(data)
	if err != nil {
		h.reject(sess, err)
		return
	}

	switch env.Type {
	case TypeMessage:
		h.handleMessage(sess, env.Payload)
	default:
		h.reject(sess, ErrUnknownType)
	}
}

func (h *Handlers) handleMessage(sess *Session, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
	defer cancel()

	allowed, err := h.limiter.Allow(ctx, sess.ID())
	if err != nil {
		h.logger.Warn("Rate limiter unavailable, allowing message", "sessionID", sess.ID(), "error", err)
		allowed = true
	}
	if !allowed {
		h.reject(sess, ErrRateLimited)
		return
	}

	text, err := parseMessageText(payload, h.cfg.MaxTextLength)
	if err != nil {
		h.reject(sess, err)
		return
	}

	identity := sess.Identity()
	msg := ride.Message{
		ID:         uuid.New().String(),
		Text:       text,
		SenderID:   identity.UserID,
		SenderName: identity.DisplayName,
		Timestamp:  time.Now().UTC(),
		IsDriver:   identity.IsDriver,
	}

	delivered, failed := h.Broadcast(sess.RideID(), msg)
	h.logger.Debug("Message relayed", "rideID", sess.RideID(), "messageID", msg.ID, "delivered", delivered, "failed", failed)
	h.notify.messageRelayed(sess, msg, delivered+failed, failed)
}

// Broadcast queues msg to every session currently in the ride, sender
// included. Each delivery is independent; failures are logged and counted.
func (h *Handlers) Broadcast(rideID string, msg ride.Message) (delivered, failed int) {
	frame, err := encodeFrame(TypeMessage, msg)
	if err != nil {
		h.logger.Error("Failed to encode message", "rideID", rideID, "error", err)
		return 0, 0
	}

	for _, member := range h.registry.Members(rideID) {
		if err := member.Deliver(frame); err != nil {
			failed++
			h.logger.Warn("Delivery failed", "rideID", rideID, "sessionID", member.ID(), "error", err)
			continue
		}
		delivered++
	}
	return delivered, failed
}

// reject reports an invalid frame to its sender only.
func (h *Handlers) reject(sess *Session, err error) {
	h.logger.Warn("Rejected frame", "sessionID", sess.ID(), "rideID", sess.RideID(), "error", err)
	if derr := sess.Deliver(encodeError(err.Error())); derr != nil {
		h.logger.Debug("Failed to deliver error frame", "sessionID", sess.ID(), "error", derr)
	}
}

// REST Handlers

// HealthCheck handles health check requests (GET /health).
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "healthy",
		"service":  "ride-chat-relay",
		"sessions": h.registry.SessionCount(),
		"rides":    h.registry.RoomCount(),
	})
}

// GetRide handles ride detail requests (GET /api/v1/rides/:id).
func (h *Handlers) GetRide(c *fiber.Ctx) error {
	rideID := strings.TrimSpace(c.Params("id"))
	if rideID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Ride ID is required",
		})
	}

	members := h.registry.Members(rideID)
	if len(members) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Ride not active",
		})
	}

	participants := make([]ride.Participant, 0, len(members))
	for _, member := range members {
		if p, ok := member.(interface{ Participant() ride.Participant }); ok {
			participants = append(participants, p.Participant())
		}
	}

	resp := fiber.Map{
		"ride_id":      rideID,
		"participants": participants,
		"total":        len(participants),
	}
	if h.activity != nil {
		if stats, ok := h.activity.RideStats(rideID); ok {
			resp["messages"] = stats.Messages
			resp["connections"] = stats.Connections
			if !stats.LastMessageAt.IsZero() {
				resp["last_message_at"] = stats.LastMessageAt
			}
		}
	}
	return c.JSON(resp)
}

// GetStats handles activity requests (GET /api/v1/stats).
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	if h.activity == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Activity tracking disabled",
		})
	}
	return c.JSON(h.activity.Totals())
}

func queryAny(c *fiber.Ctx, keys ...string) string {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			return v
		}
	}
	return ""
}

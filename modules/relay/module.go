// Package relay serves the ride chat WebSocket endpoint and fans messages
// out to every participant of a ride.
package relay

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	gonanoid "github.com/jaevor/go-nanoid"
	"github.com/redis/go-redis/v9"

	"github.com/example/ride-chat-relay/domain/ride"
	"github.com/example/ride-chat-relay/events"
	"github.com/example/ride-chat-relay/modules/registry"
)

const redisKeyPrefix = "relay:ratelimit:"

// Module implements the relay server module using Fiber framework.
type Module struct {
	cfg      Config
	registry *registry.Registry
	resolver IdentityResolver
	activity ActivityReader
	eventBus mono.EventBus
	logger   types.Logger

	app      *fiber.App
	listener net.Listener
	handlers *Handlers
	redis    *redis.Client
	redisMu  sync.Mutex
	stopOnce sync.Once
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a relay module that registers sessions in reg.
func NewModule(cfg Config, reg *registry.Registry, moduleLogger types.Logger) *Module {
	return &Module{
		cfg:      cfg,
		registry: reg,
		resolver: QueryResolver{},
		logger:   moduleLogger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "relay"
}

// SetIdentityResolver replaces the default query parameter resolver.
func (m *Module) SetIdentityResolver(r IdentityResolver) {
	m.resolver = r
}

// SetActivity sets the activity reader used by the REST API (called from main.go).
func (m *Module) SetActivity(a ActivityReader) {
	m.activity = a
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.ParticipantConnectedV1.ToBase(),
		events.ParticipantDisconnectedV1.ToBase(),
		events.MessageRelayedV1.ToBase(),
	}
}

// Start binds the listen address and starts serving.
// Failing to bind is the only startup error.
func (m *Module) Start(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid relay config: %w", err)
	}

	newID, err := gonanoid.Standard(21)
	if err != nil {
		return fmt.Errorf("failed to create session id generator: %w", err)
	}

	m.handlers = &Handlers{
		cfg:      m.cfg,
		registry: m.registry,
		limiter:  m.newLimiter(ctx),
		resolver: m.resolver,
		notify:   m,
		activity: m.activity,
		newID:    newID,
		logger:   m.logger,
	}

	m.app = fiber.New(fiber.Config{
		AppName:               "Ride Chat Relay",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
	})

	m.app.Use(recover.New())
	m.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
	}))
	m.app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(m.cfg.AllowedOrigins, ","),
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.registerRoutes()

	ln, err := net.Listen("tcp", m.cfg.Addr())
	if err != nil {
		m.closeRedis()
		return fmt.Errorf("relay server failed to listen on %s: %w", m.cfg.Addr(), err)
	}
	m.listener = ln

	// Start server in goroutine with startup error detection
	errCh := make(chan error, 1)
	go func() {
		if err := m.app.Listener(ln); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		m.closeRedis()
		return fmt.Errorf("relay server failed to start: %w", err)
	case <-time.After(100 * time.Millisecond):
	}

	m.logger.Info("Relay server started",
		"addr", ln.Addr().String(),
		"origins", m.cfg.AllowedOrigins,
		"environment", m.cfg.Environment)
	return nil
}

// Stop closes every session with 1001 Going Away, then shuts down the server.
func (m *Module) Stop(ctx context.Context) error {
	var stopErr error
	m.stopOnce.Do(func() {
		if m.handlers != nil {
			m.handlers.closing.Store(true)
		}
		sessions := m.registry.Sessions()
		for _, s := range sessions {
			if sess, ok := s.(*Session); ok {
				sess.CloseWith(websocket.CloseGoingAway, "server shutting down")
			}
		}
		m.waitForSessions(ctx)

		if m.app != nil {
			if err := m.app.ShutdownWithContext(ctx); err != nil {
				stopErr = fmt.Errorf("failed to shutdown server: %w", err)
			}
		}
		m.closeRedis()
		m.logger.Info("Relay server stopped", "closed_sessions", len(sessions))
	})
	return stopErr
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.listener != nil,
		Message: "operational",
		Details: map[string]any{
			"sessions": m.registry.SessionCount(),
			"rides":    m.registry.RoomCount(),
			"redis":    m.usingRedis(),
		},
	}
}

// Addr returns the bound listen address, or "" before Start.
func (m *Module) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Handlers returns the HTTP and WebSocket handlers, or nil before Start.
func (m *Module) Handlers() *Handlers {
	return m.handlers
}

// registerRoutes sets up all HTTP and WebSocket routes.
func (m *Module) registerRoutes() {
	m.app.Get("/health", m.handlers.HealthCheck)

	m.app.Use("/ws", m.handlers.HandleUpgrade)
	m.app.Get("/ws", websocket.New(m.handlers.HandleWebSocket, websocket.Config{
		Origins: m.cfg.AllowedOrigins,
	}))

	api := m.app.Group("/api/v1")
	api.Get("/rides/:id", m.handlers.GetRide)
	api.Get("/stats", m.handlers.GetStats)
}

// newLimiter picks the Redis limiter when Redis answers, or the in-memory one.
func (m *Module) newLimiter(ctx context.Context) Limiter {
	if m.cfg.RateLimit <= 0 {
		return unlimited{}
	}
	if m.cfg.RedisAddr == "" {
		return NewMemoryLimiter(m.cfg.RateLimit, m.cfg.RateBurst)
	}

	client := redis.NewClient(&redis.Options{Addr: m.cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		m.logger.Warn("Redis unavailable, using in-memory rate limiter", "addr", m.cfg.RedisAddr, "error", err)
		_ = client.Close()
		return NewMemoryLimiter(m.cfg.RateLimit, m.cfg.RateBurst)
	}

	m.redisMu.Lock()
	m.redis = client
	m.redisMu.Unlock()
	m.logger.Info("Using Redis rate limiter", "addr", m.cfg.RedisAddr)
	return NewRedisLimiter(client, m.cfg.RateBurst, time.Second, redisKeyPrefix)
}

func (m *Module) closeRedis() {
	m.redisMu.Lock()
	client := m.redis
	m.redis = nil
	m.redisMu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			m.logger.Warn("Failed to close redis client", "error", err)
		}
	}
}

func (m *Module) usingRedis() bool {
	m.redisMu.Lock()
	defer m.redisMu.Unlock()
	return m.redis != nil
}

func (m *Module) waitForSessions(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for m.registry.SessionCount() > 0 {
		select {
		case <-ctx.Done():
			m.logger.Warn("Shutdown timed out with sessions still open", "sessions", m.registry.SessionCount())
			return
		case <-ticker.C:
		}
	}
}

// errorHandler handles errors globally.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "message", message, "error", err)
	} else {
		m.logger.Debug("HTTP error", "code", code, "message", message, "path", c.Path())
	}

	return c.Status(code).JSON(fiber.Map{
		"error": message,
	})
}

// Event publishing

func (m *Module) participantConnected(s *Session) {
	if m.eventBus == nil {
		return
	}
	event := events.ParticipantConnectedEvent{
		SessionID: s.ID(),
		RideID:    s.RideID(),
		UserID:    s.Identity().UserID,
		Timestamp: time.Now().UTC(),
	}
	if err := events.ParticipantConnectedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish ParticipantConnected event", "error", err)
	}
}

func (m *Module) participantDisconnected(s *Session, reason string) {
	if m.eventBus == nil {
		return
	}
	event := events.ParticipantDisconnectedEvent{
		SessionID: s.ID(),
		RideID:    s.RideID(),
		UserID:    s.Identity().UserID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	if err := events.ParticipantDisconnectedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish ParticipantDisconnected event", "error", err)
	}
}

func (m *Module) messageRelayed(s *Session, msg ride.Message, recipients, failed int) {
	if m.eventBus == nil {
		return
	}
	event := events.MessageRelayedEvent{
		MessageID:  msg.ID,
		RideID:     s.RideID(),
		SenderID:   msg.SenderID,
		Recipients: recipients,
		Failed:     failed,
		Timestamp:  msg.Timestamp,
	}
	if err := events.MessageRelayedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish MessageRelayed event", "error", err)
	}
}

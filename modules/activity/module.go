// Package activity keeps live counters of relay traffic from the event bus.
package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/ride-chat-relay/events"
)

// RideStats are the counters of one active ride.
type RideStats struct {
	RideID           string    `json:"ride_id"`
	Active           int       `json:"active"`
	Connections      int64     `json:"connections"`
	Messages         int64     `json:"messages"`
	DeliveryFailures int64     `json:"delivery_failures"`
	LastMessageAt    time.Time `json:"last_message_at,omitzero"`
}

// Totals are process-wide counters.
type Totals struct {
	Active           int   `json:"active"`
	PeakActive       int   `json:"peak_active"`
	ActiveRides      int   `json:"active_rides"`
	Connections      int64 `json:"connections"`
	Disconnections   int64 `json:"disconnections"`
	Messages         int64 `json:"messages"`
	DeliveryFailures int64 `json:"delivery_failures"`
}

// Module is an EventConsumerModule that aggregates relay events.
// A ride's counters are dropped once its last participant disconnects.
//
// Each event type has its own subscription, so a session's disconnect may be
// handled before its connect. Sessions are tracked by ID to pair the two in
// either order.
type Module struct {
	rides    map[string]*RideStats
	sessions map[string]string   // sessionID -> rideID, while connected
	departed map[string]struct{} // sessionIDs disconnected before their connect arrived
	totals   Totals
	mu       sync.RWMutex
	logger   types.Logger
}

// Compile-time interface checks.
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventConsumerModule   = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates a new activity module.
func NewModule(logger types.Logger) *Module {
	return &Module{
		rides:    make(map[string]*RideStats),
		sessions: make(map[string]string),
		departed: make(map[string]struct{}),
		logger:   logger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "activity"
}

// Start initializes the module.
func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Activity module started")
	return nil
}

// Stop shuts down the module.
func (m *Module) Stop(_ context.Context) error {
	t := m.Totals()
	m.logger.Info("Activity module stopped",
		"connections", t.Connections,
		"messages", t.Messages,
		"peak_active", t.PeakActive)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	t := m.Totals()
	return mono.HealthStatus{
		Healthy: true,
		Message: "operational",
		Details: map[string]any{
			"active":       t.Active,
			"active_rides": t.ActiveRides,
			"messages":     t.Messages,
		},
	}
}

// RegisterEventConsumers registers event handlers.
func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(
		registry, events.ParticipantConnectedV1, m.handleConnected, m,
	); err != nil {
		return fmt.Errorf("failed to register ParticipantConnected consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.ParticipantDisconnectedV1, m.handleDisconnected, m,
	); err != nil {
		return fmt.Errorf("failed to register ParticipantDisconnected consumer: %w", err)
	}

	if err := helper.RegisterTypedEventConsumer(
		registry, events.MessageRelayedV1, m.handleMessageRelayed, m,
	); err != nil {
		return fmt.Errorf("failed to register MessageRelayed consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "ParticipantConnected, ParticipantDisconnected, MessageRelayed")
	return nil
}

// RideStats returns the counters of an active ride.
func (m *Module) RideStats(rideID string) (RideStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats, ok := m.rides[rideID]
	if !ok {
		return RideStats{}, false
	}
	return *stats, true
}

// Totals returns the process-wide counters.
func (m *Module) Totals() Totals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.totals
	t.ActiveRides = len(m.rides)
	return t
}

// Event handlers

func (m *Module) handleConnected(_ context.Context, event events.ParticipantConnectedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals.Connections++

	if _, gone := m.departed[event.SessionID]; gone {
		delete(m.departed, event.SessionID)
		m.logger.Debug("Connect arrived after disconnect", "rideID", event.RideID, "sessionID", event.SessionID)
		return nil
	}
	if _, dup := m.sessions[event.SessionID]; dup {
		return nil
	}
	m.sessions[event.SessionID] = event.RideID

	stats, ok := m.rides[event.RideID]
	if !ok {
		stats = &RideStats{RideID: event.RideID}
		m.rides[event.RideID] = stats
	}
	stats.Active++
	stats.Connections++

	m.totals.Active++
	if m.totals.Active > m.totals.PeakActive {
		m.totals.PeakActive = m.totals.Active
	}
	return nil
}

func (m *Module) handleDisconnected(_ context.Context, event events.ParticipantDisconnectedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rideID, ok := m.sessions[event.SessionID]
	if !ok {
		if _, gone := m.departed[event.SessionID]; !gone {
			m.departed[event.SessionID] = struct{}{}
			m.totals.Disconnections++
		}
		return nil
	}
	delete(m.sessions, event.SessionID)
	m.totals.Disconnections++
	m.totals.Active--

	if stats, ok := m.rides[rideID]; ok {
		stats.Active--
		if stats.Active <= 0 {
			delete(m.rides, rideID)
		}
	}
	return nil
}

func (m *Module) handleMessageRelayed(_ context.Context, event events.MessageRelayedEvent, _ *mono.Msg) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals.Messages++
	m.totals.DeliveryFailures += int64(event.Failed)

	if stats, ok := m.rides[event.RideID]; ok {
		stats.Messages++
		stats.DeliveryFailures += int64(event.Failed)
		if event.Timestamp.After(stats.LastMessageAt) {
			stats.LastMessageAt = event.Timestamp
		}
	}
	return nil
}

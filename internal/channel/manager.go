package channel

import (
	"context"
	"log/slog"
	"sync"
)

// Manager starts and stops the connection-based adapters, routing every
// inbound event to the shared handler.
type Manager struct {
	logger   *slog.Logger
	registry *Registry
	handler  InboundHandler

	mu          sync.Mutex
	connections []Connection
}

// NewManager creates a Manager dispatching to handler.
func NewManager(log *slog.Logger, registry *Registry, handler InboundHandler) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		logger:   log.With(slog.String("component", "channel_manager")),
		registry: registry,
		handler:  handler,
	}
}

// Start connects every Connector in the registry. A single adapter failing to
// connect is logged and skipped; the others keep running.
func (m *Manager) Start(ctx context.Context) {
	for _, connector := range m.registry.Connectors() {
		conn, err := connector.Connect(ctx, m.handler)
		if err != nil {
			m.logger.Error("connect failed",
				slog.String("channel", connector.Type().String()),
				slog.Any("error", err),
			)
			continue
		}
		m.mu.Lock()
		m.connections = append(m.connections, conn)
		m.mu.Unlock()
		m.logger.Info("channel connected", slog.String("channel", connector.Type().String()))
	}
}

// Shutdown stops all live connections.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	connections := m.connections
	m.connections = nil
	m.mu.Unlock()

	var firstErr error
	for _, conn := range connections {
		if err := conn.Stop(ctx); err != nil {
			m.logger.Warn("stop connection failed",
				slog.String("channel", conn.Channel().String()),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

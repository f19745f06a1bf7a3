package evm

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/helix-wallet/sweeperd/pkg/chains"
)

// Manager hands out one lazily dialed Client per chain and caches it for the
// process lifetime, so every sweep cycle on a chain shares one RPC
// connection.
type Manager struct {
	mu       sync.RWMutex
	registry *chains.Registry
	logger   *zap.Logger
	clients  map[string]*Client
}

// NewManager builds a client manager over the chain registry.
func NewManager(registry *chains.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		registry: registry,
		logger:   logger,
		clients:  make(map[string]*Client),
	}
}

// Get returns the client for a chain key, dialing on first use.
func (m *Manager) Get(ctx context.Context, chainKey string) (*Client, error) {
	// Read lock first for a fast path
	m.mu.RLock()
	if c, ok := m.clients[chainKey]; ok {
		m.mu.RUnlock()
		return c, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if c, ok := m.clients[chainKey]; ok {
		return c, nil
	}

	profile, err := m.registry.Get(chainKey)
	if err != nil {
		return nil, err
	}
	c, err := Dial(ctx, profile, m.logger)
	if err != nil {
		return nil, err
	}
	m.clients[chainKey] = c
	return c, nil
}

// Close releases every dialed connection.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.clients {
		c.Close()
		delete(m.clients, key)
	}
}

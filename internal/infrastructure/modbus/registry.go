package modbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/config"
)

// Registry holds the configured hubs by name.
// It implements cover.HubResolver.
type Registry struct {
	mu   sync.RWMutex
	hubs map[string]*Hub
}

// NewRegistry builds one hub per configuration entry. No links are opened.
func NewRegistry(cfgs []config.HubConfig, logger Logger) (*Registry, error) {
	r := &Registry{hubs: make(map[string]*Hub, len(cfgs))}
	for _, cfg := range cfgs {
		if _, exists := r.hubs[cfg.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate hub %q", ErrInvalidConfig, cfg.Name)
		}
		hub, err := NewHub(cfg, logger)
		if err != nil {
			return nil, err
		}
		r.add(hub)
	}
	return r, nil
}

// add registers a hub, replacing any hub with the same name.
func (r *Registry) add(hub *Hub) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hubs[hub.Name()] = hub
}

// Hub returns the named hub.
func (r *Registry) Hub(name string) (*Hub, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hubs[name]
	return h, ok
}

// Hubs returns all hubs sorted by name.
func (r *Registry) Hubs() []*Hub {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// SetObserver attaches o to every registered hub.
func (r *Registry) SetObserver(o Observer) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.hubs {
		h.SetObserver(o)
	}
}

// Resolve returns the named hub once its link is up.
//
// Returns:
//   - cover.Transport: the connected hub
//   - error: wraps cover.ErrGatewayUnavailable together with ErrHubNotFound
//     or ErrConnectFailed; context errors are returned unwrapped
func (r *Registry) Resolve(ctx context.Context, hubID string) (cover.Transport, error) {
	hub, ok := r.Hub(hubID)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", cover.ErrGatewayUnavailable, ErrHubNotFound, hubID)
	}
	if err := hub.Connect(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", cover.ErrGatewayUnavailable, err)
	}
	return hub, nil
}

// Close closes every hub and returns the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, h := range r.hubs {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

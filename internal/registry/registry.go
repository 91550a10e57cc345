// Package registry associates endpoints with the listener hosts started on
// them, so a listener can later be stopped by its endpoint alone.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/runtime"
)

var (
	// ErrDuplicateRegistration is returned when an endpoint already has a host.
	ErrDuplicateRegistration = errors.New("registry: endpoint already has a listener")

	// ErrNotRegistered is returned when an endpoint has no host.
	ErrNotRegistered = errors.New("registry: no handler registered for endpoint")
)

// Registry is a concurrency-safe endpoint to host map.
type Registry struct {
	mu    sync.Mutex
	hosts map[broker.Endpoint]*runtime.Host
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{hosts: make(map[broker.Endpoint]*runtime.Host)}
}

// Register associates host with ep.
func (r *Registry) Register(ep broker.Endpoint, host *runtime.Host) error {
	if ep == nil || host == nil {
		return errors.New("endpoint and host are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hosts[ep]; ok {
		return fmt.Errorf("register %s: %w", ep.Name(), ErrDuplicateRegistration)
	}
	r.hosts[ep] = host
	return nil
}

// Lookup returns the host registered for ep.
func (r *Registry) Lookup(ep broker.Endpoint) (*runtime.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	host, ok := r.hosts[ep]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", endpointName(ep), ErrNotRegistered)
	}
	return host, nil
}

// Unregister removes and returns the host registered for ep.
func (r *Registry) Unregister(ep broker.Endpoint) (*runtime.Host, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	host, ok := r.hosts[ep]
	if !ok {
		return nil, fmt.Errorf("unregister %s: %w", endpointName(ep), ErrNotRegistered)
	}
	delete(r.hosts, ep)
	return host, nil
}

// Endpoints returns the registered endpoints sorted by name.
func (r *Registry) Endpoints() []broker.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]broker.Endpoint, 0, len(r.hosts))
	for ep := range r.hosts {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.hosts)
}

func endpointName(ep broker.Endpoint) string {
	if ep == nil {
		return "<nil>"
	}
	return ep.Name()
}

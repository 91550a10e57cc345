// Package listener starts and stops message listeners by endpoint.
package listener

import (
	"context"
	"errors"
	"fmt"

	"github.com/neoclaw-ai/brokerhost/internal/broker"
	"github.com/neoclaw-ai/brokerhost/internal/dispatch"
	"github.com/neoclaw-ai/brokerhost/internal/registry"
	"github.com/neoclaw-ai/brokerhost/internal/runtime"
)

// Manager owns the hosts started through it.
type Manager struct {
	hosts *registry.Registry
}

// New creates a manager backed by reg. A nil reg gets a private registry.
func New(reg *registry.Registry) *Manager {
	if reg == nil {
		reg = registry.New()
	}
	return &Manager{hosts: reg}
}

// Registry returns the manager's host registry.
func (m *Manager) Registry() *registry.Registry {
	return m.hosts
}

// Start opens a listener on ep that dispatches to a single handler instance.
func (m *Manager) Start(ctx context.Context, ep broker.Endpoint, h dispatch.Handler, opts runtime.Options) (*runtime.Host, error) {
	opts.Factory = nil
	return m.start(ctx, ep, h, opts)
}

// StartFactory opens a listener on ep that creates a handler per message.
func (m *Manager) StartFactory(ctx context.Context, ep broker.Endpoint, factory func() dispatch.Handler, opts runtime.Options) (*runtime.Host, error) {
	if factory == nil {
		return nil, errors.New("handler factory is required")
	}
	opts.Factory = factory
	return m.start(ctx, ep, nil, opts)
}

// StartFunc opens a listener on ep that passes every message to fn.
func (m *Manager) StartFunc(ctx context.Context, ep broker.Endpoint, fn dispatch.HandlerFunc, opts runtime.Options) (*runtime.Host, error) {
	if fn == nil {
		return nil, errors.New("callback is required")
	}
	return m.Start(ctx, ep, fn, opts)
}

func (m *Manager) start(ctx context.Context, ep broker.Endpoint, h dispatch.Handler, opts runtime.Options) (*runtime.Host, error) {
	host, err := runtime.NewHost(ep, h, opts)
	if err != nil {
		return nil, err
	}
	// Reserve the endpoint before opening so two callers cannot both listen.
	if err := m.hosts.Register(ep, host); err != nil {
		return nil, err
	}
	if err := host.Open(ctx); err != nil {
		if _, unregisterErr := m.hosts.Unregister(ep); unregisterErr != nil {
			return nil, errors.Join(err, unregisterErr)
		}
		return nil, err
	}
	return host, nil
}

// Stop closes the listener started on ep and forgets it.
func (m *Manager) Stop(ctx context.Context, ep broker.Endpoint) error {
	host, err := m.hosts.Unregister(ep)
	if err != nil {
		return err
	}
	if err := host.Close(ctx); err != nil {
		return fmt.Errorf("stop listener: %w", err)
	}
	return nil
}

// StopAll stops every listener in the registry.
func (m *Manager) StopAll(ctx context.Context) error {
	var errs []error
	for _, ep := range m.hosts.Endpoints() {
		if err := m.Stop(ctx, ep); err != nil && !errors.Is(err, registry.ErrNotRegistered) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

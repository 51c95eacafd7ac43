// Package listener runs entrypoint listeners and keeps them in line with
// the entrypoints of the merged routing config.
package listener

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
)

// Protocols of the three entrypoint sections.
const (
	ProtocolHTTP = "http"
	ProtocolTCP  = "tcp"
	ProtocolUDP  = "udp"
)

// Listener is one running entrypoint.
type Listener interface {
	// ID is "protocol/entrypoint".
	ID() string
	Protocol() string

	// Start binds the listener and serves until ctx ends or Stop is called.
	// It returns once the address is bound.
	Start(ctx context.Context) error

	// Stop drains until ctx ends.
	Stop(ctx context.Context) error

	// Addr returns the bound address, or the configured one before Start.
	Addr() string
}

// Factory builds the listener of one entrypoint.
type Factory func(protocol, name string, ep *config.Entrypoint) (Listener, error)

// ID is the listener id of an entrypoint.
func ID(protocol, name string) string { return protocol + "/" + name }

type running struct {
	l  Listener
	ep config.Entrypoint
}

// Manager owns the running listeners, keyed by ID.
type Manager struct {
	factory   Factory
	mu        sync.Mutex
	listeners map[string]running
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewManager(factory Factory) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:   factory,
		listeners: make(map[string]running),
		ctx:       ctx,
		cancel:    cancel,
	}
}

type desired struct {
	protocol, name string
	ep             *config.Entrypoint
}

func desiredSet(cfg *config.RoutingConfig) map[string]desired {
	out := make(map[string]desired)
	add := func(protocol string, eps map[string]*config.Entrypoint) {
		for name, ep := range eps {
			if ep != nil {
				out[ID(protocol, name)] = desired{protocol, name, ep}
			}
		}
	}
	add(ProtocolHTTP, cfg.HTTPEntrypoints())
	add(ProtocolTCP, cfg.TCPEntrypoints())
	add(ProtocolUDP, cfg.UDPEntrypoints())
	return out
}

// Reconcile makes the running listeners match cfg's entrypoints: removed
// ones stop, changed ones restart and new ones start. Failures are
// collected; the remaining entrypoints are still reconciled.
func (m *Manager) Reconcile(ctx context.Context, cfg *config.RoutingConfig) error {
	if cfg == nil {
		cfg = &config.RoutingConfig{}
	}
	want := desiredSet(cfg)

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, cur := range m.listeners {
		d, ok := want[id]
		if ok && reflect.DeepEqual(cur.ep, *d.ep) {
			continue
		}
		// changed entrypoints stop before their replacement binds
		if err := m.stop(ctx, cur.l); err != nil {
			errs = append(errs, err)
		}
		delete(m.listeners, id)
	}

	ids := make([]string, 0, len(want))
	for id := range want {
		if _, ok := m.listeners[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		d := want[id]
		l, err := m.factory(d.protocol, d.name, d.ep)
		if err != nil {
			errs = append(errs, fmt.Errorf("listener %s: %w", id, err))
			continue
		}
		if err := l.Start(m.ctx); err != nil {
			errs = append(errs, fmt.Errorf("listener %s: %w", id, err))
			continue
		}
		logging.Info("listener started",
			zap.String("listener", id),
			zap.String("address", l.Addr()),
		)
		m.listeners[id] = running{l: l, ep: *d.ep}
	}
	return errors.Join(errs...)
}

func (m *Manager) stop(ctx context.Context, l Listener) error {
	if err := l.Stop(ctx); err != nil {
		return fmt.Errorf("listener %s: %w", l.ID(), err)
	}
	logging.Info("listener stopped", zap.String("listener", l.ID()))
	return nil
}

// Get returns a listener by ID
func (m *Manager) Get(id string) (Listener, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.listeners[id]
	return r.l, ok
}

// StopAll stops every listener in parallel and cancels the serve context.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(m.listeners))
	for id, r := range m.listeners {
		wg.Add(1)
		go func(l Listener) {
			defer wg.Done()
			if err := m.stop(ctx, l); err != nil {
				errCh <- err
			}
		}(r.l)
		delete(m.listeners, id)
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

// List returns the running IDs in sorted order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

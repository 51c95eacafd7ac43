// Package store holds the process-wide Routing Config Store.
package store

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/router"
)

// Store is the merged routing configuration plus its compiled table.
// Merges are serialized. Readers take the read lock only to fetch the
// current table; the version is readable without any lock.
type Store struct {
	writeMu sync.Mutex // serializes Merge

	mu    sync.RWMutex
	cfg   *config.RoutingConfig
	table *router.Table

	version atomic.Uint64

	subsMu sync.Mutex
	subs   map[int]chan uint64
	nextID int

	metrics *metrics.Collector
}

// Option configures a Store.
type Option func(*Store)

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns an empty store at version 0.
func New(opts ...Option) *Store {
	s := &Store{
		cfg:  &config.RoutingConfig{},
		subs: make(map[int]chan uint64),
	}
	s.table, _ = router.NewTable(s.cfg, nil)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Merge validates and compiles fragment merged over the current config
// and installs the result. On any error the store is left unchanged.
// It returns the version in effect afterwards.
func (s *Store) Merge(fragment *config.RoutingConfig) (uint64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	version, err := s.merge(fragment)
	s.metrics.RecordMerge(version, err)
	if err != nil {
		logging.Warn("config fragment rejected",
			zap.Uint64("version", s.version.Load()),
			zap.Error(err),
		)
		return s.version.Load(), err
	}
	logging.Info("config merge applied", zap.Uint64("version", version))
	s.notify(version)
	return version, nil
}

// Reject records a fragment that never reached Merge, such as one that
// failed to parse.
func (s *Store) Reject(err error) {
	s.metrics.RecordMerge(0, err)
	logging.Warn("config fragment rejected",
		zap.Uint64("version", s.version.Load()),
		zap.Error(err),
	)
}

func (s *Store) merge(fragment *config.RoutingConfig) (uint64, error) {
	if fragment == nil {
		return 0, fmt.Errorf("empty fragment")
	}
	if err := config.ValidateRouting(fragment); err != nil {
		return 0, err
	}

	s.mu.RLock()
	cur, prev := s.cfg, s.table
	s.mu.RUnlock()

	merged := config.Merge(cur, fragment)
	table, err := router.NewTable(merged, prev)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.cfg, s.table = merged, table
	s.mu.Unlock()
	// published after the table so a reader that sees the new version
	// always finds a table at least that new
	s.version.Store(merged.Version)
	return merged.Version, nil
}

// Version returns the current version without locking.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

// Table returns the compiled table in effect.
func (s *Store) Table() *router.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// Config returns the merged config in effect. It must not be modified.
func (s *Store) Config() *config.RoutingConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Subscribe returns a channel that receives the latest version after
// each applied merge. Slow subscribers only see the most recent value.
func (s *Store) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subsMu.Unlock()

	return ch, func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify(version uint64) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- version
	}
}

// Package provider defines the sources of routing fragments. Each
// provider parses what it reads and hands the fragment to the store.
package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
)

// Merger receives fragments; *store.Store in production.
type Merger interface {
	Merge(fragment *config.RoutingConfig) (uint64, error)
}

// Provider feeds fragments to a Merger until ctx ends.
type Provider interface {
	Name() string
	Provide(ctx context.Context, m Merger) error
}

// Apply parses data and merges it. A fragment that fails to parse is
// reported to m when it implements Reject; the store is left unchanged.
func Apply(m Merger, provider, source string, data []byte) (uint64, error) {
	frag, err := config.NewLoader().ParseRouting(data)
	if err != nil {
		err = fmt.Errorf("%s %s: %w", provider, source, err)
		if r, ok := m.(interface{ Reject(error) }); ok {
			r.Reject(err)
		}
		return 0, err
	}
	v, err := m.Merge(frag)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", provider, source, err)
	}
	logging.Debug("routing fragment applied",
		zap.String("provider", provider),
		zap.String("source", source),
		zap.Uint64("version", v),
	)
	return v, nil
}

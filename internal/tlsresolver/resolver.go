// Package tlsresolver serves entrypoint certificates from files on disk,
// reloading them when the files change.
package tlsresolver

import (
	"context"
	"crypto/tls"
	"fmt"
	"sort"

	"github.com/matthewpi/certwatcher"
	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/logging"
)

// Resolver holds one watched TLS config per named cert resolver.
type Resolver struct {
	configs map[string]*tls.Config
}

// New loads every configured resolver. The watchers stop with ctx.
func New(ctx context.Context, resolvers map[string]config.CertResolverConfig) (*Resolver, error) {
	r := &Resolver{configs: make(map[string]*tls.Config, len(resolvers))}
	for name, rc := range resolvers {
		if rc.CertFile == "" || rc.KeyFile == "" {
			return nil, fmt.Errorf("cert resolver %s: certFile and keyFile are required", name)
		}
		w := &certwatcher.TLSConfig{
			CertPath: rc.CertFile,
			KeyPath:  rc.KeyFile,
			Config: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			DontStaple: true,
		}
		cfg, err := w.GetTLSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("cert resolver %s: %w", name, err)
		}
		r.configs[name] = cfg
		logging.Info("cert resolver loaded",
			zap.String("resolver", name),
			zap.String("cert", rc.CertFile),
		)
	}
	return r, nil
}

// TLSConfig returns a copy of the named resolver's config, safe for the
// caller to adjust (NextProtos for instance).
func (r *Resolver) TLSConfig(name string) (*tls.Config, error) {
	if r == nil {
		return nil, fmt.Errorf("cert resolver %q not configured", name)
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("cert resolver %q not configured", name)
	}
	return cfg.Clone(), nil
}

// Names lists the configured resolvers.
func (r *Resolver) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.configs))
	for n := range r.configs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Package server wires the store, providers, listeners and admin API
// together and runs them until shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/verkehr/internal/admin"
	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/listener"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/middleware/edge"
	"github.com/wudi/verkehr/internal/provider"
	"github.com/wudi/verkehr/internal/provider/consul"
	"github.com/wudi/verkehr/internal/provider/etcd"
	"github.com/wudi/verkehr/internal/provider/file"
	"github.com/wudi/verkehr/internal/proxy"
	"github.com/wudi/verkehr/internal/proxy/tcp"
	"github.com/wudi/verkehr/internal/proxy/udp"
	"github.com/wudi/verkehr/internal/routingcache"
	"github.com/wudi/verkehr/internal/store"
	"github.com/wudi/verkehr/internal/tlsresolver"
)

// ShutdownTimeout bounds the graceful stop of all listeners.
const ShutdownTimeout = 30 * time.Second

// Server owns every long-lived component of the process.
type Server struct {
	cfg       *config.Config
	metrics   *metrics.Collector
	store     *store.Store
	cache     *routingcache.Cache
	transport *http.Transport
	certs     *tlsresolver.Resolver
	manager   *listener.Manager
	admin     *admin.Server
	providers []provider.Provider
	file      *file.Provider
}

// New builds the server from static configuration. Cert resolver
// watchers run until ctx ends.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	certs, err := tlsresolver.New(ctx, cfg.CertResolvers)
	if err != nil {
		return nil, err
	}

	m := metrics.NewCollector()
	st := store.New(store.WithMetrics(m))
	s := &Server{
		cfg:     cfg,
		metrics: m,
		store:   st,
		cache: routingcache.New(st,
			routingcache.WithMetrics(m),
			routingcache.WithSize(cfg.RoutingCache.Shards, cfg.RoutingCache.Size),
		),
		transport: proxy.NewTransport(cfg.ServersTransport),
		certs:     certs,
	}
	s.manager = listener.NewManager(s.newListener)

	if cfg.Admin.Enabled {
		s.admin = admin.New(st, admin.Options{
			Address:   cfg.Admin.Address,
			REST:      cfg.Providers.REST != nil && cfg.Providers.REST.Enabled,
			Metrics:   m,
			Listeners: s.manager,
		})
	}

	if err := s.initProviders(); err != nil {
		return nil, err
	}

	if cfg.Tracing.Propagation {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}
	return s, nil
}

func (s *Server) initProviders() error {
	pc := s.cfg.Providers
	if pc.File != nil {
		s.file = file.New(*pc.File)
		s.providers = append(s.providers, s.file)
	}
	if pc.Etcd != nil {
		p, err := etcd.New(*pc.Etcd)
		if err != nil {
			return err
		}
		s.providers = append(s.providers, p)
	}
	if pc.Consul != nil {
		p, err := consul.New(*pc.Consul)
		if err != nil {
			return err
		}
		s.providers = append(s.providers, p)
	}
	return nil
}

// Store returns the routing store.
func (s *Server) Store() *store.Store { return s.store }

// Listeners returns the listener manager.
func (s *Server) Listeners() *listener.Manager { return s.manager }

// newListener is the listener factory for every entrypoint section.
func (s *Server) newListener(protocol, name string, ep *config.Entrypoint) (listener.Listener, error) {
	id := listener.ID(protocol, name)
	switch protocol {
	case listener.ProtocolHTTP:
		var tlsCfg *tls.Config
		if ep.CertResolver != "" {
			var err error
			if tlsCfg, err = s.certs.TLSConfig(ep.CertResolver); err != nil {
				return nil, err
			}
		}
		return listener.NewHTTPListener(listener.HTTPListenerConfig{
			ID:           id,
			Address:      ep.Address,
			Handler:      s.httpHandler(name, ep),
			TLS:          tlsCfg,
			EnableHTTP3:  ep.HTTP3,
			ReadTimeout:  ep.ReadTimeout,
			WriteTimeout: ep.WriteTimeout,
			IdleTimeout:  ep.IdleTimeout,
		})

	case listener.ProtocolTCP:
		return listener.NewTCPListener(listener.TCPListenerConfig{
			ID:      id,
			Address: ep.Address,
			Handler: tcp.NewForwarder(name, s.store, tcp.Config{
				DialTimeout: s.cfg.ServersTransport.DialTimeout,
				IdleTimeout: ep.IdleTimeout,
			}),
		})

	case listener.ProtocolUDP:
		return listener.NewUDPListener(listener.UDPListenerConfig{
			ID:      id,
			Address: ep.Address,
			Server:  udp.NewForwarder(name, s.store, udp.Config{SessionTimeout: ep.IdleTimeout}),
		})

	default:
		return nil, fmt.Errorf("unknown protocol %q for entrypoint %s", protocol, name)
	}
}

func (s *Server) httpHandler(name string, ep *config.Entrypoint) http.Handler {
	fwd := proxy.NewForwarder(name, s.cache, proxy.Options{
		Transport: s.transport,
		Tunneler:  proxy.NewTunneler(ep.Connect, s.metrics),
		Metrics:   s.metrics,
		Propagate: s.cfg.Tracing.Propagation,
	})
	chain := edge.NewChain(edge.Recovery(), edge.RequestID(false)).
		AppendIf(s.cfg.Log.AccessLog, edge.AccessLog(logging.Global().Named("access"), name))
	return chain.Then(fwd)
}

// Reload re-merges the file provider's file.
func (s *Server) Reload() error {
	if s.file == nil {
		return errors.New("no file provider configured")
	}
	return s.file.Reload()
}

// Run starts providers, the admin API and listener reconciliation and
// blocks until ctx ends, a component fails or SIGINT/SIGTERM arrives.
// SIGHUP reloads the file provider.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	versions, unsubscribe := s.store.Subscribe()
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	for _, p := range s.providers {
		g.Go(func() error {
			if err := p.Provide(gctx, s.store); err != nil {
				return fmt.Errorf("provider %s: %w", p.Name(), err)
			}
			return nil
		})
	}

	if s.admin != nil {
		g.Go(func() error { return s.admin.Serve(gctx) })
	}

	g.Go(func() error {
		s.reconcile(gctx)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-versions:
				s.reconcile(gctx)
			}
		}
	})

	g.Go(func() error {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(sigs)
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigs:
				if sig == syscall.SIGHUP {
					if err := s.Reload(); err != nil {
						logging.Error("config reload failed", zap.Error(err))
					}
					continue
				}
				logging.Info("shutting down gracefully", zap.String("signal", sig.String()))
				cancel()
				return nil
			}
		}
	})

	err := g.Wait()
	if shutdownErr := s.shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

func (s *Server) reconcile(ctx context.Context) {
	if err := s.manager.Reconcile(ctx, s.store.Config()); err != nil {
		logging.Error("listener reconciliation failed",
			zap.Uint64("version", s.store.Version()),
			zap.Error(err),
		)
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.manager.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, p := range s.providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("provider %s: %w", p.Name(), err))
			}
		}
	}
	s.transport.CloseIdleConnections()
	logging.Info("server shutdown complete")
	return errors.Join(errs...)
}

package config

import (
	"fmt"
	"strings"
)

// ValidationError reports a structurally malformed routing fragment.
type ValidationError struct {
	Section string // http, tcp or udp
	Kind    string // entrypoint, router, middleware, service
	Name    string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s %q: %s", e.Section, e.Kind, e.Name, e.Reason)
}

// ValidateRouting checks shape only. Names referenced by routers are
// not required to exist; those are resolved leniently per request.
func ValidateRouting(rc *RoutingConfig) error {
	if rc == nil {
		return nil
	}
	if rc.HTTP != nil {
		if err := validateEntrypoints("http", rc.HTTP.Entrypoints); err != nil {
			return err
		}
		if err := validateMiddlewares("http", rc.HTTP.Middlewares); err != nil {
			return err
		}
		for name, r := range rc.HTTP.Routers {
			if r == nil || strings.TrimSpace(r.Rule) == "" {
				return &ValidationError{"http", "router", name, "rule is required"}
			}
		}
		for name, s := range rc.HTTP.Services {
			if s == nil {
				return &ValidationError{"http", "service", name, "empty definition"}
			}
		}
	}
	if rc.TCP != nil {
		if err := validateEntrypoints("tcp", rc.TCP.Entrypoints); err != nil {
			return err
		}
		if err := validateMiddlewares("tcp", rc.TCP.Middlewares); err != nil {
			return err
		}
		for name, r := range rc.TCP.Routers {
			if r == nil || strings.TrimSpace(r.Rule) == "" {
				return &ValidationError{"tcp", "router", name, "rule is required"}
			}
		}
	}
	if rc.UDP != nil {
		if err := validateEntrypoints("udp", rc.UDP.Entrypoints); err != nil {
			return err
		}
		if err := validateMiddlewares("udp", rc.UDP.Middlewares); err != nil {
			return err
		}
		for name, r := range rc.UDP.Routers {
			if r == nil {
				return &ValidationError{"udp", "router", name, "empty definition"}
			}
		}
	}
	return nil
}

func validateEntrypoints(section string, eps map[string]*Entrypoint) error {
	for name, ep := range eps {
		if ep == nil || ep.Address == "" {
			return &ValidationError{section, "entrypoint", name, "address is required"}
		}
	}
	return nil
}

func validateMiddlewares(section string, mws map[string]*Middleware) error {
	for name, mw := range mws {
		if mw == nil {
			return &ValidationError{section, "middleware", name, "empty definition"}
		}
		switch v := mw.Variants(); len(v) {
		case 1:
		case 0:
			return &ValidationError{section, "middleware", name, "no variant configured"}
		default:
			return &ValidationError{section, "middleware", name, "multiple variants configured: " + strings.Join(v, ", ")}
		}
		if d := mw.directionOf(); d != "" && d != DirectionIncoming && d != DirectionOutgoing {
			return &ValidationError{section, "middleware", name, fmt.Sprintf("invalid direction %q", d)}
		}
	}
	return nil
}

func (m *Middleware) directionOf() Direction {
	switch {
	case m.Headers != nil:
		return m.Headers.Direction
	case m.Compress != nil:
		return m.Compress.Direction
	}
	return ""
}

func validateStatic(cfg *Config) error {
	if cfg.Admin.Enabled && cfg.Admin.Address == "" {
		return fmt.Errorf("admin: address is required when enabled")
	}
	for name, r := range cfg.CertResolvers {
		if r.CertFile == "" || r.KeyFile == "" {
			return fmt.Errorf("certResolvers.%s: certFile and keyFile are required", name)
		}
	}
	if cfg.RoutingCache.Shards <= 0 {
		return fmt.Errorf("routingCache: shards must be positive")
	}
	if cfg.RoutingCache.Size <= 0 {
		return fmt.Errorf("routingCache: size must be positive")
	}
	p := cfg.Providers
	if p.File != nil && p.File.Path == "" {
		return fmt.Errorf("providers.file: path is required")
	}
	if p.Etcd != nil && len(p.Etcd.Endpoints) == 0 {
		return fmt.Errorf("providers.etcd: at least one endpoint is required")
	}
	if p.Consul != nil && p.Consul.Prefix == "" {
		return fmt.Errorf("providers.consul: prefix is required")
	}
	switch cfg.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("log: invalid format %q", cfg.Log.Format)
	}
	return nil
}

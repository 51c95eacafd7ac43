// Package router compiles a RoutingConfig into a lookup table and
// selects the router that handles a request or connection.
package router

import (
	"fmt"
	"sort"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/middleware"
	"github.com/wudi/verkehr/internal/rule"
)

// Resolution is what the selector returns for an HTTP request. It is an
// immutable snapshot built with the table and shared by every request
// routed to the same router.
type Resolution struct {
	RouterName  string
	Router      *config.Router
	ServiceName string
	// Service is nil when the router's service name does not resolve.
	Service     *config.Service
	Middlewares middleware.Chain

	rule     *rule.Rule
	priority int
}

type TCPResolution struct {
	RouterName  string
	Router      *config.TCPRouter
	ServiceName string
	Service     *config.TCPService

	rule     *rule.Rule
	priority int
}

type UDPResolution struct {
	RouterName  string
	Router      *config.UDPRouter
	ServiceName string
	Service     *config.TCPService
}

// Table is a compiled, immutable routing table for one config version.
type Table struct {
	version uint64
	config  *config.RoutingConfig

	http map[string][]*Resolution // entrypoint -> candidates in precedence order
	tcp  map[string][]*TCPResolution
	udp  map[string][]*UDPResolution

	sni map[string]bool // tcp entrypoint -> some rule needs the server name

	middlewares map[string]compiledMiddleware
}

type compiledMiddleware struct {
	cfg *config.Middleware
	mw  *middleware.Middleware
}

// NewTable compiles cfg. Any rule or middleware that fails to compile
// fails the whole table. Middlewares whose definition is the same
// object as in prev are reused, so stateful variants such as RateLimit
// keep their state across merges.
func NewTable(cfg *config.RoutingConfig, prev *Table) (*Table, error) {
	if cfg == nil {
		cfg = &config.RoutingConfig{}
	}
	t := &Table{
		version:     cfg.Version,
		config:      cfg,
		http:        make(map[string][]*Resolution),
		tcp:         make(map[string][]*TCPResolution),
		udp:         make(map[string][]*UDPResolution),
		sni:         make(map[string]bool),
		middlewares: make(map[string]compiledMiddleware),
	}
	if err := t.compileHTTP(cfg.HTTP, prev); err != nil {
		return nil, err
	}
	if err := t.compileTCP(cfg.TCP); err != nil {
		return nil, err
	}
	t.compileUDP(cfg.UDP)
	return t, nil
}

func (t *Table) compileHTTP(hc *config.HTTPConfig, prev *Table) error {
	if hc == nil {
		return nil
	}
	for name, mc := range hc.Middlewares {
		if prev != nil {
			if old, ok := prev.middlewares[name]; ok && old.cfg == mc {
				t.middlewares[name] = old
				continue
			}
		}
		mw, err := middleware.New(name, mc)
		if err != nil {
			return err
		}
		t.middlewares[name] = compiledMiddleware{cfg: mc, mw: mw}
	}

	for name, rc := range hc.Routers {
		if rc == nil {
			continue
		}
		r, err := rule.CompileHTTP(rc.Rule)
		if err != nil {
			return fmt.Errorf("router %s: %w", name, err)
		}
		res := &Resolution{
			RouterName:  name,
			Router:      rc,
			ServiceName: rc.Service,
			Service:     hc.Services[rc.Service],
			rule:        r,
			priority:    rc.Priority,
		}
		// unknown middleware names are skipped
		for _, mname := range rc.Middlewares {
			if m, ok := t.middlewares[mname]; ok {
				res.Middlewares = append(res.Middlewares, m.mw)
			}
		}
		for _, ep := range rc.Entrypoints {
			t.http[ep] = append(t.http[ep], res)
		}
	}
	for _, list := range t.http {
		sort.Slice(list, func(i, j int) bool {
			return precedes(list[i].priority, list[i].rule.Len(), list[i].RouterName,
				list[j].priority, list[j].rule.Len(), list[j].RouterName)
		})
	}
	return nil
}

func (t *Table) compileTCP(tc *config.TCPConfig) error {
	if tc == nil {
		return nil
	}
	for name, rc := range tc.Routers {
		if rc == nil {
			continue
		}
		r, err := rule.CompileTCP(rc.Rule)
		if err != nil {
			return fmt.Errorf("tcp router %s: %w", name, err)
		}
		res := &TCPResolution{
			RouterName:  name,
			Router:      rc,
			ServiceName: rc.Service,
			Service:     tc.Services[rc.Service],
			rule:        r,
			priority:    rc.Priority,
		}
		for _, ep := range rc.Entrypoints {
			t.tcp[ep] = append(t.tcp[ep], res)
			if r.NeedsSNI() {
				t.sni[ep] = true
			}
		}
	}
	for _, list := range t.tcp {
		sort.Slice(list, func(i, j int) bool {
			return precedes(list[i].priority, list[i].rule.Len(), list[i].RouterName,
				list[j].priority, list[j].rule.Len(), list[j].RouterName)
		})
	}
	return nil
}

func (t *Table) compileUDP(uc *config.UDPConfig) {
	if uc == nil {
		return
	}
	for name, rc := range uc.Routers {
		if rc == nil {
			continue
		}
		res := &UDPResolution{
			RouterName:  name,
			Router:      rc,
			ServiceName: rc.Service,
			Service:     uc.Services[rc.Service],
		}
		for _, ep := range rc.Entrypoints {
			t.udp[ep] = append(t.udp[ep], res)
		}
	}
	for _, list := range t.udp {
		sort.Slice(list, func(i, j int) bool {
			a, b := list[i], list[j]
			if a.Router.Priority != b.Router.Priority {
				return a.Router.Priority > b.Router.Priority
			}
			return a.RouterName < b.RouterName
		})
	}
}

// precedes orders routers by priority, then raw rule length, then name.
func precedes(pa, la int, na string, pb, lb int, nb string) bool {
	if pa != pb {
		return pa > pb
	}
	if la != lb {
		return la > lb
	}
	return na < nb
}

// Version is the config version the table was compiled from.
func (t *Table) Version() uint64 { return t.version }

// Config returns the merged config the table was compiled from. It must
// not be modified.
func (t *Table) Config() *config.RoutingConfig { return t.config }

// Middleware returns a compiled middleware by name.
func (t *Table) Middleware(name string) (*middleware.Middleware, bool) {
	m, ok := t.middlewares[name]
	return m.mw, ok
}

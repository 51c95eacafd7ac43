// Package middleware implements the per-router request/response
// pipeline. A middleware is a closed set of variants; each phase
// dispatches with a single switch over the variant kind.
package middleware

import (
	"fmt"
	"net/http"
	"net/netip"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
)

// Response is a complete, buffered HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// NewResponse returns an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{StatusCode: status, Header: make(http.Header)}
}

// ErrorResponse renders a ProxyError as a Response.
func ErrorResponse(e *errors.ProxyError) *Response {
	resp := NewResponse(e.Code)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = e.Body()
	return resp
}

// Outcome is the result of one middleware step: continue or respond now.
type Outcome struct {
	resp *Response
}

// Continue lets the chain proceed.
func Continue() Outcome { return Outcome{} }

// Respond stops the chain; resp is what the client receives.
func Respond(resp *Response) Outcome { return Outcome{resp: resp} }

// Response returns the short-circuit response, if any.
func (o Outcome) Response() (*Response, bool) {
	return o.resp, o.resp != nil
}

// Context is per-request state shared by every middleware of a chain.
type Context struct {
	ClientIP   netip.Addr
	Entrypoint string
	Router     string

	// Preload holds headers queued for the final response, whatever
	// produces it. Headers already present on the response win.
	Preload http.Header

	corsLoaded bool
}

func NewContext(entrypoint string, clientIP netip.Addr) *Context {
	return &Context{
		ClientIP:   clientIP,
		Entrypoint: entrypoint,
		Preload:    make(http.Header),
	}
}

// ApplyPreload copies queued headers onto resp where resp lacks them.
func (c *Context) ApplyPreload(resp *Response) {
	for k, vs := range c.Preload {
		if _, ok := resp.Header[k]; ok {
			continue
		}
		resp.Header[k] = append([]string(nil), vs...)
	}
}

// Kind identifies a middleware variant.
type Kind int

const (
	KindAddPrefix Kind = iota
	KindBasicAuth
	KindCompress
	KindCors
	KindHeaders
	KindRedirectScheme
	KindRateLimit
	KindRetry
	KindStripPrefix
	KindForwardAuth
	KindIPAllowList
)

var kindNames = [...]string{
	KindAddPrefix:      "addPrefix",
	KindBasicAuth:      "basicAuth",
	KindCompress:       "compress",
	KindCors:           "cors",
	KindHeaders:        "headers",
	KindRedirectScheme: "redirectScheme",
	KindRateLimit:      "rateLimit",
	KindRetry:          "retry",
	KindStripPrefix:    "stripPrefix",
	KindForwardAuth:    "forwardAuth",
	KindIPAllowList:    "ipAllowList",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Middleware is a compiled, named middleware. It is immutable after New
// and safe for concurrent use.
type Middleware struct {
	name string
	kind Kind

	addPrefix      *addPrefix
	basicAuth      *basicAuth
	compress       *compress
	cors           *cors
	headers        *headers
	redirectScheme *redirectScheme
	rateLimit      *rateLimit
	retry          *retry
	stripPrefix    *stripPrefix
	forwardAuth    *forwardAuth
	ipAllowList    *ipAllowList
}

func (m *Middleware) Name() string { return m.name }
func (m *Middleware) Kind() Kind   { return m.kind }

// New compiles the configured variant of cfg.
func New(name string, cfg *config.Middleware) (*Middleware, error) {
	if cfg == nil {
		return nil, fmt.Errorf("middleware %s: empty definition", name)
	}
	if v := cfg.Variants(); len(v) != 1 {
		return nil, fmt.Errorf("middleware %s: expected exactly one variant, got %d", name, len(v))
	}

	m := &Middleware{name: name}
	var err error
	switch {
	case cfg.AddPrefix != nil:
		m.kind, m.addPrefix = KindAddPrefix, newAddPrefix(cfg.AddPrefix)
	case cfg.BasicAuth != nil:
		m.kind = KindBasicAuth
		m.basicAuth, err = newBasicAuth(cfg.BasicAuth)
	case cfg.Compress != nil:
		m.kind = KindCompress
		m.compress, err = newCompress(cfg.Compress)
	case cfg.Cors != nil:
		m.kind, m.cors = KindCors, newCors(cfg.Cors)
	case cfg.Headers != nil:
		m.kind, m.headers = KindHeaders, newHeaders(cfg.Headers)
	case cfg.RedirectScheme != nil:
		m.kind = KindRedirectScheme
		m.redirectScheme, err = newRedirectScheme(cfg.RedirectScheme)
	case cfg.RateLimit != nil:
		m.kind = KindRateLimit
		m.rateLimit, err = newRateLimit(cfg.RateLimit)
	case cfg.Retry != nil:
		m.kind, m.retry = KindRetry, &retry{attempts: cfg.Retry.Attempts, initialInterval: cfg.Retry.InitialInterval}
	case cfg.StripPrefix != nil:
		m.kind, m.stripPrefix = KindStripPrefix, newStripPrefix(cfg.StripPrefix)
	case cfg.ForwardAuth != nil:
		m.kind = KindForwardAuth
		m.forwardAuth, err = newForwardAuth(cfg.ForwardAuth)
	case cfg.IPAllowList != nil:
		m.kind = KindIPAllowList
		m.ipAllowList, err = newIPAllowList(cfg.IPAllowList)
	}
	if err != nil {
		return nil, fmt.Errorf("middleware %s: %w", name, err)
	}
	return m, nil
}

// Incoming runs the request phase. It may modify req in place.
func (m *Middleware) Incoming(req *http.Request, rc *Context) Outcome {
	switch m.kind {
	case KindAddPrefix:
		return m.addPrefix.incoming(req)
	case KindBasicAuth:
		return m.basicAuth.incoming(req)
	case KindCompress:
		return Continue()
	case KindCors:
		return m.cors.incoming(req, rc)
	case KindHeaders:
		return m.headers.incoming(req)
	case KindRedirectScheme:
		return m.redirectScheme.incoming(req)
	case KindRateLimit:
		return m.rateLimit.incoming(rc)
	case KindRetry:
		return Continue()
	case KindStripPrefix:
		return m.stripPrefix.incoming(req)
	case KindForwardAuth:
		return m.forwardAuth.incoming(req, rc)
	case KindIPAllowList:
		return m.ipAllowList.incoming(rc)
	}
	return Continue()
}

// Outgoing runs the response phase. It may modify resp in place.
func (m *Middleware) Outgoing(req *http.Request, resp *Response, rc *Context) Outcome {
	switch m.kind {
	case KindAddPrefix, KindBasicAuth, KindCors, KindRateLimit,
		KindRetry, KindStripPrefix, KindForwardAuth, KindIPAllowList:
		return Continue()
	case KindCompress:
		return m.compress.outgoing(req, resp)
	case KindHeaders:
		return m.headers.outgoing(resp)
	case KindRedirectScheme:
		return m.redirectScheme.incoming(req)
	}
	return Continue()
}

// Redirect builds the redirect response of a RedirectScheme middleware
// unconditionally. ok is false for other variants.
func (m *Middleware) Redirect(req *http.Request) (resp *Response, ok bool) {
	if m.kind != KindRedirectScheme {
		return nil, false
	}
	return m.redirectScheme.redirect(req), true
}

// Chain is the ordered middleware list of a router.
type Chain []*Middleware

// Incoming runs the request phase in order. When a middleware
// short-circuits, its response and the middleware are returned and the
// rest of the chain does not run.
func (c Chain) Incoming(req *http.Request, rc *Context) (*Response, *Middleware) {
	for _, m := range c {
		if resp, ok := m.Incoming(req, rc).Response(); ok {
			return resp, m
		}
	}
	return nil, nil
}

// Outgoing runs the response phase in the same order as Incoming. It
// returns the response to send: resp, possibly modified, or the
// replacement produced by a short-circuiting middleware.
func (c Chain) Outgoing(req *http.Request, resp *Response, rc *Context) (*Response, *Middleware) {
	for _, m := range c {
		if repl, ok := m.Outgoing(req, resp, rc).Response(); ok {
			return repl, m
		}
	}
	return resp, nil
}

// FindRedirect returns the first RedirectScheme middleware of the chain.
func (c Chain) FindRedirect() *Middleware {
	for _, m := range c {
		if m.kind == KindRedirectScheme {
			return m
		}
	}
	return nil
}

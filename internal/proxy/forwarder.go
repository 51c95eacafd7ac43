// Package proxy implements the HTTP forwarder: routing, the middleware
// pipeline around a buffered backend round trip, and CONNECT tunnels.
package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/errors"
	"github.com/wudi/verkehr/internal/logging"
	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/middleware"
	"github.com/wudi/verkehr/internal/middleware/edge"
	"github.com/wudi/verkehr/internal/router"
	"github.com/wudi/verkehr/internal/rule"
)

// Resolver finds the router for a request; the routing cache in production.
type Resolver interface {
	Lookup(entrypoint string, req *rule.Request) (*router.Resolution, error)
}

type Options struct {
	Transport http.RoundTripper
	Tunneler  *Tunneler
	Metrics   *metrics.Collector
	// Propagate injects the global otel text map propagator's headers
	// into upstream requests.
	Propagate bool
}

// Forwarder serves every HTTP request of one entrypoint.
type Forwarder struct {
	entrypoint string
	resolver   Resolver
	transport  http.RoundTripper
	tunnel     *Tunneler
	metrics    *metrics.Collector
	propagate  bool
}

func NewForwarder(entrypoint string, resolver Resolver, opts Options) *Forwarder {
	f := &Forwarder{
		entrypoint: entrypoint,
		resolver:   resolver,
		transport:  opts.Transport,
		tunnel:     opts.Tunneler,
		metrics:    opts.Metrics,
		propagate:  opts.Propagate,
	}
	if f.transport == nil {
		f.transport = NewTransport(DefaultTransportConfig)
	}
	if f.tunnel == nil {
		f.tunnel = NewTunneler(nil, opts.Metrics)
	}
	return f
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if r.Method == http.MethodConnect {
		// tunnels are not routed
		f.tunnel.ServeHTTP(w, r)
		return
	}

	clientIP := clientAddr(r.RemoteAddr)
	res, err := f.resolver.Lookup(f.entrypoint, &rule.Request{
		Method:   r.Method,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		ClientIP: clientIP,
	})
	if err != nil {
		f.writeError(w, r, err, "", start)
		return
	}

	rc := middleware.NewContext(f.entrypoint, clientIP)
	rc.Router = res.RouterName
	resp := f.forward(r, res, rc)
	rc.ApplyPreload(resp)
	f.write(w, r, resp)
	f.metrics.RecordRequest(f.entrypoint, res.RouterName, resp.StatusCode, time.Since(start))
}

// forward runs the incoming chain, the backend call and the outgoing
// chain, and returns the response for the client.
func (f *Forwarder) forward(r *http.Request, res *router.Resolution, rc *middleware.Context) *middleware.Response {
	if resp, by := res.Middlewares.Incoming(r, rc); resp != nil {
		f.metrics.RecordShortCircuit(by.Name())
		return resp
	}

	server, ok := res.Service.FirstServer()
	if !ok {
		// a router may exist only to redirect
		if m := res.Middlewares.FindRedirect(); m != nil {
			resp, _ := m.Redirect(r)
			return resp
		}
		return f.errorResponse(r, errors.ErrNoBackendResolvable.WithDetails("service "+res.ServiceName+" has no server"))
	}
	target, err := url.Parse(server.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return f.errorResponse(r, errors.ErrNoBackendResolvable.WithDetails("invalid server url "+server.URL))
	}

	upstream := upstreamRequest(r.Context(), r, target, rc.ClientIP, res.Service.PassHost(), f.propagate)
	backendResp, err := f.transport.RoundTrip(upstream)
	if err != nil {
		logging.Warn("backend request failed",
			zap.String("router", res.RouterName),
			zap.String("backend", server.URL),
			zap.Error(err),
		)
		if stderrors.Is(err, context.DeadlineExceeded) {
			return f.errorResponse(r, errors.ErrGatewayTimeout)
		}
		return f.errorResponse(r, errors.ErrBadGateway.WithDetails(err.Error()))
	}
	body, err := io.ReadAll(backendResp.Body)
	backendResp.Body.Close()
	if err != nil {
		logging.Warn("backend response body read failed",
			zap.String("router", res.RouterName),
			zap.String("backend", server.URL),
			zap.Error(err),
		)
		return f.errorResponse(r, errors.ErrBadGateway.WithDetails(err.Error()))
	}

	resp, by := res.Middlewares.Outgoing(r, bufferedResponse(backendResp, body), rc)
	if by != nil {
		f.metrics.RecordShortCircuit(by.Name())
	}
	return resp
}

func (f *Forwarder) errorResponse(r *http.Request, e *errors.ProxyError) *middleware.Response {
	if id := edge.RequestIDFrom(r.Context()); id != "" {
		e = e.WithRequestID(id)
	}
	return middleware.ErrorResponse(e)
}

func (f *Forwarder) writeError(w http.ResponseWriter, r *http.Request, err error, routerName string, start time.Time) {
	pe, ok := errors.AsProxyError(err)
	if !ok {
		pe = errors.ErrInternalServer.WithCause(err)
	}
	resp := f.errorResponse(r, pe)
	f.write(w, r, resp)
	f.metrics.RecordRequest(f.entrypoint, routerName, resp.StatusCode, time.Since(start))
}

// write sends a buffered response. Content-Length is recomputed from the
// body except where the body is empty by definition.
func (f *Forwarder) write(w http.ResponseWriter, r *http.Request, resp *middleware.Response) {
	h := w.Header()
	for k, vv := range resp.Header {
		h[k] = vv
	}
	bodyless := r.Method == http.MethodHead ||
		resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusNotModified ||
		(resp.StatusCode >= 100 && resp.StatusCode < 200)
	if !bodyless {
		h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}
	w.WriteHeader(resp.StatusCode)
	if !bodyless && len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// clientAddr parses the IP of a RemoteAddr, without the port.
func clientAddr(remote string) netip.Addr {
	if ap, err := netip.ParseAddrPort(remote); err == nil {
		return ap.Addr().Unmap()
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	a, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return a.Unmap()
}

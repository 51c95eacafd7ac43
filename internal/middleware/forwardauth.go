package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
	"github.com/wudi/verkehr/internal/logging"
)

const (
	defaultForwardAuthTimeout = 30 * time.Second
	maxAuthResponseBody       = 1 << 20
)

type forwardAuth struct {
	address         string
	trustForwarded  bool
	responseHeaders []string
	requestHeaders  []string
	timeout         time.Duration
	client          *http.Client
}

func newForwardAuth(cfg *config.ForwardAuth) (*forwardAuth, error) {
	u, err := url.Parse(cfg.Address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid address %q", cfg.Address)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultForwardAuthTimeout
	}
	return &forwardAuth{
		address:         cfg.Address,
		trustForwarded:  cfg.TrustForwardHeader,
		responseHeaders: cfg.AuthResponseHeaders,
		requestHeaders:  cfg.AuthRequestHeaders,
		timeout:         timeout,
		client: &http.Client{
			// the auth server's redirects are returned to the client
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}, nil
}

// incoming asks the auth server about the request. A 2xx reply lets the
// request through with the selected reply headers copied onto it; any
// other reply is returned to the client as is.
func (f *forwardAuth) incoming(req *http.Request, rc *Context) Outcome {
	ctx, cancel := context.WithTimeout(req.Context(), f.timeout)
	defer cancel()

	authReq, err := http.NewRequestWithContext(ctx, http.MethodGet, f.address, nil)
	if err != nil {
		return Respond(ErrorResponse(errors.ErrInternalServer))
	}
	f.copyRequestHeaders(authReq.Header, req)
	f.setForwarded(authReq.Header, req, rc)

	authResp, err := f.client.Do(authReq)
	if err != nil {
		logging.Warn("forward auth request failed", zap.String("address", f.address), zap.Error(err))
		return Respond(ErrorResponse(errors.ErrInternalServer.WithDetails("authentication service unavailable")))
	}
	defer authResp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(authResp.Body, maxAuthResponseBody))

	if authResp.StatusCode >= 200 && authResp.StatusCode < 300 {
		for _, h := range f.responseHeaders {
			if vs := authResp.Header.Values(h); len(vs) > 0 {
				req.Header.Del(h)
				for _, v := range vs {
					req.Header.Add(h, v)
				}
			}
		}
		return Continue()
	}

	resp := NewResponse(authResp.StatusCode)
	for k, vs := range authResp.Header {
		if k == "Content-Length" || k == "Transfer-Encoding" || k == "Connection" {
			continue
		}
		resp.Header[k] = vs
	}
	resp.Body = body
	return Respond(resp)
}

func (f *forwardAuth) copyRequestHeaders(dst http.Header, req *http.Request) {
	if len(f.requestHeaders) == 0 {
		for k, vs := range req.Header {
			dst[k] = append([]string(nil), vs...)
		}
		return
	}
	for _, h := range f.requestHeaders {
		for _, v := range req.Header.Values(h) {
			dst.Add(h, v)
		}
	}
}

func (f *forwardAuth) setForwarded(dst http.Header, req *http.Request, rc *Context) {
	set := func(k, v string) {
		if f.trustForwarded && req.Header.Get(k) != "" {
			dst.Set(k, req.Header.Get(k))
			return
		}
		dst.Set(k, v)
	}
	set("X-Forwarded-Method", req.Method)
	set("X-Forwarded-Proto", RequestScheme(req))
	set("X-Forwarded-Host", req.Host)
	set("X-Forwarded-Uri", req.URL.RequestURI())
	if rc.ClientIP.IsValid() {
		set("X-Forwarded-For", rc.ClientIP.String())
	}
}

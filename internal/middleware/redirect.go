package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/wudi/verkehr/internal/config"
)

var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

type redirectScheme struct {
	scheme    string
	port      string
	permanent bool
}

func newRedirectScheme(cfg *config.RedirectScheme) (*redirectScheme, error) {
	scheme := strings.ToLower(cfg.Scheme)
	if scheme == "" {
		return nil, fmt.Errorf("scheme is required")
	}
	if cfg.Port != "" {
		if n, err := strconv.Atoi(cfg.Port); err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("invalid port %q", cfg.Port)
		}
	}
	return &redirectScheme{scheme: scheme, port: cfg.Port, permanent: cfg.Permanent}, nil
}

// incoming redirects only requests that arrived under another scheme.
func (r *redirectScheme) incoming(req *http.Request) Outcome {
	if RequestScheme(req) == r.scheme {
		return Continue()
	}
	return Respond(r.redirect(req))
}

func (r *redirectScheme) redirect(req *http.Request) *Response {
	host := req.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if r.port != "" && r.port != defaultPorts[r.scheme] {
		host += ":" + r.port
	}

	code := http.StatusFound
	if r.permanent {
		code = http.StatusMovedPermanently
	}
	resp := NewResponse(code)
	resp.Header.Set("Location", r.scheme+"://"+host+req.URL.RequestURI())
	return resp
}

// RequestScheme is the scheme the client used, honouring X-Forwarded-Proto.
func RequestScheme(req *http.Request) string {
	if p := req.Header.Get("X-Forwarded-Proto"); p != "" {
		return strings.ToLower(p)
	}
	if req.TLS != nil {
		return "https"
	}
	return "http"
}

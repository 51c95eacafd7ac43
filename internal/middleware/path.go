package middleware

import (
	"net/http"
	"strings"

	"github.com/wudi/verkehr/internal/config"
)

// ForwardedPrefixHeader records the prefix removed by StripPrefix.
const ForwardedPrefixHeader = "X-Forwarded-Prefix"

type addPrefix struct {
	prefix string
}

func newAddPrefix(cfg *config.AddPrefix) *addPrefix {
	return &addPrefix{prefix: "/" + strings.Trim(cfg.Prefix, "/")}
}

func (a *addPrefix) incoming(req *http.Request) Outcome {
	if a.prefix == "/" {
		return Continue()
	}
	req.URL.Path = a.prefix + ensureLeadingSlash(req.URL.Path)
	if req.URL.RawPath != "" {
		req.URL.RawPath = a.prefix + ensureLeadingSlash(req.URL.RawPath)
	}
	return Continue()
}

type stripPrefix struct {
	prefixes []string
}

func newStripPrefix(cfg *config.StripPrefix) *stripPrefix {
	return &stripPrefix{prefixes: append([]string(nil), cfg.Prefixes...)}
}

// incoming removes the first configured prefix the path starts with.
func (s *stripPrefix) incoming(req *http.Request) Outcome {
	for _, p := range s.prefixes {
		if p == "" || !strings.HasPrefix(req.URL.Path, p) {
			continue
		}
		req.URL.Path = ensureLeadingSlash(strings.TrimPrefix(req.URL.Path, p))
		if req.URL.RawPath != "" && strings.HasPrefix(req.URL.RawPath, p) {
			req.URL.RawPath = ensureLeadingSlash(strings.TrimPrefix(req.URL.RawPath, p))
		} else {
			req.URL.RawPath = ""
		}
		req.Header.Set(ForwardedPrefixHeader, p)
		break
	}
	return Continue()
}

func ensureLeadingSlash(p string) string {
	if p == "" || p[0] != '/' {
		return "/" + p
	}
	return p
}

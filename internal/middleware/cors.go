package middleware

import (
	"net/http"

	"github.com/wudi/verkehr/internal/config"
)

type cors struct {
	headers http.Header
}

func newCors(cfg *config.Cors) *cors {
	h := make(http.Header)
	set := func(k, v string) {
		if v != "" {
			h.Set(k, v)
		}
	}
	set("Access-Control-Allow-Origin", cfg.Origin)
	set("Access-Control-Allow-Methods", cfg.Methods)
	set("Access-Control-Allow-Headers", cfg.Headers)
	set("Access-Control-Max-Age", cfg.Age)
	return &cors{headers: h}
}

// incoming answers OPTIONS directly. Any other request gets the CORS
// headers queued for its final response; only the first Cors middleware
// of a chain queues them.
func (c *cors) incoming(req *http.Request, rc *Context) Outcome {
	if req.Method == http.MethodOptions {
		resp := NewResponse(http.StatusOK)
		for k, vs := range c.headers {
			resp.Header[k] = append([]string(nil), vs...)
		}
		return Respond(resp)
	}
	if rc.corsLoaded {
		return Continue()
	}
	for k, vs := range c.headers {
		rc.Preload[k] = append([]string(nil), vs...)
	}
	rc.corsLoaded = true
	return Continue()
}

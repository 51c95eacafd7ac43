package middleware

import (
	"net/http"

	"github.com/wudi/verkehr/internal/config"
)

type headers struct {
	direction config.Direction
	set       map[string]string
	remove    []string
}

func newHeaders(cfg *config.Headers) *headers {
	h := &headers{direction: cfg.Direction, set: make(map[string]string)}
	if h.direction == "" {
		h.direction = config.DirectionOutgoing
	}
	for k, v := range cfg.CustomHeaders {
		if v == "" {
			h.remove = append(h.remove, k)
			continue
		}
		h.set[k] = v
	}
	return h
}

func (h *headers) incoming(req *http.Request) Outcome {
	if h.direction == config.DirectionIncoming {
		h.apply(req.Header)
	}
	return Continue()
}

func (h *headers) outgoing(resp *Response) Outcome {
	if h.direction == config.DirectionOutgoing {
		h.apply(resp.Header)
	}
	return Continue()
}

func (h *headers) apply(dst http.Header) {
	for _, k := range h.remove {
		dst.Del(k)
	}
	for k, v := range h.set {
		dst.Set(k, v)
	}
}

package proxy

import (
	"context"
	"net/http"
	"net/netip"
	"net/textproto"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wudi/verkehr/internal/middleware"
)

// Hop-by-hop headers, removed in both directions.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, v := range h.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

// upstreamRequest builds the request sent to target: target's scheme
// and authority with r's (possibly rewritten) path and query, over
// HTTP/1.1.
func upstreamRequest(ctx context.Context, r *http.Request, target *url.URL, clientIP netip.Addr, passHost, propagate bool) *http.Request {
	u := &url.URL{
		Scheme:   target.Scheme,
		Host:     target.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
	out := (&http.Request{
		Method:        r.Method,
		URL:           u,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, len(r.Header)+4),
		Body:          r.Body,
		ContentLength: r.ContentLength,
		Host:          target.Host,
	}).WithContext(ctx)
	if r.ContentLength == 0 {
		out.Body = http.NoBody
	}
	for k, vv := range r.Header {
		out.Header[k] = append([]string(nil), vv...)
	}
	removeHopHeaders(out.Header)

	if passHost {
		out.Host = r.Host
	}
	if clientIP.IsValid() {
		ip := clientIP.String()
		// every prior hop, even when split over several header lines
		if prior := out.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			out.Header.Set("X-Forwarded-For", strings.Join(prior, ", ")+", "+ip)
		} else {
			out.Header.Set("X-Forwarded-For", ip)
		}
		out.Header.Set("X-Real-IP", ip)
	}
	out.Header.Set("X-Forwarded-Proto", middleware.RequestScheme(r))
	out.Header.Set("X-Forwarded-Host", r.Host)
	if _, ok := r.Header["User-Agent"]; !ok {
		// keep Go's default agent off the upstream request
		out.Header.Set("User-Agent", "")
	}

	if propagate {
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(out.Header))
	}
	return out
}

// bufferedResponse converts an upstream response with its body fully
// read into a middleware response.
func bufferedResponse(resp *http.Response, body []byte) *middleware.Response {
	out := middleware.NewResponse(resp.StatusCode)
	for k, vv := range resp.Header {
		out.Header[k] = append([]string(nil), vv...)
	}
	removeHopHeaders(out.Header)
	out.Body = body
	return out
}

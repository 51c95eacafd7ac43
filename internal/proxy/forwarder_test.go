package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/metrics"
	"github.com/wudi/verkehr/internal/routingcache"
	"github.com/wudi/verkehr/internal/store"
)

// forwarderFor resolves through a routing cache over a store holding hc,
// as the server wires it.
func forwarderFor(t *testing.T, hc *config.HTTPConfig) *Forwarder {
	t.Helper()
	m := metrics.NewCollector()
	st := store.New(store.WithMetrics(m))
	if hc != nil {
		if _, err := st.Merge(&config.RoutingConfig{HTTP: hc}); err != nil {
			t.Fatalf("Merge: %v", err)
		}
	}
	return NewForwarder("web", routingcache.New(st, routingcache.WithMetrics(m)), Options{Metrics: m})
}

func service(url string) *config.Service {
	return &config.Service{LoadBalancer: &config.LoadBalancer{Servers: []config.Server{{URL: url}}}}
}

func TestForwardSetsClientHeaders(t *testing.T) {
	type seen struct {
		Path, Host, XFF, RealIP, Proto, Conn string
	}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(seen{
			Path:   r.URL.Path,
			Host:   r.Host,
			XFF:    r.Header.Get("X-Forwarded-For"),
			RealIP: r.Header.Get("X-Real-IP"),
			Proto:  r.Header.Get("X-Forwarded-Proto"),
			Conn:   r.Header.Get("X-Hop"),
		})
	}))
	defer backend.Close()

	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{
			"api": {Rule: "Host(`a.com`) && PathPrefix(`/api`)", Entrypoints: []string{"web"}, Service: "svc", Middlewares: []string{"strip"}},
		},
		Services: map[string]*config.Service{"svc": service(backend.URL)},
		Middlewares: map[string]*config.Middleware{
			"strip": {StripPrefix: &config.StripPrefix{Prefixes: []string{"/api"}}},
		},
	})

	req := httptest.NewRequest("GET", "http://a.com/api/items", nil)
	req.RemoteAddr = "192.0.2.7:41000"
	req.Header.Set("X-Forwarded-For", "203.0.113.1")
	req.Header.Set("Connection", "X-Hop")
	req.Header.Set("X-Hop", "1")
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var got seen
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	want := seen{Path: "/items", Host: "a.com", XFF: "203.0.113.1, 192.0.2.7", RealIP: "192.0.2.7", Proto: "http"}
	if got != want {
		t.Errorf("backend saw %+v, want %+v", got, want)
	}
	if cl := rec.Header().Get("Content-Length"); cl != strconv.Itoa(rec.Body.Len()) {
		t.Errorf("Content-Length = %q, body is %d bytes", cl, rec.Body.Len())
	}
}

func TestForwardPassesPathAndResponse(t *testing.T) {
	var path, xff, realIP string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		xff = r.Header.Get("X-Forwarded-For")
		realIP = r.Header.Get("X-Real-IP")
		w.Header().Set("X-Upstream", "kept")
		w.Header().Add("Set-Cookie", "a=1")
		w.Header().Add("Set-Cookie", "b=2")
		w.Header().Set("Connection", "X-Drop")
		w.Header().Set("X-Drop", "1")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("items"))
	}))
	defer backend.Close()

	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{
			"api": {Rule: "Host(`a.com`) && PathPrefix(`/api`)", Entrypoints: []string{"web"}, Service: "svc"},
		},
		Services: map[string]*config.Service{"svc": service(backend.URL)},
	})

	req := httptest.NewRequest("GET", "http://a.com/api/items", nil)
	req.RemoteAddr = "192.0.2.7:41000"
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if path != "/api/items" {
		t.Errorf("upstream path = %q, want /api/items", path)
	}
	if xff != "192.0.2.7" || realIP != "192.0.2.7" {
		t.Errorf("X-Forwarded-For = %q, X-Real-IP = %q", xff, realIP)
	}
	if rec.Body.String() != "items" {
		t.Errorf("body = %q", rec.Body.String())
	}
	h := rec.Header()
	if got := h.Get("X-Upstream"); got != "kept" {
		t.Errorf("X-Upstream = %q, want kept", got)
	}
	if got := h.Values("Set-Cookie"); len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Errorf("Set-Cookie = %q", got)
	}
	if got := h.Get("Content-Type"); got != "text/plain" {
		t.Errorf("Content-Type = %q", got)
	}
	if h.Get("X-Drop") != "" || h.Get("Connection") != "" {
		t.Errorf("hop headers returned: %v", h)
	}
}

func TestForwardPassHostFalse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Host))
	}))
	defer backend.Close()

	no := false
	svc := service(backend.URL)
	svc.LoadBalancer.PassHostHeader = &no
	f := forwarderFor(t, &config.HTTPConfig{
		Routers:  map[string]*config.Router{"r": {Rule: "PathPrefix(`/`)", Entrypoints: []string{"web"}, Service: "svc"}},
		Services: map[string]*config.Service{"svc": svc},
	})

	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest("GET", "http://a.com/", nil))
	if want := strings.TrimPrefix(backend.URL, "http://"); rec.Body.String() != want {
		t.Errorf("upstream Host = %q, want %q", rec.Body.String(), want)
	}
}

func TestForwardNoRoute(t *testing.T) {
	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{"r": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Service: "svc"}},
	})
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest("GET", "http://b.com/", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestForwardRedirectWithoutService(t *testing.T) {
	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{
			"r": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Service: "nowhere", Middlewares: []string{"toHTTP"}},
		},
		Middlewares: map[string]*config.Middleware{
			"toHTTP": {RedirectScheme: &config.RedirectScheme{Scheme: "http", Port: "8080", Permanent: true}},
		},
	})
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest("GET", "http://a.com/x?y=1", nil))

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "http://a.com:8080/x?y=1" {
		t.Errorf("Location = %q", loc)
	}
}

func TestForwardNoServiceNoRedirect(t *testing.T) {
	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{"r": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Service: "nowhere"}},
	})
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest("GET", "http://a.com/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestBackendDownKeepsCorsHeaders(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	url := backend.URL
	backend.Close()

	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{
			"r": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Service: "svc", Middlewares: []string{"cors"}},
		},
		Services:    map[string]*config.Service{"svc": service(url)},
		Middlewares: map[string]*config.Middleware{"cors": {Cors: &config.Cors{Origin: "*"}}},
	})
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest("GET", "http://a.com/", nil))

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestUpstreamHeaderWinsOverPreload(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "https://app.example")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer backend.Close()

	f := forwarderFor(t, &config.HTTPConfig{
		Routers: map[string]*config.Router{
			"r": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Service: "svc", Middlewares: []string{"cors"}},
		},
		Services:    map[string]*config.Service{"svc": service(backend.URL)},
		Middlewares: map[string]*config.Middleware{"cors": {Cors: &config.Cors{Origin: "*"}}},
	})
	rec := httptest.NewRecorder()
	f.ServeHTTP(rec, httptest.NewRequest("GET", "http://a.com/", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if _, ok := rec.Header()["Content-Length"]; ok {
		t.Error("Content-Length set on 204")
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		in   string
		want netip.Addr
	}{
		{"10.0.0.1:80", netip.MustParseAddr("10.0.0.1")},
		{"[::ffff:10.0.0.1]:80", netip.MustParseAddr("10.0.0.1")},
		{"[2001:db8::1]:443", netip.MustParseAddr("2001:db8::1")},
		{"10.0.0.2", netip.MustParseAddr("10.0.0.2")},
		{"pipe", netip.Addr{}},
	}
	for _, tt := range tests {
		if got := clientAddr(tt.in); got != tt.want {
			t.Errorf("clientAddr(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package router

import (
	stderrors "errors"
	"net/netip"
	"testing"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/errors"
	"github.com/wudi/verkehr/internal/rule"
)

func req(host, path string) *rule.Request {
	return &rule.Request{
		Method:   "GET",
		Host:     host,
		Path:     path,
		ClientIP: netip.MustParseAddr("10.0.0.1"),
	}
}

func httpConfig(routers map[string]*config.Router) *config.RoutingConfig {
	return &config.RoutingConfig{
		Version: 1,
		HTTP: &config.HTTPConfig{
			Routers: routers,
			Services: map[string]*config.Service{
				"svc1": {LoadBalancer: &config.LoadBalancer{Servers: []config.Server{{URL: "http://127.0.0.1:9000"}}}},
			},
			Middlewares: map[string]*config.Middleware{
				"cors":  {Cors: &config.Cors{Origin: "*"}},
				"strip": {StripPrefix: &config.StripPrefix{Prefixes: []string{"/api"}}},
			},
		},
	}
}

func mustTable(t *testing.T, cfg *config.RoutingConfig) *Table {
	t.Helper()
	tbl, err := NewTable(cfg, nil)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

func TestSelectPrecedence(t *testing.T) {
	tests := []struct {
		name    string
		routers map[string]*config.Router
		want    string
	}{
		{
			name: "priority beats rule length",
			routers: map[string]*config.Router{
				"long":  {Rule: "Host(`a.com`) && PathPrefix(`/api/v2/items`)", Entrypoints: []string{"web"}, Priority: 1},
				"short": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Priority: 5},
			},
			want: "short",
		},
		{
			name: "longer rule wins at default priority",
			routers: map[string]*config.Router{
				"host": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}},
				"api":  {Rule: "Host(`a.com`) && PathPrefix(`/api`)", Entrypoints: []string{"web"}},
			},
			want: "api",
		},
		{
			name: "longer rule wins at equal explicit priority",
			routers: map[string]*config.Router{
				"host": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Priority: 3},
				"api":  {Rule: "Host(`a.com`) && PathPrefix(`/api`)", Entrypoints: []string{"web"}, Priority: 3},
			},
			want: "api",
		},
		{
			name: "name breaks full ties",
			routers: map[string]*config.Router{
				"beta":  {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}},
				"alpha": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}},
			},
			want: "alpha",
		},
		{
			name: "non matching router is skipped",
			routers: map[string]*config.Router{
				"other": {Rule: "Host(`b.com`) && PathPrefix(`/api/items/and/more`)", Entrypoints: []string{"web"}, Priority: 10},
				"host":  {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}},
			},
			want: "host",
		},
		{
			name: "router on another entrypoint is skipped",
			routers: map[string]*config.Router{
				"secure": {Rule: "Host(`a.com`) && PathPrefix(`/api`)", Entrypoints: []string{"websecure"}},
				"host":   {Rule: "Host(`a.com`)", Entrypoints: []string{"web", "websecure"}},
			},
			want: "host",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := mustTable(t, httpConfig(tt.routers))
			res, err := tbl.Select("web", req("a.com", "/api/v2/items"))
			if err != nil {
				t.Fatalf("Select: %v", err)
			}
			if res.RouterName != tt.want {
				t.Errorf("selected %s, want %s", res.RouterName, tt.want)
			}
		})
	}
}

func TestSelectNotFound(t *testing.T) {
	tbl := mustTable(t, httpConfig(map[string]*config.Router{
		"host": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}},
	}))
	_, err := tbl.Select("web", req("b.com", "/"))
	if !stderrors.Is(err, errors.ErrRoutingNotFound) {
		t.Errorf("err = %v, want ErrRoutingNotFound", err)
	}
	if _, err := tbl.Select("nope", req("a.com", "/")); err == nil {
		t.Error("expected error for unknown entrypoint")
	}
}

func TestResolutionIsLenient(t *testing.T) {
	tbl := mustTable(t, httpConfig(map[string]*config.Router{
		"api": {
			Rule:        "Host(`a.com`)",
			Entrypoints: []string{"web"},
			Middlewares: []string{"strip", "missing", "cors"},
			Service:     "ghost",
		},
	}))
	res, err := tbl.Select("web", req("a.com", "/"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Service != nil || res.ServiceName != "ghost" {
		t.Errorf("unresolved service = %v", res.Service)
	}
	if len(res.Middlewares) != 2 {
		t.Fatalf("middlewares = %d, want 2", len(res.Middlewares))
	}
	if res.Middlewares[0].Name() != "strip" || res.Middlewares[1].Name() != "cors" {
		t.Errorf("middleware order = %s, %s", res.Middlewares[0].Name(), res.Middlewares[1].Name())
	}
}

func TestSelectReturnsSharedSnapshot(t *testing.T) {
	tbl := mustTable(t, httpConfig(map[string]*config.Router{
		"api": {Rule: "Host(`a.com`)", Entrypoints: []string{"web"}, Service: "svc1"},
	}))
	a, _ := tbl.Select("web", req("a.com", "/x"))
	b, _ := tbl.Select("web", req("a.com", "/y"))
	if a != b {
		t.Error("expected the same resolution pointer for the same router")
	}
	if srv, ok := a.Service.FirstServer(); !ok || srv.URL != "http://127.0.0.1:9000" {
		t.Errorf("service = %v", a.Service)
	}
}

func TestNewTableRejectsBadRule(t *testing.T) {
	cfg := httpConfig(map[string]*config.Router{
		"bad": {Rule: "Host(`a.com`) &&", Entrypoints: []string{"web"}},
	})
	_, err := NewTable(cfg, nil)
	var pe *rule.ParseError
	if !stderrors.As(err, &pe) {
		t.Fatalf("err = %v, want *rule.ParseError", err)
	}
}

func TestNewTableRejectsBadMiddleware(t *testing.T) {
	cfg := httpConfig(nil)
	cfg.HTTP.Middlewares["auth"] = &config.Middleware{BasicAuth: &config.BasicAuth{Users: []string{"broken"}}}
	if _, err := NewTable(cfg, nil); err == nil {
		t.Error("expected error for invalid basicAuth users")
	}
}

func TestNewTableReusesUnchangedMiddlewares(t *testing.T) {
	cfg := httpConfig(nil)
	first := mustTable(t, cfg)

	next := &config.RoutingConfig{Version: 2, HTTP: &config.HTTPConfig{
		Middlewares: map[string]*config.Middleware{
			"cors":  cfg.HTTP.Middlewares["cors"],
			"strip": {StripPrefix: &config.StripPrefix{Prefixes: []string{"/v2"}}},
		},
	}}
	second, err := NewTable(next, first)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := first.Middleware("cors")
	b, _ := second.Middleware("cors")
	if a != b {
		t.Error("unchanged middleware was recompiled")
	}
	a, _ = first.Middleware("strip")
	b, _ = second.Middleware("strip")
	if a == b {
		t.Error("changed middleware was reused")
	}
	if second.Version() != 2 {
		t.Errorf("version = %d", second.Version())
	}
}

func TestSelectTCP(t *testing.T) {
	cfg := &config.RoutingConfig{TCP: &config.TCPConfig{
		Routers: map[string]*config.TCPRouter{
			"catchall": {Rule: "HostSNI(`*`)", Entrypoints: []string{"tcp"}, Service: "db"},
			"db":       {Rule: "HostSNI(`db.internal`)", Entrypoints: []string{"tcp"}, Service: "db"},
			"plain":    {Rule: "HostSNI(`*`)", Entrypoints: []string{"plain"}, Service: "db"},
		},
		Services: map[string]*config.TCPService{
			"db": {LoadBalancer: &config.TCPLoadBalancer{Servers: []config.TCPServer{{Address: "127.0.0.1:5432"}}}},
		},
	}}
	tbl := mustTable(t, cfg)

	if !tbl.NeedsSNI("tcp") || tbl.NeedsSNI("plain") {
		t.Errorf("NeedsSNI tcp=%v plain=%v", tbl.NeedsSNI("tcp"), tbl.NeedsSNI("plain"))
	}
	res, err := tbl.SelectTCP("tcp", &rule.Conn{SNI: "db.internal"})
	if err != nil || res.RouterName != "db" {
		t.Fatalf("SelectTCP = %v, %v", res, err)
	}
	res, err = tbl.SelectTCP("tcp", &rule.Conn{})
	if err != nil || res.RouterName != "catchall" {
		t.Fatalf("SelectTCP without SNI = %v, %v", res, err)
	}
	if addr, ok := res.Service.FirstAddress(); !ok || addr != "127.0.0.1:5432" {
		t.Errorf("address = %q", addr)
	}
}

func TestSelectUDP(t *testing.T) {
	cfg := &config.RoutingConfig{UDP: &config.UDPConfig{
		Routers: map[string]*config.UDPRouter{
			"b":    {Entrypoints: []string{"dns"}, Service: "dns"},
			"a":    {Entrypoints: []string{"dns"}, Service: "dns"},
			"high": {Entrypoints: []string{"other"}, Service: "dns", Priority: 2},
			"low":  {Entrypoints: []string{"other"}, Service: "dns", Priority: 1},
		},
	}}
	tbl := mustTable(t, cfg)

	if res, err := tbl.SelectUDP("dns"); err != nil || res.RouterName != "a" {
		t.Errorf("SelectUDP(dns) = %v, %v", res, err)
	}
	if res, err := tbl.SelectUDP("other"); err != nil || res.RouterName != "high" {
		t.Errorf("SelectUDP(other) = %v, %v", res, err)
	}
	if _, err := tbl.SelectUDP("none"); err == nil {
		t.Error("expected error for entrypoint without routers")
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseStaticDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte("log:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Admin.Address != ":8082" {
		t.Errorf("admin.address default = %q", cfg.Admin.Address)
	}
	if cfg.RoutingCache.Shards != 16 {
		t.Errorf("routingCache.shards default = %d", cfg.RoutingCache.Shards)
	}
}

func TestParseStaticEnvExpansion(t *testing.T) {
	t.Setenv("VERKEHR_ETCD", "http://etcd:2379")
	data := []byte(`
providers:
  etcd:
    endpoints:
      - "${VERKEHR_ETCD}"
    prefix: /verkehr
    dialTimeout: 3s
  file:
    path: "${UNSET_VERKEHR_VAR}"
`)
	cfg, err := NewLoader().Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Providers.Etcd.Endpoints[0]; got != "http://etcd:2379" {
		t.Errorf("endpoint = %q", got)
	}
	if cfg.Providers.Etcd.DialTimeout != 3*time.Second {
		t.Errorf("dialTimeout = %v", cfg.Providers.Etcd.DialTimeout)
	}
	if cfg.Providers.File.Path != "${UNSET_VERKEHR_VAR}" {
		t.Errorf("unset variable should be kept, got %q", cfg.Providers.File.Path)
	}
}

func TestParseStaticInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "log: [unterminated"},
		{"resolver without key", "certResolvers:\n  default:\n    certFile: a.pem\n"},
		{"etcd without endpoints", "providers:\n  etcd:\n    prefix: /x\n"},
		{"bad log format", "log:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLoader().Parse([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

const routingYAML = `
version: 7
http:
  entrypoints:
    web:
      address: ":8080"
  routers:
    api:
      rule: 'Host(` + "`a.com`" + `) && PathPrefix(` + "`/api`" + `)'
      entrypoints: [web]
      middlewares: [cors]
      service: svc1
      priority: 3
  middlewares:
    cors:
      cors:
        origin: https://x
        methods: GET,POST
        headers: "*"
        age: "600"
  services:
    svc1:
      loadbalancer:
        servers:
          - url: http://127.0.0.1:9000
        passHostHeader: false
tcp:
  routers:
    pg:
      rule: 'HostSNI(` + "`db.local`" + `)'
      entrypoints: [db]
      service: pg
  services:
    pg:
      loadbalancer:
        servers:
          - address: 10.0.0.5:5432
`

func TestParseRouting(t *testing.T) {
	rc, err := NewLoader().ParseRouting([]byte(routingYAML))
	if err != nil {
		t.Fatalf("ParseRouting: %v", err)
	}
	if rc.Version != 7 {
		t.Errorf("version = %d, want 7", rc.Version)
	}
	api := rc.HTTP.Routers["api"]
	if api == nil {
		t.Fatal("router api missing")
	}
	if api.Rule != "Host(`a.com`) && PathPrefix(`/api`)" {
		t.Errorf("rule = %q", api.Rule)
	}
	if api.Priority != 3 || api.Service != "svc1" || len(api.Middlewares) != 1 {
		t.Errorf("router = %+v", api)
	}
	if c := rc.HTTP.Middlewares["cors"].Cors; c == nil || c.Age != "600" || c.Headers != "*" {
		t.Errorf("cors = %+v", c)
	}
	svc := rc.HTTP.Services["svc1"]
	if srv, ok := svc.FirstServer(); !ok || srv.URL != "http://127.0.0.1:9000" {
		t.Errorf("first server = %+v, %v", srv, ok)
	}
	if svc.PassHost() {
		t.Error("passHostHeader: false was not honoured")
	}
	if addr, _ := rc.TCP.Services["pg"].FirstAddress(); addr != "10.0.0.5:5432" {
		t.Errorf("tcp address = %q", addr)
	}
}

func TestParseRoutingJSON(t *testing.T) {
	data := []byte(`{"http":{"routers":{"r":{"rule":"Method(` + "`GET`" + `)","entrypoints":["web"],"service":"s"}}}}`)
	rc, err := NewLoader().ParseRouting(data)
	if err != nil {
		t.Fatalf("ParseRouting: %v", err)
	}
	if rc.HTTP.Routers["r"].Service != "s" {
		t.Errorf("router = %+v", rc.HTTP.Routers["r"])
	}
}

func TestParseRoutingValidation(t *testing.T) {
	tests := []struct {
		name string
		data string
		kind string
	}{
		{"two variants", "http:\n  middlewares:\n    m:\n      retry: {attempts: 2}\n      addPrefix: {prefix: /x}\n", "middleware"},
		{"no variant", "http:\n  middlewares:\n    m: {}\n", "middleware"},
		{"bad direction", "http:\n  middlewares:\n    m:\n      headers: {direction: sideways}\n", "middleware"},
		{"empty rule", "http:\n  routers:\n    r: {service: s}\n", "router"},
		{"entrypoint without address", "tcp:\n  entrypoints:\n    db: {}\n", "entrypoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().ParseRouting([]byte(tt.data))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Kind != tt.kind {
				t.Errorf("kind = %q, want %q", verr.Kind, tt.kind)
			}
		})
	}
}

func TestLoadRoutingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yaml")
	if err := os.WriteFile(path, []byte(routingYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	rc, err := NewLoader().LoadRouting(path)
	if err != nil {
		t.Fatalf("LoadRouting: %v", err)
	}
	if len(rc.HTTP.Routers) != 1 {
		t.Errorf("routers = %d", len(rc.HTTP.Routers))
	}
	if _, err := NewLoader().LoadRouting(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

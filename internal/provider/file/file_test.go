package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wudi/verkehr/internal/config"
	"github.com/wudi/verkehr/internal/store"
)

const routingV1 = `
http:
  services:
    svc:
      loadbalancer:
        servers:
          - url: http://127.0.0.1:9001
`

const routingV2 = `
http:
  services:
    svc:
      loadbalancer:
        servers:
          - url: http://127.0.0.1:9002
`

func firstURL(s *store.Store) string {
	srv, _ := s.Config().HTTP.Services["svc"].FirstServer()
	return srv.URL
}

func waitVersion(t *testing.T, s *store.Store, want uint64) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for s.Version() < want {
		if time.Now().After(deadline) {
			t.Fatalf("store at version %d, want %d", s.Version(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProvideOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yaml")
	os.WriteFile(path, []byte(routingV1), 0o644)

	s := store.New()
	p := New(config.FileProviderConfig{Path: path})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Provide(ctx, s) }()

	waitVersion(t, s, 1)
	if got := firstURL(s); got != "http://127.0.0.1:9001" {
		t.Errorf("server = %q", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Provide: %v", err)
	}
}

func TestProvideMissingFile(t *testing.T) {
	p := New(config.FileProviderConfig{Path: filepath.Join(t.TempDir(), "absent.yaml"), Watch: true})
	if err := p.Provide(context.Background(), store.New()); err == nil {
		t.Error("missing file accepted at startup")
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yaml")
	os.WriteFile(path, []byte(routingV1), 0o644)

	s := store.New()
	p := New(config.FileProviderConfig{Path: path, Watch: true})
	p.SetDebounce(20 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Provide(ctx, s)
	waitVersion(t, s, 1)

	// a broken edit is rejected and the previous config stays
	os.WriteFile(path, []byte("http: ["), 0o644)
	time.Sleep(200 * time.Millisecond)
	if s.Version() != 1 {
		t.Fatalf("broken file applied, version %d", s.Version())
	}

	os.WriteFile(path, []byte(routingV2), 0o644)
	waitVersion(t, s, 2)
	if got := firstURL(s); got != "http://127.0.0.1:9002" {
		t.Errorf("server = %q after reload", got)
	}
}

func TestReloadBeforeStart(t *testing.T) {
	p := New(config.FileProviderConfig{Path: "x.yaml"})
	if err := p.Reload(); err == nil {
		t.Error("Reload without a merger succeeded")
	}
}

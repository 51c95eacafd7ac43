package provider

import (
	"testing"

	"github.com/wudi/verkehr/internal/store"
)

func TestApplyMergesIntoStore(t *testing.T) {
	s := store.New()
	v, err := Apply(s, "test", "inline", []byte(`
http:
  routers:
    api:
      rule: "Host(`+"`a.com`"+`)"
      entrypoints: [web]
      service: svc
`))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v != 1 || s.Version() != 1 {
		t.Errorf("version = %d, store at %d", v, s.Version())
	}
	if _, ok := s.Config().HTTP.Routers["api"]; !ok {
		t.Error("router not merged")
	}
}

type rejectCounter struct {
	*store.Store
	rejected []error
}

func (r *rejectCounter) Reject(err error) { r.rejected = append(r.rejected, err) }

func TestApplyRejects(t *testing.T) {
	tests := []struct {
		name       string
		doc        string
		wantReject bool
	}{
		{"unparseable", "http: [", true},
		{"two variants", "http:\n  middlewares:\n    m:\n      cors: {origin: '*'}\n      retry: {attempts: 1}\n", true},
		{"bad rule", "http:\n  routers:\n    r:\n      rule: 'Host('\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &rejectCounter{Store: store.New()}
			if _, err := Apply(m, "test", tt.name, []byte(tt.doc)); err == nil {
				t.Fatal("expected an error")
			}
			if got := len(m.rejected) == 1; got != tt.wantReject {
				t.Errorf("Reject called = %v, want %v", got, tt.wantReject)
			}
			if m.Version() != 0 {
				t.Errorf("store moved to version %d", m.Version())
			}
		})
	}
}

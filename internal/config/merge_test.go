package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMergeKeys(t *testing.T) {
	a := &RoutingConfig{
		Version: 4,
		HTTP: &HTTPConfig{
			Routers: map[string]*Router{
				"only-a": {Rule: "Host(`a.com`)", Service: "svc-a"},
				"both":   {Rule: "Host(`old.com`)", Service: "svc-old"},
			},
			Services: map[string]*Service{
				"svc-a": {LoadBalancer: &LoadBalancer{Servers: []Server{{URL: "http://10.0.0.1"}}}},
			},
		},
	}
	b := &RoutingConfig{
		HTTP: &HTTPConfig{
			Routers: map[string]*Router{
				"both":   {Rule: "Host(`new.com`)", Service: "svc-new"},
				"only-b": {Rule: "PathPrefix(`/b`)", Service: "svc-b"},
			},
		},
		TCP: &TCPConfig{
			Routers: map[string]*TCPRouter{"db": {Rule: "HostSNI(`*`)", Service: "pg"}},
		},
	}

	got := Merge(a, b)

	want := &RoutingConfig{
		Version: 5,
		HTTP: &HTTPConfig{
			Routers: map[string]*Router{
				"only-a": {Rule: "Host(`a.com`)", Service: "svc-a"},
				"both":   {Rule: "Host(`new.com`)", Service: "svc-new"},
				"only-b": {Rule: "PathPrefix(`/b`)", Service: "svc-b"},
			},
			Services: map[string]*Service{
				"svc-a": {LoadBalancer: &LoadBalancer{Servers: []Server{{URL: "http://10.0.0.1"}}}},
			},
		},
		TCP: &TCPConfig{
			Routers: map[string]*TCPRouter{"db": {Rule: "HostSNI(`*`)", Service: "pg"}},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Merge mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	a := &RoutingConfig{HTTP: &HTTPConfig{Routers: map[string]*Router{"x": {Rule: "Host(`x`)"}}}}
	b := &RoutingConfig{HTTP: &HTTPConfig{Routers: map[string]*Router{"y": {Rule: "Host(`y`)"}}}}

	Merge(a, b)

	if len(a.HTTP.Routers) != 1 || len(b.HTTP.Routers) != 1 {
		t.Errorf("inputs were modified: a=%d b=%d routers", len(a.HTTP.Routers), len(b.HTTP.Routers))
	}
}

func TestMergeVersion(t *testing.T) {
	tests := []struct {
		name     string
		base     uint64
		fragment uint64
		want     uint64
	}{
		{"unversioned fragment bumps", 3, 0, 4},
		{"older fragment still bumps", 10, 2, 11},
		{"newer fragment wins", 3, 42, 42},
		{"first merge", 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(&RoutingConfig{Version: tt.base}, &RoutingConfig{Version: tt.fragment})
			if got.Version != tt.want {
				t.Errorf("version = %d, want %d", got.Version, tt.want)
			}
			if got.Version <= tt.base {
				t.Errorf("version did not advance past %d", tt.base)
			}
		})
	}
}

func TestMergeNilSections(t *testing.T) {
	got := Merge(nil, &RoutingConfig{})
	if got.HTTP != nil || got.TCP != nil || got.UDP != nil {
		t.Errorf("expected empty sections to stay nil, got %+v", got)
	}
}

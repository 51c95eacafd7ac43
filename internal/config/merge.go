package config

// Merge folds fragment into base and returns a new config. Per section
// and per map, keys present in fragment replace those in base and all
// other keys of both are kept. Neither input is modified; map values are
// shared, so merged configs must be treated as immutable.
//
// The result's version is max(base.Version+1, fragment.Version).
func Merge(base, fragment *RoutingConfig) *RoutingConfig {
	if base == nil {
		base = &RoutingConfig{}
	}
	if fragment == nil {
		fragment = &RoutingConfig{}
	}

	out := &RoutingConfig{
		Version: base.Version + 1,
		HTTP:    mergeHTTP(base.HTTP, fragment.HTTP),
		TCP:     mergeTCP(base.TCP, fragment.TCP),
		UDP:     mergeUDP(base.UDP, fragment.UDP),
	}
	if fragment.Version > out.Version {
		out.Version = fragment.Version
	}
	return out
}

func mergeHTTP(a, b *HTTPConfig) *HTTPConfig {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &HTTPConfig{}
	}
	if b == nil {
		b = &HTTPConfig{}
	}
	return &HTTPConfig{
		Entrypoints: mergeMap(a.Entrypoints, b.Entrypoints),
		Routers:     mergeMap(a.Routers, b.Routers),
		Middlewares: mergeMap(a.Middlewares, b.Middlewares),
		Services:    mergeMap(a.Services, b.Services),
	}
}

func mergeTCP(a, b *TCPConfig) *TCPConfig {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &TCPConfig{}
	}
	if b == nil {
		b = &TCPConfig{}
	}
	return &TCPConfig{
		Entrypoints: mergeMap(a.Entrypoints, b.Entrypoints),
		Routers:     mergeMap(a.Routers, b.Routers),
		Middlewares: mergeMap(a.Middlewares, b.Middlewares),
		Services:    mergeMap(a.Services, b.Services),
	}
}

func mergeUDP(a, b *UDPConfig) *UDPConfig {
	if a == nil && b == nil {
		return nil
	}
	if a == nil {
		a = &UDPConfig{}
	}
	if b == nil {
		b = &UDPConfig{}
	}
	return &UDPConfig{
		Entrypoints: mergeMap(a.Entrypoints, b.Entrypoints),
		Routers:     mergeMap(a.Routers, b.Routers),
		Middlewares: mergeMap(a.Middlewares, b.Middlewares),
		Services:    mergeMap(a.Services, b.Services),
	}
}

func mergeMap[V any](a, b map[string]V) map[string]V {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]V, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

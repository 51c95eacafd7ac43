package config

import "time"

// RoutingConfig is the dynamic routing table: entrypoints, routers,
// middlewares and services for each protocol section. Fragments of
// this shape are merged into the store by providers.
type RoutingConfig struct {
	Version uint64      `yaml:"version" json:"version"`
	HTTP    *HTTPConfig `yaml:"http,omitempty" json:"http,omitempty"`
	TCP     *TCPConfig  `yaml:"tcp,omitempty" json:"tcp,omitempty"`
	UDP     *UDPConfig  `yaml:"udp,omitempty" json:"udp,omitempty"`
}

type HTTPConfig struct {
	Entrypoints map[string]*Entrypoint `yaml:"entrypoints,omitempty" json:"entrypoints,omitempty"`
	Routers     map[string]*Router     `yaml:"routers,omitempty" json:"routers,omitempty"`
	Middlewares map[string]*Middleware `yaml:"middlewares,omitempty" json:"middlewares,omitempty"`
	Services    map[string]*Service    `yaml:"services,omitempty" json:"services,omitempty"`
}

type TCPConfig struct {
	Entrypoints map[string]*Entrypoint `yaml:"entrypoints,omitempty" json:"entrypoints,omitempty"`
	Routers     map[string]*TCPRouter  `yaml:"routers,omitempty" json:"routers,omitempty"`
	Middlewares map[string]*Middleware `yaml:"middlewares,omitempty" json:"middlewares,omitempty"`
	Services    map[string]*TCPService `yaml:"services,omitempty" json:"services,omitempty"`
}

type UDPConfig struct {
	Entrypoints map[string]*Entrypoint `yaml:"entrypoints,omitempty" json:"entrypoints,omitempty"`
	Routers     map[string]*UDPRouter  `yaml:"routers,omitempty" json:"routers,omitempty"`
	Middlewares map[string]*Middleware `yaml:"middlewares,omitempty" json:"middlewares,omitempty"`
	Services    map[string]*TCPService `yaml:"services,omitempty" json:"services,omitempty"`
}

// Entrypoint is a named listen address.
type Entrypoint struct {
	Address string `yaml:"address" json:"address"`
	// CertResolver names a static certResolvers entry; TLS is served when set.
	CertResolver string          `yaml:"certResolver,omitempty" json:"certResolver,omitempty"`
	HTTP3        bool            `yaml:"http3,omitempty" json:"http3,omitempty"`
	Connect      *ConnectOptions `yaml:"connect,omitempty" json:"connect,omitempty"`
	ReadTimeout  time.Duration   `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout time.Duration   `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout  time.Duration   `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
}

// ConnectOptions controls CONNECT tunnelling on an HTTP entrypoint.
type ConnectOptions struct {
	Disabled     bool          `yaml:"disabled,omitempty" json:"disabled,omitempty"`
	AllowedHosts []string      `yaml:"allowedHosts,omitempty" json:"allowedHosts,omitempty"`
	AllowedPorts []int         `yaml:"allowedPorts,omitempty" json:"allowedPorts,omitempty"`
	DialTimeout  time.Duration `yaml:"dialTimeout,omitempty" json:"dialTimeout,omitempty"`
	IdleTimeout  time.Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	MaxTunnels   int           `yaml:"maxTunnels,omitempty" json:"maxTunnels,omitempty"`
}

// Router binds a rule to a service and an ordered middleware list.
type Router struct {
	Rule        string   `yaml:"rule" json:"rule"`
	Entrypoints []string `yaml:"entrypoints" json:"entrypoints"`
	Middlewares []string `yaml:"middlewares,omitempty" json:"middlewares,omitempty"`
	Service     string   `yaml:"service" json:"service"`
	Priority    int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

type Service struct {
	LoadBalancer *LoadBalancer `yaml:"loadbalancer" json:"loadbalancer"`
}

type LoadBalancer struct {
	Servers []Server `yaml:"servers" json:"servers"`
	// PassHostHeader defaults to true.
	PassHostHeader *bool `yaml:"passHostHeader,omitempty" json:"passHostHeader,omitempty"`
}

type Server struct {
	URL string `yaml:"url" json:"url"`
}

// FirstServer returns the server every request is sent to.
func (s *Service) FirstServer() (Server, bool) {
	if s == nil || s.LoadBalancer == nil || len(s.LoadBalancer.Servers) == 0 {
		return Server{}, false
	}
	return s.LoadBalancer.Servers[0], true
}

// PassHost reports whether the client Host header is kept upstream.
func (s *Service) PassHost() bool {
	if s == nil || s.LoadBalancer == nil || s.LoadBalancer.PassHostHeader == nil {
		return true
	}
	return *s.LoadBalancer.PassHostHeader
}

type TCPRouter struct {
	Rule        string   `yaml:"rule" json:"rule"`
	Entrypoints []string `yaml:"entrypoints" json:"entrypoints"`
	Service     string   `yaml:"service" json:"service"`
	Priority    int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

type UDPRouter struct {
	Entrypoints []string `yaml:"entrypoints" json:"entrypoints"`
	Service     string   `yaml:"service" json:"service"`
	Priority    int      `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// TCPService is shared by the tcp and udp sections.
type TCPService struct {
	LoadBalancer *TCPLoadBalancer `yaml:"loadbalancer" json:"loadbalancer"`
}

type TCPLoadBalancer struct {
	Servers []TCPServer `yaml:"servers" json:"servers"`
}

type TCPServer struct {
	Address string `yaml:"address" json:"address"`
}

func (s *TCPService) FirstAddress() (string, bool) {
	if s == nil || s.LoadBalancer == nil || len(s.LoadBalancer.Servers) == 0 {
		return "", false
	}
	return s.LoadBalancer.Servers[0].Address, true
}

// HTTPEntrypoints and its siblings are nil-safe section accessors.
func (c *RoutingConfig) HTTPEntrypoints() map[string]*Entrypoint {
	if c == nil || c.HTTP == nil {
		return nil
	}
	return c.HTTP.Entrypoints
}

func (c *RoutingConfig) TCPEntrypoints() map[string]*Entrypoint {
	if c == nil || c.TCP == nil {
		return nil
	}
	return c.TCP.Entrypoints
}

func (c *RoutingConfig) UDPEntrypoints() map[string]*Entrypoint {
	if c == nil || c.UDP == nil {
		return nil
	}
	return c.UDP.Entrypoints
}

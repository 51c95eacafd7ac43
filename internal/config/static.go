package config

import "time"

// Config is the static process configuration, read once at startup.
type Config struct {
	Log              LogConfig                     `yaml:"log"`
	Admin            AdminConfig                   `yaml:"admin"`
	CertResolvers    map[string]CertResolverConfig `yaml:"certResolvers"`
	ServersTransport TransportConfig               `yaml:"serversTransport"`
	RoutingCache     CacheConfig                   `yaml:"routingCache"`
	Providers        ProvidersConfig               `yaml:"providers"`
	Tracing          TracingConfig                 `yaml:"tracing"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	FilePath   string `yaml:"filePath"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
	AccessLog  bool   `yaml:"accessLog"`
}

type AdminConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// CertResolverConfig is a certificate/key pair on disk, reloaded on change.
type CertResolverConfig struct {
	CertFile string `yaml:"certFile"`
	KeyFile  string `yaml:"keyFile"`
}

// TransportConfig tunes the upstream HTTP transport.
type TransportConfig struct {
	DialTimeout           time.Duration `yaml:"dialTimeout"`
	ResponseHeaderTimeout time.Duration `yaml:"responseHeaderTimeout"`
	IdleConnTimeout       time.Duration `yaml:"idleConnTimeout"`
	MaxIdleConnsPerHost   int           `yaml:"maxIdleConnsPerHost"`
	InsecureSkipVerify    bool          `yaml:"insecureSkipVerify"`
}

type CacheConfig struct {
	Shards int `yaml:"shards"`
	// Size is the entry limit of each shard.
	Size int `yaml:"size"`
}

type ProvidersConfig struct {
	File   *FileProviderConfig   `yaml:"file"`
	Etcd   *EtcdProviderConfig   `yaml:"etcd"`
	Consul *ConsulProviderConfig `yaml:"consul"`
	REST   *RESTProviderConfig   `yaml:"rest"`
}

type FileProviderConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type EtcdProviderConfig struct {
	Endpoints   []string      `yaml:"endpoints"`
	Prefix      string        `yaml:"prefix"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type ConsulProviderConfig struct {
	Address    string        `yaml:"address"`
	Scheme     string        `yaml:"scheme"`
	Token      string        `yaml:"token"`
	Datacenter string        `yaml:"datacenter"`
	Prefix     string        `yaml:"prefix"`
	WaitTime   time.Duration `yaml:"waitTime"`
}

type RESTProviderConfig struct {
	Enabled bool `yaml:"enabled"`
}

type TracingConfig struct {
	// Propagation installs W3C trace-context and baggage propagators.
	Propagation bool `yaml:"propagation"`
}

// DefaultConfig returns the configuration used for unset fields.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Admin: AdminConfig{
			Enabled: true,
			Address: ":8082",
		},
		ServersTransport: TransportConfig{
			DialTimeout:           30 * time.Second,
			ResponseHeaderTimeout: 0,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   100,
		},
		RoutingCache: CacheConfig{
			Shards: 16,
			Size:   4096,
		},
	}
}

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Loader reads static and dynamic configuration documents.
type Loader struct {
	envPattern *regexp.Regexp
}

func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads the static configuration file at path.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse decodes static configuration over DefaultConfig and validates it.
func (l *Loader) Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(l.expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateStatic(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadRouting reads a routing fragment from a YAML or JSON file.
func (l *Loader) LoadRouting(path string) (*RoutingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing file: %w", err)
	}
	return l.ParseRouting(data)
}

// ParseRouting decodes a routing fragment. JSON documents are accepted
// as YAML. The fragment is checked structurally; rules are compiled
// later, when the fragment is merged.
func (l *Loader) ParseRouting(data []byte) (*RoutingConfig, error) {
	var rc RoutingConfig
	if err := yaml.Unmarshal([]byte(l.expandEnvVars(string(data))), &rc); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	if err := ValidateRouting(&rc); err != nil {
		return nil, err
	}
	return &rc, nil
}

// expandEnvVars replaces ${VAR} with its value; unset variables are left as is.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

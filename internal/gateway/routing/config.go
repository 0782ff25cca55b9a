// Package routing holds the declarative routing document and the
// hot-reloadable table built from it.
package routing

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackendKind discriminates the tagged-union backend payload.
type BackendKind string

const (
	// BackendBasic is a plain ip:port backend.
	BackendBasic BackendKind = "basic"
	// BackendDynamicPool is the reserved label-selected variant; selecting
	// one of these fails with 501 until a pool-resolution service exists.
	BackendDynamicPool BackendKind = "hetzner"
)

// Backend is one entry of the backends list.
type Backend struct {
	Service string
	Kind    BackendKind
	IP      string
	Port    uint16
	Labels  []map[string]string
}

// Config is the parsed routing document: services map plus an ordered
// backend list.
type Config struct {
	Services map[string]string `yaml:"services"`
	Backends []Backend         `yaml:"-"`
}

type rawBackendEntry struct {
	Service string    `yaml:"service"`
	Backend yaml.Node `yaml:"backend"`
}

type rawConfig struct {
	Services map[string]string `yaml:"services"`
	Backends []rawBackendEntry `yaml:"backends"`
}

type backendDiscriminator struct {
	Type string `yaml:"type"`
}

type basicPayload struct {
	IP   string `yaml:"ip"`
	Port uint16 `yaml:"port"`
}

type dynamicPoolPayload struct {
	Labels []map[string]string `yaml:"labels"`
	Port   uint16              `yaml:"port"`
}

// ParseConfig decodes a routing document. The backend field is decoded in
// two passes: first the type discriminator, then the concrete payload that
// discriminator implies.
func ParseConfig(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse routing config: %w", err)
	}

	cfg := Config{Services: raw.Services, Backends: make([]Backend, 0, len(raw.Backends))}
	for i, entry := range raw.Backends {
		var disc backendDiscriminator
		if err := entry.Backend.Decode(&disc); err != nil {
			return Config{}, fmt.Errorf("backend[%d]: decode type discriminator: %w", i, err)
		}

		b := Backend{Service: entry.Service, Kind: BackendKind(disc.Type)}
		switch b.Kind {
		case BackendBasic:
			var p basicPayload
			if err := entry.Backend.Decode(&p); err != nil {
				return Config{}, fmt.Errorf("backend[%d]: decode basic payload: %w", i, err)
			}
			b.IP, b.Port = p.IP, p.Port
		case BackendDynamicPool:
			var p dynamicPoolPayload
			if err := entry.Backend.Decode(&p); err != nil {
				return Config{}, fmt.Errorf("backend[%d]: decode dynamic pool payload: %w", i, err)
			}
			b.Labels, b.Port = p.Labels, p.Port
		default:
			return Config{}, fmt.Errorf("backend[%d]: unknown backend type %q", i, disc.Type)
		}
		cfg.Backends = append(cfg.Backends, b)
	}
	return cfg, nil
}

// LoadConfig reads and parses the routing document at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read routing config: %w", err)
	}
	return ParseConfig(data)
}

// ValidationError reports a services/backends cross-reference violation.
type ValidationError struct {
	Kind    string // "undefined_service" | "unused_service"
	Service string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case "undefined_service":
		return fmt.Sprintf("service %q referenced in backend but not defined in services", e.Service)
	case "unused_service":
		return fmt.Sprintf("service %q defined but has no backend", e.Service)
	default:
		return fmt.Sprintf("invalid routing config: %s (%s)", e.Service, e.Kind)
	}
}

// Validate checks that every referenced service is defined and every defined
// service is used.
func (c Config) Validate() error {
	used := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if _, ok := c.Services[b.Service]; !ok {
			return &ValidationError{Kind: "undefined_service", Service: b.Service}
		}
		used[b.Service] = true
	}
	for svc := range c.Services {
		if !used[svc] {
			return &ValidationError{Kind: "unused_service", Service: svc}
		}
	}
	return nil
}

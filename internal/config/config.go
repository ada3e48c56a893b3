// Package config loads the gateway configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen     string `yaml:"listen"`
	Supergraph string `yaml:"supergraph"`

	Planner Planner `yaml:"planner"`

	RequestTimeout      time.Duration `yaml:"request_timeout"`
	DrainTimeout        time.Duration `yaml:"drain_timeout"`
	MaxInflightFetches  int64         `yaml:"max_inflight_fetches"`
	MaxParallelBranches int           `yaml:"max_parallel_branches"`
	SchemaPollInterval  time.Duration `yaml:"schema_poll_interval"`

	PlanCache PlanCache           `yaml:"plan_cache"`
	Subgraphs map[string]Subgraph `yaml:"subgraphs"`
	Server    Server              `yaml:"server"`
	Log       Log                 `yaml:"log"`
	Otel      Otel                `yaml:"otel"`
}

// Planner selects where plans come from: a directory of stored plans or a
// planning service.
type Planner struct {
	Plans string `yaml:"plans"`
	URL   string `yaml:"url"`
}

type PlanCache struct {
	Size int `yaml:"size"`
	// Tier is "none" or "memory".
	Tier string        `yaml:"tier"`
	TTL  time.Duration `yaml:"ttl"`
}

type Subgraph struct {
	URL string `yaml:"url"`
	// Transport is "http" or "grpc".
	Transport string            `yaml:"transport"`
	Headers   map[string]string `yaml:"headers"`
	MaxConns  int               `yaml:"max_conns"`
}

type Server struct {
	Pretty         bool     `yaml:"pretty"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	CORSOrigins    []string `yaml:"cors_origins"`
	ForwardHeaders []string `yaml:"forward_headers"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Otel struct {
	Endpoint string `yaml:"endpoint"`
	Service  string `yaml:"service"`
}

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Listen:             ":4000",
		Supergraph:         "supergraph.graphql",
		RequestTimeout:     30 * time.Second,
		DrainTimeout:       5 * time.Second,
		SchemaPollInterval: 10 * time.Second,
		PlanCache:          PlanCache{Size: 512, Tier: "none", TTL: time.Hour},
		Server:             Server{MaxBodyBytes: 1 << 20},
		Log:                Log{Level: "info", Format: "json"},
		Otel:               Otel{Service: "fedgate"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	cfg := Default()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Supergraph == "" {
		errs = append(errs, errors.New("supergraph is required"))
	}
	if (c.Planner.Plans == "") == (c.Planner.URL == "") {
		errs = append(errs, errors.New("exactly one of planner.plans and planner.url must be set"))
	}
	if c.RequestTimeout < 0 || c.DrainTimeout < 0 || c.SchemaPollInterval < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	switch c.PlanCache.Tier {
	case "", "none", "memory":
	default:
		errs = append(errs, fmt.Errorf("plan_cache.tier %q: must be none or memory", c.PlanCache.Tier))
	}
	if len(c.Subgraphs) == 0 {
		errs = append(errs, errors.New("at least one subgraph is required"))
	}
	for _, name := range c.SubgraphNames() {
		sg := c.Subgraphs[name]
		if sg.URL == "" {
			errs = append(errs, fmt.Errorf("subgraphs.%s.url is required", name))
		}
		switch sg.Transport {
		case "", "http", "grpc":
		default:
			errs = append(errs, fmt.Errorf("subgraphs.%s.transport %q: must be http or grpc", name, sg.Transport))
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// SubgraphNames returns the configured subgraph names in sorted order.
func (c *Config) SubgraphNames() []string {
	names := make([]string, 0, len(c.Subgraphs))
	for name := range c.Subgraphs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

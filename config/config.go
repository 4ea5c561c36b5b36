// Package config loads the dxgraph runner configuration from YAML.
//
// Values may reference environment variables as ${NAME}; they are expanded
// before parsing so secrets stay out of the file.
//
// Example:
//
//	llm:
//	  provider: openai
//	  model: gpt-4o
//	  api_key: ${OPENAI_API_KEY}
//	normalization:
//	  catalog: ./data/omim_catalog.json
//	search:
//	  pubmed: {enabled: true, per_depth: 2}
//	  wikipedia: {enabled: true, per_depth: 5}
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	yaml "go.yaml.in/yaml/v2"
)

// Config is the full runner configuration.
type Config struct {
	LLM           LLM           `yaml:"llm"`
	Embedding     Embedding     `yaml:"embedding"`
	Normalization Normalization `yaml:"normalization"`
	Phenotype     Phenotype     `yaml:"phenotype"`
	Image         Image         `yaml:"image"`
	Search        Search        `yaml:"search"`
	Labels        string        `yaml:"labels"`
	Engine        Engine        `yaml:"engine"`
	Store         Store         `yaml:"store"`
	Observability Observability `yaml:"observability"`
}

// LLM selects the chat model used for structured and free-text generation.
type LLM struct {
	Provider string `yaml:"provider"` // openai, anthropic or google
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// AzureEndpoint routes openai calls to an Azure deployment.
	AzureEndpoint   string `yaml:"azure_endpoint"`
	AzureAPIVersion string `yaml:"azure_api_version"`
	MaxAttempts     int    `yaml:"max_attempts"`
	MaxTokens       int    `yaml:"max_tokens"`
	// Condense summarizes evidence with the model instead of truncating it.
	Condense bool `yaml:"condense"`
}

// Embedding selects the embedder used by the normalizer.
type Embedding struct {
	Provider string `yaml:"provider"` // openai or google
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
}

type Normalization struct {
	Catalog        string  `yaml:"catalog"`
	Threshold      float64 `yaml:"threshold"`
	FinalThreshold float64 `yaml:"final_threshold"`
	// Uppercase embeds query names in upper case, for catalogs embedded
	// from upper-case OMIM titles.
	Uppercase bool `yaml:"uppercase"`
}

// Phenotype configures the ranked-phenotype lookup.
type Phenotype struct {
	Mode     string   `yaml:"mode"` // http, mcp or off
	BaseURL  string   `yaml:"base_url"`
	Endpoint string   `yaml:"endpoint"`
	Command  []string `yaml:"command"`
	Limit    int      `yaml:"limit"`
}

// Image configures the image matcher. It is disabled without credentials.
type Image struct {
	Endpoint  string `yaml:"endpoint"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	BaseLimit int    `yaml:"base_limit"`
}

// Enabled reports whether credentials are present.
func (i Image) Enabled() bool { return i.User != "" && i.Password != "" }

type Search struct {
	PubMed      Source `yaml:"pubmed"`
	Wikipedia   Source `yaml:"wikipedia"`
	MaxContent  int    `yaml:"max_content"`
	Concurrency int    `yaml:"concurrency"`
}

// Source configures one evidence source.
type Source struct {
	Enabled  bool   `yaml:"enabled"`
	PerDepth int    `yaml:"per_depth"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// Engine tunes graph execution.
type Engine struct {
	MaxConcurrent    int      `yaml:"max_concurrent"`
	NodeTimeout      Duration `yaml:"node_timeout"`
	RunBudget        Duration `yaml:"run_budget"`
	BranchAttempts   int      `yaml:"branch_attempts"`
	JudgeConcurrency int      `yaml:"judge_concurrency"`
	Candidates       int      `yaml:"candidates"`
	FinalCandidates  int      `yaml:"final_candidates"`
	GenerativeLimit  int      `yaml:"generative_limit"`
	RankFusion       bool     `yaml:"rank_fusion"`
}

// Store selects step persistence.
type Store struct {
	Driver string `yaml:"driver"` // memory, sqlite or mysql
	DSN    string `yaml:"dsn"`
}

type Observability struct {
	LogLevel    string `yaml:"log_level"`  // debug, info, warn or error
	LogFormat   string `yaml:"log_format"` // slog, text or json
	MetricsAddr string `yaml:"metrics_addr"`
	Tracing     bool   `yaml:"tracing"`
}

// Duration is a time.Duration written as "30s" or "2m" in YAML.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration used for unset fields.
func Default() Config {
	return Config{
		LLM:           LLM{Provider: "openai", MaxAttempts: 3},
		Embedding:     Embedding{Provider: "openai"},
		Normalization: Normalization{Threshold: 0.75},
		Phenotype:     Phenotype{Mode: "http", Limit: 5},
		Image:         Image{BaseLimit: 4},
		Search: Search{
			PubMed:      Source{Enabled: true, PerDepth: 2},
			Wikipedia:   Source{Enabled: true, PerDepth: 5},
			MaxContent:  1500,
			Concurrency: 4,
		},
		Engine: Engine{
			MaxConcurrent:    3,
			NodeTimeout:      Duration(2 * time.Minute),
			BranchAttempts:   2,
			JudgeConcurrency: 4,
		},
		Store:         Store{Driver: "memory"},
		Observability: Observability{LogLevel: "info", LogFormat: "slog"},
	}
}

// Load reads path, expands environment variables, applies defaults, and
// validates the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.UnmarshalStrict([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if cfg.Normalization.FinalThreshold == 0 {
		cfg.Normalization.FinalThreshold = cfg.Normalization.Threshold
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == cfg.LLM.Provider {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every problem found, joined.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.LLM.Provider, "openai", "anthropic", "google"), "llm.provider %q is not openai, anthropic or google", c.LLM.Provider)
	check(c.LLM.APIKey != "", "llm.api_key is required")
	check(c.LLM.AzureEndpoint == "" || c.LLM.Provider == "openai", "llm.azure_endpoint requires provider openai")
	check(oneOf(c.Embedding.Provider, "openai", "google"), "embedding.provider %q is not openai or google", c.Embedding.Provider)
	check(c.Embedding.APIKey != "", "embedding.api_key is required")

	check(c.Normalization.Catalog != "", "normalization.catalog is required")
	for name, t := range map[string]float64{
		"threshold":       c.Normalization.Threshold,
		"final_threshold": c.Normalization.FinalThreshold,
	} {
		check(t >= 0 && t <= 1, "normalization.%s %v outside [0, 1]", name, t)
	}

	check(oneOf(c.Phenotype.Mode, "http", "mcp", "off"), "phenotype.mode %q is not http, mcp or off", c.Phenotype.Mode)
	check(c.Phenotype.Mode != "mcp" || c.Phenotype.Endpoint != "" || len(c.Phenotype.Command) > 0,
		"phenotype.mode mcp needs an endpoint or a command")
	check((c.Image.User == "") == (c.Image.Password == ""), "image.user and image.password must be set together")

	check(oneOf(c.Store.Driver, "memory", "sqlite", "mysql"), "store.driver %q is not memory, sqlite or mysql", c.Store.Driver)
	check(c.Store.Driver == "memory" || c.Store.DSN != "", "store.dsn is required for %s", c.Store.Driver)

	check(oneOf(c.Observability.LogLevel, "debug", "info", "warn", "error"), "observability.log_level %q is invalid", c.Observability.LogLevel)
	check(oneOf(c.Observability.LogFormat, "slog", "text", "json"), "observability.log_format %q is invalid", c.Observability.LogFormat)

	for name, n := range map[string]int{
		"engine.max_concurrent":    c.Engine.MaxConcurrent,
		"engine.branch_attempts":   c.Engine.BranchAttempts,
		"engine.judge_concurrency": c.Engine.JudgeConcurrency,
		"search.concurrency":       c.Search.Concurrency,
	} {
		check(n >= 0, "%s must not be negative", name)
	}
	check(c.Engine.NodeTimeout >= 0 && c.Engine.RunBudget >= 0, "engine durations must not be negative")

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	return slices.Contains(allowed, v)
}

// Package config loads the copilot configuration from an optional YAML
// file, .env files and the environment.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/copilot/pkg/agent"
	"github.com/malbeclabs/copilot/pkg/corpus"
	"github.com/malbeclabs/copilot/pkg/llm"
	"github.com/malbeclabs/copilot/pkg/querier"
)

const (
	DefaultDatabaseDSN = "data/northwind.sqlite"
	DefaultCorpus      = "docs"
	DefaultWorkers     = 4
	DefaultListenAddr  = "0.0.0.0:8080"
)

type Config struct {
	Database    DatabaseConfig `yaml:"database"`
	Corpus      CorpusConfig   `yaml:"corpus"`
	LLM         LLMConfig      `yaml:"llm"`
	Timeouts    TimeoutsConfig `yaml:"timeouts"`
	Repair      RepairConfig   `yaml:"repair"`
	Planner     PlannerConfig  `yaml:"planner"`
	Batch       BatchConfig    `yaml:"batch"`
	Server      ServerConfig   `yaml:"server"`
	MetricsAddr string         `yaml:"metrics_addr"`
}

type DatabaseConfig struct {
	Driver         string        `yaml:"driver"`
	DSN            string        `yaml:"dsn"`
	SchemaCacheTTL time.Duration `yaml:"schema_cache_ttl"`
}

type CorpusConfig struct {
	// Source is a directory or an s3://bucket/prefix URI.
	Source   string  `yaml:"source"`
	Index    string  `yaml:"index"`
	TopK     int     `yaml:"top_k"`
	MinScore float64 `yaml:"min_score"`
}

type LLMConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int64  `yaml:"max_tokens"`
	CacheSize int64  `yaml:"cache_size"`
	// APIKey is only read from the environment.
	APIKey string `yaml:"-"`
}

type TimeoutsConfig struct {
	Route      time.Duration `yaml:"route"`
	Generate   time.Duration `yaml:"generate"`
	Execute    time.Duration `yaml:"execute"`
	Synthesize time.Duration `yaml:"synthesize"`
	Question   time.Duration `yaml:"question"`
}

type RepairConfig struct {
	// MaxRepairs is a pointer so an explicit 0 survives defaulting.
	MaxRepairs *int `yaml:"max_repairs"`
}

type PlannerConfig struct {
	Categories []string            `yaml:"categories"`
	KPIs       map[string][]string `yaml:"kpis"`
}

type BatchConfig struct {
	Workers int `yaml:"workers"`
}

type ServerConfig struct {
	ListenAddr    string   `yaml:"listen_addr"`
	AllowedTokens []string `yaml:"allowed_tokens"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	maxRepairs := agent.MaxRepairs
	return &Config{
		Database: DatabaseConfig{Driver: string(querier.DialectSQLite), DSN: DefaultDatabaseDSN},
		Corpus:   CorpusConfig{Source: DefaultCorpus, Index: corpus.IndexTFIDF},
		LLM:      LLMConfig{Provider: llm.ProviderOllama},
		Repair:   RepairConfig{MaxRepairs: &maxRepairs},
		Batch:    BatchConfig{Workers: DefaultWorkers},
		Server:   ServerConfig{ListenAddr: DefaultListenAddr},
	}
}

// Load reads path over the defaults when path is non-empty, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open config: %w", err)
		}
		defer f.Close()
		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode merges a YAML document into cfg. Unknown keys are rejected.
func (cfg *Config) Decode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(cfg)
}

// LoadEnvFiles loads .env files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(log *slog.Logger, files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		err := godotenv.Load(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
		if log != nil {
			log.Debug("config: loaded env file", "file", file)
		}
	}
	return nil
}

// ApplyEnv overrides fields from COPILOT_* variables. ANTHROPIC_API_KEY and
// OLLAMA_URL are honored as well.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("COPILOT_DB_DRIVER", &cfg.Database.Driver)
	str("COPILOT_DB_DSN", &cfg.Database.DSN)
	str("COPILOT_CORPUS", &cfg.Corpus.Source)
	str("COPILOT_CORPUS_INDEX", &cfg.Corpus.Index)
	str("COPILOT_LLM_PROVIDER", &cfg.LLM.Provider)
	str("COPILOT_LLM_MODEL", &cfg.LLM.Model)
	str("OLLAMA_URL", &cfg.LLM.BaseURL)
	str("COPILOT_LLM_BASE_URL", &cfg.LLM.BaseURL)
	str("ANTHROPIC_API_KEY", &cfg.LLM.APIKey)
	str("COPILOT_METRICS_ADDR", &cfg.MetricsAddr)
	str("COPILOT_LISTEN_ADDR", &cfg.Server.ListenAddr)

	if v, ok := lookup("COPILOT_ALLOWED_TOKENS"); ok && v != "" {
		cfg.Server.AllowedTokens = splitList(v)
	}
	if v, ok := lookup("COPILOT_MAX_REPAIRS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COPILOT_MAX_REPAIRS: %w", err)
		}
		cfg.Repair.MaxRepairs = &n
	}
	if v, ok := lookup("COPILOT_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid COPILOT_WORKERS: %w", err)
		}
		cfg.Batch.Workers = n
	}
	if v, ok := lookup("COPILOT_QUESTION_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid COPILOT_QUESTION_TIMEOUT: %w", err)
		}
		cfg.Timeouts.Question = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (cfg *Config) Validate() error {
	if cfg.Database.Driver == "" {
		return errors.New("database.driver is required")
	}
	if _, err := querier.ParseDialect(cfg.Database.Driver); err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.Corpus.Source == "" {
		return errors.New("corpus.source is required")
	}
	switch cfg.Corpus.Index {
	case corpus.IndexTFIDF, corpus.IndexBleve:
	case "":
		cfg.Corpus.Index = corpus.IndexTFIDF
	default:
		return fmt.Errorf("unknown corpus.index %q", cfg.Corpus.Index)
	}
	if cfg.Corpus.TopK < 0 {
		return errors.New("corpus.top_k must not be negative")
	}
	if cfg.Corpus.MinScore < 0 || cfg.Corpus.MinScore > 1 {
		return errors.New("corpus.min_score must be between 0 and 1")
	}
	llmCfg := cfg.LLMClientConfig()
	if err := llmCfg.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if cfg.LLM.Provider == llm.ProviderAnthropic && cfg.LLM.APIKey == "" {
		return errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
	}
	for name, d := range map[string]time.Duration{
		"route": cfg.Timeouts.Route, "generate": cfg.Timeouts.Generate, "execute": cfg.Timeouts.Execute,
		"synthesize": cfg.Timeouts.Synthesize, "question": cfg.Timeouts.Question,
	} {
		if d < 0 {
			return fmt.Errorf("timeouts.%s must not be negative", name)
		}
	}
	if cfg.Repair.MaxRepairs == nil {
		n := agent.MaxRepairs
		cfg.Repair.MaxRepairs = &n
	}
	if n := *cfg.Repair.MaxRepairs; n < 0 || n > agent.MaxRepairs {
		return fmt.Errorf("repair.max_repairs must be between 0 and %d", agent.MaxRepairs)
	}
	if cfg.Batch.Workers < 0 {
		return errors.New("batch.workers must not be negative")
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = DefaultWorkers
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	return nil
}

func (cfg *Config) Dialect() querier.Dialect {
	d, _ := querier.ParseDialect(cfg.Database.Driver)
	return d
}

func (cfg *Config) QuerierConfig(log *slog.Logger) querier.Config {
	return querier.Config{
		Logger:         log,
		Driver:         cfg.Dialect(),
		DSN:            cfg.Database.DSN,
		SchemaCacheTTL: cfg.Database.SchemaCacheTTL,
	}
}

func (cfg *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
		CacheSize: cfg.LLM.CacheSize,
	}
}

func (cfg *Config) AgentTimeouts() agent.Timeouts {
	return agent.Timeouts(cfg.Timeouts)
}

func (cfg *Config) MaxRepairs() int {
	if cfg.Repair.MaxRepairs == nil {
		return agent.MaxRepairs
	}
	return *cfg.Repair.MaxRepairs
}

// PlannerConfig returns the configured planner vocabulary, falling back to
// the Northwind defaults for anything left unset.
func (cfg *Config) PlannerConfig() agent.PlannerConfig {
	out := agent.DefaultPlannerConfig()
	if len(cfg.Planner.Categories) > 0 {
		out.Categories = cfg.Planner.Categories
	}
	if len(cfg.Planner.KPIs) > 0 {
		out.KPIs = cfg.Planner.KPIs
	}
	return out
}

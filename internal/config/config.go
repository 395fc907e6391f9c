// Package config holds Mnemosyne's YAML-backed configuration tree,
// generalizing the Config/Default*Config/LoadConfig/Validate shape the
// teacher uses for its own aider/server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a mnemosyned instance.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Events     EventsConfig     `yaml:"events" json:"events"`
	Engine     EngineConfig     `yaml:"engine" json:"engine"`
	Evolution  EvolutionConfig  `yaml:"evolution" json:"evolution"`
	Evaluation EvaluationConfig `yaml:"evaluation" json:"evaluation"`
	Router     RouterConfig     `yaml:"router" json:"router"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig holds the HTTP and NATS server settings.
type ServerConfig struct {
	Port          int `yaml:"port" json:"port"`
	PortRangeSize int `yaml:"port_range_size" json:"port_range_size"`
	NATSPort      int `yaml:"nats_port" json:"nats_port"`
}

// StoreConfig configures the Memory Store.
type StoreConfig struct {
	DataDir            string         `yaml:"data_dir" json:"data_dir"`
	DBFileName         string         `yaml:"db_file_name" json:"db_file_name"`
	EmbeddingDimension int            `yaml:"embedding_dimension" json:"embedding_dimension"`
	HybridWeights      HybridWeights  `yaml:"hybrid_weights" json:"hybrid_weights"`
	GraphTraversalCap  int            `yaml:"graph_traversal_cap" json:"graph_traversal_cap"`
	Embedding          EmbeddingConfig `yaml:"embedding" json:"embedding"`
}

// HybridWeights are the weights hybrid_search combines legs with
// (Open Question #1 — spec.md §4.1 defaults, exposed as config).
type HybridWeights struct {
	Keyword float64 `yaml:"keyword" json:"keyword"`
	Vector  float64 `yaml:"vector" json:"vector"`
	Graph   float64 `yaml:"graph" json:"graph"`
}

// EmbeddingConfig configures the embedding provider and its rate limit.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider" json:"provider"` // "http" or "none"
	BaseURL           string  `yaml:"base_url" json:"base_url"`
	Model             string  `yaml:"model" json:"model"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// EventsConfig configures the Event Bus.
type EventsConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

// SupervisionConfig configures actor restart backoff (Open Question #3).
type SupervisionConfig struct {
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	Factor        float64       `yaml:"factor" json:"factor"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	MaxRestarts   int           `yaml:"max_restarts" json:"max_restarts"`
	Window        time.Duration `yaml:"window" json:"window"`
}

// EngineConfig configures the Orchestration Engine.
type EngineConfig struct {
	MaxConcurrentExecutors int               `yaml:"max_concurrent_executors" json:"max_concurrent_executors"`
	ReviewMaxAttempts      int               `yaml:"review_max_attempts" json:"review_max_attempts"`
	WorkItemDefaultTimeout time.Duration     `yaml:"work_item_default_timeout" json:"work_item_default_timeout"`
	CancelGrace            time.Duration     `yaml:"cancel_grace" json:"cancel_grace"`
	SchedulerTick          time.Duration     `yaml:"scheduler_tick" json:"scheduler_tick"`
	Supervision            SupervisionConfig `yaml:"supervision" json:"supervision"`
	ExecutorCommand        []string          `yaml:"executor_command" json:"executor_command"`
}

// JobConfig configures a single Evolution Scheduler job.
type JobConfig struct {
	Enabled   bool          `yaml:"enabled" json:"enabled"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
}

// EvolutionConfig configures the Evolution Scheduler.
type EvolutionConfig struct {
	IdleFor        time.Duration `yaml:"idle_for" json:"idle_for"`
	Recalibration  JobConfig     `yaml:"recalibration" json:"recalibration"`
	LinkDecay      JobConfig     `yaml:"link_decay" json:"link_decay"`
	Archival       JobConfig     `yaml:"archival" json:"archival"`
	Consolidation  JobConfig     `yaml:"consolidation" json:"consolidation"`

	RecalibrationAlpha float64       `yaml:"recalibration_alpha" json:"recalibration_alpha"`
	RecalibrationBeta  float64       `yaml:"recalibration_beta" json:"recalibration_beta"`
	LinkDecayWindow    time.Duration `yaml:"link_decay_window" json:"link_decay_window"`
	LinkDecayDelta     float64       `yaml:"link_decay_delta" json:"link_decay_delta"`
	LinkMinStrength    float64       `yaml:"link_min_strength" json:"link_min_strength"`
	ArchiveThreshold   int           `yaml:"archive_threshold" json:"archive_threshold"`
	ArchiveAge         time.Duration `yaml:"archive_age" json:"archive_age"`
	MergeThreshold     float64       `yaml:"merge_threshold" json:"merge_threshold"`
}

// EvaluationConfig configures the privacy-preserving Evaluation Recorder.
type EvaluationConfig struct {
	Enabled         bool `yaml:"enabled" json:"enabled"`
	KeywordCap      int  `yaml:"keyword_cap" json:"keyword_cap"`
	HashTruncation  int  `yaml:"hash_truncation" json:"hash_truncation"`
}

// RouterConfig configures the hybrid Message Router's remote leg.
type RouterConfig struct {
	NodeID      string        `yaml:"node_id" json:"node_id"`
	NATSURL     string        `yaml:"nats_url" json:"nats_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns sensible defaults for every subsystem, mirroring
// every default constant named in spec.md §4/§8.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8420,
			PortRangeSize: 10,
			NATSPort:      4222,
		},
		Store: StoreConfig{
			DataDir:            "data",
			DBFileName:         "mnemosyne.db",
			EmbeddingDimension: 1536,
			HybridWeights:      HybridWeights{Keyword: 0.4, Vector: 0.3, Graph: 0.3},
			GraphTraversalCap:  256,
			Embedding: EmbeddingConfig{
				Provider:          "none",
				RequestsPerSecond: 5,
				Burst:             2,
			},
		},
		Events: EventsConfig{Capacity: 1000},
		Engine: EngineConfig{
			MaxConcurrentExecutors: 4,
			ReviewMaxAttempts:      3,
			WorkItemDefaultTimeout: 300 * time.Second,
			CancelGrace:            5 * time.Second,
			SchedulerTick:          500 * time.Millisecond,
			Supervision: SupervisionConfig{
				BaseDelay:   100 * time.Millisecond,
				Factor:      2.0,
				MaxDelay:    30 * time.Second,
				MaxRestarts: 5,
				Window:      60 * time.Second,
			},
			ExecutorCommand: nil,
		},
		Evolution: EvolutionConfig{
			IdleFor:            2 * time.Minute,
			Recalibration:      JobConfig{Enabled: true, Interval: 10 * time.Minute, BatchSize: 200},
			LinkDecay:          JobConfig{Enabled: true, Interval: 30 * time.Minute, BatchSize: 500},
			Archival:           JobConfig{Enabled: true, Interval: time.Hour, BatchSize: 500},
			Consolidation:      JobConfig{Enabled: false, Interval: 6 * time.Hour, BatchSize: 100},
			RecalibrationAlpha: 0.5,
			RecalibrationBeta:  0.2,
			LinkDecayWindow:    7 * 24 * time.Hour,
			LinkDecayDelta:     0.1,
			LinkMinStrength:    0.05,
			ArchiveThreshold:   3,
			ArchiveAge:         30 * 24 * time.Hour,
			MergeThreshold:     0.95,
		},
		Evaluation: EvaluationConfig{
			Enabled:        true,
			KeywordCap:     10,
			HashTruncation: 16,
		},
		Router: RouterConfig{
			NodeID:         "local",
			NATSURL:        "nats://localhost:4222",
			RequestTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// LoadConfig reads and parses a YAML config file, validating it before
// returning — mirroring internal/aider/config.go's LoadConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for internally-consistent values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.NATSPort <= 0 || c.Server.NATSPort > 65535 {
		return fmt.Errorf("invalid NATS port: %d", c.Server.NATSPort)
	}
	if c.Store.EmbeddingDimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	if c.Events.Capacity <= 0 {
		return fmt.Errorf("events capacity must be positive")
	}
	if c.Engine.MaxConcurrentExecutors <= 0 {
		return fmt.Errorf("max_concurrent_executors must be positive")
	}
	if c.Engine.ReviewMaxAttempts <= 0 {
		return fmt.Errorf("review_max_attempts must be positive")
	}
	if c.Evaluation.KeywordCap > 10 {
		return fmt.Errorf("evaluation keyword cap must not exceed 10 (privacy invariant)")
	}
	return nil
}

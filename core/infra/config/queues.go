package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Job names used on the workflows queue.
const (
	QueueWorkflows = "workflows"
	JobRetry       = "retry"
	JobWorkflows   = "workflows"
)

// JobPolicy configures attempts and backoff for one job name.
type JobPolicy struct {
	Attempts     int    `yaml:"attempts"`
	BackoffType  string `yaml:"backoff_type"`
	BackoffDelay int64  `yaml:"backoff_delay_ms"`
}

// Delay returns the base backoff delay as a duration.
func (p JobPolicy) Delay() time.Duration {
	return time.Duration(p.BackoffDelay) * time.Millisecond
}

// PromoterConfig configures the delayed-job promoter loop.
type PromoterConfig struct {
	IntervalMillis int64 `yaml:"interval_ms"`
	BatchSize      int64 `yaml:"batch_size"`
	LockTTLSeconds int64 `yaml:"lock_ttl_seconds"`
}

// QueuesConfig is the YAML queue policy document.
type QueuesConfig struct {
	Jobs     map[string]JobPolicy `yaml:"jobs"`
	Promoter PromoterConfig       `yaml:"promoter"`
}

// Policy returns the policy for a job name, falling back to a single attempt.
func (c *QueuesConfig) Policy(name string) JobPolicy {
	if c != nil {
		if p, ok := c.Jobs[strings.TrimSpace(name)]; ok {
			return p
		}
	}
	return JobPolicy{Attempts: 1, BackoffType: "fixed"}
}

// LoadQueues loads a YAML queue policy file; returns defaults if missing.
func LoadQueues(path string) (*QueuesConfig, error) {
	if path == "" {
		return defaultQueues(), nil
	}
	// #nosec G304 -- queue config path is operator-provided.
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultQueues(), nil
	}
	if err != nil {
		return defaultQueues(), fmt.Errorf("read queue config: %w", err)
	}
	return ParseQueues(data)
}

// ParseQueues parses queue config data from YAML/JSON bytes.
func ParseQueues(data []byte) (*QueuesConfig, error) {
	if len(data) == 0 {
		return defaultQueues(), nil
	}
	var cfg QueuesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return defaultQueues(), fmt.Errorf("parse queue config: %w", err)
	}
	def := defaultQueues()
	if cfg.Jobs == nil {
		cfg.Jobs = map[string]JobPolicy{}
	}
	for name, p := range def.Jobs {
		if _, ok := cfg.Jobs[name]; !ok {
			cfg.Jobs[name] = p
		}
	}
	for name, p := range cfg.Jobs {
		if p.Attempts <= 0 {
			p.Attempts = 1
		}
		if p.BackoffType == "" {
			p.BackoffType = "exponential"
		}
		if p.BackoffDelay < 0 {
			p.BackoffDelay = 0
		}
		cfg.Jobs[name] = p
	}
	if cfg.Promoter.IntervalMillis <= 0 {
		cfg.Promoter.IntervalMillis = def.Promoter.IntervalMillis
	}
	if cfg.Promoter.BatchSize <= 0 {
		cfg.Promoter.BatchSize = def.Promoter.BatchSize
	}
	if cfg.Promoter.LockTTLSeconds <= 0 {
		cfg.Promoter.LockTTLSeconds = def.Promoter.LockTTLSeconds
	}
	return &cfg, nil
}

func defaultQueues() *QueuesConfig {
	return &QueuesConfig{
		Jobs: map[string]JobPolicy{
			JobRetry:     {Attempts: 3, BackoffType: "exponential", BackoffDelay: 1000},
			JobWorkflows: {Attempts: 1, BackoffType: "fixed"},
		},
		Promoter: PromoterConfig{
			IntervalMillis: 250,
			BatchSize:      100,
			LockTTLSeconds: 5,
		},
	}
}

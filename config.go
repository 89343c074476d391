package gantry

import (
	"fmt"
	"time"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from YAML, environment variables or flags. The zero-value is
// useful; all nested fields inherit their package defaults.
type Config struct {
	Processor ProcessorConfig `json:"processor" yaml:"processor"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`
	Queue     QueueConfig     `json:"queue" yaml:"queue"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Artifacts ArtifactConfig  `json:"artifacts" yaml:"artifacts"`
	Meta      MetaConfig      `json:"meta" yaml:"meta"`
}

type ProcessorConfig struct {
	WorkerCount int `json:"workers" yaml:"workers"`
}

type SchedulerConfig struct {
	// PollingInterval is how often the scheduler sweeps running runs.
	PollingInterval time.Duration `json:"interval" yaml:"interval"`
}

type QueueConfig struct {
	Buffer int `json:"buffer" yaml:"buffer"`
}

type HistoryConfig struct {
	// DSN is the SQLite data source; empty disables run history.
	DSN string `json:"dsn" yaml:"dsn"`
}

type ArtifactConfig struct {
	// BaseURL is the artifact store root, any afs scheme.
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

type MetaConfig struct {
	// BaseURL resolves relative pipeline locations.
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

// DefaultConfig returns a Config populated with the same defaults the
// constructors apply. Callers may modify the returned struct before passing
// it to NewFromConfig.
func DefaultConfig() *Config {
	return &Config{
		Processor: ProcessorConfig{WorkerCount: 5},
		Scheduler: SchedulerConfig{PollingInterval: 20 * time.Millisecond},
		Queue:     QueueConfig{Buffer: 1000},
		Artifacts: ArtifactConfig{BaseURL: "mem://localhost/gantry/artifacts"},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Processor.WorkerCount <= 0 {
		return fmt.Errorf("processor.workers must be > 0")
	}
	if c.Scheduler.PollingInterval < 0 {
		return fmt.Errorf("scheduler.interval must not be negative")
	}
	if c.Queue.Buffer < 0 {
		return fmt.Errorf("queue.buffer must not be negative")
	}
	return nil
}

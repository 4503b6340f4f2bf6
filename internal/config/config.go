package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mumose/contract-labeling-with-TOC/internal/align"
	"github.com/mumose/contract-labeling-with-TOC/internal/engine"
)

type Config struct {
	Port     string `mapstructure:"port" yaml:"port"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// Worker pool
	WorkerCount  int `mapstructure:"worker_count" yaml:"worker_count"`
	MaxQueueSize int `mapstructure:"max_queue_size" yaml:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes"`

	// Job state
	JobTTL time.Duration `mapstructure:"job_ttl" yaml:"job_ttl"`

	ResultStore ResultStore `mapstructure:"result_store" yaml:"result_store"`
	Batch       Batch       `mapstructure:"batch" yaml:"batch"`
	Matching    Matching    `mapstructure:"matching" yaml:"matching"`
}

// ResultStore points at the key-value service alignments are pushed to.
// An empty URL disables pushing.
type ResultStore struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Attempts uint          `mapstructure:"attempts" yaml:"attempts"`
	Delay    time.Duration `mapstructure:"delay" yaml:"delay"`
}

type Batch struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// Matching holds the alignment thresholds. Ratio thresholds are
// percentages.
type Matching struct {
	LineMergeIOU       float64 `mapstructure:"line_merge_iou_threshold" yaml:"line_merge_iou_threshold"`
	Subset             int     `mapstructure:"subset_match_threshold" yaml:"subset_match_threshold"`
	LineLen            int     `mapstructure:"line_len_match_threshold" yaml:"line_len_match_threshold"`
	Beg                int     `mapstructure:"beg_line_match_threshold" yaml:"beg_line_match_threshold"`
	First              int     `mapstructure:"first_line_match_threshold" yaml:"first_line_match_threshold"`
	IncludeSubsections bool    `mapstructure:"include_subsections" yaml:"include_subsections"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	p := engine.DefaultParams()
	return Config{
		Port:           "8090",
		LogLevel:       "info",
		WorkerCount:    4,
		MaxQueueSize:   100,
		MaxUploadBytes: 52428800, // 50MB
		JobTTL:         time.Hour,
		ResultStore: ResultStore{
			Attempts: 3,
			Delay:    500 * time.Millisecond,
		},
		Batch: Batch{Concurrency: 4},
		Matching: Matching{
			LineMergeIOU:       p.MergeIOU,
			Subset:             p.Thresholds.Subset,
			LineLen:            p.Thresholds.LineLen,
			Beg:                p.Thresholds.Beg,
			First:              p.Thresholds.First,
			IncludeSubsections: p.IncludeSubsections,
		},
	}
}

// EngineParams converts the matching section into engine parameters.
func (c Config) EngineParams() engine.Params {
	return engine.Params{
		MergeIOU: c.Matching.LineMergeIOU,
		Thresholds: align.Thresholds{
			Subset:  c.Matching.Subset,
			LineLen: c.Matching.LineLen,
			Beg:     c.Matching.Beg,
			First:   c.Matching.First,
		},
		IncludeSubsections: c.Matching.IncludeSubsections,
	}
}

func (c Config) Validate() error {
	if err := c.EngineParams().Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker_count must be positive, got %d", c.WorkerCount)
	}
	if c.MaxQueueSize <= 0 {
		return fmt.Errorf("max_queue_size must be positive, got %d", c.MaxQueueSize)
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be positive, got %d", c.Batch.Concurrency)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ResultStore.URL != "" && c.ResultStore.Attempts == 0 {
		return errors.New("result_store.attempts must be at least 1")
	}
	return nil
}

// ValidateServer adds the checks that only apply to the HTTP server.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return errors.New("TOCALIGN_API_KEY is required")
	}
	if c.JobTTL <= 0 {
		return fmt.Errorf("job_ttl must be positive, got %s", c.JobTTL)
	}
	return nil
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager loads configuration from defaults, an optional YAML file and
// TOCALIGN_* environment variables, in increasing priority.
func NewManager(cfgFile string) (*Manager, error) {
	m := &Manager{v: viper.New()}
	if err := m.initViper(cfgFile); err != nil {
		return nil, err
	}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

func (m *Manager) initViper(cfgFile string) error {
	v := m.v
	d := Default()
	v.SetDefault("port", d.Port)
	v.SetDefault("api_key", d.APIKey)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("worker_count", d.WorkerCount)
	v.SetDefault("max_queue_size", d.MaxQueueSize)
	v.SetDefault("max_upload_bytes", d.MaxUploadBytes)
	v.SetDefault("job_ttl", d.JobTTL)
	v.SetDefault("result_store.url", d.ResultStore.URL)
	v.SetDefault("result_store.api_key", d.ResultStore.APIKey)
	v.SetDefault("result_store.attempts", d.ResultStore.Attempts)
	v.SetDefault("result_store.delay", d.ResultStore.Delay)
	v.SetDefault("batch.concurrency", d.Batch.Concurrency)
	v.SetDefault("matching.line_merge_iou_threshold", d.Matching.LineMergeIOU)
	v.SetDefault("matching.subset_match_threshold", d.Matching.Subset)
	v.SetDefault("matching.line_len_match_threshold", d.Matching.LineLen)
	v.SetDefault("matching.beg_line_match_threshold", d.Matching.Beg)
	v.SetDefault("matching.first_line_match_threshold", d.Matching.First)
	v.SetDefault("matching.include_subsections", d.Matching.IncludeSubsections)

	// TOCALIGN_MATCHING_SUBSET_MATCH_THRESHOLD and friends
	v.SetEnvPrefix("TOCALIGN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("tocalign")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.tocalign")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// ConfigFile is the file the configuration was read from, if any.
func (m *Manager) ConfigFile() string {
	return m.v.ConfigFileUsed()
}

// Override pins key to value above every other source, as command-line
// flags do, and reloads.
func (m *Manager) Override(key string, value any) error {
	m.v.Set(key, value)
	cfg, err := m.load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// OnChange registers a callback for config changes.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig reloads the config file when it changes on disk. A reload
// that does not unmarshal or validate keeps the previous configuration.
func (m *Manager) WatchConfig() {
	m.v.OnConfigChange(func(e fsnotify.Event) {
		m.reload()
	})
	m.v.WatchConfig()
}

func (m *Manager) reload() {
	cfg, err := m.load()
	if err != nil || cfg.Validate() != nil {
		return
	}

	m.mu.Lock()
	m.config = cfg
	callbacks := make([]func(*Config), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

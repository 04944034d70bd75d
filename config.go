package mocap_gan

import (
	"fmt"
	"math"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config Training session knobs
//
// LatentDim has no default: it must match Generator's input and is always required.
// L1Weight/L2Weight are stored but have no effect unless Regularize is true.
//
type Config struct {
	BatchSize     int        `yaml:"batch_size"`
	Epochs        int        `yaml:"epochs"`
	LatentDim     int        `yaml:"latent_dim"`
	Seed          int64      `yaml:"seed"`
	Generator     AdamConfig `yaml:"generator"`
	Discriminator AdamConfig `yaml:"discriminator"`
	Eps           float64    `yaml:"eps"`
	L1Weight      float64    `yaml:"l1_weight"`
	L2Weight      float64    `yaml:"l2_weight"`
	Regularize    bool       `yaml:"regularize"`
	LogEvery      int        `yaml:"log_every"`
	// Rendering of final samples
	SampleFile     string  `yaml:"sample_file"`
	SampleInterval float64 `yaml:"sample_interval"`
}

// Overrides CLI supplied values. Zero values are ignored.
type Overrides struct {
	BatchSize  int
	Epochs     int
	LatentDim  int
	Seed       int64
	Alpha      float64
	LogEvery   int
	SampleFile string
}

// DefaultConfig Returns config with defaults: 100 epochs, Adam 1e-6/0.9/0.999, eps 1e-8, l2 0.1 (inert). Latent dim must be set by caller.
func DefaultConfig() Config {
	return Config{
		BatchSize:      20,
		Epochs:         100,
		Generator:      DefaultAdamConfig(),
		Discriminator:  DefaultAdamConfig(),
		Eps:            DefaultEps,
		L1Weight:       0.0,
		L2Weight:       0.1,
		LogEvery:       1,
		SampleInterval: 15,
	}
}

// LoadConfig Reads YAML file on top of DefaultConfig and validates result
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't read config '%s'", path))
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't parse config '%s'", path))
	}
	// Explicit zero means "log every epoch"
	if cfg.LogEvery == 0 {
		cfg.LogEvery = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Invalid config '%s'", path))
	}
	return &cfg, nil
}

// ApplyOverrides Updates cfg using any non-zero override. Alpha is applied to both networks.
func (cfg *Config) ApplyOverrides(o Overrides) {
	if o.BatchSize > 0 {
		cfg.BatchSize = o.BatchSize
	}
	if o.Epochs > 0 {
		cfg.Epochs = o.Epochs
	}
	if o.LatentDim > 0 {
		cfg.LatentDim = o.LatentDim
	}
	if o.Seed != 0 {
		cfg.Seed = o.Seed
	}
	if o.Alpha > 0 {
		cfg.Generator.Alpha = o.Alpha
		cfg.Discriminator.Alpha = o.Alpha
	}
	if o.LogEvery > 0 {
		cfg.LogEvery = o.LogEvery
	}
	if o.SampleFile != "" {
		cfg.SampleFile = o.SampleFile
	}
}

// Validate Verifies the config is runnable. Config is never modified.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", cfg.BatchSize)
	}
	if cfg.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", cfg.Epochs)
	}
	if cfg.LatentDim <= 0 {
		return fmt.Errorf("latent_dim must be > 0 (got %d)", cfg.LatentDim)
	}
	if err := cfg.Generator.Validate(); err != nil {
		return errors.Wrap(err, "generator")
	}
	if err := cfg.Discriminator.Validate(); err != nil {
		return errors.Wrap(err, "discriminator")
	}
	if cfg.Eps <= 0 || math.IsNaN(cfg.Eps) {
		return fmt.Errorf("eps must be > 0 (got %v)", cfg.Eps)
	}
	if cfg.L1Weight < 0 || cfg.L2Weight < 0 {
		return fmt.Errorf("regularization weights must be >= 0 (got l1=%v, l2=%v)", cfg.L1Weight, cfg.L2Weight)
	}
	if cfg.LogEvery <= 0 {
		return fmt.Errorf("log_every must be > 0 (got %d)", cfg.LogEvery)
	}
	if cfg.SampleInterval < 0 {
		return fmt.Errorf("sample_interval must be >= 0 (got %v)", cfg.SampleInterval)
	}
	return nil
}

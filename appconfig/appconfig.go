package appconfig

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type AppConfig struct {
	StateDims  int `env:"STATE_DIMS" env-default:"10"`
	ActionDims int `env:"ACTION_DIMS" env-default:"6"`
	HiddenDims int `env:"HIDDEN_DIMS" env-default:"64"`

	IngestAddr  string `env:"INGEST_ADDR" env-default:"0.0.0.0:1337"`
	WeightsAddr string `env:"WEIGHTS_ADDR" env-default:"0.0.0.0:8080"`

	LearningRate   float64 `env:"LEARNING_RATE" env-default:"0.01"`
	Gamma          float64 `env:"GAMMA" env-default:"0.95"`
	BatchSize      int     `env:"BATCH_SIZE" env-default:"32"`
	ReplayCapacity int     `env:"REPLAY_CAPACITY" env-default:"10000"`
	SaveFrequency  int     `env:"SAVE_FREQUENCY" env-default:"1000"`

	WeightsFile   string `env:"WEIGHTS_FILE" env-default:"data/weights.snapshot"`
	UpdateLogFile string `env:"UPDATE_LOG_FILE" env-default:"data/updates.log"`
	MetricsDir    string `env:"METRICS_DIR" env-default:"data/metrics"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogPretty bool   `env:"LOG_PRETTY" env-default:"false"`
}

// Load environment variables to AppConfig instance
func LoadAppConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs once at startup; a failure here is the only fatal
// error class in the service.
func (c *AppConfig) Validate() error {
	if c.StateDims <= 0 {
		return fmt.Errorf("config: STATE_DIMS must be > 0, got %d", c.StateDims)
	}
	if c.ActionDims <= 0 || c.ActionDims > 256 {
		return fmt.Errorf("config: ACTION_DIMS must be in [1,256], got %d", c.ActionDims)
	}
	if c.HiddenDims <= 0 {
		return fmt.Errorf("config: HIDDEN_DIMS must be > 0, got %d", c.HiddenDims)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("config: LEARNING_RATE must be > 0, got %v", c.LearningRate)
	}
	if c.Gamma < 0 || c.Gamma >= 1 {
		return fmt.Errorf("config: GAMMA must be in [0,1), got %v", c.Gamma)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: BATCH_SIZE must be > 0, got %d", c.BatchSize)
	}
	if c.ReplayCapacity < c.BatchSize {
		return fmt.Errorf("config: REPLAY_CAPACITY (%d) must be >= BATCH_SIZE (%d)",
			c.ReplayCapacity, c.BatchSize)
	}
	if c.SaveFrequency <= 0 {
		return fmt.Errorf("config: SAVE_FREQUENCY must be > 0, got %d", c.SaveFrequency)
	}
	if c.WeightsFile == "" {
		return fmt.Errorf("config: WEIGHTS_FILE must not be empty")
	}
	return nil
}

package run

import (
	"fmt"
	"math"
	"os"

	filter "github.com/bmslab/go-estimate"
	"gopkg.in/yaml.v3"
)

// Config configures an estimation run
type Config struct {
	// Seed seeds the random sources used to generate the run input
	Seed uint64 `yaml:"seed"`
	// Steps is the number of steps to generate
	Steps int `yaml:"steps"`
	// Dt is the default time step used by steps which do not carry their own
	Dt float64 `yaml:"dt"`
}

// Validate returns error if the configuration is invalid.
func (c Config) Validate() error {
	if c.Steps < 0 {
		return fmt.Errorf("%w: steps: %d", filter.ErrInvalidParameter, c.Steps)
	}

	if c.Dt < 0 || math.IsNaN(c.Dt) || math.IsInf(c.Dt, 0) {
		return fmt.Errorf("%w: dt: %v", filter.ErrInvalidParameter, c.Dt)
	}

	return nil
}

// WithDefaults returns c with its zero fields replaced by the fields of def.
func (c Config) WithDefaults(def Config) Config {
	if c.Seed == 0 {
		c.Seed = def.Seed
	}

	if c.Steps == 0 {
		c.Steps = def.Steps
	}

	if c.Dt == 0 {
		c.Dt = def.Dt
	}

	return c
}

// LoadConfig reads YAML configuration from path and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}

	return c, nil
}

// Package config provides configuration loading and management for synthesizar.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
	"synthesizar/pkg/instruments"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Parallel selects the concurrent pipeline
		Parallel bool `yaml:"parallel"`

		// NumWorkers bounds the worker pool of the concurrent pipeline
		NumWorkers int `yaml:"numWorkers"`

		// DS is the maximum spacing of resampled curve points, in coordinate units
		DS float64 `yaml:"ds"`

		// ChunkColumns is the store chunk width; 0 uses the median curve length
		ChunkColumns int `yaml:"chunkColumns"`
	} `yaml:"processing"`

	// Observer location
	Observer struct {
		// Longitude and Latitude are heliographic, in degrees
		Longitude float64 `yaml:"longitude"`
		Latitude  float64 `yaml:"latitude"`

		// Distance is in coordinate length units
		Distance float64 `yaml:"distance"`

		// StartTime is the RFC 3339 wall-clock time of simulation time zero
		StartTime string `yaml:"startTime"`
	} `yaml:"observer"`

	// Instruments to observe with
	Instruments []instruments.Instrument `yaml:"instruments"`

	// Input files
	Inputs struct {
		// LoopsFile is the YAML curve geometry and hydrodynamics file
		LoopsFile string `yaml:"loopsFile"`

		// EmissivityFile is the YAML count-rate table
		EmissivityFile string `yaml:"emissivityFile"`
	} `yaml:"inputs"`

	// Output parameters
	Output struct {
		// SaveDir receives the instrument stores and the images
		SaveDir string `yaml:"saveDir"`

		// Compression is the image codec: none, snappy, zstd or gzip
		Compression string `yaml:"compression"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogLevel is debug, info, warn or error; Verbose forces debug
		LogLevel string `yaml:"logLevel"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.Parallel = false
	cfg.Processing.NumWorkers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.DS = 0.5
	cfg.Processing.ChunkColumns = 0

	// Set default observer parameters
	cfg.Observer.Longitude = 0
	cfg.Observer.Latitude = 0
	cfg.Observer.Distance = 149597.870700 // 1 AU in Mm
	cfg.Observer.StartTime = "2026-01-01T00:00:00Z"

	// Set default instrument
	cfg.Instruments = []instruments.Instrument{
		{
			Name:          "imager",
			Kind:          instruments.KindImager,
			Cadence:       10,
			ObservingTime: [2]float64{0, 100},
			TimeUnit:      "s",
			Resolution:    instruments.Resolution{X: 0.435, Y: 0.435},
			PadPixels:     instruments.DefaultPadPixels,
			Channels: []models.Channel{
				{Name: "171", Wavelength: 171, WavelengthUnit: "Angstrom"},
			},
		},
	}

	// Set default input and output parameters
	cfg.Inputs.LoopsFile = "loops.yaml"
	cfg.Inputs.EmissivityFile = "emissivity.yaml"
	cfg.Output.SaveDir = "output"
	cfg.Output.Compression = "zstd"
	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Validate checks the configuration and fills instrument defaults.
func (c *Config) Validate() error {
	if !(c.Processing.DS > 0) {
		return serrors.NewConfiguration("processing.ds must be positive, got %g", c.Processing.DS)
	}
	if c.Processing.NumWorkers < 0 {
		return serrors.NewConfiguration("processing.numWorkers must not be negative")
	}
	if c.Processing.ChunkColumns < 0 {
		return serrors.NewConfiguration("processing.chunkColumns must not be negative")
	}
	if !(c.Observer.Distance > 0) {
		return serrors.NewConfiguration("observer.distance must be positive")
	}
	if _, err := c.Start(); err != nil {
		return err
	}
	if len(c.Instruments) == 0 {
		return serrors.NewConfiguration("no instruments configured")
	}
	names := make(map[string]bool, len(c.Instruments))
	for i := range c.Instruments {
		if err := c.Instruments[i].Validate(); err != nil {
			return err
		}
		if names[c.Instruments[i].Name] {
			return serrors.NewConfiguration("duplicate instrument %s", c.Instruments[i].Name)
		}
		names[c.Instruments[i].Name] = true
	}
	if c.Output.SaveDir == "" {
		return serrors.NewConfiguration("output.saveDir must be set")
	}
	return nil
}

// Start parses Observer.StartTime.
func (c *Config) Start() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.Observer.StartTime)
	if err != nil {
		return time.Time{}, serrors.NewConfiguration("observer.startTime %q: %v", c.Observer.StartTime, err)
	}
	return t, nil
}

// ObserverLocation returns the observer as used by instrument headers.
func (c *Config) ObserverLocation() (instruments.Observer, error) {
	start, err := c.Start()
	if err != nil {
		return instruments.Observer{}, err
	}
	return instruments.Observer{
		Longitude: c.Observer.Longitude,
		Latitude:  c.Observer.Latitude,
		Distance:  c.Observer.Distance,
		Start:     start,
	}, nil
}

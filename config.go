package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"kettle-autotune/internal/autotune"
	"kettle-autotune/internal/kettle"
)

// Config represents the complete configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Tuner      TunerConfig      `yaml:"tuner"`
	Sensor     SensorConfig     `yaml:"sensor"`
	Heater     HeaterConfig     `yaml:"heater"`
	Simulation SimulationConfig `yaml:"simulation"`
	Output     OutputConfig     `yaml:"output"`
}

// ServerConfig contains server-related settings
type ServerConfig struct {
	MetricsPort int    `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
}

// TunerConfig contains the relay auto-tuner parameters
type TunerConfig struct {
	Setpoint       float64       `yaml:"setpoint"`        // Target temperature (°C)
	OutputStep     float64       `yaml:"output_step"`     // Relay amplitude (%)
	SampleInterval time.Duration `yaml:"sample_interval"` // Heater duty window and sample spacing
	Lookback       time.Duration `yaml:"lookback"`        // Peak detection window
	OutputMin      float64       `yaml:"output_min"`      // Minimum output (%)
	OutputMax      float64       `yaml:"output_max"`      // Maximum output (%)
	Noiseband      *float64      `yaml:"noiseband"`       // Hysteresis (°C), nil means default; 0 is valid
	Rule           string        `yaml:"rule"`            // Tuning rule reported as the result
}

// SensorConfig selects and configures the temperature source
type SensorConfig struct {
	Backend     string        `yaml:"backend"`      // sim, w1 or serial
	W1Device    string        `yaml:"w1_device"`    // Path to a DS18B20 w1_slave file
	SerialPort  string        `yaml:"serial_port"`  // Serial thermometer device
	BaudRate    int           `yaml:"baud_rate"`    // Serial baud rate
	StaleAfter  time.Duration `yaml:"stale_after"`  // Serial readings older than this are rejected
	MaxFailures int           `yaml:"max_failures"` // Consecutive read failures before aborting
}

// HeaterConfig selects and configures the heater actuator
type HeaterConfig struct {
	Backend  string  `yaml:"backend"`   // sim or gpio
	GPIOChip string  `yaml:"gpio_chip"` // e.g. gpiochip0
	GPIOLine int     `yaml:"gpio_line"` // Line offset driving the solid-state relay
	PowerKW  float64 `yaml:"power_kw"`  // Heater power, used by the simulation
}

// SimulationConfig describes the simulated kettle
type SimulationConfig struct {
	DiameterCm     float64       `yaml:"diameter_cm"`
	VolumeL        float64       `yaml:"volume_l"`
	InitialTemp    float64       `yaml:"initial_temp"`
	AmbientTemp    float64       `yaml:"ambient_temp"`
	HeatLossFactor float64       `yaml:"heat_loss_factor"`
	SensorDelay    time.Duration `yaml:"sensor_delay"`
}

// OutputConfig controls where the tuning result is written
type OutputConfig struct {
	ResultPath string `yaml:"result_path"`
}

const (
	backendSim    = "sim"
	backendW1     = "w1"
	backendSerial = "serial"
	backendGPIO   = "gpio"

	defaultNoiseband = 0.5
)

// LoadConfig loads and parses the configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Set defaults for any missing values
	setDefaults(&config)

	// Validate the configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default values for any missing configuration fields
func setDefaults(config *Config) {
	if config.Server.MetricsPort == 0 {
		config.Server.MetricsPort = 9090
	}
	if config.Server.LogLevel == "" {
		config.Server.LogLevel = "info"
	}
	if config.Tuner.OutputStep == 0 {
		config.Tuner.OutputStep = 100
	}
	if config.Tuner.SampleInterval == 0 {
		config.Tuner.SampleInterval = 5 * time.Second
	}
	if config.Tuner.Lookback == 0 {
		config.Tuner.Lookback = 30 * time.Second
	}
	if config.Tuner.OutputMax == 0 {
		config.Tuner.OutputMax = 100
	}
	if config.Tuner.Noiseband == nil {
		nb := defaultNoiseband
		config.Tuner.Noiseband = &nb
	}
	if config.Tuner.Rule == "" {
		config.Tuner.Rule = autotune.DefaultRule
	}
	if config.Sensor.Backend == "" {
		config.Sensor.Backend = backendSim
	}
	if config.Sensor.BaudRate == 0 {
		config.Sensor.BaudRate = 9600
	}
	if config.Sensor.StaleAfter == 0 {
		config.Sensor.StaleAfter = 2 * config.Tuner.SampleInterval
	}
	if config.Sensor.MaxFailures == 0 {
		config.Sensor.MaxFailures = 5
	}
	if config.Heater.Backend == "" {
		config.Heater.Backend = backendSim
	}
	if config.Heater.GPIOChip == "" {
		config.Heater.GPIOChip = "gpiochip0"
	}
	if config.Heater.PowerKW == 0 {
		config.Heater.PowerKW = 2.8
	}
	if config.Simulation.DiameterCm == 0 {
		config.Simulation.DiameterCm = 35
	}
	if config.Simulation.VolumeL == 0 {
		config.Simulation.VolumeL = 40
	}
	if config.Simulation.InitialTemp == 0 {
		config.Simulation.InitialTemp = 20
	}
	if config.Simulation.AmbientTemp == 0 {
		config.Simulation.AmbientTemp = 20
	}
	if config.Simulation.HeatLossFactor == 0 {
		config.Simulation.HeatLossFactor = 1
	}
	if config.Output.ResultPath == "" {
		config.Output.ResultPath = "autotune-result.yaml"
	}
}

// Validate checks all configuration values for logical consistency
func (c *Config) Validate() error {
	// Tuner validation shares the tuner's own construction checks
	if err := c.TunerParams(nil, nil).Validate(); err != nil {
		return fmt.Errorf("tuner: %w", err)
	}
	if _, err := autotune.LookupRule(c.Tuner.Rule); err != nil {
		return fmt.Errorf("tuner: %w (available: %v)", err, autotune.Rules())
	}

	// Sensor validation
	switch c.Sensor.Backend {
	case backendSim:
	case backendW1:
		if c.Sensor.W1Device == "" {
			return fmt.Errorf("sensor.w1_device is required for the w1 backend")
		}
	case backendSerial:
		if c.Sensor.SerialPort == "" {
			return fmt.Errorf("sensor.serial_port is required for the serial backend")
		}
		if c.Sensor.BaudRate <= 0 {
			return fmt.Errorf("sensor.baud_rate must be positive, got %d", c.Sensor.BaudRate)
		}
	default:
		return fmt.Errorf("sensor.backend must be one of: sim, w1, serial, got %s", c.Sensor.Backend)
	}
	if c.Sensor.MaxFailures <= 0 {
		return fmt.Errorf("sensor.max_failures must be positive, got %d", c.Sensor.MaxFailures)
	}
	if c.Sensor.StaleAfter <= 0 {
		return fmt.Errorf("sensor.stale_after must be positive, got %v", c.Sensor.StaleAfter)
	}

	// Heater validation
	switch c.Heater.Backend {
	case backendSim:
	case backendGPIO:
		if c.Heater.GPIOLine < 0 {
			return fmt.Errorf("heater.gpio_line must be non-negative, got %d", c.Heater.GPIOLine)
		}
	default:
		return fmt.Errorf("heater.backend must be one of: sim, gpio, got %s", c.Heater.Backend)
	}
	if (c.Sensor.Backend == backendSim) != (c.Heater.Backend == backendSim) {
		return fmt.Errorf("sensor.backend and heater.backend must both be sim or both be hardware")
	}
	if c.Heater.PowerKW <= 0 {
		return fmt.Errorf("heater.power_kw must be positive, got %.3f", c.Heater.PowerKW)
	}

	// Simulation validation
	if c.Simulation.DiameterCm <= 0 {
		return fmt.Errorf("simulation.diameter_cm must be positive, got %.1f", c.Simulation.DiameterCm)
	}
	if c.Simulation.VolumeL <= 0 {
		return fmt.Errorf("simulation.volume_l must be positive, got %.1f", c.Simulation.VolumeL)
	}
	if c.Simulation.HeatLossFactor < 0 {
		return fmt.Errorf("simulation.heat_loss_factor must be non-negative, got %.3f", c.Simulation.HeatLossFactor)
	}
	if c.Simulation.SensorDelay < 0 {
		return fmt.Errorf("simulation.sensor_delay must be non-negative, got %v", c.Simulation.SensorDelay)
	}

	// Server validation
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port must be between 1-65535, got %d", c.Server.MetricsPort)
	}
	if _, ok := logLevels[c.Server.LogLevel]; !ok {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error, got %s", c.Server.LogLevel)
	}

	return nil
}

// TunerParams converts the tuner section into tuner parameters
func (c *Config) TunerParams(clock func() time.Time, logFn func(string)) autotune.Config {
	noiseband := defaultNoiseband
	if c.Tuner.Noiseband != nil {
		noiseband = *c.Tuner.Noiseband
	}
	return autotune.Config{
		Setpoint:       c.Tuner.Setpoint,
		OutputStep:     c.Tuner.OutputStep,
		SampleInterval: c.Tuner.SampleInterval,
		Lookback:       c.Tuner.Lookback,
		OutputMin:      c.Tuner.OutputMin,
		OutputMax:      c.Tuner.OutputMax,
		Noiseband:      noiseband,
		Clock:          clock,
		Log:            logFn,
	}
}

// SimParams converts the simulation and heater sections into simulator parameters
func (c *Config) SimParams() kettle.SimConfig {
	return kettle.SimConfig{
		Diameter:       c.Simulation.DiameterCm,
		Volume:         c.Simulation.VolumeL,
		InitialTemp:    c.Simulation.InitialTemp,
		HeaterPower:    c.Heater.PowerKW,
		AmbientTemp:    c.Simulation.AmbientTemp,
		HeatLossFactor: c.Simulation.HeatLossFactor,
		SensorDelay:    c.Simulation.SensorDelay,
		Step:           c.Tuner.SampleInterval,
	}
}

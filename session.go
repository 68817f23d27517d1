package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"kettle-autotune/internal/autotune"
)

// Result is the outcome of a tuning session
type Result struct {
	ID                string                    `yaml:"id"`
	State             autotune.State            `yaml:"state"`
	StartedAt         time.Time                 `yaml:"started_at"`
	FinishedAt        time.Time                 `yaml:"finished_at"`
	Samples           int                       `yaml:"samples"`
	Peaks             int                       `yaml:"peaks"`
	Setpoint          float64                   `yaml:"setpoint"`
	TemperatureMean   float64                   `yaml:"temperature_mean"`
	TemperatureStdDev float64                   `yaml:"temperature_stddev"`
	UltimateGain      float64                   `yaml:"ultimate_gain,omitempty"`
	UltimatePeriod    float64                   `yaml:"ultimate_period_seconds,omitempty"`
	Rule              string                    `yaml:"rule"`
	Gains             *autotune.Gains           `yaml:"gains,omitempty"`
	AllGains          map[string]autotune.Gains `yaml:"all_gains,omitempty"`
	Warnings          []string                  `yaml:"warnings,omitempty"`
}

// Session drives one tuning campaign: it feeds sensor readings to the tuner
// and applies the tuner output to the heater until the tuner finishes.
type Session struct {
	Config  *Config
	Tuner   *autotune.Tuner
	Sensor  TemperatureSensor
	Heater  Heater
	Metrics *Metrics
	Clock   func() time.Time
}

// Run executes the session. A failed tuning run is reported in the result,
// not as an error. The heater is off when Run returns.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	defer func() {
		if err := s.Heater.Off(); err != nil {
			log.Printf("Critical: failed to switch heater off: %v", err)
		}
	}()

	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := s.Config.Tuner.SampleInterval
	maxFailures := s.Config.Sensor.MaxFailures

	result := &Result{
		ID:        uuid.NewString(),
		StartedAt: clock(),
		Setpoint:  s.Config.Tuner.Setpoint,
		Rule:      s.Config.Tuner.Rule,
	}
	infof("Starting tuning run %s (setpoint: %.1f°C, interval: %v)", result.ID, result.Setpoint, interval)

	var temps []float64
	var consecutiveFailures int

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sampleStart := time.Now()

		temp, err := s.Sensor.ReadTemperature()
		if err != nil {
			consecutiveFailures++
			s.Metrics.RecordError("sensor")
			warnf("sensor read failed (attempt %d/%d): %v", consecutiveFailures, maxFailures, err)

			if consecutiveFailures >= maxFailures {
				return nil, fmt.Errorf("giving up after %d consecutive sensor failures: %w", consecutiveFailures, err)
			}

			// Hold the heater off while blind
			if err := s.Heater.Drive(ctx, 0, interval); err != nil {
				return nil, fmt.Errorf("failed to drive heater: %w", err)
			}
			continue
		}
		consecutiveFailures = 0

		temps = append(temps, temp)
		finished := s.Tuner.Sample(temp)
		snap := s.Tuner.Snapshot()
		s.Metrics.ObserveSample(temp, snap, time.Since(sampleStart))
		debugf("Status: Temp: %.2f°C | Output: %.0f%% | State: %s | Peaks: %d",
			temp, snap.Output, snap.State, snap.PeakCount)

		if finished {
			if err := s.Heater.Off(); err != nil {
				s.Metrics.RecordError("heater")
				log.Printf("Critical: failed to switch heater off: %v", err)
			}
			return s.finish(result, temps, clock()), nil
		}

		if err := s.Heater.Drive(ctx, snap.Output, interval); err != nil {
			s.Metrics.RecordError("heater")
			return nil, fmt.Errorf("failed to drive heater: %w", err)
		}
	}
}

// finish fills in the result from the concluded tuner
func (s *Session) finish(result *Result, temps []float64, finishedAt time.Time) *Result {
	snap := s.Tuner.Snapshot()

	result.State = snap.State
	result.FinishedAt = finishedAt
	result.Samples = len(temps)
	result.Peaks = snap.PeakCount
	if len(temps) > 1 {
		result.TemperatureMean, result.TemperatureStdDev = stat.MeanStdDev(temps, nil)
	} else if len(temps) == 1 {
		result.TemperatureMean = temps[0]
	}

	if snap.State != autotune.StateSucceeded {
		warnf("tuning run %s failed to converge after %d peaks", result.ID, snap.PeakCount)
		return result
	}

	result.UltimateGain = snap.UltimateGain
	result.UltimatePeriod = snap.UltimatePeriod
	result.AllGains = make(map[string]autotune.Gains)
	for _, rule := range s.Tuner.Rules() {
		gains, err := s.Tuner.TuningParameters(rule)
		if err != nil {
			continue
		}
		result.AllGains[rule] = gains
		s.Metrics.RecordGains(rule, gains)
	}

	gains := result.AllGains[result.Rule]
	result.Gains = &gains
	result.Warnings = ValidateGains(gains)
	for _, w := range result.Warnings {
		warnf("%s gains: %s", result.Rule, w)
	}

	infof("Tuning run %s succeeded: Ku=%.4f Pu=%.1fs | %s: Kp=%.4f Ki=%.5f Kd=%.4f",
		result.ID, result.UltimateGain, result.UltimatePeriod,
		result.Rule, gains.Kp, gains.Ki, gains.Kd)
	return result
}

// WriteResult writes the result as YAML
func WriteResult(path string, result *Result) error {
	data, err := yaml.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write result file %s: %w", path, err)
	}
	return nil
}

package kettle

import (
	"math"
	"time"

	"kettle-autotune/internal/ringbuf"
)

// SimConfig describes a simulated kettle rig
type SimConfig struct {
	Diameter    float64 // cm
	Volume      float64 // l
	InitialTemp float64 // degrees C
	Density     float64 // kg/l, 0 means water

	HeaterPower    float64 // kW at 100%
	AmbientTemp    float64 // degrees C
	HeatLossFactor float64 // 0 means 1

	// SensorDelay is the dead time between the content temperature and the
	// sensor reading, quantized to Step.
	SensorDelay time.Duration
	// Step is the expected interval between Step calls, used to size the delay line
	Step time.Duration
}

// Simulator couples a kettle with a heater and a lagging temperature sensor
type Simulator struct {
	cfg    SimConfig
	kettle *Kettle
	delay  *ringbuf.Bounded[float64]
}

// NewSimulator builds a simulator whose sensor delay line is primed with the
// initial temperature.
func NewSimulator(cfg SimConfig) *Simulator {
	if cfg.Density == 0 {
		cfg.Density = 1
	}
	if cfg.HeatLossFactor == 0 {
		cfg.HeatLossFactor = 1
	}

	slots := 1
	if cfg.Step > 0 {
		slots = int(math.Max(1, math.Round(float64(cfg.SensorDelay)/float64(cfg.Step))))
	}

	k := New(cfg.Diameter, cfg.Volume, cfg.InitialTemp, cfg.Density)
	delay := ringbuf.New[float64](slots)
	for i := 0; i < slots; i++ {
		delay.Append(k.Temperature())
	}

	return &Simulator{cfg: cfg, kettle: k, delay: delay}
}

// Step heats at percent (clamped to 0..100) of the heater power for d,
// loses heat to the ambient for d, and records the new temperature.
func (s *Simulator) Step(percent float64, d time.Duration) float64 {
	percent = math.Max(0, math.Min(100, percent))

	s.kettle.Heat(s.cfg.HeaterPower*percent/100, d)
	temp := s.kettle.Cool(d, s.cfg.AmbientTemp, s.cfg.HeatLossFactor)
	s.delay.Append(temp)
	return temp
}

// Reading returns the lagged sensor value
func (s *Simulator) Reading() float64 {
	return s.delay.At(0)
}

// Temperature returns the actual content temperature
func (s *Simulator) Temperature() float64 {
	return s.kettle.Temperature()
}

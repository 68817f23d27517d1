// Package autotune identifies PID gains for a process with the relay-feedback
// (Astrom-Hagglund) method: a bang-bang output forces a sustained oscillation
// around the setpoint, and the oscillation's amplitude and period give the
// ultimate gain and ultimate period of the process.
package autotune

import (
	"fmt"
	"math"
	"time"

	"kettle-autotune/internal/ringbuf"
)

const (
	// PeakAmplitudeTolerance is the relative amplitude deviation accepted as convergence
	PeakAmplitudeTolerance = 0.05

	// MaxPeaks aborts a run that has not converged within 10 full cycles
	MaxPeaks = 20

	// peakWindow is the number of recent peaks kept for amplitude and period estimation
	peakWindow = 5

	// amplitudeDivisor normalizes the summed peak-to-peak distances of the peak window
	amplitudeDivisor = 6.0
)

// Config holds the tuner parameters. It is copied by New and not read afterwards.
type Config struct {
	Setpoint float64

	// OutputStep is the relay amplitude added to or subtracted from the initial output
	OutputStep float64

	// SampleInterval is the minimum spacing between accepted samples
	SampleInterval time.Duration

	// Lookback sets the peak detection window to round(Lookback/SampleInterval) samples
	Lookback time.Duration

	OutputMin float64
	OutputMax float64

	// Noiseband is the hysteresis around the setpoint for relay switching
	Noiseband float64

	// Clock defaults to time.Now
	Clock func() time.Time

	// Log receives diagnostic lines; nil discards them
	Log func(string)
}

// Validate checks the parameters New would reject
func (c Config) Validate() error {
	if c.Setpoint == 0 || math.IsNaN(c.Setpoint) {
		return fmt.Errorf("%w: setpoint must be specified", ErrInvalidConfig)
	}
	if c.OutputStep < 1 {
		return fmt.Errorf("%w: output step must be greater or equal to 1, got %v", ErrInvalidConfig, c.OutputStep)
	}
	if c.SampleInterval < time.Second {
		return fmt.Errorf("%w: sample interval must be at least 1s, got %v", ErrInvalidConfig, c.SampleInterval)
	}
	if c.Lookback < c.SampleInterval {
		return fmt.Errorf("%w: lookback (%v) must be greater or equal to sample interval (%v)",
			ErrInvalidConfig, c.Lookback, c.SampleInterval)
	}
	if c.OutputMin >= c.OutputMax {
		return fmt.Errorf("%w: output min (%v) must be less than output max (%v)",
			ErrInvalidConfig, c.OutputMin, c.OutputMax)
	}
	if c.Noiseband < 0 || math.IsNaN(c.Noiseband) {
		return fmt.Errorf("%w: noiseband must be non-negative, got %v", ErrInvalidConfig, c.Noiseband)
	}
	return nil
}

// Tuner is the relay-feedback state machine.
//
// Not safe for concurrent use; the caller serializes calls to Sample.
type Tuner struct {
	cfg Config

	state  State
	output float64

	inputs    *ringbuf.Bounded[float64]
	peaks     *ringbuf.Bounded[float64]
	peakTimes *ringbuf.Bounded[time.Time]

	peakType      int // +1 maximum, -1 minimum, 0 unknown
	peakCount     int
	initialOutput float64
	lastSample    time.Time

	inducedAmplitude float64
	ku               float64
	pu               float64
}

// Snapshot is a read-only view of the tuner for reporting
type Snapshot struct {
	State            State
	Output           float64
	PeakCount        int
	InducedAmplitude float64
	UltimateGain     float64
	UltimatePeriod   float64
}

// New validates cfg and returns a tuner in StateOff
func New(cfg Config) (*Tuner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	window := int(math.Round(float64(cfg.Lookback) / float64(cfg.SampleInterval)))
	return &Tuner{
		cfg:       cfg,
		state:     StateOff,
		inputs:    ringbuf.New[float64](window),
		peaks:     ringbuf.New[float64](peakWindow),
		peakTimes: ringbuf.New[time.Time](peakWindow),
	}, nil
}

// State returns the current relay state
func (t *Tuner) State() State { return t.state }

// Output returns the value the caller should apply to the actuator
func (t *Tuner) Output() float64 { return t.output }

// PeakCount returns the confirmed peaks since the last (re)initialization
func (t *Tuner) PeakCount() int { return t.peakCount }

// InducedAmplitude returns the amplitude from the last convergence check
func (t *Tuner) InducedAmplitude() float64 { return t.inducedAmplitude }

// UltimateGain returns Ku; valid only in StateSucceeded
func (t *Tuner) UltimateGain() float64 { return t.ku }

// UltimatePeriod returns Pu in seconds; valid only in StateSucceeded
func (t *Tuner) UltimatePeriod() float64 { return t.pu }

// Rules returns the names accepted by TuningParameters
func (t *Tuner) Rules() []string { return Rules() }

// Snapshot returns the current tuner values
func (t *Tuner) Snapshot() Snapshot {
	return Snapshot{
		State:            t.state,
		Output:           t.output,
		PeakCount:        t.peakCount,
		InducedAmplitude: t.inducedAmplitude,
		UltimateGain:     t.ku,
		UltimatePeriod:   t.pu,
	}
}

// TuningParameters derives PID gains with the named rule. The result is only
// meaningful once the tuner reached StateSucceeded.
func (t *Tuner) TuningParameters(rule string) (Gains, error) {
	r, err := LookupRule(rule)
	if err != nil {
		return Gains{}, err
	}
	return r.Apply(t.ku, t.pu), nil
}

// Sample feeds one process value into the tuner and reports whether tuning
// has concluded. Calls closer than SampleInterval to the last accepted sample
// are ignored, unless the tuner is off or finished, in which case it starts a
// new run.
func (t *Tuner) Sample(input float64) bool {
	now := t.cfg.Clock()

	if t.state == StateOff || t.state.Terminal() {
		t.reset(now)
	} else if now.Sub(t.lastSample) < t.cfg.SampleInterval {
		return false
	}
	t.lastSample = now

	t.updateRelay(input)

	// strict comparisons: a tie with any buffered value is neither max nor min
	isMax, isMin := true, true
	for i := 0; i < t.inputs.Len(); i++ {
		v := t.inputs.At(i)
		isMax = isMax && input > v
		isMin = isMin && input < v
	}
	t.inputs.Append(input)

	// extremes are not trusted until the lookback window is full
	if !t.inputs.Full() {
		return false
	}

	inflection := false
	if isMax {
		if t.peakType == -1 {
			inflection = true
		}
		t.peakType = 1
	} else if isMin {
		if t.peakType == 1 {
			inflection = true
		}
		t.peakType = -1
	}

	if inflection {
		t.peakCount++
		t.peaks.Append(input)
		t.peakTimes.Append(now)
		t.logf("found peak: %v", input)
		t.logf("peak count: %d", t.peakCount)

		if t.peakCount > peakWindow-1 {
			t.checkConvergence()
		}
	}

	if t.peakCount >= MaxPeaks {
		t.output = t.restOutput()
		t.state = StateFailed
		t.logf("no convergence after %d peaks", t.peakCount)
		return true
	}

	if t.state == StateSucceeded {
		t.output = t.restOutput()
		t.ku = 4.0 * t.cfg.OutputStep / (t.inducedAmplitude * math.Pi)

		period1 := t.peakTimes.At(3).Sub(t.peakTimes.At(1))
		period2 := t.peakTimes.At(4).Sub(t.peakTimes.At(2))
		t.pu = 0.5 * (period1 + period2).Seconds()
		t.logf("ultimate gain: %v, ultimate period: %vs", t.ku, t.pu)
		return true
	}

	return false
}

func (t *Tuner) updateRelay(input float64) {
	switch t.state {
	case StateStepUp:
		if input > t.cfg.Setpoint+t.cfg.Noiseband {
			t.state = StateStepDown
			t.logf("switched state: %s", t.state)
			t.logf("input: %v", input)
		}
	case StateStepDown:
		if input < t.cfg.Setpoint-t.cfg.Noiseband {
			t.state = StateStepUp
			t.logf("switched state: %s", t.state)
			t.logf("input: %v", input)
		}
	}

	switch t.state {
	case StateStepUp:
		t.output = t.initialOutput + t.cfg.OutputStep
	case StateStepDown:
		t.output = t.initialOutput - t.cfg.OutputStep
	}
	t.output = clamp(t.output, t.cfg.OutputMin, t.cfg.OutputMax)
}

// checkConvergence compares the mean peak-to-peak distance of the oldest four
// recorded peaks with half their spread.
func (t *Tuner) checkConvergence() {
	amplitude := 0.0
	absMax := t.peaks.At(peakWindow - 2)
	absMin := absMax
	for i := 0; i < t.peaks.Len()-2; i++ {
		p := t.peaks.At(i)
		amplitude += math.Abs(p - t.peaks.At(i+1))
		absMax = math.Max(p, absMax)
		absMin = math.Min(p, absMin)
	}
	amplitude /= amplitudeDivisor
	t.inducedAmplitude = amplitude

	deviation := (0.5*(absMax-absMin) - amplitude) / amplitude
	t.logf("amplitude: %v", amplitude)
	t.logf("amplitude deviation: %v", deviation)

	if deviation < PeakAmplitudeTolerance {
		t.state = StateSucceeded
		t.logf("switched state: %s", t.state)
	}
}

func (t *Tuner) reset(now time.Time) {
	t.peakType = 0
	t.peakCount = 0
	t.output = 0
	t.initialOutput = 0
	t.inducedAmplitude = 0
	t.ku = 0
	t.pu = 0
	t.inputs.Clear()
	t.peaks.Clear()
	t.peakTimes.Clear()
	t.peakTimes.Append(now)
	t.state = StateStepUp
}

// restOutput is the output applied once a run has concluded: zero, kept
// inside the configured output range.
func (t *Tuner) restOutput() float64 {
	return clamp(0, t.cfg.OutputMin, t.cfg.OutputMax)
}

func (t *Tuner) logf(format string, args ...interface{}) {
	if t.cfg.Log == nil {
		return
	}
	t.cfg.Log(fmt.Sprintf(format, args...))
}

// clamp limits a value between min and max
func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

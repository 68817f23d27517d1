package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"kettle-autotune/internal/kettle"
)

// Heater applies the tuner output to the kettle
type Heater interface {
	// Drive applies percent (0-100) for one window and returns when the window is over
	Drive(ctx context.Context, percent float64, window time.Duration) error
	// Off switches the heater off
	Off() error
	Close() error
}

// relaySwitch is an on/off output such as a GPIO line driving a solid-state relay
type relaySwitch interface {
	Set(on bool) error
	Close() error
}

// afterFn is replaced in tests
var afterFn = time.After

// openHeater creates the configured heater. sim and clock are only used by the sim backend.
func openHeater(cfg HeaterConfig, dryRun bool, sim *kettle.Simulator, clock *virtualClock) (Heater, error) {
	switch cfg.Backend {
	case backendSim:
		return &simHeater{sim: sim, clock: clock}, nil
	case backendGPIO:
		if dryRun {
			return &dutyCycleHeater{sw: &dryRunSwitch{}}, nil
		}
		sw, err := openGPIOFn(cfg.GPIOChip, cfg.GPIOLine)
		if err != nil {
			return nil, fmt.Errorf("failed to open heater gpio %s:%d: %w", cfg.GPIOChip, cfg.GPIOLine, err)
		}
		return &dutyCycleHeater{sw: sw}, nil
	}
	return nil, fmt.Errorf("unknown heater backend %q", cfg.Backend)
}

// dutyCycleHeater turns an output percentage into on and off time within each
// window: on for window*percent/100, then off for the rest.
type dutyCycleHeater struct {
	sw relaySwitch
}

func (h *dutyCycleHeater) Drive(ctx context.Context, percent float64, window time.Duration) error {
	percent = clamp(percent, 0, 100)
	on := time.Duration(float64(window) * percent / 100)
	off := window - on

	if on > 0 {
		if err := h.sw.Set(true); err != nil {
			return fmt.Errorf("failed to switch heater on: %w", err)
		}
		if err := sleepCtx(ctx, on); err != nil {
			// Never leave the heater on when interrupted
			if offErr := h.sw.Set(false); offErr != nil {
				log.Printf("Critical: failed to switch heater off: %v", offErr)
			}
			return err
		}
	}

	if off > 0 {
		if err := h.sw.Set(false); err != nil {
			return fmt.Errorf("failed to switch heater off: %w", err)
		}
		if err := sleepCtx(ctx, off); err != nil {
			return err
		}
	}

	return nil
}

func (h *dutyCycleHeater) Off() error {
	return h.sw.Set(false)
}

func (h *dutyCycleHeater) Close() error {
	offErr := h.sw.Set(false)
	if err := h.sw.Close(); err != nil {
		return err
	}
	return offErr
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-afterFn(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dryRunSwitch logs switch changes instead of driving hardware
type dryRunSwitch struct {
	on    bool
	known bool
}

func (s *dryRunSwitch) Set(on bool) error {
	if !s.known || s.on != on {
		debugf("dry-run: heater %s", onOff(on))
	}
	s.on = on
	s.known = true
	return nil
}

func (s *dryRunSwitch) Close() error { return nil }

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// simHeater steps a simulated kettle instead of waiting for wall time
type simHeater struct {
	sim   *kettle.Simulator
	clock *virtualClock
}

func (h *simHeater) Drive(ctx context.Context, percent float64, window time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.sim.Step(percent, window)
	h.clock.Advance(window)
	return nil
}

func (h *simHeater) Off() error   { return nil }
func (h *simHeater) Close() error { return nil }

// virtualClock is the time source of a simulated run
type virtualClock struct {
	now time.Time
}

func newVirtualClock(start time.Time) *virtualClock {
	return &virtualClock{now: start}
}

func (c *virtualClock) Now() time.Time          { return c.now }
func (c *virtualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

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

//go:build linux

package main

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// gpioSwitch drives a solid-state relay from a GPIO character device line
type gpioSwitch struct {
	line *gpiocdev.Line
}

// openGPIOSwitch requests the line as an output, initially off
func openGPIOSwitch(chip string, offset int) (relaySwitch, error) {
	line, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("kettle-autotune"))
	if err != nil {
		return nil, fmt.Errorf("request line: %w", err)
	}
	return &gpioSwitch{line: line}, nil
}

var openGPIOFn = openGPIOSwitch

func (g *gpioSwitch) Set(on bool) error {
	if g == nil || g.line == nil {
		return fmt.Errorf("gpio heater not initialized")
	}
	v := 0
	if on {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *gpioSwitch) Close() error {
	if g == nil || g.line == nil {
		return nil
	}
	// Leave the heater off
	_ = g.line.SetValue(0)
	err := g.line.Close()
	g.line = nil
	return err
}

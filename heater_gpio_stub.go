//go:build !linux

package main

import "fmt"

// Stub implementation for non-Linux platforms
func openGPIOSwitch(chip string, offset int) (relaySwitch, error) {
	return nil, fmt.Errorf("gpio heater unsupported on this platform")
}

var openGPIOFn = openGPIOSwitch

// Package kettle simulates a cylindrical steel brewing kettle filled with liquid.
package kettle

import (
	"math"
	"time"
)

const (
	// SpecificHeatCapWater is c in kJ/(kg*K)
	SpecificHeatCapWater = 4.182

	// ThermalConductivitySteel is lambda in W/(m*K)
	ThermalConductivitySteel = 15.0

	// DefaultEfficiency is the fraction of heater power reaching the content
	DefaultEfficiency = 0.98
)

// Kettle is a lumped thermal model: one temperature for the whole content.
//
// Not safe for concurrent use.
type Kettle struct {
	mass    float64 // kg
	temp    float64 // degrees Celsius
	surface float64 // m^2
}

// New creates a kettle with the given diameter (cm), content volume (l),
// initial temperature (degrees C) and content density (kg/l).
func New(diameter, volume, temp, density float64) *Kettle {
	radius := diameter / 2

	// height in cm
	height := (volume * 1000) / (math.Pi * radius * radius)

	return &Kettle{
		mass:    volume * density,
		temp:    temp,
		surface: (2*math.Pi*radius*radius + 2*math.Pi*radius*height) / 10000,
	}
}

// Temperature returns the content temperature
func (k *Kettle) Temperature() float64 { return k.temp }

// Surface returns the kettle surface in m^2
func (k *Kettle) Surface() float64 { return k.surface }

// Heat applies power (kW) for the given duration at DefaultEfficiency
func (k *Kettle) Heat(power float64, d time.Duration) float64 {
	return k.HeatWithEfficiency(power, d, DefaultEfficiency)
}

// HeatWithEfficiency applies power (kW) for the given duration, of which only
// the efficiency fraction (0..1) reaches the content.
func (k *Kettle) HeatWithEfficiency(power float64, d time.Duration, efficiency float64) float64 {
	k.temp += k.deltaT(power*efficiency, d.Seconds())
	return k.temp
}

// Cool loses heat through the kettle wall to the ambient temperature.
// heatLossFactor scales the loss.
func (k *Kettle) Cool(d time.Duration, ambient, heatLossFactor float64) float64 {
	if d <= 0 {
		return k.temp
	}
	duration := d.Seconds()

	// Q = k_w * A * (T_kettle - T_ambient), P = Q / t
	power := ThermalConductivitySteel * k.surface * (k.temp - ambient) / duration

	// W to kW
	power /= 1000
	k.temp -= k.deltaT(power, duration) * heatLossFactor
	return k.temp
}

// deltaT solves Q = c * m * dT with Q = P * t
func (k *Kettle) deltaT(power, duration float64) float64 {
	return (power * duration) / (SpecificHeatCapWater * k.mass)
}

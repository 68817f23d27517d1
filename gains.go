package main

import (
	"fmt"
	"math"

	"kettle-autotune/internal/autotune"
)

// ValidateGains checks whether derived gains are usable for temperature control.
// The returned warnings are informational; the gains are reported either way.
func ValidateGains(g autotune.Gains) []string {
	var warnings []string

	terms := []struct {
		name  string
		value float64
	}{
		{"Kp", g.Kp},
		{"Ki", g.Ki},
		{"Kd", g.Kd},
	}

	for _, term := range terms {
		if math.IsNaN(term.value) || math.IsInf(term.value, 0) {
			warnings = append(warnings, fmt.Sprintf("%s is not a finite number", term.name))
			continue
		}
		if term.value < 0 {
			warnings = append(warnings, fmt.Sprintf("%s is negative (%.4f)", term.name, term.value))
		}
	}

	if g.Kp == 0 {
		warnings = append(warnings, "Kp is zero, the controller would have no proportional action")
	}

	// Check for potential oscillation
	if g.Ki > g.Kp {
		warnings = append(warnings, "Ki larger than Kp may cause overshoot on a slow thermal process")
	}

	return warnings
}

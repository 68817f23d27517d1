package autotune

import "fmt"

// DefaultRule is used when no tuning rule is configured
const DefaultRule = "ziegler-nichols"

// Rule holds the divisors that turn an ultimate gain and period into PID gains
type Rule struct {
	KpDivisor float64
	KiDivisor float64
	KdDivisor float64
}

// Gains are derived PID controller gains
type Gains struct {
	Kp float64 `yaml:"kp" json:"kp"`
	Ki float64 `yaml:"ki" json:"ki"`
	Kd float64 `yaml:"kd" json:"kd"`
}

type namedRule struct {
	name string
	rule Rule
}

// tuningRules keeps the table order stable for listings
var tuningRules = []namedRule{
	{"ziegler-nichols", Rule{34, 40, 160}},
	{"tyreus-luyben", Rule{44, 9, 126}},
	{"ciancone-marlin", Rule{66, 88, 162}},
	{"pessen-integral", Rule{28, 50, 133}},
	{"some-overshoot", Rule{60, 40, 60}},
	{"no-overshoot", Rule{100, 40, 60}},
	// slow thermal processes such as a mash kettle
	{"brewing", Rule{2.5, 3, 3600}},
}

// Rules returns the names of the built-in tuning rules
func Rules() []string {
	names := make([]string, len(tuningRules))
	for i, r := range tuningRules {
		names[i] = r.name
	}
	return names
}

// LookupRule returns the divisors for the named rule
func LookupRule(name string) (Rule, error) {
	for _, r := range tuningRules {
		if r.name == name {
			return r.rule, nil
		}
	}
	return Rule{}, fmt.Errorf("%w: %q", ErrUnknownRule, name)
}

// Apply derives PID gains from the ultimate gain ku and ultimate period pu (seconds)
func (r Rule) Apply(ku, pu float64) Gains {
	kp := ku / r.KpDivisor
	ki := kp / (pu / r.KiDivisor)
	kd := kp * (pu / r.KdDivisor)
	return Gains{Kp: kp, Ki: ki, Kd: kd}
}

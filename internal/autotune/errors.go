package autotune

import "errors"

var (
	// ErrInvalidConfig is returned by New for unusable tuner parameters
	ErrInvalidConfig = errors.New("autotune: invalid configuration")

	// ErrUnknownRule is returned for tuning rule names not in the rule table
	ErrUnknownRule = errors.New("autotune: unknown tuning rule")
)

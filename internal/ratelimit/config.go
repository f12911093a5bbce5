package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrInvalidRate is wrapped by a ConfigError when the rate is not a
	// positive number that maps onto a whole nanosecond interval.
	ErrInvalidRate = errors.New("rate must be positive")

	// ErrInvalidBurst is wrapped by a ConfigError when the burst is negative
	// or too large to express in nanoseconds.
	ErrInvalidBurst = errors.New("burst must be non-negative")
)

// ConfigError names the configuration field that failed validation.
type ConfigError struct {
	Field string
	Value float64
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("ratelimit: invalid %s %g: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Config is the user-facing limiter configuration.
type Config struct {
	// RatePerSecond is the sustained number of requests per second.
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	// Burst is the number of requests allowed on top of the sustained rate
	// when a client has been idle.
	Burst float64 `yaml:"burst" validate:"gte=0"`
}

// maxNanos is 2^64 as a float; any derived value at or above it does not fit
// a uint64.
const maxNanos = float64(math.MaxUint64)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate reports the first violated constraint, rate before burst.
func (c Config) Validate() error {
	_, _, err := c.derive()
	return err
}

func (c Config) rateError() error {
	return &ConfigError{Field: "rate_per_second", Value: c.RatePerSecond, Err: ErrInvalidRate}
}

func (c Config) burstError() error {
	return &ConfigError{Field: "burst", Value: c.Burst, Err: ErrInvalidBurst}
}

// derive validates c and computes the emission interval and burst tolerance
// in nanoseconds.
func (c Config) derive() (interval, tolerance uint64, err error) {
	if err := validatorInstance().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) || len(verrs) == 0 {
			return 0, 0, err
		}
		switch verrs[0].StructField() {
		case "RatePerSecond":
			return 0, 0, c.rateError()
		default:
			return 0, 0, c.burstError()
		}
	}

	iv := math.Round(1e9 / c.RatePerSecond)
	if iv < 1 || iv >= maxNanos {
		return 0, 0, c.rateError()
	}
	tol := math.Round(c.Burst * iv)
	if tol >= maxNanos {
		return 0, 0, c.burstError()
	}
	return uint64(iv), uint64(tol), nil
}

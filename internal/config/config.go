package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AlexKimmel/fluxgate/internal/ratelimit"
)

// Failure policies applied when the limiter cannot read the clock.
const (
	ClockErrorDeny  = "deny"
	ClockErrorAllow = "allow"
)

// Store kinds.
const (
	StoreSharded  = "sharded"
	StoreBucketed = "bucketed"
)

type Server struct {
	Addr           string `yaml:"addr" validate:"required"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms" validate:"gte=0"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms" validate:"gte=0"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms" validate:"gte=0"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
	PrometheusPath string `yaml:"prometheus_path" validate:"startswith=/"`
}

type Limits struct {
	ratelimit.Config `yaml:",inline"`
	OnClockError     string `yaml:"on_clock_error" validate:"oneof=deny allow"`
}

type Cleanup struct {
	IntervalMS   int `yaml:"interval_ms" validate:"gt=0"`
	StaleAfterMS int `yaml:"stale_after_ms" validate:"gte=0"`
}

type Store struct {
	Kind   string `yaml:"kind" validate:"oneof=sharded bucketed"`
	Shards int    `yaml:"shards" validate:"gte=0,lte=65536"`
}

type APIKey struct {
	ID     string `yaml:"id" validate:"required"`
	Secret string `yaml:"secret" validate:"required"`
}

type Auth struct {
	Header string   `yaml:"header" validate:"required"`
	Keys   []APIKey `yaml:"keys" validate:"dive"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Cleanup       Cleanup       `yaml:"cleanup"`
	Store         Store         `yaml:"store"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (c Cleanup) Interval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

func (c Cleanup) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMS) * time.Millisecond
}

// Load reads, defaults and validates the YAML file at path.
func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes a YAML document over the defaults and validates the result.
// Keys absent from the document keep their default; explicit zeros are kept
// and validated.
func Parse(b []byte) (*Root, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Observability.LogLevel = strings.ToLower(cfg.Observability.LogLevel)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Root { return defaults() }

func defaults() *Root {
	return &Root{
		Server:        Server{Addr: ":8080"},
		Observability: Observability{LogLevel: "info", PrometheusPath: "/metrics"},
		Auth:          Auth{Header: "X-API-Key"},
		Limits: Limits{
			Config:       ratelimit.Config{RatePerSecond: 1},
			OnClockError: ClockErrorDeny,
		},
		Cleanup: Cleanup{IntervalMS: 60_000, StaleAfterMS: 600_000},
		Store:   Store{Kind: StoreSharded},
	}
}

// Validate checks struct tags, then the limiter's own rate and burst rules.
func (c *Root) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}
	if err := c.Limits.Config.Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, formatValidationError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatValidationError(e validator.FieldError) string {
	field := strings.TrimPrefix(e.Namespace(), "Root.")
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, e.Param(), e.Value())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", field, e.Tag(), e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

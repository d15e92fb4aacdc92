package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/rb3ckers/restdispatch/rest"
)

type Config struct {
	BaseURL              string  `yaml:"base-url"`
	Workers              int     `yaml:"workers" default:"3"`
	RateCapacity         int     `yaml:"rate-capacity" default:"0"`
	RateRefill           float64 `yaml:"rate-refill" default:"0"`
	QueueCapacity        int     `yaml:"queue-capacity" default:"500"`
	Backpressure         string  `yaml:"backpressure" default:"block"`
	RetryAttempts        int     `yaml:"retry-attempts" default:"0"`
	RetryInitialMs       int     `yaml:"retry-initial-ms" default:"500"`
	RetryMaxMs           int     `yaml:"retry-max-ms" default:"10000"`
	RetryTransportErrors bool    `yaml:"retry-transport-errors"`
	TimeoutMs            int     `yaml:"timeout-ms" default:"20000"`
	BreakerFailures      int     `yaml:"breaker-failures" default:"0"`
	BreakerOpenSeconds   int     `yaml:"breaker-open-seconds" default:"60"`
	Username             string  `yaml:"username"`
	Password             string  `yaml:"password"`
	PasswordFile         string  `yaml:"passwordFile"`
	APIKey               string  `yaml:"api-key"`
	APISecret            string  `yaml:"api-secret"`
	MetricsAddress       string  `yaml:"metrics-address"`
	StatsRedisAddr       string  `yaml:"stats-redis-addr"`
	StatsPrefix          string  `yaml:"stats-prefix" default:"restdispatch:stats"`
}

func (s *Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	defaults.SetDefaults(s)

	type cfg Config

	if err := unmarshal((*cfg)(s)); err != nil {
		return err
	}

	return nil
}

func Default() *Config {
	c := &Config{}
	defaults.SetDefaults(c)

	return c
}

// RateLimit is the token bucket the workers share.
func (s *Config) RateLimit() rest.RateLimit {
	return rest.RateLimit{Capacity: s.RateCapacity, RefillRate: s.RateRefill}
}

func (s *Config) BackpressurePolicy() (rest.Backpressure, error) {
	switch strings.ToLower(s.Backpressure) {
	case "", "block":
		return rest.Block, nil
	case "reject":
		return rest.Reject, nil
	default:
		return rest.Block, fmt.Errorf("unknown backpressure policy '%s', expected block or reject", s.Backpressure)
	}
}

func (s *Config) RetryPolicy() rest.RetryPolicy {
	if s.RetryAttempts <= 1 {
		return rest.NoRetry
	}

	return rest.RetryPolicy{
		MaxAttempts:          s.RetryAttempts,
		InitialInterval:      time.Duration(s.RetryInitialMs) * time.Millisecond,
		MaxInterval:          time.Duration(s.RetryMaxMs) * time.Millisecond,
		RetryTransportErrors: s.RetryTransportErrors,
	}
}

func (s *Config) BreakerSettings() rest.BreakerSettings {
	if s.BreakerFailures <= 0 {
		return rest.BreakerSettings{}
	}

	return rest.BreakerSettings{
		Name:                s.BaseURL,
		ConsecutiveFailures: uint32(s.BreakerFailures),
		OpenTimeout:         time.Duration(s.BreakerOpenSeconds) * time.Second,
	}
}

// Signer picks HMAC signing when an API key is configured, basic auth when a
// username or password file is, and nil otherwise.
func (s *Config) Signer() (rest.Signer, error) {
	switch {
	case s.APIKey != "":
		if s.APISecret == "" {
			return nil, fmt.Errorf("api-key is set but api-secret is empty")
		}
		return rest.HMACSigner{Key: s.APIKey, Secret: []byte(s.APISecret)}, nil
	case s.PasswordFile != "":
		username, password, err := parseUsernamePassword(s.PasswordFile)
		if err != nil {
			return nil, err
		}
		return rest.BasicAuthSigner{Username: username, Password: password}, nil
	case s.Username != "":
		return rest.BasicAuthSigner{Username: s.Username, Password: s.Password}, nil
	default:
		return nil, nil
	}
}

// Options builds the dispatcher options. Transport, Logger and callbacks are
// left for the caller.
func (s *Config) Options() (rest.Options, error) {
	policy, err := s.BackpressurePolicy()
	if err != nil {
		return rest.Options{}, err
	}

	signer, err := s.Signer()
	if err != nil {
		return rest.Options{}, err
	}

	return rest.Options{
		BaseURL:        s.BaseURL,
		Signer:         signer,
		QueueCapacity:  s.QueueCapacity,
		Backpressure:   policy,
		Retry:          s.RetryPolicy(),
		Breaker:        s.BreakerSettings(),
		RequestTimeout: time.Duration(s.TimeoutMs) * time.Millisecond,
	}, nil
}

func parseUsernamePassword(passwordFile string) (string, string, error) {
	data, err := os.ReadFile(passwordFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to load password file: %w", err)
	}

	split := strings.SplitN(strings.TrimSpace(string(data)), ":", 2) //nolint:gomnd
	if len(split) != 2 {                                            //nolint:gomnd
		return "", "", fmt.Errorf("failed to parse username/password. Expected username and password separated by ':'")
	}

	return split[0], split[1], nil
}

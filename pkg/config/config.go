// Package config loads reconnection policies from YAML.
//
//	reconnection:
//	  strategy: fixed      # fixed | forever | none
//	  frequency: 2s        # duration string or integer milliseconds
//	  maxAttempts: 5       # total attempts, first included, or "infinite"
//	  backoff:
//	    type: exponential  # fixed | exponential | linear | decorrelated
//	    multiplier: 2
//	    maxDelay: 30s
//	    jitter: equal      # none | full | equal
//
// count may replace maxAttempts to give the number of retries after the first
// attempt.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jzx17/reconnect/pkg/retry"
	"github.com/jzx17/reconnect/pkg/types"
)

// Strategy names a reconnection policy
type Strategy string

// Strategies
const (
	StrategyFixed   Strategy = "fixed"
	StrategyForever Strategy = "forever"
	StrategyNone    Strategy = "none"
)

// Backoff types
const (
	BackoffFixed        = "fixed"
	BackoffExponential  = "exponential"
	BackoffLinear       = "linear"
	BackoffDecorrelated = "decorrelated"
)

// Default values applied by Parse: two retries two seconds apart
const (
	DefaultFrequency   = 2 * time.Second
	DefaultMaxAttempts = 3
)

// File is the document root
type File struct {
	Reconnection Config `yaml:"reconnection"`
}

// Config describes one reconnection policy
type Config struct {
	Strategy    Strategy `yaml:"strategy"`
	Frequency   Duration `yaml:"frequency"`
	MaxAttempts Attempts `yaml:"maxAttempts"`
	// Count is the number of retries after the first attempt
	Count   *int           `yaml:"count,omitempty"`
	Backoff *BackoffConfig `yaml:"backoff,omitempty"`
}

// BackoffConfig selects a computed delay instead of the fixed frequency
type BackoffConfig struct {
	Type       string   `yaml:"type"`
	Initial    Duration `yaml:"initial"`
	Increment  Duration `yaml:"increment"`
	Multiplier float64  `yaml:"multiplier"`
	MaxDelay   Duration `yaml:"maxDelay"`
	Jitter     string   `yaml:"jitter"`
}

// Duration accepts "1500ms"-style strings or integer milliseconds
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar: %w", node.Line, types.ErrInvalidConfig)
	}
	if millis, err := strconv.ParseInt(node.Value, 10, 64); err == nil {
		*d = Duration(time.Duration(millis) * time.Millisecond)
		return nil
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", node.Line, node.Value, types.ErrInvalidConfig)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Attempts is an attempt budget; "infinite" (or -1) means retry.Infinite
type Attempts int

// UnmarshalYAML implements yaml.Unmarshaler
func (a *Attempts) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: maxAttempts must be a scalar: %w", node.Line, types.ErrInvalidConfig)
	}
	switch strings.ToLower(node.Value) {
	case "infinite", "forever", "unlimited":
		*a = Attempts(retry.Infinite)
		return nil
	}
	n, err := strconv.Atoi(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid maxAttempts %q: %w", node.Line, node.Value, types.ErrInvalidConfig)
	}
	*a = Attempts(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (a Attempts) MarshalYAML() (interface{}, error) {
	if int(a) == retry.Infinite {
		return "infinite", nil
	}
	return int(a), nil
}

// Load reads and validates the reconnection section of a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document
func Parse(data []byte) (*Config, error) {
	f := File{
		Reconnection: Config{
			Strategy:    StrategyFixed,
			Frequency:   Duration(DefaultFrequency),
			MaxAttempts: DefaultMaxAttempts,
		},
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w: %w", types.ErrInvalidConfig, err)
	}

	cfg := &f.Reconnection
	cfg.Strategy = Strategy(strings.ToLower(string(cfg.Strategy)))
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyFixed
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Frequency < 0 {
		return invalid("frequency must not be negative, got %v", c.Frequency.Std())
	}

	switch c.Strategy {
	case StrategyFixed:
		if c.Count != nil {
			if *c.Count < 0 {
				return invalid("count must not be negative, got %d", *c.Count)
			}
		} else if int(c.MaxAttempts) != retry.Infinite && c.MaxAttempts < 1 {
			return invalid("maxAttempts must be at least 1 or infinite, got %d", c.MaxAttempts)
		}
	case StrategyForever, StrategyNone:
	default:
		return invalid("unknown strategy %q", c.Strategy)
	}

	if c.Backoff != nil {
		return c.Backoff.validate()
	}
	return nil
}

func (b *BackoffConfig) validate() error {
	switch strings.ToLower(b.Type) {
	case BackoffFixed, BackoffExponential, BackoffLinear:
	case BackoffDecorrelated:
		if b.MaxDelay <= 0 {
			return invalid("decorrelated backoff needs maxDelay")
		}
	default:
		return invalid("unknown backoff type %q", b.Type)
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		return invalid("backoff multiplier must be at least 1, got %v", b.Multiplier)
	}
	if b.Initial < 0 || b.Increment < 0 || b.MaxDelay < 0 {
		return invalid("backoff durations must not be negative")
	}
	if _, err := jitterFunc(b.Jitter); err != nil {
		return err
	}
	return nil
}

// Template builds the policy template described by c
func (c *Config) Template() (retry.Template, error) {
	if err := c.Validate(); err != nil {
		return retry.Template{}, err
	}

	var opts []retry.PolicyOption
	if c.Backoff != nil {
		strategy, err := c.Backoff.strategy(c.Frequency.Std())
		if err != nil {
			return retry.Template{}, err
		}
		opts = append(opts, retry.WithBackoff(strategy))
	}

	frequency := c.Frequency.Std()
	switch c.Strategy {
	case StrategyNone:
		return retry.NoRetry(), nil
	case StrategyForever:
		return retry.Forever(frequency, opts...), nil
	}
	if c.Count != nil {
		return retry.Simple(frequency, *c.Count, opts...), nil
	}
	return retry.Fixed(frequency, int(c.MaxAttempts), opts...), nil
}

// strategy builds the backoff; the initial delay defaults to frequency
func (b *BackoffConfig) strategy(frequency time.Duration) (retry.BackoffStrategy, error) {
	initial := b.Initial.Std()
	if initial == 0 {
		initial = frequency
	}

	var bopts []retry.BackoffOption
	if b.Multiplier != 0 {
		bopts = append(bopts, retry.WithMultiplier(b.Multiplier))
	}
	if b.MaxDelay > 0 {
		bopts = append(bopts, retry.WithMaxDelay(b.MaxDelay.Std()))
	}
	jitter, err := jitterFunc(b.Jitter)
	if err != nil {
		return nil, err
	}
	if jitter != nil {
		bopts = append(bopts, retry.WithJitter(jitter))
	}

	switch strings.ToLower(b.Type) {
	case BackoffFixed:
		return retry.NewFixedBackoff(initial, bopts...), nil
	case BackoffExponential:
		return retry.NewExponentialBackoff(initial, bopts...), nil
	case BackoffLinear:
		return retry.NewLinearBackoff(initial, b.Increment.Std(), bopts...), nil
	case BackoffDecorrelated:
		return retry.NewDecorrelatedJitterBackoff(initial, b.MaxDelay.Std()), nil
	}
	return nil, invalid("unknown backoff type %q", b.Type)
}

func jitterFunc(name string) (retry.JitterFunc, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return nil, nil
	case "full":
		return retry.FullJitter, nil
	case "equal":
		return retry.EqualJitter, nil
	}
	return nil, invalid("unknown jitter %q", name)
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", types.ErrInvalidConfig, fmt.Sprintf(format, args...))
}

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid maker-checker config")

// Parse parses, validates and compiles a configuration from YAML.
// Unset defaults are filled with DefaultMinApprovers and DefaultTimeoutHours.
func Parse(data []byte) (*MakerCheckerConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("empty configuration: %w", ErrInvalidConfig)
	}

	var cfg MakerCheckerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Compile(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*MakerCheckerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *MakerCheckerConfig) applyDefaults() {
	if c.Defaults.MinApprovers == 0 {
		c.Defaults.MinApprovers = DefaultMinApprovers
	}
	if c.Defaults.TimeoutHours == 0 {
		c.Defaults.TimeoutHours = DefaultTimeoutHours
	}
}

// Validate checks the configuration without compiling conditions.
func (c *MakerCheckerConfig) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("missing version field: %w", ErrInvalidConfig)
	}
	if err := validatePolicy("defaults", c.Defaults.MinApprovers, c.Defaults.TimeoutHours, c.Defaults.ApproverRoles); err != nil {
		return err
	}

	for _, name := range c.categoryNames() {
		cat := c.Categories[name]
		loc := "categories." + name
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("category with empty name: %w", ErrInvalidConfig)
		}
		if cat.Threshold != nil && *cat.Threshold < 0 {
			return fmt.Errorf("%s: negative threshold: %w", loc, ErrInvalidConfig)
		}
		if cat.Metric != "" && !cat.Metric.IsValid() {
			return fmt.Errorf("%s: invalid metric '%s': %w", loc, cat.Metric, ErrInvalidConfig)
		}
		if cat.Metric != "" && cat.Threshold == nil {
			return fmt.Errorf("%s: metric set without threshold: %w", loc, ErrInvalidConfig)
		}
		p := c.PolicyFor(name)
		if err := validatePolicy(loc, p.MinApprovers, p.TimeoutHours, cat.ApproverRoles); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(loc string, minApprovers, timeoutHours int, roles []string) error {
	if minApprovers < 1 {
		return fmt.Errorf("%s: min_approvers must be at least 1: %w", loc, ErrInvalidConfig)
	}
	if timeoutHours < 1 {
		return fmt.Errorf("%s: timeout_hours must be at least 1: %w", loc, ErrInvalidConfig)
	}
	if timeoutHours > MaxTimeoutHours {
		return fmt.Errorf("%s: timeout_hours %d exceeds maximum %d: %w", loc, timeoutHours, MaxTimeoutHours, ErrInvalidConfig)
	}
	for i, r := range roles {
		if strings.TrimSpace(r) == "" {
			return fmt.Errorf("%s: approver role at index %d is empty: %w", loc, i, ErrInvalidConfig)
		}
	}
	return nil
}

// Compile validates the configuration and compiles every category
// condition. It must be called before ThresholdExceeded on a config that
// was not built by Parse, Load or Default.
func (c *MakerCheckerConfig) Compile() error {
	if err := c.Validate(); err != nil {
		return err
	}

	env, err := newConditionEnv()
	if err != nil {
		return fmt.Errorf("cel environment: %w", err)
	}

	programs := make(map[string]cel.Program)
	for _, name := range c.categoryNames() {
		expr := strings.TrimSpace(c.Categories[name].Condition)
		if expr == "" {
			continue
		}
		prg, err := compileCondition(env, expr)
		if err != nil {
			return fmt.Errorf("categories.%s: condition: %v: %w", name, err, ErrInvalidConfig)
		}
		programs[name] = prg
	}
	c.programs = programs
	return nil
}

func (c *MakerCheckerConfig) categoryNames() []string {
	names := make([]string, 0, len(c.Categories))
	for name := range c.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal renders the configuration as YAML.
func (c *MakerCheckerConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Package config reads verification scripts and the settings needed to run
// them from yaml files and environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/output"
	"github.com/jakopako/goverify/internal/types"
	"github.com/jakopako/goverify/internal/verify"
)

// Config defines the overall structure of a verification script.
// Values will be taken from a config yml file or environment variables
// or both.
type Config struct {
	Name                 string              `yaml:"name,omitempty"`
	BaseURL              string              `yaml:"base_url,omitempty" env:"GOVERIFY_BASE_URL"`
	Headless             bool                `yaml:"headless" env:"GOVERIFY_HEADLESS"`
	DefaultTimeoutMs     int                 `yaml:"default_timeout_ms" env:"GOVERIFY_DEFAULT_TIMEOUT_MS" env-default:"5000"`
	MaxTimeoutMs         int                 `yaml:"max_timeout_ms" env:"GOVERIFY_MAX_TIMEOUT_MS" env-default:"20000"`
	PollIntervalMs       int                 `yaml:"poll_interval_ms" env:"GOVERIFY_POLL_INTERVAL_MS" env-default:"100"`
	RunTimeoutMs         int                 `yaml:"run_timeout_ms,omitempty" env:"GOVERIFY_RUN_TIMEOUT_MS"`
	SnapshotPath         string              `yaml:"snapshot_path,omitempty" env:"GOVERIFY_SNAPSHOT_PATH"`
	ScreenshotOutputPath string              `yaml:"screenshot_output_path,omitempty" env:"GOVERIFY_SCREENSHOT_OUTPUT_PATH"`
	Browser              browser.Config      `yaml:"browser"`
	Writer               output.WriterConfig `yaml:"writer,omitempty"`
	Steps                []types.Step        `yaml:"steps"`
}

// Option overrides a setting after the config file and the environment
// have been read.
type Option func(*Config)

func WithBaseURL(u string) Option {
	return func(c *Config) { c.BaseURL = u }
}

func WithHeadless(headless bool) Option {
	return func(c *Config) { c.Headless = headless }
}

func WithScreenshotOutputPath(p string) Option {
	return func(c *Config) { c.ScreenshotOutputPath = p }
}

// NewConfig reads the script at configPath. Variables of the form
// ${name} in step parameters are substituted and the result is validated.
func NewConfig(configPath string, opts ...Option) (*Config, error) {
	// headless defaults to true, env-default cannot express that since it
	// would also override an explicit false.
	config := Config{Headless: true}

	if err := cleanenv.ReadConfig(configPath, &config); err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", configPath, err)
	}
	for _, o := range opts {
		o(&config)
	}
	if config.Name == "" {
		config.Name = strings.TrimSuffix(filepath.Base(configPath), filepath.Ext(configPath))
	}
	if err := config.expand(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return &config, nil
}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func (c *Config) vars() map[string]string {
	return map[string]string{
		"base_url":               c.BaseURL,
		"snapshot_path":          c.SnapshotPath,
		"screenshot_output_path": c.ScreenshotOutputPath,
	}
}

// expand substitutes ${name} references in the step parameters.
func (c *Config) expand() error {
	vars := c.vars()
	var errs []error
	sub := func(i int, s string) string {
		return varPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := varPattern.FindStringSubmatch(m)[1]
			v, ok := vars[name]
			if !ok {
				errs = append(errs, fmt.Errorf("step %d: unknown variable %s", i, m))
				return m
			}
			if v == "" {
				errs = append(errs, fmt.Errorf("step %d: variable %s is not set", i, m))
			}
			return v
		})
	}
	for i := range c.Steps {
		st := &c.Steps[i]
		st.URL = sub(i, st.URL)
		st.File = sub(i, st.File)
		st.Expected = sub(i, st.Expected)
		st.Output = sub(i, st.Output)
	}
	return errors.Join(errs...)
}

// Validate checks the settings and all steps.
func (c *Config) Validate() error {
	var errs []error
	if c.DefaultTimeoutMs < 0 || c.MaxTimeoutMs < 0 || c.PollIntervalMs < 0 || c.RunTimeoutMs < 0 {
		errs = append(errs, errors.New("timeouts and intervals must not be negative"))
	}
	if c.MaxTimeoutMs > 0 && c.DefaultTimeoutMs > c.MaxTimeoutMs {
		errs = append(errs, fmt.Errorf("default_timeout_ms %d exceeds max_timeout_ms %d", c.DefaultTimeoutMs, c.MaxTimeoutMs))
	}
	if err := verify.Validate(c.Script()); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Script returns the steps to run.
func (c *Config) Script() verify.Script {
	return verify.Script{Name: c.Name, Steps: c.Steps}
}

func (c *Config) RunnerOptions() verify.Options {
	return verify.Options{
		BaseURL:        c.BaseURL,
		DefaultTimeout: time.Duration(c.DefaultTimeoutMs) * time.Millisecond,
		MaxTimeout:     time.Duration(c.MaxTimeoutMs) * time.Millisecond,
		PollInterval:   time.Duration(c.PollIntervalMs) * time.Millisecond,
	}
}

// BrowserConfig returns the browser configuration with the top level
// headless setting applied.
func (c *Config) BrowserConfig() *browser.Config {
	bc := c.Browser
	bc.Headless = c.Headless
	return &bc
}

// RunTimeout returns the overall deadline of a run or 0 if there is none.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMs) * time.Millisecond
}

// Package config loads the optional host configuration file. The file describes the worker
// process and how its output is captured, command line options override it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultStdoutLogFile is used when stdout_log_file is not set
	DefaultStdoutLogFile = "logs/stdout"
	// DefaultStartupTimeout is used when startup_timeout is not set
	DefaultStartupTimeout = 5 * time.Second
	// DefaultShutdownTimeout is used when shutdown_timeout is not set
	DefaultShutdownTimeout = 10 * time.Second

	// retry validation limits
	minAttempts = 1
	maxAttempts = 100
	minFactor   = 1.0
	maxFactor   = 10.0
	minDuration = time.Millisecond
	maxDuration = time.Hour
)

// File is the host configuration file
type File struct {
	ProcessPath       string            `yaml:"process_path" json:"process_path" jsonschema:"description=worker executable"`
	Arguments         []string          `yaml:"arguments,omitempty" json:"arguments,omitempty" jsonschema:"description=worker arguments"`
	AppPath           string            `yaml:"app_path,omitempty" json:"app_path,omitempty" jsonschema:"description=application directory, worker's working dir and base for stdout_log_file"`
	StdoutLogEnabled  bool              `yaml:"stdout_log_enabled,omitempty" json:"stdout_log_enabled,omitempty" jsonschema:"description=capture worker output to a log file"`
	StdoutLogFile     string            `yaml:"stdout_log_file,omitempty" json:"stdout_log_file,omitempty" jsonschema:"description=base name of the log file, relative to app_path"`
	NativeRedirection bool              `yaml:"native_redirection,omitempty" json:"native_redirection,omitempty" jsonschema:"description=redirect descriptors 1 and 2 of the host too"`
	Encoding          string            `yaml:"encoding,omitempty" json:"encoding,omitempty" jsonschema:"description=IANA name of the worker output encoding"`
	HideOutput        bool              `yaml:"hide_output,omitempty" json:"hide_output,omitempty" jsonschema:"description=don't show captured output on the failure page"`
	StartupTimeout    time.Duration     `yaml:"startup_timeout,omitempty" json:"startup_timeout,omitempty" jsonschema:"description=worker must survive this long to be considered started"`
	ShutdownTimeout   time.Duration     `yaml:"shutdown_timeout,omitempty" json:"shutdown_timeout,omitempty" jsonschema:"description=wait after interrupt before the worker is killed"`
	Environment       map[string]string `yaml:"environment,omitempty" json:"environment,omitempty" jsonschema:"description=extra worker environment"`
	Retry             *RetryConfig      `yaml:"retry,omitempty" json:"retry,omitempty" jsonschema:"description=worker launch retries"`
}

// RetryConfig defines worker launch retries with exponential backoff
type RetryConfig struct {
	Attempts *int           `yaml:"attempts,omitempty" json:"attempts,omitempty" jsonschema:"minimum=1,maximum=100"`
	Duration *time.Duration `yaml:"duration,omitempty" json:"duration,omitempty" jsonschema:"description=initial delay between attempts"`
	Factor   *float64       `yaml:"factor,omitempty" json:"factor,omitempty" jsonschema:"minimum=1,maximum=10"`
	Jitter   *bool          `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// LoadError reports missing or invalid attribute of the config file
type LoadError struct {
	Attribute string
	Reason    string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("attribute '%s' %s", e.Attribute, e.Reason)
}

// Load reads and validates config file, defaults applied to unset attributes
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("can't read config %s: %w", path, err)
	}
	res, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("can't load config %s: %w", path, err)
	}
	return res, nil
}

// Parse decodes config from yaml data, unknown attributes rejected
func Parse(data []byte) (*File, error) {
	res := &File{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(res); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("can't parse yaml: %w", err)
	}
	res.applyDefaults()
	if err := res.validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Env returns environment as sorted "k=v" pairs
func (f *File) Env() []string {
	res := make([]string, 0, len(f.Environment))
	for k, v := range f.Environment {
		res = append(res, k+"="+v)
	}
	sort.Strings(res)
	return res
}

func (f *File) applyDefaults() {
	if f.StdoutLogFile == "" {
		f.StdoutLogFile = DefaultStdoutLogFile
	}
	if f.StartupTimeout == 0 {
		f.StartupTimeout = DefaultStartupTimeout
	}
	if f.ShutdownTimeout == 0 {
		f.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func (f *File) validate() error {
	if strings.TrimSpace(f.ProcessPath) == "" {
		return &LoadError{Attribute: "process_path", Reason: "is required"}
	}
	if f.StartupTimeout < 0 {
		return &LoadError{Attribute: "startup_timeout", Reason: "must not be negative"}
	}
	if f.ShutdownTimeout < 0 {
		return &LoadError{Attribute: "shutdown_timeout", Reason: "must not be negative"}
	}
	if f.Retry != nil {
		return validateRetry(f.Retry)
	}
	return nil
}

func validateRetry(cfg *RetryConfig) error {
	if cfg.Attempts != nil && (*cfg.Attempts < minAttempts || *cfg.Attempts > maxAttempts) {
		return &LoadError{Attribute: "retry.attempts", Reason: fmt.Sprintf("must be between %d and %d", minAttempts, maxAttempts)}
	}
	if cfg.Duration != nil {
		if *cfg.Duration < minDuration {
			return &LoadError{Attribute: "retry.duration", Reason: fmt.Sprintf("must be at least %v", minDuration)}
		}
		if *cfg.Duration > maxDuration {
			return &LoadError{Attribute: "retry.duration", Reason: fmt.Sprintf("must not exceed %v", maxDuration)}
		}
	}
	if cfg.Factor != nil && (*cfg.Factor < minFactor || *cfg.Factor > maxFactor) {
		return &LoadError{Attribute: "retry.factor", Reason: fmt.Sprintf("must be between %.1f and %.1f", minFactor, maxFactor)}
	}
	return nil
}

// GenerateSchema generates a JSON schema for the File struct
func GenerateSchema() (*jsonschema.Schema, error) {
	r := jsonschema.Reflector{RequiredFromJSONSchemaTags: false, AllowAdditionalProperties: false}
	schema := r.Reflect(&File{})
	schema.Title = "stdcap host configuration"
	schema.Description = "Schema for stdcap YAML configuration file"
	return schema, nil
}

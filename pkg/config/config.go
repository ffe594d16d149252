package config

import (
	"bytes"
	stdErrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/command"
	"github.com/core-tools/hsu-daemonctl/pkg/controller"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon/nginx"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
	"github.com/core-tools/hsu-daemonctl/pkg/metrics"
	"github.com/core-tools/hsu-daemonctl/pkg/monitoring"

	"gopkg.in/yaml.v3"
)

// Config represents the top-level configuration file structure
type Config struct {
	Daemon     DaemonConfig      `yaml:"daemon"`
	Timeouts   TimeoutsConfig    `yaml:"timeouts,omitempty"`
	Validation ValidationConfig  `yaml:"validation,omitempty"`
	Logging    logging.ZapConfig `yaml:"logging,omitempty"`
	Metrics    MetricsConfig     `yaml:"metrics,omitempty"`
}

type DaemonConfig struct {
	Type        string   `yaml:"type,omitempty"`
	Binary      string   `yaml:"binary,omitempty"`
	ConfigFile  string   `yaml:"config_file"`
	PIDFile     string   `yaml:"pid_file,omitempty"`
	LogDir      string   `yaml:"log_dir,omitempty"`
	ErrorLog    string   `yaml:"error_log,omitempty"`
	BindAddress string   `yaml:"bind_address,omitempty"`
	User        string   `yaml:"user,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	WorkDir     string   `yaml:"work_dir,omitempty"`
}

type TimeoutsConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	Start        time.Duration `yaml:"start,omitempty"`
	Stop         time.Duration `yaml:"stop,omitempty"`
	Graceful     time.Duration `yaml:"graceful,omitempty"`
	GracefulStop time.Duration `yaml:"graceful_stop,omitempty"`
}

// ValidationMode selects what validates a running server after reload
type ValidationMode string

const (
	ValidationModeNone    ValidationMode = "none"
	ValidationModeAdapter ValidationMode = "adapter"
	ValidationModeCheck   ValidationMode = "check"
)

type ValidationConfig struct {
	Mode         ValidationMode               `yaml:"mode,omitempty"`
	ConfirmStart bool                         `yaml:"confirm_start,omitempty"`
	Check        monitoring.HealthCheckConfig `yaml:"check,omitempty"`
}

type MetricsConfig struct {
	// Textfile is written after every command for the node_exporter
	// textfile collector. Empty disables metrics.
	Textfile string `yaml:"textfile,omitempty"`
}

const DaemonTypeNginx = "nginx"

// SupportedDaemonTypes lists the adapters this build knows
func SupportedDaemonTypes() []string {
	return []string{DaemonTypeNginx}
}

// LoadConfigFromFile loads configuration from a YAML file and applies defaults
func LoadConfigFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	config, err := ParseConfig(data)
	if err != nil {
		var domainErr *errors.DomainError
		if stdErrors.As(err, &domainErr) {
			domainErr.WithContext("filename", filename)
		}
		return nil, err
	}
	return config, nil
}

// ParseConfig decodes YAML and applies defaults. An empty document yields
// the default configuration.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !stdErrors.Is(err, io.EOF) {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err)
	}

	SetConfigDefaults(&config)
	return &config, nil
}

// SetConfigDefaults fills every unset field. Flags applied on top of a
// loaded file should be followed by another call.
func SetConfigDefaults(config *Config) {
	if config.Daemon.Type == "" {
		config.Daemon.Type = DaemonTypeNginx
	}

	t := &config.Timeouts
	if t.PollInterval == 0 {
		t.PollInterval = controller.DefaultPollInterval
	}
	if t.Start == 0 {
		t.Start = controller.DefaultStartTimeout
	}
	if t.Stop == 0 {
		t.Stop = controller.DefaultStopTimeout
	}
	if t.Graceful == 0 {
		t.Graceful = controller.DefaultGracefulTimeout
	}
	if t.GracefulStop == 0 {
		t.GracefulStop = controller.DefaultGracefulStopTimeout
	}

	if config.Validation.Mode == "" {
		config.Validation.Mode = ValidationModeNone
	}

	defaults := logging.DefaultZapConfig()
	if config.Logging.Level == "" {
		config.Logging.Level = defaults.Level
	}
	if config.Logging.Format == "" {
		config.Logging.Format = defaults.Format
	}
	if config.Logging.Output == "" {
		config.Logging.Output = defaults.Output
	}
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *Config) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	if err := validateDaemonConfig(&config.Daemon); err != nil {
		return errors.NewValidationError("invalid daemon configuration", err)
	}

	if err := validateTimeoutsConfig(&config.Timeouts); err != nil {
		return errors.NewValidationError("invalid timeouts configuration", err)
	}

	if err := validateValidationConfig(&config.Validation); err != nil {
		return errors.NewValidationError("invalid validation configuration", err)
	}

	if err := validateLoggingConfig(&config.Logging); err != nil {
		return errors.NewValidationError("invalid logging configuration", err)
	}

	return nil
}

func validateDaemonConfig(config *DaemonConfig) error {
	if !isSupportedDaemonType(config.Type) {
		return errors.NewValidationError("unsupported daemon type: "+config.Type, nil).
			WithContext("supported_types", strings.Join(SupportedDaemonTypes(), ", "))
	}
	if config.ConfigFile == "" {
		return errors.NewValidationError("config file is required", nil)
	}
	if config.BindAddress != "" {
		if err := monitoring.ValidateNetworkAddress(config.BindAddress); err != nil {
			return err
		}
	}
	for _, kv := range config.Environment {
		if !strings.Contains(kv, "=") {
			return errors.NewValidationError("environment entry must be KEY=VALUE: "+kv, nil)
		}
	}
	return nil
}

func validateTimeoutsConfig(config *TimeoutsConfig) error {
	timeouts := []struct {
		name  string
		value time.Duration
	}{
		{"poll interval", config.PollInterval},
		{"start", config.Start},
		{"stop", config.Stop},
		{"graceful", config.Graceful},
		{"graceful stop", config.GracefulStop},
	}
	for _, t := range timeouts {
		if err := ValidateTimeout(t.value, t.name); err != nil {
			return err
		}
	}
	if config.PollInterval > config.Start {
		return errors.NewValidationError("poll interval cannot exceed start timeout", nil)
	}
	return nil
}

func validateValidationConfig(config *ValidationConfig) error {
	switch config.Mode {
	case ValidationModeNone, ValidationModeAdapter:
		return nil
	case ValidationModeCheck:
		return monitoring.ValidateHealthCheckConfig(config.Check)
	default:
		return errors.NewValidationError("unsupported validation mode: "+string(config.Mode), nil).
			WithContext("supported_modes", "none, adapter, check")
	}
}

func validateLoggingConfig(config *logging.ZapConfig) error {
	switch strings.ToLower(config.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.NewValidationError("invalid log level: "+config.Level, nil)
	}
	switch config.Format {
	case "json", "console":
	default:
		return errors.NewValidationError("invalid log format: "+config.Format, nil)
	}
	return nil
}

// ValidateTimeout validates timeout duration
func ValidateTimeout(timeout time.Duration, name string) error {
	if timeout < 0 {
		return errors.NewValidationError(name+" timeout cannot be negative", nil)
	}

	if timeout == 0 {
		return errors.NewValidationError(name+" timeout cannot be zero", nil)
	}

	return nil
}

func isSupportedDaemonType(t string) bool {
	for _, s := range SupportedDaemonTypes() {
		if s == t {
			return true
		}
	}
	return false
}

// CreateAdapterFromConfig returns the adapter for the configured daemon type
func CreateAdapterFromConfig(config *DaemonConfig, logger logging.Logger) (daemon.Adapter, error) {
	switch config.Type {
	case DaemonTypeNginx:
		return nginx.NewAdapter(config.Binary, logger), nil
	default:
		return nil, errors.NewValidationError(
			fmt.Sprintf("unsupported daemon type: %s", config.Type),
			nil,
		).WithContext("supported_types", strings.Join(SupportedDaemonTypes(), ", "))
	}
}

// CreateControllerFromConfig wires adapter, process, validator and runner
// into a controller. recorder may be nil.
func CreateControllerFromConfig(config *Config, recorder metrics.Recorder, logger logging.Logger) (*controller.ServerController, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	adapter, err := CreateAdapterFromConfig(&config.Daemon, logger)
	if err != nil {
		return nil, err
	}

	process, err := controller.NewControlledProcess(adapter, controller.ProcessConfig{
		ConfigFile:   config.Daemon.ConfigFile,
		PIDFile:      config.Daemon.PIDFile,
		LogDir:       config.Daemon.LogDir,
		ErrorLogPath: config.Daemon.ErrorLog,
		BindAddress:  config.Daemon.BindAddress,
		User:         config.Daemon.User,
	})
	if err != nil {
		return nil, err
	}

	validator, err := createValidator(&config.Validation, adapter, logger)
	if err != nil {
		return nil, err
	}

	runner := command.NewExecRunner(logger).
		WithEnvironment(config.Daemon.Environment).
		WithWorkDir(config.Daemon.WorkDir)

	options := controller.Options{
		PollInterval:              config.Timeouts.PollInterval,
		StartTimeout:              config.Timeouts.Start,
		StopTimeout:               config.Timeouts.Stop,
		GracefulTimeout:           config.Timeouts.Graceful,
		GracefulStopTimeout:       config.Timeouts.GracefulStop,
		Validator:                 validator,
		ConfirmStartWithValidator: config.Validation.ConfirmStart,
		Runner:                    runner,
		Recorder:                  recorder,
	}

	return controller.NewServerController(process, adapter, options, logger)
}

func createValidator(config *ValidationConfig, adapter daemon.Adapter, logger logging.Logger) (daemon.ServerValidator, error) {
	switch config.Mode {
	case ValidationModeAdapter:
		validator, ok := adapter.(daemon.ServerValidator)
		if !ok {
			return nil, errors.NewValidationError(adapter.Name()+" adapter cannot validate a server, use mode check", nil)
		}
		return validator, nil
	case ValidationModeCheck:
		checker, err := monitoring.NewHealthChecker(config.Check, logger)
		if err != nil {
			return nil, err
		}
		return checker, nil
	default:
		return nil, nil
	}
}

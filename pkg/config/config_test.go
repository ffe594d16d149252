package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/controller"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/monitoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir string, name string, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), mode))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *Config)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
daemon:
  type: nginx
  binary: /usr/sbin/nginx
  config_file: /etc/nginx/nginx.conf
  log_dir: /var/log/nginx
  bind_address: "127.0.0.1:8080"
  user: www-data
  environment:
    - "TZ=UTC"

timeouts:
  poll_interval: 250ms
  start: 20s
  stop: 15s
  graceful: 5s
  graceful_stop: 1m

validation:
  mode: check
  confirm_start: true
  check:
    type: http
    http:
      url: "http://127.0.0.1:8080/health"
    retries: 3

logging:
  level: debug
  format: json
  output: /var/log/daemonctl.log

metrics:
  textfile: /var/lib/node_exporter/daemonctl.prom
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, "/usr/sbin/nginx", config.Daemon.Binary)
				assert.Equal(t, "/etc/nginx/nginx.conf", config.Daemon.ConfigFile)
				assert.Equal(t, []string{"TZ=UTC"}, config.Daemon.Environment)
				assert.Equal(t, 250*time.Millisecond, config.Timeouts.PollInterval)
				assert.Equal(t, time.Minute, config.Timeouts.GracefulStop)
				assert.Equal(t, ValidationModeCheck, config.Validation.Mode)
				assert.True(t, config.Validation.ConfirmStart)
				assert.Equal(t, monitoring.HealthCheckTypeHTTP, config.Validation.Check.Type)
				assert.Equal(t, 3, config.Validation.Check.Retries)
				assert.Equal(t, "json", config.Logging.Format)
				assert.Equal(t, "/var/lib/node_exporter/daemonctl.prom", config.Metrics.Textfile)
				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name: "minimal config gets defaults",
			configYAML: `
daemon:
  config_file: /etc/nginx/nginx.conf
`,
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, DaemonTypeNginx, config.Daemon.Type)
				assert.Equal(t, controller.DefaultPollInterval, config.Timeouts.PollInterval)
				assert.Equal(t, controller.DefaultStartTimeout, config.Timeouts.Start)
				assert.Equal(t, controller.DefaultStopTimeout, config.Timeouts.Stop)
				assert.Equal(t, controller.DefaultGracefulTimeout, config.Timeouts.Graceful)
				assert.Equal(t, controller.DefaultGracefulStopTimeout, config.Timeouts.GracefulStop)
				assert.Equal(t, ValidationModeNone, config.Validation.Mode)
				assert.Equal(t, "info", config.Logging.Level)
				assert.Equal(t, "console", config.Logging.Format)
				assert.Equal(t, "stderr", config.Logging.Output)
				assert.NoError(t, ValidateConfig(config))
			},
		},
		{
			name:       "empty document is all defaults",
			configYAML: "",
			validate: func(t *testing.T, config *Config) {
				assert.Equal(t, DaemonTypeNginx, config.Daemon.Type)
				assert.Error(t, ValidateConfig(config), "config file is still required")
			},
		},
		{
			name: "unknown field",
			configYAML: `
daemon:
  config_file: /etc/nginx/nginx.conf
  pidfile: /run/nginx.pid
`,
			expectError: true,
		},
		{
			name:        "malformed yaml",
			configYAML:  "daemon: [",
			expectError: true,
		},
		{
			name: "bad duration",
			configYAML: `
timeouts:
  start: soon
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "daemonctl.yaml", tt.configYAML, 0o644)

			config, err := LoadConfigFromFile(path)

			if tt.expectError {
				require.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
				return
			}
			require.NoError(t, err)
			tt.validate(t, config)
		})
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.IsIOError(err))
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		config := &Config{Daemon: DaemonConfig{ConfigFile: "/etc/nginx/nginx.conf"}}
		SetConfigDefaults(config)
		return config
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unsupported daemon type", func(c *Config) { c.Daemon.Type = "apache" }},
		{"missing config file", func(c *Config) { c.Daemon.ConfigFile = "" }},
		{"bad bind address", func(c *Config) { c.Daemon.BindAddress = "port80" }},
		{"bad environment entry", func(c *Config) { c.Daemon.Environment = []string{"TZ"} }},
		{"negative stop timeout", func(c *Config) { c.Timeouts.Stop = -time.Second }},
		{"poll slower than start", func(c *Config) { c.Timeouts.PollInterval = time.Minute }},
		{"unknown validation mode", func(c *Config) { c.Validation.Mode = "ping" }},
		{"check mode without check", func(c *Config) { c.Validation.Mode = ValidationModeCheck }},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	assert.NoError(t, ValidateConfig(valid()))
	assert.Error(t, ValidateConfig(nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid()
			tt.mutate(config)

			err := ValidateConfig(config)
			assert.True(t, errors.IsValidationError(err))
		})
	}
}

func TestCreateAdapterFromConfig(t *testing.T) {
	adapter, err := CreateAdapterFromConfig(&DaemonConfig{Type: DaemonTypeNginx}, nil)
	require.NoError(t, err)
	assert.Equal(t, "nginx", adapter.Name())

	_, err = CreateAdapterFromConfig(&DaemonConfig{Type: "haproxy"}, nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestCreateControllerFromConfig(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	bin := writeFile(t, dir, "nginx", "#!/bin/sh\nexit 0\n", 0o755)
	conf := writeFile(t, dir, "nginx.conf", "events {}\n", 0o644)

	config := &Config{
		Daemon:     DaemonConfig{Binary: bin, ConfigFile: conf, LogDir: dir, BindAddress: ":8080"},
		Validation: ValidationConfig{Mode: ValidationModeAdapter},
	}
	SetConfigDefaults(config)

	c, err := CreateControllerFromConfig(config, nil, nil)
	require.NoError(t, err)

	process := c.Process()
	assert.Equal(t, bin, process.BinaryPath)
	assert.Equal(t, conf, process.ConfigFile)
	assert.Equal(t, filepath.Join(dir, "nginx.pid"), process.PIDFilePath)
	assert.Equal(t, ":8080", process.BindAddress)

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, controller.StateNotRunning, status.State)
}

func TestCreateControllerFromConfig_MissingConfigFile(t *testing.T) {
	config := &Config{Daemon: DaemonConfig{Binary: "/bin/sh", ConfigFile: filepath.Join(t.TempDir(), "absent.conf")}}
	SetConfigDefaults(config)

	_, err := CreateControllerFromConfig(config, nil, nil)
	assert.True(t, errors.IsConfigurationError(err))
}

package monitoring

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
)

type HealthCheckType string

const (
	HealthCheckTypeHTTP HealthCheckType = "http"
	HealthCheckTypeTCP  HealthCheckType = "tcp"
	HealthCheckTypeExec HealthCheckType = "exec"
)

const (
	DefaultTimeout    = 2 * time.Second
	DefaultRetryDelay = 500 * time.Millisecond
)

type HTTPHealthCheckConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type TCPHealthCheckConfig struct {
	// Empty means the controlled process bind address
	Address string `yaml:"address,omitempty"`
}

type ExecHealthCheckConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

type HealthCheckConfig struct {
	Type HealthCheckType `yaml:"type"`

	HTTP HTTPHealthCheckConfig `yaml:"http,omitempty"`
	TCP  TCPHealthCheckConfig  `yaml:"tcp,omitempty"`
	Exec ExecHealthCheckConfig `yaml:"exec,omitempty"`

	Timeout    time.Duration `yaml:"timeout,omitempty"`
	Retries    int           `yaml:"retries,omitempty"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty"`
}

// HealthChecker runs a single configured check against a running server.
// Unlike a monitor it has no loop: each ValidateServer call is one attempt
// plus the configured retries.
type HealthChecker struct {
	config HealthCheckConfig
	logger logging.Logger
	sleep  func(time.Duration)
}

var _ daemon.ServerValidator = (*HealthChecker)(nil)

func NewHealthChecker(config HealthCheckConfig, logger logging.Logger) (*HealthChecker, error) {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if err := ValidateHealthCheckConfig(config); err != nil {
		return nil, err
	}
	return &HealthChecker{
		config: config,
		logger: logging.OrNop(logger),
		sleep:  time.Sleep,
	}, nil
}

func (h *HealthChecker) ValidateServer(process daemon.ControlledProcess) error {
	var err error
	for attempt := 0; attempt <= h.config.Retries; attempt++ {
		if attempt > 0 {
			h.sleep(h.config.RetryDelay)
		}
		err = h.performCheck(process)
		if err == nil {
			h.logger.Debugf("Health check passed, type: %s, attempt: %d", h.config.Type, attempt+1)
			return nil
		}
		h.logger.Warnf("Health check failed, type: %s, attempt: %d/%d, error: %v",
			h.config.Type, attempt+1, h.config.Retries+1, err)
	}
	return err
}

func (h *HealthChecker) performCheck(process daemon.ControlledProcess) error {
	switch h.config.Type {
	case HealthCheckTypeHTTP:
		return CheckHTTP(h.config.HTTP, h.config.Timeout)
	case HealthCheckTypeTCP:
		address := h.config.TCP.Address
		if address == "" {
			address = DialableAddress(process.BindAddress)
		}
		return CheckTCP(address, h.config.Timeout)
	case HealthCheckTypeExec:
		return CheckExec(h.config.Exec, h.config.Timeout)
	default:
		return errors.NewValidationError("unsupported health check type: "+string(h.config.Type), nil)
	}
}

// CheckHTTP treats any 2xx response as healthy.
func CheckHTTP(config HTTPHealthCheckConfig, timeout time.Duration) error {
	client := &http.Client{Timeout: timeout}

	method := config.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequest(method, config.URL, nil)
	if err != nil {
		return errors.NewValidationError("failed to create HTTP request", err).WithContext("url", config.URL)
	}
	for key, value := range config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errors.NewHealthCheckError("HTTP request failed", err).WithContext("url", config.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errors.NewHealthCheckError(fmt.Sprintf("HTTP health check failed: %s", resp.Status), nil).
		WithContext("url", config.URL).
		WithContext("status_code", resp.StatusCode)
}

func CheckTCP(address string, timeout time.Duration) error {
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return errors.NewHealthCheckError("TCP connection failed: "+address, err)
	}
	defer conn.Close()
	return nil
}

// CheckExec runs a probe command; exit code 0 is healthy.
func CheckExec(config ExecHealthCheckConfig, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, config.Command, config.Args...).CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return errors.NewHealthCheckError(fmt.Sprintf("exec health check timed out after %v", timeout), nil).
			WithContext("command", config.Command)
	}
	if err != nil {
		return errors.NewHealthCheckError("exec health check failed", err).
			WithContext("command", config.Command).
			WithContext(errors.ContextOutput, strings.TrimSpace(string(output)))
	}
	return nil
}

// DialableAddress maps a listen address to one a client can connect to:
// wildcard and empty hosts become loopback.
func DialableAddress(bindAddress string) string {
	host, port, err := net.SplitHostPort(bindAddress)
	if err != nil {
		// nginx accepts a bare port in listen
		if !strings.Contains(bindAddress, ":") && bindAddress != "" {
			return net.JoinHostPort("127.0.0.1", bindAddress)
		}
		return bindAddress
	}
	switch host {
	case "", "0.0.0.0", "*":
		host = "127.0.0.1"
	case "::", "[::]":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}

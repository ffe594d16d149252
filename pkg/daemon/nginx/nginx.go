package nginx

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/command"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
	"github.com/core-tools/hsu-daemonctl/pkg/monitoring"
)

const (
	Name = "nginx"

	BinaryName         = "nginx"
	PIDFileName        = "nginx.pid"
	ErrorLogName       = "error.log"
	SystemPIDFilePath  = "/run/nginx.pid"
	DefaultBindAddress = "0.0.0.0:80"

	DefaultValidateTimeout = 2 * time.Second
)

// Locations checked when nginx is not in PATH.
var DefaultBinaryCandidates = []string{
	"/usr/sbin/nginx",
	"/usr/local/sbin/nginx",
	"/usr/local/nginx/sbin/nginx",
	"/usr/local/bin/nginx",
	"/opt/homebrew/bin/nginx",
	"/opt/nginx/sbin/nginx",
}

type Adapter struct {
	binary          string
	candidates      []string
	validateTimeout time.Duration
	logger          logging.Logger
}

var (
	_ daemon.Adapter         = (*Adapter)(nil)
	_ daemon.ServerValidator = (*Adapter)(nil)
)

// NewAdapter returns an nginx adapter. binary may be empty, a bare name
// looked up in PATH, or an absolute path.
func NewAdapter(binary string, logger logging.Logger) *Adapter {
	return &Adapter{
		binary:          binary,
		candidates:      DefaultBinaryCandidates,
		validateTimeout: DefaultValidateTimeout,
		logger:          logging.OrNop(logger),
	}
}

// WithBinaryCandidates replaces the fallback locations.
func (a *Adapter) WithBinaryCandidates(candidates []string) *Adapter {
	c := *a
	c.candidates = append([]string(nil), candidates...)
	return &c
}

func (a *Adapter) WithValidateTimeout(timeout time.Duration) *Adapter {
	c := *a
	c.validateTimeout = timeout
	return &c
}

func (a *Adapter) Name() string {
	return Name
}

func (a *Adapter) ResolveBinaryPath() (string, error) {
	if a.binary != "" {
		return resolveExplicit(a.binary)
	}

	if path, err := exec.LookPath(BinaryName); err == nil {
		a.logger.Debugf("Found nginx in PATH: %s", path)
		return absolute(path)
	}

	for _, candidate := range a.candidates {
		if err := checkExecutable(candidate); err == nil {
			a.logger.Debugf("Found nginx at %s", candidate)
			return candidate, nil
		}
	}

	return "", errors.NewNotFoundError("nginx executable not found in PATH or common locations", nil).
		WithContext("candidates", a.candidates)
}

func resolveExplicit(binary string) (string, error) {
	path := binary
	if !filepath.IsAbs(binary) && filepath.Base(binary) == binary {
		found, err := exec.LookPath(binary)
		if err != nil {
			return "", errors.NewNotFoundError("nginx binary not found in PATH: "+binary, err)
		}
		path = found
	}

	path, err := absolute(path)
	if err != nil {
		return "", err
	}
	if err := checkExecutable(path); err != nil {
		return "", err
	}
	return path, nil
}

func absolute(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewIOError("failed to resolve absolute path: "+path, err)
	}
	return abs, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewNotFoundError("cannot access nginx binary at "+path, err)
	}
	if info.IsDir() {
		return errors.NewValidationError("nginx binary path is a directory: "+path, nil)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return errors.NewPermissionError("nginx binary is not executable: "+path, nil)
	}
	return nil
}

func (a *Adapter) DefaultPIDFilePath(logDir string) string {
	if logDir != "" {
		return filepath.Join(logDir, PIDFileName)
	}
	return SystemPIDFilePath
}

// DefaultErrorLogPath only knows the location when a log directory is given;
// otherwise it depends on how nginx was built.
func (a *Adapter) DefaultErrorLogPath(logDir string) string {
	if logDir != "" {
		return filepath.Join(logDir, ErrorLogName)
	}
	return ""
}

func (a *Adapter) DefaultBindAddress() string {
	return DefaultBindAddress
}

func (a *Adapter) BuildCommand(action daemon.Action, binaryPath string, configFile string) (command.CommandLine, error) {
	var args []string
	switch action {
	case daemon.ActionStart:
		args = []string{"-c", configFile}
	case daemon.ActionStop:
		args = []string{"-c", configFile, "-s", "stop"}
	case daemon.ActionReload:
		args = []string{"-c", configFile, "-s", "reload"}
	case daemon.ActionGracefulStopSignal:
		args = []string{"-c", configFile, "-s", "quit"}
	case daemon.ActionCheckConfig:
		args = []string{"-t", "-q", "-c", configFile}
	case daemon.ActionReopenLog:
		args = []string{"-c", configFile, "-s", "reopen"}
	default:
		return command.CommandLine{}, errors.NewUnsupportedActionError(Name, string(action))
	}
	return command.CommandLine{Path: binaryPath, Args: args}, nil
}

// ValidateServer confirms the server accepts connections on its bind address.
func (a *Adapter) ValidateServer(process daemon.ControlledProcess) error {
	address := process.BindAddress
	if address == "" {
		address = DefaultBindAddress
	}
	return monitoring.CheckTCP(monitoring.DialableAddress(address), a.validateTimeout)
}

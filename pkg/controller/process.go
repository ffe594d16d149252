package controller

import (
	"os"
	"path/filepath"

	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
)

// ProcessConfig is the unvalidated input for a ControlledProcess. Empty
// fields fall back to adapter defaults.
type ProcessConfig struct {
	ConfigFile   string
	PIDFile      string
	LogDir       string
	ErrorLogPath string
	BindAddress  string
	User         string
}

// NewControlledProcess validates config and computes every derived path
// once. The config file must exist and be a regular file; it is stored in
// canonical absolute form.
func NewControlledProcess(adapter daemon.Adapter, config ProcessConfig) (daemon.ControlledProcess, error) {
	if adapter == nil {
		return daemon.ControlledProcess{}, errors.NewConfigurationError("adapter is required", nil)
	}
	if config.ConfigFile == "" {
		return daemon.ControlledProcess{}, errors.NewConfigurationError("config file is required", nil)
	}

	configFile, err := canonicalFile(config.ConfigFile)
	if err != nil {
		return daemon.ControlledProcess{}, err
	}

	binaryPath, err := adapter.ResolveBinaryPath()
	if err != nil {
		return daemon.ControlledProcess{}, errors.NewConfigurationError("cannot resolve "+adapter.Name()+" binary", err)
	}

	logDir, err := absOrEmpty(config.LogDir)
	if err != nil {
		return daemon.ControlledProcess{}, err
	}

	pidFile := config.PIDFile
	if pidFile == "" {
		pidFile = adapter.DefaultPIDFilePath(logDir)
	}
	if pidFile == "" {
		return daemon.ControlledProcess{}, errors.NewConfigurationError("pid file path is not set and "+adapter.Name()+" has no default", nil)
	}
	if pidFile, err = absOrEmpty(pidFile); err != nil {
		return daemon.ControlledProcess{}, err
	}

	errorLog := config.ErrorLogPath
	if errorLog == "" {
		errorLog = adapter.DefaultErrorLogPath(logDir)
	}
	if errorLog, err = absOrEmpty(errorLog); err != nil {
		return daemon.ControlledProcess{}, err
	}

	bindAddress := config.BindAddress
	if bindAddress == "" {
		bindAddress = adapter.DefaultBindAddress()
	}

	return daemon.ControlledProcess{
		BinaryPath:   binaryPath,
		ConfigFile:   configFile,
		PIDFilePath:  pidFile,
		LogDir:       logDir,
		ErrorLogPath: errorLog,
		BindAddress:  bindAddress,
		User:         config.User,
	}, nil
}

func canonicalFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewConfigurationError("cannot resolve config file path: "+path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", errors.NewConfigurationError("config file does not exist: "+path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", errors.NewConfigurationError("cannot access config file: "+path, err)
	}
	if !info.Mode().IsRegular() {
		return "", errors.NewConfigurationError("config file is not a regular file: "+path, nil)
	}
	return resolved, nil
}

func absOrEmpty(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewConfigurationError("cannot resolve path: "+path, err)
	}
	return abs, nil
}

package controller

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/command"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
	"github.com/core-tools/hsu-daemonctl/pkg/logtail"
	"github.com/core-tools/hsu-daemonctl/pkg/metrics"
	"github.com/core-tools/hsu-daemonctl/pkg/pidfile"
)

// Operation names used in logs and metrics
const (
	OperationStart        = "start"
	OperationStop         = "stop"
	OperationGraceful     = "graceful"
	OperationGracefulStop = "graceful_stop"
	OperationRestart      = "restart"
	OperationReopenLogs   = "reopen_logs"
	OperationCheckConfig  = "check_config"
)

// ServerController drives one externally managed daemon through its pid
// file, log file and control commands. Every operation blocks the calling
// goroutine until the outcome is confirmed or its budget runs out. Nothing
// is cached between calls: the pid file is re-read on each check and each
// command line is rebuilt when issued.
type ServerController struct {
	process  daemon.ControlledProcess
	adapter  daemon.Adapter
	options  Options
	runner   command.Runner
	store    pidfile.Store
	watcher  *logtail.Watcher
	recorder metrics.Recorder
	logger   logging.Logger
}

func NewServerController(process daemon.ControlledProcess, adapter daemon.Adapter, options Options, logger logging.Logger) (*ServerController, error) {
	if adapter == nil {
		return nil, errors.NewConfigurationError("adapter is required", nil)
	}
	if process.BinaryPath == "" || process.ConfigFile == "" || process.PIDFilePath == "" {
		return nil, errors.NewConfigurationError("controlled process is incomplete, build it with NewControlledProcess", nil)
	}

	options, err := completeOptions(options)
	if err != nil {
		return nil, err
	}

	logger = logging.OrNop(logger)
	if options.Runner == nil {
		options.Runner = command.NewExecRunner(logger)
	}
	if options.PIDStore == nil {
		options.PIDStore = pidfile.NewFileStore(logger)
	}
	if options.LogWatcher == nil {
		options.LogWatcher = logtail.NewWatcher(logger)
	}

	return &ServerController{
		process:  process,
		adapter:  adapter,
		options:  options,
		runner:   options.Runner,
		store:    options.PIDStore,
		watcher:  options.LogWatcher,
		recorder: metrics.OrNop(options.Recorder),
		logger:   logger,
	}, nil
}

func completeOptions(options Options) (Options, error) {
	durations := []struct {
		name  string
		value *time.Duration
		def   time.Duration
	}{
		{"poll interval", &options.PollInterval, DefaultPollInterval},
		{"start timeout", &options.StartTimeout, DefaultStartTimeout},
		{"stop timeout", &options.StopTimeout, DefaultStopTimeout},
		{"graceful timeout", &options.GracefulTimeout, DefaultGracefulTimeout},
		{"graceful stop timeout", &options.GracefulStopTimeout, DefaultGracefulStopTimeout},
	}
	for _, d := range durations {
		if *d.value < 0 {
			return options, errors.NewConfigurationError(d.name+" cannot be negative", nil)
		}
		if *d.value == 0 {
			*d.value = d.def
		}
	}
	if options.Sleep == nil {
		options.Sleep = time.Sleep
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	return options, nil
}

// Process returns the immutable description of the controlled daemon.
func (c *ServerController) Process() daemon.ControlledProcess {
	return c.process
}

// Status reads the pid file once and probes the pid it names. A corrupt pid
// file yields an Invalid status together with the CorruptPIDFile error.
func (c *ServerController) Status() (ProcessStatus, error) {
	status, err := c.status()
	c.recorder.SetServerState(string(status.State), runningPID(status))
	return status, err
}

func (c *ServerController) status() (ProcessStatus, error) {
	record, err := c.store.Read(c.process.PIDFilePath)
	if err != nil {
		if errors.IsCorruptPIDFileError(err) {
			return Invalid(ReasonCorruptPIDFile, 0), err
		}
		return Invalid(ReasonUnreadablePIDFile, 0), err
	}
	if !record.Present {
		return NotRunning(), nil
	}

	liveness := c.store.ProbeLiveness(record.PID)
	if !liveness.Alive {
		return Invalid(ReasonStalePIDFile, record.PID), nil
	}
	if c.process.User != "" && liveness.User != "" && liveness.User != c.process.User {
		return RunningAsOtherUser(record.PID, liveness.User), nil
	}
	return Running(record.PID, liveness.User), nil
}

// Start launches the daemon unless it is already running. A stale or
// corrupt pid file does not block the start.
func (c *ServerController) Start() error {
	return c.observe(OperationStart, c.start)
}

func (c *ServerController) start() error {
	status, err := c.status()
	if err != nil && !errors.IsCorruptPIDFileError(err) {
		return err
	}
	if status.IsRunning() {
		c.logger.Infof("%s is already %s, nothing to start", c.adapter.Name(), status)
		return nil
	}
	if status.State == StateInvalid {
		c.logger.Warnf("Ignoring %s at %s, starting %s", status.Reason, c.process.PIDFilePath, c.adapter.Name())
	}
	return c.launch(true)
}

// launch issues the start command and waits for a live pid. Callers that
// already validated the config pass checkConfig=false.
func (c *ServerController) launch(checkConfig bool) error {
	if checkConfig {
		if err := c.checkConfig(); err != nil {
			return err
		}
	}

	c.transition(LifecycleStopped, LifecycleStarting)
	checkpoint := c.watcher.Checkpoint(c.process.ErrorLogPath)

	if err := c.run(daemon.ActionStart); err != nil {
		c.transition(LifecycleStarting, LifecycleFailed)
		return errors.AttachLogDelta(err, c.watcher.Delta(checkpoint))
	}

	var last ProcessStatus
	var validationErr error
	confirmed := c.poll(c.options.StartTimeout, func() bool {
		last, _ = c.status()
		if !last.IsRunning() {
			return false
		}
		if c.options.ConfirmStartWithValidator && c.options.Validator != nil {
			validationErr = c.options.Validator.ValidateServer(c.process)
			return validationErr == nil
		}
		return true
	})

	if !confirmed {
		c.transition(LifecycleStarting, LifecycleFailed)
		message := fmt.Sprintf("%s did not start within %v, last status: %s", c.adapter.Name(), c.options.StartTimeout, last)
		return errors.NewStartTimeoutError(message, validationErr).
			WithContext(errors.ContextPIDFile, c.process.PIDFilePath).
			WithLogDelta(c.watcher.Delta(checkpoint))
	}

	c.transition(LifecycleStarting, LifecycleRunning)
	c.logger.Infof("%s started, pid: %d", c.adapter.Name(), last.PID)
	return nil
}

// Stop shuts the daemon down and waits until the pid from the pid file is
// gone. Already stopped is success.
func (c *ServerController) Stop() error {
	return c.observe(OperationStop, c.stop)
}

func (c *ServerController) stop() error {
	status, err := c.status()
	if err != nil {
		return err
	}
	if !status.IsRunning() {
		if status.State == StateInvalid {
			c.logger.Infof("%s at %s, %s is not running", status.Reason, c.process.PIDFilePath, c.adapter.Name())
		} else {
			c.logger.Infof("%s is not running, nothing to stop", c.adapter.Name())
		}
		return nil
	}
	if status.State == StateRunningAsOtherUser {
		c.logger.Warnf("%s runs as %s, expected %s", c.adapter.Name(), status.User, c.process.User)
	}

	pid := status.PID
	c.transition(LifecycleRunning, LifecycleStopping)
	checkpoint := c.watcher.Checkpoint(c.process.ErrorLogPath)

	if err := c.run(daemon.ActionStop); err != nil {
		// The daemon may have exited on its own in the meantime.
		if !c.store.ProbeLiveness(pid).Alive {
			c.logger.Warnf("Stop command failed but pid %d is gone: %v", pid, err)
			c.transition(LifecycleStopping, LifecycleStopped)
			return nil
		}
		return errors.AttachLogDelta(err, c.watcher.Delta(checkpoint))
	}

	if !c.waitForExit(pid, c.options.StopTimeout) {
		message := fmt.Sprintf("%s pid %d still running after %v", c.adapter.Name(), pid, c.options.StopTimeout)
		return errors.NewStopTimeoutError(message, nil).
			WithContext(errors.ContextPID, pid).
			WithLogDelta(c.watcher.Delta(checkpoint))
	}

	c.transition(LifecycleStopping, LifecycleStopped)
	c.logger.Infof("%s stopped, pid: %d", c.adapter.Name(), pid)
	return nil
}

// Graceful reloads the configuration of a running daemon, or starts it
// when it is not running. Success means the same pid is still alive after
// the reload; the validator result is reported on top of that.
func (c *ServerController) Graceful() (*ReloadResult, error) {
	var result *ReloadResult
	err := c.observe(OperationGraceful, func() error {
		var err error
		result, err = c.graceful()
		return err
	})
	return result, err
}

func (c *ServerController) graceful() (*ReloadResult, error) {
	status, err := c.status()
	if err != nil && !errors.IsCorruptPIDFileError(err) {
		return nil, err
	}
	if !status.IsRunning() {
		c.logger.Infof("%s is not running, starting instead of reloading", c.adapter.Name())
		result := &ReloadResult{Started: true}
		if err := c.start(); err != nil {
			return result, err
		}
		if started, _ := c.status(); started.IsRunning() {
			result.PID = started.PID
			result.Alive = true
		}
		return result, nil
	}

	pid := status.PID
	result := &ReloadResult{PID: pid}
	if status.State == StateRunningAsOtherUser {
		warning := fmt.Sprintf("%s pid %d runs as %s, expected %s", c.adapter.Name(), pid, status.User, c.process.User)
		c.logger.Warnf("%s", warning)
		result.Warnings = append(result.Warnings, warning)
	}

	if err := c.checkConfig(); err != nil {
		return result, err
	}

	checkpoint := c.watcher.Checkpoint(c.process.ErrorLogPath)

	if err := c.run(daemon.ActionReload); err != nil {
		c.logger.Warnf("Reload command for %s failed, checking whether the server survived: %v", c.adapter.Name(), err)
		result.DispatchErr = err
		result.Warnings = append(result.Warnings, "reload command failed: "+err.Error())
		c.recorder.IncReloadDispatchFailure()
	}

	// A read right after the signal proves nothing; the master has to
	// survive at least one poll interval of the reload.
	dispatched := c.options.Now()
	var last ProcessStatus
	result.Alive = c.poll(c.options.GracefulTimeout, func() bool {
		last, _ = c.status()
		if !last.IsRunning() || last.PID != pid {
			return false
		}
		return c.options.Now().Sub(dispatched) >= c.options.PollInterval
	})
	result.LogDelta = c.watcher.Delta(checkpoint)

	if !result.Alive {
		c.transition(LifecycleRunning, LifecycleFailed)
		message := fmt.Sprintf("%s pid %d not confirmed alive within %v after reload, last status: %s",
			c.adapter.Name(), pid, c.options.GracefulTimeout, last)
		return result, errors.NewReloadTimeoutError(message, result.DispatchErr).
			WithContext(errors.ContextPID, pid).
			WithLogDelta(result.LogDelta)
	}

	if c.options.Validator != nil {
		if err := c.options.Validator.ValidateServer(c.process); err != nil {
			result.ValidationErr = err
			c.logger.Errorf("%s reloaded but failed validation: %v", c.adapter.Name(), err)
			return result, errors.NewHealthCheckError(c.adapter.Name()+" reloaded but failed validation", err).
				WithContext(errors.ContextPID, pid).
				WithLogDelta(result.LogDelta)
		}
	}

	c.logger.Infof("%s reloaded, pid: %d", c.adapter.Name(), pid)
	return result, nil
}

// GracefulStop asks the daemon to finish in-flight work and exit, then
// completes the teardown through Stop once GracefulStopTimeout passes.
func (c *ServerController) GracefulStop() error {
	return c.observe(OperationGracefulStop, c.gracefulStop)
}

func (c *ServerController) gracefulStop() error {
	status, err := c.status()
	if err != nil {
		return err
	}
	if !status.IsRunning() {
		c.logger.Infof("%s is not running, nothing to stop", c.adapter.Name())
		return nil
	}

	pid := status.PID
	c.transition(LifecycleRunning, LifecycleStopping)
	if err := c.run(daemon.ActionGracefulStopSignal); err != nil {
		c.logger.Warnf("Graceful stop command for %s failed, falling back to stop: %v", c.adapter.Name(), err)
	} else if c.waitForExit(pid, c.options.GracefulStopTimeout) {
		c.logger.Infof("%s exited gracefully, pid: %d", c.adapter.Name(), pid)
	} else {
		c.logger.Warnf("%s pid %d still running after %v, stopping", c.adapter.Name(), pid, c.options.GracefulStopTimeout)
	}

	return c.stop()
}

// Restart stops and starts the daemon. The config is checked before the
// stop so a broken config never takes a running server down.
func (c *ServerController) Restart() error {
	return c.observe(OperationRestart, c.restart)
}

func (c *ServerController) restart() error {
	status, err := c.status()
	if err != nil && !errors.IsCorruptPIDFileError(err) {
		return err
	}
	if !status.IsRunning() {
		return c.start()
	}

	if err := c.checkConfig(); err != nil {
		return err
	}
	if err := c.stop(); err != nil {
		return err
	}
	return c.launch(false)
}

// ReopenLogs makes a running daemon reopen its log files, typically after
// rotation.
func (c *ServerController) ReopenLogs() error {
	return c.observe(OperationReopenLogs, func() error {
		status, err := c.status()
		if err != nil {
			return err
		}
		if !status.IsRunning() {
			return errors.NewProcessError(c.adapter.Name()+" is not running, cannot reopen logs", nil).
				WithContext(errors.ContextPIDFile, c.process.PIDFilePath)
		}
		return c.run(daemon.ActionReopenLog)
	})
}

// CheckConfigSyntax runs the daemon's own config test. Silent on success.
func (c *ServerController) CheckConfigSyntax() error {
	return c.observe(OperationCheckConfig, c.checkConfig)
}

func (c *ServerController) checkConfig() error {
	if err := c.run(daemon.ActionCheckConfig); err != nil {
		c.logger.Errorf("Config check failed for %s: %v", c.process.ConfigFile, err)
		return err
	}
	c.logger.Debugf("Config check passed for %s", c.process.ConfigFile)
	return nil
}

func (c *ServerController) run(action daemon.Action) error {
	cmd, err := c.adapter.BuildCommand(action, c.process.BinaryPath, c.process.ConfigFile)
	if err != nil {
		return err
	}
	c.logger.Debugf("Issuing %s: %s", action, cmd)

	outcome, err := c.runner.Run(cmd)
	if err != nil {
		return err
	}
	return outcome.Err(cmd)
}

func (c *ServerController) waitForExit(pid int, timeout time.Duration) bool {
	return c.poll(timeout, func() bool {
		return !c.store.ProbeLiveness(pid).Alive
	})
}

// poll evaluates cond immediately and then every PollInterval until it
// holds or timeout has elapsed.
func (c *ServerController) poll(timeout time.Duration, cond func() bool) bool {
	deadline := c.options.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if !c.options.Now().Before(deadline) {
			return false
		}
		c.options.Sleep(c.options.PollInterval)
	}
}

func (c *ServerController) observe(operation string, fn func() error) error {
	started := c.options.Now()
	err := fn()
	c.recorder.ObserveOperation(operation, err, c.options.Now().Sub(started))
	return err
}

func (c *ServerController) transition(from, to LifecycleState) {
	c.logger.Debugf("%s: %s -> %s", c.adapter.Name(), from, to)
}

func runningPID(status ProcessStatus) int {
	if status.IsRunning() {
		return status.PID
	}
	return 0
}

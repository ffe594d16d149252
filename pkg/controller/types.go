package controller

import (
	"fmt"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/command"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/logtail"
	"github.com/core-tools/hsu-daemonctl/pkg/metrics"
	"github.com/core-tools/hsu-daemonctl/pkg/pidfile"
)

// State is what a single status check observed.
type State string

const (
	StateNotRunning         State = "not_running"
	StateRunning            State = "running"
	StateRunningAsOtherUser State = "running_as_other_user"
	StateInvalid            State = "invalid"
)

// Reasons carried by StateInvalid
const (
	ReasonStalePIDFile      = "stale pid file"
	ReasonCorruptPIDFile    = "corrupt pid file"
	ReasonUnreadablePIDFile = "unreadable pid file"
)

type ProcessStatus struct {
	State  State
	PID    int
	User   string // actual owner of PID when running
	Reason string // set for StateInvalid
}

func NotRunning() ProcessStatus {
	return ProcessStatus{State: StateNotRunning}
}

func Running(pid int, user string) ProcessStatus {
	return ProcessStatus{State: StateRunning, PID: pid, User: user}
}

func RunningAsOtherUser(pid int, user string) ProcessStatus {
	return ProcessStatus{State: StateRunningAsOtherUser, PID: pid, User: user}
}

func Invalid(reason string, pid int) ProcessStatus {
	return ProcessStatus{State: StateInvalid, PID: pid, Reason: reason}
}

// IsRunning is true whoever the server runs as.
func (s ProcessStatus) IsRunning() bool {
	return s.State == StateRunning || s.State == StateRunningAsOtherUser
}

func (s ProcessStatus) String() string {
	switch s.State {
	case StateRunning:
		return fmt.Sprintf("running (pid %d)", s.PID)
	case StateRunningAsOtherUser:
		return fmt.Sprintf("running as %s (pid %d)", s.User, s.PID)
	case StateInvalid:
		if s.PID > 0 {
			return fmt.Sprintf("invalid: %s (pid %d)", s.Reason, s.PID)
		}
		return "invalid: " + s.Reason
	default:
		return "not running"
	}
}

// LifecycleState is the coarse state an operator thinks in. Starting and
// stopping are only ever observed while an operation is in flight.
type LifecycleState string

const (
	LifecycleStopped  LifecycleState = "stopped"
	LifecycleStarting LifecycleState = "starting"
	LifecycleRunning  LifecycleState = "running"
	LifecycleStopping LifecycleState = "stopping"
	LifecycleFailed   LifecycleState = "failed"
)

func (s ProcessStatus) Lifecycle() LifecycleState {
	switch s.State {
	case StateRunning, StateRunningAsOtherUser:
		return LifecycleRunning
	case StateInvalid:
		return LifecycleFailed
	default:
		return LifecycleStopped
	}
}

// ReloadResult is the outcome of Graceful. Liveness of the same pid and the
// server validation are reported separately.
type ReloadResult struct {
	// Started is set when the server was not running and Graceful fell
	// back to a plain start.
	Started bool
	PID     int

	// DispatchErr is the error of the reload command itself. It does not
	// fail the operation when the server is confirmed alive afterwards.
	DispatchErr error

	// Alive reports the same pid was running after the reload.
	Alive bool

	// ValidationErr is the validator result, nil when it passed or when no
	// validator is configured.
	ValidationErr error

	Warnings []string
	LogDelta string
}

// Default operation budgets
const (
	DefaultPollInterval        = 100 * time.Millisecond
	DefaultStartTimeout        = 10 * time.Second
	DefaultStopTimeout         = 10 * time.Second
	DefaultGracefulTimeout     = 10 * time.Second
	DefaultGracefulStopTimeout = 30 * time.Second
)

type Options struct {
	PollInterval        time.Duration
	StartTimeout        time.Duration
	StopTimeout         time.Duration
	GracefulTimeout     time.Duration
	GracefulStopTimeout time.Duration

	// Validator checks a running server beyond its pid being alive.
	// Optional; run after a reload, and after a start when
	// ConfirmStartWithValidator is set.
	Validator                 daemon.ServerValidator
	ConfirmStartWithValidator bool

	Runner     command.Runner
	PIDStore   pidfile.Store
	LogWatcher *logtail.Watcher
	Recorder   metrics.Recorder

	// Clock hooks, replaced in tests
	Sleep func(time.Duration)
	Now   func() time.Time
}

func DefaultOptions() Options {
	return Options{
		PollInterval:        DefaultPollInterval,
		StartTimeout:        DefaultStartTimeout,
		StopTimeout:         DefaultStopTimeout,
		GracefulTimeout:     DefaultGracefulTimeout,
		GracefulStopTimeout: DefaultGracefulStopTimeout,
	}
}

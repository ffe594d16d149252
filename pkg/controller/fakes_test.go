package controller

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/command"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon"
	"github.com/core-tools/hsu-daemonctl/pkg/daemon/nginx"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/pidfile"

	"github.com/stretchr/testify/require"
)

const (
	testBinary = "/usr/sbin/nginx"
	testPID    = 4242
)

// fakeDaemon plays the daemon, its pid file and the OS process table.
// Commands are decoded back into actions from the nginx command lines.
type fakeDaemon struct {
	t *testing.T

	record   pidfile.Record
	readErr  error
	alive    map[int]bool
	owners   map[int]string
	errorLog string

	commands []daemon.Action
	handlers map[daemon.Action]func() (*command.Outcome, error)

	// ticks run on every fake sleep, in order, once each
	ticks []func()
	now   time.Time
	slept time.Duration
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	f := &fakeDaemon{
		t:        t,
		alive:    map[int]bool{},
		owners:   map[int]string{},
		handlers: map[daemon.Action]func() (*command.Outcome, error){},
		now:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		errorLog: filepath.Join(t.TempDir(), "error.log"),
	}
	f.handlers[daemon.ActionStart] = func() (*command.Outcome, error) {
		f.spawn(testPID)
		return ok(), nil
	}
	f.handlers[daemon.ActionStop] = func() (*command.Outcome, error) {
		f.exit()
		return ok(), nil
	}
	f.handlers[daemon.ActionGracefulStopSignal] = f.handlers[daemon.ActionStop]
	return f
}

func ok() *command.Outcome {
	return &command.Outcome{}
}

func failed(code int, stderr string) func() (*command.Outcome, error) {
	return func() (*command.Outcome, error) {
		return &command.Outcome{ExitCode: code, Stderr: stderr}, nil
	}
}

func (f *fakeDaemon) spawn(pid int) {
	f.record = pidfile.Record{PID: pid, Present: true}
	f.alive[pid] = true
}

func (f *fakeDaemon) exit() {
	if f.record.Present {
		delete(f.alive, f.record.PID)
	}
	f.record = pidfile.Record{}
}

func (f *fakeDaemon) appendLog(text string) {
	file, err := os.OpenFile(f.errorLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	_, err = file.WriteString(text)
	require.NoError(f.t, err)
	require.NoError(f.t, file.Close())
}

func (f *fakeDaemon) Read(path string) (pidfile.Record, error) {
	return f.record, f.readErr
}

func (f *fakeDaemon) ProbeLiveness(pid int) pidfile.Liveness {
	if !f.alive[pid] {
		return pidfile.Liveness{}
	}
	return pidfile.Liveness{Alive: true, User: f.owners[pid]}
}

func (f *fakeDaemon) Run(cmd command.CommandLine) (*command.Outcome, error) {
	action := actionOf(cmd)
	f.commands = append(f.commands, action)
	if h, ok := f.handlers[action]; ok {
		return h()
	}
	return ok(), nil
}

func (f *fakeDaemon) sleep(d time.Duration) {
	f.now = f.now.Add(d)
	f.slept += d
	if len(f.ticks) > 0 {
		tick := f.ticks[0]
		f.ticks = f.ticks[1:]
		tick()
	}
}

func (f *fakeDaemon) clock() time.Time {
	return f.now
}

func actionOf(cmd command.CommandLine) daemon.Action {
	args := cmd.Args
	if len(args) > 0 && args[0] == "-t" {
		return daemon.ActionCheckConfig
	}
	if len(args) == 4 && args[2] == "-s" {
		switch args[3] {
		case "stop":
			return daemon.ActionStop
		case "reload":
			return daemon.ActionReload
		case "quit":
			return daemon.ActionGracefulStopSignal
		case "reopen":
			return daemon.ActionReopenLog
		}
	}
	return daemon.ActionStart
}

// fileBackedStore parses a real pid file while liveness stays fake.
type fileBackedStore struct {
	*fakeDaemon
	files *pidfile.FileStore
}

func (s *fileBackedStore) Read(path string) (pidfile.Record, error) {
	return s.files.Read(path)
}

type fakeValidator struct {
	errs  []error
	calls int
}

func (v *fakeValidator) ValidateServer(daemon.ControlledProcess) error {
	v.calls++
	if len(v.errs) == 0 {
		return nil
	}
	err := v.errs[0]
	v.errs = v.errs[1:]
	return err
}

type operation struct {
	name string
	err  error
}

type fakeRecorder struct {
	operations       []operation
	lastState        string
	lastPID          int
	dispatchFailures int
}

func (r *fakeRecorder) ObserveOperation(name string, err error, _ time.Duration) {
	r.operations = append(r.operations, operation{name, err})
}

func (r *fakeRecorder) SetServerState(state string, pid int) {
	r.lastState, r.lastPID = state, pid
}

func (r *fakeRecorder) IncReloadDispatchFailure() {
	r.dispatchFailures++
}

func testProcess(f *fakeDaemon) daemon.ControlledProcess {
	return daemon.ControlledProcess{
		BinaryPath:   testBinary,
		ConfigFile:   "/etc/x/nginx.conf",
		PIDFilePath:  "/run/nginx.pid",
		ErrorLogPath: f.errorLog,
		BindAddress:  "0.0.0.0:80",
	}
}

func newTestController(t *testing.T, f *fakeDaemon, mutate ...func(*Options, *daemon.ControlledProcess)) *ServerController {
	t.Helper()
	options := Options{
		PollInterval:        100 * time.Millisecond,
		StartTimeout:        time.Second,
		StopTimeout:         time.Second,
		GracefulTimeout:     time.Second,
		GracefulStopTimeout: 2 * time.Second,
		Runner:              f,
		PIDStore:            f,
		Sleep:               f.sleep,
		Now:                 f.clock,
	}
	process := testProcess(f)
	for _, m := range mutate {
		m(&options, &process)
	}
	c, err := NewServerController(process, nginx.NewAdapter(testBinary, nil), options, nil)
	require.NoError(t, err)
	return c
}

func corrupt() error {
	return errors.NewCorruptPIDFileError("/run/nginx.pid", "abc", nil)
}

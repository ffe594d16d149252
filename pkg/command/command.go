package command

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"

	domainErrors "github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
)

// CommandLine is one external command: an executable and its arguments.
type CommandLine struct {
	Path string
	Args []string
}

// String renders the command for logs and error messages.
func (c CommandLine) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Path))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`;&|<>*?()") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Outcome is what a finished command left behind.
type Outcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (o *Outcome) Success() bool {
	return o.ExitCode == 0
}

// Output prefers stderr, where daemons report their failures.
func (o *Outcome) Output() string {
	if strings.TrimSpace(o.Stderr) != "" {
		return o.Stderr
	}
	return o.Stdout
}

// Err translates a non-zero exit into a CommandFailed error. Exit code 0 is
// the only success signal, whatever the command printed.
func (o *Outcome) Err(cmd CommandLine) error {
	if o.Success() {
		return nil
	}
	return domainErrors.NewCommandFailedError(cmd.String(), o.ExitCode, o.Output())
}

// Runner executes a command synchronously.
//
// An error is returned only when the command could not be launched;
// a command that ran and exited non-zero yields a normal Outcome.
type Runner interface {
	Run(cmd CommandLine) (*Outcome, error)
}

// DefaultPipeWaitDelay bounds how long Run waits for output pipes after the
// command exited. A daemonizing command may leave a child holding them open.
const DefaultPipeWaitDelay = 2 * time.Second

// ExecRunner runs commands as child processes and blocks until they exit.
// There is no timeout at this layer.
type ExecRunner struct {
	logger      logging.Logger
	environment []string
	workDir     string
}

var _ Runner = (*ExecRunner)(nil)

func NewExecRunner(logger logging.Logger) *ExecRunner {
	return &ExecRunner{logger: logging.OrNop(logger)}
}

// WithEnvironment adds KEY=VALUE pairs on top of the inherited environment.
func (r *ExecRunner) WithEnvironment(env []string) *ExecRunner {
	c := *r
	c.environment = append([]string(nil), env...)
	return &c
}

// WithWorkDir runs commands from dir instead of the current directory.
func (r *ExecRunner) WithWorkDir(dir string) *ExecRunner {
	c := *r
	c.workDir = dir
	return &c
}

func (r *ExecRunner) Run(cmd CommandLine) (*Outcome, error) {
	if cmd.Path == "" {
		return nil, domainErrors.NewCommandExecutionError(cmd.String(), errors.New("empty executable path"))
	}

	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = r.workDir
	if len(r.environment) > 0 {
		c.Env = append(os.Environ(), r.environment...)
	}
	c.WaitDelay = DefaultPipeWaitDelay
	setupProcessAttributes(c)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.Debugf("Running command: %s", cmd)

	err := c.Run()
	if errors.Is(err, exec.ErrWaitDelay) {
		r.logger.Debugf("Command exited but left its output pipes open: %s", cmd)
		err = nil
	}
	outcome := &Outcome{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		r.logger.Debugf("Command succeeded: %s", cmd)
		return outcome, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		outcome.ExitCode = exitErr.ExitCode()
		r.logger.Debugf("Command exited non-zero, command: %s, exit code: %d", cmd, outcome.ExitCode)
		return outcome, nil
	}

	r.logger.Errorf("Failed to launch command, command: %s, error: %v", cmd, err)
	return nil, domainErrors.NewCommandExecutionError(cmd.String(), err)
}

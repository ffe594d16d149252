//go:build !windows

package controller

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/daemon/nginx"
	"github.com/core-tools/hsu-daemonctl/pkg/errors"
	"github.com/core-tools/hsu-daemonctl/pkg/pidfile"
	"github.com/core-tools/hsu-daemonctl/pkg/processstate"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNginxScript speaks enough of the nginx command line to be driven by
// the nginx adapter. The daemon is a background shell that writes its pid
// file and logs the signals it receives. Background jobs of a
// non-interactive shell ignore SIGQUIT, so quit is delivered as USR2.
const fakeNginxScript = `#!/bin/sh
log="@LOG@"
pidfile="@PID@"
echo "$*" >> "@CMDS@"
if [ "$1" = "-t" ]; then
  if grep -q broken "$4"; then
    echo "nginx: [emerg] unknown directive \"broken\" in $4:1" >&2
    echo "nginx: configuration file $4 test failed" >&2
    exit 1
  fi
  exit 0
fi
if [ "$3" = "-s" ]; then
  if [ ! -s "$pidfile" ]; then
    echo "nginx: [error] open() \"$pidfile\" failed (2: No such file or directory)" >&2
    exit 1
  fi
  pid=$(cat "$pidfile")
  case "$4" in
    stop) kill -TERM "$pid" ;;
    quit) kill -USR2 "$pid" ;;
    reload) kill -HUP "$pid" ;;
    reopen) kill -USR1 "$pid" ;;
  esac
  exit $?
fi
if grep -q nostart "$2"; then
  echo "[emerg] bind() to 0.0.0.0:80 failed (98: Address already in use)" >> "$log"
  exit 0
fi
/bin/sh -c '
  trap "echo \"exiting\" >> \"$1\"; rm -f \"$0\"; exit 0" TERM
  trap "echo \"gracefully shutting down\" >> \"$1\"; rm -f \"$0\"; exit 0" USR2
  trap "echo \"signal reload\" >> \"$1\"" HUP
  trap "echo \"reopening logs\" >> \"$1\"" USR1
  echo "start worker processes" >> "$1"
  echo $$ > "$0"
  while :; do sleep 1; done
' "$pidfile" "$log" </dev/null >/dev/null 2>&1 &
exit 0
`

type fakeNginx struct {
	dir     string
	binary  string
	conf    string
	pidFile string
	errLog  string
	cmdLog  string
}

func newFakeNginx(t *testing.T) *fakeNginx {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	n := &fakeNginx{
		dir:     dir,
		binary:  filepath.Join(dir, "sbin", "nginx"),
		conf:    filepath.Join(dir, "etc", "nginx.conf"),
		pidFile: filepath.Join(dir, "logs", "nginx.pid"),
		errLog:  filepath.Join(dir, "logs", "error.log"),
		cmdLog:  filepath.Join(dir, "commands.log"),
	}
	for _, d := range []string{"sbin", "etc", "logs"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, d), 0o755))
	}

	script := strings.NewReplacer("@LOG@", n.errLog, "@PID@", n.pidFile, "@CMDS@", n.cmdLog).Replace(fakeNginxScript)
	require.NoError(t, os.WriteFile(n.binary, []byte(script), 0o755))
	n.writeConfig(t, "events {}\n")

	t.Cleanup(func() {
		if data, err := os.ReadFile(n.pidFile); err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
		}
	})
	return n
}

func (n *fakeNginx) writeConfig(t *testing.T, content string) {
	require.NoError(t, os.WriteFile(n.conf, []byte(content), 0o644))
}

func (n *fakeNginx) commands(t *testing.T) []string {
	data, err := os.ReadFile(n.cmdLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func (n *fakeNginx) errorLog(t *testing.T) string {
	data, err := os.ReadFile(n.errLog)
	require.NoError(t, err)
	return string(data)
}

func (n *fakeNginx) controller(t *testing.T) *ServerController {
	t.Helper()
	adapter := nginx.NewAdapter(n.binary, nil)
	process, err := NewControlledProcess(adapter, ProcessConfig{
		ConfigFile: n.conf,
		LogDir:     filepath.Join(n.dir, "logs"),
	})
	require.NoError(t, err)

	c, err := NewServerController(process, adapter, Options{
		PollInterval:        50 * time.Millisecond,
		StartTimeout:        5 * time.Second,
		StopTimeout:         5 * time.Second,
		GracefulTimeout:     2 * time.Second,
		GracefulStopTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestIntegration_Lifecycle(t *testing.T) {
	n := newFakeNginx(t)
	c := n.controller(t)

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNotRunning, status.State)

	require.NoError(t, c.Start())
	assert.Equal(t, []string{"-t -q -c " + n.conf, "-c " + n.conf}, n.commands(t))

	status, err = c.Status()
	require.NoError(t, err)
	require.Equal(t, StateRunning, status.State)
	pid := status.PID
	if runtime.GOOS == "linux" {
		assert.Equal(t, processstate.CurrentUser(), status.User)
	}

	require.NoError(t, c.Start())
	assert.Len(t, n.commands(t), 2, "start while running issues no command")

	result, err := c.Graceful()
	require.NoError(t, err)
	assert.True(t, result.Alive)
	assert.Equal(t, pid, result.PID)
	assert.NoError(t, result.DispatchErr)
	assert.Eventually(t, func() bool {
		return strings.Contains(n.errorLog(t), "signal reload")
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, c.ReopenLogs())
	assert.Eventually(t, func() bool {
		return strings.Contains(n.errorLog(t), "reopening logs")
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, c.Stop())
	status, err = c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNotRunning, status.State)

	issued := len(n.commands(t))
	require.NoError(t, c.Stop())
	assert.Len(t, n.commands(t), issued, "stop while stopped issues no command")
}

func TestIntegration_StalePIDFile(t *testing.T) {
	n := newFakeNginx(t)
	c := n.controller(t)

	stale := 4242
	if alive, _ := processstate.IsProcessRunning(stale); alive {
		stale = 1<<22 + 4242
	}
	require.NoError(t, pidfile.Write(n.pidFile, stale))

	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, Invalid(ReasonStalePIDFile, stale), status)

	require.NoError(t, c.Start())
	status, err = c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.State)
	assert.NotEqual(t, stale, status.PID)

	require.NoError(t, c.Stop())
}

func TestIntegration_GracefulWithBrokenConfig(t *testing.T) {
	n := newFakeNginx(t)
	c := n.controller(t)
	require.NoError(t, c.Start())

	n.writeConfig(t, "broken;\n")
	_, err := c.Graceful()

	require.True(t, errors.IsCommandFailedError(err))
	assert.Contains(t, errors.Output(err), `unknown directive "broken"`)
	for _, cmd := range n.commands(t) {
		assert.NotContains(t, cmd, "-s reload")
	}

	status, err := c.Status()
	require.NoError(t, err)
	assert.True(t, status.IsRunning())

	n.writeConfig(t, "events {}\n")
	require.NoError(t, c.Stop())
}

func TestIntegration_StartTimeoutReportsErrorLog(t *testing.T) {
	n := newFakeNginx(t)
	n.writeConfig(t, "# nostart\n")
	c := n.controller(t)
	c.options.StartTimeout = 300 * time.Millisecond

	err := c.Start()

	require.True(t, errors.IsStartTimeoutError(err))
	assert.Contains(t, errors.LogDelta(err), "Address already in use")
}

func TestIntegration_GracefulStop(t *testing.T) {
	n := newFakeNginx(t)
	c := n.controller(t)
	require.NoError(t, c.Start())

	require.NoError(t, c.GracefulStop())

	assert.Contains(t, n.errorLog(t), "gracefully shutting down")
	assert.NotContains(t, n.commands(t), "-c "+n.conf+" -s stop")
	status, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateNotRunning, status.State)
}

func TestIntegration_Restart(t *testing.T) {
	n := newFakeNginx(t)
	c := n.controller(t)
	require.NoError(t, c.Start())
	before, err := c.Status()
	require.NoError(t, err)

	require.NoError(t, c.Restart())

	after, err := c.Status()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, after.State)
	assert.NotEqual(t, before.PID, after.PID)

	require.NoError(t, c.Stop())
}

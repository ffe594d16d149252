package daemon

import (
	"github.com/core-tools/hsu-daemonctl/pkg/command"
)

// Action is a control operation an adapter knows how to express as a command.
type Action string

const (
	ActionStart              Action = "start"
	ActionStop               Action = "stop"
	ActionReload             Action = "reload"
	ActionGracefulStopSignal Action = "graceful-stop-signal"
	ActionCheckConfig        Action = "check-config"
	ActionReopenLog          Action = "reopen-log"
)

// Actions lists every action in a stable order.
func Actions() []Action {
	return []Action{
		ActionStart,
		ActionStop,
		ActionReload,
		ActionGracefulStopSignal,
		ActionCheckConfig,
		ActionReopenLog,
	}
}

// ControlledProcess describes one externally managed server instance.
// Values are built once and never mutated afterwards.
type ControlledProcess struct {
	BinaryPath   string
	ConfigFile   string
	PIDFilePath  string
	LogDir       string
	ErrorLogPath string
	BindAddress  string
	User         string
}

// Adapter captures everything daemon specific: where the binary lives,
// where the pid file and error log default to, and how each action is
// spelled on the command line. Adapters are stateless.
type Adapter interface {
	Name() string

	// ResolveBinaryPath returns an absolute path to an executable binary.
	ResolveBinaryPath() (string, error)

	// DefaultPIDFilePath returns "" when the adapter cannot tell.
	DefaultPIDFilePath(logDir string) string

	DefaultErrorLogPath(logDir string) string

	DefaultBindAddress() string

	// BuildCommand fails with an UnsupportedAction error for actions the
	// daemon has no command for.
	BuildCommand(action Action, binaryPath string, configFile string) (command.CommandLine, error)
}

// ServerValidator is implemented by adapters that can check a running server
// from the outside, beyond its pid being alive.
type ServerValidator interface {
	ValidateServer(process ControlledProcess) error
}

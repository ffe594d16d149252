package main

import (
	stdErrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/config"
	"github.com/core-tools/hsu-daemonctl/pkg/controller"
	"github.com/core-tools/hsu-daemonctl/pkg/logging"
	"github.com/core-tools/hsu-daemonctl/pkg/metrics"

	flags "github.com/jessevdk/go-flags"
)

// Exit codes follow the LSB init script conventions for status
const (
	exitOK         = 0
	exitFailure    = 1
	exitNotRunning = 3
	exitInvalid    = 4
)

type flagOptions struct {
	Config string `short:"f" long:"config" description:"path to the daemonctl YAML configuration file"`

	Type        string `long:"type" description:"daemon type" choice:"nginx"`
	ConfigFile  string `short:"c" long:"conf" description:"daemon configuration file"`
	Binary      string `long:"binary" description:"daemon binary, absolute or looked up in PATH"`
	PIDFile     string `long:"pid-file" description:"pid file written by the daemon"`
	LogDir      string `long:"log-dir" description:"directory holding the daemon pid file and error log"`
	ErrorLog    string `long:"error-log" description:"daemon error log used for failure diagnostics"`
	BindAddress string `long:"bind" description:"address the daemon listens on"`
	User        string `long:"user" description:"user the daemon is expected to run as"`

	StartTimeout time.Duration `long:"start-timeout" description:"how long to wait for the daemon to start"`
	StopTimeout  time.Duration `long:"stop-timeout" description:"how long to wait for the daemon to stop"`
	Validate     string        `long:"validate" description:"server validation after reload" choice:"none" choice:"adapter" choice:"check"`

	LogLevel        string `long:"log-level" description:"debug, info, warn or error"`
	LogFormat       string `long:"log-format" description:"console or json" choice:"console" choice:"json"`
	LogOutput       string `long:"log-output" description:"stderr, stdout or a file path"`
	MetricsTextfile string `long:"metrics-textfile" description:"write operation metrics to this node_exporter textfile"`
}

// exitError carries the process exit code through the go-flags command chain
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s-ctl , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)

	app := &application{opts: &opts}
	addCommands(parser, app)

	_, err := parser.ParseArgs(argv)
	app.close()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var flagsErr *flags.Error
	if stdErrors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
		fmt.Println(flagsErr.Message)
		return exitOK
	}

	var exit *exitError
	if stdErrors.As(err, &exit) {
		if exit.err != nil {
			fmt.Fprintln(os.Stderr, exit.err)
		}
		return exit.code
	}

	fmt.Fprintln(os.Stderr, err)
	return exitFailure
}

// application is built on the first command execution, after go-flags has
// filled in the global options.
type application struct {
	opts       *flagOptions
	config     *config.Config
	zapLogger  *logging.ZapLogger
	logger     logging.Logger
	recorder   *metrics.PrometheusRecorder
	controller *controller.ServerController
}

func (a *application) init() error {
	cfg, err := loadConfig(a.opts)
	if err != nil {
		return err
	}

	zapLogger, err := logging.NewZapLogger(cfg.Logging)
	if err != nil {
		return err
	}
	zapLogger = zapLogger.Named("daemonctl")
	logger := logging.NewLogger(logPrefix(cfg.Daemon.Type), zapLogger.PrefixLogFuncs())

	var recorder metrics.Recorder
	if cfg.Metrics.Textfile != "" {
		a.recorder = metrics.NewPrometheusRecorder(cfg.Daemon.Type)
		recorder = a.recorder
	}

	c, err := config.CreateControllerFromConfig(cfg, recorder, logger)
	if err != nil {
		_ = zapLogger.Sync()
		return err
	}

	a.config = cfg
	a.zapLogger = zapLogger
	a.logger = logger
	a.controller = c
	return nil
}

func (a *application) close() {
	if a.recorder != nil && a.config != nil {
		if err := a.recorder.WriteTextfile(a.config.Metrics.Textfile); err != nil {
			a.logger.Errorf("Failed to write metrics: %v", err)
		}
	}
	if a.zapLogger != nil {
		_ = a.zapLogger.Sync()
	}
}

// loadConfig reads the optional configuration file and lays the command
// line on top of it.
func loadConfig(opts *flagOptions) (*config.Config, error) {
	cfg := &config.Config{}
	if opts.Config != "" {
		loaded, err := config.LoadConfigFromFile(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	applyFlags(cfg, opts)
	config.SetConfigDefaults(cfg)

	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, opts *flagOptions) {
	overrides := []struct {
		flag   string
		target *string
	}{
		{opts.Type, &cfg.Daemon.Type},
		{opts.ConfigFile, &cfg.Daemon.ConfigFile},
		{opts.Binary, &cfg.Daemon.Binary},
		{opts.PIDFile, &cfg.Daemon.PIDFile},
		{opts.LogDir, &cfg.Daemon.LogDir},
		{opts.ErrorLog, &cfg.Daemon.ErrorLog},
		{opts.BindAddress, &cfg.Daemon.BindAddress},
		{opts.User, &cfg.Daemon.User},
		{opts.LogLevel, &cfg.Logging.Level},
		{opts.LogFormat, &cfg.Logging.Format},
		{opts.LogOutput, &cfg.Logging.Output},
		{opts.MetricsTextfile, &cfg.Metrics.Textfile},
	}
	for _, o := range overrides {
		if o.flag != "" {
			*o.target = o.flag
		}
	}

	if opts.StartTimeout > 0 {
		cfg.Timeouts.Start = opts.StartTimeout
	}
	if opts.StopTimeout > 0 {
		cfg.Timeouts.Stop = opts.StopTimeout
	}
	if opts.Validate != "" {
		cfg.Validation.Mode = config.ValidationMode(opts.Validate)
	}
}

//go:build !windows

// fakenginx accepts the nginx control command line and behaves like a tiny
// nginx master process: it daemonizes, writes its pid file, listens on the
// configured address and reacts to the nginx signals. Used to exercise
// daemonctl without a real nginx.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/core-tools/hsu-daemonctl/pkg/pidfile"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/sys/unix"
)

type flagOptions struct {
	Config     string `short:"c" description:"configuration file" default:"/etc/nginx/nginx.conf"`
	Signal     string `short:"s" description:"send signal to the master process" choice:"stop" choice:"quit" choice:"reopen" choice:"reload"`
	Test       bool   `short:"t" description:"test configuration and exit"`
	Quiet      bool   `short:"q" description:"suppress non-error messages during configuration testing"`
	Foreground bool   `long:"foreground" description:"run the master process in the foreground (internal)"`
}

// siteConfig is the subset of nginx.conf fakenginx understands
type siteConfig struct {
	PIDFile  string
	ErrorLog string
	Listen   string
}

var signals = map[string]syscall.Signal{
	"stop":   unix.SIGTERM,
	"quit":   unix.SIGQUIT,
	"reopen": unix.SIGUSR1,
	"reload": unix.SIGHUP,
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nginx: invalid option: %v\n", err)
		os.Exit(1)
	}

	conf, err := parseConfig(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nginx: [emerg] %v\n", err)
		if opts.Test {
			fmt.Fprintf(os.Stderr, "nginx: configuration file %s test failed\n", opts.Config)
		}
		os.Exit(1)
	}

	switch {
	case opts.Test:
		if !opts.Quiet {
			fmt.Fprintf(os.Stderr, "nginx: configuration file %s test is successful\n", opts.Config)
		}
	case opts.Signal != "":
		err = sendSignal(conf, opts.Signal)
	case opts.Foreground:
		err = runMaster(opts.Config, conf)
	default:
		err = daemonize(opts.Config)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "nginx: [error] %v\n", err)
		os.Exit(1)
	}
}

// parseConfig reads pid, error_log and listen directives. The word
// "broken" anywhere in the file fails the parse, for tests.
func parseConfig(path string) (siteConfig, error) {
	conf := siteConfig{
		PIDFile:  "/run/nginx.pid",
		ErrorLog: filepath.Join(filepath.Dir(path), "error.log"),
		Listen:   "127.0.0.1:8080",
	}

	file, err := os.Open(path)
	if err != nil {
		return conf, fmt.Errorf("open() %q failed (%v)", path, err)
	}
	defer file.Close()

	depth := 0
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(text, "#") || text == "" {
			continue
		}
		if strings.Contains(text, "broken") {
			return conf, fmt.Errorf("unknown directive \"broken\" in %s:%d", path, line)
		}
		depth += strings.Count(text, "{") - strings.Count(text, "}")
		if depth < 0 {
			return conf, fmt.Errorf("unexpected \"}\" in %s:%d", path, line)
		}

		fields := strings.Fields(strings.TrimSuffix(text, ";"))
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "pid":
			conf.PIDFile = fields[1]
		case "error_log":
			conf.ErrorLog = fields[1]
		case "listen":
			conf.Listen = fields[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return conf, err
	}
	if depth != 0 {
		return conf, fmt.Errorf("unexpected end of file, expecting \"}\" in %s", path)
	}
	return conf, nil
}

func sendSignal(conf siteConfig, name string) error {
	record, err := pidfile.NewFileStore(nil).Read(conf.PIDFile)
	if err != nil {
		return err
	}
	if !record.Present {
		return fmt.Errorf("open() %q failed (2: No such file or directory)", conf.PIDFile)
	}
	if err := unix.Kill(record.PID, signals[name]); err != nil {
		return fmt.Errorf("kill(%d, %d) failed (%v)", record.PID, signals[name], err)
	}
	return nil
}

// daemonize re-executes this binary as a detached master and returns
// without waiting for it, like nginx with "daemon on".
func daemonize(configFile string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(self, "-c", configFile, "--foreground")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return cmd.Start()
}

type master struct {
	configFile string
	conf       siteConfig
	listener   net.Listener
	errorLog   *os.File
	mutex      sync.Mutex
}

func runMaster(configFile string, conf siteConfig) error {
	m := &master{configFile: configFile, conf: conf}
	if err := m.openLog(); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		m.logf("emerg", "bind() to %s failed (%v)", conf.Listen, err)
		return err
	}
	m.listener = listener
	go m.serve()

	if err := pidfile.Write(conf.PIDFile, os.Getpid()); err != nil {
		m.logf("emerg", "write pid file failed (%v)", err)
		return err
	}
	m.logf("notice", "start worker processes")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, unix.SIGTERM, unix.SIGINT, unix.SIGQUIT, unix.SIGHUP, unix.SIGUSR1)

	for s := range sig {
		switch s {
		case unix.SIGHUP:
			m.reload()
		case unix.SIGUSR1:
			m.logf("notice", "reopening logs")
			if err := m.openLog(); err != nil {
				fmt.Fprintf(os.Stderr, "reopen failed: %v\n", err)
			}
		case unix.SIGQUIT:
			m.logf("notice", "gracefully shutting down")
			m.shutdown(time.Second)
			return nil
		default:
			m.logf("notice", "exiting")
			m.shutdown(0)
			return nil
		}
	}
	return nil
}

func (m *master) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.0 204 No Content\r\n\r\n"))
		conn.Close()
	}
}

func (m *master) reload() {
	m.logf("notice", "signal process started")
	conf, err := parseConfig(m.configFile)
	if err != nil {
		m.logf("emerg", "%v", err)
		return
	}
	m.conf.ErrorLog = conf.ErrorLog
	m.logf("notice", "reconfiguring")
}

func (m *master) shutdown(drain time.Duration) {
	m.listener.Close()
	time.Sleep(drain)
	_ = os.Remove(m.conf.PIDFile)
	m.logf("notice", "exit")
}

func (m *master) openLog() error {
	file, err := os.OpenFile(m.conf.ErrorLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.errorLog != nil {
		m.errorLog.Close()
	}
	m.errorLog = file
	return nil
}

func (m *master) logf(level string, format string, args ...interface{}) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fmt.Fprintf(m.errorLog, "%s [%s] %d#0: %s\n",
		time.Now().Format("2006/01/02 15:04:05"), level, os.Getpid(), fmt.Sprintf(format, args...))
}

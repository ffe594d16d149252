package main

import (
	"fmt"
	"os"

	"github.com/core-tools/hsu-daemonctl/pkg/controller"

	flags "github.com/jessevdk/go-flags"
)

func addCommands(parser *flags.Parser, app *application) {
	commands := []struct {
		name  string
		short string
		long  string
		run   func(c *controller.ServerController) error
	}{
		{"start", "Start the server", "Checks the configuration, starts the server and waits for its pid to come alive.", start},
		{"stop", "Stop the server", "Stops the server and waits for its pid to exit. Succeeds when already stopped.", stop},
		{"restart", "Restart the server", "Checks the configuration, then stops and starts the server.", restart},
		{"graceful", "Reload the configuration", "Checks the configuration and reloads a running server, or starts it.", graceful},
		{"graceful-stop", "Stop after in-flight requests", "Asks the server to finish in-flight work and exit, then stops it.", gracefulStop},
		{"configtest", "Check configuration syntax", "Runs the server's own configuration test.", configTest},
		{"reopen-logs", "Reopen log files", "Makes a running server reopen its log files after rotation.", reopenLogs},
		{"status", "Show server status", "Exit code 0 when running, 3 when not running, 4 when the pid file is stale or corrupt.", status},
	}

	for _, cmd := range commands {
		_, err := parser.AddCommand(cmd.name, cmd.short, cmd.long, &controllerCommand{app: app, run: cmd.run})
		if err != nil {
			panic(err)
		}
	}
}

// controllerCommand adapts one controller operation to a go-flags command
type controllerCommand struct {
	app *application
	run func(c *controller.ServerController) error
}

func (cmd *controllerCommand) Execute(args []string) error {
	if len(args) > 0 {
		return &exitError{code: exitFailure, err: fmt.Errorf("unexpected arguments: %v", args)}
	}
	if err := cmd.app.init(); err != nil {
		return &exitError{code: exitFailure, err: err}
	}
	return cmd.run(cmd.app.controller)
}

func start(c *controller.ServerController) error {
	return c.Start()
}

func stop(c *controller.ServerController) error {
	return c.Stop()
}

func restart(c *controller.ServerController) error {
	return c.Restart()
}

func graceful(c *controller.ServerController) error {
	result, err := c.Graceful()
	if result != nil {
		for _, w := range result.Warnings {
			fmt.Fprintln(os.Stderr, "warning:", w)
		}
	}
	return err
}

func gracefulStop(c *controller.ServerController) error {
	return c.GracefulStop()
}

func configTest(c *controller.ServerController) error {
	if err := c.CheckConfigSyntax(); err != nil {
		return err
	}
	fmt.Printf("configuration file %s test is successful\n", c.Process().ConfigFile)
	return nil
}

func reopenLogs(c *controller.ServerController) error {
	return c.ReopenLogs()
}

func status(c *controller.ServerController) error {
	s, err := c.Status()
	fmt.Println(s)
	code := statusExitCode(s)
	if code == exitOK {
		return nil
	}
	return &exitError{code: code, err: err}
}

func statusExitCode(s controller.ProcessStatus) int {
	switch s.State {
	case controller.StateRunning, controller.StateRunningAsOtherUser:
		return exitOK
	case controller.StateNotRunning:
		return exitNotRunning
	default:
		return exitInvalid
	}
}

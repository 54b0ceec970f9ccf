package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
)

// Command describes one external program invocation.
type Command struct {
	// Name is the program to run, resolved through PATH unless absolute.
	Name string

	// Args are passed to the program verbatim.
	Args []string

	// Stream mirrors the program's output to the executor's terminal
	// writers in addition to capturing it. Used for long-running commands
	// (package installs, the vendor installer) whose progress the user
	// should see.
	Stream bool

	// ReadOnly marks queries that do not change the host. A dry run
	// still executes them so that later decisions see real answers.
	ReadOnly bool
}

// NewCommand is a convenience constructor for a captured command.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// NewQuery is NewCommand for a read-only command.
func NewQuery(name string, args ...string) Command {
	return Command{Name: name, Args: args, ReadOnly: true}
}

// String renders the command line for logs and diagnostics.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result is the observable outcome of a finished command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command Command
	Result  Result
}

// Error satisfies the error interface. Stderr is included, trimmed, since
// it usually carries the only useful diagnostic.
func (e *ExitError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command.String(), e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return msg
}

// IsExitError reports whether err is (or wraps) an ExitError.
func IsExitError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// Executor runs external commands.
//
// Run blocks until the command exits. It returns an *ExitError when the
// command exits non-zero, and another error when it cannot be started or
// the context is cancelled. The Result is populated in both the success
// and the *ExitError case.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OSExecutor runs commands on the host with os/exec.
type OSExecutor struct {
	// Stdout and Stderr receive streamed output for commands with
	// Stream set. They default to os.Stdout and os.Stderr.
	Stdout io.Writer
	Stderr io.Writer

	log logging.Logger
}

// NewOSExecutor creates an executor bound to the process's terminal.
func NewOSExecutor() *OSExecutor {
	return &OSExecutor{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		log:    logging.New("execx"),
	}
}

// Run executes cmd and waits for it to finish.
func (e *OSExecutor) Run(ctx context.Context, cmd Command) (Result, error) {
	// #nosec G204 — commands are assembled by the pipeline, not taken from a shell
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if cmd.Stream {
		c.Stdout = io.MultiWriter(&stdout, e.Stdout)
		c.Stderr = io.MultiWriter(&stderr, e.Stderr)
	}

	e.log.WithField("cmd", cmd.String()).Debug("Executing")
	start := time.Now()

	err := c.Run()
	res := Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	fields := logrus.Fields{
		"cmd":      cmd.String(),
		"duration": time.Since(start).Round(time.Millisecond),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			e.log.WithFields(fields).WithField("status", res.ExitCode).Debug("Command exited non-zero")
			return res, &ExitError{Command: cmd, Result: res}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		e.log.WithFields(fields).WithError(err).Debug("Command could not run")
		return res, fmt.Errorf("run %q: %w", cmd.String(), err)
	}

	e.log.WithFields(fields).Debug("Command completed successfully")
	return res, nil
}

// Package exectest provides an in-memory execx.Executor for tests.
package exectest

import (
	"context"
	"strings"

	"github.com/shinji-kodama/vbox-guest-additions/internal/execx"
)

// Response scripts the outcome of a command line.
type Response struct {
	ExitCode int
	Stdout   string
	Stderr   string

	// Err, when set, is returned as a start failure instead of an
	// exit status.
	Err error
}

// Recorder records every command it is asked to run and answers from
// scripted responses. Unscripted commands succeed with empty output.
// It is not safe for concurrent use.
type Recorder struct {
	// Calls holds every command in invocation order.
	Calls []execx.Command

	// OnRun, when set, is invoked before a command's response is
	// produced. Tests use it to inspect host state at call time.
	OnRun func(cmd execx.Command)

	responses map[string]Response
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{responses: make(map[string]Response)}
}

// On scripts the response for the exact command line, e.g.
// "dnf list installed gcc".
func (r *Recorder) On(cmdline string, resp Response) *Recorder {
	r.responses[cmdline] = resp
	return r
}

// Fail scripts a non-zero exit for the command line.
func (r *Recorder) Fail(cmdline string) *Recorder {
	return r.On(cmdline, Response{ExitCode: 1})
}

// Run implements execx.Executor.
func (r *Recorder) Run(_ context.Context, cmd execx.Command) (execx.Result, error) {
	r.Calls = append(r.Calls, cmd)
	if r.OnRun != nil {
		r.OnRun(cmd)
	}

	resp, ok := r.responses[cmd.String()]
	if !ok {
		return execx.Result{}, nil
	}
	if resp.Err != nil {
		return execx.Result{}, resp.Err
	}

	res := execx.Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout, Stderr: resp.Stderr}
	if resp.ExitCode != 0 {
		return res, &execx.ExitError{Command: cmd, Result: res}
	}
	return res, nil
}

// Lines returns the recorded command lines.
func (r *Recorder) Lines() []string {
	lines := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		lines = append(lines, c.String())
	}
	return lines
}

// Matching returns the recorded command lines that start with prefix.
func (r *Recorder) Matching(prefix string) []string {
	var out []string
	for _, line := range r.Lines() {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

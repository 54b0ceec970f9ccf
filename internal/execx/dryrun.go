package execx

import (
	"context"

	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
)

// DryRun forwards read-only queries to another executor and records every
// other command without running it. Recorded commands report success with
// empty output.
type DryRun struct {
	next    Executor
	planned []Command
	log     logging.Logger
}

// NewDryRun creates a DryRun that answers queries through next.
func NewDryRun(next Executor) *DryRun {
	return &DryRun{next: next, log: logging.New("execx")}
}

// Run implements Executor.
func (d *DryRun) Run(ctx context.Context, cmd Command) (Result, error) {
	if cmd.ReadOnly {
		return d.next.Run(ctx, cmd)
	}
	d.planned = append(d.planned, cmd)
	d.log.WithField("cmd", cmd.String()).Info("Would run")
	return Result{}, nil
}

// Planned returns the command lines that were recorded instead of run.
func (d *DryRun) Planned() []string {
	lines := make([]string, 0, len(d.planned))
	for _, c := range d.planned {
		lines = append(lines, c.String())
	}
	return lines
}

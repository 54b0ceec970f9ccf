package provision

import (
	"context"
	"errors"
	"time"

	"github.com/shinji-kodama/vbox-guest-additions/internal/logging"
	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
)

// StepFunc performs one step. It returns StatusOK or StatusSkipped on
// success; the status is ignored when an error is returned.
type StepFunc func(ctx context.Context) (model.StepStatus, error)

// Step is one link of the pipeline.
type Step struct {
	// Name identifies the step in logs, errors and the run report.
	Name string

	// Description says what the step does, for the plan command.
	Description string

	// Kind classifies failures unless Run returns a *model.StepError itself.
	Kind model.ErrorKind

	// Run performs the step.
	Run StepFunc
}

// Pipeline runs steps in order and stops at the first failure.
type Pipeline struct {
	steps []Step
	log   logging.Logger
	now   func() time.Time
}

// NewPipeline creates a Pipeline over steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps, log: logging.New("pipeline"), now: time.Now}
}

// Steps returns the pipeline's steps in execution order.
func (p *Pipeline) Steps() []Step {
	return p.steps
}

// Run executes the steps. It returns the result of every step that was
// attempted and, on failure, a *model.StepError for the failed step.
func (p *Pipeline) Run(ctx context.Context) ([]model.StepResult, error) {
	results := make([]model.StepResult, 0, len(p.steps))

	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return results, model.NewStepError(step.Name, model.KindCommand, err)
		}

		log := p.log.WithField("step", step.Name)
		log.Debugf("Starting step %d/%d", i+1, len(p.steps))

		start := p.now()
		status, err := step.Run(ctx)
		result := model.StepResult{Name: step.Name, Duration: p.now().Sub(start)}

		if err != nil {
			var stepErr *model.StepError
			if !errors.As(err, &stepErr) {
				stepErr = model.NewStepError(step.Name, step.Kind, err)
			}
			result.Status = model.StatusFailed
			result.Error = stepErr.Error()
			results = append(results, result)

			log.WithError(err).Error("Step failed")
			return results, stepErr
		}

		if !status.IsValid() || status == model.StatusFailed {
			status = model.StatusOK
		}
		result.Status = status
		results = append(results, result)
		log.WithField("status", status).Debug("Step finished")
	}

	return results, nil
}

package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/vbox-guest-additions/internal/model"
)

func okStep(name string, calls *[]string) Step {
	return Step{Name: name, Kind: model.KindCommand, Run: func(context.Context) (model.StepStatus, error) {
		*calls = append(*calls, name)
		return model.StatusOK, nil
	}}
}

// TestPipeline_ShortCircuits verifies that nothing after the first failing
// step runs and that the failure carries the step's kind.
func TestPipeline_ShortCircuits(t *testing.T) {
	var calls []string
	boom := errors.New("boom")

	p := NewPipeline(
		okStep("first", &calls),
		Step{Name: "second", Kind: model.KindMount, Run: func(context.Context) (model.StepStatus, error) {
			calls = append(calls, "second")
			return "", boom
		}},
		okStep("third", &calls),
	)

	results, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"first", "second"}, calls)

	var stepErr *model.StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "second", stepErr.Step)
	assert.Equal(t, model.KindMount, stepErr.Kind)
	assert.True(t, errors.Is(err, boom))

	require.Len(t, results, 2)
	assert.Equal(t, model.StatusOK, results[0].Status)
	assert.Equal(t, model.StatusFailed, results[1].Status)
	assert.Contains(t, results[1].Error, "boom")
}

// TestPipeline_KeepsStepError checks that a step can pick a more specific
// kind than its default.
func TestPipeline_KeepsStepError(t *testing.T) {
	p := NewPipeline(Step{Name: "run-installer", Kind: model.KindCommand, Run: func(context.Context) (model.StepStatus, error) {
		return "", model.NewStepError("run-installer", model.KindInstallerMissing, errors.New("absent"))
	}})

	_, err := p.Run(context.Background())
	assert.Equal(t, model.KindInstallerMissing, model.KindOf(err))
}

func TestPipeline_Statuses(t *testing.T) {
	p := NewPipeline(
		Step{Name: "skip", Run: func(context.Context) (model.StepStatus, error) { return model.StatusSkipped, nil }},
		Step{Name: "unset", Run: func(context.Context) (model.StepStatus, error) { return "", nil }},
	)

	results, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkipped, results[0].Status)
	assert.Equal(t, model.StatusOK, results[1].Status)
}

func TestPipeline_Cancelled(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewPipeline(okStep("first", &calls)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Empty(t, calls)
}

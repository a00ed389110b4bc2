package volume

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Step is one side effect of an operation
type Step struct {
	Name string
	Do   func(ctx context.Context) error

	// Undo reverses Do. Nil means the step cannot be compensated.
	Undo func(ctx context.Context) error

	// UndoOnFailure runs Undo even when Do itself failed, for steps that
	// can leave partial state behind
	UndoOnFailure bool

	// BestEffort steps record their failure and let the plan continue
	BestEffort bool
}

// Plan runs steps in order. When a step fails and rollback is enabled, the
// compensations of the steps that ran are executed in reverse order.
type Plan struct {
	operation string
	rollback  bool
	logger    zerolog.Logger
	steps     []Step
	records   []types.StepRecord
}

// NewPlan creates an empty plan for an operation
func NewPlan(operation string, rollback bool, logger zerolog.Logger) *Plan {
	return &Plan{operation: operation, rollback: rollback, logger: logger}
}

// Add appends a step
func (p *Plan) Add(step Step) *Plan {
	p.steps = append(p.steps, step)
	return p
}

// Records returns the outcome of every step and compensation that ran
func (p *Plan) Records() []types.StepRecord {
	return append([]types.StepRecord(nil), p.records...)
}

// Run executes the plan. The returned error is always the error of the
// failing step; compensation failures are only logged and recorded.
func (p *Plan) Run(ctx context.Context) error {
	var ran []Step

	for _, step := range p.steps {
		err := step.Do(ctx)
		if err == nil {
			p.record(step.Name, types.StepDone, nil)
			ran = append(ran, step)
			continue
		}

		p.record(step.Name, types.StepFailed, err)
		if step.BestEffort {
			p.logger.Warn().Err(err).Str("step", step.Name).Msg("best-effort step failed, continuing")
			continue
		}

		p.logger.Error().Err(err).Str("step", step.Name).Msg("step failed")
		if step.UndoOnFailure {
			ran = append(ran, step)
		}
		if p.rollback {
			p.compensate(ctx, ran)
		} else if len(ran) > 0 {
			p.logger.Warn().Int("steps", len(ran)).Msg("rollback disabled, partial state left on disk")
		}
		return err
	}
	return nil
}

func (p *Plan) compensate(ctx context.Context, ran []Step) {
	// Compensations must run even if the operation was cancelled
	ctx = context.WithoutCancel(ctx)

	for i := len(ran) - 1; i >= 0; i-- {
		step := ran[i]
		if step.Undo == nil {
			continue
		}
		name := "undo " + step.Name
		if err := step.Undo(ctx); err != nil {
			p.logger.Error().Err(err).Str("step", name).Msg("compensation failed")
			p.record(name, types.StepCompensationFailed, err)
			metrics.CompensationsTotal.WithLabelValues(p.operation, metrics.ResultFailure).Inc()
			continue
		}
		p.logger.Info().Str("step", name).Msg("compensation done")
		p.record(name, types.StepCompensated, nil)
		metrics.CompensationsTotal.WithLabelValues(p.operation, metrics.ResultSuccess).Inc()
	}
}

func (p *Plan) record(name string, status types.StepStatus, err error) {
	rec := types.StepRecord{Name: name, Status: status}
	if err != nil {
		rec.Error = err.Error()
	}
	p.records = append(p.records, rec)
}

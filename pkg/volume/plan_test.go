package volume

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func recorder(trace *[]string, name string, err error) func(context.Context) error {
	return func(context.Context) error {
		*trace = append(*trace, name)
		return err
	}
}

func TestPlan_Success(t *testing.T) {
	var trace []string
	plan := NewPlan("op", true, zerolog.Nop()).
		Add(Step{Name: "a", Do: recorder(&trace, "a", nil), Undo: recorder(&trace, "undo a", nil)}).
		Add(Step{Name: "b", Do: recorder(&trace, "b", nil)})

	require.NoError(t, plan.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, trace)
	assert.Equal(t, []types.StepRecord{
		{Name: "a", Status: types.StepDone},
		{Name: "b", Status: types.StepDone},
	}, plan.Records())
}

func TestPlan_CompensatesInReverse(t *testing.T) {
	var trace []string
	boom := errors.New("boom")
	plan := NewPlan("op", true, zerolog.Nop()).
		Add(Step{Name: "a", Do: recorder(&trace, "a", nil), Undo: recorder(&trace, "undo a", nil)}).
		Add(Step{Name: "b", Do: recorder(&trace, "b", nil), Undo: recorder(&trace, "undo b", nil)}).
		Add(Step{Name: "c", Do: recorder(&trace, "c", boom), Undo: recorder(&trace, "undo c", nil)}).
		Add(Step{Name: "d", Do: recorder(&trace, "d", nil)})

	err := plan.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b", "c", "undo b", "undo a"}, trace)
}

func TestPlan_UndoOnFailure(t *testing.T) {
	var trace []string
	plan := NewPlan("op", true, zerolog.Nop()).
		Add(Step{Name: "a", Do: recorder(&trace, "a", errors.New("partial")), Undo: recorder(&trace, "undo a", nil), UndoOnFailure: true})

	require.Error(t, plan.Run(context.Background()))
	assert.Equal(t, []string{"a", "undo a"}, trace)
}

func TestPlan_CompensationFailureKeepsOriginalError(t *testing.T) {
	boom := errors.New("boom")
	plan := NewPlan("op", true, zerolog.Nop()).
		Add(Step{Name: "a", Do: func(context.Context) error { return nil }, Undo: func(context.Context) error { return errors.New("stuck") }}).
		Add(Step{Name: "b", Do: func(context.Context) error { return boom }})

	err := plan.Run(context.Background())
	assert.Same(t, boom, err)

	records := plan.Records()
	require.Len(t, records, 3)
	assert.Equal(t, types.StepRecord{Name: "undo a", Status: types.StepCompensationFailed, Error: "stuck"}, records[2])
}

func TestPlan_RollbackDisabled(t *testing.T) {
	var trace []string
	plan := NewPlan("op", false, zerolog.Nop()).
		Add(Step{Name: "a", Do: recorder(&trace, "a", nil), Undo: recorder(&trace, "undo a", nil)}).
		Add(Step{Name: "b", Do: recorder(&trace, "b", errors.New("boom"))})

	require.Error(t, plan.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, trace)
}

func TestPlan_BestEffort(t *testing.T) {
	var trace []string
	plan := NewPlan("op", true, zerolog.Nop()).
		Add(Step{Name: "a", Do: recorder(&trace, "a", errors.New("ignored")), BestEffort: true}).
		Add(Step{Name: "b", Do: recorder(&trace, "b", nil)})

	require.NoError(t, plan.Run(context.Background()))
	assert.Equal(t, []string{"a", "b"}, trace)
	assert.Equal(t, types.StepFailed, plan.Records()[0].Status)
	assert.Equal(t, "ignored", plan.Records()[0].Error)
}

func TestPlan_CompensatesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var undoErr error
	plan := NewPlan("op", true, zerolog.Nop()).
		Add(Step{
			Name: "a",
			Do:   func(context.Context) error { return nil },
			Undo: func(ctx context.Context) error { undoErr = ctx.Err(); return nil },
		}).
		Add(Step{Name: "b", Do: func(ctx context.Context) error { cancel(); return ctx.Err() }})

	assert.ErrorIs(t, plan.Run(ctx), context.Canceled)
	assert.NoError(t, undoErr)
}

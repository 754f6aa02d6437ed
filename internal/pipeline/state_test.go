package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkVisitsStagesInOrder(t *testing.T) {
	var seen []Stage
	failCalled := false

	state, err := Walk(context.Background(), &Payload{JobID: "j1"},
		func(_ context.Context, s Stage, _ *Payload) error {
			seen = append(seen, s)
			return nil
		},
		func(context.Context, *Payload) error {
			failCalled = true
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, StateComplete, state)
	assert.Equal(t, Stages, seen)
	assert.False(t, failCalled)
}

func TestWalkSendsEveryStageErrorToFailHandler(t *testing.T) {
	for _, failing := range Stages {
		t.Run(string(failing), func(t *testing.T) {
			boom := errors.New("boom")
			var seen []Stage
			var failed *Payload

			state, err := Walk(context.Background(), &Payload{JobID: "j1"},
				func(_ context.Context, s Stage, _ *Payload) error {
					seen = append(seen, s)
					if s == failing {
						return boom
					}
					return nil
				},
				func(_ context.Context, p *Payload) error {
					failed = p
					return nil
				})

			assert.Equal(t, StateFailed, state)
			assert.ErrorIs(t, err, boom)
			assert.Equal(t, failing, seen[len(seen)-1])
			require.NotNil(t, failed)
			assert.Equal(t, failing, failed.FailedStage)
			assert.Equal(t, "boom", failed.Error)
		})
	}
}

func TestWalkReportsFailHandlerError(t *testing.T) {
	state, err := Walk(context.Background(), &Payload{},
		func(context.Context, Stage, *Payload) error { return errors.New("stage") },
		func(context.Context, *Payload) error { return errors.New("store down") })

	assert.Equal(t, StateFailed, state)
	assert.ErrorContains(t, err, "store down")
	assert.ErrorContains(t, err, "stage")
}

func TestNext(t *testing.T) {
	next, err := Next(StageChunk, nil)
	require.NoError(t, err)
	assert.Equal(t, StageVectorIngest, next)

	next, err = Next(StageChunk, errors.New("x"))
	require.NoError(t, err)
	assert.Equal(t, StageFailHandler, next)

	next, err = Next(StageFailHandler, errors.New("x"))
	require.NoError(t, err)
	assert.Equal(t, StateFailed, next)

	_, err = Next(StateComplete, nil)
	assert.Error(t, err)

	_, err = Next(Stage("Bogus"), nil)
	assert.Error(t, err)
}

func TestTimeoutsFor(t *testing.T) {
	tt := DefaultTimeouts()
	assert.Equal(t, tt.Extract, tt.For(StageExtractText))
	assert.Equal(t, tt.VectorIngest, tt.For(StageVectorIngest))
	assert.Equal(t, tt.Stage, tt.For(StageNormalize))
}

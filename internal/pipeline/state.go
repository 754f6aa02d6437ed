// Package pipeline is the ingestion state machine: the stages that turn one
// raw upload into chunks in the vector table, the failure branch shared by
// all of them, and the dispatcher that starts executions.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

type Stage string

const (
	StageMarkRunning    Stage = "MarkRunning"
	StageExtractText    Stage = "ExtractText"
	StageNormalize      Stage = "Normalize"
	StageQualityChecks  Stage = "QualityChecks"
	StageChunk          Stage = "Chunk"
	StageVectorIngest   Stage = "VectorIngest"
	StagePersistResults Stage = "PersistResults"
	StageFailHandler    Stage = "FailHandler"

	StateComplete Stage = "COMPLETE"
	StateFailed   Stage = "FAILED"

	// StageDispatch marks failures that happen before an execution starts.
	StageDispatch Stage = "Dispatch"
)

// Stages lists the happy path in execution order.
var Stages = []Stage{
	StageMarkRunning,
	StageExtractText,
	StageNormalize,
	StageQualityChecks,
	StageChunk,
	StageVectorIngest,
	StagePersistResults,
}

var transitions = map[Stage]Stage{
	StageMarkRunning:    StageExtractText,
	StageExtractText:    StageNormalize,
	StageNormalize:      StageQualityChecks,
	StageQualityChecks:  StageChunk,
	StageChunk:          StageVectorIngest,
	StageVectorIngest:   StagePersistResults,
	StagePersistResults: StateComplete,
	StageFailHandler:    StateFailed,
}

func (s Stage) Terminal() bool { return s == StateComplete || s == StateFailed }

// Next returns the state after s. Any error out of a non-terminal stage
// leads to the FailHandler.
func Next(s Stage, err error) (Stage, error) {
	if s.Terminal() {
		return s, fmt.Errorf("state %s is terminal", s)
	}
	to, ok := transitions[s]
	if !ok {
		return "", fmt.Errorf("unknown state %q", s)
	}
	if err != nil && s != StageFailHandler {
		return StageFailHandler, nil
	}
	return to, nil
}

// StepFunc runs one happy-path stage against the payload.
type StepFunc func(ctx context.Context, stage Stage, p *Payload) error

// FailFunc runs the failure branch. p.FailedStage and p.Error are set.
type FailFunc func(ctx context.Context, p *Payload) error

// Walk drives one execution from MarkRunning to a terminal state. It
// returns the terminal state and the error that sent the execution to the
// FailHandler, if any.
func Walk(ctx context.Context, p *Payload, step StepFunc, fail FailFunc) (Stage, error) {
	cur := StageMarkRunning
	var stageErr error
	for !cur.Terminal() {
		var err error
		if cur == StageFailHandler {
			if ferr := fail(ctx, p); ferr != nil {
				return StateFailed, errors.Join(stageErr, fmt.Errorf("fail handler: %w", ferr))
			}
		} else if err = step(ctx, cur, p); err != nil {
			stageErr = err
			p.FailedStage = cur
			p.Error = err.Error()
		}
		next, terr := Next(cur, err)
		if terr != nil {
			return cur, terr
		}
		cur = next
	}
	return cur, stageErr
}

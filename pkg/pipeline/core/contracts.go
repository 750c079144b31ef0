package core

import (
	"context"
	"fmt"
	"time"
)

// Status summarizes how a stage finished.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoChanges Status = "no_changes"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome is the typed result a stage hands to the next one.
type Outcome struct {
	Status Status
	Detail string
}

// Stage is one independently invocable step of a pipeline run.
type Stage interface {
	Name() string
	Run(ctx context.Context) (Outcome, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context) (Outcome, error)
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context) (Outcome, error) {
	return s.Fn(ctx)
}

// StageReport records one executed stage.
type StageReport struct {
	Stage    string
	Outcome  Outcome
	Duration time.Duration
}

// StageError wraps the failure of a named stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil || e.Err == nil {
		return "stage failed"
	}
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Sequence runs stages in order and stops at the first failure.
//
// next is consulted after each successful stage and may return extra stages to run
// before the remaining ones (e.g. to branch on a NoChanges outcome). It may be nil.
func Sequence(
	ctx context.Context,
	stages []Stage,
	next func(done StageReport) []Stage,
	onDone func(StageReport),
) ([]StageReport, error) {
	queue := append([]Stage(nil), stages...)
	var reports []StageReport
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		st := queue[0]
		queue = queue[1:]

		start := time.Now()
		out, err := st.Run(ctx)
		rep := StageReport{Stage: st.Name(), Outcome: out, Duration: time.Since(start)}
		if err != nil {
			rep.Outcome.Status = StatusFailed
			rep.Outcome.Detail = err.Error()
			reports = append(reports, rep)
			if onDone != nil {
				onDone(rep)
			}
			return reports, &StageError{Stage: st.Name(), Err: err}
		}
		reports = append(reports, rep)
		if onDone != nil {
			onDone(rep)
		}
		if next != nil {
			if extra := next(rep); len(extra) > 0 {
				queue = append(append([]Stage(nil), extra...), queue...)
			}
		}
	}
	return reports, nil
}

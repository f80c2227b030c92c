// Package preprocess decides when a workflow's preprocessing tracks have
// converged and the pipeline may build segments.
package preprocess

import (
	"context"
	"strings"

	"docstream/internal/workflow"
)

// Status is the aggregate preprocess view the orchestrator polls.
type Status struct {
	AllCompleted bool                         `json:"all_completed"`
	AnyFailed    bool                         `json:"any_failed"`
	AnalysisBusy bool                         `json:"analysis_busy"`
	Steps        map[string]workflow.StepState `json:"status"`
}

// Evaluate computes the aggregate from a step map. AllCompleted holds when
// every preprocessing track is DONE or SKIPPED; AnyFailed when any track
// FAILED. AnalysisBusy is reported only once preprocessing completed cleanly
// and some segment-analyzer step is still RUNNING.
func Evaluate(steps map[string]workflow.Step) Status {
	st := Status{AllCompleted: true, Steps: map[string]workflow.StepState{}}

	for _, track := range workflow.PreprocessTracks {
		step, ok := steps[track]
		if !ok {
			step = workflow.Step{State: workflow.StepSkipped}
		}
		st.Steps[track] = step.State
		switch step.State {
		case workflow.StepDone, workflow.StepSkipped:
		case workflow.StepFailed:
			st.AnyFailed = true
			st.AllCompleted = false
		default:
			st.AllCompleted = false
		}
	}

	if st.AllCompleted && !st.AnyFailed {
		for name, step := range steps {
			if strings.HasPrefix(name, "SEGMENT_ANALYZER[") && step.State == workflow.StepRunning {
				st.AnalysisBusy = true
				break
			}
		}
	}
	return st
}

// Checker reads the step map from the state store and evaluates it.
type Checker struct {
	store workflow.Store
}

// NewChecker creates a Checker.
func NewChecker(store workflow.Store) *Checker {
	return &Checker{store: store}
}

// Check returns the aggregate preprocess status for the workflow.
func (c *Checker) Check(ctx context.Context, workflowID string) (Status, error) {
	steps, err := c.store.GetSteps(ctx, workflowID)
	if err != nil {
		return Status{}, err
	}
	return Evaluate(steps), nil
}

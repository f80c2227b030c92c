package preprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"docstream/internal/workflow"
)

func TestEvaluate_AllSkippedCompletes(t *testing.T) {
	t.Parallel()
	st := Evaluate(map[string]workflow.Step{
		workflow.StepOCR:        {State: workflow.StepSkipped},
		workflow.StepBDA:        {State: workflow.StepSkipped},
		workflow.StepTranscribe: {State: workflow.StepSkipped},
		workflow.StepWebcrawler: {State: workflow.StepSkipped},
	})
	assert.True(t, st.AllCompleted)
	assert.False(t, st.AnyFailed)
	assert.False(t, st.AnalysisBusy)
}

func TestEvaluate_PendingTrackBlocks(t *testing.T) {
	t.Parallel()
	st := Evaluate(map[string]workflow.Step{
		workflow.StepOCR:        {State: workflow.StepPending},
		workflow.StepBDA:        {State: workflow.StepSkipped},
		workflow.StepTranscribe: {State: workflow.StepSkipped},
		workflow.StepWebcrawler: {State: workflow.StepSkipped},
	})
	assert.False(t, st.AllCompleted)
	assert.False(t, st.AnyFailed)
}

func TestEvaluate_FailedTrack(t *testing.T) {
	t.Parallel()
	st := Evaluate(map[string]workflow.Step{
		workflow.StepOCR:        {State: workflow.StepFailed, Error: "timeout"},
		workflow.StepBDA:        {State: workflow.StepDone},
		workflow.StepTranscribe: {State: workflow.StepSkipped},
		workflow.StepWebcrawler: {State: workflow.StepSkipped},
	})
	assert.True(t, st.AnyFailed)
	assert.False(t, st.AllCompleted)
}

func TestEvaluate_AnalysisBusyOnlyAfterCompletion(t *testing.T) {
	t.Parallel()
	steps := map[string]workflow.Step{
		workflow.StepOCR:                  {State: workflow.StepDone},
		workflow.StepBDA:                  {State: workflow.StepSkipped},
		workflow.StepTranscribe:           {State: workflow.StepSkipped},
		workflow.StepWebcrawler:           {State: workflow.StepSkipped},
		workflow.SegmentAnalyzerStep(0):   {State: workflow.StepRunning},
	}
	st := Evaluate(steps)
	assert.True(t, st.AllCompleted)
	assert.True(t, st.AnalysisBusy)

	// A still-pending track suppresses the busy check entirely.
	steps[workflow.StepOCR] = workflow.Step{State: workflow.StepRunning}
	st = Evaluate(steps)
	assert.False(t, st.AllCompleted)
	assert.False(t, st.AnalysisBusy)
}

func TestEvaluate_MissingTracksCountAsSkipped(t *testing.T) {
	t.Parallel()
	st := Evaluate(map[string]workflow.Step{})
	assert.True(t, st.AllCompleted)
	assert.Equal(t, workflow.StepSkipped, st.Steps[workflow.StepOCR])
}

package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()
	legal := []struct{ from, to StepState }{
		{StepPending, StepRunning},
		{StepPending, StepSkipped},
		{StepPending, StepFailed},
		{StepRunning, StepDone},
		{StepRunning, StepSkipped},
		{StepRunning, StepFailed},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	illegal := []struct{ from, to StepState }{
		{StepPending, StepDone},
		{StepDone, StepRunning},
		{StepSkipped, StepRunning},
		{StepFailed, StepRunning},
		{StepDone, StepFailed},
		{StepRunning, StepPending},
		{StepRunning, StepRunning},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	assert.True(t, StepDone.Terminal())
	assert.True(t, StepSkipped.Terminal())
	assert.True(t, StepFailed.Terminal())
	assert.False(t, StepPending.Terminal())
	assert.False(t, StepRunning.Terminal())
}

func TestIndexedStepNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "SEGMENT_ANALYZER[0]", SegmentAnalyzerStep(0))
	assert.Equal(t, "SEGMENT_ANALYZER[12]", SegmentAnalyzerStep(12))
	assert.Equal(t, "FINALIZER[3]", FinalizerStep(3))
}

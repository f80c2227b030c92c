package finalizer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/queue"
	"docstream/internal/workflow"
)

func testWF() *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: "wf1",
		DocumentID: "d1",
		ProjectID:  "p1",
		FileURI:    "store://uploads/projects/p1/documents/d1/intro.pdf",
		FileName:   "intro.pdf",
		FileType:   "application/pdf",
	}
}

func drainOne(t *testing.T, bus *queue.MemoryBus, topic string) ingest.WriteMessage {
	t.Helper()
	var out []ingest.WriteMessage
	require.NoError(t, bus.Drain(context.Background(), topic, func(ctx context.Context, msg queue.Message) error {
		var wm ingest.WriteMessage
		if err := json.Unmarshal(msg.Value, &wm); err != nil {
			return err
		}
		out = append(out, wm)
		return nil
	}))
	require.Len(t, out, 1)
	return out[0]
}

func TestFinalize_ComposesBlocksInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	bus := queue.NewMemoryBus()
	f := New(objects, bus, "writes")

	seg := &workflow.Segment{
		WorkflowID:     "wf1",
		SegmentID:      "s1",
		SegmentIndex:   1,
		ParsedText:     "page text",
		BDAContent:     "bda summary",
		AnalysisResult: "agent report",
		AnalysisSteps:  []workflow.AnalysisStep{{Step: 1, Tool: "analyze_image"}},
	}
	require.NoError(t, f.Finalize(ctx, testWF(), seg))

	wm := drainOne(t, bus, "writes")
	assert.Equal(t,
		"## BDA Analysis\nbda summary\n\n## PDF Text\npage text\n\n## AI Analysis\nagent report",
		wm.ContentCombined)
	assert.Equal(t, "completed", wm.Status)
	assert.Equal(t, 1, wm.SegmentIndex)
	assert.Equal(t, "wf1", wm.WorkflowID)

	// Tool trail carries the analysis steps with timestamps.
	img, ok := wm.Tools["image_analysis"].([]any)
	require.True(t, ok)
	require.Len(t, img, 1)
	entry := img[0].(map[string]any)
	assert.NotEmpty(t, entry["timestamp"])
}

func TestFinalize_SkipsEmptyBlocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bus := queue.NewMemoryBus()
	f := New(objectstore.NewMemoryStore("uploads"), bus, "writes")

	seg := &workflow.Segment{WorkflowID: "wf1", SegmentID: "s1", ParsedText: "only text"}
	require.NoError(t, f.Finalize(ctx, testWF(), seg))

	wm := drainOne(t, bus, "writes")
	assert.Equal(t, "## PDF Text\nonly text", wm.ContentCombined)
}

func TestFinalize_WritesSegmentArtifact(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	f := New(objects, queue.NewMemoryBus(), "writes")

	seg := &workflow.Segment{WorkflowID: "wf1", SegmentID: "s1", SegmentIndex: 3, ParsedText: "x"}
	require.NoError(t, f.Finalize(ctx, testWF(), seg))

	data, err := objects.GetBytes(ctx, "projects/p1/documents/d1/analysis/segment_0003.json")
	require.NoError(t, err)
	var artifact map[string]any
	require.NoError(t, json.Unmarshal(data, &artifact))
	assert.Equal(t, float64(3), artifact["segment_index"])
	assert.Equal(t, "x", artifact["format_parser"])
}

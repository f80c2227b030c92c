package segments

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstream/internal/formatparser"
	"docstream/internal/objectstore"
	"docstream/internal/statestore"
	"docstream/internal/workflow"
)

func testWorkflow(fileType string) *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: "wf1",
		DocumentID: "d1",
		ProjectID:  "p1",
		FileURI:    "store://uploads/projects/p1/documents/d1/file.bin",
		FileName:   "file.bin",
		FileType:   fileType,
	}
}

func TestBuild_PagesBecomeSegments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemory()
	b := New(objectstore.NewMemoryStore("uploads"), store)

	parsed := &formatparser.Result{Pages: []formatparser.Page{
		{PageIndex: 0, Text: "alpha"},
		{PageIndex: 1, Text: "beta", ImageURI: "store://uploads/x/slide_0001.png"},
		{PageIndex: 2, Text: "gamma"},
	}}

	segs, err := b.Build(ctx, testWorkflow("application/pdf"), parsed)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	for i, seg := range segs {
		assert.Equal(t, i, seg.SegmentIndex)
		assert.NotEmpty(t, seg.SegmentID)
	}
	assert.Equal(t, "beta", segs[1].ParsedText)
	assert.Equal(t, "store://uploads/x/slide_0001.png", segs[1].ImageURI)

	persisted, err := store.ListSegments(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, persisted, 3)
}

func TestBuild_ChunksBecomeSegments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	b := New(objectstore.NewMemoryStore("uploads"), statestore.NewMemory())

	parsed := &formatparser.Result{Chunks: []formatparser.Chunk{
		{ChunkIndex: 0, Text: "## Sheet: Sheet1"},
		{ChunkIndex: 1, Text: "## Sheet: Sheet2"},
	}}
	segs, err := b.Build(ctx, testWorkflow("text/csv"), parsed)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Empty(t, segs[0].ImageURI)
}

func TestBuild_BareImageSingleSegment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	wf := testWorkflow("image/png")
	b := New(objectstore.NewMemoryStore("uploads"), statestore.NewMemory())

	segs, err := b.Build(ctx, wf, nil)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, 0, segs[0].SegmentIndex)
	assert.Equal(t, wf.FileURI, segs[0].ImageURI)
}

func TestBuild_MergesBDAAndOCR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	require.NoError(t, objects.PutBytes(ctx,
		"projects/p1/documents/d1/"+BDAResultKey,
		[]byte(`{"pages":[{"page_index":0,"content":"bda zero"},{"page_index":1,"content":"bda one"}]}`), ""))
	require.NoError(t, objects.PutBytes(ctx,
		"projects/p1/documents/d1/"+OCRResultKey,
		[]byte(`{"pages":[{"page_index":0,"text":"ocr text","image_uri":"store://uploads/ocr/p0.png"}]}`), ""))

	b := New(objects, statestore.NewMemory())
	parsed := &formatparser.Result{Pages: []formatparser.Page{
		{PageIndex: 0, Text: ""},
		{PageIndex: 1, Text: "parsed one"},
	}}

	segs, err := b.Build(ctx, testWorkflow("application/pdf"), parsed)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	// Page 0 had no parser text: OCR fills text and image.
	assert.Equal(t, "ocr text", segs[0].ParsedText)
	assert.Equal(t, "store://uploads/ocr/p0.png", segs[0].ImageURI)
	assert.Equal(t, "bda zero", segs[0].BDAContent)
	assert.Equal(t, "parsed one", segs[1].ParsedText)
	assert.Equal(t, "bda one", segs[1].BDAContent)
}

func TestBuild_NothingYieldsNoSegments(t *testing.T) {
	t.Parallel()
	b := New(objectstore.NewMemoryStore("uploads"), statestore.NewMemory())
	segs, err := b.Build(context.Background(), testWorkflow("application/octet-stream"), nil)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

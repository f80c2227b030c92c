package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstream/internal/config"
	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/queue"
	"docstream/internal/statestore"
	"docstream/internal/workflow"
)

var testTopics = Topics{
	OCR:        "t.ocr",
	BDA:        "t.bda",
	Transcribe: "t.transcribe",
	Webcrawler: "t.webcrawler",
	Workflow:   "t.workflow",
}

func uploadEvent(t *testing.T, bucket, key string) queue.Message {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"detail-type": "Object Created",
		"detail": map[string]any{
			"bucket": map[string]string{"name": bucket},
			"object": map[string]string{"key": key},
		},
	})
	require.NoError(t, err)
	return queue.Message{Topic: "uploads", Value: body}
}

func defaults() config.ProjectDefaults {
	return config.ProjectDefaults{Language: "en", UseOCR: true, OCRModel: "paddleocr-vl"}
}

func collect(t *testing.T, bus *queue.MemoryBus, topic string) []ingest.TrackMessage {
	t.Helper()
	var out []ingest.TrackMessage
	err := bus.Drain(context.Background(), topic, func(ctx context.Context, msg queue.Message) error {
		var m ingest.TrackMessage
		if err := json.Unmarshal(msg.Value, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestHandle_PDFWithOCR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemory()
	objects := objectstore.NewMemoryStore("uploads")
	bus := queue.NewMemoryBus()
	r := New(store, objects, bus, nil, nil, testTopics, defaults())

	msg := uploadEvent(t, "uploads", "projects/p1/documents/d1/intro.pdf")
	require.NoError(t, r.Handle(ctx, msg))

	wfs, err := store.ListWorkflows(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	wf := wfs[0]
	assert.Equal(t, "application/pdf", wf.FileType)
	assert.Equal(t, "p1", wf.ProjectID)
	assert.Equal(t, workflow.StatusCreated, wf.Status)
	assert.True(t, wf.Settings.UseOCR)

	ocr := collect(t, bus, testTopics.OCR)
	require.Len(t, ocr, 1)
	assert.Equal(t, "paddleocr-vl", ocr[0].OCRModel)
	assert.Equal(t, ingest.ProcessorOCR, ocr[0].Processor)

	wfMsgs := collect(t, bus, testTopics.Workflow)
	require.Len(t, wfMsgs, 1)
	assert.Equal(t, "document", wfMsgs[0].ProcessingType)

	assert.Empty(t, collect(t, bus, testTopics.BDA))
	assert.Empty(t, collect(t, bus, testTopics.Transcribe))

	steps, err := store.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepPending, steps[workflow.StepOCR].State)
	assert.Equal(t, workflow.StepSkipped, steps[workflow.StepBDA].State)
}

func TestHandle_TextRoutesOnlyWorkflow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemory()
	bus := queue.NewMemoryBus()
	r := New(store, objectstore.NewMemoryStore("uploads"), bus, nil, nil, testTopics, defaults())

	require.NoError(t, r.Handle(ctx, uploadEvent(t, "uploads", "projects/p1/documents/d2/notes.md")))

	assert.Empty(t, collect(t, bus, testTopics.OCR))
	wfMsgs := collect(t, bus, testTopics.Workflow)
	require.Len(t, wfMsgs, 1)
	assert.Equal(t, "text", wfMsgs[0].ProcessingType)
}

func TestHandle_WebreqRoutesToCrawler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemory()
	objects := objectstore.NewMemoryStore("uploads")
	bus := queue.NewMemoryBus()

	key := "projects/p1/documents/d3/fetch.webreq"
	require.NoError(t, objects.PutBytes(ctx, key,
		[]byte(`{"url":"https://ex.com","instruction":"fetch top"}`), "application/json"))

	r := New(store, objects, bus, nil, nil, testTopics, defaults())
	require.NoError(t, r.Handle(ctx, uploadEvent(t, "uploads", key)))

	crawl := collect(t, bus, testTopics.Webcrawler)
	require.Len(t, crawl, 1)
	assert.Equal(t, "https://ex.com", crawl[0].SourceURL)
	assert.Equal(t, "fetch top", crawl[0].CrawlInstruction)

	// OCR is never dispatched for webreq even with use_ocr on.
	assert.Empty(t, collect(t, bus, testTopics.OCR))

	wfs, err := store.ListWorkflows(ctx, "d3")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, "https://ex.com", wfs[0].SourceURL)
	assert.Equal(t, "fetch top", wfs[0].CrawlInstruction)

	steps, err := store.GetSteps(ctx, wfs[0].WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepPending, steps[workflow.StepWebcrawler].State)
	assert.Equal(t, workflow.StepSkipped, steps[workflow.StepOCR].State)
}

func TestHandle_SkipsWithoutDocumentID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemory()
	bus := queue.NewMemoryBus()
	r := New(store, objectstore.NewMemoryStore("uploads"), bus, nil, nil, testTopics, defaults())

	require.NoError(t, r.Handle(ctx, uploadEvent(t, "uploads", "random/path/file.pdf")))
	assert.Empty(t, collect(t, bus, testTopics.Workflow))
}

func TestHandle_IgnoresOtherEventShapes(t *testing.T) {
	t.Parallel()
	store := statestore.NewMemory()
	bus := queue.NewMemoryBus()
	r := New(store, objectstore.NewMemoryStore("uploads"), bus, nil, nil, testTopics, defaults())

	msg := queue.Message{Value: []byte(`{"detail-type":"Object Deleted"}`)}
	require.NoError(t, r.Handle(context.Background(), msg))
	assert.Empty(t, collect(t, bus, testTopics.Workflow))

	require.NoError(t, r.Handle(context.Background(), queue.Message{Value: []byte("not json")}))
}

// docSettings is a static SettingsSource for tests.
type docSettings struct{ s *DocumentSettings }

func (d docSettings) DocumentSettings(ctx context.Context, projectID, documentID string) (*DocumentSettings, error) {
	return d.s, nil
}

func TestHandle_DocumentOverridesWin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := statestore.NewMemory()
	bus := queue.NewMemoryBus()

	lang := "ko"
	ocrOff := false
	bdaOn := true
	src := docSettings{s: &DocumentSettings{Language: &lang, UseOCR: &ocrOff, UseBDA: &bdaOn}}
	r := New(store, objectstore.NewMemoryStore("uploads"), bus, src, nil, testTopics, defaults())

	require.NoError(t, r.Handle(ctx, uploadEvent(t, "uploads", "projects/p1/documents/d4/scan.pdf")))

	wfs, err := store.ListWorkflows(ctx, "d4")
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	assert.Equal(t, "ko", wfs[0].Settings.Language)
	assert.False(t, wfs[0].Settings.UseOCR)
	assert.True(t, wfs[0].Settings.UseBDA)

	assert.Empty(t, collect(t, bus, testTopics.OCR))
	require.Len(t, collect(t, bus, testTopics.BDA), 1)
}

// countScaler records warm-up calls.
type countScaler struct{ calls int }

func (c *countScaler) WarmUp(ctx context.Context) error {
	c.calls++
	return fmt.Errorf("scale-out endpoint unavailable")
}

func TestHandle_WarmUpFailureIsNonFatal(t *testing.T) {
	t.Parallel()
	store := statestore.NewMemory()
	bus := queue.NewMemoryBus()
	scaler := &countScaler{}
	r := New(store, objectstore.NewMemoryStore("uploads"), bus, nil, scaler, testTopics, defaults())

	require.NoError(t, r.Handle(context.Background(), uploadEvent(t, "uploads", "projects/p1/documents/d5/page.png")))
	assert.Equal(t, 1, scaler.calls)
	require.Len(t, collect(t, bus, testTopics.OCR), 1)
}

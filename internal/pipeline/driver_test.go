package pipeline

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstream/internal/analyzer"
	"docstream/internal/config"
	"docstream/internal/finalizer"
	"docstream/internal/formatparser"
	"docstream/internal/index"
	"docstream/internal/indexwriter"
	"docstream/internal/llm"
	"docstream/internal/objectstore"
	"docstream/internal/queue"
	"docstream/internal/router"
	"docstream/internal/segments"
	"docstream/internal/statestore"
	"docstream/internal/summarizer"
	"docstream/internal/workflow"
)

// wordEmbedder maps a fixed vocabulary to dedicated dimensions so vector
// ranking in tests is exact. Inputs containing failOn embed to zero.
type wordEmbedder struct {
	vocab  []string
	failOn string
}

func (e wordEmbedder) Dimensions() int { return 8 }

func (e wordEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, 8)
		lower := strings.ToLower(text)
		if e.failOn == "" || !strings.Contains(lower, e.failOn) {
			for d, word := range e.vocab {
				if strings.Contains(lower, word) {
					vec[d]++
				}
			}
			// Bias so every successful embedding is non-zero.
			vec[7] = 0.001
		}
		out[i] = vec
	}
	return out, nil
}

// plainProvider answers every chat with a fixed report and no tool calls.
type plainProvider struct{ text string }

func (p plainProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, maxTokens int64) (llm.Message, error) {
	return llm.Message{Role: "assistant", Content: p.text}, nil
}

// harness wires the full pipeline over in-memory backends.
type harness struct {
	bus      *queue.MemoryBus
	objects  *objectstore.MemoryStore
	store    *statestore.Memory
	indexSt  *index.Memory
	router   *router.Router
	driver   *Driver
	writer   *indexwriter.Writer
	topics   router.Topics
	embedder wordEmbedder
}

func newHarness(t *testing.T, defaults config.ProjectDefaults, provider llm.Provider, emb wordEmbedder) *harness {
	t.Helper()
	bus := queue.NewMemoryBus()
	objects := objectstore.NewMemoryStore("uploads")
	store := statestore.NewMemory()
	indexSt := index.NewMemory(emb)

	topics := router.Topics{
		OCR:        "t.ocr",
		BDA:        "t.bda",
		Transcribe: "t.transcribe",
		Webcrawler: "t.webcrawler",
		Workflow:   "t.workflow",
	}
	rt := router.New(store, objects, bus, nil, nil, topics, defaults)

	parser := formatparser.New(objects, config.ConvertConfig{
		SofficePath: "soffice", PdftoppmPath: "pdftoppm", RenderDPI: 150, Timeout: time.Minute,
	})
	builder := segments.New(objects, store)
	anl := analyzer.New(provider, objects, 5)
	fin := finalizer.New(objects, bus, "t.writes")
	sum := summarizer.New(provider, indexSt, objects)

	driver := New(store, objects, parser, builder, anl, fin, sum, indexSt, Options{
		PollInterval:  5 * time.Millisecond,
		PollBudget:    2 * time.Second,
		Parallelism:   4,
		DrainInterval: 5 * time.Millisecond,
		DrainBudget:   2 * time.Second,
	})

	return &harness{
		bus:      bus,
		objects:  objects,
		store:    store,
		indexSt:  indexSt,
		router:   rt,
		driver:   driver,
		writer:   indexwriter.New(indexSt, emb),
		topics:   topics,
		embedder: emb,
	}
}

func (h *harness) upload(t *testing.T, key string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"detail-type": "Object Created",
		"detail": map[string]any{
			"bucket": map[string]string{"name": "uploads"},
			"object": map[string]string{"key": key},
		},
	})
	require.NoError(t, err)
	require.NoError(t, h.router.Handle(context.Background(), queue.Message{Value: body}))
}

// runWorkflow consumes the queued workflow message through the driver while
// the index writer drains concurrently.
func (h *harness) runWorkflow(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h.bus.Subscribe(ctx, "t.writes", h.writer.Handle)
	require.NoError(t, h.bus.Drain(ctx, h.topics.Workflow, h.driver.Handle))
}

func (h *harness) workflowFor(t *testing.T, documentID string) *workflow.Workflow {
	t.Helper()
	wfs, err := h.store.ListWorkflows(context.Background(), documentID)
	require.NoError(t, err)
	require.Len(t, wfs, 1)
	return wfs[0]
}

func buildPDF(pageTexts ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	for i, text := range pageTexts {
		var stream bytes.Buffer
		var z = zlib.NewWriter(&stream)
		fmt.Fprintf(z, "BT /F1 12 Tf (%s) Tj ET", text)
		_ = z.Close()
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d /Filter /FlateDecode >>\nstream\n", i+1, stream.Len())
		buf.Write(stream.Bytes())
		buf.WriteString("\nendstream\nendobj\n")
	}
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}

func TestEndToEnd_DigitalPDF(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := wordEmbedder{vocab: []string{"alpha", "beta", "gamma"}}
	h := newHarness(t, config.ProjectDefaults{Language: "en"}, plainProvider{text: "## Document Overview\nreport"}, emb)

	require.NoError(t, h.objects.PutBytes(ctx, "projects/p1/documents/d1/intro.pdf",
		buildPDF("alpha", "beta", "gamma"), "application/pdf"))
	h.upload(t, "projects/p1/documents/d1/intro.pdf")
	h.runWorkflow(t)

	wf := h.workflowFor(t, "d1")
	assert.Equal(t, workflow.StatusCompleted, wf.Status)

	// format-parser/result.json exists with 3 pages.
	parsed, err := formatparser.LoadResult(ctx, h.objects, wf.FileURI)
	require.NoError(t, err)
	require.Len(t, parsed.Pages, 3)

	// Three segments, dense 0..2, all committed to the index.
	recs, err := h.indexSt.GetSegments(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for i, rec := range recs {
		assert.Equal(t, i, rec.SegmentIndex)
		assert.Equal(t, "summarized", rec.Status)
		assert.False(t, rec.ZeroVector)
	}

	// Hybrid search: "beta" ranks segment 1 first via the vector leg.
	hits, err := h.indexSt.Search(ctx, "beta", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, 1, hits[0].SegmentIndex)
	assert.LessOrEqual(t, len(hits), 5)

	// Summary artifact landed.
	summary, err := summarizer.LoadSummary(ctx, h.objects, wf.FileURI)
	require.NoError(t, err)
	assert.NotEmpty(t, summary)

	// Step trail is terminal and legal.
	steps, err := h.store.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepDone, steps[workflow.StepFormatParser].State)
	assert.Equal(t, workflow.StepDone, steps[workflow.StepSegmentBuilder].State)
	assert.Equal(t, workflow.StepDone, steps[workflow.StepSummarizer].State)
	for i := 0; i < 3; i++ {
		assert.Equal(t, workflow.StepDone, steps[workflow.SegmentAnalyzerStep(i)].State)
		assert.Equal(t, workflow.StepDone, steps[workflow.FinalizerStep(i)].State)
	}
}

func TestEndToEnd_ImageWithOCR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := wordEmbedder{vocab: []string{"diagram"}}
	h := newHarness(t, config.ProjectDefaults{Language: "en", UseOCR: true}, plainProvider{text: "## Document Overview\nimage report"}, emb)

	require.NoError(t, h.objects.PutBytes(ctx, "projects/p1/documents/d2/diagram.png",
		[]byte("not-a-real-png"), "image/png"))
	h.upload(t, "projects/p1/documents/d2/diagram.png")

	wf := h.workflowFor(t, "d2")

	// The OCR queue received work and the track gates completion.
	require.Equal(t, 1, h.bus.Pending(h.topics.OCR))
	steps, err := h.store.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, workflow.StepPending, steps[workflow.StepOCR].State)

	// Simulate the external OCR consumer completing its track.
	require.NoError(t, h.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepOCR, workflow.StepRunning, ""))
	require.NoError(t, h.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepOCR, workflow.StepDone, ""))

	h.runWorkflow(t)

	wf = h.workflowFor(t, "d2")
	assert.Equal(t, workflow.StatusCompleted, wf.Status)

	steps, err = h.store.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	// No parser for bare images.
	assert.Equal(t, workflow.StepSkipped, steps[workflow.StepFormatParser].State)

	recs, err := h.indexSt.GetSegments(ctx, "d2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].SegmentIndex)
	assert.Equal(t, wf.FileURI, recs[0].ImageURI)
}

func TestEndToEnd_UnsupportedMIMEFailsNoSegments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := wordEmbedder{}
	h := newHarness(t, config.ProjectDefaults{Language: "en", UseOCR: true}, plainProvider{text: "x"}, emb)

	require.NoError(t, h.objects.PutBytes(ctx, "projects/p1/documents/d3/archive.zip",
		[]byte("PK\x03\x04"), "application/zip"))
	h.upload(t, "projects/p1/documents/d3/archive.zip")
	h.runWorkflow(t)

	wf := h.workflowFor(t, "d3")
	assert.Equal(t, workflow.StatusFailed, wf.Status)
	assert.Equal(t, "no_segments", wf.Error)

	steps, err := h.store.GetSteps(ctx, wf.WorkflowID)
	require.NoError(t, err)
	// Unknown MIME enables no preprocessing track.
	for _, track := range workflow.PreprocessTracks {
		assert.Equal(t, workflow.StepSkipped, steps[track].State, track)
	}
	assert.Equal(t, workflow.StepSkipped, steps[workflow.StepFormatParser].State)
	assert.Equal(t, workflow.StepFailed, steps[workflow.StepSummarizer].State)
}

func TestEndToEnd_EmbedderFailureStillSearchable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	// The embedder zeroes anything containing "beta"; FTS must still find it.
	emb := wordEmbedder{vocab: []string{"alpha", "beta", "gamma"}, failOn: "beta"}
	h := newHarness(t, config.ProjectDefaults{Language: "en"}, plainProvider{text: "## Document Overview\nreport"}, emb)

	require.NoError(t, h.objects.PutBytes(ctx, "projects/p1/documents/d4/doc.pdf",
		buildPDF("alpha", "beta", "gamma"), "application/pdf"))
	h.upload(t, "projects/p1/documents/d4/doc.pdf")
	h.runWorkflow(t)

	wf := h.workflowFor(t, "d4")
	assert.Equal(t, workflow.StatusCompleted, wf.Status)

	recs, err := h.indexSt.GetSegments(ctx, "d4")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.True(t, recs[1].ZeroVector)
	assert.False(t, recs[0].ZeroVector)

	// The query itself embeds to zero, so only the FTS leg can serve it.
	hits, err := h.indexSt.Search(ctx, "beta", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	found := false
	for _, hit := range hits {
		if hit.SegmentIndex == 1 {
			found = true
		}
	}
	assert.True(t, found, "zero-vector segment must be reachable via keywords")
}

func TestEndToEnd_ReplayCreatesNewWorkflowKeepsSegments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	emb := wordEmbedder{vocab: []string{"alpha"}}
	h := newHarness(t, config.ProjectDefaults{Language: "en"}, plainProvider{text: "## Document Overview\nreport"}, emb)

	require.NoError(t, h.objects.PutBytes(ctx, "projects/p1/documents/d5/a.pdf",
		buildPDF("alpha"), "application/pdf"))

	h.upload(t, "projects/p1/documents/d5/a.pdf")
	h.runWorkflow(t)
	h.upload(t, "projects/p1/documents/d5/a.pdf")
	h.runWorkflow(t)

	wfs, err := h.store.ListWorkflows(ctx, "d5")
	require.NoError(t, err)
	require.Len(t, wfs, 2)
	assert.NotEqual(t, wfs[0].WorkflowID, wfs[1].WorkflowID)

	// Replay re-upserts by (document_id, segment_id): the segment count per
	// index view of the document stays consistent (two workflows × one
	// segment each, upserted under distinct segment ids).
	recs, err := h.indexSt.GetSegments(ctx, "d5")
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	for _, rec := range recs {
		assert.Equal(t, 0, rec.SegmentIndex)
	}
}

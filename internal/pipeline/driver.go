// Package pipeline binds the components into the per-workflow state machine:
//
//	CREATED ─► PREPROCESSING ─► ANALYZING ─► COMPLETED | FAILED
//
// The driver consumes workflow-track messages, polls preprocess completion,
// converges the tracks into segments, fans the analyzer out over them with
// bounded parallelism, and finishes with the summarizer.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"docstream/internal/analyzer"
	"docstream/internal/finalizer"
	"docstream/internal/formatparser"
	"docstream/internal/index"
	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/preprocess"
	"docstream/internal/queue"
	"docstream/internal/segments"
	"docstream/internal/summarizer"
	"docstream/internal/webcrawler"
	"docstream/internal/workflow"
)

// Options tune the driver's polling and fan-out behavior.
type Options struct {
	PollInterval  time.Duration // preprocess poll cadence (default 10s)
	PollBudget    time.Duration // preprocess wall-clock budget (default 30m)
	Parallelism   int           // concurrent segment analyses (default 4)
	DrainInterval time.Duration // index-writer drain poll cadence (default 2s)
	DrainBudget   time.Duration // index-writer drain budget (default 5m)
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.PollBudget <= 0 {
		o.PollBudget = 30 * time.Minute
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 4
	}
	if o.DrainInterval <= 0 {
		o.DrainInterval = 2 * time.Second
	}
	if o.DrainBudget <= 0 {
		o.DrainBudget = 5 * time.Minute
	}
}

// Driver executes workflows.
type Driver struct {
	store      workflow.Store
	objects    objectstore.ObjectStore
	checker    *preprocess.Checker
	parser     *formatparser.Parser
	builder    *segments.Builder
	analyzer   *analyzer.Analyzer
	finalizer  *finalizer.Finalizer
	summarizer *summarizer.Summarizer
	indexStore index.Store
	opts       Options
}

// New creates a Driver.
func New(
	store workflow.Store,
	objects objectstore.ObjectStore,
	parser *formatparser.Parser,
	builder *segments.Builder,
	anl *analyzer.Analyzer,
	fin *finalizer.Finalizer,
	sum *summarizer.Summarizer,
	indexStore index.Store,
	opts Options,
) *Driver {
	opts.defaults()
	return &Driver{
		store:      store,
		objects:    objects,
		checker:    preprocess.NewChecker(store),
		parser:     parser,
		builder:    builder,
		analyzer:   anl,
		finalizer:  fin,
		summarizer: sum,
		indexStore: indexStore,
		opts:       opts,
	}
}

// Handle consumes one workflow-track message and drives the workflow to a
// terminal status. Returned errors are retried by the queue; state-machine
// outcomes (FAILED workflows) are not errors.
func (d *Driver) Handle(ctx context.Context, msg queue.Message) error {
	var m ingest.TrackMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		return queue.Permanent(fmt.Errorf("malformed workflow message: %w", err))
	}

	wf, err := d.store.GetWorkflow(ctx, m.DocumentID, m.WorkflowID)
	if errors.Is(err, workflow.ErrNotFound) {
		return queue.Permanent(fmt.Errorf("workflow %s not found", m.WorkflowID))
	}
	if err != nil {
		return err
	}

	ctx, span := otel.Tracer("pipeline").Start(ctx, "workflow.run")
	defer span.End()

	if err := d.run(ctx, wf, &m); err != nil {
		var term *terminalError
		if errors.As(err, &term) {
			// The FAILED status is already on the head; commit the message.
			log.Error().Err(err).
				Str("workflow_id", wf.WorkflowID).
				Str("document_id", wf.DocumentID).
				Msg("workflow_failed")
			return nil
		}
		// Infrastructure error before a terminal status: let the queue retry.
		return err
	}
	return nil
}

// terminalError marks a failure that was recorded on the workflow head.
type terminalError struct{ cause error }

func (e *terminalError) Error() string { return e.cause.Error() }
func (e *terminalError) Unwrap() error { return e.cause }

func (d *Driver) run(ctx context.Context, wf *workflow.Workflow, m *ingest.TrackMessage) error {
	if err := d.setStatus(ctx, wf, workflow.StatusPreprocessing, ""); err != nil {
		return err
	}

	if err := d.awaitPreprocess(ctx, wf); err != nil {
		return d.fail(ctx, wf, err)
	}

	parsed, err := d.parse(ctx, wf, m)
	if err != nil {
		return d.fail(ctx, wf, err)
	}

	segs, err := d.buildSegments(ctx, wf, parsed)
	if err != nil {
		return d.fail(ctx, wf, err)
	}

	if err := d.setStatus(ctx, wf, workflow.StatusAnalyzing, ""); err != nil {
		return err
	}

	succeeded := 0
	if len(segs) > 0 {
		succeeded, err = d.analyzeAll(ctx, wf, segs)
		if err != nil {
			return d.fail(ctx, wf, err)
		}
		if err := d.awaitIndexDrain(ctx, wf, len(segs)); err != nil {
			return d.fail(ctx, wf, err)
		}
	}

	if err := d.summarize(ctx, wf); err != nil {
		return d.fail(ctx, wf, err)
	}

	if len(segs) > 0 && succeeded == 0 {
		return d.fail(ctx, wf, fmt.Errorf("all %d segments failed analysis", len(segs)))
	}

	if err := d.setStatus(ctx, wf, workflow.StatusCompleted, ""); err != nil {
		return err
	}
	log.Info().
		Str("workflow_id", wf.WorkflowID).
		Str("document_id", wf.DocumentID).
		Int("segments", len(segs)).
		Int("succeeded", succeeded).
		Msg("workflow_completed")
	return nil
}

// awaitPreprocess polls the status checker at the configured cadence until
// every enabled track converged, a track failed, or the budget elapsed.
func (d *Driver) awaitPreprocess(ctx context.Context, wf *workflow.Workflow) error {
	deadline := time.Now().Add(d.opts.PollBudget)
	for {
		st, err := d.checker.Check(ctx, wf.WorkflowID)
		if err != nil {
			return err
		}
		if st.AnyFailed {
			return fmt.Errorf("preprocessing track failed: %v", failedTracks(st))
		}
		if st.AllCompleted && !st.AnalysisBusy {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("preprocessing timed out after %s", d.opts.PollBudget)
		}
		select {
		case <-time.After(d.opts.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// parse runs the FORMAT_PARSER step. Unsupported formats skip the step; web
// workflows read the crawled markdown instead of the uploaded file.
func (d *Driver) parse(ctx context.Context, wf *workflow.Workflow, m *ingest.TrackMessage) (*formatparser.Result, error) {
	if err := d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepFormatParser, workflow.StepRunning, ""); err != nil {
		return nil, err
	}

	if m.ProcessingType == "web" {
		result, err := d.parseCrawled(ctx, wf)
		if err != nil {
			_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepFormatParser, workflow.StepFailed, err.Error())
			return nil, err
		}
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepFormatParser, workflow.StepDone, "")
		return result, nil
	}

	result, err := d.parser.Parse(ctx, wf)
	switch {
	case errors.Is(err, formatparser.ErrUnsupportedFormat):
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepFormatParser, workflow.StepSkipped, err.Error())
		return nil, nil
	case err != nil:
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepFormatParser, workflow.StepFailed, err.Error())
		return nil, err
	}
	if err := d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepFormatParser, workflow.StepDone, ""); err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Driver) parseCrawled(ctx context.Context, wf *workflow.Workflow) (*formatparser.Result, error) {
	_, fileKey, err := objectstore.ParseURI(wf.FileURI)
	if err != nil {
		return nil, err
	}
	data, err := d.objects.GetBytes(ctx, objectstore.DerivedKey(fileKey, webcrawler.ContentKey))
	if err != nil {
		return nil, fmt.Errorf("read crawled content: %w", err)
	}
	return &formatparser.Result{
		FileType: wf.FileType,
		Chunks:   formatparser.ChunkText(string(data)),
	}, nil
}

func (d *Driver) buildSegments(ctx context.Context, wf *workflow.Workflow, parsed *formatparser.Result) ([]*workflow.Segment, error) {
	if err := d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSegmentBuilder, workflow.StepRunning, ""); err != nil {
		return nil, err
	}
	segs, err := d.builder.Build(ctx, wf, parsed)
	if err != nil {
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSegmentBuilder, workflow.StepFailed, err.Error())
		return nil, err
	}
	if err := d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSegmentBuilder, workflow.StepDone, ""); err != nil {
		return nil, err
	}
	return segs, nil
}

// analyzeAll fans the analyzer out over the segments with bounded
// parallelism. A failed segment keeps its error as analysis_result and does
// not stop the others; the count of successes is returned.
func (d *Driver) analyzeAll(ctx context.Context, wf *workflow.Workflow, segs []*workflow.Segment) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Parallelism)

	results := make([]bool, len(segs))
	for i, seg := range segs {
		g.Go(func() error {
			results[i] = d.analyzeOne(gctx, wf, seg)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	succeeded := 0
	for _, ok := range results {
		if ok {
			succeeded++
		}
	}
	return succeeded, nil
}

// analyzeOne analyzes and finalizes one segment and reports success.
func (d *Driver) analyzeOne(ctx context.Context, wf *workflow.Workflow, seg *workflow.Segment) bool {
	stepName := workflow.SegmentAnalyzerStep(seg.SegmentIndex)
	_ = d.store.TransitionStep(ctx, wf.WorkflowID, stepName, workflow.StepRunning, "")

	out, err := d.analyzer.Analyze(ctx, wf, seg)
	if err != nil {
		seg.Status = "failed"
		if out != nil {
			seg.AnalysisResult = out.AnalysisResult
			seg.AnalysisSteps = out.AnalysisSteps
		}
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, stepName, workflow.StepFailed, err.Error())
	} else {
		seg.Status = "analyzed"
		seg.AnalysisResult = out.AnalysisResult
		seg.AnalysisSteps = out.AnalysisSteps
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, stepName, workflow.StepDone, "")
	}
	if perr := d.store.PutSegment(ctx, seg); perr != nil {
		log.Error().Err(perr).Int("segment_index", seg.SegmentIndex).Msg("segment_persist_failed")
	}

	finStep := workflow.FinalizerStep(seg.SegmentIndex)
	_ = d.store.TransitionStep(ctx, wf.WorkflowID, finStep, workflow.StepRunning, "")
	if ferr := d.finalizer.Finalize(ctx, wf, seg); ferr != nil {
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, finStep, workflow.StepFailed, ferr.Error())
		log.Error().Err(ferr).Int("segment_index", seg.SegmentIndex).Msg("finalizer_failed")
		return false
	}
	_ = d.store.TransitionStep(ctx, wf.WorkflowID, finStep, workflow.StepDone, "")
	return err == nil
}

// awaitIndexDrain waits until the index holds a record of this workflow for
// each of its want segments, or the drain budget elapses.
func (d *Driver) awaitIndexDrain(ctx context.Context, wf *workflow.Workflow, want int) error {
	deadline := time.Now().Add(d.opts.DrainBudget)
	for {
		recs, err := d.indexStore.GetSegments(ctx, wf.DocumentID)
		if err != nil {
			return err
		}
		have := 0
		for _, rec := range recs {
			if rec.WorkflowID == wf.WorkflowID {
				have++
			}
		}
		if have >= want {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("index writer drained %d/%d segments within %s", have, want, d.opts.DrainBudget)
		}
		select {
		case <-time.After(d.opts.DrainInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Driver) summarize(ctx context.Context, wf *workflow.Workflow) error {
	if err := d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSummarizer, workflow.StepRunning, ""); err != nil {
		return err
	}
	_, err := d.summarizer.Summarize(ctx, wf)
	if errors.Is(err, summarizer.ErrNoSegments) {
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSummarizer, workflow.StepFailed, "no_segments")
		return fmt.Errorf("no_segments")
	}
	if err != nil {
		_ = d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSummarizer, workflow.StepFailed, err.Error())
		return err
	}
	return d.store.TransitionStep(ctx, wf.WorkflowID, workflow.StepSummarizer, workflow.StepDone, "")
}

func (d *Driver) setStatus(ctx context.Context, wf *workflow.Workflow, status workflow.Status, errMsg string) error {
	wf.Status = status
	return d.store.UpdateWorkflowStatus(ctx, wf.DocumentID, wf.WorkflowID, status, errMsg)
}

// fail records the terminal FAILED status and returns the cause marked
// terminal so the consumer commits instead of retrying.
func (d *Driver) fail(ctx context.Context, wf *workflow.Workflow, cause error) error {
	if err := d.setStatus(ctx, wf, workflow.StatusFailed, cause.Error()); err != nil {
		log.Error().Err(err).Str("workflow_id", wf.WorkflowID).Msg("workflow_fail_status_write_failed")
	}
	return &terminalError{cause: cause}
}

func failedTracks(st preprocess.Status) []string {
	var out []string
	for name, state := range st.Steps {
		if state == workflow.StepFailed {
			out = append(out, name)
		}
	}
	return out
}

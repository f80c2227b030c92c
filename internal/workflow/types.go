// Package workflow holds the ingestion domain model: one Workflow per upload
// attempt, a per-track Step lifecycle map, and the ordered Segments the
// preprocessing tracks converge into.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Store sentinels.
var (
	ErrNotFound          = errors.New("workflow record not found")
	ErrIllegalTransition = errors.New("illegal step transition")
)

// Status is the lifecycle state of a workflow head record.
type Status string

const (
	StatusCreated       Status = "CREATED"
	StatusPreprocessing Status = "PREPROCESSING"
	StatusAnalyzing     Status = "ANALYZING"
	StatusCompleted     Status = "COMPLETED"
	StatusFailed        Status = "FAILED"
)

// StepState is the lifecycle state of a single step. Transitions are monotone:
// PENDING → RUNNING → {DONE | SKIPPED | FAILED}; terminal states are final.
type StepState string

const (
	StepPending StepState = "PENDING"
	StepRunning StepState = "RUNNING"
	StepDone    StepState = "DONE"
	StepSkipped StepState = "SKIPPED"
	StepFailed  StepState = "FAILED"
)

// Terminal reports whether s admits no further transitions.
func (s StepState) Terminal() bool {
	return s == StepDone || s == StepSkipped || s == StepFailed
}

// CanTransition reports whether from → to is a legal step transition.
func CanTransition(from, to StepState) bool {
	if from == to {
		return false
	}
	switch from {
	case StepPending:
		return to == StepRunning || to == StepSkipped || to == StepFailed
	case StepRunning:
		return to.Terminal()
	default:
		return false
	}
}

// Step names. The preprocessing tracks (OCR, BDA, TRANSCRIBE, WEBCRAWLER) are
// written by their consumers; the remaining steps are written by the driver.
const (
	StepOCR            = "OCR"
	StepBDA            = "BDA"
	StepTranscribe     = "TRANSCRIBE"
	StepWebcrawler     = "WEBCRAWLER"
	StepFormatParser   = "FORMAT_PARSER"
	StepSegmentBuilder = "SEGMENT_BUILDER"
	StepSummarizer     = "SUMMARIZER"
)

// SegmentAnalyzerStep returns the step name for segment i's analyzer run.
func SegmentAnalyzerStep(i int) string { return fmt.Sprintf("SEGMENT_ANALYZER[%d]", i) }

// FinalizerStep returns the step name for segment i's finalizer run.
func FinalizerStep(i int) string { return fmt.Sprintf("FINALIZER[%d]", i) }

// PreprocessTracks is the set of steps the status checker polls before the
// pipeline may converge.
var PreprocessTracks = []string{StepOCR, StepBDA, StepTranscribe, StepWebcrawler}

// Settings are the per-document processing options after the
// document > project > hard-default resolution performed by the router.
type Settings struct {
	Language       string         `json:"language"`
	UseBDA         bool           `json:"use_bda"`
	UseOCR         bool           `json:"use_ocr"`
	UseTranscribe  bool           `json:"use_transcribe"`
	OCRModel       string         `json:"ocr_model"`
	OCROptions     map[string]any `json:"ocr_options,omitempty"`
	DocumentPrompt string         `json:"document_prompt,omitempty"`
}

// Workflow is the head record for one ingestion attempt of one uploaded file.
type Workflow struct {
	WorkflowID       string    `json:"workflow_id"`
	DocumentID       string    `json:"document_id"`
	ProjectID        string    `json:"project_id"`
	FileURI          string    `json:"file_uri"`
	FileName         string    `json:"file_name"`
	FileType         string    `json:"file_type"`
	Status           Status    `json:"status"`
	Settings         Settings  `json:"settings"`
	SourceURL        string    `json:"source_url,omitempty"`
	CrawlInstruction string    `json:"crawl_instruction,omitempty"`
	Error            string    `json:"error,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Step is one entry in a workflow's step map.
type Step struct {
	State     StepState `json:"state"`
	StartedAt time.Time `json:"started_at,omitempty"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Segment is one ordered unit of a document: a page for paginated inputs, a
// chunk otherwise.
type Segment struct {
	WorkflowID     string         `json:"workflow_id"`
	SegmentID      string         `json:"segment_id"`
	SegmentIndex   int            `json:"segment_index"`
	ImageURI       string         `json:"image_uri,omitempty"`
	ParsedText     string         `json:"parsed_text"`
	BDAContent     string         `json:"bda_content"`
	AnalysisResult string         `json:"analysis_result,omitempty"`
	AnalysisSteps  []AnalysisStep `json:"analysis_steps,omitempty"`
	Status         string         `json:"status"`
}

// AnalysisStep is one tool invocation recorded by the segment analyzer.
type AnalysisStep struct {
	Step     int    `json:"step"`
	Tool     string `json:"tool"`
	Question string `json:"question,omitempty"`
	Degrees  int    `json:"degrees,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Result   string `json:"result,omitempty"`
}

// Store is the durable workflow state store. Implementations key
// rows by the composite (PK, SK) layout:
//
//	PK=DOC#{document_id}  SK=WF#{workflow_id}   workflow head
//	PK=WF#{workflow_id}   SK=STEP               aggregate step map
//	PK=WF#{workflow_id}   SK=SEG#{nnnn}         segment record
//
// Step transitions must be rejected when they violate CanTransition.
type Store interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, documentID, workflowID string) (*Workflow, error)
	ListWorkflows(ctx context.Context, documentID string) ([]*Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, documentID, workflowID string, status Status, errMsg string) error

	// InitSteps writes the initial step map: enabled tracks PENDING, the rest
	// SKIPPED. Later steps (analyzers, finalizers) are added via TransitionStep.
	InitSteps(ctx context.Context, workflowID string, steps map[string]Step) error
	GetSteps(ctx context.Context, workflowID string) (map[string]Step, error)
	// TransitionStep moves one step to state, stamping started/ended times.
	// Returns ErrIllegalTransition when the move violates the monotone rule.
	TransitionStep(ctx context.Context, workflowID, stepName string, state StepState, errMsg string) error

	PutSegment(ctx context.Context, seg *Segment) error
	ListSegments(ctx context.Context, workflowID string) ([]*Segment, error)

	// DeleteWorkflow removes the head row and every row under PK=WF#{workflowID}.
	DeleteWorkflow(ctx context.Context, documentID, workflowID string) error
}

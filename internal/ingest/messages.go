// Package ingest defines the wire shapes that travel the track queues, plus
// the MIME routing oracle shared by the router and the workflow driver.
package ingest

import (
	"path"
	"strings"

	"docstream/internal/workflow"
)

// UploadEvent is the upload-notification body. Records with any other
// detail-type are ignored.
type UploadEvent struct {
	DetailType string       `json:"detail-type"`
	Detail     UploadDetail `json:"detail"`
}

// UploadDetail carries the bucket and key of the created object.
type UploadDetail struct {
	Bucket struct {
		Name string `json:"name"`
	} `json:"bucket"`
	Object struct {
		Key string `json:"key"`
	} `json:"object"`
}

// Webreq is the JSON descriptor inside a .webreq file.
type Webreq struct {
	URL         string `json:"url"`
	Instruction string `json:"instruction"`
}

// TrackMessage is the common body published to every track queue. Processor
// names which track the message belongs to; the track-specific fields are
// populated only for their track.
type TrackMessage struct {
	WorkflowID string `json:"workflow_id"`
	DocumentID string `json:"document_id"`
	ProjectID  string `json:"project_id"`
	FileURI    string `json:"file_uri"`
	FileName   string `json:"file_name"`
	FileType   string `json:"file_type"`
	Language   string `json:"language"`
	Processor  string `json:"processor"`

	// OCR track.
	OCRModel   string         `json:"ocr_model,omitempty"`
	OCROptions map[string]any `json:"ocr_options,omitempty"`

	// Workflow track.
	ProcessingType string `json:"processing_type,omitempty"`
	UseBDA         bool   `json:"use_bda,omitempty"`
	DocumentPrompt string `json:"document_prompt,omitempty"`

	// Webcrawler track.
	SourceURL        string `json:"source_url,omitempty"`
	CrawlInstruction string `json:"crawl_instruction,omitempty"`
}

// Processor names carried in TrackMessage.
const (
	ProcessorOCR        = "ocr"
	ProcessorBDA        = "bda"
	ProcessorTranscribe = "transcribe"
	ProcessorWebcrawler = "webcrawler"
	ProcessorWorkflow   = "workflow"
)

// WriteMessage is the analysis-finalizer → index-writer hand-off.
type WriteMessage struct {
	DocumentID      string         `json:"document_id"`
	SegmentID       string         `json:"segment_id"`
	SegmentIndex    int            `json:"segment_index"`
	WorkflowID      string         `json:"workflow_id"`
	Status          string         `json:"status"`
	Tools           map[string]any `json:"tools"`
	ContentCombined string         `json:"content_combined"`
	FileURI         string         `json:"file_uri"`
	FileType        string         `json:"file_type"`
	ImageURI        string         `json:"image_uri,omitempty"`
}

// mimeTypes maps lowercase filename extensions to MIME types. Unknown
// extensions resolve to application/octet-stream, which routes only to the
// workflow track and is otherwise skipped.
var mimeTypes = map[string]string{
	"pdf":  MIMEPDF,
	"docx": MIMEDocx,
	"doc":  MIMEDoc,
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"xlsx": MIMEXlsx,
	"xls":  MIMEXls,
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"tiff": "image/tiff",
	"tif":  "image/tiff",
	"webp": "image/webp",
	"pptx": MIMEPptx,
	"ppt":  MIMEPpt,
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",
	"webreq": MIMEWebreq,
}

// Named MIME constants for the branching done across the pipeline.
const (
	MIMEPDF    = "application/pdf"
	MIMEDocx   = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEDoc    = "application/msword"
	MIMEPptx   = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MIMEPpt    = "application/vnd.ms-powerpoint"
	MIMEXlsx   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEXls    = "application/vnd.ms-excel"
	MIMEWebreq = "application/x-webreq"
	MIMEOther  = "application/octet-stream"
)

// MIMEFromFileName resolves a filename to its MIME type by extension.
func MIMEFromFileName(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return MIMEOther
}

// File-class predicates used by the routing matrix and the format parser.
func IsPDF(mt string) bool    { return mt == MIMEPDF }
func IsImage(mt string) bool  { return strings.HasPrefix(mt, "image/") }
func IsVideo(mt string) bool  { return strings.HasPrefix(mt, "video/") }
func IsAudio(mt string) bool  { return strings.HasPrefix(mt, "audio/") }
func IsWebreq(mt string) bool { return mt == MIMEWebreq }

func IsText(mt string) bool {
	return mt == "text/plain" || mt == "text/markdown"
}

func IsSpreadsheet(mt string) bool {
	return mt == MIMEXlsx || mt == MIMEXls || mt == "text/csv"
}

func IsOfficeDocument(mt string) bool {
	return mt == MIMEPptx || mt == MIMEPpt || mt == MIMEDocx || mt == MIMEDoc
}

// ProcessingType classifies a MIME type for the workflow track message.
func ProcessingType(mt string) string {
	switch {
	case IsWebreq(mt):
		return "web"
	case IsText(mt) || IsSpreadsheet(mt):
		return "text"
	case IsImage(mt):
		return "image"
	case IsVideo(mt):
		return "video"
	case IsAudio(mt):
		return "audio"
	default:
		return "document"
	}
}

// InitialSteps builds the step map written at workflow creation: enabled
// preprocessing tracks PENDING, the rest SKIPPED.
func InitialSteps(fileType string, st workflow.Settings) map[string]workflow.Step {
	enabled := map[string]bool{
		workflow.StepOCR:        (IsPDF(fileType) || IsImage(fileType)) && st.UseOCR,
		workflow.StepBDA:        st.UseBDA && (IsPDF(fileType) || IsImage(fileType) || IsVideo(fileType) || IsAudio(fileType)),
		workflow.StepTranscribe: (IsVideo(fileType) || IsAudio(fileType)) && st.UseTranscribe,
		workflow.StepWebcrawler: IsWebreq(fileType),
	}
	steps := make(map[string]workflow.Step, len(enabled))
	for name, on := range enabled {
		state := workflow.StepSkipped
		if on {
			state = workflow.StepPending
		}
		steps[name] = workflow.Step{State: state}
	}
	return steps
}

// Package router consumes upload notifications, classifies each created
// object, creates the workflow record, and fans the document out to the
// preprocessing track queues.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docstream/internal/config"
	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/queue"
	"docstream/internal/workflow"
)

// DocumentSettings are the per-document overrides read from the document
// record, each field nil when the document does not override it.
type DocumentSettings struct {
	Language       *string
	UseBDA         *bool
	UseOCR         *bool
	UseTranscribe  *bool
	OCRModel       *string
	OCROptions     map[string]any
	DocumentPrompt *string
}

// SettingsSource resolves document-level settings. The document CRUD surface
// is an external collaborator; a nil lookup result means "no overrides".
type SettingsSource interface {
	DocumentSettings(ctx context.Context, projectID, documentID string) (*DocumentSettings, error)
}

// Scaler receives the best-effort OCR capacity hint after OCR dispatch.
// Failures are logged and never fatal.
type Scaler interface {
	WarmUp(ctx context.Context) error
}

// Topics names the track queues the router publishes to.
type Topics struct {
	OCR        string
	BDA        string
	Transcribe string
	Webcrawler string
	Workflow   string
}

// Router is the upload-notification consumer.
type Router struct {
	store    workflow.Store
	objects  objectstore.ObjectStore
	producer queue.Producer
	settings SettingsSource
	scaler   Scaler
	topics   Topics
	defaults config.ProjectDefaults
}

// New creates a Router. settings and scaler may be nil.
func New(store workflow.Store, objects objectstore.ObjectStore, producer queue.Producer, settings SettingsSource, scaler Scaler, topics Topics, defaults config.ProjectDefaults) *Router {
	return &Router{
		store:    store,
		objects:  objects,
		producer: producer,
		settings: settings,
		scaler:   scaler,
		topics:   topics,
		defaults: defaults,
	}
}

// Handle processes one upload-notification message. Unparseable events and
// events without a document id are skipped with a warning; they never fail
// the batch.
func (r *Router) Handle(ctx context.Context, msg queue.Message) error {
	var event ingest.UploadEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		log.Warn().Err(err).Msg("router_record_unparseable")
		return nil
	}
	if event.DetailType != "Object Created" {
		log.Warn().Str("detail_type", event.DetailType).Msg("router_event_ignored")
		return nil
	}

	bucket := event.Detail.Bucket.Name
	key := event.Detail.Object.Key
	if bucket == "" || key == "" {
		log.Warn().Msg("router_event_missing_bucket_or_key")
		return nil
	}

	projectID := extractProjectID(key)
	documentID := extractDocumentID(key)
	if documentID == "" {
		log.Warn().Str("key", key).Msg("router_record_skipped_no_document_id")
		return nil
	}

	fileName := key[strings.LastIndex(key, "/")+1:]
	fileType := ingest.MIMEFromFileName(fileName)
	fileURI := objectstore.FormatURI(bucket, key)
	workflowID := uuid.NewString()

	settings, err := r.resolveSettings(ctx, projectID, documentID)
	if err != nil {
		return fmt.Errorf("resolve settings %s/%s: %w", projectID, documentID, err)
	}

	wf := &workflow.Workflow{
		WorkflowID: workflowID,
		DocumentID: documentID,
		ProjectID:  projectID,
		FileURI:    fileURI,
		FileName:   fileName,
		FileType:   fileType,
		Status:     workflow.StatusCreated,
		Settings:   settings,
	}

	if ingest.IsWebreq(fileType) {
		wf.SourceURL, wf.CrawlInstruction = r.readWebreq(ctx, key)
	}

	if err := r.store.CreateWorkflow(ctx, wf); err != nil {
		return fmt.Errorf("create workflow %s: %w", workflowID, err)
	}
	if err := r.store.InitSteps(ctx, workflowID, ingest.InitialSteps(fileType, settings)); err != nil {
		return fmt.Errorf("init steps %s: %w", workflowID, err)
	}

	sent, err := r.fanOut(ctx, wf)
	if err != nil {
		return fmt.Errorf("fan out %s: %w", workflowID, err)
	}

	log.Info().
		Str("workflow_id", workflowID).
		Str("document_id", documentID).
		Str("file_type", fileType).
		Strs("queues", sent).
		Msg("router_workflow_distributed")
	return nil
}

// resolveSettings applies document > project default > hard default.
func (r *Router) resolveSettings(ctx context.Context, projectID, documentID string) (workflow.Settings, error) {
	out := workflow.Settings{
		Language:       r.defaults.Language,
		UseBDA:         r.defaults.UseBDA,
		UseOCR:         r.defaults.UseOCR,
		UseTranscribe:  r.defaults.UseTranscribe,
		OCRModel:       r.defaults.OCRModel,
		OCROptions:     map[string]any{},
		DocumentPrompt: r.defaults.DocumentPrompt,
	}
	if r.settings == nil {
		return out, nil
	}
	doc, err := r.settings.DocumentSettings(ctx, projectID, documentID)
	if err != nil {
		return out, err
	}
	if doc == nil {
		return out, nil
	}
	if doc.Language != nil {
		out.Language = *doc.Language
	}
	if doc.UseBDA != nil {
		out.UseBDA = *doc.UseBDA
	}
	if doc.UseOCR != nil {
		out.UseOCR = *doc.UseOCR
	}
	if doc.UseTranscribe != nil {
		out.UseTranscribe = *doc.UseTranscribe
	}
	if doc.OCRModel != nil {
		out.OCRModel = *doc.OCRModel
	}
	if doc.OCROptions != nil {
		out.OCROptions = doc.OCROptions
	}
	if doc.DocumentPrompt != nil {
		out.DocumentPrompt = *doc.DocumentPrompt
	}
	return out, nil
}

// readWebreq fetches and parses the .webreq descriptor. Parse failures leave
// the fields empty; the crawler step will fail later with a useful error.
func (r *Router) readWebreq(ctx context.Context, key string) (url, instruction string) {
	data, err := r.objects.GetBytes(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("router_webreq_read_failed")
		return "", ""
	}
	var req ingest.Webreq
	if err := json.Unmarshal(data, &req); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("router_webreq_parse_failed")
		return "", ""
	}
	return req.URL, req.Instruction
}

// fanOut publishes the track messages per the routing matrix and returns the
// names of the queues used.
func (r *Router) fanOut(ctx context.Context, wf *workflow.Workflow) ([]string, error) {
	base := ingest.TrackMessage{
		WorkflowID: wf.WorkflowID,
		DocumentID: wf.DocumentID,
		ProjectID:  wf.ProjectID,
		FileURI:    wf.FileURI,
		FileName:   wf.FileName,
		FileType:   wf.FileType,
		Language:   wf.Settings.Language,
	}

	var sent []string
	publish := func(topic, name string, m ingest.TrackMessage) error {
		body, err := json.Marshal(m)
		if err != nil {
			return err
		}
		if err := r.producer.Publish(ctx, queue.Message{Topic: topic, Key: wf.WorkflowID, Value: body}); err != nil {
			return err
		}
		sent = append(sent, name)
		return nil
	}

	ft := wf.FileType
	st := wf.Settings

	if ingest.IsWebreq(ft) {
		m := base
		m.Processor = ingest.ProcessorWebcrawler
		m.SourceURL = wf.SourceURL
		m.CrawlInstruction = wf.CrawlInstruction
		if err := publish(r.topics.Webcrawler, "webcrawler", m); err != nil {
			return sent, err
		}
	}

	if (ingest.IsPDF(ft) || ingest.IsImage(ft)) && !ingest.IsWebreq(ft) && st.UseOCR {
		m := base
		m.Processor = ingest.ProcessorOCR
		m.OCRModel = st.OCRModel
		m.OCROptions = st.OCROptions
		if err := publish(r.topics.OCR, "ocr", m); err != nil {
			return sent, err
		}
		if r.scaler != nil {
			if err := r.scaler.WarmUp(ctx); err != nil {
				log.Warn().Err(err).Msg("router_ocr_warmup_failed")
			}
		}
	}

	if st.UseBDA && (ingest.IsPDF(ft) || ingest.IsImage(ft) || ingest.IsVideo(ft) || ingest.IsAudio(ft)) {
		m := base
		m.Processor = ingest.ProcessorBDA
		if err := publish(r.topics.BDA, "bda", m); err != nil {
			return sent, err
		}
	}

	if (ingest.IsVideo(ft) || ingest.IsAudio(ft)) && !ingest.IsWebreq(ft) && st.UseTranscribe {
		m := base
		m.Processor = ingest.ProcessorTranscribe
		if err := publish(r.topics.Transcribe, "transcribe", m); err != nil {
			return sent, err
		}
	}

	// The workflow queue always gets a message; the driver polls preprocess
	// completion from there.
	m := base
	m.Processor = ingest.ProcessorWorkflow
	m.ProcessingType = ingest.ProcessingType(ft)
	m.UseBDA = st.UseBDA
	m.DocumentPrompt = st.DocumentPrompt
	if err := publish(r.topics.Workflow, "workflow", m); err != nil {
		return sent, err
	}

	return sent, nil
}

func extractProjectID(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 2 && parts[0] == "projects" {
		return parts[1]
	}
	return "default"
}

func extractDocumentID(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		if p == "documents" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

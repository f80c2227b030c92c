// Package finalizer combines a segment's track outputs into the final
// combined content, persists the per-segment analysis artifact, and enqueues
// the index write message.
package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/queue"
	"docstream/internal/workflow"
)

// Finalizer assembles and enqueues write messages.
type Finalizer struct {
	objects  objectstore.ObjectStore
	producer queue.Producer
	topic    string
}

// New creates a Finalizer publishing to the given write-queue topic.
func New(objects objectstore.ObjectStore, producer queue.Producer, topic string) *Finalizer {
	return &Finalizer{objects: objects, producer: producer, topic: topic}
}

// toolEntry is one per-tool output with its UTC timestamp.
type toolEntry struct {
	Content   string                  `json:"content"`
	Steps     []workflow.AnalysisStep `json:"steps,omitempty"`
	Timestamp string                  `json:"timestamp"`
}

// Finalize composes content_combined from the non-empty blocks in fixed
// order, writes analysis/segment_{nnnn}.json, and publishes the write
// message.
func (f *Finalizer) Finalize(ctx context.Context, wf *workflow.Workflow, seg *workflow.Segment) error {
	now := time.Now().UTC().Format(time.RFC3339)

	var parts []string
	tools := map[string]any{
		"bda_indexer":        []toolEntry{},
		"pdf_text_extractor": []toolEntry{},
		"image_analysis":     []toolEntry{},
	}

	if seg.BDAContent != "" {
		parts = append(parts, "## BDA Analysis\n"+seg.BDAContent)
		tools["bda_indexer"] = []toolEntry{{Content: seg.BDAContent, Timestamp: now}}
	}
	if seg.ParsedText != "" {
		parts = append(parts, "## PDF Text\n"+seg.ParsedText)
		tools["pdf_text_extractor"] = []toolEntry{{Content: seg.ParsedText, Timestamp: now}}
	}
	if seg.AnalysisResult != "" {
		parts = append(parts, "## AI Analysis\n"+seg.AnalysisResult)
		tools["image_analysis"] = []toolEntry{{
			Content:   seg.AnalysisResult,
			Steps:     seg.AnalysisSteps,
			Timestamp: now,
		}}
	}

	contentCombined := joinBlocks(parts)

	if err := f.writeArtifact(ctx, wf, seg); err != nil {
		return err
	}

	msg := ingest.WriteMessage{
		DocumentID:      wf.DocumentID,
		SegmentID:       seg.SegmentID,
		SegmentIndex:    seg.SegmentIndex,
		WorkflowID:      wf.WorkflowID,
		Status:          "completed",
		Tools:           tools,
		ContentCombined: contentCombined,
		FileURI:         wf.FileURI,
		FileType:        wf.FileType,
		ImageURI:        seg.ImageURI,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal write message: %w", err)
	}
	if err := f.producer.Publish(ctx, queue.Message{
		Topic: f.topic,
		Key:   wf.DocumentID + "/" + seg.SegmentID,
		Value: body,
	}); err != nil {
		return fmt.Errorf("enqueue write message: %w", err)
	}

	log.Info().
		Str("workflow_id", wf.WorkflowID).
		Int("segment_index", seg.SegmentIndex).
		Int("content_length", len(contentCombined)).
		Msg("finalizer_segment_queued")
	return nil
}

// writeArtifact persists the segment analysis JSON next to the upload.
func (f *Finalizer) writeArtifact(ctx context.Context, wf *workflow.Workflow, seg *workflow.Segment) error {
	_, fileKey, err := objectstore.ParseURI(wf.FileURI)
	if err != nil {
		return err
	}
	artifact := map[string]any{
		"segment_index":  seg.SegmentIndex,
		"image_uri":      seg.ImageURI,
		"bda_indexer":    seg.BDAContent,
		"format_parser":  seg.ParsedText,
		"image_analysis": seg.AnalysisSteps,
	}
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal segment artifact: %w", err)
	}
	key := objectstore.DerivedKey(fileKey, fmt.Sprintf("analysis/segment_%04d.json", seg.SegmentIndex))
	if err := f.objects.PutBytes(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("write segment artifact: %w", err)
	}
	return nil
}

func joinBlocks(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

// Package indexwriter consumes write-queue messages and commits them to the
// hybrid index: derive keywords, truncate the embedder input,
// embed, upsert. Failures propagate so the queue retries the message; the
// upsert key makes replays harmless.
package indexwriter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"docstream/internal/embed"
	"docstream/internal/index"
	"docstream/internal/ingest"
	"docstream/internal/keywords"
	"docstream/internal/queue"
)

// Writer commits write messages to the index.
type Writer struct {
	store    index.Store
	embedder embed.Embedder
}

// New creates a Writer.
func New(store index.Store, embedder embed.Embedder) *Writer {
	return &Writer{store: store, embedder: embedder}
}

// Handle processes one write-queue message.
func (w *Writer) Handle(ctx context.Context, msg queue.Message) error {
	var wm ingest.WriteMessage
	if err := json.Unmarshal(msg.Value, &wm); err != nil {
		return queue.Permanent(fmt.Errorf("malformed write message: %w", err))
	}
	if wm.DocumentID == "" || wm.SegmentID == "" {
		return queue.Permanent(fmt.Errorf("write message missing document_id or segment_id"))
	}

	kw := keywords.Extract(wm.ContentCombined)
	content := embed.Truncate(wm.ContentCombined)

	vecs, err := w.embedder.EmbedTexts(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed segment %s/%s: %w", wm.DocumentID, wm.SegmentID, err)
	}
	vector := vecs[0]

	toolsJSON, err := json.Marshal(wm.Tools)
	if err != nil {
		return queue.Permanent(fmt.Errorf("marshal tools: %w", err))
	}

	now := time.Now().UTC()
	status := wm.Status
	if status == "" {
		status = "completed"
	}
	rec := &index.Record{
		DocumentID:      wm.DocumentID,
		SegmentID:       wm.SegmentID,
		SegmentIndex:    wm.SegmentIndex,
		WorkflowID:      wm.WorkflowID,
		Status:          status,
		Content:         content,
		ContentCombined: wm.ContentCombined,
		Keywords:        kw,
		ToolsJSON:       string(toolsJSON),
		FileURI:         wm.FileURI,
		FileType:        wm.FileType,
		ImageURI:        wm.ImageURI,
		Vector:          vector,
		ZeroVector:      embed.IsZero(vector),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := w.store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("upsert %s/%s: %w", wm.DocumentID, wm.SegmentID, err)
	}

	log.Info().
		Str("document_id", wm.DocumentID).
		Str("segment_id", wm.SegmentID).
		Int("segment_index", wm.SegmentIndex).
		Bool("zero_vector", rec.ZeroVector).
		Msg("index_writer_committed")
	return nil
}

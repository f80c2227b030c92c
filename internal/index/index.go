// Package index is the hybrid search store: one row set with a dense ANN
// index on the embedding vector and a full-text index on the extracted
// keywords. Records are upserted by (document_id, segment_id) so replays of
// the same write message are idempotent.
package index

import (
	"context"
	"time"
)

// Record is one committed segment row.
type Record struct {
	DocumentID      string    `json:"document_id"`
	SegmentID       string    `json:"segment_id"`
	SegmentIndex    int       `json:"segment_index"`
	WorkflowID      string    `json:"workflow_id"`
	Status          string    `json:"status"`
	Content         string    `json:"content"` // vector source, capped at 10 000 chars
	ContentCombined string    `json:"content_combined"`
	Keywords        string    `json:"keywords"`
	ToolsJSON       string    `json:"tools_json"`
	FileURI         string    `json:"file_uri"`
	FileType        string    `json:"file_type"`
	ImageURI        string    `json:"image_uri,omitempty"`
	Vector          []float32 `json:"-"`
	ZeroVector      bool      `json:"zero_vector"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Store is the hybrid index interface.
type Store interface {
	// Upsert adds or replaces the record keyed by (document_id, segment_id).
	Upsert(ctx context.Context, rec *Record) error

	// UpdateStatus patches status; an empty segmentID applies to every
	// segment of the document.
	UpdateStatus(ctx context.Context, documentID, segmentID, status string) error

	// GetSegments returns all records of a document in ascending segment_index.
	GetSegments(ctx context.Context, documentID string) ([]*Record, error)

	// Search runs the vector query and the keyword FTS query independently,
	// each capped at limit, and merges them with MergeResults.
	Search(ctx context.Context, query string, limit int) ([]*Record, error)

	// DeleteByWorkflow removes every record owned by the workflow.
	DeleteByWorkflow(ctx context.Context, workflowID string) error
}

// MergeResults implements the fixed hybrid merge: vector hits first, then FTS
// hits, de-duplicated by (document_id, segment_id) keeping the earlier
// occurrence, truncated to limit. The ordering is deliberately stable rather
// than score-fused so results are reproducible and test-observable.
func MergeResults(vector, fts []*Record, limit int) []*Record {
	type key struct{ doc, seg string }
	seen := make(map[key]struct{}, len(vector)+len(fts))
	merged := make([]*Record, 0, min(limit, len(vector)+len(fts)))

	for _, rec := range append(append([]*Record{}, vector...), fts...) {
		k := key{rec.DocumentID, rec.SegmentID}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, rec)
		if len(merged) == limit {
			break
		}
	}
	return merged
}

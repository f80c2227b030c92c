// Package summarizer emits the document-level summary after the index writer
// has drained: concatenate the committed segments, ask the model
// for a structured overview, persist analysis/summary.json, and mark the
// document's records summarized.
package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"docstream/internal/index"
	"docstream/internal/llm"
	"docstream/internal/objectstore"
	"docstream/internal/workflow"
)

// ErrNoSegments reports that a document has nothing to summarize; the
// workflow is marked FAILED with this reason.
var ErrNoSegments = errors.New("no_segments")

const (
	maxPromptChars  = 50000
	maxOutputTokens = 2048
)

// SummaryKey is the artifact path relative to the document directory.
const SummaryKey = "analysis/summary.json"

// Summarizer generates and stores document summaries.
type Summarizer struct {
	provider llm.Provider
	store    index.Store
	objects  objectstore.ObjectStore
}

// New creates a Summarizer.
func New(provider llm.Provider, store index.Store, objects objectstore.ObjectStore) *Summarizer {
	return &Summarizer{provider: provider, store: store, objects: objects}
}

// Summarize pulls the document's committed segments in order, generates the
// summary, writes analysis/summary.json, and updates index status to
// "summarized". Returns ErrNoSegments when the segment set is empty.
func (s *Summarizer) Summarize(ctx context.Context, wf *workflow.Workflow) (string, error) {
	segs, err := s.store.GetSegments(ctx, wf.DocumentID)
	if err != nil {
		return "", fmt.Errorf("load segments: %w", err)
	}
	if len(segs) == 0 {
		return "", ErrNoSegments
	}

	var parts []string
	for _, seg := range segs {
		if seg.ContentCombined == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("### Page %d\n%s", seg.SegmentIndex+1, seg.ContentCombined))
	}
	combined := strings.Join(parts, "\n\n")
	if len(combined) > maxPromptChars {
		combined = combined[:maxPromptChars]
	}

	language := languageName(wf.Settings.Language)
	prompt := fmt.Sprintf(`Summarize the following document analysis results in %s.
Provide a structured summary with:
1. Document Overview (1-2 sentences)
2. Key Findings (3-5 bullet points)
3. Important Data Points
4. Conclusion

Document Analysis:
%s

Summary:`, language, combined)

	reply, err := s.provider.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, nil, maxOutputTokens)
	if err != nil {
		return "", fmt.Errorf("generate summary: %w", err)
	}
	summary := reply.Content

	if err := s.writeSummary(ctx, wf, summary); err != nil {
		return "", err
	}
	if err := s.store.UpdateStatus(ctx, wf.DocumentID, "", "summarized"); err != nil {
		return "", fmt.Errorf("mark summarized: %w", err)
	}

	log.Info().
		Str("document_id", wf.DocumentID).
		Int("segments", len(segs)).
		Int("summary_length", len(summary)).
		Msg("summarizer_done")
	return summary, nil
}

func (s *Summarizer) writeSummary(ctx context.Context, wf *workflow.Workflow, summary string) error {
	_, fileKey, err := objectstore.ParseURI(wf.FileURI)
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(map[string]string{"summary": summary}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	key := objectstore.DerivedKey(fileKey, SummaryKey)
	if err := s.objects.PutBytes(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("write summary.json: %w", err)
	}
	return nil
}

// LoadSummary reads a previously written summary for the workflow's file, or
// "" when none exists.
func LoadSummary(ctx context.Context, objects objectstore.ObjectStore, fileURI string) (string, error) {
	_, fileKey, err := objectstore.ParseURI(fileURI)
	if err != nil {
		return "", err
	}
	data, err := objects.GetBytes(ctx, objectstore.DerivedKey(fileKey, SummaryKey))
	if errors.Is(err, objectstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var out struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parse summary.json: %w", err)
	}
	return out.Summary, nil
}

func languageName(code string) string {
	switch code {
	case "ko":
		return "Korean"
	case "ja":
		return "Japanese"
	case "zh":
		return "Chinese"
	default:
		return "English"
	}
}

// Package segments materializes the ordered segment list for a workflow by
// merging the format-parser output with whatever the external OCR and BDA
// tracks produced.
package segments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"docstream/internal/formatparser"
	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/workflow"
)

// Conventional artifact locations the external tracks write under the
// document prefix.
const (
	OCRResultKey = "preprocess/ocr/result.json"
	BDAResultKey = "preprocess/bda/result.json"
)

// ocrResult is the external OCR track's output shape.
type ocrResult struct {
	Pages []struct {
		PageIndex int    `json:"page_index"`
		Text      string `json:"text"`
		ImageURI  string `json:"image_uri,omitempty"`
	} `json:"pages"`
}

// bdaResult is the external BDA track's merged output shape.
type bdaResult struct {
	Pages []struct {
		PageIndex int    `json:"page_index"`
		Content   string `json:"content"`
	} `json:"pages"`
}

// Builder merges track outputs into segments and persists them.
type Builder struct {
	objects objectstore.ObjectStore
	store   workflow.Store
}

// New creates a Builder.
func New(objects objectstore.ObjectStore, store workflow.Store) *Builder {
	return &Builder{objects: objects, store: store}
}

// Build produces the ordered segment list: one segment per page for paginated
// inputs, one per chunk otherwise, and a single segment for bare images. Each
// segment carries parsed_text from the format parser, bda_content from the
// BDA merge, and an image_uri from the parser renders or the OCR track.
// Segments are persisted to the state store and returned in index order.
func (b *Builder) Build(ctx context.Context, wf *workflow.Workflow, parsed *formatparser.Result) ([]*workflow.Segment, error) {
	_, fileKey, err := objectstore.ParseURI(wf.FileURI)
	if err != nil {
		return nil, err
	}

	ocr := b.loadOCR(ctx, fileKey)
	bda := b.loadBDA(ctx, fileKey)

	var segs []*workflow.Segment
	add := func(text, imageURI string) {
		idx := len(segs)
		segs = append(segs, &workflow.Segment{
			WorkflowID:   wf.WorkflowID,
			SegmentID:    uuid.NewString(),
			SegmentIndex: idx,
			ImageURI:     imageURI,
			ParsedText:   text,
			BDAContent:   bdaContentFor(bda, idx),
			Status:       "built",
		})
	}

	switch {
	case parsed != nil && len(parsed.Pages) > 0:
		for _, page := range parsed.Pages {
			imageURI := page.ImageURI
			if imageURI == "" {
				imageURI = ocrImageFor(ocr, page.PageIndex)
			}
			text := page.Text
			if text == "" {
				text = ocrTextFor(ocr, page.PageIndex)
			}
			add(text, imageURI)
		}

	case parsed != nil && len(parsed.Chunks) > 0:
		for _, chunk := range parsed.Chunks {
			add(chunk.Text, "")
		}

	case ocr != nil && len(ocr.Pages) > 0:
		// No parser output (e.g. scanned input with the parser skipped): the
		// OCR pages drive pagination.
		for _, page := range ocr.Pages {
			add(page.Text, page.ImageURI)
		}

	case ingest.IsImage(wf.FileType):
		// A bare image is one segment whose image is the upload itself.
		add("", wf.FileURI)

	default:
		return nil, nil
	}

	for _, seg := range segs {
		if err := b.store.PutSegment(ctx, seg); err != nil {
			return nil, fmt.Errorf("persist segment %d: %w", seg.SegmentIndex, err)
		}
	}

	log.Info().
		Str("workflow_id", wf.WorkflowID).
		Int("segments", len(segs)).
		Msg("segment_builder_done")
	return segs, nil
}

func (b *Builder) loadOCR(ctx context.Context, fileKey string) *ocrResult {
	data, err := b.objects.GetBytes(ctx, objectstore.DerivedKey(fileKey, OCRResultKey))
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			log.Warn().Err(err).Msg("segment_builder_ocr_read_failed")
		}
		return nil
	}
	var out ocrResult
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn().Err(err).Msg("segment_builder_ocr_parse_failed")
		return nil
	}
	return &out
}

func (b *Builder) loadBDA(ctx context.Context, fileKey string) *bdaResult {
	data, err := b.objects.GetBytes(ctx, objectstore.DerivedKey(fileKey, BDAResultKey))
	if err != nil {
		if !errors.Is(err, objectstore.ErrNotFound) {
			log.Warn().Err(err).Msg("segment_builder_bda_read_failed")
		}
		return nil
	}
	var out bdaResult
	if err := json.Unmarshal(data, &out); err != nil {
		log.Warn().Err(err).Msg("segment_builder_bda_parse_failed")
		return nil
	}
	return &out
}

func bdaContentFor(bda *bdaResult, index int) string {
	if bda == nil {
		return ""
	}
	for _, page := range bda.Pages {
		if page.PageIndex == index {
			return page.Content
		}
	}
	return ""
}

func ocrImageFor(ocr *ocrResult, index int) string {
	if ocr == nil {
		return ""
	}
	for _, page := range ocr.Pages {
		if page.PageIndex == index {
			return page.ImageURI
		}
	}
	return ""
}

func ocrTextFor(ocr *ocrResult, index int) string {
	if ocr == nil {
		return ""
	}
	for _, page := range ocr.Pages {
		if page.PageIndex == index {
			return page.Text
		}
	}
	return ""
}

// Package formatparser implements the FORMAT_PARSER step: per-file-type text
// and page-image extraction. The parse result lands as
// format-parser/result.json under the document prefix, with slide renders at
// format-parser/slides/slide_{nnnn}.png.
package formatparser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"docstream/internal/config"
	"docstream/internal/ingest"
	"docstream/internal/objectstore"
	"docstream/internal/workflow"
)

// Sentinel errors classifying parse failures. Unsupported formats mark the
// step SKIPPED; subprocess failures fail the workflow.
var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrSubprocess        = errors.New("conversion subprocess failed")
)

// Page is one page of a paginated document.
type Page struct {
	PageIndex int    `json:"page_index"`
	Text      string `json:"text"`
	ImageURI  string `json:"image_uri,omitempty"`
}

// Chunk is one window of a non-paginated document.
type Chunk struct {
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Result is the format-parser output. Exactly one of Pages or Chunks is
// populated.
type Result struct {
	FileType string  `json:"file_type"`
	Pages    []Page  `json:"pages,omitempty"`
	Chunks   []Chunk `json:"chunks,omitempty"`
}

// ResultKey is the artifact path relative to the document directory.
const ResultKey = "format-parser/result.json"

// Parser runs the per-file-type extraction.
type Parser struct {
	objects objectstore.ObjectStore
	conv    converter
}

// New creates a Parser.
func New(objects objectstore.ObjectStore, cfg config.ConvertConfig) *Parser {
	return &Parser{objects: objects, conv: converter{cfg: cfg}}
}

// Parse reads the uploaded file, extracts pages or chunks per its type, and
// persists result.json. Returns ErrUnsupportedFormat for types with no
// parser.
func (p *Parser) Parse(ctx context.Context, wf *workflow.Workflow) (*Result, error) {
	_, fileKey, err := objectstore.ParseURI(wf.FileURI)
	if err != nil {
		return nil, err
	}
	data, err := p.objects.GetBytes(ctx, fileKey)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", wf.FileURI, err)
	}

	result := &Result{FileType: wf.FileType}
	switch {
	case ingest.IsPDF(wf.FileType):
		result.Pages, err = extractPDFPages(data)

	case wf.FileType == ingest.MIMEPptx || wf.FileType == ingest.MIMEPpt:
		result.Pages, err = p.parsePresentation(ctx, wf, fileKey, data)

	case wf.FileType == ingest.MIMEDocx || wf.FileType == ingest.MIMEDoc:
		result.Pages, err = p.parseWordDocument(ctx, wf, fileKey, data)

	case ingest.IsSpreadsheet(wf.FileType):
		result.Chunks, err = p.parseSpreadsheet(ctx, wf, data)

	case ingest.IsText(wf.FileType):
		result.Chunks = chunkText(string(data))

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, wf.FileType)
	}
	if err != nil {
		return nil, err
	}

	if err := p.writeResult(ctx, fileKey, result); err != nil {
		return nil, err
	}

	log.Info().
		Str("workflow_id", wf.WorkflowID).
		Str("file_type", wf.FileType).
		Int("pages", len(result.Pages)).
		Int("chunks", len(result.Chunks)).
		Msg("format_parser_done")
	return result, nil
}

// parsePresentation extracts per-slide text from the OOXML part and renders
// each slide through the PDF conversion path.
func (p *Parser) parsePresentation(ctx context.Context, wf *workflow.Workflow, fileKey string, data []byte) ([]Page, error) {
	pptxData := data
	if wf.FileType == ingest.MIMEPpt {
		// Legacy binary .ppt: upgrade to OOXML first for text extraction.
		converted, err := p.conv.convert(ctx, wf.FileName, data, "pptx")
		if err != nil {
			return nil, err
		}
		pptxData = converted
	}

	texts, err := extractPPTXSlides(pptxData)
	if err != nil {
		return nil, fmt.Errorf("extract slides: %w", err)
	}

	images, err := p.renderViaPDF(ctx, wf, fileKey, data)
	if err != nil {
		return nil, err
	}

	pages := make([]Page, len(texts))
	for i, text := range texts {
		pages[i] = Page{PageIndex: i, Text: text}
		if i < len(images) {
			pages[i].ImageURI = images[i]
		}
	}
	return pages, nil
}

// parseWordDocument converts to PDF, extracts per-page text with graphics
// stripping, and renders a PNG per page.
func (p *Parser) parseWordDocument(ctx context.Context, wf *workflow.Workflow, fileKey string, data []byte) ([]Page, error) {
	pdf, err := p.conv.toPDF(ctx, wf.FileName, data)
	if err != nil {
		return nil, err
	}
	pages, err := extractPDFPages(pdf)
	if err != nil {
		return nil, fmt.Errorf("extract converted pdf: %w", err)
	}

	images, err := p.uploadRenders(ctx, wf, fileKey, pdf)
	if err != nil {
		return nil, err
	}
	for i := range pages {
		if i < len(images) {
			pages[i].ImageURI = images[i]
		}
	}
	// The renderer is authoritative for page count; pad when text extraction
	// found fewer text-bearing streams than rendered pages.
	for i := len(pages); i < len(images); i++ {
		pages = append(pages, Page{PageIndex: i, ImageURI: images[i]})
	}
	return pages, nil
}

func (p *Parser) parseSpreadsheet(ctx context.Context, wf *workflow.Workflow, data []byte) ([]Chunk, error) {
	var sheets []sheetTable
	var err error
	switch wf.FileType {
	case "text/csv":
		sheets, err = parseCSV(data)
	case ingest.MIMEXls:
		// Legacy BIFF workbook: upgrade to OOXML first.
		var converted []byte
		converted, err = p.conv.toXLSX(ctx, wf.FileName, data)
		if err == nil {
			sheets, err = parseXLSX(converted)
		}
	default:
		sheets, err = parseXLSX(data)
	}
	if err != nil {
		return nil, err
	}
	return renderSheetChunks(sheets), nil
}

// renderViaPDF converts an office document to PDF and uploads per-page PNGs.
func (p *Parser) renderViaPDF(ctx context.Context, wf *workflow.Workflow, fileKey string, data []byte) ([]string, error) {
	pdf, err := p.conv.toPDF(ctx, wf.FileName, data)
	if err != nil {
		return nil, err
	}
	return p.uploadRenders(ctx, wf, fileKey, pdf)
}

// uploadRenders rasterizes pdf pages and stores them as slide_{nnnn}.png,
// returning their URIs in page order.
func (p *Parser) uploadRenders(ctx context.Context, wf *workflow.Workflow, fileKey string, pdf []byte) ([]string, error) {
	pngs, err := p.conv.renderPages(ctx, pdf)
	if err != nil {
		return nil, err
	}
	uris := make([]string, len(pngs))
	for i, img := range pngs {
		key := objectstore.DerivedKey(fileKey, fmt.Sprintf("format-parser/slides/slide_%04d.png", i))
		if err := p.objects.PutBytes(ctx, key, img, "image/png"); err != nil {
			return nil, fmt.Errorf("upload slide %d: %w", i, err)
		}
		uris[i] = objectstore.FormatURI(p.objects.Bucket(), key)
	}
	return uris, nil
}

func (p *Parser) writeResult(ctx context.Context, fileKey string, result *Result) error {
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	key := objectstore.DerivedKey(fileKey, ResultKey)
	if err := p.objects.PutBytes(ctx, key, payload, "application/json"); err != nil {
		return fmt.Errorf("write result.json: %w", err)
	}
	return nil
}

// LoadResult reads a previously written result.json for the workflow's file.
func LoadResult(ctx context.Context, objects objectstore.ObjectStore, fileURI string) (*Result, error) {
	_, fileKey, err := objectstore.ParseURI(fileURI)
	if err != nil {
		return nil, err
	}
	data, err := objects.GetBytes(ctx, objectstore.DerivedKey(fileKey, ResultKey))
	if err != nil {
		return nil, err
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse result.json: %w", err)
	}
	return &result, nil
}

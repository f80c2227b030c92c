package formatparser

import (
	"archive/zip"
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docstream/internal/config"
	"docstream/internal/objectstore"
	"docstream/internal/workflow"
)

func testParser(objects objectstore.ObjectStore) *Parser {
	return New(objects, config.ConvertConfig{
		SofficePath:  "soffice",
		PdftoppmPath: "pdftoppm",
		RenderDPI:    150,
	})
}

func wfFor(name, mime string) *workflow.Workflow {
	return &workflow.Workflow{
		WorkflowID: "wf1",
		DocumentID: "d1",
		ProjectID:  "p1",
		FileURI:    "store://uploads/projects/p1/documents/d1/" + name,
		FileName:   name,
		FileType:   mime,
	}
}

func TestParse_PDFWritesResult(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	pdf := buildPDF("BT (alpha) Tj ET", "BT (beta) Tj ET", "BT (gamma) Tj ET")
	require.NoError(t, objects.PutBytes(ctx, "projects/p1/documents/d1/intro.pdf", pdf, "application/pdf"))

	p := testParser(objects)
	result, err := p.Parse(ctx, wfFor("intro.pdf", "application/pdf"))
	require.NoError(t, err)
	require.Len(t, result.Pages, 3)
	assert.Equal(t, "beta", result.Pages[1].Text)

	// result.json landed under the document prefix and round-trips.
	loaded, err := LoadResult(ctx, objects, "store://uploads/projects/p1/documents/d1/intro.pdf")
	require.NoError(t, err)
	require.Len(t, loaded.Pages, 3)
	assert.Equal(t, "gamma", loaded.Pages[2].Text)
}

func TestParse_UnsupportedType(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	require.NoError(t, objects.PutBytes(ctx, "projects/p1/documents/d1/archive.zip", []byte("zipzip"), ""))

	p := testParser(objects)
	_, err := p.Parse(ctx, wfFor("archive.zip", "application/zip"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestParse_TextChunking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")

	// Two windows: the content exceeds one window size.
	content := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 400)
	require.NoError(t, objects.PutBytes(ctx, "projects/p1/documents/d1/notes.txt", []byte(content), "text/plain"))

	p := testParser(objects)
	result, err := p.Parse(ctx, wfFor("notes.txt", "text/plain"))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Chunks), 2)
	for i, c := range result.Chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.LessOrEqual(t, len(c.Text), textWindowSize)
	}
	// Windows prefer sentence boundaries.
	assert.True(t, strings.HasSuffix(strings.TrimSpace(result.Chunks[0].Text), "."))
}

func TestChunkText_OverlapCarriesTail(t *testing.T) {
	t.Parallel()
	content := strings.Repeat("Sentence number one is here. ", 700)
	chunks := chunkText(content)
	require.GreaterOrEqual(t, len(chunks), 2)

	// The second window restarts inside the first window's tail.
	tail := chunks[0].Text[len(chunks[0].Text)-100:]
	assert.Contains(t, chunks[1].Text[:600], tail[:50])
}

func TestParse_CSVSingleSheetShape(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	require.NoError(t, objects.PutBytes(ctx, "projects/p1/documents/d1/data.csv",
		[]byte("a,b\n1,2\n"), "text/csv"))

	p := testParser(objects)
	result, err := p.Parse(ctx, wfFor("data.csv", "text/csv"))
	require.NoError(t, err)
	require.Len(t, result.Chunks, 1)
	assert.True(t, strings.HasPrefix(result.Chunks[0].Text, "## Sheet: Sheet1"))
	assert.Contains(t, result.Chunks[0].Text, "| a | b |")
	assert.Contains(t, result.Chunks[0].Text, "| 1 | 2 |")
}

// buildXLSX assembles a minimal two-sheet OOXML workbook.
func buildXLSX(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	write("xl/workbook.xml", `<?xml version="1.0"?>
<workbook xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheets>
    <sheet name="Sheet1" sheetId="1"/>
    <sheet name="Sheet2" sheetId="2"/>
  </sheets>
</workbook>`)
	write("xl/sharedStrings.xml", `<?xml version="1.0"?>
<sst><si><t>a</t></si><si><t>b</t></si><si><t>x</t></si><si><t>y</t></si></sst>`)
	write("xl/worksheets/sheet1.xml", `<?xml version="1.0"?>
<worksheet><sheetData>
  <row r="1"><c r="A1" t="s"><v>0</v></c><c r="B1" t="s"><v>1</v></c></row>
  <row r="2"><c r="A2"><v>1</v></c><c r="B2"><v>2</v></c></row>
</sheetData></worksheet>`)
	write("xl/worksheets/sheet2.xml", `<?xml version="1.0"?>
<worksheet><sheetData>
  <row r="1"><c r="A1" t="s"><v>2</v></c></row>
  <row r="2"><c r="A2" t="s"><v>3</v></c></row>
</sheetData></worksheet>`)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestParse_XLSXTwoSheets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	objects := objectstore.NewMemoryStore("uploads")
	require.NoError(t, objects.PutBytes(ctx, "projects/p1/documents/d1/book.xlsx", buildXLSX(t), ""))

	p := testParser(objects)
	result, err := p.Parse(ctx, wfFor("book.xlsx",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
	require.NoError(t, err)
	require.Len(t, result.Chunks, 2)
	assert.True(t, strings.HasPrefix(result.Chunks[0].Text, "## Sheet: Sheet1"))
	assert.Contains(t, result.Chunks[0].Text, "| a | b |")
	assert.Contains(t, result.Chunks[0].Text, "| 1 | 2 |")
	assert.True(t, strings.HasPrefix(result.Chunks[1].Text, "## Sheet: Sheet2"))
	assert.Contains(t, result.Chunks[1].Text, "| x |")
}

func TestRenderSheetChunks_SanitizesCells(t *testing.T) {
	t.Parallel()
	chunks := renderSheetChunks([]sheetTable{{
		Name: "S",
		Rows: [][]string{
			{"head"},
			{"line1\nline2"},
			{"pipe|here"},
			{"", ""},
		},
	}})
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Text, "line1 line2")
	assert.Contains(t, chunks[0].Text, `pipe\|here`)
	assert.NotContains(t, chunks[0].Text, "|  |  |")
}

// buildPPTX assembles a minimal two-slide deck with a table and notes.
func buildPPTX(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name, content string) {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	write("ppt/slides/slide1.xml", `<?xml version="1.0"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:txBody><a:p><a:r><a:t>Title One</a:t></a:r></a:p></p:txBody>
  <a:tbl>
    <a:tr><a:tc><a:txBody><a:p><a:r><a:t>c1</a:t></a:r></a:p></a:txBody></a:tc>
          <a:tc><a:txBody><a:p><a:r><a:t>c2</a:t></a:r></a:p></a:txBody></a:tc></a:tr>
  </a:tbl>
</p:sld>`)
	write("ppt/notesSlides/notesSlide1.xml", `<?xml version="1.0"?>
<p:notes xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:txBody><a:p><a:r><a:t>remember this</a:t></a:r></a:p></p:txBody>
</p:notes>`)
	write("ppt/slides/slide2.xml", `<?xml version="1.0"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:txBody><a:p><a:r><a:t>Second</a:t></a:r></a:p></p:txBody>
</p:sld>`)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtractPPTXSlides(t *testing.T) {
	t.Parallel()
	texts, err := extractPPTXSlides(buildPPTX(t))
	require.NoError(t, err)
	require.Len(t, texts, 2)
	assert.Contains(t, texts[0], "Title One")
	assert.Contains(t, texts[0], "c1 | c2")
	assert.Contains(t, texts[0], "[Notes] remember this")
	assert.Contains(t, texts[1], "Second")
}

package formatparser

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a minimal digital PDF with one content stream per page.
func buildPDF(streams ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	for i, s := range streams {
		fmt.Fprintf(&buf, "%d 0 obj\n<< /Length %d >>\nstream\n%s\nendstream\nendobj\n", i+1, len(s), s)
	}
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}

func TestExtractPDFPages_PerPageText(t *testing.T) {
	t.Parallel()
	pdf := buildPDF(
		"BT /F1 12 Tf (alpha) Tj ET",
		"BT /F1 12 Tf (beta) Tj ET",
		"BT /F1 12 Tf (gamma) Tj ET",
	)
	pages, err := extractPDFPages(pdf)
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Equal(t, "alpha", pages[0].Text)
	assert.Equal(t, "beta", pages[1].Text)
	assert.Equal(t, "gamma", pages[2].Text)
	for i, p := range pages {
		assert.Equal(t, i, p.PageIndex)
	}
}

func TestExtractPDFPages_StripsGraphicsOperators(t *testing.T) {
	t.Parallel()
	// Drawing operators surround the text block; only BT…ET content survives.
	stream := "q 1 0 0 1 50 50 cm 0 0 100 100 re f Q BT (kept text) Tj ET 10 10 m 90 90 l S"
	pages, err := extractPDFPages(buildPDF(stream))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "kept text", pages[0].Text)
}

func TestExtractPDFPages_FlateStream(t *testing.T) {
	t.Parallel()
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, err := w.Write([]byte("BT (compressed page) Tj ET"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	fmt.Fprintf(&buf, "1 0 obj\n<< /Length %d /Filter /FlateDecode >>\nstream\n", compressed.Len())
	buf.Write(compressed.Bytes())
	buf.WriteString("\nendstream\nendobj\n%%EOF\n")

	pages, err := extractPDFPages(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "compressed page", pages[0].Text)
}

func TestExtractPDFPages_TJArrayAndEscapes(t *testing.T) {
	t.Parallel()
	stream := `BT [(Hel) -20 (lo \(world\))] TJ ET`
	pages, err := extractPDFPages(buildPDF(stream))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Hello (world)", pages[0].Text)
}

func TestExtractPDFPages_LineBreaksOnTd(t *testing.T) {
	t.Parallel()
	stream := "BT (first) Tj 0 -14 Td (second) Tj ET"
	pages, err := extractPDFPages(buildPDF(stream))
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "first\nsecond", pages[0].Text)
}

func TestExtractPDFPages_NotAPDF(t *testing.T) {
	t.Parallel()
	_, err := extractPDFPages([]byte("PK\x03\x04 this is a zip"))
	assert.Error(t, err)
}

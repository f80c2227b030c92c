package formatparser

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
)

// extractPDFPages pulls per-page text out of raw PDF bytes. Each content
// stream is stripped down to its BT…ET text blocks before operator parsing,
// so graphics-heavy pages cost no more than their text. One text-bearing
// content stream corresponds to one page, in file order.
func extractPDFPages(data []byte) ([]Page, error) {
	streams := contentStreams(data)
	if len(streams) == 0 {
		if !bytes.HasPrefix(data, []byte("%PDF")) {
			return nil, fmt.Errorf("not a pdf document")
		}
		return nil, nil
	}

	var pages []Page
	for _, stream := range streams {
		text := textFromContentStream(stripNonText(stream))
		pages = append(pages, Page{PageIndex: len(pages), Text: text})
	}
	return pages, nil
}

// contentStreams returns every decoded stream in the file that carries text
// operators. Flate-compressed streams are inflated; streams with other
// filters are skipped.
func contentStreams(data []byte) [][]byte {
	var out [][]byte
	rest := data
	for {
		start := bytes.Index(rest, []byte("stream"))
		if start < 0 {
			break
		}
		// The dictionary immediately precedes the stream keyword.
		dictStart := bytes.LastIndex(rest[:start], []byte("<<"))
		dict := []byte{}
		if dictStart >= 0 {
			dict = rest[dictStart:start]
		}

		body := rest[start+len("stream"):]
		body = bytes.TrimPrefix(body, []byte("\r\n"))
		body = bytes.TrimPrefix(body, []byte("\n"))
		end := bytes.Index(body, []byte("endstream"))
		if end < 0 {
			break
		}
		payload := bytes.TrimRight(body[:end], "\r\n")

		if bytes.Contains(dict, []byte("/FlateDecode")) {
			if inflated, err := inflate(payload); err == nil {
				payload = inflated
			} else {
				payload = nil
			}
		} else if bytes.Contains(dict, []byte("/Filter")) {
			// Unsupported filter (DCT, LZW, ...): never text content.
			payload = nil
		}

		if payload != nil && bytes.Contains(payload, []byte("BT")) {
			out = append(out, payload)
		}
		rest = body[end+len("endstream"):]
	}
	return out
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}

// stripNonText removes every content-stream operator outside BT…ET blocks.
func stripNonText(content []byte) []byte {
	var kept bytes.Buffer
	rest := content
	for {
		bt := indexToken(rest, "BT")
		if bt < 0 {
			break
		}
		rest = rest[bt:]
		et := indexToken(rest, "ET")
		if et < 0 {
			kept.Write(rest)
			break
		}
		kept.Write(rest[:et+2])
		kept.WriteByte('\n')
		rest = rest[et+2:]
	}
	return kept.Bytes()
}

// indexToken finds tok as a standalone operator, not as part of a longer name
// or inside a string literal.
func indexToken(data []byte, tok string) int {
	depth := 0
	for i := 0; i+len(tok) <= len(data); i++ {
		switch data[i] {
		case '(':
			if i == 0 || data[i-1] != '\\' {
				depth++
			}
		case ')':
			if depth > 0 && (i == 0 || data[i-1] != '\\') {
				depth--
			}
		}
		if depth > 0 {
			continue
		}
		if string(data[i:i+len(tok)]) != tok {
			continue
		}
		beforeOK := i == 0 || isPDFDelim(data[i-1])
		after := i + len(tok)
		afterOK := after == len(data) || isPDFDelim(data[after])
		if beforeOK && afterOK {
			return i
		}
	}
	return -1
}

func isPDFDelim(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0, '[', ']', '(', ')', '<', '>', '/':
		return true
	}
	return false
}

// textFromContentStream evaluates the text-showing operators (Tj, TJ, ', ")
// of an already-stripped content stream. TD/Td/T* start new lines.
func textFromContentStream(content []byte) string {
	var sb strings.Builder
	i := 0
	flushLine := func() {
		if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
			sb.WriteByte('\n')
		}
	}
	for i < len(content) {
		switch content[i] {
		case '(':
			str, next := parseLiteralString(content, i)
			sb.WriteString(str)
			i = next
		case '<':
			if i+1 < len(content) && content[i+1] == '<' {
				i += 2
				continue
			}
			str, next := parseHexString(content, i)
			sb.WriteString(str)
			i = next
		case 'T':
			if i+1 < len(content) {
				switch content[i+1] {
				case 'd', 'D', '*':
					flushLine()
				}
			}
			i++
		case '\'', '"':
			flushLine()
			i++
		default:
			i++
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// parseLiteralString reads a (…) string starting at open paren, handling
// escapes and nested parens. Returns the decoded text and the index after the
// closing paren.
func parseLiteralString(content []byte, start int) (string, int) {
	var sb strings.Builder
	depth := 0
	i := start
	for i < len(content) {
		b := content[i]
		switch b {
		case '\\':
			if i+1 < len(content) {
				switch content[i+1] {
				case 'n':
					sb.WriteByte('\n')
				case 'r':
					sb.WriteByte('\r')
				case 't':
					sb.WriteByte('\t')
				case '(', ')', '\\':
					sb.WriteByte(content[i+1])
				}
				i += 2
				continue
			}
			i++
		case '(':
			depth++
			if depth > 1 {
				sb.WriteByte(b)
			}
			i++
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), i + 1
			}
			sb.WriteByte(b)
			i++
		default:
			if depth > 0 {
				sb.WriteByte(b)
			}
			i++
		}
	}
	return sb.String(), i
}

// parseHexString reads a <…> hex string; bytes outside printable ASCII are
// dropped since simple-font hex strings are rare in digital PDFs.
func parseHexString(content []byte, start int) (string, int) {
	end := bytes.IndexByte(content[start:], '>')
	if end < 0 {
		return "", len(content)
	}
	hexBody := content[start+1 : start+end]
	var sb strings.Builder
	var nibble byte
	have := false
	for _, b := range hexBody {
		var v byte
		switch {
		case b >= '0' && b <= '9':
			v = b - '0'
		case b >= 'a' && b <= 'f':
			v = b - 'a' + 10
		case b >= 'A' && b <= 'F':
			v = b - 'A' + 10
		default:
			continue
		}
		if !have {
			nibble = v
			have = true
			continue
		}
		decoded := nibble<<4 | v
		have = false
		if decoded >= 0x20 && decoded < 0x7F {
			sb.WriteByte(decoded)
		}
	}
	return sb.String(), start + end + 1
}

package formatparser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var (
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	notesNameRe = regexp.MustCompile(`^ppt/notesSlides/notesSlide(\d+)\.xml$`)
)

// extractPPTXSlides pulls per-slide text from a .pptx archive: title and body
// paragraphs, table rows joined with " | ", and speaker notes prefixed
// "[Notes] ".
func extractPPTXSlides(data []byte) ([]string, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pptx zip: %w", err)
	}

	slides := map[int]string{}
	notes := map[int]string{}
	for _, f := range r.File {
		if m := slideNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			text, err := slideXMLText(f)
			if err != nil {
				return nil, err
			}
			slides[n] = text
		} else if m := notesNameRe.FindStringSubmatch(f.Name); m != nil {
			n, _ := strconv.Atoi(m[1])
			text, err := slideXMLText(f)
			if err != nil {
				return nil, err
			}
			notes[n] = text
		}
	}
	if len(slides) == 0 {
		return nil, fmt.Errorf("pptx has no slides")
	}

	nums := make([]int, 0, len(slides))
	for n := range slides {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	out := make([]string, 0, len(nums))
	for _, n := range nums {
		text := slides[n]
		if note := strings.TrimSpace(notes[n]); note != "" {
			if text != "" {
				text += "\n"
			}
			text += "[Notes] " + note
		}
		out = append(out, text)
	}
	return out, nil
}

// slideXMLText walks one slide (or notes) part. DrawingML text runs are a:t
// elements; paragraphs (a:p) break lines, table rows (a:tr) join their cell
// texts with " | ".
func slideXMLText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}

	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false

	var (
		lines    []string
		para     strings.Builder
		inT      bool
		rowCells []string
		cell     strings.Builder
		inCell   bool
	)

	flushPara := func() {
		if s := strings.TrimSpace(para.String()); s != "" {
			if inCell {
				// Paragraph inside a table cell accumulates into the cell.
				if cell.Len() > 0 {
					cell.WriteByte(' ')
				}
				cell.WriteString(s)
			} else {
				lines = append(lines, s)
			}
		}
		para.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", f.Name, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inT = true
			case "tr":
				rowCells = nil
			case "tc":
				inCell = true
				cell.Reset()
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				flushPara()
			case "tc":
				flushPara()
				rowCells = append(rowCells, strings.TrimSpace(cell.String()))
				inCell = false
			case "tr":
				lines = append(lines, strings.Join(rowCells, " | "))
			}
		case xml.CharData:
			if inT {
				para.Write(t)
			}
		}
	}
	return strings.Join(lines, "\n"), nil
}

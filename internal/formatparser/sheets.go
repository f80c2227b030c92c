package formatparser

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// sheetTable is one worksheet flattened to rows of cell strings.
type sheetTable struct {
	Name string
	Rows [][]string
}

// renderSheetChunks turns worksheets into one markdown-table chunk per sheet.
// Empty rows are skipped; cells are sanitized (newlines → space, pipes
// escaped) so they cannot break the table.
func renderSheetChunks(sheets []sheetTable) []Chunk {
	var chunks []Chunk
	for _, sheet := range sheets {
		var rows [][]string
		for _, row := range sheet.Rows {
			if rowEmpty(row) {
				continue
			}
			clean := make([]string, len(row))
			for i, cellVal := range row {
				clean[i] = sanitizeCell(cellVal)
			}
			rows = append(rows, clean)
		}
		if len(rows) == 0 {
			continue
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "## Sheet: %s\n\n", sheet.Name)
		sb.WriteString("| " + strings.Join(rows[0], " | ") + " |\n")
		sb.WriteString("|" + strings.Repeat(" --- |", len(rows[0])) + "\n")
		for _, row := range rows[1:] {
			sb.WriteString("| " + strings.Join(row, " | ") + " |\n")
		}
		chunks = append(chunks, Chunk{ChunkIndex: len(chunks), Text: strings.TrimRight(sb.String(), "\n")})
	}
	return chunks
}

func rowEmpty(row []string) bool {
	for _, cellVal := range row {
		if strings.TrimSpace(cellVal) != "" {
			return false
		}
	}
	return true
}

func sanitizeCell(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.TrimSpace(s)
}

// parseCSV reads the whole file as a single sheet named Sheet1.
func parseCSV(data []byte) ([]sheetTable, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return []sheetTable{{Name: "Sheet1", Rows: rows}}, nil
}

// parseXLSX reads worksheets out of a .xlsx archive: workbook.xml for sheet
// names and order, sharedStrings.xml for the string table, then each
// sheetN.xml for the cell grid.
func parseXLSX(data []byte) ([]sheetTable, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx zip: %w", err)
	}

	files := map[string]*zip.File{}
	for _, f := range r.File {
		files[f.Name] = f
	}

	names, err := workbookSheetNames(files["xl/workbook.xml"])
	if err != nil {
		return nil, err
	}
	shared, err := sharedStrings(files["xl/sharedStrings.xml"])
	if err != nil {
		return nil, err
	}

	var sheets []sheetTable
	for i, name := range names {
		f := files[fmt.Sprintf("xl/worksheets/sheet%d.xml", i+1)]
		if f == nil {
			continue
		}
		rows, err := worksheetRows(f, shared)
		if err != nil {
			return nil, err
		}
		sheets = append(sheets, sheetTable{Name: name, Rows: rows})
	}
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no worksheets")
	}
	return sheets, nil
}

func workbookSheetNames(f *zip.File) ([]string, error) {
	if f == nil {
		return nil, fmt.Errorf("xlsx missing workbook.xml")
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false
	var names []string
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse workbook.xml: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "sheet" {
			for _, attr := range start.Attr {
				if attr.Name.Local == "name" {
					names = append(names, attr.Value)
				}
			}
		}
	}
	return names, nil
}

func sharedStrings(f *zip.File) ([]string, error) {
	if f == nil {
		return nil, nil
	}
	raw, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false
	var (
		out     []string
		current strings.Builder
		inT     bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sharedStrings.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inT = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, current.String())
				current.Reset()
			}
		case xml.CharData:
			if inT {
				current.Write(t)
			}
		}
	}
	return out, nil
}

// worksheetRows reads the cell grid. Cell references (A1, B2, ...) place
// values in their columns so gaps stay visible.
func worksheetRows(f *zip.File, shared []string) ([][]string, error) {
	raw, err := readZipFile(f)
	if err != nil {
		return nil, err
	}
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	decoder.Strict = false

	var (
		rows     [][]string
		row      []string
		cellType string
		cellCol  int
		inV      bool
		inIS     bool
		value    strings.Builder
	)

	placeCell := func(text string) {
		for len(row) <= cellCol {
			row = append(row, "")
		}
		row[cellCol] = text
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse worksheet: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				row = nil
			case "c":
				cellType = ""
				cellCol = len(row)
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "t":
						cellType = attr.Value
					case "r":
						cellCol = columnIndex(attr.Value)
					}
				}
			case "v":
				inV = true
				value.Reset()
			case "is":
				inIS = true
			case "t":
				if inIS {
					inV = true
					value.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "row":
				rows = append(rows, row)
			case "v":
				inV = false
				text := value.String()
				if cellType == "s" {
					if idx, err := strconv.Atoi(text); err == nil && idx >= 0 && idx < len(shared) {
						text = shared[idx]
					}
				}
				placeCell(text)
			case "t":
				if inIS && inV {
					inV = false
					placeCell(value.String())
				}
			case "is":
				inIS = false
			}
		case xml.CharData:
			if inV {
				value.Write(t)
			}
		}
	}
	return rows, nil
}

// columnIndex converts an A1-style reference to a zero-based column number.
func columnIndex(ref string) int {
	col := 0
	for _, r := range ref {
		if r >= 'A' && r <= 'Z' {
			col = col*26 + int(r-'A') + 1
		} else if r >= 'a' && r <= 'z' {
			col = col*26 + int(r-'a') + 1
		} else {
			break
		}
	}
	if col == 0 {
		return 0
	}
	return col - 1
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, nil
}

package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook is a spreadsheet read as header-keyed records.
type Workbook struct {
	Sheets []Sheet
}

// Sheet is one worksheet. The first non-empty row is the header.
type Sheet struct {
	Name    string
	Headers []string // normalised, see NormalizeHeader
	Records []Record
}

// Record is one data row keyed by normalised header.
type Record struct {
	Row    int // 1-based spreadsheet row number
	Fields map[string]string
}

// Get returns the trimmed value of a column, or "".
func (r Record) Get(header string) string {
	return strings.TrimSpace(r.Fields[NormalizeHeader(header)])
}

// Sheet returns the sheet with the given name, compared
// case-insensitively, or nil.
func (w *Workbook) Sheet(name string) *Sheet {
	for i := range w.Sheets {
		if strings.EqualFold(strings.TrimSpace(w.Sheets[i].Name), name) {
			return &w.Sheets[i]
		}
	}
	return nil
}

// ReadWorkbook opens an XLSX file and reads every sheet.
func ReadWorkbook(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

// ReadWorkbookFrom reads an XLSX workbook from r.
func ReadWorkbookFrom(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()
	return readWorkbook(f)
}

func readWorkbook(f *excelize.File) (*Workbook, error) {
	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", name, err)
		}

		sheet := Sheet{Name: name}
		headerRow := -1
		for i, row := range rows {
			if headerRow < 0 {
				if isBlankRow(row) {
					continue
				}
				headerRow = i
				sheet.Headers = make([]string, len(row))
				for j, h := range row {
					sheet.Headers[j] = NormalizeHeader(h)
				}
				continue
			}
			if isBlankRow(row) {
				continue
			}

			rec := Record{Row: i + 1, Fields: make(map[string]string, len(sheet.Headers))}
			for j, h := range sheet.Headers {
				if h == "" || j >= len(row) {
					continue
				}
				rec.Fields[h] = row[j]
			}
			sheet.Records = append(sheet.Records, rec)
		}
		wb.Sheets = append(wb.Sheets, sheet)
	}

	if len(wb.Sheets) == 0 {
		return nil, fmt.Errorf("no sheets found in XLSX")
	}
	return wb, nil
}

// NormalizeHeader lower-cases a header and joins its words with "_".
func NormalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(h)), "_")
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

type DOCXParser struct{}

func (p *DOCXParser) SupportedFormats() []string { return []string{"docx"} }

func (p *DOCXParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening DOCX: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in DOCX")
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("opening document.xml: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}

	text, err := docxBodyText(data)
	if err != nil {
		return nil, fmt.Errorf("parsing DOCX XML: %w", err)
	}
	return &ParseResult{Text: text, Method: "native"}, nil
}

// DOCX XML structures (simplified)
type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

// docxBodyText returns the body paragraphs and tables in document order,
// one block per line. Table rows are rendered as "cell | cell".
func docxBodyText(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var blocks []string
	depth, bodyDepth := 0, -1
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			if el.Name.Local == "body" && bodyDepth < 0 {
				bodyDepth = depth
				continue
			}
			if bodyDepth < 0 || depth != bodyDepth+1 {
				continue
			}
			switch el.Name.Local {
			case "p":
				var para docxPara
				if err := dec.DecodeElement(&para, &el); err != nil {
					return "", err
				}
				depth--
				if text := strings.TrimSpace(extractParaText(para)); text != "" {
					blocks = append(blocks, text)
				}
			case "tbl":
				var tbl docxTable
				if err := dec.DecodeElement(&tbl, &el); err != nil {
					return "", err
				}
				depth--
				blocks = append(blocks, tableLines(tbl)...)
			}
		case xml.EndElement:
			if depth == bodyDepth {
				bodyDepth = -1
			}
			depth--
		}
	}
	return strings.Join(blocks, "\n"), nil
}

func tableLines(tbl docxTable) []string {
	var lines []string
	for _, row := range tbl.Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			var parts []string
			for _, p := range cell.Paras {
				if t := strings.TrimSpace(extractParaText(p)); t != "" {
					parts = append(parts, t)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		if line := strings.Trim(strings.Join(cells, " | "), " |"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func extractParaText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return b.String()
}

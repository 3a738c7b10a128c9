// Package parser extracts plain text from uploaded documents (CVs) and
// reads import workbooks.
package parser

import "context"

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Text   string // Extracted text, paragraphs separated by blank lines
	Pages  int    // Page count where the format has pages, else 0
	Method string // "native"
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

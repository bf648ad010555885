package pdfextract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docuchat/internal/apperr"
)

// DefaultMaxSize bounds the raw document size accepted by Extract.
const DefaultMaxSize = 10 << 20

var pdfMagic = []byte("%PDF-")

type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Table is a best-effort tabular region: rows of cell strings from one page.
type Table struct {
	Page int        `json:"page"`
	Rows [][]string `json:"rows"`
}

type Result struct {
	Pages  []Page  `json:"pages"`
	Tables []Table `json:"tables"`
}

// PageOffset marks the rune offset at which a page starts inside Result.Text.
type PageOffset struct {
	Page  int
	Start int
}

// Extract parses raw PDF bytes into ordered page texts and detected tables.
// maxSize <= 0 disables the size check.
func Extract(data []byte, maxSize int64) (result *Result, err error) {
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: document is %d bytes, limit is %d", apperr.ErrInvalidInput, len(data), maxSize)
	}
	if !IsPDF(data) {
		return nil, fmt.Errorf("%w: missing %%PDF header", apperr.ErrUnsupportedFormat)
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: parser panic: %v", apperr.ErrExtraction, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, fmt.Errorf("%w: document is encrypted", apperr.ErrExtraction)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrExtraction, err)
	}

	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: document has no pages", apperr.ErrExtraction)
	}

	result = &Result{Pages: make([]Page, 0, total)}
	for i := 1; i <= total; i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", apperr.ErrExtraction, i, err)
		}
		result.Pages = append(result.Pages, Page{Number: i, Text: CleanText(text)})

		rows, err := p.GetTextByRow()
		if err != nil {
			// tables are optional
			continue
		}
		result.Tables = append(result.Tables, detectTables(i, rows)...)
	}
	return result, nil
}

// IsPDF reports whether data starts with the PDF header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}

// Text joins non-empty pages with a blank line and returns the rune offset of
// each page inside the joined text.
func (r *Result) Text() (string, []PageOffset) {
	var b strings.Builder
	offsets := make([]PageOffset, 0, len(r.Pages))
	pos := 0
	for _, p := range r.Pages {
		if p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
			pos += 2
		}
		offsets = append(offsets, PageOffset{Page: p.Number, Start: pos})
		b.WriteString(p.Text)
		pos += utf8.RuneCountInString(p.Text)
	}
	return b.String(), offsets
}

// PageAt returns the page containing the rune offset, or 0 when offsets is empty.
func PageAt(offsets []PageOffset, offset int) int {
	page := 0
	for _, o := range offsets {
		if o.Start > offset {
			break
		}
		page = o.Page
	}
	return page
}

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes whitespace produced by text extraction.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	s = strings.Join(lines, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

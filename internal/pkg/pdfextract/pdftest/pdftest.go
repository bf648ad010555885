// Package pdftest builds small uncompressed PDF documents for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

type Page struct {
	// Lines are drawn top to bottom, one text operator per line.
	Lines []string
	// Table rows are drawn below the lines. Each cell is placed with its own
	// text matrix so extractors see its real position.
	Table [][]string
}

// Text returns a page of plain lines.
func Text(lines ...string) Page {
	return Page{Lines: lines}
}

// Build writes a PDF with one Helvetica font and the given pages.
func Build(pages ...Page) []byte {
	var buf bytes.Buffer
	var offsets []int
	write := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	write("<< /Type /Catalog /Pages 2 0 R >>")
	write(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	write("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	for i, p := range pages {
		content := p.stream()
		write(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+2*i))
		write(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func (p Page) stream() string {
	var b strings.Builder
	y := 740
	for _, line := range p.Lines {
		fmt.Fprintf(&b, "BT /F1 11 Tf 72 %d Td (%s) Tj ET\n", y, escape(line))
		y -= 14
	}
	y -= 14
	for _, row := range p.Table {
		for j, cell := range row {
			fmt.Fprintf(&b, "BT /F1 11 Tf 1 0 0 1 %d %d Tm (%s) Tj ET\n", 72+140*j, y, escape(cell))
		}
		y -= 16
	}
	return strings.TrimRight(b.String(), "\n")
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`)
	return r.Replace(s)
}

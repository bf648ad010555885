package pdfextract

import (
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	// text runs closer than this on the X axis belong to the same cell
	minColumnGap = 4.0
	// column starts within this distance are considered aligned across rows
	columnTolerance = 3.0
	minTableRows    = 2
	minTableColumns = 2
)

type cellRow struct {
	starts []float64
	cells  []string
}

// detectTables groups consecutive rows that split into the same number of
// aligned columns. Prose lines come back as a single run and never qualify.
func detectTables(page int, rows pdf.Rows) []Table {
	var (
		tables  []Table
		current []cellRow
	)
	flush := func() {
		if len(current) >= minTableRows {
			t := Table{Page: page, Rows: make([][]string, 0, len(current))}
			for _, r := range current {
				t.Rows = append(t.Rows, r.cells)
			}
			tables = append(tables, t)
		}
		current = nil
	}

	for _, row := range rows {
		if row == nil {
			continue
		}
		cr := splitCells(row.Content)
		if len(cr.cells) < minTableColumns {
			flush()
			continue
		}
		if len(current) > 0 && !aligned(current[len(current)-1], cr) {
			flush()
		}
		current = append(current, cr)
	}
	flush()
	return tables
}

func splitCells(content pdf.TextHorizontal) cellRow {
	runs := make([]pdf.Text, 0, len(content))
	for _, t := range content {
		if strings.TrimSpace(t.S) == "" {
			continue
		}
		runs = append(runs, t)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].X < runs[j].X })

	var cr cellRow
	for _, t := range runs {
		n := len(cr.starts)
		if n > 0 && t.X-cr.starts[n-1] < minColumnGap {
			cr.cells[n-1] += t.S
			continue
		}
		cr.starts = append(cr.starts, t.X)
		cr.cells = append(cr.cells, t.S)
	}
	for i := range cr.cells {
		cr.cells[i] = strings.TrimSpace(cr.cells[i])
	}
	return cr
}

func aligned(a, b cellRow) bool {
	if len(a.starts) != len(b.starts) {
		return false
	}
	for i := range a.starts {
		if math.Abs(a.starts[i]-b.starts[i]) > columnTolerance {
			return false
		}
	}
	return true
}

// Render flattens a table into pipe-separated lines for chunking.
func (t Table) Render() string {
	lines := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		lines = append(lines, strings.Join(r, " | "))
	}
	return strings.Join(lines, "\n")
}

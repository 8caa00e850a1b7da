// Package grid holds the raw, headerless cell grid read from a worksheet.
//
// A Grid has no schema. It is built once per fetch and only read afterwards.
package grid

import (
	"fmt"
	"strconv"
	"time"

	"smiledash/internal/core"
)

// Kind classifies a cell value.
type Kind int

const (
	Empty Kind = iota
	Number
	Text
	Date
)

// DateLayout is how date cells are displayed, matching the usual dataframe
// rendering of spreadsheet dates.
const DateLayout = "2006-01-02 15:04:05"

func (k Kind) String() string {
	switch k {
	case Number:
		return "number"
	case Text:
		return "text"
	case Date:
		return "date"
	default:
		return "empty"
	}
}

// Cell is a single grid value. Raw is the unformatted stored value (date
// cells carry their serial number), Text is what a spreadsheet would display.
// Time is set for Date cells only.
type Cell struct {
	Kind Kind
	Raw  string
	Text string
	Time time.Time
}

// DateCell builds a Date cell for t with the given raw value.
func DateCell(t time.Time, raw string) Cell {
	return Cell{Kind: Date, Raw: raw, Text: t.Format(DateLayout), Time: t}
}

// IsEmpty reports whether the cell holds nothing.
func (c Cell) IsEmpty() bool { return c.Kind == Empty }

// String returns the displayed text, falling back to the raw value.
func (c Cell) String() string {
	if c.Text != "" {
		return c.Text
	}
	return c.Raw
}

// Float coerces the cell to a number. Numeric text counts as a number,
// anything else, dates included, does not.
func (c Cell) Float() (float64, bool) {
	switch c.Kind {
	case Number:
		return core.ParseNumber(c.Raw)
	case Text:
		return core.ParseNumber(c.String())
	default:
		return 0, false
	}
}

// Grid is a rectangular view over ragged rows. Its width is the widest row.
type Grid struct {
	rows [][]Cell
	cols int
}

// New builds a grid from rows of cells.
func New(rows [][]Cell) *Grid {
	g := &Grid{rows: rows}
	for _, r := range rows {
		if len(r) > g.cols {
			g.cols = len(r)
		}
	}
	return g
}

// FromValues builds a grid from loosely typed values: nil is empty, numeric
// Go types are numbers and everything else is text. Mostly used by tests and
// by callers that already hold decoded sheet values.
func FromValues(rows [][]any) *Grid {
	out := make([][]Cell, len(rows))
	for i, row := range rows {
		out[i] = make([]Cell, len(row))
		for j, v := range row {
			out[i][j] = cellOf(v)
		}
	}
	return New(out)
}

func cellOf(v any) Cell {
	switch x := v.(type) {
	case nil:
		return Cell{}
	case Cell:
		return x
	case time.Time:
		return DateCell(x, x.Format(DateLayout))
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		return Cell{Kind: Number, Raw: s, Text: s}
	case float32:
		s := strconv.FormatFloat(float64(x), 'f', -1, 32)
		return Cell{Kind: Number, Raw: s, Text: s}
	case int:
		s := strconv.Itoa(x)
		return Cell{Kind: Number, Raw: s, Text: s}
	case int64:
		s := strconv.FormatInt(x, 10)
		return Cell{Kind: Number, Raw: s, Text: s}
	case string:
		if x == "" {
			return Cell{}
		}
		return Cell{Kind: Text, Raw: x, Text: x}
	default:
		s := fmt.Sprint(x)
		return Cell{Kind: Text, Raw: s, Text: s}
	}
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return len(g.rows) }

// Cols returns the width of the widest row.
func (g *Grid) Cols() int { return g.cols }

// InBounds reports whether (row, col) lies inside the rectangle.
func (g *Grid) InBounds(row, col int) bool {
	return row >= 0 && col >= 0 && row < len(g.rows) && col < g.cols
}

// At returns the cell at (row, col). ok is false outside the rectangle; a
// position past the end of a short row is an empty cell.
func (g *Grid) At(row, col int) (Cell, bool) {
	if !g.InBounds(row, col) {
		return Cell{}, false
	}
	r := g.rows[row]
	if col >= len(r) {
		return Cell{}, true
	}
	return r[col], true
}

// Preview renders the first n rows as display strings, padded to the grid
// width so they can be shown as a table.
func (g *Grid) Preview(n int) [][]string {
	if n > len(g.rows) {
		n = len(g.rows)
	}
	out := make([][]string, n)
	for i := 0; i < n; i++ {
		out[i] = make([]string, g.cols)
		for j := range out[i] {
			c, _ := g.At(i, j)
			out[i][j] = c.String()
		}
	}
	return out
}

// Shape is a short "RxC" description for logs.
func (g *Grid) Shape() string {
	return strconv.Itoa(g.Rows()) + "x" + strconv.Itoa(g.Cols())
}

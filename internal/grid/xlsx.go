package grid

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"smiledash/internal/core"
)

// ErrInvalidWorkbook is returned when the bytes are not a readable .xlsx file.
var ErrInvalidWorkbook = errors.New("invalid xlsx workbook")

// SheetNotFoundError is returned when the requested worksheet is missing.
type SheetNotFoundError struct {
	Sheet     string
	Available []string
}

func (e *SheetNotFoundError) Error() string {
	return fmt.Sprintf("sheet %q not found (available sheets: %s)", e.Sheet, strings.Join(e.Available, ", "))
}

// ReadXLSX parses workbook bytes and returns the named sheet as a Grid.
// Every value is kept, including blank leading rows and columns.
func ReadXLSX(data []byte, sheet string) (*Grid, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWorkbook, err)
	}
	defer f.Close()

	return readSheet(f, sheet)
}

func readSheet(f *excelize.File, sheet string) (*Grid, error) {
	available := f.GetSheetList()
	found := false
	for _, name := range available {
		if name == sheet {
			found = true
			break
		}
	}
	if !found {
		return nil, &SheetNotFoundError{Sheet: sheet, Available: available}
	}

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read raw rows of %q: %w", sheet, err)
	}
	text, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows of %q: %w", sheet, err)
	}

	dates := newDateCells(f, sheet)
	n := max(len(raw), len(text))
	rows := make([][]Cell, n)
	for i := 0; i < n; i++ {
		rawRow := rowAt(raw, i)
		textRow := rowAt(text, i)
		width := max(len(rawRow), len(textRow))
		cells := make([]Cell, width)
		for j := 0; j < width; j++ {
			c := classify(valueAt(rawRow, j), valueAt(textRow, j))
			// A formatted number whose display differs from its value may be a date.
			if c.Kind == Number && c.Raw != c.Text {
				if t, ok := dates.at(i, j, c.Raw); ok {
					c = DateCell(t, c.Raw)
				}
			}
			cells[j] = c
		}
		rows[i] = cells
	}
	return New(rows), nil
}

// dateCells tells date-formatted cells apart from plain numbers using the
// cell's number format. Results are cached per style.
type dateCells struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	styles   map[int]bool
}

func newDateCells(f *excelize.File, sheet string) *dateCells {
	d := &dateCells{f: f, sheet: sheet, styles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		d.date1904 = *props.Date1904
	}
	return d
}

// at returns the date stored at (row, col) when the cell has a date format.
func (d *dateCells) at(row, col int, raw string) (time.Time, bool) {
	ref, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return time.Time{}, false
	}
	id, err := d.f.GetCellStyle(d.sheet, ref)
	if err != nil {
		return time.Time{}, false
	}
	isDate, seen := d.styles[id]
	if !seen {
		isDate = d.isDateStyle(id)
		d.styles[id] = isDate
	}
	if !isDate {
		return time.Time{}, false
	}
	serial, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, d.date1904)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (d *dateCells) isDateStyle(id int) bool {
	style, err := d.f.GetStyle(id)
	if err != nil || style == nil {
		return false
	}
	if style.CustomNumFmt != nil {
		return isDateFormat(*style.CustomNumFmt)
	}
	return isBuiltinDateFormat(style.NumFmt)
}

// isBuiltinDateFormat covers the built-in formats that show a calendar date:
// 14-17 and 22, plus the locale date formats 27-36 and 50-58.
func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 17, id == 22:
		return true
	case id >= 27 && id <= 36, id >= 50 && id <= 58:
		return true
	default:
		return false
	}
}

// isDateFormat reports whether a custom format code has a day or year token
// once literals, escapes and bracketed sections are dropped.
func isDateFormat(code string) bool {
	var b strings.Builder
	inQuote, inBracket, escaped := false, false, false
	for _, r := range code {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && !inQuote:
			escaped = true
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	return strings.ContainsAny(strings.ToLower(b.String()), "dy")
}

func classify(raw, text string) Cell {
	if strings.TrimSpace(raw) == "" && strings.TrimSpace(text) == "" {
		return Cell{}
	}
	if raw == "" {
		raw = text
	}
	if _, ok := core.ParseNumber(raw); ok {
		return Cell{Kind: Number, Raw: raw, Text: text}
	}
	return Cell{Kind: Text, Raw: raw, Text: text}
}

func rowAt(rows [][]string, i int) []string {
	if i < len(rows) {
		return rows[i]
	}
	return nil
}

func valueAt(row []string, j int) string {
	if j < len(row) {
		return row[j]
	}
	return ""
}

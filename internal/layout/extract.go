package layout

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"smiledash/internal/core"
	"smiledash/internal/grid"
)

var (
	ErrOutOfRange = errors.New("cell outside the sheet")
	ErrNotNumeric = errors.New("value is not numeric")
	ErrEmpty      = errors.New("cell is empty")
)

// FieldError describes a single summary field that could not be read.
type FieldError struct {
	Field string
	Cell  core.Position
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Field, CellName(e.Cell), e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// CellName renders a position in spreadsheet notation, e.g. (5, 2) is "C6".
func CellName(p core.Position) string {
	name, err := excelize.CoordinatesToCellName(p.Column+1, p.Row+1)
	if err != nil {
		return fmt.Sprintf("R%dC%d", p.Row+1, p.Column+1)
	}
	return name
}

// Extraction is the outcome of Extract. Errors lists the summary fields that
// failed; they are also reflected in Report.Warnings.
type Extraction struct {
	Report *core.Report
	Errors []*FieldError
}

type extractor struct {
	g        *grid.Grid
	l        *Layout
	shift    core.Position
	warnings []core.Warning
	errs     []*FieldError
}

// Extract reads every business field of the layout from g. It never fails:
// unreadable daily values become zero, unreadable summary fields switch the
// whole summary to the fallback bundle.
func Extract(g *grid.Grid, l *Layout, landmark core.Position) *Extraction {
	x := &extractor{g: g, l: l}

	expected := l.Expected()
	if landmark != expected {
		switch l.Anchor.Mode {
		case AnchorShift:
			x.shift = core.Position{
				Row:    landmark.Row - expected.Row,
				Column: landmark.Column - expected.Column,
			}
		default:
			x.warn("landmark", &landmark, fmt.Sprintf(
				"day one found at %s, layout expects %s; using declared coordinates",
				CellName(landmark), CellName(expected)))
		}
	}

	r := &core.Report{
		Month:    ResolveMonth(g, l),
		Landmark: landmark,
		Shift:    x.shift,
		Preview:  g.Preview(PreviewRows),
	}
	r.Daily = x.daily(r.Month)
	x.summary(r)
	r.Warnings = x.warnings

	return &Extraction{Report: r, Errors: x.errs}
}

func (x *extractor) at(row, col int) core.Position {
	return core.Position{Row: row + x.shift.Row, Column: col + x.shift.Column}
}

func (x *extractor) warn(field string, cell *core.Position, msg string) {
	x.warnings = append(x.warnings, core.Warning{Field: field, Cell: cell, Message: msg})
}

func (x *extractor) daily(month string) core.DailySeries {
	days := x.l.Days
	series := make(core.DailySeries, days.Count)

	for i := range series {
		p := x.at(days.Row, days.FirstColumn+i)
		cell, _ := x.g.At(p.Row, p.Column)
		series[i].Label, series[i].LabelObserved = dayLabel(cell, i, month)
	}

	for _, m := range core.Metrics {
		start := x.at(x.l.MetricRows.Row(m), days.FirstColumn)
		if start.Row < 0 || start.Row >= x.g.Rows() {
			x.warn(m.Key(), &start, fmt.Sprintf("daily row %d is outside the sheet (%s); using zeros", start.Row+1, x.g.Shape()))
			continue
		}
		missing := 0
		for i := range series {
			cell, ok := x.g.At(start.Row, start.Column+i)
			if !ok {
				missing++
				continue
			}
			if v, ok := cell.Float(); ok {
				series[i].Values[m] = core.Observed(v)
			}
		}
		if missing > 0 {
			x.warn(m.Key(), &start, fmt.Sprintf("%d daily columns are outside the sheet; using zeros", missing))
		}
	}
	return series
}

// dayLabel turns a header cell into "<day> <MONTH>". A date cell yields its
// day of month. Text such as "01-11" or "5/11" yields the number before the
// first separator; otherwise the cell is read as a number and truncated.
// Anything else falls back to position+1.
func dayLabel(cell grid.Cell, i int, month string) (string, bool) {
	if n, ok := dayNumber(cell); ok {
		return strconv.Itoa(n) + " " + month, true
	}
	return strconv.Itoa(i+1) + " " + month, false
}

func dayNumber(cell grid.Cell) (int, bool) {
	switch cell.Kind {
	case grid.Empty:
		return 0, false
	case grid.Date:
		return cell.Time.Day(), true
	}
	s := strings.TrimSpace(cell.String())
	if strings.ContainsAny(s, "-/") {
		head, _, _ := strings.Cut(s, "-")
		head, _, _ = strings.Cut(head, "/")
		n, err := strconv.Atoi(strings.TrimSpace(head))
		return n, err == nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

func (x *extractor) summary(r *core.Report) {
	fallback := false

	read := func(field string, row, col int) core.Value {
		v, err := x.number(field, row, col)
		if err != nil {
			fallback = true
			return core.Defaulted(0)
		}
		return core.Observed(v)
	}

	for _, m := range core.Metrics {
		row := x.l.MetricRows.Row(m)
		r.Targets.ByMetric[m] = read("target."+m.Key(), row, x.l.Columns.Target)
		r.Accumulated.ByMetric[m] = read("accumulated."+m.Key(), row, x.l.Columns.Accumulated)
	}
	tt := x.l.Summary.TargetTotal
	r.Targets.Total = read("target.total", tt.Row, tt.Column)

	// Indicator cells coalesce empty or non-numeric values to zero; only a
	// cell that does not exist counts as a failure.
	indicator := func(field string, c Coord) core.Value {
		v, err := x.number(field, c.Row, c.Column)
		switch {
		case err == nil:
			return core.Observed(v)
		case errors.Is(err, ErrOutOfRange):
			fallback = true
		}
		return core.Defaulted(0)
	}
	optional := func(field string, c *Coord, constant float64) core.Value {
		if c == nil {
			return core.Defaulted(constant)
		}
		return indicator(field, *c)
	}

	r.Indicators = core.Indicators{
		Conversion:    optional("indicators.conversion", x.l.Summary.Conversion, x.l.Constants.Conversion),
		Budgets:       optional("indicators.budgets", x.l.Summary.Budgets, x.l.Constants.Budgets),
		OrthoPayments: indicator("indicators.ortho_payments", x.l.Summary.OrthoPayments),
		Installations: indicator("indicators.installations", x.l.Summary.Installations),
	}

	if fallback {
		x.applyFallback(r)
	}
}

// number reads a summary cell and records a FieldError on failure.
func (x *extractor) number(field string, row, col int) (float64, error) {
	p := x.at(row, col)
	cell, ok := x.g.At(p.Row, p.Column)

	var err error
	switch {
	case !ok:
		err = ErrOutOfRange
	case cell.IsEmpty():
		err = ErrEmpty
	default:
		if v, ok := cell.Float(); ok {
			return v, nil
		}
		err = ErrNotNumeric
	}

	fe := &FieldError{Field: field, Cell: p, Err: err}
	x.errs = append(x.errs, fe)
	x.warn(field, &p, fe.Error())
	return 0, fe
}

func (x *extractor) applyFallback(r *core.Report) {
	fb := x.l.Fallback
	for _, m := range core.Metrics {
		r.Targets.ByMetric[m] = core.Defaulted(fb.Targets.Get(m))
		r.Accumulated.ByMetric[m] = core.Defaulted(fb.Accumulated.Get(m))
	}
	r.Targets.Total = core.Defaulted(fb.Targets.Total)
	r.Indicators = core.Indicators{
		Conversion:    core.Defaulted(fb.Indicators.Conversion),
		Budgets:       core.Defaulted(fb.Indicators.Budgets),
		OrthoPayments: core.Defaulted(fb.Indicators.OrthoPayments),
		Installations: core.Defaulted(fb.Indicators.Installations),
	}
	r.Fallback = true
	x.warn("summary", nil, "summary cells could not be read; showing reference values")
}

package layout

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"smiledash/internal/core"
	"smiledash/internal/grid"
)

// PreviewRows is how many rows a LandmarkNotFoundError carries for display.
const PreviewRows = 10

// LandmarkNotFoundError means no cell in the scanned rows looked like day one.
// The preview lets the user see what the sheet actually contains.
type LandmarkNotFoundError struct {
	Scanned int
	Preview [][]string
}

func (e *LandmarkNotFoundError) Error() string {
	return fmt.Sprintf("day-one landmark not found in the first %d rows", e.Scanned)
}

var disallowed = regexp.MustCompile(`[^0-9a-zA-Z/.\- ]`)

// normalize trims and lowercases s, then drops every character outside
// [0-9a-zA-Z/.- ].
func normalize(s string) string {
	return disallowed.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

// FindLandmark scans the first Landmark.MaxRows rows, all columns, row-major,
// and returns the first cell whose normalized text matches a pattern.
func FindLandmark(g *grid.Grid, l *Layout) (core.Position, error) {
	limit := min(l.Landmark.MaxRows, g.Rows())
	for r := 0; r < limit; r++ {
		for c := 0; c < g.Cols(); c++ {
			cell, _ := g.At(r, c)
			if cell.IsEmpty() {
				continue
			}
			text := normalize(cell.String())
			for _, re := range l.Patterns() {
				if re.MatchString(text) {
					return core.Position{Row: r, Column: c}, nil
				}
			}
		}
	}
	return core.Position{}, &LandmarkNotFoundError{
		Scanned: limit,
		Preview: g.Preview(PreviewRows),
	}
}

// MonthNames are the Portuguese month names in calendar order.
var MonthNames = []string{
	"JANEIRO", "FEVEREIRO", "MARÇO", "ABRIL", "MAIO", "JUNHO",
	"JULHO", "AGOSTO", "SETEMBRO", "OUTUBRO", "NOVEMBRO", "DEZEMBRO",
}

// monthWords match the folded month names as whole words, so "MARCOS" is
// not March.
var monthWords = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(MonthNames))
	for i, m := range MonthNames {
		out[i] = regexp.MustCompile(`\b` + fold(m) + `\b`)
	}
	return out
}()

// fold uppercases s and strips combining marks, so "Março" and "MARCO" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToUpper(out)
}

// ResolveMonth scans the top-left block row-major and returns the canonical
// name of the first month mentioned, or the layout default.
func ResolveMonth(g *grid.Grid, l *Layout) string {
	for r := 0; r < min(l.Month.MaxRows, g.Rows()); r++ {
		for c := 0; c < min(l.Month.MaxColumns, g.Cols()); c++ {
			cell, _ := g.At(r, c)
			if cell.IsEmpty() {
				continue
			}
			if m, ok := monthIn(cell.String()); ok {
				return m
			}
		}
	}
	return l.Month.Default
}

// monthIn returns the first month name, in calendar order, that appears in s
// as a whole word.
func monthIn(s string) (string, bool) {
	folded := fold(s)
	for i, re := range monthWords {
		if re.MatchString(folded) {
			return MonthNames[i], true
		}
	}
	return "", false
}

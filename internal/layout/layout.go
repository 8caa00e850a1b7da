// Package layout maps named business fields to coordinates of the monthly
// sales sheet, finds the day-one landmark and extracts a core.Report.
//
// Coordinates are declared in a YAML schema instead of being spread through
// the code. The embedded default.yaml describes the one known template; a
// different file can override any part of it.
package layout

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"smiledash/internal/core"
)

//go:embed default.yaml
var defaultYAML []byte

// AnchorMode decides how a detected landmark affects extraction offsets.
type AnchorMode string

const (
	// AnchorCheck uses the declared coordinates and only reports a mismatch.
	AnchorCheck AnchorMode = "check"
	// AnchorShift translates every coordinate by (detected - anchor).
	AnchorShift AnchorMode = "shift"
)

// Coord is a zero-based cell coordinate.
type Coord struct {
	Row    int `yaml:"row" validate:"min=0"`
	Column int `yaml:"column" validate:"min=0"`
}

// Position converts the coordinate to a core.Position.
func (c Coord) Position() core.Position { return core.Position{Row: c.Row, Column: c.Column} }

type Anchor struct {
	Row    int        `yaml:"row" validate:"min=0"`
	Column int        `yaml:"column" validate:"min=0"`
	Mode   AnchorMode `yaml:"mode" validate:"required,oneof=check shift"`
}

type LandmarkConfig struct {
	MaxRows  int      `yaml:"max_rows" validate:"min=1"`
	Patterns []string `yaml:"patterns" validate:"min=1,dive,required"`
}

type MonthConfig struct {
	MaxRows    int    `yaml:"max_rows" validate:"min=1"`
	MaxColumns int    `yaml:"max_columns" validate:"min=1"`
	Default    string `yaml:"default" validate:"required"`
}

type DaysConfig struct {
	Row         int `yaml:"row" validate:"min=0"`
	FirstColumn int `yaml:"first_column" validate:"min=0"`
	Count       int `yaml:"count" validate:"min=1,max=31"`
}

// MetricRows holds the row of each metric category.
type MetricRows struct {
	Sale              int `yaml:"venda" validate:"min=0"`
	CashSale          int `yaml:"vista" validate:"min=0"`
	InstallmentCredit int `yaml:"crediario" validate:"min=0"`
	OrthoReceipt      int `yaml:"orto" validate:"min=0"`
}

// Row returns the declared row of m.
func (r MetricRows) Row(m core.Metric) int {
	switch m {
	case core.Sale:
		return r.Sale
	case core.CashSale:
		return r.CashSale
	case core.InstallmentCredit:
		return r.InstallmentCredit
	default:
		return r.OrthoReceipt
	}
}

type Columns struct {
	Target      int `yaml:"target" validate:"min=0"`
	Daily       int `yaml:"daily" validate:"min=0"`
	Accumulated int `yaml:"accumulated" validate:"min=0"`
}

// Summary locates the single-cell summary fields. Conversion and Budgets are
// optional; when unset the constants are used.
type Summary struct {
	TargetTotal   Coord  `yaml:"target_total"`
	OrthoPayments Coord  `yaml:"ortho_payments"`
	Installations Coord  `yaml:"installations"`
	Conversion    *Coord `yaml:"conversion,omitempty" validate:"omitempty"`
	Budgets       *Coord `yaml:"budgets,omitempty" validate:"omitempty"`
}

type Constants struct {
	Conversion float64 `yaml:"conversion"`
	Budgets    float64 `yaml:"budgets"`
}

// MetricAmounts is one number per metric category.
type MetricAmounts struct {
	Sale              float64 `yaml:"venda"`
	CashSale          float64 `yaml:"vista"`
	InstallmentCredit float64 `yaml:"crediario"`
	OrthoReceipt      float64 `yaml:"orto"`
}

// Get returns the amount for m.
func (a MetricAmounts) Get(m core.Metric) float64 {
	switch m {
	case core.Sale:
		return a.Sale
	case core.CashSale:
		return a.CashSale
	case core.InstallmentCredit:
		return a.InstallmentCredit
	default:
		return a.OrthoReceipt
	}
}

type FallbackTargets struct {
	MetricAmounts `yaml:",inline"`
	Total         float64 `yaml:"total"`
}

type FallbackIndicators struct {
	Conversion    float64 `yaml:"conversion"`
	Budgets       float64 `yaml:"budgets"`
	OrthoPayments float64 `yaml:"ortho_payments"`
	Installations float64 `yaml:"installations"`
}

// Fallback is the bundle substituted when the summary cells cannot be read.
type Fallback struct {
	Targets     FallbackTargets    `yaml:"targets"`
	Accumulated MetricAmounts      `yaml:"accumulated"`
	Indicators  FallbackIndicators `yaml:"indicators"`
}

// Layout is the full schema of one spreadsheet template.
type Layout struct {
	Anchor     Anchor         `yaml:"anchor"`
	Landmark   LandmarkConfig `yaml:"landmark"`
	Month      MonthConfig    `yaml:"month"`
	Days       DaysConfig     `yaml:"days"`
	MetricRows MetricRows     `yaml:"metric_rows"`
	Columns    Columns        `yaml:"columns"`
	Summary    Summary        `yaml:"summary"`
	Constants  Constants      `yaml:"constants"`
	Fallback   Fallback       `yaml:"fallback"`

	patterns []*regexp.Regexp
}

var validate = validator.New()

// Default returns the embedded layout of the known template.
func Default() (*Layout, error) {
	l := &Layout{}
	if err := decode(bytes.NewReader(defaultYAML), l); err != nil {
		return nil, fmt.Errorf("embedded layout: %w", err)
	}
	if err := l.prepare(); err != nil {
		return nil, fmt.Errorf("embedded layout: %w", err)
	}
	return l, nil
}

// Load returns the default layout overlaid with the file at path. An empty
// path returns the default layout unchanged.
func Load(path string) (*Layout, error) {
	l, err := Default()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return l, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open layout file: %w", err)
	}
	defer f.Close()

	if err := decode(f, l); err != nil {
		return nil, fmt.Errorf("layout file %s: %w", path, err)
	}
	if err := l.prepare(); err != nil {
		return nil, fmt.Errorf("layout file %s: %w", path, err)
	}
	return l, nil
}

func decode(r io.Reader, l *Layout) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(l); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate checks the schema and that every landmark pattern compiles. It
// never modifies l, so it is safe to call on a layout in use.
func (l *Layout) Validate() error {
	_, err := l.check()
	return err
}

// prepare validates l and stores the compiled patterns. Only Default and
// Load call it, before the layout is shared.
func (l *Layout) prepare() error {
	compiled, err := l.check()
	if err != nil {
		return err
	}
	l.patterns = compiled
	return nil
}

func (l *Layout) check() ([]*regexp.Regexp, error) {
	var problems []string

	if err := validate.Struct(l); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	compiled := make([]*regexp.Regexp, 0, len(l.Landmark.Patterns))
	for _, p := range l.Landmark.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			problems = append(problems, fmt.Sprintf("landmark pattern %q: %v", p, err))
			continue
		}
		compiled = append(compiled, re)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid layout:\n- %s", strings.Join(problems, "\n- "))
	}
	return compiled, nil
}

// Patterns returns the compiled landmark patterns.
func (l *Layout) Patterns() []*regexp.Regexp { return l.patterns }

// Expected returns the anchor as a position.
func (l *Layout) Expected() core.Position {
	return core.Position{Row: l.Anchor.Row, Column: l.Anchor.Column}
}

// Marshal renders the layout back to YAML.
func (l *Layout) Marshal() ([]byte, error) {
	return yaml.Marshal(l)
}

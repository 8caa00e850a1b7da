package layout

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultLayout(t *testing.T) *Layout {
	t.Helper()
	l, err := Default()
	require.NoError(t, err)
	return l
}

func TestDefaultLayout(t *testing.T) {
	l, err := Default()
	require.NoError(t, err)

	assert.Equal(t, AnchorCheck, l.Anchor.Mode)
	assert.Equal(t, 3, l.Anchor.Row)
	assert.Equal(t, 5, l.Anchor.Column)
	assert.Equal(t, 20, l.Landmark.MaxRows)
	assert.Len(t, l.Patterns(), 8)
	assert.Equal(t, 30, l.Days.Count)
	assert.Equal(t, 5, l.MetricRows.Sale)
	assert.Equal(t, 8, l.MetricRows.OrthoReceipt)
	assert.Equal(t, Coord{Row: 14, Column: 2}, l.Summary.TargetTotal)
	assert.Nil(t, l.Summary.Conversion)
	assert.Equal(t, 107797.16, l.Fallback.Targets.Total)
	assert.Equal(t, 33127.16, l.Fallback.Targets.InstallmentCredit)
	assert.Equal(t, 13425.23, l.Fallback.Accumulated.OrthoReceipt)
	assert.Equal(t, 60.0, l.Fallback.Indicators.Budgets)
}

func TestLoadOverlaysDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
anchor:
  mode: shift
summary:
  conversion: {row: 13, column: 3}
`), 0o600))

	l, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, AnchorShift, l.Anchor.Mode)
	assert.Equal(t, 3, l.Anchor.Row, "untouched fields keep their default")
	require.NotNil(t, l.Summary.Conversion)
	assert.Equal(t, 13, l.Summary.Conversion.Row)
	assert.Equal(t, 5, l.MetricRows.Sale)
}

func TestLoadEmptyPath(t *testing.T) {
	l, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, AnchorCheck, l.Anchor.Mode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad mode":      "anchor: {mode: sideways}",
		"bad pattern":   "landmark: {patterns: ['(']}",
		"negative row":  "metric_rows: {venda: -1}",
		"too many days": "days: {count: 40}",
		"unknown key":   "colums: {target: 1}",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "layout.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateLeavesLayoutUnchanged(t *testing.T) {
	l := defaultLayout(t)
	before := l.Patterns()

	require.NoError(t, l.Validate())
	assert.Equal(t, before, l.Patterns())

	l.Landmark.Patterns = []string{"("}
	assert.Error(t, l.Validate())
	assert.Len(t, l.Patterns(), 8, "a failed check keeps the compiled patterns")
}

// Run with -race: readiness checks validate the layout while page loads scan with it.
func TestValidateConcurrentWithFindLandmark(t *testing.T) {
	l := defaultLayout(t)
	g := sheet(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Validate())
		}()
		go func() {
			defer wg.Done()
			_, err := FindLandmark(g, l)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

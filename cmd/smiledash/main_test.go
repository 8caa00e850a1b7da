package main

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"smiledash/internal/core"
)

func writeWorkbook(t *testing.T, withDays bool) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Planilha1"
	_, err := f.NewSheet(sheet)
	require.NoError(t, err)
	set := func(col, row int, v any) {
		ref, err := excelize.CoordinatesToCellName(col+1, row+1)
		require.NoError(t, err)
		require.NoError(t, f.SetCellValue(sheet, ref, v))
	}
	set(0, 0, "Relatório Novembro 2025")
	if withDays {
		for d := 0; d < 30; d++ {
			set(5+d, 3, d+1)
			set(5+d, 5, 1000+d)
		}
	}
	set(2, 5, 100000)
	set(4, 5, 82745)
	set(2, 6, 58000)
	set(4, 6, 44104.77)
	set(2, 7, 33127.16)
	set(4, 7, 19116.15)
	set(2, 8, 16670)
	set(4, 8, 13425.23)
	set(2, 14, 107797.16)

	path := filepath.Join(t.TempDir(), "dashboard.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("LAYOUT_FILE", "")
	t.Setenv("AMQP_URL", "")
	t.Setenv("LOG_LEVEL", "error")
	color.NoColor = true

	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.Execute()
	return out.String(), err
}

func TestExtractJSON(t *testing.T) {
	path := writeWorkbook(t, true)

	out, err := execute(t, "extract", "--file", path, "--json")
	require.NoError(t, err)

	var r core.Report
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.Equal(t, "NOVEMBRO", r.Month)
	assert.Equal(t, "file:"+path, r.Source)
	assert.False(t, r.Fallback)
	assert.Len(t, r.Daily, core.DaysInSeries)
	assert.Equal(t, core.Observed(1000), r.Daily[0].Values[core.Sale])
	assert.Equal(t, core.Observed(82745), r.Accumulated.ByMetric[core.Sale])
}

func TestExtractSummary(t *testing.T) {
	path := writeWorkbook(t, true)

	out, err := execute(t, "extract", "--file", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Dashboard NOVEMBRO")
	assert.Contains(t, out, "landmark: F4")
	assert.Contains(t, out, "R$ 82,745.00")
}

func TestExtractLandmarkMissing(t *testing.T) {
	path := writeWorkbook(t, false)

	out, err := execute(t, "extract", "--file", path)
	require.Error(t, err)
	assert.Contains(t, out, "Day-one landmark not found")
	assert.Contains(t, out, "Relatório Novembro 2025")
}

func TestLayoutCommand(t *testing.T) {
	out, err := execute(t, "layout")
	require.NoError(t, err)
	assert.Contains(t, out, "anchor:")
	assert.Contains(t, out, "NOVEMBRO")
}

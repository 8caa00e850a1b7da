package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"smiledash/internal/core"
	"smiledash/internal/grid"
	"smiledash/internal/layout"
	"smiledash/internal/sheets"
	"smiledash/internal/sheets/drive"
)

// PageTitle is shown in the browser tab and the page header.
const PageTitle = "Dashboard Smile Concept"

var metricIcons = [core.MetricCount]string{"💰", "💵", "💳", "🦷"}

type (
	card struct {
		Key      string
		Icon     string
		Label    string
		Amount   string
		Observed bool
	}

	tableCell struct {
		Text     string
		Observed bool
	}

	dayRow struct {
		Index         int
		Label         string
		LabelObserved bool
		Cells         []tableCell
	}

	summaryRow struct {
		Label       string
		Target      tableCell
		Accumulated tableCell
		Gap         string
	}

	indicatorRow struct {
		Label    string
		Value    string
		Observed bool
	}

	warningRow struct {
		Field   string
		Cell    string
		Message string
	}

	series struct {
		Label  string    `json:"label"`
		Key    string    `json:"key"`
		Values []float64 `json:"values"`
	}

	composition struct {
		Labels []string  `json:"labels"`
		Values []float64 `json:"values"`
	}

	// chartData is embedded in the page as JSON and drawn by dashboard.js.
	chartData struct {
		Categories  []string    `json:"categories"`
		Targets     []float64   `json:"targets"`
		Accumulated []float64   `json:"accumulated"`
		Gaps        []float64   `json:"gaps"`
		Days        []string    `json:"days"`
		Daily       []series    `json:"daily"`
		Composition composition `json:"composition"`
	}

	dashboardView struct {
		Title       string
		Month       string
		Source      string
		FetchedAt   time.Time
		FetchedAgo  string
		Fallback    bool
		Cards       []card
		Columns     []string
		Rows        []dayRow
		Summary     []summaryRow
		TargetTotal tableCell
		Indicators  []indicatorRow
		Warnings    []warningRow
		Chart       chartData
		Landmark    string
		Shifted     bool
		Shift       core.Position
		Preview     [][]string
		LastError   string
	}

	errorView struct {
		Title   string
		Status  int
		Heading string
		Message string
		Hint    string
		Detail  string
		Preview [][]string
	}
)

func money(v core.Value) tableCell {
	return tableCell{Text: core.FormatBRL(v.Amount), Observed: v.Observed}
}

func newDashboardView(r *core.Report, now time.Time) dashboardView {
	v := dashboardView{
		Title:       PageTitle,
		Month:       r.Month,
		Source:      r.Source,
		FetchedAt:   r.FetchedAt,
		FetchedAgo:  humanize.RelTime(r.FetchedAt, now, "ago", "from now"),
		Fallback:    r.Fallback,
		TargetTotal: money(r.Targets.Total),
		Landmark:    layout.CellName(r.Landmark),
		Shifted:     r.Shift != (core.Position{}),
		Shift:       r.Shift,
		Preview:     r.Preview,
		Columns:     []string{"Índice", "Dia"},
	}

	for _, m := range core.Metrics {
		acc := r.Accumulated.ByMetric[m]
		v.Cards = append(v.Cards, card{
			Key:      m.Key(),
			Icon:     metricIcons[m],
			Label:    m.Label(),
			Amount:   core.FormatBRL(acc.Amount),
			Observed: acc.Observed,
		})
		v.Columns = append(v.Columns, m.Label())
		v.Summary = append(v.Summary, summaryRow{
			Label:       m.Label(),
			Target:      money(r.Targets.ByMetric[m]),
			Accumulated: money(acc),
			Gap:         core.FormatBRL(r.Gap(m)),
		})

		v.Chart.Categories = append(v.Chart.Categories, m.Label())
		v.Chart.Targets = append(v.Chart.Targets, r.Targets.ByMetric[m].Amount)
		v.Chart.Accumulated = append(v.Chart.Accumulated, acc.Amount)
		v.Chart.Gaps = append(v.Chart.Gaps, r.Gap(m))
		v.Chart.Daily = append(v.Chart.Daily, series{Label: m.Label(), Key: m.Key(), Values: r.Daily.Values(m)})
	}
	v.Chart.Days = r.Daily.Labels()
	for i, m := range core.ReceiptMetrics {
		v.Chart.Composition.Labels = append(v.Chart.Composition.Labels, m.Label())
		v.Chart.Composition.Values = append(v.Chart.Composition.Values, r.Composition()[i])
	}

	for i, rec := range r.Daily {
		row := dayRow{Index: i, Label: rec.Label, LabelObserved: rec.LabelObserved}
		for _, val := range rec.Values {
			row.Cells = append(row.Cells, money(val))
		}
		v.Rows = append(v.Rows, row)
	}

	ind := r.Indicators
	v.Indicators = []indicatorRow{
		{Label: "Conversão", Value: humanize.CommafWithDigits(ind.Conversion.Amount, 2), Observed: ind.Conversion.Observed},
		{Label: "Orçamentos", Value: humanize.CommafWithDigits(ind.Budgets.Amount, 2), Observed: ind.Budgets.Observed},
		{Label: "Pagamentos orto", Value: humanize.CommafWithDigits(ind.OrthoPayments.Amount, 2), Observed: ind.OrthoPayments.Observed},
		{Label: "Instalações", Value: humanize.CommafWithDigits(ind.Installations.Amount, 2), Observed: ind.Installations.Observed},
	}

	for _, w := range r.Warnings {
		row := warningRow{Field: w.Field, Message: w.Message}
		if w.Cell != nil {
			row.Cell = layout.CellName(*w.Cell)
		}
		v.Warnings = append(v.Warnings, row)
	}
	return v
}

const sharingHint = "Verifique se a planilha está compartilhada como \"Qualquer pessoa com o link\" e se o link aponta para um arquivo .xlsx."

// classifyError maps a pipeline error to its HTTP status and page content.
func classifyError(err error) errorView {
	var (
		rce *sheets.RemoteContentError
		se  *sheets.StatusError
		nf  *layout.LandmarkNotFoundError
		ile *drive.InvalidLinkError
		snf *grid.SheetNotFoundError
	)
	v := errorView{Title: PageTitle, Detail: err.Error()}
	switch {
	case errors.As(err, &rce):
		v.Status = http.StatusBadGateway
		v.Heading = "A planilha não pôde ser baixada"
		v.Message = "O Drive devolveu uma página HTML em vez da planilha."
		v.Hint = sharingHint
	case errors.As(err, &se):
		v.Status = http.StatusBadGateway
		v.Heading = "A planilha não pôde ser baixada"
		v.Message = fmt.Sprintf("O Drive respondeu com o código %d.", se.StatusCode)
		v.Hint = sharingHint
	case errors.As(err, &nf):
		v.Status = http.StatusUnprocessableEntity
		v.Heading = "Não consegui encontrar a coluna do dia 1"
		v.Message = fmt.Sprintf("Nenhuma célula nas primeiras %d linhas parece o dia 1.", nf.Scanned)
		v.Preview = nf.Preview
	case errors.As(err, &ile):
		v.Status = http.StatusInternalServerError
		v.Heading = "Link da planilha inválido"
		v.Message = "O link configurado não contém o identificador do arquivo."
	case errors.As(err, &snf):
		v.Status = http.StatusInternalServerError
		v.Heading = "Aba não encontrada"
		v.Message = fmt.Sprintf("A aba %q não existe na planilha.", snf.Sheet)
	default:
		v.Status = http.StatusInternalServerError
		v.Heading = "Erro ao carregar o dashboard"
		v.Message = "Ocorreu um erro inesperado ao processar a planilha."
	}
	return v
}

package report

import (
	"fmt"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// WriteChart renders the chain rows as an HTML page with a per-chain P&L
// bar chart and a cumulative P&L line over closing dates. Rows are expected
// in date order, as BuildChains returns them.
func WriteChart(path string, rows []ChainRow) error {
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	labels := make([]string, 0, len(rows))
	pnlBars := make([]opts.BarData, 0, len(rows))
	for _, row := range rows {
		labels = append(labels, row.ChainID)
		pnl, _ := row.PnlChain.Float64()
		pnlBars = append(pnlBars, opts.BarData{Value: pnl})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "P&L by chain"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	bar.SetXAxis(labels).AddSeries("pnl", pnlBars)

	dates := make([]string, 0, len(rows))
	cumulative := make([]opts.LineData, 0, len(rows))
	running := 0.0
	for _, row := range rows {
		pnl, _ := row.PnlChain.Float64()
		running += pnl
		dates = append(dates, row.MaxDate.Format("2006-01-02"))
		cumulative = append(cumulative, opts.LineData{Value: running})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Cumulative P&L"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	line.SetXAxis(dates).AddSeries("cumulative", cumulative,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page.AddCharts(bar, line)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return fmt.Errorf("report: render chart: %w", err)
	}
	return nil
}

package analyzer

import (
	"fmt"
	"io"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	echartstypes "github.com/go-echarts/go-echarts/v2/types"

	"hedgepair/internal/types"
)

const (
	colorBackground  = "#060c1b"
	colorTextPrimary = "#eceff4"
	colorEquity      = "#4cc9f0"
	colorRealized    = "#80ed99"
	colorUnrealized  = "#f7b267"
)

// RenderEquityHTML writes an HTML page with the equity curve and the
// realized/unrealized split built from stored snapshots.
func RenderEquityHTML(w io.Writer, snaps []types.PerformanceSnapshot) error {
	if len(snaps) == 0 {
		_, err := io.WriteString(w, "<html><body><p>no snapshots recorded yet</p></body></html>")
		return err
	}

	xAxis := make([]string, 0, len(snaps))
	equity := make([]opts.LineData, 0, len(snaps))
	realized := make([]opts.LineData, 0, len(snaps))
	unrealized := make([]opts.LineData, 0, len(snaps))
	for _, s := range snaps {
		xAxis = append(xAxis, s.At.Format(time.DateTime))
		equity = append(equity, opts.LineData{Value: s.TotalValue})
		realized = append(realized, opts.LineData{Value: s.RealizedPnL})
		unrealized = append(unrealized, opts.LineData{Value: s.UnrealizedPnL})
	}

	init := opts.Initialization{
		Theme:           echartstypes.ThemeWesteros,
		Width:           "1200px",
		Height:          "480px",
		BackgroundColor: colorBackground,
	}

	equityLine := charts.NewLine()
	equityLine.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:      "Equity",
			Subtitle:   fmt.Sprintf("latest %.2f, roe %.2f%%", snaps[len(snaps)-1].TotalValue, snaps[len(snaps)-1].ROE*100),
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
	)
	equityLine.SetXAxis(xAxis).
		AddSeries("total value", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2})).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	pnlLine := charts.NewLine()
	pnlLine.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithTitleOpts(opts.Title{
			Title:      "P&L split",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
	)
	pnlLine.SetXAxis(xAxis).
		AddSeries("realized", realized, charts.WithLineStyleOpts(opts.LineStyle{Color: colorRealized, Width: 2})).
		AddSeries("unrealized", unrealized, charts.WithLineStyleOpts(opts.LineStyle{Color: colorUnrealized, Width: 2})).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(equityLine, pnlLine)
	return page.Render(w)
}

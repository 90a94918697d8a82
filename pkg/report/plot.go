package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/gwinfer/pkg/alg/stats"
	"github.com/Sumatoshi-tech/gwinfer/pkg/checkpoint"
	"github.com/Sumatoshi-tech/gwinfer/pkg/sampler"
)

// maxTraceWalkers bounds the individual walker traces drawn per chart.
const maxTraceWalkers = 8

const (
	chartWidth       = "1200px"
	chartHeight      = "400px"
	emptyChartHeight = "200px"
	fullZoomPct      = 100
	walkerOpacity    = 0.4
)

// WritePlot renders an HTML page of posterior trace plots for rec: one chart
// per parameter and one for the log posterior.
func WritePlot(w io.Writer, rec *checkpoint.Record) error {
	page := TracePage(rec)

	err := page.Render(w)
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}

	return nil
}

// TracePage builds the trace plot page without rendering it.
func TracePage(rec *checkpoint.Record) *components.Page {
	page := components.NewPage()
	page.PageTitle = "gwinfer " + rec.Metadata.RunID

	state := &rec.State
	if state.StoredSamples() == 0 {
		page.AddCharts(emptyChart())

		return page
	}

	labels := make([]string, state.StoredSamples())
	for j := range labels {
		labels[j] = strconv.Itoa(state.StoredIteration(j))
	}

	subtitle := fmt.Sprintf("%s, %d iterations, thin %d", rec.Metadata.Model, state.Iteration, state.Thin)
	if state.BurnIn.BurnedIn {
		subtitle += fmt.Sprintf(", burned in at %d", state.BurnIn.Iteration)
	}

	ndim := state.NDim()

	for d, name := range state.Params {
		line := newTraceChart(name, subtitle, labels)
		addTraces(line, state, func(c *sampler.Chain, j int) float64 { return c.Sample(j, ndim)[d] })
		page.AddCharts(line)
	}

	line := newTraceChart("log posterior", subtitle, labels)
	addTraces(line, state, func(c *sampler.Chain, j int) float64 { return c.LogPosterior(j) })
	page.AddCharts(line)

	return page
}

func newTraceChart(title, subtitle string, labels []string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "5px"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 0, End: fullZoomPct}, opts.DataZoom{Type: "inside"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "iteration"}),
		charts.WithYAxisOpts(opts.YAxis{Name: title, Scale: opts.Bool(true)}),
	)
	line.SetXAxis(labels)

	return line
}

// addTraces adds the ensemble mean and the first walkers of the posterior chains.
func addTraces(line *charts.Line, state *sampler.RunState, value func(*sampler.Chain, int) float64) {
	chains := state.PosteriorChains()
	n := state.StoredSamples()

	mean := make([]opts.LineData, n)
	column := make([]float64, len(chains))

	for j := range n {
		for i := range chains {
			column[i] = value(&chains[i], j)
		}

		mean[j] = opts.LineData{Value: stats.Mean(column)}
	}

	line.AddSeries("ensemble mean", mean, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	for i := range min(len(chains), maxTraceWalkers) {
		data := make([]opts.LineData, n)
		for j := range n {
			data[j] = opts.LineData{Value: value(&chains[i], j)}
		}

		line.AddSeries("walker "+strconv.Itoa(i), data,
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Opacity: opts.Float(walkerOpacity)}),
		)
	}
}

func emptyChart() *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Trace", Subtitle: "No stored samples"}),
		charts.WithInitializationOpts(opts.Initialization{Width: chartWidth, Height: emptyChartHeight}),
	)
	line.SetXAxis([]string{})

	return line
}

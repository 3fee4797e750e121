package backtest

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// RenderChart renders a PNG line chart of a backtest value series against
// the amount initially invested. Returns raw PNG bytes.
func RenderChart(result *models.BacktestResult) ([]byte, error) {
	if result == nil || len(result.Points) < 2 {
		return nil, fmt.Errorf("need at least 2 data points")
	}

	xValues := make([]time.Time, 0, len(result.Points))
	valueY := make([]float64, 0, len(result.Points))
	for _, p := range result.Points {
		t, err := time.Parse(common.DateLayout, p.Date)
		if err != nil {
			return nil, fmt.Errorf("bad point date %q: %w", p.Date, err)
		}
		xValues = append(xValues, t)
		valueY = append(valueY, p.Value)
	}

	baseY := make([]float64, len(valueY))
	for i := range baseY {
		baseY[i] = result.StartValue
	}

	valueSeries := chart.TimeSeries{
		Name: "Portfolio Value",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"), // blue-600
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: valueY,
	}

	baseSeries := chart.TimeSeries{
		Name: "Invested",
		Style: chart.Style{
			StrokeColor:     drawing.ColorFromHex("9ca3af"), // gray-400
			StrokeWidth:     1.5,
			StrokeDashArray: []float64{5.0, 3.0},
		},
		XValues: xValues,
		YValues: baseY,
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Backtest %+.2f%% (max drawdown %.2f%%)", result.TotalReturn, result.MaxDrawdown),
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format("2006-01")
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("¥%.0f", f)
				}
				return ""
			},
		},
		Series: []chart.Series{
			valueSeries,
			baseSeries,
		},
	}

	graph.Elements = []chart.Renderable{
		chart.LegendLeft(&graph),
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}

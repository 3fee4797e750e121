package portfolio

import (
	"bytes"
	"fmt"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/smartfund/internal/models"
)

var (
	gainColor = drawing.ColorFromHex("dc2626") // red-600, gains are red on A-share boards
	lossColor = drawing.ColorFromHex("16a34a") // green-600
)

// RenderProfitChart renders a PNG bar chart of a profit calendar.
// Returns raw PNG bytes.
func RenderProfitChart(cal *models.ProfitCalendar) ([]byte, error) {
	if cal == nil || len(cal.Buckets) == 0 {
		return nil, fmt.Errorf("need at least 1 bucket")
	}

	bars := make([]chart.Value, len(cal.Buckets))
	for i, b := range cal.Buckets {
		color := gainColor
		if b.Value < 0 {
			color = lossColor
		}
		bars[i] = chart.Value{
			Label: b.Label,
			Value: b.Value,
			Style: chart.Style{
				FillColor:   color,
				StrokeColor: color,
				StrokeWidth: 1,
			},
		}
	}

	width := 900
	barWidth := (width - 80) / len(bars)
	if barWidth > 60 {
		barWidth = 60
	}

	graph := chart.BarChart{
		Title:  fmt.Sprintf("Profit by %s", cal.View),
		Width:  width,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		BarWidth:     barWidth,
		UseBaseValue: true,
		BaseValue:    0,
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.0f", f)
				}
				return ""
			},
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}

	return buf.Bytes(), nil
}

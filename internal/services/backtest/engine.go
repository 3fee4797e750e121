// Package backtest simulates static buy-and-hold fund allocations against
// confirmed NAV history.
package backtest

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

const (
	NoteNoCosts           = "fees and slippage are not modelled"
	NoteInsufficientData  = "fewer than 2 valued dates in the lookback window"
	NoteLateStartTemplate = "%s starts on %s and is invested in full on that day"
)

// fundTrack is one allocation's NAVs keyed by date plus its fixed share count.
type fundTrack struct {
	navs   map[string]float64
	shares float64
}

// Run simulates allocations bought in full on each fund's first NAV inside
// the lookback window and held unchanged until the last available date.
// Missing NAV days carry the fund's last known NAV forward. Run is pure:
// series is only read.
func Run(allocs []models.BacktestAllocation, series map[string][]models.HistoryPoint, today time.Time, years int) *models.BacktestResult {
	start := today.AddDate(-years, 0, 0).Format(common.DateLayout)

	result := &models.BacktestResult{
		Points: []models.BacktestPoint{},
		Funds:  make([]models.BacktestFund, 0, len(allocs)),
		Notes:  []string{NoteNoCosts},
	}

	tracks := make([]fundTrack, len(allocs))
	dateSet := make(map[string]struct{})
	invested := 0.0

	for i, a := range allocs {
		invested += a.Amount
		points := window(series[a.Code], start)

		fund := models.BacktestFund{Code: a.Code, Amount: a.Amount, Points: len(points)}
		tracks[i].navs = make(map[string]float64, len(points))
		if len(points) > 0 && a.Amount > 0 {
			first := points[0]
			fund.FirstDate = first.Date
			fund.FirstNAV = first.NAV
			fund.InitialShares = a.Amount / first.NAV
			tracks[i].shares = fund.InitialShares

			for _, p := range points {
				tracks[i].navs[p.Date] = p.NAV
				dateSet[p.Date] = struct{}{}
			}
		}
		result.Funds = append(result.Funds, fund)
	}

	timeline := make([]string, 0, len(dateSet))
	for d := range dateSet {
		timeline = append(timeline, d)
	}
	sort.Strings(timeline)

	if len(timeline) > 0 {
		for _, f := range result.Funds {
			if f.FirstDate != "" && f.FirstDate > timeline[0] {
				result.Notes = append(result.Notes, fmt.Sprintf(NoteLateStartTemplate, f.Code, f.FirstDate))
			}
		}
	}

	lastKnown := make([]float64, len(tracks))
	values := make([]float64, 0, len(timeline))
	dates := make([]string, 0, len(timeline))
	for _, d := range timeline {
		total := 0.0
		for i, t := range tracks {
			if nav, ok := t.navs[d]; ok {
				lastKnown[i] = nav
			}
			total += t.shares * lastKnown[i]
		}
		if total > 0 {
			values = append(values, total)
			dates = append(dates, d)
		}
	}

	for i, v := range values {
		result.Points = append(result.Points, models.BacktestPoint{Date: dates[i], Value: common.Round2(v)})
	}

	if len(values) < 2 {
		result.InsufficientData = true
		result.StartValue = common.Round2(invested)
		result.FinalValue = common.Round2(invested)
		result.Notes = append(result.Notes, NoteInsufficientData)
		return result
	}

	startValue, finalValue := values[0], values[len(values)-1]
	result.StartDate = dates[0]
	result.EndDate = dates[len(dates)-1]
	result.StartValue = common.Round2(startValue)
	result.FinalValue = common.Round2(finalValue)
	result.TotalReturn = common.Round2((finalValue - startValue) / startValue * 100)
	result.AnnualizedReturn = common.Round2(annualize(startValue, finalValue, exactYears(dates[0], dates[len(dates)-1])))
	result.MaxDrawdown = common.Round2(MaxDrawdown(values))

	return result
}

// window keeps valid points dated on or after start, ascending, with one
// point per date (the last one supplied wins). Non-positive or non-finite
// NAVs are dropped so the previous NAV carries forward.
func window(points []models.HistoryPoint, start string) []models.HistoryPoint {
	byDate := make(map[string]float64, len(points))
	for _, p := range points {
		d, ok := common.NormalizeDate(p.Date)
		if !ok || d < start {
			continue
		}
		if math.IsNaN(p.NAV) || math.IsInf(p.NAV, 0) || p.NAV <= 0 {
			continue
		}
		byDate[d] = p.NAV
	}

	out := make([]models.HistoryPoint, 0, len(byDate))
	for d, nav := range byDate {
		out = append(out, models.HistoryPoint{Date: d, NAV: nav})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

// exactYears is the span between two dates in 365-day years. A collapsed
// span counts as one year.
func exactYears(first, last string) float64 {
	a, errA := time.Parse(common.DateLayout, first)
	b, errB := time.Parse(common.DateLayout, last)
	if errA != nil || errB != nil {
		return 1
	}
	years := b.Sub(a).Hours() / 24 / 365
	if years <= 0 {
		return 1
	}
	return years
}

func annualize(start, final, years float64) float64 {
	if start <= 0 {
		return 0
	}
	return (math.Pow(final/start, 1/years) - 1) * 100
}

// MaxDrawdown returns the largest percentage fall from a running peak.
func MaxDrawdown(values []float64) float64 {
	peak, worst := 0.0, 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak * 100; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

package portfolio

import (
	"math"
	"sort"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// ReplayInput is one fund's data for profit attribution.
type ReplayInput struct {
	Code            string
	Shares          float64 // currently held
	EstimatedProfit float64 // today's estimate from EstimateTodayProfit
	Transactions    []models.Transaction
	History         []models.HistoryPoint
}

// fundReplayState tracks incremental transaction replay for one fund.
// Transactions are sorted by date ascending; the cursor advances as history
// dates progress.
type fundReplayState struct {
	Code      string
	SortedTxs []models.Transaction
	Cursor    int
	Shares    float64
}

// advanceTo applies every transaction dated on or before date. A transaction
// dated d counts toward d's own profit.
func (s *fundReplayState) advanceTo(date string) {
	for s.Cursor < len(s.SortedTxs) {
		tx := s.SortedTxs[s.Cursor]
		if tx.Date > date {
			break
		}
		switch tx.Type {
		case models.TxBuy:
			s.Shares += tx.Shares
		case models.TxSell:
			s.Shares = math.Max(0, s.Shares-tx.Shares)
		}
		s.Cursor++
	}
}

// newFundReplayState copies and sorts transactions by date. It returns nil
// when there are none or any date is malformed, which skips the fund.
func newFundReplayState(code string, txs []models.Transaction) *fundReplayState {
	if len(txs) == 0 {
		return nil
	}
	sorted := make([]models.Transaction, len(txs))
	for i, tx := range txs {
		d, ok := common.NormalizeDate(tx.Date)
		if !ok {
			return nil
		}
		tx.Date = d
		sorted[i] = tx
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date < sorted[j].Date
	})
	return &fundReplayState{Code: code, SortedTxs: sorted}
}

// cleanHistory returns the series sorted ascending with malformed dates
// dropped. NaN or non-positive NAVs take the prior valid value; leading
// invalid points with nothing to inherit are dropped.
func cleanHistory(points []models.HistoryPoint) []models.HistoryPoint {
	out := make([]models.HistoryPoint, 0, len(points))
	for _, p := range points {
		d, ok := common.NormalizeDate(p.Date)
		if !ok {
			continue
		}
		out = append(out, models.HistoryPoint{Date: d, NAV: p.NAV})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	valid := out[:0]
	last := 0.0
	for _, p := range out {
		if math.IsNaN(p.NAV) || math.IsInf(p.NAV, 0) || p.NAV <= 0 {
			if last <= 0 {
				continue
			}
			p.NAV = last
		}
		last = p.NAV
		valid = append(valid, p)
	}
	return valid
}

// ReplayProfits reconstructs per-date P&L across funds.
//
// Only funds currently held with at least one transaction take part. Today
// is seeded with the sum of their estimated profit, since confirmed NAV
// history lags by a day; history points dated today or later are left to
// that seed. Each fund's history is then walked from its second point,
// skipping days before the first transaction, and the day-over-day NAV delta
// is multiplied by the shares held after that day's transactions.
//
// It returns the per-date sums and the number of participating funds.
func ReplayProfits(inputs []ReplayInput, today string) (map[string]float64, int) {
	daily := make(map[string]float64)

	// Phase 1: seed today
	participants := make([]ReplayInput, 0, len(inputs))
	for _, in := range inputs {
		if in.Shares <= 0 || len(in.Transactions) == 0 {
			continue
		}
		participants = append(participants, in)
		daily[today] += in.EstimatedProfit
	}

	// Phase 2: backfill confirmed history
	for _, in := range participants {
		state := newFundReplayState(in.Code, in.Transactions)
		if state == nil {
			continue
		}
		history := cleanHistory(in.History)
		startDate := state.SortedTxs[0].Date

		for i := 1; i < len(history); i++ {
			day := history[i]
			if day.Date < startDate {
				continue
			}
			if day.Date >= today {
				break
			}
			state.advanceTo(day.Date)
			if state.Shares > 0 {
				daily[day.Date] += (day.NAV - history[i-1].NAV) * state.Shares
			}
		}
	}

	return daily, len(participants)
}

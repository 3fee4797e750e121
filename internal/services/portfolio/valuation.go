package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

// EstimateTodayProfit returns today's estimated P&L for a holding.
//
// Outside trading hours the estimate often echoes the last confirmed NAV
// while the percent change still reports the previous session's move. When
// the NAV delta is below a cent but the percent change is not negligible,
// the profit is derived from the percent change instead.
func EstimateTodayProfit(shares, lastNAV, estimatedNAV, changePercent float64) float64 {
	if shares == 0 {
		return 0
	}

	base := (estimatedNAV - lastNAV) * shares
	if math.Abs(base) < 0.01 && math.Abs(changePercent) > 0.001 {
		current := estimatedNAV * shares
		previous := current / (1 + changePercent/100)
		return current - previous
	}
	return base
}

// FundEstimatedProfit applies EstimateTodayProfit to a fund's position and
// latest quote. Funds without a quote contribute 0.
func FundEstimatedProfit(f models.Fund) float64 {
	if f.Quote == nil {
		return 0
	}
	q := f.Quote
	return EstimateTodayProfit(f.Position.Shares, q.LastNAV, q.EstimatedNAV, q.EstimatedChangePercent)
}

// SummarizeFunds values every held fund at its latest quote. Watch-list
// funds are excluded. A quote older than staleAfter is flagged stale.
func SummarizeFunds(funds []models.Fund, phase models.MarketPhase, now time.Time, staleAfter time.Duration) *models.PortfolioSummary {
	summary := &models.PortfolioSummary{
		Phase: string(phase),
		Funds: make([]models.FundSummary, 0, len(funds)),
	}

	for _, f := range funds {
		if f.Position.Shares <= 0 {
			continue
		}

		row := models.FundSummary{
			Code:           f.Code,
			Name:           f.Name,
			Shares:         f.Position.Shares,
			CostBasis:      common.Round4(f.Position.CostBasis),
			RealizedProfit: common.Round2(f.Position.RealizedProfit),
			Stale:          true,
		}

		nav := f.Position.CostBasis
		if f.Quote != nil {
			nav = f.Quote.EstimatedNAV
			if nav <= 0 {
				nav = f.Quote.LastNAV
			}
			row.ChangePercent = f.Quote.EstimatedChangePercent
			row.Source = f.Quote.Source
			row.Stale = !common.IsFresh(f.Quote.UpdatedAt, now, staleAfter)
		}

		marketValue := nav * f.Position.Shares
		estimated := FundEstimatedProfit(f)
		holding := (nav - f.Position.CostBasis) * f.Position.Shares

		row.MarketValue = common.Round2(marketValue)
		row.EstimatedProfit = common.Round2(estimated)
		row.HoldingProfit = common.Round2(holding)

		summary.TotalMarketValue += marketValue
		summary.TotalEstimatedProfit += estimated
		summary.TotalHoldingProfit += holding
		summary.TotalRealizedProfit += f.Position.RealizedProfit
		summary.Funds = append(summary.Funds, row)
	}

	sort.SliceStable(summary.Funds, func(i, j int) bool {
		return summary.Funds[i].MarketValue > summary.Funds[j].MarketValue
	})

	summary.TotalMarketValue = common.Round2(summary.TotalMarketValue)
	summary.TotalEstimatedProfit = common.Round2(summary.TotalEstimatedProfit)
	summary.TotalHoldingProfit = common.Round2(summary.TotalHoldingProfit)
	summary.TotalRealizedProfit = common.Round2(summary.TotalRealizedProfit)
	return summary
}

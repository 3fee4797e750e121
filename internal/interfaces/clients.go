// Package interfaces defines service contracts for SmartFund
package interfaces

import (
	"context"

	"github.com/bobmcallan/smartfund/internal/models"
)

// FundDataClient provides upstream fund data: realtime estimates, confirmed
// NAV history, exchange quotes and fund metadata.
type FundDataClient interface {
	// FetchEstimate returns the official intraday estimate for a fund
	FetchEstimate(ctx context.Context, code string) (*models.Estimate, error)

	// FetchHistory returns confirmed daily NAVs in ascending date order
	FetchHistory(ctx context.Context, code string) ([]models.HistoryPoint, error)

	// FetchProfile returns the fund name and current managers
	FetchProfile(ctx context.Context, code string) (*models.FundDetail, error)

	// FetchHoldings returns the disclosed top stock positions
	FetchHoldings(ctx context.Context, code string) ([]models.Holding, error)

	// FetchQuotes returns today's percent change keyed by security code
	FetchQuotes(ctx context.Context, codes []string) (map[string]float64, error)

	// FetchIndices returns snapshots for market-prefixed security ids (e.g. "1.000001")
	FetchIndices(ctx context.Context, secids []string) ([]models.IndexQuote, error)

	// FetchFundList returns the full searchable fund universe
	FetchFundList(ctx context.Context) ([]models.FundListing, error)
}

// GeminiClient provides AI content generation
type GeminiClient interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

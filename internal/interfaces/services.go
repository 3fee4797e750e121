package interfaces

import (
	"context"

	"github.com/bobmcallan/smartfund/internal/models"
)

// QuoteService produces tiered realtime estimates
type QuoteService interface {
	// Phase returns the current trading session phase
	Phase() models.MarketPhase

	// GetEstimate returns the official estimate for one fund, falling back
	// to the last confirmed NAV when the estimate carries none
	GetEstimate(ctx context.Context, code string) (*models.Estimate, error)

	// GetBatchEstimates returns one estimate per code, in input order.
	// Per-code failures surface as LV4_NONE entries, not errors.
	GetBatchEstimates(ctx context.Context, codes []string) []*models.Estimate
}

// HistoryProvider fetches NAV histories for many funds concurrently.
// A failed fetch yields an empty series for that code.
type HistoryProvider interface {
	Histories(ctx context.Context, codes []string) map[string][]models.HistoryPoint
}

// FundService covers search, metadata, history and market indices
type FundService interface {
	HistoryProvider

	Search(ctx context.Context, key string) ([]models.FundListing, error)
	RefreshFundList(ctx context.Context) error
	Detail(ctx context.Context, code string) (*models.FundDetail, error)
	History(ctx context.Context, code string) ([]models.HistoryPoint, error)
	Market(ctx context.Context, secids []string) ([]models.IndexQuote, error)
}

// PortfolioService owns tracked funds and their positions
type PortfolioService interface {
	ListFunds(ctx context.Context) ([]models.Fund, error)
	GetFund(ctx context.Context, code string) (*models.Fund, error)
	AddFund(ctx context.Context, fund models.Fund) (*models.Fund, error)
	RemoveFund(ctx context.Context, code string) error

	// ApplyTransaction serializes writes per fund code
	ApplyTransaction(ctx context.Context, code string, tx models.Transaction) (*models.Fund, error)

	// RefreshQuotes updates quotes for all tracked funds and returns how
	// many were refreshed; funds whose estimate is unavailable keep their old quote
	RefreshQuotes(ctx context.Context) (int, error)

	Summary(ctx context.Context) (*models.PortfolioSummary, error)
	ProfitCalendar(ctx context.Context, view models.ProfitView) (*models.ProfitCalendar, error)

	GetState(ctx context.Context) (*models.State, error)
	ReplaceState(ctx context.Context, state *models.State) error
	SetGroups(ctx context.Context, groups []models.Group) error
	SetMarketConfig(ctx context.Context, secids []string) error
}

// BacktestService simulates static buy-and-hold allocations
type BacktestService interface {
	Run(ctx context.Context, req models.BacktestRequest) (*models.BacktestResult, error)
}

// AnalysisService produces LLM commentary
type AnalysisService interface {
	Analyze(ctx context.Context, prompt string) (string, error)

	// AnalyzePortfolio asks for commentary on a valuation summary
	AnalyzePortfolio(ctx context.Context, summary *models.PortfolioSummary) (string, error)
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

// --- Tool definitions ---

func createGetVersionTool() mcp.Tool {
	return mcp.NewTool("get_version",
		mcp.WithDescription("Get the SmartFund server version and status. Use this to verify connectivity."),
	)
}

func createFundSearchTool() mcp.Tool {
	return mcp.NewTool("fund_search",
		mcp.WithDescription("Search Chinese mutual funds and ETFs by code, name or pinyin initials."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Fund code, name fragment or pinyin initials (e.g. '161725', '白酒', 'ZSBJ')"),
		),
	)
}

func createFundEstimateTool() mcp.Tool {
	return mcp.NewTool("fund_estimate",
		mcp.WithDescription("Get realtime intraday NAV estimates for one or more funds. Each row says which source produced it: official estimate, ETF proxy, holdings-weighted, or none."),
		mcp.WithArray("codes",
			mcp.Required(),
			mcp.WithStringItems(),
			mcp.Description("Six-digit fund codes"),
		),
	)
}

func createPortfolioSummaryTool() mcp.Tool {
	return mcp.NewTool("portfolio_summary",
		mcp.WithDescription("Value every held fund at its latest quote: market value, today's estimated profit, holding profit and realized profit."),
		mcp.WithBoolean("refresh",
			mcp.Description("Refresh quotes before summarizing (default: false)"),
		),
	)
}

func createProfitCalendarTool() mcp.Tool {
	return mcp.NewTool("profit_calendar",
		mcp.WithDescription("Daily profit replayed from NAV history and the transaction log, aggregated by day, week, month or year."),
		mcp.WithString("view",
			mcp.Description("Aggregation: day (30 days), week (8 weeks), month (12 months) or year (5 years). Default: day"),
			mcp.Enum("day", "week", "month", "year"),
		),
	)
}

func createRunBacktestTool() mcp.Tool {
	return mcp.NewTool("run_backtest",
		mcp.WithDescription("Backtest a static buy-and-hold allocation over real NAV history. Fees and slippage are not modelled."),
		mcp.WithArray("allocations",
			mcp.Required(),
			mcp.Description("Funds and amounts, as objects {\"code\": \"161725\", \"amount\": 10000} or strings \"161725:10000\""),
		),
		mcp.WithNumber("years",
			mcp.Description("Lookback in years, 1-20 (default: 3)"),
		),
	)
}

func createAnalyzePortfolioTool() mcp.Tool {
	return mcp.NewTool("analyze_portfolio",
		mcp.WithDescription("Ask the configured LLM for commentary on the current portfolio summary."),
	)
}

// --- Tool handlers ---

func handleGetVersion() server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := fmt.Sprintf("SmartFund Server\nVersion: %s\nBuild: %s\nCommit: %s\nStatus: OK",
			common.GetVersion(), common.Build, common.GitCommit)
		return textResult(result), nil
	}
}

func handleFundSearch(funds interfaces.FundService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil || strings.TrimSpace(query) == "" {
			return errorResult("Error: query parameter is required"), nil
		}

		results, err := funds.Search(ctx, query)
		if err != nil {
			logger.Error().Err(err).Str("query", query).Msg("Fund search failed")
			return errorResult(fmt.Sprintf("Search error: %v", err)), nil
		}
		if len(results) == 0 {
			return textResult(fmt.Sprintf("No funds match %q.", query)), nil
		}

		var sb strings.Builder
		sb.WriteString("| Code | Name | Type |\n|------|------|------|\n")
		for _, f := range results {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", f.Code, f.Name, f.Type)
		}
		return textResult(sb.String()), nil
	}
}

func handleFundEstimate(quotes interfaces.QuoteService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		codes := request.GetStringSlice("codes", nil)
		if len(codes) == 0 {
			if single := request.GetString("codes", ""); single != "" {
				codes = strings.Split(single, ",")
			}
		}
		if len(codes) == 0 {
			return errorResult("Error: codes parameter is required"), nil
		}

		estimates := quotes.GetBatchEstimates(ctx, codes)
		logger.Debug().Int("codes", len(codes)).Msg("MCP fund_estimate")

		var sb strings.Builder
		fmt.Fprintf(&sb, "Market phase: %s\n\n", quotes.Phase())
		sb.WriteString("| Code | Name | Last NAV | NAV Date | Estimate | Change % | Source |\n")
		sb.WriteString("|------|------|----------|----------|----------|----------|--------|\n")
		for _, e := range estimates {
			fmt.Fprintf(&sb, "| %s | %s | %.4f | %s | %.4f | %+.2f | %s |\n",
				e.Code, e.Name, e.LastNAV, e.LastNAVDate, e.EstimatedNAV, e.EstimatedChangePercent, e.Source)
		}
		return textResult(sb.String()), nil
	}
}

func handlePortfolioSummary(portfolio interfaces.PortfolioService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if request.GetBool("refresh", false) {
			if _, err := portfolio.RefreshQuotes(ctx); err != nil {
				logger.Warn().Err(err).Msg("MCP portfolio_summary: refresh failed, using stored quotes")
			}
		}

		summary, err := portfolio.Summary(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Portfolio summary failed")
			return errorResult(fmt.Sprintf("Summary error: %v", err)), nil
		}
		return textResult(formatSummary(summary)), nil
	}
}

func handleProfitCalendar(portfolio interfaces.PortfolioService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		view := models.ParseProfitView(request.GetString("view", "day"))

		cal, err := portfolio.ProfitCalendar(ctx, view)
		if errors.Is(err, models.ErrNoProfitHistory) {
			return textResult("No profit history yet: record a transaction for a held fund first."), nil
		}
		if err != nil {
			logger.Error().Err(err).Str("view", string(view)).Msg("Profit calendar failed")
			return errorResult(fmt.Sprintf("Profit calendar error: %v", err)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "# Profit by %s\n\n", cal.View)
		fmt.Fprintf(&sb, "**Current:** %s (%d funds)\n\n", common.FormatSignedMoney(cal.Current), cal.Funds)
		sb.WriteString("| Period | Profit |\n|--------|--------|\n")
		for _, b := range cal.Buckets {
			fmt.Fprintf(&sb, "| %s | %s |\n", b.Label, common.FormatSignedMoney(b.Value))
		}
		return textResult(sb.String()), nil
	}
}

func handleRunBacktest(backtests interfaces.BacktestService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		allocs, err := parseAllocations(request.GetArguments()["allocations"])
		if err != nil {
			return errorResult(fmt.Sprintf("Error: %v", err)), nil
		}

		req := models.BacktestRequest{
			Allocations:   allocs,
			DurationYears: request.GetInt("years", 3),
		}
		result, err := backtests.Run(ctx, req)
		if err != nil {
			logger.Error().Err(err).Msg("Backtest failed")
			return errorResult(fmt.Sprintf("Backtest error: %v", err)), nil
		}
		return textResult(formatBacktest(result, req.DurationYears)), nil
	}
}

func handleAnalyzePortfolio(portfolio interfaces.PortfolioService, analysis interfaces.AnalysisService, logger *common.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		summary, err := portfolio.Summary(ctx)
		if err != nil {
			return errorResult(fmt.Sprintf("Summary error: %v", err)), nil
		}

		text, err := analysis.AnalyzePortfolio(ctx, summary)
		if err != nil {
			logger.Warn().Err(err).Msg("Portfolio analysis failed")
			return errorResult(fmt.Sprintf("Analysis error: %v", err)), nil
		}
		return textResult(text), nil
	}
}

// parseAllocations accepts native objects, string-encoded objects or
// "code:amount" strings, since MCP proxies are inconsistent about arrays.
func parseAllocations(raw interface{}) ([]models.BacktestAllocation, error) {
	items, ok := raw.([]interface{})
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("allocations parameter is required")
	}

	out := make([]models.BacktestAllocation, 0, len(items))
	for i, item := range items {
		var a models.BacktestAllocation
		switch v := item.(type) {
		case map[string]interface{}:
			data, _ := json.Marshal(v)
			if err := json.Unmarshal(data, &a); err != nil {
				return nil, fmt.Errorf("allocation %d: %w", i, err)
			}
		case string:
			v = strings.TrimSpace(v)
			if strings.HasPrefix(v, "{") {
				if err := json.Unmarshal([]byte(v), &a); err != nil {
					return nil, fmt.Errorf("allocation %d: %w", i, err)
				}
				break
			}
			code, amount, found := strings.Cut(v, ":")
			if !found {
				return nil, fmt.Errorf("allocation %d: expected code:amount, got %q", i, v)
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(amount), 64)
			if err != nil {
				return nil, fmt.Errorf("allocation %d: bad amount %q", i, amount)
			}
			a = models.BacktestAllocation{Code: strings.TrimSpace(code), Amount: f}
		default:
			return nil, fmt.Errorf("allocation %d: unsupported type %T", i, item)
		}
		out = append(out, a)
	}
	return out, nil
}

// --- Formatting ---

func formatSummary(s *models.PortfolioSummary) string {
	var sb strings.Builder
	sb.WriteString("# Portfolio Summary\n\n")
	fmt.Fprintf(&sb, "**Market phase:** %s\n", s.Phase)
	fmt.Fprintf(&sb, "**Market value:** %s\n", common.FormatMoney(s.TotalMarketValue))
	fmt.Fprintf(&sb, "**Today (est.):** %s\n", common.FormatSignedMoney(s.TotalEstimatedProfit))
	fmt.Fprintf(&sb, "**Holding profit:** %s\n", common.FormatSignedMoney(s.TotalHoldingProfit))
	fmt.Fprintf(&sb, "**Realized profit:** %s\n\n", common.FormatSignedMoney(s.TotalRealizedProfit))

	if len(s.Funds) == 0 {
		sb.WriteString("No held funds.\n")
		return sb.String()
	}

	sb.WriteString("| Code | Name | Shares | Value | Change % | Today | Holding | Source |\n")
	sb.WriteString("|------|------|--------|-------|----------|-------|---------|--------|\n")
	for _, f := range s.Funds {
		source := f.Source
		if f.Stale {
			source += " (stale)"
		}
		fmt.Fprintf(&sb, "| %s | %s | %.2f | %s | %+.2f | %s | %s | %s |\n",
			f.Code, f.Name, f.Shares, common.FormatMoney(f.MarketValue), f.ChangePercent,
			common.FormatSignedMoney(f.EstimatedProfit), common.FormatSignedMoney(f.HoldingProfit), source)
	}
	return sb.String()
}

func formatBacktest(r *models.BacktestResult, years int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Backtest (%d years)\n\n", years)
	if r.InsufficientData {
		sb.WriteString("**Insufficient data:** fewer than 2 valued dates in the window.\n")
		fmt.Fprintf(&sb, "**Final value:** %s\n", common.FormatMoney(r.FinalValue))
	} else {
		fmt.Fprintf(&sb, "**Period:** %s to %s\n", r.StartDate, r.EndDate)
		fmt.Fprintf(&sb, "**Start value:** %s\n", common.FormatMoney(r.StartValue))
		fmt.Fprintf(&sb, "**Final value:** %s\n", common.FormatMoney(r.FinalValue))
		fmt.Fprintf(&sb, "**Total return:** %s\n", common.FormatSignedPct(r.TotalReturn))
		fmt.Fprintf(&sb, "**Annualized return:** %s\n", common.FormatSignedPct(r.AnnualizedReturn))
		fmt.Fprintf(&sb, "**Max drawdown:** %.2f%%\n", r.MaxDrawdown)
	}

	sb.WriteString("\n| Code | Amount | First Date | First NAV | Shares |\n")
	sb.WriteString("|------|--------|------------|-----------|--------|\n")
	for _, f := range r.Funds {
		fmt.Fprintf(&sb, "| %s | %s | %s | %.4f | %.2f |\n",
			f.Code, common.FormatMoney(f.Amount), f.FirstDate, f.FirstNAV, f.InitialShares)
	}

	if len(r.Notes) > 0 {
		sb.WriteString("\n")
		for _, n := range r.Notes {
			fmt.Fprintf(&sb, "- %s\n", n)
		}
	}
	return sb.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(message),
		},
		IsError: true,
	}
}

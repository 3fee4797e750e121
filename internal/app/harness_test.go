package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

// --- mocks ---

type mockPortfolioService struct {
	summary      *models.PortfolioSummary
	summaryErr   error
	calendar     *models.ProfitCalendar
	calendarErr  error
	refreshErr   error
	refreshCalls atomic.Int32
	lastView     models.ProfitView
}

func (m *mockPortfolioService) ListFunds(context.Context) ([]models.Fund, error) { return nil, nil }
func (m *mockPortfolioService) GetFund(context.Context, string) (*models.Fund, error) {
	return nil, models.ErrFundNotFound
}
func (m *mockPortfolioService) AddFund(_ context.Context, f models.Fund) (*models.Fund, error) {
	return &f, nil
}
func (m *mockPortfolioService) RemoveFund(context.Context, string) error { return nil }
func (m *mockPortfolioService) ApplyTransaction(context.Context, string, models.Transaction) (*models.Fund, error) {
	return nil, nil
}
func (m *mockPortfolioService) RefreshQuotes(context.Context) (int, error) {
	m.refreshCalls.Add(1)
	return 1, m.refreshErr
}
func (m *mockPortfolioService) Summary(context.Context) (*models.PortfolioSummary, error) {
	return m.summary, m.summaryErr
}
func (m *mockPortfolioService) ProfitCalendar(_ context.Context, view models.ProfitView) (*models.ProfitCalendar, error) {
	m.lastView = view
	return m.calendar, m.calendarErr
}
func (m *mockPortfolioService) GetState(context.Context) (*models.State, error) {
	return models.NewState(), nil
}
func (m *mockPortfolioService) ReplaceState(context.Context, *models.State) error { return nil }
func (m *mockPortfolioService) SetGroups(context.Context, []models.Group) error { return nil }
func (m *mockPortfolioService) SetMarketConfig(context.Context, []string) error { return nil }

type mockFundService struct {
	listings     []models.FundListing
	refreshCalls atomic.Int32
}

func (m *mockFundService) Histories(context.Context, []string) map[string][]models.HistoryPoint {
	return map[string][]models.HistoryPoint{}
}
func (m *mockFundService) Search(context.Context, string) ([]models.FundListing, error) {
	return m.listings, nil
}
func (m *mockFundService) RefreshFundList(context.Context) error {
	m.refreshCalls.Add(1)
	return nil
}
func (m *mockFundService) Detail(context.Context, string) (*models.FundDetail, error) {
	return nil, models.ErrNotFound
}
func (m *mockFundService) History(context.Context, string) ([]models.HistoryPoint, error) {
	return nil, nil
}
func (m *mockFundService) Market(context.Context, []string) ([]models.IndexQuote, error) {
	return nil, nil
}

type mockQuoteService struct{}

func (mockQuoteService) Phase() models.MarketPhase { return models.PhaseLunchBreak }
func (mockQuoteService) GetEstimate(_ context.Context, code string) (*models.Estimate, error) {
	return nil, fmt.Errorf("no estimate for %s", code)
}
func (mockQuoteService) GetBatchEstimates(_ context.Context, codes []string) []*models.Estimate {
	out := make([]*models.Estimate, len(codes))
	for i, c := range codes {
		out[i] = &models.Estimate{Code: c, Name: "Fund " + c, LastNAV: 1.5, LastNAVDate: "2025-03-03",
			EstimatedNAV: 1.53, EstimatedChangePercent: 2, Source: models.SourceOfficial}
	}
	return out
}

type mockBacktestService struct {
	last   models.BacktestRequest
	result *models.BacktestResult
	err    error
}

func (m *mockBacktestService) Run(_ context.Context, req models.BacktestRequest) (*models.BacktestResult, error) {
	m.last = req
	return m.result, m.err
}

type mockAnalysisService struct {
	text    string
	err     error
	summary *models.PortfolioSummary
}

func (m *mockAnalysisService) Analyze(context.Context, string) (string, error) { return m.text, m.err }
func (m *mockAnalysisService) AnalyzePortfolio(_ context.Context, s *models.PortfolioSummary) (string, error) {
	m.summary = s
	return m.text, m.err
}

type mockStorageManager struct {
	pruneCalls atomic.Int32
	pruneAge   time.Duration
}

func (m *mockStorageManager) StateStore() interfaces.StateStore           { return nil }
func (m *mockStorageManager) CacheStorage() interfaces.CacheStorage       { return nil }
func (m *mockStorageManager) KeyValueStorage() interfaces.KeyValueStorage { return nil }
func (m *mockStorageManager) PruneCache(_ context.Context, maxAge time.Duration) (int, error) {
	m.pruneCalls.Add(1)
	m.pruneAge = maxAge
	return 0, nil
}
func (m *mockStorageManager) Close() error { return nil }

// testHarness provides an in-process MCP client connected to an App whose
// services are mocks. Tests configure mock behavior before calling tools.
type testHarness struct {
	t         *testing.T
	client    *client.Client
	portfolio *mockPortfolioService
	funds     *mockFundService
	backtests *mockBacktestService
	analysis  *mockAnalysisService
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()

	h := &testHarness{
		t:         t,
		portfolio: &mockPortfolioService{},
		funds:     &mockFundService{},
		backtests: &mockBacktestService{},
		analysis:  &mockAnalysisService{},
	}

	a := &App{
		Config:           common.NewDefaultConfig(),
		Logger:           common.NewSilentLogger(),
		FundService:      h.funds,
		QuoteService:     mockQuoteService{},
		PortfolioService: h.portfolio,
		BacktestService:  h.backtests,
		AnalysisService:  h.analysis,
		MCPServer:        server.NewMCPServer("smartfund-test", "test", server.WithToolCapabilities(true)),
	}
	a.registerTools()

	c, err := client.NewInProcessClient(a.MCPServer)
	if err != nil {
		t.Fatalf("Failed to create in-process client: %v", err)
	}

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Failed to start client: %v", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "smartfund-test", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		t.Fatalf("Failed to initialize MCP: %v", err)
	}

	h.client = c
	t.Cleanup(func() { c.Close() })
	return h
}

// callTool invokes an MCP tool by name with the given arguments.
func (h *testHarness) callTool(name string, args map[string]any) *mcp.CallToolResult {
	h.t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := h.client.CallTool(context.Background(), req)
	if err != nil {
		h.t.Fatalf("CallTool(%s): %v", name, err)
	}
	return result
}

// text extracts the first text block of a result.
func (h *testHarness) text(result *mcp.CallToolResult) string {
	h.t.Helper()
	if len(result.Content) == 0 {
		h.t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		h.t.Fatalf("Content[0] is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

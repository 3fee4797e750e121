package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bobmcallan/smartfund/internal/app"
	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
	"github.com/bobmcallan/smartfund/internal/services/analysis"
	"github.com/bobmcallan/smartfund/internal/services/backtest"
	"github.com/bobmcallan/smartfund/internal/services/portfolio"
	"github.com/bobmcallan/smartfund/internal/storage"
)

// --- mocks ---

type mockQuotes struct {
	estimates map[string]*models.Estimate
}

func (m *mockQuotes) Phase() models.MarketPhase { return models.PhaseMarket }

func (m *mockQuotes) GetEstimate(_ context.Context, code string) (*models.Estimate, error) {
	if e, ok := m.estimates[code]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("upstream: no estimate for %s", code)
}

func (m *mockQuotes) GetBatchEstimates(_ context.Context, codes []string) []*models.Estimate {
	out := make([]*models.Estimate, len(codes))
	for i, c := range codes {
		if e, ok := m.estimates[c]; ok {
			out[i] = e
		} else {
			out[i] = &models.Estimate{Code: c, Source: models.SourceNone}
		}
	}
	return out
}

type mockFunds struct {
	histories map[string][]models.HistoryPoint
	marketReq []string
}

func (m *mockFunds) Histories(_ context.Context, codes []string) map[string][]models.HistoryPoint {
	out := make(map[string][]models.HistoryPoint, len(codes))
	for _, c := range codes {
		out[c] = append([]models.HistoryPoint{}, m.histories[c]...)
	}
	return out
}

func (m *mockFunds) Search(_ context.Context, key string) ([]models.FundListing, error) {
	return []models.FundListing{{Code: "161725", Name: "Liquor Index " + key}}, nil
}

func (m *mockFunds) RefreshFundList(context.Context) error { return nil }

func (m *mockFunds) Detail(_ context.Context, code string) (*models.FundDetail, error) {
	return nil, fmt.Errorf("upstream down")
}

func (m *mockFunds) History(_ context.Context, code string) ([]models.HistoryPoint, error) {
	return m.histories[code], nil
}

func (m *mockFunds) Market(_ context.Context, secids []string) ([]models.IndexQuote, error) {
	m.marketReq = secids
	return []models.IndexQuote{}, nil
}

// newTestServer builds a Server over real portfolio, backtest and analysis
// services with stubbed upstream data.
func newTestServer(t *testing.T) (*Server, *mockFunds) {
	t.Helper()
	logger := common.NewSilentLogger()

	store, err := storage.NewFileStateStore(logger, common.FileConfig{Path: t.TempDir()})
	if err != nil {
		t.Fatalf("state store: %v", err)
	}

	today := common.InChina(time.Now())
	var hist []models.HistoryPoint
	for i := 400; i >= 1; i-- {
		d := today.AddDate(0, 0, -i)
		hist = append(hist, models.HistoryPoint{Date: d.Format(common.DateLayout), NAV: 1 + float64(400-i)*0.001})
	}

	funds := &mockFunds{histories: map[string][]models.HistoryPoint{"000001": hist}}
	quotes := &mockQuotes{estimates: map[string]*models.Estimate{
		"000001": {Code: "000001", Name: "Alpha", LastNAV: 1.2, LastNAVDate: today.AddDate(0, 0, -1).Format(common.DateLayout), EstimatedNAV: 1.23, EstimatedChangePercent: 2.5, Source: models.SourceOfficial},
	}}

	cfg := common.NewDefaultConfig()
	a := &app.App{
		Config:           cfg,
		Logger:           logger,
		FundService:      funds,
		QuoteService:     quotes,
		PortfolioService: portfolio.NewService(store, quotes, funds, logger),
		BacktestService:  backtest.NewService(funds, logger),
		AnalysisService:  analysis.NewService(nil, logger),
		StartupTime:      time.Now(),
	}
	return NewServer(a), funds
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

// --- tests ---

func TestHealthAndVersion(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodGet, "/api/health", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s, http.MethodGet, "/api/version", "")
	var v map[string]string
	decode(t, rr, &v)
	if v["version"] == "" {
		t.Errorf("expected version in %v", v)
	}

	rr = do(t, s, http.MethodPost, "/api/health", "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s, http.MethodGet, "/api/status", "")
	var body map[string]interface{}
	decode(t, rr, &body)
	if body["phase"] != string(models.PhaseMarket) {
		t.Errorf("expected MARKET phase, got %v", body["phase"])
	}
	if body["funds"] != float64(0) {
		t.Errorf("expected 0 funds, got %v", body["funds"])
	}
}

func TestFundLifecycle(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodPost, "/api/funds", `{"code":"000001"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rr.Code, rr.Body.String())
	}
	var added models.Fund
	decode(t, rr, &added)
	if added.Name != "Alpha" || !added.Watchlist || added.Quote == nil {
		t.Errorf("expected name and quote filled from estimate, got %+v", added)
	}

	rr = do(t, s, http.MethodPost, "/api/funds", `{"code":"000001"}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate add: expected 409, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/api/funds/000001/transactions", `{"type":"BUY","date":"2025-01-02","amount":1000,"shares":1000,"nav":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("buy: %d %s", rr.Code, rr.Body.String())
	}
	var bought models.Fund
	decode(t, rr, &bought)
	if bought.Position.Shares != 1000 || bought.Watchlist {
		t.Errorf("expected 1000 held shares, got %+v", bought.Position)
	}

	rr = do(t, s, http.MethodPost, "/api/funds/000001/transactions", `{"type":"HOLD","shares":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid tx: expected 400, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodPost, "/api/funds/999999/transactions", `{"type":"BUY","shares":1,"nav":1}`)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown fund: expected 404, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodGet, "/api/funds/000001", "")
	if rr.Code != http.StatusOK {
		t.Errorf("get: %d", rr.Code)
	}

	rr = do(t, s, http.MethodGet, "/api/portfolio/summary", "")
	var summary models.PortfolioSummary
	decode(t, rr, &summary)
	if len(summary.Funds) != 1 || summary.TotalMarketValue <= 0 {
		t.Errorf("expected one valued fund, got %+v", summary)
	}

	rr = do(t, s, http.MethodPost, "/api/portfolio/refresh", "")
	var refresh map[string]interface{}
	decode(t, rr, &refresh)
	if refresh["refreshed"] != float64(1) {
		t.Errorf("expected 1 refreshed, got %v", refresh)
	}

	rr = do(t, s, http.MethodDelete, "/api/funds/000001", "")
	if rr.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rr.Code)
	}
	rr = do(t, s, http.MethodGet, "/api/funds/000001", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", rr.Code)
	}
}

func TestProfitCalendar(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodGet, "/api/portfolio/profit?view=month", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("empty portfolio: expected 404, got %d", rr.Code)
	}

	buyDate := common.InChina(time.Now()).AddDate(0, 0, -60).Format(common.DateLayout)
	do(t, s, http.MethodPost, "/api/funds", `{"code":"000001"}`)
	do(t, s, http.MethodPost, "/api/funds/000001/transactions", fmt.Sprintf(`{"type":"BUY","date":%q,"shares":1000,"nav":1.3}`, buyDate))

	rr = do(t, s, http.MethodGet, "/api/portfolio/profit?view=month", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("profit: %d %s", rr.Code, rr.Body.String())
	}
	var cal models.ProfitCalendar
	decode(t, rr, &cal)
	if cal.View != models.ProfitViewMonth || cal.Funds != 1 || len(cal.Buckets) == 0 {
		t.Errorf("unexpected calendar %+v", cal)
	}

	rr = do(t, s, http.MethodGet, "/api/portfolio/profit?view=day&format=png", "")
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("png: %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"funds":[{"code":"000002","name":"Beta","position":{"shares":10,"costBasis":12}}],"groups":[{"id":"g1","name":"Core"}],"marketConfig":["1.000001"]}`
	rr := do(t, s, http.MethodPut, "/api/state", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("put state: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s, http.MethodGet, "/api/state", "")
	var st models.State
	decode(t, rr, &st)
	if len(st.Funds) != 1 || st.Funds[0].Code != "000002" || st.Version != models.StateVersion {
		t.Errorf("unexpected state %+v", st)
	}
	if st.Funds[0].Position.Transactions == nil {
		t.Error("expected transactions normalized to an empty list")
	}

	rr = do(t, s, http.MethodPut, "/api/state", `{"funds":[{"code":"1"},{"code":"1"}]}`)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate codes: expected 409, got %d", rr.Code)
	}
	rr = do(t, s, http.MethodPut, "/api/state", `{"funds":[{"code":"1","position":{"shares":-1}}]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative shares: expected 400, got %d", rr.Code)
	}
}

func TestGroups(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodPut, "/api/groups", `[{"id":"g1","name":"Core"},{"id":"g2","name":"Satellite"}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put groups: %d %s", rr.Code, rr.Body.String())
	}
	rr = do(t, s, http.MethodGet, "/api/groups", "")
	var groups []models.Group
	decode(t, rr, &groups)
	if len(groups) != 2 {
		t.Errorf("expected 2 groups, got %v", groups)
	}

	rr = do(t, s, http.MethodPut, "/api/groups", `[{"id":"g1"},{"id":"g1"}]`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("duplicate ids: expected 400, got %d", rr.Code)
	}
}

func TestMarketUsesStateConfig(t *testing.T) {
	s, funds := newTestServer(t)

	do(t, s, http.MethodPut, "/api/state", `{"funds":[],"marketConfig":["1.000300"]}`)
	rr := do(t, s, http.MethodGet, "/api/market", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("market: %d", rr.Code)
	}
	if len(funds.marketReq) != 1 || funds.marketReq[0] != "1.000300" {
		t.Errorf("expected configured indices, got %v", funds.marketReq)
	}

	do(t, s, http.MethodGet, "/api/market?codes=0.399001,%201.000001", "")
	if len(funds.marketReq) != 2 || funds.marketReq[1] != "1.000001" {
		t.Errorf("expected query codes, got %v", funds.marketReq)
	}
}

func TestFundDataRoutes(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodGet, "/api/search?key=baijiu", "")
	var listings []models.FundListing
	decode(t, rr, &listings)
	if len(listings) != 1 {
		t.Errorf("expected one listing, got %v", listings)
	}

	rr = do(t, s, http.MethodGet, "/api/search", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Errorf("empty key: expected [], got %s", rr.Body.String())
	}

	rr = do(t, s, http.MethodPost, "/api/estimate/batch", `{"codes":["000001","999999"]}`)
	var ests []models.Estimate
	decode(t, rr, &ests)
	if len(ests) != 2 || ests[1].Source != models.SourceNone {
		t.Errorf("unexpected batch %+v", ests)
	}

	rr = do(t, s, http.MethodGet, "/api/estimate/999999", "")
	if rr.Code != http.StatusBadGateway {
		t.Errorf("missing estimate: expected 502, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodGet, "/api/fund/000001", "")
	if rr.Code != http.StatusBadGateway {
		t.Errorf("detail failure: expected 502, got %d", rr.Code)
	}

	rr = do(t, s, http.MethodGet, "/api/history/000001", "")
	var points []models.HistoryPoint
	decode(t, rr, &points)
	if len(points) != 400 {
		t.Errorf("expected 400 points, got %d", len(points))
	}
}

func TestAnalyzeWithoutKey(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodPost, "/api/analyze", `{"prompt":"hello"}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "Config Error") {
		t.Errorf("expected config error, got %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, s, http.MethodPost, "/api/analyze", `{"prompt":"   "}`)
	if rr.Code != http.StatusBadRequest || !strings.Contains(rr.Body.String(), "invalid_request") {
		t.Errorf("expected invalid request, got %d %s", rr.Code, rr.Body.String())
	}

	long := strings.Repeat("x", analysis.MaxPromptLength+1)
	rr = do(t, s, http.MethodPost, "/api/analyze", fmt.Sprintf(`{"prompt":%q}`, long))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rr.Code)
	}
}

func TestBacktestRoute(t *testing.T) {
	s, _ := newTestServer(t)

	rr := do(t, s, http.MethodPost, "/api/backtest", `{"portfolio":[{"code":"000001","amount":1000}],"durationYears":1}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("backtest: %d %s", rr.Code, rr.Body.String())
	}
	var result models.BacktestResult
	decode(t, rr, &result)
	if result.InsufficientData || len(result.Points) < 2 || result.TotalReturn <= 0 {
		t.Errorf("expected a rising curve, got %+v", result)
	}

	rr = do(t, s, http.MethodPost, "/api/backtest?format=png", `{"portfolio":[{"code":"000001","amount":1000}],"durationYears":1}`)
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("expected png, got %s", rr.Header().Get("Content-Type"))
	}

	rr = do(t, s, http.MethodPost, "/api/backtest", `{"portfolio":[],"durationYears":1}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty portfolio: expected 400, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodGet, "/api/health", "")

	rr := do(t, s, http.MethodGet, "/metrics", "")
	if !strings.Contains(rr.Body.String(), "smartfund_http_requests_total") {
		t.Error("expected smartfund_http_requests_total in /metrics output")
	}
}

package portfolio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

// --- stubs ---

type memStateStore struct {
	mu      sync.Mutex
	state   *models.State
	saves   int
	saveErr error
}

func (m *memStateStore) Load(_ context.Context) (*models.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, nil
	}
	return m.state.Clone(), nil
}

func (m *memStateStore) Save(_ context.Context, st *models.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.state = st.Clone()
	m.saves++
	return nil
}

type stubQuoteService struct {
	phase     models.MarketPhase
	estimates map[string]*models.Estimate
}

func (s *stubQuoteService) Phase() models.MarketPhase { return s.phase }

func (s *stubQuoteService) GetEstimate(_ context.Context, code string) (*models.Estimate, error) {
	if est, ok := s.estimates[code]; ok {
		return est, nil
	}
	return nil, errors.New("no estimate")
}

func (s *stubQuoteService) GetBatchEstimates(_ context.Context, codes []string) []*models.Estimate {
	out := make([]*models.Estimate, 0, len(codes))
	for _, c := range codes {
		if est, ok := s.estimates[c]; ok {
			out = append(out, est)
		} else {
			out = append(out, &models.Estimate{Code: c, Source: models.SourceNone})
		}
	}
	return out
}

type stubHistoryProvider struct {
	series map[string][]models.HistoryPoint
	calls  int
}

func (s *stubHistoryProvider) Histories(_ context.Context, codes []string) map[string][]models.HistoryPoint {
	s.calls++
	out := make(map[string][]models.HistoryPoint, len(codes))
	for _, c := range codes {
		out[c] = s.series[c] // missing series come back empty
	}
	return out
}

var testNow = time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)

// newTestService keeps nil stubs as nil interfaces so the service sees them
// as unconfigured.
func newTestService(store *memStateStore, quotes *stubQuoteService, hist *stubHistoryProvider) *Service {
	var q interfaces.QuoteService
	if quotes != nil {
		q = quotes
	}
	var h interfaces.HistoryProvider
	if hist != nil {
		h = hist
	}
	svc := NewService(store, q, h, common.NewSilentLogger())
	svc.now = func() time.Time { return testNow }
	return svc
}

// --- tests ---

func TestService_LifecycleThroughTransactions(t *testing.T) {
	ctx := context.Background()
	store := &memStateStore{}
	svc := newTestService(store, &stubQuoteService{}, nil)

	_, err := svc.AddFund(ctx, models.Fund{Code: "000001", Name: "Alpha"})
	require.NoError(t, err)

	f, err := svc.GetFund(ctx, "000001")
	require.NoError(t, err)
	assert.True(t, f.Watchlist)

	_, err = svc.ApplyTransaction(ctx, "000001", models.Transaction{Type: "buy", Date: "2026-01-05", Shares: 1000, NAV: 1.50, Amount: 1500})
	require.NoError(t, err)
	_, err = svc.ApplyTransaction(ctx, "000001", models.Transaction{Type: models.TxBuy, Date: "2026-01-06", Shares: 500, NAV: 1.60, Amount: 800})
	require.NoError(t, err)

	f, err = svc.GetFund(ctx, "000001")
	require.NoError(t, err)
	assert.False(t, f.Watchlist)
	assert.InDelta(t, 1.5333, f.Position.CostBasis, 1e-4)

	f, err = svc.ApplyTransaction(ctx, "000001", models.Transaction{Type: models.TxSell, Date: "2026-01-07", Shares: 1500, NAV: 1.80, Fee: 5})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Position.Shares)
	assert.Equal(t, 0.0, f.Position.CostBasis)
	assert.InDelta(t, 395.0, f.Position.RealizedProfit, 0.01)
	assert.True(t, f.Watchlist)
	assert.Len(t, f.Position.Transactions, 3)

	// persisted document matches memory
	require.NotNil(t, store.state)
	assert.Equal(t, models.StateVersion, store.state.Version)
	assert.Equal(t, testNow.UnixMilli(), store.state.Timestamp)
	assert.InDelta(t, 395.0, store.state.Funds[0].Position.RealizedProfit, 0.01)
}

func TestService_AddFundErrors(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(&memStateStore{}, nil, nil)

	_, err := svc.AddFund(ctx, models.Fund{Code: "000001"})
	require.NoError(t, err)

	_, err = svc.AddFund(ctx, models.Fund{Code: "000001"})
	assert.ErrorIs(t, err, models.ErrFundExists)

	_, err = svc.AddFund(ctx, models.Fund{Code: "000002", Position: models.Position{
		Transactions: []models.Transaction{{Type: "HOLD", Shares: 1}},
	}})
	assert.ErrorIs(t, err, models.ErrInvalidTransaction)

	_, err = svc.AddFund(ctx, models.Fund{Code: "  "})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)
}

func TestService_AddFundValidatesPosition(t *testing.T) {
	ctx := context.Background()
	store := &memStateStore{}
	svc := newTestService(store, nil, nil)

	for _, pos := range []models.Position{
		{Shares: -5, CostBasis: 1},
		{Shares: math.NaN()},
		{Shares: math.Inf(1)},
		{Shares: 10, CostBasis: -1},
		{Shares: 10, CostBasis: math.NaN()},
	} {
		_, err := svc.AddFund(ctx, models.Fund{Code: "000001", Position: pos})
		assert.ErrorIs(t, err, models.ErrInvalidRequest, "shares=%v cost=%v", pos.Shares, pos.CostBasis)
	}
	assert.Nil(t, store.state)

	f, err := svc.AddFund(ctx, models.Fund{Code: "000002", Position: models.Position{CostBasis: 1.5}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Position.CostBasis)
	assert.True(t, f.Watchlist)
	assert.NotNil(t, f.Position.Transactions)

	f, err = svc.AddFund(ctx, models.Fund{Code: "000003", Position: models.Position{Shares: 100, CostBasis: 1.2}})
	require.NoError(t, err)
	assert.Equal(t, 1.2, f.Position.CostBasis)
	assert.False(t, f.Watchlist)
}

func TestService_ApplyTransactionDefaultsToChinaDate(t *testing.T) {
	svc := newTestService(&memStateStore{}, nil, nil)
	// 02:00 on Jan 11 in Shanghai
	svc.now = func() time.Time { return time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC) }

	_, err := svc.AddFund(context.Background(), models.Fund{Code: "000001"})
	require.NoError(t, err)

	f, err := svc.ApplyTransaction(context.Background(), "000001", models.Transaction{Type: models.TxBuy, Shares: 10, NAV: 1})
	require.NoError(t, err)
	require.Len(t, f.Position.Transactions, 1)
	assert.Equal(t, "2026-01-11", f.Position.Transactions[0].Date)
}

func TestService_AddFundReplaysImportedTransactions(t *testing.T) {
	ctx := context.Background()
	quotes := &stubQuoteService{estimates: map[string]*models.Estimate{
		"000001": {Code: "000001", Name: "Alpha Fund", LastNAV: 1.5, EstimatedNAV: 1.53, EstimatedChangePercent: 2, Source: models.SourceOfficial},
	}}
	svc := newTestService(&memStateStore{}, quotes, nil)

	f, err := svc.AddFund(ctx, models.Fund{Code: "000001", Position: models.Position{
		Shares: 999, // ignored in favour of the replayed log
		Transactions: []models.Transaction{
			buy("t1", "2026-01-02", 100, 1.0, 100),
			sell("t2", "2026-01-03", 40, 1.2, 0),
		},
	}})
	require.NoError(t, err)

	assert.Equal(t, "Alpha Fund", f.Name)
	assert.InDelta(t, 60, f.Position.Shares, 1e-9)
	assert.InDelta(t, 8, f.Position.RealizedProfit, 1e-9)
	require.NotNil(t, f.Quote)
	assert.Equal(t, 1.53, f.Quote.EstimatedNAV)
	assert.Equal(t, testNow, f.Quote.UpdatedAt)
}

func TestService_ApplyTransactionUnknownFund(t *testing.T) {
	svc := newTestService(&memStateStore{}, nil, nil)
	_, err := svc.ApplyTransaction(context.Background(), "nope", buy("", "2026-01-01", 1, 1, 1))
	assert.ErrorIs(t, err, models.ErrFundNotFound)
}

func TestService_ApplyTransactionRollsBackOnSaveFailure(t *testing.T) {
	ctx := context.Background()
	store := &memStateStore{}
	svc := newTestService(store, nil, nil)
	_, err := svc.AddFund(ctx, models.Fund{Code: "000001"})
	require.NoError(t, err)

	store.saveErr = errors.New("disk full")
	_, err = svc.ApplyTransaction(ctx, "000001", buy("", "2026-01-01", 10, 1, 10))
	require.Error(t, err)

	f, err := svc.GetFund(ctx, "000001")
	require.NoError(t, err)
	assert.Equal(t, 0.0, f.Position.Shares)
	assert.Empty(t, f.Position.Transactions)
}

func TestService_ConcurrentTransactionsSerializePerFund(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(&memStateStore{}, nil, nil)
	_, err := svc.AddFund(ctx, models.Fund{Code: "000001"})
	require.NoError(t, err)
	_, err = svc.AddFund(ctx, models.Fund{Code: "000002"})
	require.NoError(t, err)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		for _, code := range []string{"000001", "000002"} {
			wg.Add(1)
			go func(code string) {
				defer wg.Done()
				_, err := svc.ApplyTransaction(ctx, code, buy("", "2026-01-02", 10, 1, 10))
				assert.NoError(t, err)
			}(code)
		}
	}
	wg.Wait()

	for _, code := range []string{"000001", "000002"} {
		f, err := svc.GetFund(ctx, code)
		require.NoError(t, err)
		assert.InDelta(t, 10*n, f.Position.Shares, 1e-9)
		assert.Len(t, f.Position.Transactions, n)
		assert.InDelta(t, 1.0, f.Position.CostBasis, 1e-9)
	}
}

func TestService_RemoveFund(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(&memStateStore{}, nil, nil)
	_, err := svc.AddFund(ctx, models.Fund{Code: "000001"})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveFund(ctx, "000001"))
	assert.ErrorIs(t, svc.RemoveFund(ctx, "000001"), models.ErrFundNotFound)

	funds, err := svc.ListFunds(ctx)
	require.NoError(t, err)
	assert.Empty(t, funds)
}

func TestService_RefreshQuotesRetainsOnFailure(t *testing.T) {
	ctx := context.Background()
	old := &models.Quote{LastNAV: 2.0, EstimatedNAV: 2.1, Source: models.SourceOfficial, UpdatedAt: testNow.Add(-time.Hour)}
	store := &memStateStore{state: &models.State{Funds: []models.Fund{
		{Code: "000001"},
		{Code: "000002", Quote: old},
	}}}
	quotes := &stubQuoteService{estimates: map[string]*models.Estimate{
		"000001": {Code: "000001", Name: "Alpha", LastNAV: 1.0, EstimatedNAV: 1.02, EstimatedChangePercent: 2, Source: "LV2_PROXY_510300"},
	}}
	svc := newTestService(store, quotes, nil)

	n, err := svc.RefreshQuotes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	a, _ := svc.GetFund(ctx, "000001")
	require.NotNil(t, a.Quote)
	assert.Equal(t, "Alpha", a.Name)
	assert.Equal(t, "LV2_PROXY_510300", a.Quote.Source)

	b, _ := svc.GetFund(ctx, "000002")
	assert.Equal(t, old, b.Quote)
}

func TestService_ProfitCalendar(t *testing.T) {
	ctx := context.Background()
	store := &memStateStore{state: &models.State{Funds: []models.Fund{
		{
			Code:     "000001",
			Quote:    &models.Quote{LastNAV: 1.02, EstimatedNAV: 1.03, EstimatedChangePercent: 1},
			Position: models.Position{Shares: 100, CostBasis: 1, Transactions: []models.Transaction{buy("t1", "2026-01-06", 100, 1.0, 100)}},
		},
		{Code: "000002", Watchlist: true},
	}}}
	hist := &stubHistoryProvider{series: map[string][]models.HistoryPoint{
		"000001": history("2026-01-06", 1.00, 1.01, 0.99, 1.02),
	}}
	svc := newTestService(store, &stubQuoteService{}, hist)

	cal, err := svc.ProfitCalendar(ctx, models.ProfitViewDay)
	require.NoError(t, err)

	assert.Equal(t, 1, hist.calls)
	assert.Equal(t, 1, cal.Funds)
	require.Len(t, cal.Buckets, 30)
	tail := cal.Buckets[26:]
	assert.Equal(t, []models.ProfitBucket{
		{Label: "1/7", Value: 1},
		{Label: "1/8", Value: -2},
		{Label: "1/9", Value: 3},
		{Label: "1/10", Value: 1},
	}, tail)
	assert.Equal(t, 1.0, cal.Current)
}

func TestService_ProfitCalendarNoHistory(t *testing.T) {
	store := &memStateStore{state: &models.State{Funds: []models.Fund{
		{Code: "000001", Position: models.Position{Shares: 100}},
	}}}
	svc := newTestService(store, nil, &stubHistoryProvider{})

	_, err := svc.ProfitCalendar(context.Background(), models.ProfitViewWeek)
	assert.ErrorIs(t, err, models.ErrNoProfitHistory)
}

func TestService_ProfitCalendarUsesChinaDate(t *testing.T) {
	store := &memStateStore{state: &models.State{Funds: []models.Fund{{
		Code:     "000001",
		Position: models.Position{Shares: 100, CostBasis: 1, Transactions: []models.Transaction{buy("t1", "2026-01-09", 100, 1.0, 100)}},
	}}}}
	hist := &stubHistoryProvider{series: map[string][]models.HistoryPoint{
		"000001": history("2026-01-09", 1.0, 1.1),
	}}
	svc := newTestService(store, &stubQuoteService{}, hist)
	// still Jan 10 in UTC, already Jan 11 in Shanghai
	svc.now = func() time.Time { return time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC) }

	cal, err := svc.ProfitCalendar(context.Background(), models.ProfitViewDay)
	require.NoError(t, err)

	require.Len(t, cal.Buckets, 30)
	tail := cal.Buckets[28:]
	assert.Equal(t, "1/10", tail[0].Label)
	assert.InDelta(t, 10.0, tail[0].Value, 1e-9)
	assert.Equal(t, "1/11", tail[1].Label)
	assert.Equal(t, 0.0, cal.Current)
}

func TestService_ProfitCalendarSoldOutPositions(t *testing.T) {
	store := &memStateStore{state: &models.State{Funds: []models.Fund{{
		Code:      "000001",
		Watchlist: true,
		Position: models.Position{Transactions: []models.Transaction{
			buy("t1", "2026-01-05", 100, 1.0, 100),
			sell("t2", "2026-01-07", 100, 1.1, 0),
		}},
	}}}}
	hist := &stubHistoryProvider{}
	svc := newTestService(store, &stubQuoteService{}, hist)

	cal, err := svc.ProfitCalendar(context.Background(), models.ProfitViewMonth)
	require.NoError(t, err)

	assert.Equal(t, 0, cal.Funds)
	assert.Equal(t, 0, hist.calls)
	assert.Equal(t, 0.0, cal.Current)
	for _, b := range cal.Buckets {
		assert.Equal(t, 0.0, b.Value, b.Label)
	}
}

func TestService_ReplaceState(t *testing.T) {
	ctx := context.Background()
	store := &memStateStore{}
	svc := newTestService(store, nil, nil)

	err := svc.ReplaceState(ctx, &models.State{Funds: []models.Fund{{Code: "a"}, {Code: "a"}}})
	assert.ErrorIs(t, err, models.ErrFundExists)

	err = svc.ReplaceState(ctx, &models.State{Funds: []models.Fund{{Code: "a", Position: models.Position{Shares: -1}}}})
	assert.Error(t, err)

	err = svc.ReplaceState(ctx, &models.State{Funds: []models.Fund{
		{Code: "a", Position: models.Position{Shares: 0, CostBasis: 3}},
		{Code: "b", Position: models.Position{Shares: 5, CostBasis: 2}},
	}})
	require.NoError(t, err)

	st, err := svc.GetState(ctx)
	require.NoError(t, err)
	require.Len(t, st.Funds, 2)
	assert.True(t, st.Funds[0].Watchlist)
	assert.Equal(t, 0.0, st.Funds[0].Position.CostBasis)
	assert.NotNil(t, st.Funds[0].Position.Transactions)
	assert.NotNil(t, st.Groups)
	assert.Equal(t, 1, store.saves)
}

func TestService_SummaryUsesQuotePhase(t *testing.T) {
	store := &memStateStore{state: &models.State{Funds: []models.Fund{
		{Code: "a", Position: models.Position{Shares: 10, CostBasis: 1}, Quote: &models.Quote{LastNAV: 1, EstimatedNAV: 1.1, UpdatedAt: testNow}},
	}}}
	svc := newTestService(store, &stubQuoteService{phase: models.PhaseLunchBreak}, nil)

	s, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "LUNCH_BREAK", s.Phase)
	assert.Equal(t, 1.0, s.TotalEstimatedProfit)
	assert.False(t, s.Funds[0].Stale)
}

func TestService_SetGroupsAndMarketConfig(t *testing.T) {
	ctx := context.Background()
	store := &memStateStore{}
	svc := newTestService(store, nil, nil)

	assert.Error(t, svc.SetGroups(ctx, []models.Group{{ID: "g1"}, {ID: "g1"}}))
	require.NoError(t, svc.SetGroups(ctx, []models.Group{{ID: "g1", Name: "Core"}}))
	require.NoError(t, svc.SetMarketConfig(ctx, []string{"1.000300"}))

	st, err := svc.GetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Group{{ID: "g1", Name: "Core"}}, st.Groups)
	assert.Equal(t, []string{"1.000300"}, store.state.MarketConfig)
}

// Package portfolio owns tracked funds, their positions and the valuation,
// accounting and profit-attribution engines applied to them.
package portfolio

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/metrics"
	"github.com/bobmcallan/smartfund/internal/models"
)

// DefaultStaleAfter is the quote age beyond which summaries flag a fund stale.
const DefaultStaleAfter = common.FreshnessHistory

// Service implements PortfolioService over a persisted State document.
type Service struct {
	store     interfaces.StateStore
	quotes    interfaces.QuoteService
	histories interfaces.HistoryProvider
	logger    *common.Logger
	now       func() time.Time // injectable clock for testing

	staleAfter time.Duration

	mu    sync.RWMutex // guards state
	state *models.State

	fundLocks sync.Map // fund code -> *sync.Mutex, one writer per position
}

// NewService creates a new portfolio service.
// quotes and histories may be nil; refresh and profit features then degrade.
func NewService(store interfaces.StateStore, quotes interfaces.QuoteService, histories interfaces.HistoryProvider, logger *common.Logger) *Service {
	return &Service{
		store:      store,
		quotes:     quotes,
		histories:  histories,
		logger:     logger,
		now:        time.Now,
		staleAfter: DefaultStaleAfter,
	}
}

func (s *Service) fundLock(code string) *sync.Mutex {
	l, _ := s.fundLocks.LoadOrStore(code, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// loaded returns the in-memory state, loading it on first use.
// Callers must hold s.mu for writing.
func (s *Service) loaded(ctx context.Context) (*models.State, error) {
	if s.state != nil {
		return s.state, nil
	}
	st, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load portfolio state: %w", err)
	}
	if st == nil {
		st = models.NewState()
	}
	s.state = st
	return s.state, nil
}

// snapshot returns a deep copy of the current state.
func (s *Service) snapshot(ctx context.Context) (*models.State, error) {
	s.mu.RLock()
	if s.state != nil {
		defer s.mu.RUnlock()
		return s.state.Clone(), nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	st, err := s.loaded(ctx)
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// today is the current time in China, where NAV dates are published.
func (s *Service) today() time.Time {
	return common.InChina(s.now())
}

// persist stamps and saves the state. Callers must hold s.mu for writing.
func (s *Service) persist(ctx context.Context) error {
	s.state.Version = models.StateVersion
	s.state.Timestamp = s.now().UnixMilli()
	if err := s.store.Save(ctx, s.state); err != nil {
		return fmt.Errorf("failed to save portfolio state: %w", err)
	}
	return nil
}

// ListFunds returns snapshots of all tracked funds.
func (s *Service) ListFunds(ctx context.Context) ([]models.Fund, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return st.Funds, nil
}

// GetFund returns a snapshot of one fund.
func (s *Service) GetFund(ctx context.Context, code string) (*models.Fund, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	idx := st.FindFund(code)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrFundNotFound, code)
	}
	return &st.Funds[idx], nil
}

// AddFund starts tracking a fund. Transactions carried on the incoming
// position are replayed through ApplyTransaction in order; a missing name
// or quote is filled from the current estimate when one is available.
func (s *Service) AddFund(ctx context.Context, fund models.Fund) (*models.Fund, error) {
	fund.Code = strings.TrimSpace(fund.Code)
	if fund.Code == "" {
		return nil, fmt.Errorf("%w: fund code is required", models.ErrInvalidRequest)
	}

	lock := s.fundLock(fund.Code)
	lock.Lock()
	defer lock.Unlock()

	if txs := fund.Position.Transactions; len(txs) > 0 {
		pos := models.Position{}
		for _, tx := range txs {
			norm, err := NormalizeTransaction(tx, s.today())
			if err != nil {
				return nil, err
			}
			pos = ApplyTransaction(pos, norm)
		}
		fund.Position = pos
	} else {
		pos := fund.Position
		if math.IsNaN(pos.Shares) || math.IsInf(pos.Shares, 0) || pos.Shares < 0 {
			return nil, fmt.Errorf("%w: shares must be a finite non-negative number", models.ErrInvalidRequest)
		}
		if math.IsNaN(pos.CostBasis) || math.IsInf(pos.CostBasis, 0) || pos.CostBasis < 0 {
			return nil, fmt.Errorf("%w: cost basis must be a finite non-negative number", models.ErrInvalidRequest)
		}
		if pos.Shares == 0 {
			fund.Position.CostBasis = 0
		}
		if fund.Position.Transactions == nil {
			fund.Position.Transactions = []models.Transaction{}
		}
	}
	fund.Watchlist = fund.Position.Shares <= 0

	if s.quotes != nil && (fund.Name == "" || fund.Quote == nil) {
		if est, err := s.quotes.GetEstimate(ctx, fund.Code); err == nil && est != nil {
			if fund.Name == "" {
				fund.Name = est.Name
			}
			if fund.Quote == nil && est.Available() {
				q := est.ToQuote(s.now())
				fund.Quote = &q
			}
		} else if err != nil {
			s.logger.Warn().Err(err).Str("code", fund.Code).Msg("Estimate unavailable for new fund")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loaded(ctx)
	if err != nil {
		return nil, err
	}
	if st.FindFund(fund.Code) >= 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrFundExists, fund.Code)
	}

	st.Funds = append(st.Funds, fund.Clone())
	if err := s.persist(ctx); err != nil {
		st.Funds = st.Funds[:len(st.Funds)-1]
		return nil, err
	}

	s.logger.Info().Str("code", fund.Code).Str("name", fund.Name).Bool("watchlist", fund.Watchlist).Msg("Fund added")
	out := fund.Clone()
	return &out, nil
}

// RemoveFund stops tracking a fund, discarding its position and log.
func (s *Service) RemoveFund(ctx context.Context, code string) error {
	lock := s.fundLock(code)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loaded(ctx)
	if err != nil {
		return err
	}
	idx := st.FindFund(code)
	if idx < 0 {
		return fmt.Errorf("%w: %s", models.ErrFundNotFound, code)
	}

	removed := st.Funds[idx]
	st.Funds = append(st.Funds[:idx], st.Funds[idx+1:]...)
	if err := s.persist(ctx); err != nil {
		st.Funds = append(st.Funds[:idx], append([]models.Fund{removed}, st.Funds[idx:]...)...)
		return err
	}

	s.logger.Info().Str("code", code).Msg("Fund removed")
	return nil
}

// ApplyTransaction validates tx and applies it to the fund's position. Writes
// to the same fund are serialized, so a rapid second submission observes the
// first's result. A position that reaches zero shares moves to the watch list.
func (s *Service) ApplyTransaction(ctx context.Context, code string, tx models.Transaction) (*models.Fund, error) {
	tx, err := NormalizeTransaction(tx, s.today())
	if err != nil {
		return nil, err
	}

	lock := s.fundLock(code)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loaded(ctx)
	if err != nil {
		return nil, err
	}
	idx := st.FindFund(code)
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrFundNotFound, code)
	}

	previous := st.Funds[idx]
	updated := previous.Clone()
	updated.Position = ApplyTransaction(previous.Position, tx)
	updated.Watchlist = updated.Position.Shares <= 0

	st.Funds[idx] = updated
	if err := s.persist(ctx); err != nil {
		st.Funds[idx] = previous
		return nil, err
	}

	metrics.TransactionsApplied.WithLabelValues(string(tx.Type)).Inc()
	s.logger.Info().
		Str("code", code).
		Str("type", string(tx.Type)).
		Str("date", tx.Date).
		Float64("shares", tx.Shares).
		Float64("position_shares", updated.Position.Shares).
		Float64("realized_profit", updated.Position.RealizedProfit).
		Msg("Transaction applied")

	out := updated.Clone()
	return &out, nil
}

// RefreshQuotes fetches batch estimates for every tracked fund. A fund
// whose estimate is unavailable keeps its previous quote.
func (s *Service) RefreshQuotes(ctx context.Context) (int, error) {
	if s.quotes == nil {
		return 0, fmt.Errorf("quote service %w", models.ErrNotConfigured)
	}
	start := s.now()

	st, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if len(st.Funds) == 0 {
		return 0, nil
	}

	codes := make([]string, len(st.Funds))
	for i, f := range st.Funds {
		codes[i] = f.Code
	}

	estimates := s.quotes.GetBatchEstimates(ctx, codes)
	byCode := make(map[string]*models.Estimate, len(estimates))
	for _, est := range estimates {
		if est != nil {
			byCode[est.Code] = est
		}
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	live, err := s.loaded(ctx)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range live.Funds {
		f := &live.Funds[i]
		est := byCode[f.Code]
		if !est.Available() {
			metrics.QuoteRefreshes.WithLabelValues("retained").Inc()
			continue
		}
		q := est.ToQuote(now)
		f.Quote = &q
		if f.Name == "" {
			f.Name = est.Name
		}
		refreshed++
		metrics.QuoteRefreshes.WithLabelValues("refreshed").Inc()
	}

	if refreshed > 0 {
		if err := s.persist(ctx); err != nil {
			return refreshed, err
		}
	}

	s.logger.Info().
		Int("funds", len(codes)).
		Int("refreshed", refreshed).
		Dur("elapsed", s.now().Sub(start)).
		Msg("Quote refresh complete")
	return refreshed, nil
}

// Summary values held funds at their latest quotes.
func (s *Service) Summary(ctx context.Context) (*models.PortfolioSummary, error) {
	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	phase := models.PhaseClosed
	if s.quotes != nil {
		phase = s.quotes.Phase()
	}
	return SummarizeFunds(st.Funds, phase, s.now(), s.staleAfter), nil
}

// ProfitCalendar replays confirmed NAV history against transaction logs and
// aggregates the result for view. It returns models.ErrNoProfitHistory when
// no fund has any transactions; when every logged position has been sold
// every bucket is zero and no funds participate.
func (s *Service) ProfitCalendar(ctx context.Context, view models.ProfitView) (*models.ProfitCalendar, error) {
	funcStart := time.Now()

	st, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	logged := false
	held := make([]models.Fund, 0, len(st.Funds))
	codes := make([]string, 0, len(st.Funds))
	for _, f := range st.Funds {
		if len(f.Position.Transactions) == 0 {
			continue
		}
		logged = true
		if f.Position.Shares > 0 {
			held = append(held, f)
			codes = append(codes, f.Code)
		}
	}
	if !logged {
		return nil, models.ErrNoProfitHistory
	}

	// Fan out and join before any aggregation
	var histories map[string][]models.HistoryPoint
	if s.histories != nil && len(codes) > 0 {
		histories = s.histories.Histories(ctx, codes)
	}

	inputs := make([]ReplayInput, len(held))
	for i, f := range held {
		inputs[i] = ReplayInput{
			Code:            f.Code,
			Shares:          f.Position.Shares,
			EstimatedProfit: FundEstimatedProfit(f),
			Transactions:    f.Position.Transactions,
			History:         histories[f.Code],
		}
	}

	now := s.today()
	daily, participating := ReplayProfits(inputs, now.Format(common.DateLayout))
	cal := BuildProfitCalendar(daily, view, now)
	cal.Funds = participating

	s.logger.Info().
		Str("view", string(cal.View)).
		Int("funds", participating).
		Int("days", cal.Days).
		Dur("elapsed", time.Since(funcStart)).
		Msg("Profit calendar computed")

	return &cal, nil
}

// GetState returns a copy of the full document.
func (s *Service) GetState(ctx context.Context) (*models.State, error) {
	return s.snapshot(ctx)
}

// ReplaceState validates and persists an imported document. Duplicate fund
// codes and negative share counts are rejected; closed positions get their
// cost basis reset and are marked watch-list-only.
func (s *Service) ReplaceState(ctx context.Context, state *models.State) error {
	if state == nil {
		return fmt.Errorf("%w: state is required", models.ErrInvalidRequest)
	}
	next := state.Clone()
	if next.Funds == nil {
		next.Funds = []models.Fund{}
	}
	if next.Groups == nil {
		next.Groups = []models.Group{}
	}
	if next.MarketConfig == nil {
		next.MarketConfig = []string{}
	}

	seen := make(map[string]bool, len(next.Funds))
	for i := range next.Funds {
		f := &next.Funds[i]
		if f.Code == "" {
			return fmt.Errorf("%w: fund at index %d has no code", models.ErrInvalidRequest, i)
		}
		if seen[f.Code] {
			return fmt.Errorf("%w: %s appears twice", models.ErrFundExists, f.Code)
		}
		seen[f.Code] = true
		if f.Position.Shares < 0 {
			return fmt.Errorf("%w: fund %s has negative shares", models.ErrInvalidRequest, f.Code)
		}
		if f.Position.Shares == 0 {
			f.Position.CostBasis = 0
			f.Watchlist = true
		}
		if f.Position.Transactions == nil {
			f.Position.Transactions = []models.Transaction{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.state
	s.state = next
	if err := s.persist(ctx); err != nil {
		s.state = previous
		return err
	}

	codes := make([]string, 0, len(seen))
	for c := range seen {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	s.logger.Info().Int("funds", len(codes)).Strs("codes", codes).Msg("Portfolio state replaced")
	return nil
}

// SetGroups replaces the display groups. Funds referencing a removed group
// keep the stale id; the frontend shows them ungrouped.
func (s *Service) SetGroups(ctx context.Context, groups []models.Group) error {
	seen := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.ID == "" {
			return fmt.Errorf("%w: group %q has no id", models.ErrInvalidRequest, g.Name)
		}
		if seen[g.ID] {
			return fmt.Errorf("%w: group id %s appears twice", models.ErrInvalidRequest, g.ID)
		}
		seen[g.ID] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loaded(ctx)
	if err != nil {
		return err
	}
	previous := st.Groups
	st.Groups = append([]models.Group{}, groups...)
	if err := s.persist(ctx); err != nil {
		st.Groups = previous
		return err
	}
	return nil
}

// SetMarketConfig stores the security ids shown in the market summary.
func (s *Service) SetMarketConfig(ctx context.Context, secids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.loaded(ctx)
	if err != nil {
		return err
	}
	previous := st.MarketConfig
	st.MarketConfig = append([]string{}, secids...)
	if err := s.persist(ctx); err != nil {
		st.MarketConfig = previous
		return err
	}
	return nil
}

var _ interfaces.PortfolioService = (*Service)(nil)

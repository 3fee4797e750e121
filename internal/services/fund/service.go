// Package fund provides fund search, metadata, NAV history and market
// index snapshots backed by the eastmoney client and the badger cache.
package fund

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

const (
	// MaxSearchResults caps search responses
	MaxSearchResults = 30

	DefaultHistoryDays   = 365
	DefaultMaxConcurrent = 8
)

// DefaultMarketSecIDs are the Shanghai Composite and Shenzhen Component indices.
var DefaultMarketSecIDs = []string{"1.000001", "0.399001"}

// Service implements FundService
type Service struct {
	client interfaces.FundDataClient
	cache  interfaces.CacheStorage
	logger *common.Logger
	now    func() time.Time // injectable clock for testing

	fundListTTL   time.Duration
	historyTTL    time.Duration
	holdingsTTL   time.Duration
	historyDays   int
	maxConcurrent int

	mu         sync.RWMutex
	fundList   []models.FundListing
	fundListAt time.Time

	group singleflight.Group
}

// Option configures the service
type Option func(*Service)

// WithFundListTTL sets how long the fund universe is reused
func WithFundListTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.fundListTTL = ttl
		}
	}
}

// WithHoldingsTTL sets how long disclosed holdings are reused
func WithHoldingsTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.holdingsTTL = ttl
		}
	}
}

// WithHistoryDays sets how many trailing NAV points History returns
func WithHistoryDays(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.historyDays = days
		}
	}
}

// WithMaxConcurrent bounds the number of in-flight history fetches
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// NewService creates a new fund service. cache may be nil.
func NewService(client interfaces.FundDataClient, cache interfaces.CacheStorage, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		client:        client,
		cache:         cache,
		logger:        logger,
		now:           time.Now,
		fundListTTL:   common.FreshnessFundList,
		historyTTL:    common.FreshnessHistory,
		holdingsTTL:   common.FreshnessHoldings,
		historyDays:   DefaultHistoryDays,
		maxConcurrent: DefaultMaxConcurrent,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromConfig applies the [quote] config section.
func NewServiceFromConfig(cfg common.QuoteConfig, client interfaces.FundDataClient, cache interfaces.CacheStorage, logger *common.Logger) *Service {
	return NewService(client, cache, logger,
		WithFundListTTL(cfg.GetFundListTTL()),
		WithHoldingsTTL(cfg.GetHoldingsTTL()),
		WithHistoryDays(cfg.HistoryDays),
		WithMaxConcurrent(cfg.MaxConcurrent),
	)
}

// Search matches key, upper-cased, against fund code, name and pinyin
// abbreviation, returning at most MaxSearchResults in list order.
func (s *Service) Search(ctx context.Context, key string) ([]models.FundListing, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if key == "" {
		return []models.FundListing{}, nil
	}

	funds, err := s.funds(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]models.FundListing, 0, MaxSearchResults)
	for _, f := range funds {
		if strings.Contains(f.Code, key) || strings.Contains(f.Name, key) || strings.Contains(f.Pinyin, key) {
			results = append(results, f)
			if len(results) == MaxSearchResults {
				break
			}
		}
	}
	return results, nil
}

// funds returns the fund universe from memory, the persistent cache or
// upstream, in that order. A failed refresh serves a stale copy if any.
func (s *Service) funds(ctx context.Context) ([]models.FundListing, error) {
	now := s.now()

	s.mu.RLock()
	list, at := s.fundList, s.fundListAt
	s.mu.RUnlock()
	if len(list) > 0 && common.IsFresh(at, now, s.fundListTTL) {
		return list, nil
	}

	if s.cache != nil {
		cached, saved, err := s.cache.GetFundList(ctx)
		if err == nil && len(cached) > 0 {
			if common.IsFresh(saved, now, s.fundListTTL) {
				s.setFundList(cached, saved)
				return cached, nil
			}
			if len(list) == 0 {
				list = cached
			}
		}
	}

	if err := s.RefreshFundList(ctx); err != nil {
		if len(list) > 0 {
			s.logger.Warn().Err(err).Int("funds", len(list)).Msg("Fund list refresh failed, serving stale copy")
			return list, nil
		}
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fundList, nil
}

func (s *Service) setFundList(list []models.FundListing, at time.Time) {
	s.mu.Lock()
	s.fundList = list
	s.fundListAt = at
	s.mu.Unlock()
}

// RefreshFundList fetches the fund universe upstream and stores it.
// Concurrent callers share one fetch.
func (s *Service) RefreshFundList(ctx context.Context) error {
	_, err, _ := s.group.Do("fundlist", func() (interface{}, error) {
		funds, err := s.client.FetchFundList(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch fund list: %w", err)
		}
		if len(funds) == 0 {
			return nil, fmt.Errorf("upstream returned an empty fund list")
		}

		s.setFundList(funds, s.now())
		if s.cache != nil {
			if err := s.cache.SaveFundList(ctx, funds); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to cache fund list")
			}
		}
		return nil, nil
	})
	return err
}

// Detail returns decorative metadata: name, managers and top holdings.
// Either half may be missing; an error is returned only when both are.
func (s *Service) Detail(ctx context.Context, code string) (*models.FundDetail, error) {
	detail := &models.FundDetail{Code: code, Holdings: []models.Holding{}, UpdatedAt: s.now()}

	profile, profileErr := s.client.FetchProfile(ctx, code)
	if profileErr == nil {
		detail.Name = profile.Name
		detail.Managers = profile.Managers
	} else {
		s.logger.Debug().Err(profileErr).Str("code", code).Msg("Fund profile unavailable")
	}

	holdings, holdingsErr := s.holdings(ctx, code)
	if holdingsErr == nil {
		detail.Holdings = holdings
	}

	if profileErr != nil && holdingsErr != nil {
		return nil, fmt.Errorf("fund %s: %w", code, errors.Join(profileErr, holdingsErr))
	}
	return detail, nil
}

func (s *Service) holdings(ctx context.Context, code string) ([]models.Holding, error) {
	if s.cache != nil {
		h, saved, err := s.cache.GetHoldings(ctx, code)
		if err == nil && common.IsFresh(saved, s.now(), s.holdingsTTL) {
			return h, nil
		}
	}

	h, err := s.client.FetchHoldings(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SaveHoldings(ctx, code, h); err != nil {
			s.logger.Warn().Err(err).Str("code", code).Msg("Failed to cache holdings")
		}
	}
	return h, nil
}

// History returns the trailing confirmed NAVs for a fund, ascending. A
// failed upstream fetch falls back to a stale cached copy when one exists.
func (s *Service) History(ctx context.Context, code string) ([]models.HistoryPoint, error) {
	var stale []models.HistoryPoint
	if s.cache != nil {
		points, saved, err := s.cache.GetHistory(ctx, code)
		if err == nil {
			if common.IsFresh(saved, s.now(), s.historyTTL) {
				return s.trim(points), nil
			}
			stale = points
		}
	}

	v, err, _ := s.group.Do("history:"+code, func() (interface{}, error) {
		points, err := s.client.FetchHistory(ctx, code)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(points, func(i, j int) bool { return points[i].Date < points[j].Date })
		if s.cache != nil {
			if err := s.cache.SaveHistory(ctx, code, points); err != nil {
				s.logger.Warn().Err(err).Str("code", code).Msg("Failed to cache history")
			}
		}
		return points, nil
	})
	if err != nil {
		if len(stale) > 0 {
			s.logger.Warn().Err(err).Str("code", code).Msg("History refresh failed, serving stale copy")
			return s.trim(stale), nil
		}
		return nil, err
	}
	return s.trim(v.([]models.HistoryPoint)), nil
}

func (s *Service) trim(points []models.HistoryPoint) []models.HistoryPoint {
	if len(points) > s.historyDays {
		points = points[len(points)-s.historyDays:]
	}
	out := make([]models.HistoryPoint, len(points))
	copy(out, points)
	return out
}

// Histories fetches histories for codes concurrently and joins before
// returning. A failed fetch yields an empty series for that code.
func (s *Service) Histories(ctx context.Context, codes []string) map[string][]models.HistoryPoint {
	start := time.Now()
	out := make(map[string][]models.HistoryPoint, len(codes))
	if len(codes) == 0 {
		return out
	}

	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failed := 0

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if seen[code] {
			continue
		}
		seen[code] = true

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(code string) {
			defer wg.Done()
			defer func() { <-sem }()

			points, err := s.History(ctx, code)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				s.logger.Warn().Err(err).Str("code", code).Msg("History unavailable")
				points = []models.HistoryPoint{}
			}
			out[code] = points
		}(code)
	}

	wg.Wait()

	// codes skipped by cancellation still get a series
	for code := range seen {
		if _, ok := out[code]; !ok {
			out[code] = []models.HistoryPoint{}
		}
	}

	s.logger.Debug().
		Int("codes", len(seen)).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("Histories fetched")
	return out
}

// Market returns index or sector snapshots. Empty codes select the
// defaults; bare codes get a market prefix.
func (s *Service) Market(ctx context.Context, codes []string) ([]models.IndexQuote, error) {
	secids := make([]string, 0, len(codes))
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			secids = append(secids, MarketSecID(c))
		}
	}
	if len(secids) == 0 {
		secids = DefaultMarketSecIDs
	}
	return s.client.FetchIndices(ctx, secids)
}

// MarketSecID formats a user-supplied index or sector code for push2.
// Codes already carrying a market prefix pass through; codes starting 6, 5
// or 1 are Shanghai, anything else Shenzhen.
func MarketSecID(code string) string {
	if strings.Contains(code, ".") {
		return code
	}
	switch code[0] {
	case '6', '5', '1':
		return "1." + code
	default:
		return "0." + code
	}
}

// Ensure Service implements FundService
var _ interfaces.FundService = (*Service)(nil)

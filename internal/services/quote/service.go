// Package quote produces realtime fund estimates, falling back through
// progressively coarser sources when the official estimate is missing.
package quote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/metrics"
	"github.com/bobmcallan/smartfund/internal/models"
)

// officialThreshold is the smallest official percent change treated as a
// live estimate; anything smaller usually means fundgz has not updated yet.
const officialThreshold = 0.001

const (
	DefaultDamping       = 0.95 // undisclosed positions are assumed to move less
	DefaultMaxConcurrent = 8
)

type cachedEstimate struct {
	est     models.Estimate
	expires time.Time
}

type cachedHoldings struct {
	holdings []models.Holding
	fetched  time.Time
}

// Service implements QuoteService over the eastmoney endpoints.
type Service struct {
	client    interfaces.FundDataClient
	histories interfaces.HistoryProvider
	cache     interfaces.CacheStorage
	logger    *common.Logger
	now       func() time.Time // injectable clock for testing

	estimateTTL   time.Duration
	holdingsTTL   time.Duration
	damping       float64
	maxConcurrent int

	mu        sync.Mutex
	estimates map[string]cachedEstimate
	holdings  map[string]cachedHoldings
}

// Option configures the service
type Option func(*Service)

// WithEstimateTTL sets how long an official estimate is reused
func WithEstimateTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.estimateTTL = ttl
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

// WithDamping sets the multiplier applied to holdings-weighted changes
func WithDamping(d float64) Option {
	return func(s *Service) {
		if d > 0 && d <= 1 {
			s.damping = d
		}
	}
}

// WithMaxConcurrent bounds the number of in-flight upstream fetches
func WithMaxConcurrent(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// NewService creates a new quote service.
// histories may be nil; the last NAV then comes from the official estimate only.
// cache may be nil; holdings are then kept in memory only.
func NewService(client interfaces.FundDataClient, histories interfaces.HistoryProvider, cache interfaces.CacheStorage, logger *common.Logger, opts ...Option) *Service {
	s := &Service{
		client:        client,
		histories:     histories,
		cache:         cache,
		logger:        logger,
		now:           time.Now,
		estimateTTL:   common.FreshnessEstimate,
		holdingsTTL:   common.FreshnessHoldings,
		damping:       DefaultDamping,
		maxConcurrent: DefaultMaxConcurrent,
		estimates:     make(map[string]cachedEstimate),
		holdings:      make(map[string]cachedHoldings),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewServiceFromConfig applies the [quote] config section.
func NewServiceFromConfig(cfg common.QuoteConfig, client interfaces.FundDataClient, histories interfaces.HistoryProvider, cache interfaces.CacheStorage, logger *common.Logger) *Service {
	return NewService(client, histories, cache, logger,
		WithEstimateTTL(cfg.GetEstimateTTL()),
		WithHoldingsTTL(cfg.GetHoldingsTTL()),
		WithDamping(cfg.HoldingsDamping),
		WithMaxConcurrent(cfg.MaxConcurrent),
	)
}

// Phase returns the current trading session phase
func (s *Service) Phase() models.MarketPhase {
	return MarketPhase(s.now())
}

// official returns the cached or freshly fetched fundgz estimate.
func (s *Service) official(ctx context.Context, code string) (*models.Estimate, error) {
	now := s.now()

	s.mu.Lock()
	if c, ok := s.estimates[code]; ok && now.Before(c.expires) {
		s.mu.Unlock()
		est := c.est
		return &est, nil
	}
	s.mu.Unlock()

	est, err := s.client.FetchEstimate(ctx, code)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.estimates[code] = cachedEstimate{est: *est, expires: now.Add(s.estimateTTL)}
	s.mu.Unlock()

	out := *est
	return &out, nil
}

// GetEstimate returns the official estimate for one fund. When fundgz has no
// confirmed NAV the last history point stands in.
func (s *Service) GetEstimate(ctx context.Context, code string) (*models.Estimate, error) {
	est, err := s.official(ctx, code)
	if err == nil && est.LastNAV > 0 {
		return est, nil
	}

	if s.histories == nil {
		if err == nil {
			err = fmt.Errorf("%w: no confirmed NAV for %s", models.ErrNotFound, code)
		}
		return nil, err
	}

	points := s.histories.Histories(ctx, []string{code})[code]
	if len(points) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: no confirmed NAV for %s", models.ErrNotFound, code)
		}
		return nil, err
	}

	if est == nil {
		est = &models.Estimate{Code: code}
	}
	last := points[len(points)-1]
	est.LastNAV = last.NAV
	est.LastNAVDate = last.Date
	if est.EstimatedNAV <= 0 {
		est.EstimatedNAV = last.NAV
		est.EstimatedChangePercent = 0
		est.Source = models.SourceOfficialClose
	}
	if est.Source == "" {
		est.Source = models.SourceOfficialClose
	}
	return est, nil
}

// batchEntry is the working state for one code during tiering.
type batchEntry struct {
	est      models.Estimate
	official bool // fundgz answered
	lastNAV  float64
}

// GetBatchEstimates returns one estimate per code, in input order, walking
// the tiers: official, ETF proxy, holdings look-through, none. Every fetch
// for a tier fans out and joins before the next tier starts, so a failing
// code only degrades itself.
func (s *Service) GetBatchEstimates(ctx context.Context, codes []string) []*models.Estimate {
	start := time.Now()
	if len(codes) == 0 {
		return []*models.Estimate{}
	}
	phase := s.Phase()

	entries := s.fetchBase(ctx, codes)

	var pending []string
	for _, code := range uniqueCodes(codes) {
		e := entries[code]
		if e.lastNAV <= 0 {
			e.est.Source = models.SourceNone
			continue
		}

		if phase == models.PhaseClosed || phase == models.PhasePreMarket {
			e.est.EstimatedNAV = e.lastNAV
			e.est.EstimatedChangePercent = 0
			e.est.Source = models.SourceOfficialClose
			continue
		}

		if e.official && math.Abs(e.est.EstimatedChangePercent) > officialThreshold {
			e.est.Source = models.SourceOfficial
			continue
		}

		pending = append(pending, code)
	}

	pending = s.applyProxies(ctx, entries, pending)
	pending = s.applyHoldings(ctx, entries, pending)

	for _, code := range pending {
		e := entries[code]
		if e.official {
			// fundgz answered with a flat estimate; keep it as is
			e.est.Source = models.SourceOfficial
		} else {
			e.est.Source = models.SourceNone
		}
	}

	out := make([]*models.Estimate, len(codes))
	counts := make(map[string]int)
	for i, code := range codes {
		est := entries[code].est
		out[i] = &est
		counts[metrics.Tier(est.Source)]++
		metrics.EstimatesBySource.WithLabelValues(metrics.Tier(est.Source)).Inc()
	}

	s.logger.Info().
		Str("phase", string(phase)).
		Int("codes", len(codes)).
		Int("lv1", counts["LV1"]).
		Int("lv2", counts["LV2"]).
		Int("lv3", counts["LV3"]).
		Int("lv4", counts["LV4"]).
		Dur("elapsed", time.Since(start)).
		Msg("Batch estimates complete")

	return out
}

// fetchBase fetches the official estimate and confirmed history for every
// code concurrently. History, when present, supplies the last NAV.
func (s *Service) fetchBase(ctx context.Context, codes []string) map[string]*batchEntry {
	unique := uniqueCodes(codes)
	entries := make(map[string]*batchEntry, len(unique))
	for _, code := range unique {
		entries[code] = &batchEntry{est: models.Estimate{Code: code, Source: models.SourceNone}}
	}

	var histories map[string][]models.HistoryPoint
	var histWG sync.WaitGroup
	if s.histories != nil {
		histWG.Add(1)
		go func() {
			defer histWG.Done()
			histories = s.histories.Histories(ctx, unique)
		}()
	}

	var mu sync.Mutex
	s.fanOut(ctx, unique, func(code string) {
		est, err := s.official(ctx, code)
		if err != nil {
			if !errors.Is(err, models.ErrNotFound) {
				s.logger.Debug().Err(err).Str("code", code).Msg("Official estimate unavailable")
			}
			return
		}
		mu.Lock()
		e := entries[code]
		e.est = *est
		e.est.Code = code
		e.official = true
		e.lastNAV = est.LastNAV
		mu.Unlock()
	})

	histWG.Wait()

	for code, points := range histories {
		e, ok := entries[code]
		if !ok || len(points) == 0 {
			continue
		}
		last := points[len(points)-1]
		if last.NAV > 0 {
			e.lastNAV = last.NAV
			e.est.LastNAV = last.NAV
			e.est.LastNAVDate = last.Date
		}
	}
	return entries
}

// applyProxies estimates pending codes from an ETF proxy's live change and
// returns the codes still unresolved.
func (s *Service) applyProxies(ctx context.Context, entries map[string]*batchEntry, pending []string) []string {
	if len(pending) == 0 {
		return pending
	}

	proxies := make(map[string]string, len(pending))
	etfs := make([]string, 0, len(pending))
	for _, code := range pending {
		if etf := proxyFor(code, entries[code].est.Name); etf != "" {
			proxies[code] = etf
			etfs = append(etfs, etf)
		}
	}
	if len(etfs) == 0 {
		return pending
	}

	quotes, err := s.client.FetchQuotes(ctx, etfs)
	if err != nil {
		s.logger.Warn().Err(err).Int("proxies", len(etfs)).Msg("Proxy quotes unavailable")
		return pending
	}

	remaining := pending[:0:0]
	for _, code := range pending {
		etf, ok := proxies[code]
		change, quoted := quotes[etf]
		if !ok || !quoted {
			remaining = append(remaining, code)
			continue
		}
		s.applyChange(entries[code], change, models.SourceProxyPrefix+etf)
	}
	return remaining
}

// applyHoldings estimates pending codes from the weighted change of their
// disclosed top holdings, damped for the undisclosed remainder.
func (s *Service) applyHoldings(ctx context.Context, entries map[string]*batchEntry, pending []string) []string {
	if len(pending) == 0 {
		return pending
	}

	holdings := s.loadHoldings(ctx, pending)

	var stocks []string
	for _, code := range pending {
		for _, h := range holdings[code] {
			stocks = append(stocks, h.Code)
		}
	}
	if len(stocks) == 0 {
		return pending
	}

	quotes, err := s.client.FetchQuotes(ctx, stocks)
	if err != nil {
		s.logger.Warn().Err(err).Int("stocks", len(stocks)).Msg("Holding quotes unavailable")
		return pending
	}

	remaining := pending[:0:0]
	for _, code := range pending {
		weighted, total := 0.0, 0.0
		for _, h := range holdings[code] {
			weighted += quotes[h.Code] * h.Percent
			total += h.Percent
		}
		if total <= 0 {
			remaining = append(remaining, code)
			continue
		}
		s.applyChange(entries[code], weighted/total*s.damping, models.SourceHoldings)
	}
	return remaining
}

func (s *Service) applyChange(e *batchEntry, change float64, source string) {
	e.est.EstimatedChangePercent = common.Round2(change)
	e.est.EstimatedNAV = common.Round4(e.lastNAV * (1 + change/100))
	e.est.Source = source
}

// loadHoldings returns holdings per code from memory, then the persistent
// cache, then upstream. Upstream failures yield no holdings for that code.
func (s *Service) loadHoldings(ctx context.Context, codes []string) map[string][]models.Holding {
	now := s.now()
	out := make(map[string][]models.Holding, len(codes))
	var missing []string

	s.mu.Lock()
	for _, code := range codes {
		if c, ok := s.holdings[code]; ok && common.IsFresh(c.fetched, now, s.holdingsTTL) {
			out[code] = c.holdings
		} else {
			missing = append(missing, code)
		}
	}
	s.mu.Unlock()

	if s.cache != nil && len(missing) > 0 {
		stillMissing := missing[:0:0]
		for _, code := range missing {
			h, saved, err := s.cache.GetHoldings(ctx, code)
			if err == nil && common.IsFresh(saved, now, s.holdingsTTL) {
				out[code] = h
				s.rememberHoldings(code, h, saved)
				continue
			}
			stillMissing = append(stillMissing, code)
		}
		missing = stillMissing
	}

	var mu sync.Mutex
	s.fanOut(ctx, missing, func(code string) {
		h, err := s.client.FetchHoldings(ctx, code)
		if err != nil {
			s.logger.Debug().Err(err).Str("code", code).Msg("Holdings unavailable")
			return
		}
		s.rememberHoldings(code, h, now)
		if s.cache != nil {
			if err := s.cache.SaveHoldings(ctx, code, h); err != nil {
				s.logger.Warn().Err(err).Str("code", code).Msg("Failed to cache holdings")
			}
		}
		mu.Lock()
		out[code] = h
		mu.Unlock()
	})

	return out
}

func (s *Service) rememberHoldings(code string, h []models.Holding, fetched time.Time) {
	s.mu.Lock()
	s.holdings[code] = cachedHoldings{holdings: h, fetched: fetched}
	s.mu.Unlock()
}

// fanOut runs fn for every code with at most maxConcurrent in flight and
// returns once all have finished or ctx is cancelled.
func (s *Service) fanOut(ctx context.Context, codes []string, fn func(code string)) {
	sem := make(chan struct{}, s.maxConcurrent)
	var wg sync.WaitGroup

	for _, code := range codes {
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
			fn(code)
		}(code)
	}

	wg.Wait()
}

func uniqueCodes(codes []string) []string {
	seen := make(map[string]bool, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Ensure Service implements QuoteService
var _ interfaces.QuoteService = (*Service)(nil)

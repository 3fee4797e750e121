package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
)

const (
	quoteRefreshTimeout    = 45 * time.Second
	fundListRefreshTimeout = 2 * time.Minute

	// cacheRetention is how long an untouched history record is kept
	cacheRetention = 30 * 24 * time.Hour
)

// cronLogger adapts common.Logger to cron.Logger
type cronLogger struct {
	logger *common.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// Scheduler runs background refreshes on cron schedules in exchange time.
type Scheduler struct {
	cron      *cron.Cron
	portfolio interfaces.PortfolioService
	funds     interfaces.FundService
	storage   interfaces.StorageManager
	logger    *common.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler registers the configured jobs. An empty schedule disables
// its job. storage may be nil, which skips cache pruning.
func NewScheduler(cfg common.SchedulerConfig, portfolio interfaces.PortfolioService, funds interfaces.FundService, storage interfaces.StorageManager, logger *common.Logger) (*Scheduler, error) {
	location := common.ChinaTZ
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("Unknown scheduler timezone, using UTC+8")
		} else {
			location = loc
		}
	}

	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		portfolio: portfolio,
		funds:     funds,
		storage:   storage,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.QuoteRefresh != "" {
		if _, err := s.cron.AddFunc(cfg.QuoteRefresh, s.RefreshQuotes); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid quote_refresh schedule %q: %w", cfg.QuoteRefresh, err)
		}
	}
	if cfg.FundListRefresh != "" {
		if _, err := s.cron.AddFunc(cfg.FundListRefresh, s.RefreshFundList); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid fund_list_refresh schedule %q: %w", cfg.FundListRefresh, err)
		}
	}

	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Entries())).Msg("Scheduler started")
}

// Stop halts the schedule, cancels running jobs and waits for them.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// RefreshQuotes updates quotes for every tracked fund.
func (s *Scheduler) RefreshQuotes() {
	ctx, cancel := context.WithTimeout(s.ctx, quoteRefreshTimeout)
	defer cancel()

	start := time.Now()
	n, err := s.portfolio.RefreshQuotes(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Quote refresh failed")
		return
	}
	s.logger.Debug().Int("refreshed", n).Dur("elapsed", time.Since(start)).Msg("Quote refresh complete")
}

// RefreshFundList reloads the searchable fund universe and prunes cached
// histories nobody has asked for in a while.
func (s *Scheduler) RefreshFundList() {
	ctx, cancel := context.WithTimeout(s.ctx, fundListRefreshTimeout)
	defer cancel()

	if err := s.funds.RefreshFundList(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Fund list refresh failed")
	}

	if s.storage != nil {
		if _, err := s.storage.PruneCache(ctx, cacheRetention); err != nil {
			s.logger.Warn().Err(err).Msg("Cache prune failed")
		}
	}
}

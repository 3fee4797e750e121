package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/metrics"
	"github.com/bobmcallan/smartfund/internal/models"
)

// Service implements BacktestService
type Service struct {
	histories interfaces.HistoryProvider
	logger    *common.Logger
	validate  *validator.Validate
	now       func() time.Time // injectable clock for testing
}

// NewService creates a new backtest service
func NewService(histories interfaces.HistoryProvider, logger *common.Logger) *Service {
	return &Service{
		histories: histories,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// Run validates req, fetches every fund's history concurrently, waits for
// all of them and then simulates the allocation. Missing history degrades
// the result rather than failing it.
func (s *Service) Run(ctx context.Context, req models.BacktestRequest) (*models.BacktestResult, error) {
	allocs := make([]models.BacktestAllocation, len(req.Allocations))
	for i, a := range req.Allocations {
		allocs[i] = models.BacktestAllocation{Code: strings.TrimSpace(a.Code), Amount: a.Amount}
	}
	req.Allocations = allocs
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}

	codes := make([]string, 0, len(req.Allocations))
	for _, a := range req.Allocations {
		codes = append(codes, a.Code)
	}

	start := time.Now()
	series := s.histories.Histories(ctx, codes)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := Run(req.Allocations, series, common.InChina(s.now()), req.DurationYears)

	outcome := "ok"
	if result.InsufficientData {
		outcome = "insufficient_data"
	}
	metrics.BacktestsRun.WithLabelValues(outcome).Inc()

	s.logger.Info().
		Int("funds", len(req.Allocations)).
		Int("years", req.DurationYears).
		Int("points", len(result.Points)).
		Float64("total_return", result.TotalReturn).
		Bool("insufficient_data", result.InsufficientData).
		Dur("elapsed", time.Since(start)).
		Msg("Backtest complete")

	return result, nil
}

// Ensure Service implements BacktestService
var _ interfaces.BacktestService = (*Service)(nil)

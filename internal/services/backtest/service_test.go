package backtest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/models"
)

type mockHistories struct {
	mu     sync.Mutex
	series map[string][]models.HistoryPoint
	codes  []string
}

func (m *mockHistories) Histories(_ context.Context, codes []string) map[string][]models.HistoryPoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = codes
	out := make(map[string][]models.HistoryPoint, len(codes))
	for _, c := range codes {
		out[c] = m.series[c]
		if out[c] == nil {
			out[c] = []models.HistoryPoint{}
		}
	}
	return out
}

func newTestService(h *mockHistories) *Service {
	svc := NewService(h, common.NewSilentLogger())
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 2, 0, 0, 0, time.UTC) }
	return svc
}

func TestServiceRun(t *testing.T) {
	h := &mockHistories{series: map[string][]models.HistoryPoint{
		"000001": {hp("2026-01-05", 1.0), hp("2026-02-05", 1.2)},
	}}
	svc := newTestService(h)

	req := models.BacktestRequest{
		Allocations:   []models.BacktestAllocation{{Code: " 000001 ", Amount: 1000}},
		DurationYears: 1,
	}
	got, err := svc.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []string{"000001"}, h.codes)
	assert.Equal(t, 1200.0, got.FinalValue)
	assert.Equal(t, 20.0, got.TotalReturn)
	assert.Equal(t, " 000001 ", req.Allocations[0].Code, "caller request untouched")
}

func TestServiceRun_MissingHistoryIsNotAnError(t *testing.T) {
	svc := newTestService(&mockHistories{})

	got, err := svc.Run(context.Background(), models.BacktestRequest{
		Allocations:   []models.BacktestAllocation{{Code: "000001", Amount: 1000}},
		DurationYears: 3,
	})
	require.NoError(t, err)
	assert.True(t, got.InsufficientData)
	assert.Equal(t, 1000.0, got.FinalValue)
}

func TestServiceRun_Validation(t *testing.T) {
	svc := newTestService(&mockHistories{})
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.BacktestRequest
	}{
		{"no allocations", models.BacktestRequest{DurationYears: 1}},
		{"zero amount", models.BacktestRequest{Allocations: []models.BacktestAllocation{{Code: "a"}}, DurationYears: 1}},
		{"blank code", models.BacktestRequest{Allocations: []models.BacktestAllocation{{Code: "  ", Amount: 1}}, DurationYears: 1}},
		{"zero years", models.BacktestRequest{Allocations: []models.BacktestAllocation{{Code: "a", Amount: 1}}}},
		{"too many years", models.BacktestRequest{Allocations: []models.BacktestAllocation{{Code: "a", Amount: 1}}, DurationYears: 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Run(ctx, tt.req)
			assert.True(t, errors.Is(err, models.ErrInvalidRequest), "got %v", err)
		})
	}
}

func TestRenderChart(t *testing.T) {
	result := Run([]models.BacktestAllocation{{Code: "a", Amount: 100}}, map[string][]models.HistoryPoint{
		"a": {hp("2025-06-02", 1.0), hp("2025-09-02", 1.1), hp("2026-01-05", 0.95)},
	}, today, 1)

	png, err := RenderChart(result)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))

	_, err = RenderChart(&models.BacktestResult{})
	assert.Error(t, err)
	_, err = RenderChart(nil)
	assert.Error(t, err)
}

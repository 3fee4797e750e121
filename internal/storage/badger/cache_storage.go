package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

// fundListKey is the single key the fund universe is stored under
const fundListKey = "all"

// FundListRecord is the cached fund universe.
type FundListRecord struct {
	Key     string `badgerhold:"key"`
	Funds   []models.FundListing
	SavedAt time.Time
}

// HoldingsRecord is a fund's cached top holdings.
type HoldingsRecord struct {
	Code     string `badgerhold:"key"`
	Holdings []models.Holding
	SavedAt  time.Time
}

// HistoryRecord is a fund's cached confirmed NAV series.
type HistoryRecord struct {
	Code    string `badgerhold:"key"`
	Points  []models.HistoryPoint
	SavedAt time.Time
}

type cacheStorage struct {
	store  *Store
	logger *common.Logger
	now    func() time.Time
}

// NewCacheStorage creates a new CacheStorage backed by BadgerHold.
func NewCacheStorage(store *Store, logger *common.Logger) *cacheStorage {
	return &cacheStorage{store: store, logger: logger, now: time.Now}
}

func (s *cacheStorage) get(key string, dest interface{}, what string) error {
	if err := s.store.db.Get(key, dest); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%s '%s': %w", what, key, models.ErrNotFound)
		}
		return fmt.Errorf("failed to get %s '%s': %w", what, key, err)
	}
	return nil
}

func (s *cacheStorage) GetFundList(_ context.Context) ([]models.FundListing, time.Time, error) {
	var rec FundListRecord
	if err := s.get(fundListKey, &rec, "fund list"); err != nil {
		return nil, time.Time{}, err
	}
	return rec.Funds, rec.SavedAt, nil
}

func (s *cacheStorage) SaveFundList(_ context.Context, funds []models.FundListing) error {
	rec := FundListRecord{Key: fundListKey, Funds: funds, SavedAt: s.now()}
	if err := s.store.db.Upsert(fundListKey, &rec); err != nil {
		return fmt.Errorf("failed to save fund list: %w", err)
	}
	s.logger.Debug().Int("funds", len(funds)).Msg("Fund list cached")
	return nil
}

func (s *cacheStorage) GetHoldings(_ context.Context, code string) ([]models.Holding, time.Time, error) {
	var rec HoldingsRecord
	if err := s.get(code, &rec, "holdings"); err != nil {
		return nil, time.Time{}, err
	}
	return rec.Holdings, rec.SavedAt, nil
}

func (s *cacheStorage) SaveHoldings(_ context.Context, code string, holdings []models.Holding) error {
	rec := HoldingsRecord{Code: code, Holdings: holdings, SavedAt: s.now()}
	if err := s.store.db.Upsert(code, &rec); err != nil {
		return fmt.Errorf("failed to save holdings '%s': %w", code, err)
	}
	return nil
}

func (s *cacheStorage) GetHistory(_ context.Context, code string) ([]models.HistoryPoint, time.Time, error) {
	var rec HistoryRecord
	if err := s.get(code, &rec, "history"); err != nil {
		return nil, time.Time{}, err
	}
	return rec.Points, rec.SavedAt, nil
}

func (s *cacheStorage) SaveHistory(_ context.Context, code string, points []models.HistoryPoint) error {
	rec := HistoryRecord{Code: code, Points: points, SavedAt: s.now()}
	if err := s.store.db.Upsert(code, &rec); err != nil {
		return fmt.Errorf("failed to save history '%s': %w", code, err)
	}
	s.logger.Debug().Str("code", code).Int("points", len(points)).Msg("History cached")
	return nil
}

// PruneHistory deletes history records saved before cutoff and returns how
// many were removed. Funds no longer tracked stop being refreshed, so their
// records only age.
func (s *cacheStorage) PruneHistory(_ context.Context, cutoff time.Time) (int, error) {
	var stale []HistoryRecord
	if err := s.store.db.Find(&stale, badgerhold.Where("SavedAt").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to find stale history: %w", err)
	}
	for _, rec := range stale {
		if err := s.store.db.Delete(rec.Code, HistoryRecord{}); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
			return 0, fmt.Errorf("failed to delete history '%s': %w", rec.Code, err)
		}
	}
	if len(stale) > 0 {
		s.logger.Info().Int("records", len(stale)).Msg("Stale history pruned")
	}
	return len(stale), nil
}

var _ interfaces.CacheStorage = (*cacheStorage)(nil)

package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/smartfund/internal/models"
)

// StorageManager coordinates the state document and the upstream cache.
type StorageManager interface {
	StateStore() StateStore
	CacheStorage() CacheStorage
	KeyValueStorage() KeyValueStorage

	// PruneCache drops cached NAV histories not refreshed within maxAge
	PruneCache(ctx context.Context, maxAge time.Duration) (int, error)

	Close() error
}

// StateStore persists the portfolio State document.
// Load returns an empty document when nothing has been saved yet.
type StateStore interface {
	Load(ctx context.Context) (*models.State, error)
	Save(ctx context.Context, state *models.State) error
}

// CacheStorage persists upstream data between restarts. Getters return
// models.ErrNotFound (wrapped) on a miss, plus the time the entry was saved.
type CacheStorage interface {
	GetFundList(ctx context.Context) ([]models.FundListing, time.Time, error)
	SaveFundList(ctx context.Context, funds []models.FundListing) error
	GetHoldings(ctx context.Context, code string) ([]models.Holding, time.Time, error)
	SaveHoldings(ctx context.Context, code string, holdings []models.Holding) error
	GetHistory(ctx context.Context, code string) ([]models.HistoryPoint, time.Time, error)
	SaveHistory(ctx context.Context, code string, points []models.HistoryPoint) error
}

// KeyValueStorage handles generic key-value settings
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	GetAll(ctx context.Context) (map[string]string, error)
}

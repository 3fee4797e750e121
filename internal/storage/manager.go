// Package storage provides the top-level StorageManager that coordinates
// the 2 storage areas: the portfolio state document and the upstream cache.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/storage/badger"
)

// cacheStore is what the manager needs from the badger cache
type cacheStore interface {
	interfaces.CacheStorage
	PruneHistory(ctx context.Context, cutoff time.Time) (int, error)
}

// Manager implements interfaces.StorageManager using 2 storage areas.
type Manager struct {
	state  *FileStateStore
	badger *badger.Store
	cache  cacheStore
	kv     interfaces.KeyValueStorage
	logger *common.Logger
}

// NewManager creates a new StorageManager with the 2 storage areas.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	stateStore, err := NewFileStateStore(logger, config.Storage.State)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	badgerStore, err := badger.NewStore(logger, config.Storage.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache store: %w", err)
	}

	logger.Info().
		Str("state", config.Storage.State.Path).
		Str("cache", config.Storage.Cache.Path).
		Msg("Storage manager initialized (2 areas)")

	return &Manager{
		state:  stateStore,
		badger: badgerStore,
		cache:  badger.NewCacheStorage(badgerStore, logger),
		kv:     badger.NewKVStorage(badgerStore, logger),
		logger: logger,
	}, nil
}

func (m *Manager) StateStore() interfaces.StateStore {
	return m.state
}

func (m *Manager) CacheStorage() interfaces.CacheStorage {
	return m.cache
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

func (m *Manager) PruneCache(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := m.cache.PruneHistory(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to prune cache: %w", err)
	}
	return n, nil
}

func (m *Manager) Close() error {
	return m.badger.Close()
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)

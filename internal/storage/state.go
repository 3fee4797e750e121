package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bobmcallan/smartfund/internal/common"
	"github.com/bobmcallan/smartfund/internal/interfaces"
	"github.com/bobmcallan/smartfund/internal/models"
)

// stateFile is the document name under the state directory
const stateFile = "state.json"

// FileStateStore persists the State document as indented JSON with
// rotated previous versions (state.json.v1 is the most recent).
type FileStateStore struct {
	dir      string
	versions int
	logger   *common.Logger
	mu       sync.Mutex
}

// NewFileStateStore creates the state directory if needed.
func NewFileStateStore(logger *common.Logger, config common.FileConfig) (*FileStateStore, error) {
	versions := config.Versions
	if versions < 0 {
		versions = 0
	}
	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", config.Path, err)
	}

	logger.Debug().Str("path", config.Path).Int("versions", versions).Msg("State store opened")
	return &FileStateStore{dir: config.Path, versions: versions, logger: logger}, nil
}

// Path returns the location of the current document.
func (fs *FileStateStore) Path() string {
	return filepath.Join(fs.dir, stateFile)
}

// Load reads the document. A missing or empty file yields an empty State.
func (fs *FileStateStore) Load(_ context.Context) (*models.State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewState(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", fs.Path(), err)
	}
	if len(data) == 0 {
		return models.NewState(), nil
	}

	var state models.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fs.Path(), err)
	}
	normalizeState(&state)
	return &state, nil
}

// Save writes the document atomically after rotating previous versions.
func (fs *FileStateStore) Save(_ context.Context, state *models.State) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}

	jsonData, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	target := fs.Path()
	if fs.versions > 0 {
		fs.rotateVersions(target)
	}
	if err := writeAtomic(fs.dir, target, jsonData); err != nil {
		return err
	}

	fs.logger.Debug().Int("funds", len(state.Funds)).Msg("State saved")
	return nil
}

// rotateVersions shifts existing versions up and moves current to v1.
// v{N} -> deleted, v{N-1} -> v{N}, ..., v1 -> v2, current -> v1
func (fs *FileStateStore) rotateVersions(target string) {
	os.Remove(fmt.Sprintf("%s.v%d", target, fs.versions))

	for i := fs.versions; i > 1; i-- {
		os.Rename(fmt.Sprintf("%s.v%d", target, i-1), fmt.Sprintf("%s.v%d", target, i)) // may not exist yet
	}

	if _, err := os.Stat(target); err == nil {
		os.Rename(target, target+".v1")
	}
}

// writeAtomic writes data to a temp file in dir, then renames it to target.
func writeAtomic(dir, target string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// normalizeState replaces nil collections so the document re-encodes with
// empty arrays rather than null.
func normalizeState(s *models.State) {
	if s.Funds == nil {
		s.Funds = []models.Fund{}
	}
	if s.Groups == nil {
		s.Groups = []models.Group{}
	}
	if s.MarketConfig == nil {
		s.MarketConfig = []string{}
	}
	if s.Version == 0 {
		s.Version = models.StateVersion
	}
	for i := range s.Funds {
		if s.Funds[i].Position.Transactions == nil {
			s.Funds[i].Position.Transactions = []models.Transaction{}
		}
	}
}

var _ interfaces.StateStore = (*FileStateStore)(nil)

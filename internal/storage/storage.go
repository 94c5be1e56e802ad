package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dmarquardt/condorkeeper/internal/models"
)

// schemaVersion tags the on-disk document so future layouts can migrate.
const schemaVersion = 1

type storageData struct {
	SchemaVersion int                         `json:"schema_version"`
	Positions     map[string]*models.Position `json:"positions"`
	LastUpdated   time.Time                   `json:"last_updated"`
}

// JSONStorage persists the whole position set to a single JSON file. Every
// write replaces the known-good document atomically (temp file + rename).
type JSONStorage struct {
	mu   sync.RWMutex
	path string
	data *storageData
}

// NewJSONStorage creates a store backed by the given file, loading existing
// data when the file is present.
func NewJSONStorage(path string) (*JSONStorage, error) {
	s := &JSONStorage{
		path: path,
		data: &storageData{
			SchemaVersion: schemaVersion,
			Positions:     make(map[string]*models.Position),
		},
	}
	if _, err := os.Stat(path); err == nil {
		if err := s.Load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	}
	return s, nil
}

// Load reads the document from disk, replacing in-memory state.
func (s *JSONStorage) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}

	var data storageData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if data.Positions == nil {
		data.Positions = make(map[string]*models.Position)
	}
	// Pre-versioning documents carry version 0; adopt the current layout.
	if data.SchemaVersion == 0 {
		data.SchemaVersion = schemaVersion
	}
	if data.SchemaVersion != schemaVersion {
		return fmt.Errorf("unsupported schema version %d in %s", data.SchemaVersion, s.path)
	}

	for id, pos := range data.Positions {
		if pos.ID == "" {
			pos.ID = id
		}
		pos.DTE = pos.CalculateDTE()
	}

	s.data = &data
	return nil
}

// Save writes the full document atomically.
func (s *JSONStorage) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *JSONStorage) saveLocked() error {
	s.data.LastUpdated = time.Now().UTC()

	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding positions: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("creating storage dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// AddPosition inserts a new position and persists the set.
func (s *JSONStorage) AddPosition(pos *models.Position) error {
	if err := pos.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Positions[pos.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, pos.ID)
	}
	cp := *pos
	s.data.Positions[pos.ID] = &cp
	return s.saveLocked()
}

// UpdatePosition replaces an existing position record and persists the set.
func (s *JSONStorage) UpdatePosition(pos *models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.Positions[pos.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
	}
	cp := *pos
	s.data.Positions[pos.ID] = &cp
	return s.saveLocked()
}

// GetPositionByID returns a copy of the position with the given id.
func (s *JSONStorage) GetPositionByID(id string) (*models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.data.Positions[id]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// GetOpenPositions returns copies of all open positions.
func (s *JSONStorage) GetOpenPositions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.data.Positions))
	for _, pos := range s.data.Positions {
		if pos.IsOpen() {
			out = append(out, *pos)
		}
	}
	return out
}

// GetAllPositions returns copies of every position, open and historical.
func (s *JSONStorage) GetAllPositions() []models.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Position, 0, len(s.data.Positions))
	for _, pos := range s.data.Positions {
		out = append(out, *pos)
	}
	return out
}

// OpenPositionCount returns the number of open positions.
func (s *JSONStorage) OpenPositionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, pos := range s.data.Positions {
		if pos.IsOpen() {
			n++
		}
	}
	return n
}

// OpenPositionCountBySymbol returns the number of open positions on one
// underlying.
func (s *JSONStorage) OpenPositionCountBySymbol(symbol string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, pos := range s.data.Positions {
		if pos.IsOpen() && pos.Symbol == symbol {
			n++
		}
	}
	return n
}

// ClosePosition transitions a position to its terminal state and persists.
// Closing an already-closed position is a no-op.
func (s *JSONStorage) ClosePosition(id string, reason models.ExitReason, realizedPnL float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.data.Positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !pos.Close(reason, realizedPnL, time.Now().UTC()) {
		return nil
	}
	return s.saveLocked()
}

// GetStatistics derives performance statistics from terminal positions.
// Breakeven trades count toward totals but not the win rate.
func (s *JSONStorage) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Statistics
	var winSum, lossSum float64
	for _, pos := range s.data.Positions {
		if !pos.IsTerminal() || pos.RealizedPnL == nil {
			continue
		}
		pnl := *pos.RealizedPnL
		stats.TotalTrades++
		stats.TotalPnL += pnl
		switch {
		case pnl > 0:
			stats.WinningTrades++
			winSum += pnl
		case pnl < 0:
			stats.LosingTrades++
			lossSum += pnl
		}
	}
	if stats.WinningTrades > 0 {
		stats.AverageWin = winSum / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AverageLoss = lossSum / float64(stats.LosingTrades)
	}
	if decided := stats.WinningTrades + stats.LosingTrades; decided > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(decided) * 100
	}
	return stats
}

// Ensure JSONStorage implements Interface at compile time.
var _ Interface = (*JSONStorage)(nil)

package storage

import (
	"fmt"
	"time"

	"github.com/dmarquardt/condorkeeper/internal/models"
)

// MockStorage implements Interface for testing, with error injection and
// call counting.
type MockStorage struct {
	saveError     error
	loadError     error
	positions     map[string]*models.Position
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing.
func NewMockStorage() *MockStorage {
	return &MockStorage{positions: make(map[string]*models.Position)}
}

// AddPosition inserts a position without touching disk.
func (m *MockStorage) AddPosition(pos *models.Position) error {
	if _, exists := m.positions[pos.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePosition, pos.ID)
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return m.saveError
}

// UpdatePosition replaces a stored position.
func (m *MockStorage) UpdatePosition(pos *models.Position) error {
	if _, exists := m.positions[pos.ID]; !exists {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, pos.ID)
	}
	cp := *pos
	m.positions[pos.ID] = &cp
	return m.saveError
}

// GetPositionByID returns a copy of the stored position.
func (m *MockStorage) GetPositionByID(id string) (*models.Position, bool) {
	pos, ok := m.positions[id]
	if !ok {
		return nil, false
	}
	cp := *pos
	return &cp, true
}

// GetOpenPositions returns copies of open positions.
func (m *MockStorage) GetOpenPositions() []models.Position {
	var out []models.Position
	for _, pos := range m.positions {
		if pos.IsOpen() {
			out = append(out, *pos)
		}
	}
	return out
}

// GetAllPositions returns copies of all positions.
func (m *MockStorage) GetAllPositions() []models.Position {
	var out []models.Position
	for _, pos := range m.positions {
		out = append(out, *pos)
	}
	return out
}

// OpenPositionCount returns the number of open positions.
func (m *MockStorage) OpenPositionCount() int {
	return len(m.GetOpenPositions())
}

// OpenPositionCountBySymbol returns open positions on one underlying.
func (m *MockStorage) OpenPositionCountBySymbol(symbol string) int {
	n := 0
	for _, pos := range m.positions {
		if pos.IsOpen() && pos.Symbol == symbol {
			n++
		}
	}
	return n
}

// ClosePosition closes a stored position, idempotently.
func (m *MockStorage) ClosePosition(id string, reason models.ExitReason, realizedPnL float64) error {
	pos, ok := m.positions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	pos.Close(reason, realizedPnL, time.Now().UTC())
	return m.saveError
}

// Save counts the call and returns the injected error, if any.
func (m *MockStorage) Save() error {
	m.saveCallCount++
	return m.saveError
}

// Load counts the call and returns the injected error, if any.
func (m *MockStorage) Load() error {
	m.loadCallCount++
	return m.loadError
}

// GetStatistics derives statistics from terminal positions.
func (m *MockStorage) GetStatistics() Statistics {
	var stats Statistics
	for _, pos := range m.positions {
		if !pos.IsTerminal() || pos.RealizedPnL == nil {
			continue
		}
		stats.TotalTrades++
		stats.TotalPnL += *pos.RealizedPnL
		if *pos.RealizedPnL > 0 {
			stats.WinningTrades++
		} else if *pos.RealizedPnL < 0 {
			stats.LosingTrades++
		}
	}
	if decided := stats.WinningTrades + stats.LosingTrades; decided > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(decided) * 100
	}
	return stats
}

// Mock control methods for testing

// SetSaveError injects an error returned by mutating calls.
func (m *MockStorage) SetSaveError(err error) { m.saveError = err }

// SetLoadError injects an error returned by Load.
func (m *MockStorage) SetLoadError(err error) { m.loadError = err }

// GetSaveCallCount returns how many times Save was called.
func (m *MockStorage) GetSaveCallCount() int { return m.saveCallCount }

// GetLoadCallCount returns how many times Load was called.
func (m *MockStorage) GetLoadCallCount() int { return m.loadCallCount }

// Ensure MockStorage implements Interface at compile time.
var _ Interface = (*MockStorage)(nil)

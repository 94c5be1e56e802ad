// Package storage persists the position set as a flat JSON document.
package storage

import (
	"github.com/dmarquardt/condorkeeper/internal/models"
)

// Statistics summarizes closed-position performance, derived from history on
// demand.
type Statistics struct {
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnL      float64 `json:"total_pnl"`
	AverageWin    float64 `json:"average_win"`
	AverageLoss   float64 `json:"average_loss"`
}

// Interface is the durable keyed position store. Closed positions are kept
// as history, never deleted.
type Interface interface {
	// Position management
	AddPosition(pos *models.Position) error
	UpdatePosition(pos *models.Position) error
	GetPositionByID(id string) (*models.Position, bool)
	GetOpenPositions() []models.Position
	GetAllPositions() []models.Position
	OpenPositionCount() int
	OpenPositionCountBySymbol(symbol string) int
	// ClosePosition is idempotent: closing an already-terminal position is
	// a no-op, not an error.
	ClosePosition(id string, reason models.ExitReason, realizedPnL float64) error

	// Data persistence
	Save() error
	Load() error

	// Analytics
	GetStatistics() Statistics
}

// NewStorage creates the default JSON-file-backed store.
func NewStorage(path string) (Interface, error) {
	return NewJSONStorage(path)
}

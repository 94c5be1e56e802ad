package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarquardt/condorkeeper/internal/models"
)

func tempStore(t *testing.T) (*JSONStorage, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "positions.json")
	s, err := NewJSONStorage(path)
	require.NoError(t, err)
	return s, path
}

func samplePosition(id, symbol string) *models.Position {
	return &models.Position{
		ID:           id,
		Symbol:       symbol,
		Strategy:     models.StrategyBullPut,
		Expiration:   time.Now().UTC().AddDate(0, 0, 35),
		Quantity:     1,
		ShortStrike:  570,
		LongStrike:   565,
		EntryCredit:  1.50,
		EntryDate:    time.Now().UTC(),
		ProfitTarget: 75,
		StopLoss:     -300,
		Status:       models.StatusOpen,
	}
}

func TestAddAndReloadRoundTrip(t *testing.T) {
	s, path := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("p1", "SPY")))

	// A fresh store against the same file sees the position.
	s2, err := NewJSONStorage(path)
	require.NoError(t, err)
	got, ok := s2.GetPositionByID("p1")
	require.True(t, ok)
	assert.Equal(t, "SPY", got.Symbol)
	assert.InDelta(t, 1.50, got.EntryCredit, 1e-9)
	assert.True(t, got.IsOpen())
	assert.InDelta(t, 35, got.DTE, 1, "DTE is recomputed on load")
}

func TestAddDuplicateRejected(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("p1", "SPY")))
	err := s.AddPosition(samplePosition("p1", "QQQ"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicatePosition))
}

func TestAddInvalidPositionRejected(t *testing.T) {
	s, _ := tempStore(t)
	bad := samplePosition("p1", "SPY")
	bad.Quantity = 0
	require.Error(t, s.AddPosition(bad))
}

func TestUpdateMissingPosition(t *testing.T) {
	s, _ := tempStore(t)
	err := s.UpdatePosition(samplePosition("ghost", "SPY"))
	assert.True(t, errors.Is(err, ErrPositionNotFound))
}

func TestClosePositionIdempotent(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("p1", "SPY")))

	require.NoError(t, s.ClosePosition("p1", models.ExitProfitTarget, 80))
	first, ok := s.GetPositionByID("p1")
	require.True(t, ok)

	// Second close is a no-op, not an error, and changes nothing.
	require.NoError(t, s.ClosePosition("p1", models.ExitStopLoss, -999))
	second, ok := s.GetPositionByID("p1")
	require.True(t, ok)
	assert.Equal(t, first.ExitReason, second.ExitReason)
	assert.InDelta(t, *first.RealizedPnL, *second.RealizedPnL, 1e-9)
	assert.Equal(t, *first.ExitDate, *second.ExitDate)
}

func TestClosedPositionsRemainAsHistory(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("p1", "SPY")))
	require.NoError(t, s.AddPosition(samplePosition("p2", "QQQ")))
	require.NoError(t, s.ClosePosition("p1", models.ExitDTE, -10))

	assert.Len(t, s.GetOpenPositions(), 1)
	assert.Len(t, s.GetAllPositions(), 2)
	assert.Equal(t, 1, s.OpenPositionCount())
	assert.Equal(t, 1, s.OpenPositionCountBySymbol("QQQ"))
	assert.Equal(t, 0, s.OpenPositionCountBySymbol("SPY"))
}

func TestGetPositionReturnsCopy(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("p1", "SPY")))

	got, ok := s.GetPositionByID("p1")
	require.True(t, ok)
	got.Symbol = "MUTATED"

	again, ok := s.GetPositionByID("p1")
	require.True(t, ok)
	assert.Equal(t, "SPY", again.Symbol)
}

func TestSchemaVersionWritten(t *testing.T) {
	s, path := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("p1", "SPY")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc, "schema_version")
	assert.Contains(t, doc, "positions")
}

func TestLoadPreVersionedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	legacy := `{"positions": {"p1": {"id": "p1", "symbol": "SPY", "strategy": "bull_put_spread",
		"quantity": 1, "entry_credit": 1.5, "short_strike": 570, "long_strike": 565,
		"expiration": "2026-04-17T00:00:00Z", "entry_date": "2026-03-02T00:00:00Z",
		"status": "open", "exit_date": null, "realized_pnl": null, "roll_count": 0,
		"call_short_strike": null, "call_long_strike": null, "legs": null,
		"profit_target": 75, "stop_loss": -300, "current_value": 0,
		"current_pnl": 0, "current_pnl_pct": 0}}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	s, err := NewJSONStorage(path)
	require.NoError(t, err)
	_, ok := s.GetPositionByID("p1")
	assert.True(t, ok)
}

func TestLoadUnsupportedSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99, "positions": {}}`), 0o600))
	_, err := NewJSONStorage(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err := NewJSONStorage(path)
	require.Error(t, err)
}

func TestStatistics(t *testing.T) {
	s, _ := tempStore(t)
	require.NoError(t, s.AddPosition(samplePosition("w1", "SPY")))
	require.NoError(t, s.AddPosition(samplePosition("w2", "QQQ")))
	require.NoError(t, s.AddPosition(samplePosition("l1", "IWM")))
	require.NoError(t, s.AddPosition(samplePosition("open", "GLD")))

	require.NoError(t, s.ClosePosition("w1", models.ExitProfitTarget, 80))
	require.NoError(t, s.ClosePosition("w2", models.ExitProfitTarget, 60))
	require.NoError(t, s.ClosePosition("l1", models.ExitStopLoss, -200))

	stats := s.GetStatistics()
	assert.Equal(t, 3, stats.TotalTrades)
	assert.Equal(t, 2, stats.WinningTrades)
	assert.Equal(t, 1, stats.LosingTrades)
	assert.InDelta(t, -60.0, stats.TotalPnL, 1e-9)
	assert.InDelta(t, 70.0, stats.AverageWin, 1e-9)
	assert.InDelta(t, -200.0, stats.AverageLoss, 1e-9)
	assert.InDelta(t, 66.67, stats.WinRate, 0.01)
}

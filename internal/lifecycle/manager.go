// Package lifecycle owns the durable position set: entry bookkeeping, live
// P&L refresh, exit triggers and terminal transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
	"github.com/dmarquardt/condorkeeper/internal/storage"
)

// Fill describes a confirmed multi-leg fill from which a position is built.
type Fill struct {
	Symbol          string
	Strategy        models.StrategyType
	Expiration      time.Time
	Quantity        int
	EntryCredit     float64
	ShortStrike     float64
	LongStrike      float64
	CallShortStrike *float64
	CallLongStrike  *float64
	Legs            []models.Leg
	RolledFrom      string
	RollCount       int
}

// ExitSignal reports that an open position met an exit trigger. Exactly one
// signal is raised per position per cycle.
type ExitSignal struct {
	Position models.Position
	Reason   models.ExitReason
	Detail   string
}

// Manager mutates positions: it is the only component allowed to update
// values and transition status. Shares the single-writer discipline of the
// monitor loop.
type Manager struct {
	cfg    config.RiskConfig
	store  storage.Interface
	market broker.Broker
	logger *logrus.Logger
}

// NewManager creates a lifecycle manager.
func NewManager(cfg config.RiskConfig, store storage.Interface, market broker.Broker, logger *logrus.Logger) *Manager {
	return &Manager{cfg: cfg, store: store, market: market, logger: logger}
}

// CanOpen is the admission pre-check on portfolio counts.
func (m *Manager) CanOpen(symbol string) (bool, string) {
	if n := m.store.OpenPositionCount(); n >= m.cfg.MaxPositions {
		return false, fmt.Sprintf("portfolio already holds %d positions (max %d)", n, m.cfg.MaxPositions)
	}
	if n := m.store.OpenPositionCountBySymbol(symbol); n >= m.cfg.MaxPerUnderlying {
		return false, fmt.Sprintf("%s already holds %d positions (max %d per underlying)",
			symbol, n, m.cfg.MaxPerUnderlying)
	}
	return true, "within position limits"
}

// Add constructs a position from a confirmed fill. Profit target and stop
// loss dollars are frozen here and never recomputed.
func (m *Manager) Add(fill Fill) (*models.Position, error) {
	if fill.EntryCredit <= 0 {
		return nil, fmt.Errorf("fill credit must be > 0, got %.2f", fill.EntryCredit)
	}
	maxProfit := fill.EntryCredit * float64(fill.Quantity) * models.ContractMultiplier

	pos := &models.Position{
		ID:              uuid.New().String(),
		Symbol:          fill.Symbol,
		Strategy:        fill.Strategy,
		Legs:            fill.Legs,
		Expiration:      fill.Expiration,
		Quantity:        fill.Quantity,
		ShortStrike:     fill.ShortStrike,
		LongStrike:      fill.LongStrike,
		CallShortStrike: fill.CallShortStrike,
		CallLongStrike:  fill.CallLongStrike,
		EntryCredit:     fill.EntryCredit,
		EntryDate:       time.Now().UTC(),
		ProfitTarget:    maxProfit * m.cfg.ProfitTargetPct,
		StopLoss:        -(maxProfit * m.cfg.StopLossMultiplier),
		CurrentValue:    fill.EntryCredit,
		Status:          models.StatusOpen,
		RolledFrom:      fill.RolledFrom,
		RollCount:       fill.RollCount,
	}
	pos.DTE = pos.CalculateDTE()

	if err := m.store.AddPosition(pos); err != nil {
		if errors.Is(err, storage.ErrDuplicatePosition) {
			return nil, err
		}
		// Degraded mode: keep operating on in-memory state.
		m.logger.WithError(err).WithField("position_id", pos.ID).
			Warn("persisting new position failed, continuing in memory")
	}

	m.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"strategy":    pos.Strategy,
		"credit":      pos.EntryCredit,
		"quantity":    pos.Quantity,
	}).Info("position opened")
	return pos, nil
}

// RefreshValues recomputes DTE, cost-to-close and P&L for every open
// position. A symbol whose market data is unavailable keeps its previous
// values and is retried next cycle.
func (m *Manager) RefreshValues(ctx context.Context) error {
	var firstErr error
	for _, pos := range m.store.GetOpenPositions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.refreshOne(ctx, &pos); err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{
				"position_id": pos.ID,
				"symbol":      pos.Symbol,
			}).Warn("value refresh skipped")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) refreshOne(ctx context.Context, pos *models.Position) error {
	cost, err := m.CostToClose(ctx, pos)
	if err != nil {
		return err
	}

	pos.DTE = pos.CalculateDTE()
	pos.CurrentValue = cost
	pos.CurrentPnL = (pos.EntryCredit - cost) * float64(pos.Quantity) * models.ContractMultiplier
	if maxProfit := pos.MaxProfit(); maxProfit > 0 {
		pos.CurrentPnLPct = pos.CurrentPnL / maxProfit * 100
	}

	if err := m.store.UpdatePosition(pos); err != nil {
		m.logger.WithError(err).WithField("position_id", pos.ID).
			Warn("persisting refreshed values failed, continuing in memory")
	}
	return nil
}

// CostToClose quotes the current buy-back cost of a position: short leg ask
// minus long leg bid per vertical, both sides summed for an iron condor.
func (m *Manager) CostToClose(ctx context.Context, pos *models.Position) (float64, error) {
	expiration := pos.Expiration.Format("2006-01-02")
	chain, err := m.market.GetOptionChain(ctx, pos.Symbol, expiration, false)
	if err != nil {
		return 0, fmt.Errorf("%w: chain for %s %s: %v", broker.ErrDataUnavailable, pos.Symbol, expiration, err)
	}

	primaryRight := broker.OptionTypePut
	if pos.Strategy == models.StrategyBearCall {
		primaryRight = broker.OptionTypeCall
	}
	cost, err := sideCost(chain, pos.ShortStrike, pos.LongStrike, primaryRight)
	if err != nil {
		return 0, err
	}

	if pos.Strategy == models.StrategyIronCondor {
		if pos.CallShortStrike == nil || pos.CallLongStrike == nil {
			return 0, fmt.Errorf("iron condor %s missing call strikes", pos.ID)
		}
		callCost, err := sideCost(chain, *pos.CallShortStrike, *pos.CallLongStrike, broker.OptionTypeCall)
		if err != nil {
			return 0, err
		}
		cost += callCost
	}
	return cost, nil
}

func sideCost(chain []broker.OptionQuote, shortStrike, longStrike float64, right broker.OptionType) (float64, error) {
	short := broker.GetOptionByStrike(chain, shortStrike, right)
	long := broker.GetOptionByStrike(chain, longStrike, right)
	if short == nil || long == nil {
		return 0, fmt.Errorf("%w: %s strikes %.2f/%.2f not in chain",
			broker.ErrDataUnavailable, right, shortStrike, longStrike)
	}
	return short.Ask - long.Bid, nil
}

// ExitSignals evaluates exit triggers for every open position, in priority
// order: profit target, then stop loss, then the DTE floor. First match
// wins.
func (m *Manager) ExitSignals() []ExitSignal {
	var out []ExitSignal
	for _, pos := range m.store.GetOpenPositions() {
		pos.DTE = pos.CalculateDTE()
		switch {
		case pos.CurrentPnL >= pos.ProfitTarget:
			out = append(out, ExitSignal{
				Position: pos,
				Reason:   models.ExitProfitTarget,
				Detail: fmt.Sprintf("P&L $%.2f reached target $%.2f",
					pos.CurrentPnL, pos.ProfitTarget),
			})
		case pos.CurrentPnL <= pos.StopLoss:
			out = append(out, ExitSignal{
				Position: pos,
				Reason:   models.ExitStopLoss,
				Detail: fmt.Sprintf("P&L $%.2f breached stop $%.2f",
					pos.CurrentPnL, pos.StopLoss),
			})
		case pos.DTE <= m.cfg.MinDTEExit:
			out = append(out, ExitSignal{
				Position: pos,
				Reason:   models.ExitDTE,
				Detail:   fmt.Sprintf("%d DTE at or below floor %d", pos.DTE, m.cfg.MinDTEExit),
			})
		}
	}
	return out
}

// Close transitions a position to its terminal state. Idempotent: closing a
// closed position is a no-op.
func (m *Manager) Close(id string, reason models.ExitReason, realizedPnL float64) error {
	if err := m.store.ClosePosition(id, reason, realizedPnL); err != nil {
		return err
	}
	m.logger.WithFields(logrus.Fields{
		"position_id": id,
		"reason":      reason,
		"pnl":         realizedPnL,
	}).Info("position closed")
	return nil
}

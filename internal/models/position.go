// Package models defines the core position data structures shared across the engine.
package models

import (
	"fmt"
	"time"
)

// StrategyType identifies the spread variant a position carries.
type StrategyType string

const (
	// StrategyBullPut is a put credit spread (short put + long put below it).
	StrategyBullPut StrategyType = "bull_put_spread"
	// StrategyBearCall is a call credit spread (short call + long call above it).
	StrategyBearCall StrategyType = "bear_call_spread"
	// StrategyIronCondor combines a bull put spread and a bear call spread.
	StrategyIronCondor StrategyType = "iron_condor"
)

// Direction is the directional bias a strategy expresses.
type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

// Direction returns the directional bias of the strategy.
func (s StrategyType) Direction() Direction {
	switch s {
	case StrategyBullPut:
		return DirectionBullish
	case StrategyBearCall:
		return DirectionBearish
	default:
		return DirectionNeutral
	}
}

// LegCount returns how many legs the strategy variant carries.
func (s StrategyType) LegCount() int {
	if s == StrategyIronCondor {
		return 4
	}
	return 2
}

// OptionRight is the contract right of a leg.
type OptionRight string

const (
	RightCall OptionRight = "call"
	RightPut  OptionRight = "put"
)

// LegSide marks a leg as sold or bought.
type LegSide string

const (
	SideShort LegSide = "short"
	SideLong  LegSide = "long"
)

// Leg is a single option contract within a position. Legs are owned by the
// position that contains them and are immutable after entry.
type Leg struct {
	Strike float64     `json:"strike"`
	Right  OptionRight `json:"right"`
	Side   LegSide     `json:"side"`
	Delta  float64     `json:"delta"`
	Bid    float64     `json:"bid"`
	Ask    float64     `json:"ask"`
	Mid    float64     `json:"mid"`
}

// PositionStatus is the lifecycle state of a position. Open is the only
// non-terminal status; closed and expired are one-way.
type PositionStatus string

const (
	StatusOpen    PositionStatus = "open"
	StatusClosed  PositionStatus = "closed"
	StatusExpired PositionStatus = "expired"
)

// ExitReason records why a position left the open state.
type ExitReason string

const (
	ExitProfitTarget ExitReason = "profit_target"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitDTE          ExitReason = "dte_exit"
	ExitRolled       ExitReason = "rolled"
	ExitManual       ExitReason = "manual"
	ExitExpired      ExitReason = "expired"
)

// ContractMultiplier is the share multiplier for standard equity options.
const ContractMultiplier = 100.0

// Position is the central tracked entity. It is created on a confirmed fill,
// mutated only by the lifecycle manager (value refresh) and the rolling engine
// (roll lineage), and never deleted: closed positions remain as history.
//
// EntryCredit and CurrentValue are quoted per spread per share; dollar P&L
// fields are scaled by quantity and the contract multiplier. Positive P&L is
// always profit.
type Position struct {
	ID         string       `json:"id"`
	Symbol     string       `json:"symbol"`
	Strategy   StrategyType `json:"strategy"`
	Legs       []Leg        `json:"legs"`
	Expiration time.Time    `json:"expiration"`
	Quantity   int          `json:"quantity"`

	// Primary vertical: the put side for bull puts and iron condors, the
	// call side for bear calls.
	ShortStrike float64 `json:"short_strike"`
	LongStrike  float64 `json:"long_strike"`

	// Call side of an iron condor; nil for two-leg strategies.
	CallShortStrike *float64 `json:"call_short_strike"`
	CallLongStrike  *float64 `json:"call_long_strike"`

	EntryCredit float64   `json:"entry_credit"`
	EntryDate   time.Time `json:"entry_date"`

	// Dollar thresholds frozen at entry, never recomputed.
	ProfitTarget float64 `json:"profit_target"`
	StopLoss     float64 `json:"stop_loss"`

	CurrentValue  float64 `json:"current_value"`
	CurrentPnL    float64 `json:"current_pnl"`
	CurrentPnLPct float64 `json:"current_pnl_pct"`

	// Recomputed from Expiration, never persisted as truth.
	DTE int `json:"-"`

	Status      PositionStatus `json:"status"`
	ExitReason  ExitReason     `json:"exit_reason,omitempty"`
	ExitDate    *time.Time     `json:"exit_date"`
	RealizedPnL *float64       `json:"realized_pnl"`

	RollCount  int    `json:"roll_count"`
	RolledFrom string `json:"rolled_from,omitempty"`
}

// CalculateDTE returns whole days until expiration, truncated to UTC dates.
func (p *Position) CalculateDTE() int {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	exp := p.Expiration.UTC().Truncate(24 * time.Hour)
	return int(exp.Sub(now).Hours() / 24)
}

// IsOpen reports whether the position is still live.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// IsTerminal reports whether the position has reached a one-way final state.
func (p *Position) IsTerminal() bool {
	return p.Status == StatusClosed || p.Status == StatusExpired
}

// Direction returns the directional bias of the position's strategy.
func (p *Position) Direction() Direction {
	return p.Strategy.Direction()
}

// MaxProfit is the total credit collected in dollars.
func (p *Position) MaxProfit() float64 {
	return p.EntryCredit * float64(p.Quantity) * ContractMultiplier
}

// Close transitions the position to a terminal status, stamping the exit
// reason, time, and realized P&L. Closing an already-terminal position is a
// no-op and returns false.
func (p *Position) Close(reason ExitReason, realizedPnL float64, at time.Time) bool {
	if p.IsTerminal() {
		return false
	}
	if reason == ExitExpired {
		p.Status = StatusExpired
	} else {
		p.Status = StatusClosed
	}
	p.ExitReason = reason
	t := at
	p.ExitDate = &t
	pnl := realizedPnL
	p.RealizedPnL = &pnl
	return true
}

// Validate checks structural invariants of the position record.
func (p *Position) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position id is required")
	}
	if p.Symbol == "" {
		return fmt.Errorf("position %s: symbol is required", p.ID)
	}
	switch p.Strategy {
	case StrategyBullPut, StrategyBearCall, StrategyIronCondor:
	default:
		return fmt.Errorf("position %s: unknown strategy %q", p.ID, p.Strategy)
	}
	if want := p.Strategy.LegCount(); len(p.Legs) != 0 && len(p.Legs) != want {
		return fmt.Errorf("position %s: %s requires %d legs, got %d",
			p.ID, p.Strategy, want, len(p.Legs))
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity must be > 0", p.ID)
	}
	if p.EntryCredit <= 0 {
		return fmt.Errorf("position %s: entry credit must be > 0", p.ID)
	}
	if p.Strategy == StrategyIronCondor {
		if p.CallShortStrike == nil || p.CallLongStrike == nil {
			return fmt.Errorf("position %s: iron condor requires call-side strikes", p.ID)
		}
	}
	if p.IsTerminal() && p.ExitReason == "" {
		return fmt.Errorf("position %s: terminal status without exit reason", p.ID)
	}
	return nil
}

// Package rolling decides whether a threatened position should be rolled to
// new strikes and a later expiration instead of closed at a loss.
package rolling

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
)

// Reason explains why a position is a roll candidate.
type Reason string

const (
	// ReasonTested means price has approached the short strike.
	ReasonTested Reason = "TESTED"
	// ReasonLossLimit means unrealized loss crossed the loss threshold.
	ReasonLossLimit Reason = "LOSS_LIMIT"
	// ReasonDTEManagement means the position is near the exit floor while
	// under water.
	ReasonDTEManagement Reason = "DTE_MANAGEMENT"
)

// Urgency ranks how quickly a roll should be acted on.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Candidate is a suggested roll for one position. It is produced and consumed
// within a single evaluation and never persisted.
type Candidate struct {
	Position        models.Position
	Reason          Reason
	Urgency         Urgency
	ThreatenedRight models.OptionRight
	// DistanceToShort is the fraction of spot between price and the
	// threatened short strike. Negative once the strike is breached.
	DistanceToShort float64
	UnderlyingPrice float64

	NewShortStrike float64
	NewLongStrike  float64
	NewExpiration  time.Time

	// EstimatedCredit is the modeled net of closing the old spread and
	// opening the new one, credit positive. It is a heuristic and must be
	// confirmed against live quotes before any order is placed.
	EstimatedCredit float64
	BreakEven       float64
	MaxLoss         float64
}

// Engine evaluates roll candidates against the configured thresholds.
type Engine struct {
	cfg config.RollingConfig
	// dteFloor mirrors the hard DTE exit so under-water positions are
	// offered a roll before the calendar forces them out.
	dteFloor int
	logger   *logrus.Logger
}

// NewEngine creates a rolling engine. dteFloor is the DTE at which the
// lifecycle manager would force an exit.
func NewEngine(cfg config.RollingConfig, dteFloor int, logger *logrus.Logger) *Engine {
	return &Engine{cfg: cfg, dteFloor: dteFloor, logger: logger}
}

// Evaluate produces a roll candidate for the position, or nil when no roll
// reason applies. strikes is the available strike ladder for the threatened
// right, expirations the venue's listed expirations.
func (e *Engine) Evaluate(pos models.Position, price float64, expirations []time.Time, strikes []float64) *Candidate {
	if pos.RollCount >= e.cfg.MaxRolls {
		return nil
	}
	dte := pos.CalculateDTE()
	if dte < e.cfg.MinDTEToRoll {
		return nil
	}
	if price <= 0 {
		return nil
	}

	right, distance := e.threatenedSide(pos, price)

	cand := &Candidate{
		Position:        pos,
		ThreatenedRight: right,
		DistanceToShort: distance,
		UnderlyingPrice: price,
	}
	switch {
	case distance < e.cfg.TestedThreshold:
		cand.Reason = ReasonTested
		cand.Urgency = UrgencyMedium
		if distance < e.cfg.HighUrgencyThreshold {
			cand.Urgency = UrgencyHigh
		}
	case pos.CurrentPnLPct <= -e.cfg.LossThresholdPct*100:
		cand.Reason = ReasonLossLimit
		cand.Urgency = UrgencyMedium
	case dte <= e.dteFloor && pos.CurrentPnL < 0:
		cand.Reason = ReasonDTEManagement
		cand.Urgency = UrgencyMedium
	default:
		return nil
	}

	newExp, ok := e.rollOutExpiration(pos.Expiration, expirations)
	if !ok {
		e.logger.WithFields(logrus.Fields{
			"position_id": pos.ID,
			"expiration":  pos.Expiration.Format("2006-01-02"),
		}).Debug("no later expiration available to roll into")
		return nil
	}
	cand.NewExpiration = newExp

	shortStrike, longStrike := e.rollStrikes(pos, cand.Reason, right, strikes)
	cand.NewShortStrike = shortStrike
	cand.NewLongStrike = longStrike

	e.estimateEconomics(cand)
	return cand
}

// threatenedSide picks the short strike closest to price, as a fraction of
// spot. Iron condors are checked on both wings.
func (e *Engine) threatenedSide(pos models.Position, price float64) (models.OptionRight, float64) {
	primary := models.RightPut
	if pos.Strategy == models.StrategyBearCall {
		primary = models.RightCall
	}
	distance := strikeDistance(price, pos.ShortStrike, primary)

	if pos.Strategy == models.StrategyIronCondor && pos.CallShortStrike != nil {
		callDist := strikeDistance(price, *pos.CallShortStrike, models.RightCall)
		if callDist < distance {
			return models.RightCall, callDist
		}
	}
	return primary, distance
}

func strikeDistance(price, strike float64, right models.OptionRight) float64 {
	if right == models.RightPut {
		return (price - strike) / price
	}
	return (strike - price) / price
}

// rollOutExpiration returns the listed expiration closest to the current one
// plus the configured weeks out, restricted to strictly later dates.
func (e *Engine) rollOutExpiration(current time.Time, expirations []time.Time) (time.Time, bool) {
	target := current.AddDate(0, 0, 7*e.cfg.RollOutWeeks)

	var best time.Time
	bestGap := math.MaxFloat64
	for _, exp := range expirations {
		if !exp.After(current) {
			continue
		}
		if gap := math.Abs(exp.Sub(target).Hours()); gap < bestGap {
			bestGap = gap
			best = exp
		}
	}
	return best, bestGap != math.MaxFloat64
}

// rollStrikes walks the strike ladder away from price for tested positions
// and keeps strikes fixed otherwise. Width is preserved.
func (e *Engine) rollStrikes(pos models.Position, reason Reason, right models.OptionRight, strikes []float64) (float64, float64) {
	shortStrike := pos.ShortStrike
	width := math.Abs(pos.ShortStrike - pos.LongStrike)
	if pos.Strategy == models.StrategyIronCondor && right == models.RightCall && pos.CallShortStrike != nil {
		shortStrike = *pos.CallShortStrike
		if pos.CallLongStrike != nil {
			width = math.Abs(*pos.CallLongStrike - *pos.CallShortStrike)
		}
	}

	if reason == ReasonTested && len(strikes) > 0 {
		ladder := append([]float64(nil), strikes...)
		sort.Float64s(ladder)
		if right == models.RightPut {
			// Walk down, away from price.
			idx := sort.SearchFloat64s(ladder, shortStrike) - e.cfg.StrikeIncrements
			if idx < 0 {
				idx = 0
			}
			if ladder[idx] < shortStrike {
				shortStrike = ladder[idx]
			}
		} else {
			// Walk up, away from price.
			idx := sort.SearchFloat64s(ladder, shortStrike) + e.cfg.StrikeIncrements
			if idx > len(ladder)-1 {
				idx = len(ladder) - 1
			}
			if ladder[idx] > shortStrike {
				shortStrike = ladder[idx]
			}
		}
	}

	if right == models.RightPut {
		return shortStrike, shortStrike - width
	}
	return shortStrike, shortStrike + width
}

// estimateEconomics models the roll as buy-back at current value plus a new
// spread priced from extra time value and strike distance. Tuning constants
// come from configuration, not derivation.
func (e *Engine) estimateEconomics(cand *Candidate) {
	pos := cand.Position
	closeCost := pos.CurrentValue

	oldShort := pos.ShortStrike
	if cand.ThreatenedRight == models.RightCall && pos.Strategy == models.StrategyIronCondor && pos.CallShortStrike != nil {
		oldShort = *pos.CallShortStrike
	}
	// Signed: moving the short strike away from price gives up premium, so a
	// defensive roll reduces the estimate.
	strikeChange := cand.NewShortStrike - oldShort
	if cand.ThreatenedRight == models.RightCall {
		strikeChange = -strikeChange
	}

	newCredit := closeCost*e.cfg.TimeValueFactor + strikeChange*e.cfg.StrikeCreditPerPoint
	cand.EstimatedCredit = newCredit - closeCost

	totalCredit := pos.EntryCredit + cand.EstimatedCredit
	if cand.ThreatenedRight == models.RightPut {
		cand.BreakEven = cand.NewShortStrike - totalCredit
	} else {
		cand.BreakEven = cand.NewShortStrike + totalCredit
	}
	width := math.Abs(cand.NewShortStrike - cand.NewLongStrike)
	cand.MaxLoss = (width - totalCredit) * float64(pos.Quantity) * models.ContractMultiplier
}

// Decide accepts or rejects a candidate. Estimated pricing is only used for
// screening; execution re-quotes against the live chain.
func (e *Engine) Decide(cand *Candidate) (bool, string) {
	if cand == nil {
		return false, "no roll candidate"
	}

	if cand.EstimatedCredit < 0 {
		maxDebit := e.cfg.MaxDebitPct * cand.Position.EntryCredit
		if -cand.EstimatedCredit > maxDebit {
			return false, fmt.Sprintf("estimated debit %.2f exceeds %.2f (%.0f%% of entry credit)",
				-cand.EstimatedCredit, maxDebit, e.cfg.MaxDebitPct*100)
		}
	}

	if strikeDistance(cand.UnderlyingPrice, cand.NewShortStrike, cand.ThreatenedRight) < e.cfg.TestedThreshold {
		return false, fmt.Sprintf("new short strike %.2f still within %.1f%% of price %.2f",
			cand.NewShortStrike, e.cfg.TestedThreshold*100, cand.UnderlyingPrice)
	}

	switch cand.Urgency {
	case UrgencyHigh:
		return true, "high urgency, roll immediately"
	case UrgencyMedium:
		if cand.EstimatedCredit >= e.cfg.MinRollCredit {
			return true, fmt.Sprintf("estimated credit %.2f meets minimum %.2f",
				cand.EstimatedCredit, e.cfg.MinRollCredit)
		}
		if e.cfg.DebitRollsAllowed() {
			return true, "debit roll permitted by configuration"
		}
		return false, fmt.Sprintf("estimated credit %.2f below minimum %.2f and debit rolls disabled",
			cand.EstimatedCredit, e.cfg.MinRollCredit)
	default:
		return false, "low urgency, monitor instead of rolling"
	}
}

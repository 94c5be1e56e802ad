// Package spread constructs candidate credit spreads and iron condors from a
// live option chain.
package spread

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
	"github.com/dmarquardt/condorkeeper/internal/util"
)

// Spread is a fully priced candidate ready for liquidity checks and
// execution. Credit is the net mid per spread per share, rounded to the
// configured tick.
type Spread struct {
	Symbol     string
	Strategy   models.StrategyType
	Expiration time.Time
	DTE        int

	Legs []models.Leg

	// Primary vertical: put side for bull puts and condors, call side for
	// bear calls.
	ShortStrike float64
	LongStrike  float64

	// Call side of an iron condor; nil otherwise.
	CallShortStrike *float64
	CallLongStrike  *float64

	Credit     float64
	Width      float64
	MaxLoss    float64
	RiskReward float64
	ProbOTM    float64

	CreatedAt time.Time
}

// OrderLegs expands the spread into venue order legs for an opening combo.
func (s *Spread) OrderLegs() []broker.OrderLeg {
	exp := s.Expiration.Format("2006-01-02")
	legs := make([]broker.OrderLeg, 0, len(s.Legs))
	for _, leg := range s.Legs {
		action := broker.ActionBuyToOpen
		if leg.Side == models.SideShort {
			action = broker.ActionSellToOpen
		}
		right := broker.OptionTypePut
		if leg.Right == models.RightCall {
			right = broker.OptionTypeCall
		}
		legs = append(legs, broker.OrderLeg{
			Strike:     leg.Strike,
			Type:       right,
			Expiration: exp,
			Action:     action,
			Ratio:      1,
		})
	}
	return legs
}

// Builder selects strikes by delta and prices spreads off chain mids.
type Builder struct {
	cfg    config.SpreadConfig
	market broker.Broker
	logger *logrus.Logger
}

// NewBuilder creates a spread builder.
func NewBuilder(cfg config.SpreadConfig, market broker.Broker, logger *logrus.Logger) *Builder {
	return &Builder{cfg: cfg, market: market, logger: logger}
}

// Build constructs the requested strategy for the symbol, or returns an error
// explaining why no acceptable spread exists right now.
func (b *Builder) Build(ctx context.Context, symbol string, strategy models.StrategyType, price float64) (*Spread, error) {
	expiration, dte, err := b.pickExpiration(ctx, symbol)
	if err != nil {
		return nil, err
	}

	chain, err := b.market.GetOptionChain(ctx, symbol, expiration.Format("2006-01-02"), true)
	if err != nil {
		return nil, fmt.Errorf("%w: chain for %s: %v", broker.ErrDataUnavailable, symbol, err)
	}

	switch strategy {
	case models.StrategyBullPut:
		return b.buildVertical(symbol, strategy, expiration, dte, chain)
	case models.StrategyBearCall:
		return b.buildVertical(symbol, strategy, expiration, dte, chain)
	case models.StrategyIronCondor:
		return b.buildIronCondor(symbol, expiration, dte, chain)
	default:
		return nil, fmt.Errorf("unsupported strategy %q", strategy)
	}
}

// pickExpiration returns the listed expiration inside the DTE window closest
// to the target DTE.
func (b *Builder) pickExpiration(ctx context.Context, symbol string) (time.Time, int, error) {
	listed, err := b.market.GetExpirations(ctx, symbol)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("%w: expirations for %s: %v", broker.ErrDataUnavailable, symbol, err)
	}

	now := time.Now().UTC()
	var best time.Time
	bestDTE := 0
	bestGap := math.MaxInt
	for _, raw := range listed {
		exp, err := time.Parse("2006-01-02", raw)
		if err != nil {
			continue
		}
		dte := broker.DaysBetween(now, exp)
		if dte < b.cfg.MinDTE || dte > b.cfg.MaxDTE {
			continue
		}
		if gap := abs(dte - b.cfg.TargetDTE); gap < bestGap {
			bestGap = gap
			best = exp
			bestDTE = dte
		}
	}
	if bestGap == math.MaxInt {
		return time.Time{}, 0, fmt.Errorf("no expiration for %s within %d-%d DTE",
			symbol, b.cfg.MinDTE, b.cfg.MaxDTE)
	}
	return best, bestDTE, nil
}

func (b *Builder) buildVertical(symbol string, strategy models.StrategyType, expiration time.Time, dte int, chain []broker.OptionQuote) (*Spread, error) {
	right := broker.OptionTypePut
	modelRight := models.RightPut
	if strategy == models.StrategyBearCall {
		right = broker.OptionTypeCall
		modelRight = models.RightCall
	}

	short := b.findByDelta(chain, right)
	if short == nil {
		return nil, fmt.Errorf("%s: no %s strike within delta %.2f-%.2f",
			symbol, right, b.cfg.DeltaMin, b.cfg.DeltaMax)
	}

	longStrike := short.Strike - b.cfg.Width
	if right == broker.OptionTypeCall {
		longStrike = short.Strike + b.cfg.Width
	}
	long := broker.GetOptionByStrike(chain, longStrike, right)
	if long == nil {
		return nil, fmt.Errorf("%s: protective %s strike %.2f not listed", symbol, right, longStrike)
	}

	credit := util.RoundToTick(short.Mid()-long.Mid(), b.cfg.TickSize)
	if err := b.checkVerticalCredit(symbol, credit, b.cfg.Width); err != nil {
		return nil, err
	}

	probOTM := 1 - math.Abs(short.Greeks.Delta)
	if probOTM < b.cfg.MinProbOTM {
		return nil, fmt.Errorf("%s: probability OTM %.2f below minimum %.2f",
			symbol, probOTM, b.cfg.MinProbOTM)
	}

	maxLoss := b.cfg.Width - credit
	s := &Spread{
		Symbol:      symbol,
		Strategy:    strategy,
		Expiration:  expiration,
		DTE:         dte,
		Legs:        verticalLegs(short, long, modelRight),
		ShortStrike: short.Strike,
		LongStrike:  long.Strike,
		Credit:      credit,
		Width:       b.cfg.Width,
		MaxLoss:     maxLoss,
		ProbOTM:     probOTM,
		CreatedAt:   time.Now().UTC(),
	}
	if maxLoss > 0 {
		s.RiskReward = credit / maxLoss
	}

	b.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"strategy":     strategy,
		"expiration":   expiration.Format("2006-01-02"),
		"short_strike": short.Strike,
		"long_strike":  long.Strike,
		"credit":       credit,
	}).Info("spread candidate built")
	return s, nil
}

func (b *Builder) buildIronCondor(symbol string, expiration time.Time, dte int, chain []broker.OptionQuote) (*Spread, error) {
	putShort := b.findByDelta(chain, broker.OptionTypePut)
	callShort := b.findByDelta(chain, broker.OptionTypeCall)
	if putShort == nil || callShort == nil {
		return nil, fmt.Errorf("%s: no strikes within delta %.2f-%.2f on both sides",
			symbol, b.cfg.DeltaMin, b.cfg.DeltaMax)
	}

	putLong := broker.GetOptionByStrike(chain, putShort.Strike-b.cfg.Width, broker.OptionTypePut)
	callLong := broker.GetOptionByStrike(chain, callShort.Strike+b.cfg.Width, broker.OptionTypeCall)
	if putLong == nil || callLong == nil {
		return nil, fmt.Errorf("%s: protective strikes not listed", symbol)
	}

	putCredit := putShort.Mid() - putLong.Mid()
	callCredit := callShort.Mid() - callLong.Mid()
	credit := util.RoundToTick(putCredit+callCredit, b.cfg.TickSize)

	// Condors collect from both wings, so the bar is higher.
	if minCredit := b.cfg.MinCredit * 1.5; credit < minCredit {
		return nil, fmt.Errorf("%s: condor credit %.2f below minimum %.2f", symbol, credit, minCredit)
	}

	// Only one wing can lose at expiration.
	maxLoss := b.cfg.Width - credit
	probOTM := (1 - math.Abs(putShort.Greeks.Delta)) * (1 - math.Abs(callShort.Greeks.Delta))

	callShortStrike := callShort.Strike
	callLongStrike := callLong.Strike
	legs := verticalLegs(putShort, putLong, models.RightPut)
	legs = append(legs, verticalLegs(callShort, callLong, models.RightCall)...)

	s := &Spread{
		Symbol:          symbol,
		Strategy:        models.StrategyIronCondor,
		Expiration:      expiration,
		DTE:             dte,
		Legs:            legs,
		ShortStrike:     putShort.Strike,
		LongStrike:      putLong.Strike,
		CallShortStrike: &callShortStrike,
		CallLongStrike:  &callLongStrike,
		Credit:          credit,
		Width:           b.cfg.Width,
		MaxLoss:         maxLoss,
		ProbOTM:         probOTM,
		CreatedAt:       time.Now().UTC(),
	}
	if maxLoss > 0 {
		s.RiskReward = credit / maxLoss
	}

	b.logger.WithFields(logrus.Fields{
		"symbol":       symbol,
		"strategy":     models.StrategyIronCondor,
		"expiration":   expiration.Format("2006-01-02"),
		"put_short":    putShort.Strike,
		"call_short":   callShort.Strike,
		"total_credit": credit,
	}).Info("spread candidate built")
	return s, nil
}

func (b *Builder) checkVerticalCredit(symbol string, credit, width float64) error {
	if credit < b.cfg.MinCredit {
		return fmt.Errorf("%s: credit %.2f below minimum %.2f", symbol, credit, b.cfg.MinCredit)
	}
	if width > 0 && credit/width < b.cfg.MinCreditPct {
		return fmt.Errorf("%s: credit %.1f%% of width below minimum %.1f%%",
			symbol, credit/width*100, b.cfg.MinCreditPct*100)
	}
	return nil
}

// findByDelta returns the chain entry of the given right whose short delta is
// inside the configured band and closest to the target.
func (b *Builder) findByDelta(chain []broker.OptionQuote, right broker.OptionType) *broker.OptionQuote {
	var best *broker.OptionQuote
	bestDiff := math.MaxFloat64
	for i := range chain {
		opt := &chain[i]
		if opt.Type != right || opt.Greeks == nil {
			continue
		}
		delta := math.Abs(opt.Greeks.Delta)
		if delta < b.cfg.DeltaMin || delta > b.cfg.DeltaMax {
			continue
		}
		if diff := math.Abs(delta - b.cfg.TargetDelta); diff < bestDiff {
			bestDiff = diff
			best = opt
		}
	}
	return best
}

func verticalLegs(short, long *broker.OptionQuote, right models.OptionRight) []models.Leg {
	var shortDelta, longDelta float64
	if short.Greeks != nil {
		shortDelta = short.Greeks.Delta
	}
	if long.Greeks != nil {
		longDelta = long.Greeks.Delta
	}
	return []models.Leg{
		{Strike: short.Strike, Right: right, Side: models.SideShort,
			Delta: shortDelta, Bid: short.Bid, Ask: short.Ask, Mid: short.Mid()},
		{Strike: long.Strike, Right: right, Side: models.SideLong,
			Delta: longDelta, Bid: long.Bid, Ask: long.Ask, Mid: long.Mid()},
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

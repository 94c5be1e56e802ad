// Package liquidity gates candidate spreads on bid/ask quality, open
// interest and volume, per leg and for the net combo price.
package liquidity

import (
	"fmt"
	"math"
	"strings"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
)

// LegMetrics is the per-leg liquidity verdict with its measurements.
type LegMetrics struct {
	Symbol       string
	Strike       float64
	Bid          float64
	Ask          float64
	Mid          float64
	SpreadAbs    float64
	SpreadPct    float64
	Volume       int64
	OpenInterest int64
	Liquid       bool
	Reason       string
}

// ComboMetrics describes the net fill quality of a two-leg credit spread.
type ComboMetrics struct {
	// NaturalCredit is the conservative fill: short bid minus long ask.
	NaturalCredit float64
	// MidCredit is the fair-value fill: short mid minus long mid.
	MidCredit float64
	// ComboSpreadPct is (mid - natural) / mid; +Inf when mid is not positive.
	ComboSpreadPct float64
	// EstimatedFill is the midpoint between natural and mid credit.
	EstimatedFill float64
	Liquid        bool
	Reason        string
}

// Filter validates leg and combo liquidity against configured limits.
type Filter struct {
	cfg config.LiquidityConfig
}

// NewFilter creates a liquidity filter with the given limits.
func NewFilter(cfg config.LiquidityConfig) *Filter {
	return &Filter{cfg: cfg}
}

// limits returns the effective per-leg limits for a symbol, applying any
// per-underlying override.
func (f *Filter) limits(symbol string) (maxSpreadPct, maxSpreadAbs float64, minOI int) {
	maxSpreadPct = f.cfg.MaxSpreadPct
	maxSpreadAbs = f.cfg.MaxSpreadAbs
	minOI = f.cfg.MinOpenInterest
	if o, ok := f.cfg.Overrides[symbol]; ok {
		if o.MaxSpreadPct > 0 {
			maxSpreadPct = o.MaxSpreadPct
		}
		if o.MaxSpreadAbs > 0 {
			maxSpreadAbs = o.MaxSpreadAbs
		}
		if o.MinOpenInterest > 0 {
			minOI = o.MinOpenInterest
		}
	}
	return maxSpreadPct, maxSpreadAbs, minOI
}

// CheckLeg measures a single contract against the per-leg limits. Every
// failure carries the specific limit it tripped.
func (f *Filter) CheckLeg(symbol string, q *broker.OptionQuote) LegMetrics {
	m := LegMetrics{
		Symbol:       symbol,
		Strike:       q.Strike,
		Bid:          q.Bid,
		Ask:          q.Ask,
		Mid:          q.Mid(),
		Volume:       q.Volume,
		OpenInterest: q.OpenInterest,
	}
	maxSpreadPct, maxSpreadAbs, minOI := f.limits(symbol)

	if q.Bid <= 0 || q.Ask <= 0 {
		m.Reason = fmt.Sprintf("strike %.2f: no two-sided market (bid %.2f, ask %.2f)",
			q.Strike, q.Bid, q.Ask)
		return m
	}

	m.SpreadAbs = q.Ask - q.Bid
	if m.Mid > 0 {
		m.SpreadPct = m.SpreadAbs / m.Mid
	}

	var failures []string
	if m.SpreadPct > maxSpreadPct {
		failures = append(failures, fmt.Sprintf("spread %.1f%% exceeds %.1f%%",
			m.SpreadPct*100, maxSpreadPct*100))
	}
	if m.SpreadAbs > maxSpreadAbs {
		failures = append(failures, fmt.Sprintf("spread $%.2f exceeds $%.2f",
			m.SpreadAbs, maxSpreadAbs))
	}
	if m.OpenInterest < int64(minOI) {
		failures = append(failures, fmt.Sprintf("open interest %d below %d",
			m.OpenInterest, minOI))
	}
	if m.Volume < int64(f.cfg.MinVolume) {
		failures = append(failures, fmt.Sprintf("volume %d below %d",
			m.Volume, f.cfg.MinVolume))
	}
	if len(failures) > 0 {
		m.Reason = fmt.Sprintf("strike %.2f: %s", q.Strike, strings.Join(failures, "; "))
		return m
	}

	m.Liquid = true
	m.Reason = "liquid"
	return m
}

// CheckCombo validates the net fill of a short/long pair. It rejects
// immediately when either leg fails individually, then requires the combo
// spread to stay inside the combo-specific threshold.
func (f *Filter) CheckCombo(shortLeg, longLeg *broker.OptionQuote, symbol string) ComboMetrics {
	var m ComboMetrics

	if lm := f.CheckLeg(symbol, shortLeg); !lm.Liquid {
		m.Reason = "short leg illiquid: " + lm.Reason
		return m
	}
	if lm := f.CheckLeg(symbol, longLeg); !lm.Liquid {
		m.Reason = "long leg illiquid: " + lm.Reason
		return m
	}

	m.NaturalCredit = shortLeg.Bid - longLeg.Ask
	m.MidCredit = shortLeg.Mid() - longLeg.Mid()

	if m.MidCredit <= 0 {
		m.ComboSpreadPct = math.Inf(1)
		m.Reason = fmt.Sprintf("no mid credit (natural %.2f, mid %.2f)", m.NaturalCredit, m.MidCredit)
		return m
	}
	m.ComboSpreadPct = (m.MidCredit - m.NaturalCredit) / m.MidCredit
	m.EstimatedFill = (m.NaturalCredit + m.MidCredit) / 2

	if m.ComboSpreadPct > f.cfg.MaxComboSpreadPct {
		m.Reason = fmt.Sprintf("combo spread %.1f%% exceeds %.1f%%",
			m.ComboSpreadPct*100, f.cfg.MaxComboSpreadPct*100)
		return m
	}

	m.Liquid = true
	m.Reason = "liquid"
	return m
}

// CheckIronCondor validates both constituent verticals. The structure is
// liquid only when both sides are; the estimated credit is the sum.
func (f *Filter) CheckIronCondor(
	putShort, putLong, callShort, callLong *broker.OptionQuote, symbol string,
) ComboMetrics {
	putSide := f.CheckCombo(putShort, putLong, symbol)
	if !putSide.Liquid {
		putSide.Reason = "put side: " + putSide.Reason
		return putSide
	}
	callSide := f.CheckCombo(callShort, callLong, symbol)
	if !callSide.Liquid {
		callSide.Reason = "call side: " + callSide.Reason
		return callSide
	}

	return ComboMetrics{
		NaturalCredit:  putSide.NaturalCredit + callSide.NaturalCredit,
		MidCredit:      putSide.MidCredit + callSide.MidCredit,
		ComboSpreadPct: math.Max(putSide.ComboSpreadPct, callSide.ComboSpreadPct),
		EstimatedFill:  putSide.EstimatedFill + callSide.EstimatedFill,
		Liquid:         true,
		Reason:         "liquid",
	}
}

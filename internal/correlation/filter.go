// Package correlation enforces concentration limits across correlated
// underlyings before a new position is admitted.
package correlation

import (
	"fmt"
	"math"

	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
)

// defaultPairCorrelation is assumed for symbol pairs not covered by any
// group: weakly correlated, not independent.
const defaultPairCorrelation = 0.3

// crossAssetGroup is the broad-equity group with its own count limit
// independent of the per-group limit.
const crossAssetGroup = "CROSS_EQUITY"

// group maps a named basket to member symbols and their assumed pairwise
// correlation.
type group struct {
	members     []string
	correlation float64
}

// Static correlation table. Values are empirical long-run estimates for the
// ETF universe the engine trades.
var groups = map[string]group{
	"US_EQUITY_BROAD": {[]string{"SPY", "VOO", "IVV", "VTI", "ITOT"}, 0.99},
	"US_EQUITY_TECH":  {[]string{"QQQ", "XLK", "VGT", "FTEC"}, 0.95},
	"US_EQUITY_SMALL": {[]string{"IWM", "IJR", "VB", "SCHA"}, 0.95},
	crossAssetGroup:   {[]string{"SPY", "QQQ", "IWM"}, 0.85},
	"FINANCIALS":      {[]string{"XLF", "KRE", "KBE", "VFH"}, 0.90},
	"ENERGY":          {[]string{"XLE", "OIH", "VDE", "XOP"}, 0.90},
	"BONDS":           {[]string{"TLT", "IEF", "BND", "AGG"}, 0.95},
	"GOLD":            {[]string{"GLD", "IAU", "GDX", "GDXJ"}, 0.90},
}

// PositionExposure is the projection of an open position the filter needs.
type PositionExposure struct {
	Symbol    string
	Direction models.Direction
	Delta     float64
	Notional  float64
}

// ExposureFromPosition derives the filter's view of an open position. The
// notional risk of a credit spread is the width minus the credit collected.
func ExposureFromPosition(p *models.Position) PositionExposure {
	width := math.Abs(p.ShortStrike - p.LongStrike)
	return PositionExposure{
		Symbol:    p.Symbol,
		Direction: p.Direction(),
		Notional:  (width - p.EntryCredit) * float64(p.Quantity) * models.ContractMultiplier,
	}
}

// Filter decides whether correlation limits allow a new position.
type Filter struct {
	cfg config.CorrelationConfig
}

// NewFilter creates a correlation filter with the given limits.
func NewFilter(cfg config.CorrelationConfig) *Filter {
	return &Filter{cfg: cfg}
}

// GetCorrelation returns the assumed correlation between two symbols: 1.0 for
// a symbol with itself, the tightest shared group's coefficient if any, or
// the low default for unrelated pairs. Symmetric by construction.
func (f *Filter) GetCorrelation(a, b string) float64 {
	if a == b {
		return 1.0
	}
	best := 0.0
	found := false
	for _, g := range groups {
		if containsSymbol(g.members, a) && containsSymbol(g.members, b) {
			found = true
			best = math.Max(best, g.correlation)
		}
	}
	if !found {
		return defaultPairCorrelation
	}
	return best
}

// CanOpen checks whether a candidate symbol/direction passes concentration
// limits against the current open set. The reason string is specific and
// suitable for direct display.
func (f *Filter) CanOpen(symbol string, direction models.Direction, open []PositionExposure) (bool, string) {
	if len(open) == 0 {
		return true, "no open positions"
	}

	// Per-group count caps.
	for name, g := range groups {
		if !containsSymbol(g.members, symbol) {
			continue
		}
		count := 0
		for _, pos := range open {
			if containsSymbol(g.members, pos.Symbol) {
				count++
			}
		}
		if name == crossAssetGroup {
			if count >= f.cfg.MaxCrossAsset && !f.oppositeAll(direction, open, g.members) {
				return false, fmt.Sprintf(
					"group %s already holds %d positions (max %d)", name, count, f.cfg.MaxCrossAsset)
			}
			continue
		}
		if count >= f.cfg.MaxPerGroup {
			return false, fmt.Sprintf(
				"group %s already holds %d positions (max %d)", name, count, f.cfg.MaxPerGroup)
		}
	}

	// Pairwise high-correlation check for pairs outside every explicit
	// group; grouped pairs are governed by the count caps above.
	for _, pos := range open {
		if sharesGroup(symbol, pos.Symbol) {
			continue
		}
		corr := f.GetCorrelation(symbol, pos.Symbol)
		if corr < f.cfg.HighCorrelationThreshold {
			continue
		}
		if f.cfg.OppositeDirectionsAllowed() && opposite(direction, pos.Direction) {
			continue
		}
		return false, fmt.Sprintf(
			"correlation %.2f with open %s position meets threshold %.2f",
			corr, pos.Symbol, f.cfg.HighCorrelationThreshold)
	}

	return true, "within correlation limits"
}

// oppositeAll reports whether the candidate runs opposite to every open
// position inside the given member set, which exempts it from the
// cross-asset cap when the exception is enabled.
func (f *Filter) oppositeAll(direction models.Direction, open []PositionExposure, members []string) bool {
	if !f.cfg.OppositeDirectionsAllowed() {
		return false
	}
	any := false
	for _, pos := range open {
		if !containsSymbol(members, pos.Symbol) {
			continue
		}
		any = true
		if !opposite(direction, pos.Direction) {
			return false
		}
	}
	return any
}

// EffectiveExposure sums direction-signed notional per group for reporting.
// Bullish counts positive, bearish negative, neutral zero.
func (f *Filter) EffectiveExposure(open []PositionExposure) map[string]float64 {
	out := make(map[string]float64, len(groups))
	for name, g := range groups {
		sum := 0.0
		for _, pos := range open {
			if !containsSymbol(g.members, pos.Symbol) {
				continue
			}
			switch pos.Direction {
			case models.DirectionBullish:
				sum += pos.Notional
			case models.DirectionBearish:
				sum -= pos.Notional
			}
		}
		if sum != 0 {
			out[name] = sum
		}
	}
	return out
}

// DiversificationScore is 1 minus the average pairwise correlation of the
// open set. An empty book scores 1.0; a single position scores 0.5 by
// convention.
func (f *Filter) DiversificationScore(open []PositionExposure) float64 {
	switch len(open) {
	case 0:
		return 1.0
	case 1:
		return 0.5
	}
	sum, n := 0.0, 0
	for i := 0; i < len(open); i++ {
		for j := i + 1; j < len(open); j++ {
			sum += f.GetCorrelation(open[i].Symbol, open[j].Symbol)
			n++
		}
	}
	return 1.0 - sum/float64(n)
}

func opposite(a, b models.Direction) bool {
	return (a == models.DirectionBullish && b == models.DirectionBearish) ||
		(a == models.DirectionBearish && b == models.DirectionBullish)
}

func sharesGroup(a, b string) bool {
	for _, g := range groups {
		if containsSymbol(g.members, a) && containsSymbol(g.members, b) {
			return true
		}
	}
	return false
}

func containsSymbol(list []string, symbol string) bool {
	for _, s := range list {
		if s == symbol {
			return true
		}
	}
	return false
}

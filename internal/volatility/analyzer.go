// Package volatility classifies market conditions per underlying and emits a
// trade recommendation with a confidence score. The analyzer is a pure
// function of the snapshot and configuration; it holds no mutable state and
// is safe to call concurrently across symbols.
package volatility

import (
	"math"
	"time"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
)

// TermStructure classifies the volatility term structure.
type TermStructure string

const (
	TermContango      TermStructure = "contango"
	TermFlat          TermStructure = "flat"
	TermBackwardation TermStructure = "backwardation"
)

// SkewClass classifies 25-delta put/call skew.
type SkewClass string

const (
	SkewPutRich  SkewClass = "put_rich"
	SkewNeutral  SkewClass = "neutral"
	SkewCallRich SkewClass = "call_rich"
)

// Regime is the overall premium-selling regime.
type Regime string

const (
	RegimeRich    Regime = "rich"
	RegimeFair    Regime = "fair"
	RegimeCheap   Regime = "cheap"
	RegimeExtreme Regime = "extreme"
)

// Recommendation is the analyzer's verdict for the cycle.
type Recommendation string

const (
	RecSellPremium Recommendation = "sell_premium"
	RecBuyPremium  Recommendation = "buy_premium"
	RecNoTrade     Recommendation = "no_trade"
)

// neutralRank is returned for IV rank and percentile when history is too
// short to trust. Insufficient data is a policy, not an error.
const neutralRank = 50.0

// annualizationFactor converts daily log-return stddev to annualized vol.
const annualizationFactor = 252.0

// MarketSnapshot is the immutable per-symbol input to one analysis call.
// Implied volatilities are decimals (0.18 = 18%).
type MarketSnapshot struct {
	Symbol  string
	Price   float64
	History []broker.Bar

	CurrentIV float64
	IVHistory []float64

	// Volatility index proxies: near-term (VIX) and three-month (VIX3M),
	// quoted in index points.
	VolIndexNear float64
	VolIndexFar  float64

	PutIV25  float64
	CallIV25 float64

	PutVolume       int64
	CallVolume      int64
	TotalOI         int64
	AvgOptionVolume float64

	EarningsDate *time.Time
	AsOf         time.Time
}

// Analysis is the derived classification for one symbol, recreated each cycle
// and never persisted.
type Analysis struct {
	Symbol    string
	Timestamp time.Time

	IVRank       float64
	IVPercentile float64
	HV           float64
	IVHVRatio    float64

	TermStructure TermStructure
	TermSlope     float64

	ExpectedMovePct float64
	RealizedMovePct float64
	MoveRatio       float64

	// Skew is quoted in vol points: 25-delta put IV minus call IV, x100.
	Skew      float64
	SkewClass SkewClass

	PutCallRatio    float64
	VolumeVsAvg     float64
	UnusualActivity bool

	EarningsSoon bool

	Regime         Regime
	Recommendation Recommendation
	Strategy       models.StrategyType
	Confidence     float64
	Reasons        []string
}

// Analyzer classifies volatility and flow conditions.
type Analyzer struct {
	cfg  config.VolatilityConfig
	flow config.FlowConfig
}

// NewAnalyzer creates an analyzer with the given thresholds.
func NewAnalyzer(cfg config.VolatilityConfig, flow config.FlowConfig) *Analyzer {
	return &Analyzer{cfg: cfg, flow: flow}
}

// Analyze classifies the snapshot for a target DTE. Pure and deterministic.
func (a *Analyzer) Analyze(snap MarketSnapshot, dteTarget int) Analysis {
	out := Analysis{
		Symbol:    snap.Symbol,
		Timestamp: snap.AsOf,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}

	out.IVRank = a.ivRank(snap.CurrentIV, snap.IVHistory)
	out.IVPercentile = a.ivPercentile(snap.CurrentIV, snap.IVHistory)
	out.HV = a.historicalVol(snap.History)
	if out.HV > 0 {
		out.IVHVRatio = snap.CurrentIV / out.HV
	}

	out.TermSlope, out.TermStructure = a.termStructure(snap.VolIndexNear, snap.VolIndexFar)

	out.ExpectedMovePct = snap.CurrentIV * math.Sqrt(float64(dteTarget)/365.0)
	out.RealizedMovePct = a.realizedMove(snap.History)
	if out.RealizedMovePct > 0 {
		out.MoveRatio = out.ExpectedMovePct / out.RealizedMovePct
	}

	out.Skew = (snap.PutIV25 - snap.CallIV25) * 100
	out.SkewClass = a.classifySkew(out.Skew)

	a.analyzeFlow(snap, &out)
	out.EarningsSoon = earningsWithin(snap.EarningsDate, out.Timestamp, dteTarget)

	out.Regime = a.classifyRegime(snap.VolIndexNear, out.IVRank, out.IVHVRatio, out.TermStructure)
	a.recommend(&out)

	return out
}

// ivRank places current IV inside its historical min/max range, scaled to
// [0,100]. Short history yields the neutral default.
func (a *Analyzer) ivRank(current float64, history []float64) float64 {
	clean := cleanSeries(history)
	if len(clean) < a.cfg.MinIVHistory {
		return neutralRank
	}
	lo, hi := clean[0], clean[0]
	for _, v := range clean {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		return neutralRank
	}
	r := (current - lo) / (hi - lo) * 100
	return math.Max(0, math.Min(100, r))
}

// ivPercentile is the fraction of history strictly below current IV.
func (a *Analyzer) ivPercentile(current float64, history []float64) float64 {
	clean := cleanSeries(history)
	if len(clean) < a.cfg.MinIVHistory {
		return neutralRank
	}
	below := 0
	for _, v := range clean {
		if v < current {
			below++
		}
	}
	return float64(below) / float64(len(clean)) * 100
}

// historicalVol is the annualized stddev of daily log returns over the
// trailing window, falling back to the configured default when history is
// too short. The fallback exists for smoothing only and is documented as the
// single place fabricated data is tolerated.
func (a *Analyzer) historicalVol(bars []broker.Bar) float64 {
	window := a.cfg.HVWindow
	if len(bars) < window+1 {
		return a.cfg.HVFallback
	}
	tail := bars[len(bars)-(window+1):]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1].Close <= 0 || tail[i].Close <= 0 {
			return a.cfg.HVFallback
		}
		returns = append(returns, math.Log(tail[i].Close/tail[i-1].Close))
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance) * math.Sqrt(annualizationFactor)
}

func (a *Analyzer) termStructure(near, far float64) (float64, TermStructure) {
	if near <= 0 {
		return 0, TermFlat
	}
	slope := (far - near) / near
	switch {
	case slope > a.cfg.ContangoThreshold:
		return slope, TermContango
	case slope < a.cfg.BackwardationThreshold:
		return slope, TermBackwardation
	default:
		return slope, TermFlat
	}
}

// realizedMove is the high-low range over the trailing window normalized by
// the average close.
func (a *Analyzer) realizedMove(bars []broker.Bar) float64 {
	window := a.cfg.RealizedMoveWindow
	if len(bars) < window {
		return a.cfg.RealizedMoveFallback
	}
	tail := bars[len(bars)-window:]
	hi, lo, sum := tail[0].High, tail[0].Low, 0.0
	for _, b := range tail {
		hi = math.Max(hi, b.High)
		lo = math.Min(lo, b.Low)
		sum += b.Close
	}
	avg := sum / float64(len(tail))
	if avg <= 0 {
		return a.cfg.RealizedMoveFallback
	}
	return (hi - lo) / avg
}

func (a *Analyzer) classifySkew(skew float64) SkewClass {
	switch {
	case skew > a.cfg.SkewPutRich:
		return SkewPutRich
	case skew < -a.cfg.SkewPutRich:
		return SkewCallRich
	default:
		return SkewNeutral
	}
}

func (a *Analyzer) analyzeFlow(snap MarketSnapshot, out *Analysis) {
	if snap.CallVolume > 0 {
		out.PutCallRatio = float64(snap.PutVolume) / float64(snap.CallVolume)
	} else {
		out.PutCallRatio = 1.0
	}
	total := snap.PutVolume + snap.CallVolume
	if snap.AvgOptionVolume > 0 {
		out.VolumeVsAvg = float64(total) / snap.AvgOptionVolume
	} else {
		out.VolumeVsAvg = 1.0
	}
	out.UnusualActivity = out.VolumeVsAvg > a.flow.UnusualVolumeMult ||
		(snap.TotalOI > 0 && float64(total) > a.flow.VolOIUnusual*float64(snap.TotalOI))
}

func (a *Analyzer) classifyRegime(vix, ivRank, ivHV float64, term TermStructure) Regime {
	// Extreme always wins.
	if vix > a.cfg.VIXExtreme || ivRank > a.cfg.IVRankExtreme {
		return RegimeExtreme
	}
	richSignals := 0
	if ivRank > a.cfg.IVRankRich {
		richSignals++
	}
	if ivHV > a.cfg.IVHVRich {
		richSignals++
	}
	if term == TermBackwardation {
		richSignals++
	}
	if richSignals >= 2 {
		return RegimeRich
	}
	if ivRank < a.cfg.IVRankLow && ivHV < a.cfg.IVHVCheap {
		return RegimeCheap
	}
	return RegimeFair
}

// recommend applies first-match precedence: extreme, earnings, cheap, rich,
// fair, default.
func (a *Analyzer) recommend(out *Analysis) {
	switch {
	case out.Regime == RegimeExtreme:
		out.Recommendation = RecNoTrade
		out.Confidence = 0.9
		out.Reasons = append(out.Reasons, "extreme volatility regime, stand aside")

	case out.EarningsSoon:
		out.Recommendation = RecNoTrade
		out.Confidence = 0.8
		out.Reasons = append(out.Reasons, "earnings inside the trade window")

	case out.Regime == RegimeCheap:
		out.Recommendation = RecNoTrade
		out.Confidence = 0.7
		out.Reasons = append(out.Reasons, "premium too cheap to sell")

	case out.Regime == RegimeRich:
		out.Recommendation = RecSellPremium
		out.Strategy = a.strategyForSkew(out.SkewClass)
		conf := 0.6
		if out.MoveRatio > a.cfg.MoveRatioEdge {
			conf += 0.1
			out.Reasons = append(out.Reasons, "expected move well above realized")
		}
		if out.TermStructure == TermContango {
			conf += 0.05
			out.Reasons = append(out.Reasons, "contango term structure")
		}
		if out.SkewClass == SkewPutRich {
			conf += 0.05
			out.Reasons = append(out.Reasons, "put skew rich")
		}
		out.Confidence = math.Min(conf, 0.95)
		out.Reasons = append(out.Reasons, "rich premium regime")

	case out.Regime == RegimeFair && out.IVHVRatio > 1.0 && out.IVRank > a.midRankThreshold():
		out.Recommendation = RecSellPremium
		if out.SkewClass == SkewPutRich {
			out.Strategy = models.StrategyBullPut
			out.Confidence = 0.55
			out.Reasons = append(out.Reasons, "fair regime with rich put skew")
		} else {
			out.Strategy = models.StrategyIronCondor
			out.Confidence = 0.50
			out.Reasons = append(out.Reasons, "fair regime, modest edge")
		}

	case out.Regime == RegimeFair:
		out.Recommendation = RecNoTrade
		out.Confidence = 0.6
		out.Reasons = append(out.Reasons, "fair regime without edge")

	default:
		out.Recommendation = RecNoTrade
		out.Confidence = 0.5
	}
}

// midRankThreshold is the IV rank needed to sell in a fair regime, halfway
// between the low and rich thresholds (40 with defaults).
func (a *Analyzer) midRankThreshold() float64 {
	return (a.cfg.IVRankLow + a.cfg.IVRankRich) / 2
}

func (a *Analyzer) strategyForSkew(class SkewClass) models.StrategyType {
	switch class {
	case SkewPutRich:
		return models.StrategyBullPut
	case SkewCallRich:
		return models.StrategyBearCall
	default:
		return models.StrategyIronCondor
	}
}

func earningsWithin(earnings *time.Time, now time.Time, dte int) bool {
	if earnings == nil {
		return false
	}
	days := int(earnings.Sub(now).Hours() / 24)
	return days >= 0 && days <= dte
}

func cleanSeries(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

package volatility

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	var cfg config.Config
	require.NoError(t, cfg.Validate())
	return NewAnalyzer(cfg.Volatility, cfg.Flow)
}

// evenIVHistory returns n evenly spaced IV samples in [lo, hi].
func evenIVHistory(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*float64(i)/float64(n-1)
	}
	return out
}

func flatBars(n int, closePrice float64) []broker.Bar {
	bars := make([]broker.Bar, n)
	day := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = broker.Bar{
			Date:  day.AddDate(0, 0, i),
			Open:  closePrice,
			High:  closePrice * 1.002,
			Low:   closePrice * 0.998,
			Close: closePrice,
		}
	}
	return bars
}

func TestIVRankNeutralDefaultOnShortHistory(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.InDelta(t, 50.0, a.ivRank(0.30, evenIVHistory(0.10, 0.20, 19)), 1e-9)
	assert.InDelta(t, 50.0, a.ivRank(0.30, nil), 1e-9)
	assert.InDelta(t, 50.0, a.ivPercentile(0.30, evenIVHistory(0.10, 0.20, 19)), 1e-9)
}

func TestIVRankAgainstEvenHistory(t *testing.T) {
	a := newTestAnalyzer(t)
	// 21 evenly spaced samples in [0.15, 0.25]: enough history to trust.
	hist := evenIVHistory(0.15, 0.25, 21)

	assert.InDelta(t, 50.0, a.ivRank(0.20, hist), 0.5)
	assert.InDelta(t, 100.0, a.ivRank(0.25, hist), 1e-9)
	assert.InDelta(t, 0.0, a.ivRank(0.15, hist), 1e-9)

	// Out-of-range current IV clamps, never escapes [0,100].
	assert.InDelta(t, 100.0, a.ivRank(0.40, hist), 1e-9)
	assert.InDelta(t, 0.0, a.ivRank(0.05, hist), 1e-9)
}

func TestIVRankIgnoresInvalidSamples(t *testing.T) {
	a := newTestAnalyzer(t)
	hist := evenIVHistory(0.15, 0.25, 21)
	dirty := append([]float64{math.NaN(), math.Inf(1)}, hist...)
	assert.InDelta(t, a.ivRank(0.20, hist), a.ivRank(0.20, dirty), 1e-9)
}

func TestTermStructureClassification(t *testing.T) {
	a := newTestAnalyzer(t)

	slope, class := a.termStructure(18.0, 20.0)
	assert.Equal(t, TermContango, class)
	assert.InDelta(t, 0.111, slope, 0.001)

	slope, class = a.termStructure(25.0, 23.0)
	assert.Equal(t, TermBackwardation, class)
	assert.InDelta(t, -0.08, slope, 0.001)

	_, class = a.termStructure(20.0, 20.5)
	assert.Equal(t, TermFlat, class)

	_, class = a.termStructure(0, 20)
	assert.Equal(t, TermFlat, class, "missing near index degrades to flat")
}

func TestHistoricalVolFallback(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.InDelta(t, 0.20, a.historicalVol(flatBars(5, 100)), 1e-9)
}

func TestHistoricalVolFlatSeriesIsZero(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.InDelta(t, 0.0, a.historicalVol(flatBars(30, 100)), 1e-9)
}

func TestRealizedMove(t *testing.T) {
	a := newTestAnalyzer(t)
	bars := flatBars(20, 100)
	bars[5].High = 110
	bars[12].Low = 95
	// Range 15 over average close 100.
	assert.InDelta(t, 0.15, a.realizedMove(bars), 1e-3)

	assert.InDelta(t, 0.10, a.realizedMove(bars[:10]), 1e-9, "short history falls back")
}

func TestSkewClassification(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.Equal(t, SkewPutRich, a.classifySkew(3.5))
	assert.Equal(t, SkewNeutral, a.classifySkew(2.9))
	assert.Equal(t, SkewNeutral, a.classifySkew(-2.9))
	assert.Equal(t, SkewCallRich, a.classifySkew(-3.5))
}

func TestRegimeExtremeAlwaysWins(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.Equal(t, RegimeExtreme, a.classifyRegime(36.0, 10, 0.5, TermContango))
	assert.Equal(t, RegimeExtreme, a.classifyRegime(12.0, 85, 1.5, TermContango))
}

func TestRegimeRichNeedsTwoSignals(t *testing.T) {
	a := newTestAnalyzer(t)
	assert.Equal(t, RegimeRich, a.classifyRegime(20, 60, 1.3, TermFlat))
	assert.Equal(t, RegimeRich, a.classifyRegime(20, 40, 1.3, TermBackwardation))
	assert.Equal(t, RegimeFair, a.classifyRegime(20, 60, 1.0, TermFlat),
		"one rich signal alone is fair")
	assert.Equal(t, RegimeCheap, a.classifyRegime(20, 20, 0.8, TermFlat))
}

// wavyBars alternates closes around base so historical volatility is small
// but non-zero.
func wavyBars(n int, base, amp float64) []broker.Bar {
	bars := flatBars(n, base)
	for i := range bars {
		c := base * (1 - amp)
		if i%2 == 0 {
			c = base * (1 + amp)
		}
		bars[i].Close = c
		bars[i].High = c * 1.002
		bars[i].Low = c * 0.998
	}
	return bars
}

// richSnapshot yields IV rank 75 and IV/HV well above the rich threshold.
func richSnapshot() MarketSnapshot {
	return MarketSnapshot{
		Symbol:       "SPY",
		Price:        580,
		History:      wavyBars(30, 580, 0.005),
		CurrentIV:    0.25,
		IVHistory:    evenIVHistory(0.10, 0.30, 40),
		VolIndexNear: 18.0,
		VolIndexFar:  20.0,
		PutIV25:      0.27,
		CallIV25:     0.23,
		PutVolume:    120000,
		CallVolume:   100000,
		AsOf:         time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC),
	}
}

func TestAnalyzeRichRegimeSellsPremium(t *testing.T) {
	a := newTestAnalyzer(t)
	out := a.Analyze(richSnapshot(), 35)

	assert.Equal(t, RegimeRich, out.Regime)
	assert.Equal(t, RecSellPremium, out.Recommendation)
	assert.Equal(t, models.StrategyBullPut, out.Strategy, "put-rich skew sells the put side")
	assert.GreaterOrEqual(t, out.Confidence, 0.6)
	assert.LessOrEqual(t, out.Confidence, 0.95)
	assert.NotEmpty(t, out.Reasons)
}

func TestAnalyzeEarningsBlocksEntry(t *testing.T) {
	a := newTestAnalyzer(t)
	snap := richSnapshot()
	earnings := snap.AsOf.AddDate(0, 0, 10)
	snap.EarningsDate = &earnings

	out := a.Analyze(snap, 35)
	assert.Equal(t, RecNoTrade, out.Recommendation)
	assert.InDelta(t, 0.8, out.Confidence, 1e-9)

	// Earnings past the trade window do not block.
	farEarnings := snap.AsOf.AddDate(0, 0, 60)
	snap.EarningsDate = &farEarnings
	out = a.Analyze(snap, 35)
	assert.Equal(t, RecSellPremium, out.Recommendation)
}

func TestAnalyzeExtremeRegime(t *testing.T) {
	a := newTestAnalyzer(t)
	snap := richSnapshot()
	snap.VolIndexNear = 40.0
	snap.VolIndexFar = 36.0

	out := a.Analyze(snap, 35)
	assert.Equal(t, RegimeExtreme, out.Regime)
	assert.Equal(t, RecNoTrade, out.Recommendation)
	assert.InDelta(t, 0.9, out.Confidence, 1e-9)
}

func TestAnalyzeNeutralSkewPrefersIronCondor(t *testing.T) {
	a := newTestAnalyzer(t)
	snap := richSnapshot()
	snap.PutIV25 = 0.25
	snap.CallIV25 = 0.25

	out := a.Analyze(snap, 35)
	require.Equal(t, RecSellPremium, out.Recommendation)
	assert.Equal(t, models.StrategyIronCondor, out.Strategy)
}

func TestAnalyzeFlowMetrics(t *testing.T) {
	a := newTestAnalyzer(t)
	snap := richSnapshot()
	snap.PutVolume = 130000
	snap.CallVolume = 100000
	snap.AvgOptionVolume = 50000
	snap.TotalOI = 300000

	out := a.Analyze(snap, 35)
	assert.InDelta(t, 1.3, out.PutCallRatio, 1e-9)
	assert.InDelta(t, 4.6, out.VolumeVsAvg, 1e-9)
	assert.True(t, out.UnusualActivity)

	snap.CallVolume = 0
	out = a.Analyze(snap, 35)
	assert.InDelta(t, 1.0, out.PutCallRatio, 1e-9, "missing call volume degrades to neutral ratio")
}

func TestExpectedMoveScalesWithDTE(t *testing.T) {
	a := newTestAnalyzer(t)
	snap := richSnapshot()

	short := a.Analyze(snap, 10)
	long := a.Analyze(snap, 40)
	assert.InDelta(t, short.ExpectedMovePct*2, long.ExpectedMovePct, 1e-9,
		"expected move grows with sqrt of time")
}

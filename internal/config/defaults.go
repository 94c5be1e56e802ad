package config

// Default thresholds. These are empirical tuning values carried in
// configuration so operators can adjust them without a rebuild.
const (
	defaultIVRankRich    = 50.0
	defaultIVRankLow     = 30.0
	defaultIVRankExtreme = 80.0

	defaultIVHVRich  = 1.2
	defaultIVHVCheap = 0.9

	defaultVIXLow     = 15.0
	defaultVIXHigh    = 25.0
	defaultVIXExtreme = 35.0

	defaultContangoThreshold      = 0.05
	defaultBackwardationThreshold = -0.02

	defaultMoveRatioEdge = 1.3
	defaultSkewPutRich   = 3.0

	defaultHVWindow             = 20
	defaultHVFallback           = 0.20
	defaultRealizedMoveWindow   = 20
	defaultRealizedMoveFallback = 0.10
	defaultMinIVHistory         = 20
)

func (c *Config) applyDefaults() {
	if c.Environment.Mode == "" {
		c.Environment.Mode = "paper"
	}
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}
	if c.Broker.Provider == "" {
		c.Broker.Provider = "sandbox"
	}

	s := &c.Schedule
	if s.ScanInterval == "" {
		s.ScanInterval = "5m"
	}
	if s.MonitorInterval == "" {
		s.MonitorInterval = "1m"
	}
	if s.TradingStart == "" {
		s.TradingStart = "09:30"
	}
	if s.TradingEnd == "" {
		s.TradingEnd = "16:00"
	}
	if s.EntryStart == "" {
		s.EntryStart = "10:00"
	}
	if s.EntryEnd == "" {
		s.EntryEnd = "15:00"
	}

	v := &c.Volatility
	if v.IVRankRich == 0 {
		v.IVRankRich = defaultIVRankRich
	}
	if v.IVRankLow == 0 {
		v.IVRankLow = defaultIVRankLow
	}
	if v.IVRankExtreme == 0 {
		v.IVRankExtreme = defaultIVRankExtreme
	}
	if v.IVHVRich == 0 {
		v.IVHVRich = defaultIVHVRich
	}
	if v.IVHVCheap == 0 {
		v.IVHVCheap = defaultIVHVCheap
	}
	if v.VIXLow == 0 {
		v.VIXLow = defaultVIXLow
	}
	if v.VIXHigh == 0 {
		v.VIXHigh = defaultVIXHigh
	}
	if v.VIXExtreme == 0 {
		v.VIXExtreme = defaultVIXExtreme
	}
	if v.ContangoThreshold == 0 {
		v.ContangoThreshold = defaultContangoThreshold
	}
	if v.BackwardationThreshold == 0 {
		v.BackwardationThreshold = defaultBackwardationThreshold
	}
	if v.MoveRatioEdge == 0 {
		v.MoveRatioEdge = defaultMoveRatioEdge
	}
	if v.SkewPutRich == 0 {
		v.SkewPutRich = defaultSkewPutRich
	}
	if v.HVWindow == 0 {
		v.HVWindow = defaultHVWindow
	}
	if v.HVFallback == 0 {
		v.HVFallback = defaultHVFallback
	}
	if v.RealizedMoveWindow == 0 {
		v.RealizedMoveWindow = defaultRealizedMoveWindow
	}
	if v.RealizedMoveFallback == 0 {
		v.RealizedMoveFallback = defaultRealizedMoveFallback
	}
	if v.MinIVHistory == 0 {
		v.MinIVHistory = defaultMinIVHistory
	}

	f := &c.Flow
	if f.UnusualVolumeMult == 0 {
		f.UnusualVolumeMult = 2.0
	}
	if f.VolOIUnusual == 0 {
		f.VolOIUnusual = 0.5
	}
	if f.PCRBullish == 0 {
		f.PCRBullish = 0.7
	}
	if f.PCRBearish == 0 {
		f.PCRBearish = 1.3
	}

	sp := &c.Spread
	if len(sp.Underlyings) == 0 {
		sp.Underlyings = []string{"SPY", "QQQ", "IWM"}
	}
	if sp.TargetDelta == 0 {
		sp.TargetDelta = 0.20
	}
	if sp.DeltaMin == 0 {
		sp.DeltaMin = 0.12
	}
	if sp.DeltaMax == 0 {
		sp.DeltaMax = 0.30
	}
	if sp.Width == 0 {
		sp.Width = 5.0
	}
	if sp.MinDTE == 0 {
		sp.MinDTE = 25
	}
	if sp.TargetDTE == 0 {
		sp.TargetDTE = 35
	}
	if sp.MaxDTE == 0 {
		sp.MaxDTE = 50
	}
	if sp.MinCredit == 0 {
		sp.MinCredit = 0.50
	}
	if sp.MinCreditPct == 0 {
		sp.MinCreditPct = 0.10
	}
	if sp.MinProbOTM == 0 {
		sp.MinProbOTM = 0.70
	}
	if sp.TickSize == 0 {
		sp.TickSize = 0.01
	}

	r := &c.Risk
	if r.MaxRiskPerTrade == 0 {
		r.MaxRiskPerTrade = 500.0
	}
	if r.MaxPositions == 0 {
		r.MaxPositions = 5
	}
	if r.MaxPerUnderlying == 0 {
		r.MaxPerUnderlying = 2
	}
	if r.ProfitTargetPct == 0 {
		r.ProfitTargetPct = 0.50
	}
	if r.StopLossMultiplier == 0 {
		r.StopLossMultiplier = 2.0
	}
	if r.MinDTEExit == 0 {
		r.MinDTEExit = 21
	}
	if r.EarningsBufferDays == 0 {
		r.EarningsBufferDays = 7
	}

	co := &c.Correlation
	if co.MaxPerGroup == 0 {
		co.MaxPerGroup = 1
	}
	if co.MaxCrossAsset == 0 {
		co.MaxCrossAsset = 2
	}
	if co.HighCorrelationThreshold == 0 {
		co.HighCorrelationThreshold = 0.80
	}

	l := &c.Liquidity
	if l.MaxSpreadPct == 0 {
		l.MaxSpreadPct = 0.10
	}
	if l.MaxSpreadAbs == 0 {
		l.MaxSpreadAbs = 0.30
	}
	if l.MinOpenInterest == 0 {
		l.MinOpenInterest = 100
	}
	if l.MinVolume == 0 {
		l.MinVolume = 10
	}
	if l.MaxComboSpreadPct == 0 {
		l.MaxComboSpreadPct = 0.15
	}
	if l.Overrides == nil {
		l.Overrides = map[string]LiquidityOverride{
			"SPY": {MaxSpreadPct: 0.05, MaxSpreadAbs: 0.10, MinOpenInterest: 500},
			"QQQ": {MaxSpreadPct: 0.05, MaxSpreadAbs: 0.15, MinOpenInterest: 300},
			"IWM": {MaxSpreadPct: 0.08, MaxSpreadAbs: 0.20, MinOpenInterest: 200},
		}
	}

	g := &c.Greeks
	if g.MaxNetDelta == 0 {
		g.MaxNetDelta = 100.0
	}
	if g.MaxDeltaPerSymbol == 0 {
		g.MaxDeltaPerSymbol = 50.0
	}
	if g.MaxDeltaDollars == 0 {
		g.MaxDeltaDollars = 50000.0
	}
	if g.MaxNetVega == 0 {
		g.MaxNetVega = 500.0
	}
	if g.MaxNetGamma == 0 {
		g.MaxNetGamma = 50.0
	}
	if g.WarnFraction == 0 {
		g.WarnFraction = 0.75
	}

	ro := &c.Rolling
	if ro.TestedThreshold == 0 {
		ro.TestedThreshold = 0.02
	}
	if ro.HighUrgencyThreshold == 0 {
		ro.HighUrgencyThreshold = 0.01
	}
	if ro.LossThresholdPct == 0 {
		ro.LossThresholdPct = 1.0
	}
	if ro.MinDTEToRoll == 0 {
		ro.MinDTEToRoll = 7
	}
	if ro.RollOutWeeks == 0 {
		ro.RollOutWeeks = 2
	}
	if ro.StrikeIncrements == 0 {
		ro.StrikeIncrements = 1
	}
	if ro.MinRollCredit == 0 {
		ro.MinRollCredit = 0.10
	}
	if ro.MaxDebitPct == 0 {
		ro.MaxDebitPct = 0.25
	}
	if ro.MaxRolls == 0 {
		ro.MaxRolls = 2
	}
	if ro.TimeValueFactor == 0 {
		ro.TimeValueFactor = 1.2
	}
	if ro.StrikeCreditPerPoint == 0 {
		ro.StrikeCreditPerPoint = 0.05
	}

	if c.Notifications.Channel == "" {
		c.Notifications.Channel = "log"
	}
	if c.Dashboard.ListenAddr == "" && c.Dashboard.Enabled {
		c.Dashboard.ListenAddr = ":8080"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/positions.json"
	}
}

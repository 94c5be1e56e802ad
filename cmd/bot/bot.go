package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/correlation"
	"github.com/dmarquardt/condorkeeper/internal/greeks"
	"github.com/dmarquardt/condorkeeper/internal/lifecycle"
	"github.com/dmarquardt/condorkeeper/internal/liquidity"
	"github.com/dmarquardt/condorkeeper/internal/metrics"
	"github.com/dmarquardt/condorkeeper/internal/models"
	"github.com/dmarquardt/condorkeeper/internal/notify"
	"github.com/dmarquardt/condorkeeper/internal/orders"
	"github.com/dmarquardt/condorkeeper/internal/rolling"
	"github.com/dmarquardt/condorkeeper/internal/spread"
	"github.com/dmarquardt/condorkeeper/internal/storage"
	"github.com/dmarquardt/condorkeeper/internal/util"
	"github.com/dmarquardt/condorkeeper/internal/volatility"
)

// Bot wires the decision pipeline together and drives the two cooperative
// loops: the entry scan and the position monitor.
type Bot struct {
	cfg         *config.Config
	logger      *logrus.Logger
	market      broker.Broker
	store       storage.Interface
	lifecycle   *lifecycle.Manager
	analyzer    *volatility.Analyzer
	correlation *correlation.Filter
	liquidity   *liquidity.Filter
	greeks      *greeks.Aggregator
	builder     *spread.Builder
	roller      *rolling.Engine
	executor    *orders.Executor
	notifier    notify.Notifier

	lastRegime  map[string]volatility.Regime
	avgVolume   map[string]float64
	lastSummary time.Time
}

// restoreGreeks rebuilds the greek aggregate from persisted positions after a
// restart, using the entry-time leg deltas.
func (b *Bot) restoreGreeks(ctx context.Context) {
	for _, pos := range b.store.GetOpenPositions() {
		if len(pos.Legs) == 0 {
			continue
		}
		spot := pos.ShortStrike
		if q, err := b.market.GetQuote(ctx, pos.Symbol); err == nil {
			spot = q.Last
		}
		b.greeks.Upsert(pos.ID, pos.Symbol, legGreeks(pos.Legs), pos.Quantity,
			models.ContractMultiplier, spot)
	}
	metrics.OpenPositions.Set(float64(b.store.OpenPositionCount()))
}

func (b *Bot) scanLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.ScanInterval())
	defer ticker.Stop()

	b.scanCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.scanCycle(ctx)
		}
	}
}

func (b *Bot) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.MonitorInterval())
	defer ticker.Stop()

	b.monitorCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.monitorCycle(ctx)
		}
	}
}

func (b *Bot) scanCycle(ctx context.Context) {
	now := time.Now()
	if !b.cfg.IsWithinTradingHours(now) {
		b.logger.Debug("outside trading hours, skipping scan")
		return
	}
	if !b.cfg.IsWithinEntryWindow(now) {
		b.logger.Debug("outside entry window, skipping scan")
		return
	}

	for _, symbol := range b.cfg.Spread.Underlyings {
		if ctx.Err() != nil {
			return
		}
		b.scanSymbol(ctx, symbol)
	}
	metrics.ScanCycles.Inc()
}

// scanSymbol runs the admission pipeline for one underlying: analysis, then
// every gate in order, then execution. The first failed gate wins and is
// recorded with its reason.
func (b *Bot) scanSymbol(ctx context.Context, symbol string) {
	log := b.logger.WithField("symbol", symbol)

	if ok, reason := b.lifecycle.CanOpen(symbol); !ok {
		log.WithField("reason", reason).Debug("admission rejected by position limits")
		metrics.GateRejections.WithLabelValues("limits").Inc()
		return
	}

	snap, err := b.buildSnapshot(ctx, symbol)
	if err != nil {
		log.WithError(err).Warn("market data unavailable, skipping symbol")
		metrics.DataUnavailable.WithLabelValues(symbol).Inc()
		return
	}

	analysis := b.analyzer.Analyze(*snap, b.cfg.Spread.TargetDTE)
	b.noteRegime(symbol, analysis)

	// The analyzer flags earnings inside the trade window itself; the buffer
	// widens that window so a report just past expiration still blocks entry.
	if days, ok := daysUntil(snap.EarningsDate); ok &&
		days <= b.cfg.Spread.TargetDTE+b.cfg.Risk.EarningsBufferDays {
		log.WithField("days_to_earnings", days).Info("admission rejected by earnings buffer")
		metrics.GateRejections.WithLabelValues("earnings").Inc()
		return
	}

	if analysis.Recommendation != volatility.RecSellPremium {
		log.WithFields(logrus.Fields{
			"regime":         analysis.Regime,
			"recommendation": analysis.Recommendation,
			"reasons":        analysis.Reasons,
		}).Info("no entry signal")
		metrics.GateRejections.WithLabelValues("regime").Inc()
		return
	}

	direction := analysis.Strategy.Direction()
	if ok, reason := b.correlation.CanOpen(symbol, direction, b.openExposures()); !ok {
		log.WithField("reason", reason).Info("admission rejected by correlation")
		metrics.GateRejections.WithLabelValues("correlation").Inc()
		return
	}

	candidate, err := b.builder.Build(ctx, symbol, analysis.Strategy, snap.Price)
	if err != nil {
		log.WithError(err).Info("no buildable spread")
		metrics.GateRejections.WithLabelValues("spread").Inc()
		return
	}

	quantity, ok := b.sizePosition(candidate)
	if !ok {
		log.WithField("max_loss", candidate.MaxLoss).Info("admission rejected by risk budget")
		metrics.GateRejections.WithLabelValues("risk").Inc()
		return
	}

	deltaChange := netLegDelta(candidate.Legs) * float64(quantity) * models.ContractMultiplier
	if ok, reason := b.greeks.CanAdd(deltaChange, symbol); !ok {
		log.WithField("reason", reason).Info("admission rejected by greek limits")
		metrics.GateRejections.WithLabelValues("greeks").Inc()
		return
	}

	if ok, reason := b.checkLiquidity(ctx, candidate); !ok {
		log.WithField("reason", reason).Info("admission rejected by liquidity")
		metrics.GateRejections.WithLabelValues("liquidity").Inc()
		return
	}

	b.notifier.Notify(notify.EventTradeSignal, map[string]any{
		"symbol":     symbol,
		"strategy":   string(candidate.Strategy),
		"regime":     string(analysis.Regime),
		"confidence": analysis.Confidence,
		"expiration": candidate.Expiration.Format("2006-01-02"),
		"credit":     candidate.Credit,
		"max_loss":   candidate.MaxLoss,
		"prob_otm":   candidate.ProbOTM,
		"quantity":   quantity,
	})

	if !b.cfg.Environment.AutoExecute {
		log.Info("auto-execute disabled, signal alerted only")
		return
	}
	b.openPosition(ctx, candidate, quantity, snap.Price)
}

// sizePosition fits the contract count to the per-trade risk budget.
func (b *Bot) sizePosition(candidate *spread.Spread) (int, bool) {
	riskPerSpread := candidate.MaxLoss * models.ContractMultiplier
	if riskPerSpread <= 0 {
		return 0, false
	}
	quantity := int(b.cfg.Risk.MaxRiskPerTrade / riskPerSpread)
	if quantity < 1 {
		return 0, false
	}
	return quantity, true
}

// checkLiquidity re-reads live quotes for the candidate's legs so volume and
// open interest are checked against the venue, not the builder's snapshot.
func (b *Bot) checkLiquidity(ctx context.Context, candidate *spread.Spread) (bool, string) {
	chain, err := b.market.GetOptionChain(ctx, candidate.Symbol,
		candidate.Expiration.Format("2006-01-02"), false)
	if err != nil {
		return false, fmt.Sprintf("chain unavailable: %v", err)
	}

	primary := broker.OptionTypePut
	if candidate.Strategy == models.StrategyBearCall {
		primary = broker.OptionTypeCall
	}
	short := broker.GetOptionByStrike(chain, candidate.ShortStrike, primary)
	long := broker.GetOptionByStrike(chain, candidate.LongStrike, primary)
	if short == nil || long == nil {
		return false, "candidate strikes missing from live chain"
	}

	var combo liquidity.ComboMetrics
	if candidate.Strategy == models.StrategyIronCondor {
		callShort := broker.GetOptionByStrike(chain, *candidate.CallShortStrike, broker.OptionTypeCall)
		callLong := broker.GetOptionByStrike(chain, *candidate.CallLongStrike, broker.OptionTypeCall)
		if callShort == nil || callLong == nil {
			return false, "call-side strikes missing from live chain"
		}
		combo = b.liquidity.CheckIronCondor(short, long, callShort, callLong, candidate.Symbol)
	} else {
		combo = b.liquidity.CheckCombo(short, long, candidate.Symbol)
	}
	return combo.Liquid, combo.Reason
}

func (b *Bot) openPosition(ctx context.Context, candidate *spread.Spread, quantity int, spot float64) {
	log := b.logger.WithField("symbol", candidate.Symbol)

	fill, err := b.executor.Execute(ctx, broker.OrderRequest{
		Symbol:   candidate.Symbol,
		Legs:     candidate.OrderLegs(),
		Quantity: quantity,
		Limit:    candidate.Credit,
		Duration: "day",
		Tag:      "condorkeeper-entry",
	})
	if err != nil {
		log.WithError(err).Warn("entry order did not fill")
		return
	}

	entryCredit := fill.AvgPrice
	if entryCredit <= 0 {
		entryCredit = candidate.Credit
	}
	pos, err := b.lifecycle.Add(lifecycle.Fill{
		Symbol:          candidate.Symbol,
		Strategy:        candidate.Strategy,
		Expiration:      candidate.Expiration,
		Quantity:        quantity,
		EntryCredit:     entryCredit,
		ShortStrike:     candidate.ShortStrike,
		LongStrike:      candidate.LongStrike,
		CallShortStrike: candidate.CallShortStrike,
		CallLongStrike:  candidate.CallLongStrike,
		Legs:            candidate.Legs,
	})
	if err != nil {
		log.WithError(err).Error("recording filled position failed")
		return
	}

	b.greeks.Upsert(pos.ID, pos.Symbol, legGreeks(pos.Legs), pos.Quantity,
		models.ContractMultiplier, spot)
	metrics.PositionsOpened.Inc()
	metrics.OpenPositions.Set(float64(b.store.OpenPositionCount()))

	b.notifier.Notify(notify.EventPositionOpened, map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"strategy":    string(pos.Strategy),
		"credit":      pos.EntryCredit,
		"quantity":    pos.Quantity,
		"expiration":  pos.Expiration.Format("2006-01-02"),
	})
}

func (b *Bot) monitorCycle(ctx context.Context) {
	if !b.cfg.IsWithinTradingHours(time.Now()) {
		return
	}

	if err := b.lifecycle.RefreshValues(ctx); err != nil {
		b.logger.WithError(err).Warn("position refresh incomplete")
	}

	snap := b.greeks.Snapshot()
	metrics.NetDelta.Set(snap.NetDelta)
	metrics.NetTheta.Set(snap.NetTheta)
	metrics.OpenPositions.Set(float64(b.store.OpenPositionCount()))

	for _, breach := range b.greeks.CheckLimits() {
		entry := b.logger.WithFields(logrus.Fields{
			"metric": breach.Metric,
			"value":  breach.Value,
			"limit":  breach.Limit,
		})
		if breach.Level == greeks.LevelBreach {
			entry.Warn("greek limit breached")
			b.notifier.Notify(notify.EventError, map[string]any{
				"error": breach.Message,
			})
		} else {
			entry.Info("greek limit warning")
		}
	}

	for _, sig := range b.lifecycle.ExitSignals() {
		if ctx.Err() != nil {
			return
		}
		b.handleExitSignal(ctx, sig)
	}

	b.maybeSendSummary()
	metrics.MonitorCycles.Inc()
}

// handleExitSignal closes the position, except that loss-driven exits are
// first offered to the rolling engine.
func (b *Bot) handleExitSignal(ctx context.Context, sig lifecycle.ExitSignal) {
	log := b.logger.WithFields(logrus.Fields{
		"position_id": sig.Position.ID,
		"symbol":      sig.Position.Symbol,
		"reason":      sig.Reason,
	})
	log.WithField("detail", sig.Detail).Info("exit signal")

	if sig.Reason != models.ExitProfitTarget {
		if b.tryRoll(ctx, sig.Position) {
			return
		}
	}
	b.closePosition(ctx, sig.Position, sig.Reason)
}

func (b *Bot) closePosition(ctx context.Context, pos models.Position, reason models.ExitReason) {
	log := b.logger.WithField("position_id", pos.ID)

	if !b.cfg.Environment.AutoExecute {
		b.notifier.Notify(notify.EventPositionClosed, map[string]any{
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
			"reason":      string(reason),
			"alert_only":  true,
		})
		return
	}

	fill, err := b.executor.Execute(ctx, broker.OrderRequest{
		Symbol:   pos.Symbol,
		Legs:     closingLegs(&pos),
		Quantity: pos.Quantity,
		Limit:    -pos.CurrentValue,
		Duration: "day",
		Tag:      "condorkeeper-exit",
	})
	if err != nil {
		log.WithError(err).Warn("exit order did not fill, retrying next cycle")
		return
	}

	realized := (pos.EntryCredit + fill.AvgPrice) * float64(pos.Quantity) * models.ContractMultiplier
	if err := b.lifecycle.Close(pos.ID, reason, realized); err != nil {
		log.WithError(err).Error("closing position failed")
		return
	}

	b.greeks.Remove(pos.ID)
	metrics.PositionsClosed.WithLabelValues(string(reason)).Inc()
	metrics.OpenPositions.Set(float64(b.store.OpenPositionCount()))

	b.notifier.Notify(notify.EventPositionClosed, map[string]any{
		"position_id":  pos.ID,
		"symbol":       pos.Symbol,
		"reason":       string(reason),
		"realized_pnl": realized,
	})
}

// tryRoll asks the rolling engine whether the position should be rolled
// instead of closed, and executes the roll when accepted. Returns true when
// the roll path handled the position this cycle.
func (b *Bot) tryRoll(ctx context.Context, pos models.Position) bool {
	log := b.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
	})

	quote, err := b.market.GetQuote(ctx, pos.Symbol)
	if err != nil {
		log.WithError(err).Warn("quote unavailable for roll evaluation")
		return false
	}
	expirations, err := b.listedExpirations(ctx, pos.Symbol)
	if err != nil {
		log.WithError(err).Warn("expirations unavailable for roll evaluation")
		return false
	}
	strikes, err := b.strikeLadder(ctx, &pos)
	if err != nil {
		log.WithError(err).Warn("chain unavailable for roll evaluation")
		return false
	}

	cand := b.roller.Evaluate(pos, quote.Last, expirations, strikes)
	if cand == nil {
		return false
	}

	accepted, reason := b.roller.Decide(cand)
	b.notifier.Notify(notify.EventRollAlert, map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"roll_reason": string(cand.Reason),
		"urgency":     string(cand.Urgency),
		"new_short":   cand.NewShortStrike,
		"new_expiry":  cand.NewExpiration.Format("2006-01-02"),
		"est_credit":  cand.EstimatedCredit,
		"accepted":    accepted,
		"decision":    reason,
	})
	if !accepted {
		log.WithField("decision", reason).Info("roll rejected")
		return false
	}
	if !b.cfg.Environment.AutoExecute {
		log.Info("roll accepted, alert only")
		return true
	}
	// Rolling a condor means rebuilding both wings; close-and-reenter keeps
	// the order surface simple for the two-leg strategies and the condor
	// falls through to a normal exit.
	if pos.Strategy == models.StrategyIronCondor {
		log.Info("condor rolls are not executed, closing instead")
		return false
	}
	return b.executeRoll(ctx, pos, cand)
}

// executeRoll re-quotes the candidate against the live chain, closes the old
// spread and opens the replacement. The heuristic estimate never prices the
// orders.
func (b *Bot) executeRoll(ctx context.Context, pos models.Position, cand *rolling.Candidate) bool {
	log := b.logger.WithFields(logrus.Fields{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
	})

	closeCost, err := b.lifecycle.CostToClose(ctx, &pos)
	if err != nil {
		log.WithError(err).Warn("close quote unavailable, roll aborted")
		return false
	}

	newExp := cand.NewExpiration.Format("2006-01-02")
	chain, err := b.market.GetOptionChain(ctx, pos.Symbol, newExp, true)
	if err != nil {
		log.WithError(err).Warn("new-expiration chain unavailable, roll aborted")
		return false
	}
	right := broker.OptionTypePut
	if cand.ThreatenedRight == models.RightCall {
		right = broker.OptionTypeCall
	}
	newShort := broker.GetOptionByStrike(chain, cand.NewShortStrike, right)
	newLong := broker.GetOptionByStrike(chain, cand.NewLongStrike, right)
	if newShort == nil || newLong == nil {
		log.Warn("roll strikes not listed at new expiration, roll aborted")
		return false
	}

	newCredit := util.RoundToTick(newShort.Mid()-newLong.Mid(), b.cfg.Spread.TickSize)
	net := newCredit - closeCost
	if net < 0 && -net > b.cfg.Rolling.MaxDebitPct*pos.EntryCredit {
		log.WithFields(logrus.Fields{
			"net_debit": -net,
		}).Info("live quotes show excessive roll debit, closing instead")
		return false
	}

	// Leg one: buy back the old spread.
	closeFill, err := b.executor.Execute(ctx, broker.OrderRequest{
		Symbol:   pos.Symbol,
		Legs:     closingLegs(&pos),
		Quantity: pos.Quantity,
		Limit:    -closeCost,
		Duration: "day",
		Tag:      "condorkeeper-roll-close",
	})
	if err != nil {
		log.WithError(err).Warn("roll close order did not fill, roll aborted")
		return false
	}
	realized := (pos.EntryCredit + closeFill.AvgPrice) * float64(pos.Quantity) * models.ContractMultiplier
	if err := b.lifecycle.Close(pos.ID, models.ExitRolled, realized); err != nil {
		log.WithError(err).Error("closing rolled position failed")
		return false
	}
	b.greeks.Remove(pos.ID)
	metrics.PositionsClosed.WithLabelValues(string(models.ExitRolled)).Inc()

	// Leg two: open the replacement.
	modelRight := models.RightPut
	if right == broker.OptionTypeCall {
		modelRight = models.RightCall
	}
	openFill, err := b.executor.Execute(ctx, broker.OrderRequest{
		Symbol: pos.Symbol,
		Legs: []broker.OrderLeg{
			{Strike: cand.NewShortStrike, Type: right, Expiration: newExp,
				Action: broker.ActionSellToOpen, Ratio: 1},
			{Strike: cand.NewLongStrike, Type: right, Expiration: newExp,
				Action: broker.ActionBuyToOpen, Ratio: 1},
		},
		Quantity: pos.Quantity,
		Limit:    newCredit,
		Duration: "day",
		Tag:      "condorkeeper-roll-open",
	})
	if err != nil {
		// The old spread is already flat, so this is a missed re-entry, not
		// open risk.
		log.WithError(err).Error("roll open order did not fill, position closed without replacement")
		b.notifier.Notify(notify.EventError, map[string]any{
			"error":       "roll replacement order did not fill",
			"position_id": pos.ID,
			"symbol":      pos.Symbol,
		})
		return true
	}

	entryCredit := openFill.AvgPrice
	if entryCredit <= 0 {
		entryCredit = newCredit
	}
	newPos, err := b.lifecycle.Add(lifecycle.Fill{
		Symbol:      pos.Symbol,
		Strategy:    pos.Strategy,
		Expiration:  cand.NewExpiration,
		Quantity:    pos.Quantity,
		EntryCredit: entryCredit,
		ShortStrike: cand.NewShortStrike,
		LongStrike:  cand.NewLongStrike,
		Legs:        rollLegs(newShort, newLong, modelRight),
		RolledFrom:  pos.ID,
		RollCount:   pos.RollCount + 1,
	})
	if err != nil {
		log.WithError(err).Error("recording rolled position failed")
		return true
	}

	b.greeks.Upsert(newPos.ID, newPos.Symbol, legGreeks(newPos.Legs), newPos.Quantity,
		models.ContractMultiplier, cand.UnderlyingPrice)
	metrics.RollsExecuted.Inc()
	metrics.OpenPositions.Set(float64(b.store.OpenPositionCount()))

	log.WithFields(logrus.Fields{
		"new_position_id": newPos.ID,
		"new_short":       newPos.ShortStrike,
		"new_expiry":      newExp,
		"roll_count":      newPos.RollCount,
	}).Info("position rolled")
	return true
}

func (b *Bot) noteRegime(symbol string, analysis volatility.Analysis) {
	prev, seen := b.lastRegime[symbol]
	b.lastRegime[symbol] = analysis.Regime
	if seen && prev != analysis.Regime {
		b.notifier.Notify(notify.EventRegimeChange, map[string]any{
			"symbol": symbol,
			"from":   string(prev),
			"to":     string(analysis.Regime),
		})
	}
}

func (b *Bot) maybeSendSummary() {
	now := time.Now()
	if b.lastSummary.YearDay() == now.YearDay() && b.lastSummary.Year() == now.Year() {
		return
	}
	b.lastSummary = now

	stats := b.store.GetStatistics()
	b.notifier.Notify(notify.EventDailySummary,
		notify.Summary(b.store.OpenPositionCount(), stats.TotalPnL, stats.WinRate))
}

func (b *Bot) openExposures() []correlation.PositionExposure {
	open := b.store.GetOpenPositions()
	out := make([]correlation.PositionExposure, 0, len(open))
	for i := range open {
		out = append(out, correlation.ExposureFromPosition(&open[i]))
	}
	return out
}

func (b *Bot) listedExpirations(ctx context.Context, symbol string) ([]time.Time, error) {
	raw, err := b.market.GetExpirations(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(raw))
	for _, s := range raw {
		if exp, err := time.Parse("2006-01-02", s); err == nil {
			out = append(out, exp)
		}
	}
	return out, nil
}

// strikeLadder collects the distinct strikes listed at the position's current
// expiration, used by the rolling engine to walk away from price.
func (b *Bot) strikeLadder(ctx context.Context, pos *models.Position) ([]float64, error) {
	chain, err := b.market.GetOptionChain(ctx, pos.Symbol,
		pos.Expiration.Format("2006-01-02"), false)
	if err != nil {
		return nil, err
	}
	seen := make(map[float64]struct{}, len(chain))
	out := make([]float64, 0, len(chain))
	for i := range chain {
		if _, ok := seen[chain[i].Strike]; ok {
			continue
		}
		seen[chain[i].Strike] = struct{}{}
		out = append(out, chain[i].Strike)
	}
	return out, nil
}

// closingLegs reverses a position's structure into a buy-back combo.
func closingLegs(pos *models.Position) []broker.OrderLeg {
	exp := pos.Expiration.Format("2006-01-02")
	primary := broker.OptionTypePut
	if pos.Strategy == models.StrategyBearCall {
		primary = broker.OptionTypeCall
	}
	legs := []broker.OrderLeg{
		{Strike: pos.ShortStrike, Type: primary, Expiration: exp,
			Action: broker.ActionBuyToClose, Ratio: 1},
		{Strike: pos.LongStrike, Type: primary, Expiration: exp,
			Action: broker.ActionSellToClose, Ratio: 1},
	}
	if pos.Strategy == models.StrategyIronCondor && pos.CallShortStrike != nil && pos.CallLongStrike != nil {
		legs = append(legs,
			broker.OrderLeg{Strike: *pos.CallShortStrike, Type: broker.OptionTypeCall,
				Expiration: exp, Action: broker.ActionBuyToClose, Ratio: 1},
			broker.OrderLeg{Strike: *pos.CallLongStrike, Type: broker.OptionTypeCall,
				Expiration: exp, Action: broker.ActionSellToClose, Ratio: 1},
		)
	}
	return legs
}

// daysUntil returns whole days from now to a future date; ok is false when
// the date is nil or already past.
func daysUntil(t *time.Time) (int, bool) {
	if t == nil {
		return 0, false
	}
	days := int(time.Until(*t).Hours() / 24)
	if days < 0 {
		return 0, false
	}
	return days, true
}

// netLegDelta sums signed per-share leg deltas: short legs flip sign.
func netLegDelta(legs []models.Leg) float64 {
	net := 0.0
	for _, l := range legs {
		if l.Side == models.SideShort {
			net -= l.Delta
		} else {
			net += l.Delta
		}
	}
	return net
}

func legGreeks(legs []models.Leg) []greeks.LegGreeks {
	out := make([]greeks.LegGreeks, 0, len(legs))
	for _, l := range legs {
		out = append(out, greeks.LegGreeks{Side: l.Side, Delta: l.Delta})
	}
	return out
}

func rollLegs(short, long *broker.OptionQuote, right models.OptionRight) []models.Leg {
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

package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/dmarquardt/condorkeeper/internal/broker"
	"github.com/dmarquardt/condorkeeper/internal/volatility"
)

const (
	historyDays   = 60
	ivHistoryDays = 252
	// avgVolumeAlpha smooths the per-symbol option volume average across
	// scan cycles.
	avgVolumeAlpha = 0.1
)

// buildSnapshot assembles the per-symbol market picture for one analysis
// pass. Any missing input fails the whole snapshot; the symbol is skipped for
// the cycle rather than analyzed on partial data.
func (b *Bot) buildSnapshot(ctx context.Context, symbol string) (*volatility.MarketSnapshot, error) {
	quote, err := b.market.GetQuote(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}

	history, err := b.market.GetHistory(ctx, symbol, historyDays)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}

	ivHistory, err := b.market.GetIVHistory(ctx, symbol, ivHistoryDays)
	if err != nil {
		return nil, fmt.Errorf("iv history: %w", err)
	}

	surface, err := b.market.GetVolSurface(ctx)
	if err != nil {
		return nil, fmt.Errorf("vol surface: %w", err)
	}

	chain, err := b.analysisChain(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("option chain: %w", err)
	}

	snap := &volatility.MarketSnapshot{
		Symbol:       symbol,
		Price:        quote.Last,
		History:      history,
		IVHistory:    ivHistory,
		VolIndexNear: surface.Near,
		VolIndexFar:  surface.Far,
		AsOf:         time.Now().UTC(),
	}
	b.fillChainStats(snap, chain, quote.Last)

	// Earnings is advisory: an unknown date is treated as none scheduled.
	earnings, err := b.market.GetEarningsDate(ctx, symbol)
	if err != nil {
		b.logger.WithError(err).WithField("symbol", symbol).
			Debug("earnings date unavailable")
	} else {
		snap.EarningsDate = earnings
	}

	if b.avgVolume == nil {
		b.avgVolume = make(map[string]float64)
	}
	total := float64(snap.PutVolume + snap.CallVolume)
	if prev, ok := b.avgVolume[symbol]; ok {
		snap.AvgOptionVolume = prev
		b.avgVolume[symbol] = prev + avgVolumeAlpha*(total-prev)
	} else {
		b.avgVolume[symbol] = total
	}

	return snap, nil
}

// analysisChain fetches the greeks-bearing chain at the expiration closest to
// the entry target.
func (b *Bot) analysisChain(ctx context.Context, symbol string) ([]broker.OptionQuote, error) {
	raw, err := b.market.GetExpirations(ctx, symbol)
	if err != nil {
		return nil, err
	}

	target := b.cfg.Spread.TargetDTE
	now := time.Now()
	best := ""
	bestGap := math.MaxInt32
	for _, s := range raw {
		exp, err := time.Parse("2006-01-02", s)
		if err != nil {
			continue
		}
		dte := broker.DaysBetween(now, exp)
		if exp.Before(now) {
			continue
		}
		if gap := abs(dte - target); gap < bestGap {
			bestGap = gap
			best = s
		}
	}
	if best == "" {
		return nil, broker.ErrDataUnavailable
	}
	return b.market.GetOptionChain(ctx, symbol, best, true)
}

// fillChainStats derives the IV and flow fields from one chain: ATM implied
// vol, the 25-delta wing vols and the volume and open-interest aggregates.
func (b *Bot) fillChainStats(snap *volatility.MarketSnapshot, chain []broker.OptionQuote, price float64) {
	var (
		atm        *broker.OptionQuote
		atmGap     = math.MaxFloat64
		put25      *broker.OptionQuote
		put25Gap   = math.MaxFloat64
		call25     *broker.OptionQuote
		call25Gap  = math.MaxFloat64
		putVolume  int64
		callVolume int64
		totalOI    int64
	)

	for i := range chain {
		o := &chain[i]
		totalOI += o.OpenInterest
		if o.Type == broker.OptionTypePut {
			putVolume += o.Volume
		} else {
			callVolume += o.Volume
		}
		if o.Greeks == nil {
			continue
		}

		if gap := math.Abs(o.Strike - price); gap < atmGap && o.Type == broker.OptionTypePut {
			atmGap = gap
			atm = o
		}
		if o.Type == broker.OptionTypePut {
			if gap := math.Abs(math.Abs(o.Greeks.Delta) - 0.25); gap < put25Gap {
				put25Gap = gap
				put25 = o
			}
		} else {
			if gap := math.Abs(o.Greeks.Delta - 0.25); gap < call25Gap {
				call25Gap = gap
				call25 = o
			}
		}
	}

	if atm != nil {
		snap.CurrentIV = atm.Greeks.MidIV
	}
	if put25 != nil {
		snap.PutIV25 = put25.Greeks.MidIV
	}
	if call25 != nil {
		snap.CallIV25 = call25.Greeks.MidIV
	}
	snap.PutVolume = putVolume
	snap.CallVolume = callVolume
	snap.TotalOI = totalOI
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

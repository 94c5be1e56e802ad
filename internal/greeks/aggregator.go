// Package greeks maintains net portfolio Greeks across open positions and
// checks them against configured limits before and after admission.
package greeks

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dmarquardt/condorkeeper/internal/config"
	"github.com/dmarquardt/condorkeeper/internal/models"
)

// LegGreeks carries one leg's per-contract sensitivities as quoted by the
// venue, before short/long signing.
type LegGreeks struct {
	Side  models.LegSide
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// SymbolGreeks is the per-underlying slice of the portfolio snapshot.
type SymbolGreeks struct {
	Delta        float64
	Gamma        float64
	Theta        float64
	Vega         float64
	DeltaDollars float64
	Positions    int
}

// Snapshot is the fully recomputed portfolio view.
type Snapshot struct {
	NetDelta     float64
	NetGamma     float64
	NetTheta     float64
	NetVega      float64
	DeltaDollars float64
	PerSymbol    map[string]SymbolGreeks
	Positions    int
	AsOf         time.Time
}

// BreachLevel distinguishes hard limit violations from soft warnings.
type BreachLevel string

const (
	LevelBreach  BreachLevel = "breach"
	LevelWarning BreachLevel = "warning"
)

// Breach reports one limit check finding.
type Breach struct {
	Metric  string
	Level   BreachLevel
	Value   float64
	Limit   float64
	Message string
}

// entry keeps the raw inputs for one position so the snapshot can always be
// recomputed from scratch. Incremental running totals alone would drift
// after removals.
type entry struct {
	symbol     string
	legs       []LegGreeks
	quantity   int
	multiplier float64
	spot       float64
}

// Aggregator tracks per-position Greeks. It is one of the engine's few
// pieces of shared mutable state and serializes all access internally.
type Aggregator struct {
	mu      sync.Mutex
	cfg     config.GreeksConfig
	entries map[string]entry
}

// NewAggregator creates an empty aggregator with the given limits.
func NewAggregator(cfg config.GreeksConfig) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		entries: make(map[string]entry),
	}
}

// Upsert records or replaces a position's per-leg Greeks. spot is the
// underlying price used for dollar-equivalent delta.
func (a *Aggregator) Upsert(positionID, symbol string, legs []LegGreeks, quantity int, multiplier, spot float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[positionID] = entry{
		symbol:     symbol,
		legs:       append([]LegGreeks(nil), legs...),
		quantity:   quantity,
		multiplier: multiplier,
		spot:       spot,
	}
}

// Remove drops a position from the aggregate.
func (a *Aggregator) Remove(positionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, positionID)
}

// netGreeks signs and scales one entry: short legs are liabilities, long
// legs mitigating assets.
func (e *entry) netGreeks() (delta, gamma, theta, vega float64) {
	for _, l := range e.legs {
		sign := 1.0
		if l.Side == models.SideShort {
			sign = -1.0
		}
		delta += sign * l.Delta
		gamma += sign * l.Gamma
		theta += sign * l.Theta
		vega += sign * l.Vega
	}
	scale := float64(e.quantity) * e.multiplier
	return delta * scale, gamma * scale, theta * scale, vega * scale
}

// Snapshot recomputes the portfolio view from the current position set.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	snap := Snapshot{
		PerSymbol: make(map[string]SymbolGreeks),
		AsOf:      time.Now().UTC(),
	}
	for _, e := range a.entries {
		d, g, th, v := e.netGreeks()
		snap.NetDelta += d
		snap.NetGamma += g
		snap.NetTheta += th
		snap.NetVega += v
		snap.DeltaDollars += d * e.spot

		sym := snap.PerSymbol[e.symbol]
		sym.Delta += d
		sym.Gamma += g
		sym.Theta += th
		sym.Vega += v
		sym.DeltaDollars += d * e.spot
		sym.Positions++
		snap.PerSymbol[e.symbol] = sym
		snap.Positions++
	}
	return snap
}

// CanAdd answers the admission question: would projected net delta or
// projected per-symbol delta exceed limits if a position with this delta
// were added. Evaluated before execution, never after.
func (a *Aggregator) CanAdd(deltaChange float64, symbol string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	snap := a.snapshotLocked()
	projected := snap.NetDelta + deltaChange
	if math.Abs(projected) > a.cfg.MaxNetDelta {
		return false, fmt.Sprintf("projected net delta %.1f exceeds limit %.1f",
			projected, a.cfg.MaxNetDelta)
	}
	projectedSym := snap.PerSymbol[symbol].Delta + deltaChange
	if math.Abs(projectedSym) > a.cfg.MaxDeltaPerSymbol {
		return false, fmt.Sprintf("projected %s delta %.1f exceeds per-symbol limit %.1f",
			symbol, projectedSym, a.cfg.MaxDeltaPerSymbol)
	}
	return true, "within greek limits"
}

// CheckLimits recomputes the snapshot and reports every limit finding.
// Metrics above their limit are hard breaches; above the warn fraction of
// the limit, soft warnings. Net theta has a floor instead of a ceiling.
func (a *Aggregator) CheckLimits() []Breach {
	a.mu.Lock()
	snap := a.snapshotLocked()
	a.mu.Unlock()

	var out []Breach
	check := func(metric string, value, limit float64) {
		abs := math.Abs(value)
		switch {
		case abs > limit:
			out = append(out, Breach{
				Metric: metric, Level: LevelBreach, Value: value, Limit: limit,
				Message: fmt.Sprintf("%s %.1f exceeds limit %.1f", metric, value, limit),
			})
		case abs > limit*a.cfg.WarnFraction:
			out = append(out, Breach{
				Metric: metric, Level: LevelWarning, Value: value, Limit: limit,
				Message: fmt.Sprintf("%s %.1f above %.0f%% of limit %.1f",
					metric, value, a.cfg.WarnFraction*100, limit),
			})
		}
	}

	check("net_delta", snap.NetDelta, a.cfg.MaxNetDelta)
	check("delta_dollars", snap.DeltaDollars, a.cfg.MaxDeltaDollars)
	check("net_vega", snap.NetVega, a.cfg.MaxNetVega)
	check("net_gamma", snap.NetGamma, a.cfg.MaxNetGamma)

	if snap.NetTheta < a.cfg.MinNetTheta {
		out = append(out, Breach{
			Metric: "net_theta", Level: LevelBreach, Value: snap.NetTheta, Limit: a.cfg.MinNetTheta,
			Message: fmt.Sprintf("net_theta %.1f below floor %.1f", snap.NetTheta, a.cfg.MinNetTheta),
		})
	}

	symbols := make([]string, 0, len(snap.PerSymbol))
	for s := range snap.PerSymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	for _, s := range symbols {
		check("delta_"+s, snap.PerSymbol[s].Delta, a.cfg.MaxDeltaPerSymbol)
	}

	return out
}

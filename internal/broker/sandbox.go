package broker

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Sandbox is a deterministic simulated venue used for paper trading and
// tests. Prices follow a seeded random walk, chains are generated from a
// simplified pricing approximation, and every order fills immediately at its
// limit price.
type Sandbox struct {
	mu          sync.Mutex
	rng         *rand.Rand
	prices      map[string]float64
	midIV       map[string]float64
	orders      map[int]*OrderResponse
	nextOrderID int
}

var sandboxBasePrices = map[string]float64{
	"SPY": 580.0,
	"QQQ": 500.0,
	"IWM": 220.0,
	"TLT": 92.0,
	"GLD": 245.0,
}

// NewSandbox creates a sandbox venue. The same seed reproduces the same
// market.
func NewSandbox(seed uint64) *Sandbox {
	return &Sandbox{
		rng:         rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		prices:      make(map[string]float64),
		midIV:       make(map[string]float64),
		orders:      make(map[int]*OrderResponse),
		nextOrderID: 1000,
	}
}

func (s *Sandbox) price(symbol string) float64 {
	if p, ok := s.prices[symbol]; ok {
		return p
	}
	base, ok := sandboxBasePrices[symbol]
	if !ok {
		base = 100.0
	}
	s.prices[symbol] = base
	return base
}

func (s *Sandbox) iv(symbol string) float64 {
	if v, ok := s.midIV[symbol]; ok {
		return v
	}
	v := 0.15 + s.rng.Float64()*0.10
	s.midIV[symbol] = v
	return v
}

// GetAccountBalance returns a fixed paper balance.
func (s *Sandbox) GetAccountBalance(_ context.Context) (float64, error) {
	return 100000.0, nil
}

// GetQuote returns the current simulated quote, advancing the walk slightly.
func (s *Sandbox) GetQuote(_ context.Context, symbol string) (*Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.price(symbol)
	p += (s.rng.Float64() - 0.5) * p * 0.002
	s.prices[symbol] = p

	spread := 0.02
	return &Quote{
		Symbol: symbol,
		Last:   p,
		Bid:    p - spread/2,
		Ask:    p + spread/2,
		Volume: s.rng.Int64N(100_000_000),
	}, nil
}

// GetHistory synthesizes a daily random walk ending at the current price.
func (s *Sandbox) GetHistory(_ context.Context, symbol string, days int) ([]Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if days <= 0 {
		return nil, fmt.Errorf("%w: history days must be > 0", ErrDataUnavailable)
	}
	end := s.price(symbol)
	vol := s.iv(symbol) / math.Sqrt(252)

	// Walk backwards from today's price, then reverse.
	closes := make([]float64, days)
	closes[days-1] = end
	for i := days - 2; i >= 0; i-- {
		closes[i] = closes[i+1] / math.Exp((s.rng.Float64()-0.5)*2*vol)
	}

	bars := make([]Bar, days)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i, c := range closes {
		span := c * vol * 0.8
		bars[i] = Bar{
			Date:   today.AddDate(0, 0, -(days - 1 - i)),
			Open:   c - span/4,
			High:   c + span/2,
			Low:    c - span/2,
			Close:  c,
			Volume: s.rng.Int64N(80_000_000),
		}
	}
	return bars, nil
}

// GetIVHistory synthesizes an implied volatility series around the symbol's
// base level.
func (s *Sandbox) GetIVHistory(_ context.Context, symbol string, days int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if days <= 0 {
		return nil, fmt.Errorf("%w: IV history days must be > 0", ErrDataUnavailable)
	}
	base := s.iv(symbol)
	out := make([]float64, days)
	for i := range out {
		out[i] = math.Max(0.05, base+(s.rng.Float64()-0.5)*0.10)
	}
	return out, nil
}

// GetVolSurface returns a mildly contangoed term structure.
func (s *Sandbox) GetVolSurface(_ context.Context) (*VolSurface, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	near := 15.0 + s.rng.Float64()*6
	return &VolSurface{
		Near: near,
		Far:  near * 1.06,
		AsOf: time.Now().UTC(),
	}, nil
}

// GetExpirations returns the next ten weekly (Friday) expirations.
func (s *Sandbox) GetExpirations(_ context.Context, symbol string) ([]string, error) {
	d := time.Now().UTC()
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	out := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		out = append(out, d.Format("2006-01-02"))
		d = d.AddDate(0, 0, 7)
	}
	return out, nil
}

// GetOptionChain generates strikes around the current price with an
// exponential delta-decay approximation for pricing.
func (s *Sandbox) GetOptionChain(
	_ context.Context, symbol, expiration string, withGreeks bool,
) ([]OptionQuote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}
	dte := int(time.Until(expDate).Hours() / 24)
	if dte < 0 {
		dte = 0
	}

	price := s.price(symbol)
	vol := s.iv(symbol)
	timeValue := float64(dte) / 365.0

	strikeInterval := 5.0
	if price < 250 {
		strikeInterval = 1.0
	}
	startStrike := math.Floor(price/strikeInterval)*strikeInterval - 10*strikeInterval
	endStrike := startStrike + 20*strikeInterval

	var options []OptionQuote
	for strike := startStrike; strike <= endStrike; strike += strikeInterval {
		distance := math.Abs(strike - price)
		deltaDecay := math.Exp(-distance * 10 / price)

		putDelta := -0.5 * deltaDecay
		if strike > price {
			putDelta = -0.5 * (1 + (1 - deltaDecay))
		}
		callDelta := 0.5 * deltaDecay
		if strike < price {
			callDelta = 0.5 * (1 + (1 - deltaDecay))
		}

		putPrice := math.Max(0.10, vol*math.Sqrt(timeValue)*price*math.Abs(putDelta))
		callPrice := math.Max(0.10, vol*math.Sqrt(timeValue)*price*math.Abs(callDelta))

		// Liquidity concentrates near the money.
		oi := int64(math.Max(50, 40000*deltaDecay))
		volume := int64(math.Max(20, 8000*deltaDecay))

		put := OptionQuote{
			Symbol:       occSymbol(symbol, expDate, OptionTypePut, strike),
			Underlying:   symbol,
			Strike:       strike,
			Type:         OptionTypePut,
			Expiration:   expiration,
			Bid:          putPrice - 0.05,
			Ask:          putPrice + 0.05,
			Last:         putPrice,
			Volume:       volume,
			OpenInterest: oi,
		}
		call := OptionQuote{
			Symbol:       occSymbol(symbol, expDate, OptionTypeCall, strike),
			Underlying:   symbol,
			Strike:       strike,
			Type:         OptionTypeCall,
			Expiration:   expiration,
			Bid:          callPrice - 0.05,
			Ask:          callPrice + 0.05,
			Last:         callPrice,
			Volume:       volume,
			OpenInterest: oi,
		}

		if withGreeks {
			put.Greeks = &Greeks{
				Delta: putDelta,
				Gamma: 0.02 * deltaDecay,
				Theta: -0.05 * vol * price / 100,
				Vega:  0.10 * vol * price / 100,
				MidIV: vol,
			}
			call.Greeks = &Greeks{
				Delta: callDelta,
				Gamma: 0.02 * deltaDecay,
				Theta: -0.05 * vol * price / 100,
				Vega:  0.10 * vol * price / 100,
				MidIV: vol,
			}
		}

		options = append(options, put, call)
	}
	return options, nil
}

func occSymbol(symbol string, exp time.Time, right OptionType, strike float64) string {
	r := "C"
	if right == OptionTypePut {
		r = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", symbol, exp.Format("060102"), r, int(strike*1000))
}

// GetEarningsDate returns nil: the sandbox universe is index ETFs with no
// earnings events.
func (s *Sandbox) GetEarningsDate(_ context.Context, _ string) (*time.Time, error) {
	return nil, nil
}

// PlaceSpreadOrder fills immediately at the requested net price.
func (s *Sandbox) PlaceSpreadOrder(_ context.Context, req OrderRequest) (*OrderResponse, error) {
	if len(req.Legs) == 0 {
		return nil, fmt.Errorf("order has no legs")
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("order quantity must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	resp := &OrderResponse{
		ID:           s.nextOrderID,
		State:        OrderStateFilled,
		AvgFillPrice: req.Limit,
		StatusText:   "sandbox fill",
	}
	s.orders[resp.ID] = resp
	return resp, nil
}

// GetOrderStatus returns the stored order state.
func (s *Sandbox) GetOrderStatus(_ context.Context, orderID int) (*OrderResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order id %d", orderID)
	}
	out := *resp
	return &out, nil
}

// CancelOrder cancels a non-terminal order.
func (s *Sandbox) CancelOrder(_ context.Context, orderID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("unknown order id %d", orderID)
	}
	if !resp.State.Terminal() {
		resp.State = OrderStateCanceled
	}
	return nil
}

// Ensure Sandbox implements Broker at compile time.
var _ Broker = (*Sandbox)(nil)

// Package broker defines the market data and execution venue boundary.
//
// The engine only ever consumes quotes, historical bars, option chains and a
// volatility term structure, and only ever produces multi-leg net-credit order
// requests. Everything venue-specific lives behind the Broker interface.
package broker

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrDataUnavailable marks a required quote, chain or history that could not
// be obtained. Callers skip the affected symbol for the cycle and retry on the
// next one; fabricated data is never substituted on decision paths.
var ErrDataUnavailable = errors.New("market data unavailable")

// OptionType represents the contract right of an option.
type OptionType string

const (
	// OptionTypePut represents a put option contract
	OptionTypePut OptionType = "put"
	// OptionTypeCall represents a call option contract
	OptionTypeCall OptionType = "call"
)

// Quote is a top-of-book quote for an underlying.
type Quote struct {
	Symbol string
	Last   float64
	Bid    float64
	Ask    float64
	Volume int64
}

// Bar is one session of OHLCV history, oldest first in any returned slice.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// VolSurface carries the volatility term-structure proxies: a near-term
// index level (VIX or equivalent) and a three-month level (VIX3M).
type VolSurface struct {
	Near float64
	Far  float64
	AsOf time.Time
}

// Greeks holds per-contract sensitivities as supplied by the venue.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	MidIV float64
}

// OptionQuote is a single chain entry.
type OptionQuote struct {
	Symbol       string
	Underlying   string
	Strike       float64
	Type         OptionType
	Expiration   string // "2006-01-02"
	Bid          float64
	Ask          float64
	Last         float64
	Volume       int64
	OpenInterest int64
	Greeks       *Greeks
}

// Mid returns the bid/ask midpoint.
func (o *OptionQuote) Mid() float64 {
	return (o.Bid + o.Ask) / 2
}

// OrderAction is the per-leg order action.
type OrderAction string

const (
	ActionBuyToOpen   OrderAction = "buy_to_open"
	ActionSellToOpen  OrderAction = "sell_to_open"
	ActionBuyToClose  OrderAction = "buy_to_close"
	ActionSellToClose OrderAction = "sell_to_close"
)

// OrderLeg identifies one contract of a multi-leg order.
type OrderLeg struct {
	Strike     float64
	Type       OptionType
	Expiration string // "2006-01-02"
	Action     OrderAction
	Ratio      int
}

// OrderRequest is a multi-leg combo order at a net price.
type OrderRequest struct {
	Symbol   string
	Legs     []OrderLeg
	Quantity int
	// Limit is the net limit price per spread; positive means credit
	// received, negative means debit paid. Ignored when Market is true.
	Limit    float64
	Market   bool
	Duration string // "day" | "gtc"
	Tag      string
}

// OrderState is the venue-reported lifecycle state of an order.
type OrderState string

const (
	OrderStatePending  OrderState = "pending"
	OrderStateOpen     OrderState = "open"
	OrderStateFilled   OrderState = "filled"
	OrderStateRejected OrderState = "rejected"
	OrderStateCanceled OrderState = "canceled"
	OrderStateExpired  OrderState = "expired"
)

// Terminal reports whether the state is final.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateRejected, OrderStateCanceled, OrderStateExpired:
		return true
	}
	return false
}

// OrderResponse is the venue's view of a placed order.
type OrderResponse struct {
	ID           int
	State        OrderState
	AvgFillPrice float64 // net per-spread fill, credit positive
	StatusText   string  // venue status detail, surfaced on rejection
}

// Broker is the market data and execution venue boundary.
type Broker interface {
	// Account operations
	GetAccountBalance(ctx context.Context) (float64, error)

	// Market data
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetHistory(ctx context.Context, symbol string, days int) ([]Bar, error)
	GetIVHistory(ctx context.Context, symbol string, days int) ([]float64, error)
	GetVolSurface(ctx context.Context) (*VolSurface, error)
	GetExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionChain(ctx context.Context, symbol, expiration string, withGreeks bool) ([]OptionQuote, error)
	// GetEarningsDate returns the next known earnings date, or nil when none
	// is scheduled inside the venue's lookahead.
	GetEarningsDate(ctx context.Context, symbol string) (*time.Time, error)

	// Order operations
	PlaceSpreadOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	GetOrderStatus(ctx context.Context, orderID int) (*OrderResponse, error)
	CancelOrder(ctx context.Context, orderID int) error
}

// GetOptionByStrike finds a chain entry with a specific strike and right.
func GetOptionByStrike(options []OptionQuote, strike float64, optionType OptionType) *OptionQuote {
	for i := range options {
		if math.Abs(options[i].Strike-strike) <= 1e-4 && options[i].Type == optionType {
			return &options[i]
		}
	}
	return nil
}

// DaysBetween calculates the number of whole days between two dates.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}

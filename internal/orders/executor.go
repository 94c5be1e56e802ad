// Package orders submits combo orders and confirms fills. A position is only
// ever recorded against a confirmed fill, never an intent.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/dmarquardt/condorkeeper/internal/broker"
)

// ErrNotFilled marks an order that did not reach a fill before the timeout.
// The order is canceled best-effort before this is returned.
var ErrNotFilled = errors.New("order not filled")

// ErrRejected marks an order the venue refused.
var ErrRejected = errors.New("order rejected")

// Config tunes submission retries and fill polling.
type Config struct {
	PollInterval  time.Duration
	FillTimeout   time.Duration
	MaxPlaceTries uint
}

// DefaultConfig is the default executor configuration.
var DefaultConfig = Config{
	PollInterval:  5 * time.Second,
	FillTimeout:   5 * time.Minute,
	MaxPlaceTries: 3,
}

// Fill is a confirmed execution.
type Fill struct {
	OrderID int
	// AvgPrice is the net per-spread fill, credit positive.
	AvgPrice float64
}

// Executor places combo orders and waits for terminal states.
type Executor struct {
	market broker.Broker
	cfg    Config
	logger *logrus.Logger
}

// NewExecutor creates an order executor.
func NewExecutor(market broker.Broker, cfg Config, logger *logrus.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = DefaultConfig.FillTimeout
	}
	if cfg.MaxPlaceTries == 0 {
		cfg.MaxPlaceTries = DefaultConfig.MaxPlaceTries
	}
	return &Executor{market: market, cfg: cfg, logger: logger}
}

// Execute submits the order and blocks until it fills, fails, or times out.
// Transient submission errors are retried with exponential backoff; venue
// rejections are not.
func (e *Executor) Execute(ctx context.Context, req broker.OrderRequest) (*Fill, error) {
	resp, err := e.place(ctx, req)
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"order_id": resp.ID,
		"symbol":   req.Symbol,
		"limit":    req.Limit,
		"quantity": req.Quantity,
	}).Info("order submitted")

	if resp.State == broker.OrderStateFilled {
		return &Fill{OrderID: resp.ID, AvgPrice: resp.AvgFillPrice}, nil
	}
	return e.awaitFill(ctx, resp.ID, req.Symbol)
}

func (e *Executor) place(ctx context.Context, req broker.OrderRequest) (*broker.OrderResponse, error) {
	operation := func() (*broker.OrderResponse, error) {
		resp, err := e.market.PlaceSpreadOrder(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.State == broker.OrderStateRejected {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s", ErrRejected, resp.StatusText))
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(e.cfg.MaxPlaceTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"symbol":   req.Symbol,
				"retry_in": next,
			}).Warn("order submission failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("placing order for %s: %w", req.Symbol, err)
	}
	return resp, nil
}

func (e *Executor) awaitFill(ctx context.Context, orderID int, symbol string) (*Fill, error) {
	deadline, cancel := context.WithTimeout(ctx, e.cfg.FillTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.Done():
			return e.abandon(ctx, orderID, symbol)
		case <-ticker.C:
			resp, err := e.market.GetOrderStatus(deadline, orderID)
			if err != nil {
				e.logger.WithError(err).WithField("order_id", orderID).
					Warn("order status check failed")
				continue
			}
			if !resp.State.Terminal() {
				continue
			}
			switch resp.State {
			case broker.OrderStateFilled:
				return &Fill{OrderID: orderID, AvgPrice: resp.AvgFillPrice}, nil
			case broker.OrderStateRejected:
				return nil, fmt.Errorf("%w: order %d: %s", ErrRejected, orderID, resp.StatusText)
			default:
				return nil, fmt.Errorf("%w: order %d reached state %s", ErrNotFilled, orderID, resp.State)
			}
		}
	}
}

// abandon cancels an unfilled order, then re-checks once: the cancel can race
// a fill, and a fill that slipped in must still be honored.
func (e *Executor) abandon(ctx context.Context, orderID int, symbol string) (*Fill, error) {
	// The polling deadline is spent; use a fresh short window for cleanup.
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := e.market.CancelOrder(cleanup, orderID); err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("order cancel failed")
	}

	if resp, err := e.market.GetOrderStatus(cleanup, orderID); err == nil &&
		resp.State == broker.OrderStateFilled {
		e.logger.WithField("order_id", orderID).
			Info("order filled during cancel, treating as fill")
		return &Fill{OrderID: orderID, AvgPrice: resp.AvgFillPrice}, nil
	}

	e.logger.WithFields(logrus.Fields{
		"order_id": orderID,
		"symbol":   symbol,
	}).Warn("order timed out and was canceled")
	return nil, fmt.Errorf("%w: order %d timed out", ErrNotFilled, orderID)
}

package orders

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmarquardt/condorkeeper/internal/broker"
)

// scriptedVenue walks through a scripted sequence of order states.
type scriptedVenue struct {
	broker.Broker

	mu              sync.Mutex
	placeErrs       []error
	placeState      broker.OrderState
	placeCalls      int
	states          []broker.OrderState
	avgPrice        float64
	canceled        []int
	fillAfterCancel bool
}

func (v *scriptedVenue) PlaceSpreadOrder(_ context.Context, _ broker.OrderRequest) (*broker.OrderResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placeCalls++
	if len(v.placeErrs) > 0 {
		err := v.placeErrs[0]
		v.placeErrs = v.placeErrs[1:]
		return nil, err
	}
	state := v.placeState
	if state == "" {
		state = broker.OrderStateOpen
	}
	return &broker.OrderResponse{ID: 7, State: state, AvgFillPrice: v.avgPrice, StatusText: "scripted"}, nil
}

func (v *scriptedVenue) GetOrderStatus(_ context.Context, orderID int) (*broker.OrderResponse, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.fillAfterCancel && len(v.canceled) > 0 {
		return &broker.OrderResponse{ID: orderID, State: broker.OrderStateFilled, AvgFillPrice: v.avgPrice}, nil
	}
	state := broker.OrderStateOpen
	if len(v.states) > 0 {
		state = v.states[0]
		if len(v.states) > 1 {
			v.states = v.states[1:]
		}
	}
	return &broker.OrderResponse{ID: orderID, State: state, AvgFillPrice: v.avgPrice}, nil
}

func (v *scriptedVenue) CancelOrder(_ context.Context, orderID int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.canceled = append(v.canceled, orderID)
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastConfig() Config {
	return Config{
		PollInterval:  time.Millisecond,
		FillTimeout:   200 * time.Millisecond,
		MaxPlaceTries: 3,
	}
}

func sampleRequest() broker.OrderRequest {
	return broker.OrderRequest{
		Symbol:   "SPY",
		Quantity: 1,
		Limit:    0.80,
		Duration: "day",
		Legs: []broker.OrderLeg{
			{Strike: 570, Type: broker.OptionTypePut, Action: broker.ActionSellToOpen, Ratio: 1},
			{Strike: 565, Type: broker.OptionTypePut, Action: broker.ActionBuyToOpen, Ratio: 1},
		},
	}
}

func TestExecuteImmediateFill(t *testing.T) {
	venue := &scriptedVenue{placeState: broker.OrderStateFilled, avgPrice: 0.82}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	fill, err := e.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 7, fill.OrderID)
	assert.InDelta(t, 0.82, fill.AvgPrice, 1e-9)
}

func TestExecutePollsUntilFilled(t *testing.T) {
	venue := &scriptedVenue{
		states:   []broker.OrderState{broker.OrderStateOpen, broker.OrderStateOpen, broker.OrderStateFilled},
		avgPrice: 0.78,
	}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	fill, err := e.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.InDelta(t, 0.78, fill.AvgPrice, 1e-9)
	assert.Empty(t, venue.canceled)
}

func TestExecuteRejectionIsNotRetried(t *testing.T) {
	venue := &scriptedVenue{placeState: broker.OrderStateRejected}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	_, err := e.Execute(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Equal(t, 1, venue.placeCalls, "rejections must not be retried")
}

func TestExecuteRetriesTransientPlaceError(t *testing.T) {
	venue := &scriptedVenue{
		placeErrs:  []error{errors.New("connection reset")},
		placeState: broker.OrderStateFilled,
		avgPrice:   0.80,
	}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	fill, err := e.Execute(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, venue.placeCalls)
	assert.InDelta(t, 0.80, fill.AvgPrice, 1e-9)
}

func TestExecuteTimeoutCancelsOrder(t *testing.T) {
	venue := &scriptedVenue{states: []broker.OrderState{broker.OrderStateOpen}}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	_, err := e.Execute(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFilled))
	assert.Contains(t, venue.canceled, 7)
}

func TestExecuteHonorsFillThatRacesCancel(t *testing.T) {
	venue := &scriptedVenue{
		states:          []broker.OrderState{broker.OrderStateOpen},
		fillAfterCancel: true,
		avgPrice:        0.79,
	}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	fill, err := e.Execute(context.Background(), sampleRequest())
	require.NoError(t, err, "a fill that slips in during cancel is still a fill")
	assert.InDelta(t, 0.79, fill.AvgPrice, 1e-9)
}

func TestExecuteCanceledByVenue(t *testing.T) {
	venue := &scriptedVenue{states: []broker.OrderState{broker.OrderStateOpen, broker.OrderStateCanceled}}
	e := NewExecutor(venue, fastConfig(), quietLogger())

	_, err := e.Execute(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFilled))
}

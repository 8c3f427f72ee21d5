package reconcile

import (
	"context"
	"testing"
	"time"

	"hedgepair/internal/exchange"
	"hedgepair/internal/notifier"
	"hedgepair/internal/store/memstore"
	"hedgepair/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockExchange struct {
	mock.Mock
}

func (m *MockExchange) Name() string { return "mock" }

func (m *MockExchange) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(exchange.OrderAck), args.Error(1)
}

func (m *MockExchange) CancelOrder(ctx context.Context, instrument, exchangeID string) error {
	args := m.Called(ctx, instrument, exchangeID)
	return args.Error(0)
}

func (m *MockExchange) OrderStatus(ctx context.Context, instrument, exchangeID string) (exchange.OrderState, error) {
	args := m.Called(ctx, instrument, exchangeID)
	return args.Get(0).(exchange.OrderState), args.Error(1)
}

func (m *MockExchange) GetQuote(ctx context.Context, instrument string) (exchange.Quote, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).(exchange.Quote), args.Error(1)
}

func (m *MockExchange) GetBalance(ctx context.Context) (exchange.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(exchange.Balance), args.Error(1)
}

func seedOrder(t *testing.T, st *memstore.Store, order types.Order) {
	t.Helper()
	uow, err := st.Begin(context.Background())
	assert.NoError(t, err)
	assert.NoError(t, uow.Orders().Save(order))
	assert.NoError(t, uow.Commit())
}

func pendingOrder(clientID, exchangeID string) types.Order {
	return types.Order{
		ClientID:   clientID,
		ExchangeID: exchangeID,
		PairID:     "ETH/USDT~BTC/USDT",
		Instrument: "ETH/USDT",
		Role:       types.RolePrimary,
		Side:       types.SideBuy,
		Qty:        2,
		Type:       types.OrderMarket,
		Status:     types.OrderPending,
		CreatedAt:  time.Now().Add(-time.Minute),
		UpdatedAt:  time.Now().Add(-time.Minute),
	}
}

func TestConsistentStateIsFixedPoint(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	venue := new(MockExchange)
	// terminal orders only: nothing to reconcile, venue never queried
	seedOrder(t, st, func() types.Order {
		o := pendingOrder("c1", "x1")
		o.Status = types.OrderFilled
		return o
	}())

	assert.NoError(t, New(st, venue, nil, notifier.Noop{}).Run(ctx))
	venue.AssertNotCalled(t, "OrderStatus", mock.Anything, mock.Anything, mock.Anything)
	venue.AssertNotCalled(t, "CancelOrder", mock.Anything, mock.Anything, mock.Anything)
}

func TestMissedFillReplayedToFixedPoint(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	venue := new(MockExchange)
	seedOrder(t, st, pendingOrder("c1", "x1"))

	// the venue filled the order while we were down
	venue.On("OrderStatus", mock.Anything, "ETH/USDT", "x1").Return(exchange.OrderState{
		ExchangeID: "x1", ClientID: "c1", Status: types.OrderFilled,
		FilledQty: 2, AvgFill: 2000,
		Fills: []types.Fill{
			{FillID: "f1", Instrument: "ETH/USDT", Qty: 2, Price: 2000, Fee: 4, At: time.Now()},
		},
	}, nil)

	err := New(st, venue, nil, notifier.Noop{}).Run(ctx)
	assert.NoError(t, err)

	order, ok, err := st.Order(ctx, "c1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.OrderFilled, order.Status)
	assert.InDelta(t, 2.0, order.FilledQty, 1e-9)

	positions, err := st.Positions(ctx, "ETH/USDT~BTC/USDT")
	assert.NoError(t, err)
	if assert.Len(t, positions, 1) {
		assert.InDelta(t, 2.0, positions[0].Qty, 1e-9)
		assert.InDelta(t, 2000.0, positions[0].AvgEntry, 1e-9)
	}

	inflight, err := st.InflightOrders(ctx)
	assert.NoError(t, err)
	assert.Empty(t, inflight)
	venue.AssertExpectations(t)
}

func TestFillReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	venue := new(MockExchange)
	order := pendingOrder("c1", "x1")
	seedOrder(t, st, order)

	fill := types.Fill{
		OrderClientID: "c1", FillID: "f1", Instrument: "ETH/USDT",
		Qty: 2, Price: 2000, Fee: 4, At: time.Now(),
	}
	// the fill already landed through the executor before the crash
	assert.NoError(t, st.ApplyFill(ctx, order, fill))

	venue.On("OrderStatus", mock.Anything, "ETH/USDT", "x1").Return(exchange.OrderState{
		ExchangeID: "x1", ClientID: "c1", Status: types.OrderFilled,
		FilledQty: 2, AvgFill: 2000, Fills: []types.Fill{fill},
	}, nil)

	assert.NoError(t, New(st, venue, nil, notifier.Noop{}).Run(ctx))

	positions, err := st.Positions(ctx, "ETH/USDT~BTC/USDT")
	assert.NoError(t, err)
	if assert.Len(t, positions, 1) {
		assert.InDelta(t, 2.0, positions[0].Qty, 1e-9, "fill applied once, not twice")
	}
}

func TestUnackedOrderMarkedCancelled(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	venue := new(MockExchange)
	seedOrder(t, st, pendingOrder("c1", ""))

	assert.NoError(t, New(st, venue, nil, notifier.Noop{}).Run(ctx))

	order, ok, err := st.Order(ctx, "c1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.OrderCancelled, order.Status)
	assert.Equal(t, types.ReasonReconcileHalt, order.Reason)
	venue.AssertNotCalled(t, "OrderStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnknownOrderHaltsPair(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	venue := new(MockExchange)
	recorder := &recordingNotifier{}
	seedOrder(t, st, pendingOrder("c1", "x1"))

	venue.On("OrderStatus", mock.Anything, "ETH/USDT", "x1").
		Return(exchange.OrderState{}, exchange.Reject(-2013, "Order does not exist."))

	assert.NoError(t, New(st, venue, nil, recorder).Run(ctx))

	rec, ok, err := st.PairState(ctx, "ETH/USDT~BTC/USDT")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, rec.Halted)
	assert.Equal(t, types.ReasonReconcileHalt, rec.HaltReason)
	assert.Len(t, recorder.sent, 1)
}

func TestLiveOrderCancelledThenSettled(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	venue := new(MockExchange)
	seedOrder(t, st, pendingOrder("c1", "x1"))

	// first pass finds the order still working and cancels it; second pass
	// sees the cancel with a partial fill
	working := venue.On("OrderStatus", mock.Anything, "ETH/USDT", "x1").Return(exchange.OrderState{
		ExchangeID: "x1", ClientID: "c1", Status: types.OrderPartiallyFilled,
		FilledQty: 0.5, AvgFill: 2000,
		Fills: []types.Fill{
			{FillID: "f1", Instrument: "ETH/USDT", Qty: 0.5, Price: 2000, Fee: 1, At: time.Now()},
		},
	}, nil)
	venue.On("CancelOrder", mock.Anything, "ETH/USDT", "x1").Run(func(mock.Arguments) {
		working.Unset()
		venue.On("OrderStatus", mock.Anything, "ETH/USDT", "x1").Return(exchange.OrderState{
			ExchangeID: "x1", ClientID: "c1", Status: types.OrderCancelled,
			FilledQty: 0.5, AvgFill: 2000,
			Fills: []types.Fill{
				{FillID: "f1", Instrument: "ETH/USDT", Qty: 0.5, Price: 2000, Fee: 1, At: time.Now()},
			},
		}, nil)
	}).Return(nil).Once()

	assert.NoError(t, New(st, venue, nil, notifier.Noop{}).Run(ctx))

	order, ok, err := st.Order(ctx, "c1")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.OrderCancelled, order.Status)
	assert.InDelta(t, 0.5, order.FilledQty, 1e-9)

	positions, err := st.Positions(ctx, "ETH/USDT~BTC/USDT")
	assert.NoError(t, err)
	if assert.Len(t, positions, 1) {
		assert.InDelta(t, 0.5, positions[0].Qty, 1e-9)
	}
}

type recordingNotifier struct {
	sent []string
}

func (r *recordingNotifier) SendText(msg string) error {
	r.sent = append(r.sent, msg)
	return nil
}

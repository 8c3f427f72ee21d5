package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"hedgepair/internal/config"
	"hedgepair/internal/exchange"
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

func testExecConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		MaxAttempts:       5,
		BaseDelayMs:       1,
		MaxDelayMs:        2,
		PollIntervalMs:    1,
		OrderTimeoutSec:   1,
		BreakerThreshold:  50,
		BreakerCooldownMs: 10,
	}
}

func testPair() types.PairSpec {
	return types.PairSpec{
		Primary:          "ETH/USDT",
		Hedge:            "BTC/USDT",
		PrimaryIncrement: 0.001,
		HedgeIncrement:   0.0001,
	}
}

func waitResult(t *testing.T, exec *Executor) IntentResult {
	t.Helper()
	select {
	case res := <-exec.Results():
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("no intent result delivered")
		return IntentResult{}
	}
}

func TestTransientFailuresRetriedThenFilled(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	exec := New(testExecConfig(), venue, st)

	filled := exchange.OrderState{
		ExchangeID: "ex-1",
		Status:     types.OrderFilled,
		FilledQty:  1.5,
		AvgFill:    2000,
		Fills: []types.Fill{
			{FillID: "f1", Instrument: "ETH/USDT", Qty: 1.5, Price: 2000, Fee: 3, At: time.Now()},
		},
	}
	venue.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderAck{}, exchange.Transient(errors.New("connection reset"))).Twice()
	venue.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderAck{ExchangeID: "ex-1"}, nil).Once()
	venue.On("OrderStatus", mock.Anything, "ETH/USDT", "ex-1").Return(filled, nil)

	intent := types.TradeIntent{
		ID: "i1", PairID: testPair().ID(), Action: types.ActionOpen,
		PrimaryQty: 1.5, Reason: types.ReasonEntrySignal, CreatedAt: time.Now(),
	}
	err := exec.Submit(context.Background(), testPair(), intent)
	assert.NoError(t, err)

	res := waitResult(t, exec)
	assert.True(t, res.Completed())
	assert.Len(t, res.Legs, 1)
	assert.Equal(t, types.OrderFilled, res.Legs[0].Order.Status)
	assert.Equal(t, exchange.OutcomeSuccess, res.Legs[0].Outcome)
	venue.AssertNumberOfCalls(t, "PlaceOrder", 3)

	positions, err := st.Positions(context.Background(), testPair().ID())
	assert.NoError(t, err)
	assert.Len(t, positions, 1)
	assert.InDelta(t, 1.5, positions[0].Qty, 1e-9)
	assert.InDelta(t, 2000, positions[0].AvgEntry, 1e-9)
}

func TestRejectionIsNotRetried(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	exec := New(testExecConfig(), venue, st)

	venue.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderAck{}, exchange.Reject(-2010, "insufficient balance")).Once()

	intent := types.TradeIntent{
		ID: "i2", PairID: testPair().ID(), Action: types.ActionOpen,
		PrimaryQty: 1, Reason: types.ReasonEntrySignal, CreatedAt: time.Now(),
	}
	assert.NoError(t, exec.Submit(context.Background(), testPair(), intent))

	res := waitResult(t, exec)
	assert.False(t, res.Completed())
	assert.Len(t, res.Legs, 1)
	assert.Equal(t, exchange.OutcomeTerminal, res.Legs[0].Outcome)
	assert.Equal(t, types.OrderRejected, res.Legs[0].Order.Status)
	venue.AssertNumberOfCalls(t, "PlaceOrder", 1)

	positions, err := st.Positions(context.Background(), testPair().ID())
	assert.NoError(t, err)
	assert.Empty(t, positions, "rejected order must not touch positions")
}

func TestSecondLegSkippedAfterFirstFails(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	exec := New(testExecConfig(), venue, st)

	venue.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderAck{}, exchange.Reject(-1013, "lot size")).Once()

	intent := types.TradeIntent{
		ID: "i3", PairID: testPair().ID(), Action: types.ActionOpen,
		PrimaryQty: 1, HedgeQty: -0.05, Reason: types.ReasonEntrySignal, CreatedAt: time.Now(),
	}
	assert.NoError(t, exec.Submit(context.Background(), testPair(), intent))

	res := waitResult(t, exec)
	assert.Len(t, res.Legs, 1, "hedge leg never submitted after primary failed")
	assert.Equal(t, types.RolePrimary, res.Legs[0].Role)
	venue.AssertNumberOfCalls(t, "PlaceOrder", 1)
}

func TestOrderTimeoutCancelsAndSettles(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	exec := New(testExecConfig(), venue, st)

	pending := exchange.OrderState{ExchangeID: "ex-2", Status: types.OrderPending}
	cancelled := exchange.OrderState{
		ExchangeID: "ex-2",
		Status:     types.OrderCancelled,
		FilledQty:  0.4,
		AvgFill:    2000,
		Fills: []types.Fill{
			{FillID: "f1", Instrument: "ETH/USDT", Qty: 0.4, Price: 2000, Fee: 0.8, At: time.Now()},
		},
	}
	venue.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderAck{ExchangeID: "ex-2"}, nil).Once()
	call := venue.On("OrderStatus", mock.Anything, "ETH/USDT", "ex-2").Return(pending, nil)
	venue.On("CancelOrder", mock.Anything, "ETH/USDT", "ex-2").Run(func(mock.Arguments) {
		call.Unset()
		venue.On("OrderStatus", mock.Anything, "ETH/USDT", "ex-2").Return(cancelled, nil)
	}).Return(nil)

	intent := types.TradeIntent{
		ID: "i4", PairID: testPair().ID(), Action: types.ActionOpen,
		PrimaryQty: 1, Reason: types.ReasonEntrySignal, CreatedAt: time.Now(),
	}
	assert.NoError(t, exec.Submit(context.Background(), testPair(), intent))

	res := waitResult(t, exec)
	assert.False(t, res.Completed())
	leg := res.Legs[0]
	assert.Equal(t, types.OrderCancelled, leg.Order.Status)
	assert.Equal(t, types.ReasonOrderTimeout, leg.Order.Reason)
	assert.InDelta(t, 0.4, leg.Order.FilledQty, 1e-9)

	positions, err := st.Positions(context.Background(), testPair().ID())
	assert.NoError(t, err)
	assert.Len(t, positions, 1, "partial fill before cancel still lands")
	assert.InDelta(t, 0.4, positions[0].Qty, 1e-9)
}

func TestShutdownCancelsWorkingOrder(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	cfg := testExecConfig()
	cfg.OrderTimeoutSec = 60
	exec := New(cfg, venue, st)

	pending := exchange.OrderState{ExchangeID: "ex-5", Status: types.OrderPending}
	venue.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(exchange.OrderAck{ExchangeID: "ex-5"}, nil).Once()
	venue.On("OrderStatus", mock.Anything, "ETH/USDT", "ex-5").Return(pending, nil)
	venue.On("CancelOrder", mock.Anything, "ETH/USDT", "ex-5").Return(nil).Once()

	runCtx, stop := context.WithCancel(context.Background())
	intent := types.TradeIntent{
		ID: "i5", PairID: testPair().ID(), Action: types.ActionOpen,
		PrimaryQty: 1, Reason: types.ReasonEntrySignal, CreatedAt: time.Now(),
	}
	assert.NoError(t, exec.Submit(runCtx, testPair(), intent))

	time.Sleep(10 * time.Millisecond)
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, exec.Drain(drainCtx), "drain must not outlive legs that cancel on shutdown")

	res := waitResult(t, exec)
	assert.False(t, res.Completed())
	leg := res.Legs[0]
	assert.Equal(t, types.OrderCancelled, leg.Order.Status)
	assert.Equal(t, types.ReasonShutdownDrain, leg.Order.Reason)
	venue.AssertCalled(t, "CancelOrder", mock.Anything, "ETH/USDT", "ex-5")

	orders, err := st.InflightOrders(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, orders, "no live venue order left behind after shutdown")
}

func TestPairBusyRefusesSecondIntent(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	exec := New(testExecConfig(), venue, st)

	started := make(chan struct{})
	venue.On("PlaceOrder", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		time.Sleep(50 * time.Millisecond)
	}).Return(exchange.OrderAck{ExchangeID: "ex-3"}, nil)
	venue.On("OrderStatus", mock.Anything, mock.Anything, mock.Anything).Return(exchange.OrderState{
		ExchangeID: "ex-3",
		Status:     types.OrderFilled,
		FilledQty:  1,
		AvgFill:    100,
	}, nil)

	first := types.TradeIntent{ID: "a", PairID: testPair().ID(), Action: types.ActionOpen, PrimaryQty: 1}
	second := types.TradeIntent{ID: "b", PairID: testPair().ID(), Action: types.ActionOpen, PrimaryQty: 1}

	assert.NoError(t, exec.Submit(context.Background(), testPair(), first))
	<-started
	err := exec.Submit(context.Background(), testPair(), second)
	assert.Error(t, err, "same pair cannot hold two in-flight intents")
	assert.True(t, exec.Busy(testPair().ID()))

	waitResult(t, exec)
}

func TestDrainRefusesNewIntents(t *testing.T) {
	venue := new(MockExchange)
	st := memstore.New()
	exec := New(testExecConfig(), venue, st)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, exec.Drain(ctx))

	intent := types.TradeIntent{ID: "x", PairID: testPair().ID(), Action: types.ActionOpen, PrimaryQty: 1}
	err := exec.Submit(context.Background(), testPair(), intent)
	assert.Error(t, err)
	venue.AssertNotCalled(t, "PlaceOrder")
}

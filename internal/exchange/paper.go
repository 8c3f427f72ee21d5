package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"hedgepair/internal/types"
)

type paperOrder struct {
	req   OrderRequest
	state OrderState
}

// Paper is an in-memory venue used for paper trading and tests. Orders fill
// against the last quote pushed via SetQuote; fills, cancels and status
// queries behave like a well-behaved exchange with zero latency.
type Paper struct {
	mu       sync.Mutex
	nextID   int64
	nextFill int64
	quotes   map[string]Quote
	orders   map[string]*paperOrder // keyed by exchange id
	byClient map[string]string      // client id -> exchange id
	balance  Balance
	feeRate  float64

	// FillFraction controls how much of an order fills immediately,
	// in (0, 1]. Defaults to 1 (full fill).
	FillFraction float64
}

func NewPaper(initialBalance float64) *Paper {
	return &Paper{
		quotes:   make(map[string]Quote),
		orders:   make(map[string]*paperOrder),
		byClient: make(map[string]string),
		balance: Balance{
			Currency:  "USDT",
			Total:     initialBalance,
			Available: initialBalance,
			UpdatedAt: time.Now(),
		},
		feeRate:      0.001,
		FillFraction: 1,
	}
}

func (p *Paper) Name() string { return "paper" }

// SetQuote updates the simulated top of book for an instrument.
func (p *Paper) SetQuote(q Quote) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if q.At.IsZero() {
		q.At = time.Now()
	}
	p.quotes[q.Instrument] = q
}

func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (OrderAck, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Qty <= 0 {
		return OrderAck{}, Reject(0, fmt.Sprintf("non-positive quantity %f", req.Qty))
	}
	if id, dup := p.byClient[req.ClientID]; dup {
		// resubmission of a known client id acks the original order
		return OrderAck{ExchangeID: id, SubmitTime: time.Now()}, nil
	}
	q, ok := p.quotes[req.Instrument]
	if !ok {
		return OrderAck{}, Transient(fmt.Errorf("no quote for %s", req.Instrument))
	}

	price := q.Ask
	if req.Side == types.SideSell {
		price = q.Bid
	}
	if req.Type == types.OrderLimit && req.Price > 0 {
		price = req.Price
	}
	if req.Side == types.SideBuy && req.Qty*price > p.balance.Available {
		return OrderAck{}, Reject(-2010, fmt.Sprintf("insufficient balance: need %.2f, have %.2f", req.Qty*price, p.balance.Available))
	}

	p.nextID++
	exID := strconv.FormatInt(p.nextID, 10)
	order := &paperOrder{
		req: req,
		state: OrderState{
			ExchangeID: exID,
			ClientID:   req.ClientID,
			Status:     types.OrderPending,
			UpdatedAt:  time.Now(),
		},
	}
	p.orders[exID] = order
	p.byClient[req.ClientID] = exID

	fraction := p.FillFraction
	if fraction <= 0 || fraction > 1 {
		fraction = 1
	}
	p.fillLocked(order, req.Qty*fraction, price)
	return OrderAck{ExchangeID: exID, SubmitTime: time.Now()}, nil
}

// fillLocked applies a fill of qty (unsigned) at price. Caller holds p.mu.
func (p *Paper) fillLocked(order *paperOrder, qty, price float64) {
	if qty <= 0 {
		return
	}
	signed := qty
	if order.req.Side == types.SideSell {
		signed = -qty
	}
	p.nextFill++
	order.state.Fills = append(order.state.Fills, types.Fill{
		OrderClientID: order.req.ClientID,
		FillID:        strconv.FormatInt(p.nextFill, 10),
		Instrument:    order.req.Instrument,
		Qty:           signed,
		Price:         price,
		Fee:           qty * price * p.feeRate,
		At:            time.Now(),
	})
	prevNotional := order.state.AvgFill * order.state.FilledQty
	order.state.FilledQty += qty
	order.state.AvgFill = (prevNotional + qty*price) / order.state.FilledQty
	if order.state.FilledQty >= order.req.Qty {
		order.state.Status = types.OrderFilled
	} else {
		order.state.Status = types.OrderPartiallyFilled
	}
	order.state.UpdatedAt = time.Now()

	if order.req.Side == types.SideBuy {
		p.balance.Available -= qty * price
	} else {
		p.balance.Available += qty * price
	}
	p.balance.UpdatedAt = time.Now()
}

// CompleteOrder fills the outstanding remainder of a partially filled order.
// Test and replay hook; a live venue does this on its own schedule.
func (p *Paper) CompleteOrder(exchangeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[exchangeID]
	if !ok || order.state.Status != types.OrderPartiallyFilled {
		return
	}
	price := order.state.AvgFill
	p.fillLocked(order, order.req.Qty-order.state.FilledQty, price)
}

func (p *Paper) CancelOrder(_ context.Context, _, exchangeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[exchangeID]
	if !ok || order.state.Status.Terminal() {
		return nil
	}
	order.state.Status = types.OrderCancelled
	order.state.UpdatedAt = time.Now()
	return nil
}

func (p *Paper) OrderStatus(_ context.Context, _, exchangeID string) (OrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[exchangeID]
	if !ok {
		return OrderState{}, Reject(-2013, fmt.Sprintf("order %s does not exist", exchangeID))
	}
	copied := order.state
	copied.Fills = append([]types.Fill(nil), order.state.Fills...)
	return copied, nil
}

func (p *Paper) GetQuote(_ context.Context, instrument string) (Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[instrument]
	if !ok {
		return Quote{}, Transient(fmt.Errorf("no quote for %s", instrument))
	}
	return q, nil
}

func (p *Paper) GetBalance(_ context.Context) (Balance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

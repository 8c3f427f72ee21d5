// Package binance implements the exchange boundary on top of the
// go-binance spot SDK.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hedgepair/internal/exchange"
	symbolpkg "hedgepair/internal/pkg/symbol"
	"hedgepair/internal/types"

	gobinance "github.com/adshao/go-binance/v2"
)

type Config struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	Testnet     bool
	HTTPTimeout time.Duration
}

// Client adapts the binance SDK to the exchange.Exchange interface.
type Client struct {
	api *gobinance.Client
}

func New(cfg Config) *Client {
	gobinance.UseTestnet = cfg.Testnet
	api := gobinance.NewClient(cfg.APIKey, cfg.APISecret)
	if url := strings.TrimSpace(cfg.RESTBaseURL); url != "" {
		api.BaseURL = url
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	api.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{api: api}
}

func (c *Client) Name() string { return "binance" }

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if req.Qty <= 0 {
		return exchange.OrderAck{}, exchange.Reject(0, fmt.Sprintf("non-positive quantity %f", req.Qty))
	}
	svc := c.api.NewCreateOrderService().
		Symbol(symbolpkg.ToExchange(req.Instrument)).
		Side(sideToBinance(req.Side)).
		NewClientOrderID(req.ClientID).
		Quantity(formatFloat(req.Qty))
	switch req.Type {
	case types.OrderLimit:
		svc = svc.Type(gobinance.OrderTypeLimit).
			TimeInForce(gobinance.TimeInForceTypeGTC).
			Price(formatFloat(req.Price))
	default:
		svc = svc.Type(gobinance.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return exchange.OrderAck{}, err
	}
	return exchange.OrderAck{
		ExchangeID: strconv.FormatInt(resp.OrderID, 10),
		SubmitTime: time.UnixMilli(resp.TransactTime),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, instrument, exchangeID string) error {
	orderID, err := strconv.ParseInt(exchangeID, 10, 64)
	if err != nil {
		return exchange.Reject(0, fmt.Sprintf("invalid exchange order id %q", exchangeID))
	}
	_, err = c.api.NewCancelOrderService().
		Symbol(symbolpkg.ToExchange(instrument)).
		OrderID(orderID).
		Do(ctx)
	if err != nil && isUnknownOrder(err) {
		// already terminal on the venue side; cancel is a no-op success
		return nil
	}
	return err
}

func (c *Client) OrderStatus(ctx context.Context, instrument, exchangeID string) (exchange.OrderState, error) {
	orderID, err := strconv.ParseInt(exchangeID, 10, 64)
	if err != nil {
		return exchange.OrderState{}, exchange.Reject(0, fmt.Sprintf("invalid exchange order id %q", exchangeID))
	}
	sym := symbolpkg.ToExchange(instrument)
	order, err := c.api.NewGetOrderService().Symbol(sym).OrderID(orderID).Do(ctx)
	if err != nil {
		return exchange.OrderState{}, err
	}
	state := exchange.OrderState{
		ExchangeID: exchangeID,
		ClientID:   order.ClientOrderID,
		Status:     statusFromBinance(order.Status),
		FilledQty:  parseFloat(order.ExecutedQuantity),
		UpdatedAt:  time.UnixMilli(order.UpdateTime),
	}
	if state.FilledQty > 0 {
		quote := parseFloat(order.CummulativeQuoteQuantity)
		if quote > 0 {
			state.AvgFill = quote / state.FilledQty
		}
		trades, err := c.api.NewListTradesService().Symbol(sym).OrderId(orderID).Do(ctx)
		if err != nil {
			return exchange.OrderState{}, err
		}
		for _, tr := range trades {
			qty := parseFloat(tr.Quantity)
			if !tr.IsBuyer {
				qty = -qty
			}
			state.Fills = append(state.Fills, types.Fill{
				OrderClientID: order.ClientOrderID,
				FillID:        strconv.FormatInt(tr.ID, 10),
				Instrument:    instrument,
				Qty:           qty,
				Price:         parseFloat(tr.Price),
				Fee:           parseFloat(tr.Commission),
				At:            time.UnixMilli(tr.Time),
			})
		}
	}
	return state, nil
}

func (c *Client) GetQuote(ctx context.Context, instrument string) (exchange.Quote, error) {
	sym := symbolpkg.ToExchange(instrument)
	books, err := c.api.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return exchange.Quote{}, err
	}
	if len(books) == 0 {
		return exchange.Quote{}, exchange.Transient(fmt.Errorf("no book ticker for %s", instrument))
	}
	prices, err := c.api.NewListPricesService().Symbol(sym).Do(ctx)
	if err != nil {
		return exchange.Quote{}, err
	}
	q := exchange.Quote{
		Instrument: instrument,
		Bid:        parseFloat(books[0].BidPrice),
		Ask:        parseFloat(books[0].AskPrice),
		At:         time.Now(),
	}
	if len(prices) > 0 {
		q.Last = parseFloat(prices[0].Price)
	}
	return q, nil
}

func (c *Client) GetBalance(ctx context.Context) (exchange.Balance, error) {
	acct, err := c.api.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, err
	}
	bal := exchange.Balance{Currency: "USDT", UpdatedAt: time.Now()}
	for _, b := range acct.Balances {
		if b.Asset != bal.Currency {
			continue
		}
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		bal.Available = free
		bal.Total = free + locked
	}
	return bal, nil
}

func sideToBinance(side types.OrderSide) gobinance.SideType {
	if side == types.SideSell {
		return gobinance.SideTypeSell
	}
	return gobinance.SideTypeBuy
}

func statusFromBinance(status gobinance.OrderStatusType) types.OrderStatus {
	switch status {
	case gobinance.OrderStatusTypeNew, gobinance.OrderStatusTypePendingCancel:
		return types.OrderPending
	case gobinance.OrderStatusTypePartiallyFilled:
		return types.OrderPartiallyFilled
	case gobinance.OrderStatusTypeFilled:
		return types.OrderFilled
	case gobinance.OrderStatusTypeCanceled, gobinance.OrderStatusTypeExpired:
		return types.OrderCancelled
	case gobinance.OrderStatusTypeRejected:
		return types.OrderRejected
	default:
		return types.OrderPending
	}
}

// -2011 UNKNOWN_ORDER: the order is gone (filled or already cancelled).
func isUnknownOrder(err error) bool {
	return err != nil && strings.Contains(err.Error(), "-2011")
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

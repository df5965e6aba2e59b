package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"bookmarket/internal/cart"
	"bookmarket/internal/gateway"
	"bookmarket/internal/session"
	"bookmarket/pkg/domain"
)

var (
	// ErrNotCancellable indicates a cancel attempt on an order that already
	// left the pending state. The check runs locally before any request goes
	// out.
	ErrNotCancellable = errors.New("order is not cancellable")
	// ErrNotPayable indicates a payment confirmation on an order that is not
	// pending.
	ErrNotPayable = errors.New("order is not awaiting payment")
)

// Client covers the order and payment surface: listing, checkout from the
// current cart, cancellation and payment confirmation.
type Client struct {
	gw       *gateway.Client
	sessions *session.Store
	carts    *cart.Synchronizer
	logger   *slog.Logger
}

// New constructs the orders client. carts may be nil; when present the cart
// is refreshed after a successful checkout so the emptied server cart is
// reflected locally.
func New(gw *gateway.Client, sessions *session.Store, carts *cart.Synchronizer, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{gw: gw, sessions: sessions, carts: carts, logger: logger}
}

// ordersEnvelope tolerates the list shapes the backend has shipped over
// time: {orders: [...]}, {items: [...]} or a bare array.
type ordersEnvelope struct {
	Orders []domain.Order `json:"orders"`
	Items  []domain.Order `json:"items"`
}

// List returns the signed-in user's orders, newest first as served.
func (c *Client) List(ctx context.Context) ([]domain.Order, error) {
	token := c.sessions.Token()
	if token == "" {
		return nil, session.ErrNotAuthenticated
	}
	var raw json.RawMessage
	if err := c.gw.Do(ctx, http.MethodGet, "/orders", nil, token, &raw); err != nil {
		return nil, err
	}
	return decodeOrders(raw)
}

func decodeOrders(raw json.RawMessage) ([]domain.Order, error) {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var list []domain.Order
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decode orders: %w", err)
		}
		return list, nil
	}
	var env ordersEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode orders: %w", err)
	}
	if env.Orders != nil {
		return env.Orders, nil
	}
	return env.Items, nil
}

// Get fetches a single order by id.
func (c *Client) Get(ctx context.Context, orderID string) (domain.Order, error) {
	token := c.sessions.Token()
	if token == "" {
		return domain.Order{}, session.ErrNotAuthenticated
	}
	var order domain.Order
	if err := c.gw.Do(ctx, http.MethodGet, "/orders/"+orderID, nil, token, &order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// CreateFromCart checks out the server-side cart into a new order. The
// backend empties the cart on success; the local copy is refreshed to match.
func (c *Client) CreateFromCart(ctx context.Context, shippingAddress string) (domain.Order, error) {
	token := c.sessions.Token()
	if token == "" {
		return domain.Order{}, session.ErrNotAuthenticated
	}
	shippingAddress = strings.TrimSpace(shippingAddress)
	if shippingAddress == "" {
		return domain.Order{}, fmt.Errorf("%w: shipping address required", session.ErrValidation)
	}
	payload := map[string]string{"shippingAddress": shippingAddress}
	var order domain.Order
	if err := c.gw.Do(ctx, http.MethodPost, "/orders", payload, token, &order); err != nil {
		return domain.Order{}, err
	}
	c.logger.Info("order created", "order", order.ID, "total", order.Total)
	if c.carts != nil {
		if err := c.carts.Refresh(ctx); err != nil {
			c.logger.Warn("cart refresh after checkout failed", "err", err)
		}
	}
	return order, nil
}

// Cancel cancels a pending order. Orders past pending are rejected locally
// with ErrNotCancellable so the UI never offers a doomed request.
func (c *Client) Cancel(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := c.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderPending {
		return domain.Order{}, fmt.Errorf("%w: status %s", ErrNotCancellable, order.Status)
	}
	var updated domain.Order
	if err := c.gw.Do(ctx, http.MethodPost, "/orders/"+orderID+"/cancel", nil, c.sessions.Token(), &updated); err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// ConfirmPayment marks a pending order as paid. The same pending-only guard
// applies as for cancellation.
func (c *Client) ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := c.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status != domain.OrderPending {
		return domain.Order{}, fmt.Errorf("%w: status %s", ErrNotPayable, order.Status)
	}
	var updated domain.Order
	if err := c.gw.Do(ctx, http.MethodPost, "/orders/"+orderID+"/payments", nil, c.sessions.Token(), &updated); err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// ListPayments returns the signed-in user's payment records.
func (c *Client) ListPayments(ctx context.Context) ([]domain.Payment, error) {
	token := c.sessions.Token()
	if token == "" {
		return nil, session.ErrNotAuthenticated
	}
	var env struct {
		Payments []domain.Payment `json:"payments"`
		Items    []domain.Payment `json:"items"`
	}
	if err := c.gw.Do(ctx, http.MethodGet, "/payments", nil, token, &env); err != nil {
		return nil, err
	}
	if env.Payments != nil {
		return env.Payments, nil
	}
	return env.Items, nil
}

package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/commercekit/paygate/internal/observability/logger"
	orderdomain "github.com/commercekit/paygate/internal/order/domain"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver maps a normalized event to the local order it concerns. Lookups
// run in priority order; the first hit wins and later strategies are never
// consulted.
type Resolver struct {
	orders          orderdomain.Repository
	sessionFallback bool
}

func New(orders orderdomain.Repository, sessionFallback bool) *Resolver {
	return &Resolver{orders: orders, sessionFallback: sessionFallback}
}

// Resolve finds the order for event. Returns ErrOrderNotFound when no
// strategy matches.
func (r *Resolver) Resolve(ctx context.Context, db *gorm.DB, event *paymentdomain.PaymentEvent) (*orderdomain.Order, error) {
	if event == nil || !event.HasIdentifiers() {
		return nil, fmt.Errorf("%w: event carries no identifiers", paymentdomain.ErrInvalidEvent)
	}

	method := event.Provider
	lookups := []struct {
		name string
		run  func() (*orderdomain.Order, error)
	}{
		{"transaction_id", func() (*orderdomain.Order, error) {
			return r.orders.FindByTransactionID(ctx, db, method, event.TransactionID)
		}},
		{"provider_order_id", func() (*orderdomain.Order, error) {
			return r.orders.FindByProviderOrderID(ctx, db, method, event.ProviderOrderID)
		}},
		{"subscription_id", func() (*orderdomain.Order, error) {
			return r.orders.FindBySubscriptionID(ctx, db, method, event.SubscriptionID)
		}},
		{"checkout_reference", func() (*orderdomain.Order, error) {
			return r.orders.FindByReference(ctx, db, event.Reference)
		}},
	}

	for _, lookup := range lookups {
		order, err := lookup.run()
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil, err
		}
	}

	if r.sessionFallback && event.SessionID != "" {
		order, err := r.resolveBySession(ctx, db, event)
		if err == nil {
			logger.FromContext(ctx).Warn("order resolved via session fallback",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
				zap.Int64("order_id", int64(order.ID)),
			)
			return order, nil
		}
		if !errors.Is(err, orderdomain.ErrOrderNotFound) {
			return nil, err
		}
	}

	return nil, orderdomain.ErrOrderNotFound
}

// resolveBySession matches only when exactly one pending order exists for the
// session and payment method. Anything else is too ambiguous to act on.
func (r *Resolver) resolveBySession(ctx context.Context, db *gorm.DB, event *paymentdomain.PaymentEvent) (*orderdomain.Order, error) {
	pending, err := r.orders.FindPendingByMethod(ctx, db, event.SessionID, event.Provider)
	if err != nil {
		return nil, err
	}
	if len(pending) != 1 {
		return nil, orderdomain.ErrOrderNotFound
	}
	return pending[0], nil
}

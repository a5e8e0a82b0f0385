package reconciler

import (
	"context"
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/commercekit/paygate/internal/clock"
	"github.com/commercekit/paygate/internal/events"
	"github.com/commercekit/paygate/internal/observability/logger"
	orderdomain "github.com/commercekit/paygate/internal/order/domain"
	paymentdomain "github.com/commercekit/paygate/internal/payment/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Outcome is what reconciliation did with the event.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeIgnored        Outcome = "ignored"
)

// minAmountTolerance is the floor for the mismatch warning threshold in
// minor units. The provider's signal is honored either way; drift beyond the
// threshold is surfaced for manual reconciliation.
const minAmountTolerance = 50

// Reconciler applies a normalized event to its order inside a single
// transaction. The row lock serializes concurrent deliveries for the same
// order; the outbox write commits atomically with the order mutation.
type Reconciler struct {
	orders orderdomain.Repository
	outbox *events.Outbox
	clk    clock.Clock
}

func New(orders orderdomain.Repository, outbox *events.Outbox, clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Reconciler{orders: orders, outbox: outbox, clk: clk}
}

// Reconcile locks the order, applies the event and persists the result. The
// whole unit commits or rolls back together.
func (r *Reconciler) Reconcile(ctx context.Context, db *gorm.DB, orderID snowflake.ID, event *paymentdomain.PaymentEvent) (Outcome, error) {
	var outcome Outcome
	err := db.Transaction(func(tx *gorm.DB) error {
		order, err := r.orders.LockForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		applied, publish, err := r.apply(ctx, order, event)
		if err != nil {
			return err
		}
		outcome = applied
		if applied != OutcomeApplied {
			return nil
		}

		if err := r.orders.Update(ctx, tx, order); err != nil {
			return err
		}
		if publish != "" {
			return r.outbox.PublishTx(ctx, tx, events.Event{
				OrderID: order.ID,
				Type:    publish,
				Payload: events.OrderPayload{
					OrderID:         order.ID.String(),
					Provider:        event.Provider,
					ProviderEventID: event.ProviderEventID,
					TransactionID:   event.TransactionID,
					Status:          string(order.PaymentStatus),
					Amount:          event.Amount,
					Currency:        event.Currency,
				}.ToMap(),
				DedupeKey: event.Provider + ":" + event.ProviderEventID,
			})
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// apply mutates order in memory and reports which outbox event to publish.
func (r *Reconciler) apply(ctx context.Context, order *orderdomain.Order, event *paymentdomain.PaymentEvent) (Outcome, string, error) {
	log := logger.FromContext(ctx).With(
		zap.Int64("order_id", int64(order.ID)),
		zap.String("provider", event.Provider),
		zap.String("event_kind", string(event.Kind)),
	)

	switch event.Kind {
	case paymentdomain.EventKindPaymentSucceeded, paymentdomain.EventKindOrderCompleted:
		return r.applyPayment(log, order, event)

	case paymentdomain.EventKindPaymentFailed:
		if order.PaymentStatus == orderdomain.PaymentStatusPaid {
			log.Warn("failure event for already paid order ignored")
			return OutcomeIgnored, "", nil
		}
		if order.PaymentStatus.IsTerminal() {
			return OutcomeIgnored, "", nil
		}
		order.PaymentStatus = orderdomain.PaymentStatusFailed
		order.SetMetadata(orderdomain.MetaTransactionID, event.TransactionID)
		order.SetMetadata(orderdomain.MetaFailureReason, "payment_failed")
		return OutcomeApplied, events.EventOrderFailed, nil

	case paymentdomain.EventKindPaymentCanceled:
		if order.PaymentStatus == orderdomain.PaymentStatusPaid {
			log.Warn("cancel event for already paid order ignored")
			return OutcomeIgnored, "", nil
		}
		if order.PaymentStatus.IsTerminal() {
			return OutcomeAlreadyApplied, "", nil
		}
		order.PaymentStatus = orderdomain.PaymentStatusCanceled
		return OutcomeApplied, events.EventOrderCanceled, nil

	case paymentdomain.EventKindRefunded:
		return r.applyRefund(log, order, event)

	case paymentdomain.EventKindOrderApproved:
		if order.PaymentStatus != orderdomain.PaymentStatusPending {
			return OutcomeAlreadyApplied, "", nil
		}
		order.PaymentStatus = orderdomain.PaymentStatusOnHold
		order.SetMetadata(orderdomain.MetaOrderID, event.ProviderOrderID)
		return OutcomeApplied, events.EventOrderOnHold, nil

	case paymentdomain.EventKindInvoicePaid:
		order.SetMetadata(orderdomain.MetaInvoiceStatus, "paid")
		order.SetMetadata(orderdomain.MetaSubscriptionID, event.SubscriptionID)
		if order.PaymentStatus == orderdomain.PaymentStatusPaid {
			return OutcomeApplied, events.EventSubscriptionStateChanged, nil
		}
		return r.applyPayment(log, order, event)

	case paymentdomain.EventKindInvoiceFailed:
		order.SetMetadata(orderdomain.MetaInvoiceStatus, "failed")
		order.SetMetadata(orderdomain.MetaSubscriptionID, event.SubscriptionID)
		if order.PaymentStatus == orderdomain.PaymentStatusPending {
			order.PaymentStatus = orderdomain.PaymentStatusFailed
			order.SetMetadata(orderdomain.MetaFailureReason, "invoice_payment_failed")
		}
		return OutcomeApplied, events.EventSubscriptionInvoiceFailed, nil

	case paymentdomain.EventKindSubscriptionCreated,
		paymentdomain.EventKindSubscriptionUpdated,
		paymentdomain.EventKindSubscriptionCanceled:
		order.SetMetadata(orderdomain.MetaSubscriptionID, event.SubscriptionID)
		return OutcomeApplied, events.EventSubscriptionStateChanged, nil

	default:
		return "", "", fmt.Errorf("%w: unhandled kind %s", paymentdomain.ErrInvalidEvent, event.Kind)
	}
}

func (r *Reconciler) applyPayment(log *zap.Logger, order *orderdomain.Order, event *paymentdomain.PaymentEvent) (Outcome, string, error) {
	if order.PaymentStatus == orderdomain.PaymentStatusPaid {
		return OutcomeAlreadyApplied, "", nil
	}
	if order.PaymentStatus.IsTerminal() {
		log.Warn("payment event for terminal order ignored",
			zap.String("status", string(order.PaymentStatus)))
		return OutcomeIgnored, "", nil
	}

	order.SetMetadata(orderdomain.MetaTransactionID, event.TransactionID)
	order.SetMetadata(orderdomain.MetaOrderID, event.ProviderOrderID)
	order.SetMetadata(orderdomain.MetaSubscriptionID, event.SubscriptionID)

	if event.Currency != "" && event.Currency != order.Currency {
		log.Warn("currency mismatch, order placed on hold",
			zap.String("order_currency", order.Currency),
			zap.String("event_currency", event.Currency))
		order.PaymentStatus = orderdomain.PaymentStatusOnHold
		order.SetMetadata(orderdomain.MetaFailureReason, "currency_mismatch")
		return OutcomeApplied, events.EventOrderOnHold, nil
	}

	if event.Amount > 0 {
		diff := event.Amount - order.TotalAmount
		if diff < 0 {
			diff = -diff
		}
		// The provider's signal wins even on a mismatch; the drift is
		// logged and recorded for manual reconciliation.
		if diff > amountTolerance(order.TotalAmount) {
			log.Warn("amount mismatch beyond tolerance",
				zap.Int64("expected", order.TotalAmount),
				zap.Int64("received", event.Amount))
			order.SetMetadata("amount_mismatch", event.Amount)
		}
	}

	now := r.clk.Now().UTC()
	order.PaymentStatus = orderdomain.PaymentStatusPaid
	order.PaidAt = &now
	return OutcomeApplied, events.EventOrderPaid, nil
}

func (r *Reconciler) applyRefund(log *zap.Logger, order *orderdomain.Order, event *paymentdomain.PaymentEvent) (Outcome, string, error) {
	if order.MetadataString(orderdomain.MetaRefundTxnID) == event.TransactionID && event.TransactionID != "" {
		return OutcomeAlreadyApplied, "", nil
	}

	switch order.PaymentStatus {
	case orderdomain.PaymentStatusPaid, orderdomain.PaymentStatusPartiallyRefunded:
	case orderdomain.PaymentStatusRefunded:
		return OutcomeAlreadyApplied, "", nil
	default:
		log.Warn("refund event for unpaid order ignored",
			zap.String("status", string(order.PaymentStatus)))
		return OutcomeIgnored, "", nil
	}

	refunded := metadataInt64(order, orderdomain.MetaRefundAmount) + event.Amount
	order.SetMetadata(orderdomain.MetaRefundAmount, refunded)
	order.SetMetadata(orderdomain.MetaRefundTxnID, event.TransactionID)

	// A refund within tolerance of the full total counts as a full refund.
	if refunded+amountTolerance(order.TotalAmount) >= order.TotalAmount {
		order.PaymentStatus = orderdomain.PaymentStatusRefunded
		return OutcomeApplied, events.EventOrderRefunded, nil
	}
	order.PaymentStatus = orderdomain.PaymentStatusPartiallyRefunded
	return OutcomeApplied, events.EventOrderPartiallyRefunded, nil
}

// amountTolerance allows rounding drift of up to 1% of the order total, but
// never less than minAmountTolerance minor units.
func amountTolerance(total int64) int64 {
	tolerance := total / 100
	if tolerance < minAmountTolerance {
		return minAmountTolerance
	}
	return tolerance
}

// metadataInt64 reads a numeric metadata value. JSON round-trips store
// numbers as float64 or string depending on the driver.
func metadataInt64(order *orderdomain.Order, key string) int64 {
	if order == nil || order.ProviderMetadata == nil {
		return 0
	}
	switch value := order.ProviderMetadata[key].(type) {
	case int64:
		return value
	case float64:
		return int64(value)
	case string:
		parsed, _ := strconv.ParseInt(value, 10, 64)
		return parsed
	default:
		return 0
	}
}

// Package subscriber consumes order lifecycle events from NATS and routes
// them into the tax lifecycle.
package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dukerupert/stripetax/internal/domain"
	"github.com/dukerupert/stripetax/internal/telemetry"
)

// Subject for order refund notifications published by the host platform.
const SubjectOrderRefundCreated = "order.refund_created"

// queueGroup makes delivery load-balanced across service replicas.
const queueGroup = "stripe-tax"

// handlerTimeout bounds one event's processing, reversal API call included.
const handlerTimeout = 30 * time.Second

// RefundService is the slice of the tax orchestration service the
// subscriber needs.
type RefundService interface {
	HandleOrderRefund(ctx context.Context, orderID, refundID string) (*domain.Order, error)
}

// refundCreatedPayload is the wire shape of an order.refund_created event.
type refundCreatedPayload struct {
	ID       string `json:"id"`
	RefundID string `json:"refund_id"`
}

// Subscriber listens for order events and drives tax reversals.
//
// Handler failures are logged and reported, never propagated back to the
// bus: the host platform treats refund processing as fire-and-forget, and a
// failed reversal is resolved operationally, not by redelivery.
type Subscriber struct {
	conn     *nats.Conn
	tax      RefundService
	logger   *slog.Logger
	handlers map[string]nats.MsgHandler
	subs     []*nats.Subscription
}

// New wires the subscriber with its subject table. The table is fixed at
// construction; Start subscribes every entry.
func New(conn *nats.Conn, tax RefundService, logger *slog.Logger) (*Subscriber, error) {
	s := &Subscriber{
		conn:   conn,
		tax:    tax,
		logger: logger,
	}
	s.handlers = map[string]nats.MsgHandler{
		SubjectOrderRefundCreated: s.handleRefundCreated,
	}
	for subject, fn := range s.handlers {
		if fn == nil {
			return nil, fmt.Errorf("subscriber: nil handler registered for subject %s", subject)
		}
	}
	return s, nil
}

// Start subscribes to every registered subject.
func (s *Subscriber) Start() error {
	for subject, fn := range s.handlers {
		sub, err := s.conn.QueueSubscribe(subject, queueGroup, fn)
		if err != nil {
			return fmt.Errorf("subscriber: failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
		s.logger.Info("subscribed to subject", "subject", subject, "queue", queueGroup)
	}
	return nil
}

// Stop drains all subscriptions, letting in-flight handlers finish.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil {
			s.logger.Warn("failed to drain subscription", "subject", sub.Subject, "error", err)
		}
	}
	s.subs = nil
}

func (s *Subscriber) handleRefundCreated(msg *nats.Msg) {
	var payload refundCreatedPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		s.logger.Error("malformed refund event payload", "subject", msg.Subject, "error", err)
		telemetry.CaptureError(err, map[string]interface{}{"subject": msg.Subject})
		return
	}
	if payload.ID == "" || payload.RefundID == "" {
		s.logger.Error("refund event missing order or refund id",
			"subject", msg.Subject,
			"order_id", payload.ID,
			"refund_id", payload.RefundID,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	order, err := s.tax.HandleOrderRefund(ctx, payload.ID, payload.RefundID)
	if err != nil {
		s.logger.Error("failed to reverse tax transaction for refund",
			"order_id", payload.ID,
			"refund_id", payload.RefundID,
			"error", err,
		)
		telemetry.CaptureError(err, map[string]interface{}{
			"order_id":  payload.ID,
			"refund_id": payload.RefundID,
		})
		return
	}

	s.logger.Info("tax reversal recorded for refund",
		"order_id", order.ID,
		"refund_id", payload.RefundID,
		"reversal_id", order.Metadata[domain.MetaReversalTransaction],
	)
}

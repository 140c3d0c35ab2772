package subscriber

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stripetax/internal/domain"
)

type fakeRefundService struct {
	calls    int
	orderID  string
	refundID string
	err      error
}

func (f *fakeRefundService) HandleOrderRefund(ctx context.Context, orderID, refundID string) (*domain.Order, error) {
	f.calls++
	f.orderID = orderID
	f.refundID = refundID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Order{
		ID:       orderID,
		Metadata: map[string]string{domain.MetaReversalTransaction: "tax_rev_1"},
	}, nil
}

func newTestSubscriber(t *testing.T, tax RefundService) *Subscriber {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := New(nil, tax, logger)
	require.NoError(t, err)
	return s
}

func refundMsg(data string) *nats.Msg {
	return &nats.Msg{Subject: SubjectOrderRefundCreated, Data: []byte(data)}
}

func TestHandleRefundCreated_Dispatches(t *testing.T) {
	tax := &fakeRefundService{}
	s := newTestSubscriber(t, tax)

	s.handleRefundCreated(refundMsg(`{"id":"order_1","refund_id":"refund_1"}`))

	assert.Equal(t, 1, tax.calls)
	assert.Equal(t, "order_1", tax.orderID)
	assert.Equal(t, "refund_1", tax.refundID)
}

func TestHandleRefundCreated_MalformedPayloadIgnored(t *testing.T) {
	tax := &fakeRefundService{}
	s := newTestSubscriber(t, tax)

	s.handleRefundCreated(refundMsg(`{not json`))

	assert.Equal(t, 0, tax.calls)
}

func TestHandleRefundCreated_MissingIDsIgnored(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing order id", `{"refund_id":"refund_1"}`},
		{"missing refund id", `{"id":"order_1"}`},
		{"empty payload", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tax := &fakeRefundService{}
			s := newTestSubscriber(t, tax)

			s.handleRefundCreated(refundMsg(tt.data))

			assert.Equal(t, 0, tax.calls)
		})
	}
}

func TestHandleRefundCreated_ServiceErrorSwallowed(t *testing.T) {
	tax := &fakeRefundService{err: domain.Conflict("tax.handle_order_refund", "already reversed")}
	s := newTestSubscriber(t, tax)

	// Must not panic or propagate; errors are logged and reported only.
	s.handleRefundCreated(refundMsg(`{"id":"order_1","refund_id":"refund_2"}`))

	assert.Equal(t, 1, tax.calls)
}

func TestSubjectTableComplete(t *testing.T) {
	s := newTestSubscriber(t, &fakeRefundService{})
	require.Contains(t, s.handlers, SubjectOrderRefundCreated)
}

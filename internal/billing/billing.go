package billing

import (
	"context"

	"github.com/dukerupert/stripetax/internal/domain"
)

// Tax code applied to the aggregate shipping line. Shipping is always taxed
// as one line with Stripe's generic freight/shipping code.
const ShippingTaxCode = "txcd_92010001"

// Provider defines the interface to the remote tax service.
// Implementations: StripeProvider, MockProvider.
//
// The provider performs no retries and no caching; remote failures (rate
// limits, validation errors, auth errors) are propagated to the caller.
// Idempotency of transaction creation is the remote service's concern.
type Provider interface {
	// FetchTaxCalculation creates a tax calculation for the given address,
	// line items and aggregate shipping cost. Synchronous remote call.
	FetchTaxCalculation(ctx context.Context, params CalculationParams) (*TaxCalculation, error)

	// CreateTransactionFromCalculation materializes a transaction from a
	// previously created calculation, tagged with a caller-supplied
	// reference (e.g. a payment intent id).
	CreateTransactionFromCalculation(ctx context.Context, calculationID, reference string) (*TaxTransaction, error)

	// CreateReversal reverses a transaction in full, tagged with a refund
	// reference. Partial reversals are not supported.
	CreateReversal(ctx context.Context, transactionID, refundReference string) (*TaxTransaction, error)

	// VerifyWebhookSignature verifies that a webhook request is authentic
	// and returns the raw event payload type and body for dispatch.
	VerifyWebhookSignature(payload []byte, sigHeader string, secret string) (*WebhookEvent, error)
}

// CalculationParams contains everything one calculation call needs.
type CalculationParams struct {
	Address      domain.Address
	CurrencyCode string
	LineItems    []LineItem
	ShippingCost int64
}

// LineItem is one line of a calculation request. Reference is the string
// used to correlate response line items back to request line items; the
// match is exact, case- and whitespace-sensitive.
type LineItem struct {
	Amount    int64  `json:"amount"`
	TaxCode   string `json:"tax_code"`
	Reference string `json:"reference"`
}

// TaxCalculation is the remote quote of taxes owed for one
// (address, line items, shipping cost) combination. It is ephemeral on the
// remote side and cached locally by input fingerprint, so it must stay
// JSON-serializable.
type TaxCalculation struct {
	ID        string               `json:"id"`
	ExpiresAt int64                `json:"expires_at"`
	LineItems []CalculationLine    `json:"line_items"`
	Shipping  *ShippingCalculation `json:"shipping,omitempty"`
}

// CalculationLine is the per-line result of a calculation.
type CalculationLine struct {
	Reference string         `json:"reference"`
	TaxCode   string         `json:"tax_code"`
	Amount    int64          `json:"amount"`
	AmountTax int64          `json:"amount_tax"`
	Breakdown []TaxBreakdown `json:"breakdown"`
}

// ShippingCalculation is the tax result for the aggregate shipping line.
type ShippingCalculation struct {
	Amount    int64          `json:"amount"`
	AmountTax int64          `json:"amount_tax"`
	TaxCode   string         `json:"tax_code"`
	Breakdown []TaxBreakdown `json:"breakdown"`
}

// TaxBreakdown is one jurisdiction's share of a line's tax.
// Percentage is the rate as a percentage (6 means 6%).
type TaxBreakdown struct {
	Amount           int64   `json:"amount"`
	Jurisdiction     string  `json:"jurisdiction"`
	Percentage       float64 `json:"percentage"`
	TaxabilityReason string  `json:"taxability_reason"`
}

// Collecting reports whether this breakdown entry carries an actual rate.
// "not_collecting" outcomes come back with no rate details and must map to
// a zero rate, not an error.
func (b TaxBreakdown) Collecting() bool {
	return b.TaxabilityReason != "not_collecting"
}

// TaxTransaction is the remote record that a calculation was charged
// (or, for reversals, refunded), linked to a caller-supplied reference.
type TaxTransaction struct {
	ID        string `json:"id"`
	Reference string `json:"reference"`
	Type      string `json:"type"`
}

// WebhookEvent is a verified webhook envelope: the event type plus the raw
// object payload for the matched handler to decode.
type WebhookEvent struct {
	ID        string
	Type      string
	ObjectRaw []byte
}

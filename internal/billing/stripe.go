package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/tax/calculation"
	"github.com/stripe/stripe-go/v83/tax/transaction"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/dukerupert/stripetax/internal/telemetry"
)

// StripeProvider implements Provider against the Stripe Tax API.
//
// All state lives on the remote side; the provider holds no local state
// beyond the configured API key. Failure conditions (invalid calculation id,
// expired calculation, network error) surface as opaque *StripeError values.
type StripeProvider struct{}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider configures the Stripe SDK and returns a provider.
func NewStripeProvider(apiKey string) (*StripeProvider, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}
	stripe.Key = apiKey
	return &StripeProvider{}, nil
}

// observeAPILatency records the duration of one Stripe API call.
func observeAPILatency(operation string, start time.Time) {
	if telemetry.Business != nil {
		telemetry.Business.StripeAPILatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// FetchTaxCalculation creates a tax calculation with Stripe Tax.
func (p *StripeProvider) FetchTaxCalculation(ctx context.Context, params CalculationParams) (*TaxCalculation, error) {
	calcParams := buildCalculationParams(params)
	calcParams.Context = ctx

	defer observeAPILatency("tax_calculation_create", time.Now())
	calc, err := calculation.New(calcParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return mapCalculation(calc), nil
}

// CreateTransactionFromCalculation materializes a transaction from a calculation.
func (p *StripeProvider) CreateTransactionFromCalculation(ctx context.Context, calculationID, reference string) (*TaxTransaction, error) {
	txnParams := &stripe.TaxTransactionCreateFromCalculationParams{
		Calculation: stripe.String(calculationID),
		Reference:   stripe.String(reference),
	}
	txnParams.Context = ctx
	txnParams.AddExpand("line_items")

	defer observeAPILatency("tax_transaction_create", time.Now())
	txn, err := transaction.CreateFromCalculation(txnParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return mapTransaction(txn), nil
}

// CreateReversal creates a full reversal of a transaction.
func (p *StripeProvider) CreateReversal(ctx context.Context, transactionID, refundReference string) (*TaxTransaction, error) {
	revParams := &stripe.TaxTransactionCreateReversalParams{
		Mode:                stripe.String("full"),
		OriginalTransaction: stripe.String(transactionID),
		Reference:           stripe.String(refundReference),
	}
	revParams.Context = ctx
	revParams.AddExpand("line_items")

	defer observeAPILatency("tax_transaction_reversal", time.Now())
	txn, err := transaction.CreateReversal(revParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return mapTransaction(txn), nil
}

// VerifyWebhookSignature verifies a Stripe webhook signature and returns the
// verified event envelope. The payload is never parsed when verification fails.
func (p *StripeProvider) VerifyWebhookSignature(payload []byte, sigHeader string, secret string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWebhookSignature, err)
	}

	return &WebhookEvent{
		ID:        event.ID,
		Type:      string(event.Type),
		ObjectRaw: event.Data.Raw,
	}, nil
}

// buildCalculationParams converts calculation inputs to Stripe's format.
// The shipping cost, when present, is a single aggregate line with the
// generic shipping tax code.
func buildCalculationParams(params CalculationParams) *stripe.TaxCalculationParams {
	lineItems := make([]*stripe.TaxCalculationLineItemParams, 0, len(params.LineItems))
	for _, item := range params.LineItems {
		lineItems = append(lineItems, &stripe.TaxCalculationLineItemParams{
			Amount:    stripe.Int64(item.Amount),
			TaxCode:   stripe.String(item.TaxCode),
			Reference: stripe.String(item.Reference),
		})
	}

	calcParams := &stripe.TaxCalculationParams{
		Currency: stripe.String(params.CurrencyCode),
		CustomerDetails: &stripe.TaxCalculationCustomerDetailsParams{
			Address: &stripe.AddressParams{
				Line1:      stripe.String(params.Address.Line1),
				Line2:      stripe.String(params.Address.Line2),
				City:       stripe.String(params.Address.City),
				State:      stripe.String(params.Address.Province),
				PostalCode: stripe.String(params.Address.PostalCode),
				Country:    stripe.String(params.Address.CountryCode),
			},
			AddressSource: stripe.String("shipping"),
		},
		LineItems: lineItems,
		ShippingCost: &stripe.TaxCalculationShippingCostParams{
			Amount:  stripe.Int64(params.ShippingCost),
			TaxCode: stripe.String(ShippingTaxCode),
		},
	}
	calcParams.AddExpand("line_items.data.tax_breakdown")

	return calcParams
}

// mapCalculation converts a Stripe calculation into the local representation
// stored in the cache and consumed by the orchestration service.
func mapCalculation(calc *stripe.TaxCalculation) *TaxCalculation {
	out := &TaxCalculation{
		ID:        calc.ID,
		ExpiresAt: calc.ExpiresAt,
	}

	if calc.LineItems != nil {
		out.LineItems = make([]CalculationLine, 0, len(calc.LineItems.Data))
		for _, li := range calc.LineItems.Data {
			line := CalculationLine{
				Reference: li.Reference,
				TaxCode:   li.TaxCode,
				Amount:    li.Amount,
				AmountTax: li.AmountTax,
			}
			for _, b := range li.TaxBreakdown {
				line.Breakdown = append(line.Breakdown, mapLineBreakdown(b))
			}
			out.LineItems = append(out.LineItems, line)
		}
	}

	if calc.ShippingCost != nil {
		shipping := &ShippingCalculation{
			Amount:    calc.ShippingCost.Amount,
			AmountTax: calc.ShippingCost.AmountTax,
			TaxCode:   calc.ShippingCost.TaxCode,
		}
		for _, b := range calc.ShippingCost.TaxBreakdown {
			shipping.Breakdown = append(shipping.Breakdown, mapShippingBreakdown(b))
		}
		out.Shipping = shipping
	}

	return out
}

func mapLineBreakdown(b *stripe.TaxCalculationLineItemTaxBreakdown) TaxBreakdown {
	out := TaxBreakdown{
		Amount:           b.Amount,
		TaxabilityReason: string(b.TaxabilityReason),
	}
	if b.Jurisdiction != nil {
		out.Jurisdiction = b.Jurisdiction.DisplayName
	}
	if b.TaxRateDetails != nil {
		out.Percentage = parsePercentage(b.TaxRateDetails.PercentageDecimal)
	}
	return out
}

func mapShippingBreakdown(b *stripe.TaxCalculationShippingCostTaxBreakdown) TaxBreakdown {
	out := TaxBreakdown{
		Amount:           b.Amount,
		TaxabilityReason: string(b.TaxabilityReason),
	}
	if b.Jurisdiction != nil {
		out.Jurisdiction = b.Jurisdiction.DisplayName
	}
	if b.TaxRateDetails != nil {
		out.Percentage = parsePercentage(b.TaxRateDetails.PercentageDecimal)
	}
	return out
}

func mapTransaction(txn *stripe.TaxTransaction) *TaxTransaction {
	return &TaxTransaction{
		ID:        txn.ID,
		Reference: txn.Reference,
		Type:      string(txn.Type),
	}
}

// parsePercentage parses Stripe's percentage_decimal string (e.g. "6.0").
// An empty or malformed value maps to 0.
func parsePercentage(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// wrapStripeError converts a Stripe SDK error into a *StripeError.
func wrapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return &StripeError{
			Message:       stripeErr.Msg,
			Code:          string(stripeErr.Code),
			RequestID:     stripeErr.RequestID,
			OriginalError: err,
		}
	}
	return &StripeError{
		Message:       err.Error(),
		OriginalError: err,
	}
}

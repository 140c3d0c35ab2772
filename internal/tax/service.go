// Package tax orchestrates the tax lifecycle against the remote tax service:
// it shapes calculation requests, applies the cache-or-fetch protocol, maps
// responses into the host's tax-line model, and drives the
// calculation -> transaction -> reversal lifecycle through cart and order
// metadata.
package tax

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/stripetax/internal/billing"
	"github.com/dukerupert/stripetax/internal/cache"
	"github.com/dukerupert/stripetax/internal/domain"
	"github.com/dukerupert/stripetax/internal/telemetry"
)

// Name given to product tax lines. The remote service does not name lines;
// the host's totals UI expects one.
const salesTaxName = "Sales Tax"

// shippingTaxName is used for shipping lines that carry no rate hints.
const shippingTaxName = "Shipping Tax"

// Service is the tax orchestration service.
type Service struct {
	provider billing.Provider
	carts    domain.CartStore
	orders   domain.OrderStore
	cache    cache.Service
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewService wires the orchestration service with its collaborators.
// cacheTTL bounds how long identical calculation inputs are served from
// cache; the remote service bills per calculation call.
func NewService(
	provider billing.Provider,
	carts domain.CartStore,
	orders domain.OrderStore,
	cacheSvc cache.Service,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *Service {
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	return &Service{
		provider: provider,
		carts:    carts,
		orders:   orders,
		cache:    cacheSvc,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// GetTaxLines computes tax lines for the given item and shipping lines.
//
// Incomplete inputs (missing address fields, missing region, empty items)
// degrade to zero-rate lines instead of failing: checkout must proceed even
// when tax data is incomplete. Remote failures, by contrast, are returned
// unmodified.
func (s *Service) GetTaxLines(
	ctx context.Context,
	itemLines []domain.ItemTaxCalculationLine,
	shippingLines []domain.ShippingTaxCalculationLine,
	calcCtx domain.CalculationContext,
) ([]domain.TaxLine, error) {
	if !validForCalculation(calcCtx, itemLines) {
		s.logger.Debug("tax calculation inputs incomplete, returning zero-rate lines")
		if telemetry.Business != nil {
			telemetry.Business.TaxLinesDegraded.Inc()
		}
		return emptyTaxLines(itemLines), nil
	}

	lineItems := buildLineItems(itemLines, calcCtx.AllocationMap, calcCtx.Region.TaxCode)

	var shippingCost int64
	for _, method := range calcCtx.ShippingMethods {
		shippingCost += method.Price
	}

	calc, err := s.resolveCalculation(ctx, billing.CalculationParams{
		Address:      calcCtx.ShippingAddress,
		CurrencyCode: calcCtx.Region.CurrencyCode,
		LineItems:    lineItems,
		ShippingCost: shippingCost,
	})
	if err != nil {
		return nil, err
	}

	// All items in one request belong to the same cart; the calculation id
	// is recorded once, keyed off the first item. Best-effort: a failed
	// write must not block returning tax lines to the totals pipeline.
	if cartID := itemLines[0].Item.CartID; cartID != "" {
		s.recordCalculation(ctx, cartID, calc.ID)
	}

	taxLines := make([]domain.TaxLine, 0, len(itemLines)+len(shippingLines))
	for _, line := range itemLines {
		taxLines = append(taxLines, s.mapItemLine(line, calc))
	}
	for _, line := range shippingLines {
		taxLines = append(taxLines, mapShippingLine(line, calc)...)
	}

	return taxLines, nil
}

// CreateTaxTransaction converts a succeeded payment into a finalized tax
// transaction for the cart named by the event's resource_id metadata.
// The cart must already carry a calculation id; a payment for a cart that
// never ran a calculation is an ordering bug in the surrounding workflow.
func (s *Service) CreateTaxTransaction(ctx context.Context, event domain.PaymentEvent) (*billing.TaxTransaction, error) {
	const op = "tax.create_transaction"

	cartID := event.Metadata["resource_id"]
	if cartID == "" {
		return nil, domain.Invalid(op, "metadata.resource_id is required")
	}

	cart, err := s.carts.Retrieve(ctx, cartID)
	if err != nil {
		return nil, err
	}

	calculationID := cart.Metadata[domain.MetaTaxCalculationID]
	if calculationID == "" {
		return nil, domain.Conflict(op, fmt.Sprintf("cart %s has no tax calculation on record", cartID))
	}

	state := domain.LifecycleFromMetadata(cart.Metadata)
	if err := state.ValidateTransition(op, domain.StateTransacted); err != nil {
		return nil, err
	}

	txn, err := s.provider.CreateTransactionFromCalculation(ctx, calculationID, event.ID)
	if err != nil {
		return nil, err
	}

	if _, err := s.carts.UpdateMetadata(ctx, cartID, map[string]string{
		domain.MetaTaxTransactionID: txn.ID,
		domain.MetaPaymentIntent:    event.ID,
		domain.MetaTaxReference:     txn.Reference,
	}); err != nil {
		return nil, fmt.Errorf("failed to persist tax transaction on cart %s: %w", cartID, err)
	}

	if telemetry.Business != nil {
		telemetry.Business.TransactionsCreated.Inc()
	}
	s.logger.Info("tax transaction created",
		"cart_id", cartID,
		"calculation_id", calculationID,
		"transaction_id", txn.ID,
		"payment_intent", event.ID,
	)

	return txn, nil
}

// HandleOrderRefund reverses the order's tax transaction in full for the
// given refund and records the reversal on the order's metadata.
func (s *Service) HandleOrderRefund(ctx context.Context, orderID, refundID string) (*domain.Order, error) {
	const op = "tax.handle_order_refund"

	order, err := s.orders.Retrieve(ctx, orderID)
	if err != nil {
		return nil, err
	}

	transactionID := order.Metadata[domain.MetaTaxTransactionID]
	if transactionID == "" {
		return nil, domain.Conflict(op, fmt.Sprintf("order %s has no tax transaction to reverse", orderID))
	}

	state := domain.LifecycleFromMetadata(order.Metadata)
	if err := state.ValidateTransition(op, domain.StateReversed); err != nil {
		return nil, err
	}

	reversal, err := s.provider.CreateReversal(ctx, transactionID, refundID)
	if err != nil {
		return nil, err
	}

	// Only full reversals are modeled. A second refund for the same order
	// is rejected by the lifecycle check above rather than overwriting the
	// recorded reversal.
	updated, err := s.orders.UpdateMetadata(ctx, orderID, map[string]string{
		domain.MetaReversalTransaction: reversal.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist reversal on order %s: %w", orderID, err)
	}

	if telemetry.Business != nil {
		telemetry.Business.ReversalsCreated.Inc()
	}
	s.logger.Info("tax transaction reversed",
		"order_id", orderID,
		"transaction_id", transactionID,
		"reversal_id", reversal.ID,
		"refund_id", refundID,
	)

	return updated, nil
}

// resolveCalculation applies the cache-or-fetch protocol: identical
// (address, line items, shipping cost) inputs within the TTL window are
// served from cache; everything else costs one remote call.
//
// Cache failures are logged and treated as misses; the cache exists to
// bound remote cost, never to gate checkout.
func (s *Service) resolveCalculation(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
	key := calculationFingerprint(params)

	var cached billing.TaxCalculation
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("tax calculation cache read failed", "error", err)
	}
	if found {
		if telemetry.Business != nil {
			telemetry.Business.CalculationCacheHits.Inc()
		}
		return &cached, nil
	}

	calc, err := s.provider.FetchTaxCalculation(ctx, params)
	if err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.CalculationsFetched.Inc()
	}

	if err := s.cache.Set(ctx, key, calc, s.cacheTTL); err != nil {
		s.logger.Warn("tax calculation cache write failed", "error", err)
	}

	return calc, nil
}

// recordCalculation persists the calculation id onto the cart's metadata.
// The lifecycle is validated first: once a transaction exists the
// calculation on record must not change.
func (s *Service) recordCalculation(ctx context.Context, cartID, calculationID string) {
	cart, err := s.carts.Retrieve(ctx, cartID)
	if err != nil {
		s.logger.Warn("failed to load cart for calculation metadata write",
			"cart_id", cartID,
			"error", err,
		)
		return
	}

	state := domain.LifecycleFromMetadata(cart.Metadata)
	if err := state.ValidateTransition("tax.get_tax_lines", domain.StateCalculated); err != nil {
		s.logger.Warn("skipping calculation metadata write",
			"cart_id", cartID,
			"state", state.String(),
			"error", err,
		)
		return
	}

	if _, err := s.carts.UpdateMetadata(ctx, cartID, map[string]string{
		domain.MetaTaxCalculationID: calculationID,
	}); err != nil {
		s.logger.Warn("failed to persist calculation id on cart",
			"cart_id", cartID,
			"calculation_id", calculationID,
			"error", err,
		)
	}
}

// mapItemLine correlates one request item with its response line by exact
// reference-string match and emits the resulting tax line. A line with no
// breakdown entries (or a not-collecting outcome) yields rate 0.
func (s *Service) mapItemLine(line domain.ItemTaxCalculationLine, calc *billing.TaxCalculation) domain.TaxLine {
	reference := lineReference(line.Item)

	for _, calcLine := range calc.LineItems {
		if calcLine.Reference != reference {
			continue
		}
		return domain.TaxLine{
			Rate:     breakdownRate(calcLine.Breakdown),
			Name:     salesTaxName,
			Code:     calcLine.TaxCode,
			ItemID:   line.Item.ID,
			Metadata: map[string]string{domain.MetaTaxCalculationID: calc.ID},
		}
	}

	// Correlation is by exact string match; an unmatched line means the
	// remote response diverged from the request. Degrade to zero rate.
	s.logger.Warn("no calculation line matched item reference",
		"reference", reference,
		"calculation_id", calc.ID,
	)
	return domain.TaxLine{
		Rate:     0,
		Name:     salesTaxName,
		ItemID:   line.Item.ID,
		Metadata: map[string]string{domain.MetaTaxCalculationID: calc.ID},
	}
}

// mapShippingLine emits tax lines for one shipping method from the
// calculation's aggregate shipping-cost breakdown. Rate hints supply the
// display name and code when the host configured them.
func mapShippingLine(line domain.ShippingTaxCalculationLine, calc *billing.TaxCalculation) []domain.TaxLine {
	var rate float64
	if calc.Shipping != nil {
		rate = breakdownRate(calc.Shipping.Breakdown)
	}

	metadata := map[string]string{domain.MetaTaxCalculationID: calc.ID}

	if len(line.Rates) == 0 {
		return []domain.TaxLine{{
			Rate:             rate,
			Name:             shippingTaxName,
			Code:             billing.ShippingTaxCode,
			ShippingMethodID: line.Method.ID,
			Metadata:         metadata,
		}}
	}

	out := make([]domain.TaxLine, 0, len(line.Rates))
	for _, hint := range line.Rates {
		out = append(out, domain.TaxLine{
			Rate:             rate,
			Name:             hint.Name,
			Code:             hint.Code,
			ShippingMethodID: line.Method.ID,
			Metadata:         metadata,
		})
	}
	return out
}

// breakdownRate extracts the rate from the first breakdown entry.
// "Not collecting" outcomes yield 0, not an error.
func breakdownRate(breakdown []billing.TaxBreakdown) float64 {
	if len(breakdown) == 0 || !breakdown[0].Collecting() {
		return 0
	}
	return breakdown[0].Percentage
}

// emptyTaxLines is the degrade-gracefully path: each item's pre-existing
// rate hints come back as zero-rate lines so the totals pipeline still has
// something to sum. Items without hints contribute nothing.
func emptyTaxLines(itemLines []domain.ItemTaxCalculationLine) []domain.TaxLine {
	var out []domain.TaxLine
	for _, line := range itemLines {
		for _, hint := range line.Rates {
			out = append(out, domain.TaxLine{
				Rate:   0,
				Name:   hint.Name,
				Code:   hint.Code,
				ItemID: line.Item.ID,
			})
		}
	}
	if out == nil {
		out = []domain.TaxLine{}
	}
	return out
}

// validForCalculation gates the remote call. The remote service rejects
// incomplete addresses, so there is no point paying for the round trip.
func validForCalculation(calcCtx domain.CalculationContext, itemLines []domain.ItemTaxCalculationLine) bool {
	addr := calcCtx.ShippingAddress
	if addr.PostalCode == "" || addr.Line1 == "" || addr.City == "" || addr.Province == "" || addr.CountryCode == "" {
		return false
	}
	if calcCtx.Region == nil {
		return false
	}
	return len(itemLines) > 0
}

// buildLineItems shapes request line items: taxable amount is the item
// subtotal net of its discount allocation, tagged with the region's tax
// code and the correlation reference.
func buildLineItems(
	itemLines []domain.ItemTaxCalculationLine,
	allocations map[string]domain.LineAllocations,
	taxCode string,
) []billing.LineItem {
	out := make([]billing.LineItem, 0, len(itemLines))
	for _, line := range itemLines {
		discount := allocations[line.Item.ID].Discount
		out = append(out, billing.LineItem{
			Amount:    line.Item.UnitPrice*line.Item.Quantity - discount,
			TaxCode:   taxCode,
			Reference: lineReference(line.Item),
		})
	}
	return out
}

func lineReference(item domain.CartLineItem) string {
	return fmt.Sprintf("%s - %s", item.Title, item.ID)
}

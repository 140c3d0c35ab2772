package tax

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/stripetax/internal/billing"
	"github.com/dukerupert/stripetax/internal/cache"
	"github.com/dukerupert/stripetax/internal/domain"
)

// fakeCartStore is an in-memory CartStore for service tests.
type fakeCartStore struct {
	carts map[string]*domain.Cart

	retrieveErr error
	updateErr   error
}

func newFakeCartStore(carts ...*domain.Cart) *fakeCartStore {
	s := &fakeCartStore{carts: make(map[string]*domain.Cart)}
	for _, c := range carts {
		if c.Metadata == nil {
			c.Metadata = make(map[string]string)
		}
		s.carts[c.ID] = c
	}
	return s
}

func (s *fakeCartStore) Retrieve(ctx context.Context, cartID string) (*domain.Cart, error) {
	if s.retrieveErr != nil {
		return nil, s.retrieveErr
	}
	cart, ok := s.carts[cartID]
	if !ok {
		return nil, domain.NotFound("postgres.cart_retrieve", "cart", cartID)
	}
	return cart, nil
}

func (s *fakeCartStore) UpdateMetadata(ctx context.Context, cartID string, metadata map[string]string) (*domain.Cart, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	cart, ok := s.carts[cartID]
	if !ok {
		return nil, domain.NotFound("postgres.cart_update_metadata", "cart", cartID)
	}
	for k, v := range metadata {
		cart.Metadata[k] = v
	}
	return cart, nil
}

type fakeOrderStore struct {
	orders map[string]*domain.Order
}

func newFakeOrderStore(orders ...*domain.Order) *fakeOrderStore {
	s := &fakeOrderStore{orders: make(map[string]*domain.Order)}
	for _, o := range orders {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string)
		}
		s.orders[o.ID] = o
	}
	return s
}

func (s *fakeOrderStore) Retrieve(ctx context.Context, orderID string) (*domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.NotFound("postgres.order_retrieve", "order", orderID)
	}
	return order, nil
}

func (s *fakeOrderStore) UpdateMetadata(ctx context.Context, orderID string, metadata map[string]string) (*domain.Order, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return nil, domain.NotFound("postgres.order_update_metadata", "order", orderID)
	}
	for k, v := range metadata {
		order.Metadata[k] = v
	}
	return order, nil
}

var _ domain.CartStore = (*fakeCartStore)(nil)
var _ domain.OrderStore = (*fakeOrderStore)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(provider billing.Provider, carts domain.CartStore, orders domain.OrderStore, c cache.Service) *Service {
	return NewService(provider, carts, orders, c, time.Hour, testLogger())
}

// completeContext returns a calculation context that passes address
// validation: a Michigan address with a USD region.
func completeContext() domain.CalculationContext {
	return domain.CalculationContext{
		Region: &domain.Region{CurrencyCode: "usd", TaxCode: "txcd_99999999"},
		ShippingAddress: domain.Address{
			Line1:       "123 Main St",
			City:        "Detroit",
			Province:    "MI",
			PostalCode:  "48201",
			CountryCode: "US",
		},
	}
}

func itemLine(id, title string, unitPrice, quantity int64, hints ...domain.TaxRateHint) domain.ItemTaxCalculationLine {
	return domain.ItemTaxCalculationLine{
		Item: domain.CartLineItem{
			ID:        id,
			CartID:    "cart_1",
			Title:     title,
			UnitPrice: unitPrice,
			Quantity:  quantity,
		},
		Rates: hints,
	}
}

// calcFor builds the remote response for a single-item request at the given
// rate, using the same reference string the service builds.
func calcFor(calcID, itemID, title string, amount int64, rate float64) *billing.TaxCalculation {
	breakdown := []billing.TaxBreakdown{{
		Amount:       int64(float64(amount) * rate / 100),
		Jurisdiction: "Michigan",
		Percentage:   rate,
	}}
	return &billing.TaxCalculation{
		ID: calcID,
		LineItems: []billing.CalculationLine{{
			Reference: title + " - " + itemID,
			TaxCode:   "txcd_99999999",
			Amount:    amount,
			Breakdown: breakdown,
		}},
	}
}

func TestGetTaxLines_IncompleteAddressSkipsRemoteCall(t *testing.T) {
	tests := []struct {
		name  string
		mutate func(*domain.CalculationContext)
	}{
		{"missing postal code", func(c *domain.CalculationContext) { c.ShippingAddress.PostalCode = "" }},
		{"missing line1", func(c *domain.CalculationContext) { c.ShippingAddress.Line1 = "" }},
		{"missing city", func(c *domain.CalculationContext) { c.ShippingAddress.City = "" }},
		{"missing province", func(c *domain.CalculationContext) { c.ShippingAddress.Province = "" }},
		{"missing country code", func(c *domain.CalculationContext) { c.ShippingAddress.CountryCode = "" }},
		{"missing region", func(c *domain.CalculationContext) { c.Region = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &billing.MockProvider{}
			svc := newTestService(provider, newFakeCartStore(), newFakeOrderStore(), cache.NewMemoryCache())

			calcCtx := completeContext()
			tt.mutate(&calcCtx)

			items := []domain.ItemTaxCalculationLine{
				itemLine("item_1", "Coffee", 1500, 2, domain.TaxRateHint{Rate: 6, Name: "MI Sales Tax", Code: "mi"}),
			}

			lines, err := svc.GetTaxLines(context.Background(), items, nil, calcCtx)
			require.NoError(t, err)
			require.Len(t, lines, 1)
			assert.Equal(t, float64(0), lines[0].Rate)
			assert.Equal(t, "MI Sales Tax", lines[0].Name)
			assert.Equal(t, "item_1", lines[0].ItemID)
			assert.Equal(t, 0, provider.FetchTaxCalculationCalls, "incomplete input must not reach the remote service")
		})
	}
}

func TestGetTaxLines_NoItemsReturnsEmptySlice(t *testing.T) {
	provider := &billing.MockProvider{}
	svc := newTestService(provider, newFakeCartStore(), newFakeOrderStore(), cache.NewMemoryCache())

	lines, err := svc.GetTaxLines(context.Background(), nil, nil, completeContext())
	require.NoError(t, err)
	assert.NotNil(t, lines)
	assert.Empty(t, lines)
	assert.Equal(t, 0, provider.FetchTaxCalculationCalls)
}

func TestGetTaxLines_DegradedItemWithoutHintsContributesNothing(t *testing.T) {
	provider := &billing.MockProvider{}
	svc := newTestService(provider, newFakeCartStore(), newFakeOrderStore(), cache.NewMemoryCache())

	calcCtx := completeContext()
	calcCtx.ShippingAddress.PostalCode = ""

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}

	lines, err := svc.GetTaxLines(context.Background(), items, nil, calcCtx)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestGetTaxLines_MapsCalculationToTaxLines(t *testing.T) {
	carts := newFakeCartStore(&domain.Cart{ID: "cart_1"})
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			require.Len(t, params.LineItems, 1)
			assert.Equal(t, "Coffee - item_1", params.LineItems[0].Reference)
			assert.Equal(t, int64(3000), params.LineItems[0].Amount)
			assert.Equal(t, "usd", params.CurrencyCode)
			assert.Equal(t, int64(500), params.ShippingCost)

			calc := calcFor("taxcalc_123", "item_1", "Coffee", 3000, 6)
			calc.Shipping = &billing.ShippingCalculation{
				Amount:  500,
				TaxCode: billing.ShippingTaxCode,
				Breakdown: []billing.TaxBreakdown{{
					Amount:       30,
					Jurisdiction: "Michigan",
					Percentage:   6,
				}},
			}
			return calc, nil
		},
	}
	svc := newTestService(provider, carts, newFakeOrderStore(), cache.NewMemoryCache())

	calcCtx := completeContext()
	calcCtx.ShippingMethods = []domain.ShippingMethod{{ID: "sm_1", Name: "Standard", Price: 500}}

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 2)}
	shipping := []domain.ShippingTaxCalculationLine{{Method: domain.ShippingMethod{ID: "sm_1", Name: "Standard", Price: 500}}}

	lines, err := svc.GetTaxLines(context.Background(), items, shipping, calcCtx)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	item := lines[0]
	assert.Equal(t, float64(6), item.Rate)
	assert.Equal(t, "Sales Tax", item.Name)
	assert.Equal(t, "txcd_99999999", item.Code)
	assert.Equal(t, "item_1", item.ItemID)
	assert.Equal(t, "taxcalc_123", item.Metadata[domain.MetaTaxCalculationID])

	ship := lines[1]
	assert.Equal(t, float64(6), ship.Rate)
	assert.Equal(t, "Shipping Tax", ship.Name)
	assert.Equal(t, billing.ShippingTaxCode, ship.Code)
	assert.Equal(t, "sm_1", ship.ShippingMethodID)

	assert.Equal(t, "taxcalc_123", carts.carts["cart_1"].Metadata[domain.MetaTaxCalculationID])
}

func TestGetTaxLines_DiscountReducesTaxableAmount(t *testing.T) {
	var gotAmount int64
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			gotAmount = params.LineItems[0].Amount
			return calcFor("taxcalc_disc", "item_1", "Coffee", gotAmount, 6), nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	calcCtx := completeContext()
	calcCtx.AllocationMap = map[string]domain.LineAllocations{
		"item_1": {Discount: 400},
	}

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 2)}

	_, err := svc.GetTaxLines(context.Background(), items, nil, calcCtx)
	require.NoError(t, err)
	assert.Equal(t, int64(2600), gotAmount)
}

func TestGetTaxLines_NotCollectingYieldsZeroRate(t *testing.T) {
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			return &billing.TaxCalculation{
				ID: "taxcalc_nc",
				LineItems: []billing.CalculationLine{{
					Reference: "Coffee - item_1",
					TaxCode:   "txcd_99999999",
					Amount:    1500,
					Breakdown: []billing.TaxBreakdown{{
						Amount:           0,
						TaxabilityReason: "not_collecting",
					}},
				}},
			}, nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}

	lines, err := svc.GetTaxLines(context.Background(), items, nil, completeContext())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(0), lines[0].Rate)
	assert.Equal(t, "taxcalc_nc", lines[0].Metadata[domain.MetaTaxCalculationID])
}

func TestGetTaxLines_UnmatchedReferenceDegradesToZeroRate(t *testing.T) {
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			// Response references an item the request never sent.
			return calcFor("taxcalc_x", "item_other", "Tea", 1000, 6), nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}

	lines, err := svc.GetTaxLines(context.Background(), items, nil, completeContext())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(0), lines[0].Rate)
	assert.Equal(t, "item_1", lines[0].ItemID)
}

func TestGetTaxLines_IdenticalInputsHitCache(t *testing.T) {
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			return calcFor("taxcalc_cached", "item_1", "Coffee", 1500, 6), nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}
	calcCtx := completeContext()

	first, err := svc.GetTaxLines(context.Background(), items, nil, calcCtx)
	require.NoError(t, err)
	second, err := svc.GetTaxLines(context.Background(), items, nil, calcCtx)
	require.NoError(t, err)

	assert.Equal(t, 1, provider.FetchTaxCalculationCalls, "identical inputs must be served from cache")
	assert.Equal(t, first, second)
}

func TestGetTaxLines_ChangedInputsBypassCache(t *testing.T) {
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			return calcFor("taxcalc_var", "item_1", "Coffee", params.LineItems[0].Amount, 6), nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	calcCtx := completeContext()

	_, err := svc.GetTaxLines(context.Background(), []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}, nil, calcCtx)
	require.NoError(t, err)
	_, err = svc.GetTaxLines(context.Background(), []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 2)}, nil, calcCtx)
	require.NoError(t, err)

	assert.Equal(t, 2, provider.FetchTaxCalculationCalls, "changed quantity must trigger a fresh calculation")
}

func TestGetTaxLines_CacheFailureFallsThroughToRemote(t *testing.T) {
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			return calcFor("taxcalc_fallback", "item_1", "Coffee", 1500, 6), nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), failingCache{})

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}

	lines, err := svc.GetTaxLines(context.Background(), items, nil, completeContext())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, float64(6), lines[0].Rate)
	assert.Equal(t, 1, provider.FetchTaxCalculationCalls)
}

// failingCache errors on every operation.
type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	return false, errors.New("cache down")
}

func (failingCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return errors.New("cache down")
}

func TestGetTaxLines_RemoteFailurePropagates(t *testing.T) {
	remoteErr := &billing.StripeError{Message: "rate limited", Code: "rate_limit"}
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			return nil, remoteErr
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}

	_, err := svc.GetTaxLines(context.Background(), items, nil, completeContext())
	require.Error(t, err)
	var se *billing.StripeError
	assert.ErrorAs(t, err, &se)
}

func TestGetTaxLines_ShippingHintsSupplyNameAndCode(t *testing.T) {
	provider := &billing.MockProvider{
		FetchTaxCalculationFunc: func(ctx context.Context, params billing.CalculationParams) (*billing.TaxCalculation, error) {
			calc := calcFor("taxcalc_ship", "item_1", "Coffee", 1500, 6)
			calc.Shipping = &billing.ShippingCalculation{
				Amount:    500,
				Breakdown: []billing.TaxBreakdown{{Percentage: 6}},
			}
			return calc, nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(&domain.Cart{ID: "cart_1"}), newFakeOrderStore(), cache.NewMemoryCache())

	calcCtx := completeContext()
	calcCtx.ShippingMethods = []domain.ShippingMethod{{ID: "sm_1", Price: 500}}

	items := []domain.ItemTaxCalculationLine{itemLine("item_1", "Coffee", 1500, 1)}
	shipping := []domain.ShippingTaxCalculationLine{{
		Method: domain.ShippingMethod{ID: "sm_1", Price: 500},
		Rates:  []domain.TaxRateHint{{Rate: 6, Name: "MI Shipping Tax", Code: "mi_ship"}},
	}}

	lines, err := svc.GetTaxLines(context.Background(), items, shipping, calcCtx)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "MI Shipping Tax", lines[1].Name)
	assert.Equal(t, "mi_ship", lines[1].Code)
	assert.Equal(t, float64(6), lines[1].Rate)
}

func TestCreateTaxTransaction_Succeeds(t *testing.T) {
	carts := newFakeCartStore(&domain.Cart{
		ID:       "cart_1",
		Metadata: map[string]string{domain.MetaTaxCalculationID: "taxcalc_123"},
	})
	provider := &billing.MockProvider{
		CreateTransactionFromCalculationFunc: func(ctx context.Context, calculationID, reference string) (*billing.TaxTransaction, error) {
			assert.Equal(t, "taxcalc_123", calculationID)
			assert.Equal(t, "pi_123", reference)
			return &billing.TaxTransaction{ID: "tax_txn_1", Reference: "pi_123"}, nil
		},
	}
	svc := newTestService(provider, carts, newFakeOrderStore(), cache.NewMemoryCache())

	txn, err := svc.CreateTaxTransaction(context.Background(), domain.PaymentEvent{
		ID:       "pi_123",
		Metadata: map[string]string{"resource_id": "cart_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "tax_txn_1", txn.ID)

	meta := carts.carts["cart_1"].Metadata
	assert.Equal(t, "tax_txn_1", meta[domain.MetaTaxTransactionID])
	assert.Equal(t, "pi_123", meta[domain.MetaPaymentIntent])
	assert.Equal(t, "pi_123", meta[domain.MetaTaxReference])
}

func TestCreateTaxTransaction_MissingResourceID(t *testing.T) {
	svc := newTestService(&billing.MockProvider{}, newFakeCartStore(), newFakeOrderStore(), cache.NewMemoryCache())

	_, err := svc.CreateTaxTransaction(context.Background(), domain.PaymentEvent{ID: "pi_123"})
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestCreateTaxTransaction_CartNotFound(t *testing.T) {
	svc := newTestService(&billing.MockProvider{}, newFakeCartStore(), newFakeOrderStore(), cache.NewMemoryCache())

	_, err := svc.CreateTaxTransaction(context.Background(), domain.PaymentEvent{
		ID:       "pi_123",
		Metadata: map[string]string{"resource_id": "cart_missing"},
	})
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestCreateTaxTransaction_NoCalculationOnRecord(t *testing.T) {
	carts := newFakeCartStore(&domain.Cart{ID: "cart_1"})
	svc := newTestService(&billing.MockProvider{}, carts, newFakeOrderStore(), cache.NewMemoryCache())

	_, err := svc.CreateTaxTransaction(context.Background(), domain.PaymentEvent{
		ID:       "pi_123",
		Metadata: map[string]string{"resource_id": "cart_1"},
	})
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestCreateTaxTransaction_AlreadyTransacted(t *testing.T) {
	carts := newFakeCartStore(&domain.Cart{
		ID: "cart_1",
		Metadata: map[string]string{
			domain.MetaTaxCalculationID: "taxcalc_123",
			domain.MetaTaxTransactionID: "tax_txn_1",
		},
	})
	svc := newTestService(&billing.MockProvider{}, carts, newFakeOrderStore(), cache.NewMemoryCache())

	_, err := svc.CreateTaxTransaction(context.Background(), domain.PaymentEvent{
		ID:       "pi_456",
		Metadata: map[string]string{"resource_id": "cart_1"},
	})
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestHandleOrderRefund_Succeeds(t *testing.T) {
	orders := newFakeOrderStore(&domain.Order{
		ID:     "order_1",
		CartID: "cart_1",
		Metadata: map[string]string{
			domain.MetaTaxCalculationID: "taxcalc_123",
			domain.MetaTaxTransactionID: "tax_txn_1",
		},
	})
	provider := &billing.MockProvider{
		CreateReversalFunc: func(ctx context.Context, transactionID, refundReference string) (*billing.TaxTransaction, error) {
			assert.Equal(t, "tax_txn_1", transactionID)
			assert.Equal(t, "refund_1", refundReference)
			return &billing.TaxTransaction{ID: "tax_rev_1", Reference: "refund_1", Type: "reversal"}, nil
		},
	}
	svc := newTestService(provider, newFakeCartStore(), orders, cache.NewMemoryCache())

	updated, err := svc.HandleOrderRefund(context.Background(), "order_1", "refund_1")
	require.NoError(t, err)
	assert.Equal(t, "tax_rev_1", updated.Metadata[domain.MetaReversalTransaction])
	assert.Equal(t, "tax_txn_1", updated.Metadata[domain.MetaTaxTransactionID], "merge must preserve existing keys")
}

func TestHandleOrderRefund_OrderNotFound(t *testing.T) {
	svc := newTestService(&billing.MockProvider{}, newFakeCartStore(), newFakeOrderStore(), cache.NewMemoryCache())

	_, err := svc.HandleOrderRefund(context.Background(), "order_missing", "refund_1")
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestHandleOrderRefund_NoTransactionToReverse(t *testing.T) {
	orders := newFakeOrderStore(&domain.Order{ID: "order_1"})
	svc := newTestService(&billing.MockProvider{}, newFakeCartStore(), orders, cache.NewMemoryCache())

	_, err := svc.HandleOrderRefund(context.Background(), "order_1", "refund_1")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestHandleOrderRefund_SecondRefundRejected(t *testing.T) {
	orders := newFakeOrderStore(&domain.Order{
		ID: "order_1",
		Metadata: map[string]string{
			domain.MetaTaxTransactionID:    "tax_txn_1",
			domain.MetaReversalTransaction: "tax_rev_1",
		},
	})
	svc := newTestService(&billing.MockProvider{}, newFakeCartStore(), orders, cache.NewMemoryCache())

	_, err := svc.HandleOrderRefund(context.Background(), "order_1", "refund_2")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
	assert.Equal(t, "tax_rev_1", orders.orders["order_1"].Metadata[domain.MetaReversalTransaction])
}

func TestHandleOrderRefund_ReversalFailureLeavesMetadataUntouched(t *testing.T) {
	orders := newFakeOrderStore(&domain.Order{
		ID:       "order_1",
		Metadata: map[string]string{domain.MetaTaxTransactionID: "tax_txn_1"},
	})
	provider := &billing.MockProvider{
		CreateReversalFunc: func(ctx context.Context, transactionID, refundReference string) (*billing.TaxTransaction, error) {
			return nil, &billing.StripeError{Message: "boom", Code: "api_error"}
		},
	}
	svc := newTestService(provider, newFakeCartStore(), orders, cache.NewMemoryCache())

	_, err := svc.HandleOrderRefund(context.Background(), "order_1", "refund_1")
	require.Error(t, err)
	_, set := orders.orders["order_1"].Metadata[domain.MetaReversalTransaction]
	assert.False(t, set)
}

func TestFingerprint_StableAndInputSensitive(t *testing.T) {
	base := billing.CalculationParams{
		Address:      domain.Address{Line1: "123 Main St", City: "Detroit", Province: "MI", PostalCode: "48201", CountryCode: "US"},
		CurrencyCode: "usd",
		LineItems:    []billing.LineItem{{Amount: 1500, TaxCode: "txcd_99999999", Reference: "Coffee - item_1"}},
		ShippingCost: 500,
	}

	assert.Equal(t, calculationFingerprint(base), calculationFingerprint(base))

	changedAddr := base
	changedAddr.Address.PostalCode = "48202"
	assert.NotEqual(t, calculationFingerprint(base), calculationFingerprint(changedAddr))

	changedShipping := base
	changedShipping.ShippingCost = 600
	assert.NotEqual(t, calculationFingerprint(base), calculationFingerprint(changedShipping))
}

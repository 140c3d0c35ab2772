package domain

// Address is a shipping address for tax purposes.
type Address struct {
	Line1       string
	Line2       string
	City        string
	Province    string
	PostalCode  string
	CountryCode string
}

// Region carries the currency and default product tax code for the cart's
// region, as configured in the host platform.
type Region struct {
	CurrencyCode string
	TaxCode      string
}

// ShippingMethod is a shipping option selected on the cart.
// Price is in the currency's minor unit (cents for USD).
type ShippingMethod struct {
	ID    string
	Name  string
	Price int64
}

// LineAllocations holds per-item adjustments applied by the host's totals
// pipeline. Only the discount portion affects the taxable amount.
type LineAllocations struct {
	Discount int64
}

// CalculationContext is the transient context for one tax-line request.
// It is constructed per request and never persisted.
type CalculationContext struct {
	Region          *Region
	ShippingAddress Address
	ShippingMethods []ShippingMethod

	// AllocationMap maps line item id to its allocations.
	AllocationMap map[string]LineAllocations
}

// CartLineItem is a cart line item as provided by the host. Read-only here.
type CartLineItem struct {
	ID        string
	CartID    string
	ProductID string
	Title     string
	UnitPrice int64
	Quantity  int64
}

// TaxRateHint is a pre-existing rate attached to a line by the host
// (e.g. a manually configured region rate). On the degrade-gracefully path
// these are propagated back as zero-rate lines.
type TaxRateHint struct {
	Rate float64
	Name string
	Code string
}

// ItemTaxCalculationLine pairs a cart line item with its rate hints.
type ItemTaxCalculationLine struct {
	Item  CartLineItem
	Rates []TaxRateHint
}

// ShippingTaxCalculationLine pairs a shipping method with its rate hints.
type ShippingTaxCalculationLine struct {
	Method ShippingMethod
	Rates  []TaxRateHint
}

// TaxLine is the computed tax entry for one cart item or shipping method.
// Rate is a percentage (6 means 6%). Exactly one of ItemID and
// ShippingMethodID is set. TaxLines are handed back to the host's totals
// calculator and never persisted by this plugin.
type TaxLine struct {
	Rate             float64
	Name             string
	Code             string
	ItemID           string
	ShippingMethodID string
	Metadata         map[string]string
}

// PaymentEvent is the payment-succeeded notification that drives tax
// transaction creation. Metadata must carry resource_id, the cart id.
type PaymentEvent struct {
	ID       string
	Metadata map[string]string
}

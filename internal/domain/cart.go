package domain

import (
	"context"
	"time"
)

// Metadata keys written by the tax plugin. The cart and order metadata maps
// are owned by the host platform; these keys are the durable link between a
// cart/order and its tax lifecycle state.
const (
	MetaTaxCalculationID    = "taxCalculationId"
	MetaTaxTransactionID    = "taxTransactionId"
	MetaPaymentIntent       = "paymentIntent"
	MetaTaxReference        = "taxReference"
	MetaReversalTransaction = "reversalTransaction"
)

// Cart is the host platform's cart, reduced to what the tax plugin reads
// and writes. Metadata is a flat key-value map persisted as jsonb.
type Cart struct {
	ID        string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order is the host platform's order, reduced to what the tax plugin needs.
type Order struct {
	ID        string
	CartID    string
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CartStore provides access to carts persisted by the host platform.
type CartStore interface {
	// Retrieve loads a cart by id. Returns a domain error with code
	// ENOTFOUND when the cart does not exist.
	Retrieve(ctx context.Context, cartID string) (*Cart, error)

	// UpdateMetadata merges the given keys into the cart's metadata map.
	// The merge is shallow per host convention: existing keys not named in
	// metadata are preserved.
	UpdateMetadata(ctx context.Context, cartID string, metadata map[string]string) (*Cart, error)
}

// OrderStore provides access to orders persisted by the host platform.
type OrderStore interface {
	Retrieve(ctx context.Context, orderID string) (*Order, error)
	UpdateMetadata(ctx context.Context, orderID string, metadata map[string]string) (*Order, error)
}

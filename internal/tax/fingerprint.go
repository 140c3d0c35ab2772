package tax

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/dukerupert/stripetax/internal/billing"
)

const fingerprintPrefix = "stripe_tax:calc:"

// fingerprintInput is the canonical serialization hashed into a cache key.
// Field order is fixed by the struct, so identical inputs always produce
// identical keys.
type fingerprintInput struct {
	Address      string             `json:"address"`
	Currency     string             `json:"currency"`
	LineItems    []billing.LineItem `json:"line_items"`
	ShippingCost int64              `json:"shipping_cost"`
}

// calculationFingerprint derives the cache key for one calculation request.
// Keys are addressed purely by calculation inputs, not cart identity: two
// carts with the same address, items and shipping cost share an entry.
func calculationFingerprint(params billing.CalculationParams) string {
	addr := params.Address
	joined := strings.Join([]string{
		addr.Line1,
		addr.Line2,
		addr.City,
		addr.Province,
		addr.PostalCode,
		addr.CountryCode,
	}, " ")

	payload, err := json.Marshal(fingerprintInput{
		Address:      joined,
		Currency:     params.CurrencyCode,
		LineItems:    params.LineItems,
		ShippingCost: params.ShippingCost,
	})
	if err != nil {
		// Marshalling a struct of strings and ints cannot fail; fall back
		// to the joined address so a key always exists.
		return fingerprintPrefix + joined
	}

	sum := sha256.Sum256(payload)
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}

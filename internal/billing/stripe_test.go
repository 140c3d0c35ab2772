package billing

import (
	"testing"

	"github.com/dukerupert/stripetax/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStripeProvider_RequiresAPIKey(t *testing.T) {
	_, err := NewStripeProvider("")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestBuildCalculationParams(t *testing.T) {
	params := CalculationParams{
		Address: domain.Address{
			Line1:       "929 Kent Ridge",
			City:        "Lake Orion",
			Province:    "MI",
			PostalCode:  "48362",
			CountryCode: "US",
		},
		CurrencyCode: "usd",
		LineItems: []LineItem{
			{Amount: 10, TaxCode: "txcd_99999999", Reference: "item_title_1 - item_1"},
		},
		ShippingCost: 500,
	}

	calcParams := buildCalculationParams(params)

	require.NotNil(t, calcParams.Currency)
	assert.Equal(t, "usd", *calcParams.Currency)

	require.NotNil(t, calcParams.CustomerDetails)
	require.NotNil(t, calcParams.CustomerDetails.Address)
	assert.Equal(t, "929 Kent Ridge", *calcParams.CustomerDetails.Address.Line1)
	assert.Equal(t, "MI", *calcParams.CustomerDetails.Address.State)
	assert.Equal(t, "48362", *calcParams.CustomerDetails.Address.PostalCode)
	assert.Equal(t, "US", *calcParams.CustomerDetails.Address.Country)
	assert.Equal(t, "shipping", *calcParams.CustomerDetails.AddressSource)

	require.Len(t, calcParams.LineItems, 1)
	assert.Equal(t, int64(10), *calcParams.LineItems[0].Amount)
	assert.Equal(t, "txcd_99999999", *calcParams.LineItems[0].TaxCode)
	assert.Equal(t, "item_title_1 - item_1", *calcParams.LineItems[0].Reference)

	require.NotNil(t, calcParams.ShippingCost)
	assert.Equal(t, int64(500), *calcParams.ShippingCost.Amount)
	assert.Equal(t, ShippingTaxCode, *calcParams.ShippingCost.TaxCode)
}

func TestParsePercentage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
	}{
		{"plain decimal", "6.0", 6},
		{"fractional", "8.875", 8.875},
		{"empty means zero", "", 0},
		{"malformed means zero", "n/a", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parsePercentage(tt.input))
		})
	}
}

func TestTaxBreakdown_Collecting(t *testing.T) {
	assert.True(t, TaxBreakdown{TaxabilityReason: "standard_rated"}.Collecting())
	assert.False(t, TaxBreakdown{TaxabilityReason: "not_collecting"}.Collecting())
}

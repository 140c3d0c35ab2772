package domain

import "testing"

func TestLifecycleFromMetadata(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]string
		expected TaxLifecycleState
	}{
		{
			name:     "nil metadata",
			metadata: nil,
			expected: StateNoCalculation,
		},
		{
			name:     "empty metadata",
			metadata: map[string]string{},
			expected: StateNoCalculation,
		},
		{
			name:     "calculation recorded",
			metadata: map[string]string{MetaTaxCalculationID: "taxcalc_1"},
			expected: StateCalculated,
		},
		{
			name: "transaction recorded",
			metadata: map[string]string{
				MetaTaxCalculationID: "taxcalc_1",
				MetaTaxTransactionID: "tax_1",
			},
			expected: StateTransacted,
		},
		{
			name: "reversal recorded",
			metadata: map[string]string{
				MetaTaxTransactionID:    "tax_1",
				MetaReversalTransaction: "tax_2",
			},
			expected: StateReversed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LifecycleFromMetadata(tt.metadata); got != tt.expected {
				t.Errorf("LifecycleFromMetadata() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTaxLifecycleState_CanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    TaxLifecycleState
		to      TaxLifecycleState
		allowed bool
	}{
		{"first calculation", StateNoCalculation, StateCalculated, true},
		{"recalculation replaces calculation", StateCalculated, StateCalculated, true},
		{"calculation to transaction", StateCalculated, StateTransacted, true},
		{"transaction to reversal", StateTransacted, StateReversed, true},
		{"transaction before calculation", StateNoCalculation, StateTransacted, false},
		{"reversal before transaction", StateCalculated, StateReversed, false},
		{"recalculation after transaction", StateTransacted, StateCalculated, false},
		{"double reversal", StateReversed, StateReversed, false},
		{"backwards from reversed", StateReversed, StateTransacted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%v -> %v) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestTaxLifecycleState_ValidateTransition(t *testing.T) {
	err := StateNoCalculation.ValidateTransition("tax.create_transaction", StateTransacted)
	if err == nil {
		t.Fatal("expected conflict error for invalid transition")
	}
	if ErrorCode(err) != ECONFLICT {
		t.Errorf("ErrorCode() = %q, want %q", ErrorCode(err), ECONFLICT)
	}

	if err := StateCalculated.ValidateTransition("tax.create_transaction", StateTransacted); err != nil {
		t.Errorf("unexpected error for valid transition: %v", err)
	}
}

package domain

import "fmt"

// TaxLifecycleState is the tagged tax lifecycle of a cart or order. The
// persisted representation stays a flat metadata map for host compatibility;
// the state is derived in memory and transitions are validated before any
// metadata write.
type TaxLifecycleState int

const (
	// StateNoCalculation means no tax calculation has been recorded.
	StateNoCalculation TaxLifecycleState = iota

	// StateCalculated means a calculation id is on record and a transaction
	// may be created from it.
	StateCalculated

	// StateTransacted means a tax transaction has been created for a payment.
	StateTransacted

	// StateReversed means the transaction has been reversed for a refund.
	StateReversed
)

func (s TaxLifecycleState) String() string {
	switch s {
	case StateNoCalculation:
		return "no_calculation"
	case StateCalculated:
		return "calculated"
	case StateTransacted:
		return "transacted"
	case StateReversed:
		return "reversed"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// LifecycleFromMetadata derives the lifecycle state from a metadata map.
func LifecycleFromMetadata(metadata map[string]string) TaxLifecycleState {
	switch {
	case metadata[MetaReversalTransaction] != "":
		return StateReversed
	case metadata[MetaTaxTransactionID] != "":
		return StateTransacted
	case metadata[MetaTaxCalculationID] != "":
		return StateCalculated
	}
	return StateNoCalculation
}

// CanTransition reports whether moving from s to next is a valid lifecycle
// step. Re-recording a calculation is allowed while no transaction exists:
// repeated quotes for the same cart simply replace the calculation id.
func (s TaxLifecycleState) CanTransition(next TaxLifecycleState) bool {
	switch s {
	case StateNoCalculation:
		return next == StateCalculated
	case StateCalculated:
		return next == StateCalculated || next == StateTransacted
	case StateTransacted:
		return next == StateReversed
	}
	return false
}

// ValidateTransition returns a conflict error when the step is invalid.
func (s TaxLifecycleState) ValidateTransition(op string, next TaxLifecycleState) error {
	if !s.CanTransition(next) {
		return Conflict(op, fmt.Sprintf("invalid tax lifecycle transition: %s -> %s", s, next))
	}
	return nil
}

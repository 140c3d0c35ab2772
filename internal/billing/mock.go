package billing

import "context"

// MockProvider is a test implementation of Provider. Each func field can be
// set independently; unset operations panic to surface unexpected calls.
type MockProvider struct {
	FetchTaxCalculationFunc              func(ctx context.Context, params CalculationParams) (*TaxCalculation, error)
	CreateTransactionFromCalculationFunc func(ctx context.Context, calculationID, reference string) (*TaxTransaction, error)
	CreateReversalFunc                   func(ctx context.Context, transactionID, refundReference string) (*TaxTransaction, error)
	VerifyWebhookSignatureFunc           func(payload []byte, sigHeader string, secret string) (*WebhookEvent, error)

	// Call counters for asserting the cache-or-fetch protocol.
	FetchTaxCalculationCalls int
}

var _ Provider = (*MockProvider)(nil)

func (m *MockProvider) FetchTaxCalculation(ctx context.Context, params CalculationParams) (*TaxCalculation, error) {
	m.FetchTaxCalculationCalls++
	if m.FetchTaxCalculationFunc == nil {
		panic("billing: unexpected FetchTaxCalculation call")
	}
	return m.FetchTaxCalculationFunc(ctx, params)
}

func (m *MockProvider) CreateTransactionFromCalculation(ctx context.Context, calculationID, reference string) (*TaxTransaction, error) {
	if m.CreateTransactionFromCalculationFunc == nil {
		panic("billing: unexpected CreateTransactionFromCalculation call")
	}
	return m.CreateTransactionFromCalculationFunc(ctx, calculationID, reference)
}

func (m *MockProvider) CreateReversal(ctx context.Context, transactionID, refundReference string) (*TaxTransaction, error) {
	if m.CreateReversalFunc == nil {
		panic("billing: unexpected CreateReversal call")
	}
	return m.CreateReversalFunc(ctx, transactionID, refundReference)
}

func (m *MockProvider) VerifyWebhookSignature(payload []byte, sigHeader string, secret string) (*WebhookEvent, error) {
	if m.VerifyWebhookSignatureFunc == nil {
		panic("billing: unexpected VerifyWebhookSignature call")
	}
	return m.VerifyWebhookSignatureFunc(payload, sigHeader, secret)
}

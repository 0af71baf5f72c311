package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// HTTPCollector talks to the domestic payment collection provider.
type HTTPCollector struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	merchantID string
}

// NewHTTPCollector builds a collector client for the given merchant.
func NewHTTPCollector(opts Options, merchantID string) *HTTPCollector {
	return &HTTPCollector{
		client:     opts.httpClient(),
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		merchantID: merchantID,
	}
}

type createCollectionPayload struct {
	TransactionID string          `json:"transaction_id"`
	MerchantID    string          `json:"merchant_id"`
	Amount        decimal.Decimal `json:"amount"`
	PayerHandle   string          `json:"payer_handle"`
}

// CreateCollectionRequest opens payment collection for the given amount and
// returns the provider reference plus the link the payer completes payment
// through.
func (c *HTTPCollector) CreateCollectionRequest(ctx context.Context, transactionID string, amount decimal.Decimal, payerHandle string) (CollectionRequest, error) {
	payload := createCollectionPayload{
		TransactionID: transactionID,
		MerchantID:    c.merchantID,
		Amount:        amount,
		PayerHandle:   payerHandle,
	}

	var out CollectionRequest
	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/collections", c.apiKey, payload, &out); err != nil {
		return CollectionRequest{}, fmt.Errorf("create collection request: %w", err)
	}
	return out, nil
}

package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// HTTPConverter talks to the currency-conversion counterparty, which also
// serves as the rate source for the corridor.
type HTTPConverter struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPConverter builds a converter client.
func NewHTTPConverter(opts Options) *HTTPConverter {
	return &HTTPConverter{
		client:  opts.httpClient(),
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
	}
}

type rateResponse struct {
	CurrencyPair string          `json:"currency_pair"`
	Rate         decimal.Decimal `json:"rate"`
}

// GetRate fetches the live rate for a corridor such as "INR_CAD".
func (c *HTTPConverter) GetRate(ctx context.Context, currencyPair string) (decimal.Decimal, error) {
	var out rateResponse
	if err := doJSON(ctx, c.client, http.MethodGet, c.baseURL+"/rates/"+currencyPair, c.apiKey, nil, &out); err != nil {
		return decimal.Decimal{}, fmt.Errorf("get rate %s: %w", currencyPair, err)
	}
	return out.Rate, nil
}

type startConversionPayload struct {
	TransactionID  string          `json:"transaction_id"`
	SourceCurrency string          `json:"source_currency"`
	TargetCurrency string          `json:"target_currency"`
	Amount         decimal.Decimal `json:"amount"`
	Rate           decimal.Decimal `json:"rate"`
}

type conversionResponse struct {
	Reference string `json:"reference"`
}

// StartConversion begins converting the collected amount at the transaction's
// locked-in rate. The outcome arrives later via callback.
func (c *HTTPConverter) StartConversion(ctx context.Context, transactionID, sourceCurrency, targetCurrency string, amount, rate decimal.Decimal) (string, error) {
	payload := startConversionPayload{
		TransactionID:  transactionID,
		SourceCurrency: sourceCurrency,
		TargetCurrency: targetCurrency,
		Amount:         amount,
		Rate:           rate,
	}

	var out conversionResponse
	if err := doJSON(ctx, c.client, http.MethodPost, c.baseURL+"/conversions", c.apiKey, payload, &out); err != nil {
		return "", fmt.Errorf("start conversion for %s: %w", transactionID, err)
	}
	return out.Reference, nil
}

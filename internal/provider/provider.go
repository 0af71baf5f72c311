// Package provider holds the gateways to the three external parties a
// remittance passes through: the domestic payment collector, the
// currency-conversion counterparty and the international transfer network.
// The saga engine only depends on the interfaces; retry policy, if any, lives
// behind them.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/adityakum/remitflow/internal/domain"
)

// CollectionRequest is the handle returned when payment collection is opened
// for a transaction.
type CollectionRequest struct {
	Reference   string `json:"reference"`
	PaymentLink string `json:"payment_link"`
}

// Collector opens domestic payment collection. Completion is reported later
// through an inbound callback, never through this interface.
type Collector interface {
	CreateCollectionRequest(ctx context.Context, transactionID string, amount decimal.Decimal, payerHandle string) (CollectionRequest, error)
}

// Converter supplies exchange rates and performs currency conversion.
type Converter interface {
	GetRate(ctx context.Context, currencyPair string) (decimal.Decimal, error)
	StartConversion(ctx context.Context, transactionID, sourceCurrency, targetCurrency string, amount, rate decimal.Decimal) (string, error)
}

// Transmitter moves converted funds to the recipient's bank.
type Transmitter interface {
	StartTransfer(ctx context.Context, transactionID, sourceCurrency, targetCurrency string, amount decimal.Decimal, recipient domain.RecipientDetails) (string, error)
}

// Options configures an HTTP provider client.
type Options struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func (o Options) httpClient() *http.Client {
	if o.Client != nil {
		return o.Client
	}
	return http.DefaultClient
}

// doJSON issues a request with the provider API key, decodes a JSON body into
// out, and converts non-2xx responses into errors carrying the status code.
func doJSON(ctx context.Context, client *http.Client, method, url, apiKey string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("provider responded with status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

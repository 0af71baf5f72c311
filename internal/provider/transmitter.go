package provider

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/adityakum/remitflow/internal/domain"
)

// HTTPTransmitter talks to the international funds-transfer network.
type HTTPTransmitter struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	profileID string
}

// NewHTTPTransmitter builds a transmitter client bound to a sender profile.
func NewHTTPTransmitter(opts Options, profileID string) *HTTPTransmitter {
	return &HTTPTransmitter{
		client:    opts.httpClient(),
		baseURL:   opts.BaseURL,
		apiKey:    opts.APIKey,
		profileID: profileID,
	}
}

type startTransferPayload struct {
	TransactionID  string                  `json:"transaction_id"`
	ProfileID      string                  `json:"profile_id"`
	SourceCurrency string                  `json:"source_currency"`
	TargetCurrency string                  `json:"target_currency"`
	Amount         decimal.Decimal         `json:"amount"`
	Recipient      domain.RecipientDetails `json:"recipient"`
}

type transferResponse struct {
	Reference string `json:"reference"`
}

// StartTransfer begins the payout to the recipient's bank. The outcome
// arrives later via callback.
func (t *HTTPTransmitter) StartTransfer(ctx context.Context, transactionID, sourceCurrency, targetCurrency string, amount decimal.Decimal, recipient domain.RecipientDetails) (string, error) {
	payload := startTransferPayload{
		TransactionID:  transactionID,
		ProfileID:      t.profileID,
		SourceCurrency: sourceCurrency,
		TargetCurrency: targetCurrency,
		Amount:         amount,
		Recipient:      recipient,
	}

	var out transferResponse
	if err := doJSON(ctx, t.client, http.MethodPost, t.baseURL+"/transfers", t.apiKey, payload, &out); err != nil {
		return "", fmt.Errorf("start transfer for %s: %w", transactionID, err)
	}
	return out.Reference, nil
}

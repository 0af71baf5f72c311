package analytics

import (
	"context"
	"log/slog"

	"github.com/adityakum/remitflow/internal/domain"
)

const upsertRemittanceCypher = `
MERGE (u:User {userId: $userId})
MERGE (r:Remittance {transactionId: $transactionId})
SET r += $props
MERGE (u)-[:SENT]->(r)
`

const recordRateQuoteCypher = `
MERGE (c:Corridor {currencyPair: $currencyPair})
CREATE (q:RateQuote {rate: $rate, source: $source, observedAt: $observedAt})
CREATE (c)-[:OBSERVED]->(q)
`

// Mirror writes remittance status changes and rate observations into the
// graph. Writes are best-effort: a failed projection is logged and never
// affects the saga's outcome. A nil *Mirror is valid and does nothing.
type Mirror struct {
	logger *slog.Logger
	client Client
}

// NewMirror constructs a Mirror backed by the supplied graph client.
func NewMirror(logger *slog.Logger, client Client) *Mirror {
	return &Mirror{
		logger: logger,
		client: client,
	}
}

// RecordTransaction upserts the remittance node with its latest status.
func (m *Mirror) RecordTransaction(ctx context.Context, tx *domain.Transaction) {
	if m == nil || m.client == nil {
		return
	}

	params := map[string]any{
		"userId":        tx.UserID,
		"transactionId": tx.ID,
		"props": map[string]any{
			"status":         string(tx.Status),
			"amountSource":   tx.AmountSource.InexactFloat64(),
			"amountTarget":   tx.AmountTarget.InexactFloat64(),
			"exchangeRate":   tx.ExchangeRate.InexactFloat64(),
			"fees":           tx.Fees.InexactFloat64(),
			"sourceCurrency": tx.SourceCurrency,
			"targetCurrency": tx.TargetCurrency,
			"failureReason":  tx.FailureReason,
			"updatedAt":      tx.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}

	if err := m.client.ExecuteWrite(ctx, upsertRemittanceCypher, params); err != nil {
		m.logger.Warn("graph projection of transaction failed", "error", err, "transactionId", tx.ID)
	}
}

// RecordRate appends a rate observation under its corridor node.
func (m *Mirror) RecordRate(ctx context.Context, quote domain.RateQuote) {
	if m == nil || m.client == nil {
		return
	}

	params := map[string]any{
		"currencyPair": quote.CurrencyPair,
		"rate":         quote.Rate.InexactFloat64(),
		"source":       quote.Source,
		"observedAt":   quote.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}

	if err := m.client.ExecuteWrite(ctx, recordRateQuoteCypher, params); err != nil {
		m.logger.Warn("graph projection of rate quote failed", "error", err, "currencyPair", quote.CurrencyPair)
	}
}

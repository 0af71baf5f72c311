package domain

import "time"

// EventType classifies an entry in a transaction's audit history.
type EventType string

const (
	EventTransactionCreated   EventType = "TRANSACTION_CREATED"
	EventPaymentInitiated     EventType = "PAYMENT_INITIATED"
	EventPaymentReceived      EventType = "PAYMENT_RECEIVED"
	EventConversionInitiated  EventType = "CONVERSION_INITIATED"
	EventConversionCompleted  EventType = "CONVERSION_COMPLETED"
	EventTransferInitiated    EventType = "TRANSFER_INITIATED"
	EventTransferCompleted    EventType = "TRANSFER_COMPLETED"
	EventTransactionCompleted EventType = "TRANSACTION_COMPLETED"
	EventTransactionFailed    EventType = "TRANSACTION_FAILED"

	// Reserved for the future compensation flow, alongside StatusRefunded.
	EventRefundInitiated EventType = "REFUND_INITIATED"
	EventRefundCompleted EventType = "REFUND_COMPLETED"
)

// ActorSystem is recorded on events triggered by the saga itself rather than
// by a user action.
const ActorSystem = "system"

// TransactionEvent is one immutable fact about a transaction's history.
// Events are append-only and ordered by EventTimestamp ascending.
type TransactionEvent struct {
	EventID        string         `json:"event_id"`
	TransactionID  string         `json:"transaction_id"`
	EventType      EventType      `json:"event_type"`
	EventData      map[string]any `json:"event_data,omitempty"`
	Actor          string         `json:"actor"`
	EventTimestamp time.Time      `json:"event_timestamp"`
}

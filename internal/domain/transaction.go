package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a remittance. Transitions only
// move forward along the saga, or to FAILED from any non-terminal state.
type TransactionStatus string

const (
	StatusInitiated            TransactionStatus = "INITIATED"
	StatusPaymentPending       TransactionStatus = "PAYMENT_PENDING"
	StatusPaymentReceived      TransactionStatus = "PAYMENT_RECEIVED"
	StatusConversionInProgress TransactionStatus = "CONVERSION_IN_PROGRESS"
	StatusConversionComplete   TransactionStatus = "CONVERSION_COMPLETE"
	StatusFundsSent            TransactionStatus = "FUNDS_SENT"
	StatusCompleted            TransactionStatus = "COMPLETED"
	StatusFailed               TransactionStatus = "FAILED"

	// StatusRefunded is reserved for a future compensation flow. No
	// transition currently reaches it.
	StatusRefunded TransactionStatus = "REFUNDED"
)

// forwardTransitions maps each non-terminal status to its single legal
// successor on the happy path.
var forwardTransitions = map[TransactionStatus]TransactionStatus{
	StatusInitiated:            StatusPaymentPending,
	StatusPaymentPending:       StatusPaymentReceived,
	StatusPaymentReceived:      StatusConversionInProgress,
	StatusConversionInProgress: StatusConversionComplete,
	StatusConversionComplete:   StatusFundsSent,
	StatusFundsSent:            StatusCompleted,
}

// Terminal reports whether no further transition may leave this status.
func (s TransactionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRefunded
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	return forwardTransitions[s] == next
}

// RecipientDetails identifies the beneficiary bank account. Set at creation
// and never mutated afterwards.
type RecipientDetails struct {
	FullName          string `json:"full_name"`
	BankName          string `json:"bank_name"`
	AccountNumber     string `json:"account_number"`
	TransitNumber     string `json:"transit_number"`
	InstitutionNumber string `json:"institution_number"`
}

// Transaction is the mutable record of one remittance's progress through the
// saga. AmountTarget, ExchangeRate and Fees are frozen together at creation.
type Transaction struct {
	ID                   string            `json:"transaction_id"`
	UserID               string            `json:"user_id"`
	Status               TransactionStatus `json:"status"`
	AmountSource         decimal.Decimal   `json:"amount_source"`
	AmountTarget         decimal.Decimal   `json:"amount_target"`
	ExchangeRate         decimal.Decimal   `json:"exchange_rate"`
	Fees                 decimal.Decimal   `json:"fees"`
	SourceCurrency       string            `json:"source_currency"`
	TargetCurrency       string            `json:"target_currency"`
	Recipient            RecipientDetails  `json:"recipient_details"`
	PaymentDetails       map[string]string `json:"payment_details,omitempty"`
	ConverterReference   string            `json:"converter_reference,omitempty"`
	TransmitterReference string            `json:"transmitter_reference,omitempty"`
	FailureReason        string            `json:"failure_reason,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	CompletedAt          *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a copy safe to hand out across goroutines.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	if t.PaymentDetails != nil {
		cp.PaymentDetails = make(map[string]string, len(t.PaymentDetails))
		for k, v := range t.PaymentDetails {
			cp.PaymentDetails[k] = v
		}
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}

// FieldUpdates is the closed set of fields a status transition is allowed to
// mutate. Anything not represented here cannot change after creation.
type FieldUpdates struct {
	// PaymentDetails entries are merged into the existing map.
	PaymentDetails       map[string]string
	ConverterReference   *string
	TransmitterReference *string
	FailureReason        *string
	CompletedAt          *time.Time
}

// Apply merges the update set into the transaction. The UpdatedAt bump is the
// store's responsibility so it shares the store's clock.
func (u FieldUpdates) Apply(t *Transaction) {
	if len(u.PaymentDetails) > 0 {
		if t.PaymentDetails == nil {
			t.PaymentDetails = make(map[string]string, len(u.PaymentDetails))
		}
		for k, v := range u.PaymentDetails {
			t.PaymentDetails[k] = v
		}
	}
	if u.ConverterReference != nil {
		t.ConverterReference = *u.ConverterReference
	}
	if u.TransmitterReference != nil {
		t.TransmitterReference = *u.TransmitterReference
	}
	if u.FailureReason != nil {
		t.FailureReason = *u.FailureReason
	}
	if u.CompletedAt != nil {
		ts := *u.CompletedAt
		t.CompletedAt = &ts
	}
}

package store

import (
	"context"
	"errors"

	"github.com/adityakum/remitflow/internal/domain"
)

var (
	// ErrNotFound indicates the transaction id is unknown.
	ErrNotFound = errors.New("transaction not found")
	// ErrConflict indicates a conditional update found a status other than
	// the expected one. Callers treat this as a duplicate or lost race.
	ErrConflict = errors.New("transaction status conflict")
	// ErrAlreadyExists indicates a create collided with an existing id.
	ErrAlreadyExists = errors.New("transaction already exists")
)

// Store is the persistence gateway consumed by the saga engine. The engine is
// the only writer of transactions, events and rate quotes.
//
// UpdateStatus is a compare-and-set: the transition is applied if and only if
// the persisted status equals expected at the moment of the update, otherwise
// ErrConflict is returned and nothing changes. That check is what makes
// duplicate or concurrent callbacks safe without any in-process locking.
type Store interface {
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, id string, expected, next domain.TransactionStatus, updates domain.FieldUpdates) (*domain.Transaction, error)
	AppendEvent(ctx context.Context, event domain.TransactionEvent) error
	ListEvents(ctx context.Context, transactionID string) ([]domain.TransactionEvent, error)
	AppendRateQuote(ctx context.Context, quote domain.RateQuote) error
	ListRateQuotes(ctx context.Context, currencyPair string) ([]domain.RateQuote, error)
}

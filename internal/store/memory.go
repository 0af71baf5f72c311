package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/adityakum/remitflow/internal/domain"
)

// MemoryStore is an in-memory Store used for unit tests and for running the
// service without a Redis backend. The mutex stands in for the conditional
// write a durable store performs.
type MemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*domain.Transaction
	events       map[string][]domain.TransactionEvent
	rates        []domain.RateQuote
	nowFn        func() time.Time
}

// NewMemoryStore instantiates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transactions: make(map[string]*domain.Transaction),
		events:       make(map[string][]domain.TransactionEvent),
		nowFn:        time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (m *MemoryStore) WithClock(nowFn func() time.Time) *MemoryStore {
	if nowFn != nil {
		m.nowFn = nowFn
	}
	return m
}

func (m *MemoryStore) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transactions[tx.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, tx.ID)
	}
	m.transactions[tx.ID] = tx.Clone()
	return nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return tx.Clone(), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, expected, next domain.TransactionStatus, updates domain.FieldUpdates) (*domain.Transaction, error) {
	if !expected.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: illegal transition %s -> %s", ErrConflict, expected, next)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if tx.Status != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrConflict, expected, tx.Status)
	}

	updates.Apply(tx)
	tx.Status = next
	tx.UpdatedAt = m.nowFn().UTC()
	return tx.Clone(), nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event domain.TransactionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.TransactionID] = append(m.events[event.TransactionID], event)
	return nil
}

// ListEvents returns the transaction's events ordered by timestamp ascending.
// The sort is stable so events appended within the same tick keep their
// append order.
func (m *MemoryStore) ListEvents(_ context.Context, transactionID string) ([]domain.TransactionEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := append([]domain.TransactionEvent(nil), m.events[transactionID]...)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].EventTimestamp.Before(events[j].EventTimestamp)
	})
	return events, nil
}

func (m *MemoryStore) AppendRateQuote(_ context.Context, quote domain.RateQuote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates = append(m.rates, quote)
	return nil
}

// ListRateQuotes returns the recorded observations for a corridor ordered by
// timestamp ascending.
func (m *MemoryStore) ListRateQuotes(_ context.Context, currencyPair string) ([]domain.RateQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var quotes []domain.RateQuote
	for _, quote := range m.rates {
		if quote.CurrencyPair == currencyPair {
			quotes = append(quotes, quote)
		}
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		return quotes[i].Timestamp.Before(quotes[j].Timestamp)
	})
	return quotes, nil
}

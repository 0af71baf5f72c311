package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adityakum/remitflow/internal/domain"
)

const (
	txKeyPrefix     = "remit:tx:"
	eventsKeyPrefix = "remit:events:"
	ratesKeyPrefix  = "remit:rates:"

	// Number of times an optimistic transaction is retried after losing a
	// WATCH race before the update is reported as a conflict.
	casRetries = 5
)

// RedisStore persists transactions as JSON values and events/rate quotes as
// sorted sets scored by timestamp. Conditional status updates use WATCH-based
// optimistic transactions, so a concurrent writer invalidates the update and
// the status check is re-run against the fresh value.
type RedisStore struct {
	client *redis.Client
	nowFn  func() time.Time
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		nowFn:  time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *RedisStore) WithClock(nowFn func() time.Time) *RedisStore {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Ping verifies connectivity to the backing Redis instance.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", tx.ID, err)
	}

	set, err := s.client.SetNX(ctx, txKeyPrefix+tx.ID, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("create transaction %s: %w", tx.ID, err)
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, tx.ID)
	}
	return nil
}

func (s *RedisStore) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	raw, err := s.client.Get(ctx, txKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}

	var tx domain.Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal transaction %s: %w", id, err)
	}
	return &tx, nil
}

func (s *RedisStore) UpdateStatus(ctx context.Context, id string, expected, next domain.TransactionStatus, updates domain.FieldUpdates) (*domain.Transaction, error) {
	if !expected.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: illegal transition %s -> %s", ErrConflict, expected, next)
	}

	key := txKeyPrefix + id
	var updated *domain.Transaction

	apply := func(rtx *redis.Tx) error {
		raw, err := rtx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("get transaction %s: %w", id, err)
		}

		var tx domain.Transaction
		if err := json.Unmarshal(raw, &tx); err != nil {
			return fmt.Errorf("unmarshal transaction %s: %w", id, err)
		}
		if tx.Status != expected {
			return fmt.Errorf("%w: expected %s, found %s", ErrConflict, expected, tx.Status)
		}

		updates.Apply(&tx)
		tx.Status = next
		tx.UpdatedAt = s.nowFn().UTC()

		buf, err := json.Marshal(&tx)
		if err != nil {
			return fmt.Errorf("marshal transaction %s: %w", id, err)
		}

		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, buf, 0)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &tx
		return nil
	}

	for i := 0; i < casRetries; i++ {
		err := s.client.Watch(ctx, apply, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("%w: update of %s kept losing races", ErrConflict, id)
}

func (s *RedisStore) AppendEvent(ctx context.Context, event domain.TransactionEvent) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	err = s.client.ZAdd(ctx, eventsKeyPrefix+event.TransactionID, redis.Z{
		Score:  float64(event.EventTimestamp.UnixNano()),
		Member: raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("append event %s: %w", event.EventID, err)
	}
	return nil
}

func (s *RedisStore) ListEvents(ctx context.Context, transactionID string) ([]domain.TransactionEvent, error) {
	members, err := s.client.ZRange(ctx, eventsKeyPrefix+transactionID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", transactionID, err)
	}

	events := make([]domain.TransactionEvent, 0, len(members))
	for _, member := range members {
		var event domain.TransactionEvent
		if err := json.Unmarshal([]byte(member), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event for %s: %w", transactionID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func (s *RedisStore) AppendRateQuote(ctx context.Context, quote domain.RateQuote) error {
	raw, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("marshal rate quote %s: %w", quote.CurrencyPair, err)
	}

	err = s.client.ZAdd(ctx, ratesKeyPrefix+quote.CurrencyPair, redis.Z{
		Score:  float64(quote.Timestamp.UnixNano()),
		Member: raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("append rate quote %s: %w", quote.CurrencyPair, err)
	}
	return nil
}

func (s *RedisStore) ListRateQuotes(ctx context.Context, currencyPair string) ([]domain.RateQuote, error) {
	members, err := s.client.ZRange(ctx, ratesKeyPrefix+currencyPair, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list rate quotes for %s: %w", currencyPair, err)
	}

	quotes := make([]domain.RateQuote, 0, len(members))
	for _, member := range members {
		var quote domain.RateQuote
		if err := json.Unmarshal([]byte(member), &quote); err != nil {
			return nil, fmt.Errorf("unmarshal rate quote for %s: %w", currencyPair, err)
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

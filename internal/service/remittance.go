package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adityakum/remitflow/internal/analytics"
	"github.com/adityakum/remitflow/internal/domain"
	"github.com/adityakum/remitflow/internal/provider"
	"github.com/adityakum/remitflow/internal/store"
)

var (
	// ErrNotFound indicates an unknown transaction id.
	ErrNotFound = errors.New("transaction not found")
	// ErrInvalidState indicates the operation is not legal from the
	// transaction's current status.
	ErrInvalidState = errors.New("transaction is not in a valid state for this operation")
	// ErrInvalidAmount indicates the requested amount is outside the
	// configured bounds for the corridor.
	ErrInvalidAmount = errors.New("amount is outside the allowed range")
)

var oneHundred = decimal.NewFromInt(100)

// Config carries the corridor parameters the saga engine operates under.
type Config struct {
	SourceCurrency string
	TargetCurrency string
	MinAmount      decimal.Decimal
	MaxAmount      decimal.Decimal
	// FeePercent is expressed as a percentage, e.g. 0.5 for 0.5%.
	FeePercent decimal.Decimal
	// RateSource labels rate observations with the provider that quoted them.
	RateSource string
	// ProviderTimeout bounds every outbound provider call. A timeout is
	// treated like any other provider failure.
	ProviderTimeout time.Duration
}

// RemittanceService is the saga engine. It owns every write to the
// transaction record, the event log and the rate quote history; providers
// only return results which the engine turns into state changes.
//
// Correctness under duplicate or concurrent callbacks comes from the store's
// conditional status update, not from any in-process locking: each transition
// is applied only if the persisted status still equals its expected
// predecessor, and a lost race is treated as an already-handled delivery.
type RemittanceService struct {
	logger      *slog.Logger
	store       store.Store
	collector   provider.Collector
	converter   provider.Converter
	transmitter provider.Transmitter
	mirror      *analytics.Mirror
	cfg         Config
	nowFn       func() time.Time
	newID       func() string
}

// NewRemittanceService wires the saga engine with its collaborators. The
// mirror may be nil when graph analytics are disabled.
func NewRemittanceService(
	logger *slog.Logger,
	st store.Store,
	collector provider.Collector,
	converter provider.Converter,
	transmitter provider.Transmitter,
	mirror *analytics.Mirror,
	cfg Config,
) *RemittanceService {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 30 * time.Second
	}
	return &RemittanceService{
		logger:      logger,
		store:       st,
		collector:   collector,
		converter:   converter,
		transmitter: transmitter,
		mirror:      mirror,
		cfg:         cfg,
		nowFn:       time.Now,
		newID:       uuid.NewString,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *RemittanceService) WithClock(nowFn func() time.Time) *RemittanceService {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// CreateRequest starts a new remittance.
type CreateRequest struct {
	SenderID  string
	Amount    decimal.Decimal
	Recipient domain.RecipientDetails
}

// ConfirmRequest carries the payer's collection details.
type ConfirmRequest struct {
	PayerHandle string
}

// CallbackSuccess is the status value providers report on a successful step.
const CallbackSuccess = "SUCCESS"

// CallbackEvent is the normalized inbound notification handed to the engine
// by the web layer. Signature verification and transport framing happen
// before an event reaches here.
type CallbackEvent struct {
	TransactionID string
	Status        string
	Reference     string
	ErrorCode     string
	ErrorMessage  string
}

func (e CallbackEvent) successful() bool {
	return e.Status == CallbackSuccess
}

func (e CallbackEvent) reason() string {
	if e.ErrorMessage != "" {
		return e.ErrorMessage
	}
	if e.ErrorCode != "" {
		return e.ErrorCode
	}
	return "unknown error"
}

func (e CallbackEvent) data() map[string]any {
	data := map[string]any{"status": e.Status}
	if e.Reference != "" {
		data["reference"] = e.Reference
	}
	if e.ErrorCode != "" {
		data["error_code"] = e.ErrorCode
	}
	if e.ErrorMessage != "" {
		data["error_message"] = e.ErrorMessage
	}
	return data
}

// Calculation is a pre-transaction estimate. Nothing is persisted.
type Calculation struct {
	AmountSource decimal.Decimal `json:"amount_source"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
	AmountTarget decimal.Decimal `json:"amount_target"`
	FeePercent   decimal.Decimal `json:"fee_percent"`
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	TotalPayable decimal.Decimal `json:"total_payable"`
}

// StatusReport is a transaction's current status plus its ordered history.
type StatusReport struct {
	TransactionID string
	Status        domain.TransactionStatus
	FailureReason string
	UpdatedAt     time.Time
	History       []domain.TransactionEvent
}

// CreateRemittance quotes the corridor rate, freezes amounts and fees, and
// records the transaction in INITIATED state. The rate used is also appended
// to the rate history for audit.
func (s *RemittanceService) CreateRemittance(ctx context.Context, req CreateRequest) (*domain.Transaction, error) {
	if err := s.validateAmount(req.Amount); err != nil {
		return nil, err
	}

	pair := domain.CurrencyPair(s.cfg.SourceCurrency, s.cfg.TargetCurrency)
	rate, err := s.fetchRate(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("get exchange rate: %w", err)
	}

	quote := domain.RateQuote{
		CurrencyPair: pair,
		Rate:         rate,
		Source:       s.cfg.RateSource,
		Timestamp:    s.nowFn().UTC(),
	}
	if err := s.store.AppendRateQuote(ctx, quote); err != nil {
		return nil, fmt.Errorf("record rate quote: %w", err)
	}
	s.mirror.RecordRate(ctx, quote)

	now := s.nowFn().UTC()
	tx := &domain.Transaction{
		ID:             s.newID(),
		UserID:         req.SenderID,
		Status:         domain.StatusInitiated,
		AmountSource:   req.Amount,
		AmountTarget:   req.Amount.Mul(rate),
		ExchangeRate:   rate,
		Fees:           req.Amount.Mul(s.cfg.FeePercent).Div(oneHundred),
		SourceCurrency: s.cfg.SourceCurrency,
		TargetCurrency: s.cfg.TargetCurrency,
		Recipient:      req.Recipient,
		PaymentDetails: map[string]string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	err = s.appendEvent(ctx, tx.ID, domain.EventTransactionCreated, map[string]any{
		"amount_source": tx.AmountSource.String(),
		"amount_target": tx.AmountTarget.String(),
		"exchange_rate": tx.ExchangeRate.String(),
		"fees":          tx.Fees.String(),
	}, req.SenderID)
	if err != nil {
		return nil, err
	}

	s.mirror.RecordTransaction(ctx, tx)
	s.logger.Info("remittance created", "transactionId", tx.ID, "userId", tx.UserID, "amountSource", tx.AmountSource.String())
	return tx, nil
}

// ConfirmRemittance opens payment collection for amount plus fees and moves
// the transaction to PAYMENT_PENDING. Payment completion is reported later by
// the collector's callback; this call never waits for it.
func (s *RemittanceService) ConfirmRemittance(ctx context.Context, transactionID string, req ConfirmRequest) (*domain.Transaction, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.StatusInitiated {
		return nil, fmt.Errorf("%w: have %s, want %s", ErrInvalidState, tx.Status, domain.StatusInitiated)
	}

	total := tx.AmountSource.Add(tx.Fees)
	pctx, cancel := s.providerCtx(ctx)
	collection, err := s.collector.CreateCollectionRequest(pctx, tx.ID, total, req.PayerHandle)
	cancel()
	if err != nil {
		reason := "payment collection setup failed: " + providerReason(err)
		s.failFrom(ctx, tx.ID, tx.Status, reason, nil)
		return nil, fmt.Errorf("create collection request: %w", err)
	}

	updated, err := s.store.UpdateStatus(ctx, tx.ID, domain.StatusInitiated, domain.StatusPaymentPending, domain.FieldUpdates{
		PaymentDetails: map[string]string{
			"collection_reference": collection.Reference,
			"payment_link":         collection.PaymentLink,
			"payer_handle":         req.PayerHandle,
		},
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: transaction was confirmed concurrently", ErrInvalidState)
		}
		return nil, fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}

	err = s.appendEvent(ctx, tx.ID, domain.EventPaymentInitiated, map[string]any{
		"amount":               total.String(),
		"collection_reference": collection.Reference,
		"payment_link":         collection.PaymentLink,
	}, domain.ActorSystem)
	if err != nil {
		return nil, err
	}

	s.mirror.RecordTransaction(ctx, updated)
	s.logger.Info("payment collection opened", "transactionId", tx.ID, "collectionReference", collection.Reference)
	return updated, nil
}

// HandleCollectorCallback processes the collector's payment outcome. On
// success the engine immediately starts currency conversion, so the happy
// path applies two transitions and records two events before returning.
//
// The returned error is non-nil only for an unknown transaction; every other
// failure is absorbed into the transaction state so the transport layer can
// acknowledge the delivery.
func (s *RemittanceService) HandleCollectorCallback(ctx context.Context, ev CallbackEvent) (bool, error) {
	tx, err := s.loadForCallback(ctx, ev.TransactionID, "collector")
	if err != nil {
		return false, err
	}

	if !ev.successful() {
		s.failFrom(ctx, tx.ID, tx.Status, "payment collection failed: "+ev.reason(), ev.data())
		return false, nil
	}

	updated, err := s.store.UpdateStatus(ctx, tx.ID, domain.StatusPaymentPending, domain.StatusPaymentReceived, domain.FieldUpdates{
		PaymentDetails: map[string]string{"collector_reference": ev.Reference},
	})
	if err != nil {
		return s.absorbTransitionError(err, tx.ID, "collector")
	}
	// The conditional update is the record of truth. Once it has been
	// applied the saga must keep moving: a failed append is logged inside
	// appendEvent and never aborts the step, otherwise the transaction
	// would be stranded mid-saga with every redelivery acknowledged as a
	// duplicate.
	_ = s.appendEvent(ctx, tx.ID, domain.EventPaymentReceived, ev.data(), domain.ActorSystem)

	pctx, cancel := s.providerCtx(ctx)
	conversionRef, err := s.converter.StartConversion(pctx, tx.ID, updated.SourceCurrency, updated.TargetCurrency, updated.AmountSource, updated.ExchangeRate)
	cancel()
	if err != nil {
		s.failFrom(ctx, tx.ID, domain.StatusPaymentReceived, "currency conversion failed: "+providerReason(err), nil)
		return false, nil
	}

	inProgress, err := s.store.UpdateStatus(ctx, tx.ID, domain.StatusPaymentReceived, domain.StatusConversionInProgress, domain.FieldUpdates{
		ConverterReference: &conversionRef,
	})
	if err != nil {
		return s.absorbTransitionError(err, tx.ID, "collector")
	}
	_ = s.appendEvent(ctx, tx.ID, domain.EventConversionInitiated, map[string]any{
		"converter_reference": conversionRef,
		"amount_source":       inProgress.AmountSource.String(),
		"amount_target":       inProgress.AmountTarget.String(),
		"exchange_rate":       inProgress.ExchangeRate.String(),
	}, domain.ActorSystem)

	s.mirror.RecordTransaction(ctx, inProgress)
	s.logger.Info("payment received, conversion started", "transactionId", tx.ID, "converterReference", conversionRef)
	return true, nil
}

// HandleConverterCallback processes the conversion outcome and, on success,
// starts the international transfer.
func (s *RemittanceService) HandleConverterCallback(ctx context.Context, ev CallbackEvent) (bool, error) {
	tx, err := s.loadForCallback(ctx, ev.TransactionID, "converter")
	if err != nil {
		return false, err
	}

	if !ev.successful() {
		s.failFrom(ctx, tx.ID, tx.Status, "currency conversion failed: "+ev.reason(), ev.data())
		return false, nil
	}

	complete, err := s.store.UpdateStatus(ctx, tx.ID, domain.StatusConversionInProgress, domain.StatusConversionComplete, domain.FieldUpdates{})
	if err != nil {
		return s.absorbTransitionError(err, tx.ID, "converter")
	}
	_ = s.appendEvent(ctx, tx.ID, domain.EventConversionCompleted, ev.data(), domain.ActorSystem)

	// Funds are already in the target currency when handed to the
	// transmitter, so the payout leg is same-currency.
	pctx, cancel := s.providerCtx(ctx)
	transferRef, err := s.transmitter.StartTransfer(pctx, tx.ID, complete.TargetCurrency, complete.TargetCurrency, complete.AmountTarget, complete.Recipient)
	cancel()
	if err != nil {
		s.failFrom(ctx, tx.ID, domain.StatusConversionComplete, "transfer initiation failed: "+providerReason(err), nil)
		return false, nil
	}

	sent, err := s.store.UpdateStatus(ctx, tx.ID, domain.StatusConversionComplete, domain.StatusFundsSent, domain.FieldUpdates{
		TransmitterReference: &transferRef,
	})
	if err != nil {
		return s.absorbTransitionError(err, tx.ID, "converter")
	}
	_ = s.appendEvent(ctx, tx.ID, domain.EventTransferInitiated, map[string]any{
		"transmitter_reference": transferRef,
		"amount_target":         sent.AmountTarget.String(),
	}, domain.ActorSystem)

	s.mirror.RecordTransaction(ctx, sent)
	s.logger.Info("conversion complete, transfer started", "transactionId", tx.ID, "transmitterReference", transferRef)
	return true, nil
}

// HandleTransmitterCallback processes the transfer outcome. Success is the
// terminal happy path; no further provider calls are made.
func (s *RemittanceService) HandleTransmitterCallback(ctx context.Context, ev CallbackEvent) (bool, error) {
	tx, err := s.loadForCallback(ctx, ev.TransactionID, "transmitter")
	if err != nil {
		return false, err
	}

	if !ev.successful() {
		s.failFrom(ctx, tx.ID, tx.Status, "transfer failed: "+ev.reason(), ev.data())
		return false, nil
	}

	completedAt := s.nowFn().UTC()
	completed, err := s.store.UpdateStatus(ctx, tx.ID, domain.StatusFundsSent, domain.StatusCompleted, domain.FieldUpdates{
		CompletedAt: &completedAt,
	})
	if err != nil {
		return s.absorbTransitionError(err, tx.ID, "transmitter")
	}

	_ = s.appendEvent(ctx, tx.ID, domain.EventTransferCompleted, ev.data(), domain.ActorSystem)
	_ = s.appendEvent(ctx, tx.ID, domain.EventTransactionCompleted, map[string]any{
		"completed_at": completedAt.Format(time.RFC3339Nano),
	}, domain.ActorSystem)

	s.mirror.RecordTransaction(ctx, completed)
	s.logger.Info("remittance completed", "transactionId", tx.ID)
	return true, nil
}

// GetStatus returns the transaction's current status together with the full
// event history ordered by timestamp ascending.
func (s *RemittanceService) GetStatus(ctx context.Context, transactionID string) (StatusReport, error) {
	tx, err := s.load(ctx, transactionID)
	if err != nil {
		return StatusReport{}, err
	}

	events, err := s.store.ListEvents(ctx, transactionID)
	if err != nil {
		return StatusReport{}, fmt.Errorf("list events for %s: %w", transactionID, err)
	}

	return StatusReport{
		TransactionID: tx.ID,
		Status:        tx.Status,
		FailureReason: tx.FailureReason,
		UpdatedAt:     tx.UpdatedAt,
		History:       events,
	}, nil
}

// RateHistory returns the corridor identifier together with every rate
// observation recorded for it, oldest first.
func (s *RemittanceService) RateHistory(ctx context.Context) (string, []domain.RateQuote, error) {
	pair := domain.CurrencyPair(s.cfg.SourceCurrency, s.cfg.TargetCurrency)
	quotes, err := s.store.ListRateQuotes(ctx, pair)
	if err != nil {
		return "", nil, fmt.Errorf("list rate quotes for %s: %w", pair, err)
	}
	return pair, quotes, nil
}

// CalculateRemittance is a side-effect-free estimate against a fresh rate.
// Callers must tolerate drift between the estimate and a later creation.
func (s *RemittanceService) CalculateRemittance(ctx context.Context, amount decimal.Decimal) (Calculation, error) {
	pair := domain.CurrencyPair(s.cfg.SourceCurrency, s.cfg.TargetCurrency)
	rate, err := s.fetchRate(ctx, pair)
	if err != nil {
		return Calculation{}, fmt.Errorf("get exchange rate: %w", err)
	}

	feeAmount := amount.Mul(s.cfg.FeePercent).Div(oneHundred)
	return Calculation{
		AmountSource: amount,
		ExchangeRate: rate,
		AmountTarget: amount.Mul(rate),
		FeePercent:   s.cfg.FeePercent,
		FeeAmount:    feeAmount,
		TotalPayable: amount.Add(feeAmount),
	}, nil
}

func (s *RemittanceService) validateAmount(amount decimal.Decimal) error {
	if amount.LessThan(s.cfg.MinAmount) || amount.GreaterThan(s.cfg.MaxAmount) {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidAmount, amount, s.cfg.MinAmount, s.cfg.MaxAmount)
	}
	return nil
}

func (s *RemittanceService) fetchRate(ctx context.Context, pair string) (decimal.Decimal, error) {
	pctx, cancel := s.providerCtx(ctx)
	defer cancel()
	return s.converter.GetRate(pctx, pair)
}

func (s *RemittanceService) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ProviderTimeout)
}

func (s *RemittanceService) load(ctx context.Context, id string) (*domain.Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *RemittanceService) loadForCallback(ctx context.Context, id, source string) (*domain.Transaction, error) {
	tx, err := s.load(ctx, id)
	if err != nil {
		s.logger.Error("callback for unknown transaction", "source", source, "transactionId", id, "error", err)
		return nil, err
	}
	return tx, nil
}

// absorbTransitionError turns a lost conditional update into an acknowledged
// duplicate and anything else into a logged no-op failure, so callback
// handlers never surface internal errors to the transport.
func (s *RemittanceService) absorbTransitionError(err error, id, source string) (bool, error) {
	if errors.Is(err, store.ErrConflict) {
		s.logger.Info("duplicate callback ignored", "source", source, "transactionId", id)
		return true, nil
	}
	s.logger.Error("callback transition failed", "source", source, "transactionId", id, "error", err)
	return false, nil
}

// failFrom moves the transaction from its expected current status to FAILED
// and records a single TRANSACTION_FAILED event. A lost race means another
// handler already settled the transaction, so nothing further is recorded.
func (s *RemittanceService) failFrom(ctx context.Context, id string, expected domain.TransactionStatus, reason string, callbackData map[string]any) {
	if expected.Terminal() {
		s.logger.Info("failure reported for settled transaction", "transactionId", id, "status", expected)
		return
	}

	failed, err := s.store.UpdateStatus(ctx, id, expected, domain.StatusFailed, domain.FieldUpdates{
		FailureReason: &reason,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			s.logger.Info("failure already applied elsewhere", "transactionId", id)
			return
		}
		s.logger.Error("failed to mark transaction as failed", "transactionId", id, "error", err)
		return
	}

	data := map[string]any{"reason": reason}
	for k, v := range callbackData {
		data[k] = v
	}
	_ = s.appendEvent(ctx, id, domain.EventTransactionFailed, data, domain.ActorSystem)

	s.mirror.RecordTransaction(ctx, failed)
	s.logger.Warn("remittance failed", "transactionId", id, "reason", reason)
}

func (s *RemittanceService) appendEvent(ctx context.Context, transactionID string, eventType domain.EventType, data map[string]any, actor string) error {
	event := domain.TransactionEvent{
		EventID:        s.newID(),
		TransactionID:  transactionID,
		EventType:      eventType,
		EventData:      data,
		Actor:          actor,
		EventTimestamp: s.nowFn().UTC(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.logger.Error("failed to append event", "transactionId", transactionID, "eventType", eventType, "error", err)
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}

func providerReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "provider call timed out"
	}
	return err.Error()
}

package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adityakum/remitflow/internal/domain"
	"github.com/adityakum/remitflow/internal/provider"
	"github.com/adityakum/remitflow/internal/store"
)

type stubCollector struct {
	err        error
	calls      int
	lastAmount decimal.Decimal
}

func (c *stubCollector) CreateCollectionRequest(_ context.Context, transactionID string, amount decimal.Decimal, _ string) (provider.CollectionRequest, error) {
	c.calls++
	c.lastAmount = amount
	if c.err != nil {
		return provider.CollectionRequest{}, c.err
	}
	return provider.CollectionRequest{
		Reference:   "COL-1",
		PaymentLink: "upi://pay/" + transactionID,
	}, nil
}

type stubConverter struct {
	rate        decimal.Decimal
	rateErr     error
	rateCalls   int
	convErr     error
	conversions int
}

func (c *stubConverter) GetRate(context.Context, string) (decimal.Decimal, error) {
	c.rateCalls++
	if c.rateErr != nil {
		return decimal.Decimal{}, c.rateErr
	}
	return c.rate, nil
}

func (c *stubConverter) StartConversion(context.Context, string, string, string, decimal.Decimal, decimal.Decimal) (string, error) {
	c.conversions++
	if c.convErr != nil {
		return "", c.convErr
	}
	return "CONV-1", nil
}

type stubTransmitter struct {
	err       error
	transfers int
}

func (t *stubTransmitter) StartTransfer(context.Context, string, string, string, decimal.Decimal, domain.RecipientDetails) (string, error) {
	t.transfers++
	if t.err != nil {
		return "", t.err
	}
	return "TRF-1", nil
}

type fixture struct {
	svc         *RemittanceService
	store       *store.MemoryStore
	collector   *stubCollector
	converter   *stubConverter
	transmitter *stubTransmitter
}

func newFixture() *fixture {
	st := store.NewMemoryStore()
	collector := &stubCollector{}
	converter := &stubConverter{rate: decimal.RequireFromString("0.017")}
	transmitter := &stubTransmitter{}

	svc := NewRemittanceService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		st,
		collector,
		converter,
		transmitter,
		nil,
		Config{
			SourceCurrency:  "INR",
			TargetCurrency:  "CAD",
			MinAmount:       decimal.NewFromInt(1000),
			MaxAmount:       decimal.NewFromInt(100000),
			FeePercent:      decimal.RequireFromString("0.5"),
			RateSource:      "CONVERTER",
			ProviderTimeout: time.Second,
		},
	)

	return &fixture{
		svc:         svc,
		store:       st,
		collector:   collector,
		converter:   converter,
		transmitter: transmitter,
	}
}

func (f *fixture) create(t *testing.T) *domain.Transaction {
	t.Helper()
	tx, err := f.svc.CreateRemittance(context.Background(), CreateRequest{
		SenderID: "USR-1",
		Amount:   decimal.NewFromInt(10000),
		Recipient: domain.RecipientDetails{
			FullName:      "Alice Tremblay",
			BankName:      "Maple Bank",
			AccountNumber: "4567890",
			TransitNumber: "00123",
		},
	})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}
	return tx
}

func (f *fixture) confirm(t *testing.T, id string) *domain.Transaction {
	t.Helper()
	tx, err := f.svc.ConfirmRemittance(context.Background(), id, ConfirmRequest{PayerHandle: "sender@upi"})
	if err != nil {
		t.Fatalf("confirm remittance: %v", err)
	}
	return tx
}

func (f *fixture) status(t *testing.T, id string) domain.TransactionStatus {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	return tx.Status
}

func (f *fixture) eventTypes(t *testing.T, id string) []domain.EventType {
	t.Helper()
	events, err := f.store.ListEvents(context.Background(), id)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	types := make([]domain.EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.EventType)
	}
	return types
}

func (f *fixture) countEvents(t *testing.T, id string, eventType domain.EventType) int {
	t.Helper()
	var n int
	for _, got := range f.eventTypes(t, id) {
		if got == eventType {
			n++
		}
	}
	return n
}

func successCallback(id string) CallbackEvent {
	return CallbackEvent{TransactionID: id, Status: CallbackSuccess, Reference: "REF-1"}
}

func failureCallback(id string) CallbackEvent {
	return CallbackEvent{TransactionID: id, Status: "FAILURE", ErrorCode: "E42", ErrorMessage: "insufficient balance"}
}

func TestCreateRemittance_FreezesAmounts(t *testing.T) {
	f := newFixture()
	tx := f.create(t)

	if tx.Status != domain.StatusInitiated {
		t.Errorf("expected INITIATED, got %s", tx.Status)
	}
	if want := decimal.NewFromInt(170); !tx.AmountTarget.Equal(want) {
		t.Errorf("expected amount_target %s, got %s", want, tx.AmountTarget)
	}
	if want := decimal.NewFromInt(50); !tx.Fees.Equal(want) {
		t.Errorf("expected fees %s, got %s", want, tx.Fees)
	}
	if !tx.ExchangeRate.Equal(decimal.RequireFromString("0.017")) {
		t.Errorf("expected locked rate 0.017, got %s", tx.ExchangeRate)
	}

	types := f.eventTypes(t, tx.ID)
	if len(types) != 1 || types[0] != domain.EventTransactionCreated {
		t.Errorf("expected a single TRANSACTION_CREATED event, got %v", types)
	}

	events, _ := f.store.ListEvents(context.Background(), tx.ID)
	if events[0].Actor != "USR-1" {
		t.Errorf("creation event actor must be the sender, got %q", events[0].Actor)
	}

	quotes, err := f.store.ListRateQuotes(context.Background(), "INR_CAD")
	if err != nil {
		t.Fatalf("list rate quotes: %v", err)
	}
	if len(quotes) != 1 || quotes[0].CurrencyPair != "INR_CAD" {
		t.Errorf("expected one INR_CAD rate observation, got %v", quotes)
	}
}

func TestCreateRemittance_RejectsOutOfBoundsAmount(t *testing.T) {
	f := newFixture()

	for _, amount := range []decimal.Decimal{decimal.NewFromInt(999), decimal.NewFromInt(100001)} {
		_, err := f.svc.CreateRemittance(context.Background(), CreateRequest{
			SenderID: "USR-1",
			Amount:   amount,
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amount, err)
		}
	}

	if f.converter.rateCalls != 0 {
		t.Error("a rejected amount must not reach the converter")
	}
}

func TestCreateRemittance_RateFetchFails(t *testing.T) {
	f := newFixture()
	f.converter.rateErr = errors.New("rate service down")

	_, err := f.svc.CreateRemittance(context.Background(), CreateRequest{
		SenderID: "USR-1",
		Amount:   decimal.NewFromInt(10000),
	})
	if err == nil {
		t.Fatal("expected an error when the rate fetch fails")
	}
}

func TestConfirmRemittance(t *testing.T) {
	f := newFixture()
	tx := f.create(t)

	confirmed := f.confirm(t, tx.ID)

	if confirmed.Status != domain.StatusPaymentPending {
		t.Errorf("expected PAYMENT_PENDING, got %s", confirmed.Status)
	}
	if confirmed.PaymentDetails["payment_link"] == "" {
		t.Error("expected the collection link in payment details")
	}
	if confirmed.PaymentDetails["payer_handle"] != "sender@upi" {
		t.Errorf("expected payer handle to be stored, got %v", confirmed.PaymentDetails)
	}
	// Collection is opened for amount plus fees.
	if want := decimal.NewFromInt(10050); !f.collector.lastAmount.Equal(want) {
		t.Errorf("expected collection amount %s, got %s", want, f.collector.lastAmount)
	}

	types := f.eventTypes(t, tx.ID)
	want := []domain.EventType{domain.EventTransactionCreated, domain.EventPaymentInitiated}
	if len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("expected events %v, got %v", want, types)
	}
}

func TestConfirmRemittance_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.ConfirmRemittance(context.Background(), "nope", ConfirmRequest{PayerHandle: "x@upi"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirmRemittance_WrongState(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)

	before := len(f.eventTypes(t, tx.ID))

	_, err := f.svc.ConfirmRemittance(context.Background(), tx.ID, ConfirmRequest{PayerHandle: "x@upi"})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := len(f.eventTypes(t, tx.ID)); got != before {
		t.Errorf("a rejected confirmation must not produce events, had %d now %d", before, got)
	}
}

func TestConfirmRemittance_CollectorError(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.collector.err = errors.New("collector unreachable")

	_, err := f.svc.ConfirmRemittance(context.Background(), tx.ID, ConfirmRequest{PayerHandle: "x@upi"})
	if err == nil {
		t.Fatal("expected error to propagate on a direct call")
	}

	if got := f.status(t, tx.ID); got != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
	loaded, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if loaded.FailureReason == "" {
		t.Error("expected a non-empty failure reason")
	}
	if n := f.countEvents(t, tx.ID, domain.EventTransactionFailed); n != 1 {
		t.Errorf("expected exactly one TRANSACTION_FAILED event, got %d", n)
	}
}

func TestCollectorCallback_SuccessStartsConversion(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)

	processed, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID))
	if err != nil || !processed {
		t.Fatalf("expected processed callback, got processed=%v err=%v", processed, err)
	}

	if got := f.status(t, tx.ID); got != domain.StatusConversionInProgress {
		t.Errorf("expected CONVERSION_IN_PROGRESS, got %s", got)
	}
	loaded, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if loaded.ConverterReference != "CONV-1" {
		t.Errorf("expected converter reference stored, got %q", loaded.ConverterReference)
	}
	if loaded.PaymentDetails["collector_reference"] != "REF-1" {
		t.Errorf("expected callback reference merged into payment details, got %v", loaded.PaymentDetails)
	}
	if f.converter.conversions != 1 {
		t.Errorf("expected exactly one conversion attempt, got %d", f.converter.conversions)
	}
}

func TestCollectorCallback_DuplicateDelivery(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)

	if _, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	processed, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID))
	if err != nil {
		t.Fatalf("duplicate delivery must not error, got %v", err)
	}
	if !processed {
		t.Error("duplicate delivery must be acknowledged as handled")
	}

	if f.converter.conversions != 1 {
		t.Errorf("duplicate delivery must not retry conversion, got %d attempts", f.converter.conversions)
	}
	if n := f.countEvents(t, tx.ID, domain.EventPaymentReceived); n != 1 {
		t.Errorf("expected exactly one PAYMENT_RECEIVED event, got %d", n)
	}
}

func TestCollectorCallback_Failure(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)

	processed, err := f.svc.HandleCollectorCallback(context.Background(), failureCallback(tx.ID))
	if err != nil {
		t.Fatalf("callback failures are absorbed, got %v", err)
	}
	if processed {
		t.Error("a failure callback must report processed=false")
	}

	if got := f.status(t, tx.ID); got != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
	loaded, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if loaded.FailureReason == "" {
		t.Error("expected a non-empty failure reason")
	}
	if f.converter.conversions != 0 {
		t.Error("no conversion may be attempted after a failed collection")
	}
	if n := f.countEvents(t, tx.ID, domain.EventTransactionFailed); n != 1 {
		t.Errorf("expected exactly one TRANSACTION_FAILED event, got %d", n)
	}
}

func TestCollectorCallback_ConversionError(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)
	f.converter.convErr = errors.New("conversion desk closed")

	processed, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID))
	if err != nil || processed {
		t.Fatalf("expected absorbed failure, got processed=%v err=%v", processed, err)
	}

	if got := f.status(t, tx.ID); got != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
	loaded, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if loaded.FailureReason == "" {
		t.Error("expected a non-empty failure reason")
	}
	if n := f.countEvents(t, tx.ID, domain.EventTransactionFailed); n != 1 {
		t.Errorf("expected exactly one TRANSACTION_FAILED event, got %d", n)
	}
}

func TestCollectorCallback_UnknownTransaction(t *testing.T) {
	f := newFixture()

	processed, err := f.svc.HandleCollectorCallback(context.Background(), successCallback("nope"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for the transport layer, got %v", err)
	}
	if processed {
		t.Error("unknown transaction must not be reported as processed")
	}
}

func TestConverterCallback_SuccessStartsTransfer(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)
	if _, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID)); err != nil {
		t.Fatalf("collector callback: %v", err)
	}

	processed, err := f.svc.HandleConverterCallback(context.Background(), successCallback(tx.ID))
	if err != nil || !processed {
		t.Fatalf("expected processed callback, got processed=%v err=%v", processed, err)
	}

	if got := f.status(t, tx.ID); got != domain.StatusFundsSent {
		t.Errorf("expected FUNDS_SENT, got %s", got)
	}
	loaded, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if loaded.TransmitterReference != "TRF-1" {
		t.Errorf("expected transmitter reference stored, got %q", loaded.TransmitterReference)
	}
	if f.transmitter.transfers != 1 {
		t.Errorf("expected exactly one transfer attempt, got %d", f.transmitter.transfers)
	}
}

func TestConverterCallback_TransferError(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)
	if _, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID)); err != nil {
		t.Fatalf("collector callback: %v", err)
	}
	f.transmitter.err = errors.New("network unreachable")

	processed, err := f.svc.HandleConverterCallback(context.Background(), successCallback(tx.ID))
	if err != nil || processed {
		t.Fatalf("expected absorbed failure, got processed=%v err=%v", processed, err)
	}

	if got := f.status(t, tx.ID); got != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
	if n := f.countEvents(t, tx.ID, domain.EventTransactionFailed); n != 1 {
		t.Errorf("expected exactly one TRANSACTION_FAILED event, got %d", n)
	}
}

func TestTransmitterCallback_Failure(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)
	if _, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID)); err != nil {
		t.Fatalf("collector callback: %v", err)
	}
	if _, err := f.svc.HandleConverterCallback(context.Background(), successCallback(tx.ID)); err != nil {
		t.Fatalf("converter callback: %v", err)
	}

	processed, err := f.svc.HandleTransmitterCallback(context.Background(), failureCallback(tx.ID))
	if err != nil || processed {
		t.Fatalf("expected absorbed failure, got processed=%v err=%v", processed, err)
	}
	if got := f.status(t, tx.ID); got != domain.StatusFailed {
		t.Errorf("expected FAILED, got %s", got)
	}
}

func TestFullHappyPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tx := f.create(t)
	f.confirm(t, tx.ID)
	if got := f.status(t, tx.ID); got != domain.StatusPaymentPending {
		t.Fatalf("after confirm expected PAYMENT_PENDING, got %s", got)
	}

	if _, err := f.svc.HandleCollectorCallback(ctx, successCallback(tx.ID)); err != nil {
		t.Fatalf("collector callback: %v", err)
	}
	if got := f.status(t, tx.ID); got != domain.StatusConversionInProgress {
		t.Fatalf("after collector callback expected CONVERSION_IN_PROGRESS, got %s", got)
	}

	if _, err := f.svc.HandleConverterCallback(ctx, successCallback(tx.ID)); err != nil {
		t.Fatalf("converter callback: %v", err)
	}
	if got := f.status(t, tx.ID); got != domain.StatusFundsSent {
		t.Fatalf("after converter callback expected FUNDS_SENT, got %s", got)
	}

	processed, err := f.svc.HandleTransmitterCallback(ctx, successCallback(tx.ID))
	if err != nil || !processed {
		t.Fatalf("transmitter callback: processed=%v err=%v", processed, err)
	}
	if got := f.status(t, tx.ID); got != domain.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", got)
	}

	loaded, _ := f.store.GetTransaction(ctx, tx.ID)
	if loaded.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on completion")
	}

	want := []domain.EventType{
		domain.EventTransactionCreated,
		domain.EventPaymentInitiated,
		domain.EventPaymentReceived,
		domain.EventConversionInitiated,
		domain.EventConversionCompleted,
		domain.EventTransferInitiated,
		domain.EventTransferCompleted,
		domain.EventTransactionCompleted,
	}
	got := f.eventTypes(t, tx.ID)
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestGetStatus(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)

	report, err := f.svc.GetStatus(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Status != domain.StatusPaymentPending {
		t.Errorf("expected PAYMENT_PENDING, got %s", report.Status)
	}
	if len(report.History) != 2 {
		t.Errorf("expected 2 events in history, got %d", len(report.History))
	}
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newFixture()
	_, err := f.svc.GetStatus(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCalculateRemittance(t *testing.T) {
	f := newFixture()

	calc, err := f.svc.CalculateRemittance(context.Background(), decimal.NewFromInt(10000))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if want := decimal.NewFromInt(170); !calc.AmountTarget.Equal(want) {
		t.Errorf("expected target %s, got %s", want, calc.AmountTarget)
	}
	if want := decimal.NewFromInt(50); !calc.FeeAmount.Equal(want) {
		t.Errorf("expected fee %s, got %s", want, calc.FeeAmount)
	}
	if want := decimal.NewFromInt(10050); !calc.TotalPayable.Equal(want) {
		t.Errorf("expected total %s, got %s", want, calc.TotalPayable)
	}

	// Estimates never persist anything and always refetch the rate.
	if quotes, _ := f.store.ListRateQuotes(context.Background(), "INR_CAD"); len(quotes) != 0 {
		t.Error("calculation must not record rate quotes")
	}
	if _, err := f.svc.CalculateRemittance(context.Background(), decimal.NewFromInt(2000)); err != nil {
		t.Fatalf("second calculation: %v", err)
	}
	if f.converter.rateCalls != 2 {
		t.Errorf("expected a fresh rate per calculation, got %d fetches", f.converter.rateCalls)
	}
}

// flakyEventStore fails a fixed number of event appends, then recovers.
type flakyEventStore struct {
	*store.MemoryStore
	failures int
}

func (s *flakyEventStore) AppendEvent(ctx context.Context, event domain.TransactionEvent) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("event log unavailable")
	}
	return s.MemoryStore.AppendEvent(ctx, event)
}

func TestCollectorCallback_EventAppendFailureKeepsSagaMoving(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyEventStore{MemoryStore: store.NewMemoryStore()}
	collector := &stubCollector{}
	converter := &stubConverter{rate: decimal.RequireFromString("0.017")}

	svc := NewRemittanceService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		flaky,
		collector,
		converter,
		&stubTransmitter{},
		nil,
		Config{
			SourceCurrency:  "INR",
			TargetCurrency:  "CAD",
			MinAmount:       decimal.NewFromInt(1000),
			MaxAmount:       decimal.NewFromInt(100000),
			FeePercent:      decimal.RequireFromString("0.5"),
			RateSource:      "CONVERTER",
			ProviderTimeout: time.Second,
		},
	)

	tx, err := svc.CreateRemittance(ctx, CreateRequest{SenderID: "USR-1", Amount: decimal.NewFromInt(10000)})
	if err != nil {
		t.Fatalf("create remittance: %v", err)
	}
	if _, err := svc.ConfirmRemittance(ctx, tx.ID, ConfirmRequest{PayerHandle: "sender@upi"}); err != nil {
		t.Fatalf("confirm remittance: %v", err)
	}

	// The next event append (PAYMENT_RECEIVED) fails.
	flaky.failures = 1

	processed, err := svc.HandleCollectorCallback(ctx, successCallback(tx.ID))
	if err != nil || !processed {
		t.Fatalf("expected processed callback despite the append failure, got processed=%v err=%v", processed, err)
	}

	loaded, err := flaky.GetTransaction(ctx, tx.ID)
	if err != nil {
		t.Fatalf("load transaction: %v", err)
	}
	if loaded.Status != domain.StatusConversionInProgress {
		t.Errorf("expected CONVERSION_IN_PROGRESS, got %s", loaded.Status)
	}
	if converter.conversions != 1 {
		t.Errorf("expected the conversion to be started, got %d attempts", converter.conversions)
	}

	events, err := flaky.ListEvents(ctx, tx.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var sawConversionInitiated bool
	for _, event := range events {
		if event.EventType == domain.EventConversionInitiated {
			sawConversionInitiated = true
		}
	}
	if !sawConversionInitiated {
		t.Error("expected the CONVERSION_INITIATED event once the log recovered")
	}
}

func TestProviderTimeoutBecomesFailure(t *testing.T) {
	f := newFixture()
	tx := f.create(t)
	f.confirm(t, tx.ID)
	f.converter.convErr = context.DeadlineExceeded

	processed, err := f.svc.HandleCollectorCallback(context.Background(), successCallback(tx.ID))
	if err != nil || processed {
		t.Fatalf("expected absorbed failure, got processed=%v err=%v", processed, err)
	}

	loaded, _ := f.store.GetTransaction(context.Background(), tx.ID)
	if loaded.Status != domain.StatusFailed {
		t.Fatalf("expected FAILED, got %s", loaded.Status)
	}
	if loaded.FailureReason != "currency conversion failed: provider call timed out" {
		t.Errorf("expected a timeout-specific reason, got %q", loaded.FailureReason)
	}
}

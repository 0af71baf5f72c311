package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adityakum/remitflow/internal/domain"
	"github.com/adityakum/remitflow/internal/service"
)

// APIHandlers exposes HTTP handlers for the remittance API and the provider
// callback endpoints.
type APIHandlers struct {
	logger  *slog.Logger
	service *service.RemittanceService
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, svc *service.RemittanceService) *APIHandlers {
	return &APIHandlers{
		logger:  logger,
		service: svc,
	}
}

type createRemittanceRequest struct {
	SenderID  string                  `json:"sender_id"`
	Amount    decimal.Decimal         `json:"amount"`
	Recipient domain.RecipientDetails `json:"recipient"`
}

type confirmRemittanceRequest struct {
	PayerHandle string `json:"payer_handle"`
}

// callbackRequest is the normalized shape every provider webhook is reduced
// to before it reaches the saga engine. Signature verification belongs to
// the deployment's ingress layer, not here.
type callbackRequest struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	ErrorCode     string `json:"error_code"`
	ErrorMessage  string `json:"error_message"`
}

type callbackResponse struct {
	Processed bool `json:"processed"`
}

type historyEntry struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Actor     string         `json:"actor"`
	Data      map[string]any `json:"data,omitempty"`
}

type statusResponse struct {
	TransactionID string         `json:"transaction_id"`
	Status        string         `json:"status"`
	FailureReason string         `json:"failure_reason,omitempty"`
	LastUpdated   string         `json:"last_updated"`
	History       []historyEntry `json:"history"`
}

func (h *APIHandlers) handleRemittances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req createRemittanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "sender_id is required")
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.Recipient.FullName == "" || req.Recipient.AccountNumber == "" {
		writeError(w, http.StatusBadRequest, "recipient full_name and account_number are required")
		return
	}

	tx, err := h.service.CreateRemittance(r.Context(), service.CreateRequest{
		SenderID:  req.SenderID,
		Amount:    req.Amount,
		Recipient: req.Recipient,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to create remittance")
		return
	}

	respondJSON(w, http.StatusCreated, tx)
}

func (h *APIHandlers) handleRemittanceByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/remittances/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "transaction ID is required")
		return
	}

	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.getStatus(w, r, id)
	case len(parts) == 2 && parts[1] == "confirm" && r.Method == http.MethodPost:
		h.confirm(w, r, id)
	case len(parts) == 1:
		methodNotAllowed(w, http.MethodGet)
	case parts[1] == "confirm":
		methodNotAllowed(w, http.MethodPost)
	default:
		writeError(w, http.StatusNotFound, "unknown resource")
	}
}

func (h *APIHandlers) getStatus(w http.ResponseWriter, r *http.Request, id string) {
	report, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err, "failed to fetch remittance status")
		return
	}

	resp := statusResponse{
		TransactionID: report.TransactionID,
		Status:        string(report.Status),
		FailureReason: report.FailureReason,
		LastUpdated:   report.UpdatedAt.UTC().Format(time.RFC3339Nano),
		History:       make([]historyEntry, 0, len(report.History)),
	}
	for _, event := range report.History {
		resp.History = append(resp.History, historyEntry{
			EventType: string(event.EventType),
			Timestamp: event.EventTimestamp.UTC().Format(time.RFC3339Nano),
			Actor:     event.Actor,
			Data:      event.EventData,
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) confirm(w http.ResponseWriter, r *http.Request, id string) {
	var req confirmRemittanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.PayerHandle == "" {
		writeError(w, http.StatusBadRequest, "payer_handle is required")
		return
	}

	tx, err := h.service.ConfirmRemittance(r.Context(), id, service.ConfirmRequest{
		PayerHandle: req.PayerHandle,
	})
	if err != nil {
		h.writeServiceError(w, err, "failed to confirm remittance")
		return
	}

	respondJSON(w, http.StatusOK, tx)
}

func (h *APIHandlers) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	raw := r.URL.Query().Get("amount")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "amount query parameter is required")
		return
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be a positive number")
		return
	}

	calc, err := h.service.CalculateRemittance(r.Context(), amount)
	if err != nil {
		h.writeServiceError(w, err, "failed to calculate remittance")
		return
	}

	respondJSON(w, http.StatusOK, calc)
}

type rateHistoryResponse struct {
	CurrencyPair string           `json:"currency_pair"`
	Quotes       []rateQuoteEntry `json:"quotes"`
}

type rateQuoteEntry struct {
	Rate      string `json:"rate"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

func (h *APIHandlers) handleRateHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	pair, quotes, err := h.service.RateHistory(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "failed to list rate history")
		return
	}

	resp := rateHistoryResponse{
		CurrencyPair: pair,
		Quotes:       make([]rateQuoteEntry, 0, len(quotes)),
	}
	for _, quote := range quotes {
		resp.Quotes = append(resp.Quotes, rateQuoteEntry{
			Rate:      quote.Rate.String(),
			Source:    quote.Source,
			Timestamp: quote.Timestamp.UTC().Format(time.RFC3339Nano),
		})
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleCollectionCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, h.service.HandleCollectorCallback)
}

func (h *APIHandlers) handleConversionCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, h.service.HandleConverterCallback)
}

func (h *APIHandlers) handleTransferCallback(w http.ResponseWriter, r *http.Request) {
	h.handleCallback(w, r, h.service.HandleTransmitterCallback)
}

// handleCallback acknowledges every delivery for a known transaction with
// 200, whatever the inner saga outcome, so the provider never retries due to
// our own processing problems. Only an unknown transaction id is surfaced.
func (h *APIHandlers) handleCallback(w http.ResponseWriter, r *http.Request, handle func(ctx context.Context, ev service.CallbackEvent) (bool, error)) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}

	processed, err := handle(r.Context(), service.CallbackEvent{
		TransactionID: req.TransactionID,
		Status:        req.Status,
		Reference:     req.Reference,
		ErrorCode:     req.ErrorCode,
		ErrorMessage:  req.ErrorMessage,
	})
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		h.logger.Error("callback handling failed", "error", err, "transactionId", req.TransactionID)
		writeError(w, http.StatusInternalServerError, "failed to process callback")
		return
	}

	respondJSON(w, http.StatusOK, callbackResponse{Processed: processed})
}

func (h *APIHandlers) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(fallback, "error", err)
		writeError(w, http.StatusBadGateway, fallback)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/junaaid96/bank-ledger/internal/errors"
	"github.com/junaaid96/bank-ledger/internal/models"
	"github.com/junaaid96/bank-ledger/internal/service"
	u "github.com/junaaid96/bank-ledger/internal/utils"
)

const dateLayout = "2006-01-02"

type LedgerHandler struct {
	ledgerService service.LedgerService
	logger        *slog.Logger
}

func NewLedgerHandler(ledgerService service.LedgerService, logger *slog.Logger) *LedgerHandler {
	return &LedgerHandler{
		ledgerService: ledgerService,
		logger:        logger,
	}
}

func (h *LedgerHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/deposits", h.Deposit).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/withdrawals", h.Withdraw).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/transfers", h.Transfer).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/loans", h.RequestLoan).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/report", h.Report).Methods(http.MethodGet)
	router.HandleFunc("/loans/{id}/approve", h.ApproveLoan).Methods(http.MethodPost)
	router.HandleFunc("/loans/{id}/repay", h.RepayLoan).Methods(http.MethodPost)
}

func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	row, err := h.ledgerService.Deposit(r.Context(), accountID, req.Amount)
	if err != nil {
		WriteServiceError(w, h.logger, err, "deposit")
		return
	}
	u.WriteJSON(w, http.StatusCreated, row)
}

func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	row, err := h.ledgerService.Withdraw(r.Context(), accountID, req.Amount)
	if err != nil {
		WriteServiceError(w, h.logger, err, "withdraw")
		return
	}
	u.WriteJSON(w, http.StatusCreated, row)
}

func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	debit, credit, err := h.ledgerService.Transfer(r.Context(), accountID, req.ToAccountNumber, req.Amount)
	if err != nil {
		WriteServiceError(w, h.logger, err, "transfer")
		return
	}
	u.WriteJSON(w, http.StatusCreated, models.TransferResponse{Debit: debit, Credit: credit})
}

func (h *LedgerHandler) RequestLoan(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	row, err := h.ledgerService.RequestLoan(r.Context(), accountID, req.Amount)
	if err != nil {
		WriteServiceError(w, h.logger, err, "request loan")
		return
	}
	u.WriteJSON(w, http.StatusCreated, row)
}

func (h *LedgerHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["id"]

	row, err := h.ledgerService.ApproveLoan(r.Context(), transactionID)
	if err != nil {
		WriteServiceError(w, h.logger, err, "approve loan")
		return
	}
	u.WriteJSON(w, http.StatusOK, row)
}

func (h *LedgerHandler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	transactionID := mux.Vars(r)["id"]

	row, err := h.ledgerService.RepayLoan(r.Context(), transactionID)
	if err != nil {
		WriteServiceError(w, h.logger, err, "repay loan")
		return
	}
	u.WriteJSON(w, http.StatusCreated, row)
}

// Report serves the transaction listing, optionally bounded by
// start_date/end_date query parameters (inclusive, whole days).
func (h *LedgerHandler) Report(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var from, to *time.Time
	if raw := r.URL.Query().Get("start_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			u.WriteError(w, http.StatusBadRequest, "invalid start_date", err.Error())
			return
		}
		from = &parsed
	}
	if raw := r.URL.Query().Get("end_date"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			u.WriteError(w, http.StatusBadRequest, "invalid end_date", err.Error())
			return
		}
		endOfDay := parsed.Add(24*time.Hour - time.Nanosecond)
		to = &endOfDay
	}

	report, err := h.ledgerService.Report(r.Context(), accountID, from, to)
	if err != nil {
		WriteServiceError(w, h.logger, err, "report")
		return
	}
	u.WriteJSON(w, http.StatusOK, report)
}

// WriteServiceError maps the domain error taxonomy onto HTTP statuses.
// Retryable failures answer 503/409 so clients know to try again; every
// validation failure keeps its precise reason in the body.
func WriteServiceError(w http.ResponseWriter, logger *slog.Logger, err error, action string) {
	switch {
	case errors.IsNotFound(err):
		u.WriteError(w, http.StatusNotFound, "not found", err.Error())
	case errors.IsAmountOutOfRange(err):
		u.WriteError(w, http.StatusUnprocessableEntity, "amount out of range", err.Error())
	case errors.IsInsufficientFunds(err):
		u.WriteError(w, http.StatusUnprocessableEntity, "insufficient funds", err.Error())
	case errors.Is(err, errors.ErrLoanLimitExceeded):
		u.WriteError(w, http.StatusUnprocessableEntity, "loan limit exceeded", err.Error())
	case errors.Is(err, errors.ErrLoanNotApproved),
		errors.Is(err, errors.ErrLoanAlreadyApproved),
		errors.Is(err, errors.ErrLoanAlreadyRepaid):
		u.WriteError(w, http.StatusConflict, "loan state conflict", err.Error())
	case errors.Is(err, errors.ErrSameAccount),
		errors.Is(err, errors.ErrInvalidAccountType),
		errors.Is(err, errors.ErrInvalidAmount):
		u.WriteError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.IsAlreadyExists(err):
		u.WriteError(w, http.StatusConflict, "account already exists", err.Error())
	case errors.Is(err, errors.ErrConcurrencyConflict):
		u.WriteError(w, http.StatusConflict, "concurrent update conflict", "safe to retry")
	case errors.Is(err, errors.ErrStoreUnavailable):
		u.WriteError(w, http.StatusServiceUnavailable, "ledger store unavailable", "safe to retry")
	default:
		logger.Error("internal server error during "+action, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}

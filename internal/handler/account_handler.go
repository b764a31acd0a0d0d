package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/junaaid96/bank-ledger/internal/models"
	"github.com/junaaid96/bank-ledger/internal/service"
	u "github.com/junaaid96/bank-ledger/internal/utils"
)

type AccountHandler struct {
	accountService service.AccountService
	logger         *slog.Logger
}

func NewAccountHandler(accountService service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

func (h *AccountHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts", h.OpenAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
}

func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req models.OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid open account request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	account, err := h.accountService.OpenAccount(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, h.logger, err, "open account")
		return
	}

	u.WriteJSON(w, http.StatusCreated, accountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	account, err := h.accountService.GetAccount(r.Context(), id)
	if err != nil {
		WriteServiceError(w, h.logger, err, "get account")
		return
	}

	u.WriteJSON(w, http.StatusOK, accountResponse(account))
}

func accountResponse(account *models.Account) models.AccountResponse {
	return models.AccountResponse{
		ID:            account.ID,
		AccountNumber: account.AccountNumber,
		AccountType:   account.AccountType,
		Balance:       account.Balance,
		OpenedDate:    account.OpenedDate,
	}
}

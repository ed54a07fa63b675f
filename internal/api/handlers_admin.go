package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/circlepot/rosca-service/internal/domain"
	"github.com/circlepot/rosca-service/pkg/money"
)

type addressRequest struct {
	Address string `json:"address"`
}

type depositRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type balanceResponse struct {
	Address   domain.Address `json:"address"`
	Balance   int64          `json:"balance"`
	Formatted string         `json:"formatted"`
}

func (h *Handlers) GetReputationHandler(w http.ResponseWriter, r *http.Request) {
	addr := domain.NormalizeAddress(chi.URLParam(r, "address"))
	if addr.IsZero() {
		h.writeDomainError(w, r, "get_reputation", domain.ErrInvalidAddress)
		return
	}
	writeJSON(w, http.StatusOK, h.reputation.Reputation(addr))
}

// ReputationHistoryHandler returns the newest ?limit= history entries (default 50).
func (h *Handlers) ReputationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	addr := domain.NormalizeAddress(chi.URLParam(r, "address"))
	if addr.IsZero() {
		h.writeDomainError(w, r, "reputation_history", domain.ErrInvalidAddress)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.reputation.History(addr, limit))
}

// BalanceHandler returns the caller's wallet balance.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	balance, err := h.bank.Balance(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, r, "balance", err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:   caller,
		Balance:   balance,
		Formatted: money.Format(balance, h.decimals),
	})
}

func (h *Handlers) ListReputationCallersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.reputation.AuthorizedCallers())
}

func (h *Handlers) AuthorizeReputationCallerHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.reputation.Authorize(r.Context(), caller, domain.NormalizeAddress(req.Address)); err != nil {
		h.writeDomainError(w, r, "authorize_reputation_caller", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) RevokeReputationCallerHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.reputation.Revoke(r.Context(), caller, domain.NormalizeAddress(chi.URLParam(r, "address"))); err != nil {
		h.writeDomainError(w, r, "revoke_reputation_caller", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) RegisterKeeperHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.circles.RegisterKeeper(r.Context(), caller, domain.NormalizeAddress(req.Address)); err != nil {
		h.writeDomainError(w, r, "register_keeper", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) RemoveKeeperHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.circles.RemoveKeeper(r.Context(), caller, domain.NormalizeAddress(chi.URLParam(r, "address"))); err != nil {
		h.writeDomainError(w, r, "remove_keeper", err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (h *Handlers) SetTreasuryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req addressRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.goals.SetTreasury(r.Context(), caller, domain.NormalizeAddress(req.Address)); err != nil {
		h.writeDomainError(w, r, "set_treasury", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.Address{"treasury": h.goals.Treasury()})
}

// DepositHandler credits a wallet from outside the system. Only available when
// development deposits are enabled.
func (h *Handlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	if !h.devDeposits {
		writeError(w, http.StatusNotFound, "Deposits are disabled")
		return
	}
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	addr := domain.NormalizeAddress(req.Address)
	if addr.IsZero() {
		h.writeDomainError(w, r, "deposit", domain.ErrInvalidAddress)
		return
	}
	amount, ok := h.amount(w, "amount", req.Amount)
	if !ok {
		return
	}
	if err := h.bank.Deposit(r.Context(), addr, amount); err != nil {
		h.writeDomainError(w, r, "deposit", err)
		return
	}
	balance, err := h.bank.Balance(r.Context(), addr)
	if err != nil {
		h.writeDomainError(w, r, "deposit", err)
		return
	}
	h.logger.Info("development deposit", "address", addr, "amount", amount)
	writeJSON(w, http.StatusOK, balanceResponse{
		Address:   addr,
		Balance:   balance,
		Formatted: money.Format(balance, h.decimals),
	})
}

package api

import (
	"net/http"

	"livego/internal/economy"
	"livego/internal/models"
)

type purchaseRequest struct {
	Diamonds int64        `json:"diamonds"`
	Price    models.Money `json:"price"`
}

type transactionRequest struct {
	TransactionID string `json:"transactionId"`
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type purchaseResponse struct {
	Account     models.Account     `json:"updatedUser"`
	Transaction models.Transaction `json:"transaction"`
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	summary, err := h.Economy.Balance(r.Context(), caller.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, summary, "")
}

// Purchase credits diamonds directly, or records a pending recharge when the
// processor runs in two-phase mode.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.Economy.Purchase(r.Context(), economy.PurchaseRequest{
		AccountID: caller.ID,
		Diamonds:  req.Diamonds,
		Price:     req.Price,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	if result.Pending {
		writeData(w, http.StatusAccepted, result, "purchase awaiting payment confirmation")
		return
	}
	writeData(w, http.StatusOK, result, "diamonds purchased")
}

func (h *Handler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	account, tx, err := h.Economy.ConfirmPurchase(r.Context(), caller.ID, req.TransactionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, purchaseResponse{Account: account, Transaction: tx}, "purchase confirmed")
}

func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	tx, err := h.Economy.CancelPurchase(r.Context(), caller.ID, req.TransactionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, tx, "purchase cancelled")
}

func (h *Handler) Purchases(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	history, err := h.Economy.PurchaseHistory(r.Context(), caller.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, history, "")
}

// CalculateWithdrawal quotes a withdrawal without touching any balance.
func (h *Handler) CalculateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	quote, err := economy.CalculateWithdrawal(req.Amount)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, quote, "")
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.Economy.RequestWithdrawal(r.Context(), caller.ID, req.Amount)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusAccepted, result, "withdrawal requested")
}

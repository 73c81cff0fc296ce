package api

import (
	"net/http"

	"livego/internal/economy"
)

type sendGiftRequest struct {
	GiftID   string `json:"giftId"`
	GiftName string `json:"giftName"`
	Amount   int64  `json:"amount"`
	ToUserID string `json:"toUserId"`
	StreamID string `json:"streamId"`
}

type sendBackpackRequest struct {
	GiftID   string `json:"giftId"`
	Amount   int64  `json:"amount"`
	ToUserID string `json:"toUserId"`
	StreamID string `json:"streamId"`
}

// Gifts lists the catalog, optionally filtered by ?category=.
func (h *Handler) Gifts(w http.ResponseWriter, r *http.Request) {
	gifts, err := h.Economy.Catalog(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, gifts, "")
}

// SendGift spends the caller's diamonds on a catalog gift.
func (h *Handler) SendGift(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req sendGiftRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.Economy.SendGift(r.Context(), economy.SendGiftRequest{
		FromID:   caller.ID,
		GiftID:   req.GiftID,
		GiftName: req.GiftName,
		Quantity: req.Amount,
		ToID:     req.ToUserID,
		StreamID: req.StreamID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, result, "gift sent")
}

// SendBackpack spends gifts from the caller's inventory.
func (h *Handler) SendBackpack(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireAccount(w, r)
	if !ok {
		return
	}
	var req sendBackpackRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	result, err := h.Economy.SendFromInventory(r.Context(), economy.SendInventoryRequest{
		FromID:   caller.ID,
		GiftID:   req.GiftID,
		Quantity: req.Amount,
		ToID:     req.ToUserID,
		StreamID: req.StreamID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeData(w, http.StatusOK, result, "gift sent")
}

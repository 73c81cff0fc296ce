package models

import "time"

// Account holds the two independent balances of a user. Diamonds are
// purchased and spent on gifts; earnings accrue from received gifts and are
// withdrawable.
type Account struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"name"`
	AvatarURL   string          `json:"avatarUrl,omitempty"`
	Diamonds    int64           `json:"diamonds"`
	Earnings    int64           `json:"earnings"`
	XP          int64           `json:"xp"`
	Level       int             `json:"level"`
	Inventory   []InventoryItem `json:"ownedGifts,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// InventoryQuantity returns how many units of giftID the account owns.
func (a Account) InventoryQuantity(giftID string) int64 {
	for _, item := range a.Inventory {
		if item.GiftID == giftID {
			return item.Quantity
		}
	}
	return 0
}

// InventoryItem is a pre-owned stack of a catalog gift.
type InventoryItem struct {
	GiftID   string `json:"giftId"`
	Quantity int64  `json:"quantity"`
}

// Gift is an immutable catalog entry priced in diamonds.
type Gift struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Price    int64  `json:"price" yaml:"price"`
	Category string `json:"category,omitempty" yaml:"category"`
	IconURL  string `json:"icon,omitempty" yaml:"icon"`
}

// TransactionKind classifies ledger entries.
type TransactionKind string

const (
	TransactionGiftSend          TransactionKind = "gift-send"
	TransactionGiftReceiveCredit TransactionKind = "gift-receive-credit"
	TransactionRecharge          TransactionKind = "recharge"
	TransactionWithdrawal        TransactionKind = "withdrawal"
	TransactionFee               TransactionKind = "fee"
)

// TransactionStatus tracks the settlement state of a ledger entry.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// CanTransition reports whether a ledger entry may move from s to next. Only
// pending entries are ever updated.
func (s TransactionStatus) CanTransition(next TransactionStatus) bool {
	return s == TransactionPending && (next == TransactionCompleted || next == TransactionFailed)
}

// Transaction is an append-only ledger entry.
type Transaction struct {
	ID             string            `json:"id"`
	AccountID      string            `json:"userId"`
	Kind           TransactionKind   `json:"type"`
	AmountDiamonds int64             `json:"amountDiamonds"`
	AmountBRL      *Money            `json:"amountBRL,omitempty"`
	Status         TransactionStatus `json:"status"`
	Details        map[string]any    `json:"details,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Stream is a broadcaster's channel. IsLive and StartedAt are driven by
// media server callbacks.
type Stream struct {
	ID        string     `json:"id"`
	HostID    string     `json:"hostId"`
	Title     string     `json:"title,omitempty"`
	IsLive    bool       `json:"isLive"`
	StartedAt *time.Time `json:"startedAt"`
	Viewers   int        `json:"viewers"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// WithdrawalQuote is the BRL breakdown for converting earnings.
type WithdrawalQuote struct {
	Amount int64 `json:"amount"`
	Gross  Money `json:"gross_value"`
	Fee    Money `json:"platform_fee"`
	Net    Money `json:"net_value"`
}

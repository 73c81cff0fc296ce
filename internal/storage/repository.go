package storage

import (
	"context"
	"errors"
	"time"

	"livego/internal/models"
)

var (
	ErrAccountNotFound       = errors.New("account not found")
	ErrGiftNotFound          = errors.New("gift not found")
	ErrStreamNotFound        = errors.New("stream not found")
	ErrTransactionNotFound   = errors.New("transaction not found")
	ErrInsufficientFunds     = errors.New("insufficient diamonds")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidTransition     = errors.New("transaction is not pending")
	ErrAlreadyExists         = errors.New("record already exists")
	ErrBalanceOverflow       = errors.New("balance would exceed its maximum")
)

// Repository exposes the balance store, the transaction ledger, the gift
// catalog and stream state. Balance changes are only available through the
// atomic transfer primitives; there is no generic account update.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateAccount(ctx context.Context, params CreateAccountParams) (models.Account, error)
	GetAccount(ctx context.Context, id string) (models.Account, error)
	GrantInventory(ctx context.Context, accountID, giftID string, quantity int64) (models.Account, error)

	UpsertGift(ctx context.Context, gift models.Gift) (models.Gift, error)
	GetGift(ctx context.Context, id string) (models.Gift, error)
	FindGiftByName(ctx context.Context, name string) (models.Gift, error)
	ListGifts(ctx context.Context, category string) ([]models.Gift, error)

	CreateStream(ctx context.Context, params CreateStreamParams) (models.Stream, error)
	GetStream(ctx context.Context, id string) (models.Stream, error)
	ListLiveStreams(ctx context.Context) ([]models.Stream, error)
	// SetStreamLive moves a stream between online and offline. The boolean
	// result reports whether the stored state changed.
	SetStreamLive(ctx context.Context, id string, live bool, at time.Time) (models.Stream, bool, error)

	// ApplyGiftTransfer debits the sender, credits the receiver and appends
	// the ledger entries as one unit.
	ApplyGiftTransfer(ctx context.Context, transfer GiftTransfer) (GiftReceipt, error)
	// CreditRecharge appends a completed recharge and credits the diamonds
	// as one unit.
	CreditRecharge(ctx context.Context, params RechargeParams) (models.Account, models.Transaction, error)
	// RecordPending appends a pending ledger entry without touching balances.
	RecordPending(ctx context.Context, entry PendingEntry) (models.Transaction, error)
	// SettleRecharge completes a pending recharge and credits its diamonds.
	SettleRecharge(ctx context.Context, accountID, transactionID string) (models.Account, models.Transaction, error)
	// RecordWithdrawal appends a pending withdrawal and the pending platform
	// fee it owes as one unit. Balances are untouched.
	RecordWithdrawal(ctx context.Context, params WithdrawalParams) (models.Transaction, models.Transaction, error)
	// FailTransaction moves a pending entry to failed. Failing a withdrawal
	// also fails its pending fee entry.
	FailTransaction(ctx context.Context, accountID, transactionID string) (models.Transaction, error)
	GetTransaction(ctx context.Context, id string) (models.Transaction, error)
	// PendingTotal sums the diamonds of every pending entry of kind owned by
	// accountID.
	PendingTotal(ctx context.Context, accountID string, kind models.TransactionKind) (int64, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error)
}

// CreateAccountParams seeds a new account. Opening balances are used by the
// seed tool and tests.
type CreateAccountParams struct {
	ID          string
	DisplayName string
	AvatarURL   string
	Diamonds    int64
	Earnings    int64
}

type CreateStreamParams struct {
	ID     string
	HostID string
	Title  string
}

// GiftSource selects which balance pays for a gift.
type GiftSource string

const (
	GiftSourceDiamonds  GiftSource = "diamonds"
	GiftSourceInventory GiftSource = "inventory"
)

// GiftTransfer describes a validated gift send. Cost and ReceiverCredit are
// computed by the caller.
type GiftTransfer struct {
	SenderID       string
	ReceiverID     string
	Gift           models.Gift
	Quantity       int64
	Cost           int64
	ReceiverCredit int64
	Source         GiftSource
	StreamID       string
}

// GiftReceipt is the committed outcome of a GiftTransfer.
type GiftReceipt struct {
	Sender   models.Account
	Receiver *models.Account
	Debit    models.Transaction
	Credit   *models.Transaction
}

type RechargeParams struct {
	AccountID string
	Diamonds  int64
	PriceBRL  models.Money
	Details   map[string]any
}

// PendingEntry is a ledger entry awaiting confirmation by an external
// collaborator (payment provider or payout desk).
type PendingEntry struct {
	AccountID      string
	Kind           models.TransactionKind
	AmountDiamonds int64
	AmountBRL      *models.Money
	Details        map[string]any
}

// WithdrawalParams describes a payout request: Diamonds of earnings paid out
// as Net, with Fee retained by the platform.
type WithdrawalParams struct {
	AccountID string
	Diamonds  int64
	Net       models.Money
	Fee       models.Money
	Details   map[string]any
}

// feeWithdrawalKey links a fee entry to the withdrawal it belongs to.
const feeWithdrawalKey = "withdrawalId"

func feeDetails(withdrawalID string) map[string]any {
	return map[string]any{feeWithdrawalKey: withdrawalID}
}

func isFeeFor(tx models.Transaction, withdrawalID string) bool {
	if tx.Kind != models.TransactionFee || tx.Status != models.TransactionPending {
		return false
	}
	id, _ := tx.Details[feeWithdrawalKey].(string)
	return id == withdrawalID
}

// TransactionFilter narrows ListTransactions. Empty fields match everything.
type TransactionFilter struct {
	AccountID string
	Kind      models.TransactionKind
	Status    models.TransactionStatus
	Limit     int
}

func (f TransactionFilter) matches(tx models.Transaction) bool {
	if f.AccountID != "" && tx.AccountID != f.AccountID {
		return false
	}
	if f.Kind != "" && tx.Kind != f.Kind {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	return true
}

func giftDetails(transfer GiftTransfer) map[string]any {
	details := map[string]any{
		"giftId":   transfer.Gift.ID,
		"giftName": transfer.Gift.Name,
		"quantity": transfer.Quantity,
		"source":   string(transfer.Source),
	}
	if transfer.ReceiverID != "" {
		details["recipientId"] = transfer.ReceiverID
	}
	if transfer.StreamID != "" {
		details["streamId"] = transfer.StreamID
	}
	return details
}

func creditDetails(transfer GiftTransfer, debitID string) map[string]any {
	details := map[string]any{
		"giftId":   transfer.Gift.ID,
		"giftName": transfer.Gift.Name,
		"quantity": transfer.Quantity,
		"senderId": transfer.SenderID,
		"debitId":  debitID,
	}
	if transfer.StreamID != "" {
		details["streamId"] = transfer.StreamID
	}
	return details
}

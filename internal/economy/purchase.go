package economy

import (
	"context"
	"fmt"
	"strings"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/storage"
)

// MaxPurchaseDiamonds caps a single recharge.
const MaxPurchaseDiamonds int64 = 10_000_000

type PurchaseRequest struct {
	AccountID string
	Diamonds  int64
	Price     models.Money
}

// PurchaseResult carries the updated account when diamonds were credited.
// In two-phase mode only the pending transaction is returned.
type PurchaseResult struct {
	Account     *models.Account    `json:"updatedUser,omitempty"`
	Transaction models.Transaction `json:"transaction"`
	Pending     bool               `json:"pending"`
}

func validatePurchase(req PurchaseRequest) error {
	if strings.TrimSpace(req.AccountID) == "" {
		return apperr.Unauthorized("account is required")
	}
	if req.Diamonds <= 0 {
		return apperr.InvalidInput("diamonds must be positive")
	}
	if req.Diamonds > MaxPurchaseDiamonds {
		return apperr.InvalidInput(fmt.Sprintf("at most %d diamonds per purchase", MaxPurchaseDiamonds))
	}
	if req.Price.IsNegative() {
		return apperr.InvalidInput("price cannot be negative")
	}
	return nil
}

// Purchase dispatches to PurchaseDiamonds or InitiatePurchase according to
// the configured PurchaseMode.
func (p *Processor) Purchase(ctx context.Context, req PurchaseRequest) (PurchaseResult, error) {
	if p.purchaseMode == PurchaseTwoPhase {
		tx, err := p.InitiatePurchase(ctx, req)
		if err != nil {
			return PurchaseResult{}, err
		}
		return PurchaseResult{Transaction: tx, Pending: true}, nil
	}
	account, tx, err := p.PurchaseDiamonds(ctx, req)
	if err != nil {
		return PurchaseResult{}, err
	}
	return PurchaseResult{Account: &account, Transaction: tx}, nil
}

// PurchaseDiamonds records a completed recharge and credits the diamonds in
// one unit. The request itself is treated as payment confirmation.
func (p *Processor) PurchaseDiamonds(ctx context.Context, req PurchaseRequest) (models.Account, models.Transaction, error) {
	const op = "purchase"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if err := validatePurchase(req); err != nil {
		return models.Account{}, models.Transaction{}, p.fail(ctx, op, err)
	}
	account, tx, err := p.store.CreditRecharge(ctx, storage.RechargeParams{
		AccountID: req.AccountID,
		Diamonds:  req.Diamonds,
		PriceBRL:  req.Price,
		Details:   map[string]any{"flow": string(PurchaseDirect)},
	})
	if err != nil {
		return models.Account{}, models.Transaction{}, p.fail(ctx, op, err)
	}
	p.metrics.PurchaseRecorded("completed")
	p.logger.InfoContext(ctx, "diamonds purchased",
		"account_id", account.ID,
		"diamonds", req.Diamonds,
		"price_brl", req.Price.DecimalString(),
		"transaction_id", tx.ID)
	return account, tx, nil
}

// InitiatePurchase records a pending recharge. No diamonds are credited
// until ConfirmPurchase.
func (p *Processor) InitiatePurchase(ctx context.Context, req PurchaseRequest) (models.Transaction, error) {
	const op = "purchase_initiate"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if err := validatePurchase(req); err != nil {
		return models.Transaction{}, p.fail(ctx, op, err)
	}
	price := req.Price
	tx, err := p.store.RecordPending(ctx, storage.PendingEntry{
		AccountID:      req.AccountID,
		Kind:           models.TransactionRecharge,
		AmountDiamonds: req.Diamonds,
		AmountBRL:      &price,
		Details:        map[string]any{"flow": string(PurchaseTwoPhase)},
	})
	if err != nil {
		return models.Transaction{}, p.fail(ctx, op, err)
	}
	p.metrics.PurchaseRecorded("initiated")
	p.logger.InfoContext(ctx, "purchase initiated", "account_id", req.AccountID, "transaction_id", tx.ID)
	return tx, nil
}

// ConfirmPurchase completes a pending recharge owned by accountID and
// credits its diamonds.
func (p *Processor) ConfirmPurchase(ctx context.Context, accountID, transactionID string) (models.Account, models.Transaction, error) {
	const op = "purchase_confirm"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if strings.TrimSpace(transactionID) == "" {
		return models.Account{}, models.Transaction{}, p.fail(ctx, op, apperr.InvalidInput("transactionId is required"))
	}
	account, tx, err := p.store.SettleRecharge(ctx, accountID, transactionID)
	if err != nil {
		return models.Account{}, models.Transaction{}, p.fail(ctx, op, err)
	}
	p.metrics.PurchaseRecorded("completed")
	p.logger.InfoContext(ctx, "purchase confirmed", "account_id", accountID, "transaction_id", tx.ID, "diamonds", tx.AmountDiamonds)
	return account, tx, nil
}

// CancelPurchase marks a pending recharge as failed.
func (p *Processor) CancelPurchase(ctx context.Context, accountID, transactionID string) (models.Transaction, error) {
	const op = "purchase_cancel"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if strings.TrimSpace(transactionID) == "" {
		return models.Transaction{}, p.fail(ctx, op, apperr.InvalidInput("transactionId is required"))
	}
	existing, err := p.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return models.Transaction{}, p.fail(ctx, op, err)
	}
	if existing.AccountID != accountID || existing.Kind != models.TransactionRecharge {
		return models.Transaction{}, p.fail(ctx, op, apperr.NotFound("transaction %s not found", transactionID))
	}
	tx, err := p.store.FailTransaction(ctx, accountID, transactionID)
	if err != nil {
		return models.Transaction{}, p.fail(ctx, op, err)
	}
	p.metrics.PurchaseRecorded("cancelled")
	p.logger.InfoContext(ctx, "purchase cancelled", "account_id", accountID, "transaction_id", tx.ID)
	return tx, nil
}

// PurchaseHistory lists the account's completed recharges, newest first.
func (p *Processor) PurchaseHistory(ctx context.Context, accountID string) ([]models.Transaction, error) {
	const op = "purchase_history"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if _, err := p.store.GetAccount(ctx, accountID); err != nil {
		return nil, p.fail(ctx, op, err)
	}
	history, err := p.store.ListTransactions(ctx, storage.TransactionFilter{
		AccountID: accountID,
		Kind:      models.TransactionRecharge,
		Status:    models.TransactionCompleted,
	})
	if err != nil {
		return nil, p.fail(ctx, op, err)
	}
	return history, nil
}

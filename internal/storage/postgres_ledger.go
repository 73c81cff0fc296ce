package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"livego/internal/models"
)

const transactionColumns = `id, account_id, kind, amount_diamonds, amount_brl_minor, status, details, created_at, updated_at`

func scanTransaction(row pgx.Row) (models.Transaction, error) {
	var (
		tx       models.Transaction
		kind     string
		status   string
		brlMinor *int64
		details  []byte
	)
	if err := row.Scan(&tx.ID, &tx.AccountID, &kind, &tx.AmountDiamonds, &brlMinor, &status, &details, &tx.CreatedAt, &tx.UpdatedAt); err != nil {
		return models.Transaction{}, err
	}
	tx.Kind = models.TransactionKind(kind)
	tx.Status = models.TransactionStatus(status)
	if brlMinor != nil {
		amount := models.NewMoneyFromMinorUnits(*brlMinor)
		tx.AmountBRL = &amount
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &tx.Details); err != nil {
			return models.Transaction{}, fmt.Errorf("decode transaction details: %w", err)
		}
	}
	return tx, nil
}

func insertTransaction(ctx context.Context, q pgQuerier, accountID string, kind models.TransactionKind, diamonds int64, brl *models.Money, status models.TransactionStatus, details map[string]any, now time.Time) (models.Transaction, error) {
	id, err := generateID()
	if err != nil {
		return models.Transaction{}, err
	}
	var brlMinor *int64
	if brl != nil {
		units := brl.MinorUnits()
		brlMinor = &units
	}
	var payload []byte
	if details != nil {
		payload, err = json.Marshal(details)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("encode transaction details: %w", err)
		}
	}
	tx, err := scanTransaction(q.QueryRow(ctx,
		`INSERT INTO transactions (id, account_id, kind, amount_diamonds, amount_brl_minor, status, details, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING `+transactionColumns,
		id, accountID, string(kind), diamonds, brlMinor, string(status), payload, now,
	))
	if err != nil {
		return models.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

// lockAccounts takes row locks in id order so concurrent transfers between
// the same pair of accounts cannot deadlock.
func lockAccounts(ctx context.Context, tx pgx.Tx, ids ...string) (map[string]bool, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	rows, err := tx.Query(ctx, `SELECT id FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	locked, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	found := make(map[string]bool, len(locked))
	for _, id := range locked {
		found[id] = true
	}
	return found, nil
}

func (r *postgresRepository) ApplyGiftTransfer(ctx context.Context, transfer GiftTransfer) (GiftReceipt, error) {
	if transfer.Quantity <= 0 || transfer.Cost < 0 || transfer.ReceiverCredit < 0 {
		return GiftReceipt{}, fmt.Errorf("invalid gift transfer")
	}
	if transfer.ReceiverID == transfer.SenderID {
		return GiftReceipt{}, fmt.Errorf("sender and receiver must differ")
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return GiftReceipt{}, err
	}
	defer rollbackTx(ctx, tx)

	ids := []string{transfer.SenderID}
	if transfer.ReceiverID != "" {
		ids = append(ids, transfer.ReceiverID)
	}
	found, err := lockAccounts(ctx, tx, ids...)
	if err != nil {
		return GiftReceipt{}, err
	}
	if !found[transfer.SenderID] {
		return GiftReceipt{}, fmt.Errorf("sender %s: %w", transfer.SenderID, ErrAccountNotFound)
	}
	if transfer.ReceiverID != "" && !found[transfer.ReceiverID] {
		return GiftReceipt{}, fmt.Errorf("receiver %s: %w", transfer.ReceiverID, ErrAccountNotFound)
	}

	now := r.cfg.Clock()
	switch transfer.Source {
	case GiftSourceInventory:
		var remaining int64
		err := tx.QueryRow(ctx,
			`UPDATE account_inventory SET quantity = quantity - $3
			 WHERE account_id = $1 AND gift_id = $2 AND quantity >= $3
			 RETURNING quantity`,
			transfer.SenderID, transfer.Gift.ID, transfer.Quantity,
		).Scan(&remaining)
		if errors.Is(err, pgx.ErrNoRows) {
			return GiftReceipt{}, ErrInsufficientInventory
		}
		if err != nil {
			return GiftReceipt{}, fmt.Errorf("debit inventory: %w", err)
		}
		if remaining == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM account_inventory WHERE account_id = $1 AND gift_id = $2`, transfer.SenderID, transfer.Gift.ID); err != nil {
				return GiftReceipt{}, fmt.Errorf("remove inventory line: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE accounts SET xp = xp + $2, updated_at = $3 WHERE id = $1`, transfer.SenderID, transfer.Cost, now); err != nil {
			return GiftReceipt{}, creditError("credit sender xp", err)
		}
	default:
		tag, err := tx.Exec(ctx,
			`UPDATE accounts SET diamonds = diamonds - $2, xp = xp + $2, updated_at = $3
			 WHERE id = $1 AND diamonds >= $2`,
			transfer.SenderID, transfer.Cost, now,
		)
		if err != nil {
			return GiftReceipt{}, creditError("debit diamonds", err)
		}
		if tag.RowsAffected() == 0 {
			return GiftReceipt{}, ErrInsufficientFunds
		}
	}

	debit, err := insertTransaction(ctx, tx, transfer.SenderID, models.TransactionGiftSend, transfer.Cost, nil, models.TransactionCompleted, giftDetails(transfer), now)
	if err != nil {
		return GiftReceipt{}, err
	}
	receipt := GiftReceipt{Debit: debit}

	if transfer.ReceiverID != "" {
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET earnings = earnings + $2, updated_at = $3 WHERE id = $1`,
			transfer.ReceiverID, transfer.ReceiverCredit, now,
		); err != nil {
			return GiftReceipt{}, creditError("credit receiver", err)
		}
		credit, err := insertTransaction(ctx, tx, transfer.ReceiverID, models.TransactionGiftReceiveCredit, transfer.ReceiverCredit, nil, models.TransactionCompleted, creditDetails(transfer, debit.ID), now)
		if err != nil {
			return GiftReceipt{}, err
		}
		receiver, err := loadAccount(ctx, tx, transfer.ReceiverID)
		if err != nil {
			return GiftReceipt{}, err
		}
		receipt.Receiver = &receiver
		receipt.Credit = &credit
	}

	receipt.Sender, err = loadAccount(ctx, tx, transfer.SenderID)
	if err != nil {
		return GiftReceipt{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return GiftReceipt{}, fmt.Errorf("commit gift transfer: %w", err)
	}
	return receipt, nil
}

func (r *postgresRepository) CreditRecharge(ctx context.Context, params RechargeParams) (models.Account, models.Transaction, error) {
	if params.Diamonds <= 0 || params.PriceBRL.IsNegative() {
		return models.Account{}, models.Transaction{}, fmt.Errorf("invalid recharge")
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	defer rollbackTx(ctx, tx)

	now := r.cfg.Clock()
	tag, err := tx.Exec(ctx, `UPDATE accounts SET diamonds = diamonds + $2, updated_at = $3 WHERE id = $1`, params.AccountID, params.Diamonds, now)
	if err != nil {
		return models.Account{}, models.Transaction{}, creditError("credit diamonds", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Account{}, models.Transaction{}, fmt.Errorf("account %s: %w", params.AccountID, ErrAccountNotFound)
	}
	price := params.PriceBRL
	entry, err := insertTransaction(ctx, tx, params.AccountID, models.TransactionRecharge, params.Diamonds, &price, models.TransactionCompleted, params.Details, now)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	account, err := loadAccount(ctx, tx, params.AccountID)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Account{}, models.Transaction{}, fmt.Errorf("commit recharge: %w", err)
	}
	return account, entry, nil
}

func (r *postgresRepository) RecordPending(ctx context.Context, entry PendingEntry) (models.Transaction, error) {
	if exists, err := accountExists(ctx, r.pool, entry.AccountID); err != nil {
		return models.Transaction{}, err
	} else if !exists {
		return models.Transaction{}, fmt.Errorf("account %s: %w", entry.AccountID, ErrAccountNotFound)
	}
	return insertTransaction(ctx, r.pool, entry.AccountID, entry.Kind, entry.AmountDiamonds, entry.AmountBRL, models.TransactionPending, entry.Details, r.cfg.Clock())
}

// transitionPending flips a pending entry owned by accountID. The status
// predicate in the UPDATE makes concurrent confirmations race-free.
func transitionPending(ctx context.Context, q pgQuerier, accountID, transactionID string, next models.TransactionStatus, now time.Time) (models.Transaction, error) {
	updated, err := scanTransaction(q.QueryRow(ctx,
		`UPDATE transactions SET status = $3, updated_at = $4
		 WHERE id = $1 AND account_id = $2 AND status = 'pending'
		 RETURNING `+transactionColumns,
		transactionID, accountID, string(next), now,
	))
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	current, err := scanTransaction(q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND account_id = $2`, transactionID, accountID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, ErrTransactionNotFound)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return models.Transaction{}, fmt.Errorf("transaction %s is %s: %w", transactionID, current.Status, ErrInvalidTransition)
}

func (r *postgresRepository) SettleRecharge(ctx context.Context, accountID, transactionID string) (models.Account, models.Transaction, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	defer rollbackTx(ctx, tx)

	now := r.cfg.Clock()
	entry, err := transitionPending(ctx, tx, accountID, transactionID, models.TransactionCompleted, now)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	if entry.Kind != models.TransactionRecharge {
		return models.Account{}, models.Transaction{}, fmt.Errorf("transaction %s is a %s: %w", transactionID, entry.Kind, ErrInvalidTransition)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET diamonds = diamonds + $2, updated_at = $3 WHERE id = $1`, accountID, entry.AmountDiamonds, now); err != nil {
		return models.Account{}, models.Transaction{}, creditError("credit diamonds", err)
	}
	account, err := loadAccount(ctx, tx, accountID)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Account{}, models.Transaction{}, fmt.Errorf("commit recharge settlement: %w", err)
	}
	return account, entry, nil
}

func (r *postgresRepository) RecordWithdrawal(ctx context.Context, params WithdrawalParams) (models.Transaction, models.Transaction, error) {
	if params.Diamonds <= 0 || params.Net.IsNegative() || params.Fee.IsNegative() {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("invalid withdrawal")
	}
	tx, err := r.begin(ctx)
	if err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	defer rollbackTx(ctx, tx)

	if exists, err := accountExists(ctx, tx, params.AccountID); err != nil {
		return models.Transaction{}, models.Transaction{}, err
	} else if !exists {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("account %s: %w", params.AccountID, ErrAccountNotFound)
	}
	now := r.cfg.Clock()
	net, fee := params.Net, params.Fee
	withdrawal, err := insertTransaction(ctx, tx, params.AccountID, models.TransactionWithdrawal, params.Diamonds, &net, models.TransactionPending, params.Details, now)
	if err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	feeEntry, err := insertTransaction(ctx, tx, params.AccountID, models.TransactionFee, 0, &fee, models.TransactionPending, feeDetails(withdrawal.ID), now)
	if err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("commit withdrawal: %w", err)
	}
	return withdrawal, feeEntry, nil
}

func (r *postgresRepository) FailTransaction(ctx context.Context, accountID, transactionID string) (models.Transaction, error) {
	tx, err := r.begin(ctx)
	if err != nil {
		return models.Transaction{}, err
	}
	defer rollbackTx(ctx, tx)

	now := r.cfg.Clock()
	failed, err := transitionPending(ctx, tx, accountID, transactionID, models.TransactionFailed, now)
	if err != nil {
		return models.Transaction{}, err
	}
	if failed.Kind == models.TransactionWithdrawal {
		if _, err := tx.Exec(ctx,
			`UPDATE transactions SET status = 'failed', updated_at = $3
			 WHERE account_id = $1 AND kind = 'fee' AND status = 'pending' AND details->>'`+feeWithdrawalKey+`' = $2`,
			accountID, transactionID, now,
		); err != nil {
			return models.Transaction{}, fmt.Errorf("fail withdrawal fee: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Transaction{}, fmt.Errorf("commit transaction failure: %w", err)
	}
	return failed, nil
}

func (r *postgresRepository) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	tx, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return tx, nil
}

func (r *postgresRepository) PendingTotal(ctx context.Context, accountID string, kind models.TransactionKind) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount_diamonds), 0)::BIGINT FROM transactions
		 WHERE account_id = $1 AND kind = $2 AND status = 'pending'`,
		accountID, string(kind),
	).Scan(&total)
	if err != nil {
		return 0, creditError("sum pending "+string(kind), err)
	}
	return total, nil
}

func (r *postgresRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE ($1 = '' OR account_id = $1) AND ($2 = '' OR kind = $2) AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $4`,
		filter.AccountID, string(filter.Kind), string(filter.Status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Transaction, error) {
		return scanTransaction(row)
	})
}

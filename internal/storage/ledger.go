package storage

import (
	"context"
	"fmt"
	"math"
	"sort"

	"livego/internal/models"
)

func cloneDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		out[k] = v
	}
	return out
}

// addBalance credits amount to balance, refusing results past MaxInt64.
func addBalance(balance, amount int64) (int64, error) {
	if amount > 0 && balance > math.MaxInt64-amount {
		return balance, ErrBalanceOverflow
	}
	return balance + amount, nil
}

func (s *Storage) newTransactionLocked(accountID string, kind models.TransactionKind, diamonds int64, brl *models.Money, status models.TransactionStatus, details map[string]any) (models.Transaction, error) {
	id, err := generateID()
	if err != nil {
		return models.Transaction{}, err
	}
	now := s.now()
	return models.Transaction{
		ID:             id,
		AccountID:      accountID,
		Kind:           kind,
		AmountDiamonds: diamonds,
		AmountBRL:      brl,
		Status:         status,
		Details:        cloneDetails(details),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Storage) appendTransactionLocked(undo *undoLog, tx models.Transaction) {
	s.data.Transactions = append(s.data.Transactions, tx)
	s.txIndex[tx.ID] = len(s.data.Transactions) - 1
	undo.push(func() {
		delete(s.txIndex, tx.ID)
		s.data.Transactions = s.data.Transactions[:len(s.data.Transactions)-1]
	})
}

func (s *Storage) replaceTransactionLocked(undo *undoLog, tx models.Transaction) {
	idx := s.txIndex[tx.ID]
	previous := s.data.Transactions[idx]
	s.data.Transactions[idx] = tx
	undo.push(func() {
		s.data.Transactions[idx] = previous
	})
}

func (s *Storage) ApplyGiftTransfer(ctx context.Context, transfer GiftTransfer) (GiftReceipt, error) {
	if transfer.Quantity <= 0 || transfer.Cost < 0 || transfer.ReceiverCredit < 0 {
		return GiftReceipt{}, fmt.Errorf("invalid gift transfer")
	}
	if transfer.ReceiverID == transfer.SenderID {
		return GiftReceipt{}, fmt.Errorf("sender and receiver must differ")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sender, ok := s.data.Accounts[transfer.SenderID]
	if !ok {
		return GiftReceipt{}, fmt.Errorf("sender %s: %w", transfer.SenderID, ErrAccountNotFound)
	}
	var receiver models.Account
	if transfer.ReceiverID != "" {
		receiver, ok = s.data.Accounts[transfer.ReceiverID]
		if !ok {
			return GiftReceipt{}, fmt.Errorf("receiver %s: %w", transfer.ReceiverID, ErrAccountNotFound)
		}
	}

	now := s.now()
	sender = cloneAccount(sender)
	switch transfer.Source {
	case GiftSourceInventory:
		idx := -1
		for i, item := range sender.Inventory {
			if item.GiftID == transfer.Gift.ID {
				idx = i
				break
			}
		}
		if idx < 0 || sender.Inventory[idx].Quantity < transfer.Quantity {
			return GiftReceipt{}, ErrInsufficientInventory
		}
		remaining := sender.Inventory[idx].Quantity - transfer.Quantity
		if remaining > 0 {
			sender.Inventory[idx].Quantity = remaining
		} else {
			sender.Inventory = append(sender.Inventory[:idx], sender.Inventory[idx+1:]...)
		}
	default:
		if sender.Diamonds < transfer.Cost {
			return GiftReceipt{}, ErrInsufficientFunds
		}
		sender.Diamonds -= transfer.Cost
	}
	xp, err := addBalance(sender.XP, transfer.Cost)
	if err != nil {
		return GiftReceipt{}, fmt.Errorf("sender %s xp: %w", sender.ID, err)
	}
	sender.XP = xp
	sender.UpdatedAt = now
	if transfer.ReceiverID != "" {
		receiver = cloneAccount(receiver)
		earnings, err := addBalance(receiver.Earnings, transfer.ReceiverCredit)
		if err != nil {
			return GiftReceipt{}, fmt.Errorf("receiver %s earnings: %w", receiver.ID, err)
		}
		receiver.Earnings = earnings
		receiver.UpdatedAt = now
	}

	var undo undoLog
	s.putAccountLocked(&undo, sender)

	debit, err := s.newTransactionLocked(sender.ID, models.TransactionGiftSend, transfer.Cost, nil, models.TransactionCompleted, giftDetails(transfer))
	if err != nil {
		undo.rollback()
		return GiftReceipt{}, err
	}
	s.appendTransactionLocked(&undo, debit)

	receipt := GiftReceipt{Sender: cloneAccount(sender), Debit: debit}
	if transfer.ReceiverID != "" {
		s.putAccountLocked(&undo, receiver)

		credit, err := s.newTransactionLocked(receiver.ID, models.TransactionGiftReceiveCredit, transfer.ReceiverCredit, nil, models.TransactionCompleted, creditDetails(transfer, debit.ID))
		if err != nil {
			undo.rollback()
			return GiftReceipt{}, err
		}
		s.appendTransactionLocked(&undo, credit)
		receipt.Receiver = &receiver
		receipt.Credit = &credit
	}

	if err := s.commitLocked(ctx, undo); err != nil {
		return GiftReceipt{}, err
	}
	return receipt, nil
}

func (s *Storage) CreditRecharge(ctx context.Context, params RechargeParams) (models.Account, models.Transaction, error) {
	if params.Diamonds <= 0 || params.PriceBRL.IsNegative() {
		return models.Account{}, models.Transaction{}, fmt.Errorf("invalid recharge")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.data.Accounts[params.AccountID]
	if !ok {
		return models.Account{}, models.Transaction{}, fmt.Errorf("account %s: %w", params.AccountID, ErrAccountNotFound)
	}
	diamonds, err := addBalance(account.Diamonds, params.Diamonds)
	if err != nil {
		return models.Account{}, models.Transaction{}, fmt.Errorf("account %s diamonds: %w", account.ID, err)
	}
	price := params.PriceBRL
	tx, err := s.newTransactionLocked(account.ID, models.TransactionRecharge, params.Diamonds, &price, models.TransactionCompleted, params.Details)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	var undo undoLog
	s.appendTransactionLocked(&undo, tx)

	account = cloneAccount(account)
	account.Diamonds = diamonds
	account.UpdatedAt = tx.CreatedAt
	s.putAccountLocked(&undo, account)

	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	return cloneAccount(account), tx, nil
}

func (s *Storage) RecordPending(ctx context.Context, entry PendingEntry) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[entry.AccountID]; !ok {
		return models.Transaction{}, fmt.Errorf("account %s: %w", entry.AccountID, ErrAccountNotFound)
	}
	tx, err := s.newTransactionLocked(entry.AccountID, entry.Kind, entry.AmountDiamonds, entry.AmountBRL, models.TransactionPending, entry.Details)
	if err != nil {
		return models.Transaction{}, err
	}
	var undo undoLog
	s.appendTransactionLocked(&undo, tx)
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

func (s *Storage) RecordWithdrawal(ctx context.Context, params WithdrawalParams) (models.Transaction, models.Transaction, error) {
	if params.Diamonds <= 0 || params.Net.IsNegative() || params.Fee.IsNegative() {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("invalid withdrawal")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Accounts[params.AccountID]; !ok {
		return models.Transaction{}, models.Transaction{}, fmt.Errorf("account %s: %w", params.AccountID, ErrAccountNotFound)
	}
	net, fee := params.Net, params.Fee
	withdrawal, err := s.newTransactionLocked(params.AccountID, models.TransactionWithdrawal, params.Diamonds, &net, models.TransactionPending, params.Details)
	if err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	var undo undoLog
	s.appendTransactionLocked(&undo, withdrawal)

	feeEntry, err := s.newTransactionLocked(params.AccountID, models.TransactionFee, 0, &fee, models.TransactionPending, feeDetails(withdrawal.ID))
	if err != nil {
		undo.rollback()
		return models.Transaction{}, models.Transaction{}, err
	}
	s.appendTransactionLocked(&undo, feeEntry)

	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Transaction{}, models.Transaction{}, err
	}
	return withdrawal, feeEntry, nil
}

func (s *Storage) pendingTransactionLocked(accountID, transactionID string) (models.Transaction, error) {
	idx, ok := s.txIndex[transactionID]
	if !ok || s.data.Transactions[idx].AccountID != accountID {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", transactionID, ErrTransactionNotFound)
	}
	tx := s.data.Transactions[idx]
	if tx.Status != models.TransactionPending {
		return models.Transaction{}, fmt.Errorf("transaction %s is %s: %w", transactionID, tx.Status, ErrInvalidTransition)
	}
	return tx, nil
}

func (s *Storage) SettleRecharge(ctx context.Context, accountID, transactionID string) (models.Account, models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pendingTransactionLocked(accountID, transactionID)
	if err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	if tx.Kind != models.TransactionRecharge {
		return models.Account{}, models.Transaction{}, fmt.Errorf("transaction %s is a %s: %w", transactionID, tx.Kind, ErrInvalidTransition)
	}
	account, ok := s.data.Accounts[accountID]
	if !ok {
		return models.Account{}, models.Transaction{}, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	diamonds, err := addBalance(account.Diamonds, tx.AmountDiamonds)
	if err != nil {
		return models.Account{}, models.Transaction{}, fmt.Errorf("account %s diamonds: %w", accountID, err)
	}
	now := s.now()
	tx.Status = models.TransactionCompleted
	tx.UpdatedAt = now

	var undo undoLog
	s.replaceTransactionLocked(&undo, tx)
	account = cloneAccount(account)
	account.Diamonds = diamonds
	account.UpdatedAt = now
	s.putAccountLocked(&undo, account)

	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Account{}, models.Transaction{}, err
	}
	return cloneAccount(account), tx, nil
}

func (s *Storage) FailTransaction(ctx context.Context, accountID, transactionID string) (models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.pendingTransactionLocked(accountID, transactionID)
	if err != nil {
		return models.Transaction{}, err
	}
	now := s.now()
	tx.Status = models.TransactionFailed
	tx.UpdatedAt = now

	var undo undoLog
	s.replaceTransactionLocked(&undo, tx)
	if tx.Kind == models.TransactionWithdrawal {
		for _, entry := range s.data.Transactions {
			if entry.AccountID != accountID || !isFeeFor(entry, tx.ID) {
				continue
			}
			entry.Status = models.TransactionFailed
			entry.UpdatedAt = now
			s.replaceTransactionLocked(&undo, entry)
		}
	}
	if err := s.commitLocked(ctx, undo); err != nil {
		return models.Transaction{}, err
	}
	return tx, nil
}

func (s *Storage) GetTransaction(ctx context.Context, id string) (models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.txIndex[id]
	if !ok {
		return models.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrTransactionNotFound)
	}
	return s.data.Transactions[idx], nil
}

func (s *Storage) PendingTotal(ctx context.Context, accountID string, kind models.TransactionKind) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for _, tx := range s.data.Transactions {
		if tx.AccountID != accountID || tx.Kind != kind || tx.Status != models.TransactionPending {
			continue
		}
		next, err := addBalance(total, tx.AmountDiamonds)
		if err != nil {
			return 0, fmt.Errorf("pending %s total for %s: %w", kind, accountID, err)
		}
		total = next
	}
	return total, nil
}

// ListTransactions returns matching entries newest first.
func (s *Storage) ListTransactions(ctx context.Context, filter TransactionFilter) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for i := len(s.data.Transactions) - 1; i >= 0; i-- {
		tx := s.data.Transactions[i]
		if !filter.matches(tx) {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

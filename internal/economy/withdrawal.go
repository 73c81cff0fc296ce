package economy

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/storage"
)

var (
	// brlPerDiamond converts earnings to gross BRL.
	brlPerDiamond = decimal.RequireFromString("0.05")
	platformFee   = decimal.RequireFromString("0.20")
)

// CalculateWithdrawal quotes the BRL value of amount earnings: gross is
// amount × 0.05, the platform keeps 20% of gross, the rest is net.
func CalculateWithdrawal(amount int64) (models.WithdrawalQuote, error) {
	if amount < 0 {
		return models.WithdrawalQuote{}, apperr.InvalidInput("amount cannot be negative")
	}
	gross, err := models.MoneyFromDecimal(decimal.NewFromInt(amount).Mul(brlPerDiamond))
	if err != nil {
		return models.WithdrawalQuote{}, apperr.Wrap(apperr.KindInvalidInput, err, "amount is too large")
	}
	fee, err := gross.MulRate(platformFee)
	if err != nil {
		return models.WithdrawalQuote{}, apperr.Wrap(apperr.KindInvalidInput, err, "amount is too large")
	}
	return models.WithdrawalQuote{
		Amount: amount,
		Gross:  gross,
		Fee:    fee,
		Net:    gross.Sub(fee),
	}, nil
}

// WithdrawalRequest acknowledges a recorded withdrawal intent.
type WithdrawalRequest struct {
	Transaction models.Transaction     `json:"transaction"`
	Quote       models.WithdrawalQuote `json:"quote"`
	Available   int64                  `json:"availableEarnings"`
}

// RequestWithdrawal validates amount against the account's earnings minus
// withdrawals already awaiting payout, and records a pending withdrawal
// entry with its pending platform fee. Balances are untouched; payout happens
// outside this service.
func (p *Processor) RequestWithdrawal(ctx context.Context, accountID string, amount int64) (WithdrawalRequest, error) {
	const op = "withdrawal"
	ctx, cancel := p.withBudget(ctx)
	defer cancel()

	if strings.TrimSpace(accountID) == "" {
		return WithdrawalRequest{}, p.fail(ctx, op, apperr.Unauthorized("account is required"))
	}
	if amount <= 0 {
		return WithdrawalRequest{}, p.fail(ctx, op, apperr.InvalidInput("amount must be positive"))
	}

	unlock := p.accountLocks.Lock(accountID)
	defer unlock()

	account, err := p.store.GetAccount(ctx, accountID)
	if err != nil {
		return WithdrawalRequest{}, p.fail(ctx, op, err)
	}
	pending, err := p.store.PendingTotal(ctx, accountID, models.TransactionWithdrawal)
	if err != nil {
		return WithdrawalRequest{}, p.fail(ctx, op, err)
	}
	available := account.Earnings - pending
	if amount > available {
		return WithdrawalRequest{}, p.fail(ctx, op, apperr.New(apperr.KindInsufficientFunds, "insufficient earnings"))
	}

	quote, err := CalculateWithdrawal(amount)
	if err != nil {
		return WithdrawalRequest{}, p.fail(ctx, op, err)
	}
	tx, _, err := p.store.RecordWithdrawal(ctx, storage.WithdrawalParams{
		AccountID: accountID,
		Diamonds:  amount,
		Net:       quote.Net,
		Fee:       quote.Fee,
		Details: map[string]any{
			"gross_value":  quote.Gross.DecimalString(),
			"platform_fee": quote.Fee.DecimalString(),
			"net_value":    quote.Net.DecimalString(),
		},
	})
	if err != nil {
		return WithdrawalRequest{}, p.fail(ctx, op, err)
	}

	p.metrics.WithdrawalRequested()
	p.logger.InfoContext(ctx, "withdrawal requested",
		"account_id", accountID,
		"amount", amount,
		"net_brl", quote.Net.DecimalString(),
		"transaction_id", tx.ID)
	return WithdrawalRequest{Transaction: tx, Quote: quote, Available: available - amount}, nil
}

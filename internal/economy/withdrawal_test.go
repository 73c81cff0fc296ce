package economy

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"livego/internal/apperr"
	"livego/internal/models"
	"livego/internal/storage"
)

func TestCalculateWithdrawal(t *testing.T) {
	cases := []struct {
		amount          int64
		gross, fee, net string
	}{
		{amount: 0, gross: "0", fee: "0", net: "0"},
		{amount: 1, gross: "0.05", fee: "0.01", net: "0.04"},
		{amount: 3, gross: "0.15", fee: "0.03", net: "0.12"},
		{amount: 1000, gross: "50", fee: "10", net: "40"},
		{amount: 12345, gross: "617.25", fee: "123.45", net: "493.8"},
	}
	for _, tc := range cases {
		quote, err := CalculateWithdrawal(tc.amount)
		require.NoError(t, err)
		require.Equal(t, tc.gross, quote.Gross.DecimalString(), "gross for %d", tc.amount)
		require.Equal(t, tc.fee, quote.Fee.DecimalString(), "fee for %d", tc.amount)
		require.Equal(t, tc.net, quote.Net.DecimalString(), "net for %d", tc.amount)
		require.Equal(t, quote.Gross, quote.Fee.Add(quote.Net))
	}

	_, err := CalculateWithdrawal(-1)
	requireKind(t, err, apperr.KindInvalidInput)

	_, err = CalculateWithdrawal(math.MaxInt64 / 10)
	requireKind(t, err, apperr.KindInvalidInput)
	_, err = CalculateWithdrawal(math.MaxInt64)
	requireKind(t, err, apperr.KindInvalidInput)

	// The largest amount whose gross still fits in minor units.
	quote, err := CalculateWithdrawal(1_800_000_000_000)
	require.NoError(t, err)
	require.Equal(t, "90000000000", quote.Gross.DecimalString())
	require.False(t, quote.Net.IsNegative())
}

func TestRequestWithdrawal(t *testing.T) {
	f := newFixture(t)
	f.account(t, "host", 0, 1000)
	ctx := context.Background()

	req, err := f.processor.RequestWithdrawal(ctx, "host", 600)
	require.NoError(t, err)
	require.Equal(t, models.TransactionPending, req.Transaction.Status)
	require.Equal(t, models.TransactionWithdrawal, req.Transaction.Kind)
	require.Equal(t, "24", req.Quote.Net.DecimalString())
	require.EqualValues(t, 400, req.Available)
	require.EqualValues(t, 1000, f.balance(t, "host").Earnings, "request must not move balances")

	_, err = f.processor.RequestWithdrawal(ctx, "host", 401)
	requireKind(t, err, apperr.KindInsufficientFunds)

	_, err = f.processor.RequestWithdrawal(ctx, "host", 0)
	requireKind(t, err, apperr.KindInvalidInput)
	_, err = f.processor.RequestWithdrawal(ctx, "ghost", 1)
	requireKind(t, err, apperr.KindNotFound)

	_, err = f.store.FailTransaction(ctx, "host", req.Transaction.ID)
	require.NoError(t, err)
	_, err = f.processor.RequestWithdrawal(ctx, "host", 1000)
	require.NoError(t, err, "failed withdrawals release their earnings")

	pending, err := f.store.ListTransactions(ctx, storage.TransactionFilter{AccountID: "host", Kind: models.TransactionWithdrawal, Status: models.TransactionPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestRequestWithdrawalRecordsPlatformFee(t *testing.T) {
	f := newFixture(t)
	f.account(t, "host", 0, 1000)
	ctx := context.Background()

	req, err := f.processor.RequestWithdrawal(ctx, "host", 1000)
	require.NoError(t, err)

	fees, err := f.store.ListTransactions(ctx, storage.TransactionFilter{AccountID: "host", Kind: models.TransactionFee})
	require.NoError(t, err)
	require.Len(t, fees, 1)
	require.Equal(t, models.TransactionPending, fees[0].Status)
	require.Zero(t, fees[0].AmountDiamonds)
	require.NotNil(t, fees[0].AmountBRL)
	require.Equal(t, "10", fees[0].AmountBRL.DecimalString())
	require.Equal(t, req.Transaction.ID, fees[0].Details["withdrawalId"])

	_, err = f.store.FailTransaction(ctx, "host", req.Transaction.ID)
	require.NoError(t, err)
	fee, err := f.store.GetTransaction(ctx, fees[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionFailed, fee.Status, "failing a withdrawal releases its fee")

	total, err := f.store.PendingTotal(ctx, "host", models.TransactionWithdrawal)
	require.NoError(t, err)
	require.Zero(t, total)
}

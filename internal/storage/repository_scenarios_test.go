package storage

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"livego/internal/models"
)

// RepositoryFactory constructs a repository backed by either the JSON store or
// the Postgres implementation for cross-datastore scenario assertions.
type RepositoryFactory func(t *testing.T) Repository

func seedScenario(t *testing.T, repo Repository) (models.Gift, models.Account, models.Account) {
	t.Helper()
	ctx := context.Background()
	gift, err := repo.UpsertGift(ctx, models.Gift{ID: "rose", Name: "Rose", Price: 10, Category: "popular"})
	if err != nil {
		t.Fatalf("UpsertGift: %v", err)
	}
	sender, err := repo.CreateAccount(ctx, CreateAccountParams{ID: "viewer-1", DisplayName: "Viewer", Diamonds: 100})
	if err != nil {
		t.Fatalf("CreateAccount sender: %v", err)
	}
	receiver, err := repo.CreateAccount(ctx, CreateAccountParams{ID: "host-1", DisplayName: "Host"})
	if err != nil {
		t.Fatalf("CreateAccount receiver: %v", err)
	}
	return gift, sender, receiver
}

func RunRepositoryGiftTransfer(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	gift, sender, receiver := seedScenario(t, repo)

	receipt, err := repo.ApplyGiftTransfer(ctx, GiftTransfer{
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		Gift:           gift,
		Quantity:       5,
		Cost:           50,
		ReceiverCredit: 25,
		Source:         GiftSourceDiamonds,
		StreamID:       "stream-1",
	})
	if err != nil {
		t.Fatalf("ApplyGiftTransfer: %v", err)
	}
	if receipt.Sender.Diamonds != 50 || receipt.Sender.XP != 50 {
		t.Fatalf("expected sender diamonds=50 xp=50, got %d/%d", receipt.Sender.Diamonds, receipt.Sender.XP)
	}
	if receipt.Receiver == nil || receipt.Receiver.Earnings != 25 {
		t.Fatalf("expected receiver earnings 25, got %+v", receipt.Receiver)
	}
	if receipt.Debit.Kind != models.TransactionGiftSend || receipt.Debit.AmountDiamonds != 50 {
		t.Fatalf("unexpected debit entry %+v", receipt.Debit)
	}
	if receipt.Credit == nil || receipt.Credit.Kind != models.TransactionGiftReceiveCredit || receipt.Credit.AmountDiamonds != 25 {
		t.Fatalf("unexpected credit entry %+v", receipt.Credit)
	}

	debits, err := repo.ListTransactions(ctx, TransactionFilter{AccountID: sender.ID, Kind: models.TransactionGiftSend})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(debits) != 1 {
		t.Fatalf("expected exactly one debit, got %d", len(debits))
	}
	credits, err := repo.ListTransactions(ctx, TransactionFilter{AccountID: receiver.ID, Kind: models.TransactionGiftReceiveCredit})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(credits) != 1 {
		t.Fatalf("expected exactly one credit, got %d", len(credits))
	}

	_, err = repo.ApplyGiftTransfer(ctx, GiftTransfer{
		SenderID: sender.ID,
		Gift:     gift,
		Quantity: 6,
		Cost:     60,
		Source:   GiftSourceDiamonds,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	after, err := repo.GetAccount(ctx, sender.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if after.Diamonds != 50 {
		t.Fatalf("expected failed transfer to leave 50 diamonds, got %d", after.Diamonds)
	}
	debits, _ = repo.ListTransactions(ctx, TransactionFilter{AccountID: sender.ID, Kind: models.TransactionGiftSend})
	if len(debits) != 1 {
		t.Fatalf("expected failed transfer to leave the ledger untouched, got %d debits", len(debits))
	}
}

func RunRepositoryMissingAccounts(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	gift, sender, _ := seedScenario(t, repo)

	_, err := repo.ApplyGiftTransfer(ctx, GiftTransfer{SenderID: "ghost", Gift: gift, Quantity: 1, Cost: 10})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for sender, got %v", err)
	}
	_, err = repo.ApplyGiftTransfer(ctx, GiftTransfer{SenderID: sender.ID, ReceiverID: "ghost", Gift: gift, Quantity: 1, Cost: 10, ReceiverCredit: 5})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for receiver, got %v", err)
	}
	after, err := repo.GetAccount(ctx, sender.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if after.Diamonds != 100 {
		t.Fatalf("expected untouched balance, got %d", after.Diamonds)
	}
	if _, err := repo.GetGift(ctx, "missing"); !errors.Is(err, ErrGiftNotFound) {
		t.Fatalf("expected ErrGiftNotFound, got %v", err)
	}
	if _, err := repo.FindGiftByName(ctx, "Rose"); err != nil {
		t.Fatalf("FindGiftByName: %v", err)
	}
}

func RunRepositoryInventoryTransfer(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	gift, sender, receiver := seedScenario(t, repo)

	if _, err := repo.GrantInventory(ctx, sender.ID, gift.ID, 3); err != nil {
		t.Fatalf("GrantInventory: %v", err)
	}
	transfer := GiftTransfer{
		SenderID:       sender.ID,
		ReceiverID:     receiver.ID,
		Gift:           gift,
		Quantity:       2,
		Cost:           20,
		ReceiverCredit: 10,
		Source:         GiftSourceInventory,
	}
	receipt, err := repo.ApplyGiftTransfer(ctx, transfer)
	if err != nil {
		t.Fatalf("ApplyGiftTransfer: %v", err)
	}
	if got := receipt.Sender.InventoryQuantity(gift.ID); got != 1 {
		t.Fatalf("expected one remaining unit, got %d", got)
	}
	if receipt.Sender.Diamonds != 100 {
		t.Fatalf("expected diamonds untouched by inventory send, got %d", receipt.Sender.Diamonds)
	}

	if _, err := repo.ApplyGiftTransfer(ctx, transfer); !errors.Is(err, ErrInsufficientInventory) {
		t.Fatalf("expected ErrInsufficientInventory, got %v", err)
	}

	transfer.Quantity = 1
	transfer.Cost = 10
	transfer.ReceiverCredit = 5
	receipt, err = repo.ApplyGiftTransfer(ctx, transfer)
	if err != nil {
		t.Fatalf("ApplyGiftTransfer last unit: %v", err)
	}
	if len(receipt.Sender.Inventory) != 0 {
		t.Fatalf("expected inventory line to be removed, got %+v", receipt.Sender.Inventory)
	}
	if receipt.Receiver.Earnings != 15 {
		t.Fatalf("expected receiver earnings 15, got %d", receipt.Receiver.Earnings)
	}
}

func RunRepositoryRechargeLifecycle(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	_, sender, _ := seedScenario(t, repo)

	account, entry, err := repo.CreditRecharge(ctx, RechargeParams{AccountID: sender.ID, Diamonds: 500, PriceBRL: models.MustParseMoney("24.90")})
	if err != nil {
		t.Fatalf("CreditRecharge: %v", err)
	}
	if account.Diamonds != 600 {
		t.Fatalf("expected 600 diamonds, got %d", account.Diamonds)
	}
	if entry.Status != models.TransactionCompleted || entry.AmountBRL == nil || entry.AmountBRL.DecimalString() != "24.9" {
		t.Fatalf("unexpected recharge entry %+v", entry)
	}

	amount := models.MustParseMoney("4.99")
	pending, err := repo.RecordPending(ctx, PendingEntry{AccountID: sender.ID, Kind: models.TransactionRecharge, AmountDiamonds: 100, AmountBRL: &amount})
	if err != nil {
		t.Fatalf("RecordPending: %v", err)
	}
	if pending.Status != models.TransactionPending {
		t.Fatalf("expected pending entry, got %s", pending.Status)
	}
	unchanged, _ := repo.GetAccount(ctx, sender.ID)
	if unchanged.Diamonds != 600 {
		t.Fatalf("pending entry must not credit, got %d", unchanged.Diamonds)
	}

	if _, _, err := repo.SettleRecharge(ctx, "host-1", pending.ID); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected foreign settlement to fail with ErrTransactionNotFound, got %v", err)
	}
	account, settled, err := repo.SettleRecharge(ctx, sender.ID, pending.ID)
	if err != nil {
		t.Fatalf("SettleRecharge: %v", err)
	}
	if account.Diamonds != 700 || settled.Status != models.TransactionCompleted {
		t.Fatalf("unexpected settlement %d/%s", account.Diamonds, settled.Status)
	}
	if _, _, err := repo.SettleRecharge(ctx, sender.ID, pending.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected double settlement to fail, got %v", err)
	}
	if _, err := repo.FailTransaction(ctx, sender.ID, pending.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected completed entry to stay completed, got %v", err)
	}

	history, err := repo.ListTransactions(ctx, TransactionFilter{AccountID: sender.ID, Kind: models.TransactionRecharge, Status: models.TransactionCompleted})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two completed recharges, got %d", len(history))
	}
}

func RunRepositoryStreamLiveToggle(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	_, _, host := seedScenario(t, repo)

	stream, err := repo.CreateStream(ctx, CreateStreamParams{ID: "stream-7", HostID: host.ID, Title: "Evening show"})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if stream.IsLive || stream.StartedAt != nil {
		t.Fatalf("expected new stream offline, got %+v", stream)
	}

	first := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)
	live, changed, err := repo.SetStreamLive(ctx, stream.ID, true, first)
	if err != nil || !changed {
		t.Fatalf("SetStreamLive online: changed=%v err=%v", changed, err)
	}
	if !live.IsLive || live.StartedAt == nil || !live.StartedAt.Equal(first) {
		t.Fatalf("unexpected live stream %+v", live)
	}

	again, changed, err := repo.SetStreamLive(ctx, stream.ID, true, first.Add(time.Minute))
	if err != nil {
		t.Fatalf("SetStreamLive repeat: %v", err)
	}
	if changed {
		t.Fatal("expected repeated publish to report no change")
	}
	if !again.StartedAt.Equal(first) {
		t.Fatalf("expected startedAt to be preserved, got %v", again.StartedAt)
	}

	streams, err := repo.ListLiveStreams(ctx)
	if err != nil || len(streams) != 1 {
		t.Fatalf("expected one live stream, got %d (err=%v)", len(streams), err)
	}

	offline, changed, err := repo.SetStreamLive(ctx, stream.ID, false, first.Add(time.Hour))
	if err != nil || !changed {
		t.Fatalf("SetStreamLive offline: changed=%v err=%v", changed, err)
	}
	if offline.IsLive || offline.StartedAt == nil {
		t.Fatalf("expected offline stream to keep startedAt, got %+v", offline)
	}

	if _, _, err := repo.SetStreamLive(ctx, "unknown", true, first); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
}

// RunRepositoryConcurrentDebits asserts that racing senders can never
// overdraw a balance.
func RunRepositoryConcurrentDebits(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	gift, err := repo.UpsertGift(ctx, models.Gift{ID: "heart", Name: "Heart", Price: 2})
	if err != nil {
		t.Fatalf("UpsertGift: %v", err)
	}
	sender, err := repo.CreateAccount(ctx, CreateAccountParams{ID: "whale", Diamonds: 100})
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyGiftTransfer(ctx, GiftTransfer{SenderID: sender.ID, Gift: gift, Quantity: 1, Cost: 2, Source: GiftSourceDiamonds})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 50 || rejected != 50 {
		t.Fatalf("expected 50/50 split, got %d succeeded and %d rejected", succeeded, rejected)
	}
	after, err := repo.GetAccount(ctx, sender.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if after.Diamonds != 0 {
		t.Fatalf("expected balance 0, got %d", after.Diamonds)
	}
}

func RunRepositoryBalanceOverflow(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	gift, sender, _ := seedScenario(t, repo)
	if _, err := repo.CreateAccount(ctx, CreateAccountParams{ID: "whale", DisplayName: "Whale", Diamonds: math.MaxInt64 - 5, Earnings: math.MaxInt64 - 1}); err != nil {
		t.Fatalf("CreateAccount whale: %v", err)
	}

	if _, _, err := repo.CreditRecharge(ctx, RechargeParams{AccountID: "whale", Diamonds: 10}); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected recharge overflow, got %v", err)
	}
	pending, err := repo.RecordPending(ctx, PendingEntry{AccountID: "whale", Kind: models.TransactionRecharge, AmountDiamonds: 10})
	if err != nil {
		t.Fatalf("RecordPending: %v", err)
	}
	if _, _, err := repo.SettleRecharge(ctx, "whale", pending.ID); !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected settlement overflow, got %v", err)
	}
	if entry, err := repo.GetTransaction(ctx, pending.ID); err != nil || entry.Status != models.TransactionPending {
		t.Fatalf("expected entry to stay pending, got %+v (%v)", entry, err)
	}

	_, err = repo.ApplyGiftTransfer(ctx, GiftTransfer{
		SenderID:       sender.ID,
		ReceiverID:     "whale",
		Gift:           gift,
		Quantity:       1,
		Cost:           10,
		ReceiverCredit: 5,
		Source:         GiftSourceDiamonds,
	})
	if !errors.Is(err, ErrBalanceOverflow) {
		t.Fatalf("expected earnings overflow, got %v", err)
	}

	whale, err := repo.GetAccount(ctx, "whale")
	if err != nil {
		t.Fatalf("GetAccount whale: %v", err)
	}
	if whale.Diamonds != math.MaxInt64-5 || whale.Earnings != math.MaxInt64-1 {
		t.Fatalf("overflowing credits must not change balances, got %d/%d", whale.Diamonds, whale.Earnings)
	}
	after, err := repo.GetAccount(ctx, sender.ID)
	if err != nil {
		t.Fatalf("GetAccount sender: %v", err)
	}
	if after.Diamonds != 100 || after.XP != 0 {
		t.Fatalf("rolled back transfer must not debit the sender, got %d/%d", after.Diamonds, after.XP)
	}
	entries, err := repo.ListTransactions(ctx, TransactionFilter{AccountID: sender.ID})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no ledger entries for the rolled back transfer, got %d", len(entries))
	}
}

func RunRepositoryPendingTotal(t *testing.T, factory RepositoryFactory) {
	repo := factory(t)
	ctx := context.Background()
	_, _, host := seedScenario(t, repo)

	total, err := repo.PendingTotal(ctx, host.ID, models.TransactionWithdrawal)
	if err != nil {
		t.Fatalf("PendingTotal: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no pending withdrawals, got %d", total)
	}

	var failed models.Transaction
	for _, amount := range []int64{100, 250, 40} {
		entry, err := repo.RecordPending(ctx, PendingEntry{AccountID: host.ID, Kind: models.TransactionWithdrawal, AmountDiamonds: amount})
		if err != nil {
			t.Fatalf("RecordPending: %v", err)
		}
		failed = entry
	}
	if _, err := repo.RecordPending(ctx, PendingEntry{AccountID: host.ID, Kind: models.TransactionRecharge, AmountDiamonds: 999}); err != nil {
		t.Fatalf("RecordPending recharge: %v", err)
	}
	if _, err := repo.FailTransaction(ctx, host.ID, failed.ID); err != nil {
		t.Fatalf("FailTransaction: %v", err)
	}

	total, err = repo.PendingTotal(ctx, host.ID, models.TransactionWithdrawal)
	if err != nil {
		t.Fatalf("PendingTotal: %v", err)
	}
	if total != 350 {
		t.Fatalf("expected 350 pending, got %d", total)
	}
	if other, err := repo.PendingTotal(ctx, "viewer-1", models.TransactionWithdrawal); err != nil || other != 0 {
		t.Fatalf("expected other accounts to be excluded, got %d (%v)", other, err)
	}

	withdrawal, fee, err := repo.RecordWithdrawal(ctx, WithdrawalParams{
		AccountID: host.ID,
		Diamonds:  500,
		Net:       models.MustParseMoney("20"),
		Fee:       models.MustParseMoney("5"),
	})
	if err != nil {
		t.Fatalf("RecordWithdrawal: %v", err)
	}
	if fee.Kind != models.TransactionFee || fee.Status != models.TransactionPending || fee.AmountBRL == nil || fee.AmountBRL.DecimalString() != "5" {
		t.Fatalf("unexpected fee entry %+v", fee)
	}
	if total, _ := repo.PendingTotal(ctx, host.ID, models.TransactionWithdrawal); total != 850 {
		t.Fatalf("expected 850 pending after withdrawal, got %d", total)
	}
	if _, err := repo.FailTransaction(ctx, host.ID, withdrawal.ID); err != nil {
		t.Fatalf("FailTransaction withdrawal: %v", err)
	}
	released, err := repo.GetTransaction(ctx, fee.ID)
	if err != nil {
		t.Fatalf("GetTransaction fee: %v", err)
	}
	if released.Status != models.TransactionFailed {
		t.Fatalf("expected fee to fail with its withdrawal, got %s", released.Status)
	}
	if _, _, err := repo.RecordWithdrawal(ctx, WithdrawalParams{AccountID: "ghost", Diamonds: 1}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func runRepositoryScenarios(t *testing.T, factory RepositoryFactory) {
	t.Run("GiftTransfer", func(t *testing.T) { RunRepositoryGiftTransfer(t, factory) })
	t.Run("MissingAccounts", func(t *testing.T) { RunRepositoryMissingAccounts(t, factory) })
	t.Run("InventoryTransfer", func(t *testing.T) { RunRepositoryInventoryTransfer(t, factory) })
	t.Run("RechargeLifecycle", func(t *testing.T) { RunRepositoryRechargeLifecycle(t, factory) })
	t.Run("StreamLiveToggle", func(t *testing.T) { RunRepositoryStreamLiveToggle(t, factory) })
	t.Run("ConcurrentDebits", func(t *testing.T) { RunRepositoryConcurrentDebits(t, factory) })
	t.Run("BalanceOverflow", func(t *testing.T) { RunRepositoryBalanceOverflow(t, factory) })
	t.Run("PendingTotal", func(t *testing.T) { RunRepositoryPendingTotal(t, factory) })
}
